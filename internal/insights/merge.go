// Package insights merges persisted chunk files and derives the per-category
// market signals and price statistics.
package insights

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/gumgenie-scout/internal/market"
)

var chunkName = regexp.MustCompile(`^chunk-(\d+)\.json$`)

// Merged is the concatenation of one category/stage's chunk files.
type Merged struct {
	Category market.Category   `json:"category"`
	Kind     market.StageKind  `json:"stage"`
	Items    []json.RawMessage `json:"-"`
	// Files counts chunk files that contributed items.
	Files int `json:"files"`
	// Skipped counts chunk files that were missing, unreadable or not a JSON array.
	Skipped int    `json:"skipped"`
	Path    string `json:"path"`
	Digest  string `json:"digest,omitempty"`
}

// CategoryMerge holds both stages of one category.
type CategoryMerge struct {
	Detail  Merged
	Reviews Merged
}

// Merger reads chunk files back from the blob store.
type Merger struct {
	store  market.BlobStore
	layout market.Layout
	hasher market.Hasher
	logger *zap.Logger
}

// NewMerger builds a Merger. The hasher may be nil, in which case no digest is
// recorded.
func NewMerger(store market.BlobStore, layout market.Layout, hasher market.Hasher, logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{store: store, layout: layout, hasher: hasher, logger: logger}
}

// Merge merges both stages of a category. expected maps a stage to the number
// of chunks written for it; a stage absent from the map is discovered by
// listing.
func (m *Merger) Merge(
	ctx context.Context,
	runID string,
	c market.Category,
	expected map[market.StageKind]int,
) (CategoryMerge, error) {
	var out CategoryMerge
	var err error
	if out.Detail, err = m.MergeStage(ctx, runID, c, market.StageDetail, expectedFor(expected, market.StageDetail)); err != nil {
		return out, err
	}
	if out.Reviews, err = m.MergeStage(ctx, runID, c, market.StageReviews, expectedFor(expected, market.StageReviews)); err != nil {
		return out, err
	}
	return out, nil
}

func expectedFor(expected map[market.StageKind]int, kind market.StageKind) int {
	if n, ok := expected[kind]; ok {
		return n
	}
	return -1
}

// MergeStage concatenates chunk-001..chunk-N when expected >= 0, or every
// listed chunk file otherwise, and writes the merged array. Bad inputs are
// skipped, never fatal; only a failed write is returned as an error.
func (m *Merger) MergeStage(
	ctx context.Context,
	runID string,
	c market.Category,
	kind market.StageKind,
	expected int,
) (Merged, error) {
	res := Merged{Category: c, Kind: kind, Items: []json.RawMessage{}}
	logger := m.logger.With(zap.String("category", string(c)), zap.String("stage", string(kind)))

	paths, err := m.chunkPaths(ctx, runID, c, kind, expected)
	if err != nil {
		return res, err
	}
	for _, p := range paths {
		data, err := m.store.GetObject(ctx, p)
		if err != nil {
			res.Skipped++
			logger.Debug("skipping unreadable chunk", zap.String("path", p), zap.Error(err))
			continue
		}
		items, ok := decodeArray(data)
		if !ok {
			res.Skipped++
			logger.Debug("skipping non-array chunk", zap.String("path", p))
			continue
		}
		res.Files++
		res.Items = append(res.Items, items...)
	}

	data, err := json.Marshal(res.Items)
	if err != nil {
		return res, fmt.Errorf("encode merged %s/%s: %w", c, kind, err)
	}
	res.Path = m.layout.Merged(runID, c, kind)
	if _, err := m.store.PutObject(ctx, res.Path, "application/json", data); err != nil {
		return res, fmt.Errorf("write merged %s/%s: %w", c, kind, err)
	}
	if m.hasher != nil {
		if res.Digest, err = m.hasher.Hash(data); err != nil {
			return res, fmt.Errorf("hash merged %s/%s: %w", c, kind, err)
		}
	}
	logger.Info("merged chunks",
		zap.Int("items", len(res.Items)),
		zap.Int("files", res.Files),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func (m *Merger) chunkPaths(
	ctx context.Context,
	runID string,
	c market.Category,
	kind market.StageKind,
	expected int,
) ([]string, error) {
	if expected >= 0 {
		paths := make([]string, 0, expected)
		for batch := 1; batch <= expected; batch++ {
			paths = append(paths, m.layout.Chunk(runID, c, kind, batch))
		}
		return paths, nil
	}

	listed, err := m.store.List(ctx, m.layout.ChunkPrefix(runID, c, kind))
	if err != nil {
		return nil, fmt.Errorf("list chunks %s/%s: %w", c, kind, err)
	}
	type numbered struct {
		path  string
		batch int
	}
	var found []numbered
	for _, p := range listed {
		match := chunkName.FindStringSubmatch(path.Base(p))
		if match == nil {
			continue
		}
		batch, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		found = append(found, numbered{path: p, batch: batch})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].batch < found[j].batch })
	paths := make([]string, 0, len(found))
	for _, f := range found {
		paths = append(paths, f.path)
	}
	return paths, nil
}

// decodeArray accepts only a JSON array; null, objects and scalars are
// rejected.
func decodeArray(data []byte) ([]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, false
	}
	return items, true
}
