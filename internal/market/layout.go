package market

import (
	"fmt"
	"path"
	"strings"
)

// Layout builds the blob paths of a run's artifacts:
//
//	{prefix}/{run}/summary.json
//	{prefix}/{run}/insights.json
//	{prefix}/{run}/{CATEGORY}/urls.json
//	{prefix}/{run}/{CATEGORY}/{kind}/chunk-001.json | chunk-001.error.txt
//	{prefix}/{run}/{CATEGORY}/{kind}.merged.json
type Layout struct {
	Prefix string
}

// RunDir is the directory holding everything for runID.
func (l Layout) RunDir(runID string) string {
	return path.Join(strings.Trim(l.Prefix, "/"), runID)
}

// Summary is the run summary path.
func (l Layout) Summary(runID string) string {
	return path.Join(l.RunDir(runID), "summary.json")
}

// Insights is the aggregated report path.
func (l Layout) Insights(runID string) string {
	return path.Join(l.RunDir(runID), "insights.json")
}

// URLs is the discovered URL list of a category.
func (l Layout) URLs(runID string, c Category) string {
	return path.Join(l.RunDir(runID), string(c), "urls.json")
}

// ChunkPrefix is the common prefix of every chunk file of a category/stage.
func (l Layout) ChunkPrefix(runID string, c Category, kind StageKind) string {
	return path.Join(l.RunDir(runID), string(c), string(kind), "chunk-")
}

// Chunk is the raw item file of one successful chunk.
func (l Layout) Chunk(runID string, c Category, kind StageKind, batch int) string {
	return fmt.Sprintf("%s%03d.json", l.ChunkPrefix(runID, c, kind), batch)
}

// ChunkError is the error text file of one failed chunk.
func (l Layout) ChunkError(runID string, c Category, kind StageKind, batch int) string {
	return fmt.Sprintf("%s%03d.error.txt", l.ChunkPrefix(runID, c, kind), batch)
}

// Merged is the concatenated item file of a category/stage.
func (l Layout) Merged(runID string, c Category, kind StageKind) string {
	return path.Join(l.RunDir(runID), string(c), string(kind)+".merged.json")
}
