// Package scrape turns per-category URL lists into chunked actor invocations
// whose raw results are persisted one file per chunk.
package scrape

import (
	"github.com/JakeFAU/gumgenie-scout/internal/market"
)

// Chunks partitions urls into contiguous batches of at most size URLs.
// Batches are numbered from 1. A non-positive size yields a single batch.
func Chunks(c market.Category, kind market.StageKind, urls []string, size int) []market.Chunk {
	if len(urls) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(urls)
	}
	out := make([]market.Chunk, 0, (len(urls)+size-1)/size)
	for start := 0; start < len(urls); start += size {
		end := min(start+size, len(urls))
		out = append(out, market.Chunk{
			Category: c,
			Kind:     kind,
			Batch:    len(out) + 1,
			URLs:     append([]string(nil), urls[start:end]...),
		})
	}
	return out
}

// ActorInput builds the actor payload for a chunk. Both actors accept a list
// of start URLs; the reviews actor also takes a per-product review cap.
func ActorInput(kind market.StageKind, urls []string, maxReviews int) map[string]any {
	start := make([]map[string]string, 0, len(urls))
	for _, u := range urls {
		start = append(start, map[string]string{"url": u})
	}
	input := map[string]any{"startUrls": start}
	if kind == market.StageReviews && maxReviews > 0 {
		input["maxReviews"] = maxReviews
	}
	return input
}
