package scrape

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gumgenie-scout/internal/market"
)

func makeURLs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://seller%d.gumroad.com/l/p%d", i, i)
	}
	return out
}

func TestChunksSizesAndBatches(t *testing.T) {
	t.Parallel()

	urls := makeURLs(23)
	chunks := Chunks(market.NotionTemplates, market.StageDetail, urls, 10)

	require.Len(t, chunks, 3)
	var flat []string
	for i, c := range chunks {
		assert.Equal(t, i+1, c.Batch)
		assert.Equal(t, market.NotionTemplates, c.Category)
		assert.Equal(t, market.StageDetail, c.Kind)
		flat = append(flat, c.URLs...)
	}
	assert.Len(t, chunks[0].URLs, 10)
	assert.Len(t, chunks[1].URLs, 10)
	assert.Len(t, chunks[2].URLs, 3)
	assert.Equal(t, urls, flat, "chunks are contiguous and keep order")
}

func TestChunksEdgeCases(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Chunks(market.AIPrompts, market.StageDetail, nil, 10))

	exact := Chunks(market.AIPrompts, market.StageDetail, makeURLs(20), 10)
	assert.Len(t, exact, 2)

	single := Chunks(market.AIPrompts, market.StageDetail, makeURLs(4), 0)
	require.Len(t, single, 1)
	assert.Len(t, single[0].URLs, 4)

	urls := makeURLs(2)
	chunks := Chunks(market.AIPrompts, market.StageDetail, urls, 1)
	chunks[0].URLs[0] = "mutated"
	assert.NotEqual(t, "mutated", urls[0], "chunks must not alias the input")
}

func TestActorInput(t *testing.T) {
	t.Parallel()

	detail := ActorInput(market.StageDetail, []string{"https://a"}, 50)
	assert.Equal(t, []map[string]string{{"url": "https://a"}}, detail["startUrls"])
	assert.NotContains(t, detail, "maxReviews")

	reviews := ActorInput(market.StageReviews, []string{"https://a"}, 50)
	assert.Equal(t, 50, reviews["maxReviews"])
}
