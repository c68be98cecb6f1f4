package insights

import (
	"sort"

	"github.com/JakeFAU/gumgenie-scout/internal/market"
)

// PriceStats summarizes the products with a parsed price. Unparsed prices are
// excluded from the sample rather than counted as zero.
func PriceStats(products []market.Product) market.PriceBand {
	sample := make([]float64, 0, len(products))
	for _, p := range products {
		if p.Price != nil {
			sample = append(sample, *p.Price)
		}
	}
	if len(sample) == 0 {
		return market.PriceBand{}
	}
	sort.Float64s(sample)
	return market.PriceBand{
		Min:        sample[0],
		Median:     Median(sample),
		Max:        sample[len(sample)-1],
		SampleSize: len(sample),
	}
}

// Median returns the middle of an ascending sample, averaging the two middle
// values for even sizes. An empty sample yields 0.
func Median(sorted []float64) float64 {
	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case n%2 == 1:
		return sorted[n/2]
	default:
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
}
