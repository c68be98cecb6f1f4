package insights

import (
	"regexp"
	"sort"
	"strings"

	"github.com/JakeFAU/gumgenie-scout/internal/market"
)

// DefaultExampleCap is the number of examples kept per signal.
const DefaultExampleCap = 3

const maxExampleRunes = 160

// Matcher is a named pattern counted against free text.
type Matcher struct {
	Name    string
	Pattern *regexp.Regexp
}

func matcher(name, expr string) Matcher {
	return Matcher{Name: name, Pattern: regexp.MustCompile(`(?i)` + expr)}
}

// PainPointMatchers classify complaints in reviews and descriptions.
var PainPointMatchers = []Matcher{
	matcher("download or access problems", `\b(can'?t|cannot|couldn'?t|could not|unable to) (download|access|open)|broken link|link (doesn'?t|does not) work|never received`),
	matcher("refund or quality complaints", `\brefund|waste of money|not worth|poor quality|low quality|disappoint`),
	matcher("setup difficulty", `\bconfus|hard to (use|set ?up|understand)|complicated|no instructions|difficult to`),
	matcher("missing features", `\bmissing|wish it had|lacks?\b|doesn'?t (have|include)|not included`),
}

// DeliveryMatchers classify what listings promise about delivery.
var DeliveryMatchers = []Matcher{
	matcher("instant download", `\binstant(ly)? (download|access|delivery)|download immediately`),
	matcher("lifetime updates", `\blifetime (updates|access)|free updates|future updates`),
	matcher("video tutorial", `\bvideo (tutorial|guide|walkthrough)|tutorial video|loom`),
	matcher("one-click duplicate", `\bduplicate|one[- ]click|click to (copy|duplicate)`),
	matcher("printable formats", `\bprintable|\bpdf\b|\ba4\b|us letter|goodnotes`),
}

// PositioningMatchers classify how titles position a product.
var PositioningMatchers = []Matcher{
	matcher("ultimate / all-in-one", `\bultimate|all[- ]in[- ]one|complete|everything you need`),
	matcher("bundle", `\bbundle|mega pack|\bpack\b|collection`),
	matcher("aesthetic / minimal", `\baesthetic|minimal(ist)?|cute|pastel`),
	matcher("productivity / second brain", `\bproductivity|second brain|life ?os|dashboard|organi[sz]`),
}

// DeriveSignals counts how many texts each matcher hits. Matchers without a
// hit are dropped; the rest are ordered by count, ties keeping matcher order.
// exampleCap <= 0 selects DefaultExampleCap.
func DeriveSignals(texts []string, matchers []Matcher, exampleCap int) []market.Signal {
	if exampleCap <= 0 {
		exampleCap = DefaultExampleCap
	}
	out := make([]market.Signal, 0, len(matchers))
	for _, m := range matchers {
		sig := market.Signal{Name: m.Name, Examples: []string{}}
		for _, text := range texts {
			if text == "" || !m.Pattern.MatchString(text) {
				continue
			}
			sig.Count++
			if len(sig.Examples) < exampleCap {
				sig.Examples = append(sig.Examples, truncateRunes(strings.TrimSpace(text), maxExampleRunes))
			}
		}
		if sig.Count > 0 {
			out = append(out, sig)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
