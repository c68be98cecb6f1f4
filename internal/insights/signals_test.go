package insights

import (
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSignalsOrdersByCountStable(t *testing.T) {
	t.Parallel()

	matchers := []Matcher{
		{Name: "alpha", Pattern: regexp.MustCompile(`alpha`)},
		{Name: "never", Pattern: regexp.MustCompile(`zzz`)},
		{Name: "beta", Pattern: regexp.MustCompile(`beta`)},
		{Name: "gamma", Pattern: regexp.MustCompile(`gamma`)},
	}
	texts := []string{"alpha", "beta", "beta gamma", "gamma", "", "beta"}

	signals := DeriveSignals(texts, matchers, 0)
	require.Len(t, signals, 3)
	assert.Equal(t, "beta", signals[0].Name)
	assert.Equal(t, 3, signals[0].Count)
	assert.Equal(t, "gamma", signals[1].Name)
	assert.Equal(t, "alpha", signals[2].Name)
	assert.Len(t, signals[0].Examples, DefaultExampleCap)
}

func TestDeriveSignalsTiesKeepMatcherOrder(t *testing.T) {
	t.Parallel()

	matchers := []Matcher{
		{Name: "first", Pattern: regexp.MustCompile(`x`)},
		{Name: "second", Pattern: regexp.MustCompile(`y`)},
	}
	signals := DeriveSignals([]string{"y", "x"}, matchers, 1)
	require.Len(t, signals, 2)
	assert.Equal(t, "first", signals[0].Name)
	assert.Equal(t, "second", signals[1].Name)
}

func TestDeriveSignalsCapsAndTruncatesExamples(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", 200) + " refund"
	matchers := []Matcher{{Name: "refund", Pattern: regexp.MustCompile(`refund`)}}

	signals := DeriveSignals([]string{long, "refund please", "refund now"}, matchers, 2)
	require.Len(t, signals, 1)
	assert.Equal(t, 3, signals[0].Count)
	require.Len(t, signals[0].Examples, 2)
	assert.Equal(t, maxExampleRunes, utf8.RuneCountInString(signals[0].Examples[0]))
	assert.Equal(t, "refund please", signals[0].Examples[1])
}

func TestBuiltInMatchers(t *testing.T) {
	t.Parallel()

	pain := DeriveSignals([]string{
		"I can't download the file after paying",
		"Total waste of money, want a refund",
		"Really confusing to set up",
	}, PainPointMatchers, 3)
	names := make([]string, 0, len(pain))
	for _, s := range pain {
		names = append(names, s.Name)
	}
	assert.ElementsMatch(t, []string{"download or access problems", "refund or quality complaints", "setup difficulty"}, names)

	delivery := DeriveSignals([]string{"Instant download with lifetime updates", "Printable PDF in A4"}, DeliveryMatchers, 3)
	require.NotEmpty(t, delivery)

	positioning := DeriveSignals([]string{"The Ultimate Second Brain", "Aesthetic Planner Bundle"}, PositioningMatchers, 3)
	assert.Len(t, positioning, 4)
}

func TestPrintableFormatsNeedsWholeWordA4(t *testing.T) {
	t.Parallel()

	var printable Matcher
	for _, m := range DeliveryMatchers {
		if m.Name == "printable formats" {
			printable = m
		}
	}
	require.NotNil(t, printable.Pattern)
	assert.True(t, printable.Pattern.MatchString("Prints on A4 or letter"))
	assert.True(t, printable.Pattern.MatchString("sizes: a4, a5"))
	assert.False(t, printable.Pattern.MatchString("SKU A45-XL"))
	assert.False(t, printable.Pattern.MatchString("model ka4 bundle"))
}
