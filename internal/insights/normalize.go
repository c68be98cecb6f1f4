package insights

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/gumgenie-scout/internal/market"
)

// Source field names accepted for each normalized field, in priority order.
// Actors disagree on naming, so the first non-empty match wins.
var (
	titleFields       = []string{"title", "name", "productName"}
	priceFields       = []string{"price", "priceValue", "currentPrice", "formattedPrice"}
	urlFields         = []string{"url", "productUrl", "link"}
	descriptionFields = []string{"description", "summary", "text", "descriptionHtml"}
	ratingFields      = []string{"rating", "ratingAverage", "averageRating"}
	ratingCountFields = []string{"ratingsCount", "reviewsCount", "ratingCount"}
	sellerFields      = []string{"seller", "sellerName", "creator", "author"}

	reviewTextFields   = []string{"text", "content", "review", "body"}
	reviewAuthorFields = []string{"author", "name", "reviewer"}
	reviewRatingFields = []string{"rating", "stars", "score"}
	reviewURLFields    = []string{"productUrl", "url", "product"}
)

var dollarAmount = regexp.MustCompile(`\$\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)

// NormalizeProducts maps raw detail items onto market.Product. Items that are
// not JSON objects are dropped.
func NormalizeProducts(items []json.RawMessage) []market.Product {
	out := make([]market.Product, 0, len(items))
	for _, raw := range items {
		if p, ok := NormalizeProduct(raw); ok {
			out = append(out, p)
		}
	}
	return out
}

// NormalizeProduct maps one raw detail item.
func NormalizeProduct(raw json.RawMessage) (market.Product, bool) {
	obj, ok := decodeObject(raw)
	if !ok {
		return market.Product{}, false
	}
	p := market.Product{
		URL:          firstString(obj, urlFields),
		Title:        firstString(obj, titleFields),
		Seller:       firstString(obj, sellerFields),
		Description:  PlainText(firstString(obj, descriptionFields)),
		Rating:       firstNumber(obj, ratingFields),
		RatingsCount: firstInt(obj, ratingCountFields),
	}
	p.PriceText, p.Price = firstPrice(obj)
	return p, true
}

// firstPrice returns the first price field that parses. When none does, the
// text of the first non-empty scalar is kept so the listing still shows it.
func firstPrice(obj map[string]any) (string, *float64) {
	fallback := ""
	for _, f := range priceFields {
		text := stringify(obj[f])
		if strings.TrimSpace(text) == "" {
			continue
		}
		if price, ok := parsePriceValue(obj[f]); ok {
			return text, &price
		}
		if fallback == "" {
			fallback = text
		}
	}
	return fallback, nil
}

// NormalizeReviews maps raw review items onto market.Review. Reviews without
// text are dropped.
func NormalizeReviews(items []json.RawMessage) []market.Review {
	out := make([]market.Review, 0, len(items))
	for _, raw := range items {
		obj, ok := decodeObject(raw)
		if !ok {
			continue
		}
		r := market.Review{
			ProductURL: firstString(obj, reviewURLFields),
			Author:     firstString(obj, reviewAuthorFields),
			Rating:     firstNumber(obj, reviewRatingFields),
			Text:       PlainText(firstString(obj, reviewTextFields)),
		}
		if r.Text == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ParsePrice reads a "$X.XX"-shaped or plain numeric string. Negative and
// non-finite values are rejected.
func ParsePrice(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if m := dollarAmount.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return validPrice(v)
}

func parsePriceValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return validPrice(t)
	case string:
		return ParsePrice(t)
	default:
		return 0, false
	}
}

func validPrice(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	return v, true
}

func decodeObject(raw json.RawMessage) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func firstString(obj map[string]any, fields []string) string {
	for _, f := range fields {
		if s := strings.TrimSpace(stringify(obj[f])); s != "" {
			return s
		}
	}
	return ""
}

func firstNumber(obj map[string]any, fields []string) *float64 {
	for _, f := range fields {
		switch t := obj[f].(type) {
		case float64:
			v := t
			return &v
		case string:
			if v, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				return &v
			}
		}
	}
	return nil
}

func firstInt(obj map[string]any, fields []string) int {
	if v := firstNumber(obj, fields); v != nil {
		return int(*v)
	}
	return 0
}

// stringify renders scalars; nested values yield "".
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
