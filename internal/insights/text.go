package insights

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PlainText returns s with markup removed and whitespace collapsed. Gumroad
// descriptions usually arrive as HTML fragments; plain strings pass through
// with only whitespace collapsed.
func PlainText(s string) string {
	if !strings.Contains(s, "<") {
		return collapseSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return collapseSpace(s)
	}
	doc.Find("script, style, noscript").Remove()
	// Block elements would otherwise glue neighbouring words together.
	doc.Find("p, div, li, br, h1, h2, h3, h4, h5, h6, tr").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml(" ")
	})
	return collapseSpace(doc.Text())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
