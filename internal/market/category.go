package market

import (
	"fmt"
	"strings"
)

// Category is one of the fixed market segments scouted per run.
type Category string

// The four scouted market segments.
const (
	NotionTemplates Category = "NOTION_TEMPLATES"
	DigitalPlanners Category = "DIGITAL_PLANNERS"
	CanvaTemplates  Category = "CANVA_TEMPLATES"
	AIPrompts       Category = "AI_PROMPTS"
)

var allCategories = []Category{NotionTemplates, DigitalPlanners, CanvaTemplates, AIPrompts}

var defaultQueries = map[Category]string{
	NotionTemplates: "notion template",
	DigitalPlanners: "digital planner",
	CanvaTemplates:  "canva template",
	AIPrompts:       "chatgpt prompts",
}

// AllCategories returns every category in declaration order.
func AllCategories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// ParseCategory resolves a label case-insensitively.
func ParseCategory(raw string) (Category, error) {
	label := strings.ToUpper(strings.TrimSpace(raw))
	for _, c := range allCategories {
		if string(c) == label {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", raw)
}

// ParseCategories resolves a list of labels, dropping duplicates. An empty
// input selects every category.
func ParseCategories(raw []string) ([]Category, error) {
	if len(raw) == 0 {
		return AllCategories(), nil
	}
	seen := make(map[Category]struct{}, len(raw))
	out := make([]Category, 0, len(raw))
	for _, r := range raw {
		c, err := ParseCategory(r)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}

// DefaultQuery is the search phrase used to discover listings for c.
func (c Category) DefaultQuery() string {
	return defaultQueries[c]
}

// Slug is the lowercase form used in metric labels.
func (c Category) Slug() string {
	return strings.ToLower(string(c))
}
