// Package classify turns a work-log entry into a labor category by prompting a
// completion model, validating its JSON answer and retrying once with feedback.
package classify

import (
	"strings"
)

// Category is the labor category of a work-log entry.
type Category string

const (
	CategoryTybalt  Category = "Tybalt"
	CategoryPartial Category = "Partial"
	CategoryIT      Category = "IT"
)

// IsCanonical reports whether s is exactly one of the three category names.
func IsCanonical(s string) bool {
	switch Category(s) {
	case CategoryTybalt, CategoryPartial, CategoryIT:
		return true
	}
	return false
}

var itSynonyms = map[string]struct{}{
	"support": {},
	"it work": {},
	"it":      {},
}

// NormalizeCategory maps a model-provided label onto a Category.
//
// Rules apply in order: case-insensitive exact match, then substring "tybalt",
// then substring "partial", then whole-string IT synonyms. IT only matches
// whole strings because it is the residual category.
func NormalizeCategory(raw string) (Category, bool) {
	text := strings.TrimSpace(raw)
	text = strings.Trim(text, `"'`)
	lowered := strings.ToLower(strings.TrimSpace(text))

	switch lowered {
	case "tybalt":
		return CategoryTybalt, true
	case "partial":
		return CategoryPartial, true
	case "it":
		return CategoryIT, true
	}
	if strings.Contains(lowered, "tybalt") {
		return CategoryTybalt, true
	}
	if strings.Contains(lowered, "partial") {
		return CategoryPartial, true
	}
	if _, ok := itSynonyms[lowered]; ok {
		return CategoryIT, true
	}
	return "", false
}

// Entry is one work-log record submitted for classification.
type Entry struct {
	Description string
	TotalHours  float64
}

// Breakdown splits a Partial entry's hours between IT and Tybalt work.
type Breakdown struct {
	ITDescription     string
	ITHours           float64
	TybaltDescription string
	TybaltHours       float64
}

// Result is a validated classification. Breakdown is set only for Partial.
type Result struct {
	Category  Category
	Breakdown *Breakdown
}

// HoursTolerance is the allowed drift between the split and the logged total.
const HoursTolerance = 0.01

// Keys of the JSON object the model must answer with.
const (
	KeyType              = "type"
	KeyITDescription     = "IT_Description"
	KeyITHours           = "IT_Hours"
	KeyTybaltDescription = "Tybalt_Description"
	KeyTybaltHours       = "Tybalt_Hours"
)

var partialKeys = []string{
	KeyType,
	KeyITDescription,
	KeyITHours,
	KeyTybaltDescription,
	KeyTybaltHours,
}
