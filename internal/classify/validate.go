package classify

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Validate parses a raw model answer and enforces the response contract for an
// entry logged with totalHours. A nil *Problem means the Result is valid.
func Validate(raw string, totalHours float64) (Result, *Problem) {
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return Result{}, newProblem(ProblemMalformedJSON, "Response is not valid JSON: %v", err)
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return Result{}, newProblem(ProblemMalformedJSON, "Top-level JSON value must be an object.")
	}

	rawType, ok := obj[KeyType]
	if !ok {
		return Result{}, newProblem(ProblemMissingType, "JSON object is missing required key %q.", KeyType)
	}
	category, ok := NormalizeCategory(stringify(rawType))
	if !ok {
		return Result{}, newProblem(ProblemUnmappableCategory, "Could not map %q to a valid category (Tybalt, Partial or IT).", stringify(rawType))
	}

	if category != CategoryPartial {
		var extra []string
		for k := range obj {
			if k != KeyType {
				extra = append(extra, k)
			}
		}
		if len(extra) > 0 {
			sort.Strings(extra)
			return Result{}, newProblem(ProblemUnexpectedKeys,
				"Unexpected extra keys for non-partial classification %q: %s. Only %q is allowed.",
				string(category), strings.Join(extra, ", "), KeyType)
		}
		return Result{Category: category}, nil
	}

	return validatePartial(obj, totalHours)
}

func validatePartial(obj map[string]any, totalHours float64) (Result, *Problem) {
	var missing []string
	for _, k := range partialKeys {
		if _, ok := obj[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return Result{}, newProblem(ProblemMissingPartialKeys,
			"JSON object for \"Partial\" is missing required keys: %s.", strings.Join(missing, ", "))
	}

	allowed := make(map[string]struct{}, len(partialKeys))
	for _, k := range partialKeys {
		allowed[k] = struct{}{}
	}
	var extra []string
	for k := range obj {
		if _, ok := allowed[k]; !ok {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return Result{}, newProblem(ProblemUnexpectedKeys,
			"JSON object for \"Partial\" includes unexpected keys: %s.", strings.Join(extra, ", "))
	}

	itHours, okIT := toHours(obj[KeyITHours])
	tybaltHours, okTybalt := toHours(obj[KeyTybaltHours])
	if !okIT || !okTybalt {
		return Result{}, newProblem(ProblemNonNumericHours, "%s and %s must be numeric.", KeyITHours, KeyTybaltHours)
	}
	if itHours < 0 || tybaltHours < 0 {
		return Result{}, newProblem(ProblemNegativeHours, "%s and %s must be non-negative.", KeyITHours, KeyTybaltHours)
	}
	if totalHours < 0 {
		return Result{}, newProblem(ProblemNegativeHours, "total_hours must be non-negative.")
	}
	if math.Abs(itHours+tybaltHours-totalHours) > HoursTolerance {
		return Result{}, hoursMismatch(itHours, tybaltHours, totalHours)
	}

	return Result{
		Category: CategoryPartial,
		Breakdown: &Breakdown{
			ITDescription:     strings.TrimSpace(stringify(obj[KeyITDescription])),
			ITHours:           itHours,
			TybaltDescription: strings.TrimSpace(stringify(obj[KeyTybaltDescription])),
			TybaltHours:       tybaltHours,
		},
	}, nil
}

// toHours accepts JSON numbers and numeric strings. Booleans, null and
// non-finite values are rejected.
func toHours(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return formatHours(t)
	default:
		return fmt.Sprint(t)
	}
}

func formatHours(h float64) string {
	return strconv.FormatFloat(h, 'f', -1, 64)
}
