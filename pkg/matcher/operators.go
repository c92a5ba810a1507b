package matcher

import (
	"log/slog"
	"reflect"
	"regexp"
)

// evaluateComparisonOperator evaluates a single field-level comparison
// operator, matching _evaluate_comparison_operator. Unknown operators are
// logged and treated as satisfied (fail-open), matching the original.
func evaluateComparisonOperator(op string, actual, expected any) bool {
	switch op {
	case "$eq":
		return valuesEqual(actual, expected)
	case "$ne":
		return !valuesEqual(actual, expected)
	case "$gt":
		cmp, ok := compareNumeric(actual, expected)
		return ok && cmp > 0
	case "$gte":
		cmp, ok := compareNumeric(actual, expected)
		return ok && cmp >= 0
	case "$lt":
		cmp, ok := compareNumeric(actual, expected)
		return ok && cmp < 0
	case "$lte":
		cmp, ok := compareNumeric(actual, expected)
		return ok && cmp <= 0
	case "$in":
		return valueInList(actual, expected)
	case "$nin":
		return !valueInList(actual, expected)
	case "$exists":
		want, _ := expected.(bool)
		return (actual != nil) == want
	case "$type":
		return checkType(actual, expected)
	case "$regex":
		return evaluateRegex(actual, expected)
	default:
		slog.Warn("unknown filter operator", "operator", op)
		return true
	}
}

func valuesEqual(actual, expected any) bool {
	if a, ok := toFloat64(actual); ok {
		if b, ok := toFloat64(expected); ok {
			return a == b
		}
	}
	return reflect.DeepEqual(actual, expected)
}

// compareNumeric compares actual and expected as numbers, reporting ok=false
// (never satisfying $gt/$gte/$lt/$lte) when actual is nil or either side is
// not numeric, matching the original's "actual is not None and actual > expected".
func compareNumeric(actual, expected any) (int, bool) {
	if actual == nil {
		return 0, false
	}
	a, ok := toFloat64(actual)
	if !ok {
		return 0, false
	}
	b, ok := toFloat64(expected)
	if !ok {
		return 0, false
	}
	switch {
	case a < b:
		return -1, true
	case a > b:
		return 1, true
	default:
		return 0, true
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func valueInList(actual, expected any) bool {
	list, ok := expected.([]any)
	if !ok {
		return false
	}
	for _, v := range list {
		if valuesEqual(actual, v) {
			return true
		}
	}
	return false
}

func evaluateRegex(actual, expected any) bool {
	if actual == nil {
		return false
	}
	s, ok := actual.(string)
	if !ok {
		return false
	}

	pattern, options := "", ""
	switch e := expected.(type) {
	case string:
		pattern = e
	case map[string]any:
		if p, ok := e["$regex"].(string); ok {
			pattern = p
		}
		if o, ok := e["$options"].(string); ok {
			options = o
		}
	default:
		return false
	}

	if containsRune(options, 'i') {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func containsRune(s string, r rune) bool {
	for _, c := range s {
		if c == r {
			return true
		}
	}
	return false
}

// checkType reports whether a decoded Go value matches a BSON $type alias
// name or numeric code this matcher recognizes, matching _check_type's
// type_map.
func checkType(value any, expectedType any) bool {
	switch t := expectedType.(type) {
	case string:
		return matchesTypeAlias(value, t)
	case int:
		return matchesTypeCode(value, t)
	case int32:
		return matchesTypeCode(value, int(t))
	case float64:
		return matchesTypeCode(value, int(t))
	default:
		return false
	}
}

func matchesTypeAlias(value any, alias string) bool {
	switch alias {
	case "double":
		_, ok := value.(float64)
		return ok
	case "string":
		_, ok := value.(string)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "bool":
		_, ok := value.(bool)
		return ok
	case "int", "long":
		switch value.(type) {
		case int, int32, int64:
			return true
		default:
			return false
		}
	case "null":
		return value == nil
	default:
		return false
	}
}

func matchesTypeCode(value any, code int) bool {
	switch code {
	case 1:
		return matchesTypeAlias(value, "double")
	case 2:
		return matchesTypeAlias(value, "string")
	case 3:
		return matchesTypeAlias(value, "object")
	case 4:
		return matchesTypeAlias(value, "array")
	case 8:
		return matchesTypeAlias(value, "bool")
	case 16, 18:
		return matchesTypeAlias(value, "int")
	case 10:
		return value == nil
	default:
		return false
	}
}
