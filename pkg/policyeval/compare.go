package policyeval

import (
	"fmt"
	"reflect"
)

// evalCompare implements _eval_compare's operator switch, normalizing
// numeric types so that a float64 context value (MaxTokens: 5) compares
// correctly against a JSON-number constant literal (also float64 after
// lexing, but context values may arrive as int/int64 from a document map).
func evalCompare(op tokenKind, left, right any) (bool, error) {
	switch op {
	case tokEq:
		return equalValues(left, right), nil
	case tokNeq:
		return !equalValues(left, right), nil
	case tokGt, tokGte, tokLt, tokLte:
		lf, lok := asNumber(left)
		rf, rok := asNumber(right)
		if !lok || !rok {
			return false, nil
		}
		switch op {
		case tokGt:
			return lf > rf, nil
		case tokGte:
			return lf >= rf, nil
		case tokLt:
			return lf < rf, nil
		default:
			return lf <= rf, nil
		}
	case tokIn:
		return containsValue(right, left), nil
	case tokNotIn:
		return !containsValue(right, left), nil
	default:
		return false, fmt.Errorf("%w: unsupported comparison operator", ErrUnsupported)
	}
}

func equalValues(a, b any) bool {
	if af, aok := asNumber(a); aok {
		if bf, bok := asNumber(b); bok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}

func asNumber(v any) (float64, bool) {
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

// containsValue mirrors Python's "in" operator over a list, string, or map.
func containsValue(container, needle any) bool {
	switch c := container.(type) {
	case nil:
		return false
	case []any:
		for _, item := range c {
			if equalValues(item, needle) {
				return true
			}
		}
		return false
	case string:
		s, ok := needle.(string)
		if !ok {
			return false
		}
		return contains(c, s)
	case map[string]any:
		key, ok := needle.(string)
		if !ok {
			return false
		}
		_, exists := c[key]
		return exists
	default:
		return false
	}
}

func contains(haystack, needle string) bool {
	return len(needle) <= len(haystack) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	n, m := len(haystack), len(needle)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if haystack[i:i+m] == needle {
			return i
		}
	}
	return -1
}
