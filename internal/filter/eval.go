package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// Eval reports whether values satisfies expr. A nil expr matches every row.
// Columns absent from values are NULL; any comparison involving NULL is
// false, so NOT (x = NULL) is true.
func Eval(expr Expression, values map[string]string) (bool, error) {
	if expr == nil {
		return true, nil
	}
	return evalBool(expr, values)
}

func evalBool(expr Expression, values map[string]string) (bool, error) {
	switch ex := expr.(type) {
	case *ParenExpr:
		return evalBool(ex.Expr, values)
	case *UnaryExpr:
		v, err := evalBool(ex.Operand, values)
		if err != nil {
			return false, err
		}
		return !v, nil
	case *BinaryExpr:
		switch ex.Operator {
		case "AND":
			l, err := evalBool(ex.Left, values)
			if err != nil || !l {
				return false, err
			}
			return evalBool(ex.Right, values)
		case "OR":
			l, err := evalBool(ex.Left, values)
			if err != nil || l {
				return l, err
			}
			return evalBool(ex.Right, values)
		}
		left, err := evalValue(ex.Left, values)
		if err != nil {
			return false, err
		}
		right, err := evalValue(ex.Right, values)
		if err != nil {
			return false, err
		}
		if left == nil || right == nil {
			return false, nil
		}
		c := compare(left, right)
		switch ex.Operator {
		case "=":
			return c == 0, nil
		case "<>", "!=":
			return c != 0, nil
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		case ">=":
			return c >= 0, nil
		default:
			return false, fmt.Errorf("filter: unsupported operator %q", ex.Operator)
		}
	case *InExpr:
		v, err := evalValue(ex.Expr, values)
		if err != nil || v == nil {
			return false, err
		}
		found := false
		for _, candidate := range ex.Values {
			cv, err := evalValue(candidate, values)
			if err != nil {
				return false, err
			}
			if cv != nil && compare(v, cv) == 0 {
				found = true
				break
			}
		}
		return found != ex.Not, nil
	case *LikeExpr:
		v, err := evalValue(ex.Expr, values)
		if err != nil {
			return false, err
		}
		pattern, err := evalValue(ex.Pattern, values)
		if err != nil {
			return false, err
		}
		if v == nil || pattern == nil {
			return false, nil
		}
		matched := likeMatch(strings.ToLower(toString(v)), strings.ToLower(toString(pattern)))
		return matched != ex.Not, nil
	case *IsNullExpr:
		v, err := evalValue(ex.Expr, values)
		if err != nil {
			return false, err
		}
		return (v == nil) != ex.Not, nil
	default:
		return false, fmt.Errorf("filter: %s is not a boolean expression", expr.String())
	}
}

func evalValue(expr Expression, values map[string]string) (interface{}, error) {
	switch ex := expr.(type) {
	case *ColumnRef:
		v, ok := values[ex.Column]
		if !ok {
			return nil, nil
		}
		return v, nil
	case *Literal:
		return ex.Value, nil
	case *ParenExpr:
		return evalValue(ex.Expr, values)
	default:
		return nil, fmt.Errorf("filter: %s is not a value", expr.String())
	}
}

// compare orders two non-nil values numerically when both are numbers and
// lexically otherwise.
func compare(a, b interface{}) int {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(toString(a), toString(b))
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// likeMatch implements SQL LIKE: % matches any run, _ matches one byte.
func likeMatch(s, pattern string) bool {
	// Iterative matcher with single-star backtracking.
	si, pi := 0, 0
	starP, starS := -1, 0
	for si < len(s) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '_' || pattern[pi] == s[si]):
			si++
			pi++
		case pi < len(pattern) && pattern[pi] == '%':
			starP = pi
			starS = si
			pi++
		case starP >= 0:
			starS++
			si = starS
			pi = starP + 1
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '%' {
		pi++
	}
	return pi == len(pattern)
}
