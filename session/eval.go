package session

import (
	"cmp"
	"errors"
	"fmt"

	"github.com/danthegoodman1/kvsql/logical"
)

var (
	ErrUnsupportedExpr = errors.New("unsupported expression")
	ErrIncomparable    = errors.New("values cannot be compared")
)

// matches evaluates a predicate against a row. NULL operands make a
// comparison false.
func matches(e logical.Expr, row map[string]any) (bool, error) {
	b, ok := e.(logical.BinaryExpr)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnsupportedExpr, e)
	}

	switch b.Op {
	case logical.OpAnd, logical.OpOr:
		l, err := matches(b.Left, row)
		if err != nil {
			return false, err
		}
		if b.Op == logical.OpAnd && !l {
			return false, nil
		}
		if b.Op == logical.OpOr && l {
			return true, nil
		}
		return matches(b.Right, row)
	}

	l, err := value(b.Left, row)
	if err != nil {
		return false, err
	}
	r, err := value(b.Right, row)
	if err != nil {
		return false, err
	}
	if l == nil || r == nil {
		return false, nil
	}
	c, err := compareValues(l, r)
	if err != nil {
		return false, fmt.Errorf("%s: %w", e, err)
	}

	switch b.Op {
	case logical.OpEq:
		return c == 0, nil
	case logical.OpNotEq:
		return c != 0, nil
	case logical.OpLt:
		return c < 0, nil
	case logical.OpLtEq:
		return c <= 0, nil
	case logical.OpGt:
		return c > 0, nil
	case logical.OpGtEq:
		return c >= 0, nil
	default:
		return false, fmt.Errorf("%w: operator %s", ErrUnsupportedExpr, b.Op)
	}
}

func value(e logical.Expr, row map[string]any) (any, error) {
	switch v := e.(type) {
	case logical.Column:
		return row[v.Name], nil
	case logical.Literal:
		return v.Value, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedExpr, e)
	}
}

func compareValues(a, b any) (int, error) {
	if ai, ok := asInt(a); ok {
		if bi, ok := asInt(b); ok {
			return cmp.Compare(ai, bi), nil
		}
	}
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return cmp.Compare(af, bf), nil
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return cmp.Compare(as, bs), nil
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			if ab == bb {
				return 0, nil
			}
			if !ab {
				return -1, nil
			}
			return 1, nil
		}
	}
	return 0, fmt.Errorf("%w: %T and %T", ErrIncomparable, a, b)
}

func asInt(v any) (int64, bool) {
	switch i := v.(type) {
	case int:
		return int64(i), true
	case int32:
		return int64(i), true
	case int64:
		return i, true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	if i, ok := asInt(v); ok {
		return float64(i), true
	}
	f, ok := v.(float64)
	return f, ok
}
