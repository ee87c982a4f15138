package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/danthegoodman1/kvsql/logical"
	"github.com/danthegoodman1/kvsql/planner"
	"github.com/danthegoodman1/kvsql/scanerr"
	"github.com/danthegoodman1/kvsql/table"
)

var ErrInvalidCondition = errors.New("invalid condition")

type (
	// Condition is `column op value` as clients send it. A nil Value is NULL.
	Condition struct {
		Column string `json:"column" validate:"required"`
		Op     string `json:"op" validate:"required"`
		Value  any    `json:"value"`
	}

	OrderBy struct {
		Column string `json:"column" validate:"required"`
		Desc   bool   `json:"desc"`
	}
)

var operators = map[string]logical.Operator{
	"=":  logical.OpEq,
	"==": logical.OpEq,
	"!=": logical.OpNotEq,
	"<>": logical.OpNotEq,
	"<":  logical.OpLt,
	"<=": logical.OpLtEq,
	">":  logical.OpGt,
	">=": logical.OpGtEq,
}

// ParseCondition parses `column<op>value`, e.g. `a=x` or `b>=3`. The value is
// kept as text and typed against the column by Resolve.
func ParseCondition(s string) (Condition, error) {
	i := strings.IndexAny(s, "=!<>")
	if i <= 0 {
		return Condition{}, fmt.Errorf("%w: %q", ErrInvalidCondition, s)
	}
	j := i
	for j < len(s) && strings.ContainsRune("=!<>", rune(s[j])) {
		j++
	}
	op := s[i:j]
	if _, ok := operators[op]; !ok {
		return Condition{}, fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, op)
	}
	return Condition{Column: strings.TrimSpace(s[:i]), Op: op, Value: strings.TrimSpace(s[j:])}, nil
}

// Resolve turns conditions and orderings into expressions over tableName,
// typing each value by its column. Every failure is a planning error.
func (s *Session) Resolve(ctx context.Context, tableName string, conds []Condition, order []OrderBy) ([]logical.Expr, []logical.SortExpr, error) {
	ts, err := s.gc.MetaStore.GetTableSchema(ctx, tableName)
	if err != nil {
		return nil, nil, fmt.Errorf("error in MetaStore.GetTableSchema: %w", err)
	}
	def := ts.Def

	filters := make([]logical.Expr, 0, len(conds))
	for _, c := range conds {
		col, ok := def.Column(c.Column)
		if !ok {
			return nil, nil, scanerr.Planning(tableName, c.Column, "", planner.ErrUnknownColumn)
		}
		op, ok := operators[c.Op]
		if !ok {
			return nil, nil, scanerr.Planning(tableName, c.Column, "", fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, c.Op))
		}
		v, err := typedValue(col.Type, c.Value)
		if err != nil {
			return nil, nil, scanerr.Planning(tableName, c.Column, "", err)
		}
		filters = append(filters, logical.Binary(logical.Col(c.Column), op, logical.Lit(v)))
	}

	sorts := make([]logical.SortExpr, 0, len(order))
	for _, o := range order {
		if _, ok := def.Column(o.Column); !ok {
			return nil, nil, scanerr.Planning(tableName, o.Column, "", planner.ErrUnknownColumn)
		}
		sorts = append(sorts, logical.SortExpr{Expr: logical.Col(o.Column), Asc: !o.Desc})
	}
	return filters, sorts, nil
}

// typedValue converts JSON or command line values to the Go type of ct.
func typedValue(ct table.ColumnType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if n, ok := v.(json.Number); ok {
		v = n.String()
	}
	switch ct {
	case table.TypeUtf8:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case table.TypeInt32, table.TypeInt64:
		switch i := v.(type) {
		case int:
			return int64(i), nil
		case int32:
			return int64(i), nil
		case int64:
			return i, nil
		case float64:
			if i == math.Trunc(i) && i >= math.MinInt64 && i < math.MaxInt64 {
				return int64(i), nil
			}
		case string:
			parsed, err := strconv.ParseInt(i, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not an integer", planner.ErrLiteralMismatch, i)
			}
			return parsed, nil
		}
	case table.TypeFloat64:
		switch f := v.(type) {
		case float64:
			return f, nil
		case int64:
			return float64(f), nil
		case string:
			parsed, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a number", planner.ErrLiteralMismatch, f)
			}
			return parsed, nil
		}
	case table.TypeBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a bool", planner.ErrLiteralMismatch, b)
			}
			return parsed, nil
		}
	}
	return nil, fmt.Errorf("%w: %T for %s", planner.ErrLiteralMismatch, v, ct)
}
