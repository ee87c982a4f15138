package planner

import (
	"cmp"
	"slices"

	"github.com/danthegoodman1/kvsql/logical"
	"github.com/danthegoodman1/kvsql/scanerr"
	"github.com/danthegoodman1/kvsql/table"
)

type (
	bound struct {
		value     any
		inclusive bool
	}

	// constraint is everything the conjunction says about one column. Values
	// are already coerced to the column type.
	constraint struct {
		hasEq bool
		eq    any
		lower *bound
		upper *bound
	}
)

func (c *constraint) hasRange() bool {
	return c.lower != nil || c.upper != nil
}

// collectConstraints folds the filters into per column constraints. empty is
// true when the filters can match no row.
func collectConstraints(def table.TableDef, filters []logical.Expr) (constraints map[string]*constraint, empty bool, err error) {
	if err := checkColumns(def, filters); err != nil {
		return nil, false, err
	}

	constraints = map[string]*constraint{}
	for _, f := range filters {
		for _, term := range logical.SplitConjunction(f) {
			colName, op, lit, ok := normalize(term)
			if !ok {
				continue
			}
			col, exists := def.Column(colName)
			if !exists {
				return nil, false, scanerr.Planning(def.Name, colName, "", ErrUnknownColumn)
			}
			if lit.Value == nil {
				// Comparing against NULL is never true
				empty = true
				continue
			}
			v, err := coerce(col.Type, lit.Value)
			if err != nil {
				return nil, false, scanerr.Planning(def.Name, colName, "", err)
			}

			cc, ok := constraints[colName]
			if !ok {
				cc = &constraint{}
				constraints[colName] = cc
			}
			if !cc.add(op, v) {
				empty = true
			}
		}
	}
	if empty {
		return constraints, true, nil
	}
	for _, cc := range constraints {
		if !cc.satisfiable() {
			return constraints, true, nil
		}
	}
	return constraints, false, nil
}

// checkColumns rejects filters naming a column def does not have, including
// terms the planner cannot use for a range.
func checkColumns(def table.TableDef, filters []logical.Expr) error {
	names := map[string]struct{}{}
	for _, f := range filters {
		logical.ColumnsOf(f, names)
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	slices.Sort(sorted)
	for _, n := range sorted {
		if _, ok := def.Column(n); !ok {
			return scanerr.Planning(def.Name, n, "", ErrUnknownColumn)
		}
	}
	return nil
}

// add narrows the constraint. It returns false when an equality contradicts an
// earlier one.
func (c *constraint) add(op logical.Operator, v any) bool {
	switch op {
	case logical.OpEq:
		if c.hasEq {
			return compare(c.eq, v) == 0
		}
		c.hasEq, c.eq = true, v
	case logical.OpLt, logical.OpLtEq:
		b := &bound{value: v, inclusive: op == logical.OpLtEq}
		if c.upper == nil {
			c.upper = b
			break
		}
		if r := compare(v, c.upper.value); r < 0 || (r == 0 && !b.inclusive) {
			c.upper = b
		}
	case logical.OpGt, logical.OpGtEq:
		b := &bound{value: v, inclusive: op == logical.OpGtEq}
		if c.lower == nil {
			c.lower = b
			break
		}
		if r := compare(v, c.lower.value); r > 0 || (r == 0 && !b.inclusive) {
			c.lower = b
		}
	}
	return true
}

func (c *constraint) satisfiable() bool {
	if c.hasEq {
		if c.lower != nil && !c.lower.admits(c.eq, 1) {
			return false
		}
		if c.upper != nil && !c.upper.admits(c.eq, -1) {
			return false
		}
	}
	if c.lower != nil && c.upper != nil {
		r := compare(c.lower.value, c.upper.value)
		if r > 0 || (r == 0 && !(c.lower.inclusive && c.upper.inclusive)) {
			return false
		}
	}
	return true
}

// admits reports whether v lies on the allowed side of the bound; side is 1
// for a lower bound and -1 for an upper bound.
func (b *bound) admits(v any, side int) bool {
	r := compare(v, b.value) * side
	return r > 0 || (r == 0 && b.inclusive)
}

// compare orders two coerced values of the same column. Values of different
// kinds never meet here, coercion guarantees one kind per column.
func compare(a, b any) int {
	switch av := a.(type) {
	case string:
		return cmp.Compare(av, b.(string))
	case int64:
		return cmp.Compare(av, b.(int64))
	case float64:
		return cmp.Compare(av, b.(float64))
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	}
	return 0
}
