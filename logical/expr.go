// Package logical is the logical plan and expression model the query engine
// hands to storage: predicates pushed into scans, and the plan tree the rowid
// rewriter walks.
package logical

import (
	"fmt"
	"strings"
)

type Operator string

const (
	OpEq    Operator = "="
	OpNotEq Operator = "!="
	OpLt    Operator = "<"
	OpLtEq  Operator = "<="
	OpGt    Operator = ">"
	OpGtEq  Operator = ">="
	OpAnd   Operator = "AND"
	OpOr    Operator = "OR"
	OpPlus  Operator = "+"
	OpMinus Operator = "-"
)

type (
	Expr interface {
		fmt.Stringer
		exprNode()
	}

	Column struct {
		Name string
	}

	// Literal is a constant. Value is nil (NULL), string, int64, int32,
	// float64 or bool.
	Literal struct {
		Value any
	}

	BinaryExpr struct {
		Left  Expr
		Op    Operator
		Right Expr
	}

	Alias struct {
		Expr Expr
		Name string
	}

	ScalarFunction struct {
		Name string
		Args []Expr
	}

	SortExpr struct {
		Expr Expr
		Asc  bool
	}
)

func (Column) exprNode()         {}
func (Literal) exprNode()        {}
func (BinaryExpr) exprNode()     {}
func (Alias) exprNode()          {}
func (ScalarFunction) exprNode() {}

func (c Column) String() string { return "#" + c.Name }

func (l Literal) String() string {
	switch v := l.Value.(type) {
	case nil:
		return "NULL"
	case string:
		return fmt.Sprintf("%q", v)
	default:
		return fmt.Sprint(v)
	}
}

func (b BinaryExpr) String() string {
	return fmt.Sprintf("%s %s %s", b.Left, b.Op, b.Right)
}

func (a Alias) String() string { return fmt.Sprintf("%s AS %s", a.Expr, a.Name) }

func (f ScalarFunction) String() string {
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", f.Name, strings.Join(args, ", "))
}

func (s SortExpr) String() string {
	if s.Asc {
		return s.Expr.String() + " ASC"
	}
	return s.Expr.String() + " DESC"
}

func Col(name string) Column { return Column{Name: name} }

func Lit(v any) Literal { return Literal{Value: v} }

func Binary(l Expr, op Operator, r Expr) BinaryExpr {
	return BinaryExpr{Left: l, Op: op, Right: r}
}

func Eq(l, r Expr) BinaryExpr { return Binary(l, OpEq, r) }

// And folds exprs into a left deep conjunction. It panics on no exprs.
func And(exprs ...Expr) Expr {
	out := exprs[0]
	for _, e := range exprs[1:] {
		out = Binary(out, OpAnd, e)
	}
	return out
}

// SplitConjunction flattens nested ANDs into their terms.
func SplitConjunction(e Expr) []Expr {
	if b, ok := e.(BinaryExpr); ok && b.Op == OpAnd {
		return append(SplitConjunction(b.Left), SplitConjunction(b.Right)...)
	}
	return []Expr{e}
}

// Flip returns the operator that keeps a comparison true when its operands
// swap sides, and false for operators that are not comparisons.
func (op Operator) Flip() (Operator, bool) {
	switch op {
	case OpEq, OpNotEq:
		return op, true
	case OpLt:
		return OpGt, true
	case OpLtEq:
		return OpGtEq, true
	case OpGt:
		return OpLt, true
	case OpGtEq:
		return OpLtEq, true
	default:
		return op, false
	}
}

// ColumnsOf adds the names of the columns e references to into.
func ColumnsOf(e Expr, into map[string]struct{}) {
	switch v := e.(type) {
	case Column:
		into[v.Name] = struct{}{}
	case BinaryExpr:
		ColumnsOf(v.Left, into)
		ColumnsOf(v.Right, into)
	case Alias:
		ColumnsOf(v.Expr, into)
	case ScalarFunction:
		for _, a := range v.Args {
			ColumnsOf(a, into)
		}
	}
}
