package logical

import (
	"fmt"
	"strings"

	"github.com/apache/arrow/go/v14/arrow"
)

type (
	Node interface {
		Schema() *arrow.Schema
		Inputs() []Node
		fmt.Stringer
	}

	// Projection evaluates Exprs over Input. Schema has one field per expr,
	// in the same order.
	Projection struct {
		Exprs        []Expr
		Input        Node
		OutputSchema *arrow.Schema
	}

	Filter struct {
		Predicate Expr
		Input     Node
	}

	// TableScan reads a table through its provider. ProjectedSchema is what
	// the scan reports upwards; Projection indexes the provider schema.
	TableScan struct {
		TableName       string
		Projection      []int
		ProjectedSchema *arrow.Schema
		Filters         []Expr
		Limit           *int
	}

	Limit struct {
		N     int
		Input Node
	}

	Explain struct {
		Verbose          bool
		Plan             Node
		StringifiedPlans []string
		OutputSchema     *arrow.Schema
	}

	Sort struct {
		Exprs []SortExpr
		Input Node
	}

	Aggregate struct {
		GroupExprs   []Expr
		AggrExprs    []Expr
		Input        Node
		OutputSchema *arrow.Schema
	}

	Join struct {
		Left         Node
		Right        Node
		On           [][2]string
		OutputSchema *arrow.Schema
	}

	EmptyRelation struct {
		OutputSchema *arrow.Schema
	}
)

func (p *Projection) Schema() *arrow.Schema { return p.OutputSchema }
func (p *Projection) Inputs() []Node        { return []Node{p.Input} }
func (p *Projection) String() string {
	exprs := make([]string, len(p.Exprs))
	for i, e := range p.Exprs {
		exprs[i] = e.String()
	}
	return "Projection: " + strings.Join(exprs, ", ")
}

func (f *Filter) Schema() *arrow.Schema { return f.Input.Schema() }
func (f *Filter) Inputs() []Node        { return []Node{f.Input} }
func (f *Filter) String() string        { return "Filter: " + f.Predicate.String() }

func (ts *TableScan) Schema() *arrow.Schema { return ts.ProjectedSchema }
func (ts *TableScan) Inputs() []Node        { return nil }
func (ts *TableScan) String() string {
	names := make([]string, 0, ts.ProjectedSchema.NumFields())
	for _, f := range ts.ProjectedSchema.Fields() {
		names = append(names, f.Name)
	}
	return fmt.Sprintf("TableScan: %s projection=[%s]", ts.TableName, strings.Join(names, ", "))
}

func (l *Limit) Schema() *arrow.Schema { return l.Input.Schema() }
func (l *Limit) Inputs() []Node        { return []Node{l.Input} }
func (l *Limit) String() string        { return fmt.Sprintf("Limit: %d", l.N) }

func (e *Explain) Schema() *arrow.Schema { return e.OutputSchema }
func (e *Explain) Inputs() []Node        { return []Node{e.Plan} }
func (e *Explain) String() string        { return fmt.Sprintf("Explain: verbose=%v", e.Verbose) }

func (s *Sort) Schema() *arrow.Schema { return s.Input.Schema() }
func (s *Sort) Inputs() []Node        { return []Node{s.Input} }
func (s *Sort) String() string {
	exprs := make([]string, len(s.Exprs))
	for i, e := range s.Exprs {
		exprs[i] = e.String()
	}
	return "Sort: " + strings.Join(exprs, ", ")
}

func (a *Aggregate) Schema() *arrow.Schema { return a.OutputSchema }
func (a *Aggregate) Inputs() []Node        { return []Node{a.Input} }
func (a *Aggregate) String() string {
	return fmt.Sprintf("Aggregate: groupBy=%v aggr=%v", a.GroupExprs, a.AggrExprs)
}

func (j *Join) Schema() *arrow.Schema { return j.OutputSchema }
func (j *Join) Inputs() []Node        { return []Node{j.Left, j.Right} }
func (j *Join) String() string        { return fmt.Sprintf("Join: on=%v", j.On) }

func (e *EmptyRelation) Schema() *arrow.Schema { return e.OutputSchema }
func (e *EmptyRelation) Inputs() []Node        { return nil }
func (e *EmptyRelation) String() string        { return "EmptyRelation" }

// Format renders the tree one node per line, children indented.
func Format(n Node) string {
	var sb strings.Builder
	format(&sb, n, 0)
	return sb.String()
}

func format(sb *strings.Builder, n Node, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(n.String())
	sb.WriteByte('\n')
	for _, in := range n.Inputs() {
		format(sb, in, depth+1)
	}
}
