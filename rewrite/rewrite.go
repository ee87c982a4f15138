// Package rewrite hides the internal rowid column from query results.
package rewrite

import (
	"github.com/apache/arrow/go/v14/arrow"
	"github.com/danthegoodman1/kvsql/logical"
	"github.com/danthegoodman1/kvsql/table"
)

// Finalize removes rowid from the plan unless the query selected it by name.
func Finalize(node logical.Node, selectedRowID bool) logical.Node {
	if selectedRowID {
		return node
	}
	return RemoveRowID(node)
}

// ProjectionHasRowID reports whether a select list names rowid directly.
func ProjectionHasRowID(exprs []logical.Expr) bool {
	for _, e := range exprs {
		if isRowID(e) {
			return true
		}
	}
	return false
}

func isRowID(e logical.Expr) bool {
	c, ok := e.(logical.Column)
	return ok && c.Name == table.RowIDColumn
}

// RemoveRowID strips direct references to rowid from projections and table
// scans. Only Projection, Filter, TableScan, Limit and Explain are looked at;
// any other node is returned as is, children included. Compound expressions
// that use rowid are kept.
func RemoveRowID(node logical.Node) logical.Node {
	switch n := node.(type) {
	case *logical.Projection:
		exprs := make([]logical.Expr, 0, len(n.Exprs))
		fields := make([]arrow.Field, 0, len(n.Exprs))
		for i, e := range n.Exprs {
			if isRowID(e) {
				continue
			}
			exprs = append(exprs, e)
			fields = append(fields, n.OutputSchema.Field(i))
		}
		return &logical.Projection{
			Exprs:        exprs,
			Input:        RemoveRowID(n.Input),
			OutputSchema: schemaLike(n.OutputSchema, fields),
		}
	case *logical.Filter:
		return &logical.Filter{Predicate: n.Predicate, Input: RemoveRowID(n.Input)}
	case *logical.TableScan:
		scan := *n
		scan.ProjectedSchema = withoutRowID(n.ProjectedSchema)
		return &scan
	case *logical.Limit:
		return &logical.Limit{N: n.N, Input: RemoveRowID(n.Input)}
	case *logical.Explain:
		explain := *n
		explain.Plan = RemoveRowID(n.Plan)
		return &explain
	default:
		return node
	}
}

func withoutRowID(s *arrow.Schema) *arrow.Schema {
	fields := make([]arrow.Field, 0, s.NumFields())
	for _, f := range s.Fields() {
		if f.Name == table.RowIDColumn {
			continue
		}
		fields = append(fields, f)
	}
	return schemaLike(s, fields)
}

// schemaLike builds a schema of fields carrying the metadata of s.
func schemaLike(s *arrow.Schema, fields []arrow.Field) *arrow.Schema {
	md := s.Metadata()
	return arrow.NewSchema(fields, &md)
}
