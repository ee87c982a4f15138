// Package provider exposes tables to the query engine as scannable sources.
package provider

import (
	"context"
	"fmt"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/danthegoodman1/kvsql/core"
	"github.com/danthegoodman1/kvsql/logical"
	"github.com/danthegoodman1/kvsql/planner"
	"github.com/danthegoodman1/kvsql/reader"
	"github.com/danthegoodman1/kvsql/scanerr"
	"github.com/danthegoodman1/kvsql/table"
)

type FilterPushdown int

const (
	Unsupported FilterPushdown = iota
	// Inexact filters narrow the scan but the engine must apply them again
	Inexact
	Exact
)

type (
	TableProvider interface {
		Schema() *arrow.Schema
		// Scan opens a reader over the columns at projection (all when nil).
		// limit caps the rows read, nil reads every row the filters allow.
		Scan(ctx context.Context, projection []int, batchSize int, filters []logical.Expr, limit *int) (*reader.Reader, error)
		SupportsFilterPushdown(filter logical.Expr) FilterPushdown
		LogicalScan(projection []int, filters []logical.Expr, limit *int) (*logical.TableScan, error)
	}

	// KVTable scans a table stored in the shared datastore.
	KVTable struct {
		gc     *core.GlobalContext
		def    table.TableDef
		schema *arrow.Schema
	}
)

var _ TableProvider = (*KVTable)(nil)

// NewKVTable loads the definition of tableName from the metastore.
func NewKVTable(ctx context.Context, gc *core.GlobalContext, tableName string) (*KVTable, error) {
	ts, err := gc.MetaStore.GetTableSchema(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("error in MetaStore.GetTableSchema: %w", err)
	}
	schema, err := ts.Def.Schema()
	if err != nil {
		return nil, fmt.Errorf("error in TableDef.Schema: %w", err)
	}
	return &KVTable{gc: gc, def: ts.Def, schema: schema}, nil
}

func (kt *KVTable) Def() table.TableDef { return kt.def }

func (kt *KVTable) Schema() *arrow.Schema { return kt.schema }

func (kt *KVTable) SupportsFilterPushdown(logical.Expr) FilterPushdown {
	return Inexact
}

// ProjectedSchema returns the fields of the table schema at projection.
func (kt *KVTable) ProjectedSchema(projection []int) (*arrow.Schema, error) {
	if projection == nil {
		return kt.schema, nil
	}
	fields := make([]arrow.Field, 0, len(projection))
	for _, i := range projection {
		if i < 0 || i >= kt.schema.NumFields() {
			return nil, scanerr.Planning(kt.def.Name, "", "", fmt.Errorf("projection index %d out of range", i))
		}
		fields = append(fields, kt.schema.Field(i))
	}
	return arrow.NewSchema(fields, nil), nil
}

// Scan reads the rows filters narrow the table to. limit caps the rows read,
// callers only pass one when no filter is left to apply on the output.
func (kt *KVTable) Scan(ctx context.Context, projection []int, batchSize int, filters []logical.Expr, limit *int) (*reader.Reader, error) {
	schema, err := kt.ProjectedSchema(projection)
	if err != nil {
		return nil, err
	}
	plan, err := planner.PlanScan(ctx, kt.def, filters, nil)
	if err != nil {
		return nil, err
	}
	var opts []reader.Option
	if limit != nil {
		opts = append(opts, reader.WithLimit(*limit))
	}
	return reader.New(ctx, kt.gc, plan, schema, batchSize, opts...), nil
}

// ScanOrdered is Scan with the output order the engine wants, which lets the
// planner report whether the index walk already provides it.
func (kt *KVTable) ScanOrdered(ctx context.Context, projection []int, batchSize int, filters []logical.Expr, order []logical.SortExpr) (*reader.Reader, error) {
	schema, err := kt.ProjectedSchema(projection)
	if err != nil {
		return nil, err
	}
	plan, err := planner.PlanScan(ctx, kt.def, filters, order)
	if err != nil {
		return nil, err
	}
	return reader.New(ctx, kt.gc, plan, schema, batchSize), nil
}

// LogicalScan is the plan node the engine places for a scan of this table.
func (kt *KVTable) LogicalScan(projection []int, filters []logical.Expr, limit *int) (*logical.TableScan, error) {
	schema, err := kt.ProjectedSchema(projection)
	if err != nil {
		return nil, err
	}
	return &logical.TableScan{
		TableName:       kt.def.Name,
		Projection:      projection,
		ProjectedSchema: schema,
		Filters:         filters,
		Limit:           limit,
	}, nil
}
