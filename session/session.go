// Package session runs scans end to end: it builds the logical plan, hides
// rowid unless asked for, reads through the table provider and re-applies the
// pushed down filters.
package session

import (
	"context"
	"fmt"
	"sort"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/danthegoodman1/kvsql/convert"
	"github.com/danthegoodman1/kvsql/core"
	"github.com/danthegoodman1/kvsql/engine"
	"github.com/danthegoodman1/kvsql/logical"
	"github.com/danthegoodman1/kvsql/planner"
	"github.com/danthegoodman1/kvsql/provider"
	"github.com/danthegoodman1/kvsql/reader"
	"github.com/danthegoodman1/kvsql/rewrite"
	"github.com/danthegoodman1/kvsql/scanerr"
	"github.com/rs/zerolog"
)

type (
	ScanRequest struct {
		Table string
		// Columns is the select list, empty for every column. rowid is only
		// returned when named here.
		Columns   []string
		Filters   []logical.Expr
		Order     []logical.SortExpr
		Limit     *int
		BatchSize int
	}

	Result struct {
		Strategy string           `json:"strategy"`
		Plan     string           `json:"plan"`
		Columns  []string         `json:"columns"`
		Rows     []map[string]any `json:"rows"`
	}

	Session struct {
		gc        *core.GlobalContext
		batchSize int
	}

	// prepared is a request resolved against its table.
	prepared struct {
		tp         provider.TableProvider
		plan       logical.Node
		projection []int
		filters    []logical.Expr
		scanLimit  *int
		columns    []string
	}
)

func New(gc *core.GlobalContext, batchSize int) *Session {
	return &Session{gc: gc, batchSize: batchSize}
}

func (s *Session) prepare(ctx context.Context, req ScanRequest) (*prepared, error) {
	eng, err := engine.New(ctx, s.gc, req.Table)
	if err != nil {
		return nil, fmt.Errorf("error in engine.New: %w", err)
	}
	tp := eng.TableProvider()
	schema := tp.Schema()

	names := req.Columns
	if len(names) == 0 {
		names = make([]string, 0, schema.NumFields())
		for _, f := range schema.Fields() {
			names = append(names, f.Name)
		}
	}
	selectExprs := make([]logical.Expr, 0, len(names))
	selectFields := make([]arrow.Field, 0, len(names))
	needed := map[string]struct{}{}
	for _, n := range names {
		idx := schema.FieldIndices(n)
		if len(idx) == 0 {
			return nil, scanerr.Planning(req.Table, n, "", planner.ErrUnknownColumn)
		}
		selectExprs = append(selectExprs, logical.Col(n))
		selectFields = append(selectFields, schema.Field(idx[0]))
		needed[n] = struct{}{}
	}
	for _, f := range req.Filters {
		logical.ColumnsOf(f, needed)
	}
	for _, o := range req.Order {
		logical.ColumnsOf(o.Expr, needed)
	}

	projection := make([]int, 0, len(needed))
	for n := range needed {
		idx := schema.FieldIndices(n)
		if len(idx) == 0 {
			return nil, scanerr.Planning(req.Table, n, "", planner.ErrUnknownColumn)
		}
		projection = append(projection, idx[0])
	}
	sort.Ints(projection)

	// A limit only reaches the scan when nothing filters or reorders rows
	// after it
	var scanLimit *int
	if len(req.Filters) == 0 && len(req.Order) == 0 {
		scanLimit = req.Limit
	}

	scan, err := tp.LogicalScan(projection, req.Filters, scanLimit)
	if err != nil {
		return nil, err
	}
	var plan logical.Node = scan
	if len(req.Filters) > 0 {
		plan = &logical.Filter{Predicate: logical.And(req.Filters...), Input: plan}
	}
	if len(req.Order) > 0 {
		plan = &logical.Sort{Exprs: req.Order, Input: plan}
	}
	plan = &logical.Projection{
		Exprs:        selectExprs,
		Input:        plan,
		OutputSchema: arrow.NewSchema(selectFields, nil),
	}
	if req.Limit != nil {
		plan = &logical.Limit{N: *req.Limit, Input: plan}
	}

	selectedRowID := len(req.Columns) > 0 && rewrite.ProjectionHasRowID(selectExprs)
	plan = rewrite.Finalize(plan, selectedRowID)

	outSchema := plan.Schema()
	columns := make([]string, 0, outSchema.NumFields())
	for _, f := range outSchema.Fields() {
		columns = append(columns, f.Name)
	}

	return &prepared{
		tp:         tp,
		plan:       plan,
		projection: projection,
		filters:    req.Filters,
		scanLimit:  scanLimit,
		columns:    columns,
	}, nil
}

func (s *Session) open(ctx context.Context, p *prepared, req ScanRequest) (*reader.Reader, error) {
	batchSize := req.BatchSize
	if batchSize < 1 {
		batchSize = s.batchSize
	}
	if kt, ok := p.tp.(*provider.KVTable); ok && len(req.Order) > 0 {
		return kt.ScanOrdered(ctx, p.projection, batchSize, p.filters, req.Order)
	}
	return p.tp.Scan(ctx, p.projection, batchSize, p.filters, p.scanLimit)
}

// Scan runs req and returns the visible columns of every matching row, in the
// requested order.
func (s *Session) Scan(ctx context.Context, req ScanRequest) (*Result, error) {
	logger := zerolog.Ctx(ctx)

	p, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	r, err := s.open(ctx, p, req)
	if err != nil {
		return nil, err
	}
	defer r.Release()

	// Rows must all be seen before sorting unless the scan already walks
	// them in order
	needSort := len(req.Order) > 0 && r.Plan().Order != planner.Ascending
	res := &Result{
		Strategy: r.Plan().Strategy.String(),
		Plan:     r.Plan().String(),
		Columns:  p.columns,
		Rows:     make([]map[string]any, 0),
	}
	matched := make([]map[string]any, 0)
	for r.Next() {
		rows, err := convert.RecordToRows(r.Record())
		if err != nil {
			return nil, fmt.Errorf("error in convert.RecordToRows: %w", err)
		}
		for _, row := range rows {
			ok, err := matchesAll(p.filters, row)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			matched = append(matched, row)
			if !needSort && req.Limit != nil && len(matched) >= *req.Limit {
				logger.Debug().Int("limit", *req.Limit).Msg("limit reached")
				break
			}
		}
		if !needSort && req.Limit != nil && len(matched) >= *req.Limit {
			break
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}

	if needSort {
		if err := sortRows(matched, req.Order); err != nil {
			return nil, err
		}
	}
	if req.Limit != nil && len(matched) > *req.Limit {
		matched = matched[:*req.Limit]
	}
	for _, row := range matched {
		res.Rows = append(res.Rows, visible(row, p.columns))
	}
	return res, nil
}

// sortRows orders rows by column sort expressions, nulls first.
func sortRows(rows []map[string]any, order []logical.SortExpr) error {
	var sortErr error
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range order {
			col, ok := o.Expr.(logical.Column)
			if !ok {
				sortErr = fmt.Errorf("%w: sort by %s", ErrUnsupportedExpr, o.Expr)
				return false
			}
			a, b := rows[i][col.Name], rows[j][col.Name]
			c := 0
			switch {
			case a == nil && b == nil:
			case a == nil:
				c = -1
			case b == nil:
				c = 1
			default:
				var err error
				c, err = compareValues(a, b)
				if err != nil {
					sortErr = err
					return false
				}
			}
			if !o.Asc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	return sortErr
}

// Explain plans req without reading any row.
func (s *Session) Explain(ctx context.Context, req ScanRequest, verbose bool) (*logical.Explain, error) {
	p, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	r, err := s.open(ctx, p, req)
	if err != nil {
		return nil, err
	}
	defer r.Release()

	plans := []string{logical.Format(p.plan)}
	if verbose {
		plans = append(plans, r.Plan().String())
	}
	return &logical.Explain{
		Verbose:          verbose,
		Plan:             p.plan,
		StringifiedPlans: plans,
		OutputSchema: arrow.NewSchema([]arrow.Field{
			{Name: "plan", Type: arrow.BinaryTypes.String},
		}, nil),
	}, nil
}

func matchesAll(filters []logical.Expr, row map[string]any) (bool, error) {
	for _, f := range filters {
		ok, err := matches(f, row)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func visible(row map[string]any, columns []string) map[string]any {
	out := make(map[string]any, len(columns))
	for _, c := range columns {
		out[c] = row[c]
	}
	return out
}
