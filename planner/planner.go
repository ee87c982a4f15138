// Package planner picks the key range a table scan reads: nothing at all, the
// whole table, or a slice of one secondary index.
package planner

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/danthegoodman1/kvsql/keycodec"
	"github.com/danthegoodman1/kvsql/logical"
	"github.com/danthegoodman1/kvsql/scanerr"
	"github.com/danthegoodman1/kvsql/table"
	"github.com/rs/zerolog"
)

type (
	Strategy int

	ScanOrder int

	// ScanPlan is the outcome of planning one scan. Space is the prefix of the
	// whole key space the scan walks: the rowid column's records for a full
	// table scan, the index for an index scan. Start and End bound the walk
	// inside it.
	ScanPlan struct {
		Table     string
		Strategy  Strategy
		IndexName string
		Order     ScanOrder
		Space     []byte
		Start     keycodec.ScanKey
		End       keycodec.ScanKey
	}
)

const (
	NoRecord Strategy = iota
	FullTableScan
	UsingTheIndex
)

const (
	Unordered ScanOrder = iota
	Ascending
)

var (
	ErrUnknownColumn   = errors.New("unknown column")
	ErrLiteralMismatch = errors.New("literal does not match column type")
)

func (s Strategy) String() string {
	switch s {
	case NoRecord:
		return "no_record"
	case FullTableScan:
		return "full_table_scan"
	case UsingTheIndex:
		return "using_the_index"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

func (o ScanOrder) String() string {
	if o == Ascending {
		return "ascending"
	}
	return "unordered"
}

func (sp ScanPlan) String() string {
	switch sp.Strategy {
	case NoRecord:
		return fmt.Sprintf("%s: no_record", sp.Table)
	case UsingTheIndex:
		return fmt.Sprintf("%s: using_the_index %s order=%s start=[%s] end=[%s]", sp.Table, sp.IndexName, sp.Order, sp.Start, sp.End)
	default:
		return fmt.Sprintf("%s: %s start=[%s] end=[%s]", sp.Table, sp.Strategy, sp.Start, sp.End)
	}
}

// PlanScan chooses how to scan def given the pushed down filters and the
// requested output order. Filters are treated as inexact: terms it cannot use
// are ignored, the engine re-applies every filter on the output. It never
// touches the store.
func PlanScan(ctx context.Context, def table.TableDef, filters []logical.Expr, order []logical.SortExpr) (ScanPlan, error) {
	logger := zerolog.Ctx(ctx)

	// An index over an unknown column is unusable no matter the filters
	for _, idx := range def.Indexes {
		for _, c := range idx.Columns {
			if _, ok := def.Column(c); !ok {
				return ScanPlan{}, scanerr.Planning(def.Name, c, idx.Name, ErrUnknownColumn)
			}
		}
	}

	constraints, empty, err := collectConstraints(def, filters)
	if err != nil {
		return ScanPlan{}, err
	}
	if empty {
		logger.Debug().Str("table", def.Name).Msg("filters admit no rows")
		return ScanPlan{Table: def.Name, Strategy: NoRecord}, nil
	}

	idx, eqCount, ranged := pickIndex(def, constraints)
	if idx == nil {
		space := keycodec.RecordColumnPrefix(def.Name, table.RowIDOrdinal)
		plan := ScanPlan{
			Table:    def.Name,
			Strategy: FullTableScan,
			Space:    space,
			Start:    keycodec.NewScanKey(space, keycodec.Closed),
			End:      keycodec.NewScanKey(space, keycodec.Closed),
		}
		logger.Debug().Str("plan", plan.String()).Msg("planned scan")
		return plan, nil
	}

	eqValues := make([]any, eqCount)
	for i, c := range idx.Columns[:eqCount] {
		eqValues[i] = constraints[c].eq
	}
	prefix, err := keycodec.IndexValuesPrefix(def.Name, idx.Name, eqValues)
	if err != nil {
		return ScanPlan{}, scanerr.Planning(def.Name, "", idx.Name, err)
	}

	start := keycodec.NewScanKey(prefix, keycodec.Closed)
	end := keycodec.NewScanKey(prefix, keycodec.Closed)
	if ranged {
		rangeCol := idx.Columns[eqCount]
		cc := constraints[rangeCol]
		if cc.lower != nil {
			start, err = boundKey(prefix, cc.lower)
			if err != nil {
				return ScanPlan{}, scanerr.Planning(def.Name, rangeCol, idx.Name, err)
			}
		}
		if cc.upper != nil {
			end, err = boundKey(prefix, cc.upper)
			if err != nil {
				return ScanPlan{}, scanerr.Planning(def.Name, rangeCol, idx.Name, err)
			}
		}
	}

	plan := ScanPlan{
		Table:     def.Name,
		Strategy:  UsingTheIndex,
		IndexName: idx.Name,
		Order:     indexOrder(*idx, eqCount, constraints, order),
		Space:     keycodec.IndexPrefix(def.Name, idx.Name),
		Start:     start,
		End:       end,
	}
	logger.Debug().Str("plan", plan.String()).Msg("planned scan")
	return plan, nil
}

func boundKey(prefix []byte, b *bound) (keycodec.ScanKey, error) {
	key := make([]byte, len(prefix), len(prefix)+16)
	copy(key, prefix)
	key, err := keycodec.AppendIndexValue(key, b.value)
	if err != nil {
		return keycodec.ScanKey{}, err
	}
	interval := keycodec.Closed
	if !b.inclusive {
		interval = keycodec.Open
	}
	return keycodec.NewScanKey(key, interval), nil
}

// pickIndex returns the index whose leading columns are most constrained: an
// equality prefix plus at most one range column right after it. More
// constrained columns win, ties go to the index declared first. nil means no
// index has a constrained leading column.
func pickIndex(def table.TableDef, constraints map[string]*constraint) (best *table.IndexDef, bestEq int, bestRanged bool) {
	bestScore := 0
	for i := range def.Indexes {
		idx := &def.Indexes[i]
		eq := 0
		for _, c := range idx.Columns {
			cc, ok := constraints[c]
			if !ok || !cc.hasEq {
				break
			}
			eq++
		}
		ranged := false
		if eq < len(idx.Columns) {
			if cc, ok := constraints[idx.Columns[eq]]; ok && cc.hasRange() {
				ranged = true
			}
		}

		score := eq
		if ranged {
			score++
		}
		if score == 0 {
			continue
		}
		if score > bestScore {
			best, bestEq, bestRanged, bestScore = idx, eq, ranged, score
		}
	}
	return
}

// indexOrder reports Ascending when walking idx yields rows in the requested
// order. Columns pinned by equality do not affect the order and are skipped.
func indexOrder(idx table.IndexDef, eqCount int, constraints map[string]*constraint, order []logical.SortExpr) ScanOrder {
	remaining := idx.Columns[eqCount:]
	pos := 0
	for _, se := range order {
		col, ok := se.Expr.(logical.Column)
		if !ok {
			return Unordered
		}
		if cc, ok := constraints[col.Name]; ok && cc.hasEq {
			continue
		}
		if !se.Asc || pos >= len(remaining) || remaining[pos] != col.Name {
			return Unordered
		}
		pos++
	}
	return Ascending
}

// normalize turns a conjunct into column op literal form. ok is false for
// terms the planner does not use.
func normalize(e logical.Expr) (col string, op logical.Operator, lit logical.Literal, ok bool) {
	b, isBinary := e.(logical.BinaryExpr)
	if !isBinary {
		return
	}
	if c, isCol := b.Left.(logical.Column); isCol {
		if l, isLit := b.Right.(logical.Literal); isLit {
			return c.Name, b.Op, l, isComparison(b.Op)
		}
	}
	if l, isLit := b.Left.(logical.Literal); isLit {
		if c, isCol := b.Right.(logical.Column); isCol {
			flipped, canFlip := b.Op.Flip()
			return c.Name, flipped, l, canFlip && isComparison(flipped)
		}
	}
	return
}

func isComparison(op logical.Operator) bool {
	switch op {
	case logical.OpEq, logical.OpLt, logical.OpLtEq, logical.OpGt, logical.OpGtEq:
		return true
	default:
		return false
	}
}

// coerce converts a literal to the representation of the column type, so
// bounds encode the same way stored index values do.
func coerce(ct table.ColumnType, v any) (any, error) {
	switch ct {
	case table.TypeUtf8:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case table.TypeInt32:
		if i, ok := asInt64(v); ok {
			if i < math.MinInt32 || i > math.MaxInt32 {
				return nil, fmt.Errorf("%w: %d overflows int32", ErrLiteralMismatch, i)
			}
			return i, nil
		}
	case table.TypeInt64:
		if i, ok := asInt64(v); ok {
			return i, nil
		}
	case table.TypeFloat64:
		if i, ok := asInt64(v); ok {
			return float64(i), nil
		}
		if f, ok := v.(float64); ok {
			return f, nil
		}
	case table.TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %T for %s", ErrLiteralMismatch, v, ct)
}

func asInt64(v any) (int64, bool) {
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
