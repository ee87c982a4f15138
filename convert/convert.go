// Package convert turns arrow records into plain Go rows for JSON and parquet
// output.
package convert

import (
	"errors"
	"fmt"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
)

var ErrUnsupportedType = errors.New("unsupported arrow type")

// RecordToRows returns one map per row keyed by field name. Nulls are nil.
func RecordToRows(rec arrow.Record) ([]map[string]any, error) {
	rows := make([]map[string]any, rec.NumRows())
	for i := range rows {
		rows[i] = make(map[string]any, rec.NumCols())
	}

	for c, col := range rec.Columns() {
		name := rec.ColumnName(c)
		for i := range rows {
			v, err := Value(col, i)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", name, err)
			}
			rows[i][name] = v
		}
	}
	return rows, nil
}

// Value returns the Go value at row i of col.
func Value(col arrow.Array, i int) (any, error) {
	if col.IsNull(i) {
		return nil, nil
	}
	switch c := col.(type) {
	case *array.String:
		return c.Value(i), nil
	case *array.Int32:
		return c.Value(i), nil
	case *array.Int64:
		return c.Value(i), nil
	case *array.Float64:
		return c.Value(i), nil
	case *array.Boolean:
		return c.Value(i), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, col.DataType())
	}
}
