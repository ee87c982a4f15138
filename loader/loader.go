// Package loader bulk loads rows into a table: one rowid record, one record
// per non-null column and one entry per index, written atomically per call.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/danthegoodman1/kvsql/core"
	"github.com/danthegoodman1/kvsql/keycodec"
	"github.com/danthegoodman1/kvsql/table"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
)

var (
	ErrUnknownColumn = errors.New("unknown column")
	ErrTypeMismatch  = errors.New("value does not match column type")
	ErrNullValue     = errors.New("null value in non-nullable column")
)

type Loader struct {
	gc *core.GlobalContext
}

func New(gc *core.GlobalContext) *Loader {
	return &Loader{gc: gc}
}

// PutRows writes rows into tableName and returns their rowids in row order.
// Rowids of one call sort in row order. Either every row is written or none.
func (l *Loader) PutRows(ctx context.Context, tableName string, rows []table.Row) ([]string, error) {
	zlog := zerolog.Ctx(ctx)

	ts, err := l.gc.MetaStore.GetTableSchema(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("error in MetaStore.GetTableSchema: %w", err)
	}
	def := ts.Def

	b := l.gc.Store().NewWriteBatch()
	defer b.Close()

	rowids := make([]string, 0, len(rows))
	id := ksuid.New()
	for i, row := range rows {
		values, err := encodeRow(def, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}

		rowid := id.String()
		id = id.Next()

		if err := b.Set(keycodec.RecordKey(def.Name, table.RowIDOrdinal, rowid), []byte(rowid)); err != nil {
			return nil, fmt.Errorf("error in batch.Set: %w", err)
		}
		for _, col := range def.Columns {
			v := values[col.Name]
			if v.stored == nil {
				continue
			}
			ordinal, ok := ts.Ordinals[col.Name]
			if !ok {
				return nil, fmt.Errorf("no ordinal for column %s.%s", def.Name, col.Name)
			}
			if err := b.Set(keycodec.RecordKey(def.Name, ordinal, rowid), v.stored); err != nil {
				return nil, fmt.Errorf("error in batch.Set: %w", err)
			}
		}
		for _, idx := range def.Indexes {
			idxValues := make([]any, len(idx.Columns))
			for j, c := range idx.Columns {
				idxValues[j] = values[c].indexed
			}
			key, err := keycodec.IndexKey(def.Name, idx.Name, idxValues, rowid)
			if err != nil {
				return nil, fmt.Errorf("error in keycodec.IndexKey: %w", err)
			}
			if err := b.Set(key, []byte(rowid)); err != nil {
				return nil, fmt.Errorf("error in batch.Set: %w", err)
			}
		}
		rowids = append(rowids, rowid)
	}

	if err := b.Commit(ctx); err != nil {
		return nil, fmt.Errorf("error in batch.Commit: %w", err)
	}
	zlog.Debug().Str("table", tableName).Int("rows", len(rowids)).Msg("put rows")
	return rowids, nil
}

type encodedValue struct {
	// stored is the record value, nil for NULL
	stored []byte
	// indexed is the value as the index key encodes it, nil for NULL
	indexed any
}

func encodeRow(def table.TableDef, row table.Row) (map[string]encodedValue, error) {
	values := make(map[string]encodedValue, len(def.Columns))
	for i, name := range row.ColNames {
		col, ok := def.Column(name)
		if !ok || name == table.RowIDColumn {
			return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, name)
		}
		if row.ColVals[i] == nil {
			continue
		}
		ev, err := encodeValue(col.Type, row.ColVals[i])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		values[name] = ev
	}
	for _, col := range def.Columns {
		if _, ok := values[col.Name]; !ok && !col.Nullable {
			return nil, fmt.Errorf("%w: %s", ErrNullValue, col.Name)
		}
	}
	return values, nil
}

// encodeValue renders v as stored text: decimal for numbers, raw bytes for
// strings. JSON numbers arrive as float64 or json.Number and are accepted for
// integer columns when they are whole.
func encodeValue(ct table.ColumnType, v any) (encodedValue, error) {
	switch ct {
	case table.TypeUtf8:
		if s, ok := v.(string); ok {
			return encodedValue{stored: []byte(s), indexed: s}, nil
		}
	case table.TypeInt32, table.TypeInt64:
		i, ok := toInt64(v)
		if !ok {
			break
		}
		if ct == table.TypeInt32 && (i < math.MinInt32 || i > math.MaxInt32) {
			return encodedValue{}, fmt.Errorf("%w: %d overflows int32", ErrTypeMismatch, i)
		}
		return encodedValue{stored: strconv.AppendInt(nil, i, 10), indexed: i}, nil
	case table.TypeFloat64:
		switch f := v.(type) {
		case json.Number:
			parsed, err := f.Float64()
			if err != nil {
				break
			}
			return encodedValue{stored: strconv.AppendFloat(nil, parsed, 'g', -1, 64)}, nil
		case float64:
			return encodedValue{stored: strconv.AppendFloat(nil, f, 'g', -1, 64)}, nil
		case int:
			return encodedValue{stored: strconv.AppendInt(nil, int64(f), 10)}, nil
		case int64:
			return encodedValue{stored: strconv.AppendInt(nil, f, 10)}, nil
		}
	case table.TypeBool:
		if bv, ok := v.(bool); ok {
			return encodedValue{stored: strconv.AppendBool(nil, bv)}, nil
		}
	}
	return encodedValue{}, fmt.Errorf("%w: %T for %s", ErrTypeMismatch, v, ct)
}

func toInt64(v any) (int64, bool) {
	switch i := v.(type) {
	case int:
		return int64(i), true
	case int32:
		return int64(i), true
	case int64:
		return i, true
	case json.Number:
		parsed, err := i.Int64()
		return parsed, err == nil
	case float64:
		if i != math.Trunc(i) || i < math.MinInt64 || i >= math.MaxInt64 {
			return 0, false
		}
		return int64(i), true
	default:
		return 0, false
	}
}
