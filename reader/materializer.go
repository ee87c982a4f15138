package reader

import (
	"context"
	"errors"
	"strconv"
	"unicode/utf8"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/danthegoodman1/kvsql/core"
	"github.com/danthegoodman1/kvsql/keycodec"
	"github.com/danthegoodman1/kvsql/scanerr"
	"github.com/danthegoodman1/kvsql/table"
	"github.com/rs/zerolog"
)

var (
	ErrUnsupportedType = errors.New("unsupported data type")
	ErrInvalidUTF8     = errors.New("value is not valid utf8")
)

// materializer fills one record per batch of rowids: every projected column
// is looked up by point reads, in rowid order.
type materializer struct {
	gc     *core.GlobalContext
	table  string
	schema *arrow.Schema
	mem    memory.Allocator
}

// Readable reports whether stored values of dt can be decoded.
func Readable(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.STRING, arrow.INT32, arrow.INT64:
		return true
	default:
		return false
	}
}

func (m *materializer) materialize(ctx context.Context, rowids []string) (arrow.Record, error) {
	rb := array.NewRecordBuilder(m.mem, m.schema)
	defer rb.Release()
	rb.Reserve(len(rowids))

	for i, field := range m.schema.Fields() {
		if field.Name == table.RowIDColumn {
			b := rb.Field(i).(*array.StringBuilder)
			for _, rowid := range rowids {
				b.Append(rowid)
			}
			continue
		}
		if err := m.fillColumn(ctx, rb.Field(i), field, rowids); err != nil {
			return nil, err
		}
	}

	return rb.NewRecord(), nil
}

func (m *materializer) fillColumn(ctx context.Context, b array.Builder, field arrow.Field, rowids []string) error {
	logger := zerolog.Ctx(ctx)

	// Checked before any lookup, so the outcome does not depend on which
	// values happen to be present
	if !Readable(field.Type) {
		return scanerr.Decode(field.Name, nil, field.Type.String(), nil, ErrUnsupportedType)
	}

	ordinal, found, err := m.gc.ColumnOrdinal(ctx, m.table, field.Name)
	if err != nil {
		return scanerr.IO("ordinal", nil, err)
	}
	if !found {
		return scanerr.Schema(m.table, field.Name, nil)
	}

	store := m.gc.Store()
	for _, rowid := range rowids {
		key := keycodec.RecordKey(m.table, ordinal, rowid)
		value, found, err := store.Get(ctx, key)
		if err != nil {
			return scanerr.IO("get", key, err)
		}
		if !found {
			b.AppendNull()
			continue
		}
		logger.Debug().Bytes("key", key).Bytes("value", value).Msg("column value")

		if err := appendValue(b, field, key, value); err != nil {
			return err
		}
	}
	return nil
}

func appendValue(b array.Builder, field arrow.Field, key, value []byte) error {
	switch tb := b.(type) {
	case *array.StringBuilder:
		if !utf8.Valid(value) {
			return scanerr.Decode(field.Name, key, field.Type.String(), value, ErrInvalidUTF8)
		}
		tb.Append(string(value))
	case *array.Int32Builder:
		v, err := strconv.ParseInt(string(value), 10, 32)
		if err != nil {
			return scanerr.Decode(field.Name, key, field.Type.String(), value, err)
		}
		tb.Append(int32(v))
	case *array.Int64Builder:
		v, err := strconv.ParseInt(string(value), 10, 64)
		if err != nil {
			return scanerr.Decode(field.Name, key, field.Type.String(), value, err)
		}
		tb.Append(v)
	default:
		return scanerr.Decode(field.Name, key, field.Type.String(), value, ErrUnsupportedType)
	}
	return nil
}
