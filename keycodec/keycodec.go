// Package keycodec builds the persisted byte keys for records, index entries
// and metadata.
//
// Every component is prefix free and order preserving:
//
//	string(s)     = s with 0x00 escaped as 0x00 0xFF, then 0x00 0x01
//	ordinal(n)    = 4 byte big endian
//	record key    = 'r' string(table) ordinal(n) rowid
//	index key     = 'i' string(table) string(index) value(v1)...value(vk) rowid
//	meta key      = 'm' string(kind) string(name)
//
// so byte order is (table, ordinal, rowid) order for records and
// (table, index, values, rowid) order for index entries. Changing any of this
// makes existing stores unreadable.
package keycodec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	recordTag = 'r'
	indexTag  = 'i'
	metaTag   = 'm'

	escape     byte = 0x00
	escaped00  byte = 0xff
	terminator byte = 0x01

	valueNull   byte = 0x01
	valueInt    byte = 0x02
	valueString byte = 0x03
)

var ErrUnsupportedValue = errors.New("unsupported index value")

func appendString(b []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		if s[i] == escape {
			b = append(b, escape, escaped00)
			continue
		}
		b = append(b, s[i])
	}
	return append(b, escape, terminator)
}

func appendOrdinal(b []byte, ordinal uint32) []byte {
	return binary.BigEndian.AppendUint32(b, ordinal)
}

// RecordPrefix covers every record key of table.
func RecordPrefix(table string) []byte {
	return appendString([]byte{recordTag}, table)
}

// RecordColumnPrefix covers every record key of one column of table.
func RecordColumnPrefix(table string, ordinal uint32) []byte {
	return appendOrdinal(RecordPrefix(table), ordinal)
}

// RecordKey is the key under which a single column value of a row lives.
func RecordKey(table string, ordinal uint32, rowid string) []byte {
	return append(RecordColumnPrefix(table, ordinal), rowid...)
}

// IndexPrefix covers every entry of one index.
func IndexPrefix(table, index string) []byte {
	return appendString(appendString([]byte{indexTag}, table), index)
}

// IndexValuesPrefix covers the entries whose leading indexed columns equal
// values.
func IndexValuesPrefix(table, index string, values []any) ([]byte, error) {
	b := IndexPrefix(table, index)
	for i, v := range values {
		var err error
		b, err = AppendIndexValue(b, v)
		if err != nil {
			return nil, fmt.Errorf("index %s value %d: %w", index, i, err)
		}
	}
	return b, nil
}

// IndexKey is the key of one index entry. The entry's value is the rowid.
func IndexKey(table, index string, values []any, rowid string) ([]byte, error) {
	b, err := IndexValuesPrefix(table, index, values)
	if err != nil {
		return nil, err
	}
	return append(b, rowid...), nil
}

// AppendIndexValue appends the order preserving encoding of v. Integers of any
// width share one encoding so an int32 column compares against int64 literals.
func AppendIndexValue(b []byte, v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return append(b, valueNull), nil
	case int:
		return appendInt(b, int64(val)), nil
	case int32:
		return appendInt(b, int64(val)), nil
	case int64:
		return appendInt(b, val), nil
	case string:
		return appendString(append(b, valueString), val), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

func appendInt(b []byte, v int64) []byte {
	b = append(b, valueInt)
	return binary.BigEndian.AppendUint64(b, uint64(v)^(1<<63))
}

// MetaKey addresses a metastore document of the given kind.
func MetaKey(kind, name string) []byte {
	return appendString(appendString([]byte{metaTag}, kind), name)
}

// MetaKindPrefix covers every metastore document of kind.
func MetaKindPrefix(kind string) []byte {
	return appendString([]byte{metaTag}, kind)
}

// PrefixEnd returns the smallest key greater than every key with the given
// prefix, or nil when there is none (prefix is all 0xff).
func PrefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
