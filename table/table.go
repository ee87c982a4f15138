package table

import (
	"errors"
	"fmt"
	"sort"

	"github.com/apache/arrow/go/v14/arrow"
)

// RowIDColumn is the implicit per-row identifier every table carries. It is
// stored like any other column, at ordinal RowIDOrdinal, with the rowid itself
// as the value.
const (
	RowIDColumn  = "rowid"
	RowIDOrdinal = 0
)

type (
	ColumnType string

	ColumnDef struct {
		Name     string     `json:"name" validate:"required"`
		Type     ColumnType `json:"type" validate:"required"`
		Nullable bool       `json:"nullable"`
	}

	IndexDef struct {
		Name string `json:"name" validate:"required"`
		// Columns are the indexed columns, leading column first
		Columns []string `json:"columns" validate:"required,min=1"`
	}

	TableDef struct {
		ID      string      `json:"id"`
		Name    string      `json:"name" validate:"required"`
		Columns []ColumnDef `json:"columns" validate:"required,min=1,dive"`
		Indexes []IndexDef  `json:"indexes" validate:"dive"`
	}

	Row struct {
		// The list of column names, same order as ColVals
		ColNames []string
		// The list of column values, same order as ColNames. nil is NULL.
		ColVals []any
	}
)

const (
	TypeUtf8    ColumnType = "utf8"
	TypeInt32   ColumnType = "int32"
	TypeInt64   ColumnType = "int64"
	TypeFloat64 ColumnType = "float64"
	TypeBool    ColumnType = "bool"
)

var (
	ErrUnknownType     = errors.New("unknown column type")
	ErrDuplicateColumn = errors.New("duplicate column")
	ErrReservedColumn  = errors.New("reserved column name")
	ErrUnknownColumn   = errors.New("unknown column")
	ErrDuplicateIndex  = errors.New("duplicate index")
	ErrEmptyIndex      = errors.New("index has no columns")
	ErrUnindexableType = errors.New("column type cannot be indexed")
)

// ArrowType maps a declared column type onto its arrow type. Declaring a type
// does not mean it can be read back; see reader for what decodes.
func (ct ColumnType) ArrowType() (arrow.DataType, error) {
	switch ct {
	case TypeUtf8:
		return arrow.BinaryTypes.String, nil
	case TypeInt32:
		return arrow.PrimitiveTypes.Int32, nil
	case TypeInt64:
		return arrow.PrimitiveTypes.Int64, nil
	case TypeFloat64:
		return arrow.PrimitiveTypes.Float64, nil
	case TypeBool:
		return arrow.FixedWidthTypes.Boolean, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, ct)
	}
}

// Indexable reports whether values of the type have an index key encoding.
func (ct ColumnType) Indexable() bool {
	return ct == TypeUtf8 || ct == TypeInt32 || ct == TypeInt64
}

// Validate checks names and types. It does not look at the rowid column, which
// callers may not declare.
func (td *TableDef) Validate() error {
	seen := make(map[string]ColumnType, len(td.Columns))
	for _, col := range td.Columns {
		if col.Name == RowIDColumn {
			return fmt.Errorf("%w: %s", ErrReservedColumn, col.Name)
		}
		if _, exists := seen[col.Name]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateColumn, col.Name)
		}
		if _, err := col.Type.ArrowType(); err != nil {
			return fmt.Errorf("column %s: %w", col.Name, err)
		}
		seen[col.Name] = col.Type
	}

	indexes := make(map[string]struct{}, len(td.Indexes))
	for _, idx := range td.Indexes {
		if _, exists := indexes[idx.Name]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateIndex, idx.Name)
		}
		if len(idx.Columns) == 0 {
			return fmt.Errorf("%w: %s", ErrEmptyIndex, idx.Name)
		}
		for _, c := range idx.Columns {
			ct, exists := seen[c]
			if !exists {
				return fmt.Errorf("index %s: %w: %s", idx.Name, ErrUnknownColumn, c)
			}
			if !ct.Indexable() {
				return fmt.Errorf("index %s: %w: %s %s", idx.Name, ErrUnindexableType, c, ct)
			}
		}
		indexes[idx.Name] = struct{}{}
	}
	return nil
}

// AllColumns returns the rowid column followed by the declared columns. The
// position of a column in this slice is its ordinal.
func (td *TableDef) AllColumns() []ColumnDef {
	cols := make([]ColumnDef, 0, len(td.Columns)+1)
	cols = append(cols, ColumnDef{Name: RowIDColumn, Type: TypeUtf8})
	return append(cols, td.Columns...)
}

// Column looks up a column by name, rowid included.
func (td *TableDef) Column(name string) (ColumnDef, bool) {
	if name == RowIDColumn {
		return ColumnDef{Name: RowIDColumn, Type: TypeUtf8}, true
	}
	for _, col := range td.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return ColumnDef{}, false
}

func (td *TableDef) Index(name string) (IndexDef, bool) {
	for _, idx := range td.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexDef{}, false
}

// Schema is the arrow schema of the table as the query engine sees it,
// rowid first.
func (td *TableDef) Schema() (*arrow.Schema, error) {
	cols := td.AllColumns()
	fields := make([]arrow.Field, 0, len(cols))
	for _, col := range cols {
		dt, err := col.Type.ArrowType()
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		fields = append(fields, arrow.Field{Name: col.Name, Type: dt, Nullable: col.Nullable})
	}
	return arrow.NewSchema(fields, nil), nil
}

// Get returns the value for column name, and whether the row has it at all.
func (r Row) Get(name string) (any, bool) {
	for i, n := range r.ColNames {
		if n == name {
			return r.ColVals[i], true
		}
	}
	return nil, false
}

// RowFromMap builds a Row with columns in sorted order for determinism.
func RowFromMap(m map[string]any) Row {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	r := Row{ColNames: names, ColVals: make([]any, len(names))}
	for i, n := range names {
		r.ColVals[i] = m[n]
	}
	return r
}
