// Package parquet_accumulator builds parquet-go JSON schemas for exported
// tables.
package parquet_accumulator

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/danthegoodman1/kvsql/table"
	"github.com/xitongsys/parquet-go/common"
)

type (
	ParquetSchemaAccumulator struct {
		schema ParquetSchema
	}

	ParquetSchema struct {
		TagStructs SchemaTag        `json:"-,omitempty"`
		Fields     []*ParquetSchema `json:",omitempty"`
		// column is the table column this field was built from
		column table.ColumnDef
	}

	ParquetJSONSchema struct {
		Tag    string               `json:",omitempty"`
		Fields []*ParquetJSONSchema `json:",omitempty"`
	}

	SchemaTag struct {
		Name           string         `json:"name,omitempty"`
		Type           string         `json:"type,omitempty"`
		ConvertedType  string         `json:"convertedtype,omitempty"`
		RepetitionType RepetitionType `json:"repetitiontype,omitempty"`
		Encoding       string         `json:"encoding,omitempty"`
	}

	RepetitionType string
)

var (
	Optional RepetitionType = "OPTIONAL"
	Required RepetitionType = "REQUIRED"

	ErrDuplicateColumn = errors.New("duplicate column")
	ErrUnsupportedType = errors.New("unsupported column type for parquet")
)

func NewParquetAccumulator() ParquetSchemaAccumulator {
	return ParquetSchemaAccumulator{
		schema: ParquetSchema{
			TagStructs: SchemaTag{
				Name:           "parquet_go_root",
				RepetitionType: Required,
			},
		},
	}
}

// FromTableDef accumulates every declared column of def, with rowid first
// when includeRowID is set.
func FromTableDef(def table.TableDef, includeRowID bool) (ParquetSchemaAccumulator, error) {
	pa := NewParquetAccumulator()
	cols := def.Columns
	if includeRowID {
		cols = def.AllColumns()
	}
	for _, col := range cols {
		if err := pa.AddColumn(col); err != nil {
			return pa, fmt.Errorf("error adding column %s: %w", col.Name, err)
		}
	}
	return pa, nil
}

func (pa *ParquetSchemaAccumulator) AddColumn(col table.ColumnDef) error {
	if pa.fieldExists(col.Name) {
		return fmt.Errorf("%w: %s", ErrDuplicateColumn, col.Name)
	}
	schema := &ParquetSchema{
		TagStructs: SchemaTag{
			// parquet-go derives the Go field name from this
			Name:           col.Name,
			RepetitionType: Required,
		},
		column: col,
	}
	if col.Nullable {
		schema.TagStructs.RepetitionType = Optional
	}

	switch col.Type {
	case table.TypeUtf8:
		schema.TagStructs.Type = "BYTE_ARRAY"
		schema.TagStructs.ConvertedType = "UTF8"
		schema.TagStructs.Encoding = "PLAIN"
	case table.TypeInt32:
		schema.TagStructs.Type = "INT32"
	case table.TypeInt64:
		schema.TagStructs.Type = "INT64"
	case table.TypeFloat64:
		schema.TagStructs.Type = "DOUBLE"
	case table.TypeBool:
		schema.TagStructs.Type = "BOOLEAN"
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, col.Type)
	}

	pa.schema.Fields = append(pa.schema.Fields, schema)
	return nil
}

func (pa *ParquetSchemaAccumulator) fieldExists(fieldName string) (exists bool) {
	for _, field := range pa.schema.Fields {
		if field.TagStructs.Name == fieldName {
			return true
		}
	}
	return
}

func (pa *ParquetSchemaAccumulator) GetColumnNames() []string {
	var cols []string
	for _, field := range pa.schema.Fields {
		cols = append(cols, field.TagStructs.Name)
	}
	return cols
}

// GetColumnTypes returns the table column types in the same order as
// GetColumnNames
func (pa *ParquetSchemaAccumulator) GetColumnTypes() []table.ColumnType {
	var cols []table.ColumnType
	for _, field := range pa.schema.Fields {
		cols = append(cols, field.column.Type)
	}
	return cols
}

// GoFieldNames maps the struct field names parquet-go reads rows into back
// to column names.
func (pa *ParquetSchemaAccumulator) GoFieldNames() map[string]string {
	names := make(map[string]string, len(pa.schema.Fields))
	for _, field := range pa.schema.Fields {
		names[common.HeadToUpper(field.TagStructs.Name)] = field.TagStructs.Name
	}
	return names
}

// ToParquetJSONSchema recursively converts
func (ps *ParquetSchema) ToParquetJSONSchema() *ParquetJSONSchema {
	var tagArr []string
	if ps.TagStructs.Type != "" {
		tagArr = append(tagArr, "type="+ps.TagStructs.Type)
	}
	if ps.TagStructs.ConvertedType != "" {
		tagArr = append(tagArr, "convertedtype="+ps.TagStructs.ConvertedType)
	}
	if ps.TagStructs.Encoding != "" {
		tagArr = append(tagArr, "encoding="+ps.TagStructs.Encoding)
	}
	if ps.TagStructs.Name != "" {
		tagArr = append(tagArr, "name="+ps.TagStructs.Name)
	}
	if string(ps.TagStructs.RepetitionType) != "" {
		tagArr = append(tagArr, "repetitiontype="+string(ps.TagStructs.RepetitionType))
	}
	var fields []*ParquetJSONSchema
	for _, field := range ps.Fields {
		fields = append(fields, field.ToParquetJSONSchema())
	}
	return &ParquetJSONSchema{
		Tag:    strings.Join(tagArr, ", "),
		Fields: fields,
	}
}

// GetSchemaString returns the JSON formatted schema string
func (pa *ParquetSchemaAccumulator) GetSchemaString() (string, error) {
	var fields []*ParquetJSONSchema
	for _, field := range pa.schema.Fields {
		fields = append(fields, field.ToParquetJSONSchema())
	}
	pjs := ParquetJSONSchema{
		Tag:    "name=parquet_go_root, repetitiontype=REQUIRED",
		Fields: fields,
	}

	b, err := json.Marshal(pjs)
	if err != nil {
		return "", fmt.Errorf("error in json.Marshal: %w", err)
	}
	return string(b), nil
}

// StructToRow converts a row read by parquet-go back into a column map,
// dereferencing optional fields. NULLs are left out.
func (pa *ParquetSchemaAccumulator) StructToRow(item any) map[string]any {
	names := pa.GoFieldNames()
	row := make(map[string]any)
	v := reflect.ValueOf(item)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	typeOf := v.Type()
	for i := 0; i < v.NumField(); i++ {
		name, ok := names[typeOf.Field(i).Name]
		if !ok {
			continue
		}
		f := v.Field(i)
		if f.Kind() == reflect.Ptr {
			if f.IsNil() {
				continue
			}
			f = f.Elem()
		}
		row[name] = f.Interface()
	}
	return row
}
