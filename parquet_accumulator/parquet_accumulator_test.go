package parquet_accumulator

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/danthegoodman1/kvsql/table"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

var testDef = table.TableDef{
	Name: "t",
	Columns: []table.ColumnDef{
		{Name: "colA", Type: table.TypeUtf8, Nullable: true},
		{Name: "colB", Type: table.TypeInt64},
	},
}

func TestGetSchemaString(t *testing.T) {
	a, err := FromTableDef(testDef, false)
	if err != nil {
		t.Fatal(err)
	}
	schemaString, err := a.GetSchemaString()
	if err != nil {
		t.Fatal(err)
	}
	if schemaString != `{"Tag":"name=parquet_go_root, repetitiontype=REQUIRED","Fields":[{"Tag":"type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN, name=colA, repetitiontype=OPTIONAL"},{"Tag":"type=INT64, name=colB, repetitiontype=REQUIRED"}]}` {
		t.Log(schemaString)
		t.Fatal("got incorrect schema string")
	}

	a, err = FromTableDef(testDef, true)
	if err != nil {
		t.Fatal(err)
	}
	names := a.GetColumnNames()
	if len(names) != 3 || names[0] != table.RowIDColumn {
		t.Fatalf("expected rowid first, got %v", names)
	}
	if types := a.GetColumnTypes(); types[2] != table.TypeInt64 {
		t.Fatalf("unexpected types %v", types)
	}

	if err := a.AddColumn(table.ColumnDef{Name: "colA", Type: table.TypeUtf8}); !errors.Is(err, ErrDuplicateColumn) {
		t.Fatalf("expected a duplicate column error, got %v", err)
	}
	if err := a.AddColumn(table.ColumnDef{Name: "colZ", Type: "decimal"}); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected an unsupported type error, got %v", err)
	}
}

func TestFullCycle(t *testing.T) {
	psa, err := FromTableDef(testDef, false)
	if err != nil {
		t.Fatal(err)
	}
	parquetSchema, err := psa.GetSchemaString()
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "temp.parquet")
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	pw, err := writer.NewJSONWriter(parquetSchema, fw, 4)
	if err != nil {
		t.Fatal(err)
	}
	rows := []map[string]any{
		{"colA": "hey", "colB": int64(1)},
		{"colB": int64(2)},
	}
	for _, row := range rows {
		b, err := json.Marshal(row)
		if err != nil {
			t.Fatal(err)
		}
		if err := pw.Write(string(b)); err != nil {
			t.Fatal(err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		t.Fatal(err)
	}
	if err := fw.Close(); err != nil {
		t.Fatal(err)
	}

	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, parquetSchema, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer pr.ReadStop()

	num := int(pr.GetNumRows())
	if num != 2 {
		t.Fatalf("expected 2 rows, got %d", num)
	}
	res, err := pr.ReadByNumber(num)
	if err != nil {
		t.Fatal(err)
	}
	first := psa.StructToRow(res[0])
	if first["colA"] != "hey" || first["colB"] != int64(1) {
		t.Fatalf("unexpected first row %+v", first)
	}
	second := psa.StructToRow(res[1])
	if _, ok := second["colA"]; ok || second["colB"] != int64(2) {
		t.Fatalf("unexpected second row %+v", second)
	}
}
