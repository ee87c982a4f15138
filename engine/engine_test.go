package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/danthegoodman1/kvsql/core"
	"github.com/danthegoodman1/kvsql/datastore"
	"github.com/danthegoodman1/kvsql/metastore"
	"github.com/danthegoodman1/kvsql/provider"
	"github.com/danthegoodman1/kvsql/scanerr"
	"github.com/danthegoodman1/kvsql/table"
)

func TestEngine(t *testing.T) {
	ctx := context.Background()
	ds, err := datastore.NewPebbleDataStore("engine", true)
	if err != nil {
		t.Fatal(err)
	}
	ms := metastore.NewKVMetaStore(ds)
	gc, err := core.NewGlobalContext(ds, ms, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer gc.Shutdown(ctx)

	if _, err := New(ctx, gc, "t"); err == nil {
		t.Fatal("expected an error for a missing table")
	}

	_, err = ms.CreateTableSchema(ctx, table.TableDef{
		Name:    "t",
		Columns: []table.ColumnDef{{Name: "a", Type: table.TypeUtf8, Nullable: true}},
	})
	if err != nil {
		t.Fatal(err)
	}
	e, err := New(ctx, gc, "t")
	if err != nil {
		t.Fatal(err)
	}

	tp := e.TableProvider()
	if tp.Schema().NumFields() != 2 || tp.Schema().Field(0).Name != table.RowIDColumn {
		t.Fatalf("unexpected schema %s", tp.Schema())
	}
	if tp.SupportsFilterPushdown(nil) != provider.Inexact {
		t.Fatal("expected inexact pushdown")
	}
	scan, err := tp.LogicalScan([]int{1}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if scan.TableName != "t" || scan.ProjectedSchema.NumFields() != 1 || scan.ProjectedSchema.Field(0).Name != "a" {
		t.Fatalf("unexpected scan node %+v", scan)
	}
	if _, err := tp.LogicalScan([]int{5}, nil, nil); !errors.Is(err, scanerr.ErrPlanning) {
		t.Fatalf("expected a planning error, got %v", err)
	}

	n, err := e.Insert(ctx, []string{"a"}, [][]any{{"x"}})
	if err != nil || n != 0 {
		t.Fatalf("expected insert to affect nothing, got %d %v", n, err)
	}
	if n, err = e.AddRows(ctx, nil, nil); err != nil || n != 0 {
		t.Fatalf("expected add rows to affect nothing, got %d %v", n, err)
	}
	if n, err = e.Delete(ctx, []string{"r1"}); err != nil || n != 0 {
		t.Fatalf("expected delete to affect nothing, got %d %v", n, err)
	}
}
