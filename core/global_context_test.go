package core

import (
	"context"
	"testing"

	"github.com/danthegoodman1/kvsql/datastore"
	"github.com/danthegoodman1/kvsql/metastore"
	"github.com/danthegoodman1/kvsql/table"
)

type countingMetaStore struct {
	metastore.MetaStore
	calls int
}

func (c *countingMetaStore) GetColumnOrdinals(ctx context.Context, tableName string) (map[string]uint32, error) {
	c.calls++
	return c.MetaStore.GetColumnOrdinals(ctx, tableName)
}

func newTestContext(t *testing.T) (*GlobalContext, *countingMetaStore) {
	t.Helper()
	ds, err := datastore.NewPebbleDataStore("core", true)
	if err != nil {
		t.Fatal(err)
	}
	ms := &countingMetaStore{MetaStore: metastore.NewKVMetaStore(ds)}
	_, err = ms.CreateTableSchema(context.Background(), table.TableDef{
		Name: "t",
		Columns: []table.ColumnDef{
			{Name: "a", Type: table.TypeUtf8, Nullable: true},
			{Name: "b", Type: table.TypeInt64, Nullable: true},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	gc, err := NewGlobalContext(ds, ms, 16)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		gc.Shutdown(context.Background())
	})
	return gc, ms
}

func TestColumnOrdinal(t *testing.T) {
	ctx := context.Background()
	gc, ms := newTestContext(t)

	ord, found, err := gc.ColumnOrdinal(ctx, "t", "b")
	if err != nil {
		t.Fatal(err)
	}
	if !found || ord != 2 {
		t.Fatalf("expected ordinal 2, got %d (found %v)", ord, found)
	}

	ord, found, err = gc.ColumnOrdinal(ctx, "t", table.RowIDColumn)
	if err != nil {
		t.Fatal(err)
	}
	if !found || ord != table.RowIDOrdinal {
		t.Fatalf("expected rowid ordinal, got %d (found %v)", ord, found)
	}
	if ms.calls != 1 {
		t.Fatalf("expected one metastore call, got %d", ms.calls)
	}

	gc.InvalidateTable("t")
	if _, _, err = gc.ColumnOrdinal(ctx, "t", "a"); err != nil {
		t.Fatal(err)
	}
	if ms.calls != 2 {
		t.Fatalf("expected a reload after invalidation, got %d calls", ms.calls)
	}
}

func TestColumnOrdinalMissing(t *testing.T) {
	ctx := context.Background()
	gc, _ := newTestContext(t)

	_, found, err := gc.ColumnOrdinal(ctx, "t", "nope")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected no ordinal for an unknown column")
	}

	if _, _, err = gc.ColumnOrdinal(ctx, "missing", "a"); err == nil {
		t.Fatal("expected an error for an unknown table")
	}
}
