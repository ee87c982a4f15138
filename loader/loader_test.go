package loader

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"

	"github.com/danthegoodman1/kvsql/core"
	"github.com/danthegoodman1/kvsql/datastore"
	"github.com/danthegoodman1/kvsql/keycodec"
	"github.com/danthegoodman1/kvsql/metastore"
	"github.com/danthegoodman1/kvsql/table"
)

func newTestLoader(t *testing.T) (*Loader, *core.GlobalContext) {
	t.Helper()
	ds, err := datastore.NewPebbleDataStore("loader", true)
	if err != nil {
		t.Fatal(err)
	}
	ms := metastore.NewKVMetaStore(ds)
	_, err = ms.CreateTableSchema(context.Background(), table.TableDef{
		Name: "t",
		Columns: []table.ColumnDef{
			{Name: "a", Type: table.TypeUtf8, Nullable: true},
			{Name: "b", Type: table.TypeInt32},
		},
		Indexes: []table.IndexDef{{Name: "idx_a_b", Columns: []string{"a", "b"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	gc, err := core.NewGlobalContext(ds, ms, 8)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		gc.Shutdown(context.Background())
	})
	return New(gc), gc
}

func TestPutRows(t *testing.T) {
	ctx := context.Background()
	l, gc := newTestLoader(t)

	rowids, err := l.PutRows(ctx, "t", []table.Row{
		{ColNames: []string{"a", "b"}, ColVals: []any{"x", 1}},
		{ColNames: []string{"b"}, ColVals: []any{float64(2)}},
		{ColNames: []string{"a", "b"}, ColVals: []any{nil, int32(-3)}},
		{ColNames: []string{"b"}, ColVals: []any{json.Number("40")}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rowids) != 4 {
		t.Fatalf("expected 4 rowids, got %d", len(rowids))
	}
	if !sort.StringsAreSorted(rowids) {
		t.Fatalf("expected rowids in row order, got %v", rowids)
	}

	store := gc.Store()
	v, found, err := store.Get(ctx, keycodec.RecordKey("t", table.RowIDOrdinal, rowids[0]))
	if err != nil || !found || string(v) != rowids[0] {
		t.Fatalf("expected the rowid record, got %q %v %v", v, found, err)
	}
	v, found, err = store.Get(ctx, keycodec.RecordKey("t", 2, rowids[1]))
	if err != nil || !found || string(v) != "2" {
		t.Fatalf("expected b stored as decimal text, got %q %v %v", v, found, err)
	}
	if _, found, _ = store.Get(ctx, keycodec.RecordKey("t", 1, rowids[2])); found {
		t.Fatal("expected no record for a null value")
	}

	key, err := keycodec.IndexKey("t", "idx_a_b", []any{nil, int64(-3)}, rowids[2])
	if err != nil {
		t.Fatal(err)
	}
	v, found, err = store.Get(ctx, key)
	if err != nil || !found || string(v) != rowids[2] {
		t.Fatalf("expected an index entry pointing at the row, got %q %v %v", v, found, err)
	}
	v, found, err = store.Get(ctx, keycodec.RecordKey("t", 2, rowids[3]))
	if err != nil || !found || string(v) != "40" {
		t.Fatalf("expected a json.Number stored as decimal text, got %q %v %v", v, found, err)
	}
}

func TestPutRowsRejects(t *testing.T) {
	ctx := context.Background()
	l, gc := newTestLoader(t)

	cases := []struct {
		row      table.Row
		expected error
	}{
		{table.Row{ColNames: []string{"a"}, ColVals: []any{"x"}}, ErrNullValue},
		{table.Row{ColNames: []string{"b", "zz"}, ColVals: []any{1, 1}}, ErrUnknownColumn},
		{table.Row{ColNames: []string{"b", table.RowIDColumn}, ColVals: []any{1, "r"}}, ErrUnknownColumn},
		{table.Row{ColNames: []string{"b"}, ColVals: []any{"one"}}, ErrTypeMismatch},
		{table.Row{ColNames: []string{"b"}, ColVals: []any{1.5}}, ErrTypeMismatch},
		{table.Row{ColNames: []string{"b"}, ColVals: []any{int64(1) << 40}}, ErrTypeMismatch},
		{table.Row{ColNames: []string{"a", "b"}, ColVals: []any{7, 1}}, ErrTypeMismatch},
		{table.Row{ColNames: []string{"b"}, ColVals: []any{json.Number("1.5")}}, ErrTypeMismatch},
	}
	for _, c := range cases {
		good := table.Row{ColNames: []string{"b"}, ColVals: []any{1}}
		_, err := l.PutRows(ctx, "t", []table.Row{good, c.row})
		if !errors.Is(err, c.expected) {
			t.Fatalf("%v: expected %v, got %v", c.row, c.expected, err)
		}
	}

	// nothing from the failed calls was written
	prefix := keycodec.RecordPrefix("t")
	iter, err := gc.Store().NewIterator(ctx, prefix, keycodec.PrefixEnd(prefix))
	if err != nil {
		t.Fatal(err)
	}
	defer iter.Close()
	if iter.SeekGE(prefix) {
		t.Fatalf("expected no records, found %q", iter.Key())
	}

	if _, err := l.PutRows(ctx, "missing", nil); !errors.Is(err, metastore.ErrTableNotFound) {
		t.Fatalf("expected table not found, got %v", err)
	}
}
