package reader

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/danthegoodman1/kvsql/core"
	"github.com/danthegoodman1/kvsql/datastore"
	"github.com/danthegoodman1/kvsql/keycodec"
	"github.com/danthegoodman1/kvsql/loader"
	"github.com/danthegoodman1/kvsql/logical"
	"github.com/danthegoodman1/kvsql/metastore"
	"github.com/danthegoodman1/kvsql/planner"
	"github.com/danthegoodman1/kvsql/scanerr"
	"github.com/danthegoodman1/kvsql/table"
	"golang.org/x/sync/errgroup"
)

var errBoom = errors.New("boom")

func testDef() table.TableDef {
	return table.TableDef{
		Name: "t",
		Columns: []table.ColumnDef{
			{Name: "a", Type: table.TypeUtf8, Nullable: true},
			{Name: "b", Type: table.TypeInt64, Nullable: true},
			{Name: "c", Type: table.TypeInt32, Nullable: true},
			{Name: "f", Type: table.TypeFloat64, Nullable: true},
		},
		Indexes: []table.IndexDef{
			{Name: "idx_a", Columns: []string{"a"}},
			{Name: "idx_b", Columns: []string{"b"}},
		},
	}
}

type harness struct {
	gc     *core.GlobalContext
	loader *loader.Loader
	def    table.TableDef
	schema *arrow.Schema
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	ds, err := datastore.NewPebbleDataStore("reader", true)
	if err != nil {
		t.Fatal(err)
	}
	ms := metastore.NewKVMetaStore(ds)
	ts, err := ms.CreateTableSchema(ctx, testDef())
	if err != nil {
		t.Fatal(err)
	}
	gc, err := core.NewGlobalContext(ds, ms, 64)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		gc.Shutdown(context.Background())
	})
	schema, err := ts.Def.Schema()
	if err != nil {
		t.Fatal(err)
	}
	return &harness{gc: gc, loader: loader.New(gc), def: ts.Def, schema: schema}
}

func (h *harness) load(t *testing.T, rows ...map[string]any) []string {
	t.Helper()
	trows := make([]table.Row, len(rows))
	for i, r := range rows {
		trows[i] = table.RowFromMap(r)
	}
	rowids, err := h.loader.PutRows(context.Background(), h.def.Name, trows)
	if err != nil {
		t.Fatal(err)
	}
	return rowids
}

// project picks fields of the table schema by name.
func (h *harness) project(t *testing.T, names ...string) *arrow.Schema {
	t.Helper()
	fields := make([]arrow.Field, 0, len(names))
	for _, n := range names {
		idx := h.schema.FieldIndices(n)
		if len(idx) == 0 {
			t.Fatalf("no field %s", n)
		}
		fields = append(fields, h.schema.Field(idx[0]))
	}
	return arrow.NewSchema(fields, nil)
}

func (h *harness) plan(t *testing.T, filters ...logical.Expr) planner.ScanPlan {
	t.Helper()
	p, err := planner.PlanScan(context.Background(), h.def, filters, nil)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// readAll drains r and returns the batch sizes and the string form of every
// cell, row by row.
func readAll(t *testing.T, r *Reader) (sizes []int, rows [][]string) {
	t.Helper()
	for r.Next() {
		rec := r.Record()
		sizes = append(sizes, int(rec.NumRows()))
		for i := 0; i < int(rec.NumRows()); i++ {
			row := make([]string, rec.NumCols())
			for j, col := range rec.Columns() {
				row[j] = cell(col, i)
			}
			rows = append(rows, row)
		}
	}
	return sizes, rows
}

func cell(col arrow.Array, i int) string {
	if col.IsNull(i) {
		return "NULL"
	}
	switch c := col.(type) {
	case *array.String:
		return c.Value(i)
	case *array.Int32:
		return fmt.Sprint(c.Value(i))
	case *array.Int64:
		return fmt.Sprint(c.Value(i))
	default:
		return "?"
	}
}

func TestFullScanRoundTrip(t *testing.T) {
	h := newHarness(t)
	rowids := h.load(t,
		map[string]any{"a": "x", "b": int64(1), "c": int32(7)},
		map[string]any{"a": "y"},
		map[string]any{"b": int64(-3), "c": int32(-1)},
		map[string]any{"a": "", "b": int64(1) << 40},
	)

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	r := New(context.Background(), h.gc, h.plan(t), h.project(t, "rowid", "a", "b", "c"), 0, WithAllocator(mem))
	_, rows := readAll(t, r)
	if err := r.Err(); err != nil {
		t.Fatal(err)
	}
	r.Release()

	expected := [][]string{
		{rowids[0], "x", "1", "7"},
		{rowids[1], "y", "NULL", "NULL"},
		{rowids[2], "NULL", "-3", "-1"},
		{rowids[3], "", fmt.Sprint(int64(1) << 40), "NULL"},
	}
	if fmt.Sprint(rows) != fmt.Sprint(expected) {
		t.Fatalf("expected %v, got %v", expected, rows)
	}
}

func TestIndexEqualityScan(t *testing.T) {
	h := newHarness(t)
	rowids := h.load(t,
		map[string]any{"a": "x", "b": int64(1)},
		map[string]any{"a": "y", "b": int64(2)},
		map[string]any{"a": "x", "b": int64(3)},
		map[string]any{"a": "xx", "b": int64(4)},
	)

	p := h.plan(t, logical.Eq(logical.Col("a"), logical.Lit("x")))
	if p.Strategy != planner.UsingTheIndex || p.IndexName != "idx_a" {
		t.Fatalf("expected idx_a, got %s", p)
	}
	r := New(context.Background(), h.gc, p, h.project(t, "rowid", "a", "b"), 10)
	defer r.Release()
	_, rows := readAll(t, r)
	if err := r.Err(); err != nil {
		t.Fatal(err)
	}

	expected := [][]string{{rowids[0], "x", "1"}, {rowids[2], "x", "3"}}
	if fmt.Sprint(rows) != fmt.Sprint(expected) {
		t.Fatalf("expected %v, got %v", expected, rows)
	}
}

func TestIndexRangeScan(t *testing.T) {
	h := newHarness(t)
	// loaded out of order so index order differs from rowid order
	for _, b := range []int64{9, -2, 4, 7, 3, 8, 5, 6, 1, 2} {
		h.load(t, map[string]any{"b": b})
	}
	b := logical.Col("b")

	cases := []struct {
		filters  []logical.Expr
		expected string
	}{
		{[]logical.Expr{logical.Binary(b, logical.OpGt, logical.Lit(int64(3))), logical.Binary(b, logical.OpLtEq, logical.Lit(int64(7)))}, "[[4] [5] [6] [7]]"},
		{[]logical.Expr{logical.Binary(b, logical.OpGtEq, logical.Lit(int64(3))), logical.Binary(b, logical.OpLt, logical.Lit(int64(5)))}, "[[3] [4]]"},
		{[]logical.Expr{logical.Binary(b, logical.OpLt, logical.Lit(int64(2)))}, "[[-2] [1]]"},
		{[]logical.Expr{logical.Binary(b, logical.OpGt, logical.Lit(int64(8)))}, "[[9]]"},
		{[]logical.Expr{logical.Eq(b, logical.Lit(int64(100)))}, "[]"},
	}
	for _, c := range cases {
		r := New(context.Background(), h.gc, h.plan(t, c.filters...), h.project(t, "b"), 3)
		_, rows := readAll(t, r)
		if err := r.Err(); err != nil {
			t.Fatal(err)
		}
		r.Release()
		if fmt.Sprint(rows) != c.expected {
			t.Fatalf("%v: expected %s, got %v", c.filters, c.expected, rows)
		}
	}
}

func TestBatchSizing(t *testing.T) {
	h := newHarness(t)
	rows := make([]map[string]any, 10)
	for i := range rows {
		rows[i] = map[string]any{"b": int64(i)}
	}
	h.load(t, rows...)

	for _, c := range []struct {
		batchSize int
		expected  string
	}{
		{3, "[3 3 3 1]"},
		{5, "[5 5]"},
		{10, "[10]"},
		{100, "[10]"},
	} {
		r := New(context.Background(), h.gc, h.plan(t), h.project(t, "rowid"), c.batchSize)
		sizes, _ := readAll(t, r)
		if fmt.Sprint(sizes) != c.expected {
			t.Fatalf("batch size %d: expected %s, got %v", c.batchSize, c.expected, sizes)
		}
		if r.Next() {
			t.Fatal("expected no batch after the end of the scan")
		}
		r.Release()
	}
}

func TestLimit(t *testing.T) {
	h := newHarness(t)
	rows := make([]map[string]any, 10)
	for i := range rows {
		rows[i] = map[string]any{"b": int64(i)}
	}
	h.load(t, rows...)

	for _, c := range []struct {
		limit    int
		expected string
	}{
		{0, "[]"},
		{4, "[3 1]"},
		{6, "[3 3]"},
		{50, "[3 3 3 1]"},
	} {
		r := New(context.Background(), h.gc, h.plan(t), h.project(t, "b"), 3, WithLimit(c.limit))
		sizes, rows := readAll(t, r)
		if fmt.Sprint(sizes) != c.expected {
			t.Fatalf("limit %d: expected %s, got %v", c.limit, c.expected, sizes)
		}
		if c.limit == 4 && fmt.Sprint(rows) != "[[0] [1] [2] [3]]" {
			t.Fatalf("expected the first rows in rowid order, got %v", rows)
		}
		if err := r.Err(); err != nil {
			t.Fatal(err)
		}
		r.Release()
	}
}

func TestNoRecordNeverTouchesStore(t *testing.T) {
	h := newHarness(t)
	h.load(t, map[string]any{"a": "x"})

	p := h.plan(t, logical.Eq(logical.Col("a"), logical.Lit("x")), logical.Eq(logical.Col("a"), logical.Lit("y")))
	if p.Strategy != planner.NoRecord {
		t.Fatalf("expected no_record, got %s", p)
	}
	gc, err := core.NewGlobalContext(&faultyStore{DataStore: h.gc.Store(), failIter: true, failGet: true}, h.gc.MetaStore, 8)
	if err != nil {
		t.Fatal(err)
	}
	r := New(context.Background(), gc, p, h.project(t, "a"), 10)
	defer r.Release()
	if r.Next() {
		t.Fatal("expected no batches")
	}
	if err := r.Err(); err != nil {
		t.Fatal(err)
	}
}

func TestUnsupportedType(t *testing.T) {
	h := newHarness(t)
	h.load(t, map[string]any{"a": "x", "f": 1.5}, map[string]any{"a": "y"})

	// the second scan only sees a row without f, it fails all the same
	for _, filter := range []logical.Expr{
		logical.Eq(logical.Col("a"), logical.Lit("x")),
		logical.Eq(logical.Col("a"), logical.Lit("y")),
	} {
		r := New(context.Background(), h.gc, h.plan(t, filter), h.project(t, "a", "f"), 10)
		if r.Next() {
			t.Fatal("expected no batch")
		}
		err := r.Err()
		if !errors.Is(err, scanerr.ErrDecode) || !errors.Is(err, ErrUnsupportedType) {
			t.Fatalf("expected an unsupported type decode error, got %v", err)
		}
		r.Release()
	}
}

func TestDecodeErrors(t *testing.T) {
	h := newHarness(t)
	rowids := h.load(t, map[string]any{"b": int64(1), "a": "ok"})
	ctx := context.Background()

	ordinals, err := h.gc.MetaStore.GetColumnOrdinals(ctx, "t")
	if err != nil {
		t.Fatal(err)
	}
	b := h.gc.Store().NewWriteBatch()
	b.Set(keycodec.RecordKey("t", ordinals["b"], rowids[0]), []byte("12x"))
	b.Set(keycodec.RecordKey("t", ordinals["a"], rowids[0]), []byte{0xff, 0xfe})
	if err := b.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	b.Close()

	for _, col := range []string{"a", "b"} {
		r := New(ctx, h.gc, h.plan(t), h.project(t, col), 10)
		if r.Next() {
			t.Fatal("expected no batch")
		}
		var de *scanerr.DecodeError
		if !errors.As(r.Err(), &de) || de.Column != col || len(de.Key) == 0 {
			t.Fatalf("expected a decode error on %s carrying the key, got %v", col, r.Err())
		}
		r.Release()
	}
}

func TestMissingOrdinal(t *testing.T) {
	h := newHarness(t)
	h.load(t, map[string]any{"a": "x"})

	schema := arrow.NewSchema([]arrow.Field{{Name: "ghost", Type: arrow.BinaryTypes.String, Nullable: true}}, nil)
	r := New(context.Background(), h.gc, h.plan(t), schema, 10)
	defer r.Release()
	if r.Next() {
		t.Fatal("expected no batch")
	}
	if !errors.Is(r.Err(), scanerr.ErrSchema) {
		t.Fatalf("expected a schema error, got %v", r.Err())
	}
}

type (
	faultyStore struct {
		datastore.DataStore
		failGet  bool
		failIter bool
		// iterFailAfter makes iterators fail after yielding this many entries
		iterFailAfter int
		// closes counts iterator Close calls
		closes int
	}

	faultyIter struct {
		datastore.Iterator
		store *faultyStore
		left  int
		err   error
	}
)

func (fs *faultyStore) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if fs.failGet {
		return nil, false, errBoom
	}
	return fs.DataStore.Get(ctx, key)
}

func (fs *faultyStore) NewIterator(ctx context.Context, lower, upper []byte) (datastore.Iterator, error) {
	if fs.failIter {
		return nil, errBoom
	}
	iter, err := fs.DataStore.NewIterator(ctx, lower, upper)
	if err != nil {
		return nil, err
	}
	return &faultyIter{Iterator: iter, store: fs, left: fs.iterFailAfter}, nil
}

func (fi *faultyIter) Next() bool {
	if fi.store.iterFailAfter > 0 {
		fi.left--
		if fi.left <= 0 {
			fi.err = errBoom
			return false
		}
	}
	return fi.Iterator.Next()
}

func (fi *faultyIter) Close() error {
	fi.store.closes++
	return fi.Iterator.Close()
}

func (fi *faultyIter) Valid() bool { return fi.err == nil && fi.Iterator.Valid() }

func (fi *faultyIter) Error() error {
	if fi.err != nil {
		return fi.err
	}
	return fi.Iterator.Error()
}

func TestIOErrors(t *testing.T) {
	h := newHarness(t)
	rows := make([]map[string]any, 5)
	for i := range rows {
		rows[i] = map[string]any{"a": fmt.Sprint(i)}
	}
	h.load(t, rows...)

	cases := []struct {
		name  string
		store *faultyStore
		op    string
	}{
		{"get", &faultyStore{DataStore: h.gc.Store(), failGet: true}, "get"},
		{"open", &faultyStore{DataStore: h.gc.Store(), failIter: true}, "iter"},
		{"iterate", &faultyStore{DataStore: h.gc.Store(), iterFailAfter: 3}, "iter"},
	}
	for _, c := range cases {
		gc, err := core.NewGlobalContext(c.store, h.gc.MetaStore, 8)
		if err != nil {
			t.Fatal(err)
		}
		r := New(context.Background(), gc, h.plan(t), h.project(t, "rowid", "a"), 10)
		if r.Next() {
			t.Fatalf("%s: expected no partial batch", c.name)
		}
		var ioe *scanerr.IOError
		if !errors.As(r.Err(), &ioe) || ioe.Op != c.op || !errors.Is(r.Err(), errBoom) {
			t.Fatalf("%s: expected an io error from %s, got %v", c.name, c.op, r.Err())
		}
		if c.op == "get" && len(ioe.Key) == 0 {
			t.Fatalf("expected the failing key in the error")
		}
		if r.Next() {
			t.Fatalf("%s: expected the scan to stay exhausted", c.name)
		}
		r.Release()
	}
}

func TestConcurrentScans(t *testing.T) {
	h := newHarness(t)
	rows := make([]map[string]any, 50)
	for i := range rows {
		rows[i] = map[string]any{"a": fmt.Sprint(i % 5), "b": int64(i)}
	}
	h.load(t, rows...)

	fullPlan := h.plan(t)
	indexPlan := h.plan(t, logical.Eq(logical.Col("a"), logical.Lit("3")))
	schema := h.project(t, "rowid", "a", "b")

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 8; i++ {
		i := i
		g.Go(func() error {
			p, expected := fullPlan, 50
			if i%2 == 1 {
				p, expected = indexPlan, 10
			}
			r := New(ctx, h.gc, p, schema, 7)
			defer r.Release()
			count := 0
			for r.Next() {
				count += int(r.Record().NumRows())
			}
			if err := r.Err(); err != nil {
				return err
			}
			if count != expected {
				return fmt.Errorf("scan %d: expected %d rows, got %d", i, expected, count)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestIteratorRelease(t *testing.T) {
	h := newHarness(t)
	rows := make([]map[string]any, 10)
	for i := range rows {
		rows[i] = map[string]any{"b": int64(i)}
	}
	h.load(t, rows...)

	open := func(fs *faultyStore) *Reader {
		gc, err := core.NewGlobalContext(fs, h.gc.MetaStore, 8)
		if err != nil {
			t.Fatal(err)
		}
		return New(context.Background(), gc, h.plan(t), h.project(t, "rowid"), 3)
	}

	// drained to the end
	fs := &faultyStore{DataStore: h.gc.Store()}
	r := open(fs)
	sizes, _ := readAll(t, r)
	if fmt.Sprint(sizes) != "[3 3 3 1]" || r.Err() != nil {
		t.Fatalf("unexpected scan %v %v", sizes, r.Err())
	}
	if fs.closes != 1 {
		t.Fatalf("expected the iterator closed once at the end of the scan, got %d", fs.closes)
	}
	r.Release()
	if fs.closes != 1 {
		t.Fatalf("expected no second close on release, got %d", fs.closes)
	}

	// failed while iterating
	fs = &faultyStore{DataStore: h.gc.Store(), iterFailAfter: 2}
	r = open(fs)
	if r.Next() || !errors.Is(r.Err(), errBoom) {
		t.Fatalf("expected the scan to fail, got %v", r.Err())
	}
	if fs.closes != 1 {
		t.Fatalf("expected the iterator closed once after the error, got %d", fs.closes)
	}
	r.Release()
	if fs.closes != 1 {
		t.Fatalf("expected no second close on release, got %d", fs.closes)
	}

	// released before the scan is over
	fs = &faultyStore{DataStore: h.gc.Store()}
	r = open(fs)
	if !r.Next() {
		t.Fatalf("expected a first batch, got %v", r.Err())
	}
	if fs.closes != 0 {
		t.Fatalf("expected the iterator open mid scan, got %d closes", fs.closes)
	}
	r.Release()
	if fs.closes != 1 {
		t.Fatalf("expected the iterator closed once on release, got %d", fs.closes)
	}
}
