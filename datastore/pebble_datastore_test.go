package datastore

import (
	"context"
	"testing"
)

func newTestStore(t *testing.T) *PebbleDataStore {
	t.Helper()
	pds, err := NewPebbleDataStore("test", true)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		pds.Shutdown(context.Background())
	})
	return pds
}

func TestGetMissing(t *testing.T) {
	pds := newTestStore(t)
	_, found, err := pds.Get(context.Background(), []byte("nope"))
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected not found")
	}
}

func TestBatchAndIterate(t *testing.T) {
	ctx := context.Background()
	pds := newTestStore(t)

	b := pds.NewWriteBatch()
	for _, k := range []string{"a1", "a2", "a3", "b1"} {
		if err := b.Set([]byte(k), []byte("v"+k)); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	b.Close()

	v, found, err := pds.Get(ctx, []byte("a2"))
	if err != nil {
		t.Fatal(err)
	}
	if !found || string(v) != "va2" {
		t.Fatalf("expected va2, got %q (found=%v)", v, found)
	}

	iter, err := pds.NewIterator(ctx, []byte("a"), []byte("b"))
	if err != nil {
		t.Fatal(err)
	}
	defer iter.Close()

	var keys []string
	for valid := iter.SeekGE([]byte("a2")); valid; valid = iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	if err := iter.Error(); err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "a2" || keys[1] != "a3" {
		t.Fatalf("expected [a2 a3], got %v", keys)
	}
}
