package datastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/rs/zerolog"
)

type (
	PebbleDataStore struct {
		rootPath string
		db       *pebble.DB
	}

	pebbleBatch struct {
		b *pebble.Batch
	}
)

// NewPebbleDataStore opens (or creates) the store at rootPath. With inMemory
// the store lives on pebble's in-memory filesystem and rootPath is only a name.
func NewPebbleDataStore(rootPath string, inMemory bool) (*PebbleDataStore, error) {
	opts := &pebble.Options{}
	if inMemory {
		opts.FS = vfs.NewMem()
	}

	db, err := pebble.Open(rootPath, opts)
	if err != nil {
		return nil, fmt.Errorf("error in pebble.Open: %w", err)
	}
	logger.Debug().Str("path", rootPath).Bool("inMemory", inMemory).Msg("opened pebble datastore")

	pds := &PebbleDataStore{
		rootPath: rootPath,
		db:       db,
	}

	return pds, nil
}

func (pds *PebbleDataStore) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	v, closer, err := pds.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("error in db.Get: %w", err)
	}
	defer closer.Close()

	// v is only valid until closer is closed
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (pds *PebbleDataStore) NewIterator(ctx context.Context, lower, upper []byte) (Iterator, error) {
	iter, err := pds.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return nil, fmt.Errorf("error in db.NewIter: %w", err)
	}
	zerolog.Ctx(ctx).Trace().Bytes("lower", lower).Bytes("upper", upper).Msg("opened iterator")
	return iter, nil
}

func (pds *PebbleDataStore) NewWriteBatch() WriteBatch {
	return &pebbleBatch{b: pds.db.NewBatch()}
}

func (pds *PebbleDataStore) Shutdown(_ context.Context) error {
	err := pds.db.Close()
	if err != nil {
		return fmt.Errorf("error in db.Close: %w", err)
	}
	return nil
}

func (pb *pebbleBatch) Set(key, value []byte) error {
	return pb.b.Set(key, value, nil)
}

func (pb *pebbleBatch) Delete(key []byte) error {
	return pb.b.Delete(key, nil)
}

func (pb *pebbleBatch) Commit(_ context.Context) error {
	err := pb.b.Commit(pebble.Sync)
	if err != nil {
		return fmt.Errorf("error in batch.Commit: %w", err)
	}
	return nil
}

func (pb *pebbleBatch) Close() error {
	return pb.b.Close()
}
