package datastore

import (
	"context"

	"github.com/danthegoodman1/kvsql/gologger"
)

var (
	logger = gologger.NewLogger()
)

type (
	// DataStore is the embedded sorted key-value store tables live in. It must
	// be safe for concurrent use: every scan holds its own Iterator.
	DataStore interface {
		// Get returns the value under key. found is false when the key is absent.
		Get(ctx context.Context, key []byte) (value []byte, found bool, err error)

		// NewIterator opens a cursor over [lower, upper). A nil upper is unbounded.
		NewIterator(ctx context.Context, lower, upper []byte) (Iterator, error)

		// NewWriteBatch starts an atomic group of writes.
		NewWriteBatch() WriteBatch

		Shutdown(ctx context.Context) error
	}

	// Iterator is a forward cursor. Key and Value are only valid until the next
	// positioning call.
	Iterator interface {
		SeekGE(key []byte) bool
		Next() bool
		Valid() bool
		Key() []byte
		Value() []byte
		// Error returns the error that made the cursor stop, if any.
		Error() error
		Close() error
	}

	WriteBatch interface {
		Set(key, value []byte) error
		Delete(key []byte) error
		Commit(ctx context.Context) error
		Close() error
	}
)
