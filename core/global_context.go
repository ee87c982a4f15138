package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/danthegoodman1/kvsql/datastore"
	"github.com/danthegoodman1/kvsql/gologger"
	"github.com/danthegoodman1/kvsql/metastore"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

var (
	logger = gologger.NewLogger()
)

type (
	ordinalKey struct {
		table  string
		column string
	}

	// GlobalContext is the process wide state every scan shares: the store
	// handle, the metastore and the column ordinal cache. One is created at
	// startup and passed around by pointer.
	GlobalContext struct {
		// mu guards store and ordinals. It is never held across store or
		// metastore I/O.
		mu       sync.Mutex
		store    datastore.DataStore
		ordinals *simplelru.LRU[ordinalKey, uint32]

		MetaStore metastore.MetaStore
	}
)

func NewGlobalContext(store datastore.DataStore, ms metastore.MetaStore, ordinalCacheSize int) (*GlobalContext, error) {
	cache, err := simplelru.NewLRU[ordinalKey, uint32](ordinalCacheSize, nil)
	if err != nil {
		return nil, fmt.Errorf("error in simplelru.NewLRU: %w", err)
	}
	return &GlobalContext{
		store:     store,
		ordinals:  cache,
		MetaStore: ms,
	}, nil
}

// Store returns the shared datastore handle.
func (gc *GlobalContext) Store() datastore.DataStore {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return gc.store
}

func (gc *GlobalContext) cachedOrdinal(k ordinalKey) (uint32, bool) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return gc.ordinals.Get(k)
}

func (gc *GlobalContext) cacheOrdinals(tableName string, ordinals map[string]uint32) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	for column, ordinal := range ordinals {
		gc.ordinals.Add(ordinalKey{table: tableName, column: column}, ordinal)
	}
}

// ColumnOrdinal resolves the ordinal of tableName.column, loading the table's
// ordinals from the metastore on a miss. found is false when the metastore has
// no ordinal for the column.
func (gc *GlobalContext) ColumnOrdinal(ctx context.Context, tableName, column string) (ordinal uint32, found bool, err error) {
	k := ordinalKey{table: tableName, column: column}
	if ordinal, found = gc.cachedOrdinal(k); found {
		return
	}

	ordinals, err := gc.MetaStore.GetColumnOrdinals(ctx, tableName)
	if err != nil {
		return 0, false, fmt.Errorf("error in MetaStore.GetColumnOrdinals: %w", err)
	}
	gc.cacheOrdinals(tableName, ordinals)

	ordinal, found = ordinals[column]
	return ordinal, found, nil
}

// InvalidateTable drops the cached ordinals of tableName.
func (gc *GlobalContext) InvalidateTable(tableName string) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	for _, k := range gc.ordinals.Keys() {
		if k.table == tableName {
			gc.ordinals.Remove(k)
		}
	}
}

func (gc *GlobalContext) Shutdown(ctx context.Context) error {
	if err := gc.MetaStore.Shutdown(ctx); err != nil {
		return fmt.Errorf("error in MetaStore.Shutdown: %w", err)
	}
	if err := gc.Store().Shutdown(ctx); err != nil {
		return fmt.Errorf("error in DataStore.Shutdown: %w", err)
	}
	logger.Debug().Msg("global context shut down")
	return nil
}
