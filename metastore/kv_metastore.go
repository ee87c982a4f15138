package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/danthegoodman1/kvsql/datastore"
	"github.com/danthegoodman1/kvsql/keycodec"
	"github.com/danthegoodman1/kvsql/part"
	"github.com/danthegoodman1/kvsql/table"
	"github.com/rs/zerolog"
)

const (
	kindTable = "table"
	kindPart  = "part"
)

type (
	// KVMetaStore keeps schemas and parts as JSON documents under the meta
	// prefix of the same store the tables live in.
	KVMetaStore struct {
		ds datastore.DataStore
		// serializes the exists check and write in CreateTableSchema
		createMu sync.Mutex
	}
)

func NewKVMetaStore(ds datastore.DataStore) *KVMetaStore {
	return &KVMetaStore{ds: ds}
}

func partKind(tableName string) string {
	return kindPart + ":" + tableName
}

func (kms *KVMetaStore) GetTableSchema(ctx context.Context, tableName string) (TableSchema, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Str("table", tableName).Msg("getting table schema")

	ts := TableSchema{}
	raw, found, err := kms.ds.Get(ctx, keycodec.MetaKey(kindTable, tableName))
	if err != nil {
		return ts, fmt.Errorf("error in ds.Get: %w", err)
	}
	if !found {
		return ts, fmt.Errorf("%w: %s", ErrTableNotFound, tableName)
	}

	err = json.Unmarshal(raw, &ts)
	if err != nil {
		return ts, fmt.Errorf("error in json.Unmarshal: %w", err)
	}

	return ts, nil
}

func (kms *KVMetaStore) ListTables(ctx context.Context) ([]TableSchema, error) {
	prefix := keycodec.MetaKindPrefix(kindTable)
	iter, err := kms.ds.NewIterator(ctx, prefix, keycodec.PrefixEnd(prefix))
	if err != nil {
		return nil, fmt.Errorf("error in ds.NewIterator: %w", err)
	}
	defer iter.Close()

	tables := make([]TableSchema, 0)
	for valid := iter.SeekGE(prefix); valid; valid = iter.Next() {
		var ts TableSchema
		if err := json.Unmarshal(iter.Value(), &ts); err != nil {
			return nil, fmt.Errorf("error unmarshalling table schema under key %q: %w", iter.Key(), err)
		}
		tables = append(tables, ts)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("error iterating table schemas: %w", err)
	}
	return tables, nil
}

func (kms *KVMetaStore) CreateTableSchema(ctx context.Context, def table.TableDef) (TableSchema, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Str("table", def.Name).Msg("creating table schema")

	ts, err := NewTableSchema(def)
	if err != nil {
		return ts, err
	}

	jsonBytes, err := json.Marshal(ts)
	if err != nil {
		return ts, fmt.Errorf("error in json.Marshal: %w", err)
	}

	kms.createMu.Lock()
	defer kms.createMu.Unlock()

	key := keycodec.MetaKey(kindTable, def.Name)
	_, exists, err := kms.ds.Get(ctx, key)
	if err != nil {
		return ts, fmt.Errorf("error in ds.Get: %w", err)
	}
	if exists {
		return ts, fmt.Errorf("%w: %s", ErrTableExists, def.Name)
	}

	b := kms.ds.NewWriteBatch()
	defer b.Close()
	if err := b.Set(key, jsonBytes); err != nil {
		return ts, fmt.Errorf("error in batch.Set: %w", err)
	}
	if err := b.Commit(ctx); err != nil {
		return ts, fmt.Errorf("error in batch.Commit: %w", err)
	}

	return ts, nil
}

func (kms *KVMetaStore) GetColumnOrdinals(ctx context.Context, tableName string) (map[string]uint32, error) {
	ts, err := kms.GetTableSchema(ctx, tableName)
	if err != nil {
		return nil, err
	}
	return ts.Ordinals, nil
}

func (kms *KVMetaStore) CreatePart(ctx context.Context, tableName string, p part.Part) error {
	partJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("error json.Marshal(part): %w", err)
	}

	b := kms.ds.NewWriteBatch()
	defer b.Close()
	if err := b.Set(keycodec.MetaKey(partKind(tableName), p.ID), partJSON); err != nil {
		return fmt.Errorf("error in batch.Set: %w", err)
	}
	if err := b.Commit(ctx); err != nil {
		return fmt.Errorf("error in batch.Commit: %w", err)
	}
	return nil
}

func (kms *KVMetaStore) ListParts(ctx context.Context, tableName string, filters ...FilterOption) ([]part.Part, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Msgf("listing parts with filter options %+v", filters)

	prefix := keycodec.MetaKindPrefix(partKind(tableName))
	iter, err := kms.ds.NewIterator(ctx, prefix, keycodec.PrefixEnd(prefix))
	if err != nil {
		return nil, fmt.Errorf("error in ds.NewIterator: %w", err)
	}
	defer iter.Close()

	parts := make([]part.Part, 0)
	for valid := iter.SeekGE(prefix); valid; valid = iter.Next() {
		p := part.Part{}
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			return nil, fmt.Errorf("error unmarshalling part under table '%s': %w", tableName, err)
		}
		if !p.Alive || !passAll(p.ID, filters) {
			continue
		}
		parts = append(parts, p)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("error iterating parts: %w", err)
	}
	return parts, nil
}

// Shutdown is a no-op, the datastore is owned by the caller.
func (kms *KVMetaStore) Shutdown(_ context.Context) error {
	return nil
}

func (kms *KVMetaStore) ReplaceParts(ctx context.Context, tableName string, oldIDs []string, p part.Part) error {
	b := kms.ds.NewWriteBatch()
	defer b.Close()

	for _, id := range oldIDs {
		key := keycodec.MetaKey(partKind(tableName), id)
		raw, found, err := kms.ds.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("error in ds.Get: %w", err)
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrPartNotFound, id)
		}
		old := part.Part{}
		if err := json.Unmarshal(raw, &old); err != nil {
			return fmt.Errorf("error unmarshalling part '%s': %w", id, err)
		}
		old.Alive = false
		rawOld, err := json.Marshal(old)
		if err != nil {
			return fmt.Errorf("error json.Marshal(part): %w", err)
		}
		if err := b.Set(key, rawOld); err != nil {
			return fmt.Errorf("error in batch.Set: %w", err)
		}
	}

	partJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("error json.Marshal(part): %w", err)
	}
	if err := b.Set(keycodec.MetaKey(partKind(tableName), p.ID), partJSON); err != nil {
		return fmt.Errorf("error in batch.Set: %w", err)
	}
	if err := b.Commit(ctx); err != nil {
		return fmt.Errorf("error in batch.Commit: %w", err)
	}
	return nil
}
