package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/danthegoodman1/kvsql/part"
	"github.com/danthegoodman1/kvsql/table"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

const redisTablesSet = "tables"

type (
	RedisMetaStore struct {
		client *redis.Client
	}
)

func NewRedisMetaStore(ctx context.Context, addr, password string, pingTest bool) (*RedisMetaStore, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Msg("connecting to redis metastore")
	rms := &RedisMetaStore{
		client: redis.NewClient(&redis.Options{
			Addr:        addr,
			Password:    password,
			DB:          0,
			DialTimeout: time.Second * 3,
		}),
	}

	// Ping test first to ensure valid connection
	if pingTest {
		logger.Debug().Msg("running redis ping test")
		s := time.Now()
		_, err := rms.client.Ping(ctx).Result()
		if err != nil {
			rms.client.Close()
			return nil, fmt.Errorf("error pinging redis: %w", err)
		}
		logger.Debug().Msgf("redis ping test successful in %s", time.Since(s))
	}

	return rms, nil
}

func (rms *RedisMetaStore) TableKey(tableName string) string {
	return "t_" + tableName
}

func (rms *RedisMetaStore) GetTableSchema(ctx context.Context, tableName string) (TableSchema, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Msg("getting table schema")
	ts := TableSchema{}
	rawTableSchema, err := rms.client.Get(ctx, rms.TableKey(tableName)).Result()
	if err == redis.Nil {
		return ts, fmt.Errorf("%w: %s", ErrTableNotFound, tableName)
	}
	if err != nil {
		return ts, fmt.Errorf("error in redis GET: %w", err)
	}

	// Bind JSON string to struct
	err = json.Unmarshal([]byte(rawTableSchema), &ts)
	if err != nil {
		return ts, fmt.Errorf("error in json.Unmarshall: %w", err)
	}

	return ts, nil
}

func (rms *RedisMetaStore) ListTables(ctx context.Context) ([]TableSchema, error) {
	names, err := rms.client.SMembers(ctx, redisTablesSet).Result()
	if err != nil {
		return nil, fmt.Errorf("error in redis SMEMBERS: %w", err)
	}
	tables := make([]TableSchema, 0, len(names))
	for _, name := range names {
		ts, err := rms.GetTableSchema(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("error getting table %s: %w", name, err)
		}
		tables = append(tables, ts)
	}
	return tables, nil
}

func (rms *RedisMetaStore) CreateTableSchema(ctx context.Context, def table.TableDef) (TableSchema, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Msg("creating table schema")
	ts, err := NewTableSchema(def)
	if err != nil {
		return ts, err
	}

	jsonBytes, err := json.Marshal(ts)
	if err != nil {
		return ts, fmt.Errorf("error in json.Marshal: %w", err)
	}

	created, err := rms.client.SetNX(ctx, rms.TableKey(def.Name), string(jsonBytes), 0).Result()
	if err != nil {
		return ts, fmt.Errorf("error in redis SETNX: %w", err)
	}
	if !created {
		return ts, fmt.Errorf("%w: %s", ErrTableExists, def.Name)
	}

	_, err = rms.client.SAdd(ctx, redisTablesSet, def.Name).Result()
	if err != nil {
		return ts, fmt.Errorf("error in redis SADD: %w", err)
	}

	return ts, nil
}

func (rms *RedisMetaStore) GetColumnOrdinals(ctx context.Context, tableName string) (map[string]uint32, error) {
	ts, err := rms.GetTableSchema(ctx, tableName)
	if err != nil {
		return nil, err
	}
	return ts.Ordinals, nil
}

func (rms *RedisMetaStore) ListParts(ctx context.Context, tableName string, filters ...FilterOption) ([]part.Part, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Msgf("listing parts with filter options %+v", filters)

	var cursorPos uint64 = 0
	parts := make([]part.Part, 0)

	// Loop until we have all the results
	for {
		logger.Debug().Msgf("running redis HSCAN with cursor %d", cursorPos)
		rawParts, newCursor, err := rms.client.HScan(ctx, rms.TableKey(tableName)+"_parts", cursorPos, "", 0).Result()
		if err != nil {
			return nil, fmt.Errorf("error in redis HSCAN: %w", err)
		}

		// HSCAN returns a flat field, value, field, value list
		for i := 0; i+1 < len(rawParts); i += 2 {
			partID, rawJSON := rawParts[i], rawParts[i+1]
			p := part.Part{}
			err = json.Unmarshal([]byte(rawJSON), &p)
			if err != nil {
				return nil, fmt.Errorf("error unmarshalling part ID '%s' under table '%s': %w", partID, tableName, err)
			}
			if !p.Alive || !passAll(p.ID, filters) {
				continue
			}
			parts = append(parts, p)
		}

		cursorPos = newCursor
		if newCursor == 0 {
			break
		}
	}

	return parts, nil
}

func (rms *RedisMetaStore) CreatePart(ctx context.Context, tableName string, p part.Part) error {
	partJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("error json.Marshal(part): %w", err)
	}

	_, err = rms.client.HSet(ctx, rms.TableKey(tableName)+"_parts", p.ID, string(partJSON)).Result()
	if err != nil {
		return fmt.Errorf("error in redis HSET: %w", err)
	}

	return nil
}

func (rms *RedisMetaStore) ReplaceParts(ctx context.Context, tableName string, oldIDs []string, p part.Part) error {
	key := rms.TableKey(tableName) + "_parts"
	return rms.client.Watch(ctx, func(tx *redis.Tx) error {
		updates := make([]any, 0, 2*(len(oldIDs)+1))
		for _, id := range oldIDs {
			raw, err := tx.HGet(ctx, key, id).Result()
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", ErrPartNotFound, id)
			}
			if err != nil {
				return fmt.Errorf("error in redis HGET: %w", err)
			}
			old := part.Part{}
			if err := json.Unmarshal([]byte(raw), &old); err != nil {
				return fmt.Errorf("error unmarshalling part ID '%s' under table '%s': %w", id, tableName, err)
			}
			old.Alive = false
			rawOld, err := json.Marshal(old)
			if err != nil {
				return fmt.Errorf("error json.Marshal(part): %w", err)
			}
			updates = append(updates, id, string(rawOld))
		}
		partJSON, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("error json.Marshal(part): %w", err)
		}
		updates = append(updates, p.ID, string(partJSON))

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, updates...)
			return nil
		})
		if err != nil {
			return fmt.Errorf("error in redis MULTI: %w", err)
		}
		return nil
	}, key)
}

func (rms *RedisMetaStore) Shutdown(_ context.Context) error {
	err := rms.client.Close()
	if err != nil {
		return fmt.Errorf("error closing redis client: %w", err)
	}
	return nil
}
