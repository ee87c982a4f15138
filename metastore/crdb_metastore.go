package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/danthegoodman1/kvsql/part"
	"github.com/danthegoodman1/kvsql/table"
	"github.com/danthegoodman1/kvsql/utils"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
)

const (
	uniqueViolation = "23505"

	crdbTimeout = time.Second * 10
)

type (
	// CRDBMetaStore keeps the catalog in CockroachDB, see migrations/ for the
	// tables it expects.
	CRDBMetaStore struct {
		pool *pgxpool.Pool
	}
)

func NewCRDBMetaStore(pool *pgxpool.Pool) *CRDBMetaStore {
	return &CRDBMetaStore{pool: pool}
}

func (cms *CRDBMetaStore) GetTableSchema(ctx context.Context, tableName string) (TableSchema, error) {
	var ts TableSchema
	err := utils.ReliableExec(ctx, cms.pool, crdbTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		var rawDef []byte
		err := conn.QueryRow(ctx, `select id, def, created_at, updated_at from tables where name = $1`, tableName).
			Scan(&ts.ID, &rawDef, &ts.CreatedAt, &ts.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrTableNotFound, tableName)
		}
		if err != nil {
			return fmt.Errorf("error selecting table: %w", err)
		}
		if err := json.Unmarshal(rawDef, &ts.Def); err != nil {
			return utils.PermError("error unmarshalling table def: " + err.Error())
		}
		ts.Name = tableName

		ts.Ordinals, err = selectOrdinals(ctx, conn, tableName)
		return err
	})
	return ts, err
}

func selectOrdinals(ctx context.Context, conn *pgxpool.Conn, tableName string) (map[string]uint32, error) {
	rows, err := conn.Query(ctx, `select column_name, ordinal from table_columns where table_name = $1`, tableName)
	if err != nil {
		return nil, fmt.Errorf("error selecting ordinals: %w", err)
	}
	defer rows.Close()

	ordinals := make(map[string]uint32)
	for rows.Next() {
		var name string
		var ordinal int64
		if err := rows.Scan(&name, &ordinal); err != nil {
			return nil, fmt.Errorf("error scanning ordinal: %w", err)
		}
		ordinals[name] = uint32(ordinal)
	}
	return ordinals, rows.Err()
}

func (cms *CRDBMetaStore) ListTables(ctx context.Context) ([]TableSchema, error) {
	var names []string
	err := utils.ReliableExec(ctx, cms.pool, crdbTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		names = names[:0]
		rows, err := conn.Query(ctx, `select name from tables order by name`)
		if err != nil {
			return fmt.Errorf("error listing tables: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return fmt.Errorf("error scanning table name: %w", err)
			}
			names = append(names, name)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	tables := make([]TableSchema, 0, len(names))
	for _, name := range names {
		ts, err := cms.GetTableSchema(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("error getting table %s: %w", name, err)
		}
		tables = append(tables, ts)
	}
	return tables, nil
}

func (cms *CRDBMetaStore) CreateTableSchema(ctx context.Context, def table.TableDef) (TableSchema, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Str("table", def.Name).Msg("creating table schema")

	ts, err := NewTableSchema(def)
	if err != nil {
		return ts, err
	}
	rawDef, err := json.Marshal(ts.Def)
	if err != nil {
		return ts, fmt.Errorf("error in json.Marshal: %w", err)
	}

	err = utils.ReliableExecInTx(ctx, cms.pool, crdbTimeout, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `insert into tables (name, id, def, created_at, updated_at) values ($1, $2, $3, $4, $4)`,
			ts.Name, ts.ID, rawDef, ts.CreatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("%w: %s", ErrTableExists, ts.Name)
			}
			return fmt.Errorf("error inserting table: %w", err)
		}
		for name, ordinal := range ts.Ordinals {
			_, err := tx.Exec(ctx, `insert into table_columns (table_name, column_name, ordinal) values ($1, $2, $3)`,
				ts.Name, name, int64(ordinal))
			if err != nil {
				return fmt.Errorf("error inserting ordinal for %s: %w", name, err)
			}
		}
		return nil
	})
	return ts, err
}

func (cms *CRDBMetaStore) GetColumnOrdinals(ctx context.Context, tableName string) (ordinals map[string]uint32, err error) {
	err = utils.ReliableExec(ctx, cms.pool, crdbTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		ordinals, err = selectOrdinals(ctx, conn, tableName)
		if err != nil {
			return err
		}
		if len(ordinals) == 0 {
			return fmt.Errorf("%w: %s", ErrTableNotFound, tableName)
		}
		return nil
	})
	return
}

func (cms *CRDBMetaStore) CreatePart(ctx context.Context, tableName string, p part.Part) error {
	return utils.ReliableExec(ctx, cms.pool, crdbTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `insert into parts (table_name, id, alive, partition, file_name, row_count, bytes, created_at)
values ($1, $2, $3, $4, $5, $6, $7, $8)`,
			tableName, p.ID, p.Alive, p.Partition, p.FileName, p.RowCount, p.Bytes, p.CreatedAt)
		if err != nil {
			return fmt.Errorf("error inserting part: %w", err)
		}
		return nil
	})
}

func (cms *CRDBMetaStore) ListParts(ctx context.Context, tableName string, filters ...FilterOption) ([]part.Part, error) {
	var parts []part.Part
	err := utils.ReliableExec(ctx, cms.pool, crdbTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		parts = make([]part.Part, 0)
		rows, err := conn.Query(ctx, `select id, alive, partition, file_name, row_count, bytes, created_at
from parts where table_name = $1 and alive order by id`, tableName)
		if err != nil {
			return fmt.Errorf("error selecting parts: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			p := part.Part{Table: tableName}
			if err := rows.Scan(&p.ID, &p.Alive, &p.Partition, &p.FileName, &p.RowCount, &p.Bytes, &p.CreatedAt); err != nil {
				return fmt.Errorf("error scanning part: %w", err)
			}
			if passAll(p.ID, filters) {
				parts = append(parts, p)
			}
		}
		return rows.Err()
	})
	return parts, err
}

func (cms *CRDBMetaStore) ReplaceParts(ctx context.Context, tableName string, oldIDs []string, p part.Part) error {
	return utils.ReliableExecInTx(ctx, cms.pool, crdbTimeout, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `update parts set alive = false where table_name = $1 and id = any($2) and alive`, tableName, oldIDs)
		if err != nil {
			return fmt.Errorf("error updating parts: %w", err)
		}
		if tag.RowsAffected() != int64(len(oldIDs)) {
			return fmt.Errorf("%w: expected %d alive parts, found %d", ErrPartNotFound, len(oldIDs), tag.RowsAffected())
		}
		_, err = tx.Exec(ctx, `insert into parts (table_name, id, alive, partition, file_name, row_count, bytes, created_at)
values ($1, $2, $3, $4, $5, $6, $7, $8)`,
			tableName, p.ID, p.Alive, p.Partition, p.FileName, p.RowCount, p.Bytes, p.CreatedAt)
		if err != nil {
			return fmt.Errorf("error inserting part: %w", err)
		}
		return nil
	})
}

// Shutdown closes the pool
func (cms *CRDBMetaStore) Shutdown(_ context.Context) error {
	cms.pool.Close()
	return nil
}
