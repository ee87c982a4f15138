package main

import (
	"context"
	"fmt"

	"github.com/danthegoodman1/kvsql/metastore"
	"github.com/danthegoodman1/kvsql/table"
)

// CreateTable creates a new table
func (k *KVSQL) CreateTable(ctx context.Context, def table.TableDef) (metastore.TableSchema, error) {
	ts, err := k.GC.MetaStore.CreateTableSchema(ctx, def)
	if err != nil {
		return ts, fmt.Errorf("error in MetaStore.CreateTableSchema: %w", err)
	}
	return ts, nil
}
