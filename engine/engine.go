// Package engine is the storage engine contract a table is served through.
package engine

import (
	"context"
	"fmt"

	"github.com/danthegoodman1/kvsql/core"
	"github.com/danthegoodman1/kvsql/logical"
	"github.com/danthegoodman1/kvsql/provider"
)

type (
	Engine interface {
		TableProvider() provider.TableProvider
		// Insert, AddRows and Delete report the number of affected rows.
		Insert(ctx context.Context, columnNames []string, values [][]any) (int64, error)
		AddRows(ctx context.Context, columnNames []string, values [][]logical.Expr) (int64, error)
		Delete(ctx context.Context, rowids []string) (int64, error)
	}

	// KVEngine serves tables from the embedded store. Writes through the SQL
	// path are not supported yet; bulk loads go through package loader.
	KVEngine struct {
		table *provider.KVTable
	}
)

var _ Engine = (*KVEngine)(nil)

// New returns the engine serving tableName.
func New(ctx context.Context, gc *core.GlobalContext, tableName string) (Engine, error) {
	kt, err := provider.NewKVTable(ctx, gc, tableName)
	if err != nil {
		return nil, fmt.Errorf("error in provider.NewKVTable: %w", err)
	}
	return &KVEngine{table: kt}, nil
}

func (e *KVEngine) TableProvider() provider.TableProvider {
	return e.table
}

func (e *KVEngine) Insert(context.Context, []string, [][]any) (int64, error) {
	return 0, nil
}

func (e *KVEngine) AddRows(context.Context, []string, [][]logical.Expr) (int64, error) {
	return 0, nil
}

func (e *KVEngine) Delete(context.Context, []string) (int64, error) {
	return 0, nil
}
