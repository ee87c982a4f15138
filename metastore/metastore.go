package metastore

import (
	"context"
	"time"

	"github.com/danthegoodman1/kvsql/gologger"
	"github.com/danthegoodman1/kvsql/part"
	"github.com/danthegoodman1/kvsql/table"
	"github.com/danthegoodman1/kvsql/utils"
)

var (
	logger = gologger.NewLogger()

	ErrTableNotFound = utils.PermError("table not found")
	ErrTableExists   = utils.PermError("table already exists")
	ErrPartNotFound  = utils.PermError("part not found")
)

type (
	MetaStore interface {
		// GetTableSchema fetches the table schema for a given table
		GetTableSchema(ctx context.Context, tableName string) (TableSchema, error)
		ListTables(ctx context.Context) ([]TableSchema, error)

		// CreateTableSchema validates def, assigns the table ID and column
		// ordinals, and persists both. Ordinals never change afterwards.
		CreateTableSchema(ctx context.Context, def table.TableDef) (TableSchema, error)

		// GetColumnOrdinals returns the persisted column name -> ordinal map,
		// rowid included.
		GetColumnOrdinals(ctx context.Context, tableName string) (map[string]uint32, error)

		// CreatePart records an exported file
		CreatePart(ctx context.Context, tableName string, p part.Part) error
		// ListParts lists alive parts for a table, filtered on part ID
		ListParts(ctx context.Context, tableName string, filters ...FilterOption) ([]part.Part, error)
		// ReplaceParts atomically marks the parts in oldIDs dead and records p
		ReplaceParts(ctx context.Context, tableName string, oldIDs []string, p part.Part) error

		Shutdown(ctx context.Context) error
	}

	TableSchema struct {
		ID   string
		Name string

		Def table.TableDef
		// Ordinals maps column name to the ordinal used in record keys
		Ordinals map[string]uint32

		CreatedAt time.Time
		UpdatedAt time.Time
	}

	FilterOperator string

	FilterOption struct {
		Operator FilterOperator
		// Val is a string, or a []string for IN
		Val any
	}
)

const (
	GT  FilterOperator = "gt"
	GTE FilterOperator = "gte"
	IN  FilterOperator = "in"
	LT  FilterOperator = "lt"
	LTE FilterOperator = "lte"
)

// NewTableSchema validates def and assigns the ID and ordinals: rowid gets
// table.RowIDOrdinal, declared columns follow in declaration order.
func NewTableSchema(def table.TableDef) (TableSchema, error) {
	if err := def.Validate(); err != nil {
		return TableSchema{}, utils.PermError("invalid table definition: " + err.Error())
	}

	def.ID = utils.GenRandomShortID()
	ordinals := make(map[string]uint32, len(def.Columns)+1)
	for i, col := range def.AllColumns() {
		ordinals[col.Name] = uint32(i)
	}

	now := time.Now()
	return TableSchema{
		ID:        def.ID,
		Name:      def.Name,
		Def:       def,
		Ordinals:  ordinals,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// PassFilterOption reports whether val satisfies filter. Unknown operators
// never pass.
func PassFilterOption(val string, filter FilterOption) bool {
	switch filter.Operator {
	case GT:
		return val > filter.Val.(string)
	case GTE:
		return val >= filter.Val.(string)
	case IN:
		return utils.ContainsString(filter.Val.([]string), val)
	case LT:
		return val < filter.Val.(string)
	case LTE:
		return val <= filter.Val.(string)
	default:
		return false
	}
}

func passAll(val string, filters []FilterOption) bool {
	for _, filter := range filters {
		if !PassFilterOption(val, filter) {
			return false
		}
	}
	return true
}
