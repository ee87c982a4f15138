// Package export writes tables out as parquet parts, partitioned by the
// partitioner, and merges small parts of a partition together.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/danthegoodman1/kvsql/core"
	"github.com/danthegoodman1/kvsql/gologger"
	"github.com/danthegoodman1/kvsql/metastore"
	"github.com/danthegoodman1/kvsql/metrics"
	"github.com/danthegoodman1/kvsql/parquet_accumulator"
	"github.com/danthegoodman1/kvsql/part"
	"github.com/danthegoodman1/kvsql/partitioner"
	"github.com/danthegoodman1/kvsql/reader"
	"github.com/danthegoodman1/kvsql/session"
	"github.com/danthegoodman1/kvsql/table"
	"github.com/danthegoodman1/kvsql/utils"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
	pqreader "github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

var (
	logger = gologger.NewLogger()

	ErrNoExportableColumns = errors.New("table has no exportable columns")
)

const parquetParallelism = 4

type (
	Exporter struct {
		gc   *core.GlobalContext
		sess *session.Session
		sink Sink
		pool *ants.Pool
	}

	TableStats struct {
		Table string      `json:"table"`
		Parts []part.Part `json:"parts"`
		Rows  int64       `json:"rows"`
		Bytes int64       `json:"bytes"`
		// Skipped lists columns whose type cannot be read back
		Skipped []string `json:"skipped,omitempty"`
	}

	MergeOptions struct {
		// Partition restricts the merge to one partition path
		Partition *string `json:"partition"`
		// MaxPreMergeFileBytes is the largest part considered. Default 1GB.
		MaxPreMergeFileBytes *int64 `json:"max_pre_merge_file_bytes"`
		// MaxMergeFiles is the most parts merged at once. Default 4.
		MaxMergeFiles *int32 `json:"max_merge_files" validate:"omitempty,min=2"`
	}

	MergeStats struct {
		FilesMerged    int64      `json:"files_merged"`
		RowsMerged     int64      `json:"rows_merged"`
		PostMergeBytes int64      `json:"post_merge_bytes"`
		Partition      string     `json:"partition"`
		Part           *part.Part `json:"part,omitempty"`
	}

	// layout is the parquet schema a table exports with
	layout struct {
		def     table.TableDef
		psa     parquet_accumulator.ParquetSchemaAccumulator
		schema  string
		skipped []string
	}
)

func New(gc *core.GlobalContext, sess *session.Session, sink Sink, workers int) (*Exporter, error) {
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(v any) {
		logger.Error().Interface("panic", v).Msg("export worker panic")
	}))
	if err != nil {
		return nil, fmt.Errorf("error in ants.NewPool: %w", err)
	}
	partitioner.RegisterFunctions()
	return &Exporter{gc: gc, sess: sess, sink: sink, pool: pool}, nil
}

// Release waits up to timeout for running exports, then stops the pool.
func (e *Exporter) Release(timeout time.Duration) error {
	return e.pool.ReleaseTimeout(timeout)
}

// ExportTables exports every table concurrently. Stats are in table order;
// the error joins the failure of every table that failed.
func (e *Exporter) ExportTables(ctx context.Context, tables []string, plans []partitioner.PartitionPlan) ([]TableStats, error) {
	var wg sync.WaitGroup
	stats := make([]TableStats, len(tables))
	errs := make([]error, len(tables))
	for i, name := range tables {
		wg.Add(1)
		err := e.pool.Submit(func() {
			defer wg.Done()
			stats[i], errs[i] = e.exportTable(ctx, name, plans)
		})
		if err != nil {
			wg.Done()
			errs[i] = fmt.Errorf("error in pool.Submit for %s: %w", name, err)
		}
	}
	wg.Wait()
	return stats, errors.Join(errs...)
}

func (e *Exporter) tableLayout(ctx context.Context, tableName string) (*layout, error) {
	ts, err := e.gc.MetaStore.GetTableSchema(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("error in MetaStore.GetTableSchema: %w", err)
	}
	l := &layout{def: ts.Def}
	l.def.Columns = nil
	for _, col := range ts.Def.Columns {
		dt, err := col.Type.ArrowType()
		if err != nil || !reader.Readable(dt) {
			l.skipped = append(l.skipped, col.Name)
			continue
		}
		l.def.Columns = append(l.def.Columns, col)
	}
	if len(l.def.Columns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoExportableColumns, tableName)
	}

	l.psa, err = parquet_accumulator.FromTableDef(l.def, false)
	if err != nil {
		return nil, fmt.Errorf("error in FromTableDef: %w", err)
	}
	l.schema, err = l.psa.GetSchemaString()
	if err != nil {
		return nil, fmt.Errorf("error in GetSchemaString: %w", err)
	}
	return l, nil
}

func (e *Exporter) exportTable(ctx context.Context, tableName string, plans []partitioner.PartitionPlan) (TableStats, error) {
	logger := zerolog.Ctx(ctx).With().Str("table", tableName).Logger()
	stats := TableStats{Table: tableName, Parts: make([]part.Part, 0)}

	l, err := e.tableLayout(ctx, tableName)
	if err != nil {
		return stats, err
	}
	stats.Skipped = l.skipped
	if len(l.skipped) > 0 {
		logger.Warn().Strs("columns", l.skipped).Msg("skipping columns that cannot be read back")
	}

	columns := l.psa.GetColumnNames()
	res, err := e.sess.Scan(ctx, session.ScanRequest{Table: tableName, Columns: columns})
	if err != nil {
		return stats, fmt.Errorf("error scanning %s: %w", tableName, err)
	}

	partitions := make(map[string][]map[string]any)
	for _, row := range res.Rows {
		p, err := partitioner.GetRowPartition(row, plans)
		if err != nil {
			return stats, fmt.Errorf("error in GetRowPartition: %w", err)
		}
		partitions[p] = append(partitions[p], row)
	}
	keys := make([]string, 0, len(partitions))
	for k := range partitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, partition := range keys {
		p, err := e.writePart(ctx, l, tableName, partition, partitions[partition])
		if err != nil {
			return stats, err
		}
		if err := e.gc.MetaStore.CreatePart(ctx, tableName, p); err != nil {
			return stats, fmt.Errorf("error in MetaStore.CreatePart: %w", err)
		}
		metrics.ExportedParts.WithLabelValues(tableName).Inc()
		stats.Parts = append(stats.Parts, p)
		stats.Rows += p.RowCount
		stats.Bytes += p.Bytes
	}
	logger.Debug().Int("parts", len(stats.Parts)).Int64("rows", stats.Rows).Msg("exported table")
	return stats, nil
}

// writePart encodes rows as one parquet file and hands it to the sink. The
// returned part is not recorded yet.
func (e *Exporter) writePart(ctx context.Context, l *layout, tableName, partition string, rows []map[string]any) (part.Part, error) {
	data, err := encodeParquet(l.schema, rows)
	if err != nil {
		return part.Part{}, err
	}
	id := utils.GenKSortedID("")
	fileName := path.Join(tableName, partition, id+".parquet")
	if err := e.sink.Write(ctx, fileName, data); err != nil {
		return part.Part{}, fmt.Errorf("error writing part %s: %w", fileName, err)
	}
	return part.Part{
		ID:        id,
		Table:     tableName,
		Alive:     true,
		CreatedAt: time.Now(),
		RowCount:  int64(len(rows)),
		Bytes:     int64(len(data)),
		Partition: partition,
		FileName:  fileName,
	}, nil
}

func encodeParquet(schema string, rows []map[string]any) ([]byte, error) {
	var b bytes.Buffer
	pw, err := writer.NewJSONWriterFromWriter(schema, &b, parquetParallelism)
	if err != nil {
		return nil, fmt.Errorf("error in NewJSONWriterFromWriter: %w", err)
	}
	for _, row := range rows {
		// NULLs are written as absent keys
		present := make(map[string]any, len(row))
		for k, v := range row {
			if v != nil {
				present[k] = v
			}
		}
		rowBytes, err := json.Marshal(present)
		if err != nil {
			return nil, fmt.Errorf("error in json.Marshal of row: %w", err)
		}
		if err := pw.Write(string(rowBytes)); err != nil {
			return nil, fmt.Errorf("error in pw.Write for row %s: %w", string(rowBytes), err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("error in pw.WriteStop: %w", err)
	}
	return b.Bytes(), nil
}

// ReadPart reads every row of an exported part back. NULLs are absent keys.
func (e *Exporter) ReadPart(ctx context.Context, p part.Part) ([]map[string]any, error) {
	l, err := e.tableLayout(ctx, p.Table)
	if err != nil {
		return nil, err
	}
	return e.readPart(ctx, l, p)
}

func (e *Exporter) readPart(ctx context.Context, l *layout, p part.Part) ([]map[string]any, error) {
	fr, err := e.sink.Open(ctx, p.FileName)
	if err != nil {
		return nil, fmt.Errorf("error opening part %s: %w", p.ID, err)
	}
	defer fr.Close()

	pr, err := pqreader.NewParquetReader(fr, l.schema, parquetParallelism)
	if err != nil {
		return nil, fmt.Errorf("error creating parquet reader for part %s: %w", p.ID, err)
	}
	defer pr.ReadStop()

	items, err := pr.ReadByNumber(int(pr.GetNumRows()))
	if err != nil {
		return nil, fmt.Errorf("error reading rows for part %s: %w", p.ID, err)
	}
	rows := make([]map[string]any, 0, len(items))
	for _, item := range items {
		rows = append(rows, l.psa.StructToRow(item))
	}
	return rows, nil
}

// GetPart finds an alive part of tableName.
func (e *Exporter) GetPart(ctx context.Context, tableName, partID string) (part.Part, error) {
	parts, err := e.gc.MetaStore.ListParts(ctx, tableName, metastore.FilterOption{
		Operator: metastore.IN,
		Val:      []string{partID},
	})
	if err != nil {
		return part.Part{}, fmt.Errorf("error in MetaStore.ListParts: %w", err)
	}
	if len(parts) == 0 {
		return part.Part{}, fmt.Errorf("%w: %s", metastore.ErrPartNotFound, partID)
	}
	return parts[0], nil
}

// Download returns the raw parquet bytes of a part.
func (e *Exporter) Download(ctx context.Context, p part.Part) ([]byte, error) {
	data, err := e.sink.Read(ctx, p.FileName)
	if err != nil {
		return nil, fmt.Errorf("error reading part %s: %w", p.ID, err)
	}
	return data, nil
}

// MergeParts rewrites the oldest small parts of one partition as a single
// part. A zero FilesMerged means nothing needed merging.
func (e *Exporter) MergeParts(ctx context.Context, tableName string, opts MergeOptions) (MergeStats, error) {
	logger := zerolog.Ctx(ctx).With().Str("table", tableName).Logger()
	var stats MergeStats

	l, err := e.tableLayout(ctx, tableName)
	if err != nil {
		return stats, err
	}
	parts, err := e.gc.MetaStore.ListParts(ctx, tableName)
	if err != nil {
		return stats, fmt.Errorf("error in MetaStore.ListParts: %w", err)
	}

	maxBytes := utils.Deref(opts.MaxPreMergeFileBytes, 1_000_000_000)
	maxFiles := int(utils.Deref(opts.MaxMergeFiles, 4))
	byPartition := make(map[string][]part.Part)
	var order []string
	for _, p := range parts {
		if opts.Partition != nil && p.Partition != *opts.Partition {
			continue
		}
		if p.Bytes > maxBytes {
			continue
		}
		if _, ok := byPartition[p.Partition]; !ok {
			order = append(order, p.Partition)
		}
		byPartition[p.Partition] = append(byPartition[p.Partition], p)
	}
	sort.Strings(order)

	var toMerge []part.Part
	for _, partition := range order {
		if candidates := byPartition[partition]; len(candidates) >= 2 {
			toMerge = candidates
			stats.Partition = partition
			break
		}
	}
	if len(toMerge) < 2 {
		logger.Debug().Msg("not enough parts to merge")
		return stats, nil
	}
	if len(toMerge) > maxFiles {
		toMerge = toMerge[:maxFiles]
	}

	var merged []map[string]any
	oldIDs := make([]string, 0, len(toMerge))
	for _, p := range toMerge {
		rows, err := e.readPart(ctx, l, p)
		if err != nil {
			return stats, err
		}
		merged = append(merged, rows...)
		oldIDs = append(oldIDs, p.ID)
	}

	newPart, err := e.writePart(ctx, l, tableName, stats.Partition, merged)
	if err != nil {
		return stats, err
	}
	if err := e.gc.MetaStore.ReplaceParts(ctx, tableName, oldIDs, newPart); err != nil {
		return stats, fmt.Errorf("error in MetaStore.ReplaceParts: %w", err)
	}
	metrics.ExportedParts.WithLabelValues(tableName).Inc()

	stats.FilesMerged = int64(len(toMerge))
	stats.RowsMerged = newPart.RowCount
	stats.PostMergeBytes = newPart.Bytes
	stats.Part = &newPart
	logger.Debug().Interface("stats", stats).Msg("merged parts")
	return stats, nil
}
