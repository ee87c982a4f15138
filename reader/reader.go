// Package reader turns a planned key range into arrow records, one record per
// batch, pulled on demand.
package reader

import (
	"context"
	"sync/atomic"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/danthegoodman1/kvsql/core"
	"github.com/danthegoodman1/kvsql/gologger"
	"github.com/danthegoodman1/kvsql/metrics"
	"github.com/danthegoodman1/kvsql/planner"
	"github.com/danthegoodman1/kvsql/scanerr"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	logger = gologger.NewLogger()
)

const DefaultBatchSize = 1024

type (
	// Reader is an array.RecordReader over one table scan. It is not safe for
	// concurrent use; run one Reader per scan.
	Reader struct {
		refCount int64

		ctx       context.Context
		table     string
		plan      planner.ScanPlan
		batchSize int
		// remaining is the number of rows still allowed, -1 for no limit
		remaining int

		scanner *rowScanner
		mat     *materializer

		cur arrow.Record
		err error
	}

	Option func(*Reader)
)

var _ array.RecordReader = (*Reader)(nil)

// WithAllocator sets the allocator records are built with.
func WithAllocator(mem memory.Allocator) Option {
	return func(r *Reader) {
		r.mat.mem = mem
	}
}

// WithLimit stops the scan after n rows.
func WithLimit(n int) Option {
	return func(r *Reader) {
		if n < 0 {
			n = 0
		}
		r.remaining = n
	}
}

// New creates a reader producing records of schema for the rows plan selects.
// ctx scopes the whole scan: it carries the scan logger and is passed to every
// store call. A batchSize below one uses DefaultBatchSize.
func New(ctx context.Context, gc *core.GlobalContext, plan planner.ScanPlan, schema *arrow.Schema, batchSize int, opts ...Option) *Reader {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	ctx = gologger.WithScanLogger(ctx, uuid.NewString(), plan.Table)

	r := &Reader{
		refCount:  1,
		ctx:       ctx,
		table:     plan.Table,
		plan:      plan,
		batchSize: batchSize,
		remaining: -1,
		scanner:   newRowScanner(gc.Store(), plan),
		mat: &materializer{
			gc:     gc,
			table:  plan.Table,
			schema: schema,
			mem:    memory.DefaultAllocator,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	metrics.ScanPlans.WithLabelValues(plan.Strategy.String()).Inc()
	return r
}

func (r *Reader) Plan() planner.ScanPlan { return r.plan }

func (r *Reader) Schema() *arrow.Schema { return r.mat.schema }

func (r *Reader) Retain() {
	atomic.AddInt64(&r.refCount, 1)
}

// Release drops a reference. The last one closes the store iterator and
// releases the current record.
func (r *Reader) Release() {
	if atomic.AddInt64(&r.refCount, -1) != 0 {
		return
	}
	if r.cur != nil {
		r.cur.Release()
		r.cur = nil
	}
	r.scanner.close()
}

// Next pulls the next batch. It returns false at the end of the scan and after
// an error, see Err.
func (r *Reader) Next() bool {
	if r.cur != nil {
		r.cur.Release()
		r.cur = nil
	}
	if r.err != nil {
		return false
	}

	want := r.batchSize
	if r.remaining >= 0 {
		if r.remaining == 0 {
			r.scanner.close()
			return false
		}
		want = min(want, r.remaining)
	}

	rowids, err := r.scanner.next(r.ctx, want)
	if err != nil {
		r.fail(err)
		return false
	}
	if len(rowids) == 0 {
		return false
	}
	if r.remaining > 0 {
		r.remaining -= len(rowids)
	}

	rec, err := r.mat.materialize(r.ctx, rowids)
	if err != nil {
		r.fail(err)
		return false
	}
	r.cur = rec
	metrics.ScanBatches.WithLabelValues(r.table).Inc()
	metrics.ScanRows.WithLabelValues(r.table).Add(float64(rec.NumRows()))
	return true
}

func (r *Reader) fail(err error) {
	r.err = err
	r.scanner.close()
	metrics.ScanErrors.WithLabelValues(scanerr.Kind(err)).Inc()
	zerolog.Ctx(r.ctx).Error().Err(err).Msg("scan failed")
}

// Record is the current batch. It is only valid until the next call to Next
// or Release; Retain it to keep it longer.
func (r *Reader) Record() arrow.Record { return r.cur }

func (r *Reader) Err() error { return r.err }
