package reader

import (
	"bytes"
	"context"
	"errors"
	"unicode/utf8"

	"github.com/danthegoodman1/kvsql/datastore"
	"github.com/danthegoodman1/kvsql/keycodec"
	"github.com/danthegoodman1/kvsql/planner"
	"github.com/danthegoodman1/kvsql/scanerr"
	"github.com/rs/zerolog"
)

type scanState int

const (
	seeking scanState = iota
	streaming
	exhausted
)

var ErrInvalidRowID = errors.New("rowid is not valid utf8")

// rowScanner walks the planned key range and harvests rowids, batchSize at a
// time. It owns the iterator and keeps it positioned between batches.
type rowScanner struct {
	store datastore.DataStore
	plan  planner.ScanPlan
	state scanState

	iter datastore.Iterator
	// valid is true while iter sits on an entry that has not been looked at
	valid bool
}

func newRowScanner(store datastore.DataStore, plan planner.ScanPlan) *rowScanner {
	return &rowScanner{store: store, plan: plan}
}

// next returns up to batchSize rowids. An empty result means the scan is over.
// After an error the scanner is exhausted and no rowids of the failed batch
// are returned.
func (rs *rowScanner) next(ctx context.Context, batchSize int) ([]string, error) {
	logger := zerolog.Ctx(ctx)

	switch rs.state {
	case exhausted:
		return nil, nil
	case seeking:
		if rs.plan.Strategy == planner.NoRecord {
			rs.state = exhausted
			return nil, nil
		}
		iter, err := rs.store.NewIterator(ctx, rs.plan.Start.Key, keycodec.PrefixEnd(rs.plan.Space))
		if err != nil {
			rs.state = exhausted
			return nil, scanerr.IO("iter", rs.plan.Start.Key, err)
		}
		rs.iter = iter
		rs.valid = iter.SeekGE(rs.plan.Start.Key)
		rs.state = streaming
	}

	start, end := rs.plan.Start, rs.plan.End
	rowids := make([]string, 0, batchSize)
	for rs.valid && len(rowids) < batchSize {
		key := rs.iter.Key()
		logger.Debug().Bytes("key", key).Msg("row key")

		if start.Interval == keycodec.Open && start.Covers(key) {
			rs.valid = rs.iter.Next()
			continue
		}
		if end.Interval == keycodec.Open && end.Covers(key) {
			rs.valid = false
			break
		}
		if !end.Covers(key) && bytes.Compare(key, end.Key) > 0 {
			rs.valid = false
			break
		}

		value := rs.iter.Value()
		if !utf8.Valid(value) {
			err := scanerr.Decode("rowid", key, "utf8", value, ErrInvalidRowID)
			rs.close()
			return nil, err
		}
		rowid := string(value)
		logger.Debug().Str("rowid", rowid).Msg("row value")
		rowids = append(rowids, rowid)
		rs.valid = rs.iter.Next()
	}

	if !rs.valid {
		if err := rs.iter.Error(); err != nil {
			rs.close()
			return nil, scanerr.IO("iter", nil, err)
		}
		rs.close()
	}
	return rowids, nil
}

// close releases the iterator and moves the scanner to exhausted. It is safe to
// call in any state.
func (rs *rowScanner) close() {
	rs.state = exhausted
	rs.valid = false
	if rs.iter == nil {
		return
	}
	if err := rs.iter.Close(); err != nil {
		logger.Error().Err(err).Msg("error closing iterator")
	}
	rs.iter = nil
}
