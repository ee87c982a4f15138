package part

import "time"

type (
	// Part is one parquet file written by an export of a table.
	Part struct {
		// ID is k-sorted, later parts compare greater
		ID        string
		Table     string
		Alive     bool
		CreatedAt time.Time
		RowCount  int64
		Bytes     int64
		// Partition is the partitioner path, e.g. `year=2022/month=12`. Empty
		// when the export was not partitioned.
		Partition string
		// FileName is the object key or local path the part was written to
		FileName string
	}
)
