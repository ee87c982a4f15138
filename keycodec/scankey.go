package keycodec

import (
	"bytes"
	"fmt"
)

// Interval says whether keys under a ScanKey's prefix belong to the range.
type Interval int

const (
	// Closed includes keys that have the bound as a prefix.
	Closed Interval = iota
	// Open excludes keys that have the bound as a prefix.
	Open
)

func (i Interval) String() string {
	if i == Open {
		return "open"
	}
	return "closed"
}

// ScanKey is one end of a range scan.
type ScanKey struct {
	Key      []byte
	Interval Interval
}

func NewScanKey(key []byte, interval Interval) ScanKey {
	return ScanKey{Key: key, Interval: interval}
}

// Covers reports whether key has the bound as a prefix.
func (sk ScanKey) Covers(key []byte) bool {
	return bytes.HasPrefix(key, sk.Key)
}

func (sk ScanKey) String() string {
	return fmt.Sprintf("%s %q", sk.Interval, sk.Key)
}
