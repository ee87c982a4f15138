package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScanPlans counts planned scans by strategy.
	ScanPlans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvsql_scan_plans_total",
			Help: "Total number of planned scans",
		},
		[]string{"strategy"},
	)
	ScanBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvsql_scan_batches_total",
			Help: "Total number of record batches produced by scans",
		},
		[]string{"table"},
	)
	ScanRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvsql_scan_rows_total",
			Help: "Total number of rows produced by scans",
		},
		[]string{"table"},
	)
	// ScanErrors counts failed scans by error kind (planning, io, decode, schema).
	ScanErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvsql_scan_errors_total",
			Help: "Total number of failed scans",
		},
		[]string{"kind"},
	)
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvsql_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kvsql_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	// ExportedParts counts parquet files written by exports.
	ExportedParts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvsql_exported_parts_total",
			Help: "Total number of exported parquet parts",
		},
		[]string{"table"},
	)
)
