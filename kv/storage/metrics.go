package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

var (
	regionOperationsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tinysi",
			Subsystem: "region",
			Name:      "active_operations",
			Help:      "Number of region operations in flight.",
		}, []string{"table"})

	regionRejectedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinysi",
			Subsystem: "region",
			Name:      "rejected_operations_total",
			Help:      "Counter of region operations rejected before they started.",
		}, []string{"table", "reason"})
)

func init() {
	prometheus.MustRegister(regionOperationsGauge)
	prometheus.MustRegister(regionRejectedCounter)
}

// ScanMetrics counts what a scanner did. It can be shared by several scanners.
type ScanMetrics struct {
	RowsVisited  atomic.Int64
	RowsFiltered atomic.Int64
	BytesOutput  atomic.Int64
}

// RowsOutput is the number of rows returned to the caller.
func (m *ScanMetrics) RowsOutput() int64 {
	return m.RowsVisited.Load() - m.RowsFiltered.Load()
}
