package storage

import (
	"context"

	"pool-risk-metrics/internal/emit"
)

// MetricSink adapts the metric store to the emit boundary: flat records in,
// risk_metrics rows out.
type MetricSink struct {
	store MetricStore
}

// NewMetricSink wraps a MetricStore as an emit.Sink.
func NewMetricSink(store MetricStore) *MetricSink {
	return &MetricSink{store: store}
}

// Emit persists one record. The "mu" and "sigSqrd" fields map to dedicated
// columns; every remaining field is a VaR grid cell and lands in var_grid
// with its label untouched.
func (s *MetricSink) Emit(ctx context.Context, record emit.Record) error {
	grid := make(map[string]float64, len(record.Fields))
	for label, value := range record.Fields {
		if label == "mu" || label == "sigSqrd" {
			continue
		}
		grid[label] = value
	}

	return s.store.InsertRiskMetric(ctx, RiskMetric{
		QuoteID:   record.QuoteID,
		TokenName: record.TokenName,
		FieldType: record.FieldType,
		TS:        record.Timestamp,
		Mu:        record.Fields["mu"],
		SigSqrd:   record.Fields["sigSqrd"],
		VaR:       grid,
	})
}

var _ emit.Sink = (*MetricSink)(nil)
