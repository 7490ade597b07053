// Package ingest supplies the engine's input: ordered cumulative series read
// from storage, and a collector that keeps storage fed from on-chain pools.
// Retry and backoff live here, never in the engine; an exhausted fetch means
// "no input for this series this cycle".
package ingest

import (
	"context"
	"fmt"
	"time"

	"pool-risk-metrics/internal/engine"
	"pool-risk-metrics/internal/storage"
)

// SeriesSource delivers a complete, ordered series for one (quote, field)
// pair, or fails the whole series.
type SeriesSource interface {
	FetchSeries(ctx context.Context, quoteID, field string, from time.Time) ([]engine.PricePoint, error)
}

// StoreSource reads series from the cumulative sample store.
type StoreSource struct {
	store storage.SampleStore
}

// NewStoreSource wraps a sample store as a SeriesSource.
func NewStoreSource(store storage.SampleStore) *StoreSource {
	return &StoreSource{store: store}
}

// FetchSeries materialises one ordered series and validates its ordering at
// the engine boundary.
func (s *StoreSource) FetchSeries(ctx context.Context, quoteID, field string, from time.Time) ([]engine.PricePoint, error) {
	samples, err := s.store.ListCumulativeSeries(ctx, quoteID, field, from)
	if err != nil {
		return nil, fmt.Errorf("fetch series %s/%s: %w", quoteID, field, err)
	}

	series := make([]engine.PricePoint, len(samples))
	for i, sample := range samples {
		series[i] = engine.PricePoint{
			Timestamp: sample.TS.Unix(),
			Value:     sample.Value.InexactFloat64(),
		}
	}

	if err := engine.ValidateSeries(series); err != nil {
		return nil, fmt.Errorf("series %s/%s: %w", quoteID, field, err)
	}
	return series, nil
}

var _ SeriesSource = (*StoreSource)(nil)
