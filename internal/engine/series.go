// Package engine derives risk metrics from on-chain cumulative price series.
// It turns raw accumulator samples into time-weighted average prices and fits
// a drift/volatility model to their log-returns, producing closed-form VaR
// bounds. All functions are pure over fully materialised, ordered input.
package engine

import "fmt"

// PricePoint is one raw observation of a cumulative price accumulator.
type PricePoint struct {
	// Timestamp is unix epoch seconds.
	Timestamp int64
	// Value is the accumulator reading at Timestamp.
	Value float64
}

// TWAPSample is a decoded time-weighted average price over one window.
type TWAPSample struct {
	// Timestamp is the window close time, unix epoch seconds.
	Timestamp int64
	// Window is the actual elapsed seconds covered by the sample.
	Window float64
	// TWAP is the decoded price, always positive.
	TWAP float64
}

// ValidateSeries checks that a series is strictly ascending in timestamp.
// Upstream ingestion must deliver ordered data; this guards the boundary.
func ValidateSeries(series []PricePoint) error {
	for i := 1; i < len(series); i++ {
		if series[i].Timestamp <= series[i-1].Timestamp {
			return fmt.Errorf("series not strictly ascending at index %d: %d <= %d",
				i, series[i].Timestamp, series[i-1].Timestamp)
		}
	}
	return nil
}
