package engine

import "fmt"

// FixedWindowTWAP computes TWAPs over a series sampled at a uniform cadence
// by differencing accumulator values exactly Window samples apart. It does
// not verify the cadence at runtime; jitter tolerance is DynamicWindowTWAP's
// job.
type FixedWindowTWAP struct {
	// Window is the span of the rolling difference, in samples.
	Window int
	// AmountIn scales the decoded rate (swap input amount of the quote).
	AmountIn float64
}

// Samples computes one TWAPSample per row whose window is complete. Rows
// without Window rows of history yield no sample, and decoded prices that
// are not strictly positive are dropped as a data-quality filter.
func (w FixedWindowTWAP) Samples(series []PricePoint) ([]TWAPSample, error) {
	if w.Window <= 0 {
		return nil, fmt.Errorf("fixed window must be positive, got %d", w.Window)
	}

	out := make([]TWAPSample, 0, max(0, len(series)-w.Window))
	for row := w.Window; row < len(series); row++ {
		dv := series[row].Value - series[row-w.Window].Value
		dt := float64(series[row].Timestamp - series[row-w.Window].Timestamp)
		if dt <= 0 {
			continue
		}

		twap := decodeRate(dv/dt, w.AmountIn)
		if !(twap > 0) {
			continue
		}

		out = append(out, TWAPSample{
			Timestamp: series[row].Timestamp,
			Window:    dt,
			TWAP:      twap,
		})
	}
	return out, nil
}
