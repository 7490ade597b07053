package engine

import (
	"fmt"
	"math"
)

// tickBase converts a tick accumulator rate into a price: price = 1.0001^tick.
const tickBase = 1.0001

// DynamicWindowTWAP computes TWAPs over an irregular-cadence series. For
// every row it scans nearby lags and picks the one whose elapsed time best
// matches the target window. This handles chains where block production time
// varies, so a fixed row-count window does not correspond to a fixed elapsed
// time.
type DynamicWindowTWAP struct {
	// Window is the target elapsed time in seconds.
	Window float64
	// Period is the expected sampling spacing in seconds.
	Period float64
	// Tolerance is the allowed deviation of the elapsed time from Window.
	Tolerance float64
	// Invert flips the decoded price for the inverse-direction accumulator.
	Invert bool
}

// maxLag bounds the lag scan to twice the nominal window plus slack.
func (w DynamicWindowTWAP) maxLag() int {
	return int(math.Ceil(w.Window/w.Period+1)) * 2
}

// Samples computes one TWAPSample per row with a candidate lag inside the
// tolerance band. Rows near the series start that cannot be scored against
// every candidate lag are excluded rather than scored partially.
func (w DynamicWindowTWAP) Samples(series []PricePoint) ([]TWAPSample, error) {
	if w.Window <= 0 || w.Period <= 0 {
		return nil, fmt.Errorf("window and period must be positive, got window=%v period=%v", w.Window, w.Period)
	}
	if w.Tolerance < 0 {
		return nil, fmt.Errorf("tolerance cannot be negative, got %v", w.Tolerance)
	}

	maxLag := w.maxLag()
	lower := w.Window - w.Tolerance
	upper := w.Window + w.Tolerance

	out := make([]TWAPSample, 0, max(0, len(series)-maxLag))
	for row := maxLag; row < len(series); row++ {
		// First minimum wins on ties, scanning lags ascending.
		bestLag := 1
		bestScore := math.Inf(1)
		for lag := 1; lag <= maxLag; lag++ {
			elapsed := float64(series[row].Timestamp - series[row-lag].Timestamp)
			score := math.Abs(elapsed - w.Window)
			if score < bestScore {
				bestScore = score
				bestLag = lag
			}
		}

		dt := float64(series[row].Timestamp - series[row-bestLag].Timestamp)
		if dt <= 0 || dt < lower || dt > upper {
			continue
		}

		dv := series[row].Value - series[row-bestLag].Value
		twap := math.Pow(tickBase, dv/dt)
		if w.Invert {
			twap = 1 / twap
		}
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
