package engine

import (
	"fmt"
	"math"
	"strconv"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// VaRParams configure the drift/volatility calibration and the risk grid.
type VaRParams struct {
	// Period is the sampling unit t in seconds; mu and sigSqrd are
	// per-second rates.
	Period float64
	// Alphas are exceedance probabilities in (0,1).
	Alphas []float64
	// Horizons are positive integer horizons in units of Period.
	Horizons []int
}

// Validate rejects parameter sets that cannot produce a risk grid. An empty
// alpha or horizon list is a configuration error, fatal before any series is
// processed.
func (p VaRParams) Validate() error {
	if p.Period <= 0 {
		return fmt.Errorf("period must be positive, got %v", p.Period)
	}
	if len(p.Alphas) == 0 {
		return fmt.Errorf("alpha list is empty")
	}
	if len(p.Horizons) == 0 {
		return fmt.Errorf("horizon list is empty")
	}
	for _, a := range p.Alphas {
		if a <= 0 || a >= 1 {
			return fmt.Errorf("alpha must be in (0,1), got %v", a)
		}
	}
	for _, n := range p.Horizons {
		if n <= 0 {
			return fmt.Errorf("horizon must be positive, got %d", n)
		}
	}
	return nil
}

// RiskStat is one calibrated estimate plus its VaR grid, produced per series
// per cycle. Construction goes through Estimate, which refuses degenerate
// values.
type RiskStat struct {
	// Timestamp labels the estimate, unix epoch seconds.
	Timestamp int64
	// Mu is the drift rate per second.
	Mu float64
	// SigSqrd is the variance rate per second, never negative.
	SigSqrd float64
	// VaR maps grid labels (see VaRLabel) to bound values.
	VaR map[string]float64
}

// VaRLabel renders the literal grid key for one (alpha, n) cell.
func VaRLabel(alpha float64, n int) string {
	return fmt.Sprintf("VaR alpha=%s n=%d", strconv.FormatFloat(alpha, 'g', -1, 64), n)
}

// CalcVaR evaluates the bracketed exponential term of the lognormal-process
// VaR bound at horizon n*t seconds, exceeded with probability alpha:
//
//	exp(mu*n*t + sqrt(sigSqrd*n*t) * Phi^-1(1-alpha)) - 1
func CalcVaR(mu, sigSqrd, t float64, n int, alpha float64) float64 {
	nt := float64(n) * t
	q := 1 - alpha
	pow := mu*nt + math.Sqrt(sigSqrd*nt)*distuv.UnitNormal.Quantile(q)
	return math.Exp(pow) - 1
}

// Estimate calibrates a geometric Brownian motion model from a TWAP sample
// sequence and computes the configured VaR grid. It needs at least two
// samples (one log-return). Any NaN or Inf in mu, sigSqrd, or a VaR cell
// invalidates the whole estimate: the caller skips the series rather than
// emitting a degenerate stat.
func Estimate(timestamp int64, sample []float64, p VaRParams) (*RiskStat, error) {
	if len(sample) < 2 {
		return nil, fmt.Errorf("%w: %d samples, need at least 2", ErrInsufficientHistory, len(sample))
	}

	rs := make([]float64, len(sample)-1)
	for i := 1; i < len(sample); i++ {
		rs[i-1] = math.Log(sample[i] / sample[i-1])
	}

	// MLE under GBM. Population variance keeps the estimate on the same
	// normalisation as the sample mean.
	mu := stat.Mean(rs, nil) / p.Period
	sigSqrd := stat.PopVariance(rs, nil) / p.Period
	if !isFinite(mu) || !isFinite(sigSqrd) {
		return nil, fmt.Errorf("%w: mu=%v sigSqrd=%v", ErrNumericDegeneracy, mu, sigSqrd)
	}

	grid := make(map[string]float64, len(p.Alphas)*len(p.Horizons))
	for _, n := range p.Horizons {
		for _, alpha := range p.Alphas {
			v := CalcVaR(mu, sigSqrd, p.Period, n, alpha)
			if !isFinite(v) {
				return nil, fmt.Errorf("%w: %s=%v", ErrNumericDegeneracy, VaRLabel(alpha, n), v)
			}
			grid[VaRLabel(alpha, n)] = v
		}
	}

	return &RiskStat{
		Timestamp: timestamp,
		Mu:        mu,
		SigSqrd:   sigSqrd,
		VaR:       grid,
	}, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
