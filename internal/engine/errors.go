package engine

import "errors"

var (
	// ErrInsufficientHistory indicates fewer than two TWAP samples survived
	// windowing, so no log-return exists to calibrate against.
	ErrInsufficientHistory = errors.New("engine: insufficient history")

	// ErrNumericDegeneracy indicates NaN or Inf surfaced in mu, sigSqrd, or a
	// VaR cell. The estimate is dropped rather than emitted.
	ErrNumericDegeneracy = errors.New("engine: numeric degeneracy in estimate")
)
