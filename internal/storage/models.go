package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// CumulativeSample is one raw accumulator observation written by the
// collector. Values are kept as decimals: tick and price cumulatives exceed
// what float64 columns hold without loss.
type CumulativeSample struct {
	QuoteID    string
	Token0Name string
	Token1Name string
	Field      string
	TS         time.Time
	Value      decimal.Decimal
	CreatedAt  time.Time
}

// RiskMetric is one persisted risk record for a (quote, field) pair: the
// calibrated drift/variance rates plus the full VaR grid, labels preserved
// verbatim.
type RiskMetric struct {
	ID        int64
	QuoteID   string
	TokenName string
	FieldType string
	TS        time.Time
	Mu        float64
	SigSqrd   float64
	VaR       map[string]float64
	CreatedAt time.Time
}
