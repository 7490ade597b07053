// Package emit packages risk estimates into the external record shape. The
// core guarantees the exact field set and naming; the transport behind Sink
// is a collaborator concern.
package emit

import (
	"context"
	"time"

	"pool-risk-metrics/internal/engine"
)

// Record is one flat risk record for a (quote, field) pair.
type Record struct {
	QuoteID   string
	TokenName string
	// FieldType tags which accumulator direction produced the record,
	// e.g. "price0Cumulative".
	FieldType string
	Timestamp time.Time
	// Fields holds mu, sigSqrd, and one entry per VaR grid cell with its
	// label preserved verbatim.
	Fields map[string]float64
}

// Sink consumes records. Implementations own retries and transport failures;
// a failed emit skips the series for the cycle, nothing more.
type Sink interface {
	Emit(ctx context.Context, record Record) error
}

// BuildRecord flattens a RiskStat into the record shape. The field set is
// deterministic: "mu", "sigSqrd", and every configured VaR cell.
func BuildRecord(stat *engine.RiskStat, quoteID, tokenName, fieldType string) Record {
	fields := make(map[string]float64, len(stat.VaR)+2)
	fields["mu"] = stat.Mu
	fields["sigSqrd"] = stat.SigSqrd
	for label, v := range stat.VaR {
		fields[label] = v
	}

	return Record{
		QuoteID:   quoteID,
		TokenName: tokenName,
		FieldType: fieldType,
		Timestamp: time.Unix(stat.Timestamp, 0).UTC(),
		Fields:    fields,
	}
}
