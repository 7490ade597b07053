package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pool-risk-metrics/internal/alerting"
	"pool-risk-metrics/internal/config"
	"pool-risk-metrics/internal/emit"
	"pool-risk-metrics/internal/engine"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

type fakeSource struct {
	mu     sync.Mutex
	series map[string][]engine.PricePoint
	errs   map[string]error
}

func (f *fakeSource) key(quoteID, field string) string {
	return quoteID + "|" + field
}

func (f *fakeSource) FetchSeries(_ context.Context, quoteID, field string, _ time.Time) ([]engine.PricePoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.key(quoteID, field)
	if err, ok := f.errs[k]; ok {
		return nil, err
	}
	return f.series[k], nil
}

type fakeSink struct {
	mu      sync.Mutex
	records []emit.Record
	err     error
}

func (f *fakeSink) Emit(_ context.Context, record emit.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, record)
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, note alerting.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, note)
	return nil
}

func testConfig(quotes ...config.QuoteConfig) *config.Config {
	return &config.Config{
		Metrics: config.MetricsConfig{
			PointsDays: 30,
			Window:     3600,
			Period:     600,
			Tolerance:  300,
			Alphas:     []float64{0.05, 0.01},
			Horizons:   []int{144, 1008},
			Workers:    2,
		},
		Quotes: quotes,
	}
}

func univ3Quote(id string) config.QuoteConfig {
	return config.QuoteConfig{
		ID:         id,
		Pair:       "0x0000000000000000000000000000000000000001",
		Kind:       config.KindUniV3,
		Token0Name: "WETH",
		Token1Name: "USDC",
	}
}

// tickSeries produces a uniform 600s cadence with a constant tick rate of one
// per second, so every derived TWAP equals 1.0001 and all returns are zero.
func tickSeries(n int, start int64) []engine.PricePoint {
	pts := make([]engine.PricePoint, n)
	for i := range pts {
		pts[i] = engine.PricePoint{Timestamp: start + int64(i)*600, Value: float64(i) * 600}
	}
	return pts
}

// bumpyTickSeries cycles tick increments with period four so six-step windows
// see alternating averages and the return series has nonzero variance.
func bumpyTickSeries(n int, start int64) []engine.PricePoint {
	pts := make([]engine.PricePoint, n)
	value := 0.0
	for i := range pts {
		pts[i] = engine.PricePoint{Timestamp: start + int64(i)*600, Value: value}
		if i%4 == 3 {
			value += 1800
		} else {
			value += 600
		}
	}
	return pts
}

func newTestService(t *testing.T, cfg *config.Config, source *fakeSource, sink *fakeSink, notifier alerting.Notifier) *Service {
	t.Helper()
	svc, err := New(cfg, nil, source, sink, notifier, nil, noopLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func TestRunCycleEmitsPerFeed(t *testing.T) {
	cfg := testConfig(univ3Quote("WETH / USDC"))
	source := &fakeSource{series: map[string][]engine.PricePoint{
		"WETH / USDC|tick_cumulative": tickSeries(30, 1_700_000_000),
	}}
	sink := &fakeSink{}
	svc := newTestService(t, cfg, source, sink, nil)

	outcomes := svc.RunCycle(context.Background(), time.Unix(1_700_100_000, 0))
	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Status != StatusEmitted {
			t.Fatalf("feed %s skipped: %s", o.FieldType, o.Reason)
		}
	}

	if len(sink.records) != 2 {
		t.Fatalf("sink received %d records, want 2", len(sink.records))
	}
	seen := map[string]bool{}
	lastTS := time.Unix(1_700_000_000+29*600, 0).UTC()
	for _, rec := range sink.records {
		seen[rec.FieldType] = true
		if !rec.Timestamp.Equal(lastTS) {
			t.Errorf("record timestamp = %v, want %v", rec.Timestamp, lastTS)
		}
		if rec.Fields["mu"] != 0 {
			t.Errorf("constant-rate series must yield mu=0, got %v", rec.Fields["mu"])
		}
	}
	if !seen["price0Cumulative"] || !seen["price1Cumulative"] {
		t.Fatalf("missing a feed direction: %v", seen)
	}
}

func TestRunCycleIsolatesFailures(t *testing.T) {
	cfg := testConfig(univ3Quote("GOOD / USDC"), univ3Quote("BAD / USDC"))
	source := &fakeSource{
		series: map[string][]engine.PricePoint{
			"GOOD / USDC|tick_cumulative": tickSeries(30, 1_700_000_000),
		},
		errs: map[string]error{
			"BAD / USDC|tick_cumulative": errors.New("connection refused"),
		},
	}
	sink := &fakeSink{}
	svc := newTestService(t, cfg, source, sink, nil)

	outcomes := svc.RunCycle(context.Background(), time.Unix(1_700_100_000, 0))
	if len(outcomes) != 4 {
		t.Fatalf("got %d outcomes, want 4", len(outcomes))
	}

	emitted, skipped := 0, 0
	for _, o := range outcomes {
		switch o.Status {
		case StatusEmitted:
			emitted++
			if o.QuoteID != "GOOD / USDC" {
				t.Errorf("unexpected emit for %s", o.QuoteID)
			}
		case StatusSkipped:
			skipped++
			if o.QuoteID != "BAD / USDC" {
				t.Errorf("unexpected skip for %s: %s", o.QuoteID, o.Reason)
			}
			if !strings.Contains(o.Reason, "fetch series") {
				t.Errorf("skip reason = %q, want fetch failure", o.Reason)
			}
		}
	}
	if emitted != 2 || skipped != 2 {
		t.Fatalf("emitted=%d skipped=%d, want 2/2", emitted, skipped)
	}
	if len(sink.records) != 2 {
		t.Fatalf("sink received %d records, want 2", len(sink.records))
	}
}

func TestRunCycleShortSeriesSkipped(t *testing.T) {
	cfg := testConfig(univ3Quote("WETH / USDC"))
	source := &fakeSource{series: map[string][]engine.PricePoint{
		"WETH / USDC|tick_cumulative": tickSeries(3, 1_700_000_000),
	}}
	sink := &fakeSink{}
	svc := newTestService(t, cfg, source, sink, nil)

	outcomes := svc.RunCycle(context.Background(), time.Unix(1_700_100_000, 0))
	for _, o := range outcomes {
		if o.Status != StatusSkipped {
			t.Fatalf("short series must be skipped, got %v", o.Status)
		}
		if !strings.Contains(o.Reason, "estimate") {
			t.Errorf("skip reason = %q, want estimation failure", o.Reason)
		}
	}
	if len(sink.records) != 0 {
		t.Fatalf("sink must stay empty, got %d records", len(sink.records))
	}
}

func TestRunCycleEnforceHistory(t *testing.T) {
	cfg := testConfig(univ3Quote("WETH / USDC"))
	cfg.Metrics.EnforceHistory = true
	source := &fakeSource{series: map[string][]engine.PricePoint{
		"WETH / USDC|tick_cumulative": tickSeries(30, 1_700_000_000),
	}}
	sink := &fakeSink{}
	svc := newTestService(t, cfg, source, sink, nil)

	outcomes := svc.RunCycle(context.Background(), time.Unix(1_700_100_000, 0))
	for _, o := range outcomes {
		if o.Status != StatusSkipped {
			t.Fatalf("five hours of history must not pass a 30-day guard")
		}
		if !strings.Contains(o.Reason, "history spans") {
			t.Errorf("skip reason = %q, want history guard", o.Reason)
		}
	}

	cfg.Metrics.EnforceHistory = false
	outcomes = svc.RunCycle(context.Background(), time.Unix(1_700_100_000, 0))
	for _, o := range outcomes {
		if o.Status != StatusEmitted {
			t.Fatalf("guard disabled, series must be processed: %s", o.Reason)
		}
	}
}

func TestRunCycleFixedWindowQuote(t *testing.T) {
	pow112 := 1.0
	for i := 0; i < 112; i++ {
		pow112 *= 2
	}

	cfg := testConfig(config.QuoteConfig{
		ID:         "DAI / USDT",
		Pair:       "0x0000000000000000000000000000000000000002",
		Kind:       config.KindUniV2,
		Token0Name: "DAI",
		Token1Name: "USDT",
		AmountIn:   2,
	})

	// Constant accumulator rate of 2^112 per second decodes to a price of 2
	// for amountIn=2 after the 112-bit shift halves it.
	n := 20
	pts0 := make([]engine.PricePoint, n)
	pts1 := make([]engine.PricePoint, n)
	for i := 0; i < n; i++ {
		ts := int64(1_700_000_000 + i*600)
		pts0[i] = engine.PricePoint{Timestamp: ts, Value: float64(i) * 600 * pow112}
		pts1[i] = engine.PricePoint{Timestamp: ts, Value: float64(i) * 300 * pow112}
	}
	source := &fakeSource{series: map[string][]engine.PricePoint{
		"DAI / USDT|price0Cumulative": pts0,
		"DAI / USDT|price1Cumulative": pts1,
	}}
	sink := &fakeSink{}
	svc := newTestService(t, cfg, source, sink, nil)

	outcomes := svc.RunCycle(context.Background(), time.Unix(1_700_100_000, 0))
	for _, o := range outcomes {
		if o.Status != StatusEmitted {
			t.Fatalf("feed %s skipped: %s", o.FieldType, o.Reason)
		}
		// 20 points minus a 6-sample window leaves 14 rows.
		if o.Samples != 14 {
			t.Errorf("feed %s produced %d samples, want 14", o.FieldType, o.Samples)
		}
	}
	for _, rec := range sink.records {
		if rec.Fields["mu"] != 0 {
			t.Errorf("constant price series must yield mu=0, got %v", rec.Fields["mu"])
		}
	}
}

func TestRunCycleAlerts(t *testing.T) {
	cfg := testConfig(univ3Quote("WETH / USDC"))
	cfg.Alerting.Enabled = true
	cfg.Alerting.Threshold = 1e-6
	source := &fakeSource{series: map[string][]engine.PricePoint{
		"WETH / USDC|tick_cumulative": bumpyTickSeries(40, 1_700_000_000),
	}}
	sink := &fakeSink{}
	notifier := &fakeNotifier{}
	svc := newTestService(t, cfg, source, sink, notifier)

	outcomes := svc.RunCycle(context.Background(), time.Unix(1_700_100_000, 0))
	for _, o := range outcomes {
		if o.Status != StatusEmitted {
			t.Fatalf("feed %s skipped: %s", o.FieldType, o.Reason)
		}
	}

	if len(notifier.notes) == 0 {
		t.Fatal("expected at least one threshold notification")
	}
	wantLabel := fmt.Sprintf("VaR alpha=%v n=%d", 0.05, 144)
	for _, note := range notifier.notes {
		if note.Label != wantLabel {
			t.Errorf("notification label = %q, want %q", note.Label, wantLabel)
		}
	}

	// Disabled alerting must stay silent on the same data.
	cfg.Alerting.Enabled = false
	notifier.notes = nil
	svc.RunCycle(context.Background(), time.Unix(1_700_100_000, 0))
	if len(notifier.notes) != 0 {
		t.Fatalf("alerting disabled but %d notifications sent", len(notifier.notes))
	}
}

func TestProcessCycleWithoutLock(t *testing.T) {
	cfg := testConfig(univ3Quote("WETH / USDC"))
	source := &fakeSource{series: map[string][]engine.PricePoint{
		"WETH / USDC|tick_cumulative": tickSeries(30, 1_700_000_000),
	}}
	sink := &fakeSink{}
	svc := newTestService(t, cfg, source, sink, nil)

	if err := svc.ProcessCycle(context.Background(), time.Unix(1_700_100_000, 0)); err != nil {
		t.Fatalf("ProcessCycle: %v", err)
	}
	if len(sink.records) != 2 {
		t.Fatalf("sink received %d records, want 2", len(sink.records))
	}
}
