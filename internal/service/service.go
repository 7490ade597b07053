// Package service orchestrates metrics cycles: it pulls each quote's series,
// runs the TWAP/VaR engine, and emits records. Failures are confined to
// per-series outcomes; one series never aborts its siblings.
package service

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pool-risk-metrics/internal/alerting"
	"pool-risk-metrics/internal/config"
	"pool-risk-metrics/internal/emit"
	"pool-risk-metrics/internal/engine"
	"pool-risk-metrics/internal/ingest"
	"pool-risk-metrics/internal/scheduler"
	"pool-risk-metrics/internal/storage"
)

// Feed is one logical series of a quote: the stored field it reads and the
// identity it is emitted under.
type Feed struct {
	Field     string
	FieldType string
	TokenName string
	Invert    bool
}

// FeedsFor expands a quote into its two directional feeds. Uniswap v3 pools
// store a single tick accumulator; the price1 direction is its inversion.
func FeedsFor(q config.QuoteConfig) []Feed {
	switch q.Kind {
	case config.KindUniV3:
		return []Feed{
			{Field: ingest.FieldTickCumulative, FieldType: ingest.FieldPrice0Cumulative, TokenName: q.Token0Name},
			{Field: ingest.FieldTickCumulative, FieldType: ingest.FieldPrice1Cumulative, TokenName: q.Token1Name, Invert: true},
		}
	default:
		return []Feed{
			{Field: ingest.FieldPrice0Cumulative, FieldType: ingest.FieldPrice0Cumulative, TokenName: q.Token0Name},
			{Field: ingest.FieldPrice1Cumulative, FieldType: ingest.FieldPrice1Cumulative, TokenName: q.Token1Name},
		}
	}
}

// Status classifies one feed's cycle result.
type Status string

const (
	StatusEmitted Status = "emitted"
	StatusSkipped Status = "skipped"
)

// Outcome is the explicit per-series result consumed by the orchestrator
// instead of letting failures escape into a shared call stack.
type Outcome struct {
	QuoteID   string
	FieldType string
	Status    Status
	Reason    string
	Samples   int
}

// Service runs metrics cycles over the configured quotes.
type Service struct {
	cfg      *config.Config
	sched    *scheduler.Scheduler
	source   ingest.SeriesSource
	sink     emit.Sink
	notifier alerting.Notifier
	locker   storage.AdvisoryLocker
	logger   zerolog.Logger

	params engine.VaRParams
}

// New constructs the metrics service. The VaR parameters are validated here:
// an empty alpha or horizon list is fatal before any series is processed.
func New(cfg *config.Config, sched *scheduler.Scheduler, source ingest.SeriesSource, sink emit.Sink, notifier alerting.Notifier, locker storage.AdvisoryLocker, logger zerolog.Logger) (*Service, error) {
	params := engine.VaRParams{
		Period:   float64(cfg.Metrics.Period),
		Alphas:   cfg.Metrics.Alphas,
		Horizons: cfg.Metrics.Horizons,
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("metrics parameters: %w", err)
	}

	return &Service{
		cfg:      cfg,
		sched:    sched,
		source:   source,
		sink:     sink,
		notifier: notifier,
		locker:   locker,
		logger:   logger.With().Str("component", "service").Logger(),
		params:   params,
	}, nil
}

// Run begins the scheduled cycle loop.
func (s *Service) Run(ctx context.Context) error {
	if s.sched == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.sched.Run(ctx, s.ProcessCycle)
}

// ProcessCycle executes one metrics cycle, guarded by the advisory lock when
// storage provides one.
func (s *Service) ProcessCycle(ctx context.Context, cycle time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("cycle", cycle).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	outcomes := s.RunCycle(ctx, cycle)

	emitted, skipped := 0, 0
	for _, o := range outcomes {
		if o.Status == StatusEmitted {
			emitted++
		} else {
			skipped++
		}
	}
	s.logger.Info().Time("cycle", cycle).Int("emitted", emitted).Int("skipped", skipped).Msg("cycle complete")
	return nil
}

// RunCycle processes every quote for one cycle, fanning out across a bounded
// worker pool. Each (quote, field) computation is independent and its
// failure stays inside its Outcome.
func (s *Service) RunCycle(ctx context.Context, cycle time.Time) []Outcome {
	from := cycle.AddDate(0, 0, -s.cfg.Metrics.PointsDays)

	workers := s.cfg.Metrics.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(s.cfg.Quotes) && len(s.cfg.Quotes) > 0 {
		workers = len(s.cfg.Quotes)
	}

	jobs := make(chan config.QuoteConfig)
	results := make(chan Outcome)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for quote := range jobs {
				for _, feed := range FeedsFor(quote) {
					results <- s.processFeed(ctx, quote, feed, from)
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, quote := range s.cfg.Quotes {
			select {
			case <-ctx.Done():
				return
			case jobs <- quote:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]Outcome, 0, len(s.cfg.Quotes)*2)
	for outcome := range results {
		if outcome.Status == StatusSkipped {
			s.logger.Warn().
				Str("quote", outcome.QuoteID).
				Str("field", outcome.FieldType).
				Str("reason", outcome.Reason).
				Msg("estimation skipped for series")
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (s *Service) processFeed(ctx context.Context, quote config.QuoteConfig, feed Feed, from time.Time) Outcome {
	skip := func(reason string) Outcome {
		return Outcome{QuoteID: quote.ID, FieldType: feed.FieldType, Status: StatusSkipped, Reason: reason}
	}

	series, err := s.source.FetchSeries(ctx, quote.ID, feed.Field, from)
	if err != nil {
		return skip(fmt.Sprintf("fetch series: %v", err))
	}
	if len(series) == 0 {
		return skip("no samples available this cycle")
	}

	if s.cfg.Metrics.EnforceHistory {
		spanDays := float64(series[len(series)-1].Timestamp-series[0].Timestamp) / 86400
		if spanDays < float64(s.cfg.Metrics.PointsDays-1) {
			return skip(fmt.Sprintf("history spans %.1f days, need %d", spanDays, s.cfg.Metrics.PointsDays-1))
		}
	}

	samples, err := s.windowSeries(quote, feed, series)
	if err != nil {
		return skip(fmt.Sprintf("window series: %v", err))
	}

	twaps := make([]float64, len(samples))
	for i, sample := range samples {
		twaps[i] = sample.TWAP
	}

	timestamp := series[len(series)-1].Timestamp
	stat, err := engine.Estimate(timestamp, twaps, s.params)
	if err != nil {
		return skip(fmt.Sprintf("estimate: %v", err))
	}

	record := emit.BuildRecord(stat, quote.ID, feed.TokenName, feed.FieldType)
	if err := s.sink.Emit(ctx, record); err != nil {
		return skip(fmt.Sprintf("emit record: %v", err))
	}

	s.maybeAlert(ctx, quote, feed, stat)

	return Outcome{
		QuoteID:   quote.ID,
		FieldType: feed.FieldType,
		Status:    StatusEmitted,
		Samples:   len(samples),
	}
}

func (s *Service) windowSeries(quote config.QuoteConfig, feed Feed, series []engine.PricePoint) ([]engine.TWAPSample, error) {
	switch quote.Kind {
	case config.KindUniV3:
		w := engine.DynamicWindowTWAP{
			Window:    float64(s.cfg.Metrics.Window),
			Period:    float64(s.cfg.Metrics.Period),
			Tolerance: float64(s.cfg.Metrics.Tolerance),
			Invert:    feed.Invert,
		}
		return w.Samples(series)
	default:
		w := engine.FixedWindowTWAP{
			Window:   s.cfg.Metrics.Window / s.cfg.Metrics.Period,
			AmountIn: quote.AmountIn,
		}
		return w.Samples(series)
	}
}

// maybeAlert notifies when the tightest configured grid cell crosses the
// alert threshold. Delivery failures are logged, never propagated.
func (s *Service) maybeAlert(ctx context.Context, quote config.QuoteConfig, feed Feed, stat *engine.RiskStat) {
	if s.notifier == nil || !s.cfg.Alerting.Enabled || s.cfg.Alerting.Threshold <= 0 {
		return
	}

	label := engine.VaRLabel(s.cfg.Metrics.Alphas[0], s.cfg.Metrics.Horizons[0])
	value, ok := stat.VaR[label]
	if !ok || math.Abs(value) <= s.cfg.Alerting.Threshold {
		return
	}

	note := alerting.Notification{
		QuoteID:   quote.ID,
		TokenName: feed.TokenName,
		FieldType: feed.FieldType,
		Timestamp: time.Unix(stat.Timestamp, 0).UTC(),
		Label:     label,
		Value:     value,
		Threshold: s.cfg.Alerting.Threshold,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("quote", quote.ID).Msg("failed to dispatch alert")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	key := s.cfg.Scheduler.AdvisoryLockKey
	if key == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
