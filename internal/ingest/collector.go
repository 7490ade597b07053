package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pool-risk-metrics/internal/config"
	"pool-risk-metrics/internal/storage"
)

// Stored field names for accumulator series.
const (
	FieldTickCumulative   = "tick_cumulative"
	FieldPrice0Cumulative = "price0Cumulative"
	FieldPrice1Cumulative = "price1Cumulative"
)

// deployGrace delays the first observation past pool deployment so the
// oracle has history to serve.
const deployGrace = 1200 * time.Second

// CollectorOptions tune the sampling cadence and write retry policy.
type CollectorOptions struct {
	Interval time.Duration
	Retry    RetryPolicy
}

// Collector keeps the cumulative sample store fed from on-chain pools. It
// resumes each quote at its newest stored sample, resolves block heights
// from timestamps, and appends observe() readings.
type Collector struct {
	quotes []config.QuoteConfig
	reader *PoolReader
	blocks *BlockResolver
	store  storage.SampleStore
	opts   CollectorOptions
	logger zerolog.Logger
}

// NewCollector wires the collector's collaborators together.
func NewCollector(quotes []config.QuoteConfig, reader *PoolReader, blocks *BlockResolver, store storage.SampleStore, opts CollectorOptions, logger zerolog.Logger) *Collector {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy
	}

	return &Collector{
		quotes: quotes,
		reader: reader,
		blocks: blocks,
		store:  store,
		opts:   opts,
		logger: logger.With().Str("component", "collector").Logger(),
	}
}

// Run loops, catching each quote up to the present, until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := c.RunOnce(ctx, time.Now().UTC()); err != nil {
			c.logger.Error().Err(err).Msg("collection pass failed")
		}

		timer := time.NewTimer(c.opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunOnce catches every quote up to tEnd. Per-quote failures are logged and
// do not abort sibling quotes.
func (c *Collector) RunOnce(ctx context.Context, tEnd time.Time) error {
	var failed int
	for _, quote := range c.quotes {
		if quote.Kind != config.KindUniV3 {
			c.logger.Debug().Str("quote", quote.ID).Str("kind", quote.Kind).Msg("collector only reads univ3 pools, skipping")
			continue
		}

		if err := c.collectQuote(ctx, quote, tEnd); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			c.logger.Error().Err(err).Str("quote", quote.ID).Msg("failed to collect quote")
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d quotes failed to collect", failed, len(c.quotes))
	}
	return nil
}

func (c *Collector) collectQuote(ctx context.Context, quote config.QuoteConfig, tEnd time.Time) error {
	start, err := c.findStart(ctx, quote)
	if err != nil {
		return err
	}

	for target := start; target.Before(tEnd); target = target.Add(c.opts.Interval) {
		if err := ctx.Err(); err != nil {
			return err
		}

		number, blockTS, err := c.blocks.ResolveBlock(ctx, target.Unix())
		if err != nil {
			return err
		}

		obs, err := c.reader.ReadCumulatives(ctx, quote.Pair, number, blockTS)
		if err != nil {
			return fmt.Errorf("read cumulatives for %s at block %d: %w", quote.ID, number, err)
		}

		sample := storage.CumulativeSample{
			QuoteID:    quote.ID,
			Token0Name: quote.Token0Name,
			Token1Name: quote.Token1Name,
			Field:      FieldTickCumulative,
			TS:         time.Unix(obs.Timestamp, 0).UTC(),
			Value:      decimal.NewFromBigInt(obs.TickCumulative, 0),
		}

		writeErr := c.opts.Retry.Do(ctx, c.logger, func() error {
			return c.store.InsertCumulativeSample(ctx, sample)
		})
		if writeErr != nil {
			return fmt.Errorf("persist sample for %s: %w", quote.ID, writeErr)
		}

		c.logger.Debug().Str("quote", quote.ID).Int64("ts", obs.Timestamp).Msg("sample stored")
	}
	return nil
}

// findStart resumes after the newest stored sample, or shortly after pool
// deployment when the quote has no history yet.
func (c *Collector) findStart(ctx context.Context, quote config.QuoteConfig) (time.Time, error) {
	last, ok, err := c.store.LastCumulativeTimestamp(ctx, quote.ID)
	if err != nil {
		return time.Time{}, fmt.Errorf("find start for %s: %w", quote.ID, err)
	}
	if ok {
		return last.Add(c.opts.Interval), nil
	}
	return time.Unix(quote.TimeDeployed, 0).UTC().Add(deployGrace), nil
}
