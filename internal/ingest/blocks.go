package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// blockQueryTemplate asks the blocks subgraph for the newest block strictly
// before a timestamp.
const blockQueryTemplate = `query {
    blocks(
        first: 1,
        orderBy: timestamp,
        orderDirection: desc,
        where: { timestamp_lt: %d }
    ) {
        timestamp
        number
    }
}`

// BlockResolverOptions parameterise the subgraph client.
type BlockResolverOptions struct {
	Endpoint string
	Timeout  time.Duration
	Retry    RetryPolicy
}

// BlockResolver maps timestamps to block numbers through a blocks subgraph.
type BlockResolver struct {
	opts   BlockResolverOptions
	client *http.Client
	logger zerolog.Logger
}

// NewBlockResolver constructs a resolver, filling in default timeout and
// retry policy when unset.
func NewBlockResolver(opts BlockResolverOptions, logger zerolog.Logger) *BlockResolver {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy
	}

	return &BlockResolver{
		opts:   opts,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "block_resolver").Logger(),
	}
}

// ResolveBlock returns the number and timestamp of the newest block before
// ts, retrying transient failures with linear backoff.
func (r *BlockResolver) ResolveBlock(ctx context.Context, ts int64) (uint64, int64, error) {
	if r.opts.Endpoint == "" {
		return 0, 0, errors.New("blocks subgraph endpoint not configured")
	}

	var number uint64
	var blockTS int64
	err := r.opts.Retry.Do(ctx, r.logger, func() error {
		n, t, err := r.queryOnce(ctx, ts)
		if err != nil {
			return err
		}
		number, blockTS = n, t
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("resolve block before %d: %w", ts, err)
	}
	return number, blockTS, nil
}

func (r *BlockResolver) queryOnce(ctx context.Context, ts int64) (uint64, int64, error) {
	payload := map[string]string{"query": fmt.Sprintf(blockQueryTemplate, ts)}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, 0, fmt.Errorf("subgraph returned status %d", resp.StatusCode)
	}

	var decoded struct {
		Data struct {
			Blocks []struct {
				Timestamp string `json:"timestamp"`
				Number    string `json:"number"`
			} `json:"blocks"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, 0, fmt.Errorf("decode subgraph response: %w", err)
	}
	if len(decoded.Data.Blocks) == 0 {
		return 0, 0, fmt.Errorf("no block found before timestamp %d", ts)
	}

	block := decoded.Data.Blocks[0]
	number, err := strconv.ParseUint(block.Number, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse block number %q: %w", block.Number, err)
	}
	blockTS, err := strconv.ParseInt(block.Timestamp, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse block timestamp %q: %w", block.Timestamp, err)
	}
	return number, blockTS, nil
}
