package ingest

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

const uniV3PoolABIJSON = `[{"inputs":[{"internalType":"uint32[]","name":"secondsAgos","type":"uint32[]"}],"name":"observe","outputs":[{"internalType":"int56[]","name":"tickCumulatives","type":"int56[]"},{"internalType":"uint160[]","name":"secondsPerLiquidityCumulativeX128s","type":"uint160[]"}],"stateMutability":"view","type":"function"}]`

var uniV3PoolABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(uniV3PoolABIJSON))
	if err != nil {
		panic("failed to parse UniswapV3Pool ABI: " + err.Error())
	}
	uniV3PoolABI = parsed
}

// PoolObservation is one observe() reading at a known block time.
type PoolObservation struct {
	// Timestamp is the block timestamp, unix seconds.
	Timestamp int64
	// TickCumulative is the pool's tick accumulator.
	TickCumulative *big.Int
	// LiquidityCumulative is seconds-per-liquidity, X128 fixed point.
	LiquidityCumulative *big.Int
}

// PoolReaderOptions parameterise on-chain access.
type PoolReaderOptions struct {
	RPCURL  string
	Timeout time.Duration
}

// PoolReader reads tick cumulatives from Uniswap v3 pools over Ethereum RPC.
type PoolReader struct {
	opts      PoolReaderOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewPoolReader builds a pool reader; the RPC connection is dialled lazily.
func NewPoolReader(opts PoolReaderOptions, logger zerolog.Logger) *PoolReader {
	return &PoolReader{opts: opts, logger: logger.With().Str("component", "pool_reader").Logger()}
}

// ReadCumulatives calls observe([0]) on the pool at the given block and
// returns the accumulator values with the block's timestamp.
func (p *PoolReader) ReadCumulatives(ctx context.Context, pool string, blockNumber uint64, blockTS int64) (PoolObservation, error) {
	if p.opts.RPCURL == "" {
		return PoolObservation{}, errors.New("ethereum rpc url not configured")
	}
	if pool == "" {
		return PoolObservation{}, errors.New("pool address not configured")
	}

	timeout := p.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := p.getClient(ctx)
	if err != nil {
		return PoolObservation{}, err
	}

	addr := common.HexToAddress(pool)
	payload, err := uniV3PoolABI.Pack("observe", []uint32{0})
	if err != nil {
		return PoolObservation{}, err
	}

	block := new(big.Int).SetUint64(blockNumber)
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, block)
	if err != nil {
		return PoolObservation{}, err
	}

	outputs, err := uniV3PoolABI.Unpack("observe", res)
	if err != nil {
		return PoolObservation{}, err
	}
	if len(outputs) != 2 {
		return PoolObservation{}, errors.New("unexpected observe response shape")
	}

	ticks, ok := outputs[0].([]*big.Int)
	if !ok || len(ticks) == 0 {
		return PoolObservation{}, errors.New("failed to decode tickCumulatives")
	}
	liquidity, ok := outputs[1].([]*big.Int)
	if !ok || len(liquidity) == 0 {
		return PoolObservation{}, errors.New("failed to decode secondsPerLiquidityCumulativeX128s")
	}

	return PoolObservation{
		Timestamp:           blockTS,
		TickCumulative:      ticks[0],
		LiquidityCumulative: liquidity[0],
	}, nil
}

func (p *PoolReader) getClient(ctx context.Context) (*ethclient.Client, error) {
	p.clientMux.Lock()
	defer p.clientMux.Unlock()

	if p.client != nil {
		return p.client, nil
	}

	client, err := ethclient.DialContext(ctx, p.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	p.client = client
	return client, nil
}
