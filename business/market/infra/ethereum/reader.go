// Package ethereum provides on-chain infrastructure adapters for the market context.
package ethereum

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/lbayas/cyclearb/business/market/app"
	"github.com/lbayas/cyclearb/business/market/domain"
	"github.com/lbayas/cyclearb/internal/apperror"
	"github.com/lbayas/cyclearb/internal/circuitbreaker"
	"github.com/lbayas/cyclearb/internal/logger"
	"github.com/lbayas/cyclearb/internal/ratelimit"
)

const (
	tracerName = "github.com/lbayas/cyclearb/business/market/infra/ethereum"
	meterName  = "github.com/lbayas/cyclearb/business/market/infra/ethereum"
)

// ChainReader is the subset of ethclient used by the quote reader.
type ChainReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// ReaderConfig holds configuration for the on-chain quote reader.
type ReaderConfig struct {
	MaxConcurrent     int     // concurrent pool reads per batch
	RequestsPerSecond float64 // RPC pacing
	Burst             int
}

// DefaultReaderConfig returns sensible defaults.
func DefaultReaderConfig() ReaderConfig {
	return ReaderConfig{
		MaxConcurrent:     8,
		RequestsPerSecond: 50,
		Burst:             16,
	}
}

// Ensure Reader implements the QuoteSource port.
var _ app.QuoteSource = (*Reader)(nil)

// readerMetrics holds OTEL metric instruments.
type readerMetrics struct {
	readsTotal  metric.Int64Counter
	readErrors  metric.Int64Counter
	readLatency metric.Float64Histogram
}

// Reader implements QuoteSource by batch-reading raw pool state over RPC.
type Reader struct {
	client  ChainReader
	config  ReaderConfig
	logger  logger.LoggerInterface
	limiter *ratelimit.Limiter
	cb      *circuitbreaker.CircuitBreaker[[]byte]

	pairABI abi.ABI
	concABI abi.ABI
	binABI  abi.ABI

	tracer  trace.Tracer
	metrics *readerMetrics
}

// NewReader creates an on-chain pool state reader.
func NewReader(client ChainReader, cfg ReaderConfig, log logger.LoggerInterface) (*Reader, error) {
	pairABI, err := abi.JSON(strings.NewReader(PairABI))
	if err != nil {
		return nil, fmt.Errorf("parse pair ABI: %w", err)
	}
	concABI, err := abi.JSON(strings.NewReader(ConcentratedPoolABI))
	if err != nil {
		return nil, fmt.Errorf("parse concentrated pool ABI: %w", err)
	}
	binABI, err := abi.JSON(strings.NewReader(BinPoolABI))
	if err != nil {
		return nil, fmt.Errorf("parse bin pool ABI: %w", err)
	}

	r := &Reader{
		client:  client,
		config:  cfg,
		logger:  log,
		limiter: ratelimit.New(cfg.RequestsPerSecond, cfg.Burst),
		cb:      circuitbreaker.New[[]byte](circuitbreaker.DefaultConfig("pool-reader")),
		pairABI: pairABI,
		concABI: concABI,
		binABI:  binABI,
		tracer:  otel.Tracer(tracerName),
	}

	if err := r.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return r, nil
}

func (r *Reader) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	r.metrics = &readerMetrics{}

	r.metrics.readsTotal, err = meter.Int64Counter(
		"pool_reads_total",
		metric.WithDescription("Total pool state reads"),
		metric.WithUnit("{read}"),
	)
	if err != nil {
		return err
	}

	r.metrics.readErrors, err = meter.Int64Counter(
		"pool_read_errors_total",
		metric.WithDescription("Total pool state read errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	r.metrics.readLatency, err = meter.Float64Histogram(
		"pool_read_latency_ms",
		metric.WithDescription("Pool state read latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	return nil
}

// FetchQuotes reads raw price state for every pool. Individual pool
// failures are logged and skipped; only a total batch failure (block
// number unavailable) errors.
func (r *Reader) FetchQuotes(ctx context.Context, pools []*domain.Pool) ([]*domain.PoolQuote, error) {
	ctx, span := r.tracer.Start(ctx, "reader.fetch_quotes",
		trace.WithAttributes(attribute.Int("pools", len(pools))),
	)
	defer span.End()

	block, err := r.client.BlockNumber(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "block number unavailable")
		return nil, apperror.New(apperror.CodeChainRPCError,
			apperror.WithCause(err),
			apperror.WithContext("block number"))
	}

	var (
		mu     sync.Mutex
		quotes = make([]*domain.PoolQuote, 0, len(pools))
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.MaxConcurrent)

	for _, pool := range pools {
		g.Go(func() error {
			quote, err := r.readPool(ctx, pool, block)
			if err != nil {
				r.metrics.readErrors.Add(ctx, 1)
				r.logger.Warn(ctx, "pool quote failed, excluding from tick",
					"pool", pool.Address.Hex(),
					"venue", string(pool.Venue),
					"error", err,
				)
				return nil // per-pool failures never fail the batch
			}

			mu.Lock()
			quotes = append(quotes, quote)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch aborted")
		return nil, err
	}

	span.SetAttributes(attribute.Int("quotes", len(quotes)))
	span.SetStatus(codes.Ok, "fetched")

	return quotes, nil
}

// readPool dispatches on the venue kind to read that pool's raw state.
func (r *Reader) readPool(ctx context.Context, pool *domain.Pool, block uint64) (*domain.PoolQuote, error) {
	start := time.Now()
	r.metrics.readsTotal.Add(ctx, 1)
	defer func() {
		r.metrics.readLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
	}()

	quote := &domain.PoolQuote{
		Pool:        pool,
		BlockNumber: block,
		Timestamp:   time.Now(),
	}

	switch pool.Venue {
	case domain.VenueConstantProduct:
		if err := r.readReserves(ctx, pool, quote); err != nil {
			return nil, err
		}
	case domain.VenueConcentratedLiquidity:
		if err := r.readSlot0AndLiquidity(ctx, pool, quote); err != nil {
			return nil, err
		}
	case domain.VenueBinLiquidity:
		if err := r.readActiveBin(ctx, pool, quote); err != nil {
			return nil, err
		}
	default:
		return nil, apperror.New(apperror.CodeInvalidQuote,
			apperror.WithContext(fmt.Sprintf("unknown venue kind %q", pool.Venue)))
	}

	return quote, nil
}

func (r *Reader) readReserves(ctx context.Context, pool *domain.Pool, quote *domain.PoolQuote) error {
	out, err := r.call(ctx, pool.Address, r.pairABI, "getReserves")
	if err != nil {
		return err
	}
	if len(out) < 2 {
		return apperror.New(apperror.CodeInvalidQuote, apperror.WithContext("getReserves output"))
	}

	quote.Reserve0 = out[0].(*big.Int)
	quote.Reserve1 = out[1].(*big.Int)
	return nil
}

func (r *Reader) readSlot0AndLiquidity(ctx context.Context, pool *domain.Pool, quote *domain.PoolQuote) error {
	out, err := r.call(ctx, pool.Address, r.concABI, "slot0")
	if err != nil {
		return err
	}
	if len(out) < 1 {
		return apperror.New(apperror.CodeInvalidQuote, apperror.WithContext("slot0 output"))
	}
	quote.SqrtPriceX96 = out[0].(*big.Int)

	out, err = r.call(ctx, pool.Address, r.concABI, "liquidity")
	if err != nil {
		return err
	}
	if len(out) < 1 {
		return apperror.New(apperror.CodeInvalidQuote, apperror.WithContext("liquidity output"))
	}
	quote.Liquidity = out[0].(*big.Int)
	return nil
}

func (r *Reader) readActiveBin(ctx context.Context, pool *domain.Pool, quote *domain.PoolQuote) error {
	out, err := r.call(ctx, pool.Address, r.binABI, "getActiveId")
	if err != nil {
		return err
	}
	if len(out) < 1 {
		return apperror.New(apperror.CodeInvalidQuote, apperror.WithContext("getActiveId output"))
	}
	activeID := out[0].(*big.Int)

	out, err = r.call(ctx, pool.Address, r.binABI, "getBin", activeID)
	if err != nil {
		return err
	}
	if len(out) < 2 {
		return apperror.New(apperror.CodeInvalidQuote, apperror.WithContext("getBin output"))
	}

	quote.BinReserve0 = out[0].(*big.Int)
	quote.BinReserve1 = out[1].(*big.Int)
	quote.BinPrice = binPriceFromID(activeID.Int64(), pool.BinStep)
	return nil
}

// binPriceFromID converts a bin id into the bin's raw price:
// (1 + binStep/10000)^(id - center).
func binPriceFromID(id int64, binStep uint16) float64 {
	return math.Pow(1+float64(binStep)/10000.0, float64(id-binCenterID))
}

// call packs, rate-limits and executes one view call through the breaker.
func (r *Reader) call(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	callData, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := r.cb.Execute(func() ([]byte, error) {
		return r.client.CallContract(ctx, ethereum.CallMsg{
			To:   &to,
			Data: callData,
		}, nil)
	})
	if err != nil {
		return nil, apperror.New(apperror.CodeContractCallFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("%s on %s", method, to.Hex())))
	}

	out, err := contractABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}
