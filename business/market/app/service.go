package app

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lbayas/cyclearb/business/market/domain"
	"github.com/lbayas/cyclearb/internal/apperror"
	"github.com/lbayas/cyclearb/internal/logger"
)

const (
	tracerName = "github.com/lbayas/cyclearb/business/market/app"
	meterName  = "github.com/lbayas/cyclearb/business/market/app"
)

// serviceMetrics holds OTEL metric instruments.
type serviceMetrics struct {
	quotesFetched  metric.Int64Counter
	quotesFailed   metric.Int64Counter
	graphEdges     metric.Int64Gauge
	snapshotMillis metric.Float64Histogram
}

// MarketService produces price-graph snapshots from the quote source.
type MarketService struct {
	source QuoteSource
	pools  []*domain.Pool
	logger logger.LoggerInterface

	tracer  trace.Tracer
	metrics *serviceMetrics
}

// NewMarketService creates a market service over the given pool set.
func NewMarketService(source QuoteSource, pools []*domain.Pool, log logger.LoggerInterface) (*MarketService, error) {
	s := &MarketService{
		source: source,
		pools:  pools,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}

	if err := s.initMetrics(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MarketService) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	s.metrics = &serviceMetrics{}

	s.metrics.quotesFetched, err = meter.Int64Counter(
		"market_quotes_fetched_total",
		metric.WithDescription("Total pool quotes fetched successfully"),
		metric.WithUnit("{quote}"),
	)
	if err != nil {
		return err
	}

	s.metrics.quotesFailed, err = meter.Int64Counter(
		"market_quotes_failed_total",
		metric.WithDescription("Total per-pool quote failures"),
		metric.WithUnit("{quote}"),
	)
	if err != nil {
		return err
	}

	s.metrics.graphEdges, err = meter.Int64Gauge(
		"market_graph_edges",
		metric.WithDescription("Directed edges in the latest price graph"),
		metric.WithUnit("{edge}"),
	)
	if err != nil {
		return err
	}

	s.metrics.snapshotMillis, err = meter.Float64Histogram(
		"market_snapshot_ms",
		metric.WithDescription("Quote fetch plus graph build latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Pools returns the configured pool set.
func (s *MarketService) Pools() []*domain.Pool {
	return s.pools
}

// Snapshot fetches quotes for all configured pools and builds a fresh
// price graph. Pools that failed to quote are simply absent from the
// graph for this tick.
func (s *MarketService) Snapshot(ctx context.Context) (*domain.PriceGraph, error) {
	ctx, span := s.tracer.Start(ctx, "market.snapshot",
		trace.WithAttributes(attribute.Int("pools", len(s.pools))),
	)
	defer span.End()

	start := time.Now()

	quotes, err := s.source.FetchQuotes(ctx, s.pools)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch fetch failed")
		return nil, apperror.Wrap(err, apperror.CodeQuoteFetchFailed, "quote source batch failure")
	}

	failed := len(s.pools) - len(quotes)
	s.metrics.quotesFetched.Add(ctx, int64(len(quotes)))
	if failed > 0 {
		s.metrics.quotesFailed.Add(ctx, int64(failed))
		s.logger.Warn(ctx, "pools excluded from tick", "failed", failed, "fetched", len(quotes))
	}

	graph := domain.BuildGraph(quotes)

	elapsed := float64(time.Since(start).Milliseconds())
	s.metrics.snapshotMillis.Record(ctx, elapsed)
	s.metrics.graphEdges.Record(ctx, int64(graph.EdgeCount()))

	span.SetAttributes(
		attribute.Int("quotes", len(quotes)),
		attribute.Int("edges", graph.EdgeCount()),
		attribute.Int64("block", int64(graph.Block())),
	)
	span.SetStatus(codes.Ok, "snapshot built")

	s.logger.Debug(ctx, "price graph built",
		"quotes", len(quotes),
		"edges", graph.EdgeCount(),
		"tokens", graph.TokenCount(),
		"block", graph.Block(),
	)

	return graph, nil
}
