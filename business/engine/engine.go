// Package engine runs the poll-detect-validate-execute loop and the
// operator API on top of it.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	detectapp "github.com/lbayas/cyclearb/business/detect/app"
	detectdomain "github.com/lbayas/cyclearb/business/detect/domain"
	executionapp "github.com/lbayas/cyclearb/business/execution/app"
	executiondomain "github.com/lbayas/cyclearb/business/execution/domain"
	marketapp "github.com/lbayas/cyclearb/business/market/app"
	"github.com/lbayas/cyclearb/internal/apperror"
	"github.com/lbayas/cyclearb/internal/events"
	"github.com/lbayas/cyclearb/internal/logger"
)

const (
	tracerName = "github.com/lbayas/cyclearb/business/engine"
	meterName  = "github.com/lbayas/cyclearb/business/engine"
)

// Config controls the sweep loop and automatic execution.
type Config struct {
	PollInterval time.Duration

	// AutoExecute trades the top validated cycle of a sweep without an
	// operator in the loop.
	AutoExecute bool

	// AutoMinConfidence gates automatic execution.
	AutoMinConfidence float64

	// AutoAmountIn is the trade size for automatic executions, in
	// Start-token human units.
	AutoAmountIn decimal.Decimal

	// AutoSlippageBps tolerated shortfall from the quoted return.
	AutoSlippageBps float64
}

// DefaultConfig returns the standard engine settings.
func DefaultConfig() Config {
	return Config{
		PollInterval:      3 * time.Second,
		AutoExecute:       false,
		AutoMinConfidence: 0.8,
		AutoAmountIn:      decimal.NewFromInt(1),
		AutoSlippageBps:   30,
	}
}

type engineMetrics struct {
	sweeps        metric.Int64Counter
	opportunities metric.Int64Gauge
	autoTrades    metric.Int64Counter
}

// Engine ties the three contexts together: it polls the market, sweeps
// for cycles, validates them and hands survivors to the coordinator.
type Engine struct {
	config    Config
	market    *marketapp.MarketService
	detector  *detectapp.Detector
	validator *detectapp.Validator
	executor  *executionapp.Coordinator

	mu            sync.RWMutex
	opportunities []*detectdomain.ValidatedCycle
	sweepBlock    uint64
	sweepAt       time.Time

	auto sync.WaitGroup

	bus     *events.Bus
	logger  logger.LoggerInterface
	tracer  trace.Tracer
	metrics *engineMetrics
}

// New wires the engine.
func New(
	cfg Config,
	market *marketapp.MarketService,
	detector *detectapp.Detector,
	validator *detectapp.Validator,
	executor *executionapp.Coordinator,
	bus *events.Bus,
	log logger.LoggerInterface,
) (*Engine, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}

	e := &Engine{
		config:    cfg,
		market:    market,
		detector:  detector,
		validator: validator,
		executor:  executor,
		bus:       bus,
		logger:    log,
		tracer:    otel.Tracer(tracerName),
	}
	if err := e.initMetrics(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	e.metrics = &engineMetrics{}

	e.metrics.sweeps, err = meter.Int64Counter(
		"engine_sweeps_total",
		metric.WithDescription("Completed poll-detect-validate sweeps"),
		metric.WithUnit("{sweep}"),
	)
	if err != nil {
		return err
	}

	e.metrics.opportunities, err = meter.Int64Gauge(
		"engine_opportunities",
		metric.WithDescription("Validated opportunities in the latest sweep"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return err
	}

	e.metrics.autoTrades, err = meter.Int64Counter(
		"engine_auto_trades_total",
		metric.WithDescription("Automatic executions dispatched"),
		metric.WithUnit("{trade}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Run sweeps until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info(ctx, "engine started",
		"poll_interval", e.config.PollInterval.String(),
		"auto_execute", e.config.AutoExecute,
	)

	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	// First sweep immediately; the ticker paces the rest.
	e.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			e.auto.Wait()
			e.logger.Info(ctx, "engine stopped")
			return ctx.Err()
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

func (e *Engine) sweep(ctx context.Context) {
	ctx, span := e.tracer.Start(ctx, "engine.sweep")
	defer span.End()

	graph, err := e.market.Snapshot(ctx)
	if err != nil {
		e.logger.Error(ctx, "market snapshot failed, keeping previous opportunities", "error", err)
		span.RecordError(err)
		return
	}

	e.publish(events.TypeQuoteTick, map[string]any{
		"block":  graph.Block(),
		"edges":  graph.EdgeCount(),
		"tokens": graph.TokenCount(),
	})

	cycles := e.detector.FindCycles(ctx, graph)
	validated, rejections := e.validator.Validate(ctx, graph, cycles)

	for _, vc := range validated {
		e.publish(events.TypeCycleFound, map[string]any{
			"cycle_id":   vc.Cycle.ID.String(),
			"start":      vc.Cycle.Start.Symbol(),
			"hops":       vc.Cycle.Len(),
			"spread_bps": vc.Cycle.SpreadBps(),
			"confidence": vc.Confidence,
		})
	}
	for _, rej := range rejections {
		e.publish(events.TypeCycleRejected, map[string]any{
			"cycle_id": rej.Cycle.ID.String(),
			"reason":   string(rej.Reason),
		})
	}

	e.mu.Lock()
	e.opportunities = validated
	e.sweepBlock = graph.Block()
	e.sweepAt = time.Now()
	e.mu.Unlock()

	e.metrics.sweeps.Add(ctx, 1)
	e.metrics.opportunities.Record(ctx, int64(len(validated)))
	span.SetAttributes(
		attribute.Int("candidates", len(cycles)),
		attribute.Int("validated", len(validated)),
	)

	if e.config.AutoExecute && len(validated) > 0 {
		e.maybeAutoExecute(ctx, validated[0])
	}
}

// maybeAutoExecute dispatches the sweep's best cycle as a single
// asynchronous task. The coordinator's in-flight flag makes overlap
// impossible; a busy rejection here just means the previous trade is
// still settling.
func (e *Engine) maybeAutoExecute(ctx context.Context, best *detectdomain.ValidatedCycle) {
	if best.Confidence < e.config.AutoMinConfidence || e.executor.Busy() {
		return
	}

	e.metrics.autoTrades.Add(ctx, 1)
	e.auto.Add(1)
	go func() {
		defer e.auto.Done()
		_, err := e.Execute(context.WithoutCancel(ctx), ExecuteParams{
			CycleID:     best.Cycle.ID,
			AmountIn:    e.config.AutoAmountIn,
			SlippageBps: e.config.AutoSlippageBps,
		})
		if err != nil && !apperror.IsCode(err, apperror.CodeExecutionInFlight) {
			e.logger.Warn(ctx, "auto execution failed",
				"cycle_id", best.Cycle.ID.String(), "error", err)
		}
	}()
}

// ExecuteParams is an operator's (or the auto trader's) trade request.
type ExecuteParams struct {
	CycleID     uuid.UUID
	AmountIn    decimal.Decimal
	SlippageBps float64
}

// Execute trades one currently tracked cycle.
func (e *Engine) Execute(ctx context.Context, p ExecuteParams) (*executiondomain.ExecutionResult, error) {
	if p.AmountIn.Sign() <= 0 {
		return nil, apperror.New(apperror.CodeInvalidTradeSize,
			apperror.WithContext(p.AmountIn.String()))
	}

	vc := e.findOpportunity(p.CycleID)
	if vc == nil {
		return nil, apperror.New(apperror.CodeCycleNotFound,
			apperror.WithContext(p.CycleID.String()))
	}

	intent := buildIntent(vc, p)
	return e.executor.Execute(ctx, intent)
}

// Opportunities returns the latest sweep's validated cycles, best first.
func (e *Engine) Opportunities() ([]*detectdomain.ValidatedCycle, uint64, time.Time) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*detectdomain.ValidatedCycle, len(e.opportunities))
	copy(out, e.opportunities)
	return out, e.sweepBlock, e.sweepAt
}

func (e *Engine) findOpportunity(id uuid.UUID) *detectdomain.ValidatedCycle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, vc := range e.opportunities {
		if vc.Cycle.ID == id {
			return vc
		}
	}
	return nil
}

// buildIntent converts a validated cycle plus trade parameters into an
// execution intent. The slippage guard is the quoted return shaved by
// the tolerance, floored at break-even so a guarded trade can never
// settle at a loss.
func buildIntent(vc *detectdomain.ValidatedCycle, p ExecuteParams) *executiondomain.ExecutionIntent {
	c := vc.Cycle

	steps := make([]executiondomain.SwapStep, len(c.Edges))
	for i, edge := range c.Edges {
		steps[i] = executiondomain.SwapStep{
			Pool:     edge.Pool.Address,
			Venue:    edge.Pool.Venue,
			TokenIn:  edge.From,
			TokenOut: edge.To,
			FeeBps:   edge.Pool.FeeBps,
			BinStep:  edge.Pool.BinStep,
		}
	}

	guarded := decimal.NewFromFloat(c.ExpectedReturn * (1 - p.SlippageBps/10_000))
	if guarded.LessThan(decimal.NewFromInt(1)) {
		guarded = decimal.NewFromInt(1)
	}
	minReturn := p.AmountIn.Mul(guarded)

	return executiondomain.NewIntent(
		c.ID,
		c.Signature(),
		c.Start,
		steps,
		p.AmountIn,
		minReturn,
		c.SpreadBps(),
	)
}

func (e *Engine) publish(t events.Type, fields map[string]any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.New(t, fields))
}
