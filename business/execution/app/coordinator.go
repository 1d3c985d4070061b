package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lbayas/cyclearb/business/execution/domain"
	"github.com/lbayas/cyclearb/internal/apperror"
	"github.com/lbayas/cyclearb/internal/cache"
	"github.com/lbayas/cyclearb/internal/events"
	"github.com/lbayas/cyclearb/internal/logger"
)

const (
	tracerName = "github.com/lbayas/cyclearb/business/execution/app"
	meterName  = "github.com/lbayas/cyclearb/business/execution/app"
)

// CoordinatorConfig controls execution timing.
type CoordinatorConfig struct {
	ConfirmTimeout time.Duration
	GasPolicy      domain.GasPolicy
}

// DefaultCoordinatorConfig returns the standard execution settings.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		ConfirmTimeout: 90 * time.Second,
		GasPolicy:      domain.DefaultGasPolicy(),
	}
}

type coordinatorMetrics struct {
	executions    metric.Int64Counter
	rejectedBusy  metric.Int64Counter
	gasEstimates  metric.Int64Counter
	gasCacheHits  metric.Int64Counter
	confirmMillis metric.Float64Histogram
	profitGapBps  metric.Float64Histogram
}

// Coordinator runs the execution pipeline: one trade in flight at a
// time, adaptive gas estimation, sequence bookkeeping and asynchronous
// profit verification.
type Coordinator struct {
	config    CoordinatorConfig
	estimator GasEstimator
	simulator TradeSimulator
	submitter TxSubmitter
	sequences SequenceSource
	balances  BalanceReader

	counter  *domain.SequenceCounter
	gasCache *cache.Cache[string, domain.GasCacheEntry]
	inFlight atomic.Bool
	verify   sync.WaitGroup

	bus     *events.Bus
	logger  logger.LoggerInterface
	tracer  trace.Tracer
	metrics *coordinatorMetrics
}

// NewCoordinator wires the execution pipeline.
func NewCoordinator(
	cfg CoordinatorConfig,
	estimator GasEstimator,
	simulator TradeSimulator,
	submitter TxSubmitter,
	sequences SequenceSource,
	balances BalanceReader,
	bus *events.Bus,
	log logger.LoggerInterface,
) (*Coordinator, error) {
	c := &Coordinator{
		config:    cfg,
		estimator: estimator,
		simulator: simulator,
		submitter: submitter,
		sequences: sequences,
		balances:  balances,
		counter:   domain.NewSequenceCounter(),
		gasCache:  cache.New[string, domain.GasCacheEntry](time.Minute),
		bus:       bus,
		logger:    log,
		tracer:    otel.Tracer(tracerName),
	}
	if err := c.initMetrics(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Coordinator) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	c.metrics = &coordinatorMetrics{}

	c.metrics.executions, err = meter.Int64Counter(
		"executions_total",
		metric.WithDescription("Execution attempts by terminal status"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return err
	}

	c.metrics.rejectedBusy, err = meter.Int64Counter(
		"executions_rejected_busy_total",
		metric.WithDescription("Execution requests rejected because one was already in flight"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	c.metrics.gasEstimates, err = meter.Int64Counter(
		"gas_estimates_total",
		metric.WithDescription("Fresh gas estimations performed"),
		metric.WithUnit("{estimate}"),
	)
	if err != nil {
		return err
	}

	c.metrics.gasCacheHits, err = meter.Int64Counter(
		"gas_cache_hits_total",
		metric.WithDescription("Gas limits served from the route cache"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return err
	}

	c.metrics.confirmMillis, err = meter.Float64Histogram(
		"execution_confirm_duration_ms",
		metric.WithDescription("Submission to confirmation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	c.metrics.profitGapBps, err = meter.Float64Histogram(
		"execution_profit_gap_bps",
		metric.WithDescription("Realized minus quoted return in basis points of trade size"),
		metric.WithUnit("{bps}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Busy reports whether an execution is currently in flight.
func (c *Coordinator) Busy() bool {
	return c.inFlight.Load()
}

// Close waits for any outstanding profit checks and releases the cache.
func (c *Coordinator) Close() {
	c.verify.Wait()
	c.gasCache.Close()
}

// Execute runs one intent through the full pipeline. A second call
// while one is in flight is rejected immediately, never queued.
func (c *Coordinator) Execute(ctx context.Context, intent *domain.ExecutionIntent) (*domain.ExecutionResult, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.metrics.rejectedBusy.Add(ctx, 1)
		return nil, apperror.New(apperror.CodeExecutionInFlight,
			apperror.WithContext(intent.Route))
	}
	defer c.inFlight.Store(false)

	ctx, span := c.tracer.Start(ctx, "coordinator.execute",
		trace.WithAttributes(
			attribute.String("intent.id", intent.ID.String()),
			attribute.String("intent.route", intent.Route),
			attribute.Float64("intent.spread_bps", intent.SpreadBps),
		),
	)
	defer span.End()

	c.publish(events.TypeExecutionStarted, map[string]any{
		"intent_id":  intent.ID.String(),
		"cycle_id":   intent.CycleID.String(),
		"route":      intent.Route,
		"amount_in":  intent.AmountIn.String(),
		"spread_bps": intent.SpreadBps,
	})

	result, err := c.run(ctx, intent)
	if result != nil {
		c.metrics.executions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(result.Status)),
			attribute.String("cause", string(result.Cause)),
		))
		c.publish(events.TypeExecutionResult, map[string]any{
			"intent_id": intent.ID.String(),
			"status":    string(result.Status),
			"cause":     string(result.Cause),
			"tx_hash":   result.TxHash.Hex(),
			"sequence":  result.Sequence,
			"gas_used":  result.GasUsed,
		})
	}
	return result, err
}

func (c *Coordinator) run(ctx context.Context, intent *domain.ExecutionIntent) (*domain.ExecutionResult, error) {
	if err := c.ensureSequence(ctx); err != nil {
		return nil, err
	}

	// Balance snapshot before submission anchors the async profit check.
	// Without it a post-trade delta is meaningless, so the check is
	// skipped rather than anchored at zero.
	balanceBefore, balanceErr := c.balances.Balance(ctx, intent.Start)
	if balanceErr != nil {
		c.logger.Warn(ctx, "pre-trade balance read failed, skipping profit check",
			"token", intent.Start.Symbol(), "error", balanceErr)
	}

	gasLimit, err := c.gasLimit(ctx, intent)
	if err != nil {
		return nil, err
	}

	if err := c.simulator.Simulate(ctx, intent, gasLimit); err != nil {
		// The opportunity died between detection and now. No retry.
		return &domain.ExecutionResult{
				IntentID: intent.ID,
				CycleID:  intent.CycleID,
				Route:    intent.Route,
				Status:   domain.StatusFailed,
				Cause:    domain.CauseSimulation,
				GasLimit: gasLimit,
			}, apperror.New(apperror.CodeSimulationReverted,
				apperror.WithCause(err),
				apperror.WithContext(intent.Route))
	}

	sequence, err := c.counter.Next()
	if err != nil {
		return nil, err
	}

	priorityFee := c.config.GasPolicy.PriorityFee(intent.SpreadBps)

	submittedAt := time.Now()
	hash, err := c.submitter.Submit(ctx, intent, sequence, gasLimit, priorityFee)
	if err != nil {
		c.resync(ctx, "submission failed")
		return &domain.ExecutionResult{
				IntentID: intent.ID,
				CycleID:  intent.CycleID,
				Route:    intent.Route,
				Status:   domain.StatusFailed,
				Cause:    domain.CauseSubmission,
				Sequence: sequence,
				GasLimit: gasLimit,
			}, apperror.New(apperror.CodeSubmissionFailed,
				apperror.WithCause(err),
				apperror.WithContext(intent.Route))
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.config.ConfirmTimeout)
	defer cancel()

	confirmation, err := c.submitter.Wait(waitCtx, hash)
	if err != nil {
		c.resync(ctx, "confirmation timeout")
		return &domain.ExecutionResult{
				IntentID:    intent.ID,
				CycleID:     intent.CycleID,
				Route:       intent.Route,
				Status:      domain.StatusFailed,
				Cause:       domain.CauseTimeout,
				TxHash:      hash,
				Sequence:    sequence,
				GasLimit:    gasLimit,
				SubmittedAt: submittedAt,
			}, apperror.New(apperror.CodeConfirmationTimeout,
				apperror.WithCause(err),
				apperror.WithContext(hash.Hex()))
	}

	c.metrics.confirmMillis.Record(ctx, float64(time.Since(submittedAt).Milliseconds()))

	result := &domain.ExecutionResult{
		IntentID:    intent.ID,
		CycleID:     intent.CycleID,
		Route:       intent.Route,
		TxHash:      hash,
		Sequence:    sequence,
		GasLimit:    gasLimit,
		GasUsed:     confirmation.GasUsed,
		SubmittedAt: submittedAt,
		ConfirmedAt: time.Now(),
	}

	if !confirmation.Succeeded() {
		result.Status = domain.StatusFailed
		result.Cause = domain.ClassifyRevert(confirmation.GasUsed, gasLimit)

		code := apperror.CodeTransactionReverted
		if result.Cause == domain.CauseGasExhausted {
			code = apperror.CodeGasExhausted
		} else if result.Cause == domain.CauseSlippageGuard {
			code = apperror.CodeSlippageGuardTripped
		}
		return result, apperror.New(code, apperror.WithContext(hash.Hex()))
	}

	result.Status = domain.StatusConfirmed

	if balanceErr == nil {
		c.verify.Add(1)
		go c.verifyProfit(result, intent, balanceBefore)
	}

	return result, nil
}

// ensureSequence seeds the counter from the chain on first use.
func (c *Coordinator) ensureSequence(ctx context.Context) error {
	if c.counter.Initialized() {
		return nil
	}
	pending, err := c.sequences.PendingSequence(ctx)
	if err != nil {
		return apperror.New(apperror.CodeSequenceOutOfSync, apperror.WithCause(err))
	}
	c.counter.Init(pending)
	return nil
}

// resync reloads the counter from the chain after a failure that may
// have left the local value ahead of or behind chain state.
func (c *Coordinator) resync(ctx context.Context, reason string) {
	pending, err := c.sequences.PendingSequence(ctx)
	if err != nil {
		c.logger.Error(ctx, "sequence resync failed", "reason", reason, "error", err)
		return
	}
	c.counter.Resync(pending)
	c.logger.Info(ctx, "sequence counter resynced", "reason", reason, "pending", pending)
	c.publish(events.TypeSequenceResync, map[string]any{
		"reason":  reason,
		"pending": pending,
	})
}

// gasLimit resolves the buffered gas limit for an intent, serving from
// the route cache when the spread bucket allows it.
func (c *Coordinator) gasLimit(ctx context.Context, intent *domain.ExecutionIntent) (uint64, error) {
	bucket := c.config.GasPolicy.Bucket(intent.SpreadBps)

	if c.config.GasPolicy.UseCache(bucket) {
		if entry, ok := c.gasCache.Get(ctx, intent.Route); ok && entry.Usable(bucket, c.config.GasPolicy, time.Now()) {
			c.metrics.gasCacheHits.Add(ctx, 1)
			return c.config.GasPolicy.ApplyBuffer(entry.BaseLimit, bucket), nil
		}
	}

	c.metrics.gasEstimates.Add(ctx, 1)
	base, err := c.estimator.Estimate(ctx, intent)
	if err != nil {
		return 0, apperror.New(apperror.CodeGasEstimationFailed,
			apperror.WithCause(err),
			apperror.WithContext(intent.Route))
	}

	entry := domain.GasCacheEntry{
		Route:       intent.Route,
		BaseLimit:   base,
		SpreadBps:   intent.SpreadBps,
		EstimatedAt: time.Now(),
		TTL:         c.config.GasPolicy.TTLLow,
	}
	c.gasCache.Set(ctx, intent.Route, entry, entry.TTL)

	return c.config.GasPolicy.ApplyBuffer(base, bucket), nil
}

// verifyProfit measures the realized balance delta after confirmation.
// It runs off the execution path so the next trade is never blocked on
// a balance read.
func (c *Coordinator) verifyProfit(result *domain.ExecutionResult, intent *domain.ExecutionIntent, before decimal.Decimal) {
	defer c.verify.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	after, err := c.balances.Balance(ctx, intent.Start)
	if err != nil {
		c.logger.Error(ctx, "post-trade balance read failed",
			"intent_id", intent.ID.String(), "error", err)
		return
	}

	result.RealizedDelta = after.Sub(before)
	result.ProfitChecked = true

	if intent.AmountIn.IsPositive() {
		realizedBps, _ := result.RealizedDelta.Div(intent.AmountIn).Mul(decimal.New(1, 4)).Float64()
		c.metrics.profitGapBps.Record(ctx, realizedBps-intent.SpreadBps)
	}

	c.logger.Info(ctx, "profit verified",
		"intent_id", intent.ID.String(),
		"token", intent.Start.Symbol(),
		"delta", result.RealizedDelta.String(),
	)
	c.publish(events.TypeProfitVerified, map[string]any{
		"intent_id": intent.ID.String(),
		"token":     intent.Start.Symbol(),
		"delta":     result.RealizedDelta.String(),
	})
}

func (c *Coordinator) publish(t events.Type, fields map[string]any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.New(t, fields))
}
