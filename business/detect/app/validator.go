package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lbayas/cyclearb/business/detect/domain"
	marketdomain "github.com/lbayas/cyclearb/business/market/domain"
	"github.com/lbayas/cyclearb/internal/logger"
)

// ValidatorConfig controls plausibility and liquidity screening.
type ValidatorConfig struct {
	// MaxPlausibleReturn is the gross-return ceiling. Anything above is
	// treated as degenerate venue state, not opportunity.
	MaxPlausibleReturn float64

	// ProbeAmount is the Start-token amount walked through the fill
	// models, in human units.
	ProbeAmount decimal.Decimal

	// MinFillRatio is the fraction of the quoted return the simulated
	// fill must reach. Fills below it mean the quoted depth is not
	// really there.
	MinFillRatio float64

	// MaxQuoteAge rejects cycles built on stale snapshots.
	MaxQuoteAge time.Duration
}

// DefaultValidatorConfig returns the standard screening thresholds.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxPlausibleReturn: 1.5,
		ProbeAmount:        decimal.NewFromInt(1),
		MinFillRatio:       0.98,
		MaxQuoteAge:        30 * time.Second,
	}
}

type validatorMetrics struct {
	validated metric.Int64Counter
	rejected  metric.Int64Counter
}

// Validator screens candidate cycles for plausibility and real depth.
type Validator struct {
	config  ValidatorConfig
	logger  logger.LoggerInterface
	tracer  trace.Tracer
	metrics *validatorMetrics
}

// NewValidator creates a cycle validator.
func NewValidator(cfg ValidatorConfig, log logger.LoggerInterface) (*Validator, error) {
	v := &Validator{
		config: cfg,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}
	if err := v.initMetrics(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Validator) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	v.metrics = &validatorMetrics{}

	v.metrics.validated, err = meter.Int64Counter(
		"cycles_validated_total",
		metric.WithDescription("Cycles that passed validation"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return err
	}

	v.metrics.rejected, err = meter.Int64Counter(
		"cycles_rejected_total",
		metric.WithDescription("Cycles rejected during validation"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Validate screens every candidate against the graph it was found in.
// Survivors come back ranked by confidence, best first; rejections
// carry the reason.
func (v *Validator) Validate(ctx context.Context, graph *marketdomain.PriceGraph, cycles []*domain.Cycle) ([]*domain.ValidatedCycle, []*domain.Rejection) {
	ctx, span := v.tracer.Start(ctx, "validator.validate",
		trace.WithAttributes(attribute.Int("candidates", len(cycles))),
	)
	defer span.End()

	validated := make([]*domain.ValidatedCycle, 0, len(cycles))
	rejections := make([]*domain.Rejection, 0)

	for _, c := range cycles {
		vc, rej := v.validateOne(graph, c)
		if rej != nil {
			rejections = append(rejections, rej)
			v.metrics.rejected.Add(ctx, 1, metric.WithAttributes(
				attribute.String("reason", string(rej.Reason)),
			))
			v.logger.Debug(ctx, "cycle rejected",
				"cycle_id", c.ID.String(),
				"reason", string(rej.Reason),
				"detail", rej.Detail,
			)
			continue
		}
		validated = append(validated, vc)
	}

	v.metrics.validated.Add(ctx, int64(len(validated)))
	span.SetAttributes(
		attribute.Int("validated", len(validated)),
		attribute.Int("rejected", len(rejections)),
	)

	sort.SliceStable(validated, func(i, j int) bool {
		return validated[i].Confidence > validated[j].Confidence
	})

	return validated, rejections
}

func (v *Validator) validateOne(graph *marketdomain.PriceGraph, c *domain.Cycle) (*domain.ValidatedCycle, *domain.Rejection) {
	if rej := v.checkStructure(c); rej != nil {
		return nil, rej
	}

	if v.config.MaxQuoteAge > 0 {
		for _, e := range c.Edges {
			q, ok := graph.Quote(e.Pool.Address)
			if !ok {
				return nil, &domain.Rejection{Cycle: c, Reason: domain.RejectStaleQuote,
					Detail: fmt.Sprintf("no snapshot for pool %s", e.Pool.Address.Hex())}
			}
			if time.Since(q.Timestamp) > v.config.MaxQuoteAge {
				return nil, &domain.Rejection{Cycle: c, Reason: domain.RejectStaleQuote,
					Detail: fmt.Sprintf("pool %s snapshot is %s old", e.Pool.Address.Hex(), time.Since(q.Timestamp).Round(time.Second))}
			}
		}
	}

	if c.ExpectedReturn > v.config.MaxPlausibleReturn {
		return nil, &domain.Rejection{Cycle: c, Reason: domain.RejectImplausibleReturn,
			Detail: fmt.Sprintf("gross return %.4f exceeds ceiling %.2f", c.ExpectedReturn, v.config.MaxPlausibleReturn)}
	}

	simulated, rej := v.simulateWalk(graph, c)
	if rej != nil {
		return nil, rej
	}

	simRatio, _ := simulated.Div(v.config.ProbeAmount).Float64()
	if simRatio < c.ExpectedReturn*v.config.MinFillRatio {
		return nil, &domain.Rejection{Cycle: c, Reason: domain.RejectInsufficientLiquidity,
			Detail: fmt.Sprintf("simulated return %.6f falls short of quoted %.6f", simRatio, c.ExpectedReturn)}
	}

	return &domain.ValidatedCycle{
		Cycle:           c,
		ProbeAmount:     v.config.ProbeAmount,
		SimulatedReturn: simulated,
		Confidence:      domain.ConfidenceScore(c, c.ExpectedReturn, simRatio),
	}, nil
}

// checkStructure verifies the walk is a well-formed closed loop.
func (v *Validator) checkStructure(c *domain.Cycle) *domain.Rejection {
	if c.Len() < 2 {
		return &domain.Rejection{Cycle: c, Reason: domain.RejectBadStructure,
			Detail: fmt.Sprintf("%d hops", c.Len())}
	}

	seenPools := make(map[common.Address]struct{}, c.Len())
	seenTokens := map[common.Address]struct{}{c.Start.Address(): {}}
	for i, e := range c.Edges {
		if !e.Pool.Venue.Valid() {
			return &domain.Rejection{Cycle: c, Reason: domain.RejectBadStructure,
				Detail: fmt.Sprintf("hop %d has unknown venue %q", i, e.Pool.Venue)}
		}
		if i > 0 && !c.Edges[i-1].To.Equals(e.From) {
			return &domain.Rejection{Cycle: c, Reason: domain.RejectBadStructure,
				Detail: fmt.Sprintf("hop %d input does not chain from hop %d output", i, i-1)}
		}
		if _, dup := seenPools[e.Pool.Address]; dup {
			return &domain.Rejection{Cycle: c, Reason: domain.RejectBadStructure,
				Detail: fmt.Sprintf("pool %s trades more than once", e.Pool.Address.Hex())}
		}
		seenPools[e.Pool.Address] = struct{}{}
		if i < c.Len()-1 {
			if _, dup := seenTokens[e.To.Address()]; dup {
				return &domain.Rejection{Cycle: c, Reason: domain.RejectBadStructure,
					Detail: fmt.Sprintf("hop %d revisits token %s", i, e.To.Symbol())}
			}
			seenTokens[e.To.Address()] = struct{}{}
		}
	}

	last := c.Edges[len(c.Edges)-1]
	if !last.To.Equals(c.Start) {
		return &domain.Rejection{Cycle: c, Reason: domain.RejectBadStructure,
			Detail: "walk does not return to start token"}
	}

	return nil
}

// simulateWalk runs the probe amount through every hop's fill model.
func (v *Validator) simulateWalk(graph *marketdomain.PriceGraph, c *domain.Cycle) (decimal.Decimal, *domain.Rejection) {
	amount := v.config.ProbeAmount

	for i, e := range c.Edges {
		q, ok := graph.Quote(e.Pool.Address)
		if !ok {
			return decimal.Zero, &domain.Rejection{Cycle: c, Reason: domain.RejectStaleQuote,
				Detail: fmt.Sprintf("no snapshot for pool %s", e.Pool.Address.Hex())}
		}

		zeroForOne := e.From.Equals(e.Pool.Token0)
		out, ok := marketdomain.SimulateFill(q, zeroForOne, amount)
		if !ok {
			return decimal.Zero, &domain.Rejection{Cycle: c, Reason: domain.RejectInsufficientLiquidity,
				Detail: fmt.Sprintf("hop %d fill failed on pool %s", i, e.Pool.Address.Hex())}
		}
		amount = out
	}

	return amount, nil
}
