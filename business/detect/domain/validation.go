package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

// RejectReason classifies why a candidate cycle was discarded.
type RejectReason string

const (
	RejectBadStructure          RejectReason = "bad_structure"
	RejectImplausibleReturn     RejectReason = "implausible_return"
	RejectInsufficientLiquidity RejectReason = "insufficient_liquidity"
	RejectStaleQuote            RejectReason = "stale_quote"
)

// Rejection records a discarded candidate together with why.
type Rejection struct {
	Cycle  *Cycle
	Reason RejectReason
	Detail string
}

// ValidatedCycle is a cycle that survived validation, carrying the
// fill-simulated return and a ranking score. Confidence orders
// candidates against each other; it never admits or rejects one.
type ValidatedCycle struct {
	Cycle *Cycle

	// SimulatedReturn is the Start-token amount a probe trade of
	// ProbeAmount would produce after walking every hop's fill model.
	ProbeAmount     decimal.Decimal
	SimulatedReturn decimal.Decimal

	Confidence float64
}

// SimulatedSpreadBps returns the fill-simulated edge in basis points.
func (v *ValidatedCycle) SimulatedSpreadBps() float64 {
	if v.ProbeAmount.IsZero() {
		return 0
	}
	ratio, _ := v.SimulatedReturn.Div(v.ProbeAmount).Float64()
	return (ratio - 1) * 10_000
}

// ConfidenceScore ranks a validated cycle. Shorter cycles and fills
// that confirm the quoted rates score higher; the result is clamped to
// [0, 1].
func ConfidenceScore(c *Cycle, quotedReturn, simulatedRatio float64) float64 {
	if quotedReturn <= 0 || simulatedRatio <= 0 {
		return 0
	}

	// Agreement between quoted rates and the fill simulation. A fill
	// that lands at the quoted return scores 1; scores decay as the
	// simulation falls short.
	agreement := simulatedRatio / quotedReturn
	if agreement > 1 {
		agreement = 1
	}

	// Hop penalty: every hop past the second costs a fifth.
	hopFactor := 1 - 0.2*float64(c.Len()-2)
	if hopFactor < 0.2 {
		hopFactor = 0.2
	}

	score := agreement * hopFactor
	return math.Max(0, math.Min(1, score))
}
