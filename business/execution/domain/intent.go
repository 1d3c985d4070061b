package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	marketdomain "github.com/lbayas/cyclearb/business/market/domain"
	"github.com/lbayas/cyclearb/internal/asset"
)

// SwapStep is one hop of an execution route, in trade order.
type SwapStep struct {
	Pool     common.Address
	Venue    marketdomain.VenueKind
	TokenIn  *asset.Token
	TokenOut *asset.Token
	FeeBps   uint32
	BinStep  uint16
}

// ExecutionIntent is a fully specified request to trade one cycle
// atomically. Route is the cycle's canonical signature and doubles as
// the gas cache key.
type ExecutionIntent struct {
	ID      uuid.UUID
	CycleID uuid.UUID
	Route   string
	Start   *asset.Token
	Steps   []SwapStep

	// AmountIn is the Start-token trade size in human units.
	AmountIn decimal.Decimal

	// MinReturn is the slippage guard: the settlement contract reverts
	// the whole trade if the final output lands below it.
	MinReturn decimal.Decimal

	// SpreadBps drives the gas bucket and priority fee.
	SpreadBps float64

	CreatedAt time.Time
}

// NewIntent builds an execution intent for a route.
func NewIntent(cycleID uuid.UUID, route string, start *asset.Token, steps []SwapStep, amountIn, minReturn decimal.Decimal, spreadBps float64) *ExecutionIntent {
	return &ExecutionIntent{
		ID:        uuid.New(),
		CycleID:   cycleID,
		Route:     route,
		Start:     start,
		Steps:     steps,
		AmountIn:  amountIn,
		MinReturn: minReturn,
		SpreadBps: spreadBps,
		CreatedAt: time.Now(),
	}
}

// AmountInRaw returns the trade size in the Start token's smallest units.
func (i *ExecutionIntent) AmountInRaw() *big.Int {
	return i.AmountIn.Mul(decimal.New(1, int32(i.Start.Decimals()))).BigInt()
}

// MinReturnRaw returns the slippage guard in smallest units.
func (i *ExecutionIntent) MinReturnRaw() *big.Int {
	return i.MinReturn.Mul(decimal.New(1, int32(i.Start.Decimals()))).BigInt()
}

// FailureCause distinguishes why an execution did not pay out.
type FailureCause string

const (
	CauseNone           FailureCause = ""
	CauseSimulation     FailureCause = "simulation_reverted"
	CauseSubmission     FailureCause = "submission_failed"
	CauseTimeout        FailureCause = "confirmation_timeout"
	CauseSlippageGuard  FailureCause = "slippage_guard"
	CauseGasExhausted   FailureCause = "gas_exhausted"
	CauseSequenceDesync FailureCause = "sequence_desync"
)

// ClassifyRevert distinguishes an on-chain revert. A transaction that
// burned (nearly) its whole limit ran out of gas; anything else that
// reverted tripped the settlement contract's minimum-return guard.
func ClassifyRevert(gasUsed, gasLimit uint64) FailureCause {
	if gasLimit > 0 && gasUsed >= gasLimit*99/100 {
		return CauseGasExhausted
	}
	return CauseSlippageGuard
}

// Confirmation is the on-chain outcome of a submitted transaction.
type Confirmation struct {
	Status      uint64 // 1 success, 0 reverted
	GasUsed     uint64
	BlockNumber uint64
}

// Succeeded reports whether the transaction executed without reverting.
func (c Confirmation) Succeeded() bool {
	return c.Status == 1
}

// ExecutionStatus tracks an execution through its lifecycle.
type ExecutionStatus string

const (
	StatusSubmitted ExecutionStatus = "submitted"
	StatusConfirmed ExecutionStatus = "confirmed"
	StatusFailed    ExecutionStatus = "failed"
)

// ExecutionResult is the terminal record of one execution attempt.
type ExecutionResult struct {
	IntentID uuid.UUID
	CycleID  uuid.UUID
	Route    string

	Status ExecutionStatus
	Cause  FailureCause

	TxHash   common.Hash
	Sequence uint64
	GasLimit uint64
	GasUsed  uint64

	// RealizedDelta is the Start-token balance change measured after
	// confirmation, in human units. Filled in by the asynchronous
	// profit check; zero until then.
	RealizedDelta decimal.Decimal
	ProfitChecked bool

	SubmittedAt time.Time
	ConfirmedAt time.Time
}

// Profitable reports whether the verified balance delta is positive.
func (r *ExecutionResult) Profitable() bool {
	return r.ProfitChecked && r.RealizedDelta.Sign() > 0
}
