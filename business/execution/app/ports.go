// Package app orchestrates atomic cycle execution.
package app

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/lbayas/cyclearb/business/execution/domain"
	"github.com/lbayas/cyclearb/internal/asset"
)

// GasEstimator produces a base gas limit for an intent against current
// chain state. The coordinator applies its own safety buffers.
type GasEstimator interface {
	Estimate(ctx context.Context, intent *domain.ExecutionIntent) (uint64, error)
}

// TradeSimulator dry-runs an intent without spending gas. A revert
// means the opportunity is gone; the coordinator aborts without retry.
type TradeSimulator interface {
	Simulate(ctx context.Context, intent *domain.ExecutionIntent, gasLimit uint64) error
}

// TxSubmitter signs, submits and awaits the settlement transaction.
type TxSubmitter interface {
	Submit(ctx context.Context, intent *domain.ExecutionIntent, sequence, gasLimit uint64, priorityFee *big.Int) (common.Hash, error)
	Wait(ctx context.Context, hash common.Hash) (domain.Confirmation, error)
}

// SequenceSource reports the chain's pending sequence number for the
// signing account. It is the authority the local counter syncs from.
type SequenceSource interface {
	PendingSequence(ctx context.Context) (uint64, error)
}

// BalanceReader reads the signing account's token balance, in human
// units. Used by the asynchronous profit check.
type BalanceReader interface {
	Balance(ctx context.Context, token *asset.Token) (decimal.Decimal, error)
}
