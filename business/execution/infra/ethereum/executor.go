// Package ethereum provides on-chain infrastructure adapters for the
// execution context.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lbayas/cyclearb/business/execution/app"
	"github.com/lbayas/cyclearb/business/execution/domain"
	"github.com/lbayas/cyclearb/internal/apperror"
	"github.com/lbayas/cyclearb/internal/asset"
	"github.com/lbayas/cyclearb/internal/circuitbreaker"
	"github.com/lbayas/cyclearb/internal/logger"
)

const tracerName = "github.com/lbayas/cyclearb/business/execution/infra/ethereum"

// ChainClient is the subset of ethclient the executor uses.
type ChainClient interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// ExecutorConfig identifies the settlement contract and signer.
type ExecutorConfig struct {
	ContractAddress common.Address
	ChainID         *big.Int
	ReceiptPoll     time.Duration
}

// DefaultExecutorConfig returns standard polling settings; contract and
// chain id still have to be set.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		ReceiptPoll: 2 * time.Second,
	}
}

// Port assertions.
var (
	_ app.GasEstimator   = (*Executor)(nil)
	_ app.TradeSimulator = (*Executor)(nil)
	_ app.TxSubmitter    = (*Executor)(nil)
	_ app.SequenceSource = (*Executor)(nil)
	_ app.BalanceReader  = (*Executor)(nil)
)

// Executor talks to the settlement contract: it estimates, simulates,
// signs, submits and awaits executions, and reads balances for the
// profit check.
type Executor struct {
	client ChainClient
	config ExecutorConfig

	key  *ecdsa.PrivateKey
	from common.Address

	settlementABI abi.ABI
	erc20ABI      abi.ABI

	callCB *circuitbreaker.CircuitBreaker[[]byte]
	gasCB  *circuitbreaker.CircuitBreaker[uint64]

	logger logger.LoggerInterface
	tracer trace.Tracer
}

// NewExecutor builds the settlement adapter for the given signing key.
func NewExecutor(client ChainClient, cfg ExecutorConfig, key *ecdsa.PrivateKey, log logger.LoggerInterface) (*Executor, error) {
	if cfg.ChainID == nil {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext("chain id"))
	}
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = 2 * time.Second
	}

	settlementABI, err := abi.JSON(strings.NewReader(SettlementABI))
	if err != nil {
		return nil, fmt.Errorf("parse settlement ABI: %w", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(ERC20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 ABI: %w", err)
	}

	return &Executor{
		client:        client,
		config:        cfg,
		key:           key,
		from:          crypto.PubkeyToAddress(key.PublicKey),
		settlementABI: settlementABI,
		erc20ABI:      erc20ABI,
		callCB:        circuitbreaker.New[[]byte](circuitbreaker.DefaultConfig("settlement-call")),
		gasCB:         circuitbreaker.New[uint64](circuitbreaker.DefaultConfig("settlement-gas")),
		logger:        log,
		tracer:        otel.Tracer(tracerName),
	}, nil
}

// From returns the signing account address.
func (e *Executor) From() common.Address {
	return e.from
}

// Estimate returns the chain's gas estimate for the intent, unbuffered.
func (e *Executor) Estimate(ctx context.Context, intent *domain.ExecutionIntent) (uint64, error) {
	ctx, span := e.tracer.Start(ctx, "executor.estimate",
		trace.WithAttributes(attribute.String("route", intent.Route)),
	)
	defer span.End()

	data, err := buildCalldata(e.settlementABI, intent)
	if err != nil {
		return 0, err
	}

	limit, err := e.gasCB.Execute(func() (uint64, error) {
		return e.client.EstimateGas(ctx, ethereum.CallMsg{
			From: e.from,
			To:   &e.config.ContractAddress,
			Data: data,
		})
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	span.SetAttributes(attribute.Int64("gas.estimate", int64(limit)))
	return limit, nil
}

// Simulate dry-runs the settlement call at the pending state. An error
// here means the route would revert on chain.
func (e *Executor) Simulate(ctx context.Context, intent *domain.ExecutionIntent, gasLimit uint64) error {
	ctx, span := e.tracer.Start(ctx, "executor.simulate",
		trace.WithAttributes(attribute.String("route", intent.Route)),
	)
	defer span.End()

	data, err := buildCalldata(e.settlementABI, intent)
	if err != nil {
		return err
	}

	_, err = e.callCB.Execute(func() ([]byte, error) {
		return e.client.CallContract(ctx, ethereum.CallMsg{
			From: e.from,
			To:   &e.config.ContractAddress,
			Gas:  gasLimit,
			Data: data,
		}, nil)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Submit signs and broadcasts the settlement transaction.
func (e *Executor) Submit(ctx context.Context, intent *domain.ExecutionIntent, sequence, gasLimit uint64, priorityFee *big.Int) (common.Hash, error) {
	ctx, span := e.tracer.Start(ctx, "executor.submit",
		trace.WithAttributes(
			attribute.String("route", intent.Route),
			attribute.Int64("sequence", int64(sequence)),
		),
	)
	defer span.End()

	data, err := buildCalldata(e.settlementABI, intent)
	if err != nil {
		return common.Hash{}, err
	}

	header, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("read head for base fee: %w", err)
	}

	// Fee cap: twice the current base fee plus the tip, room for one
	// full upward base fee adjustment.
	feeCap := new(big.Int).Add(
		new(big.Int).Mul(header.BaseFee, big.NewInt(2)),
		priorityFee,
	)

	tx, err := types.SignNewTx(e.key, types.LatestSignerForChainID(e.config.ChainID), &types.DynamicFeeTx{
		ChainID:   e.config.ChainID,
		Nonce:     sequence,
		GasTipCap: priorityFee,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &e.config.ContractAddress,
		Data:      data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}

	if err := e.client.SendTransaction(ctx, tx); err != nil {
		span.RecordError(err)
		return common.Hash{}, err
	}

	hash := tx.Hash()
	e.logger.Info(ctx, "settlement transaction submitted",
		"tx_hash", hash.Hex(),
		"sequence", sequence,
		"gas_limit", gasLimit,
		"priority_fee_wei", priorityFee.String(),
	)
	span.SetAttributes(attribute.String("tx.hash", hash.Hex()))

	return hash, nil
}

// Wait polls for the receipt until the context expires.
func (e *Executor) Wait(ctx context.Context, hash common.Hash) (domain.Confirmation, error) {
	ticker := time.NewTicker(e.config.ReceiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := e.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return domain.Confirmation{
				Status:      receipt.Status,
				GasUsed:     receipt.GasUsed,
				BlockNumber: receipt.BlockNumber.Uint64(),
			}, nil
		}

		select {
		case <-ctx.Done():
			return domain.Confirmation{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// PendingSequence reads the chain's pending nonce for the signer.
func (e *Executor) PendingSequence(ctx context.Context) (uint64, error) {
	return e.client.PendingNonceAt(ctx, e.from)
}

// Balance reads the signer's token balance in human units.
func (e *Executor) Balance(ctx context.Context, token *asset.Token) (decimal.Decimal, error) {
	data, err := e.erc20ABI.Pack("balanceOf", e.from)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pack balanceOf: %w", err)
	}

	to := token.Address()
	raw, err := e.callCB.Execute(func() ([]byte, error) {
		return e.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	})
	if err != nil {
		return decimal.Zero, err
	}

	out, err := e.erc20ABI.Unpack("balanceOf", raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unpack balanceOf: %w", err)
	}
	balance := out[0].(*big.Int)

	return decimal.NewFromBigInt(balance, 0).Div(decimal.New(1, int32(token.Decimals()))), nil
}
