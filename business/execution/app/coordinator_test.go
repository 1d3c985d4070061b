package app

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lbayas/cyclearb/business/execution/domain"
	"github.com/lbayas/cyclearb/internal/apperror"
	"github.com/lbayas/cyclearb/internal/asset"
	"github.com/lbayas/cyclearb/internal/logger"
)

var startToken = asset.NewToken(common.HexToAddress("0x00000000000000000000000000000000000000ee"), "WETH", 18)

type fakeEstimator struct {
	calls atomic.Int64
	limit uint64
	err   error
}

func (f *fakeEstimator) Estimate(context.Context, *domain.ExecutionIntent) (uint64, error) {
	f.calls.Add(1)
	return f.limit, f.err
}

type fakeSimulator struct {
	calls atomic.Int64
	err   error
}

func (f *fakeSimulator) Simulate(context.Context, *domain.ExecutionIntent, uint64) error {
	f.calls.Add(1)
	return f.err
}

type fakeSubmitter struct {
	mu        sync.Mutex
	sequences []uint64
	submitErr error
	waitErr   error
	confirm   domain.Confirmation
	release   chan struct{} // when set, Wait blocks until closed
}

func (f *fakeSubmitter) Submit(_ context.Context, _ *domain.ExecutionIntent, sequence, _ uint64, _ *big.Int) (common.Hash, error) {
	f.mu.Lock()
	f.sequences = append(f.sequences, sequence)
	f.mu.Unlock()
	if f.submitErr != nil {
		return common.Hash{}, f.submitErr
	}
	return common.HexToHash("0xabc"), nil
}

func (f *fakeSubmitter) Wait(ctx context.Context, _ common.Hash) (domain.Confirmation, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return domain.Confirmation{}, ctx.Err()
		}
	}
	if f.waitErr != nil {
		return domain.Confirmation{}, f.waitErr
	}
	return f.confirm, nil
}

func (f *fakeSubmitter) seen() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint64, len(f.sequences))
	copy(out, f.sequences)
	return out
}

// fakeSequences serves pending values from a queue, sticking on the
// last one. This lets a test change what the chain reports between the
// initial seed and a later resync.
type fakeSequences struct {
	mu      sync.Mutex
	pending []uint64
	idx     int
}

func (f *fakeSequences) PendingSequence(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.pending[f.idx]
	if f.idx < len(f.pending)-1 {
		f.idx++
	}
	return v, nil
}

type fakeBalances struct {
	mu      sync.Mutex
	values  []decimal.Decimal
	idx     int
	calls   int
	errOnce error // returned from the next read only
}

func (f *fakeBalances) Balance(context.Context, *asset.Token) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.errOnce != nil {
		err := f.errOnce
		f.errOnce = nil
		return decimal.Zero, err
	}
	if f.idx >= len(f.values) {
		return f.values[len(f.values)-1], nil
	}
	v := f.values[f.idx]
	f.idx++
	return v, nil
}

func (f *fakeBalances) reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	estimator *fakeEstimator
	simulator *fakeSimulator
	submitter *fakeSubmitter
	sequences *fakeSequences
	balances  *fakeBalances
	coord     *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		estimator: &fakeEstimator{limit: 200_000},
		simulator: &fakeSimulator{},
		submitter: &fakeSubmitter{confirm: domain.Confirmation{Status: 1, GasUsed: 180_000}},
		sequences: &fakeSequences{pending: []uint64{7}},
		balances:  &fakeBalances{values: []decimal.Decimal{decimal.NewFromInt(100), decimal.NewFromInt(101)}},
	}

	cfg := DefaultCoordinatorConfig()
	cfg.ConfirmTimeout = 200 * time.Millisecond

	coord, err := NewCoordinator(cfg, f.estimator, f.simulator, f.submitter, f.sequences, f.balances, nil, logger.NewTest())
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	f.coord = coord
	t.Cleanup(coord.Close)
	return f
}

func testIntent(spreadBps float64) *domain.ExecutionIntent {
	return domain.NewIntent(
		uuid.New(),
		"route-a",
		startToken,
		[]domain.SwapStep{},
		decimal.NewFromInt(1),
		decimal.NewFromFloat(1.001),
		spreadBps,
	)
}

func TestExecuteHappyPath(t *testing.T) {
	f := newFixture(t)

	result, err := f.coord.Execute(context.Background(), testIntent(20))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if result.Status != domain.StatusConfirmed {
		t.Errorf("status = %s, want confirmed", result.Status)
	}
	if result.Sequence != 7 {
		t.Errorf("sequence = %d, want 7", result.Sequence)
	}
	// 200k base + 15% mid-bucket buffer.
	if result.GasLimit != 230_000 {
		t.Errorf("gas limit = %d, want 230000", result.GasLimit)
	}

	f.coord.Close() // waits for the async profit check
	if !result.ProfitChecked {
		t.Fatal("profit never verified")
	}
	if !result.RealizedDelta.Equal(decimal.NewFromInt(1)) {
		t.Errorf("realized delta = %s, want 1", result.RealizedDelta)
	}
}

func TestExecuteSkipsProfitCheckWithoutBaseline(t *testing.T) {
	f := newFixture(t)
	f.balances.errOnce = errors.New("rpc down")

	result, err := f.coord.Execute(context.Background(), testIntent(20))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != domain.StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", result.Status)
	}

	f.coord.Close()
	if result.ProfitChecked {
		t.Error("profit check ran without a pre-trade baseline")
	}
	if !result.RealizedDelta.IsZero() {
		t.Errorf("realized delta = %s, want untouched zero", result.RealizedDelta)
	}
	if got := f.balances.reads(); got != 1 {
		t.Errorf("balance reads = %d, want 1 (no post-trade read)", got)
	}
}

func TestExecuteRejectsWhileInFlight(t *testing.T) {
	f := newFixture(t)
	f.submitter.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.coord.Execute(context.Background(), testIntent(20))
		done <- err
	}()

	// Wait until the first execution is holding the flag.
	deadline := time.Now().Add(time.Second)
	for !f.coord.Busy() {
		if time.Now().After(deadline) {
			t.Fatal("first execution never took the in-flight flag")
		}
		time.Sleep(time.Millisecond)
	}

	_, err := f.coord.Execute(context.Background(), testIntent(20))
	if !apperror.IsCode(err, apperror.CodeExecutionInFlight) {
		t.Fatalf("second Execute: err = %v, want EXECUTION_IN_FLIGHT", err)
	}

	close(f.submitter.release)
	if err := <-done; err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if f.coord.Busy() {
		t.Error("flag still held after completion")
	}
}

func TestExecuteGasCacheByBucket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two low-spread trades on the same route: second serves from cache.
	if _, err := f.coord.Execute(ctx, testIntent(10)); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if _, err := f.coord.Execute(ctx, testIntent(10)); err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if got := f.estimator.calls.Load(); got != 1 {
		t.Fatalf("estimator calls after two low-spread trades = %d, want 1", got)
	}

	// High spread bypasses the still-fresh cache entry.
	if _, err := f.coord.Execute(ctx, testIntent(50)); err != nil {
		t.Fatalf("high-spread Execute: %v", err)
	}
	if got := f.estimator.calls.Load(); got != 2 {
		t.Fatalf("estimator calls after high-spread trade = %d, want 2", got)
	}

	// And another high-spread trade estimates again: no caching at all.
	if _, err := f.coord.Execute(ctx, testIntent(50)); err != nil {
		t.Fatalf("second high-spread Execute: %v", err)
	}
	if got := f.estimator.calls.Load(); got != 3 {
		t.Fatalf("estimator calls after second high-spread trade = %d, want 3", got)
	}
}

func TestExecuteSequencesGapFree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := f.coord.Execute(ctx, testIntent(20)); err != nil {
			t.Fatalf("Execute %d: %v", i, err)
		}
	}

	want := []uint64{7, 8, 9, 10, 11}
	got := f.submitter.seen()
	if len(got) != len(want) {
		t.Fatalf("submitted %d transactions, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sequence[%d] = %d, want %d (gap-free)", i, got[i], want[i])
		}
	}
}

func TestExecuteResyncsAfterTimeout(t *testing.T) {
	f := newFixture(t)
	// Seed reads 7; the post-timeout resync sees the transaction
	// eventually landed and pending moved to 8.
	f.sequences.pending = []uint64{7, 8}
	f.submitter.release = make(chan struct{}) // never closed: Wait times out
	ctx := context.Background()

	_, err := f.coord.Execute(ctx, testIntent(20))
	if !apperror.IsCode(err, apperror.CodeConfirmationTimeout) {
		t.Fatalf("err = %v, want CONFIRMATION_TIMEOUT", err)
	}

	f.submitter.release = nil

	result, err := f.coord.Execute(ctx, testIntent(20))
	if err != nil {
		t.Fatalf("Execute after resync: %v", err)
	}
	if result.Sequence != 8 {
		t.Fatalf("sequence after resync = %d, want 8 (chain is the authority)", result.Sequence)
	}
}

func TestExecuteResyncsAfterSubmissionFailure(t *testing.T) {
	f := newFixture(t)
	f.submitter.submitErr = errors.New("replacement transaction underpriced")
	ctx := context.Background()

	result, err := f.coord.Execute(ctx, testIntent(20))
	if !apperror.IsCode(err, apperror.CodeSubmissionFailed) {
		t.Fatalf("err = %v, want SUBMISSION_FAILED", err)
	}
	if result == nil || result.Cause != domain.CauseSubmission {
		t.Fatalf("result = %+v, want submission_failed cause", result)
	}

	f.submitter.submitErr = nil
	second, err := f.coord.Execute(ctx, testIntent(20))
	if err != nil {
		t.Fatalf("Execute after resync: %v", err)
	}
	// Resync reloaded pending 7; the burned attempt does not advance it.
	if second.Sequence != 7 {
		t.Fatalf("sequence after resync = %d, want 7", second.Sequence)
	}
}

func TestExecuteAbortsOnSimulationRevertWithoutRetry(t *testing.T) {
	f := newFixture(t)
	f.simulator.err = errors.New("execution reverted: insufficient output")

	result, err := f.coord.Execute(context.Background(), testIntent(20))
	if !apperror.IsCode(err, apperror.CodeSimulationReverted) {
		t.Fatalf("err = %v, want SIMULATION_REVERTED", err)
	}
	if result.Cause != domain.CauseSimulation {
		t.Errorf("cause = %s, want simulation_reverted", result.Cause)
	}

	if got := f.simulator.calls.Load(); got != 1 {
		t.Errorf("simulator calls = %d, want exactly 1 (no retry)", got)
	}
	if len(f.submitter.seen()) != 0 {
		t.Error("transaction submitted despite simulation revert")
	}
}

func TestExecuteClassifiesReverts(t *testing.T) {
	t.Run("slippage guard", func(t *testing.T) {
		f := newFixture(t)
		f.submitter.confirm = domain.Confirmation{Status: 0, GasUsed: 90_000}

		result, err := f.coord.Execute(context.Background(), testIntent(20))
		if !apperror.IsCode(err, apperror.CodeSlippageGuardTripped) {
			t.Fatalf("err = %v, want SLIPPAGE_GUARD_TRIPPED", err)
		}
		if result.Cause != domain.CauseSlippageGuard {
			t.Errorf("cause = %s, want slippage_guard", result.Cause)
		}
	})

	t.Run("gas exhaustion", func(t *testing.T) {
		f := newFixture(t)
		f.submitter.confirm = domain.Confirmation{Status: 0, GasUsed: 230_000}

		result, err := f.coord.Execute(context.Background(), testIntent(20))
		if !apperror.IsCode(err, apperror.CodeGasExhausted) {
			t.Fatalf("err = %v, want GAS_EXHAUSTED", err)
		}
		if result.Cause != domain.CauseGasExhausted {
			t.Errorf("cause = %s, want gas_exhausted", result.Cause)
		}
	})
}

func TestExecuteGasEstimationFailure(t *testing.T) {
	f := newFixture(t)
	f.estimator.err = errors.New("rpc down")

	_, err := f.coord.Execute(context.Background(), testIntent(50))
	if !apperror.IsCode(err, apperror.CodeGasEstimationFailed) {
		t.Fatalf("err = %v, want GAS_ESTIMATION_FAILED", err)
	}
	if len(f.submitter.seen()) != 0 {
		t.Error("transaction submitted despite estimation failure")
	}
}
