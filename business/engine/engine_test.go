package engine

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	detectapp "github.com/lbayas/cyclearb/business/detect/app"
	executionapp "github.com/lbayas/cyclearb/business/execution/app"
	executiondomain "github.com/lbayas/cyclearb/business/execution/domain"
	marketapp "github.com/lbayas/cyclearb/business/market/app"
	marketdomain "github.com/lbayas/cyclearb/business/market/domain"
	"github.com/lbayas/cyclearb/internal/apperror"
	"github.com/lbayas/cyclearb/internal/asset"
	"github.com/lbayas/cyclearb/internal/events"
	"github.com/lbayas/cyclearb/internal/logger"
)

var (
	engWETH = asset.NewToken(common.HexToAddress("0x00000000000000000000000000000000000000e1"), "WETH", 18)
	engUSDC = asset.NewToken(common.HexToAddress("0x00000000000000000000000000000000000000e2"), "USDC", 18)
)

// staticQuotes serves a fixed quote set for every fetch.
type staticQuotes struct {
	quotes []*marketdomain.PoolQuote
}

func (s *staticQuotes) FetchQuotes(context.Context, []*marketdomain.Pool) ([]*marketdomain.PoolQuote, error) {
	for _, q := range s.quotes {
		q.Timestamp = time.Now()
	}
	return s.quotes, nil
}

type stubEstimator struct{}

func (stubEstimator) Estimate(context.Context, *executiondomain.ExecutionIntent) (uint64, error) {
	return 200_000, nil
}

type stubSimulator struct{}

func (stubSimulator) Simulate(context.Context, *executiondomain.ExecutionIntent, uint64) error {
	return nil
}

type stubSubmitter struct {
	intents []*executiondomain.ExecutionIntent
}

func (s *stubSubmitter) Submit(_ context.Context, intent *executiondomain.ExecutionIntent, _, _ uint64, _ *big.Int) (common.Hash, error) {
	s.intents = append(s.intents, intent)
	return common.HexToHash("0x1"), nil
}

func (s *stubSubmitter) Wait(context.Context, common.Hash) (executiondomain.Confirmation, error) {
	return executiondomain.Confirmation{Status: 1, GasUsed: 190_000}, nil
}

type stubSequences struct{}

func (stubSequences) PendingSequence(context.Context) (uint64, error) { return 0, nil }

type stubBalances struct{}

func (stubBalances) Balance(context.Context, *asset.Token) (decimal.Decimal, error) {
	return decimal.NewFromInt(10), nil
}

func arbQuotes() ([]*marketdomain.Pool, []*marketdomain.PoolQuote) {
	p1 := &marketdomain.Pool{
		Address: common.HexToAddress("0x0000000000000000000000000000000000009001"),
		Venue:   marketdomain.VenueConstantProduct,
		Token0:  engWETH,
		Token1:  engUSDC,
	}
	p2 := &marketdomain.Pool{
		Address: common.HexToAddress("0x0000000000000000000000000000000000009002"),
		Venue:   marketdomain.VenueConstantProduct,
		Token0:  engUSDC,
		Token1:  engWETH,
	}

	raw := func(h int64) *big.Int {
		return new(big.Int).Mul(big.NewInt(h), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	}

	quotes := []*marketdomain.PoolQuote{
		{Pool: p1, Reserve0: raw(10_000_000), Reserve1: raw(10_100_000), BlockNumber: 9, Timestamp: time.Now()},
		{Pool: p2, Reserve0: raw(10_000_000), Reserve1: raw(10_000_000), BlockNumber: 9, Timestamp: time.Now()},
	}
	return []*marketdomain.Pool{p1, p2}, quotes
}

type engineFixture struct {
	engine    *Engine
	submitter *stubSubmitter
	bus       *events.Bus
}

func newEngineFixture(t *testing.T, cfg Config) *engineFixture {
	t.Helper()
	log := logger.NewTest()

	pools, quotes := arbQuotes()
	market, err := marketapp.NewMarketService(&staticQuotes{quotes: quotes}, pools, log)
	if err != nil {
		t.Fatalf("NewMarketService: %v", err)
	}

	detector, err := detectapp.NewDetector(detectapp.DefaultDetectorConfig(), log)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	validator, err := detectapp.NewValidator(detectapp.DefaultValidatorConfig(), log)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	submitter := &stubSubmitter{}
	coordCfg := executionapp.DefaultCoordinatorConfig()
	coordCfg.ConfirmTimeout = time.Second
	coordinator, err := executionapp.NewCoordinator(coordCfg, stubEstimator{}, stubSimulator{}, submitter, stubSequences{}, stubBalances{}, nil, log)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	t.Cleanup(coordinator.Close)

	bus := events.NewBus(64)
	t.Cleanup(bus.Close)

	eng, err := New(cfg, market, detector, validator, coordinator, bus, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &engineFixture{engine: eng, submitter: submitter, bus: bus}
}

func TestSweepPublishesOpportunities(t *testing.T) {
	f := newEngineFixture(t, DefaultConfig())
	f.engine.sweep(context.Background())

	validated, block, sweepAt := f.engine.Opportunities()
	if len(validated) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(validated))
	}
	if block != 9 {
		t.Errorf("block = %d, want 9", block)
	}
	if sweepAt.IsZero() {
		t.Error("sweep timestamp missing")
	}
	if validated[0].Cycle.Len() != 2 {
		t.Errorf("hops = %d, want 2", validated[0].Cycle.Len())
	}
}

func TestSweepEmitsEvents(t *testing.T) {
	f := newEngineFixture(t, DefaultConfig())

	sub, cancel := f.bus.Subscribe()
	defer cancel()

	f.engine.sweep(context.Background())

	types := map[events.Type]bool{}
	timeout := time.After(time.Second)
	for len(types) < 2 {
		select {
		case ev := <-sub:
			types[ev.Type] = true
		case <-timeout:
			t.Fatalf("saw only %v before timeout", types)
		}
	}

	if !types[events.TypeQuoteTick] || !types[events.TypeCycleFound] {
		t.Errorf("event types = %v, want quote_tick and cycle_found", types)
	}
}

func TestExecuteUnknownCycle(t *testing.T) {
	f := newEngineFixture(t, DefaultConfig())
	f.engine.sweep(context.Background())

	_, err := f.engine.Execute(context.Background(), ExecuteParams{
		CycleID:  uuid.New(),
		AmountIn: decimal.NewFromInt(1),
	})
	if !apperror.IsCode(err, apperror.CodeCycleNotFound) {
		t.Fatalf("err = %v, want CYCLE_NOT_FOUND", err)
	}
}

func TestExecuteRejectsNonPositiveAmount(t *testing.T) {
	f := newEngineFixture(t, DefaultConfig())

	_, err := f.engine.Execute(context.Background(), ExecuteParams{
		CycleID:  uuid.New(),
		AmountIn: decimal.Zero,
	})
	if !apperror.IsCode(err, apperror.CodeInvalidTradeSize) {
		t.Fatalf("err = %v, want INVALID_TRADE_SIZE", err)
	}
}

func TestExecuteTrackedCycle(t *testing.T) {
	f := newEngineFixture(t, DefaultConfig())
	f.engine.sweep(context.Background())

	validated, _, _ := f.engine.Opportunities()
	result, err := f.engine.Execute(context.Background(), ExecuteParams{
		CycleID:     validated[0].Cycle.ID,
		AmountIn:    decimal.NewFromInt(2),
		SlippageBps: 20,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != executiondomain.StatusConfirmed {
		t.Errorf("status = %s, want confirmed", result.Status)
	}

	if len(f.submitter.intents) != 1 {
		t.Fatalf("submitted %d intents, want 1", len(f.submitter.intents))
	}
	intent := f.submitter.intents[0]
	if len(intent.Steps) != 2 {
		t.Errorf("steps = %d, want 2", len(intent.Steps))
	}
	if !intent.AmountIn.Equal(decimal.NewFromInt(2)) {
		t.Errorf("amount in = %s, want 2", intent.AmountIn)
	}
	// Guard must sit above break-even and below the quoted return.
	if !intent.MinReturn.GreaterThan(decimal.NewFromInt(2)) {
		t.Errorf("min return = %s, want above break-even", intent.MinReturn)
	}
	quoted := decimal.NewFromFloat(validated[0].Cycle.ExpectedReturn).Mul(decimal.NewFromInt(2))
	if !intent.MinReturn.LessThan(quoted) {
		t.Errorf("min return = %s, want below quoted %s", intent.MinReturn, quoted)
	}
}

func TestBuildIntentFloorsGuardAtBreakEven(t *testing.T) {
	f := newEngineFixture(t, DefaultConfig())
	f.engine.sweep(context.Background())

	validated, _, _ := f.engine.Opportunities()

	// A tolerance wider than the whole edge would allow settling at a
	// loss; the guard must clamp to break-even instead.
	intent := buildIntent(validated[0], ExecuteParams{
		CycleID:     validated[0].Cycle.ID,
		AmountIn:    decimal.NewFromInt(1),
		SlippageBps: 500,
	})
	if !intent.MinReturn.Equal(decimal.NewFromInt(1)) {
		t.Errorf("min return = %s, want clamped to 1", intent.MinReturn)
	}
}

func TestAutoExecuteDispatchesBestCycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoExecute = true
	cfg.AutoMinConfidence = 0.5
	cfg.AutoAmountIn = decimal.NewFromInt(1)
	f := newEngineFixture(t, cfg)

	f.engine.sweep(context.Background())
	f.engine.auto.Wait()

	if len(f.submitter.intents) != 1 {
		t.Fatalf("auto trader submitted %d intents, want 1", len(f.submitter.intents))
	}
}
