// Package main is the entry point for the cycle arbitrage engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	detectapp "github.com/lbayas/cyclearb/business/detect/app"
	"github.com/lbayas/cyclearb/business/engine"
	executionapp "github.com/lbayas/cyclearb/business/execution/app"
	executioneth "github.com/lbayas/cyclearb/business/execution/infra/ethereum"
	marketapp "github.com/lbayas/cyclearb/business/market/app"
	marketdomain "github.com/lbayas/cyclearb/business/market/domain"
	marketeth "github.com/lbayas/cyclearb/business/market/infra/ethereum"
	"github.com/lbayas/cyclearb/internal/apm"
	"github.com/lbayas/cyclearb/internal/asset"
	"github.com/lbayas/cyclearb/internal/config"
	"github.com/lbayas/cyclearb/internal/events"
	"github.com/lbayas/cyclearb/internal/health"
	"github.com/lbayas/cyclearb/internal/logger"
	"github.com/lbayas/cyclearb/internal/metrics"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("cyclearb %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "received shutdown signal: %v\n", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(os.Stderr, logger.ParseLevel(cfg.App.LogLevel), cfg.App.Name, nil)
	log.Info(ctx, "starting cycle arbitrage engine",
		"version", version,
		"environment", cfg.App.Environment,
	)

	// Observability.
	var traceProvider apm.TraceProvider
	if cfg.Telemetry.Enabled {
		if cfg.Telemetry.ServiceName != "" {
			os.Setenv("OTEL_SERVICE_NAME", cfg.Telemetry.ServiceName)
		}
		if cfg.Telemetry.ZipkinURL != "" {
			os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.ZipkinURL)
		}

		provider := apm.EmptyProvider
		switch cfg.Telemetry.TraceBackend {
		case "zipkin":
			provider = apm.ZipkinProvider
		case "console":
			provider = apm.ConsoleProvider
		}
		traceProvider = apm.NewTraceProvider(log, apm.WithProvider(provider, log))
		log.Info(ctx, "tracing initialized", "backend", cfg.Telemetry.TraceBackend)

		metrics.NewMetricProvider(metrics.WithServiceName(cfg.Telemetry.ServiceName))
		go metrics.ServePrometheusMetrics(metrics.WithPort(strconv.Itoa(cfg.Telemetry.PrometheusPort)))
		log.Info(ctx, "prometheus metrics server started", "port", cfg.Telemetry.PrometheusPort)
	}
	defer func() {
		if traceProvider != nil {
			traceProvider.Stop()
		}
	}()

	// Health endpoints.
	healthServer := health.NewServer(cfg.API.HealthPort, version)
	if err := healthServer.Start(); err != nil {
		log.Warn(ctx, "failed to start health server", "error", err)
	} else {
		log.Info(ctx, "health server started", "port", cfg.API.HealthPort)
	}
	defer healthServer.Stop(ctx)

	// Chain connection.
	client, err := ethclient.DialContext(ctx, cfg.Chain.HTTPURL)
	if err != nil {
		return fmt.Errorf("failed to connect to node: %w", err)
	}
	defer client.Close()
	healthServer.RegisterCheck("chain", func(ctx context.Context) (bool, string) {
		if _, err := client.BlockNumber(ctx); err != nil {
			return false, err.Error()
		}
		return true, ""
	})

	// Event bus feeding the websocket stream.
	bus := events.NewBus(256)
	defer bus.Close()

	// Market context.
	registry := asset.DefaultRegistry()
	pools := buildPools(cfg.Market.Pools, registry)
	log.Info(ctx, "pool set loaded", "pools", len(pools))

	readerCfg := marketeth.ReaderConfig{
		MaxConcurrent:     cfg.Market.MaxConcurrentReads,
		RequestsPerSecond: cfg.Market.RequestsPerSecond,
		Burst:             cfg.Market.Burst,
	}
	reader, err := marketeth.NewReader(client, readerCfg, log)
	if err != nil {
		return fmt.Errorf("failed to build quote reader: %w", err)
	}
	market, err := marketapp.NewMarketService(reader, pools, log)
	if err != nil {
		return fmt.Errorf("failed to build market service: %w", err)
	}

	// Detect context.
	detector, err := detectapp.NewDetector(detectapp.DetectorConfig{
		MinHops:      cfg.Detector.MinHops,
		MaxHops:      cfg.Detector.MaxHops,
		MinProfitBps: cfg.Detector.MinProfitBps,
		StartTokens:  parseAddresses(cfg.Detector.StartTokens),
	}, log)
	if err != nil {
		return fmt.Errorf("failed to build detector: %w", err)
	}
	validator, err := detectapp.NewValidator(detectapp.ValidatorConfig{
		MaxPlausibleReturn: cfg.Validator.MaxPlausibleReturn,
		ProbeAmount:        cfg.Validator.ProbeAmountDecimal(),
		MinFillRatio:       cfg.Validator.MinFillRatio,
		MaxQuoteAge:        cfg.Validator.MaxQuoteAge,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to build validator: %w", err)
	}

	// Execution context.
	key, err := crypto.HexToECDSA(cfg.Chain.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to parse signing key: %w", err)
	}
	executorCfg := executioneth.ExecutorConfig{
		ContractAddress: cfg.Execution.ContractAddressHex(),
		ChainID:         new(big.Int).SetUint64(cfg.Chain.ChainID),
		ReceiptPoll:     cfg.Execution.ReceiptPoll,
	}
	executor, err := executioneth.NewExecutor(client, executorCfg, key, log)
	if err != nil {
		return fmt.Errorf("failed to build executor: %w", err)
	}
	log.Info(ctx, "signing account loaded", "address", executor.From().Hex())

	coordinator, err := executionapp.NewCoordinator(
		coordinatorConfig(cfg),
		executor, executor, executor, executor, executor,
		bus, log,
	)
	if err != nil {
		return fmt.Errorf("failed to build coordinator: %w", err)
	}
	defer coordinator.Close()

	// Engine plus operator API.
	eng, err := engine.New(engine.Config{
		PollInterval:      cfg.Engine.PollInterval,
		AutoExecute:       cfg.Engine.AutoExecute,
		AutoMinConfidence: cfg.Engine.AutoMinConfidence,
		AutoAmountIn:      cfg.Engine.AutoAmountInDecimal(),
		AutoSlippageBps:   cfg.Engine.AutoSlippageBps,
	}, market, detector, validator, coordinator, bus, log)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	apiCfg := engine.DefaultServerConfig()
	apiCfg.Addr = cfg.API.Addr
	api := engine.NewServer(apiCfg, eng, bus, log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := eng.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	g.Go(api.Start)
	g.Go(func() error {
		<-ctx.Done()
		return api.Shutdown(context.Background())
	})

	err = g.Wait()
	log.Info(ctx, "shutdown complete")
	return err
}

func coordinatorConfig(cfg *config.Config) executionapp.CoordinatorConfig {
	gwei := func(f float64) *big.Int {
		v, _ := new(big.Float).Mul(big.NewFloat(f), big.NewFloat(1e9)).Int(nil)
		return v
	}

	out := executionapp.DefaultCoordinatorConfig()
	out.ConfirmTimeout = cfg.Execution.ConfirmTimeout
	out.GasPolicy.SpreadLowBps = cfg.Execution.SpreadLowBps
	out.GasPolicy.SpreadHighBps = cfg.Execution.SpreadHighBps
	out.GasPolicy.BufferLowPct = cfg.Execution.BufferLowPct
	out.GasPolicy.BufferMidPct = cfg.Execution.BufferMidPct
	out.GasPolicy.BufferHighPct = cfg.Execution.BufferHighPct
	out.GasPolicy.TTLLow = cfg.Execution.GasCacheTTLLow
	out.GasPolicy.TTLMid = cfg.Execution.GasCacheTTLMid
	out.GasPolicy.PriorityFeeFloor = gwei(cfg.Execution.PriorityFeeFloorGwei)
	out.GasPolicy.PriorityFeePerBps = gwei(cfg.Execution.PriorityFeePerBpsGwei)
	out.GasPolicy.PriorityFeeCap = gwei(cfg.Execution.PriorityFeeCapGwei)
	return out
}

// buildPools converts pool declarations into domain pools, registering
// their tokens so every pool sharing a token sees the same instance.
// Addresses and venues were already validated during config load.
func buildPools(declared []config.PoolConfig, registry *asset.Registry) []*marketdomain.Pool {
	pools := make([]*marketdomain.Pool, 0, len(declared))

	for _, pc := range declared {
		t0 := resolveToken(registry, pc.Token0)
		t1 := resolveToken(registry, pc.Token1)

		pools = append(pools, &marketdomain.Pool{
			Address: common.HexToAddress(pc.Address),
			Venue:   marketdomain.VenueKind(pc.Venue),
			Token0:  t0,
			Token1:  t1,
			FeeBps:  pc.FeeBps,
			BinStep: pc.BinStep,
		})
	}

	return pools
}

func resolveToken(registry *asset.Registry, tc config.TokenConfig) *asset.Token {
	addr := common.HexToAddress(tc.Address)
	if t, ok := registry.Get(addr); ok {
		return t
	}
	t := asset.NewToken(addr, tc.Symbol, tc.Decimals)
	registry.Register(t)
	return t
}

func parseAddresses(hexes []string) []common.Address {
	out := make([]common.Address, 0, len(hexes))
	for _, h := range hexes {
		out = append(out, common.HexToAddress(h))
	}
	return out
}
