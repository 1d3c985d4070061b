// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Market    MarketConfig    `mapstructure:"market"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Validator ValidatorConfig `mapstructure:"validator"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Engine    EngineConfig    `mapstructure:"engine"`
	API       APIConfig       `mapstructure:"api"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// ChainConfig holds node and signer configuration.
type ChainConfig struct {
	HTTPURL    string `mapstructure:"http_url"`
	ChainID    uint64 `mapstructure:"chain_id"`
	PrivateKey string `mapstructure:"private_key"` // hex, no 0x prefix
}

// MarketConfig holds quote polling configuration.
type MarketConfig struct {
	MaxConcurrentReads int          `mapstructure:"max_concurrent_reads"`
	RequestsPerSecond  float64      `mapstructure:"requests_per_second"`
	Burst              int          `mapstructure:"burst"`
	Pools              []PoolConfig `mapstructure:"pools"`
}

// PoolConfig declares one pool to watch.
type PoolConfig struct {
	Address string      `mapstructure:"address"`
	Venue   string      `mapstructure:"venue"`
	Token0  TokenConfig `mapstructure:"token0"`
	Token1  TokenConfig `mapstructure:"token1"`
	FeeBps  uint32      `mapstructure:"fee_bps"`
	BinStep uint16      `mapstructure:"bin_step"`
}

// TokenConfig declares one token of a pool pair.
type TokenConfig struct {
	Address  string `mapstructure:"address"`
	Symbol   string `mapstructure:"symbol"`
	Decimals uint8  `mapstructure:"decimals"`
}

// DetectorConfig holds cycle search bounds.
type DetectorConfig struct {
	MinHops      int      `mapstructure:"min_hops"`
	MaxHops      int      `mapstructure:"max_hops"`
	MinProfitBps float64  `mapstructure:"min_profit_bps"`
	StartTokens  []string `mapstructure:"start_tokens"`
}

// ValidatorConfig holds plausibility and liquidity screening settings.
type ValidatorConfig struct {
	MaxPlausibleReturn float64       `mapstructure:"max_plausible_return"`
	ProbeAmount        float64       `mapstructure:"probe_amount"`
	MinFillRatio       float64       `mapstructure:"min_fill_ratio"`
	MaxQuoteAge        time.Duration `mapstructure:"max_quote_age"`
}

// ProbeAmountDecimal returns the probe amount as decimal.Decimal.
func (c *ValidatorConfig) ProbeAmountDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.ProbeAmount)
}

// ExecutionConfig holds settlement and gas policy settings.
type ExecutionConfig struct {
	ContractAddress string        `mapstructure:"contract_address"`
	ConfirmTimeout  time.Duration `mapstructure:"confirm_timeout"`
	ReceiptPoll     time.Duration `mapstructure:"receipt_poll"`

	SpreadLowBps  float64 `mapstructure:"spread_low_bps"`
	SpreadHighBps float64 `mapstructure:"spread_high_bps"`
	BufferLowPct  uint64  `mapstructure:"buffer_low_pct"`
	BufferMidPct  uint64  `mapstructure:"buffer_mid_pct"`
	BufferHighPct uint64  `mapstructure:"buffer_high_pct"`

	GasCacheTTLLow time.Duration `mapstructure:"gas_cache_ttl_low"`
	GasCacheTTLMid time.Duration `mapstructure:"gas_cache_ttl_mid"`

	PriorityFeeFloorGwei  float64 `mapstructure:"priority_fee_floor_gwei"`
	PriorityFeePerBpsGwei float64 `mapstructure:"priority_fee_per_bps_gwei"`
	PriorityFeeCapGwei    float64 `mapstructure:"priority_fee_cap_gwei"`
}

// ContractAddressHex returns the settlement contract as common.Address.
func (c *ExecutionConfig) ContractAddressHex() common.Address {
	return common.HexToAddress(c.ContractAddress)
}

// EngineConfig holds sweep loop settings.
type EngineConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	AutoExecute       bool          `mapstructure:"auto_execute"`
	AutoMinConfidence float64       `mapstructure:"auto_min_confidence"`
	AutoAmountIn      float64       `mapstructure:"auto_amount_in"`
	AutoSlippageBps   float64       `mapstructure:"auto_slippage_bps"`
}

// AutoAmountInDecimal returns the auto trade size as decimal.Decimal.
func (c *EngineConfig) AutoAmountInDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.AutoAmountIn)
}

// APIConfig holds operator API settings.
type APIConfig struct {
	Addr       string `mapstructure:"addr"`
	HealthPort int    `mapstructure:"health_port"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	TraceBackend   string `mapstructure:"trace_backend"` // zipkin, console, empty
	ZipkinURL      string `mapstructure:"zipkin_url"`
	PrometheusPort int    `mapstructure:"prometheus_port"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("CYC")
	v.AutomaticEnv()

	bindEnvVars(v)
	setDefaults(v)

	// Config file is optional; env vars can carry everything.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	// App
	v.BindEnv("app.name", "CYC_APP_NAME", "SERVICE_NAME")
	v.BindEnv("app.environment", "CYC_ENVIRONMENT", "ENVIRONMENT")
	v.BindEnv("app.log_level", "CYC_LOG_LEVEL", "LOG_LEVEL")

	// Chain
	v.BindEnv("chain.http_url", "CYC_ETH_HTTP_URL", "ETH_HTTP_URL")
	v.BindEnv("chain.chain_id", "CYC_ETH_CHAIN_ID", "ETH_CHAIN_ID")
	v.BindEnv("chain.private_key", "CYC_PRIVATE_KEY", "PRIVATE_KEY")

	// Detector
	v.BindEnv("detector.min_profit_bps", "CYC_MIN_PROFIT_BPS")
	v.BindEnv("detector.max_hops", "CYC_MAX_HOPS")

	// Validator
	v.BindEnv("validator.max_plausible_return", "CYC_MAX_PLAUSIBLE_RETURN")

	// Execution
	v.BindEnv("execution.contract_address", "CYC_CONTRACT_ADDRESS", "CONTRACT_ADDRESS")

	// Engine
	v.BindEnv("engine.auto_execute", "CYC_AUTO_EXECUTE")

	// Telemetry
	v.BindEnv("telemetry.enabled", "CYC_OTEL_ENABLED", "OTEL_ENABLED")
	v.BindEnv("telemetry.service_name", "CYC_OTEL_SERVICE_NAME", "OTEL_SERVICE_NAME")
	v.BindEnv("telemetry.zipkin_url", "CYC_ZIPKIN_URL", "ZIPKIN_URL")
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "cyclearb")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// Chain defaults
	v.SetDefault("chain.chain_id", 1)

	// Market defaults
	v.SetDefault("market.max_concurrent_reads", 8)
	v.SetDefault("market.requests_per_second", 50)
	v.SetDefault("market.burst", 16)

	// Detector defaults
	v.SetDefault("detector.min_hops", 2)
	v.SetDefault("detector.max_hops", 3)
	v.SetDefault("detector.min_profit_bps", 10)

	// Validator defaults
	v.SetDefault("validator.max_plausible_return", 1.5)
	v.SetDefault("validator.probe_amount", 1.0)
	v.SetDefault("validator.min_fill_ratio", 0.98)
	v.SetDefault("validator.max_quote_age", "30s")

	// Execution defaults
	v.SetDefault("execution.confirm_timeout", "90s")
	v.SetDefault("execution.receipt_poll", "2s")
	v.SetDefault("execution.spread_low_bps", 15)
	v.SetDefault("execution.spread_high_bps", 30)
	v.SetDefault("execution.buffer_low_pct", 8)
	v.SetDefault("execution.buffer_mid_pct", 15)
	v.SetDefault("execution.buffer_high_pct", 20)
	v.SetDefault("execution.gas_cache_ttl_low", "2m")
	v.SetDefault("execution.gas_cache_ttl_mid", "30s")
	v.SetDefault("execution.priority_fee_floor_gwei", 1)
	v.SetDefault("execution.priority_fee_per_bps_gwei", 0.1)
	v.SetDefault("execution.priority_fee_cap_gwei", 50)

	// Engine defaults
	v.SetDefault("engine.poll_interval", "3s")
	v.SetDefault("engine.auto_execute", false)
	v.SetDefault("engine.auto_min_confidence", 0.8)
	v.SetDefault("engine.auto_amount_in", 1.0)
	v.SetDefault("engine.auto_slippage_bps", 30)

	// API defaults
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.health_port", 8081)

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "cyclearb")
	v.SetDefault("telemetry.trace_backend", "empty")
	v.SetDefault("telemetry.prometheus_port", 9090)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Chain.HTTPURL == "" {
		return fmt.Errorf("chain.http_url is required")
	}
	if c.Execution.ContractAddress != "" && !common.IsHexAddress(c.Execution.ContractAddress) {
		return fmt.Errorf("invalid execution.contract_address: %s", c.Execution.ContractAddress)
	}
	if c.Detector.MinHops < 2 {
		return fmt.Errorf("detector.min_hops must be at least 2")
	}
	if c.Detector.MaxHops < c.Detector.MinHops || c.Detector.MaxHops > 4 {
		return fmt.Errorf("detector.max_hops must be between min_hops and 4")
	}
	if c.Validator.MaxPlausibleReturn <= 1 {
		return fmt.Errorf("validator.max_plausible_return must exceed 1")
	}
	if c.Execution.SpreadHighBps <= c.Execution.SpreadLowBps {
		return fmt.Errorf("execution.spread_high_bps must exceed spread_low_bps")
	}

	for i, p := range c.Market.Pools {
		if !common.IsHexAddress(p.Address) {
			return fmt.Errorf("market.pools[%d]: invalid address %q", i, p.Address)
		}
		if !common.IsHexAddress(p.Token0.Address) || !common.IsHexAddress(p.Token1.Address) {
			return fmt.Errorf("market.pools[%d]: invalid token address", i)
		}
		if p.Token0.Symbol == "" || p.Token1.Symbol == "" {
			return fmt.Errorf("market.pools[%d]: token symbols are required", i)
		}
		if p.Token0.Decimals > 30 || p.Token1.Decimals > 30 {
			return fmt.Errorf("market.pools[%d]: token decimals above 30", i)
		}
		switch p.Venue {
		case "constant_product", "concentrated_liquidity", "bin_liquidity":
		default:
			return fmt.Errorf("market.pools[%d]: unknown venue %q", i, p.Venue)
		}
		if p.Venue == "bin_liquidity" && p.BinStep == 0 {
			return fmt.Errorf("market.pools[%d]: bin_liquidity pools need bin_step", i)
		}
	}

	for i, s := range c.Detector.StartTokens {
		if !common.IsHexAddress(s) {
			return fmt.Errorf("detector.start_tokens[%d]: invalid address %q", i, s)
		}
	}

	return nil
}
