package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
chain:
  http_url: "http://localhost:8545"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.App.Name != "cyclearb" {
		t.Errorf("app.name = %q", cfg.App.Name)
	}
	if cfg.Detector.MaxHops != 3 {
		t.Errorf("detector.max_hops = %d, want 3", cfg.Detector.MaxHops)
	}
	if cfg.Validator.MaxPlausibleReturn != 1.5 {
		t.Errorf("validator.max_plausible_return = %f, want 1.5", cfg.Validator.MaxPlausibleReturn)
	}
	if cfg.Execution.SpreadLowBps != 15 || cfg.Execution.SpreadHighBps != 30 {
		t.Errorf("spread buckets = %f/%f, want 15/30", cfg.Execution.SpreadLowBps, cfg.Execution.SpreadHighBps)
	}
	if cfg.Execution.GasCacheTTLMid != 30*time.Second {
		t.Errorf("gas_cache_ttl_mid = %s, want 30s", cfg.Execution.GasCacheTTLMid)
	}
	if cfg.Engine.AutoExecute {
		t.Error("auto_execute should default off")
	}
}

func TestLoadPoolSet(t *testing.T) {
	path := writeConfig(t, `
chain:
  http_url: "http://localhost:8545"
market:
  pools:
    - address: "0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640"
      venue: concentrated_liquidity
      fee_bps: 5
      token0:
        address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
        symbol: WETH
        decimals: 18
      token1:
        address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
        symbol: USDC
        decimals: 6
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Market.Pools) != 1 {
		t.Fatalf("pools = %d, want 1", len(cfg.Market.Pools))
	}

	p := cfg.Market.Pools[0]
	if p.Venue != "concentrated_liquidity" || p.FeeBps != 5 {
		t.Errorf("pool = %+v", p)
	}
	if p.Token1.Decimals != 6 {
		t.Errorf("token1 decimals = %d, want 6", p.Token1.Decimals)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CYC_ETH_HTTP_URL", "http://node.internal:8545")
	t.Setenv("CYC_MAX_PLAUSIBLE_RETURN", "1.2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chain.HTTPURL != "http://node.internal:8545" {
		t.Errorf("chain.http_url = %q", cfg.Chain.HTTPURL)
	}
	if cfg.Validator.MaxPlausibleReturn != 1.2 {
		t.Errorf("max_plausible_return = %f, want 1.2", cfg.Validator.MaxPlausibleReturn)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing http url", `
app:
  name: x
`},
		{"max hops too deep", `
chain:
  http_url: "http://localhost:8545"
detector:
  max_hops: 6
`},
		{"inverted spread buckets", `
chain:
  http_url: "http://localhost:8545"
execution:
  spread_low_bps: 40
  spread_high_bps: 30
`},
		{"bin pool without step", `
chain:
  http_url: "http://localhost:8545"
market:
  pools:
    - address: "0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640"
      venue: bin_liquidity
      token0:
        address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
        symbol: WETH
        decimals: 18
      token1:
        address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
        symbol: USDC
        decimals: 6
`},
		{"token decimals out of range", `
chain:
  http_url: "http://localhost:8545"
market:
  pools:
    - address: "0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640"
      venue: constant_product
      token0:
        address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
        symbol: WETH
        decimals: 200
      token1:
        address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
        symbol: USDC
        decimals: 6
`},
		{"bogus venue", `
chain:
  http_url: "http://localhost:8545"
market:
  pools:
    - address: "0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640"
      venue: order_book
      token0:
        address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
        symbol: WETH
        decimals: 18
      token1:
        address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
        symbol: USDC
        decimals: 6
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Error("invalid config loaded without error")
			}
		})
	}
}
