package domain

import (
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/lbayas/cyclearb/internal/asset"
)

var (
	testWETH = asset.NewToken(common.HexToAddress("0x1000000000000000000000000000000000000001"), "WETH", 18)
	testUSDC = asset.NewToken(common.HexToAddress("0x1000000000000000000000000000000000000002"), "USDC", 6)
	testDAI  = asset.NewToken(common.HexToAddress("0x1000000000000000000000000000000000000003"), "DAI", 18)
)

// newCPQuote builds a constant-product quote with human-unit reserves.
func newCPQuote(t *testing.T, addr string, token0, token1 *asset.Token, r0, r1 string, feeBps uint32) *PoolQuote {
	t.Helper()

	pool := &Pool{
		Address: common.HexToAddress(addr),
		Venue:   VenueConstantProduct,
		Token0:  token0,
		Token1:  token1,
		FeeBps:  feeBps,
	}

	return &PoolQuote{
		Pool:     pool,
		Reserve0: toRaw(t, r0, token0.Decimals()),
		Reserve1: toRaw(t, r1, token1.Decimals()),
	}
}

func toRaw(t *testing.T, human string, decimals uint8) *big.Int {
	t.Helper()
	d := decimal.RequireFromString(human).Mul(decimal.New(1, int32(decimals)))
	return d.BigInt()
}

func TestSpotRate_Reciprocity(t *testing.T) {
	tests := []struct {
		name   string
		quote  *PoolQuote
	}{
		{
			name:  "same_decimals",
			quote: newCPQuote(t, "0xaa01", testWETH, testDAI, "1000", "3400000", 0),
		},
		{
			name:  "mixed_decimals",
			quote: newCPQuote(t, "0xaa02", testWETH, testUSDC, "1000", "3400000", 0),
		},
		{
			name: "concentrated",
			quote: &PoolQuote{
				Pool: &Pool{
					Address: common.HexToAddress("0xaa03"),
					Venue:   VenueConcentratedLiquidity,
					Token0:  testWETH,
					Token1:  testDAI,
				},
				// sqrtPriceX96 for price 3400 token1/token0 raw
				SqrtPriceX96: sqrtPriceX96ForPrice(3400),
				Liquidity:    big.NewInt(1e18),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forward, ok := SpotRate(tt.quote, true)
			if !ok {
				t.Fatal("forward rate not available")
			}
			reverse, ok := SpotRate(tt.quote, false)
			if !ok {
				t.Fatal("reverse rate not available")
			}

			product := forward * reverse
			if math.Abs(product-1) > 1e-9 {
				t.Errorf("rate(A->B)*rate(B->A) = %g, want ~1", product)
			}
		})
	}
}

func TestEffectiveRate_FeeOnlyReduces(t *testing.T) {
	quote := newCPQuote(t, "0xbb01", testWETH, testDAI, "1000", "3400000", 30)

	spot, _ := SpotRate(quote, true)
	effective, _ := EffectiveRate(quote, true)

	if effective >= spot {
		t.Errorf("effective rate %g not below spot %g", effective, spot)
	}

	want := spot * 0.997
	if math.Abs(effective-want) > 1e-9*want {
		t.Errorf("effective = %g, want %g", effective, want)
	}
}

func TestSpotRate_DecimalsCorrection(t *testing.T) {
	// 1000 WETH (18 decimals) vs 3.4M USDC (6 decimals). Without the
	// 10^12 correction the computed price is off by twelve orders of
	// magnitude; the reference price is 3400 USDC per WETH.
	quote := newCPQuote(t, "0xcc01", testWETH, testUSDC, "1000", "3400000", 0)

	rate, ok := SpotRate(quote, true)
	if !ok {
		t.Fatal("rate not available")
	}

	const reference = 3400.0
	if rate < reference/100 || rate > reference*100 {
		t.Fatalf("rate = %g, want within two orders of magnitude of %g (decimals correction missing?)", rate, reference)
	}
	if math.Abs(rate-reference) > 1e-6*reference {
		t.Errorf("rate = %g, want %g", rate, reference)
	}
}

func TestSimulateFill_ConstantProduct(t *testing.T) {
	quote := newCPQuote(t, "0xdd01", testWETH, testDAI, "100", "340000", 0)

	out, ok := SimulateFill(quote, true, decimal.NewFromInt(1))
	if !ok {
		t.Fatal("fill not available")
	}

	// out = 340000*1/(100+1) = 3366.33...
	want := decimal.RequireFromString("3366.336633663366")
	if out.Sub(want).Abs().GreaterThan(decimal.RequireFromString("0.01")) {
		t.Errorf("fill out = %s, want ~%s", out, want)
	}

	// Larger trades must get a worse average price than spot.
	spot, _ := SpotRate(quote, true)
	avg, _ := out.Div(decimal.NewFromInt(1)).Float64()
	if avg >= spot {
		t.Errorf("average fill price %g not below spot %g", avg, spot)
	}
}

func TestSimulateFill_FeeReducesOutput(t *testing.T) {
	noFee := newCPQuote(t, "0xee01", testWETH, testDAI, "100", "340000", 0)
	withFee := newCPQuote(t, "0xee02", testWETH, testDAI, "100", "340000", 30)

	outNoFee, _ := SimulateFill(noFee, true, decimal.NewFromInt(1))
	outWithFee, _ := SimulateFill(withFee, true, decimal.NewFromInt(1))

	if !outWithFee.LessThan(outNoFee) {
		t.Errorf("fee fill %s not below no-fee fill %s", outWithFee, outNoFee)
	}
}

func TestSimulateFill_BinTruncatesAtDepth(t *testing.T) {
	pool := &Pool{
		Address: common.HexToAddress("0xff01"),
		Venue:   VenueBinLiquidity,
		Token0:  testWETH,
		Token1:  testDAI,
	}
	quote := &PoolQuote{
		Pool:        pool,
		BinPrice:    3400,
		BinReserve0: toRaw(t, "1", testWETH.Decimals()),
		BinReserve1: toRaw(t, "500", testDAI.Decimals()), // only 500 DAI of depth
	}

	out, ok := SimulateFill(quote, true, decimal.NewFromInt(10)) // wants 34000 DAI
	if !ok {
		t.Fatal("fill not available")
	}

	if !out.Equal(decimal.NewFromInt(500)) {
		t.Errorf("fill out = %s, want truncated to bin depth 500", out)
	}
}

func TestSimulateFill_DegenerateState(t *testing.T) {
	quote := newCPQuote(t, "0xff02", testWETH, testDAI, "0", "340000", 0)

	if _, ok := SimulateFill(quote, true, decimal.NewFromInt(1)); ok {
		t.Error("expected no fill for zero reserve")
	}
	if _, ok := SpotRate(quote, true); ok {
		t.Error("expected no rate for zero reserve")
	}
}

// sqrtPriceX96ForPrice returns sqrtPriceX96 encoding the given raw price.
func sqrtPriceX96ForPrice(price float64) *big.Int {
	sqrt := new(big.Float).Sqrt(big.NewFloat(price))
	x96 := new(big.Float).Mul(sqrt, q96)
	out, _ := x96.Int(nil)
	return out
}
