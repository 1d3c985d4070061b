package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// q96 is the 2^96 fixed-point scale used by concentrated-liquidity pools.
var q96 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))

// ammModel is one venue kind's pricing capability: a pre-fee spot rate
// and a size-aware fill simulation. Both are decimal-precision corrected
// so results are in human token units.
type ammModel interface {
	spotRate(q *PoolQuote, zeroForOne bool) (float64, bool)
	simulateFill(q *PoolQuote, zeroForOne bool, amountIn decimal.Decimal) (decimal.Decimal, bool)
}

// model returns the pricing model for the venue kind.
func (k VenueKind) model() ammModel {
	switch k {
	case VenueConstantProduct:
		return constantProductModel{}
	case VenueConcentratedLiquidity:
		return concentratedModel{}
	case VenueBinLiquidity:
		return binModel{}
	}
	return nil
}

// SpotRate returns the pre-fee marginal exchange rate of the pool in
// human token units (token-out per token-in). zeroForOne selects the
// Token0 -> Token1 direction. Returns false for degenerate state.
func SpotRate(q *PoolQuote, zeroForOne bool) (float64, bool) {
	if q == nil || q.Pool == nil {
		return 0, false
	}
	m := q.Pool.Venue.model()
	if m == nil {
		return 0, false
	}

	raw, ok := m.spotRate(q, zeroForOne)
	if !ok {
		return 0, false
	}
	return raw * decimalsCorrection(q, zeroForOne), true
}

// EffectiveRate returns the fee-adjusted spot rate. The fee only ever
// reduces the rate.
func EffectiveRate(q *PoolQuote, zeroForOne bool) (float64, bool) {
	rate, ok := SpotRate(q, zeroForOne)
	if !ok {
		return 0, false
	}
	return rate * (1 - float64(q.Pool.FeeBps)/10000.0), true
}

// SimulateFill estimates the executable output for amountIn (human
// units of the input token), fee included, honoring each venue's own
// depth model. Returns false when the pool state cannot support any
// fill.
func SimulateFill(q *PoolQuote, zeroForOne bool, amountIn decimal.Decimal) (decimal.Decimal, bool) {
	if q == nil || q.Pool == nil || amountIn.Sign() <= 0 {
		return decimal.Zero, false
	}
	m := q.Pool.Venue.model()
	if m == nil {
		return decimal.Zero, false
	}
	return m.simulateFill(q, zeroForOne, amountIn)
}

// decimalsCorrection converts a raw smallest-unit rate into human units:
// 10^(decimalsIn - decimalsOut).
func decimalsCorrection(q *PoolQuote, zeroForOne bool) float64 {
	decIn := int(q.Pool.Token0.Decimals())
	decOut := int(q.Pool.Token1.Decimals())
	if !zeroForOne {
		decIn, decOut = decOut, decIn
	}

	corr := 1.0
	for i := 0; i < decIn-decOut; i++ {
		corr *= 10
	}
	for i := 0; i < decOut-decIn; i++ {
		corr /= 10
	}
	return corr
}

// humanUnits converts a raw reserve into human units of the given token.
func humanUnits(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, 0).Div(decimal.New(1, int32(decimals)))
}

// feeMultiplier returns (1 - feeBps/10000) as a decimal.
func feeMultiplier(feeBps uint32) decimal.Decimal {
	return decimal.NewFromInt(10000 - int64(feeBps)).Div(decimal.NewFromInt(10000))
}

// -----------------------------------------------------------------------------
// Constant product (x*y=k reserves)
// -----------------------------------------------------------------------------

type constantProductModel struct{}

func (constantProductModel) spotRate(q *PoolQuote, zeroForOne bool) (float64, bool) {
	if q.Reserve0 == nil || q.Reserve1 == nil || q.Reserve0.Sign() <= 0 || q.Reserve1.Sign() <= 0 {
		return 0, false
	}

	r0 := new(big.Float).SetInt(q.Reserve0)
	r1 := new(big.Float).SetInt(q.Reserve1)

	var ratio *big.Float
	if zeroForOne {
		ratio = new(big.Float).Quo(r1, r0)
	} else {
		ratio = new(big.Float).Quo(r0, r1)
	}

	rate, _ := ratio.Float64()
	return rate, true
}

func (constantProductModel) simulateFill(q *PoolQuote, zeroForOne bool, amountIn decimal.Decimal) (decimal.Decimal, bool) {
	if q.Reserve0 == nil || q.Reserve1 == nil || q.Reserve0.Sign() <= 0 || q.Reserve1.Sign() <= 0 {
		return decimal.Zero, false
	}

	rIn := humanUnits(q.Reserve0, q.Pool.Token0.Decimals())
	rOut := humanUnits(q.Reserve1, q.Pool.Token1.Decimals())
	if !zeroForOne {
		rIn, rOut = rOut, rIn
	}

	return constantProductFill(rIn, rOut, amountIn, q.Pool.FeeBps)
}

// constantProductFill computes the exact x*y=k output for amountIn
// against the given human-unit reserves.
func constantProductFill(rIn, rOut, amountIn decimal.Decimal, feeBps uint32) (decimal.Decimal, bool) {
	if rIn.Sign() <= 0 || rOut.Sign() <= 0 {
		return decimal.Zero, false
	}

	ain := amountIn.Mul(feeMultiplier(feeBps))
	out := rOut.Mul(ain).Div(rIn.Add(ain))
	return out, true
}

// -----------------------------------------------------------------------------
// Concentrated liquidity (sqrtPriceX96 + in-range liquidity)
// -----------------------------------------------------------------------------

type concentratedModel struct{}

func (concentratedModel) spotRate(q *PoolQuote, zeroForOne bool) (float64, bool) {
	if q.SqrtPriceX96 == nil || q.SqrtPriceX96.Sign() <= 0 {
		return 0, false
	}

	sqrt := new(big.Float).Quo(new(big.Float).SetInt(q.SqrtPriceX96), q96)
	price := new(big.Float).Mul(sqrt, sqrt) // token1 per token0, raw units

	rate, _ := price.Float64()
	if rate <= 0 {
		return 0, false
	}
	if !zeroForOne {
		rate = 1 / rate
	}
	return rate, true
}

// simulateFill approximates the executable fill using the virtual
// reserves implied by the in-range liquidity: v0 = L/sqrtP, v1 = L*sqrtP.
// This understates depth when the trade would cross initialized ticks,
// which is the conservative direction for validation.
func (concentratedModel) simulateFill(q *PoolQuote, zeroForOne bool, amountIn decimal.Decimal) (decimal.Decimal, bool) {
	if q.SqrtPriceX96 == nil || q.SqrtPriceX96.Sign() <= 0 || q.Liquidity == nil || q.Liquidity.Sign() <= 0 {
		return decimal.Zero, false
	}

	sqrt := new(big.Float).Quo(new(big.Float).SetInt(q.SqrtPriceX96), q96)
	liq := new(big.Float).SetInt(q.Liquidity)

	v0 := new(big.Float).Quo(liq, sqrt)
	v1 := new(big.Float).Mul(liq, sqrt)

	v0f, _ := v0.Float64()
	v1f, _ := v1.Float64()
	if v0f <= 0 || v1f <= 0 {
		return decimal.Zero, false
	}

	rIn := decimal.NewFromFloat(v0f).Div(decimal.New(1, int32(q.Pool.Token0.Decimals())))
	rOut := decimal.NewFromFloat(v1f).Div(decimal.New(1, int32(q.Pool.Token1.Decimals())))
	if !zeroForOne {
		rIn, rOut = rOut, rIn
	}

	return constantProductFill(rIn, rOut, amountIn, q.Pool.FeeBps)
}

// -----------------------------------------------------------------------------
// Bin liquidity (discretized bins, active bin only)
// -----------------------------------------------------------------------------

type binModel struct{}

func (binModel) spotRate(q *PoolQuote, zeroForOne bool) (float64, bool) {
	if q.BinPrice <= 0 {
		return 0, false
	}
	if zeroForOne {
		return q.BinPrice, true
	}
	return 1 / q.BinPrice, true
}

// simulateFill fills only against the active bin's depth. Trades larger
// than the bin are truncated to what the bin holds, which is exactly the
// phantom-depth failure mode the validator needs surfaced.
func (binModel) simulateFill(q *PoolQuote, zeroForOne bool, amountIn decimal.Decimal) (decimal.Decimal, bool) {
	rate, ok := SpotRate(q, zeroForOne)
	if !ok {
		return decimal.Zero, false
	}

	depthRaw := q.BinReserve1
	depthDecimals := q.Pool.Token1.Decimals()
	if !zeroForOne {
		depthRaw = q.BinReserve0
		depthDecimals = q.Pool.Token0.Decimals()
	}
	if depthRaw == nil || depthRaw.Sign() <= 0 {
		return decimal.Zero, false
	}

	ain := amountIn.Mul(feeMultiplier(q.Pool.FeeBps))
	out := ain.Mul(decimal.NewFromFloat(rate))

	depth := humanUnits(depthRaw, depthDecimals)
	if out.GreaterThan(depth) {
		out = depth
	}
	return out, true
}
