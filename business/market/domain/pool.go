// Package domain contains the core domain types for the market context.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lbayas/cyclearb/internal/asset"
)

// VenueKind identifies the AMM model a pool runs. The set is closed:
// adding a venue means adding one kind and one ammModel implementation.
type VenueKind string

// Supported venue kinds.
const (
	VenueConstantProduct       VenueKind = "constant_product"
	VenueConcentratedLiquidity VenueKind = "concentrated_liquidity"
	VenueBinLiquidity          VenueKind = "bin_liquidity"
)

// Valid reports whether k is a known venue kind.
func (k VenueKind) Valid() bool {
	switch k {
	case VenueConstantProduct, VenueConcentratedLiquidity, VenueBinLiquidity:
		return true
	}
	return false
}

// Pool is a venue for an ordered token pair. Pools are static
// configuration; their price state arrives separately as PoolQuote
// snapshots.
type Pool struct {
	Address common.Address
	Venue   VenueKind
	Token0  *asset.Token
	Token1  *asset.Token
	FeeBps  uint32 // swap fee in basis points
	BinStep uint16 // bin-liquidity venues only: price step between bins, in bps
}

// Key returns the pool identity used in maps and cycle signatures.
func (p *Pool) Key() common.Address {
	return p.Address
}

// Other returns the opposite token of the pair.
func (p *Pool) Other(t *asset.Token) *asset.Token {
	if p.Token0.Equals(t) {
		return p.Token1
	}
	return p.Token0
}

// PoolQuote is a raw price-state snapshot for one pool at one poll
// tick. Snapshots are replaced wholesale each tick, never mutated.
// Which fields are populated depends on the pool's venue kind.
type PoolQuote struct {
	Pool *Pool

	// Constant-product state.
	Reserve0 *big.Int
	Reserve1 *big.Int

	// Concentrated-liquidity state.
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int

	// Bin-liquidity state: active bin raw price (token1 per token0 in
	// smallest units) and the depth available in that bin.
	BinPrice    float64
	BinReserve0 *big.Int
	BinReserve1 *big.Int

	BlockNumber uint64
	Timestamp   time.Time
}
