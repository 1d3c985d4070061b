package domain

import (
	"math/big"
	"time"
)

// SpreadBucket classifies a cycle's gross edge for gas policy purposes.
type SpreadBucket int

const (
	// BucketLow: thin edges. Spend nothing extra on estimation; a
	// cached limit with a small cushion is good enough.
	BucketLow SpreadBucket = iota
	// BucketMid: real but modest edges. Cached limits still serve, but
	// they go stale faster and get more cushion.
	BucketMid
	// BucketHigh: wide edges worth paying for. Always re-estimate and
	// cushion generously so the trade never dies on gas.
	BucketHigh
)

func (b SpreadBucket) String() string {
	switch b {
	case BucketLow:
		return "low"
	case BucketMid:
		return "mid"
	case BucketHigh:
		return "high"
	}
	return "unknown"
}

// GasPolicy holds the adaptive estimation thresholds.
type GasPolicy struct {
	// Bucket boundaries, in basis points of gross spread.
	SpreadLowBps  float64
	SpreadHighBps float64

	// Safety buffers applied on top of the base limit, in percent.
	BufferLowPct  uint64
	BufferMidPct  uint64
	BufferHighPct uint64

	// Cache lifetimes per bucket. High never caches.
	TTLLow time.Duration
	TTLMid time.Duration

	// Priority fee scaling: floor + PerBps * spread, never above cap.
	PriorityFeeFloor  *big.Int
	PriorityFeePerBps *big.Int
	PriorityFeeCap    *big.Int
}

// DefaultGasPolicy returns the standard adaptive gas policy.
func DefaultGasPolicy() GasPolicy {
	return GasPolicy{
		SpreadLowBps:  15,
		SpreadHighBps: 30,
		BufferLowPct:  8,
		BufferMidPct:  15,
		BufferHighPct: 20,
		TTLLow:        2 * time.Minute,
		TTLMid:        30 * time.Second,

		PriorityFeeFloor:  big.NewInt(1_000_000_000),  // 1 gwei
		PriorityFeePerBps: big.NewInt(100_000_000),    // 0.1 gwei per bps
		PriorityFeeCap:    big.NewInt(50_000_000_000), // 50 gwei
	}
}

// Bucket classifies a spread.
func (p GasPolicy) Bucket(spreadBps float64) SpreadBucket {
	switch {
	case spreadBps < p.SpreadLowBps:
		return BucketLow
	case spreadBps <= p.SpreadHighBps:
		return BucketMid
	default:
		return BucketHigh
	}
}

// UseCache reports whether a cached limit may serve this bucket.
func (p GasPolicy) UseCache(b SpreadBucket) bool {
	return b != BucketHigh
}

// TTL returns the cache lifetime for the bucket; zero for BucketHigh.
func (p GasPolicy) TTL(b SpreadBucket) time.Duration {
	switch b {
	case BucketLow:
		return p.TTLLow
	case BucketMid:
		return p.TTLMid
	}
	return 0
}

// ApplyBuffer pads a base gas limit with the bucket's safety margin.
func (p GasPolicy) ApplyBuffer(baseLimit uint64, b SpreadBucket) uint64 {
	var pct uint64
	switch b {
	case BucketLow:
		pct = p.BufferLowPct
	case BucketMid:
		pct = p.BufferMidPct
	case BucketHigh:
		pct = p.BufferHighPct
	}
	return baseLimit + baseLimit*pct/100
}

// PriorityFee returns the spread-scaled tip in wei: floor plus PerBps
// per basis point of spread, clamped at the cap.
func (p GasPolicy) PriorityFee(spreadBps float64) *big.Int {
	if spreadBps < 0 {
		spreadBps = 0
	}

	scaled := new(big.Float).Mul(
		new(big.Float).SetInt(p.PriorityFeePerBps),
		big.NewFloat(spreadBps),
	)
	scaledInt, _ := scaled.Int(nil)

	fee := new(big.Int).Add(p.PriorityFeeFloor, scaledInt)
	if fee.Cmp(p.PriorityFeeCap) > 0 {
		return new(big.Int).Set(p.PriorityFeeCap)
	}
	return fee
}

// GasCacheEntry is one route's remembered base gas limit. The limit is
// stored unbuffered; buffers are applied per use, so one entry serves
// both the low and mid buckets. SpreadBps records the spread observed
// when the estimate was taken; it is context for operators, not an
// invalidation key.
type GasCacheEntry struct {
	Route       string
	BaseLimit   uint64
	SpreadBps   float64
	EstimatedAt time.Time
	TTL         time.Duration
}

// Usable reports whether the entry may still serve a request in the
// given bucket at the given time. An entry estimated under a long TTL
// can still be too old for a bucket with a shorter one.
func (e GasCacheEntry) Usable(b SpreadBucket, p GasPolicy, now time.Time) bool {
	if !p.UseCache(b) {
		return false
	}
	ttl := p.TTL(b)
	if ttl < e.TTL {
		return now.Sub(e.EstimatedAt) <= ttl
	}
	return now.Sub(e.EstimatedAt) <= e.TTL
}
