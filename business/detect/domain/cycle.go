// Package domain contains the core domain types for cycle detection.
package domain

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	marketdomain "github.com/lbayas/cyclearb/business/market/domain"
	"github.com/lbayas/cyclearb/internal/asset"
)

// Cycle is a candidate arbitrage opportunity: a closed trading loop
// that starts and ends at the same token.
type Cycle struct {
	ID    uuid.UUID
	Start *asset.Token

	// Edges in trade order. Path[i] is the input token of Edges[i];
	// the last edge returns to Start.
	Edges []marketdomain.Edge

	// ExpectedReturn is the product of edge rates: the amount of Start
	// token produced per unit traded in, before gas.
	ExpectedReturn float64

	// TotalWeight is the sum of edge weights; negative iff
	// ExpectedReturn exceeds 1.
	TotalWeight float64

	Block   uint64
	FoundAt time.Time
}

// NewCycle builds a cycle from an ordered edge walk. The walk must be
// closed (last edge ends at the first edge's origin).
func NewCycle(edges []marketdomain.Edge, block uint64) *Cycle {
	totalWeight := 0.0
	for _, e := range edges {
		totalWeight += e.Weight
	}

	return &Cycle{
		ID:             uuid.New(),
		Start:          edges[0].From,
		Edges:          edges,
		ExpectedReturn: math.Exp(-totalWeight),
		TotalWeight:    totalWeight,
		Block:          block,
		FoundAt:        time.Now(),
	}
}

// Len returns the number of hops.
func (c *Cycle) Len() int {
	return len(c.Edges)
}

// Path returns the token sequence Start, ..., Start.
func (c *Cycle) Path() []*asset.Token {
	path := make([]*asset.Token, 0, len(c.Edges)+1)
	path = append(path, c.Start)
	for _, e := range c.Edges {
		path = append(path, e.To)
	}
	return path
}

// Pools returns the pool addresses in trade order.
func (c *Cycle) Pools() []common.Address {
	addrs := make([]common.Address, len(c.Edges))
	for i, e := range c.Edges {
		addrs[i] = e.Pool.Address
	}
	return addrs
}

// Signature returns the canonical identity of the cycle: the sorted
// set of pool addresses. Rotations and mirror traversals of the same
// loop share one signature, so duplicates collapse during a sweep.
func (c *Cycle) Signature() string {
	addrs := make([]string, len(c.Edges))
	for i, e := range c.Edges {
		addrs[i] = strings.ToLower(e.Pool.Address.Hex())
	}
	sort.Strings(addrs)
	return strings.Join(addrs, "|")
}

// SpreadBps returns the gross edge over parity in basis points.
// Negative when the cycle loses money before gas.
func (c *Cycle) SpreadBps() float64 {
	return (c.ExpectedReturn - 1) * 10_000
}
