package domain

import (
	"math"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lbayas/cyclearb/internal/asset"
)

// Rate bounds for a valid directed edge. Anything outside is treated as
// degenerate state and skipped.
const (
	MinEdgeRate = 1e-10
	MaxEdgeRate = 1e10
)

// Edge is a directed, fee-adjusted exchange rate derived from one pool.
// Weight is -ln(Rate), so a profitable round trip is a negative-weight
// closed walk.
type Edge struct {
	From   *asset.Token
	To     *asset.Token
	Pool   *Pool
	Rate   float64
	Weight float64
}

// PriceGraph is an immutable snapshot of the directed rate multigraph,
// rebuilt wholesale every poll tick. Callers never observe partial
// updates because a graph is only published after construction.
type PriceGraph struct {
	edges   map[common.Address][]Edge
	tokens  map[common.Address]*asset.Token
	quotes  map[common.Address]*PoolQuote
	block   uint64
	builtAt time.Time
}

// BuildGraph converts pool quotes into a price graph. It is a pure
// function: identical quotes yield identical edge weights. Degenerate or
// out-of-bound quotes are skipped, never errored on.
func BuildGraph(quotes []*PoolQuote) *PriceGraph {
	g := &PriceGraph{
		edges:   make(map[common.Address][]Edge),
		tokens:  make(map[common.Address]*asset.Token),
		quotes:  make(map[common.Address]*PoolQuote, len(quotes)),
		builtAt: time.Now(),
	}

	for _, q := range quotes {
		if q == nil || q.Pool == nil || !q.Pool.Venue.Valid() {
			continue
		}
		if q.BlockNumber > g.block {
			g.block = q.BlockNumber
		}

		forward, fok := EffectiveRate(q, true)
		reverse, rok := EffectiveRate(q, false)
		added := false

		if fok && validEdgeRate(forward) {
			g.addEdge(q.Pool.Token0, q.Pool.Token1, q.Pool, forward)
			added = true
		}
		if rok && validEdgeRate(reverse) {
			g.addEdge(q.Pool.Token1, q.Pool.Token0, q.Pool, reverse)
			added = true
		}
		if added {
			g.quotes[q.Pool.Address] = q
		}
	}

	return g
}

func validEdgeRate(rate float64) bool {
	return !math.IsNaN(rate) && !math.IsInf(rate, 0) && rate >= MinEdgeRate && rate <= MaxEdgeRate
}

func (g *PriceGraph) addEdge(from, to *asset.Token, pool *Pool, rate float64) {
	g.edges[from.Address()] = append(g.edges[from.Address()], Edge{
		From:   from,
		To:     to,
		Pool:   pool,
		Rate:   rate,
		Weight: -math.Log(rate),
	})
	g.tokens[from.Address()] = from
	g.tokens[to.Address()] = to
}

// EdgesFrom returns the outgoing edges of a token.
func (g *PriceGraph) EdgesFrom(token common.Address) []Edge {
	return g.edges[token]
}

// Token resolves a token present in the graph.
func (g *PriceGraph) Token(addr common.Address) (*asset.Token, bool) {
	t, ok := g.tokens[addr]
	return t, ok
}

// Quote returns the snapshot the given pool's edges were derived from.
func (g *PriceGraph) Quote(pool common.Address) (*PoolQuote, bool) {
	q, ok := g.quotes[pool]
	return q, ok
}

// EdgeCount returns the total number of directed edges.
func (g *PriceGraph) EdgeCount() int {
	n := 0
	for _, es := range g.edges {
		n += len(es)
	}
	return n
}

// Tokens returns every distinct token in the graph, in address order.
func (g *PriceGraph) Tokens() []*asset.Token {
	addrs := make([]common.Address, 0, len(g.tokens))
	for a := range g.tokens {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return addrs[i].Cmp(addrs[j]) < 0
	})

	tokens := make([]*asset.Token, len(addrs))
	for i, a := range addrs {
		tokens[i] = g.tokens[a]
	}
	return tokens
}

// TokenCount returns the number of distinct tokens.
func (g *PriceGraph) TokenCount() int {
	return len(g.tokens)
}

// Block returns the highest block number observed in the quotes.
func (g *PriceGraph) Block() uint64 {
	return g.block
}

// BuiltAt returns the graph construction time.
func (g *PriceGraph) BuiltAt() time.Time {
	return g.builtAt
}
