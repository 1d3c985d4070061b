// Package app implements cycle detection and validation over price
// graph snapshots.
package app

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lbayas/cyclearb/business/detect/domain"
	marketdomain "github.com/lbayas/cyclearb/business/market/domain"
	"github.com/lbayas/cyclearb/internal/logger"
)

const (
	tracerName = "github.com/lbayas/cyclearb/business/detect/app"
	meterName  = "github.com/lbayas/cyclearb/business/detect/app"
)

// DetectorConfig bounds the cycle search.
type DetectorConfig struct {
	MinHops      int
	MaxHops      int
	MinProfitBps float64

	// StartTokens restricts which tokens anchor the search. Empty
	// means every token in the graph.
	StartTokens []common.Address
}

// DefaultDetectorConfig returns the standard search bounds.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MinHops:      2,
		MaxHops:      3,
		MinProfitBps: 10,
	}
}

type detectorMetrics struct {
	cyclesFound    metric.Int64Counter
	searchDuration metric.Float64Histogram
	edgesVisited   metric.Int64Counter
}

// Detector sweeps a price graph for profitable closed walks.
type Detector struct {
	config  DetectorConfig
	logger  logger.LoggerInterface
	tracer  trace.Tracer
	metrics *detectorMetrics
}

// NewDetector creates a cycle detector.
func NewDetector(cfg DetectorConfig, log logger.LoggerInterface) (*Detector, error) {
	if cfg.MinHops < 2 {
		cfg.MinHops = 2
	}
	if cfg.MaxHops < cfg.MinHops {
		cfg.MaxHops = cfg.MinHops
	}

	d := &Detector{
		config: cfg,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}
	if err := d.initMetrics(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Detector) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	d.metrics = &detectorMetrics{}

	d.metrics.cyclesFound, err = meter.Int64Counter(
		"cycles_found_total",
		metric.WithDescription("Profitable cycles found before validation"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return err
	}

	d.metrics.searchDuration, err = meter.Float64Histogram(
		"cycle_search_duration_ms",
		metric.WithDescription("Full graph sweep duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	d.metrics.edgesVisited, err = meter.Int64Counter(
		"cycle_search_edges_visited_total",
		metric.WithDescription("Directed edges expanded during cycle search"),
		metric.WithUnit("{edge}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// FindCycles sweeps the graph and returns every profitable cycle within
// the hop bounds, deduplicated by pool-set signature. The sweep is
// deterministic for a given graph.
func (d *Detector) FindCycles(ctx context.Context, graph *marketdomain.PriceGraph) []*domain.Cycle {
	ctx, span := d.tracer.Start(ctx, "detector.find_cycles",
		trace.WithAttributes(
			attribute.Int("graph.edges", graph.EdgeCount()),
			attribute.Int("graph.tokens", graph.TokenCount()),
		),
	)
	defer span.End()

	start := time.Now()

	starts := d.startTokens(graph)
	profitThreshold := 1 + d.config.MinProfitBps/10_000

	var (
		found = make([]*domain.Cycle, 0)
		seen  = make(map[string]struct{})
		walk  = make([]marketdomain.Edge, 0, d.config.MaxHops)
	)

	search := &cycleSearch{
		graph:     graph,
		maxHops:   d.config.MaxHops,
		minHops:   d.config.MinHops,
		threshold: profitThreshold,
	}

	for _, startAddr := range starts {
		search.visited = map[common.Address]struct{}{startAddr: {}}
		search.pools = make(map[common.Address]struct{})
		search.dfs(startAddr, startAddr, 0, walk, func(edges []marketdomain.Edge) {
			cycle := domain.NewCycle(cloneWalk(edges), graph.Block())
			sig := cycle.Signature()
			if _, dup := seen[sig]; dup {
				return
			}
			seen[sig] = struct{}{}
			found = append(found, cycle)
		})
	}

	d.metrics.cyclesFound.Add(ctx, int64(len(found)))
	d.metrics.edgesVisited.Add(ctx, search.expanded)
	d.metrics.searchDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	span.SetAttributes(attribute.Int("cycles", len(found)))

	// Highest gross return first; ties broken by fewer hops.
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].ExpectedReturn != found[j].ExpectedReturn {
			return found[i].ExpectedReturn > found[j].ExpectedReturn
		}
		return found[i].Len() < found[j].Len()
	})

	return found
}

func (d *Detector) startTokens(graph *marketdomain.PriceGraph) []common.Address {
	if len(d.config.StartTokens) > 0 {
		return d.config.StartTokens
	}
	tokens := graph.Tokens()
	addrs := make([]common.Address, len(tokens))
	for i, t := range tokens {
		addrs[i] = t.Address()
	}
	return addrs
}

// cycleSearch holds the mutable state of one bounded depth-first sweep.
type cycleSearch struct {
	graph     *marketdomain.PriceGraph
	maxHops   int
	minHops   int
	threshold float64
	visited   map[common.Address]struct{}
	pools     map[common.Address]struct{}
	expanded  int64
}

func (s *cycleSearch) dfs(start, current common.Address, weight float64, walk []marketdomain.Edge, emit func([]marketdomain.Edge)) {
	if len(walk) >= s.maxHops {
		return
	}

	for _, edge := range s.graph.EdgesFrom(current) {
		s.expanded++
		next := edge.To.Address()

		// Each pool trades at most once per walk. Without this a
		// two-hop walk could close through its own first pool.
		if _, ok := s.pools[edge.Pool.Address]; ok {
			continue
		}

		if next == start {
			if len(walk)+1 < s.minHops {
				continue
			}
			total := weight + edge.Weight
			if math.Exp(-total) >= s.threshold {
				emit(append(walk, edge))
			}
			continue
		}

		// Intermediate tokens may appear at most once per walk.
		if _, ok := s.visited[next]; ok {
			continue
		}

		s.visited[next] = struct{}{}
		s.pools[edge.Pool.Address] = struct{}{}
		s.dfs(start, next, weight+edge.Weight, append(walk, edge), emit)
		delete(s.pools, edge.Pool.Address)
		delete(s.visited, next)
	}
}

func cloneWalk(edges []marketdomain.Edge) []marketdomain.Edge {
	out := make([]marketdomain.Edge, len(edges))
	copy(out, edges)
	return out
}
