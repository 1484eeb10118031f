package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/UmutKorkmaz/solana-route-engine/internal/cache"
	"github.com/UmutKorkmaz/solana-route-engine/internal/graph"
	"github.com/UmutKorkmaz/solana-route-engine/internal/market"
)

var hundred = decimal.NewFromInt(100)

// Config bounds the search and the memo.
type Config struct {
	// MaxPaths caps candidate paths collected per query.
	MaxPaths int
	// MaxSplitParts is the largest number of sibling routes a split may use.
	MaxSplitParts int
	// RouteTTL is how long computed candidates stay cached. Routes tolerate
	// a longer TTL than arbitrage results; a stale route is merely
	// suboptimal.
	RouteTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxPaths:      32,
		MaxSplitParts: 3,
		RouteTTL:      30 * time.Second,
	}
}

// Request describes one route query.
type Request struct {
	From        solana.PublicKey
	To          solana.PublicKey
	Amount      decimal.Decimal
	MaxHops     int
	MaxSlippage decimal.Decimal // cumulative price impact bound, fraction
	AllowSplit  bool
}

// Finder searches the graph for routes. Safe for concurrent use; all
// traversal runs against one immutable snapshot per call.
type Finder struct {
	graph  *graph.Graph
	memo   *cache.Memo
	cfg    Config
	logger *logrus.Logger

	expansions atomic.Uint64
	cacheHits  atomic.Uint64
}

func NewFinder(g *graph.Graph, memo *cache.Memo, cfg Config, logger *logrus.Logger) *Finder {
	if cfg.MaxPaths <= 0 {
		cfg.MaxPaths = DefaultConfig().MaxPaths
	}
	if cfg.MaxSplitParts <= 0 {
		cfg.MaxSplitParts = DefaultConfig().MaxSplitParts
	}
	if cfg.RouteTTL <= 0 {
		cfg.RouteTTL = DefaultConfig().RouteTTL
	}
	if memo == nil {
		memo = cache.NewMemo()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Finder{graph: g, memo: memo, cfg: cfg, logger: logger}
}

// Expansions counts node expansions performed since creation; tests use it
// to prove a cache hit short-circuits traversal.
func (f *Finder) Expansions() uint64 { return f.expansions.Load() }

// CacheHits counts route queries answered from the memo.
func (f *Finder) CacheHits() uint64 { return f.cacheHits.Load() }

// FindRoute returns route candidates best-first, or sibling split routes
// when no single path can absorb the amount within the slippage bound and
// the caller allows splitting.
//
// Candidate ordering is a contract: fewest hops first, ties broken by lower
// cumulative price impact, then by higher thinnest-hop liquidity.
func (f *Finder) FindRoute(ctx context.Context, req Request) (*RouteSet, error) {
	if req.From.Equals(req.To) {
		return nil, fmt.Errorf("from and to tokens are identical: %s", req.From)
	}
	if req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be > 0, got %s", req.Amount)
	}
	if req.MaxHops <= 0 {
		return nil, fmt.Errorf("max hops must be >= 1, got %d", req.MaxHops)
	}

	snap := f.graph.Snapshot()

	candidates, err := f.candidates(ctx, snap, req)
	if err != nil {
		return nil, err
	}

	// The slippage filter runs after memo retrieval: the memo key is
	// (from, to, amount, maxHops) so one traversal serves every bound.
	passing := make([]*Route, 0, len(candidates))
	best := decimal.Zero
	for i, c := range candidates {
		if i == 0 || c.PriceImpact.LessThan(best) {
			best = c.PriceImpact
		}
		if c.PriceImpact.LessThanOrEqual(req.MaxSlippage) {
			passing = append(passing, withBound(c, req.MaxSlippage))
		}
	}

	if len(passing) > 0 {
		return &RouteSet{
			Routes:    passing,
			AmountIn:  req.Amount,
			AmountOut: passing[0].AmountOut,
		}, nil
	}

	if req.AllowSplit {
		if set, ok := f.trySplit(snap, req, candidates); ok {
			return set, nil
		}
		return nil, &NoRouteError{From: req.From, To: req.To, MaxHops: req.MaxHops,
			Reason: fmt.Sprintf("no split of up to %d parts satisfies slippage %s", f.cfg.MaxSplitParts, req.MaxSlippage)}
	}

	return nil, &PriceImpactError{Impact: best, Limit: req.MaxSlippage}
}

// candidates returns simulated, ranked paths for the query, consulting the
// memo first. An exact hit performs no graph traversal.
func (f *Finder) candidates(ctx context.Context, snap *graph.Snapshot, req Request) ([]*Route, error) {
	key := routeKey(req)
	if cached, ok := f.memo.Get(key); ok {
		f.cacheHits.Add(1)
		return cached.([]*Route), nil
	}

	paths, err := f.collectPaths(ctx, snap, req.From, req.To, req.MaxHops)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, &NoRouteError{From: req.From, To: req.To, MaxHops: req.MaxHops,
			Reason: "tokens are not connected within the hop limit"}
	}

	routes := make([]*Route, 0, len(paths))
	var lastErr error
	for _, pools := range paths {
		hops, err := snap.QuotePath(req.From, pools, req.Amount)
		if err != nil {
			lastErr = err
			continue
		}
		routes = append(routes, &Route{
			ID:              routeID(hops, req.Amount),
			Hops:            hops,
			AmountIn:        req.Amount,
			AmountOut:       hops[len(hops)-1].AmountOut,
			PriceImpact:     graph.CumulativeImpact(hops),
			MinLiquidityUSD: graph.ThinnestLiquidity(hops),
			Share:           hundred,
			ComputedAt:      time.Now(),
		})
	}

	if len(routes) == 0 {
		var insufficient *graph.InsufficientLiquidityError
		if errors.As(lastErr, &insufficient) {
			return nil, lastErr
		}
		return nil, &NoRouteError{From: req.From, To: req.To, MaxHops: req.MaxHops,
			Reason: "every candidate path failed simulation"}
	}

	rankRoutes(routes)
	f.memo.Set(key, routes, f.cfg.RouteTTL)
	return routes, nil
}

// collectPaths enumerates simple paths (no repeated token) from `from` to
// `to` of at most maxHops pools, in breadth-first order so shorter paths
// come out first. Parallel pools over the same pair yield distinct paths.
func (f *Finder) collectPaths(ctx context.Context, snap *graph.Snapshot, from, to solana.PublicKey, maxHops int) ([][]*market.Pool, error) {
	type state struct {
		token   solana.PublicKey
		pools   []*market.Pool
		visited map[solana.PublicKey]bool
	}

	queue := []state{{token: from, visited: map[solana.PublicKey]bool{from: true}}}
	var found [][]*market.Pool

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cur := queue[0]
		queue = queue[1:]
		if len(cur.pools) >= maxHops {
			continue
		}

		f.expansions.Add(1)
		for _, edge := range snap.Neighbors(cur.token) {
			if edge.To.Equals(to) {
				path := make([]*market.Pool, len(cur.pools)+1)
				copy(path, cur.pools)
				path[len(cur.pools)] = edge.Pool
				found = append(found, path)
				if len(found) >= f.cfg.MaxPaths {
					return found, nil
				}
				continue
			}
			if cur.visited[edge.To] {
				continue
			}

			visited := make(map[solana.PublicKey]bool, len(cur.visited)+1)
			for k := range cur.visited {
				visited[k] = true
			}
			visited[edge.To] = true

			pools := make([]*market.Pool, len(cur.pools)+1)
			copy(pools, cur.pools)
			pools[len(cur.pools)] = edge.Pool

			queue = append(queue, state{token: edge.To, pools: pools, visited: visited})
		}
	}

	return found, nil
}

// trySplit partitions the amount into equal parts across the best distinct
// candidate paths, smallest number of parts first. Every part must satisfy
// the slippage bound on its own.
func (f *Finder) trySplit(snap *graph.Snapshot, req Request, candidates []*Route) (*RouteSet, bool) {
	if len(candidates) == 0 {
		return nil, false
	}

	for parts := 2; parts <= f.cfg.MaxSplitParts; parts++ {
		n := decimal.NewFromInt(int64(parts))
		part := req.Amount.DivRound(n, 18)
		last := req.Amount.Sub(part.Mul(n.Sub(decimal.NewFromInt(1))))

		siblings := make([]*Route, 0, parts)
		total := decimal.Zero
		feasible := true

		for i := 0; i < parts; i++ {
			amount := part
			if i == parts-1 {
				amount = last
			}

			pools := candidates[i%len(candidates)].poolSeq()
			hops, err := snap.QuotePath(req.From, pools, amount)
			if err != nil {
				feasible = false
				break
			}
			impact := graph.CumulativeImpact(hops)
			if impact.GreaterThan(req.MaxSlippage) {
				feasible = false
				break
			}

			siblings = append(siblings, &Route{
				ID:              routeID(hops, amount),
				Hops:            hops,
				AmountIn:        amount,
				AmountOut:       hops[len(hops)-1].AmountOut,
				PriceImpact:     impact,
				MinLiquidityUSD: graph.ThinnestLiquidity(hops),
				MaxSlippage:     req.MaxSlippage,
				Share:           amount.Div(req.Amount).Mul(hundred),
				ComputedAt:      time.Now(),
			})
			total = total.Add(hops[len(hops)-1].AmountOut)
		}

		if feasible {
			return &RouteSet{
				Routes:    siblings,
				Split:     true,
				AmountIn:  req.Amount,
				AmountOut: total,
			}, true
		}
	}

	return nil, false
}

// Revalidate re-simulates a route against the live snapshot. It fails when
// a pool disappeared, liquidity no longer supports the amount, or impact
// exceeds the bound the route was accepted under.
func (f *Finder) Revalidate(ctx context.Context, route *Route) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snap := f.graph.Snapshot()

	pools := make([]*market.Pool, len(route.Hops))
	for i, hop := range route.Hops {
		p := snap.Pool(hop.Pool.Address)
		if p == nil {
			return fmt.Errorf("%w: pool %s no longer available", ErrRouteInvalidated, hop.Pool.Name)
		}
		pools[i] = p
	}

	hops, err := snap.QuotePath(route.From(), pools, route.AmountIn)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRouteInvalidated, err)
	}

	impact := graph.CumulativeImpact(hops)
	if route.MaxSlippage.Sign() > 0 && impact.GreaterThan(route.MaxSlippage) {
		return fmt.Errorf("%w: price impact now %s, accepted bound %s", ErrRouteInvalidated, impact, route.MaxSlippage)
	}

	return nil
}

func (r *Route) poolSeq() []*market.Pool {
	out := make([]*market.Pool, len(r.Hops))
	for i, h := range r.Hops {
		out[i] = h.Pool
	}
	return out
}

// withBound returns a shallow copy carrying the caller's slippage bound;
// cached candidates are shared and never mutated.
func withBound(r *Route, bound decimal.Decimal) *Route {
	cp := *r
	cp.MaxSlippage = bound
	return &cp
}

func rankRoutes(routes []*Route) {
	sort.SliceStable(routes, func(i, j int) bool {
		a, b := routes[i], routes[j]
		if len(a.Hops) != len(b.Hops) {
			return len(a.Hops) < len(b.Hops)
		}
		if c := a.PriceImpact.Cmp(b.PriceImpact); c != 0 {
			return c < 0
		}
		if c := a.MinLiquidityUSD.Cmp(b.MinLiquidityUSD); c != 0 {
			return c > 0
		}
		return a.ID < b.ID
	})
}

func routeKey(req Request) string {
	return fmt.Sprintf("route:%s:%s:%s:%d", req.From, req.To, req.Amount, req.MaxHops)
}
