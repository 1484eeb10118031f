// Package graph maintains the token-adjacency multigraph derived from the
// known pool set. Tokens are nodes, pools are parallel edges; one token pair
// may be served by several pools. Refresh atomically swaps an immutable
// snapshot so searches never observe a half-built adjacency structure.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/UmutKorkmaz/solana-route-engine/internal/market"
)

// ErrDataUnavailable wraps market data provider failures. Refresh returns it
// and keeps serving the last-known-good snapshot.
var ErrDataUnavailable = errors.New("market data unavailable")

// Edge connects a token to an adjacent token through a specific pool.
type Edge struct {
	To   solana.PublicKey
	Pool *market.Pool
}

// Snapshot is an immutable view of the pool set and its adjacency. All
// search and quoting runs against one snapshot; readers share it lock-free.
type Snapshot struct {
	pools       map[solana.PublicKey]*market.Pool
	tokens      map[solana.PublicKey]market.Token
	adj         map[solana.PublicKey][]Edge
	prices      map[solana.PublicKey]decimal.Decimal
	refreshedAt time.Time
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		pools:  map[solana.PublicKey]*market.Pool{},
		tokens: map[solana.PublicKey]market.Token{},
		adj:    map[solana.PublicKey][]Edge{},
		prices: map[solana.PublicKey]decimal.Decimal{},
	}
}

// Pool returns the pool at the given address, or nil.
func (s *Snapshot) Pool(address solana.PublicKey) *market.Pool {
	return s.pools[address]
}

// Token returns token metadata for a mint.
func (s *Snapshot) Token(mint solana.PublicKey) (market.Token, bool) {
	t, ok := s.tokens[mint]
	return t, ok
}

// Neighbors returns every pool directly connecting to the token. Order is
// not significant.
func (s *Snapshot) Neighbors(token solana.PublicKey) []Edge {
	return s.adj[token]
}

// PriceUSD returns the token's USD price captured at refresh time, or zero
// when unknown.
func (s *Snapshot) PriceUSD(mint solana.PublicKey) decimal.Decimal {
	return s.prices[mint]
}

// RefreshedAt is when this snapshot's data was captured.
func (s *Snapshot) RefreshedAt() time.Time { return s.refreshedAt }

// PoolCount returns the number of pools (edges).
func (s *Snapshot) PoolCount() int { return len(s.pools) }

// TokenCount returns the number of tokens (nodes).
func (s *Snapshot) TokenCount() int { return len(s.tokens) }

// Tokens returns all known token mints.
func (s *Snapshot) Tokens() []solana.PublicKey {
	out := make([]solana.PublicKey, 0, len(s.tokens))
	for mint := range s.tokens {
		out = append(out, mint)
	}
	return out
}

// Graph owns the current snapshot. Refresh is the only mutator and is
// serialized; readers take the snapshot pointer atomically.
type Graph struct {
	provider market.Provider
	logger   *logrus.Logger

	refreshMu sync.Mutex
	snap      atomic.Pointer[Snapshot]
}

func NewGraph(provider market.Provider, logger *logrus.Logger) *Graph {
	if logger == nil {
		logger = logrus.New()
	}
	g := &Graph{provider: provider, logger: logger}
	g.snap.Store(emptySnapshot())
	return g
}

// Refresh ingests the current pool set and atomically replaces the adjacency
// structure. On provider failure the previous snapshot is retained and an
// error wrapping ErrDataUnavailable is returned; callers serve slightly
// stale connectivity instead of blocking.
func (g *Graph) Refresh(ctx context.Context) error {
	g.refreshMu.Lock()
	defer g.refreshMu.Unlock()

	pools, err := g.provider.ListPools(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}

	next := emptySnapshot()
	next.refreshedAt = time.Now()

	for i := range pools {
		pool := pools[i]
		next.pools[pool.Address] = &pool
		next.tokens[pool.TokenA.Mint] = pool.TokenA
		next.tokens[pool.TokenB.Mint] = pool.TokenB
		next.adj[pool.TokenA.Mint] = append(next.adj[pool.TokenA.Mint], Edge{To: pool.TokenB.Mint, Pool: &pool})
		next.adj[pool.TokenB.Mint] = append(next.adj[pool.TokenB.Mint], Edge{To: pool.TokenA.Mint, Pool: &pool})
	}

	// Prices are best-effort; a token without a price only loses USD-side
	// valuation, never connectivity.
	for mint := range next.tokens {
		price, err := g.provider.GetTokenPriceUSD(ctx, mint)
		if err != nil {
			g.logger.WithField("mint", mint.String()).WithError(err).Debug("no USD price for token")
			continue
		}
		next.prices[mint] = price
	}

	g.snap.Store(next)
	g.logger.WithFields(logrus.Fields{
		"pools":  len(next.pools),
		"tokens": len(next.tokens),
	}).Debug("graph refreshed")
	return nil
}

// Snapshot returns the current immutable view.
func (g *Graph) Snapshot() *Snapshot {
	return g.snap.Load()
}

// Neighbors is a convenience over the current snapshot.
func (g *Graph) Neighbors(token solana.PublicKey) []Edge {
	return g.Snapshot().Neighbors(token)
}

// Stats summarizes the graph for diagnostics.
type Stats struct {
	Pools            int             `json:"pools"`
	Tokens           int             `json:"tokens"`
	AvgLiquidityUSD  decimal.Decimal `json:"avg_liquidity_usd"`
	Density          float64         `json:"density"`
	LargestComponent int             `json:"largest_component"`
	RefreshedAt      time.Time       `json:"refreshed_at"`
}

// Statistics computes observability counters over the current snapshot.
func (g *Graph) Statistics() Stats {
	s := g.Snapshot()

	stats := Stats{
		Pools:       len(s.pools),
		Tokens:      len(s.tokens),
		RefreshedAt: s.refreshedAt,
	}

	if len(s.pools) > 0 {
		total := decimal.Zero
		for _, p := range s.pools {
			total = total.Add(p.LiquidityUSD)
		}
		stats.AvgLiquidityUSD = total.Div(decimal.NewFromInt(int64(len(s.pools))))
	}

	n := len(s.tokens)
	if n > 1 {
		stats.Density = 2 * float64(len(s.pools)) / (float64(n) * float64(n-1))
	}

	stats.LargestComponent = largestComponent(s)
	return stats
}

func largestComponent(s *Snapshot) int {
	visited := make(map[solana.PublicKey]bool, len(s.tokens))
	largest := 0

	for mint := range s.tokens {
		if visited[mint] {
			continue
		}
		size := 0
		queue := []solana.PublicKey{mint}
		visited[mint] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			size++
			for _, e := range s.adj[cur] {
				if !visited[e.To] {
					visited[e.To] = true
					queue = append(queue, e.To)
				}
			}
		}
		if size > largest {
			largest = size
		}
	}
	return largest
}
