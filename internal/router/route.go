// Package router searches the pool graph for the best way to convert an
// amount of one token into another across one or more hops.
package router

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/UmutKorkmaz/solana-route-engine/internal/graph"
)

// ErrRouteInvalidated is returned by Revalidate when current conditions no
// longer support a previously computed route.
var ErrRouteInvalidated = fmt.Errorf("route invalidated")

// NoRouteError means the search exhausted the frontier without finding a
// path satisfying the constraints.
type NoRouteError struct {
	From    solana.PublicKey
	To      solana.PublicKey
	MaxHops int
	Reason  string
}

func (e *NoRouteError) Error() string {
	return fmt.Sprintf("no route from %s to %s within %d hops: %s", e.From, e.To, e.MaxHops, e.Reason)
}

// PriceImpactError means candidate paths exist but all exceed the caller's
// slippage bound.
type PriceImpactError struct {
	Impact decimal.Decimal // best achievable cumulative impact
	Limit  decimal.Decimal
}

func (e *PriceImpactError) Error() string {
	return fmt.Sprintf("price impact %s exceeds max slippage %s", e.Impact, e.Limit)
}

// Route is an ordered hop sequence. Invariants: hop[i].TokenOut ==
// hop[i+1].TokenIn and hop[i+1].AmountIn == hop[i].AmountOut; the first
// hop's input and last hop's output match the query.
type Route struct {
	ID   string
	Hops []graph.Hop

	AmountIn        decimal.Decimal
	AmountOut       decimal.Decimal
	PriceImpact     decimal.Decimal // cumulative across hops
	MinLiquidityUSD decimal.Decimal

	// MaxSlippage is the bound this route was accepted under; revalidation
	// re-checks against it.
	MaxSlippage decimal.Decimal

	// Share of the original query amount in percent. 100 unless the route
	// is a split sibling.
	Share decimal.Decimal

	ComputedAt time.Time
}

// From returns the route's input token.
func (r *Route) From() solana.PublicKey { return r.Hops[0].TokenIn.Mint }

// To returns the route's output token.
func (r *Route) To() solana.PublicKey { return r.Hops[len(r.Hops)-1].TokenOut.Mint }

// Pools returns the traversal's pool addresses in order.
func (r *Route) Pools() []solana.PublicKey {
	out := make([]solana.PublicKey, len(r.Hops))
	for i, h := range r.Hops {
		out[i] = h.Pool.Address
	}
	return out
}

// Validate checks the hop-chain invariants.
func (r *Route) Validate() error {
	if len(r.Hops) == 0 {
		return fmt.Errorf("route has no hops")
	}
	for i := 0; i < len(r.Hops)-1; i++ {
		if !r.Hops[i].TokenOut.Mint.Equals(r.Hops[i+1].TokenIn.Mint) {
			return fmt.Errorf("hop %d output %s does not feed hop %d input %s",
				i, r.Hops[i].TokenOut.Symbol, i+1, r.Hops[i+1].TokenIn.Symbol)
		}
		if !r.Hops[i].AmountOut.Equal(r.Hops[i+1].AmountIn) {
			return fmt.Errorf("hop %d output amount %s does not match hop %d input %s",
				i, r.Hops[i].AmountOut, i+1, r.Hops[i+1].AmountIn)
		}
	}
	return nil
}

// RouteSet is the finder's result: either ranked alternative candidates for
// the full amount (Split == false, best first) or sibling partial routes
// whose shares sum to 100% (Split == true).
type RouteSet struct {
	Routes []*Route
	Split  bool

	AmountIn  decimal.Decimal
	AmountOut decimal.Decimal
}

// Best returns the preferred route of a non-split set.
func (rs *RouteSet) Best() *Route {
	if len(rs.Routes) == 0 {
		return nil
	}
	return rs.Routes[0]
}

func routeID(hops []graph.Hop, amount decimal.Decimal) string {
	h := fnv.New64a()
	for _, hop := range hops {
		h.Write(hop.Pool.Address.Bytes())
		h.Write(hop.TokenIn.Mint.Bytes())
	}
	h.Write([]byte(amount.String()))
	return fmt.Sprintf("r%016x", h.Sum64())
}
