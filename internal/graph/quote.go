package graph

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/UmutKorkmaz/solana-route-engine/internal/market"
)

// Hop is one traversal through a single pool. Route and cycle simulation
// share this type so both apply the identical fee and impact model.
type Hop struct {
	Pool        *market.Pool
	TokenIn     market.Token
	TokenOut    market.Token
	AmountIn    decimal.Decimal
	AmountOut   decimal.Decimal
	Fee         decimal.Decimal
	PriceImpact decimal.Decimal
}

// InsufficientLiquidityError reports a hop whose input-side depth cannot
// support the requested amount.
type InsufficientLiquidityError struct {
	Pool      solana.PublicKey
	PoolName  string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientLiquidityError) Error() string {
	return fmt.Sprintf("insufficient liquidity in pool %s: requested %s, reserve %s",
		e.PoolName, e.Requested, e.Available)
}

var bpsDenominator = decimal.NewFromInt(10_000)

// QuoteHop prices a single-pool traversal entering with tokenIn.
//
// The fee is charged on the input; the output follows the spot rate of the
// traversal direction. Price impact is the trade's share of the input-side
// depth; concentrated venues round it up to their bin granularity. Impact is
// an adverse-movement estimate accumulated per route and checked against the
// caller's slippage bound, it is not deducted from the quoted output.
func QuoteHop(p *market.Pool, tokenIn solana.PublicKey, amountIn decimal.Decimal) (Hop, error) {
	if amountIn.Sign() <= 0 {
		return Hop{}, fmt.Errorf("amount must be > 0, got %s", amountIn)
	}

	var in, out market.Token
	var reserveIn, reserveOut decimal.Decimal
	switch {
	case p.TokenA.Mint.Equals(tokenIn):
		in, out = p.TokenA, p.TokenB
		reserveIn, reserveOut = p.ReserveA, p.ReserveB
	case p.TokenB.Mint.Equals(tokenIn):
		in, out = p.TokenB, p.TokenA
		reserveIn, reserveOut = p.ReserveB, p.ReserveA
	default:
		return Hop{}, fmt.Errorf("token %s does not match pool %s", tokenIn, p.Name)
	}

	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 || amountIn.GreaterThanOrEqual(reserveIn) {
		return Hop{}, &InsufficientLiquidityError{
			Pool:      p.Address,
			PoolName:  p.Name,
			Requested: amountIn,
			Available: reserveIn,
		}
	}

	fee := amountIn.Mul(p.FeeRate)
	spot := reserveOut.Div(reserveIn)
	amountOut := amountIn.Sub(fee).Mul(spot)

	impact := amountIn.Div(reserveIn)
	if p.BinStep > 0 {
		// Concentrated venues move price in discrete bins; impact lands on
		// the next bin boundary.
		binFrac := decimal.New(int64(p.BinStep), 0).Div(bpsDenominator)
		impact = impact.Div(binFrac).Ceil().Mul(binFrac)
	}

	return Hop{
		Pool:        p,
		TokenIn:     in,
		TokenOut:    out,
		AmountIn:    amountIn,
		AmountOut:   amountOut,
		Fee:         fee,
		PriceImpact: impact,
	}, nil
}

// QuotePath simulates sequential hop execution through the given pools
// starting from token `from` with amountIn. The output of each hop feeds the
// next. It returns one Hop per pool.
func (s *Snapshot) QuotePath(from solana.PublicKey, pools []*market.Pool, amountIn decimal.Decimal) ([]Hop, error) {
	if len(pools) == 0 {
		return nil, fmt.Errorf("empty path")
	}

	hops := make([]Hop, 0, len(pools))
	current := from
	amount := amountIn

	for _, p := range pools {
		hop, err := QuoteHop(p, current, amount)
		if err != nil {
			return nil, err
		}
		hops = append(hops, hop)
		current = hop.TokenOut.Mint
		amount = hop.AmountOut
	}

	return hops, nil
}

// CumulativeImpact sums per-hop price impact over a path.
func CumulativeImpact(hops []Hop) decimal.Decimal {
	total := decimal.Zero
	for _, h := range hops {
		total = total.Add(h.PriceImpact)
	}
	return total
}

// ThinnestLiquidity returns the smallest pool liquidity along a path. A
// route is only as good as its shallowest pool.
func ThinnestLiquidity(hops []Hop) decimal.Decimal {
	if len(hops) == 0 {
		return decimal.Zero
	}
	min := hops[0].Pool.LiquidityUSD
	for _, h := range hops[1:] {
		if h.Pool.LiquidityUSD.LessThan(min) {
			min = h.Pool.LiquidityUSD
		}
	}
	return min
}
