package router

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UmutKorkmaz/solana-route-engine/internal/cache"
	"github.com/UmutKorkmaz/solana-route-engine/internal/graph"
	"github.com/UmutKorkmaz/solana-route-engine/internal/market"
)

func newToken(symbol string) market.Token {
	return market.Token{
		Mint:     solana.NewWallet().PublicKey(),
		Symbol:   symbol,
		Decimals: 6,
	}
}

func newPool(name string, a, b market.Token, reserveA, reserveB, liquidityUSD string) market.Pool {
	return market.Pool{
		Address:      solana.NewWallet().PublicKey(),
		Name:         name,
		TokenA:       a,
		TokenB:       b,
		ReserveA:     decimal.RequireFromString(reserveA),
		ReserveB:     decimal.RequireFromString(reserveB),
		LiquidityUSD: decimal.RequireFromString(liquidityUSD),
		FeeRate:      decimal.RequireFromString("0.003"),
	}
}

func setupFinder(t *testing.T, pools []market.Pool) (*Finder, *graph.Graph, *market.StaticProvider, *cache.Memo) {
	t.Helper()
	provider := market.NewStaticProvider(pools, nil)
	g := graph.NewGraph(provider, nil)
	require.NoError(t, g.Refresh(context.Background()))
	memo := cache.NewMemo()
	f := NewFinder(g, memo, DefaultConfig(), nil)
	return f, g, provider, memo
}

func request(from, to market.Token, amount string) Request {
	return Request{
		From:        from.Mint,
		To:          to.Mint,
		Amount:      decimal.RequireFromString(amount),
		MaxHops:     4,
		MaxSlippage: decimal.RequireFromString("0.05"),
	}
}

func TestFindRoute_TwoHop(t *testing.T) {
	a, b, c := newToken("AAA"), newToken("BBB"), newToken("CCC")
	f, _, _, _ := setupFinder(t, []market.Pool{
		newPool("AAA/BBB", a, b, "10000", "10000", "20000"),
		newPool("BBB/CCC", b, c, "10000", "10000", "20000"),
	})

	set, err := f.FindRoute(context.Background(), request(a, c, "100"))
	require.NoError(t, err)
	require.Len(t, set.Routes, 1)
	assert.False(t, set.Split)

	best := set.Best()
	require.Len(t, best.Hops, 2)
	assert.True(t, best.AmountOut.Equal(decimal.RequireFromString("99.4009")), "out = %s", best.AmountOut)
	assert.True(t, best.PriceImpact.Equal(decimal.RequireFromString("0.01997")), "impact = %s", best.PriceImpact)
	assert.True(t, best.Share.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, a.Mint, best.From())
	assert.Equal(t, c.Mint, best.To())
	assert.NoError(t, best.Validate())
}

func TestFindRoute_PrefersFewerHops(t *testing.T) {
	a, b, c := newToken("AAA"), newToken("BBB"), newToken("CCC")
	direct := newPool("AAA/CCC", a, c, "10000", "10000", "20000")
	f, _, _, _ := setupFinder(t, []market.Pool{
		newPool("AAA/BBB", a, b, "10000", "10000", "20000"),
		newPool("BBB/CCC", b, c, "10000", "10000", "20000"),
		direct,
	})

	set, err := f.FindRoute(context.Background(), request(a, c, "100"))
	require.NoError(t, err)
	require.Len(t, set.Routes, 2)

	assert.Len(t, set.Best().Hops, 1)
	assert.Equal(t, direct.Address, set.Best().Hops[0].Pool.Address)
	assert.Len(t, set.Routes[1].Hops, 2)
}

func TestFindRoute_TieBreakOnImpact(t *testing.T) {
	a, b := newToken("AAA"), newToken("BBB")
	shallow := newPool("AAA/BBB-shallow", a, b, "5000", "5000", "10000")
	deep := newPool("AAA/BBB-deep", a, b, "50000", "50000", "100000")
	f, _, _, _ := setupFinder(t, []market.Pool{shallow, deep})

	set, err := f.FindRoute(context.Background(), request(a, b, "100"))
	require.NoError(t, err)
	require.Len(t, set.Routes, 2)

	// Same hop count; the deeper pool has the smaller impact.
	assert.Equal(t, deep.Address, set.Best().Hops[0].Pool.Address)
}

func TestFindRoute_CacheIdempotence(t *testing.T) {
	a, b, c := newToken("AAA"), newToken("BBB"), newToken("CCC")
	f, _, _, _ := setupFinder(t, []market.Pool{
		newPool("AAA/BBB", a, b, "10000", "10000", "20000"),
		newPool("BBB/CCC", b, c, "10000", "10000", "20000"),
	})

	req := request(a, c, "100")

	first, err := f.FindRoute(context.Background(), req)
	require.NoError(t, err)
	spent := f.Expansions()

	second, err := f.FindRoute(context.Background(), req)
	require.NoError(t, err)

	// Identical request: no further traversal, identical result.
	assert.Equal(t, spent, f.Expansions())
	assert.Equal(t, uint64(1), f.CacheHits())
	assert.Equal(t, first.Best().ID, second.Best().ID)
	assert.True(t, first.Best().AmountOut.Equal(second.Best().AmountOut))
	assert.True(t, first.Best().PriceImpact.Equal(second.Best().PriceImpact))
}

func TestFindRoute_CacheExpiry(t *testing.T) {
	a, b := newToken("AAA"), newToken("BBB")
	provider := market.NewStaticProvider([]market.Pool{
		newPool("AAA/BBB", a, b, "10000", "10000", "20000"),
	}, nil)
	g := graph.NewGraph(provider, nil)
	require.NoError(t, g.Refresh(context.Background()))

	now := time.Now()
	memo := cache.NewMemo().WithClock(func() time.Time { return now })
	f := NewFinder(g, memo, Config{RouteTTL: 30 * time.Second}, nil)

	req := request(a, b, "100")
	_, err := f.FindRoute(context.Background(), req)
	require.NoError(t, err)
	spent := f.Expansions()

	now = now.Add(31 * time.Second)
	_, err = f.FindRoute(context.Background(), req)
	require.NoError(t, err)

	// Entry expired, search ran again.
	assert.Greater(t, f.Expansions(), spent)
	assert.Equal(t, uint64(0), f.CacheHits())
}

func TestFindRoute_InvalidRequests(t *testing.T) {
	a, b := newToken("AAA"), newToken("BBB")
	f, _, _, _ := setupFinder(t, []market.Pool{
		newPool("AAA/BBB", a, b, "10000", "10000", "20000"),
	})

	req := request(a, a, "100")
	_, err := f.FindRoute(context.Background(), req)
	assert.Error(t, err)

	req = request(a, b, "100")
	req.Amount = decimal.Zero
	_, err = f.FindRoute(context.Background(), req)
	assert.Error(t, err)

	req = request(a, b, "100")
	req.MaxHops = 0
	_, err = f.FindRoute(context.Background(), req)
	assert.Error(t, err)
}

func TestFindRoute_NoRoute(t *testing.T) {
	a, b := newToken("AAA"), newToken("BBB")
	d, e := newToken("DDD"), newToken("EEE")
	f, _, _, _ := setupFinder(t, []market.Pool{
		newPool("AAA/BBB", a, b, "10000", "10000", "20000"),
		newPool("DDD/EEE", d, e, "10000", "10000", "20000"),
	})

	_, err := f.FindRoute(context.Background(), request(a, d, "100"))
	require.Error(t, err)

	var noRoute *NoRouteError
	assert.ErrorAs(t, err, &noRoute)
}

func TestFindRoute_HopLimit(t *testing.T) {
	a, b, c := newToken("AAA"), newToken("BBB"), newToken("CCC")
	f, _, _, _ := setupFinder(t, []market.Pool{
		newPool("AAA/BBB", a, b, "10000", "10000", "20000"),
		newPool("BBB/CCC", b, c, "10000", "10000", "20000"),
	})

	req := request(a, c, "100")
	req.MaxHops = 1
	_, err := f.FindRoute(context.Background(), req)

	var noRoute *NoRouteError
	require.ErrorAs(t, err, &noRoute)
	assert.Equal(t, 1, noRoute.MaxHops)
}

func TestFindRoute_InsufficientLiquidity(t *testing.T) {
	a, b := newToken("AAA"), newToken("BBB")
	f, _, _, _ := setupFinder(t, []market.Pool{
		newPool("AAA/BBB", a, b, "50", "50", "100"),
	})

	_, err := f.FindRoute(context.Background(), request(a, b, "100"))
	require.Error(t, err)

	var liqErr *graph.InsufficientLiquidityError
	assert.ErrorAs(t, err, &liqErr)
}

func TestFindRoute_PriceImpactExceeded(t *testing.T) {
	a, b := newToken("AAA"), newToken("BBB")
	f, _, _, _ := setupFinder(t, []market.Pool{
		newPool("AAA/BBB", a, b, "10000", "10000", "20000"),
	})

	// Impact 600/10000 = 0.06 over the 0.05 bound, and splitting not allowed.
	_, err := f.FindRoute(context.Background(), request(a, b, "600"))
	require.Error(t, err)

	var impactErr *PriceImpactError
	require.ErrorAs(t, err, &impactErr)
	assert.True(t, impactErr.Impact.Equal(decimal.RequireFromString("0.06")), "impact = %s", impactErr.Impact)
	assert.True(t, impactErr.Limit.Equal(decimal.RequireFromString("0.05")))
}

func TestFindRoute_SplitTwoWay(t *testing.T) {
	a, b := newToken("AAA"), newToken("BBB")
	f, _, _, _ := setupFinder(t, []market.Pool{
		newPool("AAA/BBB", a, b, "10000", "10000", "20000"),
	})

	req := request(a, b, "400")
	req.MaxSlippage = decimal.RequireFromString("0.03")
	req.AllowSplit = true

	set, err := f.FindRoute(context.Background(), req)
	require.NoError(t, err)
	require.True(t, set.Split)
	require.Len(t, set.Routes, 2)

	for _, r := range set.Routes {
		assert.True(t, r.AmountIn.Equal(decimal.NewFromInt(200)), "part = %s", r.AmountIn)
		assert.True(t, r.PriceImpact.Equal(decimal.RequireFromString("0.02")))
		assert.True(t, r.Share.Equal(decimal.NewFromInt(50)), "share = %s", r.Share)
	}

	// Each half: 200 - 0.6 fee = 199.4 out.
	assert.True(t, set.AmountOut.Equal(decimal.RequireFromString("398.8")), "out = %s", set.AmountOut)
}

func TestFindRoute_SplitThreeWay(t *testing.T) {
	a, b := newToken("AAA"), newToken("BBB")
	f, _, _, _ := setupFinder(t, []market.Pool{
		newPool("AAA/BBB", a, b, "10000", "10000", "20000"),
	})

	req := request(a, b, "400")
	req.MaxSlippage = decimal.RequireFromString("0.015")
	req.AllowSplit = true

	set, err := f.FindRoute(context.Background(), req)
	require.NoError(t, err)
	require.True(t, set.Split)
	require.Len(t, set.Routes, 3)

	total := decimal.Zero
	for _, r := range set.Routes {
		assert.True(t, r.PriceImpact.LessThanOrEqual(req.MaxSlippage))
		total = total.Add(r.AmountIn)
	}
	assert.True(t, total.Equal(decimal.NewFromInt(400)), "parts sum = %s", total)
}

func TestFindRoute_SplitInfeasible(t *testing.T) {
	a, b := newToken("AAA"), newToken("BBB")
	f, _, _, _ := setupFinder(t, []market.Pool{
		newPool("AAA/BBB", a, b, "10000", "10000", "20000"),
	})

	// Even thirds of 3000 move the pool by 0.1 each.
	req := request(a, b, "3000")
	req.MaxSlippage = decimal.RequireFromString("0.01")
	req.AllowSplit = true

	_, err := f.FindRoute(context.Background(), req)
	var noRoute *NoRouteError
	assert.ErrorAs(t, err, &noRoute)
}

func TestRevalidate(t *testing.T) {
	a, b := newToken("AAA"), newToken("BBB")
	pool := newPool("AAA/BBB", a, b, "10000", "10000", "20000")
	f, g, provider, _ := setupFinder(t, []market.Pool{pool})

	set, err := f.FindRoute(context.Background(), request(a, b, "100"))
	require.NoError(t, err)
	route := set.Best()

	require.NoError(t, f.Revalidate(context.Background(), route))

	// Liquidity drains below the route's amount.
	drained := pool
	drained.ReserveA = decimal.NewFromInt(50)
	drained.ReserveB = decimal.NewFromInt(50)
	provider.SetPool(drained)
	require.NoError(t, g.Refresh(context.Background()))

	err = f.Revalidate(context.Background(), route)
	assert.ErrorIs(t, err, ErrRouteInvalidated)
}

func TestRevalidate_PoolRemoved(t *testing.T) {
	a, b := newToken("AAA"), newToken("BBB")
	pool := newPool("AAA/BBB", a, b, "10000", "10000", "20000")
	f, g, provider, _ := setupFinder(t, []market.Pool{pool})

	set, err := f.FindRoute(context.Background(), request(a, b, "100"))
	require.NoError(t, err)

	provider.RemovePool(pool.Address)
	require.NoError(t, g.Refresh(context.Background()))

	err = f.Revalidate(context.Background(), set.Best())
	assert.ErrorIs(t, err, ErrRouteInvalidated)
}

func TestRevalidate_ImpactRegression(t *testing.T) {
	a, b := newToken("AAA"), newToken("BBB")
	pool := newPool("AAA/BBB", a, b, "10000", "10000", "20000")
	f, g, provider, _ := setupFinder(t, []market.Pool{pool})

	set, err := f.FindRoute(context.Background(), request(a, b, "100"))
	require.NoError(t, err)
	route := set.Best()

	// Pool thins out: same trade now moves the price past the accepted bound.
	thinned := pool
	thinned.ReserveA = decimal.NewFromInt(1500)
	thinned.ReserveB = decimal.NewFromInt(1500)
	provider.SetPool(thinned)
	require.NoError(t, g.Refresh(context.Background()))

	err = f.Revalidate(context.Background(), route)
	assert.ErrorIs(t, err, ErrRouteInvalidated)
}
