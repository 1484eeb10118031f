package arb

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

// triangleFixture builds a three-pool market where the C/A venue prices A at
// a 3% premium, leaving a profitable A->B->C->A loop after fees.
func triangleFixture() (a, b, c market.Token, pools []market.Pool, prices map[solana.PublicKey]decimal.Decimal) {
	a, b, c = newToken("AAA"), newToken("BBB"), newToken("CCC")
	pools = []market.Pool{
		newPool("AAA/BBB", a, b, "10000", "10000", "20000"),
		newPool("BBB/CCC", b, c, "10000", "10000", "20000"),
		newPool("CCC/AAA", c, a, "10000", "10300", "20000"),
	}
	one := decimal.NewFromInt(1)
	prices = map[solana.PublicKey]decimal.Decimal{
		a.Mint: one,
		b.Mint: one,
		c.Mint: one,
	}
	return
}

func setupDetector(t *testing.T, pools []market.Pool, prices map[solana.PublicKey]decimal.Decimal) (*Detector, *graph.Graph, *market.StaticProvider) {
	t.Helper()
	provider := market.NewStaticProvider(pools, prices)
	g := graph.NewGraph(provider, nil)
	require.NoError(t, g.Refresh(context.Background()))
	d := NewDetector(g, cache.NewMemo(), DefaultConfig(), nil)
	return d, g, provider
}

func TestScan_FindsTriangle(t *testing.T) {
	_, _, _, pools, prices := triangleFixture()
	d, _, _ := setupDetector(t, pools, prices)

	cycles, err := d.Scan(context.Background(), Params{MaxCycleLen: 4})
	require.NoError(t, err)
	require.Len(t, cycles, 1, "one direction is profitable, its reverse is not")

	cy := cycles[0]
	require.Len(t, cy.Hops, 3)
	assert.True(t, cy.Token.Equals(cy.Hops[0].TokenIn.Mint))
	assert.True(t, cy.Token.Equals(cy.Hops[2].TokenOut.Mint), "the loop exits where it entered")

	// $100 probe at $1/token: 100 units in, 100 * 0.997^3 * 1.03 back.
	assert.True(t, cy.ProbeAmount.Equal(decimal.NewFromInt(100)), "probe = %s", cy.ProbeAmount)
	assert.True(t, cy.Profit.Equal(decimal.RequireFromString("2.075778219")), "profit = %s", cy.Profit)
	assert.True(t, cy.ProfitUSD.Equal(decimal.RequireFromString("2.075778219")), "profit usd = %s", cy.ProfitUSD)

	assert.Greater(t, cy.Score, 0.0)
	assert.Greater(t, cy.Confidence, 0.0)
	assert.LessOrEqual(t, cy.Confidence, 1.0)
	assert.False(t, cy.FoundAt.IsZero())
}

func TestScan_MinProfitFilter(t *testing.T) {
	_, _, _, pools, prices := triangleFixture()
	d, _, _ := setupDetector(t, pools, prices)

	cycles, err := d.Scan(context.Background(), Params{
		MinProfitUSD: decimal.NewFromInt(5),
		MaxCycleLen:  4,
	})
	require.NoError(t, err)
	assert.Empty(t, cycles, "profit of ~$2.08 is below the $5 floor")
}

func TestScan_UnpricedSeedNeverClearsUSDFloor(t *testing.T) {
	_, _, _, pools, _ := triangleFixture()
	d, _, _ := setupDetector(t, pools, nil) // no USD prices at all

	// The loop is still profitable in token units, but token units are not
	// dollars: a positive floor must exclude it, not compare across
	// denominations.
	cycles, err := d.Scan(context.Background(), Params{
		MinProfitUSD: decimal.NewFromInt(1),
		MaxCycleLen:  4,
	})
	require.NoError(t, err)
	assert.Empty(t, cycles)

	// Without a floor the cycle surfaces, reporting zero USD profit.
	cycles, err = d.Scan(context.Background(), Params{MaxCycleLen: 4})
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.True(t, cycles[0].Profit.Equal(decimal.RequireFromString("2.075778219")), "profit = %s", cycles[0].Profit)
	assert.True(t, cycles[0].ProfitUSD.IsZero(), "profit usd = %s", cycles[0].ProfitUSD)
}

func TestScan_NoFalsePositives(t *testing.T) {
	// Balanced market: every loop loses the fees.
	a, b, c := newToken("AAA"), newToken("BBB"), newToken("CCC")
	pools := []market.Pool{
		newPool("AAA/BBB", a, b, "10000", "10000", "20000"),
		newPool("BBB/CCC", b, c, "10000", "10000", "20000"),
		newPool("CCC/AAA", c, a, "10000", "10000", "20000"),
	}
	d, _, _ := setupDetector(t, pools, nil)

	cycles, err := d.Scan(context.Background(), Params{MaxCycleLen: 4})
	require.NoError(t, err)
	assert.Empty(t, cycles)
}

func TestScan_CycleLengthBound(t *testing.T) {
	_, _, _, pools, prices := triangleFixture()
	d, _, _ := setupDetector(t, pools, prices)

	// The triangle needs three pools; a two-pool cap excludes it.
	cycles, err := d.Scan(context.Background(), Params{MaxCycleLen: 2})
	require.NoError(t, err)
	assert.Empty(t, cycles)

	_, err = d.Scan(context.Background(), Params{MaxCycleLen: 1})
	assert.Error(t, err)
}

func TestScan_Memoized(t *testing.T) {
	_, _, _, pools, prices := triangleFixture()
	provider := market.NewStaticProvider(pools, prices)
	g := graph.NewGraph(provider, nil)
	require.NoError(t, g.Refresh(context.Background()))

	memo := cache.NewMemo()
	d := NewDetector(g, memo, DefaultConfig(), nil)

	params := Params{MaxCycleLen: 4}
	first, err := d.Scan(context.Background(), params)
	require.NoError(t, err)

	second, err := d.Scan(context.Background(), params)
	require.NoError(t, err)

	hits, _ := memo.Stats()
	assert.Equal(t, uint64(1), hits)
	require.Equal(t, len(first), len(second))
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.True(t, first[0].Profit.Equal(second[0].Profit))
}

func TestValidate(t *testing.T) {
	_, _, _, pools, prices := triangleFixture()
	d, g, provider := setupDetector(t, pools, prices)

	cycles, err := d.Scan(context.Background(), Params{MaxCycleLen: 4})
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	cy := cycles[0]

	// Market unchanged: still good.
	require.NoError(t, d.Validate(context.Background(), cy))

	// The premium disappears; the loop now loses money.
	rebalanced := pools[2]
	rebalanced.ReserveB = decimal.NewFromInt(10000)
	provider.SetPool(rebalanced)
	require.NoError(t, g.Refresh(context.Background()))

	err = d.Validate(context.Background(), cy)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStaleOpportunity)

	var stale *StaleOpportunityError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, cy.ID, stale.ID)
	assert.True(t, stale.CurrentProfit.LessThan(stale.OriginalProfit))
}

func TestValidate_PoolGone(t *testing.T) {
	_, _, _, pools, prices := triangleFixture()
	d, g, provider := setupDetector(t, pools, prices)

	cycles, err := d.Scan(context.Background(), Params{MaxCycleLen: 4})
	require.NoError(t, err)
	require.Len(t, cycles, 1)

	provider.RemovePool(pools[2].Address)
	require.NoError(t, g.Refresh(context.Background()))

	err = d.Validate(context.Background(), cycles[0])
	assert.ErrorIs(t, err, ErrStaleOpportunity)
}

func TestCanonicalKey_RotationInvariant(t *testing.T) {
	p1 := solana.NewWallet().PublicKey()
	p2 := solana.NewWallet().PublicKey()
	p3 := solana.NewWallet().PublicKey()

	k1 := canonicalKey([]solana.PublicKey{p1, p2, p3})
	k2 := canonicalKey([]solana.PublicKey{p2, p3, p1})
	k3 := canonicalKey([]solana.PublicKey{p3, p1, p2})
	assert.Equal(t, k1, k2)
	assert.Equal(t, k1, k3)

	// The reverse traversal is a different cycle.
	reversed := canonicalKey([]solana.PublicKey{p3, p2, p1})
	assert.NotEqual(t, k1, reversed)
}

func TestScorePolicy_ConfidenceDecay(t *testing.T) {
	policy := DefaultScorePolicy()

	a, b := newToken("AAA"), newToken("BBB")
	pool := newPool("AAA/BBB", a, b, "10000", "10000", "100000")
	hops := []graph.Hop{{Pool: &pool}, {Pool: &pool}, {Pool: &pool}}

	fresh := &Cycle{
		Hops:      hops,
		ProfitUSD: decimal.NewFromInt(10),
	}
	stale := &Cycle{
		Hops:      hops,
		ProfitUSD: decimal.NewFromInt(10),
	}

	policy.Assess(fresh, 0)
	policy.Assess(stale, 30*time.Second)

	assert.Equal(t, 1.0, fresh.Confidence)
	assert.Less(t, stale.Confidence, fresh.Confidence)
	assert.Less(t, stale.Score, fresh.Score)
}
