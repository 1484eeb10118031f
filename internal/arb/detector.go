package arb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/UmutKorkmaz/solana-route-engine/internal/cache"
	"github.com/UmutKorkmaz/solana-route-engine/internal/graph"
	"github.com/UmutKorkmaz/solana-route-engine/internal/market"
)

// Config tunes a Detector.
type Config struct {
	// SeedCount is how many high-liquidity tokens start cycle searches.
	SeedCount int
	// ProbeUSD is the notional used to size each probe trade. Tokens without
	// a USD price are probed with 100 units.
	ProbeUSD decimal.Decimal
	// ArbTTL caches scan results. Kept much shorter than the route TTL; a
	// stale opportunity is actively harmful, a stale route merely suboptimal.
	ArbTTL time.Duration
	// ScanTimeout bounds one full scan.
	ScanTimeout time.Duration
	// RevalidateFraction is the share of the original profit a cycle must
	// retain to pass Validate.
	RevalidateFraction decimal.Decimal

	Policy ScorePolicy
}

func DefaultConfig() Config {
	return Config{
		SeedCount:          5,
		ProbeUSD:           decimal.NewFromInt(100),
		ArbTTL:             3 * time.Second,
		ScanTimeout:        5 * time.Second,
		RevalidateFraction: decimal.RequireFromString("0.9"),
		Policy:             DefaultScorePolicy(),
	}
}

// Params select what one scan looks for.
type Params struct {
	MinProfitUSD decimal.Decimal
	MaxCycleLen  int
}

// Detector enumerates simple cycles from the most liquid tokens and keeps
// the profitable ones, scored. Safe for concurrent use.
type Detector struct {
	graph  *graph.Graph
	memo   *cache.Memo
	cfg    Config
	logger *logrus.Logger
}

func NewDetector(g *graph.Graph, memo *cache.Memo, cfg Config, logger *logrus.Logger) *Detector {
	def := DefaultConfig()
	if cfg.SeedCount <= 0 {
		cfg.SeedCount = def.SeedCount
	}
	if cfg.ProbeUSD.Sign() <= 0 {
		cfg.ProbeUSD = def.ProbeUSD
	}
	if cfg.ArbTTL <= 0 {
		cfg.ArbTTL = def.ArbTTL
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = def.ScanTimeout
	}
	if cfg.RevalidateFraction.Sign() <= 0 {
		cfg.RevalidateFraction = def.RevalidateFraction
	}
	if cfg.Policy == (ScorePolicy{}) {
		cfg.Policy = def.Policy
	}
	if memo == nil {
		memo = cache.NewMemo()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Detector{graph: g, memo: memo, cfg: cfg, logger: logger}
}

// Scan returns profitable cycles sorted by score, best first. Results are
// memoized for ArbTTL so a burst of identical requests costs one traversal.
func (d *Detector) Scan(ctx context.Context, params Params) ([]*Cycle, error) {
	if params.MaxCycleLen < 2 {
		return nil, fmt.Errorf("max cycle length must be >= 2, got %d", params.MaxCycleLen)
	}

	key := fmt.Sprintf("arb:%s:%d", params.MinProfitUSD, params.MaxCycleLen)
	if cached, ok := d.memo.Get(key); ok {
		return cached.([]*Cycle), nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.ScanTimeout)
	defer cancel()

	snap := d.graph.Snapshot()
	age := time.Since(snap.RefreshedAt())

	seen := make(map[string]bool)
	var cycles []*Cycle

	for _, seed := range d.seedTokens(snap) {
		found, err := d.cyclesFrom(ctx, snap, seed, params.MaxCycleLen)
		if err != nil {
			return nil, err
		}
		for _, pools := range found {
			ck := canonicalKey(poolAddrs(pools))
			if seen[ck] {
				continue
			}
			seen[ck] = true

			c, ok := d.simulate(snap, seed, pools, age)
			if !ok {
				continue
			}
			if c.ProfitUSD.LessThan(params.MinProfitUSD) {
				continue
			}
			cycles = append(cycles, c)
		}
	}

	sort.SliceStable(cycles, func(i, j int) bool {
		if cycles[i].Score != cycles[j].Score {
			return cycles[i].Score > cycles[j].Score
		}
		if c := cycles[i].ProfitUSD.Cmp(cycles[j].ProfitUSD); c != 0 {
			return c > 0
		}
		return cycles[i].ID < cycles[j].ID
	})

	d.memo.Set(key, cycles, d.cfg.ArbTTL)

	d.logger.WithFields(logrus.Fields{
		"cycles":     len(cycles),
		"max_length": params.MaxCycleLen,
	}).Debug("arbitrage scan complete")
	return cycles, nil
}

// Validate re-simulates a cycle against the live snapshot and fails when its
// profit dropped below RevalidateFraction of what was originally detected.
func (d *Detector) Validate(ctx context.Context, c *Cycle) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snap := d.graph.Snapshot()

	pools := make([]*market.Pool, len(c.Hops))
	for i, hop := range c.Hops {
		p := snap.Pool(hop.Pool.Address)
		if p == nil {
			return &StaleOpportunityError{ID: c.ID, OriginalProfit: c.Profit}
		}
		pools[i] = p
	}

	hops, err := snap.QuotePath(c.Token, pools, c.ProbeAmount)
	if err != nil {
		return &StaleOpportunityError{ID: c.ID, OriginalProfit: c.Profit}
	}

	profit := hops[len(hops)-1].AmountOut.Sub(c.ProbeAmount)
	floor := c.Profit.Mul(d.cfg.RevalidateFraction)
	if profit.LessThan(floor) {
		return &StaleOpportunityError{ID: c.ID, OriginalProfit: c.Profit, CurrentProfit: profit}
	}
	return nil
}

// seedTokens ranks tokens by the summed liquidity of their adjacent pools
// and keeps the top SeedCount. Cycles through illiquid corners are rarely
// executable and enumerating them is the expensive part of the scan.
func (d *Detector) seedTokens(snap *graph.Snapshot) []solana.PublicKey {
	type ranked struct {
		mint solana.PublicKey
		liq  decimal.Decimal
	}

	all := snap.Tokens()
	rankings := make([]ranked, 0, len(all))
	for _, mint := range all {
		total := decimal.Zero
		for _, e := range snap.Neighbors(mint) {
			total = total.Add(e.Pool.LiquidityUSD)
		}
		rankings = append(rankings, ranked{mint: mint, liq: total})
	}

	sort.Slice(rankings, func(i, j int) bool {
		if c := rankings[i].liq.Cmp(rankings[j].liq); c != 0 {
			return c > 0
		}
		return rankings[i].mint.String() < rankings[j].mint.String()
	})

	n := d.cfg.SeedCount
	if n > len(rankings) {
		n = len(rankings)
	}
	out := make([]solana.PublicKey, n)
	for i := 0; i < n; i++ {
		out[i] = rankings[i].mint
	}
	return out
}

// cyclesFrom enumerates simple directed cycles through seed of 2..maxLen
// pools: no token revisited mid-path, no pool reused.
func (d *Detector) cyclesFrom(ctx context.Context, snap *graph.Snapshot, seed solana.PublicKey, maxLen int) ([][]*market.Pool, error) {
	var out [][]*market.Pool

	var walk func(token solana.PublicKey, pools []*market.Pool, tokens map[solana.PublicKey]bool, used map[solana.PublicKey]bool) error
	walk = func(token solana.PublicKey, pools []*market.Pool, tokens map[solana.PublicKey]bool, used map[solana.PublicKey]bool) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		for _, e := range snap.Neighbors(token) {
			if used[e.Pool.Address] {
				continue
			}

			if e.To.Equals(seed) {
				if len(pools)+1 >= 2 {
					cycle := make([]*market.Pool, len(pools)+1)
					copy(cycle, pools)
					cycle[len(pools)] = e.Pool
					out = append(out, cycle)
				}
				continue
			}

			if len(pools)+1 >= maxLen || tokens[e.To] {
				continue
			}

			tokens[e.To] = true
			used[e.Pool.Address] = true
			if err := walk(e.To, append(pools, e.Pool), tokens, used); err != nil {
				return err
			}
			delete(tokens, e.To)
			delete(used, e.Pool.Address)
		}
		return nil
	}

	err := walk(seed, nil, map[solana.PublicKey]bool{seed: true}, map[solana.PublicKey]bool{})
	return out, err
}

// simulate probes the cycle and keeps it only when the round trip returns
// more than it consumed.
func (d *Detector) simulate(snap *graph.Snapshot, seed solana.PublicKey, pools []*market.Pool, age time.Duration) (*Cycle, bool) {
	probe := d.probeAmount(snap, seed)

	hops, err := snap.QuotePath(seed, pools, probe)
	if err != nil {
		return nil, false
	}

	final := hops[len(hops)-1].AmountOut
	profit := final.Sub(probe)
	if profit.Sign() <= 0 {
		return nil, false
	}

	// Without a USD price for the seed the profit cannot be expressed in
	// dollars. ProfitUSD stays zero, so a positive MinProfitUSD filter
	// excludes the cycle instead of comparing token units against dollars.
	var profitUSD decimal.Decimal
	if price := snap.PriceUSD(seed); price.Sign() > 0 {
		profitUSD = profit.Mul(price)
	}

	c := &Cycle{
		ID:          cycleID(poolAddrs(pools)),
		Token:       seed,
		Hops:        hops,
		ProbeAmount: probe,
		FinalAmount: final,
		Profit:      profit,
		ProfitUSD:   profitUSD,
		FoundAt:     time.Now(),
	}
	d.cfg.Policy.Assess(c, age)
	return c, true
}

// probeAmount sizes the probe to ProbeUSD worth of the seed token, falling
// back to 100 units when no price is known.
func (d *Detector) probeAmount(snap *graph.Snapshot, seed solana.PublicKey) decimal.Decimal {
	price := snap.PriceUSD(seed)
	if price.Sign() <= 0 {
		return decimal.NewFromInt(100)
	}
	return d.cfg.ProbeUSD.Div(price)
}

func poolAddrs(pools []*market.Pool) []solana.PublicKey {
	out := make([]solana.PublicKey, len(pools))
	for i, p := range pools {
		out[i] = p.Address
	}
	return out
}
