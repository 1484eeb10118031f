// Package arb scans the pool graph for profitable trading cycles: paths that
// start and end at the same token and return more of it than they consume.
package arb

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/UmutKorkmaz/solana-route-engine/internal/graph"
)

// ErrStaleOpportunity is returned by Validate when a previously detected
// cycle no longer clears its profit threshold.
var ErrStaleOpportunity = errors.New("opportunity stale")

// StaleOpportunityError carries the before/after profit of a failed
// revalidation.
type StaleOpportunityError struct {
	ID             string
	OriginalProfit decimal.Decimal
	CurrentProfit  decimal.Decimal
}

func (e *StaleOpportunityError) Error() string {
	return fmt.Sprintf("opportunity %s stale: profit fell from %s to %s",
		e.ID, e.OriginalProfit, e.CurrentProfit)
}

func (e *StaleOpportunityError) Unwrap() error { return ErrStaleOpportunity }

// Cycle is a simulated round trip through two or more pools, entering and
// exiting at Token.
type Cycle struct {
	ID    string
	Token solana.PublicKey
	Hops  []graph.Hop

	ProbeAmount decimal.Decimal
	FinalAmount decimal.Decimal
	Profit      decimal.Decimal // FinalAmount - ProbeAmount, in Token units
	ProfitUSD   decimal.Decimal // zero when Token has no known USD price

	Risk       float64
	Confidence float64
	Score      float64

	FoundAt time.Time
}

// Pools returns the cycle's pool addresses in traversal order.
func (c *Cycle) Pools() []solana.PublicKey {
	out := make([]solana.PublicKey, len(c.Hops))
	for i, h := range c.Hops {
		out[i] = h.Pool.Address
	}
	return out
}

// ScorePolicy turns a simulated cycle into a comparable score. Risk grows
// with hop count and shrinks with the thinnest pool's depth; confidence
// decays with snapshot age.
type ScorePolicy struct {
	RiskPerHop        float64
	LiquidityRiskUSD  float64       // depth at which thin-pool risk reaches 1
	ConfidenceHalfAge time.Duration // snapshot age halving confidence
}

func DefaultScorePolicy() ScorePolicy {
	return ScorePolicy{
		RiskPerHop:        0.15,
		LiquidityRiskUSD:  50_000,
		ConfidenceHalfAge: 10 * time.Second,
	}
}

// Assess fills Risk, Confidence and Score from the simulated hops.
func (p ScorePolicy) Assess(c *Cycle, snapshotAge time.Duration) {
	risk := float64(len(c.Hops)) * p.RiskPerHop

	thinnest, _ := graph.ThinnestLiquidity(c.Hops).Float64()
	if p.LiquidityRiskUSD > 0 && thinnest < p.LiquidityRiskUSD {
		if thinnest <= 0 {
			risk += 1
		} else {
			risk += 1 - thinnest/p.LiquidityRiskUSD
		}
	}

	confidence := 1.0
	if p.ConfidenceHalfAge > 0 && snapshotAge > 0 {
		confidence = math.Exp2(-snapshotAge.Seconds() / p.ConfidenceHalfAge.Seconds())
	}

	profitUSD, _ := c.ProfitUSD.Float64()

	c.Risk = risk
	c.Confidence = confidence
	c.Score = profitUSD * confidence / (1 + risk)
}

// canonicalKey identifies a cycle independent of its starting token: the
// lexicographically smallest rotation of the directed pool sequence. The
// reverse traversal is a different cycle and keeps its own key.
func canonicalKey(pools []solana.PublicKey) string {
	n := len(pools)
	seqs := make([]string, n)
	for start := 0; start < n; start++ {
		s := ""
		for i := 0; i < n; i++ {
			s += pools[(start+i)%n].String() + "/"
		}
		seqs[start] = s
	}
	min := seqs[0]
	for _, s := range seqs[1:] {
		if s < min {
			min = s
		}
	}
	return min
}

func cycleID(pools []solana.PublicKey) string {
	h := fnv.New64a()
	h.Write([]byte(canonicalKey(pools)))
	return fmt.Sprintf("c%016x", h.Sum64())
}
