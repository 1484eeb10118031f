// Package executor turns computed routes and detected cycles into on-chain
// transactions: revalidate, simulate, submit with bounded retries, confirm,
// and record the outcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/UmutKorkmaz/solana-route-engine/internal/arb"
	"github.com/UmutKorkmaz/solana-route-engine/internal/cache"
	"github.com/UmutKorkmaz/solana-route-engine/internal/flags"
	"github.com/UmutKorkmaz/solana-route-engine/internal/graph"
	"github.com/UmutKorkmaz/solana-route-engine/internal/models"
	"github.com/UmutKorkmaz/solana-route-engine/internal/router"
)

// ErrExecutionDisabled means the trading kill switch is off.
var ErrExecutionDisabled = errors.New("execution disabled by trading switch")

// SimulationError means preflight simulation rejected the transaction;
// nothing was submitted.
type SimulationError struct {
	Reason string
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation failed: %s", e.Reason)
}

// SubmissionError classifies a failed submission. Transient failures
// (rate limits, timeouts, expired blockhashes) are retried; permanent ones
// (insufficient funds, invalid signature) are not.
type SubmissionError struct {
	Reason    string
	Transient bool
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission failed: %s", e.Reason)
}

// ConfirmationError reports the cluster's verdict on a submitted
// transaction. Failed means the transaction landed and erred on-chain;
// resubmitting the same signed bytes cannot change that outcome, so it is
// never retried. Timeouts and status-lookup failures stay transient.
type ConfirmationError struct {
	Signature string
	Reason    string
	Failed    bool
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("confirmation of %s failed: %s", e.Signature, e.Reason)
}

// Payload is everything a Submitter needs to build one transaction.
type Payload struct {
	Kind         string // "route" or "arbitrage"
	Hops         []graph.Hop
	AmountIn     decimal.Decimal
	MinAmountOut decimal.Decimal
	PriorityFee  uint64 // micro-lamports per compute unit
}

// Submitter builds, simulates, submits and confirms transactions. The wallet
// package provides the production implementation; tests script fakes.
type Submitter interface {
	Build(ctx context.Context, p Payload) (*solana.Transaction, error)
	Simulate(ctx context.Context, tx *solana.Transaction) error
	Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	Confirm(ctx context.Context, sig solana.Signature) error
}

// Switch gates execution; the flags store implements it in production.
type Switch interface {
	Enabled(ctx context.Context, key string, def bool) bool
}

// FeeAmount is the total pool fee a payload pays in one token.
type FeeAmount struct {
	Token  string // mint
	Symbol string
	Amount decimal.Decimal
}

// Receipt reports one execution attempt chain.
type Receipt struct {
	Signature   string
	Success     bool
	Kind        string
	AmountIn    decimal.Decimal
	ExpectedOut decimal.Decimal
	Fees        []FeeAmount
	PriorityFee uint64
	Attempts    int
	Duration    time.Duration
	Error       string
}

// Config tunes an Executor.
type Config struct {
	Retry RetryPolicy
	// Priority fees in micro-lamports per compute unit. Arbitrage pays more:
	// the opportunity decays within seconds and losing the race to another
	// searcher wastes the whole transaction fee.
	PriorityFeeRoute uint64
	PriorityFeeArb   uint64
}

func DefaultConfig() Config {
	return Config{
		Retry:            DefaultRetryPolicy(),
		PriorityFeeRoute: 1_000,
		PriorityFeeArb:   10_000,
	}
}

// Executor coordinates the full execution pipeline. Redis, ClickHouse and
// the kill switch are optional; a nil dependency skips that step.
type Executor struct {
	submitter Submitter
	finder    *router.Finder
	detector  *arb.Detector
	switches  Switch
	redis     *cache.RedisCache
	store     *cache.ClickHouseStore
	cfg       Config
	logger    *logrus.Logger

	// sleep is swapped out in tests.
	sleep func(context.Context, time.Duration) error
}

func New(submitter Submitter, finder *router.Finder, detector *arb.Detector, cfg Config, logger *logrus.Logger) *Executor {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Executor{
		submitter: submitter,
		finder:    finder,
		detector:  detector,
		cfg:       cfg,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// WithSwitch attaches the trading kill switch.
func (e *Executor) WithSwitch(s Switch) *Executor {
	e.switches = s
	return e
}

// WithRecorders attaches the live event bus and the history store.
func (e *Executor) WithRecorders(r *cache.RedisCache, c *cache.ClickHouseStore) *Executor {
	e.redis = r
	e.store = c
	return e
}

// Execute revalidates a route against live conditions and runs it on-chain.
// A route that no longer holds returns an error wrapping
// router.ErrRouteInvalidated without submitting anything.
func (e *Executor) Execute(ctx context.Context, route *router.Route) (*Receipt, error) {
	if !e.enabled(ctx) {
		return nil, ErrExecutionDisabled
	}
	if err := e.finder.Revalidate(ctx, route); err != nil {
		return nil, err
	}
	return e.run(ctx, e.RoutePayload(route))
}

// RoutePayload builds the submission payload for a route.
func (e *Executor) RoutePayload(route *router.Route) Payload {
	return Payload{
		Kind:         "route",
		Hops:         route.Hops,
		AmountIn:     route.AmountIn,
		MinAmountOut: minOut(route.AmountOut, route.MaxSlippage),
		PriorityFee:  e.cfg.PriorityFeeRoute,
	}
}

// CyclePayload builds the submission payload for an arbitrage cycle.
func (e *Executor) CyclePayload(c *arb.Cycle) Payload {
	return Payload{
		Kind:         "arbitrage",
		Hops:         c.Hops,
		AmountIn:     c.ProbeAmount,
		MinAmountOut: c.ProbeAmount, // never settle for a loss
		PriorityFee:  e.cfg.PriorityFeeArb,
	}
}

// ExecuteSplit runs every sibling of a split route set, stopping at the
// first route that fails revalidation. Submission failures of one sibling do
// not abort the rest; each receipt stands alone.
func (e *Executor) ExecuteSplit(ctx context.Context, set *router.RouteSet) ([]*Receipt, error) {
	receipts := make([]*Receipt, 0, len(set.Routes))
	for _, r := range set.Routes {
		receipt, err := e.Execute(ctx, r)
		if err != nil {
			return receipts, err
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

// ExecuteArbitrage revalidates a cycle and runs it with the arbitrage
// priority fee. A cycle whose profit decayed returns an error wrapping
// arb.ErrStaleOpportunity.
func (e *Executor) ExecuteArbitrage(ctx context.Context, c *arb.Cycle) (*Receipt, error) {
	if !e.enabled(ctx) {
		return nil, ErrExecutionDisabled
	}
	if err := e.detector.Validate(ctx, c); err != nil {
		return nil, err
	}
	return e.run(ctx, e.CyclePayload(c))
}

// Preflight builds and simulates without submitting. It reports what the
// full pipeline would have rejected.
func (e *Executor) Preflight(ctx context.Context, p Payload) error {
	tx, err := e.submitter.Build(ctx, p)
	if err != nil {
		return fmt.Errorf("build transaction: %w", err)
	}
	if err := e.submitter.Simulate(ctx, tx); err != nil {
		return &SimulationError{Reason: err.Error()}
	}
	return nil
}

// run executes one payload: build, simulate, submit with retries, confirm.
// Exhausting transient retries is an outcome, not an error: the receipt
// reports the failure so batch callers keep going.
func (e *Executor) run(ctx context.Context, p Payload) (*Receipt, error) {
	start := time.Now()

	tx, err := e.submitter.Build(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	if err := e.submitter.Simulate(ctx, tx); err != nil {
		return nil, &SimulationError{Reason: err.Error()}
	}

	receipt := &Receipt{
		Kind:        p.Kind,
		AmountIn:    p.AmountIn,
		ExpectedOut: p.Hops[len(p.Hops)-1].AmountOut,
		Fees:        feesByToken(p.Hops),
		PriorityFee: p.PriorityFee,
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.Retry.MaxAttempts; attempt++ {
		receipt.Attempts = attempt

		if e.cfg.Retry.MaxElapsed > 0 && time.Since(start) > e.cfg.Retry.MaxElapsed {
			break
		}

		sig, err := e.submitter.Submit(ctx, tx)
		if err == nil {
			if err := e.submitter.Confirm(ctx, sig); err != nil {
				lastErr = err
			} else {
				receipt.Signature = sig.String()
				receipt.Success = true
				receipt.Duration = time.Since(start)
				e.record(ctx, receipt, p)
				return receipt, nil
			}
		} else {
			lastErr = err
		}

		var sub *SubmissionError
		if errors.As(lastErr, &sub) && !sub.Transient {
			return nil, lastErr
		}
		var conf *ConfirmationError
		if errors.As(lastErr, &conf) && conf.Failed {
			return nil, lastErr
		}

		if attempt < e.cfg.Retry.MaxAttempts {
			if err := e.sleep(ctx, e.cfg.Retry.delay(attempt)); err != nil {
				return nil, err
			}
		}
	}

	receipt.Duration = time.Since(start)
	if lastErr != nil {
		receipt.Error = lastErr.Error()
	}
	e.record(ctx, receipt, p)

	e.logger.WithFields(logrus.Fields{
		"kind":     p.Kind,
		"attempts": receipt.Attempts,
	}).Warn("execution gave up after transient failures")
	return receipt, nil
}

func (e *Executor) enabled(ctx context.Context) bool {
	if e.switches == nil {
		return true
	}
	return e.switches.Enabled(ctx, flags.KeyTradingEnabled, true)
}

// record publishes and persists the receipt. Failures are logged, never
// propagated; bookkeeping must not undo a completed trade.
func (e *Executor) record(ctx context.Context, r *Receipt, p Payload) {
	pools := make([]string, len(p.Hops))
	for i, h := range p.Hops {
		pools[i] = h.Pool.Address.String()
	}
	fees := make([]string, len(r.Fees))
	for i, f := range r.Fees {
		fees[i] = f.Token + ":" + f.Amount.String()
	}

	ev := &models.ExecutionEvent{
		Signature:   r.Signature,
		Timestamp:   time.Now().UTC(),
		Kind:        r.Kind,
		TokenIn:     p.Hops[0].TokenIn.Mint.String(),
		TokenOut:    p.Hops[len(p.Hops)-1].TokenOut.Mint.String(),
		AmountIn:    r.AmountIn.String(),
		AmountOut:   r.ExpectedOut.String(),
		Fees:        fees,
		PriorityFee: r.PriorityFee,
		Pools:       pools,
		Hops:        len(p.Hops),
		Attempts:    r.Attempts,
		Success:     r.Success,
		Error:       r.Error,
	}

	if e.redis != nil {
		if err := e.redis.AddRecentExecution(ctx, ev); err != nil {
			e.logger.WithError(err).Warn("failed to store recent execution")
		}
		if err := e.redis.PublishExecution(ctx, ev); err != nil {
			e.logger.WithError(err).Warn("failed to publish execution")
		}
	}
	if e.store != nil {
		if err := e.store.InsertExecution(ctx, ev); err != nil {
			e.logger.WithError(err).Warn("failed to insert execution history")
		}
	}
}

// minOut applies the accepted slippage bound to the quoted output.
func minOut(amountOut, maxSlippage decimal.Decimal) decimal.Decimal {
	if maxSlippage.Sign() <= 0 {
		return amountOut
	}
	return amountOut.Mul(decimal.NewFromInt(1).Sub(maxSlippage))
}

// feesByToken sums per-hop fees grouped by the token they are paid in.
// Each hop's fee is denominated in that hop's input token; amounts in
// different tokens are never added together.
func feesByToken(hops []graph.Hop) []FeeAmount {
	var out []FeeAmount
	idx := make(map[string]int)
	for _, h := range hops {
		key := h.TokenIn.Mint.String()
		if i, ok := idx[key]; ok {
			out[i].Amount = out[i].Amount.Add(h.Fee)
			continue
		}
		idx[key] = len(out)
		out = append(out, FeeAmount{Token: key, Symbol: h.TokenIn.Symbol, Amount: h.Fee})
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
