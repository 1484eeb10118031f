// Package monitor runs the background refresh-and-scan loop: keep the graph
// current, look for arbitrage, publish what it finds.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/UmutKorkmaz/solana-route-engine/internal/arb"
	"github.com/UmutKorkmaz/solana-route-engine/internal/cache"
	"github.com/UmutKorkmaz/solana-route-engine/internal/graph"
	"github.com/UmutKorkmaz/solana-route-engine/internal/models"
)

// ScannerConfig holds configuration for the background scanner
type ScannerConfig struct {
	Graph    *graph.Graph
	Detector *arb.Detector
	Cache    *cache.RedisCache // optional, publishes opportunities
	Memo     *cache.Memo       // optional, swept between iterations
	Logger   *logrus.Logger

	ScanInterval time.Duration
	MinProfitUSD decimal.Decimal
	MaxCycleLen  int
}

// Scanner refreshes the graph on a fixed cadence and scans for arbitrage
// after each refresh.
type Scanner struct {
	cfg ScannerConfig

	mu      sync.Mutex
	running bool
}

func NewScanner(cfg ScannerConfig) *Scanner {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 5 * time.Second
	}
	if cfg.MaxCycleLen < 2 {
		cfg.MaxCycleLen = 4
	}
	return &Scanner{cfg: cfg}
}

// Start runs the loop until ctx is cancelled. One iteration failing never
// stops the loop; the graph keeps serving its last good snapshot.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scanner already running")
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	s.cfg.Logger.WithFields(logrus.Fields{
		"interval":      s.cfg.ScanInterval,
		"max_cycle_len": s.cfg.MaxCycleLen,
	}).Info("starting arbitrage scanner")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.iterate(ctx)
		}
	}
}

// Running reports whether the loop is active.
func (s *Scanner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scanner) iterate(ctx context.Context) {
	if err := s.cfg.Graph.Refresh(ctx); err != nil {
		if errors.Is(err, graph.ErrDataUnavailable) {
			s.cfg.Logger.WithError(err).Warn("refresh failed, serving stale snapshot")
		} else {
			s.cfg.Logger.WithError(err).Error("graph refresh error")
		}
	}

	s.cachePrices(ctx)

	cycles, err := s.cfg.Detector.Scan(ctx, arb.Params{
		MinProfitUSD: s.cfg.MinProfitUSD,
		MaxCycleLen:  s.cfg.MaxCycleLen,
	})
	if err != nil {
		s.cfg.Logger.WithError(err).Error("arbitrage scan error")
		return
	}

	if len(cycles) > 0 {
		s.cfg.Logger.WithField("cycles", len(cycles)).Info("profitable cycles detected")
		s.publish(ctx, cycles)
	}

	if s.cfg.Memo != nil {
		s.cfg.Memo.Purge()
	}
}

// cachePrices mirrors the snapshot's USD prices into Redis so external
// consumers can read them without hitting the price API.
func (s *Scanner) cachePrices(ctx context.Context) {
	if s.cfg.Cache == nil {
		return
	}
	snap := s.cfg.Graph.Snapshot()
	for _, mint := range snap.Tokens() {
		price := snap.PriceUSD(mint)
		if price.Sign() <= 0 {
			continue
		}
		if err := s.cfg.Cache.SetPriceUSD(ctx, mint.String(), price.String()); err != nil {
			s.cfg.Logger.WithError(err).Warn("failed to cache token price")
			return
		}
	}
}

// publish broadcasts each cycle; failures are logged and skipped, live
// consumers tolerate gaps.
func (s *Scanner) publish(ctx context.Context, cycles []*arb.Cycle) {
	if s.cfg.Cache == nil {
		return
	}
	for _, c := range cycles {
		pools := make([]string, len(c.Hops))
		for i, h := range c.Hops {
			pools[i] = h.Pool.Address.String()
		}
		ev := &models.OpportunityEvent{
			ID:         c.ID,
			Token:      c.Token.String(),
			Pools:      pools,
			Hops:       len(c.Hops),
			ProfitUSD:  c.ProfitUSD.String(),
			Score:      c.Score,
			Risk:       c.Risk,
			Confidence: c.Confidence,
			FoundAt:    c.FoundAt,
		}
		if err := s.cfg.Cache.PublishOpportunity(ctx, ev); err != nil {
			s.cfg.Logger.WithError(err).Warn("failed to publish opportunity")
		}
	}
}
