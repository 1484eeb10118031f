package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/UmutKorkmaz/solana-route-engine/internal/arb"
	"github.com/UmutKorkmaz/solana-route-engine/internal/cache"
	"github.com/UmutKorkmaz/solana-route-engine/internal/config"
	"github.com/UmutKorkmaz/solana-route-engine/internal/graph"
	"github.com/UmutKorkmaz/solana-route-engine/internal/market"
	"github.com/UmutKorkmaz/solana-route-engine/internal/router"
	"github.com/UmutKorkmaz/solana-route-engine/internal/rpc"
)

func loadEnv() {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "../..")
	_ = godotenv.Load(filepath.Join(projectRoot, ".env"))
}

// main is a one-shot CLI over the route engine: find a route, scan for
// arbitrage, or print graph statistics.
func main() {
	loadEnv()

	mode := flag.String("mode", "route", "route | arb | stats")
	from := flag.String("from", "", "input token mint (base58)")
	to := flag.String("to", "", "output token mint (base58)")
	amount := flag.String("amount", "", "amount in human units (decimal string)")
	maxHops := flag.Int("max-hops", 0, "max pools per route (default from env)")
	maxSlippage := flag.String("max-slippage", "", "max cumulative price impact, fraction")
	split := flag.Bool("split", false, "allow splitting across parallel routes")
	minProfit := flag.String("min-profit", "", "minimum profit in USD for arb scan")
	maxCycleLen := flag.Int("max-cycle-len", 0, "max pools per cycle (default from env)")
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Println("invalid configuration:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	provider, err := buildProvider(cfg, logger)
	if err != nil {
		fmt.Println("failed to build market data provider:", err)
		os.Exit(1)
	}

	g := graph.NewGraph(provider, logger)
	if err := g.Refresh(ctx); err != nil {
		fmt.Println("failed to load pool graph:", err)
		os.Exit(1)
	}

	memo := cache.NewMemo()

	switch *mode {
	case "route":
		runRoute(ctx, cfg, g, memo, routeArgs{
			from:        *from,
			to:          *to,
			amount:      *amount,
			maxHops:     *maxHops,
			maxSlippage: *maxSlippage,
			split:       *split,
		}, logger)

	case "arb":
		runArb(ctx, cfg, g, memo, *minProfit, *maxCycleLen, logger)

	case "stats":
		stats := g.Statistics()
		fmt.Printf("pools=%d tokens=%d avg_liquidity_usd=%s density=%.4f largest_component=%d refreshed_at=%s\n",
			stats.Pools, stats.Tokens, stats.AvgLiquidityUSD, stats.Density,
			stats.LargestComponent, stats.RefreshedAt.Format("15:04:05"))

	default:
		fmt.Println("invalid -mode (use route|arb|stats)")
		os.Exit(2)
	}
}

type routeArgs struct {
	from        string
	to          string
	amount      string
	maxHops     int
	maxSlippage string
	split       bool
}

func runRoute(ctx context.Context, cfg *config.Config, g *graph.Graph, memo *cache.Memo, args routeArgs, logger *logrus.Logger) {
	fromKey, err := solana.PublicKeyFromBase58(args.from)
	if err != nil {
		fmt.Println("invalid -from mint:", err)
		os.Exit(2)
	}
	toKey, err := solana.PublicKeyFromBase58(args.to)
	if err != nil {
		fmt.Println("invalid -to mint:", err)
		os.Exit(2)
	}
	amt, err := decimal.NewFromString(args.amount)
	if err != nil || amt.Sign() <= 0 {
		fmt.Println("missing or invalid -amount (must be a positive decimal)")
		os.Exit(2)
	}

	req := router.Request{
		From:        fromKey,
		To:          toKey,
		Amount:      amt,
		MaxHops:     cfg.MaxHops,
		MaxSlippage: decimal.NewFromFloat(cfg.MaxSlippage),
		AllowSplit:  args.split,
	}
	if args.maxHops > 0 {
		req.MaxHops = args.maxHops
	}
	if args.maxSlippage != "" {
		s, err := decimal.NewFromString(args.maxSlippage)
		if err != nil || s.Sign() <= 0 {
			fmt.Println("invalid -max-slippage")
			os.Exit(2)
		}
		req.MaxSlippage = s
	}

	finder := router.NewFinder(g, memo, router.Config{RouteTTL: cfg.RouteTTL}, logger)
	set, err := finder.FindRoute(ctx, req)
	if err != nil {
		fmt.Println("route search failed:", err)
		os.Exit(1)
	}

	if set.Split {
		fmt.Printf("split route: amount_in=%s amount_out=%s parts=%d\n", set.AmountIn, set.AmountOut, len(set.Routes))
	}
	for i, r := range set.Routes {
		fmt.Printf("[%d] id=%s hops=%d amount_in=%s amount_out=%s impact=%s share=%s%%\n",
			i, r.ID, len(r.Hops), r.AmountIn, r.AmountOut, r.PriceImpact, r.Share)
		for _, h := range r.Hops {
			fmt.Printf("    %s: %s %s -> %s %s (fee=%s impact=%s)\n",
				h.Pool.Name, h.AmountIn, h.TokenIn.Symbol, h.AmountOut, h.TokenOut.Symbol, h.Fee, h.PriceImpact)
		}
	}
}

func runArb(ctx context.Context, cfg *config.Config, g *graph.Graph, memo *cache.Memo, minProfit string, maxCycleLen int, logger *logrus.Logger) {
	params := arb.Params{
		MinProfitUSD: decimal.NewFromFloat(cfg.MinProfitUSD),
		MaxCycleLen:  cfg.MaxCycleLen,
	}
	if minProfit != "" {
		p, err := decimal.NewFromString(minProfit)
		if err != nil || p.Sign() < 0 {
			fmt.Println("invalid -min-profit")
			os.Exit(2)
		}
		params.MinProfitUSD = p
	}
	if maxCycleLen > 0 {
		params.MaxCycleLen = maxCycleLen
	}

	detector := arb.NewDetector(g, memo, arb.Config{
		SeedCount:   cfg.SeedTokens,
		ArbTTL:      cfg.ArbTTL,
		ScanTimeout: cfg.ScanTimeout,
	}, logger)

	cycles, err := detector.Scan(ctx, params)
	if err != nil {
		fmt.Println("arbitrage scan failed:", err)
		os.Exit(1)
	}
	if len(cycles) == 0 {
		fmt.Println("no profitable cycles found")
		return
	}

	for i, c := range cycles {
		fmt.Printf("[%d] id=%s token=%s hops=%d profit=%s profit_usd=%s score=%.4f risk=%.2f confidence=%.2f\n",
			i, c.ID, c.Token, len(c.Hops), c.Profit, c.ProfitUSD, c.Score, c.Risk, c.Confidence)
	}
}

func buildProvider(cfg *config.Config, logger *logrus.Logger) (market.Provider, error) {
	if cfg.StaticPools {
		return market.LoadStaticProvider(cfg.PoolConfigPath)
	}

	rpcClient := rpc.NewClient(rpc.ClientConfig{
		BaseURL:      cfg.RPCUrl,
		Timeout:      cfg.HTTPTimeout,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		Logger:       logger,
	})

	var priceClient *market.PriceClient
	if cfg.PriceAPIURL != "" || cfg.PriceAPIKey != "" {
		priceClient = market.NewPriceClient(cfg.PriceAPIURL, cfg.PriceAPIKey)
	}

	return market.NewChainProvider(market.ChainProviderConfig{
		PoolConfigPath: cfg.PoolConfigPath,
		RPCClient:      rpcClient,
		PriceClient:    priceClient,
		Logger:         logger,
	})
}
