package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/UmutKorkmaz/solana-route-engine/internal/arb"
	"github.com/UmutKorkmaz/solana-route-engine/internal/cache"
	"github.com/UmutKorkmaz/solana-route-engine/internal/config"
	"github.com/UmutKorkmaz/solana-route-engine/internal/executor"
	"github.com/UmutKorkmaz/solana-route-engine/internal/flags"
	"github.com/UmutKorkmaz/solana-route-engine/internal/graph"
	"github.com/UmutKorkmaz/solana-route-engine/internal/market"
	"github.com/UmutKorkmaz/solana-route-engine/internal/monitor"
	"github.com/UmutKorkmaz/solana-route-engine/internal/router"
	"github.com/UmutKorkmaz/solana-route-engine/internal/rpc"
	"github.com/UmutKorkmaz/solana-route-engine/internal/server"
	"github.com/UmutKorkmaz/solana-route-engine/internal/wallet"
)

// env bootstrap function
func loadEnv(logger *logrus.Logger) {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "../..")
	envPath := filepath.Join(projectRoot, ".env")

	if err := godotenv.Load(envPath); err != nil {
		logger.Warnf("no .env file found at %s, using system environment variables", envPath)
	} else {
		logger.Infof("loaded .env from %s", envPath)
	}
}

// main is the entry point for the API server. It wires the pool graph, route
// finder, arbitrage detector and (optionally) the executor, then serves HTTP
// with graceful shutdown while the scanner runs in the background.
func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logger.SetLevel(logrus.InfoLevel)

	// load .env BEFORE anything reads os.Getenv
	loadEnv(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	provider, err := buildProvider(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to build market data provider")
	}

	g := graph.NewGraph(provider, logger)
	if err := g.Refresh(ctx); err != nil {
		// Keep starting; the scanner retries every interval.
		logger.WithError(err).Warn("initial graph refresh failed")
	}

	memo := cache.NewMemo()
	finder := router.NewFinder(g, memo, router.Config{RouteTTL: cfg.RouteTTL}, logger)
	detector := arb.NewDetector(g, memo, arb.Config{
		SeedCount:   cfg.SeedTokens,
		ArbTTL:      cfg.ArbTTL,
		ScanTimeout: cfg.ScanTimeout,
	}, logger)

	// Redis is optional: without it there is no kill switch, no live feed
	// and no recent-executions endpoint, but routing still works.
	var redisCache *cache.RedisCache
	var flagStore *flags.Store
	if cfg.RedisAddr != "" {
		rclient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: 0})
		if err := rclient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Fatal("failed to connect to Redis")
		}
		redisCache = cache.NewRedisCacheFromClient(rclient, logger)
		flagStore, err = flags.NewStore(rclient)
		if err != nil {
			logger.WithError(err).Fatal("failed to create switch store")
		}
	}

	var chStore *cache.ClickHouseStore
	if cfg.ClickHouseAddr != "" {
		chStore, err = cache.NewClickHouseStore(ctx, cache.ClickHouseConfig{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
		})
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to ClickHouse")
		}
		defer chStore.Close()
	}

	exec, err := buildExecutor(cfg, finder, detector, flagStore, redisCache, chStore, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to build executor")
	}

	minProfit := decimal.NewFromFloat(cfg.MinProfitUSD)

	h := &server.Handlers{
		Graph:    g,
		Finder:   finder,
		Detector: detector,
		Exec:     exec,
		Flags:    flagStore,
		Cache:    redisCache,
		Pending:  cache.NewMemo(),
		Defaults: server.Defaults{
			MaxHops:      cfg.MaxHops,
			MaxSlippage:  decimal.NewFromFloat(cfg.MaxSlippage),
			MinProfitUSD: minProfit,
			MaxCycleLen:  cfg.MaxCycleLen,
			RouteTTL:     cfg.RouteTTL,
			ArbTTL:       cfg.ArbTTL,
		},
		DevMode: cfg.DevMode,
		Logger:  logger,
	}

	srv, err := server.NewServer(server.ServerDeps{
		Handlers: h,
		Config: server.ServerConfig{
			Addr:    cfg.APIAddr,
			DevMode: cfg.DevMode,
			APIKey:  cfg.APIKey,
		},
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to create http server")
	}

	scanner := monitor.NewScanner(monitor.ScannerConfig{
		Graph:        g,
		Detector:     detector,
		Cache:        redisCache,
		Memo:         memo,
		Logger:       logger,
		ScanInterval: cfg.ScanInterval,
		MinProfitUSD: minProfit,
		MaxCycleLen:  cfg.MaxCycleLen,
	})
	go func() {
		if err := scanner.Start(ctx); err != nil && err != context.Canceled {
			logger.WithError(err).Error("scanner stopped")
		}
	}()

	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
		_ = srv.Shutdown(context.Background())
	}()

	logger.WithField("addr", cfg.APIAddr).Info("api server starting")
	if err := srv.Start(); err != nil {
		// "http: Server closed" is expected during graceful shutdown
		if err.Error() == "http: Server closed" {
			return
		}
		logger.WithError(err).Fatal("http server failed")
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

// buildExecutor returns nil when no wallet is configured; the API then
// serves read-only routing and detection.
func buildExecutor(cfg *config.Config, finder *router.Finder, detector *arb.Detector,
	flagStore *flags.Store, redisCache *cache.RedisCache, chStore *cache.ClickHouseStore,
	logger *logrus.Logger) (*executor.Executor, error) {

	if cfg.WalletPrivateKey == "" || cfg.RouterProgramID == "" {
		logger.Info("wallet not configured, execution disabled")
		return nil, nil
	}

	routerProgram, err := solana.PublicKeyFromBase58(cfg.RouterProgramID)
	if err != nil {
		return nil, err
	}

	w, err := wallet.NewWallet(wallet.WalletConfig{
		RPCURL:       cfg.RPCUrl,
		Timeout:      cfg.HTTPTimeout,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		PrivateKey:   cfg.WalletPrivateKey,
	})
	if err != nil {
		return nil, err
	}

	submitter := wallet.NewSubmitter(w, routerProgram)
	exec := executor.New(submitter, finder, detector, executor.Config{
		Retry:            executor.DefaultRetryPolicy(),
		PriorityFeeRoute: cfg.PriorityFeeRoute,
		PriorityFeeArb:   cfg.PriorityFeeArb,
	}, logger)

	if flagStore != nil {
		exec = exec.WithSwitch(flagStore)
	}
	exec = exec.WithRecorders(redisCache, chStore)

	logger.WithField("wallet", w.Address()).Info("executor enabled")
	return exec, nil
}
