package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// RPC settings
	RPCUrl       string
	HTTPTimeout  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration

	// Market data
	PoolConfigPath string
	StaticPools    bool // serve registry reserves without touching the chain
	PriceAPIURL    string
	PriceAPIKey    string

	// Route finder
	RouteTTL    time.Duration
	MaxHops     int
	MaxSlippage float64 // fraction, e.g. 0.05 = 5%

	// Arbitrage detector
	ArbTTL       time.Duration
	ScanInterval time.Duration
	ScanTimeout  time.Duration
	MinProfitUSD float64
	MaxCycleLen  int
	SeedTokens   int

	// Executor
	WalletPrivateKey string
	RouterProgramID  string
	PriorityFeeRoute uint64 // micro-lamports per compute unit
	PriorityFeeArb   uint64

	// Redis settings
	RedisAddr string

	// ClickHouse settings
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUsername string
	ClickHousePassword string

	// API server
	APIAddr string
	APIKey  string
	DevMode bool
}

func Load() *Config {
	return &Config{
		// RPC
		RPCUrl:       getEnv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
		HTTPTimeout:  getDurationEnv("HTTP_TIMEOUT", 30*time.Second),
		MaxRetries:   getIntEnv("MAX_RETRIES", 5),
		RetryBackoff: getDurationEnv("RETRY_BACKOFF", 2*time.Second),

		// Market data
		PoolConfigPath: getEnv("POOL_CONFIG_PATH", "internal/config/pools.json"),
		StaticPools:    getBoolEnv("STATIC_POOLS", false),
		PriceAPIURL:    getEnv("PRICE_API_URL", ""),
		PriceAPIKey:    getEnv("PRICE_API_KEY", ""),

		// Route finder
		RouteTTL:    getDurationEnv("ROUTE_CACHE_TTL", 30*time.Second),
		MaxHops:     getIntEnv("MAX_HOPS", 4),
		MaxSlippage: getFloatEnv("MAX_SLIPPAGE", 0.05),

		// Arbitrage detector
		ArbTTL:       getDurationEnv("ARB_CACHE_TTL", 3*time.Second),
		ScanInterval: getDurationEnv("SCAN_INTERVAL", 10*time.Second),
		ScanTimeout:  getDurationEnv("SCAN_TIMEOUT", 5*time.Second),
		MinProfitUSD: getFloatEnv("MIN_PROFIT_USD", 1.0),
		MaxCycleLen:  getIntEnv("MAX_CYCLE_LEN", 4),
		SeedTokens:   getIntEnv("SEED_TOKENS", 5),

		// Executor
		WalletPrivateKey: getEnv("WALLET_PRIVATE_KEY", ""),
		RouterProgramID:  getEnv("ROUTER_PROGRAM_ID", ""),
		PriorityFeeRoute: getUint64Env("PRIORITY_FEE_ROUTE", 1_000),
		PriorityFeeArb:   getUint64Env("PRIORITY_FEE_ARB", 10_000),

		// Redis
		RedisAddr: getEnv("REDIS_ADDR", ""),

		// ClickHouse
		ClickHouseAddr:     getEnv("CLICKHOUSE_ADDR", ""),
		ClickHouseDatabase: getEnv("CLICKHOUSE_DATABASE", "routing"),
		ClickHouseUsername: getEnv("CLICKHOUSE_USERNAME", "default"),
		ClickHousePassword: getEnv("CLICKHOUSE_PASSWORD", ""),

		// API
		APIAddr: getEnv("API_ADDR", ":8090"),
		APIKey:  getEnv("API_KEY", ""),
		DevMode: getBoolEnv("DEV_MODE", false),
	}
}

func (c *Config) Validate() error {
	if c.MaxHops < 1 {
		return fmt.Errorf("MAX_HOPS must be >= 1, got %d", c.MaxHops)
	}
	if c.MaxCycleLen < 2 {
		return fmt.Errorf("MAX_CYCLE_LEN must be >= 2, got %d", c.MaxCycleLen)
	}
	if c.MaxSlippage <= 0 || c.MaxSlippage >= 1 {
		return fmt.Errorf("MAX_SLIPPAGE must be in (0,1), got %f", c.MaxSlippage)
	}
	if c.ArbTTL > c.RouteTTL {
		return fmt.Errorf("ARB_CACHE_TTL (%s) must not exceed ROUTE_CACHE_TTL (%s)", c.ArbTTL, c.RouteTTL)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getUint64Env(key string, defaultVal uint64) uint64 {
	if val := os.Getenv(key); val != "" {
		if u, err := strconv.ParseUint(val, 10, 64); err == nil {
			return u
		}
	}
	return defaultVal
}

func getFloatEnv(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
