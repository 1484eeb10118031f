package market

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// PoolConfig is a pool entry in the JSON registry file.
type PoolConfig struct {
	Name          string `json:"name"`
	Address       string `json:"address"`
	TokenAMint    string `json:"token_a_mint"`
	TokenASymbol  string `json:"token_a_symbol"`
	TokenADec     uint8  `json:"token_a_decimals"`
	TokenBMint    string `json:"token_b_mint"`
	TokenBSymbol  string `json:"token_b_symbol"`
	TokenBDec     uint8  `json:"token_b_decimals"`
	ReserveA      string `json:"reserve_a"`
	ReserveB      string `json:"reserve_b"`
	LiquidityUSD  string `json:"liquidity_usd"`
	FeeRate       string `json:"fee_rate"`
	BinStep       uint16 `json:"bin_step,omitempty"`
	PriceAUSD     string `json:"price_a_usd,omitempty"`
	PriceBUSD     string `json:"price_b_usd,omitempty"`
	VaultA        string `json:"vault_a,omitempty"`
	VaultB        string `json:"vault_b,omitempty"`
}

// StaticProvider serves pools and prices from memory. It backs the CLI when
// pointed at a JSON registry file, and tests, which mutate it between
// refreshes to model moving markets.
type StaticProvider struct {
	mu     sync.RWMutex
	pools  map[solana.PublicKey]Pool
	prices map[solana.PublicKey]decimal.Decimal
	err    error // when set, all calls fail with it
}

// NewStaticProvider creates a provider over the given pools and USD prices.
func NewStaticProvider(pools []Pool, prices map[solana.PublicKey]decimal.Decimal) *StaticProvider {
	p := &StaticProvider{
		pools:  make(map[solana.PublicKey]Pool, len(pools)),
		prices: make(map[solana.PublicKey]decimal.Decimal, len(prices)),
	}
	for _, pool := range pools {
		p.pools[pool.Address] = pool
	}
	for mint, price := range prices {
		p.prices[mint] = price
	}
	return p
}

// LoadStaticProvider reads a JSON registry file.
func LoadStaticProvider(path string) (*StaticProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pool config: %w", err)
	}

	var configs []PoolConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	pools := make([]Pool, 0, len(configs))
	prices := make(map[solana.PublicKey]decimal.Decimal)
	for i, cfg := range configs {
		pool, err := parsePoolConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("pool %d (%s): %w", i, cfg.Name, err)
		}
		pools = append(pools, pool)

		if cfg.PriceAUSD != "" {
			price, err := decimal.NewFromString(cfg.PriceAUSD)
			if err != nil {
				return nil, fmt.Errorf("pool %d (%s): invalid price_a_usd: %w", i, cfg.Name, err)
			}
			prices[pool.TokenA.Mint] = price
		}
		if cfg.PriceBUSD != "" {
			price, err := decimal.NewFromString(cfg.PriceBUSD)
			if err != nil {
				return nil, fmt.Errorf("pool %d (%s): invalid price_b_usd: %w", i, cfg.Name, err)
			}
			prices[pool.TokenB.Mint] = price
		}
	}

	return NewStaticProvider(pools, prices), nil
}

func parsePoolConfig(cfg PoolConfig) (Pool, error) {
	reserveA, err := decimal.NewFromString(cfg.ReserveA)
	if err != nil {
		return Pool{}, fmt.Errorf("invalid reserve_a: %w", err)
	}
	reserveB, err := decimal.NewFromString(cfg.ReserveB)
	if err != nil {
		return Pool{}, fmt.Errorf("invalid reserve_b: %w", err)
	}
	liquidity, err := decimal.NewFromString(cfg.LiquidityUSD)
	if err != nil {
		return Pool{}, fmt.Errorf("invalid liquidity_usd: %w", err)
	}
	feeRate, err := decimal.NewFromString(cfg.FeeRate)
	if err != nil {
		return Pool{}, fmt.Errorf("invalid fee_rate: %w", err)
	}
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Pool{}, fmt.Errorf("fee_rate must be in [0,1), got %s", feeRate)
	}

	return Pool{
		Address: solana.MustPublicKeyFromBase58(cfg.Address),
		Name:    cfg.Name,
		TokenA: Token{
			Mint:     solana.MustPublicKeyFromBase58(cfg.TokenAMint),
			Symbol:   cfg.TokenASymbol,
			Decimals: cfg.TokenADec,
		},
		TokenB: Token{
			Mint:     solana.MustPublicKeyFromBase58(cfg.TokenBMint),
			Symbol:   cfg.TokenBSymbol,
			Decimals: cfg.TokenBDec,
		},
		ReserveA:     reserveA,
		ReserveB:     reserveB,
		LiquidityUSD: liquidity,
		FeeRate:      feeRate,
		BinStep:      cfg.BinStep,
		UpdatedAt:    time.Now(),
	}, nil
}

func (p *StaticProvider) ListPools(ctx context.Context) ([]Pool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.err != nil {
		return nil, p.err
	}

	out := make([]Pool, 0, len(p.pools))
	for _, pool := range p.pools {
		out = append(out, pool)
	}
	return out, nil
}

func (p *StaticProvider) GetPool(ctx context.Context, address solana.PublicKey) (*Pool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.err != nil {
		return nil, p.err
	}

	pool, ok := p.pools[address]
	if !ok {
		return nil, fmt.Errorf("pool not found: %s", address)
	}
	return &pool, nil
}

func (p *StaticProvider) GetTokenPriceUSD(ctx context.Context, mint solana.PublicKey) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.err != nil {
		return decimal.Zero, p.err
	}

	price, ok := p.prices[mint]
	if !ok {
		return decimal.Zero, ErrPriceUnavailable
	}
	return price, nil
}

// SetPool inserts or replaces a pool; used to model moving liquidity.
func (p *StaticProvider) SetPool(pool Pool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pools[pool.Address] = pool
}

// RemovePool deletes a pool from the registry.
func (p *StaticProvider) RemovePool(address solana.PublicKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pools, address)
}

// SetPriceUSD sets the USD price for a mint.
func (p *StaticProvider) SetPriceUSD(mint solana.PublicKey, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[mint] = price
}

// Fail makes every subsequent call return err; Fail(nil) restores service.
func (p *StaticProvider) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}
