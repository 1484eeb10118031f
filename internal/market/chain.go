package market

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/UmutKorkmaz/solana-route-engine/internal/rpc"
)

// ChainProvider serves the static pool registry with reserves refreshed from
// vault balances on-chain and prices from the price API. The registry file
// supplies addressing (which pools exist, their vaults); the chain supplies
// the numbers.
type ChainProvider struct {
	registry *StaticProvider
	vaults   map[solana.PublicKey][2]solana.PublicKey // pool address -> vault A, vault B
	rpc      *rpc.Client
	prices   *PriceClient
	logger   *logrus.Logger
}

// ChainProviderConfig wires the provider's collaborators.
type ChainProviderConfig struct {
	PoolConfigPath string
	RPCClient      *rpc.Client
	PriceClient    *PriceClient
	Logger         *logrus.Logger
}

func NewChainProvider(cfg ChainProviderConfig) (*ChainProvider, error) {
	if cfg.RPCClient == nil {
		return nil, fmt.Errorf("rpc client is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	registry, err := LoadStaticProvider(cfg.PoolConfigPath)
	if err != nil {
		return nil, err
	}

	// Vault addresses come from the same registry file.
	configs, err := readPoolConfigs(cfg.PoolConfigPath)
	if err != nil {
		return nil, err
	}
	vaults := make(map[solana.PublicKey][2]solana.PublicKey, len(configs))
	for _, c := range configs {
		if c.VaultA == "" || c.VaultB == "" {
			continue
		}
		addr := solana.MustPublicKeyFromBase58(c.Address)
		vaults[addr] = [2]solana.PublicKey{
			solana.MustPublicKeyFromBase58(c.VaultA),
			solana.MustPublicKeyFromBase58(c.VaultB),
		}
	}

	return &ChainProvider{
		registry: registry,
		vaults:   vaults,
		rpc:      cfg.RPCClient,
		prices:   cfg.PriceClient,
		logger:   cfg.Logger,
	}, nil
}

func (p *ChainProvider) ListPools(ctx context.Context) ([]Pool, error) {
	pools, err := p.registry.ListPools(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Pool, 0, len(pools))
	for _, pool := range pools {
		refreshed, err := p.refreshReserves(ctx, pool)
		if err != nil {
			return nil, fmt.Errorf("refresh pool %s: %w", pool.Name, err)
		}
		out = append(out, refreshed)
	}
	return out, nil
}

func (p *ChainProvider) GetPool(ctx context.Context, address solana.PublicKey) (*Pool, error) {
	pool, err := p.registry.GetPool(ctx, address)
	if err != nil {
		return nil, err
	}
	refreshed, err := p.refreshReserves(ctx, *pool)
	if err != nil {
		return nil, err
	}
	return &refreshed, nil
}

func (p *ChainProvider) GetTokenPriceUSD(ctx context.Context, mint solana.PublicKey) (decimal.Decimal, error) {
	if p.prices == nil {
		return p.registry.GetTokenPriceUSD(ctx, mint)
	}
	price, err := p.prices.PriceUSD(ctx, mint.String())
	if err != nil {
		// Fall back to the registry's last configured price rather than
		// failing the whole refresh.
		if fallback, ferr := p.registry.GetTokenPriceUSD(ctx, mint); ferr == nil {
			return fallback, nil
		}
		return decimal.Zero, err
	}
	return price, nil
}

func (p *ChainProvider) refreshReserves(ctx context.Context, pool Pool) (Pool, error) {
	vaults, ok := p.vaults[pool.Address]
	if !ok {
		// No vault accounts configured; serve registry reserves as-is.
		return pool, nil
	}

	reserveA, err := p.fetchReserve(ctx, vaults[0], pool.TokenA.Decimals)
	if err != nil {
		return Pool{}, fmt.Errorf("vault A: %w", err)
	}
	reserveB, err := p.fetchReserve(ctx, vaults[1], pool.TokenB.Decimals)
	if err != nil {
		return Pool{}, fmt.Errorf("vault B: %w", err)
	}

	pool.ReserveA = reserveA
	pool.ReserveB = reserveB
	pool.UpdatedAt = time.Now()
	return pool, nil
}

func (p *ChainProvider) fetchReserve(ctx context.Context, vault solana.PublicKey, decimals uint8) (decimal.Decimal, error) {
	raw, onChainDecimals, err := p.rpc.GetTokenAccountBalance(ctx, vault.String())
	if err != nil {
		return decimal.Zero, err
	}
	if onChainDecimals != decimals {
		p.logger.WithFields(logrus.Fields{
			"vault":      vault.String(),
			"configured": decimals,
			"on_chain":   onChainDecimals,
		}).Warn("token decimals mismatch, using on-chain value")
		decimals = onChainDecimals
	}

	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid vault balance %q: %w", raw, err)
	}
	return amount.Shift(-int32(decimals)), nil
}

func readPoolConfigs(path string) ([]PoolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pool config: %w", err)
	}
	var configs []PoolConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}
	return configs, nil
}
