package market

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryJSON = `[
  {
    "name": "SOL/USDC",
    "address": "58oQChx4yWmvKdwLLZzBi4ChoCc2fqCUWBkwMihLYQo2",
    "token_a_mint": "So11111111111111111111111111111111111111112",
    "token_a_symbol": "SOL",
    "token_a_decimals": 9,
    "token_b_mint": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
    "token_b_symbol": "USDC",
    "token_b_decimals": 6,
    "reserve_a": "12000",
    "reserve_b": "1800000",
    "liquidity_usd": "3600000",
    "fee_rate": "0.0025",
    "bin_step": 10,
    "price_a_usd": "150",
    "price_b_usd": "1"
  }
]`

func writeRegistry(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pools.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadStaticProvider(t *testing.T) {
	provider, err := LoadStaticProvider(writeRegistry(t, registryJSON))
	require.NoError(t, err)

	ctx := context.Background()
	pools, err := provider.ListPools(ctx)
	require.NoError(t, err)
	require.Len(t, pools, 1)

	p := pools[0]
	assert.Equal(t, "SOL/USDC", p.Name)
	assert.Equal(t, "SOL", p.TokenA.Symbol)
	assert.Equal(t, uint8(9), p.TokenA.Decimals)
	assert.Equal(t, uint16(10), p.BinStep)
	assert.True(t, p.ReserveA.Equal(decimal.NewFromInt(12000)))
	assert.True(t, p.FeeRate.Equal(decimal.RequireFromString("0.0025")))

	price, err := provider.GetTokenPriceUSD(ctx, p.TokenA.Mint)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(150)))

	got, err := provider.GetPool(ctx, p.Address)
	require.NoError(t, err)
	assert.Equal(t, p.Address, got.Address)
}

func TestLoadStaticProvider_InvalidFeeRate(t *testing.T) {
	for _, fee := range []string{"1", "1.5", "-0.01"} {
		body := fmt.Sprintf(`[
  {
    "name": "SOL/USDC",
    "address": "58oQChx4yWmvKdwLLZzBi4ChoCc2fqCUWBkwMihLYQo2",
    "token_a_mint": "So11111111111111111111111111111111111111112",
    "token_a_symbol": "SOL",
    "token_a_decimals": 9,
    "token_b_mint": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
    "token_b_symbol": "USDC",
    "token_b_decimals": 6,
    "reserve_a": "1",
    "reserve_b": "1",
    "liquidity_usd": "1",
    "fee_rate": "%s"
  }
]`, fee)

		_, err := LoadStaticProvider(writeRegistry(t, body))
		require.Error(t, err, "fee_rate %s must be rejected", fee)
		assert.Contains(t, err.Error(), "fee_rate")
	}
}

func TestLoadStaticProvider_BadFile(t *testing.T) {
	_, err := LoadStaticProvider(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = LoadStaticProvider(writeRegistry(t, "{not json"))
	assert.Error(t, err)
}

func TestStaticProvider_UnknownPoolAndPrice(t *testing.T) {
	provider := NewStaticProvider(nil, nil)
	ctx := context.Background()

	_, err := provider.GetPool(ctx, solana.NewWallet().PublicKey())
	assert.Error(t, err)

	_, err = provider.GetTokenPriceUSD(ctx, solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestStaticProvider_Fail(t *testing.T) {
	provider, err := LoadStaticProvider(writeRegistry(t, registryJSON))
	require.NoError(t, err)

	ctx := context.Background()
	boom := fmt.Errorf("rpc connection refused")
	provider.Fail(boom)

	_, err = provider.ListPools(ctx)
	assert.ErrorIs(t, err, boom)

	provider.Fail(nil)
	_, err = provider.ListPools(ctx)
	assert.NoError(t, err)
}
