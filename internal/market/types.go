package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// ErrPriceUnavailable is returned when no USD price is known for a token.
var ErrPriceUnavailable = errors.New("token price unavailable")

// Token is an opaque asset identifier plus display metadata. Immutable once
// discovered.
type Token struct {
	Mint     solana.PublicKey
	Symbol   string
	Decimals uint8
}

// Pool is one liquidity venue between exactly two tokens. Reserves and fees
// are arbitrary-precision decimals; float64 never touches amounts. A pool is
// a directed-capable edge: the A->B and B->A quotes differ because the fee is
// applied to the input side.
type Pool struct {
	Address solana.PublicKey
	Name    string
	TokenA  Token
	TokenB  Token

	// Reserves in human units (raw amount scaled by token decimals).
	ReserveA decimal.Decimal
	ReserveB decimal.Decimal

	// Total value locked in USD, used for ranking and seed selection.
	LiquidityUSD decimal.Decimal

	// FeeRate as a fraction, e.g. 0.003 for 30 bps.
	FeeRate decimal.Decimal

	// BinStep > 0 marks a concentrated-liquidity venue whose price moves in
	// discrete steps of BinStep/10000.
	BinStep uint16

	UpdatedAt time.Time
}

// HasToken reports whether mint is one of the pool's two sides.
func (p *Pool) HasToken(mint solana.PublicKey) bool {
	return p.TokenA.Mint.Equals(mint) || p.TokenB.Mint.Equals(mint)
}

// Other returns the opposite side of the pool for the given mint.
func (p *Pool) Other(mint solana.PublicKey) (Token, error) {
	switch {
	case p.TokenA.Mint.Equals(mint):
		return p.TokenB, nil
	case p.TokenB.Mint.Equals(mint):
		return p.TokenA, nil
	default:
		return Token{}, fmt.Errorf("mint %s does not match pool %s", mint, p.Name)
	}
}

// Provider supplies current pool reserves, liquidity and token prices.
// Failures are transient by contract: callers degrade to stale data rather
// than blocking.
type Provider interface {
	ListPools(ctx context.Context) ([]Pool, error)
	GetPool(ctx context.Context, address solana.PublicKey) (*Pool, error)
	GetTokenPriceUSD(ctx context.Context, mint solana.PublicKey) (decimal.Decimal, error)
}
