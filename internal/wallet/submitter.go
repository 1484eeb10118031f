package wallet

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/UmutKorkmaz/solana-route-engine/internal/executor"
)

var computeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

// Submitter builds route and arbitrage transactions for the on-chain router
// program and drives them through the wallet. It implements
// executor.Submitter.
type Submitter struct {
	wallet         *Wallet
	routerProgram  solana.PublicKey
	confirmTimeout time.Duration
}

func NewSubmitter(w *Wallet, routerProgram solana.PublicKey) *Submitter {
	return &Submitter{
		wallet:         w,
		routerProgram:  routerProgram,
		confirmTimeout: 60 * time.Second,
	}
}

// Build encodes the hop sequence into one router-program instruction,
// prefixed by a compute-unit price instruction when a priority fee is set,
// and signs the result.
func (s *Submitter) Build(ctx context.Context, p executor.Payload) (*solana.Transaction, error) {
	if len(p.Hops) == 0 {
		return nil, fmt.Errorf("payload has no hops")
	}

	var instructions []solana.Instruction
	if p.PriorityFee > 0 {
		instructions = append(instructions, setComputeUnitPrice(p.PriorityFee))
	}

	swapIx, err := s.buildRouteInstruction(p)
	if err != nil {
		return nil, err
	}
	instructions = append(instructions, swapIx)

	tx, err := s.wallet.BuildTransaction(ctx, instructions)
	if err != nil {
		return nil, err
	}
	if err := s.wallet.SignTx(tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Submitter) Simulate(ctx context.Context, tx *solana.Transaction) error {
	_, err := s.wallet.SimulateTransaction(ctx, tx)
	return err
}

func (s *Submitter) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sigStr, err := s.wallet.SendTx(ctx, tx)
	if err != nil {
		return solana.Signature{}, classifySubmitError(err)
	}

	sig, err := solana.SignatureFromBase58(sigStr)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("invalid signature from node: %w", err)
	}
	return sig, nil
}

func (s *Submitter) Confirm(ctx context.Context, sig solana.Signature) error {
	return s.wallet.ConfirmTransaction(ctx, sig.String(), s.confirmTimeout)
}

// buildRouteInstruction lays out the router program's swap instruction.
//
// Accounts:
//
//	0. payer (signer, writable)
//	1..n. one pool account per hop (writable)
//
// Data:
//
//	[0]     discriminator (1 = route, 2 = arbitrage)
//	[1]     hop count (u8)
//	[2:10]  amount_in (u64, little-endian, raw units of the input token)
//	[10:18] minimum_amount_out (u64, little-endian, raw units of the output token)
func (s *Submitter) buildRouteInstruction(p executor.Payload) (solana.Instruction, error) {
	accounts := []*solana.AccountMeta{
		{PublicKey: s.wallet.PublicKey(), IsWritable: true, IsSigner: true},
	}
	for _, hop := range p.Hops {
		accounts = append(accounts, &solana.AccountMeta{
			PublicKey:  hop.Pool.Address,
			IsWritable: true,
			IsSigner:   false,
		})
	}

	amountIn, err := toRawAmount(p.AmountIn, p.Hops[0].TokenIn.Decimals)
	if err != nil {
		return nil, fmt.Errorf("amount in: %w", err)
	}
	minOut, err := toRawAmount(p.MinAmountOut, p.Hops[len(p.Hops)-1].TokenOut.Decimals)
	if err != nil {
		return nil, fmt.Errorf("minimum out: %w", err)
	}

	discriminator := byte(1)
	if p.Kind == "arbitrage" {
		discriminator = 2
	}

	data := make([]byte, 18)
	data[0] = discriminator
	data[1] = byte(len(p.Hops))
	binary.LittleEndian.PutUint64(data[2:10], amountIn)
	binary.LittleEndian.PutUint64(data[10:18], minOut)

	return solana.NewInstruction(s.routerProgram, accounts, data), nil
}

// setComputeUnitPrice encodes the ComputeBudget SetComputeUnitPrice
// instruction: discriminator 3 followed by micro-lamports per unit (u64 LE).
func setComputeUnitPrice(microLamports uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:9], microLamports)
	return solana.NewInstruction(computeBudgetProgramID, []*solana.AccountMeta{}, data)
}

// toRawAmount converts a UI amount to the token's raw integer units.
func toRawAmount(amount decimal.Decimal, decimals uint8) (uint64, error) {
	shifted := amount.Shift(int32(decimals)).Truncate(0)
	if shifted.Sign() < 0 {
		return 0, fmt.Errorf("negative amount %s", amount)
	}
	if !shifted.BigInt().IsUint64() {
		return 0, fmt.Errorf("amount %s overflows u64 at %d decimals", amount, decimals)
	}
	return shifted.BigInt().Uint64(), nil
}

// classifySubmitError decides whether a send failure is worth retrying.
// Rate limits, timeouts and expired blockhashes resolve themselves; balance
// and signature problems never do.
func classifySubmitError(err error) error {
	msg := strings.ToLower(err.Error())

	permanent := []string{
		"insufficient funds",
		"insufficient lamports",
		"signature verification",
		"invalid signature",
		"account not found",
	}
	for _, p := range permanent {
		if strings.Contains(msg, p) {
			return &executor.SubmissionError{Reason: err.Error(), Transient: false}
		}
	}

	return &executor.SubmissionError{Reason: err.Error(), Transient: true}
}

var _ executor.Submitter = (*Submitter)(nil)
