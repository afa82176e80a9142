package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

const txExplorerURL = "https://solscan.io/tx/"

// Solana implements Service against a Solana JSON-RPC endpoint. Every call is
// bounded by the client timeout; a timeout is a failure, never a success.
type Solana struct {
	client  *rpc.Client
	timeout time.Duration
}

func NewSolana(endpoint string) *Solana {
	return &Solana{
		client:  rpc.New(endpoint),
		timeout: 10 * time.Second,
	}
}

func (s *Solana) IsValidAddress(ctx context.Context, address string) bool {
	pub, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	account, err := s.client.GetAccountInfo(ctx, pub)
	if err != nil {
		return false
	}
	return account != nil && account.Value != nil
}

func (s *Solana) Balance(ctx context.Context, signingKey string) (decimal.Decimal, error) {
	key, err := signerFromKey(signingKey)
	if err != nil {
		return decimal.Zero, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.client.GetBalance(ctx, key.PublicKey(), rpc.CommitmentFinalized)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch wallet balance: %w", err)
	}
	return lamportsToSol(out.Value), nil
}

func (s *Solana) Send(ctx context.Context, signingKey, address string, amount decimal.Decimal) (string, error) {
	key, err := signerFromKey(signingKey)
	if err != nil {
		return "", err
	}
	receiver, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return "", ErrInvalidAddress
	}
	if !s.IsValidAddress(ctx, address) {
		return "", ErrInvalidAddress
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	lamports := solToLamports(amount)

	balance, err := s.client.GetBalance(ctx, key.PublicKey(), rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("failed to fetch wallet balance: %w", err)
	}
	if lamports >= balance.Value {
		return "", ErrInsufficientBalance
	}

	recent, err := s.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("failed to fetch blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, key.PublicKey(), receiver).Build(),
		},
		recent.Value.Blockhash,
		solana.TransactionPayer(key.PublicKey()),
	)
	if err != nil {
		return "", fmt.Errorf("failed to build transaction: %w", err)
	}

	_, err = tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(key.PublicKey()) {
			return &key
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := s.client.SendTransaction(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return txExplorerURL + sig.String(), nil
}

func signerFromKey(signingKey string) (solana.PrivateKey, error) {
	if signingKey == "" {
		return nil, ErrNoSigningKey
	}
	key, err := solana.PrivateKeyFromBase58(signingKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSigningKey, err)
	}
	return key, nil
}

func solToLamports(amount decimal.Decimal) uint64 {
	return uint64(amount.Mul(decimal.NewFromInt(int64(solana.LAMPORTS_PER_SOL))).IntPart())
}

func lamportsToSol(lamports uint64) decimal.Decimal {
	return decimal.NewFromInt(int64(lamports)).
		Div(decimal.NewFromInt(int64(solana.LAMPORTS_PER_SOL)))
}
