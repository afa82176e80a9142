// Package wallet talks to the payment network. Callers only see the logical
// operations and a closed set of failure kinds they can match exhaustively.
package wallet

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoSigningKey means no valid payout credential is configured.
	ErrNoSigningKey = errors.New("wallet signing key not configured")
	// ErrInvalidAddress means the receiver address failed validation.
	ErrInvalidAddress = errors.New("invalid receiver address")
	// ErrInsufficientBalance means the payout wallet cannot cover the amount.
	ErrInsufficientBalance = errors.New("not enough balance in payout wallet")
)

// Service is the transfer surface the withdrawal gate consumes.
type Service interface {
	// IsValidAddress reports whether address is a funded account on the network.
	IsValidAddress(ctx context.Context, address string) bool
	// Balance returns the payout wallet balance for the given signing key.
	Balance(ctx context.Context, signingKey string) (decimal.Decimal, error)
	// Send transfers amount to address and returns a transaction reference.
	Send(ctx context.Context, signingKey, address string, amount decimal.Decimal) (string, error)
}
