// Package reward tracks accrued and claimed rewards and gates withdrawal.
package reward

import (
	"context"

	"github.com/shopspring/decimal"

	"referral-bot/internal/models"
)

// Rewards are rounded to the payout currency granularity.
const precision = 4

// Balance is the withdrawable amount: accrued reward minus what was already
// paid out. Clamped at zero so a stale claimed value never reads as debt.
func Balance(user *models.User) decimal.Decimal {
	balance := decimal.NewFromFloat(user.Reward).
		Sub(decimal.NewFromFloat(user.Claimed)).
		Round(precision)
	if balance.IsNegative() {
		return decimal.Zero
	}
	return balance
}

// LedgerStore is the slice of the store the ledger mutates.
type LedgerStore interface {
	IncrementReward(ctx context.Context, id int64, amount float64) (bool, error)
	SettleAllRewards(ctx context.Context) error
}

// LedgerCache is flushed after bulk settlement so cached snapshots cannot
// keep serving the pre-settlement balances.
type LedgerCache interface {
	Flush()
}

// Ledger exposes the explicit admin adjustments; regular accrual happens in
// the join attribution transition.
type Ledger struct {
	store LedgerStore
	cache LedgerCache
}

func NewLedger(store LedgerStore, cache LedgerCache) *Ledger {
	return &Ledger{store: store, cache: cache}
}

// Adjust adds amount to a user's accrued reward. Returns false when the user
// does not exist.
func (l *Ledger) Adjust(ctx context.Context, id int64, amount decimal.Decimal) (bool, error) {
	return l.store.IncrementReward(ctx, id, amount.Round(precision).InexactFloat64())
}

// SettleAll marks every outstanding reward as claimed.
func (l *Ledger) SettleAll(ctx context.Context) error {
	if err := l.store.SettleAllRewards(ctx); err != nil {
		return err
	}
	l.cache.Flush()
	return nil
}
