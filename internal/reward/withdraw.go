package reward

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"referral-bot/internal/models"
	"referral-bot/internal/policy"
	"referral-bot/internal/wallet"
)

// Eligibility failures, in check order. Each maps to a distinct user-facing
// reason and is never retried automatically.
var (
	ErrWithdrawDisabled     = errors.New("withdraw is currently disabled")
	ErrInvalidWalletAddress = errors.New("wallet address is not valid")
	ErrNotEnoughReferrals   = errors.New("not enough referrals to withdraw")
	ErrBelowMinimumAmount   = errors.New("balance is below the minimum withdraw amount")
	ErrNothingToWithdraw    = errors.New("balance is zero")
)

// GateUsers is the write-through cache the gate settles claims through.
type GateUsers interface {
	Update(ctx context.Context, id int64, fields map[string]interface{}) error
}

// GateStore reads users straight from the durable store. The payout decision
// never acts on a cached snapshot: a settlement that bypassed the cache must
// be visible here immediately, not after a TTL.
type GateStore interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// ReferralCounter provides the fresh joined-children count for the
// minimum-referrals check.
type ReferralCounter interface {
	ReferralCount(ctx context.Context, id int64) (int64, error)
}

// Receipt is returned after a successful payout.
type Receipt struct {
	Amount decimal.Decimal
	TxURL  string
}

// Gate validates withdrawal eligibility and drives the external transfer.
// The whole validate-transfer-settle sequence runs under a per-user lock so
// two concurrent requests can never race past the balance check.
type Gate struct {
	users     GateUsers
	store     GateStore
	referrals ReferralCounter
	policy    *policy.Policy
	wallet    wallet.Service
	log       *zap.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewGate(users GateUsers, store GateStore, referrals ReferralCounter, pol *policy.Policy,
	svc wallet.Service, log *zap.Logger) *Gate {
	return &Gate{
		users:     users,
		store:     store,
		referrals: referrals,
		policy:    pol,
		wallet:    svc,
		log:       log,
		locks:     make(map[int64]*sync.Mutex),
	}
}

// Withdraw pays out the user's full balance. The ledger is only mutated after
// the external transfer confirmed; every failure leaves claimed untouched.
func (g *Gate) Withdraw(ctx context.Context, userID int64) (*Receipt, error) {
	lock := g.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	pol := g.policy.Snapshot()
	if !pol.WithdrawEnabled {
		return nil, ErrWithdrawDisabled
	}

	user, err := g.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %d not found", userID)
	}

	if user.Wallet == "" || !g.wallet.IsValidAddress(ctx, user.Wallet) {
		return nil, ErrInvalidWalletAddress
	}

	referrals, err := g.referrals.ReferralCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if referrals < int64(pol.MinReferrals) {
		return nil, ErrNotEnoughReferrals
	}

	balance := Balance(user)
	if balance.LessThan(pol.MinRewardAmount) {
		return nil, ErrBelowMinimumAmount
	}
	if !balance.IsPositive() {
		return nil, ErrNothingToWithdraw
	}

	txURL, err := g.wallet.Send(ctx, pol.SigningKey, user.Wallet, balance)
	if err != nil {
		return nil, err
	}

	// Full settlement of what was owed at send time.
	if err := g.users.Update(ctx, userID, map[string]interface{}{"claimed": user.Reward}); err != nil {
		// The transfer went through; the books are behind. Operator attention
		// required, but the user was paid.
		g.log.Error("failed to settle claim after confirmed transfer",
			zap.Int64("user_id", userID),
			zap.String("tx", txURL),
			zap.Error(err))
	}

	return &Receipt{Amount: balance, TxURL: txURL}, nil
}

func (g *Gate) userLock(userID int64) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		g.locks[userID] = lock
	}
	return lock
}
