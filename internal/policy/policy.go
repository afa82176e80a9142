// Package policy holds the runtime reward policy. Values live only for the
// process lifetime and change through the admin command surface.
package policy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrNegativeCount  = errors.New("count must not be negative")
)

// Snapshot is a consistent read of every policy knob.
type Snapshot struct {
	SigningKey      string
	RewardAmount    decimal.Decimal
	WithdrawEnabled bool
	MinReferrals    int
	MinRewardAmount decimal.Decimal
}

// Policy is the mutable process-wide reward policy. All setters validate their
// input; reads go through Snapshot.
type Policy struct {
	mu sync.RWMutex

	signingKey      string
	rewardAmount    decimal.Decimal
	withdrawEnabled bool
	minReferrals    int
	minRewardAmount decimal.Decimal
}

func New() *Policy {
	return &Policy{}
}

func (p *Policy) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{
		SigningKey:      p.signingKey,
		RewardAmount:    p.rewardAmount,
		WithdrawEnabled: p.withdrawEnabled,
		MinReferrals:    p.minReferrals,
		MinRewardAmount: p.minRewardAmount,
	}
}

func (p *Policy) SetSigningKey(key string) error {
	if key == "" {
		return errors.New("signing key must not be empty")
	}
	p.mu.Lock()
	p.signingKey = key
	p.mu.Unlock()
	return nil
}

func (p *Policy) SetRewardAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	p.mu.Lock()
	p.rewardAmount = amount
	p.mu.Unlock()
	return nil
}

func (p *Policy) SetWithdrawEnabled(enabled bool) {
	p.mu.Lock()
	p.withdrawEnabled = enabled
	p.mu.Unlock()
}

func (p *Policy) SetMinReferrals(n int) error {
	if n < 0 {
		return ErrNegativeCount
	}
	p.mu.Lock()
	p.minReferrals = n
	p.mu.Unlock()
	return nil
}

func (p *Policy) SetMinRewardAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	p.mu.Lock()
	p.minRewardAmount = amount
	p.mu.Unlock()
	return nil
}

// Describe renders the current configuration for the admin help message. The
// signing key is masked.
func (p *Policy) Describe() string {
	s := p.Snapshot()
	key := "not set"
	if s.SigningKey != "" {
		key = "set"
	}
	return fmt.Sprintf(
		"signing key: %s\nreward amount: %s\nwithdraw enabled: %t\nmin referrals: %d\nmin reward amount: %s",
		key, s.RewardAmount, s.WithdrawEnabled, s.MinReferrals, s.MinRewardAmount,
	)
}
