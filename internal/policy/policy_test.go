package policy_test

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"referral-bot/internal/policy"
)

func TestSettersValidateInput(t *testing.T) {
	p := policy.New()

	require.Error(t, p.SetSigningKey(""))
	require.ErrorIs(t, p.SetRewardAmount(decimal.NewFromFloat(-0.5)), policy.ErrNegativeAmount)
	require.ErrorIs(t, p.SetMinRewardAmount(decimal.NewFromInt(-1)), policy.ErrNegativeAmount)
	require.ErrorIs(t, p.SetMinReferrals(-3), policy.ErrNegativeCount)

	// Rejected values never reach the snapshot.
	s := p.Snapshot()
	require.Empty(t, s.SigningKey)
	require.True(t, s.RewardAmount.IsZero())
	require.True(t, s.MinRewardAmount.IsZero())
	require.Zero(t, s.MinReferrals)
}

func TestSnapshotReflectsSetters(t *testing.T) {
	p := policy.New()

	require.NoError(t, p.SetSigningKey("base58-secret"))
	require.NoError(t, p.SetRewardAmount(decimal.NewFromFloat(0.25)))
	require.NoError(t, p.SetMinReferrals(3))
	require.NoError(t, p.SetMinRewardAmount(decimal.NewFromInt(5)))
	p.SetWithdrawEnabled(true)

	s := p.Snapshot()
	require.Equal(t, "base58-secret", s.SigningKey)
	require.True(t, s.RewardAmount.Equal(decimal.NewFromFloat(0.25)))
	require.True(t, s.WithdrawEnabled)
	require.Equal(t, 3, s.MinReferrals)
	require.True(t, s.MinRewardAmount.Equal(decimal.NewFromInt(5)))

	p.SetWithdrawEnabled(false)
	require.False(t, p.Snapshot().WithdrawEnabled)
}

func TestZeroIsAValidAmount(t *testing.T) {
	p := policy.New()
	require.NoError(t, p.SetRewardAmount(decimal.Zero))
	require.NoError(t, p.SetMinReferrals(0))
	require.NoError(t, p.SetMinRewardAmount(decimal.Zero))
}

func TestDescribeMasksSigningKey(t *testing.T) {
	p := policy.New()

	require.Contains(t, p.Describe(), "signing key: not set")

	require.NoError(t, p.SetSigningKey("base58-secret"))
	desc := p.Describe()
	require.Contains(t, desc, "signing key: set")
	require.NotContains(t, desc, "base58-secret")
}

func TestConcurrentAccess(t *testing.T) {
	p := policy.New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			_ = p.SetMinReferrals(n)
		}(i)
		go func() {
			defer wg.Done()
			_ = p.Snapshot()
		}()
	}
	wg.Wait()
}
