package reward_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"referral-bot/internal/cache"
	"referral-bot/internal/models"
	"referral-bot/internal/policy"
	"referral-bot/internal/reward"
	"referral-bot/internal/wallet"
)

// settleSource backs a real user cache and doubles as the gate's store view.
type settleSource struct {
	mu   sync.Mutex
	user models.User
}

func (s *settleSource) GetUser(context.Context, int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := s.user
	return &copied, nil
}

func (s *settleSource) UpdateUser(_ context.Context, _ int64, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := fields["claimed"]; ok {
		s.user.Claimed = v.(float64)
	}
	return nil
}

func (s *settleSource) settle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user.Claimed = s.user.Reward
}

type gateUsers struct {
	mu   sync.Mutex
	user *models.User
}

func (g *gateUsers) GetUser(context.Context, int64) (*models.User, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.user == nil {
		return nil, nil
	}
	copied := *g.user
	return &copied, nil
}

func (g *gateUsers) Update(_ context.Context, _ int64, fields map[string]interface{}) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := fields["claimed"]; ok {
		g.user.Claimed = v.(float64)
	}
	return nil
}

func (g *gateUsers) claimed() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.user.Claimed
}

type fixedReferrals int64

func (f fixedReferrals) ReferralCount(context.Context, int64) (int64, error) {
	return int64(f), nil
}

type sendCall struct {
	key     string
	address string
	amount  decimal.Decimal
}

type fakeWallet struct {
	mu      sync.Mutex
	valid   bool
	sendErr error
	delay   time.Duration
	sent    []sendCall
}

func (w *fakeWallet) IsValidAddress(context.Context, string) bool { return w.valid }

func (w *fakeWallet) Balance(context.Context, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(1000), nil
}

func (w *fakeWallet) Send(_ context.Context, key, address string, amount decimal.Decimal) (string, error) {
	if w.delay > 0 {
		time.Sleep(w.delay)
	}
	if w.sendErr != nil {
		return "", w.sendErr
	}
	w.mu.Lock()
	w.sent = append(w.sent, sendCall{key: key, address: address, amount: amount})
	w.mu.Unlock()
	return "https://solscan.io/tx/abc", nil
}

func (w *fakeWallet) sends() []sendCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]sendCall(nil), w.sent...)
}

type gateFixture struct {
	users  *gateUsers
	wallet *fakeWallet
	policy *policy.Policy
	gate   *reward.Gate
}

func newGateFixture(t *testing.T, user *models.User, referrals int64) *gateFixture {
	t.Helper()

	pol := policy.New()
	pol.SetWithdrawEnabled(true)
	require.NoError(t, pol.SetSigningKey("key"))
	require.NoError(t, pol.SetMinReferrals(1))
	require.NoError(t, pol.SetMinRewardAmount(decimal.NewFromInt(5)))

	users := &gateUsers{user: user}
	w := &fakeWallet{valid: true}
	return &gateFixture{
		users:  users,
		wallet: w,
		policy: pol,
		gate:   reward.NewGate(users, users, fixedReferrals(referrals), pol, w, zap.NewNop()),
	}
}

func eligibleUser() *models.User {
	return &models.User{TelegramID: 1, Wallet: "addr", Reward: 10, Claimed: 0, Verified: true, Joined: true}
}

func TestWithdrawSettlesFullBalance(t *testing.T) {
	f := newGateFixture(t, eligibleUser(), 2)

	receipt, err := f.gate.Withdraw(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "https://solscan.io/tx/abc", receipt.TxURL)
	require.True(t, receipt.Amount.Equal(decimal.NewFromInt(10)))

	sends := f.wallet.sends()
	require.Len(t, sends, 1)
	require.Equal(t, "addr", sends[0].address)
	require.True(t, sends[0].amount.Equal(decimal.NewFromInt(10)))

	require.Equal(t, float64(10), f.users.claimed())
}

func TestWithdrawEligibilityOrder(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newGateFixture(t, eligibleUser(), 2)
		f.policy.SetWithdrawEnabled(false)
		// Disabled wins even with an invalid address.
		f.wallet.valid = false

		_, err := f.gate.Withdraw(context.Background(), 1)
		require.ErrorIs(t, err, reward.ErrWithdrawDisabled)
	})

	t.Run("invalid address", func(t *testing.T) {
		f := newGateFixture(t, eligibleUser(), 0)
		f.wallet.valid = false

		_, err := f.gate.Withdraw(context.Background(), 1)
		require.ErrorIs(t, err, reward.ErrInvalidWalletAddress)
	})

	t.Run("not enough referrals", func(t *testing.T) {
		f := newGateFixture(t, eligibleUser(), 2)
		require.NoError(t, f.policy.SetMinReferrals(3))

		_, err := f.gate.Withdraw(context.Background(), 1)
		require.ErrorIs(t, err, reward.ErrNotEnoughReferrals)
		require.Equal(t, float64(0), f.users.claimed())
	})

	t.Run("below minimum", func(t *testing.T) {
		user := eligibleUser()
		user.Reward = 3
		f := newGateFixture(t, user, 2)

		_, err := f.gate.Withdraw(context.Background(), 1)
		require.ErrorIs(t, err, reward.ErrBelowMinimumAmount)
	})

	t.Run("zero balance", func(t *testing.T) {
		user := eligibleUser()
		user.Claimed = user.Reward
		f := newGateFixture(t, user, 2)
		require.NoError(t, f.policy.SetMinRewardAmount(decimal.Zero))

		_, err := f.gate.Withdraw(context.Background(), 1)
		require.ErrorIs(t, err, reward.ErrNothingToWithdraw)
	})
}

func TestWithdrawWalletFailureLeavesLedgerUntouched(t *testing.T) {
	for _, sendErr := range []error{
		wallet.ErrNoSigningKey,
		wallet.ErrInvalidAddress,
		wallet.ErrInsufficientBalance,
		context.DeadlineExceeded,
	} {
		f := newGateFixture(t, eligibleUser(), 2)
		f.wallet.sendErr = sendErr

		_, err := f.gate.Withdraw(context.Background(), 1)
		require.ErrorIs(t, err, sendErr)
		require.Equal(t, float64(0), f.users.claimed())
	}
}

func TestWithdrawSeesStoreSideSettlement(t *testing.T) {
	source := &settleSource{user: *eligibleUser()}
	userCache := cache.New(source, time.Minute, 10)

	pol := policy.New()
	pol.SetWithdrawEnabled(true)
	require.NoError(t, pol.SetSigningKey("key"))
	require.NoError(t, pol.SetMinReferrals(1))

	w := &fakeWallet{valid: true}
	gate := reward.NewGate(userCache, source, fixedReferrals(2), pol, w, zap.NewNop())

	// Prime the cache with the pre-settlement balance, then settle the row
	// behind the cache's back, as the bulk settlement SQL does.
	cached, err := userCache.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, float64(0), cached.Claimed)
	source.settle()

	// A withdrawal inside the TTL must see the settled row, not the snapshot.
	_, err = gate.Withdraw(context.Background(), 1)
	require.ErrorIs(t, err, reward.ErrNothingToWithdraw)
	require.Empty(t, w.sends())

	user, err := source.GetUser(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, float64(10), user.Claimed)
}

func TestConcurrentWithdrawPaysOnce(t *testing.T) {
	f := newGateFixture(t, eligibleUser(), 2)
	f.wallet.delay = 20 * time.Millisecond
	require.NoError(t, f.policy.SetMinRewardAmount(decimal.Zero))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.gate.Withdraw(context.Background(), 1)
		}(i)
	}
	wg.Wait()

	// The second request serialized behind the first and found an empty
	// balance; only one transfer ever happened.
	require.Len(t, f.wallet.sends(), 1)
	failures := 0
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, reward.ErrNothingToWithdraw)
			failures++
		}
	}
	require.Equal(t, 1, failures)
}
