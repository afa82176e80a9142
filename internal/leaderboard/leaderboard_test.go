package leaderboard_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"referral-bot/internal/leaderboard"
	"referral-bot/internal/store"
)

func TestWindowStart(t *testing.T) {
	// A Thursday afternoon.
	now := time.Date(2024, 5, 16, 15, 42, 7, 0, time.UTC)

	daily, err := leaderboard.WindowStart(leaderboard.PeriodDaily, now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 5, 16, 0, 0, 0, 0, time.UTC), daily)

	weekly, err := leaderboard.WindowStart(leaderboard.PeriodWeekly, now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC), weekly)

	all, err := leaderboard.WindowStart(leaderboard.PeriodAll, now)
	require.NoError(t, err)
	require.True(t, all.IsZero())

	_, err = leaderboard.WindowStart(leaderboard.Period("hourly"), now)
	require.Error(t, err)
}

func TestWindowStartOnSundayBelongsToPreviousMonday(t *testing.T) {
	sunday := time.Date(2024, 5, 19, 23, 0, 0, 0, time.UTC)
	weekly, err := leaderboard.WindowStart(leaderboard.PeriodWeekly, sunday)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC), weekly)
}

// fakeRows emulates the store's grouped aggregate over an in-memory user set.
type fakeRows struct {
	users []fakeUser
}

type fakeUser struct {
	id        int64
	referrer  *int64
	joined    bool
	createdAt time.Time
}

func (f *fakeRows) TopReferrers(_ context.Context, start time.Time, limit int) ([]store.ReferralEntry, error) {
	counts := make(map[int64]int64)
	for _, u := range f.users {
		if u.joined && u.referrer != nil && !u.createdAt.Before(start) {
			counts[*u.referrer]++
		}
	}
	entries := make([]store.ReferralEntry, 0, len(counts))
	for id, count := range counts {
		entries = append(entries, store.ReferralEntry{ReferrerID: id, ReferralCount: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ReferralCount != entries[j].ReferralCount {
			return entries[i].ReferralCount > entries[j].ReferralCount
		}
		return entries[i].ReferrerID < entries[j].ReferrerID
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func TestTopCountsOnlyInsideWindow(t *testing.T) {
	referrerA := int64(1)
	now := time.Now().UTC()
	today := now.Add(-time.Minute)
	tenDaysAgo := now.AddDate(0, 0, -10)

	rows := &fakeRows{}
	for i := 0; i < 3; i++ {
		rows.users = append(rows.users, fakeUser{id: int64(10 + i), referrer: &referrerA, joined: true, createdAt: today})
	}
	for i := 0; i < 2; i++ {
		rows.users = append(rows.users, fakeUser{id: int64(20 + i), referrer: &referrerA, joined: true, createdAt: tenDaysAgo})
	}
	// Not joined and unreferred users never count.
	rows.users = append(rows.users,
		fakeUser{id: 30, referrer: &referrerA, joined: false, createdAt: today},
		fakeUser{id: 31, referrer: nil, joined: true, createdAt: today},
	)

	agg := leaderboard.New(rows)

	daily, err := agg.Top(context.Background(), leaderboard.PeriodDaily, 5)
	require.NoError(t, err)
	require.Len(t, daily, 1)
	require.Equal(t, referrerA, daily[0].ReferrerID)
	require.Equal(t, int64(3), daily[0].ReferralCount)

	all, err := agg.Top(context.Background(), leaderboard.PeriodAll, 5)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, int64(5), all[0].ReferralCount)
}

func TestTopRespectsLimitAndOrder(t *testing.T) {
	a, b, c := int64(1), int64(2), int64(3)
	now := time.Now().UTC()

	rows := &fakeRows{}
	add := func(referrer *int64, n int) {
		for i := 0; i < n; i++ {
			rows.users = append(rows.users, fakeUser{
				id: int64(len(rows.users) + 100), referrer: referrer, joined: true, createdAt: now,
			})
		}
	}
	add(&a, 2)
	add(&b, 5)
	add(&c, 2)

	agg := leaderboard.New(rows)

	top, err := agg.Top(context.Background(), leaderboard.PeriodAll, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.Equal(t, b, top[0].ReferrerID)
	// Tie between a and c resolves to the lower id.
	require.Equal(t, a, top[1].ReferrerID)
}
