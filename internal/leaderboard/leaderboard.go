// Package leaderboard aggregates top referrers over time windows. It queries
// the store directly: aggregates have no business going through the user cache.
package leaderboard

import (
	"context"
	"fmt"
	"time"

	"referral-bot/internal/store"
)

type Period string

const (
	PeriodDaily  Period = "daily"
	PeriodWeekly Period = "weekly"
	PeriodAll    Period = "all"
)

// Source is the aggregate query the leaderboard is computed from.
type Source interface {
	TopReferrers(ctx context.Context, start time.Time, limit int) ([]store.ReferralEntry, error)
}

type Aggregator struct {
	store Source
}

func New(source Source) *Aggregator {
	return &Aggregator{store: source}
}

// Top returns up to limit referrers ranked by joined referrals created inside
// the period's window.
func (a *Aggregator) Top(ctx context.Context, period Period, limit int) ([]store.ReferralEntry, error) {
	start, err := WindowStart(period, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return a.store.TopReferrers(ctx, start, limit)
}

// WindowStart computes the inclusive lower bound of a leaderboard window.
// Daily starts at UTC midnight, weekly at UTC Monday 00:00, all-time at the
// epoch floor.
func WindowStart(period Period, now time.Time) (time.Time, error) {
	now = now.UTC()
	switch period {
	case PeriodDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	case PeriodWeekly:
		daysSinceMonday := (int(now.Weekday()) + 6) % 7
		monday := now.AddDate(0, 0, -daysSinceMonday)
		return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, time.UTC), nil
	case PeriodAll:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("unknown leaderboard period %q", period)
	}
}
