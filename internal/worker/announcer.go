package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"referral-bot/internal/leaderboard"
	"referral-bot/internal/models"
	"referral-bot/internal/utils"
)

const (
	announcementSize = 5
	// The post goes out in the evening so the daily window has real standings
	// in it, not the first hour after midnight.
	announcementHour = 20 // UTC
)

// Users resolves referrer ids to display names.
type Users interface {
	Get(ctx context.Context, id int64) (*models.User, error)
}

// Announcer posts the current day's top referrers to the group once per
// evening. Redis keeps the already-announced marker so a restart does not
// repost.
type Announcer struct {
	Board   *leaderboard.Aggregator
	Users   Users
	Redis   *redis.Client
	Bot     *telego.Bot
	GroupID int64
	Log     *zap.Logger
}

func NewAnnouncer(board *leaderboard.Aggregator, users Users, rdb *redis.Client,
	bot *telego.Bot, groupID int64, log *zap.Logger) *Announcer {
	return &Announcer{
		Board:   board,
		Users:   users,
		Redis:   rdb,
		Bot:     bot,
		GroupID: groupID,
		Log:     log,
	}
}

func (a *Announcer) Start(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	a.Log.Info("leaderboard announcer started")

	a.announce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.announce(ctx)
		}
	}
}

func (a *Announcer) announce(ctx context.Context) {
	now := time.Now().UTC()
	if !announcementDue(now) {
		return
	}

	key := announcementKey(now)
	exists, err := a.Redis.Exists(ctx, key).Result()
	if err != nil {
		a.Log.Warn("failed to check announcement marker", zap.Error(err))
		return
	}
	if exists > 0 {
		return
	}

	top, err := a.Board.Top(ctx, leaderboard.PeriodDaily, announcementSize)
	if err != nil {
		a.Log.Error("failed to compute daily leaderboard", zap.Error(err))
		return
	}
	if len(top) == 0 {
		return
	}

	text := "🥇 <b>Today's top referrers</b>\n\n"
	for i, entry := range top {
		name := fmt.Sprintf("user %d", entry.ReferrerID)
		if user, err := a.Users.Get(ctx, entry.ReferrerID); err == nil && user != nil {
			name = utils.EscapeHTML(user.FullName())
		}
		text += fmt.Sprintf("<code>%d. %-15s - %2d</code>\n", i+1, name, entry.ReferralCount)
	}

	_, err = a.Bot.SendMessage(ctx, tu.Message(tu.ID(a.GroupID), text).
		WithParseMode(telego.ModeHTML))
	if err != nil {
		a.Log.Error("failed to post daily leaderboard", zap.Error(err))
		return
	}

	if err := a.Redis.Set(ctx, key, "true", 48*time.Hour).Err(); err != nil {
		a.Log.Warn("failed to set announcement marker", zap.Error(err))
	}
}

// announcementDue reports whether the daily post window has opened at now.
func announcementDue(now time.Time) bool {
	return now.UTC().Hour() >= announcementHour
}

// announcementKey is the per-day dedupe marker.
func announcementKey(now time.Time) string {
	return fmt.Sprintf("announced_daily_%s", now.UTC().Format("2006-01-02"))
}
