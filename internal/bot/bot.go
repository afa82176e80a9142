package bot

import (
	"context"
	"fmt"
	"sync"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"go.uber.org/zap"

	"referral-bot/internal/cache"
	"referral-bot/internal/config"
	"referral-bot/internal/leaderboard"
	"referral-bot/internal/policy"
	"referral-bot/internal/referral"
	"referral-bot/internal/reward"
	"referral-bot/internal/store"
)

// Conversation states, keyed by user id.
const (
	stateVerifying        = "VERIFYING"
	stateWaitingWallet    = "WAITING_WALLET"
	stateWaitingBroadcast = "WAITING_BROADCAST"
)

type Bot struct {
	Instance *telego.Bot

	Engine *referral.Engine
	Gate   *reward.Gate
	Ledger *reward.Ledger
	Board  *leaderboard.Aggregator
	Cache  *cache.UserCache
	Store  *store.Store
	Policy *policy.Policy
	Cfg    *config.Config
	Log    *zap.Logger

	UserStates map[int64]string
	StatesMu   sync.RWMutex

	username string
}

func NewBot(cfg *config.Config, engine *referral.Engine, gate *reward.Gate, ledger *reward.Ledger,
	board *leaderboard.Aggregator, userCache *cache.UserCache, st *store.Store,
	pol *policy.Policy, log *zap.Logger) (*Bot, error) {
	tgBot, err := telego.NewBot(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		Instance:   tgBot,
		Engine:     engine,
		Gate:       gate,
		Ledger:     ledger,
		Board:      board,
		Cache:      userCache,
		Store:      st,
		Policy:     pol,
		Cfg:        cfg,
		Log:        log,
		UserStates: make(map[int64]string),
	}, nil
}

func (b *Bot) Start(ctx context.Context) error {
	me, err := b.Instance.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bot identity: %w", err)
	}
	b.username = me.Username

	updates, err := b.Instance.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.Instance, updates)
	if err != nil {
		return fmt.Errorf("failed to create handler: %w", err)
	}

	handler.Handle(b.wrap(b.handleStart), th.CommandEqual("start"))
	handler.Handle(b.wrap(b.handleLeaderboardSummary), th.CommandEqual("leaderboard"))
	handler.Handle(b.wrap(b.handleStats), th.CommandEqual("stat"))

	// Admin commands.
	handler.Handle(b.wrap(b.adminOnly(b.handleAdminHelp)), th.CommandEqual("admin"))
	handler.Handle(b.wrap(b.adminOnly(b.handleDownload)), th.CommandEqual("download"))
	handler.Handle(b.wrap(b.adminOnly(b.handleAskBroadcast)), th.CommandEqual("broadcast"))
	handler.Handle(b.wrap(b.adminOnly(b.handleSettleAll)), th.CommandEqual("settle_all"))
	handler.Handle(b.wrap(b.adminOnly(b.handleBlock)), th.CommandEqual("block"))
	handler.Handle(b.wrap(b.adminOnly(b.handleUnblock)), th.CommandEqual("unblock"))
	for _, cmd := range policyCommands {
		handler.Handle(b.wrap(b.adminOnly(b.handlePolicyCommand)), th.CommandEqual(cmd))
	}

	handler.Handle(b.wrap(b.handleCallback), th.AnyCallbackQueryWithMessage())
	handler.Handle(b.wrap(b.handleText), th.AnyMessageWithText())
	handler.Handle(b.wrap(b.handleJoinRequest), anyChatJoinRequest)

	return handler.Start()
}

func anyChatJoinRequest(_ context.Context, update telego.Update) bool {
	return update.ChatJoinRequest != nil
}

// wrap converts a handler failure into a log line and a user notification.
// No in-flight event error may take the process down.
func (b *Bot) wrap(fn func(ctx *th.Context, update telego.Update) error) th.Handler {
	return func(ctx *th.Context, update telego.Update) error {
		if err := fn(ctx, update); err != nil {
			b.Log.Error("handler failed", zap.Error(err))
			if update.Message != nil {
				_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
					tu.ID(update.Message.Chat.ID),
					"An error occurred. Please try again later."))
			} else if update.CallbackQuery != nil {
				_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(update.CallbackQuery.ID).
					WithText("An error occurred. Please try again later."))
			}
		}
		return nil
	}
}

func (b *Bot) setState(userID int64, state string) {
	b.StatesMu.Lock()
	b.UserStates[userID] = state
	b.StatesMu.Unlock()
}

func (b *Bot) state(userID int64) string {
	b.StatesMu.RLock()
	defer b.StatesMu.RUnlock()
	return b.UserStates[userID]
}

func (b *Bot) clearState(userID int64) {
	b.StatesMu.Lock()
	delete(b.UserStates, userID)
	b.StatesMu.Unlock()
}

func (b *Bot) startMenu() *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("🔗 Referral link").WithCallbackData("referral_link"),
			tu.InlineKeyboardButton("👥 My referrals").WithCallbackData("referral_status"),
		),
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("🥇 Leaderboard").WithCallbackData("leaderboard"),
			tu.InlineKeyboardButton("🏆 Rewards").WithCallbackData("rewards"),
		),
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("💼 Connect").WithCallbackData("connect"),
			tu.InlineKeyboardButton("ℹ️ Help").WithCallbackData("help"),
		),
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("💸 Withdraw").WithCallbackData("withdraw"),
		),
	)
}

func (b *Bot) leaderboardMenu() *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("📅 Daily top 5").WithCallbackData("daily"),
			tu.InlineKeyboardButton("🗓 Weekly top 5").WithCallbackData("weekly"),
		),
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("Top 3").WithCallbackData("top3"),
			tu.InlineKeyboardButton("Top 5").WithCallbackData("top5"),
		),
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("Top 10").WithCallbackData("top10"),
			tu.InlineKeyboardButton("Top 20").WithCallbackData("top20"),
		),
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("🔙 Cancel").WithCallbackData("cancel"),
		),
	)
}

func (b *Bot) cancelMenu() *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("🔙 Cancel").WithCallbackData("cancel"),
		),
	)
}

func (b *Bot) sendMenu(ctx *th.Context, chatID int64) error {
	_, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(
		tu.ID(chatID),
		"What would you like to do?\n\n<i>Press a key to select an operation.</i>").
		WithParseMode(telego.ModeHTML).
		WithReplyMarkup(b.startMenu()))
	return err
}

// isMember reports whether the user already belongs to the program group.
func (b *Bot) isMember(ctx context.Context, userID int64) bool {
	member, err := b.Instance.GetChatMember(ctx, &telego.GetChatMemberParams{
		ChatID: tu.ID(b.Cfg.GroupID),
		UserID: userID,
	})
	if err != nil {
		b.Log.Debug("failed to check group membership",
			zap.Int64("user_id", userID), zap.Error(err))
		return false
	}
	switch member.MemberStatus() {
	case telego.MemberStatusMember, telego.MemberStatusAdministrator, telego.MemberStatusCreator:
		return true
	}
	return false
}
