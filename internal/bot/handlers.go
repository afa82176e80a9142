package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"go.uber.org/zap"

	"referral-bot/internal/leaderboard"
	"referral-bot/internal/models"
	"referral-bot/internal/referral"
	"referral-bot/internal/reward"
	"referral-bot/internal/utils"
	"referral-bot/internal/wallet"
)

const welcomeText = `Welcome! 👋

Earn rewards by referring your friends to this project's Telegram group.

Grab your referral link below and start sharing!`

func (b *Bot) handleStart(ctx *th.Context, update telego.Update) error {
	message := update.Message
	from := message.From
	if from == nil {
		return nil
	}

	payload := ""
	if parts := strings.Split(message.Text, " "); len(parts) > 1 {
		payload = parts[1]
	}

	user, _, err := b.Engine.FirstContact(ctx.Context(), referral.Contact{
		ID:        from.ID,
		FirstName: from.FirstName,
		LastName:  from.LastName,
		Username:  from.Username,
		Language:  from.LanguageCode,
		Payload:   payload,
	})
	if err != nil {
		return err
	}
	if user == nil || user.Blocked {
		return nil
	}

	if b.Engine.NeedsVerification(user) {
		return b.sendChallenge(ctx, from.ID)
	}

	if _, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(from.ID), welcomeText)); err != nil {
		return err
	}

	// A referred user that has not joined yet gets pointed at the group first.
	if user.ReferredByID != nil && !user.Joined && !b.isMember(ctx.Context(), from.ID) {
		if user.ReferredBy != nil && user.ReferredBy.ReferralLink != "" {
			_, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(
				tu.ID(from.ID),
				"You are referred to join this chat "+user.ReferredBy.ReferralLink))
			return err
		}
	}

	return b.sendMenu(ctx, from.ID)
}

func (b *Bot) sendChallenge(ctx *th.Context, userID int64) error {
	challenge, err := b.Engine.BeginVerification(ctx.Context(), userID)
	if err != nil {
		return err
	}
	b.setState(userID, stateVerifying)

	_, err = ctx.Bot().SendPhoto(ctx.Context(), tu.Photo(
		tu.ID(userID),
		tu.File(tu.NameReader(bytes.NewReader(challenge.Image), "captcha.png")),
	).WithCaption("Send the number you see in the image"))
	return err
}

// handleText dispatches free text on the user's conversation state.
func (b *Bot) handleText(ctx *th.Context, update telego.Update) error {
	from := update.Message.From
	if from == nil {
		return nil
	}
	text := update.Message.Text

	switch b.state(from.ID) {
	case stateVerifying:
		return b.handleVerificationAnswer(ctx, from.ID, text)
	case stateWaitingWallet:
		return b.handleWalletAddress(ctx, from.ID, text)
	case stateWaitingBroadcast:
		return b.handleBroadcastMessage(ctx, update)
	}
	return nil
}

func (b *Bot) handleVerificationAnswer(ctx *th.Context, userID int64, answer string) error {
	ok, next, err := b.Engine.SubmitVerification(ctx.Context(), userID, strings.TrimSpace(answer))
	if err != nil {
		return err
	}
	if !ok {
		if _, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(userID), "Oops! The value is incorrect. Please try again.")); err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		_, err = ctx.Bot().SendPhoto(ctx.Context(), tu.Photo(
			tu.ID(userID),
			tu.File(tu.NameReader(bytes.NewReader(next.Image), "captcha.png")),
		).WithCaption("Send the number you see in the image"))
		return err
	}

	b.clearState(userID)
	_, err = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
		tu.ID(userID),
		"Congratulations! You've verified you are human.\nPress /start to start using the bot."))
	return err
}

func (b *Bot) handleWalletAddress(ctx *th.Context, userID int64, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil
	}
	if err := b.Cache.Update(ctx.Context(), userID, map[string]interface{}{"wallet": address}); err != nil {
		return err
	}
	b.clearState(userID)

	if _, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(
		tu.ID(userID),
		"Thank you, your wallet address is saved. It will be used to send rewards.")); err != nil {
		return err
	}
	return b.sendMenu(ctx, userID)
}

func (b *Bot) handleCallback(ctx *th.Context, update telego.Update) error {
	query := update.CallbackQuery
	userID := query.From.ID

	user, err := b.Cache.Get(ctx.Context(), userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(query.ID).
			WithText("Press /start first."))
	}
	if user.Blocked {
		return ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(query.ID))
	}

	if !b.isMember(ctx.Context(), userID) {
		return b.requireMembership(ctx, query, user)
	}

	switch query.Data {
	case "referral_link":
		return b.showReferralLink(ctx, query, user)
	case "referral_status":
		return b.answerAndReply(ctx, query, "Getting referral status",
			fmt.Sprintf("Total Referrals : %d", user.Referrals()))
	case "leaderboard":
		if err := ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(query.ID)); err != nil {
			return err
		}
		_, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(userID), "Leader Board").
			WithReplyMarkup(b.leaderboardMenu()))
		return err
	case "rewards":
		return b.showRewards(ctx, query, user)
	case "connect":
		return b.askWallet(ctx, query, user)
	case "help":
		return b.answerAndReply(ctx, query, "Getting help",
			fmt.Sprintf("Contact %s for any help or issue related to the bot", b.Cfg.HelpUsername))
	case "withdraw":
		return b.handleWithdraw(ctx, query, user)
	case "cancel":
		b.clearState(userID)
		if err := ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(query.ID).
			WithText("Cancelling operation")); err != nil {
			return err
		}
		return b.sendMenu(ctx, userID)
	case "daily", "weekly", "top3", "top5", "top10", "top20":
		return b.showLeaderboard(ctx, query)
	}
	return ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(query.ID))
}

func (b *Bot) answerAndReply(ctx *th.Context, query *telego.CallbackQuery, notification, text string) error {
	if err := ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(query.ID).
		WithText(notification)); err != nil {
		return err
	}
	_, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(query.From.ID), text).
		WithParseMode(telego.ModeHTML).
		WithReplyMarkup(b.startMenu()))
	return err
}

// requireMembership points a non-member at an invite link before anything else.
func (b *Bot) requireMembership(ctx *th.Context, query *telego.CallbackQuery, user *models.User) error {
	var inviteLink string
	if user.ReferredBy != nil && user.ReferredBy.ReferralLink != "" {
		inviteLink = user.ReferredBy.ReferralLink
	} else {
		link, err := b.Instance.CreateChatInviteLink(ctx.Context(), &telego.CreateChatInviteLinkParams{
			ChatID:             tu.ID(b.Cfg.GroupID),
			Name:               "bot",
			CreatesJoinRequest: true,
		})
		if err != nil {
			return err
		}
		inviteLink = link.InviteLink
	}

	if err := ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(query.ID).
		WithText("You need to join the group to access the bot").
		WithShowAlert()); err != nil {
		return err
	}
	_, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(
		tu.ID(query.From.ID),
		"Join this chat to use the bot\n\n"+inviteLink))
	return err
}

func (b *Bot) showReferralLink(ctx *th.Context, query *telego.CallbackQuery, user *models.User) error {
	if user.ReferralLink == "" {
		link, err := b.Instance.CreateChatInviteLink(ctx.Context(), &telego.CreateChatInviteLinkParams{
			ChatID:             tu.ID(b.Cfg.GroupID),
			Name:               fmt.Sprintf("%d", user.TelegramID),
			CreatesJoinRequest: true,
		})
		if err != nil {
			return err
		}
		if err := b.Cache.Update(ctx.Context(), user.TelegramID,
			map[string]interface{}{"referral_link": link.InviteLink}); err != nil {
			return err
		}
	}

	deepLink := fmt.Sprintf("https://t.me/%s?start=%d", b.username, user.TelegramID)
	return b.answerAndReply(ctx, query, "Creating referral link",
		"Here is your referral link\n\n"+deepLink)
}

func (b *Bot) showRewards(ctx *th.Context, query *telego.CallbackQuery, user *models.User) error {
	symbol := b.Cfg.CurrencySymbol
	text := fmt.Sprintf(
		"Total reward : %g %s\nClaimed reward: %g %s\nBalance reward: %s %s\n\n"+
			"<i>You will get %s %s for each referral</i>",
		user.Reward, symbol,
		user.Claimed, symbol,
		reward.Balance(user), symbol,
		b.Policy.Snapshot().RewardAmount, symbol,
	)
	return b.answerAndReply(ctx, query, "Getting reward status", text)
}

func (b *Bot) askWallet(ctx *th.Context, query *telego.CallbackQuery, user *models.User) error {
	text := "Please enter your SOLANA wallet address"
	if user.Wallet != "" {
		text = fmt.Sprintf("Your current wallet address\n\n<code>%s</code>\n\n"+
			"If you want to replace it, send your new wallet address.", utils.EscapeHTML(user.Wallet))
	}
	b.setState(user.TelegramID, stateWaitingWallet)

	if err := ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(query.ID)); err != nil {
		return err
	}
	_, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(user.TelegramID), text).
		WithParseMode(telego.ModeHTML).
		WithReplyMarkup(b.cancelMenu()))
	return err
}

func (b *Bot) handleWithdraw(ctx *th.Context, query *telego.CallbackQuery, user *models.User) error {
	receipt, err := b.Gate.Withdraw(ctx.Context(), user.TelegramID)
	if err != nil {
		pol := b.Policy.Snapshot()
		var alert string
		switch {
		case errors.Is(err, reward.ErrWithdrawDisabled):
			alert = "Currently the withdraw option is disabled."
		case errors.Is(err, reward.ErrInvalidWalletAddress), errors.Is(err, wallet.ErrInvalidAddress):
			alert = "Your wallet address is not valid."
		case errors.Is(err, reward.ErrNotEnoughReferrals):
			alert = fmt.Sprintf("You need to refer at least %d users to be eligible for withdraw.", pol.MinReferrals)
		case errors.Is(err, reward.ErrBelowMinimumAmount):
			alert = fmt.Sprintf("You need to have at least %s to withdraw.", pol.MinRewardAmount)
		case errors.Is(err, reward.ErrNothingToWithdraw):
			alert = "Your balance is 0."
		case errors.Is(err, wallet.ErrNoSigningKey):
			alert = "Admin has not yet configured the wallet to send rewards."
		case errors.Is(err, wallet.ErrInsufficientBalance):
			alert = "Admin wallet doesn't have enough balance to pay."
		default:
			return err
		}
		return ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(query.ID).
			WithText(alert).WithShowAlert())
	}

	symbol := b.Cfg.CurrencySymbol
	if err := ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(query.ID)); err != nil {
		return err
	}
	if _, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(
		tu.ID(user.TelegramID),
		fmt.Sprintf("Rewards of <b>%s %s</b> sent successfully.", receipt.Amount, symbol)).
		WithParseMode(telego.ModeHTML)); err != nil {
		return err
	}
	if _, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(
		tu.ID(user.TelegramID), receipt.TxURL)); err != nil {
		return err
	}

	// Public proof of payment.
	_, err = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
		tu.ID(b.Cfg.GroupID),
		fmt.Sprintf("%s just received a reward of <b>%s %s</b>! 🎉\n\nProof: %s",
			user.Mention(), receipt.Amount, symbol, receipt.TxURL)).
		WithParseMode(telego.ModeHTML))
	return err
}

var leaderboardViews = map[string]struct {
	title  string
	period leaderboard.Period
	limit  int
}{
	"daily":  {"📅 Daily top 5", leaderboard.PeriodDaily, 5},
	"weekly": {"🗓 Weekly top 5", leaderboard.PeriodWeekly, 5},
	"top3":   {"Top 3", leaderboard.PeriodAll, 3},
	"top5":   {"Top 5", leaderboard.PeriodAll, 5},
	"top10":  {"Top 10", leaderboard.PeriodAll, 10},
	"top20":  {"Top 20", leaderboard.PeriodAll, 20},
}

func (b *Bot) showLeaderboard(ctx *th.Context, query *telego.CallbackQuery) error {
	view := leaderboardViews[query.Data]

	text, err := b.renderLeaderboard(ctx.Context(), view.title, view.period, view.limit)
	if err != nil {
		return err
	}

	if err := ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(query.ID)); err != nil {
		return err
	}
	_, err = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(query.From.ID), text).
		WithParseMode(telego.ModeHTML).
		WithReplyMarkup(b.leaderboardMenu()))
	return err
}

func (b *Bot) renderLeaderboard(ctx context.Context, title string, period leaderboard.Period, limit int) (string, error) {
	top, err := b.Board.Top(ctx, period, limit)
	if err != nil {
		return "", err
	}

	text := fmt.Sprintf("<b>%s</b>\n\n", title)
	for i, entry := range top {
		name := fmt.Sprintf("user %d", entry.ReferrerID)
		if user, err := b.Cache.Get(ctx, entry.ReferrerID); err == nil && user != nil {
			name = utils.EscapeHTML(utils.Truncate(user.FullName(), 30))
		}
		text += fmt.Sprintf("<code>%d. %-15s - %2d</code>\n", i+1, name, entry.ReferralCount)
	}
	return text, nil
}

// handleLeaderboardSummary serves the /leaderboard command with all windows.
func (b *Bot) handleLeaderboardSummary(ctx *th.Context, update telego.Update) error {
	chatID := update.Message.Chat.ID

	sections := []struct {
		title  string
		period leaderboard.Period
		limit  int
	}{
		{"📅 Daily top 5", leaderboard.PeriodDaily, 5},
		{"🗓 Weekly top 5", leaderboard.PeriodWeekly, 5},
		{"Top 20", leaderboard.PeriodAll, 20},
	}

	text := "🥇 <b>Leaderboard</b>\n\n"
	for _, s := range sections {
		section, err := b.renderLeaderboard(ctx.Context(), s.title, s.period, s.limit)
		if err != nil {
			return err
		}
		text += section + "\n"
	}

	_, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(chatID), text).
		WithParseMode(telego.ModeHTML))
	return err
}

func (b *Bot) handleStats(ctx *th.Context, update telego.Update) error {
	stats, err := b.Store.Stats(ctx.Context())
	if err != nil {
		return err
	}

	text := fmt.Sprintf(
		"📊 <b>Bot statistics</b>\n\n"+
			"Total users: %d\n"+
			"Total referrals: %d\n"+
			"Total joined: %d\n"+
			"Total rewards: %.2f\n"+
			"Total claimed: %.2f",
		stats.TotalUsers, stats.TotalReferrals, stats.TotalJoined,
		stats.TotalRewards, stats.TotalClaimed)

	_, err = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(update.Message.Chat.ID), text).
		WithParseMode(telego.ModeHTML))
	return err
}

// handleJoinRequest drives the VERIFIED -> JOINED transition from the platform
// side: unverified users are declined, everyone else approved, the referrer
// credited exactly once.
func (b *Bot) handleJoinRequest(ctx *th.Context, update telego.Update) error {
	request := update.ChatJoinRequest
	userID := request.From.ID

	outcome, err := b.Engine.ApproveJoin(ctx.Context(), userID)
	if err != nil {
		return err
	}

	if !outcome.Approved {
		if err := ctx.Bot().DeclineChatJoinRequest(ctx.Context(), &telego.DeclineChatJoinRequestParams{
			ChatID: tu.ID(request.Chat.ID),
			UserID: userID,
		}); err != nil {
			return err
		}
		_, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(userID), "You need to verify you are human before joining."))
		return err
	}

	if err := ctx.Bot().ApproveChatJoinRequest(ctx.Context(), &telego.ApproveChatJoinRequestParams{
		ChatID: tu.ID(request.Chat.ID),
		UserID: userID,
	}); err != nil {
		b.Log.Warn("failed to approve join request",
			zap.Int64("user_id", userID), zap.Error(err))
	}
	if outcome.Duplicate {
		return nil
	}

	if err := b.sendMenu(ctx, userID); err != nil {
		b.Log.Debug("failed to open menu after join",
			zap.Int64("user_id", userID), zap.Error(err))
	}

	if outcome.Credited && outcome.Referrer != nil {
		user, err := b.Cache.Get(ctx.Context(), userID)
		if err != nil || user == nil {
			return err
		}
		_, err = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(b.Cfg.GroupID),
			fmt.Sprintf("%s was referred by %s", user.Mention(), outcome.Referrer.Mention())).
			WithParseMode(telego.ModeHTML))
		return err
	}
	return nil
}
