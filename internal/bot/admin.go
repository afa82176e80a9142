package bot

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"referral-bot/internal/export"
)

// The closed set of policy-change commands. Each carries a typed payload
// validated here before it reaches the policy object.
var policyCommands = []string{
	"set_key",
	"set_reward_amount",
	"enable_withdraw",
	"disable_withdraw",
	"set_min_referral",
	"set_min_reward",
}

const adminHelpText = `<b>Admin Help Menu</b>

/set_key value - Set the wallet signing key
/set_reward_amount value - Set reward for each referral
/enable_withdraw - Enable withdraw for users
/disable_withdraw - Disable withdraw for users
/set_min_referral value - Set minimum referrals required for withdraw
/set_min_reward value - Set minimum reward required for withdraw

/block id - Block a user
/unblock id - Unblock a user
/settle_all - Mark all rewards as claimed
/broadcast - Broadcast a message to all users
/download - Download all user data

<b>Current Configuration</b>

%s`

// adminOnly rejects the command unless the sender has an admin record.
func (b *Bot) adminOnly(fn func(ctx *th.Context, update telego.Update) error) func(ctx *th.Context, update telego.Update) error {
	return func(ctx *th.Context, update telego.Update) error {
		from := update.Message.From
		if from == nil {
			return nil
		}
		admin, err := b.Store.GetAdmin(ctx.Context(), from.ID)
		if err != nil {
			return err
		}
		if admin == nil {
			_, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(
				tu.ID(update.Message.Chat.ID), "You are not authorized to use this command."))
			return err
		}
		return fn(ctx, update)
	}
}

func (b *Bot) handleAdminHelp(ctx *th.Context, update telego.Update) error {
	_, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(
		tu.ID(update.Message.Chat.ID),
		fmt.Sprintf(adminHelpText, b.Policy.Describe())).
		WithParseMode(telego.ModeHTML))
	return err
}

// handlePolicyCommand applies one of the policy setters. Values are coerced
// and validated here; the policy object only ever sees typed input.
func (b *Bot) handlePolicyCommand(ctx *th.Context, update telego.Update) error {
	fields := strings.Fields(update.Message.Text)
	command := strings.TrimPrefix(fields[0], "/")
	if at := strings.Index(command, "@"); at >= 0 {
		command = command[:at]
	}

	value := ""
	if len(fields) > 1 {
		value = fields[1]
	}

	reply := func(text string) error {
		_, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(update.Message.Chat.ID), text))
		return err
	}
	needsValue := func() error {
		return reply("Invalid command format.\nThis command needs a value.\nPress /admin to know more.")
	}
	invalidValue := func() error {
		return reply("Invalid value. Please provide a valid value.")
	}

	switch command {
	case "set_key":
		if value == "" {
			return needsValue()
		}
		if err := b.Policy.SetSigningKey(value); err != nil {
			return invalidValue()
		}
	case "set_reward_amount":
		if value == "" {
			return needsValue()
		}
		amount, err := decimal.NewFromString(value)
		if err != nil {
			return invalidValue()
		}
		if err := b.Policy.SetRewardAmount(amount); err != nil {
			return invalidValue()
		}
	case "enable_withdraw":
		b.Policy.SetWithdrawEnabled(true)
	case "disable_withdraw":
		b.Policy.SetWithdrawEnabled(false)
	case "set_min_referral":
		if value == "" {
			return needsValue()
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return invalidValue()
		}
		if err := b.Policy.SetMinReferrals(n); err != nil {
			return invalidValue()
		}
	case "set_min_reward":
		if value == "" {
			return needsValue()
		}
		amount, err := decimal.NewFromString(value)
		if err != nil {
			return invalidValue()
		}
		if err := b.Policy.SetMinRewardAmount(amount); err != nil {
			return invalidValue()
		}
	default:
		return reply("Unknown command.\nPress /admin to know more.")
	}

	if value != "" {
		return reply(fmt.Sprintf("Changes applied.\nUpdated the value to %s", value))
	}
	return reply("Changes applied.")
}

func (b *Bot) handleDownload(ctx *th.Context, update telego.Update) error {
	chatID := update.Message.Chat.ID
	if _, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(
		tu.ID(chatID), "Generating csv file ...")); err != nil {
		return err
	}

	users, err := b.Store.AllUsers(ctx.Context())
	if err != nil {
		return err
	}
	data, err := export.UsersCSV(users)
	if err != nil {
		return err
	}

	_, err = ctx.Bot().SendDocument(ctx.Context(), tu.Document(
		tu.ID(chatID),
		tu.File(tu.NameReader(bytes.NewReader(data), "user_data.csv")),
	).WithCaption("User data."))
	return err
}

func (b *Bot) handleAskBroadcast(ctx *th.Context, update telego.Update) error {
	b.setState(update.Message.From.ID, stateWaitingBroadcast)
	_, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(
		tu.ID(update.Message.Chat.ID),
		"Please send the message you want to broadcast."))
	return err
}

func (b *Bot) handleBroadcastMessage(ctx *th.Context, update telego.Update) error {
	from := update.Message.From
	b.clearState(from.ID)

	if _, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(
		tu.ID(update.Message.Chat.ID), "Broadcast started")); err != nil {
		return err
	}

	sourceChatID := update.Message.Chat.ID
	messageID := update.Message.MessageID

	go func() {
		bg := context.Background()
		users, err := b.Store.AllUsers(bg)
		if err != nil {
			b.Log.Error("failed to list users for broadcast", zap.Error(err))
			return
		}

		for i := range users {
			_, err := b.Instance.CopyMessage(bg, &telego.CopyMessageParams{
				ChatID:     tu.ID(users[i].TelegramID),
				FromChatID: tu.ID(sourceChatID),
				MessageID:  messageID,
			})
			if err != nil {
				b.Log.Debug("broadcast delivery failed",
					zap.Int64("user_id", users[i].TelegramID), zap.Error(err))
			}
			time.Sleep(100 * time.Millisecond)
		}

		_, _ = b.Instance.SendMessage(bg, tu.Message(tu.ID(sourceChatID), "Broadcast completed!"))
	}()
	return nil
}

func (b *Bot) handleSettleAll(ctx *th.Context, update telego.Update) error {
	if err := b.Ledger.SettleAll(ctx.Context()); err != nil {
		return err
	}
	_, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(
		tu.ID(update.Message.Chat.ID), "All outstanding rewards marked as claimed."))
	return err
}

func (b *Bot) handleBlock(ctx *th.Context, update telego.Update) error {
	return b.setBlocked(ctx, update, true)
}

func (b *Bot) handleUnblock(ctx *th.Context, update telego.Update) error {
	return b.setBlocked(ctx, update, false)
}

func (b *Bot) setBlocked(ctx *th.Context, update telego.Update, blocked bool) error {
	from := update.Message.From
	chatID := update.Message.Chat.ID

	admin, err := b.Store.GetAdmin(ctx.Context(), from.ID)
	if err != nil {
		return err
	}
	if admin == nil || (!admin.BlockUsers && !admin.IsOwner) {
		_, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(chatID), "You are not allowed to block users."))
		return err
	}

	fields := strings.Fields(update.Message.Text)
	if len(fields) != 2 {
		_, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(chatID), "Usage: "+fields[0]+" user_id"))
		return err
	}
	targetID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		_, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(chatID), "Invalid user id."))
		return err
	}

	target, err := b.Cache.Get(ctx.Context(), targetID)
	if err != nil {
		return err
	}
	if target == nil {
		_, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(chatID), "User not found."))
		return err
	}

	if err := b.Cache.Update(ctx.Context(), targetID, map[string]interface{}{"blocked": blocked}); err != nil {
		return err
	}

	verb := "blocked"
	if !blocked {
		verb = "unblocked"
	}
	_, err = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
		tu.ID(chatID), fmt.Sprintf("User %d %s.", targetID, verb)))
	return err
}
