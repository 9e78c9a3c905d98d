package bot

import (
	"context"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"digest_bot/internal/config"
	"digest_bot/internal/input"
	"digest_bot/internal/model"
)

type telegramAPI interface {
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Messenger sends and deletes chat messages.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int, error)
	SendKeyboard(ctx context.Context, chatID int64, text string, markup tgbotapi.InlineKeyboardMarkup) (int, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

// Subscriptions manages digest schedules of chats.
type Subscriptions interface {
	Subscribe(ctx context.Context, chatID int64, interval time.Duration, label string) error
	Unsubscribe(ctx context.Context, chatID int64) (bool, error)
	Schedule(chatID int64) (model.ScheduleEntry, bool)
	SendNow(chatID int64) bool
}

// Bot is the Telegram bot that handles chat commands and schedule configuration.
type Bot struct {
	api    telegramAPI
	out    Messenger
	subs   Subscriptions
	input  *input.Machine
	cfg    *config.Config
	selfID int64
	log    *slog.Logger
}

// New creates a Bot on top of an authorized Bot API client.
func New(api *tgbotapi.BotAPI, out Messenger, subs Subscriptions, machine *input.Machine, cfg *config.Config, log *slog.Logger) *Bot {
	return &Bot{
		api:    api,
		out:    out,
		subs:   subs,
		input:  machine,
		cfg:    cfg,
		selfID: api.Self.ID,
		log:    log,
	}
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "channel_post", "callback_query"}

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.ChannelPost != nil:
		b.handleMessage(ctx, update.ChannelPost)
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.out.SendMessage(ctx, chatID, text); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

// allowed applies ALLOWED_USERS. Posts without a sender pass only when the list is empty.
func (b *Bot) allowed(from *tgbotapi.User) bool {
	if from == nil {
		return len(b.cfg.AllowedUsers) == 0
	}
	return b.cfg.IsUserAllowed(from.ID)
}

// hasPermissions requires the bot to be an administrator outside private chats.
func (b *Bot) hasPermissions(ctx context.Context, chat *tgbotapi.Chat) bool {
	if chat.IsPrivate() {
		return true
	}

	member, err := b.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chat.ID, UserID: b.selfID},
	})
	if err != nil {
		b.log.Error("check bot permissions", "chat_id", chat.ID, "error", err)
		b.reply(ctx, chat.ID, "Could not check the bot's permissions. Please add the bot as an administrator.")
		return false
	}
	if member.IsAdministrator() || member.IsCreator() {
		return true
	}

	b.log.Warn("bot is not an administrator", "chat_id", chat.ID, "status", member.Status)
	b.reply(ctx, chat.ID, "The bot must be an administrator in this group or channel to run this command.")
	return false
}
