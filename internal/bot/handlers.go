package bot

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"digest_bot/internal/input"
	"digest_bot/internal/model"
)

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		if !b.allowed(msg.From) {
			b.reply(ctx, chatID, "Access denied.")
			return
		}
		if b.input.Abandon(chatID) {
			b.log.Debug("pending input abandoned", "chat_id", chatID)
		}
		if !b.hasPermissions(ctx, msg.Chat) {
			return
		}
		b.handleCommand(ctx, msg)
		return
	}

	if _, ok := b.input.Pending(chatID); !ok || msg.Text == "" {
		return
	}
	if !b.allowed(msg.From) || !b.hasPermissions(ctx, msg.Chat) {
		return
	}
	b.handleInput(ctx, chatID, msg.Text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "chat_id", chatID, "chat_type", msg.Chat.Type)

	switch cmd {
	case "start":
		b.reply(ctx, chatID, FormatStart(msg.Chat))
	case "help":
		b.reply(ctx, chatID, helpText)
	case "set":
		b.handleSet(ctx, chatID)
	case "status":
		entry, ok := b.subs.Schedule(chatID)
		b.reply(ctx, chatID, FormatStatus(entry, ok))
	case "now":
		b.handleNow(ctx, chatID)
	case "stop":
		b.handleStop(ctx, chatID)
	default:
		b.reply(ctx, chatID, "Unknown command. Use /help for a list of commands.")
	}
}

func (b *Bot) handleSet(ctx context.Context, chatID int64) {
	if _, err := b.out.SendKeyboard(ctx, chatID, "Choose how often to receive the news digest:", ScheduleKeyboard()); err != nil {
		b.log.Error("send schedule keyboard", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleNow(ctx context.Context, chatID int64) {
	if _, ok := b.subs.Schedule(chatID); !ok {
		b.reply(ctx, chatID, "No digest schedule yet. Use /set to choose one.")
		return
	}
	if !b.subs.SendNow(chatID) {
		b.reply(ctx, chatID, "A digest is already being prepared.")
	}
}

func (b *Bot) handleStop(ctx context.Context, chatID int64) {
	removed, err := b.subs.Unsubscribe(ctx, chatID)
	if err != nil {
		b.log.Error("unsubscribe", "chat_id", chatID, "error", err)
	}
	if !removed {
		b.reply(ctx, chatID, "There is no active digest schedule.")
		return
	}
	b.reply(ctx, chatID, "Digests stopped. Use /set to start again.")
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Error("send callback ack", "error", err)
	}
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	if !b.allowed(cb.From) {
		b.reply(ctx, chatID, "Access denied.")
		return
	}

	action, ok := ParseAction(cb.Data)
	if !ok {
		b.log.Debug("unknown callback data", "chat_id", chatID, "data", cb.Data)
		return
	}

	b.log.Info("callback", "chat_id", chatID, "data", cb.Data, "user_id", cb.From.ID, "username", cb.From.UserName)

	switch a := action.(type) {
	case PresetChosen:
		b.input.Abandon(chatID)
		if !b.subscribe(ctx, chatID, a.Preset.Interval, a.Preset.Label) {
			return
		}
		if err := b.out.DeleteMessage(ctx, chatID, cb.Message.MessageID); err != nil {
			b.log.Warn("delete schedule keyboard", "chat_id", chatID, "message_id", cb.Message.MessageID, "error", err)
		}
	case CustomMinutesRequested:
		b.input.Await(chatID, model.UnitMinutes)
		b.reply(ctx, chatID, FormatInputPrompt(model.UnitMinutes))
	case CustomDaysRequested:
		b.input.Await(chatID, model.UnitDays)
		b.reply(ctx, chatID, FormatInputPrompt(model.UnitDays))
	}
}

func (b *Bot) handleInput(ctx context.Context, chatID int64, text string) {
	switch o := b.input.Handle(chatID, text).(type) {
	case input.NotAwaiting:
	case input.Accepted:
		b.subscribe(ctx, chatID, o.Interval, o.Label)
	default:
		b.log.Warn("invalid interval input", "chat_id", chatID, "text", text)
		b.reply(ctx, chatID, FormatInputError(o))
	}
}

// subscribe reports whether the chat ended up with the requested schedule.
func (b *Bot) subscribe(ctx context.Context, chatID int64, interval time.Duration, label string) bool {
	err := b.subs.Subscribe(ctx, chatID, interval, label)
	if err != nil {
		b.log.Error("subscribe", "chat_id", chatID, "interval", interval, "error", err)
	}
	if entry, ok := b.subs.Schedule(chatID); !ok || entry.Interval != interval {
		b.reply(ctx, chatID, "Failed to set the schedule. Please try again later.")
		return false
	}
	b.reply(ctx, chatID, FormatScheduleSet(label))
	return true
}
