package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"digest_bot/internal/model"
)

// MaxMessageLength is the Telegram limit on message text, in characters.
const MaxMessageLength = 4096

// Error descriptions Telegram returns with 400 when the chat can no longer be written to.
var unreachableDescriptions = []string{
	"chat not found",
	"not enough rights",
	"have no rights",
	"chat_write_forbidden",
	"bot was kicked",
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Transport sends messages through the Bot API under a global rate limit.
type Transport struct {
	api     sender
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewTransport creates a Transport allowing perSecond requests per second.
func NewTransport(api sender, perSecond float64, log *slog.Logger) *Transport {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &Transport{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		log:     log,
	}
}

// SendMessage delivers text, split into several messages when it is too long.
// It returns the ID of the first message. Errors are *model.DeliveryError values.
func (t *Transport) SendMessage(ctx context.Context, chatID int64, text string) (int, error) {
	parts := SplitText(text, MaxMessageLength)
	if len(parts) > 1 {
		t.log.Debug("long message split", "chat_id", chatID, "parts", len(parts))
	}

	first := 0
	for i, part := range parts {
		if err := t.limiter.Wait(ctx); err != nil {
			return first, model.Transient(fmt.Errorf("rate limit wait: %w", err))
		}

		msg := tgbotapi.NewMessage(chatID, part)
		msg.DisableWebPagePreview = true
		sent, err := t.api.Send(msg)
		if err != nil {
			return first, Classify(err)
		}
		if i == 0 {
			first = sent.MessageID
		}
	}
	return first, nil
}

// SendKeyboard sends a short message carrying an inline keyboard.
func (t *Transport) SendKeyboard(ctx context.Context, chatID int64, text string, markup tgbotapi.InlineKeyboardMarkup) (int, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, model.Transient(fmt.Errorf("rate limit wait: %w", err))
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup
	sent, err := t.api.Send(msg)
	if err != nil {
		return 0, Classify(err)
	}
	return sent.MessageID, nil
}

// DeleteMessage removes a message. Callers treat failures as best-effort.
func (t *Transport) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return model.Transient(fmt.Errorf("rate limit wait: %w", err))
	}
	if _, err := t.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return Classify(err)
	}
	return nil
}

// Classify maps a Bot API error onto a delivery failure kind.
func Classify(err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return model.Transient(err)
	}

	switch apiErr.Code {
	case http.StatusForbidden:
		return model.Permanent(err)
	case http.StatusBadRequest:
		desc := strings.ToLower(apiErr.Message)
		for _, s := range unreachableDescriptions {
			if strings.Contains(desc, s) {
				return model.Permanent(err)
			}
		}
	}
	return model.Transient(err)
}

// SplitText cuts text into chunks of at most limit characters, preferring line breaks.
func SplitText(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
