// Package digest builds news digests and delivers them on every schedule tick.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"digest_bot/internal/metrics"
	"digest_bot/internal/model"
)

// Fixed messages sent instead of a digest.
const (
	NoNewsMessage        = "There is no fresh economic news at the moment."
	SummaryFailedMessage = "Something went wrong while preparing the economic digest. Please try again later."
)

const digestHeader = "📈 Economic digest:"

const promptIntro = "Summarize the following economic news as a numbered list. " +
	"For each item give the title, a short summary (no more than 50 words) and the source. " +
	"Use this format:\n" +
	"1. **Title**: [title]\n   - Summary: [summary]\n   - Source: [source]\n\n" +
	"News:\n\n"

// ItemReader reads recent items from the store.
type ItemReader interface {
	RecentItems(ctx context.Context, window time.Duration, limit int) ([]model.FeedItem, error)
}

// Summarizer condenses a prompt into digest text.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Transport delivers messages to recipients. Delivery errors should be
// *model.DeliveryError values; anything else is treated as transient.
type Transport interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int, error)
}

// Options bounds what goes into one digest.
type Options struct {
	Window    time.Duration
	Limit     int
	BodyChars int
}

// Dispatcher produces and sends one digest per call.
type Dispatcher struct {
	items      ItemReader
	summarizer Summarizer
	transport  Transport
	opts       Options
	log        *slog.Logger
}

// NewDispatcher creates a Dispatcher. Zero options fall back to a 24h window,
// seven items and 500 characters per body.
func NewDispatcher(items ItemReader, summarizer Summarizer, transport Transport, opts Options, log *slog.Logger) *Dispatcher {
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if opts.Limit <= 0 {
		opts.Limit = 7
	}
	if opts.BodyChars <= 0 {
		opts.BodyChars = 500
	}
	return &Dispatcher{
		items:      items,
		summarizer: summarizer,
		transport:  transport,
		opts:       opts,
		log:        log,
	}
}

// Dispatch sends the recipient a digest of recent items and returns the
// outcome, one of the metrics.Outcome* values. A store error skips the tick
// without sending anything.
func (d *Dispatcher) Dispatch(ctx context.Context, recipientID int64) string {
	items, err := d.items.RecentItems(ctx, d.opts.Window, d.opts.Limit)
	if err != nil {
		d.log.Error("read recent items", "chat_id", recipientID, "error", err)
		metrics.RecordDigest(metrics.OutcomeStoreError)
		return metrics.OutcomeStoreError
	}

	text, outcome := d.compose(ctx, recipientID, items)

	if _, err := d.transport.SendMessage(ctx, recipientID, text); err != nil {
		outcome = metrics.OutcomeTransient
		if model.IsPermanent(err) {
			outcome = metrics.OutcomePermanent
			d.log.Warn("recipient unreachable", "chat_id", recipientID, "error", err)
		} else {
			d.log.Error("send digest", "chat_id", recipientID, "error", err)
		}
	} else {
		d.log.Info("digest sent", "chat_id", recipientID, "items", len(items), "outcome", outcome)
	}

	metrics.RecordDigest(outcome)
	return outcome
}

func (d *Dispatcher) compose(ctx context.Context, recipientID int64, items []model.FeedItem) (string, string) {
	if len(items) == 0 {
		return NoNewsMessage, metrics.OutcomeEmpty
	}

	summary, err := d.summarizer.Summarize(ctx, BuildPrompt(items, d.opts.BodyChars))
	if err == nil && strings.TrimSpace(summary) == "" {
		err = fmt.Errorf("blank summary")
	}
	if err != nil {
		d.log.Error("summarize digest", "chat_id", recipientID, "items", len(items), "error", err)
		return SummaryFailedMessage, metrics.OutcomeSummaryFail
	}

	return FormatDigest(strings.TrimSpace(summary), Origins(items)), metrics.OutcomeDelivered
}

// BuildPrompt lists title, source and truncated body of every item.
func BuildPrompt(items []model.FeedItem, bodyChars int) string {
	var b strings.Builder
	b.WriteString(promptIntro)
	for _, item := range items {
		fmt.Fprintf(&b, "Title: %s\nSource: %s\nText: %s\n\n", item.Title, item.Origin, truncate(item.Body, bodyChars))
	}
	return b.String()
}

// FormatDigest renders the message delivered to recipients.
func FormatDigest(summary string, origins []string) string {
	var b strings.Builder
	b.WriteString(digestHeader)
	b.WriteString("\n\n")
	b.WriteString(summary)
	if len(origins) > 0 {
		b.WriteString("\n\nSources: ")
		b.WriteString(strings.Join(origins, ", "))
	}
	return b.String()
}

// Origins returns the distinct origins of items in order of first appearance.
func Origins(items []model.FeedItem) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, item := range items {
		if item.Origin == "" || seen[item.Origin] {
			continue
		}
		seen[item.Origin] = true
		out = append(out, item.Origin)
	}
	return out
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
