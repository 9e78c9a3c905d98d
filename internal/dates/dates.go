// Package dates normalizes upstream feed timestamps.
package dates

import (
	"log/slog"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"digest_bot/internal/metrics"
)

// Layouts lists the known upstream timestamp layouts in the order they are tried.
var Layouts = []string{
	"Mon, 02 Jan 2006 15:04:05 MST",
	"2006-01-02T15:04:05Z",
	"Mon, 02 Jan 2006 15:04:05 -0700",
	time.RFC3339,
}

// Normalizer converts raw timestamp strings into UTC instants.
type Normalizer struct {
	now func() time.Time
	log *slog.Logger
}

// New creates a Normalizer that falls back to the wall clock.
func New(log *slog.Logger) *Normalizer {
	return &Normalizer{now: time.Now, log: log}
}

// NewWithClock creates a Normalizer with a custom fallback clock (useful for testing).
func NewWithClock(now func() time.Time, log *slog.Logger) *Normalizer {
	return &Normalizer{now: now, log: log}
}

// Parse tries every known layout, then a lenient parse.
// The second return value is false when nothing matched.
func (n *Normalizer) Parse(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range Layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if t, err := dateparse.ParseIn(s, time.UTC); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// Normalize returns the parsed instant, or the current time when raw is unparseable.
// Every fallback is logged and counted because it misdates the item.
func (n *Normalizer) Normalize(raw string) time.Time {
	if t, ok := n.Parse(raw); ok {
		return t
	}
	metrics.DateFallbacks.Inc()
	n.log.Warn("unparseable timestamp, using current time", "raw", raw)
	return n.now().UTC()
}
