// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"digest_bot/internal/model"
)

// DefaultSources are the channels harvested when FEED_SOURCES is unset.
var DefaultSources = []string{
	"multievan",
	"banki_oil",
	"biznes",
	"banki_economy",
	"suverenka",
	"cb_economics",
	"prostoecon",
	"retail_money",
	"strahovatelisfr",
	"bankglav",
}

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string
	AllowedUsers     []int64

	FeedSources    []string
	FeedInclude    []string
	FeedExclude    []string
	FeedBaseURL    string
	FeedItemLimit  int
	FetchTimeout   time.Duration
	IngestInterval time.Duration
	IngestPolicy   model.RetentionPolicy
	IngestWorkers  int

	DigestWindow      time.Duration
	DigestLimit       int
	DigestBodyChars   int
	DispatchWorkers   int
	DigestOnSubscribe bool
	SendRate          float64

	SummarizerURL     string
	SummarizerModel   string
	SummarizerTimeout time.Duration

	MetricsAddr string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	var allowedUsers []int64
	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			allowedUsers = append(allowedUsers, uid)
		}
	}

	sources := DefaultSources
	if raw := os.Getenv("FEED_SOURCES"); raw != "" {
		sources = splitList(raw)
		if len(sources) == 0 {
			return nil, fmt.Errorf("FEED_SOURCES has no sources")
		}
	}

	cfg := &Config{
		TelegramBotToken: token,
		DatabasePath:     envOrDefault("DATABASE_PATH", "./data/digest.db"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		AllowedUsers:     allowedUsers,
		FeedSources:      sources,
		FeedInclude:      splitList(os.Getenv("FEED_INCLUDE")),
		FeedExclude:      splitList(os.Getenv("FEED_EXCLUDE")),
		FeedBaseURL:      envOrDefault("FEED_BASE_URL", "https://tg.i-c-a.su/rss/"),
		SummarizerURL:    envOrDefault("SUMMARIZER_URL", "http://localhost:11434"),
		SummarizerModel:  envOrDefault("SUMMARIZER_MODEL", "llama3.1"),
		MetricsAddr:      os.Getenv("METRICS_ADDR"),
	}

	switch p := model.RetentionPolicy(envOrDefault("INGEST_POLICY", string(model.RetainAccumulate))); p {
	case model.RetainAccumulate, model.RetainRefill:
		cfg.IngestPolicy = p
	default:
		return nil, fmt.Errorf("invalid INGEST_POLICY %q, use: accumulate, refill", p)
	}

	ints := []struct {
		key string
		def int
		dst *int
	}{
		{"FEED_ITEM_LIMIT", 100, &cfg.FeedItemLimit},
		{"INGEST_WORKERS", 4, &cfg.IngestWorkers},
		{"DIGEST_LIMIT", 7, &cfg.DigestLimit},
		{"DIGEST_BODY_CHARS", 500, &cfg.DigestBodyChars},
		{"DISPATCH_WORKERS", 8, &cfg.DispatchWorkers},
	}
	for _, v := range ints {
		n, err := positiveInt(v.key, v.def)
		if err != nil {
			return nil, err
		}
		*v.dst = n
	}

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"FETCH_TIMEOUT", 15 * time.Second, &cfg.FetchTimeout},
		{"INGEST_INTERVAL", 10 * time.Minute, &cfg.IngestInterval},
		{"DIGEST_WINDOW", 24 * time.Hour, &cfg.DigestWindow},
		{"SUMMARIZER_TIMEOUT", 120 * time.Second, &cfg.SummarizerTimeout},
	}
	for _, v := range durations {
		d, err := positiveDuration(v.key, v.def)
		if err != nil {
			return nil, err
		}
		*v.dst = d
	}

	onSubscribe, err := boolValue("DIGEST_ON_SUBSCRIBE", true)
	if err != nil {
		return nil, err
	}
	cfg.DigestOnSubscribe = onSubscribe

	rate, err := positiveFloat("SEND_RATE", 20)
	if err != nil {
		return nil, err
	}
	cfg.SendRate = rate

	return cfg, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func positiveInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, raw)
	}
	return n, nil
}

func positiveDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration like 30s or 10m, got %q", key, raw)
	}
	return d, nil
}

func positiveFloat(key string, def float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("%s must be a positive number, got %q", key, raw)
	}
	return f, nil
}

func boolValue(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("%s must be true or false, got %q", key, raw)
	}
	return b, nil
}
