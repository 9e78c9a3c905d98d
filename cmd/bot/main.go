package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"digest_bot/internal/bot"
	"digest_bot/internal/config"
	"digest_bot/internal/dates"
	"digest_bot/internal/digest"
	"digest_bot/internal/fetcher"
	"digest_bot/internal/filter"
	"digest_bot/internal/ingest"
	"digest_bot/internal/input"
	"digest_bot/internal/scheduler"
	"digest_bot/internal/storage"
	"digest_bot/internal/summarizer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Error("create bot api", "error", err)
		os.Exit(1)
	}
	log.Info("authorized", "username", api.Self.UserName)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, log)
	}

	f := fetcher.New(http.DefaultClient, fetcher.Options{
		BaseURL:   cfg.FeedBaseURL,
		ItemLimit: cfg.FeedItemLimit,
		Timeout:   cfg.FetchTimeout,
	}, dates.New(log))

	rules, err := filter.Parse(cfg.FeedInclude, cfg.FeedExclude)
	if err != nil {
		log.Error("parse feed filters", "error", err)
		os.Exit(1)
	}

	pipeline := ingest.New(store, f, cfg.FeedSources, cfg.IngestPolicy, cfg.IngestWorkers, log)
	pipeline.SetTickInterval(cfg.IngestInterval)
	pipeline.SetFilter(rules)

	transport := bot.NewTransport(api, cfg.SendRate, log)
	summ := summarizer.NewOllama(http.DefaultClient, cfg.SummarizerURL, cfg.SummarizerModel, cfg.SummarizerTimeout)
	dispatcher := digest.NewDispatcher(store, summ, transport, digest.Options{
		Window:    cfg.DigestWindow,
		Limit:     cfg.DigestLimit,
		BodyChars: cfg.DigestBodyChars,
	}, log)

	registry := scheduler.New(nil, cfg.DispatchWorkers, log)
	svc := digest.NewService(registry, store, dispatcher, cfg.DigestOnSubscribe, log)

	if _, err := svc.Restore(ctx); err != nil {
		log.Error("restore schedules", "error", err)
	}

	b := bot.New(api, transport, svc, input.NewMachine(), cfg, log)

	log.Info("starting bot",
		"sources", len(cfg.FeedSources),
		"ingest_interval", cfg.IngestInterval,
		"ingest_policy", cfg.IngestPolicy,
	)

	var harvest sync.WaitGroup
	harvest.Add(1)
	go func() {
		defer harvest.Done()
		pipeline.Run(ctx)
	}()

	b.Run(ctx)

	// Harvests and digests use the store; both finish before it is closed.
	cancel()
	harvest.Wait()
	registry.Stop()
	log.Info("bot stopped")
}

func serveMetrics(ctx context.Context, addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
