package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"digest_bot/migrations"
)

const usage = `Usage: migrate [-db path] <command> [args]

Schema commands:
  up              Migrate to the latest version
  up-one          Migrate one version up
  down            Roll back one version
  status          Show migration status and stored row counts
  version         Show current version
  reset           Roll back all migrations (drops stored news and schedules)

Store commands:
  schedules       List persisted digest schedules
  prune <age>     Delete news published more than <age> ago (e.g. 72h)
  clear           Delete all stored news, keeping schedules
`

func main() {
	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/digest.db"), "path to sqlite database")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *dbPath, args, os.Stdout); err != nil {
		log.Fatalf("%s: %v", args[0], err)
	}
}

func run(ctx context.Context, dbPath string, args []string, out io.Writer) error {
	switch args[0] {
	case "up", "up-one", "down", "status", "version", "reset":
		return schema(ctx, dbPath, args[0], out)
	case "schedules", "prune", "clear":
		return maintain(ctx, dbPath, args[0], args[1:], out)
	default:
		return fmt.Errorf("unknown command")
	}
}

func schema(ctx context.Context, dbPath, cmd string, out io.Writer) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := migrations.Setup(); err != nil {
		return err
	}

	switch cmd {
	case "up":
		return goose.UpContext(ctx, db, ".")
	case "up-one":
		return goose.UpByOneContext(ctx, db, ".")
	case "down":
		return goose.DownContext(ctx, db, ".")
	case "version":
		return goose.VersionContext(ctx, db, ".")
	case "reset":
		return goose.ResetContext(ctx, db, ".")
	}

	if err := goose.StatusContext(ctx, db, "."); err != nil {
		return err
	}
	return printCounts(ctx, db, out)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
