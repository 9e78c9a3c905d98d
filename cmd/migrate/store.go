package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"digest_bot/internal/storage"
)

// maintain runs a store command. Opening the store applies pending migrations.
func maintain(ctx context.Context, dbPath, cmd string, args []string, out io.Writer) error {
	var age time.Duration
	if cmd == "prune" {
		if len(args) != 1 {
			return errors.New("usage: prune <age>")
		}
		d, err := time.ParseDuration(args[0])
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid age %q: must be a positive duration", args[0])
		}
		age = d
	}

	store, err := storage.NewSQLite(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	switch cmd {
	case "prune":
		n, err := store.Prune(ctx, age)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "pruned %d items older than %s\n", n, age)
	case "clear":
		n, err := store.CountItems(ctx)
		if err != nil {
			return err
		}
		if err := store.ClearAll(ctx); err != nil {
			return err
		}
		fmt.Fprintf(out, "cleared %d items\n", n)
	case "schedules":
		recs, err := store.ListSchedules(ctx)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Fprintln(out, "no schedules")
			return nil
		}
		for _, rec := range recs {
			fmt.Fprintf(out, "%d\tevery %s\t%d min\tupdated %s\n",
				rec.RecipientID, rec.Label, rec.IntervalMinutes, rec.UpdatedAt.Format(time.RFC3339))
		}
	}
	return nil
}

// printCounts reports row counts of the bot tables. Tables that do not exist
// yet are reported as not migrated.
func printCounts(ctx context.Context, db *sql.DB, out io.Writer) error {
	var (
		items          int
		oldest, newest sql.NullString
		schedules      int
	)
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(published_at), MAX(published_at) FROM news`,
	).Scan(&items, &oldest, &newest)
	switch {
	case isMissingTable(err):
		fmt.Fprintln(out, "news: not migrated")
	case err != nil:
		return fmt.Errorf("count news: %w", err)
	case items == 0:
		fmt.Fprintln(out, "news: 0 items")
	default:
		fmt.Fprintf(out, "news: %d items, published %s .. %s\n", items, oldest.String, newest.String)
	}

	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schedules`).Scan(&schedules)
	switch {
	case isMissingTable(err):
		fmt.Fprintln(out, "schedules: not migrated")
	case err != nil:
		return fmt.Errorf("count schedules: %w", err)
	default:
		fmt.Fprintf(out, "schedules: %d\n", schedules)
	}
	return nil
}

func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
