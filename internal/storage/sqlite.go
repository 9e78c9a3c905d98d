package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"digest_bot/internal/model"
	"digest_bot/migrations"
)

// timeLayout sorts lexicographically in chronological order for UTC values.
const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

var _ Storage = (*SQLite)(nil)

// NewSQLite opens a SQLite database at dsn and ensures the schema exists.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: SQLite has a single writer, and ":memory:" databases are per-connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &SQLite{db: db, now: time.Now}
	if err := s.EnsureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema applies pending migrations. Safe to call on every startup.
func (s *SQLite) EnsureSchema(ctx context.Context) error {
	if err := migrations.Run(ctx, s.db); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// InsertIfAbsent stores item unless an item with the same SourceID exists.
// It reports whether a row was inserted and populates item.ID when it was.
// Existing rows are never updated.
func (s *SQLite) InsertIfAbsent(ctx context.Context, item *model.FeedItem) (bool, error) {
	return s.insert(ctx, s.db, item)
}

// ReplaceAll deletes every stored item and inserts items in one transaction,
// so readers see either the old set or the new one. inserted[i] reports
// whether items[i] got a row; duplicates within items keep the first.
func (s *SQLite) ReplaceAll(ctx context.Context, items []model.FeedItem) ([]bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin replace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM news`); err != nil {
		return nil, fmt.Errorf("clear items: %w", err)
	}
	inserted := make([]bool, len(items))
	for i := range items {
		if items[i].SourceID == "" {
			continue
		}
		ok, err := s.insert(ctx, tx, &items[i])
		if err != nil {
			return nil, err
		}
		inserted[i] = ok
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit replace: %w", err)
	}
	return inserted, nil
}

func (s *SQLite) insert(ctx context.Context, ex execer, item *model.FeedItem) (bool, error) {
	if item.SourceID == "" {
		return false, fmt.Errorf("insert item: empty source id")
	}
	res, err := ex.ExecContext(ctx,
		`INSERT INTO news (source_id, origin, title, body, published_at, view_count, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_id) DO NOTHING`,
		item.SourceID, item.Origin, item.Title, item.Body,
		item.PublishedAt.UTC().Format(timeLayout), max(item.ViewCount, 0),
		s.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("insert item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if id, err := res.LastInsertId(); err == nil {
		item.ID = id
	}
	return true, nil
}

// RecentItems returns up to limit items published within window, newest first.
func (s *SQLite) RecentItems(ctx context.Context, window time.Duration, limit int) ([]model.FeedItem, error) {
	if limit <= 0 {
		return []model.FeedItem{}, nil
	}
	since := s.now().UTC().Add(-window).Format(timeLayout)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, origin, title, body, published_at, view_count
		 FROM news
		 WHERE published_at >= ?
		 ORDER BY published_at DESC, id DESC
		 LIMIT ?`,
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := []model.FeedItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CountItems returns the number of stored items.
func (s *SQLite) CountItems(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM news`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

// ClearAll deletes every stored item.
func (s *SQLite) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM news`); err != nil {
		return fmt.Errorf("clear items: %w", err)
	}
	return nil
}

// Prune deletes items published more than age ago and returns how many went.
func (s *SQLite) Prune(ctx context.Context, age time.Duration) (int64, error) {
	before := s.now().UTC().Add(-age).Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `DELETE FROM news WHERE published_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("prune items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// SaveSchedule creates or replaces the schedule record of a recipient.
func (s *SQLite) SaveSchedule(ctx context.Context, rec model.ScheduleRecord) error {
	now := s.now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules (recipient_id, interval_minutes, label, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(recipient_id) DO UPDATE SET
		     interval_minutes = excluded.interval_minutes,
		     label = excluded.label,
		     updated_at = excluded.updated_at`,
		rec.RecipientID, rec.IntervalMinutes, rec.Label, now,
	)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

// DeleteSchedule removes the schedule record of a recipient, if any.
func (s *SQLite) DeleteSchedule(ctx context.Context, recipientID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE recipient_id = ?`, recipientID)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}

// ListSchedules returns every persisted schedule record.
func (s *SQLite) ListSchedules(ctx context.Context) ([]model.ScheduleRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recipient_id, interval_minutes, label, updated_at FROM schedules ORDER BY recipient_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []model.ScheduleRecord
	for rows.Next() {
		var rec model.ScheduleRecord
		var updated string
		if err := rows.Scan(&rec.RecipientID, &rec.IntervalMinutes, &rec.Label, &updated); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		rec.UpdatedAt, _ = time.Parse(timeLayout, updated)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanItem(row scannable) (model.FeedItem, error) {
	var item model.FeedItem
	var published string
	err := row.Scan(&item.ID, &item.SourceID, &item.Origin, &item.Title, &item.Body, &published, &item.ViewCount)
	if err != nil {
		return item, fmt.Errorf("scan item: %w", err)
	}
	item.PublishedAt, _ = time.Parse(timeLayout, published)
	return item, nil
}
