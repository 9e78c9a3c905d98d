// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"time"

	"digest_bot/internal/model"
)

// Storage is the interface for all persistence operations.
type Storage interface {
	EnsureSchema(ctx context.Context) error

	InsertIfAbsent(ctx context.Context, item *model.FeedItem) (bool, error)
	RecentItems(ctx context.Context, window time.Duration, limit int) ([]model.FeedItem, error)
	CountItems(ctx context.Context) (int, error)
	ClearAll(ctx context.Context) error
	ReplaceAll(ctx context.Context, items []model.FeedItem) ([]bool, error)
	Prune(ctx context.Context, age time.Duration) (int64, error)

	SaveSchedule(ctx context.Context, rec model.ScheduleRecord) error
	DeleteSchedule(ctx context.Context, recipientID int64) error
	ListSchedules(ctx context.Context) ([]model.ScheduleRecord, error)

	Close() error
}
