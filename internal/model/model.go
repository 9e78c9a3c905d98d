// Package model defines the domain types used across the application.
package model

import "time"

// FeedItem is a single news item harvested from a source.
type FeedItem struct {
	ID          int64
	SourceID    string
	Origin      string
	Title       string
	Body        string
	PublishedAt time.Time
	ViewCount   int
}

// ScheduleEntry describes the digest schedule of one recipient.
type ScheduleEntry struct {
	RecipientID int64
	Interval    time.Duration
	Label       string
}

// ScheduleRecord is the persisted form of a ScheduleEntry.
type ScheduleRecord struct {
	RecipientID     int64
	IntervalMinutes int
	Label           string
	UpdatedAt       time.Time
}

// Entry converts the record into a ScheduleEntry.
func (r ScheduleRecord) Entry() ScheduleEntry {
	return ScheduleEntry{
		RecipientID: r.RecipientID,
		Interval:    time.Duration(r.IntervalMinutes) * time.Minute,
		Label:       r.Label,
	}
}

// IntervalUnit is the unit a recipient is asked to type a custom interval in.
type IntervalUnit string

// Supported interval units.
const (
	UnitMinutes IntervalUnit = "minutes"
	UnitDays    IntervalUnit = "days"
)

// PendingInput tracks a recipient that was asked for a custom interval.
type PendingInput struct {
	RecipientID int64
	Unit        IntervalUnit
}

// RetentionPolicy controls what happens to stored items between ingestion cycles.
type RetentionPolicy string

// Supported retention policies.
const (
	// RetainAccumulate keeps every item ever harvested.
	RetainAccumulate RetentionPolicy = "accumulate"
	// RetainRefill clears the store before each cycle.
	RetainRefill RetentionPolicy = "refill"
)
