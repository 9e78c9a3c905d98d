package digest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"digest_bot/internal/metrics"
	"digest_bot/internal/model"
	"digest_bot/internal/scheduler"
)

// Scheduler is the subset of scheduler.Registry the service drives.
type Scheduler interface {
	SetSchedule(recipientID int64, interval time.Duration, label string, onFire scheduler.FireFunc) error
	CancelSchedule(recipientID int64) bool
	CancelIfCurrent(recipientID int64, gen uint64) bool
	Entry(recipientID int64) (model.ScheduleEntry, bool)
	Trigger(recipientID int64) bool
}

// ScheduleStore persists schedules across restarts.
type ScheduleStore interface {
	SaveSchedule(ctx context.Context, rec model.ScheduleRecord) error
	DeleteSchedule(ctx context.Context, recipientID int64) error
	ListSchedules(ctx context.Context) ([]model.ScheduleRecord, error)
}

// Service manages recipient subscriptions. The registry is the source of
// truth while the process runs; the store only lets schedules survive a restart.
// mu keeps each registry change and its store write together.
type Service struct {
	mu                sync.Mutex
	registry          Scheduler
	store             ScheduleStore
	dispatcher        *Dispatcher
	digestOnSubscribe bool
	log               *slog.Logger
}

// NewService wires the dispatcher to the registry. When digestOnSubscribe is
// set, a new subscription gets its first digest right away.
func NewService(registry Scheduler, store ScheduleStore, dispatcher *Dispatcher, digestOnSubscribe bool, log *slog.Logger) *Service {
	return &Service{
		registry:          registry,
		store:             store,
		dispatcher:        dispatcher,
		digestOnSubscribe: digestOnSubscribe,
		log:               log,
	}
}

// Subscribe installs or replaces the recipient's schedule and persists it.
// A persistence error is returned, but the schedule stays live.
func (s *Service) Subscribe(ctx context.Context, recipientID int64, interval time.Duration, label string) error {
	s.mu.Lock()
	if err := s.registry.SetSchedule(recipientID, interval, label, s.fire); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("set schedule: %w", err)
	}
	rec := model.ScheduleRecord{
		RecipientID:     recipientID,
		IntervalMinutes: int(interval / time.Minute),
		Label:           label,
	}
	err := s.store.SaveSchedule(ctx, rec)
	s.mu.Unlock()

	if err != nil {
		s.log.Error("persist schedule", "chat_id", recipientID, "error", err)
	}
	if s.digestOnSubscribe {
		s.registry.Trigger(recipientID)
	}
	return err
}

// Unsubscribe removes the recipient's schedule. It reports whether one was live.
func (s *Service) Unsubscribe(ctx context.Context, recipientID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.registry.CancelSchedule(recipientID)
	if err := s.store.DeleteSchedule(ctx, recipientID); err != nil {
		s.log.Error("delete persisted schedule", "chat_id", recipientID, "error", err)
		return removed, err
	}
	return removed, nil
}

// Schedule returns the recipient's live schedule.
func (s *Service) Schedule(recipientID int64) (model.ScheduleEntry, bool) {
	return s.registry.Entry(recipientID)
}

// SendNow dispatches a digest outside the timer. It reports false when the
// recipient has no schedule or a digest is already being prepared.
func (s *Service) SendNow(recipientID int64) bool {
	return s.registry.Trigger(recipientID)
}

// Restore reinstalls persisted schedules and returns how many are live.
func (s *Service) Restore(ctx context.Context) (int, error) {
	recs, err := s.store.ListSchedules(ctx)
	if err != nil {
		return 0, fmt.Errorf("list schedules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, rec := range recs {
		e := rec.Entry()
		if err := s.registry.SetSchedule(e.RecipientID, e.Interval, e.Label, s.fire); err != nil {
			s.log.Warn("skip persisted schedule", "chat_id", e.RecipientID, "interval_minutes", rec.IntervalMinutes, "error", err)
			continue
		}
		n++
	}
	s.log.Info("schedules restored", "count", n, "persisted", len(recs))
	return n, nil
}

func (s *Service) fire(ctx context.Context, recipientID int64, gen uint64) {
	if s.dispatcher.Dispatch(ctx, recipientID) != metrics.OutcomePermanent {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The recipient may have subscribed again while this digest was in flight.
	if !s.registry.CancelIfCurrent(recipientID, gen) {
		s.log.Info("delivery failed for a replaced schedule, keeping the new one", "chat_id", recipientID)
		return
	}
	if err := s.store.DeleteSchedule(ctx, recipientID); err != nil {
		s.log.Error("auto-unsubscribe", "chat_id", recipientID, "error", err)
		return
	}
	s.log.Info("unreachable recipient unsubscribed", "chat_id", recipientID)
}
