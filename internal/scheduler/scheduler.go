// Package scheduler keeps one repeating digest timer per recipient.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"

	"digest_bot/internal/metrics"
	"digest_bot/internal/model"
)

// Registry errors.
var (
	ErrInvalidInterval = errors.New("interval must be positive")
	ErrStopped         = errors.New("scheduler stopped")
)

// FireFunc is invoked on every tick of a recipient's schedule. gen identifies
// the schedule the tick belongs to; see CancelIfCurrent.
type FireFunc func(ctx context.Context, recipientID int64, gen uint64)

type entry struct {
	model.ScheduleEntry
	gen    uint64
	onFire FireFunc
	handle *Handle
}

// Registry owns every recipient's schedule. For a recipient there is at most
// one entry and one live timer, and onFire calls never overlap: a tick that
// comes due while the previous call is still running is skipped.
type Registry struct {
	clock clockwork.Clock
	sem   *semaphore.Weighted
	log   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[int64]*entry
	busy    map[int64]bool
	timers  int
	gen     uint64
	stopped bool

	loops    sync.WaitGroup
	inflight sync.WaitGroup
}

// New creates a Registry. At most workers onFire calls run at once.
func New(clock clockwork.Clock, workers int, log *slog.Logger) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		clock:   clock,
		sem:     semaphore.NewWeighted(int64(workers)),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[int64]*entry),
		busy:    make(map[int64]bool),
	}
}

// SetSchedule installs a repeating timer for the recipient, replacing any
// previous one. The old timer is stopped before the new one is created.
func (r *Registry) SetSchedule(recipientID int64, interval time.Duration, label string, onFire FireFunc) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}
	if onFire == nil {
		return fmt.Errorf("set schedule: nil callback")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return ErrStopped
	}

	replaced := false
	if old, ok := r.entries[recipientID]; ok {
		old.handle.Cancel()
		r.timers--
		replaced = true
	}

	r.gen++
	e := &entry{
		ScheduleEntry: model.ScheduleEntry{RecipientID: recipientID, Interval: interval, Label: label},
		gen:           r.gen,
		onFire:        onFire,
	}
	e.handle = every(r.clock, interval, &r.loops, func() { r.fire(e) })
	r.timers++
	r.entries[recipientID] = e
	metrics.ActiveSchedules.Set(float64(len(r.entries)))

	r.log.Info("schedule set", "chat_id", recipientID, "interval", interval, "label", label, "replaced", replaced)
	return nil
}

// CancelSchedule removes the recipient's schedule. It reports whether one existed.
// Once it returns no new onFire call starts for the recipient; a call already
// in flight may complete.
func (r *Registry) CancelSchedule(recipientID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[recipientID]
	if !ok {
		return false
	}
	r.remove(e)
	return true
}

// CancelIfCurrent removes the recipient's schedule only if it is still the
// one identified by gen. A schedule set again since then is left alone.
func (r *Registry) CancelIfCurrent(recipientID int64, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[recipientID]
	if !ok || e.gen != gen {
		return false
	}
	r.remove(e)
	return true
}

// Generation returns the id of the recipient's current schedule.
func (r *Registry) Generation(recipientID int64) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[recipientID]
	if !ok {
		return 0, false
	}
	return e.gen, true
}

// remove must be called with r.mu held.
func (r *Registry) remove(e *entry) {
	e.handle.Cancel()
	r.timers--
	delete(r.entries, e.RecipientID)
	metrics.ActiveSchedules.Set(float64(len(r.entries)))

	r.log.Info("schedule cancelled", "chat_id", e.RecipientID, "gen", e.gen)
}

// HasSchedule reports whether the recipient has a live schedule.
func (r *Registry) HasSchedule(recipientID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[recipientID]
	return ok
}

// Entry returns the recipient's schedule.
func (r *Registry) Entry(recipientID int64) (model.ScheduleEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[recipientID]
	if !ok {
		return model.ScheduleEntry{}, false
	}
	return e.ScheduleEntry, true
}

// Entries returns every live schedule ordered by recipient.
func (r *Registry) Entries() []model.ScheduleEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ScheduleEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.ScheduleEntry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecipientID < out[j].RecipientID })
	return out
}

// ActiveTimers returns the number of live timers across all recipients.
func (r *Registry) ActiveTimers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timers
}

// Trigger fires the recipient's schedule now, outside its timer.
// It reports false when there is no schedule or a call is already running.
func (r *Registry) Trigger(recipientID int64) bool {
	r.mu.Lock()
	e, ok := r.entries[recipientID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return r.fire(e)
}

// Stop cancels every schedule and waits for running calls to return.
func (r *Registry) Stop() {
	r.mu.Lock()
	r.stopped = true
	for id, e := range r.entries {
		e.handle.Cancel()
		r.timers--
		delete(r.entries, id)
	}
	metrics.ActiveSchedules.Set(0)
	r.mu.Unlock()

	r.cancel()
	r.loops.Wait()
	r.inflight.Wait()
}

// fire decides under the lock whether e may start a call: it must still be
// the recipient's current entry and no call for the recipient may be running.
func (r *Registry) fire(e *entry) bool {
	id := e.RecipientID

	r.mu.Lock()
	if r.entries[id] != e {
		r.mu.Unlock()
		return false
	}
	if r.busy[id] {
		r.mu.Unlock()
		metrics.SkippedTicks.Inc()
		r.log.Debug("previous digest still running, tick skipped", "chat_id", id)
		return false
	}
	r.busy[id] = true
	r.inflight.Add(1)
	r.mu.Unlock()

	go r.run(e)
	return true
}

func (r *Registry) run(e *entry) {
	id := e.RecipientID
	defer r.inflight.Done()
	defer func() {
		r.mu.Lock()
		delete(r.busy, id)
		r.mu.Unlock()
	}()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("digest callback panicked", "chat_id", id, "panic", p)
		}
	}()

	if err := r.sem.Acquire(r.ctx, 1); err != nil {
		return
	}
	defer r.sem.Release(1)

	// The schedule may have been cancelled while waiting for a worker.
	r.mu.Lock()
	current := r.entries[id] == e
	r.mu.Unlock()
	if !current {
		return
	}

	e.onFire(r.ctx, id, e.gen)
}
