package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"

	"digest_bot/internal/model"
)

func newTestRegistry(t *testing.T, workers int) (*Registry, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	r := New(clock, workers, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(r.Stop)
	return r, clock
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

// idle reports whether no call for the recipient is running.
func idle(r *Registry, id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.busy[id]
}

func counter(n *atomic.Int32) FireFunc {
	return func(context.Context, int64, uint64) { n.Add(1) }
}

func TestSetScheduleFiresOnTick(t *testing.T) {
	r, clock := newTestRegistry(t, 4)

	fired := make(chan int64, 4)
	err := r.SetSchedule(100, time.Hour, "hour", func(_ context.Context, id int64, _ uint64) { fired <- id })
	if err != nil {
		t.Fatalf("set schedule: %v", err)
	}

	select {
	case <-fired:
		t.Fatal("fired before the interval elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	clock.Advance(time.Hour)

	select {
	case id := <-fired:
		if diff := cmp.Diff(int64(100), id); diff != "" {
			t.Errorf("recipient mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("schedule did not fire after one interval")
	}
}

func TestSetScheduleRejectsInvalidInterval(t *testing.T) {
	r, _ := newTestRegistry(t, 1)

	var n atomic.Int32
	if err := r.SetSchedule(1, time.Hour, "hour", counter(&n)); err != nil {
		t.Fatalf("set schedule: %v", err)
	}

	for _, d := range []time.Duration{0, -time.Minute} {
		if err := r.SetSchedule(1, d, "bad", counter(&n)); !errors.Is(err, ErrInvalidInterval) {
			t.Errorf("SetSchedule(%v) error = %v, want ErrInvalidInterval", d, err)
		}
	}

	got, ok := r.Entry(1)
	if !ok {
		t.Fatal("prior schedule must survive a rejected update")
	}
	want := model.ScheduleEntry{RecipientID: 1, Interval: time.Hour, Label: "hour"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}
}

func TestReconfigureKeepsSingleTimer(t *testing.T) {
	r, _ := newTestRegistry(t, 1)

	var n atomic.Int32
	intervals := []time.Duration{time.Hour, 24 * time.Hour, 30 * time.Minute, 7 * 24 * time.Hour, 2 * time.Hour}
	for _, d := range intervals {
		if err := r.SetSchedule(42, d, d.String(), counter(&n)); err != nil {
			t.Fatalf("set schedule %v: %v", d, err)
		}
		if diff := cmp.Diff(1, r.ActiveTimers()); diff != "" {
			t.Fatalf("active timers after %v (-want +got):\n%s", d, diff)
		}
	}

	want := []model.ScheduleEntry{{RecipientID: 42, Interval: 2 * time.Hour, Label: "2h0m0s"}}
	if diff := cmp.Diff(want, r.Entries()); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestReconfigureNoDoubleFire(t *testing.T) {
	r, clock := newTestRegistry(t, 4)

	var oldCalls, newCalls atomic.Int32
	if err := r.SetSchedule(7, 2*24*time.Hour, "2 days", counter(&oldCalls)); err != nil {
		t.Fatalf("set 2 days: %v", err)
	}
	if err := r.SetSchedule(7, time.Hour, "hour", counter(&newCalls)); err != nil {
		t.Fatalf("set hourly: %v", err)
	}

	// Span both the new and the old interval.
	for i := 0; i < 48; i++ {
		clock.Advance(time.Hour)
		want := int32(i + 1)
		waitFor(t, func() bool { return newCalls.Load() >= want && idle(r, 7) }, "hourly tick")
	}

	if diff := cmp.Diff(int32(0), oldCalls.Load()); diff != "" {
		t.Errorf("replaced timer fired (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1, r.ActiveTimers()); diff != "" {
		t.Errorf("active timers (-want +got):\n%s", diff)
	}
}

func TestCancelScheduleStopsFiring(t *testing.T) {
	r, clock := newTestRegistry(t, 1)

	var n atomic.Int32
	if err := r.SetSchedule(5, time.Minute, "1 minute", counter(&n)); err != nil {
		t.Fatalf("set schedule: %v", err)
	}

	if !r.CancelSchedule(5) {
		t.Fatal("expected CancelSchedule to report an existing schedule")
	}
	if r.CancelSchedule(5) {
		t.Error("second CancelSchedule must be a no-op")
	}
	if r.HasSchedule(5) {
		t.Error("schedule still present after cancel")
	}

	for i := 0; i < 10; i++ {
		clock.Advance(time.Minute)
	}
	time.Sleep(20 * time.Millisecond)

	if diff := cmp.Diff(int32(0), n.Load()); diff != "" {
		t.Errorf("calls after cancel (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(0, r.ActiveTimers()); diff != "" {
		t.Errorf("active timers (-want +got):\n%s", diff)
	}
}

func TestCancelScheduleUnknownRecipient(t *testing.T) {
	r, _ := newTestRegistry(t, 1)
	if r.CancelSchedule(404) {
		t.Error("cancel of unknown recipient must report false")
	}
}

func TestCancelIfCurrentIgnoresReplacedSchedule(t *testing.T) {
	r, clock := newTestRegistry(t, 2)

	gens := make(chan uint64, 4)
	onFire := func(_ context.Context, _ int64, gen uint64) { gens <- gen }
	if err := r.SetSchedule(4, time.Hour, "hour", onFire); err != nil {
		t.Fatalf("set: %v", err)
	}
	clock.Advance(time.Hour)
	var old uint64
	select {
	case old = <-gens:
	case <-time.After(2 * time.Second):
		t.Fatal("first schedule did not fire")
	}

	if err := r.SetSchedule(4, 2*time.Hour, "2 hours", onFire); err != nil {
		t.Fatalf("reset: %v", err)
	}
	current, ok := r.Generation(4)
	if !ok || current == old {
		t.Fatalf("Generation = (%d, %v), want a new id after reset (old %d)", current, ok, old)
	}

	if r.CancelIfCurrent(4, old) {
		t.Error("cancel with a replaced generation must report false")
	}
	entry, ok := r.Entry(4)
	if !ok {
		t.Fatal("replacement schedule was removed")
	}
	if diff := cmp.Diff(2*time.Hour, entry.Interval); diff != "" {
		t.Errorf("interval (-want +got):\n%s", diff)
	}

	if !r.CancelIfCurrent(4, current) {
		t.Error("cancel with the current generation must report true")
	}
	if r.HasSchedule(4) {
		t.Error("schedule still live after CancelIfCurrent")
	}
	if diff := cmp.Diff(0, r.ActiveTimers()); diff != "" {
		t.Errorf("active timers (-want +got):\n%s", diff)
	}
}

func TestCancelDuringInFlightTick(t *testing.T) {
	r, clock := newTestRegistry(t, 2)

	started := make(chan struct{}, 8)
	release := make(chan struct{})
	var calls atomic.Int32
	onFire := func(context.Context, int64, uint64) {
		calls.Add(1)
		started <- struct{}{}
		<-release
	}
	if err := r.SetSchedule(9, time.Hour, "hour", onFire); err != nil {
		t.Fatalf("set schedule: %v", err)
	}

	clock.Advance(time.Hour)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first tick did not start")
	}

	r.CancelSchedule(9)
	close(release)

	for i := 0; i < 5; i++ {
		clock.Advance(time.Hour)
	}
	time.Sleep(20 * time.Millisecond)

	if diff := cmp.Diff(int32(1), calls.Load()); diff != "" {
		t.Errorf("only the in-flight call may run (-want +got):\n%s", diff)
	}
}

func TestTicksNeverOverlap(t *testing.T) {
	r, _ := newTestRegistry(t, 4)

	started := make(chan struct{}, 8)
	release := make(chan struct{})
	var running, maxRunning atomic.Int32
	onFire := func(context.Context, int64, uint64) {
		cur := running.Add(1)
		for {
			old := maxRunning.Load()
			if cur <= old || maxRunning.CompareAndSwap(old, cur) {
				break
			}
		}
		started <- struct{}{}
		<-release
		running.Add(-1)
	}
	if err := r.SetSchedule(3, time.Hour, "hour", onFire); err != nil {
		t.Fatalf("set schedule: %v", err)
	}

	if !r.Trigger(3) {
		t.Fatal("first trigger must start a call")
	}
	<-started

	if r.Trigger(3) {
		t.Error("trigger while running must be skipped")
	}

	// Reconfiguring does not let the new timer overlap the running call.
	if err := r.SetSchedule(3, time.Minute, "1 minute", onFire); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	if r.Trigger(3) {
		t.Error("trigger after reconfigure must wait for the in-flight call")
	}

	close(release)
	waitFor(t, func() bool { return running.Load() == 0 }, "in-flight call to finish")
	waitFor(t, func() bool { return r.Trigger(3) }, "trigger after release")

	if diff := cmp.Diff(int32(1), maxRunning.Load()); diff != "" {
		t.Errorf("max concurrent calls for one recipient (-want +got):\n%s", diff)
	}
}

func TestTriggerWithoutSchedule(t *testing.T) {
	r, _ := newTestRegistry(t, 1)
	if r.Trigger(1) {
		t.Error("trigger without schedule must report false")
	}
}

func TestWorkerPoolBound(t *testing.T) {
	r, _ := newTestRegistry(t, 2)

	release := make(chan struct{})
	var running, maxRunning, done atomic.Int32
	onFire := func(context.Context, int64, uint64) {
		cur := running.Add(1)
		for {
			old := maxRunning.Load()
			if cur <= old || maxRunning.CompareAndSwap(old, cur) {
				break
			}
		}
		<-release
		running.Add(-1)
		done.Add(1)
	}

	for id := int64(1); id <= 5; id++ {
		if err := r.SetSchedule(id, time.Hour, "hour", onFire); err != nil {
			t.Fatalf("set schedule %d: %v", id, err)
		}
		if !r.Trigger(id) {
			t.Fatalf("trigger %d did not start", id)
		}
	}

	waitFor(t, func() bool { return running.Load() == 2 }, "two workers busy")
	time.Sleep(20 * time.Millisecond)
	close(release)
	waitFor(t, func() bool { return done.Load() == 5 }, "all calls to finish")

	if diff := cmp.Diff(int32(2), maxRunning.Load()); diff != "" {
		t.Errorf("max concurrent calls (-want +got):\n%s", diff)
	}
}

func TestIndependentRecipients(t *testing.T) {
	r, clock := newTestRegistry(t, 4)

	var hourly, daily atomic.Int32
	if err := r.SetSchedule(1, time.Hour, "hour", counter(&hourly)); err != nil {
		t.Fatalf("set hourly: %v", err)
	}
	if err := r.SetSchedule(2, 24*time.Hour, "day", counter(&daily)); err != nil {
		t.Fatalf("set daily: %v", err)
	}

	for i := 0; i < 24; i++ {
		clock.Advance(time.Hour)
		want := int32(i + 1)
		waitFor(t, func() bool { return hourly.Load() >= want && idle(r, 1) && idle(r, 2) }, "hourly tick")
	}
	waitFor(t, func() bool { return daily.Load() == 1 }, "daily tick")

	r.CancelSchedule(1)
	if !r.HasSchedule(2) {
		t.Error("cancelling one recipient must not affect another")
	}
}

func TestPanickingCallbackIsContained(t *testing.T) {
	r, _ := newTestRegistry(t, 1)

	var calls atomic.Int32
	onFire := func(context.Context, int64, uint64) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
	}
	if err := r.SetSchedule(1, time.Hour, "hour", onFire); err != nil {
		t.Fatalf("set schedule: %v", err)
	}

	r.Trigger(1)
	waitFor(t, func() bool { return r.Trigger(1) }, "registry to recover after panic")
	waitFor(t, func() bool { return calls.Load() == 2 }, "second call")
}

func TestStop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := New(clock, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var n atomic.Int32
	if err := r.SetSchedule(1, time.Hour, "hour", counter(&n)); err != nil {
		t.Fatalf("set schedule: %v", err)
	}

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	if diff := cmp.Diff(0, r.ActiveTimers()); diff != "" {
		t.Errorf("active timers after stop (-want +got):\n%s", diff)
	}
	if err := r.SetSchedule(1, time.Hour, "hour", counter(&n)); !errors.Is(err, ErrStopped) {
		t.Errorf("SetSchedule after Stop error = %v, want ErrStopped", err)
	}
}

func TestConcurrentSetAndCancel(t *testing.T) {
	r, clock := newTestRegistry(t, 4)

	var n atomic.Int32
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if (g+i)%3 == 0 {
					r.CancelSchedule(11)
					continue
				}
				_ = r.SetSchedule(11, time.Duration(g+1)*time.Minute, "x", counter(&n))
			}
		}(g)
	}
	wg.Wait()
	clock.Advance(time.Hour)

	timers := r.ActiveTimers()
	if timers > 1 {
		t.Errorf("at most one timer may be active, got %d", timers)
	}
	if diff := cmp.Diff(r.HasSchedule(11), timers == 1); diff != "" {
		t.Errorf("timer count disagrees with entry presence (-want +got):\n%s", diff)
	}
}
