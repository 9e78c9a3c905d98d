package input

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"digest_bot/internal/model"
)

func TestHandle(t *testing.T) {
	tests := []struct {
		name        string
		unit        model.IntervalUnit
		text        string
		want        Outcome
		stillAwaits bool
	}{
		{"minutes", model.UnitMinutes, "30", Accepted{Interval: 30 * time.Minute, Label: "30 minutes"}, false},
		{"one minute", model.UnitMinutes, "1", Accepted{Interval: time.Minute, Label: "1 minute"}, false},
		{"surrounding spaces", model.UnitMinutes, "  45\n", Accepted{Interval: 45 * time.Minute, Label: "45 minutes"}, false},
		{"two days", model.UnitDays, "2", Accepted{Interval: 2880 * time.Minute, Label: "2 days"}, false},
		{"one day", model.UnitDays, "1", Accepted{Interval: 24 * time.Hour, Label: "1 day"}, false},
		{"max days", model.UnitDays, "365", Accepted{Interval: 365 * 24 * time.Hour, Label: "365 days"}, false},
		{"letters", model.UnitMinutes, "abc", FormatError{Unit: model.UnitMinutes}, true},
		{"negative", model.UnitMinutes, "-5", FormatError{Unit: model.UnitMinutes}, true},
		{"fraction", model.UnitDays, "1.5", FormatError{Unit: model.UnitDays}, true},
		{"empty", model.UnitDays, "   ", FormatError{Unit: model.UnitDays}, true},
		{"with unit", model.UnitMinutes, "10 min", FormatError{Unit: model.UnitMinutes}, true},
		{"zero", model.UnitMinutes, "0", RangeError{Unit: model.UnitMinutes, Max: 525600}, true},
		{"zero days", model.UnitDays, "000", RangeError{Unit: model.UnitDays, Max: 365}, true},
		{"too many days", model.UnitDays, "366", RangeError{Unit: model.UnitDays, Max: 365}, true},
		{"overflow", model.UnitMinutes, "99999999999999999999999", RangeError{Unit: model.UnitMinutes, Max: 525600}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine()
			m.Await(1, tt.unit)

			got := m.Handle(1, tt.text)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Handle(%q) mismatch (-want +got):\n%s", tt.text, diff)
			}

			p, ok := m.Pending(1)
			if ok != tt.stillAwaits {
				t.Fatalf("pending = %v, want %v", ok, tt.stillAwaits)
			}
			if ok {
				if diff := cmp.Diff(model.PendingInput{RecipientID: 1, Unit: tt.unit}, p); diff != "" {
					t.Errorf("pending state changed (-want +got):\n%s", diff)
				}
			}
		})
	}
}

func TestHandleNotAwaiting(t *testing.T) {
	m := NewMachine()
	if diff := cmp.Diff(Outcome(NotAwaiting{}), m.Handle(1, "30")); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestRetryAfterError(t *testing.T) {
	m := NewMachine()
	m.Await(5, model.UnitDays)

	if _, ok := m.Handle(5, "abc").(FormatError); !ok {
		t.Fatal("expected format error")
	}
	if _, ok := m.Handle(5, "0").(RangeError); !ok {
		t.Fatal("expected range error")
	}

	got := m.Handle(5, "7")
	want := Accepted{Interval: 7 * 24 * time.Hour, Label: "7 days"}
	if diff := cmp.Diff(Outcome(want), got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(Outcome(NotAwaiting{}), m.Handle(5, "7")); diff != "" {
		t.Errorf("input must be consumed once (-want +got):\n%s", diff)
	}
}

func TestAwaitReplacesUnit(t *testing.T) {
	m := NewMachine()
	m.Await(1, model.UnitMinutes)
	m.Await(1, model.UnitDays)

	got := m.Handle(1, "3")
	if diff := cmp.Diff(Outcome(Accepted{Interval: 72 * time.Hour, Label: "3 days"}), got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestAbandon(t *testing.T) {
	m := NewMachine()
	if m.Abandon(1) {
		t.Error("abandon without pending input must report false")
	}

	m.Await(1, model.UnitMinutes)
	m.Await(2, model.UnitDays)
	if !m.Abandon(1) {
		t.Error("abandon must report pending input")
	}

	if _, ok := m.Pending(1); ok {
		t.Error("recipient 1 still pending")
	}
	if _, ok := m.Pending(2); !ok {
		t.Error("recipient 2 must be unaffected")
	}
	if diff := cmp.Diff(Outcome(NotAwaiting{}), m.Handle(1, "10")); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestLabel(t *testing.T) {
	tests := []struct {
		n    int
		unit model.IntervalUnit
		want string
	}{
		{1, model.UnitMinutes, "1 minute"},
		{60, model.UnitMinutes, "60 minutes"},
		{1, model.UnitDays, "1 day"},
		{14, model.UnitDays, "14 days"},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, Label(tt.n, tt.unit)); diff != "" {
			t.Errorf("Label(%d, %s) mismatch (-want +got):\n%s", tt.n, tt.unit, diff)
		}
	}
}

func TestConcurrentRecipients(t *testing.T) {
	m := NewMachine()
	var wg sync.WaitGroup
	for id := int64(0); id < 50; id++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			m.Await(id, model.UnitMinutes)
			if _, ok := m.Handle(id, "15").(Accepted); !ok {
				t.Errorf("recipient %d: expected accepted", id)
			}
		}(id)
	}
	wg.Wait()

	for id := int64(0); id < 50; id++ {
		if _, ok := m.Pending(id); ok {
			t.Errorf("recipient %d still pending", id)
		}
	}
}
