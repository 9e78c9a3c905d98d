// Package input tracks recipients that were asked to type a custom interval.
package input

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"digest_bot/internal/model"
)

// MaxDays caps custom intervals in either unit.
const MaxDays = 365

// Outcome is the result of feeding one text message to the Machine.
// It is one of NotAwaiting, FormatError, RangeError or Accepted.
type Outcome interface {
	outcome()
}

// NotAwaiting means the recipient was not asked for an interval.
type NotAwaiting struct{}

// FormatError means the text was not a whole number. The recipient stays awaiting.
type FormatError struct {
	Unit model.IntervalUnit
}

// RangeError means the number was zero or too large. The recipient stays awaiting.
type RangeError struct {
	Unit model.IntervalUnit
	Max  int
}

// Accepted carries the parsed interval. The recipient is back to idle.
type Accepted struct {
	Interval time.Duration
	Label    string
}

func (NotAwaiting) outcome() {}
func (FormatError) outcome() {}
func (RangeError) outcome()  {}
func (Accepted) outcome()    {}

// Machine holds the pending custom-interval state of every recipient.
type Machine struct {
	mu      sync.Mutex
	pending map[int64]model.IntervalUnit
}

// NewMachine creates an empty Machine.
func NewMachine() *Machine {
	return &Machine{pending: make(map[int64]model.IntervalUnit)}
}

// Await marks the recipient as expecting a number in unit.
func (m *Machine) Await(recipientID int64, unit model.IntervalUnit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[recipientID] = unit
}

// Pending returns the recipient's pending input, if any.
func (m *Machine) Pending(recipientID int64) (model.PendingInput, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	unit, ok := m.pending[recipientID]
	if !ok {
		return model.PendingInput{}, false
	}
	return model.PendingInput{RecipientID: recipientID, Unit: unit}, true
}

// Abandon drops the recipient's pending input. It reports whether there was one.
func (m *Machine) Abandon(recipientID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[recipientID]
	delete(m.pending, recipientID)
	return ok
}

// Handle consumes text from the recipient.
func (m *Machine) Handle(recipientID int64, text string) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	unit, ok := m.pending[recipientID]
	if !ok {
		return NotAwaiting{}
	}

	s := strings.TrimSpace(text)
	if !allDigits(s) {
		return FormatError{Unit: unit}
	}

	limit := maxFor(unit)
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > limit {
		return RangeError{Unit: unit, Max: limit}
	}

	delete(m.pending, recipientID)
	return Accepted{Interval: toDuration(n, unit), Label: Label(n, unit)}
}

// Label renders an interval the way it is shown to recipients, e.g. "1 minute" or "2 days".
func Label(n int, unit model.IntervalUnit) string {
	word := "minute"
	if unit == model.UnitDays {
		word = "day"
	}
	if n != 1 {
		word += "s"
	}
	return fmt.Sprintf("%d %s", n, word)
}

// Days are exactly 24h each.
func toDuration(n int, unit model.IntervalUnit) time.Duration {
	if unit == model.UnitDays {
		return time.Duration(n) * 24 * time.Hour
	}
	return time.Duration(n) * time.Minute
}

func maxFor(unit model.IntervalUnit) int {
	if unit == model.UnitDays {
		return MaxDays
	}
	return MaxDays * 24 * 60
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
