package scheduler

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Handle is the cancellation capability of a repeating timer.
type Handle struct {
	ticker clockwork.Ticker
	done   chan struct{}
	once   sync.Once
}

// every starts a ticker that calls tick on each period until the handle is cancelled.
// The ticker exists when every returns, so a tick due immediately after is not lost.
func every(clock clockwork.Clock, interval time.Duration, wg *sync.WaitGroup, tick func()) *Handle {
	h := &Handle{
		ticker: clock.NewTicker(interval),
		done:   make(chan struct{}),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-h.done:
				return
			case <-h.ticker.Chan():
				// Cancel may race with a delivered tick; done wins.
				select {
				case <-h.done:
					return
				default:
				}
				tick()
			}
		}
	}()
	return h
}

// Cancel stops the ticker synchronously. It is safe to call more than once.
func (h *Handle) Cancel() {
	h.once.Do(func() {
		h.ticker.Stop()
		close(h.done)
	})
}
