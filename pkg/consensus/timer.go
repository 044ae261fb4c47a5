package consensus

import (
	"sync"
	"time"
)

// RoundTimer fires once per started view unless cancelled first.
type RoundTimer struct {
	base time.Duration
	max  time.Duration
	fire func(View)

	mu  sync.Mutex
	gen uint64
	t   *time.Timer
}

// NewRoundTimer creates a round timer, fire is called from the timer
// goroutine.
func NewRoundTimer(base, max time.Duration, fire func(View)) *RoundTimer {
	return &RoundTimer{base: base, max: max, fire: fire}
}

// Timeout returns the timeout of the round: base * 2^round capped at
// max.
func (t *RoundTimer) Timeout(round uint32) time.Duration {
	return roundTimeout(t.base, t.max, round)
}

func roundTimeout(base, max time.Duration, round uint32) time.Duration {
	d := base
	for i := uint32(0); i < round; i++ {
		if d >= max/2 {
			return max
		}
		d *= 2
	}

	if d > max {
		return max
	}
	return d
}

// Start arms the timer for the view, replacing any armed view.
func (t *RoundTimer) Start(v View) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stop()
	t.gen++
	gen := t.gen
	t.t = time.AfterFunc(t.Timeout(v.Round), func() {
		t.mu.Lock()
		if gen != t.gen {
			// cancelled or restarted
			t.mu.Unlock()
			return
		}
		t.gen++
		t.mu.Unlock()

		t.fire(v)
	})
}

// Cancel disarms the timer.
func (t *RoundTimer) Cancel() {
	t.mu.Lock()
	t.stop()
	t.gen++
	t.mu.Unlock()
}

func (t *RoundTimer) stop() {
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
}
