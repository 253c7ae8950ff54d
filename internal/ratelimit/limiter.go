// Package ratelimit provides per-sender sliding-window admission control for
// the chat send path. State is process-local and rebuilt empty on restart; it
// throttles, it never authorizes.
package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultLimit         = 20
	DefaultWindow        = time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// Limiter admits at most limit sends per sender within any trailing window.
// Construct one per process and inject it; it is not a package singleton.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	senders map[string][]time.Time
	stop    chan struct{}

	now func() time.Time
}

func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		limit:   limit,
		window:  window,
		senders: make(map[string][]time.Time),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
}

// Admit reports whether the sender is under the limit and, only when
// admitted, records the send timestamp.
func (l *Limiter) Admit(senderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := l.pruneLocked(senderID, now)
	if len(kept) >= l.limit {
		l.senders[senderID] = kept
		return false
	}

	l.senders[senderID] = append(kept, now)
	return true
}

// SecondsUntilReset returns the seconds until the sender's oldest in-window
// timestamp expires, rounded up, or 0 while the sender is under the limit.
func (l *Limiter) SecondsUntilReset(senderID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := l.pruneLocked(senderID, now)
	if len(kept) == 0 {
		delete(l.senders, senderID)
		return 0
	}

	l.senders[senderID] = kept
	if len(kept) < l.limit {
		return 0
	}

	wait := kept[0].Add(l.window).Sub(now)
	return int((wait + time.Second - 1) / time.Second)
}

// Clear drops the sender's window entirely.
func (l *Limiter) Clear(senderID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.senders, senderID)
}

// Sweep prunes senders whose windows have fully expired, on the given
// interval, until Stop is called. Run it in its own goroutine. Admit and
// SecondsUntilReset self-clean at call time, so the sweep only bounds memory
// held by idle senders.
func (l *Limiter) Sweep(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweepExpired()
		case <-l.stop:
			return
		}
	}
}

// Stop terminates a running Sweep loop.
func (l *Limiter) Stop() {
	close(l.stop)
}

func (l *Limiter) sweepExpired() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for senderID := range l.senders {
		if kept := l.pruneLocked(senderID, now); len(kept) == 0 {
			delete(l.senders, senderID)
		} else {
			l.senders[senderID] = kept
		}
	}
}

// pruneLocked drops timestamps that fell out of the trailing window. Callers
// must hold l.mu.
func (l *Limiter) pruneLocked(senderID string, now time.Time) []time.Time {
	stamps := l.senders[senderID]
	cutoff := now.Add(-l.window)

	kept := stamps[:0]
	for _, stamp := range stamps {
		if stamp.After(cutoff) {
			kept = append(kept, stamp)
		}
	}
	return kept
}
