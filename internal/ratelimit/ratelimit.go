package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow admits at most max events per key within a trailing
// window. Timestamps older than the window are pruned on every check, and
// a background sweep drops keys whose window has emptied so memory stays
// bounded under sustained low traffic.
type SlidingWindow struct {
	window        time.Duration
	max           int
	sweepInterval time.Duration

	mu     sync.Mutex
	events map[string][]time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewSlidingWindow(max int, window time.Duration) *SlidingWindow {
	l := &SlidingWindow{
		window:        window,
		max:           max,
		sweepInterval: 10 * time.Second,
		events:        make(map[string][]time.Time),
		stop:          make(chan struct{}),
	}
	l.wg.Add(1)
	go l.sweep()
	return l
}

// Allow records an attempt for key and reports whether it is admitted.
func (l *SlidingWindow) Allow(key string) bool {
	return l.allowAt(key, time.Now())
}

func (l *SlidingWindow) allowAt(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	recent := l.events[key][:0]
	for _, ts := range l.events[key] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	recent = append(recent, now)
	l.events[key] = recent

	return len(recent) <= l.max
}

func (l *SlidingWindow) Stop() {
	close(l.stop)
	l.wg.Wait()
}

func (l *SlidingWindow) sweep() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweepOnce(time.Now())
		}
	}
}

func (l *SlidingWindow) sweepOnce(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	for key, times := range l.events {
		live := times[:0]
		for _, ts := range times {
			if ts.After(cutoff) {
				live = append(live, ts)
			}
		}
		if len(live) == 0 {
			delete(l.events, key)
		} else {
			l.events[key] = live
		}
	}
}

func (l *SlidingWindow) keyCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Bucket is a token bucket used for per-message throttling on sync
// connections, where a trailing window per frame would be too costly.
type Bucket struct {
	rate       float64
	burst      int
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
}

func NewBucket(rate float64, burst int) *Bucket {
	return &Bucket{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: time.Now(),
	}
}

func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastUpdate).Seconds()
	b.lastUpdate = now

	b.tokens += elapsed * b.rate
	if b.tokens > float64(b.burst) {
		b.tokens = float64(b.burst)
	}

	if b.tokens >= 1 {
		b.tokens--
		return true
	}

	return false
}
