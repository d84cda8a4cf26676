// Package limiter caps the number of simultaneously in-flight tasks.
package limiter

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"taskpipe/internal/faults"
)

// Limiter grants at most Cap() slots at a time. Waiters are served in FIFO
// order, so no acquirer starves while the task set is finite.
type Limiter struct {
	sem   *semaphore.Weighted
	limit int

	mu       sync.Mutex
	inFlight int
	peak     int
}

func New(limit int) (*Limiter, error) {
	if limit <= 0 {
		return nil, faults.Invalidf("limiter", "limit must be > 0, got %d", limit)
	}
	return &Limiter{
		sem:   semaphore.NewWeighted(int64(limit)),
		limit: limit,
	}, nil
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.mu.Lock()
	l.inFlight++
	if l.inFlight > l.peak {
		l.peak = l.inFlight
	}
	l.mu.Unlock()
	return nil
}

func (l *Limiter) Release() {
	l.mu.Lock()
	if l.inFlight == 0 {
		l.mu.Unlock()
		panic("limiter: release without acquire")
	}
	l.inFlight--
	l.mu.Unlock()
	l.sem.Release(1)
}

// Do runs fn while holding a slot. The slot is returned on every exit path.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn(ctx)
}

func (l *Limiter) Cap() int {
	return l.limit
}

func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

// Peak is the highest number of simultaneous holders observed.
func (l *Limiter) Peak() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peak
}

// ResetPeak clears the high-water mark between runs.
func (l *Limiter) ResetPeak() {
	l.mu.Lock()
	l.peak = l.inFlight
	l.mu.Unlock()
}
