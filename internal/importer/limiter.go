package importer

// limiter.go bounds how many imports run at once. When every slot is taken,
// new imports wait up to maxWait and then fail with ErrTooManyImports.
// WaitForDrain lets shutdown wait for in-flight imports.

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultMaxConcurrentImports is used when the configured limit is not positive.
	DefaultMaxConcurrentImports = 5

	// DefaultMaxWaitTime is used when the configured wait is not positive.
	DefaultMaxWaitTime = 30 * time.Second
)

// Limiter is a counting semaphore for import runs.
type Limiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
	idle   *sync.Cond
}

// NewLimiter allows at most maxConcurrent simultaneous imports.
func NewLimiter(maxConcurrent int, maxWait time.Duration) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	l := &Limiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
	l.idle = sync.NewCond(&l.mu)
	return l
}

// Acquire takes a slot, waiting at most maxWait. The caller must Release
// after a nil return.
func (l *Limiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil
	case <-timer.C:
		return ErrTooManyImports
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot taken by Acquire.
func (l *Limiter) Release() {
	l.mu.Lock()
	l.active--
	if l.active == 0 {
		l.idle.Broadcast()
	}
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of imports holding a slot.
func (l *Limiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// WaitForDrain blocks until no import holds a slot or ctx is done.
func (l *Limiter) WaitForDrain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.mu.Lock()
		for l.active > 0 && ctx.Err() == nil {
			l.idle.Wait()
		}
		l.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// Wake the waiter so it observes ctx.Err and exits.
		l.mu.Lock()
		l.idle.Broadcast()
		l.mu.Unlock()
		return ctx.Err()
	}
}

// LimiterStatus is a snapshot of limiter occupancy.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Status returns the current occupancy for monitoring.
func (l *Limiter) Status() LimiterStatus {
	l.mu.RLock()
	active := l.active
	l.mu.RUnlock()

	return LimiterStatus{
		Active:        active,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
	}
}
