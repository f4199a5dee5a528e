package flow

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Semaphore bounds concurrent slot holders, e.g. outbound dialogue requests.
type Semaphore struct {
	sem *semaphore.Weighted
}

// NewSemaphore creates a semaphore with n slots.
func NewSemaphore(n int64) *Semaphore {
	if n < 1 {
		n = 1
	}
	return &Semaphore{sem: semaphore.NewWeighted(n)}
}

// Acquire blocks until a slot is free or the context is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	return s.sem.Acquire(ctx, 1)
}

// TryAcquire grabs a slot without blocking.
func (s *Semaphore) TryAcquire() bool {
	return s.sem.TryAcquire(1)
}

// Release frees a previously acquired slot.
func (s *Semaphore) Release() {
	s.sem.Release(1)
}

// With runs fn while holding one slot.
func (s *Semaphore) With(ctx context.Context, fn func() error) error {
	if err := s.Acquire(ctx); err != nil {
		return err
	}
	defer s.Release()
	return fn()
}
