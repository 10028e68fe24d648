package phase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/frankli0324/go-asynchttp/internal/assert"
)

// Signal is a single-assignment result. The zero value is not usable,
// create signals with [NewSignal].
type Signal[T any] struct {
	done    chan struct{}
	settled atomic.Bool

	// written once before done is closed
	val T
	err error
}

func NewSignal[T any]() *Signal[T] {
	return &Signal[T]{done: make(chan struct{})}
}

func (s *Signal[T]) Resolve(v T) error {
	return s.settle(v, nil)
}

func (s *Signal[T]) Reject(err error) error {
	var zero T
	return s.settle(zero, err)
}

// TryResolve settles the signal unless it is already settled.
func (s *Signal[T]) TryResolve(v T) bool {
	return s.trySettle(v, nil)
}

// TryReject is used by producers that legitimately race with each other,
// such as a cancellation racing the engine's completion.
func (s *Signal[T]) TryReject(err error) bool {
	var zero T
	return s.trySettle(zero, err)
}

func (s *Signal[T]) trySettle(v T, err error) bool {
	if !s.settled.CompareAndSwap(false, true) {
		return false
	}
	s.val, s.err = v, err
	close(s.done)
	return true
}

// settle reports a second settlement as misuse, except when the winner was a
// cancellation: the engine completing an operation the caller already gave up
// on is expected.
func (s *Signal[T]) settle(v T, err error) error {
	if s.trySettle(v, err) {
		return nil
	}
	<-s.done
	if !errors.Is(s.err, ErrCanceled) {
		assert.Fail("signal settled twice")
	}
	return ErrSettled
}

// Done is closed once the signal is settled.
func (s *Signal[T]) Done() <-chan struct{} { return s.done }

func (s *Signal[T]) Settled() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Result returns the settled value. It blocks until settlement.
func (s *Signal[T]) Result() (T, error) {
	<-s.done
	return s.val, s.err
}

// Wait blocks until the signal is settled or ctx is done. The latter does not
// settle the signal, the producer still owns it.
func (s *Signal[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-s.done:
		return s.val, s.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Slot holds the signal of the in-flight operation of one phase.
type Slot[T any] struct {
	phase Phase

	mu  sync.Mutex
	sig *Signal[T]
}

func NewSlot[T any](p Phase) *Slot[T] {
	return &Slot[T]{phase: p}
}

func (s *Slot[T]) Phase() Phase { return s.phase }

// Start replaces the current signal with a fresh one and returns it.
func (s *Slot[T]) Start() *Signal[T] {
	sig := NewSignal[T]()
	s.mu.Lock()
	s.sig = sig
	s.mu.Unlock()
	return sig
}

// Current returns the signal of the last Start, nil after Clear.
func (s *Slot[T]) Current() *Signal[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sig
}

func (s *Slot[T]) Clear() {
	s.mu.Lock()
	s.sig = nil
	s.mu.Unlock()
}

func (s *Slot[T]) Resolve(v T) error {
	sig := s.Current()
	if sig == nil {
		return ErrNoPhase
	}
	return sig.Resolve(v)
}

func (s *Slot[T]) Reject(err error) error {
	sig := s.Current()
	if sig == nil {
		return ErrNoPhase
	}
	return sig.Reject(err)
}

// Deliver settles the current signal with v, or with err if it is not nil.
func (s *Slot[T]) Deliver(v T, err error) error {
	if err != nil {
		return s.Reject(err)
	}
	return s.Resolve(v)
}

// Fail is Reject, spelled so slots of any T satisfy one interface.
func (s *Slot[T]) Fail(err error) error { return s.Reject(err) }

// Pending reports whether a started signal is still unsettled.
func (s *Slot[T]) Pending() bool {
	sig := s.Current()
	return sig != nil && !sig.Settled()
}
