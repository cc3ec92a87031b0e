// SPDX-License-Identifier: MIT

package pipeline

import "sync/atomic"

// StopLatch is a process-wide, single-shot boolean guarding the shutdown
// transition. The first RequestStop call flips the flag and
// closes every registered queue; every subsequent call is a no-op. The
// flag is never reset.
type StopLatch struct {
	stopped atomic.Bool
	queues  []closer
}

type closer interface{ Close() }

// queueCloser adapts a *BoundedQueue[T] to the closer interface without
// forcing StopLatch to be generic over T.
type queueCloser[T any] struct{ q *BoundedQueue[T] }

func (c queueCloser[T]) Close() { c.q.Close() }

// NewStopLatch constructs a latch with no queues; add them with Register
// so the first RequestStop closes them.
func NewStopLatch() *StopLatch {
	return &StopLatch{}
}

// Register adds a queue to be closed on RequestStop. Must be called
// before any worker can observe ShouldStop, i.e. during orchestrator
// bootstrap.
func Register[T any](l *StopLatch, q *BoundedQueue[T]) {
	l.queues = append(l.queues, queueCloser[T]{q})
}

// RequestStop is idempotent and wait-free after the first call. Exactly
// one caller observes the running→stopping transition and closes every
// registered queue; all other callers return immediately with no side
// effects.
func (l *StopLatch) RequestStop() {
	if !l.stopped.CompareAndSwap(false, true) {
		return
	}
	for _, q := range l.queues {
		q.Close()
	}
}

// ShouldStop reads the flag with acquire semantics.
func (l *StopLatch) ShouldStop() bool {
	return l.stopped.Load()
}
