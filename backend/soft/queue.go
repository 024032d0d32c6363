package soft

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"

	"github.com/gogpu/frameq/backend"
)

// dependency holds a signal back until queue reaches value.
type dependency struct {
	queue *Queue
	value uint64
}

func (dep dependency) met() bool {
	return dep.queue.completed >= dep.value
}

// pendingSignal is a value the queue was asked to signal but has not
// retired yet.
type pendingSignal struct {
	value uint64
	ready bool
	deps  []dependency
	timer *time.Timer
}

// Queue is a simulated backend.Queue.
type Queue struct {
	dev *Device
	typ backend.QueueType

	completed    uint64
	lastSignaled uint64
	pending      []*pendingSignal

	// deps collected by WaitQueue, attached to the next signal.
	deps []dependency

	// waiters maps an awaited value to the channels to poke once the
	// counter reaches it.
	waiters *swiss.Map[uint64, []chan<- struct{}]

	submissions int
	destroyed   bool
}

func newQueue(d *Device, t backend.QueueType) *Queue {
	return &Queue{
		dev:     d,
		typ:     t,
		waiters: swiss.NewMap[uint64, []chan<- struct{}](8),
	}
}

// Type implements backend.Queue.
func (q *Queue) Type() backend.QueueType { return q.typ }

// Submit implements backend.Queue.
func (q *Queue) Submit(rec backend.Recorder) error {
	r, ok := rec.(*Recorder)
	if !ok || r.dev != q.dev {
		return backend.ErrForeignQueue
	}

	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()

	if q.destroyed || r.destroyed {
		return backend.ErrDestroyed
	}
	if r.recording {
		r.recording = false
	}
	r.submissions++
	q.submissions++
	return nil
}

// Signal implements backend.Queue.
func (q *Queue) Signal(value uint64) error {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()

	if q.destroyed {
		return backend.ErrDestroyed
	}
	if value <= q.lastSignaled {
		return errors.Newf("soft: %s queue signal %d does not exceed %d", q.typ, value, q.lastSignaled)
	}

	sig := &pendingSignal{value: value, deps: q.deps}
	q.deps = nil
	q.lastSignaled = value
	q.pending = append(q.pending, sig)

	if q.dev.latency > 0 {
		sig.timer = time.AfterFunc(q.dev.latency, func() {
			q.dev.mu.Lock()
			defer q.dev.mu.Unlock()
			if q.dev.destroyed {
				return
			}
			sig.ready = true
			q.dev.advance()
		})
	}
	return nil
}

// Completed implements backend.Queue.
func (q *Queue) Completed() (uint64, error) {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()

	if q.destroyed {
		return 0, backend.ErrDestroyed
	}
	return q.completed, nil
}

// Notify implements backend.Queue.
func (q *Queue) Notify(value uint64, ch chan<- struct{}) {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()

	if q.completed >= value {
		poke(ch)
		return
	}
	chans, _ := q.waiters.Get(value)
	q.waiters.Put(value, append(chans, ch))
}

// WaitQueue implements backend.Queue. Unlike real hardware queues there is
// no restriction on waiting for values the other queue has not signaled
// yet; such a wait simply stalls this queue until it does.
func (q *Queue) WaitQueue(other backend.Queue, value uint64) error {
	o, ok := other.(*Queue)
	if !ok || o.dev != q.dev {
		return backend.ErrForeignQueue
	}

	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()

	if q.destroyed || o.destroyed {
		return backend.ErrDestroyed
	}
	if o.completed >= value {
		return nil
	}
	q.deps = append(q.deps, dependency{queue: o, value: value})
	return nil
}

// Destroy implements backend.Queue.
func (q *Queue) Destroy() {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()

	q.stopTimers()
	q.destroyed = true
}

// RetireTo lets the hardware finish every signal up to value. Values past
// the last signaled one are clamped. Retirement still respects queue order
// and dependencies on other queues.
func (q *Queue) RetireTo(value uint64) {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()

	q.markReady(min(value, q.lastSignaled))
	q.dev.advance()
}

// LastSignaled returns the highest value passed to Signal.
func (q *Queue) LastSignaled() uint64 {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	return q.lastSignaled
}

// Pending returns the number of signaled values not yet retired.
func (q *Queue) Pending() int {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	return len(q.pending)
}

// Submissions returns the number of recorders submitted to the queue.
func (q *Queue) Submissions() int {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	return q.submissions
}

// Waiters returns the number of registered notifications that have not
// fired yet.
func (q *Queue) Waiters() int {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()

	n := 0
	q.waiters.Iter(func(_ uint64, chans []chan<- struct{}) bool {
		n += len(chans)
		return false
	})
	return n
}

// markReady flags pending signals up to value as finished by the hardware.
func (q *Queue) markReady(value uint64) {
	for _, sig := range q.pending {
		if sig.value > value {
			break
		}
		sig.ready = true
	}
}

// retireReady pops ready signals from the front whose dependencies are
// met, then fires the notifications they satisfy.
func (q *Queue) retireReady() bool {
	n := 0
	for _, sig := range q.pending {
		if !sig.ready || !depsMet(sig.deps) {
			break
		}
		q.completed = sig.value
		n++
	}
	if n == 0 {
		return false
	}
	clear(q.pending[:n])
	q.pending = q.pending[n:]
	q.fire()
	return true
}

func (q *Queue) fire() {
	var due []uint64
	q.waiters.Iter(func(v uint64, _ []chan<- struct{}) bool {
		if v <= q.completed {
			due = append(due, v)
		}
		return false
	})
	for _, v := range due {
		chans, _ := q.waiters.Get(v)
		for _, ch := range chans {
			poke(ch)
		}
		q.waiters.Delete(v)
	}
}

func (q *Queue) stopTimers() {
	for _, sig := range q.pending {
		if sig.timer != nil {
			sig.timer.Stop()
		}
	}
}

func depsMet(deps []dependency) bool {
	for _, dep := range deps {
		if !dep.met() {
			return false
		}
	}
	return true
}

// poke performs the non-blocking send of an auto-reset event.
func poke(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
