package native

import (
	"github.com/cockroachdb/errors"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/frameq/backend"
)

// signalPoint ties a counter value to the HAL submission index that must
// retire before the value is reached.
type signalPoint struct {
	value uint64
	index uint64
}

type waiter struct {
	value uint64
	ch    chan<- struct{}
}

// Queue is a logical frameq queue on the device's single HAL queue.
type Queue struct {
	dev *Device
	typ backend.QueueType

	// lastIndex is the HAL submission index the next signal waits for.
	lastIndex    uint64
	signals      []signalPoint
	completed    uint64
	lastSignaled uint64
	waiters      []waiter
	destroyed    bool
}

// Type implements backend.Queue.
func (q *Queue) Type() backend.QueueType { return q.typ }

// Submit implements backend.Queue.
func (q *Queue) Submit(rec backend.Recorder) error {
	r, ok := rec.(*Recorder)
	if !ok || r.dev != q.dev {
		return backend.ErrForeignQueue
	}
	if r.state == stateRecording {
		if err := r.Close(); err != nil {
			return err
		}
	}
	if r.state != stateClosed {
		return errors.Wrapf(backend.ErrNotRecording, "native: submit %s recorder", r.typ)
	}

	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()

	if q.destroyed {
		return backend.ErrDestroyed
	}
	index, err := q.dev.queue.Submit([]hal.CommandBuffer{r.cmd})
	if err != nil {
		return errors.Wrapf(err, "native: submit on %s queue", q.typ)
	}
	r.state = stateSubmitted
	q.lastIndex = max(q.lastIndex, index)
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
		return errors.Newf("native: %s queue signal %d does not exceed %d", q.typ, value, q.lastSignaled)
	}
	q.lastSignaled = value
	q.signals = append(q.signals, signalPoint{value: value, index: q.lastIndex})
	q.dev.refresh()
	return nil
}

// Completed implements backend.Queue.
func (q *Queue) Completed() (uint64, error) {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()

	if q.destroyed {
		return 0, backend.ErrDestroyed
	}
	q.dev.refresh()
	return q.completed, nil
}

// Notify implements backend.Queue.
func (q *Queue) Notify(value uint64, ch chan<- struct{}) {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()

	q.dev.refresh()
	if q.completed >= value {
		poke(ch)
		return
	}
	q.waiters = append(q.waiters, waiter{value: value, ch: ch})
	q.dev.startPolling()
}

// WaitQueue implements backend.Queue. The HAL queue executes submissions
// in order, so the dependency only has to keep this queue's next signal
// from retiring before the awaited one. Values the other queue has not
// signaled yet cannot be expressed and return ErrUnsignaledDependency.
func (q *Queue) WaitQueue(other backend.Queue, value uint64) error {
	o, ok := other.(*Queue)
	if !ok || o.dev != q.dev {
		return backend.ErrForeignQueue
	}

	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()

	if o.completed >= value {
		return nil
	}
	if value > o.lastSignaled {
		return errors.Wrapf(backend.ErrUnsignaledDependency,
			"native: %s queue waits for %s value %d, last signaled %d", q.typ, o.typ, value, o.lastSignaled)
	}
	for _, s := range o.signals {
		if s.value >= value {
			q.lastIndex = max(q.lastIndex, s.index)
			break
		}
	}
	return nil
}

// Destroy implements backend.Queue.
func (q *Queue) Destroy() {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()

	q.destroyed = true
	q.waiters = nil
}

// retire pops signals whose submission index is at most done and fires
// satisfied waiters. q.dev.mu must be held.
func (q *Queue) retire(done uint64) {
	n := 0
	for _, s := range q.signals {
		if s.index > done {
			break
		}
		q.completed = s.value
		n++
	}
	if n > 0 {
		q.signals = q.signals[n:]
	}

	kept := q.waiters[:0]
	for _, w := range q.waiters {
		if w.value <= q.completed {
			poke(w.ch)
			continue
		}
		kept = append(kept, w)
	}
	clear(q.waiters[len(kept):])
	q.waiters = kept
}

// poke performs the non-blocking send of an auto-reset event.
func poke(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
