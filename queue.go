package frameq

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/frameq/backend"
	"github.com/gogpu/frameq/internal/arena"
	"github.com/gogpu/frameq/internal/list"
)

// slowFlush is the Flush duration above which a warning is logged.
const slowFlush = 100 * time.Millisecond

type cbList = list.List[CommandBuffer, *CommandBuffer]

// Queue is one hardware execution queue with its completion counter and its
// pools of reusable command buffers.
//
// GetFreeCommandBuffer, Execute and Signal may be called from any number of
// goroutines. Buffers returned by Execute are recycled by the Context's
// reclaimer once the counter passes their stamped value.
type Queue struct {
	typ    backend.QueueType
	native backend.Queue
	dev    backend.Device
	log    logSource

	// lastValue is the last counter value handed out by Signal.
	lastValue atomic.Uint64

	// submitMu orders submission, signaling and the running pool so that
	// running stays sorted by counter value.
	submitMu sync.Mutex

	poolMu  sync.Mutex
	idle    *sync.Cond
	free    cbList
	running cbList

	slab *arena.Slab[CommandBuffer]

	// wake receives a token when running goes from empty to non-empty.
	wake chan<- struct{}

	// done is the reclaimer's persistent notification channel.
	done chan struct{}

	reclaimed atomic.Uint64
}

func newQueue(dev backend.Device, typ backend.QueueType, log logSource, slabChunk int, wake chan<- struct{}) (*Queue, error) {
	native, err := dev.CreateQueue(typ)
	if err != nil {
		return nil, errors.Wrapf(err, "frameq: create %s queue", typ)
	}
	q := &Queue{
		typ:    typ,
		native: native,
		dev:    dev,
		log:    log,
		slab:   arena.NewSlab[CommandBuffer](slabChunk),
		wake:   wake,
		done:   make(chan struct{}, 1),
	}
	q.idle = sync.NewCond(&q.poolMu)
	return q, nil
}

// Type returns the queue class.
func (q *Queue) Type() backend.QueueType { return q.typ }

// Native returns the backend queue.
func (q *Queue) Native() backend.Queue { return q.native }

// GetFreeCommandBuffer returns a command buffer ready for recording. It takes
// one from the free pool or creates a new one; it never waits for the GPU.
func (q *Queue) GetFreeCommandBuffer() *CommandBuffer {
	q.poolMu.Lock()
	cb := q.free.PopFront()
	q.poolMu.Unlock()
	if cb != nil {
		return cb
	}

	rec, err := q.dev.CreateRecorder(q.typ)
	if err != nil {
		fatal(q.log, err, "frameq: create %s recorder", q.typ)
	}
	cb = q.slab.New()
	cb.recorder = rec
	cb.queueType = q.typ
	cb.queue = q
	q.log.get().Debug("frameq: command buffer created",
		"queue", q.typ.String(), "allocated", q.slab.Len())
	return cb
}

// Execute submits cb, signals the counter and moves cb to the running pool.
// It returns the counter value that marks cb's completion. The caller must
// not touch cb afterwards.
func (q *Queue) Execute(cb *CommandBuffer) uint64 {
	if cb.queue != q {
		panic(errors.AssertionFailedf("frameq: %s command buffer executed on %s queue", cb.queueType, q.typ))
	}

	q.submitMu.Lock()
	defer q.submitMu.Unlock()

	if err := q.native.Submit(cb.recorder); err != nil {
		fatal(q.log, err, "frameq: submit to %s queue", q.typ)
	}
	value := q.signalLocked()
	cb.lastCompletion = value

	q.poolMu.Lock()
	wasEmpty := q.running.Empty()
	q.running.PushBack(cb)
	q.poolMu.Unlock()

	if wasEmpty && q.wake != nil {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	return value
}

// Signal increments the counter and asks the hardware to reach the new value
// once everything submitted so far has retired. The first value is 1.
func (q *Queue) Signal() uint64 {
	q.submitMu.Lock()
	defer q.submitMu.Unlock()
	return q.signalLocked()
}

func (q *Queue) signalLocked() uint64 {
	value := q.lastValue.Add(1)
	if err := q.native.Signal(value); err != nil {
		fatal(q.log, err, "frameq: signal %s queue to %d", q.typ, value)
	}
	return value
}

// LastSignaled returns the last value handed out by Signal or Execute.
func (q *Queue) LastSignaled() uint64 { return q.lastValue.Load() }

// Completed returns the highest counter value the hardware has reached.
func (q *Queue) Completed() uint64 {
	v, err := q.native.Completed()
	if err != nil {
		fatal(q.log, err, "frameq: read %s queue counter", q.typ)
	}
	return v
}

// IsComplete reports whether the counter has reached value.
func (q *Queue) IsComplete(value uint64) bool {
	return q.Completed() >= value
}

// WaitForFence blocks until the counter reaches value.
func (q *Queue) WaitForFence(value uint64) {
	if q.IsComplete(value) {
		return
	}
	ch := make(chan struct{}, 1)
	q.native.Notify(value, ch)
	<-ch
}

// WaitForQueue makes work submitted to q from now on wait, on the GPU, for
// everything submitted to other so far. The calling goroutine does not block.
func (q *Queue) WaitForQueue(other *Queue) {
	q.WaitForQueueValue(other, other.Signal())
}

// WaitForQueueValue makes later work on q wait, on the GPU, until other's
// counter reaches value.
func (q *Queue) WaitForQueueValue(other *Queue, value uint64) {
	q.submitMu.Lock()
	defer q.submitMu.Unlock()
	if err := q.native.WaitQueue(other.native, value); err != nil {
		fatal(q.log, err, "frameq: %s queue wait for %s queue value %d", q.typ, other.typ, value)
	}
}

// WaitForCommandBuffer makes later work on q wait for cb's last execution.
func (q *Queue) WaitForCommandBuffer(cb *CommandBuffer) {
	q.WaitForQueueValue(cb.queue, cb.lastCompletion)
}

// Flush blocks until every executed command buffer has been reclaimed and a
// final signal has been reached. A reclaimer must be running.
func (q *Queue) Flush() {
	start := time.Now()

	q.poolMu.Lock()
	for !q.running.Empty() {
		q.idle.Wait()
	}
	q.poolMu.Unlock()

	q.WaitForFence(q.Signal())

	if d := time.Since(start); d > slowFlush {
		q.log.get().Warn("frameq: slow flush", "queue", q.typ.String(), "elapsed", d)
	}
}

// FreeCount returns the number of buffers in the free pool.
func (q *Queue) FreeCount() int {
	q.poolMu.Lock()
	defer q.poolMu.Unlock()
	return q.free.Len()
}

// RunningCount returns the number of executed buffers not yet reclaimed.
func (q *Queue) RunningCount() int {
	q.poolMu.Lock()
	defer q.poolMu.Unlock()
	return q.running.Len()
}

// Allocated returns the number of command buffers ever created on q.
func (q *Queue) Allocated() int { return q.slab.Len() }

// Reclaimed returns how many executions have been recycled.
func (q *Queue) Reclaimed() uint64 { return q.reclaimed.Load() }

func (q *Queue) peekOldestRunning() *CommandBuffer {
	q.poolMu.Lock()
	defer q.poolMu.Unlock()
	return q.running.PeekFront()
}

func (q *Queue) popOldestRunning() *CommandBuffer {
	q.poolMu.Lock()
	defer q.poolMu.Unlock()
	cb := q.running.PopFront()
	if q.running.Empty() {
		q.idle.Broadcast()
	}
	return cb
}

func (q *Queue) addFree(cb *CommandBuffer) {
	q.poolMu.Lock()
	q.free.PushFront(cb)
	q.poolMu.Unlock()
}

// destroy releases every recorder and the backend queue. Nothing may be
// running.
func (q *Queue) destroy() {
	q.slab.Each(func(cb *CommandBuffer) {
		if cb.recorder != nil {
			cb.recorder.Destroy()
			cb.recorder = nil
		}
	})
	q.native.Destroy()
}
