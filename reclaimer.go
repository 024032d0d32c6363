package frameq

import (
	"reflect"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

// reclaimer moves executed command buffers back to their free pools once
// the hardware has retired them. One goroutine serves every queue.
type reclaimer struct {
	queues         []*Queue
	interval       time.Duration
	stallThreshold time.Duration
	log            logSource
	wake           chan struct{}
	stop           chan struct{}

	// armed[i] is the counter value queues[i].done is armed for, zero when
	// unarmed. armedAt[i] is when that head was first seen in flight.
	armed   []uint64
	armedAt []time.Time

	stallLog []*rate.Sometimes
	stalls   atomic.Uint64
	passes   atomic.Uint64
}

func newReclaimer(queues []*Queue, interval, stallThreshold time.Duration, log logSource, wake chan struct{}) *reclaimer {
	r := &reclaimer{
		queues:         queues,
		interval:       interval,
		stallThreshold: stallThreshold,
		log:            log,
		wake:           wake,
		stop:           make(chan struct{}),
		armed:          make([]uint64, len(queues)),
		armedAt:        make([]time.Time, len(queues)),
		stallLog:       make([]*rate.Sometimes, len(queues)),
	}
	for i := range r.stallLog {
		r.stallLog[i] = &rate.Sometimes{First: 1, Interval: stallThreshold}
	}
	return r
}

// run is the reclaimer loop. It returns when stop is closed.
func (r *reclaimer) run() error {
	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	// Case layout: one per queue, then stop, wake and the timer.
	cases := make([]reflect.SelectCase, len(r.queues)+3)
	for i, q := range r.queues {
		cases[i] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(q.done)}
	}
	stopCase := len(r.queues)
	cases[stopCase] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(r.stop)}
	cases[stopCase+1] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(r.wake)}
	timerCase := stopCase + 2
	cases[timerCase] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(timer.C)}

	for {
		for i := range r.queues {
			r.sweep(i)
		}
		r.passes.Add(1)

		chosen, _, _ := reflect.Select(cases)
		if chosen == stopCase {
			return nil
		}
		timer.Reset(r.interval)
	}
}

// sweep recycles every retired buffer at the head of queue i's running pool
// and arms the queue's channel for the first one still in flight.
func (r *reclaimer) sweep(i int) {
	q := r.queues[i]
	completed := q.Completed()
	n := 0
	for {
		head := q.peekOldestRunning()
		if head == nil {
			break
		}
		if head.lastCompletion > completed {
			r.arm(i, head.lastCompletion)
			r.checkStall(i, completed)
			break
		}
		if popped := q.popOldestRunning(); popped != head {
			panic(errors.AssertionFailedf("frameq: %s running pool head changed during reclaim", q.typ))
		}
		if err := head.recorder.Reset(); err != nil {
			fatal(r.log, err, "frameq: reset %s recorder", q.typ)
		}
		q.reclaimed.Add(1)
		q.addFree(head)
		n++
	}
	if n > 0 {
		r.log.get().Debug("frameq: reclaimed command buffers",
			"queue", q.typ.String(), "count", n, "completed", completed)
	}
}

// arm points queue i's channel at value unless it already is. A token left
// over from the previous head is drained first.
func (r *reclaimer) arm(i int, value uint64) {
	if r.armed[i] == value {
		return
	}
	q := r.queues[i]
	select {
	case <-q.done:
	default:
	}
	r.armed[i] = value
	r.armedAt[i] = time.Now()
	q.native.Notify(value, q.done)
}

// checkStall warns when queue i's oldest running buffer has been in flight
// longer than the stall threshold. Warnings are throttled per queue.
func (r *reclaimer) checkStall(i int, completed uint64) {
	waited := time.Since(r.armedAt[i])
	if waited < r.stallThreshold {
		return
	}
	r.stallLog[i].Do(func() {
		r.stalls.Add(1)
		q := r.queues[i]
		r.log.get().Warn("frameq: queue stalled",
			"queue", q.typ.String(), "waiting", r.armed[i], "completed", completed,
			"for", waited.Round(time.Millisecond))
	})
}

func (r *reclaimer) shutdown() {
	close(r.stop)
}
