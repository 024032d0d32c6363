// Package soft implements a simulated completion timeline for frameq.
//
// No commands are executed. Each queue keeps the list of values it has been
// asked to signal, and those values retire either when the test says so
// (RetireTo, RetireAll) or after a fixed latency (WithLatency). GPU-side
// dependencies created with WaitQueue hold back retirement of later signals
// until the other queue has reached the awaited value.
//
// The device serializes everything behind one mutex, which makes the
// timeline easy to reason about in tests.
package soft

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/frameq/backend"
)

func init() {
	backend.Register(backend.NameSoft, func() (backend.Device, error) {
		return New(WithLatency(DefaultLatency)), nil
	})
}

// DefaultLatency is the retirement latency of devices opened through the
// backend registry.
const DefaultLatency = 2 * time.Millisecond

// heapAddressBase is the first fake device address handed to upload heaps.
const heapAddressBase = 0x1_0000_0000

// heapAddressAlign separates fake device addresses of upload heaps.
const heapAddressAlign = 64 << 10

// Option configures a Device.
type Option func(*Device)

// WithLatency makes every signaled value retire d after Signal, subject to
// queue order and dependencies. Zero keeps manual retirement.
func WithLatency(d time.Duration) Option {
	return func(dev *Device) {
		dev.latency = d
	}
}

// Device is a simulated backend.Device.
type Device struct {
	mu sync.Mutex

	latency  time.Duration
	queues   []*Queue
	nextAddr uint64

	liveRecorders int
	liveHeaps     int
	destroyed     bool
}

// New creates a device. Without options retirement is manual.
func New(opts ...Option) *Device {
	d := &Device{nextAddr: heapAddressBase}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CreateQueue implements backend.Device.
func (d *Device) CreateQueue(t backend.QueueType) (backend.Queue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed {
		return nil, backend.ErrDestroyed
	}
	if t >= backend.QueueTypeCount {
		return nil, errors.Newf("soft: unknown queue type %d", t)
	}
	q := newQueue(d, t)
	d.queues = append(d.queues, q)
	return q, nil
}

// CreateRecorder implements backend.Device.
func (d *Device) CreateRecorder(t backend.QueueType) (backend.Recorder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed {
		return nil, backend.ErrDestroyed
	}
	d.liveRecorders++
	return &Recorder{dev: d, typ: t, recording: true}, nil
}

// CreateUploadHeap implements backend.Device.
func (d *Device) CreateUploadHeap(size uint64) (backend.UploadHeap, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed {
		return nil, backend.ErrDestroyed
	}
	h, err := newUploadHeap(d, size, d.nextAddr)
	if err != nil {
		return nil, err
	}
	d.nextAddr += (size + heapAddressAlign - 1) &^ (heapAddressAlign - 1)
	d.liveHeaps++
	return h, nil
}

// Destroy stops pending retirement timers. Outstanding notifications never
// fire.
func (d *Device) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.destroyed = true
	for _, q := range d.queues {
		q.stopTimers()
	}
}

// RetireAll retires every value signaled so far on every queue, as far as
// dependencies allow.
func (d *Device) RetireAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, q := range d.queues {
		q.markReady(q.lastSignaled)
	}
	d.advance()
}

// LiveRecorders returns the number of recorders not yet destroyed.
func (d *Device) LiveRecorders() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liveRecorders
}

// LiveHeaps returns the number of upload heaps not yet destroyed.
func (d *Device) LiveHeaps() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liveHeaps
}

// advance retires ready signals on all queues until no queue can make
// progress. A queue blocked on another queue's value may unblock once that
// queue retires, so the loop runs to a fixed point.
//
// d.mu must be held.
func (d *Device) advance() {
	for {
		progressed := false
		for _, q := range d.queues {
			if q.retireReady() {
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
}
