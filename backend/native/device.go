// Package native implements the frameq backend on top of
// github.com/gogpu/wgpu/hal.
//
// A HAL device exposes one queue. The three frameq queue classes are
// logical queues multiplexed onto it: submissions from all of them are
// serialized by the device mutex and execute in submission order. Each
// logical queue maps its completion counter onto HAL submission indices:
// Signal(v) remembers the index of the queue's latest submission, and v is
// complete once hal.Queue.PollCompleted reaches that index.
//
// Notifications are served by a poll goroutine that runs only while at
// least one waiter is pending.
package native

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/frameq/backend"
)

func init() {
	backend.Register(backend.NameNative, func() (backend.Device, error) {
		return OpenDefault()
	})
}

// DefaultPollInterval is how often pending notifications re-check
// hal.Queue.PollCompleted.
const DefaultPollInterval = time.Millisecond

// variantPriority is the order in which OpenDefault tries registered HAL
// backends. The no-op HAL comes last so real hardware wins when linked in.
var variantPriority = []gputypes.Backend{
	gputypes.BackendVulkan,
	gputypes.BackendMetal,
	gputypes.BackendDX12,
	gputypes.BackendGL,
	gputypes.BackendEmpty,
}

// Device adapts a hal.Device and its queue to backend.Device.
type Device struct {
	mu sync.Mutex

	device   hal.Device
	queue    hal.Queue
	instance hal.Instance
	adapter  string
	external bool

	queues       []*Queue
	pollInterval time.Duration
	polling      bool
	stop         chan struct{}
	pollDone     chan struct{}
	destroyed    bool
}

// Open opens a device on the first suitable adapter of a registered HAL
// backend. Discrete and integrated GPUs are preferred over other adapters.
func Open(variant gputypes.Backend) (*Device, error) {
	b, ok := hal.GetBackend(variant)
	if !ok {
		return nil, errors.Wrapf(backend.ErrBackendNotAvailable, "native: HAL backend %s not registered", variant)
	}
	instance, err := b.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, errors.Wrapf(err, "native: create %s instance", variant)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, errors.Wrapf(ErrNoAdapter, "native: %s", variant)
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, errors.Wrapf(err, "native: open device on %q", selected.Info.Name)
	}

	d := newDevice(openDev.Device, openDev.Queue, selected.Info.Name)
	d.instance = instance
	slogger().Info("native: device opened",
		"backend", variant.String(),
		"adapter", selected.Info.Name,
		"type", selected.Info.DeviceType.String())
	return d, nil
}

// OpenDefault opens the first registered HAL backend that yields a device.
func OpenDefault() (*Device, error) {
	var errs error
	for _, v := range variantPriority {
		if _, ok := hal.GetBackend(v); !ok {
			continue
		}
		d, err := Open(v)
		if err == nil {
			return d, nil
		}
		errs = errors.CombineErrors(errs, err)
	}
	if errs != nil {
		return nil, errs
	}
	return nil, errors.Wrap(backend.ErrBackendNotAvailable, "native: no HAL backend registered")
}

// Wrap adopts an existing HAL device and queue. The caller keeps ownership:
// Destroy does not destroy them.
func Wrap(device hal.Device, queue hal.Queue) *Device {
	d := newDevice(device, queue, "")
	d.external = true
	return d
}

// FromProvider adopts the HAL device of a gpucontext.DeviceProvider. The
// provider must implement HalDevice() any and HalQueue() any returning
// hal.Device and hal.Queue.
func FromProvider(p gpucontext.DeviceProvider) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := p.(halProvider)
	if !ok {
		return nil, ErrNoHALAccess
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, errors.Wrap(ErrNoHALAccess, "native: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, errors.Wrap(ErrNoHALAccess, "native: provider HalQueue is not hal.Queue")
	}

	info := p.AdapterInfo()
	d := Wrap(device, queue)
	d.adapter = info.Name
	slogger().Info("native: adopted provider device",
		"adapter", info.Name,
		"type", info.Type.String())
	return d, nil
}

func newDevice(device hal.Device, queue hal.Queue, adapter string) *Device {
	return &Device{
		device:       device,
		queue:        queue,
		adapter:      adapter,
		pollInterval: DefaultPollInterval,
	}
}

// AdapterName returns the name of the adapter the device was opened on,
// if known.
func (d *Device) AdapterName() string { return d.adapter }

// HalDevice returns the underlying HAL device.
func (d *Device) HalDevice() hal.Device { return d.device }

// SetPollInterval changes how often pending notifications poll the HAL
// queue. Non-positive values restore DefaultPollInterval.
func (d *Device) SetPollInterval(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	d.mu.Lock()
	d.pollInterval = interval
	d.mu.Unlock()
}

// CreateQueue implements backend.Device.
func (d *Device) CreateQueue(t backend.QueueType) (backend.Queue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed {
		return nil, backend.ErrDestroyed
	}
	if t >= backend.QueueTypeCount {
		return nil, errors.Newf("native: unknown queue type %d", t)
	}
	q := &Queue{dev: d, typ: t}
	d.queues = append(d.queues, q)
	return q, nil
}

// CreateRecorder implements backend.Device.
func (d *Device) CreateRecorder(t backend.QueueType) (backend.Recorder, error) {
	if d.isDestroyed() {
		return nil, backend.ErrDestroyed
	}
	label := "frameq-" + t.String()
	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, errors.Wrapf(err, "native: create %s command encoder", t)
	}
	if err := enc.BeginEncoding(label); err != nil {
		enc.Destroy()
		return nil, errors.Wrapf(err, "native: begin %s encoding", t)
	}
	return &Recorder{dev: d, typ: t, label: label, encoder: enc, state: stateRecording}, nil
}

// CreateUploadHeap implements backend.Device.
func (d *Device) CreateUploadHeap(size uint64) (backend.UploadHeap, error) {
	if d.isDestroyed() {
		return nil, backend.ErrDestroyed
	}
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "frameq-scratch",
		Size:  size,
		Usage: gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc |
			gputypes.BufferUsageUniform | gputypes.BufferUsageStorage,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "native: create %d byte upload heap", size)
	}
	slogger().Debug("native: upload heap created", "size", size)
	return &UploadHeap{dev: d, buf: buf, size: size}, nil
}

// CreateBuffer creates a HAL buffer wrapped as a backend.Resource, ready to
// be handed to a graveyard once the GPU may still read it.
func (d *Device) CreateBuffer(label string, size uint64, usage gputypes.BufferUsage) (*Buffer, error) {
	if d.isDestroyed() {
		return nil, backend.ErrDestroyed
	}
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{Label: label, Size: size, Usage: usage})
	if err != nil {
		return nil, errors.Wrapf(err, "native: create buffer %q", label)
	}
	return &Buffer{device: d.device, buf: buf, size: size}, nil
}

// Destroy stops the poll goroutine and waits for the GPU to go idle. A
// device created by Open also destroys its HAL device and instance.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	stop, done := d.stop, d.pollDone
	d.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	if err := d.device.WaitIdle(); err != nil {
		slogger().Warn("native: wait idle failed", "err", err)
	}
	if d.external {
		return
	}
	d.device.Destroy()
	if d.instance != nil {
		d.instance.Destroy()
	}
	slogger().Info("native: device destroyed", "adapter", d.adapter)
}

func (d *Device) isDestroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

// refresh polls the HAL queue once and retires signals on every logical
// queue. d.mu must be held.
func (d *Device) refresh() {
	done := d.queue.PollCompleted()
	for _, q := range d.queues {
		q.retire(done)
	}
}

// startPolling launches the poll goroutine if it is not running.
// d.mu must be held.
func (d *Device) startPolling() {
	if d.polling || d.destroyed {
		return
	}
	d.polling = true
	d.stop = make(chan struct{})
	d.pollDone = make(chan struct{})
	go d.poll(d.stop, d.pollDone, d.pollInterval)
}

func (d *Device) poll(stop <-chan struct{}, done chan<- struct{}, interval time.Duration) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		d.mu.Lock()
		d.refresh()
		waiting := 0
		for _, q := range d.queues {
			waiting += len(q.waiters)
		}
		if waiting == 0 {
			d.polling = false
			d.stop, d.pollDone = nil, nil
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()
	}
}
