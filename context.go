package frameq

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/frameq/backend"
)

// Context drives the three execution queues of one device through a ring of
// buffered frames.
//
// Each frame slot owns a graveyard gated by the render queue and a scratch
// buffer. BeginFrame recycles the slot the new frame lands on; EndFrame
// records the fence BeginFrame must wait for before doing so.
//
// Command buffer methods, keep-alive methods and scratch allocation are safe
// for concurrent use. BeginFrame, EndFrame and Close are called from the
// frame loop.
type Context struct {
	opts options
	log  logSource
	dev  backend.Device

	queues [backend.QueueTypeCount]*Queue

	graveyards       []*Graveyard
	copyGraveyard    *Graveyard
	computeGraveyard *Graveyard

	scratch []*scratchSlot

	// fences[i] is the render counter value slot i's previous frame ended
	// with.
	fences []atomic.Uint64

	reclaimer *reclaimer
	group     errgroup.Group

	// frames counts BeginFrame calls; the frame ID is frames-1.
	frames atomic.Uint64

	frameMu   sync.Mutex
	lastFrame time.Time

	closed atomic.Bool
}

// New creates a Context on dev and starts its reclaimer. If dev accepts a
// logger (SetLogger(*slog.Logger)), the Context's logger is propagated to it.
func New(dev backend.Device, opts ...Option) (*Context, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	c := &Context{
		opts:      o,
		log:       logSource{own: o.logger},
		dev:       dev,
		fences:    make([]atomic.Uint64, o.bufferedFrames),
		lastFrame: time.Now(),
	}
	if s, ok := dev.(loggerSetter); ok {
		s.SetLogger(c.log.get())
	}

	wake := make(chan struct{}, 1)
	for t := range backend.QueueTypeCount {
		q, err := newQueue(dev, t, c.log, o.slabChunk, wake)
		if err != nil {
			c.destroy()
			return nil, err
		}
		c.queues[t] = q
	}

	render := c.queues[backend.QueueRender]
	c.graveyards = make([]*Graveyard, o.bufferedFrames)
	c.scratch = make([]*scratchSlot, 0, o.bufferedFrames)
	for i := range o.bufferedFrames {
		c.graveyards[i] = NewGraveyard(render, o.slabChunk)
		s, err := newScratchSlot(dev, o.scratchSize)
		if err != nil {
			c.destroy()
			return nil, errors.Wrapf(err, "frameq: frame slot %d", i)
		}
		c.scratch = append(c.scratch, s)
	}
	c.copyGraveyard = NewGraveyard(c.queues[backend.QueueCopy], o.slabChunk)
	c.computeGraveyard = NewGraveyard(c.queues[backend.QueueCompute], o.slabChunk)

	c.reclaimer = newReclaimer(c.queues[:], o.reclaimPollInterval, o.stallThreshold, c.log, wake)
	c.group.Go(c.reclaimer.run)

	c.log.get().Info("frameq: context created",
		"bufferedFrames", o.bufferedFrames, "scratchSize", o.scratchSize)
	return c, nil
}

// BeginFrame starts the next frame: it waits for the fence recorded by
// EndFrame for the slot being reused, releases retired graves and rewinds
// the slot's scratch memory. It returns the wall time since the previous
// BeginFrame (or since New).
func (c *Context) BeginFrame() time.Duration {
	c.checkOpen("BeginFrame")

	id := c.frames.Add(1) - 1
	slot := int(id % uint64(len(c.graveyards)))

	if fence := c.fences[slot].Load(); fence != 0 {
		c.queues[backend.QueueRender].WaitForFence(fence)
	}

	released := c.graveyards[slot].Cleanup()
	released += c.copyGraveyard.Cleanup()
	released += c.computeGraveyard.Cleanup()
	if released > 0 {
		c.log.get().Debug("frameq: released resources", "frame", id, "count", released)
	}
	c.scratch[slot].reset()

	c.frameMu.Lock()
	now := time.Now()
	elapsed := now.Sub(c.lastFrame)
	c.lastFrame = now
	c.frameMu.Unlock()
	return elapsed
}

// EndFrame records the render counter value that marks the end of the
// current frame's GPU work. The next BeginFrame on the same slot waits for
// it. Calling EndFrame is optional.
func (c *Context) EndFrame(fence uint64) {
	c.fences[c.FrameSlot()].Store(fence)
}

// Flush waits until the render, compute and copy queues are idle, in that
// order.
func (c *Context) Flush() {
	c.checkOpen("Flush")
	c.flushQueues()
}

func (c *Context) flushQueues() {
	c.queues[backend.QueueRender].Flush()
	c.queues[backend.QueueCompute].Flush()
	c.queues[backend.QueueCopy].Flush()
}

// GetFreeRenderCommandBuffer returns a recording command buffer for the
// render queue.
func (c *Context) GetFreeRenderCommandBuffer() *CommandBuffer {
	return c.getFree(backend.QueueRender)
}

// GetFreeComputeCommandBuffer returns a recording command buffer for the
// compute queue.
func (c *Context) GetFreeComputeCommandBuffer() *CommandBuffer {
	return c.getFree(backend.QueueCompute)
}

// GetFreeCopyCommandBuffer returns a recording command buffer for the copy
// queue.
func (c *Context) GetFreeCopyCommandBuffer() *CommandBuffer {
	return c.getFree(backend.QueueCopy)
}

func (c *Context) getFree(t backend.QueueType) *CommandBuffer {
	c.checkOpen("GetFreeCommandBuffer")
	return c.queues[t].GetFreeCommandBuffer()
}

// ExecuteCommandBuffer makes the current frame's scratch writes visible to
// the GPU and executes cb on its queue. It returns cb's completion value on
// that queue.
func (c *Context) ExecuteCommandBuffer(cb *CommandBuffer) uint64 {
	c.checkOpen("ExecuteCommandBuffer")
	if err := c.scratch[c.FrameSlot()].flush(); err != nil {
		fatal(c.log, err, "frameq: flush scratch for frame %d", c.FrameID())
	}
	return c.queues[cb.Type()].Execute(cb)
}

// KeepResourceAlive defers the release of res until the render queue
// retires everything signaled so far and the current frame slot comes
// around again.
func (c *Context) KeepResourceAlive(res backend.Resource) {
	c.checkOpen("KeepResourceAlive")
	render := c.queues[backend.QueueRender]
	c.graveyards[c.FrameSlot()].AddResource(render.LastSignaled(), res)
}

// KeepCopyResourceAlive defers the release of res until the copy queue's
// counter reaches counter.
func (c *Context) KeepCopyResourceAlive(counter uint64, res backend.Resource) {
	c.checkOpen("KeepCopyResourceAlive")
	c.copyGraveyard.AddResource(counter, res)
}

// KeepComputeResourceAlive defers the release of res until the compute
// queue's counter reaches counter.
func (c *Context) KeepComputeResourceAlive(counter uint64, res backend.Resource) {
	c.checkOpen("KeepComputeResourceAlive")
	c.computeGraveyard.AddResource(counter, res)
}

// AllocateFrameScratch returns size bytes of the current frame's scratch
// memory. A zero alignment selects the configured default. The memory is
// reused once the frame slot comes around again; exceeding the slot
// capacity panics.
func (c *Context) AllocateFrameScratch(size, alignment int) Allocation {
	c.checkOpen("AllocateFrameScratch")
	if alignment == 0 {
		alignment = c.opts.scratchAlignment
	}
	return c.scratch[c.FrameSlot()].allocate(size, alignment)
}

// Queue returns the execution queue of class t.
func (c *Context) Queue(t backend.QueueType) *Queue { return c.queues[t] }

// FrameID returns the ID of the current frame. The first BeginFrame starts
// frame 0; before it, FrameID returns math.MaxUint64.
func (c *Context) FrameID() uint64 { return c.frames.Load() - 1 }

// FrameSlot returns the buffered frame slot of the current frame.
func (c *Context) FrameSlot() int {
	n := c.frames.Load()
	if n == 0 {
		return 0
	}
	return int((n - 1) % uint64(len(c.graveyards)))
}

// BufferedFrames returns the number of frame slots.
func (c *Context) BufferedFrames() int { return len(c.graveyards) }

// FreeCommandBuffers returns the free pool size of queue t.
func (c *Context) FreeCommandBuffers(t backend.QueueType) int {
	return c.queues[t].FreeCount()
}

// RunningCommandBuffers returns the number of executed, unreclaimed buffers
// of queue t.
func (c *Context) RunningCommandBuffers(t backend.QueueType) int {
	return c.queues[t].RunningCount()
}

// Close waits for all queues to go idle, releases every retired grave, stops
// the reclaimer and destroys the backend objects created by New. The device
// itself stays open. Close is idempotent.
func (c *Context) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.flushQueues()

	pending := 0
	for _, g := range c.graveyards {
		g.Cleanup()
		pending += g.Len()
	}
	for _, g := range []*Graveyard{c.copyGraveyard, c.computeGraveyard} {
		g.Cleanup()
		pending += g.Len()
	}
	if pending > 0 {
		c.log.get().Warn("frameq: resources never released", "count", pending)
	}

	c.reclaimer.shutdown()
	err := c.group.Wait()
	c.destroy()

	c.log.get().Info("frameq: context closed", "frames", c.frames.Load())
	return err
}

// Closed reports whether Close has been called.
func (c *Context) Closed() bool { return c.closed.Load() }

func (c *Context) checkOpen(op string) {
	if c.closed.Load() {
		panicClosed(op)
	}
}

// destroy releases whatever New managed to create.
func (c *Context) destroy() {
	for _, s := range c.scratch {
		s.destroy()
	}
	c.scratch = nil
	for _, q := range c.queues {
		if q != nil {
			q.destroy()
		}
	}
}
