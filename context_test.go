package frameq

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/frameq/backend"
	"github.com/gogpu/frameq/backend/soft"
)

// retireContinuously retires every signaled value on dev until the returned
// stop function is called.
func retireContinuously(dev *soft.Device) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tick := time.NewTicker(200 * time.Microsecond)
		defer tick.Stop()
		for {
			dev.RetireAll()
			select {
			case <-done:
				return
			case <-tick.C:
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// closeWithRetire closes ctx while dev keeps retiring work, so the final
// flush can complete on a manual device.
func closeWithRetire(t *testing.T, ctx *Context, dev *soft.Device) {
	t.Helper()
	stop := retireContinuously(dev)
	defer stop()
	require.NoError(t, ctx.Close())
}

// newTestContext returns a Context on a manual soft device. Nothing retires
// unless the test says so.
func newTestContext(t *testing.T, opts ...Option) (*Context, *soft.Device) {
	t.Helper()
	dev := soft.New()
	opts = append([]Option{WithReclaimPollInterval(time.Millisecond), WithScratchSize(64 << 10)}, opts...)
	ctx, err := New(dev, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { closeWithRetire(t, ctx, dev) })
	return ctx, dev
}

func softQueue(ctx *Context, t backend.QueueType) *soft.Queue {
	return ctx.Queue(t).Native().(*soft.Queue)
}

func recoverError(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err, _ = r.(error)
			if err == nil {
				err = errors.Newf("%v", r)
			}
		}
	}()
	fn()
	return nil
}

func TestFrameIDStartsAtZero(t *testing.T) {
	ctx, _ := newTestContext(t)

	assert.Equal(t, ^uint64(0), ctx.FrameID())
	assert.Equal(t, 0, ctx.FrameSlot())

	for i := range 7 {
		ctx.BeginFrame()
		assert.Equal(t, uint64(i), ctx.FrameID())
		assert.Equal(t, i%DefaultBufferedFrames, ctx.FrameSlot())
	}
}

func TestBeginFrameReturnsElapsed(t *testing.T) {
	ctx, _ := newTestContext(t)

	ctx.BeginFrame()
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, ctx.BeginFrame(), 5*time.Millisecond)
}

// Five executed buffers come back to the free pool once their values
// retire, and the next five requests are served from them.
func TestReclaimAndReuse(t *testing.T) {
	ctx, _ := newTestContext(t)

	executed := make(map[*CommandBuffer]bool)
	var last uint64
	for range 5 {
		cb := ctx.GetFreeRenderCommandBuffer()
		last = ctx.ExecuteCommandBuffer(cb)
		executed[cb] = true
	}
	assert.Equal(t, uint64(5), last)
	assert.Equal(t, 5, ctx.RunningCommandBuffers(backend.QueueRender))
	assert.Zero(t, ctx.FreeCommandBuffers(backend.QueueRender))

	softQueue(ctx, backend.QueueRender).RetireTo(5)

	require.Eventually(t, func() bool {
		return ctx.FreeCommandBuffers(backend.QueueRender) == 5
	}, time.Second, time.Millisecond)
	assert.Zero(t, ctx.RunningCommandBuffers(backend.QueueRender))

	for range 5 {
		cb := ctx.GetFreeRenderCommandBuffer()
		assert.True(t, executed[cb], "expected a recycled command buffer")
		delete(executed, cb)
		rec := cb.Recorder().(*soft.Recorder)
		assert.True(t, rec.Recording())
		assert.Equal(t, 1, rec.Resets())
	}
	assert.Empty(t, executed)
	assert.Equal(t, 5, ctx.Queue(backend.QueueRender).Allocated())
	assert.Equal(t, uint64(5), ctx.Queue(backend.QueueRender).Reclaimed())
}

func TestReclaimStopsAtFirstUnretired(t *testing.T) {
	ctx, _ := newTestContext(t)

	for range 4 {
		ctx.ExecuteCommandBuffer(ctx.GetFreeComputeCommandBuffer())
	}
	softQueue(ctx, backend.QueueCompute).RetireTo(2)

	require.Eventually(t, func() bool {
		return ctx.FreeCommandBuffers(backend.QueueCompute) == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, 2, ctx.RunningCommandBuffers(backend.QueueCompute))

	// Nothing else may come back while 3 and 4 are in flight.
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 2, ctx.FreeCommandBuffers(backend.QueueCompute))
}

// A copy resource kept alive until counter 10 survives while the copy
// queue has only reached 5, and is released exactly once afterwards.
func TestKeepCopyResourceAlive(t *testing.T) {
	ctx, _ := newTestContext(t)
	copyQ := ctx.Queue(backend.QueueCopy)
	native := softQueue(ctx, backend.QueueCopy)

	res := soft.NewResource("staging")
	ctx.KeepCopyResourceAlive(10, res)

	for range 5 {
		copyQ.Signal()
	}
	native.RetireTo(5)
	ctx.BeginFrame()
	assert.Zero(t, res.Released())
	assert.Equal(t, 1, ctx.Stats().PendingGraves)

	for range 5 {
		copyQ.Signal()
	}
	native.RetireTo(10)
	ctx.BeginFrame()
	assert.Equal(t, 1, res.Released())

	ctx.BeginFrame()
	ctx.BeginFrame()
	assert.Equal(t, 1, res.Released())
	assert.Zero(t, ctx.Stats().PendingGraves)
}

func TestKeepComputeResourceAlive(t *testing.T) {
	ctx, _ := newTestContext(t)

	fence := ctx.ExecuteCommandBuffer(ctx.GetFreeComputeCommandBuffer())
	res := soft.NewResource("buffer")
	ctx.KeepComputeResourceAlive(fence, res)

	ctx.BeginFrame()
	assert.Zero(t, res.Released())

	softQueue(ctx, backend.QueueCompute).RetireTo(fence)
	ctx.BeginFrame()
	assert.Equal(t, 1, res.Released())
}

func TestKeepResourceAliveWaitsForSlot(t *testing.T) {
	ctx, _ := newTestContext(t)
	render := softQueue(ctx, backend.QueueRender)

	ctx.BeginFrame() // frame 0, slot 0
	fence := ctx.ExecuteCommandBuffer(ctx.GetFreeRenderCommandBuffer())
	res := soft.NewResource("texture")
	ctx.KeepResourceAlive(res)
	render.RetireTo(fence)

	// Frames 1 and 2 use other slots.
	ctx.BeginFrame()
	ctx.BeginFrame()
	assert.Zero(t, res.Released())

	ctx.BeginFrame() // frame 3 reuses slot 0
	assert.Equal(t, 1, res.Released())
}

func TestKeepResourceAliveUnretiredSurvivesSlotReuse(t *testing.T) {
	ctx, _ := newTestContext(t, WithBufferedFrames(1))

	ctx.BeginFrame()
	ctx.ExecuteCommandBuffer(ctx.GetFreeRenderCommandBuffer())
	res := soft.NewResource("texture")
	ctx.KeepResourceAlive(res)

	ctx.BeginFrame()
	assert.Zero(t, res.Released())

	softQueue(ctx, backend.QueueRender).RetireTo(1)
	ctx.BeginFrame()
	assert.Equal(t, 1, res.Released())
}

func TestEndFrameFenceBlocksSlotReuse(t *testing.T) {
	ctx, dev := newTestContext(t, WithBufferedFrames(1))

	ctx.BeginFrame()
	fence := ctx.ExecuteCommandBuffer(ctx.GetFreeRenderCommandBuffer())
	ctx.EndFrame(fence)

	began := make(chan struct{})
	go func() {
		ctx.BeginFrame()
		close(began)
	}()

	select {
	case <-began:
		t.Fatal("BeginFrame returned before the previous frame's fence")
	case <-time.After(10 * time.Millisecond):
	}

	dev.RetireAll()
	select {
	case <-began:
	case <-time.After(time.Second):
		t.Fatal("BeginFrame did not return after the fence retired")
	}
}

func TestExecuteFlushesScratch(t *testing.T) {
	ctx, _ := newTestContext(t)
	ctx.BeginFrame()

	a := ctx.AllocateFrameScratch(16, 0)
	binary.LittleEndian.PutUint64(a.CPU, 0xdeadbeef)
	heap := a.Heap.(*soft.UploadHeap)
	assert.Zero(t, heap.Writes())

	ctx.ExecuteCommandBuffer(ctx.GetFreeCopyCommandBuffer())
	assert.Equal(t, 1, heap.Writes())
	assert.Equal(t, uint64(0xdeadbeef), binary.LittleEndian.Uint64(heap.Contents()[a.Offset:]))

	// Nothing new to flush.
	ctx.ExecuteCommandBuffer(ctx.GetFreeCopyCommandBuffer())
	assert.Equal(t, 1, heap.Writes())
}

func TestAllocateFrameScratch(t *testing.T) {
	ctx, _ := newTestContext(t)
	ctx.BeginFrame()

	a := ctx.AllocateFrameScratch(100, 0)
	b := ctx.AllocateFrameScratch(100, 0)
	c := ctx.AllocateFrameScratch(4, 16)

	assert.Len(t, a.CPU, 100)
	assert.Zero(t, a.Offset)
	assert.Equal(t, uint64(256), b.Offset)
	assert.Equal(t, uint64(368), c.Offset)
	assert.Equal(t, a.Heap.DeviceAddress()+b.Offset, b.GPU)
	assert.Same(t, a.Heap, b.Heap)

	// The next frame uses another slot and another heap.
	ctx.BeginFrame()
	d := ctx.AllocateFrameScratch(8, 0)
	assert.Zero(t, d.Offset)
	assert.NotEqual(t, a.GPU, d.GPU)
}

func TestScratchRewindsOnSlotReuse(t *testing.T) {
	ctx, _ := newTestContext(t, WithBufferedFrames(2))

	ctx.BeginFrame()
	ctx.AllocateFrameScratch(1000, 0)
	first := ctx.Stats().ScratchUsed
	assert.Equal(t, 1000, first)

	ctx.BeginFrame()
	ctx.BeginFrame()
	assert.Zero(t, ctx.Stats().ScratchUsed)
	assert.Zero(t, ctx.AllocateFrameScratch(8, 0).Offset)
}

func TestScratchOverflowPanics(t *testing.T) {
	ctx, _ := newTestContext(t, WithScratchSize(4096))
	ctx.BeginFrame()

	ctx.AllocateFrameScratch(4000, 0)
	err := recoverError(func() { ctx.AllocateFrameScratch(200, 0) })
	require.Error(t, err)
	assert.True(t, errors.HasAssertionFailure(err))
}

func TestPushToScratch(t *testing.T) {
	type vertex struct{ X, Y, Z float32 }
	ctx, _ := newTestContext(t)
	ctx.BeginFrame()

	a := PushToScratch(ctx, vertex{1, 2, 3}, vertex{4, 5, 6})
	require.Len(t, a.CPU, 24)
	assert.Zero(t, a.Offset%DefaultScratchAlignment)
	assert.Equal(t, float32(4), math.Float32frombits(binary.LittleEndian.Uint32(a.CPU[12:])))

	assert.Equal(t, Allocation{}, PushToScratch[vertex](ctx))
}

func TestExecuteForeignCommandBufferPanics(t *testing.T) {
	ctx, _ := newTestContext(t)
	other, _ := newTestContext(t)

	cb := other.GetFreeRenderCommandBuffer()
	err := recoverError(func() { ctx.ExecuteCommandBuffer(cb) })
	require.Error(t, err)
	assert.True(t, errors.HasAssertionFailure(err))
}

func TestUseAfterClosePanics(t *testing.T) {
	ctx, dev := newTestContext(t)
	closeWithRetire(t, ctx, dev)
	assert.True(t, ctx.Closed())

	for name, fn := range map[string]func(){
		"BeginFrame":           func() { ctx.BeginFrame() },
		"GetFree":              func() { ctx.GetFreeRenderCommandBuffer() },
		"KeepResourceAlive":    func() { ctx.KeepResourceAlive(soft.NewResource("r")) },
		"AllocateFrameScratch": func() { ctx.AllocateFrameScratch(8, 0) },
		"Flush":                func() { ctx.Flush() },
	} {
		err := recoverError(fn)
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, ErrClosed), "%s: got %v", name, err)
		assert.True(t, errors.HasAssertionFailure(err), "%s: got %v", name, err)
	}

	// Second close is a no-op.
	assert.NoError(t, ctx.Close())
}

func TestCloseReleasesBackendObjects(t *testing.T) {
	dev := soft.New(soft.WithLatency(time.Millisecond))
	ctx, err := New(dev, WithReclaimPollInterval(time.Millisecond), WithScratchSize(4096))
	require.NoError(t, err)

	ctx.BeginFrame()
	for range 3 {
		ctx.ExecuteCommandBuffer(ctx.GetFreeRenderCommandBuffer())
		ctx.ExecuteCommandBuffer(ctx.GetFreeCopyCommandBuffer())
	}
	res := soft.NewResource("texture")
	ctx.KeepResourceAlive(res)

	assert.Equal(t, DefaultBufferedFrames, dev.LiveHeaps())
	require.NoError(t, ctx.Close())

	assert.Equal(t, 1, res.Released())
	assert.Zero(t, dev.LiveRecorders())
	assert.Zero(t, dev.LiveHeaps())
	dev.Destroy()
}

func TestConcurrentProducers(t *testing.T) {
	dev := soft.New(soft.WithLatency(200 * time.Microsecond))
	ctx, err := New(dev, WithReclaimPollInterval(time.Millisecond), WithScratchSize(4096))
	require.NoError(t, err)
	defer dev.Destroy()

	const producers, perProducer = 8, 50
	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perProducer {
				var cb *CommandBuffer
				switch p % 3 {
				case 0:
					cb = ctx.GetFreeRenderCommandBuffer()
				case 1:
					cb = ctx.GetFreeComputeCommandBuffer()
				default:
					cb = ctx.GetFreeCopyCommandBuffer()
				}
				ctx.Queue(cb.Type()).Execute(cb)
			}
		}()
	}
	wg.Wait()
	ctx.Flush()

	total := 0
	for typ := range backend.QueueTypeCount {
		q := ctx.Queue(typ)
		assert.Zero(t, q.RunningCount(), typ.String())
		assert.Equal(t, q.Allocated(), q.FreeCount(), typ.String())
		total += int(q.Reclaimed())
	}
	assert.Equal(t, producers*perProducer, total)
	require.NoError(t, ctx.Close())
}

func TestStatsJSON(t *testing.T) {
	ctx, _ := newTestContext(t)
	ctx.BeginFrame()
	ctx.ExecuteCommandBuffer(ctx.GetFreeRenderCommandBuffer())
	ctx.KeepResourceAlive(soft.NewResource("r"))

	data, err := ctx.StatsJSON()
	require.NoError(t, err)

	var got struct {
		Frames        int
		PendingGraves int
		Queues        []struct {
			Type         string
			Running      int
			Allocated    int
			LastSignaled int
		}
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 1, got.Frames)
	assert.Equal(t, 1, got.PendingGraves)
	require.Len(t, got.Queues, 3)
	assert.Equal(t, "render", got.Queues[0].Type)
	assert.Equal(t, 1, got.Queues[0].Allocated)
	assert.Equal(t, 1, got.Queues[0].LastSignaled)
	assert.Equal(t, "copy", got.Queues[2].Type)
}
