package frameq

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/frameq/backend"
	"github.com/gogpu/frameq/backend/soft"
)

func newTestQueue(t *testing.T, dev *soft.Device, typ backend.QueueType) *Queue {
	t.Helper()
	q, err := newQueue(dev, typ, logSource{}, 4, nil)
	require.NoError(t, err)
	return q
}

func TestSignalIsMonotonic(t *testing.T) {
	q := newTestQueue(t, soft.New(), backend.QueueRender)

	const goroutines, each = 8, 100
	values := make(chan uint64, goroutines*each)
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range each {
				values <- q.Signal()
			}
		}()
	}
	wg.Wait()
	close(values)

	got := make([]uint64, 0, goroutines*each)
	for v := range values {
		got = append(got, v)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	for i, v := range got {
		require.Equal(t, uint64(i+1), v)
	}
	assert.Equal(t, uint64(goroutines*each), q.LastSignaled())
}

func TestIsComplete(t *testing.T) {
	q := newTestQueue(t, soft.New(), backend.QueueCopy)

	v := q.Signal()
	assert.Equal(t, uint64(1), v)
	assert.True(t, q.IsComplete(0))
	assert.False(t, q.IsComplete(v))

	q.native.(*soft.Queue).RetireTo(v)
	assert.True(t, q.IsComplete(v))
	assert.Equal(t, v, q.Completed())
}

func TestGetFreeCommandBufferIsExclusive(t *testing.T) {
	q := newTestQueue(t, soft.New(), backend.QueueCompute)

	const goroutines, each = 8, 25
	got := make(chan *CommandBuffer, goroutines*each)
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range each {
				got <- q.GetFreeCommandBuffer()
			}
		}()
	}
	wg.Wait()
	close(got)

	seen := make(map[*CommandBuffer]bool)
	for cb := range got {
		assert.False(t, seen[cb], "command buffer handed out twice")
		seen[cb] = true
		assert.Equal(t, backend.QueueCompute, cb.Type())
	}
	assert.Len(t, seen, goroutines*each)
	assert.Equal(t, goroutines*each, q.Allocated())
}

func TestExecuteStampsAndOrdersRunning(t *testing.T) {
	q := newTestQueue(t, soft.New(), backend.QueueRender)

	var cbs []*CommandBuffer
	for i := range 3 {
		cb := q.GetFreeCommandBuffer()
		assert.Equal(t, uint64(i+1), q.Execute(cb))
		assert.Equal(t, uint64(i+1), cb.LastCompletion())
		cbs = append(cbs, cb)
	}
	assert.Equal(t, 3, q.RunningCount())
	assert.Zero(t, q.FreeCount())

	for _, want := range cbs {
		assert.Same(t, want, q.popOldestRunning())
	}
	assert.Nil(t, q.peekOldestRunning())
}

func TestExecuteOnWrongQueuePanics(t *testing.T) {
	dev := soft.New()
	render := newTestQueue(t, dev, backend.QueueRender)
	copyQ := newTestQueue(t, dev, backend.QueueCopy)

	cb := copyQ.GetFreeCommandBuffer()
	assert.Panics(t, func() { render.Execute(cb) })
}

func TestWaitForFence(t *testing.T) {
	q := newTestQueue(t, soft.New(), backend.QueueRender)

	q.WaitForFence(0)

	v := q.Signal()
	done := make(chan struct{})
	go func() {
		q.WaitForFence(v)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitForFence returned before the value retired")
	case <-time.After(10 * time.Millisecond):
	}

	q.native.(*soft.Queue).RetireTo(v)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForFence did not return")
	}
}

func TestWaitForQueueHoldsBackLaterWork(t *testing.T) {
	dev := soft.New()
	render := newTestQueue(t, dev, backend.QueueRender)
	copyQ := newTestQueue(t, dev, backend.QueueCopy)

	upload := copyQ.Execute(copyQ.GetFreeCommandBuffer())
	render.WaitForQueue(copyQ)
	draw := render.Execute(render.GetFreeCommandBuffer())

	render.native.(*soft.Queue).RetireTo(draw)
	assert.False(t, render.IsComplete(draw), "render work must wait for the copy queue")

	dev.RetireAll()
	assert.True(t, copyQ.IsComplete(upload))
	assert.True(t, render.IsComplete(draw))
}

func TestWaitForCommandBuffer(t *testing.T) {
	dev := soft.New()
	compute := newTestQueue(t, dev, backend.QueueCompute)
	render := newTestQueue(t, dev, backend.QueueRender)

	cb := compute.GetFreeCommandBuffer()
	v := compute.Execute(cb)
	render.WaitForCommandBuffer(cb)
	draw := render.Signal()

	render.native.(*soft.Queue).RetireTo(draw)
	assert.False(t, render.IsComplete(draw))

	compute.native.(*soft.Queue).RetireTo(v)
	assert.True(t, render.IsComplete(draw))
}

func TestFlushWaitsForRunningPool(t *testing.T) {
	dev := soft.New(soft.WithLatency(2 * time.Millisecond))
	ctx, err := New(dev, WithReclaimPollInterval(time.Millisecond), WithScratchSize(4096))
	require.NoError(t, err)
	defer dev.Destroy()

	q := ctx.Queue(backend.QueueRender)
	for range 10 {
		q.Execute(q.GetFreeCommandBuffer())
	}
	q.Flush()

	assert.Zero(t, q.RunningCount())
	assert.Equal(t, 10, q.FreeCount())
	assert.True(t, q.IsComplete(q.LastSignaled()))
	assert.Equal(t, uint64(11), q.LastSignaled())
	require.NoError(t, ctx.Close())
}

func TestFlushIdleQueue(t *testing.T) {
	dev := soft.New(soft.WithLatency(time.Millisecond))
	ctx, err := New(dev, WithScratchSize(4096))
	require.NoError(t, err)
	defer dev.Destroy()

	ctx.Flush()
	for typ := range backend.QueueTypeCount {
		assert.Equal(t, uint64(1), ctx.Queue(typ).LastSignaled())
	}
	require.NoError(t, ctx.Close())
}
