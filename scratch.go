package frameq

import (
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/frameq/backend"
	"github.com/gogpu/frameq/internal/arena"
)

// Allocation is a range of per-frame scratch memory. CPU is the writable
// image; the GPU sees the same bytes at GPU (when the backend exposes device
// addresses) or at Offset within Heap once the allocation is flushed by the
// next ExecuteCommandBuffer.
type Allocation struct {
	CPU    []byte
	GPU    uint64
	Offset uint64
	Heap   backend.UploadHeap
}

// scratchSlot is the scratch memory of one buffered frame.
type scratchSlot struct {
	mu       sync.Mutex
	mem      *arena.Arena
	heap     backend.UploadHeap
	capacity int
	flushed  int
}

func newScratchSlot(dev backend.Device, capacity int) (*scratchSlot, error) {
	mem, err := arena.New(capacity)
	if err != nil {
		return nil, errors.Wrap(err, "frameq: reserve scratch")
	}
	heap, err := dev.CreateUploadHeap(uint64(capacity))
	if err != nil {
		_ = mem.Release()
		return nil, errors.Wrap(err, "frameq: create scratch heap")
	}
	return &scratchSlot{mem: mem, heap: heap, capacity: capacity}, nil
}

func (s *scratchSlot) allocate(size, alignment int) Allocation {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := arena.AlignUp(s.mem.Offset(), alignment)
	if size < 0 || start+size > s.capacity {
		panic(errors.AssertionFailedf("frameq: scratch allocation of %d bytes at %d exceeds capacity %d",
			size, start, s.capacity))
	}
	s.mem.AlignNextTo(alignment)
	b := s.mem.Allocate(size, 1, false)
	return Allocation{
		CPU:    b,
		GPU:    s.heap.DeviceAddress() + uint64(start),
		Offset: uint64(start),
		Heap:   s.heap,
	}
}

// flush copies everything allocated since the last flush to the heap.
func (s *scratchSlot) flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := s.mem.Offset()
	if end <= s.flushed {
		return nil
	}
	if err := s.heap.Write(uint64(s.flushed), s.mem.Bytes(s.flushed, end-s.flushed)); err != nil {
		return err
	}
	s.flushed = end
	return nil
}

func (s *scratchSlot) reset() {
	s.mu.Lock()
	s.mem.Reset()
	s.flushed = 0
	s.mu.Unlock()
}

func (s *scratchSlot) used() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem.Offset()
}

func (s *scratchSlot) committed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem.Committed()
}

func (s *scratchSlot) destroy() {
	s.heap.Destroy()
	_ = s.mem.Release()
}

// PushToScratch copies values into the current frame's scratch memory and
// returns the allocation. T must not contain Go pointers.
func PushToScratch[T any](c *Context, values ...T) Allocation {
	if len(values) == 0 {
		return Allocation{}
	}
	var zero T
	alignment := max(int(unsafe.Alignof(zero)), c.opts.scratchAlignment)
	size := int(unsafe.Sizeof(zero)) * len(values)
	a := c.AllocateFrameScratch(size, alignment)
	src := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(values))), size)
	copy(a.CPU, src)
	return a
}
