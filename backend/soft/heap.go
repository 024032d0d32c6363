package soft

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/frameq/backend"
	"github.com/gogpu/frameq/internal/arena"
)

// UploadHeap is a simulated backend.UploadHeap. Its "device memory" is an
// arena reservation committed in full at creation.
type UploadHeap struct {
	dev  *Device
	addr uint64

	mu     sync.Mutex
	mem    *arena.Arena
	data   []byte
	writes int
}

func newUploadHeap(d *Device, size, addr uint64) (*UploadHeap, error) {
	if size == 0 {
		return nil, errors.New("soft: upload heap size must be positive")
	}
	mem, err := arena.New(int(size))
	if err != nil {
		return nil, errors.Wrap(err, "soft: create upload heap")
	}
	return &UploadHeap{
		dev:  d,
		addr: addr,
		mem:  mem,
		data: mem.Allocate(int(size), 1, true),
	}, nil
}

// Size implements backend.UploadHeap.
func (h *UploadHeap) Size() uint64 { return uint64(len(h.data)) }

// DeviceAddress implements backend.UploadHeap.
func (h *UploadHeap) DeviceAddress() uint64 { return h.addr }

// Write implements backend.UploadHeap.
func (h *UploadHeap) Write(offset uint64, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.data == nil {
		return backend.ErrDestroyed
	}
	if offset > uint64(len(h.data)) || uint64(len(data)) > uint64(len(h.data))-offset {
		return errors.Newf("soft: write [%d, %d) outside heap of %d bytes",
			offset, offset+uint64(len(data)), len(h.data))
	}
	copy(h.data[offset:], data)
	h.writes++
	return nil
}

// Destroy implements backend.UploadHeap.
func (h *UploadHeap) Destroy() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.data == nil {
		return
	}
	h.data = nil
	_ = h.mem.Release()

	h.dev.mu.Lock()
	h.dev.liveHeaps--
	h.dev.mu.Unlock()
}

// Contents returns a copy of the heap's "device memory".
func (h *UploadHeap) Contents() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.data...)
}

// Writes returns the number of successful Write calls.
func (h *UploadHeap) Writes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writes
}
