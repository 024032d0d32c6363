package native

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/frameq/backend"
)

// UploadHeap is a HAL buffer filled through hal.Queue.WriteBuffer. Shaders
// bind it by handle plus offset, so DeviceAddress is zero.
type UploadHeap struct {
	dev  *Device
	buf  hal.Buffer
	size uint64
}

// Size implements backend.UploadHeap.
func (h *UploadHeap) Size() uint64 { return h.size }

// DeviceAddress implements backend.UploadHeap.
func (h *UploadHeap) DeviceAddress() uint64 { return 0 }

// Buffer returns the HAL buffer for binding.
func (h *UploadHeap) Buffer() hal.Buffer { return h.buf }

// Write implements backend.UploadHeap.
func (h *UploadHeap) Write(offset uint64, data []byte) error {
	if offset > h.size || uint64(len(data)) > h.size-offset {
		return errors.Newf("native: write [%d, %d) outside heap of %d bytes",
			offset, offset+uint64(len(data)), h.size)
	}

	h.dev.mu.Lock()
	defer h.dev.mu.Unlock()

	if h.buf == nil {
		return backend.ErrDestroyed
	}
	if err := h.dev.queue.WriteBuffer(h.buf, offset, data); err != nil {
		return errors.Wrapf(err, "native: write %d bytes at %d", len(data), offset)
	}
	return nil
}

// Destroy implements backend.UploadHeap.
func (h *UploadHeap) Destroy() {
	h.dev.mu.Lock()
	buf := h.buf
	h.buf = nil
	h.dev.mu.Unlock()

	if buf != nil {
		h.dev.device.DestroyBuffer(buf)
	}
}

// Buffer is a HAL buffer whose destruction is deferred through frameq
// graveyards. Release destroys it exactly once.
type Buffer struct {
	device hal.Device
	buf    hal.Buffer
	size   uint64
	once   sync.Once
}

// Raw returns the HAL buffer.
func (b *Buffer) Raw() hal.Buffer { return b.buf }

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// Release implements backend.Resource.
func (b *Buffer) Release() {
	b.once.Do(func() {
		b.device.DestroyBuffer(b.buf)
	})
}
