package backend

import "github.com/cockroachdb/errors"

// QueueType identifies a hardware queue class.
type QueueType uint8

const (
	// QueueRender accepts graphics, compute and copy work.
	QueueRender QueueType = iota
	// QueueCompute accepts compute and copy work.
	QueueCompute
	// QueueCopy accepts copy work only.
	QueueCopy

	// QueueTypeCount is the number of queue classes.
	QueueTypeCount
)

// String returns the queue class name.
func (t QueueType) String() string {
	switch t {
	case QueueRender:
		return "render"
	case QueueCompute:
		return "compute"
	case QueueCopy:
		return "copy"
	default:
		return "unknown"
	}
}

// Common backend errors.
var (
	// ErrNotRecording is returned when a recorder is submitted or closed
	// while it is not recording.
	ErrNotRecording = errors.New("backend: recorder is not recording")

	// ErrForeignQueue is returned when a queue or recorder from another
	// device (or another backend) is passed in.
	ErrForeignQueue = errors.New("backend: queue or recorder belongs to another device")

	// ErrUnsignaledDependency is returned by WaitQueue when the backend
	// cannot express a dependency on a value that has not been signaled yet.
	ErrUnsignaledDependency = errors.New("backend: dependency on a value that was never signaled")

	// ErrDestroyed is returned when a destroyed object is used.
	ErrDestroyed = errors.New("backend: object destroyed")
)

// Device creates the per-queue objects frameq drives.
type Device interface {
	// CreateQueue opens the hardware queue of the given class together
	// with its completion counter, which starts at zero.
	CreateQueue(t QueueType) (Queue, error)

	// CreateRecorder creates a command recorder and its allocator. The
	// recorder starts in the recording state.
	CreateRecorder(t QueueType) (Recorder, error)

	// CreateUploadHeap creates a GPU-readable buffer of size bytes that the
	// CPU fills through UploadHeap.Write.
	CreateUploadHeap(size uint64) (UploadHeap, error)

	// Destroy releases the device. Objects created from it must already be
	// destroyed.
	Destroy()
}

// Queue is one hardware queue plus its monotonically increasing completion
// counter.
type Queue interface {
	// Type returns the queue class.
	Type() QueueType

	// Submit closes rec and submits its work.
	Submit(rec Recorder) error

	// Signal asks the hardware to set the counter to value once all work
	// submitted so far on this queue has retired. Values must increase.
	Signal(value uint64) error

	// Completed returns the highest counter value known to be retired.
	Completed() (uint64, error)

	// Notify arranges a single non-blocking send on ch once the counter
	// reaches value. If it already has, the send happens before Notify
	// returns. Callers pass a channel with a buffer of one and reuse it.
	Notify(value uint64, ch chan<- struct{})

	// WaitQueue makes work submitted to this queue after the call wait on
	// the GPU until other's counter reaches value. It does not block the
	// calling goroutine.
	WaitQueue(other Queue, value uint64) error

	// Destroy releases the queue. No work may be in flight.
	Destroy()
}

// Recorder is a native command list together with its allocator.
type Recorder interface {
	// Close ends recording. Submit calls it implicitly.
	Close() error

	// Reset discards recorded commands and reopens the recorder. The
	// hardware must have retired every submission of this recorder.
	Reset() error

	// Destroy releases the recorder.
	Destroy()
}

// UploadHeap is a GPU-readable buffer backing per-frame scratch memory.
type UploadHeap interface {
	// Size returns the capacity in bytes.
	Size() uint64

	// DeviceAddress returns the address the GPU uses for byte zero, or zero
	// when the backend binds buffers by handle plus offset.
	DeviceAddress() uint64

	// Write copies data into the heap at offset before subsequent
	// submissions read it.
	Write(offset uint64, data []byte) error

	// Destroy releases the heap.
	Destroy()
}

// Resource is anything whose release must wait for the GPU.
type Resource interface {
	Release()
}

// ResourceFunc adapts a function to the Resource interface.
type ResourceFunc func()

// Release calls f.
func (f ResourceFunc) Release() { f() }
