package frameq

import "github.com/gogpu/frameq/backend"

// CommandBuffer is a backend recorder plus the bookkeeping needed to reuse
// it. At any time it is owned by exactly one of its queue's free pool,
// running pool, or the producer that took it from the free pool.
//
// Command buffers are never destroyed while the Context lives; they cycle
// between producers and the pools forever.
type CommandBuffer struct {
	recorder  backend.Recorder
	queueType backend.QueueType
	queue     *Queue

	// lastCompletion is the counter value signaled after the last
	// execution of this buffer.
	lastCompletion uint64

	next *CommandBuffer
}

// NextLink implements list.Node.
func (cb *CommandBuffer) NextLink() **CommandBuffer { return &cb.next }

// Recorder returns the backend recorder for recording commands. Type-assert
// it to the backend's concrete recorder (for example *native.Recorder).
func (cb *CommandBuffer) Recorder() backend.Recorder { return cb.recorder }

// Type returns the queue class the buffer executes on.
func (cb *CommandBuffer) Type() backend.QueueType { return cb.queueType }

// LastCompletion returns the counter value stamped by the last execution,
// or zero if the buffer has not executed yet.
func (cb *CommandBuffer) LastCompletion() uint64 { return cb.lastCompletion }
