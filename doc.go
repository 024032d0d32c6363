// Package frameq submits command buffers to asynchronous GPU queues and
// reclaims memory and resources only after the hardware is done with them.
//
// # Overview
//
// A [Context] owns three execution queues (render, compute and copy), each
// with a monotonically increasing completion counter. Producers take a
// [CommandBuffer] from a queue's free pool, record into it and execute it;
// a background reclaimer returns it to the free pool once the counter value
// stamped at execution has been reached. Command buffers are allocated once
// and reused for the lifetime of the Context.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/frameq"
//	    "github.com/gogpu/frameq/backend"
//	    _ "github.com/gogpu/frameq/backend/native"
//	)
//
//	dev, name, err := backend.Default()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Destroy()
//
//	ctx, err := frameq.New(dev)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctx.Close()
//
//	for running {
//	    ctx.BeginFrame()
//	    cb := ctx.GetFreeRenderCommandBuffer()
//	    // record into cb.Recorder()
//	    fence := ctx.ExecuteCommandBuffer(cb)
//	    ctx.EndFrame(fence)
//	}
//
// # Frames
//
// The Context cycles through a ring of buffered frame slots
// ([DefaultBufferedFrames] by default). Each slot owns a [Graveyard] gated by
// the render queue and a block of scratch memory. [Context.BeginFrame]
// releases the slot's retired resources and rewinds its scratch memory.
//
// # Deferred Release
//
// Resources that the GPU may still read are handed to a graveyard together
// with a counter value: [Context.KeepResourceAlive] for render work,
// [Context.KeepCopyResourceAlive] and [Context.KeepComputeResourceAlive] for
// the other queues. Each resource is released exactly once, after its queue
// reaches the value. [Shared] adds reference counting for resources with
// several owners.
//
// # Errors
//
// Construction returns errors. Backend failures during operation and
// violated preconditions (scratch overflow, foreign command buffers, use
// after Close) panic; there is no retry path.
//
// # Backends
//
// Backends implement the interfaces in package backend. backend/native runs
// on the gogpu HAL; backend/soft simulates completion counters for tests and
// tools.
package frameq
