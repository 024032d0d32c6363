// Package arena provides the bump allocators used by frameq.
//
// An [Arena] reserves a contiguous range of virtual address space up front
// and commits physical pages on demand as allocations grow past the
// committed watermark. Rewinding an arena ([Arena.Reset], [Arena.ResetTo],
// [Marker.Rewind]) only moves the allocation offset; committed pages stay
// committed, so per-frame reset/allocate cycles never go back to the OS.
//
// Arena memory is invisible to the Go garbage collector. Only pointer-free
// data may live in it. Node types that hold Go pointers (interfaces, slices,
// maps) are carved from a [Slab] instead, which keeps the same
// grow-only, never-free discipline on the Go heap.
package arena
