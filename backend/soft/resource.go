package soft

import "sync/atomic"

// Resource counts how often it is released. It stands in for buffers and
// textures in tests of deferred destruction.
type Resource struct {
	Name string

	released atomic.Int32
}

// NewResource returns a named counting resource.
func NewResource(name string) *Resource {
	return &Resource{Name: name}
}

// Release implements backend.Resource.
func (r *Resource) Release() { r.released.Add(1) }

// Released returns the number of Release calls.
func (r *Resource) Released() int { return int(r.released.Load()) }
