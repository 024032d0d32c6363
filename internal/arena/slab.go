package arena

import "sync"

// DefaultSlabChunk is the number of values per chunk when a [Slab] is
// created with a non-positive chunk size.
const DefaultSlabChunk = 64

// Slab hands out pointers to zero-valued T carved from fixed-size chunks on
// the Go heap. Chunks are never reallocated or freed, so returned pointers
// stay valid for the slab's lifetime. There is no way to give a value back;
// owners recycle values through their own free lists.
//
// Slab is safe for concurrent use.
type Slab[T any] struct {
	mu     sync.Mutex
	chunks [][]T
	chunk  int
	count  int
}

// NewSlab returns a slab that grows chunk values at a time.
func NewSlab[T any](chunk int) *Slab[T] {
	if chunk <= 0 {
		chunk = DefaultSlabChunk
	}
	return &Slab[T]{chunk: chunk}
}

// New returns a pointer to a fresh zero value.
func (s *Slab[T]) New() *T {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.chunks)
	if n == 0 || len(s.chunks[n-1]) == cap(s.chunks[n-1]) {
		s.chunks = append(s.chunks, make([]T, 0, s.chunk))
		n++
	}
	last := &s.chunks[n-1]
	*last = append(*last, *new(T))
	s.count++
	return &(*last)[len(*last)-1]
}

// Len returns the number of values handed out.
func (s *Slab[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Chunks returns the number of chunks allocated so far.
func (s *Slab[T]) Chunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// Each calls fn for every value handed out, in allocation order. fn must
// not call back into the slab.
func (s *Slab[T]) Each(fn func(*T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.chunks {
		c := s.chunks[i]
		for j := range c {
			fn(&c[j])
		}
	}
}
