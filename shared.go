package frameq

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/frameq/backend"
)

// Shared is a reference-counted handle to a resource used from several
// places. The resource is released when the last reference is dropped.
//
// A Shared may be passed to a Graveyard like any other resource; the grave
// then holds one reference:
//
//	tex := frameq.NewShared(res)
//	ctx.KeepResourceAlive(tex.Retain())
//	tex.Release()
type Shared struct {
	res  backend.Resource
	refs atomic.Int64
}

// NewShared wraps res with a reference count of one.
func NewShared(res backend.Resource) *Shared {
	s := &Shared{res: res}
	s.refs.Store(1)
	return s
}

// Retain adds a reference and returns s.
func (s *Shared) Retain() *Shared {
	for {
		n := s.refs.Load()
		if n <= 0 {
			panic(errors.AssertionFailedf("frameq: retain of released shared resource"))
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return s
		}
	}
}

// Release drops a reference, releasing the resource when none remain.
func (s *Shared) Release() {
	switch n := s.refs.Add(-1); {
	case n == 0:
		s.res.Release()
	case n < 0:
		panic(errors.AssertionFailedf("frameq: shared resource released %d times too often", -n))
	}
}

// Refs returns the current reference count.
func (s *Shared) Refs() int64 { return s.refs.Load() }

// Resource returns the wrapped resource.
func (s *Shared) Resource() backend.Resource { return s.res }
