package arena

import (
	"unsafe"

	"github.com/cockroachdb/errors"
)

// MinimumCommit is the smallest amount of memory committed when an
// allocation crosses the committed watermark. It is rounded up to the page
// size before use.
const MinimumCommit = 4 * KB

// DefaultReserve is the address space reserved by [New] when the caller
// passes a non-positive size.
const DefaultReserve = 1 * GB

// Arena is a bump allocator over a reserved virtual address range.
//
// Invariant: 0 <= Offset() <= Committed() <= Reserved(), and Committed() is
// always a multiple of PageSize().
//
// Arena is not safe for concurrent use. Owners that share an arena across
// goroutines guard it with their own mutex.
type Arena struct {
	region region

	current   int
	committed int
	reserved  int
	pageSize  int
	baseAlign int
}

// New reserves reserve bytes of address space (rounded up to the page size)
// without committing any of it.
func New(reserve int) (*Arena, error) {
	return NewWithPageSize(reserve, 0)
}

// NewWithPageSize is like [New] but commits in units of pageSize, which must
// be a multiple of the operating system page size. Zero selects the OS page
// size.
func NewWithPageSize(reserve, pageSize int) (*Arena, error) {
	osPage := systemPageSize()
	if pageSize <= 0 {
		pageSize = osPage
	}
	if pageSize%osPage != 0 || !IsPow2(pageSize) {
		return nil, errors.Newf("arena: page size %d is not a power-of-two multiple of the system page size %d", pageSize, osPage)
	}
	if reserve <= 0 {
		reserve = DefaultReserve
	}
	reserve = AlignUp(reserve, pageSize)

	baseAlign := max(pageSize, BaseAlignment)
	r, err := reserveRegion(reserve, baseAlign)
	if err != nil {
		return nil, errors.Wrapf(err, "arena: reserve %d bytes", reserve)
	}

	return &Arena{
		region:   r,
		reserved:  reserve,
		pageSize:  pageSize,
		baseAlign: baseAlign,
	}, nil
}

// Allocate returns size bytes aligned to alignment, committing more pages if
// needed. With zero set the returned memory is cleared; otherwise it may
// hold bytes from before the last rewind.
//
// A zero size returns nil. Growing past the reservation panics.
func (a *Arena) Allocate(size, alignment int, zero bool) []byte {
	if size == 0 || a.region.mem == nil {
		return nil
	}
	if size < 0 {
		panic(errors.AssertionFailedf("arena: negative allocation size %d", size))
	}
	alignment = a.checkAlignment(alignment)

	a.EnsureFree(size, alignment)

	start := AlignUp(a.current, alignment)
	a.current = start + size

	b := a.region.mem[start:a.current:a.current]
	if zero {
		clear(b)
	}
	return b
}

// AllocateValues allocates count values of T from the arena. T must not
// contain Go pointers: the garbage collector does not scan arena memory.
func AllocateValues[T any](a *Arena, count int, zero bool) []T {
	if count <= 0 {
		return nil
	}
	var v T
	size := int(unsafe.Sizeof(v)) * count
	b := a.Allocate(size, int(unsafe.Alignof(v)), zero)
	if b == nil {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), count)
}

// AlignNextTo moves the offset up to alignment, committing pages if the
// aligned offset lies past the committed range.
func (a *Arena) AlignNextTo(alignment int) {
	alignment = a.checkAlignment(alignment)
	a.EnsureFree(0, alignment)
	a.current = AlignUp(a.current, alignment)
}

// EnsureFree commits enough pages for an allocation of size bytes at the
// next alignment boundary without allocating it.
func (a *Arena) EnsureFree(size, alignment int) {
	alignment = a.checkAlignment(alignment)
	end := AlignUp(a.current, alignment) + size
	if end > a.reserved {
		panic(errors.AssertionFailedf(
			"arena: allocation end %d exceeds reservation of %d bytes", end, a.reserved))
	}
	if end <= a.committed {
		return
	}

	grow := max(end-a.committed, MinimumCommit)
	grow = AlignUp(grow, a.pageSize)
	grow = min(grow, a.reserved-a.committed)

	if err := a.region.commit(a.committed, grow); err != nil {
		panic(errors.Wrapf(err, "arena: commit %d bytes at offset %d", grow, a.committed))
	}
	a.committed += grow
}

// checkAlignment rejects alignments the base address cannot honor.
func (a *Arena) checkAlignment(alignment int) int {
	alignment = checkAlignment(alignment)
	if alignment > a.baseAlign {
		panic(errors.AssertionFailedf("arena: alignment %d exceeds base alignment %d", alignment, a.baseAlign))
	}
	return alignment
}

// Reset rewinds the arena to its start. Committed pages stay committed.
func (a *Arena) Reset() {
	a.ResetTo(0)
}

// ResetTo rewinds the arena to offset, which must not be past the current
// offset.
func (a *Arena) ResetTo(offset int) {
	if offset < 0 || offset > a.current {
		panic(errors.AssertionFailedf("arena: reset offset %d outside [0, %d]", offset, a.current))
	}
	a.current = offset
}

// Offset returns the current allocation offset.
func (a *Arena) Offset() int { return a.current }

// Committed returns the number of committed bytes.
func (a *Arena) Committed() int { return a.committed }

// Reserved returns the size of the reservation.
func (a *Arena) Reserved() int { return a.reserved }

// PageSize returns the commit granularity.
func (a *Arena) PageSize() int { return a.pageSize }

// Bytes returns the committed range [offset, offset+size). It is used by
// owners that hand out offsets instead of slices.
func (a *Arena) Bytes(offset, size int) []byte {
	if offset < 0 || size < 0 || offset+size > a.committed {
		panic(errors.AssertionFailedf("arena: range [%d, %d) outside committed %d", offset, offset+size, a.committed))
	}
	return a.region.mem[offset : offset+size : offset+size]
}

// Release returns the whole reservation to the operating system. The arena
// must not be used afterwards.
func (a *Arena) Release() error {
	if a.region.mem == nil {
		return nil
	}
	err := a.region.release()
	a.region = region{}
	a.current, a.committed = 0, 0
	return err
}

// Marker records an arena offset so that later allocations can be rolled
// back in one step:
//
//	m := a.Mark()
//	defer m.Rewind()
type Marker struct {
	arena  *Arena
	offset int
}

// Mark captures the current offset.
func (a *Arena) Mark() Marker {
	return Marker{arena: a, offset: a.current}
}

// Offset returns the captured offset.
func (m Marker) Offset() int { return m.offset }

// Rewind restores the arena to the captured offset.
func (m Marker) Rewind() {
	m.arena.ResetTo(m.offset)
}
