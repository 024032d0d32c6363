package arena

import (
	"unsafe"

	"github.com/cockroachdb/errors"
)

// Size helpers.
const (
	KB = 1024
	MB = 1024 * KB
	GB = 1024 * MB
)

// BaseAlignment is the minimum alignment of an arena's base address. Any
// alignment up to max(BaseAlignment, PageSize()) holds for absolute
// pointers, not only for offsets.
const BaseAlignment = 64 * KB

// IsPow2 reports whether n is a positive power of two.
func IsPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// AlignUp rounds offset up to the next multiple of alignment.
// Alignment must be a power of two.
func AlignUp(offset, alignment int) int {
	return (offset + alignment - 1) &^ (alignment - 1)
}

// checkAlignment normalizes a zero alignment to 1 and panics on anything
// that is not a power of two.
func checkAlignment(alignment int) int {
	if alignment == 0 {
		return 1
	}
	if !IsPow2(alignment) {
		panic(errors.AssertionFailedf("arena: alignment %d is not a power of two", alignment))
	}
	return alignment
}

// alignSkip returns how many leading bytes of b to drop so that the rest
// starts on an alignment boundary.
func alignSkip(b []byte, alignment int) int {
	base := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	return int(uintptr(AlignUp(int(base), alignment)) - base)
}
