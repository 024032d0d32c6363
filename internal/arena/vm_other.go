//go:build !(linux || darwin)

package arena

import "os"

// region falls back to a base-aligned window of a Go heap slice on
// platforms without the mmap path. Commit only advances bookkeeping.
type region struct {
	mem     []byte
	backing []byte
}

func systemPageSize() int { return os.Getpagesize() }

func reserveRegion(size, baseAlign int) (region, error) {
	backing := make([]byte, size+baseAlign)
	skip := alignSkip(backing, baseAlign)
	return region{mem: backing[skip : skip+size : skip+size], backing: backing}, nil
}

func (r region) commit(_, _ int) error { return nil }

func (r region) release() error { return nil }
