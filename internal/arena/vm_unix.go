//go:build linux || darwin

package arena

import "golang.org/x/sys/unix"

// region is an anonymous mapping reserved with PROT_NONE. Committing a
// range flips it to read/write; the kernel backs pages on first touch.
//
// mem is the base-aligned window handed to the arena; mapping is the whole
// mmap result, which Munmap needs back unchanged.
type region struct {
	mem     []byte
	mapping []byte
}

func systemPageSize() int { return unix.Getpagesize() }

// reserveRegion maps size+baseAlign bytes and trims the front so that mem
// starts on a baseAlign boundary.
func reserveRegion(size, baseAlign int) (region, error) {
	mapping, err := unix.Mmap(-1, 0, size+baseAlign, unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE|unix.MAP_NORESERVE)
	if err != nil {
		return region{}, err
	}
	skip := alignSkip(mapping, baseAlign)
	return region{mem: mapping[skip : skip+size : skip+size], mapping: mapping}, nil
}

func (r region) commit(offset, size int) error {
	return unix.Mprotect(r.mem[offset:offset+size], unix.PROT_READ|unix.PROT_WRITE)
}

func (r region) release() error {
	return unix.Munmap(r.mapping)
}
