//go:build unix

package memguard

import (
	"golang.org/x/sys/unix"
)

// allocation is an anonymous, page-locked mapping outside the Go heap.
type allocation struct {
	mapping []byte
}

func allocate(size int) (allocation, error) {
	pageSize := unix.Getpagesize()
	mapLength := ((size + pageSize - 1) / pageSize) * pageSize

	mapping, err := unix.Mmap(
		-1, 0, mapLength,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return allocation{}, err
	}

	// Keep secret pages out of swap. Failure is tolerated (RLIMIT_MEMLOCK
	// may be exhausted); protection and wiping still apply.
	_ = unix.Mlock(mapping)

	if err := unix.Mprotect(mapping, unix.PROT_NONE); err != nil {
		_ = unix.Munmap(mapping)
		return allocation{}, err
	}

	return allocation{mapping: mapping}, nil
}

func (a allocation) bytes(size int) []byte {
	return a.mapping[:size]
}

func (a allocation) protectRead() error {
	return unix.Mprotect(a.mapping, unix.PROT_READ)
}

func (a allocation) protectReadWrite() error {
	return unix.Mprotect(a.mapping, unix.PROT_READ|unix.PROT_WRITE)
}

func (a allocation) protectNone() error {
	return unix.Mprotect(a.mapping, unix.PROT_NONE)
}

func (a allocation) release() {
	if err := unix.Mprotect(a.mapping, unix.PROT_READ|unix.PROT_WRITE); err == nil {
		for i := range a.mapping {
			a.mapping[i] = 0
		}
	}
	_ = unix.Munlock(a.mapping)
	_ = unix.Munmap(a.mapping)
}
