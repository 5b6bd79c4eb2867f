package memguard

import (
	"errors"
)

// Region is a fixed-size allocation for secret bytes. The backing memory is
// inaccessible except inside WithRead / WithReadWrite.
type Region struct {
	size      int
	destroyed bool
	alloc     allocation
}

var (
	// ErrDestroyed is returned when a region is used after Destroy.
	ErrDestroyed = errors.New("memguard: region destroyed")

	errInvalidSize = errors.New("memguard: invalid region size")
)

// New allocates a locked region of the given size. The region starts out
// zeroed and inaccessible.
func New(size int) (*Region, error) {
	if size <= 0 {
		return nil, errInvalidSize
	}

	alloc, err := allocate(size)
	if err != nil {
		return nil, err
	}

	return &Region{size: size, alloc: alloc}, nil
}

// Size returns the region size in bytes.
func (r *Region) Size() int { return r.size }

// WithRead unprotects the region for reading, runs fn on its contents and
// restores the no-access protection before returning. fn must not retain the
// slice.
func (r *Region) WithRead(fn func(data []byte) error) error {
	if r.destroyed {
		return ErrDestroyed
	}

	if err := r.alloc.protectRead(); err != nil {
		return err
	}
	defer r.alloc.protectNone()

	return fn(r.alloc.bytes(r.size))
}

// WithReadWrite unprotects the region for writing, runs fn on its contents
// and restores the no-access protection before returning. fn must not retain
// the slice.
func (r *Region) WithReadWrite(fn func(data []byte) error) error {
	if r.destroyed {
		return ErrDestroyed
	}

	if err := r.alloc.protectReadWrite(); err != nil {
		return err
	}
	defer r.alloc.protectNone()

	return fn(r.alloc.bytes(r.size))
}

// Destroy wipes the region and releases the mapping. The region is unusable
// afterwards.
func (r *Region) Destroy() {
	if r.destroyed {
		return
	}
	r.destroyed = true
	r.alloc.release()
}
