package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
)

// RandomUniform returns a uniformly distributed random number in [0, upper).
// Uses rejection sampling to avoid modulo bias.
func RandomUniform(upper uint32) (uint32, error) {
	if upper == 0 {
		return 0, errors.New("upper bound must be positive")
	}
	if upper == 1 {
		return 0, nil
	}

	// Largest multiple of upper that fits in a uint32.
	limit := (^uint32(0) / upper) * upper

	var buffer [4]byte
	for {
		if _, err := rand.Read(buffer[:]); err != nil {
			return 0, err
		}
		value := binary.BigEndian.Uint32(buffer[:])
		if value < limit {
			return value % upper, nil
		}
	}
}
