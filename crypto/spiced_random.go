package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters matching libsodium's interactive limits.
const (
	spicedRandomOpsLimit = 2
	spicedRandomMemLimit = 64 * 1024 // KiB
	spicedRandomThreads  = 1
	spicedRandomSaltSize = 16
)

// SpicedRandom combines externally supplied low-entropy bytes with OS
// randomness. The spice is stretched with Argon2id under a random salt and
// XORed into a buffer from the CSPRNG, so the result is at least as strong
// as the OS random source.
//
// WARNING: never feed this with output of the OS random source itself.
func SpicedRandom(lowEntropySpice []byte, size int) ([]byte, error) {
	if len(lowEntropySpice) == 0 {
		return nil, errors.New("empty spice")
	}
	if size <= 0 {
		return nil, errors.New("invalid output size")
	}

	osRandom := make([]byte, size)
	if _, err := rand.Read(osRandom); err != nil {
		return nil, err
	}

	salt := make([]byte, spicedRandomSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	derived := argon2.IDKey(
		lowEntropySpice,
		salt,
		spicedRandomOpsLimit,
		spicedRandomMemLimit,
		spicedRandomThreads,
		uint32(size))

	for i := range osRandom {
		osRandom[i] ^= derived[i]
	}
	ZeroBytes(derived)

	return osRandom, nil
}
