package crypto

import (
	"github.com/dchest/blake2b"
)

// Hash256 computes an unkeyed Blake2b-256 digest over the concatenation of
// the given inputs.
func Hash256(inputs ...[]byte) [32]byte {
	hash, _ := blake2b.New(&blake2b.Config{Size: 32})
	for _, input := range inputs {
		hash.Write(input)
	}

	var digest [32]byte
	copy(digest[:], hash.Sum(nil))
	return digest
}

// KeyedHash256 computes a keyed Blake2b-256 digest over the input.
func KeyedHash256(key []byte, input []byte) ([32]byte, error) {
	var digest [32]byte

	hash, err := blake2b.New(&blake2b.Config{Size: 32, Key: key})
	if err != nil {
		return digest, err
	}
	hash.Write(input)

	copy(digest[:], hash.Sum(nil))
	return digest, nil
}
