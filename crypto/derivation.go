package crypto

import (
	"encoding/binary"
	"errors"

	"github.com/dchest/blake2b"
)

// subkeyPersonal is the Blake2b personalization string used for every
// subkey derivation. Padded with a trailing NUL to the full 16 bytes.
const subkeyPersonal = "molch_cryptolib"

const (
	blake2bSaltSize     = 16
	blake2bPersonalSize = 16
)

var errEmptyParent = errors.New("cannot derive subkey from empty key")

// DeriveSubkey derives a subkey of the given size from a parent key using
// keyed Blake2b. The derivation index goes into the last four bytes of the
// salt as a big endian integer; the input is empty.
func DeriveSubkey(parent []byte, index uint32, size int) ([]byte, error) {
	if isZero(parent) {
		return nil, errEmptyParent
	}
	if size <= 0 || size > blake2b.Size {
		return nil, errors.New("invalid subkey size")
	}

	salt := make([]byte, blake2bSaltSize)
	binary.BigEndian.PutUint32(salt[blake2bSaltSize-4:], index)

	personal := make([]byte, blake2bPersonalSize)
	copy(personal, subkeyPersonal)

	hash, err := blake2b.New(&blake2b.Config{
		Size:   uint8(size),
		Key:    parent,
		Salt:   salt,
		Person: personal,
	})
	if err != nil {
		return nil, err
	}

	return hash.Sum(nil), nil
}

// deriveSubkey32 is DeriveSubkey for the common 32-byte case.
func deriveSubkey32(parent []byte, index uint32) ([32]byte, error) {
	var out [32]byte
	derived, err := DeriveSubkey(parent, index, 32)
	if err != nil {
		return out, err
	}
	copy(out[:], derived)
	ZeroBytes(derived)
	return out, nil
}

// DeriveMessageKey derives the message key at the chain key's current
// position. The chain key itself is left untouched.
func (k ChainKey) DeriveMessageKey() (MessageKey, error) {
	derived, err := deriveSubkey32(k[:], 0)
	return MessageKey(derived), err
}

// Next steps the chain key forward by one message.
func (k ChainKey) Next() (ChainKey, error) {
	derived, err := deriveSubkey32(k[:], 1)
	return ChainKey(derived), err
}

// DeriveRootKey derives a root key from key material at the given index.
func DeriveRootKey(parent []byte, index uint32) (RootKey, error) {
	derived, err := deriveSubkey32(parent, index)
	return RootKey(derived), err
}

// DeriveHeaderKey derives a header key from key material at the given index.
func DeriveHeaderKey(parent []byte, index uint32) (HeaderKey, error) {
	derived, err := deriveSubkey32(parent, index)
	return HeaderKey(derived), err
}

// DeriveChainKey derives a chain key from key material at the given index.
func DeriveChainKey(parent []byte, index uint32) (ChainKey, error) {
	derived, err := deriveSubkey32(parent, index)
	return ChainKey(derived), err
}
