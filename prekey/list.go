package prekey

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/opd-ai/molch/crypto"
)

// Signed prekey list layout (bit-exact):
//
//	public_identity_key (32) || prekey_public[0..Amount) (each 32) ||
//	expiration_unix_seconds_be64 (8) || ed25519_signature (64)
//
// The signature covers everything before it and verifies under the owner's
// long-term public signing key.
const (
	signedListPayloadSize = crypto.PublicKeySize + ListSize + 8
	SignedListSize        = signedListPayloadSize + crypto.SignatureSize

	// ListExpiration is how long a handed-out signed prekey list stays
	// usable for starting conversations.
	ListExpiration = 3 * 31 * 24 * time.Hour
)

var (
	// ErrInvalidList is returned for lists with the wrong length.
	ErrInvalidList = errors.New("prekey: invalid prekey list")
	// ErrVerificationFailed is returned when the list signature does not
	// verify.
	ErrVerificationFailed = errors.New("prekey: list signature verification failed")
	// ErrOutdatedList is returned when the list's embedded expiration has
	// passed.
	ErrOutdatedList = errors.New("prekey: list expired")
)

// SignedList is a parsed and verified prekey list.
type SignedList struct {
	IdentityKey crypto.PublicKey
	Expiration  time.Time

	prekeys []byte
}

// PublicKey returns the prekey at the given slot.
func (l *SignedList) PublicKey(index int) crypto.PublicKey {
	var key crypto.PublicKey
	copy(key[:], l.prekeys[index*crypto.PublicKeySize:])
	return key
}

// BuildSignedList assembles and signs a prekey list. The sign callback
// receives the payload and returns its Ed25519 signature; the caller owns
// the signing key.
func BuildSignedList(
	identity crypto.PublicKey,
	prekeys []byte,
	expiration time.Time,
	sign func(data []byte) (crypto.Signature, error),
) ([]byte, error) {
	if len(prekeys) != ListSize {
		return nil, ErrInvalidList
	}

	list := make([]byte, 0, SignedListSize)
	list = append(list, identity[:]...)
	list = append(list, prekeys...)

	var expirationBytes [8]byte
	binary.BigEndian.PutUint64(expirationBytes[:], uint64(expiration.Unix()))
	list = append(list, expirationBytes[:]...)

	signature, err := sign(list)
	if err != nil {
		return nil, err
	}
	list = append(list, signature[:]...)

	return list, nil
}

// VerifySignedList checks length, signature and expiration of a prekey
// list and returns its parsed form.
func VerifySignedList(list []byte, signer crypto.SigningPublicKey, now time.Time) (*SignedList, error) {
	if len(list) != SignedListSize {
		return nil, ErrInvalidList
	}

	var signature crypto.Signature
	copy(signature[:], list[signedListPayloadSize:])
	if !crypto.Verify(list[:signedListPayloadSize], signature, signer) {
		return nil, ErrVerificationFailed
	}

	parsed := &SignedList{
		prekeys: append([]byte(nil), list[crypto.PublicKeySize:crypto.PublicKeySize+ListSize]...),
	}
	copy(parsed.IdentityKey[:], list[:crypto.PublicKeySize])

	expiration := int64(binary.BigEndian.Uint64(list[crypto.PublicKeySize+ListSize:]))
	parsed.Expiration = time.Unix(expiration, 0)
	if parsed.Expiration.Before(now) {
		return nil, ErrOutdatedList
	}

	return parsed, nil
}
