package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/nacl/box"
)

// PublicKey is an X25519 public key.
type PublicKey [PublicKeySize]byte

// PrivateKey is an X25519 private key.
type PrivateKey [PrivateKeySize]byte

// SigningPublicKey is an Ed25519 public key.
type SigningPublicKey [SigningPublicKeySize]byte

// SigningPrivateKey is an Ed25519 private key (seed plus public half).
type SigningPrivateKey [SigningPrivateKeySize]byte

// Signature is an Ed25519 signature.
type Signature [SignatureSize]byte

// RootKey is the root key of a ratchet chain.
type RootKey [RootKeySize]byte

// ChainKey is the symmetric state a sequence of message keys is derived from.
type ChainKey [ChainKeySize]byte

// HeaderKey encrypts the axolotl header of a packet.
type HeaderKey [HeaderKeySize]byte

// MessageKey encrypts the payload of a single packet.
type MessageKey [MessageKeySize]byte

// BackupKey seals exported library state.
type BackupKey [BackupKeySize]byte

// ConversationID identifies a conversation. Assigned randomly at creation
// and never mutated afterwards.
type ConversationID [ConversationIDSize]byte

// Nonce is a 24-byte value used for encryption.
type Nonce [NonceSize]byte

// KeyPair represents an X25519 key pair.
type KeyPair struct {
	Public  PublicKey
	Private PrivateKey
}

// GenerateKeyPair creates a new random X25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	publicKey, privateKey, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	keyPair := &KeyPair{
		Public:  PublicKey(*publicKey),
		Private: PrivateKey(*privateKey),
	}

	return keyPair, nil
}

// GenerateNonce creates a cryptographically secure random nonce.
func GenerateNonce() (Nonce, error) {
	var nonce Nonce
	if _, err := rand.Read(nonce[:]); err != nil {
		return Nonce{}, err
	}
	return nonce, nil
}

// RandomBytes fills a fresh buffer of the given size from the CSPRNG.
func RandomBytes(size int) ([]byte, error) {
	if size <= 0 {
		return nil, errors.New("invalid buffer size")
	}
	buffer := make([]byte, size)
	if _, err := rand.Read(buffer); err != nil {
		return nil, err
	}
	return buffer, nil
}

// isZero reports whether every byte of the slice is zero, in constant time.
func isZero(data []byte) bool {
	var acc byte
	for _, b := range data {
		acc |= b
	}
	return acc == 0
}

// Equal compares two public keys in constant time.
func (k PublicKey) Equal(other PublicKey) bool {
	return subtle.ConstantTimeCompare(k[:], other[:]) == 1
}

// IsZero reports whether the key is unset.
func (k PublicKey) IsZero() bool { return isZero(k[:]) }

// Equal compares two private keys in constant time.
func (k PrivateKey) Equal(other PrivateKey) bool {
	return subtle.ConstantTimeCompare(k[:], other[:]) == 1
}

// IsZero reports whether the key is unset.
func (k PrivateKey) IsZero() bool { return isZero(k[:]) }

// Wipe erases the private key.
func (k *PrivateKey) Wipe() { ZeroBytes(k[:]) }

// Equal compares two signing public keys in constant time.
func (k SigningPublicKey) Equal(other SigningPublicKey) bool {
	return subtle.ConstantTimeCompare(k[:], other[:]) == 1
}

// IsZero reports whether the key is unset.
func (k SigningPublicKey) IsZero() bool { return isZero(k[:]) }

// Wipe erases the signing private key.
func (k *SigningPrivateKey) Wipe() { ZeroBytes(k[:]) }

// Equal compares two root keys in constant time.
func (k RootKey) Equal(other RootKey) bool {
	return subtle.ConstantTimeCompare(k[:], other[:]) == 1
}

// IsZero reports whether the key is unset.
func (k RootKey) IsZero() bool { return isZero(k[:]) }

// Wipe erases the root key.
func (k *RootKey) Wipe() { ZeroBytes(k[:]) }

// Equal compares two chain keys in constant time.
func (k ChainKey) Equal(other ChainKey) bool {
	return subtle.ConstantTimeCompare(k[:], other[:]) == 1
}

// IsZero reports whether the key is unset.
func (k ChainKey) IsZero() bool { return isZero(k[:]) }

// Wipe erases the chain key.
func (k *ChainKey) Wipe() { ZeroBytes(k[:]) }

// Equal compares two header keys in constant time.
func (k HeaderKey) Equal(other HeaderKey) bool {
	return subtle.ConstantTimeCompare(k[:], other[:]) == 1
}

// IsZero reports whether the key is unset.
func (k HeaderKey) IsZero() bool { return isZero(k[:]) }

// Wipe erases the header key.
func (k *HeaderKey) Wipe() { ZeroBytes(k[:]) }

// Equal compares two message keys in constant time.
func (k MessageKey) Equal(other MessageKey) bool {
	return subtle.ConstantTimeCompare(k[:], other[:]) == 1
}

// IsZero reports whether the key is unset.
func (k MessageKey) IsZero() bool { return isZero(k[:]) }

// Wipe erases the message key.
func (k *MessageKey) Wipe() { ZeroBytes(k[:]) }

// Equal compares two backup keys in constant time.
func (k BackupKey) Equal(other BackupKey) bool {
	return subtle.ConstantTimeCompare(k[:], other[:]) == 1
}

// IsZero reports whether the key is unset.
func (k BackupKey) IsZero() bool { return isZero(k[:]) }

// Wipe erases the backup key.
func (k *BackupKey) Wipe() { ZeroBytes(k[:]) }

// NewConversationID generates a random conversation id.
func NewConversationID() (ConversationID, error) {
	var id ConversationID
	if _, err := rand.Read(id[:]); err != nil {
		return ConversationID{}, err
	}
	return id, nil
}

// Equal compares two conversation ids in constant time.
func (id ConversationID) Equal(other ConversationID) bool {
	return subtle.ConstantTimeCompare(id[:], other[:]) == 1
}

// IsZero reports whether the id is unset.
func (id ConversationID) IsZero() bool { return isZero(id[:]) }
