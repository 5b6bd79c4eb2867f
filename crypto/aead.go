package crypto

import (
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/secretbox"
)

// AEADOverhead is the Poly1305 tag size added by AEADSeal.
const AEADOverhead = chacha20poly1305.Overhead

// SecretboxOverhead is the Poly1305 tag size added by SecretboxSeal.
const SecretboxOverhead = secretbox.Overhead

// Maximum message size (1MB to prevent excessive memory usage)
const MaxMessageSize = 1024 * 1024

var (
	errEmptyKey     = errors.New("empty key")
	errOpenFailed   = errors.New("decryption failed")
	errMessageSize  = errors.New("message too large")
	errEmptyMessage = errors.New("empty message")
)

// AEADSeal encrypts plaintext with XChaCha20-Poly1305, authenticating the
// additional data alongside it.
func AEADSeal(plaintext []byte, additionalData []byte, nonce Nonce, key HeaderKey) ([]byte, error) {
	if key.IsZero() {
		return nil, errEmptyKey
	}
	if len(plaintext) > MaxMessageSize {
		return nil, errMessageSize
	}

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}

	return aead.Seal(nil, nonce[:], plaintext, additionalData), nil
}

// AEADOpen decrypts an XChaCha20-Poly1305 ciphertext, verifying the
// additional data. Returns an error if authentication fails.
func AEADOpen(ciphertext []byte, additionalData []byte, nonce Nonce, key HeaderKey) ([]byte, error) {
	if key.IsZero() {
		return nil, errEmptyKey
	}

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce[:], ciphertext, additionalData)
	if err != nil {
		return nil, errOpenFailed
	}
	return plaintext, nil
}

// SecretboxSeal encrypts a message with a symmetric key using NaCl's
// secretbox, providing both confidentiality and integrity protection.
func SecretboxSeal(message []byte, nonce Nonce, key [32]byte) ([]byte, error) {
	if len(message) == 0 {
		return nil, errEmptyMessage
	}
	if len(message) > MaxMessageSize {
		return nil, errMessageSize
	}

	return secretbox.Seal(nil, message, (*[24]byte)(&nonce), (*[32]byte)(&key)), nil
}

// SecretboxOpen decrypts and authenticates a secretbox ciphertext.
func SecretboxOpen(ciphertext []byte, nonce Nonce, key [32]byte) ([]byte, error) {
	if len(ciphertext) < secretbox.Overhead {
		return nil, errOpenFailed
	}

	message, ok := secretbox.Open(nil, ciphertext, (*[24]byte)(&nonce), (*[32]byte)(&key))
	if !ok {
		return nil, errOpenFailed
	}
	return message, nil
}
