// Package backup seals serialized library state under a rotatable backup
// key.
//
// The envelope is bit-stable: a version byte, a type byte distinguishing
// full from single-conversation backups, a 24-byte nonce and the secretbox
// ciphertext of the serialized payload.
package backup

import (
	"errors"

	"github.com/opd-ai/molch/crypto"
)

// Type distinguishes the two backup shapes.
type Type uint8

const (
	// TypeFull is a snapshot of the whole user registry.
	TypeFull Type = 0
	// TypeConversation is a snapshot of a single conversation.
	TypeConversation Type = 1
)

// Version is the only supported envelope version.
const Version = 0

const envelopeHeaderSize = 1 + 1 + crypto.NonceSize

var (
	// ErrIncorrectData is returned for envelopes with an unknown version
	// or mismatched type.
	ErrIncorrectData = errors.New("backup: incorrect data")
	// ErrDecryptionFailed is returned when the envelope does not open
	// under the supplied backup key.
	ErrDecryptionFailed = errors.New("backup: decryption failed")
)

// Seal encrypts a serialized payload into a backup envelope.
func Seal(payload []byte, backupType Type, key crypto.BackupKey) ([]byte, error) {
	if key.IsZero() {
		return nil, ErrIncorrectData
	}

	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return nil, err
	}

	ciphertext, err := crypto.SecretboxSeal(payload, nonce, key)
	if err != nil {
		return nil, err
	}

	envelope := make([]byte, 0, envelopeHeaderSize+len(ciphertext))
	envelope = append(envelope, Version, byte(backupType))
	envelope = append(envelope, nonce[:]...)
	envelope = append(envelope, ciphertext...)

	return envelope, nil
}

// Open decrypts a backup envelope, checking version and type before
// touching the ciphertext.
func Open(envelope []byte, expectedType Type, key crypto.BackupKey) ([]byte, error) {
	backupType, err := TypeOf(envelope)
	if err != nil {
		return nil, err
	}
	if backupType != expectedType {
		return nil, ErrIncorrectData
	}

	var nonce crypto.Nonce
	copy(nonce[:], envelope[2:])

	payload, err := crypto.SecretboxOpen(envelope[envelopeHeaderSize:], nonce, key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return payload, nil
}

// TypeOf inspects an envelope's version and type without decrypting it.
func TypeOf(envelope []byte) (Type, error) {
	if len(envelope) < envelopeHeaderSize+crypto.SecretboxOverhead {
		return 0, ErrIncorrectData
	}
	if envelope[0] != Version {
		return 0, ErrIncorrectData
	}

	switch Type(envelope[1]) {
	case TypeFull, TypeConversation:
		return Type(envelope[1]), nil
	default:
		return 0, ErrIncorrectData
	}
}
