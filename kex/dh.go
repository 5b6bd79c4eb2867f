package kex

import (
	"errors"

	"golang.org/x/crypto/curve25519"

	"github.com/opd-ai/molch/crypto"
)

// Role determines the order in which public keys are fed into the exchange
// hashes. Alice is the party that starts a conversation by sending the
// first prekey message; Bob is the party that published the prekey.
type Role uint8

const (
	RoleAlice Role = iota
	RoleBob
)

// String returns the role name for logging.
func (r Role) String() string {
	if r == RoleAlice {
		return "alice"
	}
	return "bob"
}

var errEmptyKey = errors.New("empty key in key exchange")

// x25519 computes the raw curve25519 shared secret.
func x25519(ourPrivate crypto.PrivateKey, theirPublic crypto.PublicKey) ([]byte, error) {
	if ourPrivate.IsZero() || theirPublic.IsZero() {
		return nil, errEmptyKey
	}
	return curve25519.X25519(ourPrivate[:], theirPublic[:])
}

// DH computes the role-ordered Diffie-Hellman hash:
//
//	Alice: H(X25519(ourPrivate, theirPublic) || ourPublic || theirPublic)
//	Bob:   H(X25519(ourPrivate, theirPublic) || theirPublic || ourPublic)
//
// Both sides of a conversation arrive at the same value because they hash
// Alice's public key first.
func DH(role Role, ourPrivate crypto.PrivateKey, ourPublic, theirPublic crypto.PublicKey) ([crypto.DiffieHellmanSize]byte, error) {
	var secret [crypto.DiffieHellmanSize]byte

	shared, err := x25519(ourPrivate, theirPublic)
	if err != nil {
		return secret, err
	}
	defer crypto.ZeroBytes(shared)

	switch role {
	case RoleAlice:
		secret = crypto.Hash256(shared, ourPublic[:], theirPublic[:])
	case RoleBob:
		secret = crypto.Hash256(shared, theirPublic[:], ourPublic[:])
	default:
		return secret, errors.New("unknown role")
	}

	return secret, nil
}

// TripleDH computes the master secret for a new conversation:
//
//	HASH(DH(A,B0) || DH(A0,B) || DH(A0,B0))
//
// where A/A0 are Alice's identity and ephemeral keys and B/B0 are Bob's
// identity and ephemeral (prekey) keys. The role decides which of our keys
// plays which part; the concatenation order is fixed, so both sides derive
// the same secret.
func TripleDH(
	role Role,
	ourPrivateIdentity crypto.PrivateKey,
	ourPublicIdentity crypto.PublicKey,
	ourPrivateEphemeral crypto.PrivateKey,
	ourPublicEphemeral crypto.PublicKey,
	theirPublicIdentity crypto.PublicKey,
	theirPublicEphemeral crypto.PublicKey,
) ([crypto.DiffieHellmanSize]byte, error) {
	var master [crypto.DiffieHellmanSize]byte

	var identityEphemeral, ephemeralIdentity []byte
	var err error

	switch role {
	case RoleAlice:
		// DH(A,B0): our identity with their ephemeral.
		identityEphemeral, err = x25519(ourPrivateIdentity, theirPublicEphemeral)
		if err != nil {
			return master, err
		}
		// DH(A0,B): our ephemeral with their identity.
		ephemeralIdentity, err = x25519(ourPrivateEphemeral, theirPublicIdentity)
		if err != nil {
			crypto.ZeroBytes(identityEphemeral)
			return master, err
		}
	case RoleBob:
		// DH(A,B0): their identity with our ephemeral.
		identityEphemeral, err = x25519(ourPrivateEphemeral, theirPublicIdentity)
		if err != nil {
			return master, err
		}
		// DH(A0,B): their ephemeral with our identity.
		ephemeralIdentity, err = x25519(ourPrivateIdentity, theirPublicEphemeral)
		if err != nil {
			crypto.ZeroBytes(identityEphemeral)
			return master, err
		}
	default:
		return master, errors.New("unknown role")
	}
	defer crypto.ZeroBytes(identityEphemeral)
	defer crypto.ZeroBytes(ephemeralIdentity)

	// DH(A0,B0): the two ephemerals, identical on both sides.
	ephemeralEphemeral, err := x25519(ourPrivateEphemeral, theirPublicEphemeral)
	if err != nil {
		return master, err
	}
	defer crypto.ZeroBytes(ephemeralEphemeral)

	master = crypto.Hash256(identityEphemeral, ephemeralIdentity, ephemeralEphemeral)
	return master, nil
}
