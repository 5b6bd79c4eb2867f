// Package user implements per-user state: the long-term master key pairs,
// the published prekey pool and the user's conversations, plus the process
// level registry of users.
package user

import (
	"errors"

	"golang.org/x/crypto/curve25519"

	"github.com/opd-ai/molch/crypto"
	"github.com/opd-ai/molch/memguard"
)

// Layout of the guarded private key region: Ed25519 private key followed by
// the X25519 identity private key.
const (
	privateSigningOffset  = 0
	privateIdentityOffset = crypto.SigningPrivateKeySize
	privateRegionSize     = crypto.SigningPrivateKeySize + crypto.PrivateKeySize

	masterSeedSize = 2 * 32
)

var errCorruptMasterKeys = errors.New("user: corrupt master keys")

// MasterKeys holds a user's long-term Ed25519 signing key pair and X25519
// identity key pair. The private halves live in a locked, no-access memory
// region and are only touched under scoped guards.
type MasterKeys struct {
	publicSigning  crypto.SigningPublicKey
	publicIdentity crypto.PublicKey

	private *memguard.Region
}

// NewMasterKeys generates a fresh set of master keys. If lowEntropySeed is
// non-empty it is mixed with OS randomness through spiced random, so a user
// supplied passphrase hardens the generation without ever being the sole
// entropy source.
func NewMasterKeys(lowEntropySeed []byte) (*MasterKeys, error) {
	var seed []byte
	var err error

	if len(lowEntropySeed) > 0 {
		seed, err = crypto.SpicedRandom(lowEntropySeed, masterSeedSize)
	} else {
		seed, err = crypto.RandomBytes(masterSeedSize)
	}
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(seed)

	signingPair, err := crypto.SigningKeyPairFromSeed(seed[:32])
	if err != nil {
		return nil, err
	}
	defer signingPair.Private.Wipe()

	var identityPrivate crypto.PrivateKey
	copy(identityPrivate[:], seed[32:])
	defer identityPrivate.Wipe()

	identityPublic, err := curve25519.X25519(identityPrivate[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	keys := &MasterKeys{publicSigning: signingPair.Public}
	copy(keys.publicIdentity[:], identityPublic)

	if err := keys.storePrivate(signingPair.Private[:], identityPrivate[:]); err != nil {
		return nil, err
	}

	return keys, nil
}

func (m *MasterKeys) storePrivate(signing []byte, identity []byte) error {
	region, err := memguard.New(privateRegionSize)
	if err != nil {
		return err
	}

	err = region.WithReadWrite(func(data []byte) error {
		copy(data[privateSigningOffset:], signing)
		copy(data[privateIdentityOffset:], identity)
		return nil
	})
	if err != nil {
		region.Destroy()
		return err
	}

	m.private = region
	return nil
}

// PublicSigningKey returns the long-term Ed25519 public key. This is the
// user's public identifier.
func (m *MasterKeys) PublicSigningKey() crypto.SigningPublicKey { return m.publicSigning }

// PublicIdentityKey returns the long-term X25519 public key.
func (m *MasterKeys) PublicIdentityKey() crypto.PublicKey { return m.publicIdentity }

// Signature signs data with the private signing key under a read guard.
func (m *MasterKeys) Signature(data []byte) (crypto.Signature, error) {
	var signature crypto.Signature

	err := m.private.WithRead(func(guarded []byte) error {
		var privateSigning crypto.SigningPrivateKey
		copy(privateSigning[:], guarded[privateSigningOffset:privateIdentityOffset])
		defer privateSigning.Wipe()

		signed, err := crypto.Sign(data, privateSigning)
		if err != nil {
			return err
		}
		signature = signed
		return nil
	})

	return signature, err
}

// Sign returns the data with its signature appended, the form embedded in
// the signed prekey list.
func (m *MasterKeys) Sign(data []byte) ([]byte, error) {
	signature, err := m.Signature(data)
	if err != nil {
		return nil, err
	}
	return append(append([]byte(nil), data...), signature[:]...), nil
}

// WithPrivateIdentity runs fn with the private identity key. The key copy
// handed to fn is wiped when it returns.
func (m *MasterKeys) WithPrivateIdentity(fn func(private crypto.PrivateKey) error) error {
	return m.private.WithRead(func(guarded []byte) error {
		var privateIdentity crypto.PrivateKey
		copy(privateIdentity[:], guarded[privateIdentityOffset:])
		defer privateIdentity.Wipe()

		return fn(privateIdentity)
	})
}

// Export copies the four key blobs out for serialization.
func (m *MasterKeys) Export() (*MasterKeysSnapshot, error) {
	snapshot := &MasterKeysSnapshot{
		PublicSigningKey:  append([]byte(nil), m.publicSigning[:]...),
		PublicIdentityKey: append([]byte(nil), m.publicIdentity[:]...),
	}

	err := m.private.WithRead(func(guarded []byte) error {
		snapshot.PrivateSigningKey = append([]byte(nil), guarded[privateSigningOffset:privateIdentityOffset]...)
		snapshot.PrivateIdentityKey = append([]byte(nil), guarded[privateIdentityOffset:]...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return snapshot, nil
}

// ImportMasterKeys restores master keys from their four serialized blobs.
func ImportMasterKeys(snapshot *MasterKeysSnapshot) (*MasterKeys, error) {
	if snapshot == nil ||
		len(snapshot.PublicSigningKey) != crypto.SigningPublicKeySize ||
		len(snapshot.PrivateSigningKey) != crypto.SigningPrivateKeySize ||
		len(snapshot.PublicIdentityKey) != crypto.PublicKeySize ||
		len(snapshot.PrivateIdentityKey) != crypto.PrivateKeySize {
		return nil, errCorruptMasterKeys
	}

	keys := &MasterKeys{}
	copy(keys.publicSigning[:], snapshot.PublicSigningKey)
	copy(keys.publicIdentity[:], snapshot.PublicIdentityKey)

	if err := keys.storePrivate(snapshot.PrivateSigningKey, snapshot.PrivateIdentityKey); err != nil {
		return nil, err
	}
	return keys, nil
}

// MasterKeysSnapshot is the serializable form of the master keys.
type MasterKeysSnapshot struct {
	PublicSigningKey   []byte `json:"public_signing_key"`
	PrivateSigningKey  []byte `json:"private_signing_key"`
	PublicIdentityKey  []byte `json:"public_identity_key"`
	PrivateIdentityKey []byte `json:"private_identity_key"`
}

// Destroy wipes and releases the guarded private key region.
func (m *MasterKeys) Destroy() {
	if m.private != nil {
		m.private.Destroy()
	}
}
