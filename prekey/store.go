package prekey

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/molch/crypto"
)

const (
	// Amount is the number of active prekeys a user publishes.
	Amount = 100
	// Expiration is how long an active prekey stays published.
	Expiration = 31 * 24 * time.Hour
	// DeprecatedExpiration is the grace period during which a retired
	// prekey still resolves, to cover messages in flight.
	DeprecatedExpiration = 24 * time.Hour

	// ListSize is the byte length of the concatenated public key list.
	ListSize = Amount * crypto.PublicKeySize
)

// ErrNotFound is returned when no active or deprecated prekey matches the
// requested public key.
var ErrNotFound = errors.New("prekey: not found")

// node is one prekey pair with its expiration.
type node struct {
	keyPair    crypto.KeyPair
	expiration time.Time
}

// Store is the pool of active and deprecated prekeys for one user.
// It is not safe for concurrent use.
type Store struct {
	nodes      [Amount]node
	deprecated []node

	oldestExpiration           time.Time
	oldestDeprecatedExpiration time.Time
}

// NewStore generates a full pool of fresh prekeys.
func NewStore() (*Store, error) {
	store := &Store{}
	now := crypto.GetDefaultTimeProvider().Now()

	for i := range store.nodes {
		keyPair, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		store.nodes[i] = node{keyPair: *keyPair, expiration: now.Add(Expiration)}
		crypto.WipeKeyPair(keyPair)
	}
	store.oldestExpiration = store.nodes[0].expiration

	logrus.WithFields(logrus.Fields{
		"function": "NewStore",
		"package":  "prekey",
		"amount":   Amount,
	}).Debug("Generated prekey store")

	return store, nil
}

// List returns the concatenated active public keys in slot order. This is
// the payload that gets embedded into the signed prekey list.
func (s *Store) List() []byte {
	list := make([]byte, 0, ListSize)
	for i := range s.nodes {
		list = append(list, s.nodes[i].keyPair.Public[:]...)
	}
	return list
}

// Get looks up the private key matching a public prekey. A hit on an
// active node deprecates it and replaces it with a fresh pair; deprecated
// nodes resolve without mutation so that retransmitted prekey messages
// still decrypt.
func (s *Store) Get(public crypto.PublicKey) (crypto.PrivateKey, error) {
	for i := range s.nodes {
		if s.nodes[i].keyPair.Public.Equal(public) {
			private := s.nodes[i].keyPair.Private
			if err := s.deprecate(i); err != nil {
				return crypto.PrivateKey{}, err
			}
			return private, nil
		}
	}

	for i := range s.deprecated {
		if s.deprecated[i].keyPair.Public.Equal(public) {
			return s.deprecated[i].keyPair.Private, nil
		}
	}

	return crypto.PrivateKey{}, ErrNotFound
}

// deprecate moves the active node at the given slot to the deprecated list
// and installs a freshly generated pair in its place.
func (s *Store) deprecate(index int) error {
	now := crypto.GetDefaultTimeProvider().Now()

	retired := s.nodes[index]
	retired.expiration = now.Add(DeprecatedExpiration)
	s.deprecated = append(s.deprecated, retired)
	if len(s.deprecated) == 1 || retired.expiration.Before(s.oldestDeprecatedExpiration) {
		s.oldestDeprecatedExpiration = retired.expiration
	}

	keyPair, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	s.nodes[index] = node{keyPair: *keyPair, expiration: now.Add(Expiration)}
	crypto.WipeKeyPair(keyPair)

	s.updateOldestExpiration()

	logrus.WithFields(logrus.Fields{
		"function": "deprecate",
		"package":  "prekey",
		"slot":     index,
	}).Debug("Deprecated prekey")

	return nil
}

// Rotate retires expired active prekeys and destroys deprecated prekeys
// past their grace period. The oldest-expiration trackers make this a
// no-op check in the common case.
func (s *Store) Rotate() error {
	now := crypto.GetDefaultTimeProvider().Now()

	if !s.oldestExpiration.After(now) {
		for i := range s.nodes {
			if !s.nodes[i].expiration.After(now) {
				if err := s.deprecate(i); err != nil {
					return err
				}
			}
		}
	}

	if len(s.deprecated) > 0 && !s.oldestDeprecatedExpiration.After(now) {
		remaining := s.deprecated[:0]
		for i := range s.deprecated {
			if s.deprecated[i].expiration.After(now) {
				remaining = append(remaining, s.deprecated[i])
			} else {
				s.deprecated[i].keyPair.Private.Wipe()
			}
		}
		s.deprecated = remaining
		s.updateOldestDeprecatedExpiration()
	}

	return nil
}

func (s *Store) updateOldestExpiration() {
	oldest := s.nodes[0].expiration
	for i := 1; i < len(s.nodes); i++ {
		if s.nodes[i].expiration.Before(oldest) {
			oldest = s.nodes[i].expiration
		}
	}
	s.oldestExpiration = oldest
}

func (s *Store) updateOldestDeprecatedExpiration() {
	if len(s.deprecated) == 0 {
		s.oldestDeprecatedExpiration = time.Time{}
		return
	}
	oldest := s.deprecated[0].expiration
	for i := 1; i < len(s.deprecated); i++ {
		if s.deprecated[i].expiration.Before(oldest) {
			oldest = s.deprecated[i].expiration
		}
	}
	s.oldestDeprecatedExpiration = oldest
}

// DeprecatedPublicKeys returns the public halves of the deprecated pool in
// deprecation order.
func (s *Store) DeprecatedPublicKeys() []crypto.PublicKey {
	keys := make([]crypto.PublicKey, len(s.deprecated))
	for i := range s.deprecated {
		keys[i] = s.deprecated[i].keyPair.Public
	}
	return keys
}

// Contains reports whether the public key is currently an active prekey.
func (s *Store) Contains(public crypto.PublicKey) bool {
	for i := range s.nodes {
		if s.nodes[i].keyPair.Public.Equal(public) {
			return true
		}
	}
	return false
}

// Wipe erases all private key material in the store.
func (s *Store) Wipe() {
	for i := range s.nodes {
		s.nodes[i].keyPair.Private.Wipe()
	}
	for i := range s.deprecated {
		s.deprecated[i].keyPair.Private.Wipe()
	}
	s.deprecated = nil
}
