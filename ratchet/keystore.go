package ratchet

import (
	"time"

	"github.com/opd-ai/molch/crypto"
)

const (
	// MaxKeys bounds the number of retained header and message keys.
	MaxKeys = 1000
	// MaxAge is how long a retained key stays usable.
	MaxAge = 31 * 24 * time.Hour
)

// HeaderAndMessageKey is one retained key pair for a message that has not
// arrived yet.
type HeaderAndMessageKey struct {
	HeaderKey  crypto.HeaderKey
	MessageKey crypto.MessageKey
	Expiration time.Time
}

// KeyStore is an ordered collection of header and message keys, sorted by
// expiration time ascending. It is bounded both in size and in entry age.
type KeyStore struct {
	entries []HeaderAndMessageKey
}

// NewKeyStore creates an empty key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{}
}

// Len returns the number of retained keys.
func (s *KeyStore) Len() int { return len(s.entries) }

// Add retains a header and message key pair. The entry expires MaxAge from
// now. Outdated entries are dropped and, if the store is full, the entry
// closest to expiration is evicted.
func (s *KeyStore) Add(headerKey crypto.HeaderKey, messageKey crypto.MessageKey) {
	now := crypto.GetDefaultTimeProvider().Now()
	s.insert(HeaderAndMessageKey{
		HeaderKey:  headerKey,
		MessageKey: messageKey,
		Expiration: now.Add(MaxAge),
	})
	s.removeOutdatedAndTrim(now)
}

func (s *KeyStore) insert(entry HeaderAndMessageKey) {
	// Entries are created with monotonically growing expirations, so the
	// append path is the common case.
	if length := len(s.entries); length == 0 || !entry.Expiration.Before(s.entries[length-1].Expiration) {
		s.entries = append(s.entries, entry)
		return
	}

	position := 0
	for position < len(s.entries) && s.entries[position].Expiration.Before(entry.Expiration) {
		position++
	}
	s.entries = append(s.entries, HeaderAndMessageKey{})
	copy(s.entries[position+1:], s.entries[position:])
	s.entries[position] = entry
}

// Merge moves all entries of other into the store, preserving the
// expiration ordering, then re-applies the age and size bounds. other is
// left empty.
func (s *KeyStore) Merge(other *KeyStore) {
	if other == nil || len(other.entries) == 0 {
		return
	}

	merged := make([]HeaderAndMessageKey, 0, len(s.entries)+len(other.entries))
	i, j := 0, 0
	for i < len(s.entries) && j < len(other.entries) {
		if s.entries[i].Expiration.After(other.entries[j].Expiration) {
			merged = append(merged, other.entries[j])
			j++
		} else {
			merged = append(merged, s.entries[i])
			i++
		}
	}
	merged = append(merged, s.entries[i:]...)
	merged = append(merged, other.entries[j:]...)

	s.entries = merged
	other.entries = nil
	s.removeOutdatedAndTrim(crypto.GetDefaultTimeProvider().Now())
}

func (s *KeyStore) removeOutdatedAndTrim(now time.Time) {
	// An entry expires MaxAge after creation, so anything with an
	// expiration in the past is older than MaxAge.
	firstValid := 0
	for firstValid < len(s.entries) && s.entries[firstValid].Expiration.Before(now) {
		firstValid++
	}
	if firstValid > 0 {
		s.wipeRange(0, firstValid)
		s.entries = append(s.entries[:0], s.entries[firstValid:]...)
	}

	// Evict the entries closest to expiration when over capacity.
	if excess := len(s.entries) - MaxKeys; excess > 0 {
		s.wipeRange(0, excess)
		s.entries = append(s.entries[:0], s.entries[excess:]...)
	}
}

// Probe calls match for every retained key pair and removes the first entry
// it accepts. Reports whether an entry matched.
func (s *KeyStore) Probe(match func(headerKey crypto.HeaderKey, messageKey crypto.MessageKey) bool) bool {
	for i := range s.entries {
		if match(s.entries[i].HeaderKey, s.entries[i].MessageKey) {
			s.wipeRange(i, i+1)
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Clear wipes and drops every entry.
func (s *KeyStore) Clear() {
	s.wipeRange(0, len(s.entries))
	s.entries = nil
}

func (s *KeyStore) wipeRange(from, to int) {
	for i := from; i < to; i++ {
		s.entries[i].HeaderKey.Wipe()
		s.entries[i].MessageKey.Wipe()
	}
}

// Entries returns a copy of the retained keys in expiration order.
func (s *KeyStore) Entries() []HeaderAndMessageKey {
	entries := make([]HeaderAndMessageKey, len(s.entries))
	copy(entries, s.entries)
	return entries
}

// restore replaces the store contents; used when importing a backup.
func (s *KeyStore) restore(entries []HeaderAndMessageKey) {
	s.entries = make([]HeaderAndMessageKey, len(entries))
	copy(s.entries, entries)
}
