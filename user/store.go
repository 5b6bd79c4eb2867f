package user

import (
	"errors"
	"fmt"

	"github.com/opd-ai/molch/crypto"
	"github.com/opd-ai/molch/session"
)

// ErrUserNotFound is returned when no user matches a public signing key.
var ErrUserNotFound = errors.New("user: not found")

// Store is the registry of users in a library instance. Users are kept in
// creation order; lookups go by public signing key. Not safe for
// concurrent use.
type Store struct {
	users []*User
}

// NewStore creates an empty user store.
func NewStore() *Store {
	return &Store{}
}

// Len returns the number of users.
func (s *Store) Len() int { return len(s.users) }

// Add registers a user. A user with the same public signing key is
// replaced, matching import semantics.
func (s *Store) Add(user *User) {
	key := user.PublicSigningKey()
	for i := range s.users {
		if s.users[i].PublicSigningKey().Equal(key) {
			s.users[i].Destroy()
			s.users[i] = user
			return
		}
	}
	s.users = append(s.users, user)
}

// Get looks up a user by public signing key.
func (s *Store) Get(key crypto.SigningPublicKey) (*User, error) {
	for _, user := range s.users {
		if user.PublicSigningKey().Equal(key) {
			return user, nil
		}
	}
	return nil, ErrUserNotFound
}

// Remove destroys a user and drops it from the registry.
func (s *Store) Remove(key crypto.SigningPublicKey) error {
	for i, user := range s.users {
		if user.PublicSigningKey().Equal(key) {
			user.Destroy()
			s.users = append(s.users[:i], s.users[i+1:]...)
			return nil
		}
	}
	return ErrUserNotFound
}

// PublicSigningKeys lists the registered users in creation order.
func (s *Store) PublicSigningKeys() []crypto.SigningPublicKey {
	keys := make([]crypto.SigningPublicKey, len(s.users))
	for i, user := range s.users {
		keys[i] = user.PublicSigningKey()
	}
	return keys
}

// Users returns the registered users in creation order.
func (s *Store) Users() []*User {
	users := make([]*User, len(s.users))
	copy(users, s.users)
	return users
}

// GetByIdentity looks up a user by its long-term X25519 identity key.
func (s *Store) GetByIdentity(key crypto.PublicKey) (*User, error) {
	for _, user := range s.users {
		if user.masterKeys.PublicIdentityKey().Equal(key) {
			return user, nil
		}
	}
	return nil, ErrUserNotFound
}

// FindConversation locates a conversation across all users.
func (s *Store) FindConversation(id crypto.ConversationID) (*User, *session.Conversation, error) {
	for _, user := range s.users {
		if conversation, err := user.Conversation(id); err == nil {
			return user, conversation, nil
		}
	}
	return nil, nil, ErrConversationNotFound
}

// Clear destroys every user.
func (s *Store) Clear() {
	for _, user := range s.users {
		user.Destroy()
	}
	s.users = nil
}

func logrusHex(data []byte) string {
	return fmt.Sprintf("%x", data)
}
