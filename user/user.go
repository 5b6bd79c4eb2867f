package user

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/molch/crypto"
	"github.com/opd-ai/molch/prekey"
	"github.com/opd-ai/molch/session"
)

// ErrConversationNotFound is returned when no conversation matches an id.
var ErrConversationNotFound = errors.New("user: conversation not found")

// User bundles a user's master keys, prekey pool and conversations.
// Ownership is exclusive: conversations live in exactly one user.
type User struct {
	masterKeys    *MasterKeys
	prekeys       *prekey.Store
	conversations []*session.Conversation
}

// NewUser creates a user with fresh master keys and a full prekey pool.
// A non-empty low-entropy seed hardens key generation via spiced random.
func NewUser(lowEntropySeed []byte) (*User, error) {
	masterKeys, err := NewMasterKeys(lowEntropySeed)
	if err != nil {
		return nil, err
	}

	prekeys, err := prekey.NewStore()
	if err != nil {
		masterKeys.Destroy()
		return nil, err
	}

	user := &User{masterKeys: masterKeys, prekeys: prekeys}

	logrus.WithFields(logrus.Fields{
		"function": "NewUser",
		"package":  "user",
		"user":     user.idPrefix(),
	}).Info("Created user")

	return user, nil
}

// MasterKeys returns the user's long-term keys.
func (u *User) MasterKeys() *MasterKeys { return u.masterKeys }

// Prekeys returns the user's prekey pool.
func (u *User) Prekeys() *prekey.Store { return u.prekeys }

// PublicSigningKey returns the user's public identifier.
func (u *User) PublicSigningKey() crypto.SigningPublicKey {
	return u.masterKeys.PublicSigningKey()
}

// SignedPrekeyList rotates the prekey pool and returns a freshly signed
// prekey list, so handed-out lists never contain expired prekeys.
func (u *User) SignedPrekeyList() ([]byte, error) {
	if err := u.prekeys.Rotate(); err != nil {
		return nil, err
	}

	expiration := crypto.GetDefaultTimeProvider().Now().Add(prekey.ListExpiration)
	return prekey.BuildSignedList(
		u.masterKeys.PublicIdentityKey(),
		u.prekeys.List(),
		expiration,
		u.masterKeys.Signature)
}

// AddConversation hands ownership of a conversation to the user.
func (u *User) AddConversation(conversation *session.Conversation) {
	u.conversations = append(u.conversations, conversation)
}

// AdoptConversation installs an imported conversation, replacing any
// existing conversation with the same id.
func (u *User) AdoptConversation(conversation *session.Conversation) {
	for i := range u.conversations {
		if u.conversations[i].ID().Equal(conversation.ID()) {
			u.conversations[i].Wipe()
			u.conversations[i] = conversation
			return
		}
	}
	u.conversations = append(u.conversations, conversation)
}

// Conversation looks up a conversation by id.
func (u *User) Conversation(id crypto.ConversationID) (*session.Conversation, error) {
	for _, conversation := range u.conversations {
		if conversation.ID().Equal(id) {
			return conversation, nil
		}
	}
	return nil, ErrConversationNotFound
}

// RemoveConversation wipes and drops a conversation. Reports whether the
// id was present.
func (u *User) RemoveConversation(id crypto.ConversationID) bool {
	for i, conversation := range u.conversations {
		if conversation.ID().Equal(id) {
			conversation.Wipe()
			u.conversations = append(u.conversations[:i], u.conversations[i+1:]...)
			return true
		}
	}
	return false
}

// ConversationIDs lists the user's conversation ids in creation order.
func (u *User) ConversationIDs() []crypto.ConversationID {
	ids := make([]crypto.ConversationID, len(u.conversations))
	for i, conversation := range u.conversations {
		ids[i] = conversation.ID()
	}
	return ids
}

// Destroy wipes all of the user's key material.
func (u *User) Destroy() {
	for _, conversation := range u.conversations {
		conversation.Wipe()
	}
	u.conversations = nil
	u.prekeys.Wipe()
	u.masterKeys.Destroy()
}

func (u *User) idPrefix() string {
	key := u.masterKeys.PublicSigningKey()
	return logrusHex(key[:8])
}
