package user

import (
	"errors"

	"github.com/opd-ai/molch/prekey"
	"github.com/opd-ai/molch/session"
)

// Snapshot is the serializable form of a user.
type Snapshot struct {
	MasterKeys    *MasterKeysSnapshot `json:"master_keys"`
	Prekeys       *prekey.Snapshot    `json:"prekeys"`
	Conversations []*session.Snapshot `json:"conversations,omitempty"`
}

// StoreSnapshot is the serializable form of the whole user registry.
type StoreSnapshot struct {
	Users []*Snapshot `json:"users"`
}

var errCorruptSnapshot = errors.New("user: corrupt snapshot")

// Export captures the user's full state.
func (u *User) Export() (*Snapshot, error) {
	masterKeys, err := u.masterKeys.Export()
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		MasterKeys: masterKeys,
		Prekeys:    u.prekeys.Export(),
	}
	for _, conversation := range u.conversations {
		snapshot.Conversations = append(snapshot.Conversations, conversation.Export())
	}
	return snapshot, nil
}

// Import reconstructs a user from a snapshot.
func Import(snapshot *Snapshot) (*User, error) {
	if snapshot == nil {
		return nil, errCorruptSnapshot
	}

	masterKeys, err := ImportMasterKeys(snapshot.MasterKeys)
	if err != nil {
		return nil, err
	}

	prekeys, err := prekey.Import(snapshot.Prekeys)
	if err != nil {
		masterKeys.Destroy()
		return nil, err
	}

	restored := &User{masterKeys: masterKeys, prekeys: prekeys}
	for _, conversationSnapshot := range snapshot.Conversations {
		conversation, err := session.Import(conversationSnapshot)
		if err != nil {
			restored.Destroy()
			return nil, err
		}
		restored.conversations = append(restored.conversations, conversation)
	}

	return restored, nil
}

// Export captures every user in the registry.
func (s *Store) Export() (*StoreSnapshot, error) {
	snapshot := &StoreSnapshot{}
	for _, user := range s.users {
		exported, err := user.Export()
		if err != nil {
			return nil, err
		}
		snapshot.Users = append(snapshot.Users, exported)
	}
	return snapshot, nil
}

// ImportStore reconstructs a user registry from a snapshot.
func ImportStore(snapshot *StoreSnapshot) (*Store, error) {
	if snapshot == nil {
		return nil, errCorruptSnapshot
	}

	store := NewStore()
	for _, userSnapshot := range snapshot.Users {
		restored, err := Import(userSnapshot)
		if err != nil {
			store.Clear()
			return nil, err
		}
		store.Add(restored)
	}
	return store, nil
}
