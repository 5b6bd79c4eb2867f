package session

import (
	"errors"

	"github.com/opd-ai/molch/crypto"
	"github.com/opd-ai/molch/ratchet"
)

// Snapshot is the serializable form of a conversation.
type Snapshot struct {
	ID      []byte            `json:"id"`
	Ratchet *ratchet.Snapshot `json:"ratchet"`
}

var errCorruptSnapshot = errors.New("session: corrupt snapshot")

// Export captures the conversation state.
func (c *Conversation) Export() *Snapshot {
	return &Snapshot{
		ID:      append([]byte(nil), c.id[:]...),
		Ratchet: c.ratchet.Export(),
	}
}

// Import reconstructs a conversation from a snapshot.
func Import(snapshot *Snapshot) (*Conversation, error) {
	if snapshot == nil || len(snapshot.ID) != crypto.ConversationIDSize {
		return nil, errCorruptSnapshot
	}

	ratchetState, err := ratchet.Import(snapshot.Ratchet)
	if err != nil {
		return nil, err
	}

	conversation := &Conversation{ratchet: ratchetState}
	copy(conversation.id[:], snapshot.ID)
	return conversation, nil
}
