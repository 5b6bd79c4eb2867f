package ratchet

import (
	"errors"
	"time"

	"github.com/opd-ai/molch/crypto"
	"github.com/opd-ai/molch/kex"
)

// Snapshot is the serializable form of a ratchet, used by the backup codec.
// Only committed state is captured; a ratchet is always exported between
// receive transactions.
type Snapshot struct {
	Role uint8 `json:"role"`

	RootKey []byte `json:"root_key"`

	SendHeaderKey        []byte `json:"send_header_key,omitempty"`
	ReceiveHeaderKey     []byte `json:"receive_header_key,omitempty"`
	NextSendHeaderKey    []byte `json:"next_send_header_key"`
	NextReceiveHeaderKey []byte `json:"next_receive_header_key"`

	SendChainKey    []byte `json:"send_chain_key,omitempty"`
	ReceiveChainKey []byte `json:"receive_chain_key,omitempty"`

	OurPublicIdentity   []byte `json:"our_public_identity"`
	TheirPublicIdentity []byte `json:"their_public_identity"`

	OurPrivateEphemeral  []byte `json:"our_private_ephemeral"`
	OurPublicEphemeral   []byte `json:"our_public_ephemeral"`
	TheirPublicEphemeral []byte `json:"their_public_ephemeral"`

	SendMessageNumber     uint32 `json:"send_message_number"`
	ReceiveMessageNumber  uint32 `json:"receive_message_number"`
	PreviousMessageNumber uint32 `json:"previous_message_number"`

	RatchetFlag bool `json:"ratchet_flag"`

	SkippedKeys []KeySnapshot `json:"skipped_keys,omitempty"`
}

// KeySnapshot is one serialized header and message key pair.
type KeySnapshot struct {
	HeaderKey  []byte    `json:"header_key"`
	MessageKey []byte    `json:"message_key"`
	Expiration time.Time `json:"expiration"`
}

var errCorruptSnapshot = errors.New("ratchet: corrupt snapshot")

// Export captures the committed ratchet state.
func (r *Ratchet) Export() *Snapshot {
	snapshot := &Snapshot{
		Role:                  uint8(r.role),
		RootKey:               append([]byte(nil), r.rootKey[:]...),
		NextSendHeaderKey:     append([]byte(nil), r.nextSendHeaderKey[:]...),
		NextReceiveHeaderKey:  append([]byte(nil), r.nextReceiveHeaderKey[:]...),
		OurPublicIdentity:     append([]byte(nil), r.ourPublicIdentity[:]...),
		TheirPublicIdentity:   append([]byte(nil), r.theirPublicIdentity[:]...),
		OurPrivateEphemeral:   append([]byte(nil), r.ourPrivateEphemeral[:]...),
		OurPublicEphemeral:    append([]byte(nil), r.ourPublicEphemeral[:]...),
		TheirPublicEphemeral:  append([]byte(nil), r.theirPublicEphemeral[:]...),
		SendMessageNumber:     r.sendMessageNumber,
		ReceiveMessageNumber:  r.receiveMessageNumber,
		PreviousMessageNumber: r.previousMessageNumber,
		RatchetFlag:           r.ratchetFlag,
	}

	if r.sendHeaderKey != nil {
		snapshot.SendHeaderKey = append([]byte(nil), r.sendHeaderKey[:]...)
	}
	if r.receiveHeaderKey != nil {
		snapshot.ReceiveHeaderKey = append([]byte(nil), r.receiveHeaderKey[:]...)
	}
	if r.sendChainKey != nil {
		snapshot.SendChainKey = append([]byte(nil), r.sendChainKey[:]...)
	}
	if r.receiveChainKey != nil {
		snapshot.ReceiveChainKey = append([]byte(nil), r.receiveChainKey[:]...)
	}

	for _, entry := range r.skippedKeys.Entries() {
		snapshot.SkippedKeys = append(snapshot.SkippedKeys, KeySnapshot{
			HeaderKey:  append([]byte(nil), entry.HeaderKey[:]...),
			MessageKey: append([]byte(nil), entry.MessageKey[:]...),
			Expiration: entry.Expiration,
		})
	}

	return snapshot
}

// Import reconstructs a ratchet from a snapshot.
func Import(snapshot *Snapshot) (*Ratchet, error) {
	if snapshot == nil {
		return nil, errCorruptSnapshot
	}

	ratchet := &Ratchet{
		role:                  kex.Role(snapshot.Role),
		sendMessageNumber:     snapshot.SendMessageNumber,
		receiveMessageNumber:  snapshot.ReceiveMessageNumber,
		previousMessageNumber: snapshot.PreviousMessageNumber,
		ratchetFlag:           snapshot.RatchetFlag,
		receivedValid:         true,
		headerDecryptable:     NotTried,
		skippedKeys:           NewKeyStore(),
		stagedKeys:            NewKeyStore(),
	}

	if err := copyExact(ratchet.rootKey[:], snapshot.RootKey); err != nil {
		return nil, err
	}
	if err := copyExact(ratchet.nextSendHeaderKey[:], snapshot.NextSendHeaderKey); err != nil {
		return nil, err
	}
	if err := copyExact(ratchet.nextReceiveHeaderKey[:], snapshot.NextReceiveHeaderKey); err != nil {
		return nil, err
	}
	if err := copyExact(ratchet.ourPublicIdentity[:], snapshot.OurPublicIdentity); err != nil {
		return nil, err
	}
	if err := copyExact(ratchet.theirPublicIdentity[:], snapshot.TheirPublicIdentity); err != nil {
		return nil, err
	}
	if err := copyExact(ratchet.ourPrivateEphemeral[:], snapshot.OurPrivateEphemeral); err != nil {
		return nil, err
	}
	if err := copyExact(ratchet.ourPublicEphemeral[:], snapshot.OurPublicEphemeral); err != nil {
		return nil, err
	}
	if err := copyExact(ratchet.theirPublicEphemeral[:], snapshot.TheirPublicEphemeral); err != nil {
		return nil, err
	}

	if snapshot.SendHeaderKey != nil {
		key := &crypto.HeaderKey{}
		if err := copyExact(key[:], snapshot.SendHeaderKey); err != nil {
			return nil, err
		}
		ratchet.sendHeaderKey = key
	}
	if snapshot.ReceiveHeaderKey != nil {
		key := &crypto.HeaderKey{}
		if err := copyExact(key[:], snapshot.ReceiveHeaderKey); err != nil {
			return nil, err
		}
		ratchet.receiveHeaderKey = key
	}
	if snapshot.SendChainKey != nil {
		key := &crypto.ChainKey{}
		if err := copyExact(key[:], snapshot.SendChainKey); err != nil {
			return nil, err
		}
		ratchet.sendChainKey = key
	}
	if snapshot.ReceiveChainKey != nil {
		key := &crypto.ChainKey{}
		if err := copyExact(key[:], snapshot.ReceiveChainKey); err != nil {
			return nil, err
		}
		ratchet.receiveChainKey = key
	}

	entries := make([]HeaderAndMessageKey, 0, len(snapshot.SkippedKeys))
	for _, key := range snapshot.SkippedKeys {
		entry := HeaderAndMessageKey{Expiration: key.Expiration}
		if err := copyExact(entry.HeaderKey[:], key.HeaderKey); err != nil {
			return nil, err
		}
		if err := copyExact(entry.MessageKey[:], key.MessageKey); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	ratchet.skippedKeys.restore(entries)

	return ratchet, nil
}

func copyExact(destination []byte, source []byte) error {
	if len(source) != len(destination) {
		return errCorruptSnapshot
	}
	copy(destination, source)
	return nil
}
