// Package session ties a ratchet to the packet codec. A Conversation owns
// one ratchet and a random conversation id; it encrypts outbound messages,
// runs the three-phase receive transaction for inbound packets and serves
// out-of-order messages from the retained skipped keys.
package session

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/molch/crypto"
	"github.com/opd-ai/molch/kex"
	"github.com/opd-ai/molch/packet"
	"github.com/opd-ai/molch/prekey"
	"github.com/opd-ai/molch/ratchet"
)

var (
	// ErrDecryptionFailed is returned when an inbound packet cannot be
	// decrypted. Committed conversation state is unchanged.
	ErrDecryptionFailed = errors.New("session: decryption failed")
	// ErrNotPrekeyPacket is returned when a conversation bootstrap gets a
	// packet that is not a prekey packet.
	ErrNotPrekeyPacket = errors.New("session: not a prekey packet")
)

// Conversation is one end-to-end encrypted message stream between two
// users. Not safe for concurrent use.
type Conversation struct {
	id      crypto.ConversationID
	ratchet *ratchet.Ratchet
}

// ID returns the conversation id.
func (c *Conversation) ID() crypto.ConversationID { return c.id }

// OurPublicIdentity returns the identity key of the side this conversation
// belongs to.
func (c *Conversation) OurPublicIdentity() crypto.PublicKey {
	return c.ratchet.OurPublicIdentity()
}

// ReceiveResult is the outcome of a successful receive.
type ReceiveResult struct {
	Message               []byte
	MessageNumber         uint32
	PreviousMessageNumber uint32
}

// StartSend begins a conversation with a receiver from their signed prekey
// list and encrypts the first message into a prekey packet.
func StartSend(
	message []byte,
	ourPrivateIdentity crypto.PrivateKey,
	ourPublicIdentity crypto.PublicKey,
	receiverSigningKey crypto.SigningPublicKey,
	receiverPrekeyList []byte,
) (*Conversation, []byte, error) {
	now := crypto.GetDefaultTimeProvider().Now()
	signedList, err := prekey.VerifySignedList(receiverPrekeyList, receiverSigningKey, now)
	if err != nil {
		return nil, nil, err
	}

	prekeyIndex, err := crypto.RandomUniform(prekey.Amount)
	if err != nil {
		return nil, nil, err
	}
	receiverPrekey := signedList.PublicKey(int(prekeyIndex))

	ephemeral, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, nil, err
	}
	defer crypto.WipeKeyPair(ephemeral)

	ratchetState, err := ratchet.New(
		kex.RoleAlice,
		ourPrivateIdentity, ourPublicIdentity,
		signedList.IdentityKey,
		ephemeral.Private, ephemeral.Public,
		receiverPrekey)
	if err != nil {
		return nil, nil, err
	}

	conversation, err := newConversation(ratchetState)
	if err != nil {
		return nil, nil, err
	}

	outbound, err := conversation.send(message, &packet.PrekeyMetadata{
		SenderIdentity:  ourPublicIdentity,
		SenderEphemeral: ephemeral.Public,
		ReceiverPrekey:  receiverPrekey,
	})
	if err != nil {
		conversation.Wipe()
		return nil, nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":     "StartSend",
		"package":      "session",
		"conversation": conversation.idPrefix(),
	}).Debug("Started conversation as sender")

	return conversation, outbound, nil
}

// StartReceive accepts the first packet of a conversation. The consumed
// prekey is deprecated by the lookup; on any decryption failure the
// half-built state is discarded.
func StartReceive(
	inbound []byte,
	ourPrivateIdentity crypto.PrivateKey,
	ourPublicIdentity crypto.PublicKey,
	prekeys *prekey.Store,
) (*Conversation, *ReceiveResult, error) {
	metadata, err := packet.GetMetadata(inbound)
	if err != nil {
		return nil, nil, err
	}
	if metadata.Type != packet.TypePrekey || metadata.Prekey == nil {
		return nil, nil, ErrNotPrekeyPacket
	}

	prekeyPrivate, err := prekeys.Get(metadata.Prekey.ReceiverPrekey)
	if err != nil {
		return nil, nil, err
	}
	defer prekeyPrivate.Wipe()

	ratchetState, err := ratchet.New(
		kex.RoleBob,
		ourPrivateIdentity, ourPublicIdentity,
		metadata.Prekey.SenderIdentity,
		prekeyPrivate, metadata.Prekey.ReceiverPrekey,
		metadata.Prekey.SenderEphemeral)
	if err != nil {
		return nil, nil, err
	}

	conversation, err := newConversation(ratchetState)
	if err != nil {
		return nil, nil, err
	}

	result, err := conversation.Receive(inbound)
	if err != nil {
		conversation.Wipe()
		return nil, nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":     "StartReceive",
		"package":      "session",
		"conversation": conversation.idPrefix(),
	}).Debug("Started conversation as receiver")

	return conversation, result, nil
}

func newConversation(ratchetState *ratchet.Ratchet) (*Conversation, error) {
	id, err := crypto.NewConversationID()
	if err != nil {
		return nil, err
	}
	return &Conversation{id: id, ratchet: ratchetState}, nil
}

// Send encrypts a message on the conversation's ratchet.
func (c *Conversation) Send(message []byte) ([]byte, error) {
	return c.send(message, nil)
}

func (c *Conversation) send(message []byte, prekeyMetadata *packet.PrekeyMetadata) ([]byte, error) {
	keys, err := c.ratchet.Send()
	if err != nil {
		return nil, err
	}
	defer keys.MessageKey.Wipe()

	packetType := packet.TypeNormal
	if prekeyMetadata != nil {
		packetType = packet.TypePrekey
	}

	return packet.Encrypt(
		packetType,
		packet.Header{
			PublicEphemeral:       keys.OurPublicEphemeral,
			MessageNumber:         keys.MessageNumber,
			PreviousMessageNumber: keys.PreviousMessageNumber,
		},
		keys.HeaderKey,
		message,
		keys.MessageKey,
		prekeyMetadata)
}

// Receive decrypts an inbound packet. Out-of-order messages whose keys
// were retained earlier are served from the skipped key store; everything
// else runs the staged receive transaction on the ratchet.
func (c *Conversation) Receive(inbound []byte) (*ReceiveResult, error) {
	if result := c.receiveWithSkippedKeys(inbound); result != nil {
		return result, nil
	}

	decryptability, header, messageNonce := c.probeHeaderKeys(inbound)

	if err := c.ratchet.SetHeaderDecryptability(decryptability); err != nil {
		return nil, err
	}

	var purportedHeader packet.Header
	if header != nil {
		purportedHeader = *header
	}
	messageKey, err := c.ratchet.Receive(
		purportedHeader.PublicEphemeral,
		purportedHeader.MessageNumber,
		purportedHeader.PreviousMessageNumber)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	defer messageKey.Wipe()

	message, err := packet.DecryptMessage(inbound, messageNonce, messageKey)
	if err != nil {
		if authErr := c.ratchet.SetLastMessageAuthenticity(false); authErr != nil {
			return nil, authErr
		}
		return nil, ErrDecryptionFailed
	}

	if err := c.ratchet.SetLastMessageAuthenticity(true); err != nil {
		return nil, err
	}

	return &ReceiveResult{
		Message:               message,
		MessageNumber:         purportedHeader.MessageNumber,
		PreviousMessageNumber: purportedHeader.PreviousMessageNumber,
	}, nil
}

// receiveWithSkippedKeys probes the retained keys of not-yet-received
// messages. A match removes the entry and bypasses the ratchet entirely.
func (c *Conversation) receiveWithSkippedKeys(inbound []byte) *ReceiveResult {
	var result *ReceiveResult

	c.ratchet.SkippedKeys().Probe(func(headerKey crypto.HeaderKey, messageKey crypto.MessageKey) bool {
		header, messageNonce, err := packet.DecryptHeader(inbound, headerKey)
		if err != nil {
			return false
		}
		message, err := packet.DecryptMessage(inbound, messageNonce, messageKey)
		if err != nil {
			return false
		}

		result = &ReceiveResult{
			Message:               message,
			MessageNumber:         header.MessageNumber,
			PreviousMessageNumber: header.PreviousMessageNumber,
		}
		return true
	})

	if result != nil {
		logrus.WithFields(logrus.Fields{
			"function":       "receiveWithSkippedKeys",
			"package":        "session",
			"conversation":   c.idPrefix(),
			"message_number": result.MessageNumber,
		}).Debug("Decrypted message with retained skipped key")
	}

	return result
}

// probeHeaderKeys tries the current and next receive header keys against
// the packet and reports which one worked.
func (c *Conversation) probeHeaderKeys(inbound []byte) (ratchet.HeaderDecryptability, *packet.Header, crypto.Nonce) {
	current, next := c.ratchet.ReceiveHeaderKeys()

	if current != nil {
		if header, messageNonce, err := packet.DecryptHeader(inbound, *current); err == nil {
			return ratchet.CurrentDecryptable, header, messageNonce
		}
	}
	if header, messageNonce, err := packet.DecryptHeader(inbound, next); err == nil {
		return ratchet.NextDecryptable, header, messageNonce
	}

	return ratchet.Undecryptable, nil, crypto.Nonce{}
}

// SkippedKeyCount exposes how many skipped message keys are retained.
func (c *Conversation) SkippedKeyCount() int {
	return c.ratchet.SkippedKeys().Len()
}

// Wipe erases the conversation's key material.
func (c *Conversation) Wipe() {
	c.ratchet.Wipe()
}

func (c *Conversation) idPrefix() string {
	return fmt.Sprintf("%x", c.id[:8])
}
