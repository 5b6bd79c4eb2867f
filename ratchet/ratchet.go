package ratchet

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/molch/crypto"
	"github.com/opd-ai/molch/kex"
)

// HeaderDecryptability records which receive header key decrypted the last
// inbound header, set by the caller before Receive.
type HeaderDecryptability uint8

const (
	// NotTried means no header decryption attempt has been reported yet.
	NotTried HeaderDecryptability = iota
	// CurrentDecryptable means the current receive header key worked.
	CurrentDecryptable
	// NextDecryptable means the next receive header key worked, which
	// signals a Diffie-Hellman ratchet step by the peer.
	NextDecryptable
	// Undecryptable means neither header key worked.
	Undecryptable
)

var (
	// ErrDecryptionFailed is returned when a receive transaction cannot
	// derive a message key for the advertised header.
	ErrDecryptionFailed = errors.New("ratchet: decryption failed")
	// ErrNoPendingReceive is returned when an authenticity verdict arrives
	// without a receive transaction in flight.
	ErrNoPendingReceive = errors.New("ratchet: no pending receive transaction")
	// ErrReceiveInProgress is returned when a new receive starts before the
	// previous transaction got its authenticity verdict.
	ErrReceiveInProgress = errors.New("ratchet: previous receive transaction still open")
	// ErrHeaderDecryptabilityNotSet is returned when Receive is called
	// before SetHeaderDecryptability.
	ErrHeaderDecryptabilityNotSet = errors.New("ratchet: header decryptability not set")
)

// SendKeys is everything needed to encrypt and frame one outbound message.
type SendKeys struct {
	HeaderKey             crypto.HeaderKey
	MessageKey            crypto.MessageKey
	MessageNumber         uint32
	PreviousMessageNumber uint32
	OurPublicEphemeral    crypto.PublicKey
}

// purportedState holds receive-side results until the payload has been
// authenticated. It mirrors the committed fields it would replace.
type purportedState struct {
	rootKey              crypto.RootKey
	nextReceiveHeaderKey crypto.HeaderKey
	receiveChainKey      crypto.ChainKey
	theirPublicEphemeral crypto.PublicKey

	messageNumber         uint32
	previousMessageNumber uint32
}

func (p *purportedState) wipe() {
	p.rootKey.Wipe()
	p.nextReceiveHeaderKey.Wipe()
	p.receiveChainKey.Wipe()
	*p = purportedState{}
}

// Ratchet is the double ratchet state machine for one conversation side.
// It is not safe for concurrent use.
type Ratchet struct {
	role kex.Role

	rootKey crypto.RootKey

	sendHeaderKey        *crypto.HeaderKey
	receiveHeaderKey     *crypto.HeaderKey
	nextSendHeaderKey    crypto.HeaderKey
	nextReceiveHeaderKey crypto.HeaderKey

	sendChainKey    *crypto.ChainKey
	receiveChainKey *crypto.ChainKey

	ourPublicIdentity   crypto.PublicKey
	theirPublicIdentity crypto.PublicKey

	ourPrivateEphemeral  crypto.PrivateKey
	ourPublicEphemeral   crypto.PublicKey
	theirPublicEphemeral crypto.PublicKey

	sendMessageNumber     uint32 // Ns
	receiveMessageNumber  uint32 // Nr
	previousMessageNumber uint32 // PNs

	ratchetFlag       bool
	receivedValid     bool
	headerDecryptable HeaderDecryptability

	purported purportedState

	skippedKeys *KeyStore
	stagedKeys  *KeyStore
}

// New derives the initial key set for a conversation and returns a fresh
// ratchet. Alice is the sender of the first prekey message; her ephemeral
// is the one generated for the triple DH and their ephemeral is Bob's
// prekey. For Bob the roles of the ephemerals are mirrored. The private
// identity key is only used for the initial derivation and not retained.
func New(
	role kex.Role,
	ourPrivateIdentity crypto.PrivateKey,
	ourPublicIdentity crypto.PublicKey,
	theirPublicIdentity crypto.PublicKey,
	ourPrivateEphemeral crypto.PrivateKey,
	ourPublicEphemeral crypto.PublicKey,
	theirPublicEphemeral crypto.PublicKey,
) (*Ratchet, error) {
	initial, err := kex.DeriveInitialKeys(
		role,
		ourPrivateIdentity, ourPublicIdentity,
		ourPrivateEphemeral, ourPublicEphemeral,
		theirPublicIdentity, theirPublicEphemeral)
	if err != nil {
		return nil, err
	}

	ratchet := &Ratchet{
		role:                 role,
		rootKey:              initial.RootKey,
		sendHeaderKey:        initial.SendHeaderKey,
		receiveHeaderKey:     initial.ReceiveHeaderKey,
		nextSendHeaderKey:    initial.NextSendHeaderKey,
		nextReceiveHeaderKey: initial.NextReceiveHeaderKey,
		sendChainKey:         initial.SendChainKey,
		receiveChainKey:      initial.ReceiveChainKey,
		ourPublicIdentity:    ourPublicIdentity,
		theirPublicIdentity:  theirPublicIdentity,
		ourPrivateEphemeral:  ourPrivateEphemeral,
		ourPublicEphemeral:   ourPublicEphemeral,
		theirPublicEphemeral: theirPublicEphemeral,
		// Alice has no send chain yet; her first send performs the DH
		// ratchet step against Bob's prekey.
		ratchetFlag:       role == kex.RoleAlice,
		receivedValid:     true,
		headerDecryptable: NotTried,
		skippedKeys:       NewKeyStore(),
		stagedKeys:        NewKeyStore(),
	}

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"package":  "ratchet",
		"role":     role.String(),
	}).Debug("Initialized ratchet state")

	return ratchet, nil
}

// Role returns the side of the conversation this ratchet plays.
func (r *Ratchet) Role() kex.Role { return r.role }

// OurPublicIdentity returns the long-term identity key this ratchet was
// initialized with; used to locate the owning user when importing a
// conversation backup.
func (r *Ratchet) OurPublicIdentity() crypto.PublicKey { return r.ourPublicIdentity }

// SkippedKeys exposes the retained keys of messages that have not arrived
// yet. The conversation layer probes it before running a receive
// transaction.
func (r *Ratchet) SkippedKeys() *KeyStore { return r.skippedKeys }

// Send derives the keys and metadata for the next outbound message. If a
// message was received on a new chain since the last send, a Diffie-Hellman
// ratchet step runs first.
func (r *Ratchet) Send() (*SendKeys, error) {
	if r.ratchetFlag {
		if err := r.stepSendChain(); err != nil {
			return nil, err
		}
	}

	if r.sendChainKey == nil || r.sendHeaderKey == nil {
		return nil, errors.New("ratchet: send chain not initialized")
	}

	messageKey, err := r.sendChainKey.DeriveMessageKey()
	if err != nil {
		return nil, err
	}

	keys := &SendKeys{
		HeaderKey:             *r.sendHeaderKey,
		MessageKey:            messageKey,
		MessageNumber:         r.sendMessageNumber,
		PreviousMessageNumber: r.previousMessageNumber,
		OurPublicEphemeral:    r.ourPublicEphemeral,
	}

	next, err := r.sendChainKey.Next()
	if err != nil {
		return nil, err
	}
	r.sendChainKey.Wipe()
	*r.sendChainKey = next
	r.sendMessageNumber++

	return keys, nil
}

// stepSendChain performs the Diffie-Hellman ratchet step before a send:
// fresh ephemeral, HKs from NHKs, new root/next-header/chain keys.
func (r *Ratchet) stepSendChain() error {
	ephemeral, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}

	r.previousMessageNumber = r.sendMessageNumber
	r.sendMessageNumber = 0

	headerKey := r.nextSendHeaderKey
	r.sendHeaderKey = &headerKey

	stepped, err := kex.DeriveRootNextHeaderAndChainKeys(
		r.role, r.rootKey,
		ephemeral.Private, ephemeral.Public,
		r.theirPublicEphemeral)
	if err != nil {
		return err
	}

	r.rootKey.Wipe()
	r.rootKey = stepped.RootKey
	r.nextSendHeaderKey = stepped.NextHeaderKey
	if r.sendChainKey == nil {
		r.sendChainKey = &crypto.ChainKey{}
	}
	r.sendChainKey.Wipe()
	*r.sendChainKey = stepped.ChainKey

	r.ourPrivateEphemeral.Wipe()
	r.ourPrivateEphemeral = ephemeral.Private
	r.ourPublicEphemeral = ephemeral.Public
	r.ratchetFlag = false

	logrus.WithFields(logrus.Fields{
		"function": "stepSendChain",
		"package":  "ratchet",
		"role":     r.role.String(),
	}).Debug("Performed DH ratchet step for sending")

	return nil
}

// ReceiveHeaderKeys returns the current and next receive header keys so the
// caller can attempt header decryption. The current key is nil on Bob's side
// until his first received message is committed.
func (r *Ratchet) ReceiveHeaderKeys() (current *crypto.HeaderKey, next crypto.HeaderKey) {
	if r.receiveHeaderKey != nil {
		copied := *r.receiveHeaderKey
		current = &copied
	}
	return current, r.nextReceiveHeaderKey
}

// SetHeaderDecryptability records the outcome of the caller's header
// decryption attempts. Must be called before Receive.
func (r *Ratchet) SetHeaderDecryptability(decryptability HeaderDecryptability) error {
	if decryptability == NotTried {
		return errors.New("ratchet: cannot set header decryptability to not tried")
	}
	r.headerDecryptable = decryptability
	return nil
}

// Receive derives the message key for an inbound message into the staging
// area. Committed state is not touched; the caller attempts payload
// decryption with the returned key and reports the outcome through
// SetLastMessageAuthenticity.
func (r *Ratchet) Receive(theirPublicEphemeral crypto.PublicKey, messageNumber, previousMessageNumber uint32) (crypto.MessageKey, error) {
	var messageKey crypto.MessageKey

	if !r.receivedValid {
		return messageKey, ErrReceiveInProgress
	}

	switch r.headerDecryptable {
	case CurrentDecryptable:
		derived, err := r.receiveCurrentChain(messageNumber)
		if err != nil {
			r.abortReceive()
			return messageKey, err
		}
		messageKey = derived
		r.purported.theirPublicEphemeral = r.theirPublicEphemeral

	case NextDecryptable:
		derived, err := r.receiveNextChain(theirPublicEphemeral, messageNumber, previousMessageNumber)
		if err != nil {
			r.abortReceive()
			return messageKey, err
		}
		messageKey = derived
		r.purported.theirPublicEphemeral = theirPublicEphemeral

	case NotTried:
		return messageKey, ErrHeaderDecryptabilityNotSet

	default:
		r.abortReceive()
		return messageKey, ErrDecryptionFailed
	}

	r.purported.messageNumber = messageNumber
	r.purported.previousMessageNumber = previousMessageNumber
	r.receivedValid = false

	return messageKey, nil
}

// receiveCurrentChain handles a message on the current receive chain:
// stage the keys of any skipped messages, then derive the message key at
// the purported position.
func (r *Ratchet) receiveCurrentChain(messageNumber uint32) (crypto.MessageKey, error) {
	var messageKey crypto.MessageKey

	if r.receiveChainKey == nil || r.receiveHeaderKey == nil {
		return messageKey, ErrDecryptionFailed
	}
	if messageNumber < r.receiveMessageNumber {
		// Already consumed; out-of-order delivery is served from the
		// skipped key store, not from the chain.
		return messageKey, ErrDecryptionFailed
	}

	chain, err := r.stageMessageKeys(*r.receiveHeaderKey, *r.receiveChainKey, r.receiveMessageNumber, messageNumber)
	if err != nil {
		return messageKey, err
	}

	if messageKey, err = chain.DeriveMessageKey(); err != nil {
		return messageKey, err
	}
	if chain, err = chain.Next(); err != nil {
		return messageKey, err
	}
	r.purported.receiveChainKey = chain

	return messageKey, nil
}

// receiveNextChain handles the first message of a new receive chain: stage
// the remainder of the current chain, run a purported DH ratchet step and
// derive the message key from the purported chain.
func (r *Ratchet) receiveNextChain(theirPublicEphemeral crypto.PublicKey, messageNumber, previousMessageNumber uint32) (crypto.MessageKey, error) {
	var messageKey crypto.MessageKey

	// Close out the current chain up to the peer's previous message count.
	if r.receiveChainKey != nil && r.receiveHeaderKey != nil && previousMessageNumber > r.receiveMessageNumber {
		if _, err := r.stageMessageKeys(*r.receiveHeaderKey, *r.receiveChainKey, r.receiveMessageNumber, previousMessageNumber); err != nil {
			return messageKey, err
		}
	}

	stepped, err := kex.DeriveRootNextHeaderAndChainKeys(
		r.role, r.rootKey,
		r.ourPrivateEphemeral, r.ourPublicEphemeral,
		theirPublicEphemeral)
	if err != nil {
		return messageKey, err
	}
	r.purported.rootKey = stepped.RootKey
	r.purported.nextReceiveHeaderKey = stepped.NextHeaderKey

	// Skipped messages at the start of the new chain are staged under the
	// header key the peer used for it.
	chain, err := r.stageMessageKeys(r.nextReceiveHeaderKey, stepped.ChainKey, 0, messageNumber)
	if err != nil {
		return messageKey, err
	}

	if messageKey, err = chain.DeriveMessageKey(); err != nil {
		return messageKey, err
	}
	if chain, err = chain.Next(); err != nil {
		return messageKey, err
	}
	r.purported.receiveChainKey = chain

	return messageKey, nil
}

// stageMessageKeys derives the message keys for positions [from, to) into
// the staging area and returns the chain key at position to.
func (r *Ratchet) stageMessageKeys(headerKey crypto.HeaderKey, chain crypto.ChainKey, from, to uint32) (crypto.ChainKey, error) {
	if to < from || to-from > MaxKeys {
		return chain, ErrDecryptionFailed
	}

	for position := from; position < to; position++ {
		messageKey, err := chain.DeriveMessageKey()
		if err != nil {
			return chain, err
		}
		r.stagedKeys.Add(headerKey, messageKey)

		if chain, err = chain.Next(); err != nil {
			return chain, err
		}
	}

	return chain, nil
}

// abortReceive drops all staging state after a failed key derivation. The
// committed state is untouched.
func (r *Ratchet) abortReceive() {
	r.stagedKeys.Clear()
	r.purported.wipe()
	r.headerDecryptable = NotTried
	r.receivedValid = true
}

// SetLastMessageAuthenticity closes the receive transaction. On a valid
// message the staged keys and the purported state are committed; otherwise
// everything staged is discarded and the ratchet is exactly as it was
// before Receive.
func (r *Ratchet) SetLastMessageAuthenticity(valid bool) error {
	if r.receivedValid {
		// No transaction in flight (the receive already failed and
		// cleaned up after itself).
		r.headerDecryptable = NotTried
		return nil
	}

	if !valid {
		r.abortReceive()
		return nil
	}

	r.skippedKeys.Merge(r.stagedKeys)

	switch r.headerDecryptable {
	case NextDecryptable:
		r.rootKey.Wipe()
		r.rootKey = r.purported.rootKey

		// The header decrypted under NHKr, so that key becomes current and
		// the purported successor takes its place.
		headerKey := r.nextReceiveHeaderKey
		r.receiveHeaderKey = &headerKey
		r.nextReceiveHeaderKey = r.purported.nextReceiveHeaderKey

		if r.receiveChainKey == nil {
			r.receiveChainKey = &crypto.ChainKey{}
		}
		r.receiveChainKey.Wipe()
		*r.receiveChainKey = r.purported.receiveChainKey

		r.theirPublicEphemeral = r.purported.theirPublicEphemeral
		r.receiveMessageNumber = r.purported.messageNumber + 1
		// The send-side counters are reset by the DH ratchet step of the
		// next send; resetting them here as well would zero the previous
		// chain length before it ever goes into a header.
		r.ratchetFlag = true

	case CurrentDecryptable:
		if r.receiveChainKey == nil {
			r.receiveChainKey = &crypto.ChainKey{}
		}
		r.receiveChainKey.Wipe()
		*r.receiveChainKey = r.purported.receiveChainKey
		r.receiveMessageNumber = r.purported.messageNumber + 1

	default:
		r.abortReceive()
		return ErrNoPendingReceive
	}

	r.purported = purportedState{}
	r.headerDecryptable = NotTried
	r.receivedValid = true

	return nil
}

// Wipe erases all key material held by the ratchet.
func (r *Ratchet) Wipe() {
	r.rootKey.Wipe()
	if r.sendHeaderKey != nil {
		r.sendHeaderKey.Wipe()
	}
	if r.receiveHeaderKey != nil {
		r.receiveHeaderKey.Wipe()
	}
	r.nextSendHeaderKey.Wipe()
	r.nextReceiveHeaderKey.Wipe()
	if r.sendChainKey != nil {
		r.sendChainKey.Wipe()
	}
	if r.receiveChainKey != nil {
		r.receiveChainKey.Wipe()
	}
	r.ourPrivateEphemeral.Wipe()
	r.purported.wipe()
	r.skippedKeys.Clear()
	r.stagedKeys.Clear()
}
