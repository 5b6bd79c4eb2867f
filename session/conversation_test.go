package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/molch/crypto"
	"github.com/opd-ai/molch/packet"
	"github.com/opd-ai/molch/prekey"
)

// testParty is one side's long-term material for conversation tests.
type testParty struct {
	signing  *crypto.SigningKeyPair
	identity *crypto.KeyPair
	prekeys  *prekey.Store
}

func newTestParty(t *testing.T) *testParty {
	t.Helper()

	signing, err := crypto.GenerateSigningKeyPair()
	require.NoError(t, err)
	identity, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	prekeys, err := prekey.NewStore()
	require.NoError(t, err)

	return &testParty{signing: signing, identity: identity, prekeys: prekeys}
}

func (p *testParty) signedPrekeyList(t *testing.T) []byte {
	t.Helper()

	expiration := crypto.GetDefaultTimeProvider().Now().Add(prekey.ListExpiration)
	list, err := prekey.BuildSignedList(p.identity.Public, p.prekeys.List(), expiration,
		func(data []byte) (crypto.Signature, error) {
			return crypto.Sign(data, p.signing.Private)
		})
	require.NoError(t, err)
	return list
}

// startConversations bootstraps a conversation pair with a first message.
func startConversations(t *testing.T, firstMessage []byte) (aliceConversation, bobConversation *Conversation) {
	t.Helper()

	alice := newTestParty(t)
	bob := newTestParty(t)

	aliceConversation, outbound, err := StartSend(
		firstMessage,
		alice.identity.Private, alice.identity.Public,
		bob.signing.Public, bob.signedPrekeyList(t))
	require.NoError(t, err)
	require.Equal(t, packet.TypePrekey, packet.MessageType(outbound))

	bobConversation, received, err := StartReceive(
		outbound,
		bob.identity.Private, bob.identity.Public,
		bob.prekeys)
	require.NoError(t, err)
	require.Equal(t, firstMessage, received.Message)

	return aliceConversation, bobConversation
}

func TestConversationRoundTrip(t *testing.T) {
	aliceConversation, bobConversation := startConversations(t, []byte("Hi Bob. Alice here!"))

	// Bob replies on his own chain.
	reply := []byte("Welcome Alice!")
	outbound, err := bobConversation.Send(reply)
	require.NoError(t, err)
	assert.Equal(t, packet.TypeNormal, packet.MessageType(outbound))

	received, err := aliceConversation.Receive(outbound)
	require.NoError(t, err)
	assert.Equal(t, reply, received.Message)
	assert.Zero(t, received.MessageNumber)
	assert.Zero(t, received.PreviousMessageNumber)
}

func TestConversationLongExchange(t *testing.T) {
	aliceConversation, bobConversation := startConversations(t, []byte("hello"))

	// Several chain crossovers in a row.
	for round := 0; round < 3; round++ {
		for i := 0; i < 2; i++ {
			outbound, err := bobConversation.Send([]byte("from bob"))
			require.NoError(t, err)
			received, err := aliceConversation.Receive(outbound)
			require.NoError(t, err)
			assert.Equal(t, []byte("from bob"), received.Message)
		}
		for i := 0; i < 2; i++ {
			outbound, err := aliceConversation.Send([]byte("from alice"))
			require.NoError(t, err)
			received, err := bobConversation.Receive(outbound)
			require.NoError(t, err)
			assert.Equal(t, []byte("from alice"), received.Message)
		}
	}
}

func TestConversationOutOfOrder(t *testing.T) {
	aliceConversation, bobConversation := startConversations(t, []byte("bootstrap"))

	var packets [3][]byte
	for i := range packets {
		outbound, err := aliceConversation.Send([]byte{byte('a' + i)})
		require.NoError(t, err)
		packets[i] = outbound
	}

	received, err := bobConversation.Receive(packets[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), received.Message)

	received, err = bobConversation.Receive(packets[2])
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), received.Message)
	assert.Equal(t, 1, bobConversation.SkippedKeyCount())

	// The gap message arrives last, served from the skipped key store.
	received, err = bobConversation.Receive(packets[1])
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), received.Message)
	assert.Zero(t, bobConversation.SkippedKeyCount())
}

func TestConversationTamperRejected(t *testing.T) {
	aliceConversation, bobConversation := startConversations(t, []byte("bootstrap"))

	outbound, err := aliceConversation.Send([]byte("legit"))
	require.NoError(t, err)

	tampered := append([]byte(nil), outbound...)
	tampered[len(tampered)-1] ^= 0x01

	_, err = bobConversation.Receive(tampered)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	// State is untouched: the original packet still decrypts.
	received, err := bobConversation.Receive(outbound)
	require.NoError(t, err)
	assert.Equal(t, []byte("legit"), received.Message)
}

func TestStartReceiveRequiresPrekeyPacket(t *testing.T) {
	aliceConversation, _ := startConversations(t, []byte("bootstrap"))

	normal, err := aliceConversation.Send([]byte("not a prekey message"))
	require.NoError(t, err)

	stranger := newTestParty(t)
	_, _, err = StartReceive(normal, stranger.identity.Private, stranger.identity.Public, stranger.prekeys)
	assert.ErrorIs(t, err, ErrNotPrekeyPacket)
}

func TestStartReceiveConsumesPrekey(t *testing.T) {
	alice := newTestParty(t)
	bob := newTestParty(t)

	_, outbound, err := StartSend(
		[]byte("first"),
		alice.identity.Private, alice.identity.Public,
		bob.signing.Public, bob.signedPrekeyList(t))
	require.NoError(t, err)

	metadata, err := packet.GetMetadata(outbound)
	require.NoError(t, err)
	usedPrekey := metadata.Prekey.ReceiverPrekey
	require.True(t, bob.prekeys.Contains(usedPrekey))

	_, _, err = StartReceive(outbound, bob.identity.Private, bob.identity.Public, bob.prekeys)
	require.NoError(t, err)

	// The consumed prekey left the active pool.
	assert.False(t, bob.prekeys.Contains(usedPrekey))
	assert.Contains(t, bob.prekeys.DeprecatedPublicKeys(), usedPrekey)
}

func TestStartSendRejectsExpiredList(t *testing.T) {
	alice := newTestParty(t)
	bob := newTestParty(t)

	expired := time.Unix(1000000, 0)
	list, err := prekey.BuildSignedList(bob.identity.Public, bob.prekeys.List(), expired,
		func(data []byte) (crypto.Signature, error) {
			return crypto.Sign(data, bob.signing.Private)
		})
	require.NoError(t, err)

	_, _, err = StartSend([]byte("late"), alice.identity.Private, alice.identity.Public, bob.signing.Public, list)
	assert.ErrorIs(t, err, prekey.ErrOutdatedList)
}

func TestConversationSnapshotRoundTrip(t *testing.T) {
	aliceConversation, bobConversation := startConversations(t, []byte("bootstrap"))

	snapshot := bobConversation.Export()
	restored, err := Import(snapshot)
	require.NoError(t, err)
	assert.Equal(t, snapshot, restored.Export())
	assert.True(t, restored.ID().Equal(bobConversation.ID()))

	// The restored conversation continues where the original left off.
	outbound, err := aliceConversation.Send([]byte("to the restored copy"))
	require.NoError(t, err)
	received, err := restored.Receive(outbound)
	require.NoError(t, err)
	assert.Equal(t, []byte("to the restored copy"), received.Message)
}
