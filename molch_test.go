package molch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/molch/backup"
	"github.com/opd-ai/molch/crypto"
)

func newTestLibrary(t *testing.T) *Library {
	t.Helper()

	library, err := New(NewOptions())
	require.NoError(t, err)
	t.Cleanup(library.Close)
	return library
}

// twoUsers creates Alice (seeded) and Bob and returns their ids.
func twoUsers(t *testing.T, library *Library) (alice, bob *CreateUserResult) {
	t.Helper()

	alice, err := library.CreateUser([]byte("mn ujkhuzn7b7bzh6ujg7j8hn"))
	require.NoError(t, err)
	bob, err = library.CreateUser(nil)
	require.NoError(t, err)
	return alice, bob
}

func TestSimpleRoundTrip(t *testing.T) {
	library := newTestLibrary(t)
	alice, bob := twoUsers(t, library)

	// Alice -> Bob: the first message travels as a prekey packet.
	started, err := library.StartSendConversation(
		alice.UserID, bob.UserID, bob.PrekeyList, []byte("Hi Bob. Alice here!"))
	require.NoError(t, err)
	assert.Equal(t, MessageTypePrekey, GetMessageType(started.Packet))

	receiveResult, err := library.StartReceiveConversation(bob.UserID, alice.UserID, started.Packet)
	require.NoError(t, err)
	assert.Equal(t, []byte("Hi Bob. Alice here!"), receiveResult.Message)
	assert.NotEmpty(t, receiveResult.PrekeyList)

	// Bob -> Alice: normal packet on the established conversation.
	reply, _, err := library.EncryptMessage(receiveResult.ConversationID, []byte("Welcome Alice!"))
	require.NoError(t, err)
	assert.Equal(t, MessageTypeNormal, GetMessageType(reply))

	decrypted, err := library.DecryptMessage(started.ConversationID, reply)
	require.NoError(t, err)
	assert.Equal(t, []byte("Welcome Alice!"), decrypted.Message)
	assert.Zero(t, decrypted.MessageNumber)
	assert.Zero(t, decrypted.PreviousMessageNumber)
}

func TestOutOfOrderDelivery(t *testing.T) {
	library := newTestLibrary(t)
	alice, bob := twoUsers(t, library)

	started, err := library.StartSendConversation(alice.UserID, bob.UserID, bob.PrekeyList, []byte("start"))
	require.NoError(t, err)
	receiveResult, err := library.StartReceiveConversation(bob.UserID, alice.UserID, started.Packet)
	require.NoError(t, err)

	var packets [3][]byte
	for i := range packets {
		packets[i], _, err = library.EncryptMessage(started.ConversationID, []byte{byte('0' + i)})
		require.NoError(t, err)
	}

	// Deliver 0, then 2, then the gap message 1.
	decrypted, err := library.DecryptMessage(receiveResult.ConversationID, packets[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("0"), decrypted.Message)

	decrypted, err = library.DecryptMessage(receiveResult.ConversationID, packets[2])
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), decrypted.Message)

	decrypted, err = library.DecryptMessage(receiveResult.ConversationID, packets[1])
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), decrypted.Message)
}

func TestDHRatchetCrossover(t *testing.T) {
	library := newTestLibrary(t)
	alice, bob := twoUsers(t, library)

	started, err := library.StartSendConversation(alice.UserID, bob.UserID, bob.PrekeyList, []byte("m0"))
	require.NoError(t, err)
	receiveResult, err := library.StartReceiveConversation(bob.UserID, alice.UserID, started.Packet)
	require.NoError(t, err)

	// Several crossovers; every plaintext must survive its round trip.
	conversationAlice := started.ConversationID
	conversationBob := receiveResult.ConversationID
	for round := 0; round < 3; round++ {
		outbound, _, err := library.EncryptMessage(conversationBob, []byte("from bob"))
		require.NoError(t, err)
		decrypted, err := library.DecryptMessage(conversationAlice, outbound)
		require.NoError(t, err)
		assert.Equal(t, []byte("from bob"), decrypted.Message)

		outbound, _, err = library.EncryptMessage(conversationAlice, []byte("from alice"))
		require.NoError(t, err)
		decrypted, err = library.DecryptMessage(conversationBob, outbound)
		require.NoError(t, err)
		assert.Equal(t, []byte("from alice"), decrypted.Message)
	}
}

func TestTamperedPacketRejected(t *testing.T) {
	library := newTestLibrary(t)
	alice, bob := twoUsers(t, library)

	started, err := library.StartSendConversation(alice.UserID, bob.UserID, bob.PrekeyList, []byte("start"))
	require.NoError(t, err)
	receiveResult, err := library.StartReceiveConversation(bob.UserID, alice.UserID, started.Packet)
	require.NoError(t, err)

	outbound, _, err := library.EncryptMessage(started.ConversationID, []byte("untampered"))
	require.NoError(t, err)

	// Flip the last byte of the message ciphertext region.
	tampered := append([]byte(nil), outbound...)
	tampered[len(tampered)-1] ^= 0x01

	_, err = library.DecryptMessage(receiveResult.ConversationID, tampered)
	assert.ErrorIs(t, err, ErrDecrypt)

	// Post-state equals pre-state: the untampered packet still decrypts.
	decrypted, err := library.DecryptMessage(receiveResult.ConversationID, outbound)
	require.NoError(t, err)
	assert.Equal(t, []byte("untampered"), decrypted.Message)
}

func TestFullBackupRoundTrip(t *testing.T) {
	library := newTestLibrary(t)
	alice, bob := twoUsers(t, library)

	started, err := library.StartSendConversation(alice.UserID, bob.UserID, bob.PrekeyList, []byte("persisted"))
	require.NoError(t, err)
	_, err = library.StartReceiveConversation(bob.UserID, alice.UserID, started.Packet)
	require.NoError(t, err)

	// The backup key handed out at user creation is the sealing key.
	keyZero := bob.BackupKey
	envelope, err := library.ExportFull()
	require.NoError(t, err)

	// Rotating afterwards yields a different key and does not affect the
	// already-sealed envelope.
	keyOne, err := library.UpdateBackupKey()
	require.NoError(t, err)
	assert.False(t, keyOne.Equal(keyZero))

	// Import into a fresh library instance with the key from export time.
	restoredLibrary, err := New(NewOptions())
	require.NoError(t, err)
	t.Cleanup(restoredLibrary.Close)

	importKey, err := restoredLibrary.ImportFull(envelope, keyZero)
	require.NoError(t, err)
	assert.False(t, importKey.Equal(keyZero))

	// The serialized payloads match byte for byte.
	originalPayload, err := backup.Open(envelope, backup.TypeFull, keyZero)
	require.NoError(t, err)
	secondEnvelope, err := restoredLibrary.ExportFull()
	require.NoError(t, err)
	restoredPayload, err := backup.Open(secondEnvelope, backup.TypeFull, importKey)
	require.NoError(t, err)
	assert.Equal(t, originalPayload, restoredPayload)

	// The restored library is functional.
	users := restoredLibrary.ListUsers()
	assert.Len(t, users, 2)
	conversations, err := restoredLibrary.ListConversations(alice.UserID)
	require.NoError(t, err)
	assert.Len(t, conversations, 1)
}

func TestImportWithWrongKeyFails(t *testing.T) {
	library := newTestLibrary(t)
	twoUsers(t, library)

	envelope, err := library.ExportFull()
	require.NoError(t, err)

	var wrongKey crypto.BackupKey
	wrongKey[0] = 0x01
	_, err = library.ImportFull(envelope, wrongKey)
	assert.ErrorIs(t, err, ErrDecrypt)

	// The failed import left the state alone.
	assert.Equal(t, 2, library.UserCount())
}

func TestImportRejectsCorruptEnvelope(t *testing.T) {
	library := newTestLibrary(t)
	alice, _ := twoUsers(t, library)

	envelope, err := library.ExportFull()
	require.NoError(t, err)

	corrupted := append([]byte(nil), envelope...)
	corrupted[0] = 7 // unknown backup version
	_, err = library.ImportFull(corrupted, alice.BackupKey)
	assert.ErrorIs(t, err, ErrIncorrectData)

	// A truncated envelope is rejected as well.
	_, err = library.ImportFull(envelope[:2], alice.BackupKey)
	assert.ErrorIs(t, err, ErrIncorrectData)
}

func TestConversationBackupRoundTrip(t *testing.T) {
	library := newTestLibrary(t)
	alice, bob := twoUsers(t, library)

	started, err := library.StartSendConversation(alice.UserID, bob.UserID, bob.PrekeyList, []byte("start"))
	require.NoError(t, err)
	receiveResult, err := library.StartReceiveConversation(bob.UserID, alice.UserID, started.Packet)
	require.NoError(t, err)

	envelope, err := library.ExportConversation(receiveResult.ConversationID)
	require.NoError(t, err)

	currentKey := bob.BackupKey
	newKey, err := library.ImportConversation(envelope, currentKey)
	require.NoError(t, err)
	assert.False(t, newKey.Equal(currentKey))

	// The conversation is still there (replaced in place) and working.
	outbound, _, err := library.EncryptMessage(started.ConversationID, []byte("after import"))
	require.NoError(t, err)
	decrypted, err := library.DecryptMessage(receiveResult.ConversationID, outbound)
	require.NoError(t, err)
	assert.Equal(t, []byte("after import"), decrypted.Message)
}

func TestUserLifecycle(t *testing.T) {
	library := newTestLibrary(t)
	alice, bob := twoUsers(t, library)

	assert.Equal(t, 2, library.UserCount())

	users := library.ListUsers()
	require.Len(t, users, 2)
	assert.True(t, users[0].Equal(alice.UserID))
	assert.True(t, users[1].Equal(bob.UserID))

	prekeyList, err := library.GetPrekeyList(bob.UserID)
	require.NoError(t, err)
	assert.NotEmpty(t, prekeyList)

	_, err = library.DestroyUser(alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, 1, library.UserCount())
	_, err = library.DestroyUser(alice.UserID)
	assert.ErrorIs(t, err, ErrNotFound)

	library.DestroyAllUsers()
	assert.Zero(t, library.UserCount())
}

func TestEndConversation(t *testing.T) {
	library := newTestLibrary(t)
	alice, bob := twoUsers(t, library)

	started, err := library.StartSendConversation(alice.UserID, bob.UserID, bob.PrekeyList, []byte("short lived"))
	require.NoError(t, err)

	conversations, err := library.ListConversations(alice.UserID)
	require.NoError(t, err)
	require.Len(t, conversations, 1)

	_, err = library.EndConversation(started.ConversationID)
	require.NoError(t, err)

	conversations, err = library.ListConversations(alice.UserID)
	require.NoError(t, err)
	assert.Empty(t, conversations)

	_, err = library.EndConversation(started.ConversationID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartSendRejectsBadPrekeyList(t *testing.T) {
	library := newTestLibrary(t)
	alice, bob := twoUsers(t, library)

	tampered := append([]byte(nil), bob.PrekeyList...)
	tampered[0] ^= 0x01
	_, err := library.StartSendConversation(alice.UserID, bob.UserID, tampered, []byte("hello"))
	assert.ErrorIs(t, err, ErrVerify)

	_, err = library.StartSendConversation(alice.UserID, bob.UserID, bob.PrekeyList[:100], []byte("hello"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	var unknown crypto.SigningPublicKey
	unknown[0] = 0xAB
	_, err = library.StartSendConversation(unknown, bob.UserID, bob.PrekeyList, []byte("hello"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetMessageType(t *testing.T) {
	library := newTestLibrary(t)
	alice, bob := twoUsers(t, library)

	started, err := library.StartSendConversation(alice.UserID, bob.UserID, bob.PrekeyList, []byte("typed"))
	require.NoError(t, err)

	assert.Equal(t, MessageTypePrekey, GetMessageType(started.Packet))
	assert.Equal(t, MessageTypeInvalid, GetMessageType([]byte("garbage")))
	assert.Equal(t, MessageTypeInvalid, GetMessageType(nil))
}

func TestAutoBackupOption(t *testing.T) {
	options := NewOptions()
	options.AutoBackup = true
	library, err := New(options)
	require.NoError(t, err)
	t.Cleanup(library.Close)

	alice, err := library.CreateUser(nil)
	require.NoError(t, err)
	assert.NotEmpty(t, alice.Backup)

	bob, err := library.CreateUser(nil)
	require.NoError(t, err)

	started, err := library.StartSendConversation(alice.UserID, bob.UserID, bob.PrekeyList, []byte("hi"))
	require.NoError(t, err)
	assert.NotEmpty(t, started.Backup)

	receiveResult, err := library.StartReceiveConversation(bob.UserID, alice.UserID, started.Packet)
	require.NoError(t, err)
	assert.NotEmpty(t, receiveResult.Backup)

	outbound, conversationBackup, err := library.EncryptMessage(started.ConversationID, []byte("msg"))
	require.NoError(t, err)
	assert.NotEmpty(t, conversationBackup)

	decrypted, err := library.DecryptMessage(receiveResult.ConversationID, outbound)
	require.NoError(t, err)
	assert.NotEmpty(t, decrypted.Backup)
}

func TestExportWithoutBackupKeyFails(t *testing.T) {
	library := newTestLibrary(t)

	// No user was ever created, so no backup key exists yet.
	_, err := library.ExportFull()
	assert.ErrorIs(t, err, ErrIncorrectData)
}
