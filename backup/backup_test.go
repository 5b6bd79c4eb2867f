package backup

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/molch/crypto"
)

func testBackupKey(t *testing.T) crypto.BackupKey {
	t.Helper()
	var key crypto.BackupKey
	_, err := rand.Read(key[:])
	require.NoError(t, err)
	return key
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := testBackupKey(t)
	payload := []byte(`{"users":[]}`)

	envelope, err := Seal(payload, TypeFull, key)
	require.NoError(t, err)

	// Envelope layout: version, type, nonce, ciphertext.
	assert.Equal(t, byte(Version), envelope[0])
	assert.Equal(t, byte(TypeFull), envelope[1])

	opened, err := Open(envelope, TypeFull, key)
	require.NoError(t, err)
	assert.Equal(t, payload, opened)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	key := testBackupKey(t)
	envelope, err := Seal([]byte("state"), TypeConversation, key)
	require.NoError(t, err)

	wrongKey := testBackupKey(t)
	_, err = Open(envelope, TypeConversation, wrongKey)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestOpenRejectsWrongVersion(t *testing.T) {
	key := testBackupKey(t)
	envelope, err := Seal([]byte("state"), TypeFull, key)
	require.NoError(t, err)

	envelope[0] = 1
	_, err = Open(envelope, TypeFull, key)
	assert.ErrorIs(t, err, ErrIncorrectData)
}

func TestOpenRejectsMismatchedType(t *testing.T) {
	key := testBackupKey(t)
	envelope, err := Seal([]byte("state"), TypeFull, key)
	require.NoError(t, err)

	_, err = Open(envelope, TypeConversation, key)
	assert.ErrorIs(t, err, ErrIncorrectData)

	envelope[1] = 0x55
	_, err = Open(envelope, TypeFull, key)
	assert.ErrorIs(t, err, ErrIncorrectData)
}

func TestOpenRejectsTruncatedEnvelope(t *testing.T) {
	key := testBackupKey(t)
	_, err := Open([]byte{0, 0, 1}, TypeFull, key)
	assert.ErrorIs(t, err, ErrIncorrectData)
}

func TestSealRequiresKey(t *testing.T) {
	_, err := Seal([]byte("state"), TypeFull, crypto.BackupKey{})
	assert.ErrorIs(t, err, ErrIncorrectData)
}

func TestTypeOf(t *testing.T) {
	key := testBackupKey(t)

	fullEnvelope, err := Seal([]byte("a"), TypeFull, key)
	require.NoError(t, err)
	conversationEnvelope, err := Seal([]byte("b"), TypeConversation, key)
	require.NoError(t, err)

	backupType, err := TypeOf(fullEnvelope)
	require.NoError(t, err)
	assert.Equal(t, TypeFull, backupType)

	backupType, err = TypeOf(conversationEnvelope)
	require.NoError(t, err)
	assert.Equal(t, TypeConversation, backupType)
}
