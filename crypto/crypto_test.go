package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAEADRoundTrip(t *testing.T) {
	var key HeaderKey
	for i := range key {
		key[i] = byte(i + 3)
	}
	nonce, err := GenerateNonce()
	require.NoError(t, err)

	plaintext := []byte("axolotl header contents")
	additionalData := []byte{0, 0, 0, 0, 0, 0, 0, 0, 2}

	ciphertext, err := AEADSeal(plaintext, additionalData, nonce, key)
	require.NoError(t, err)
	assert.Equal(t, len(plaintext)+AEADOverhead, len(ciphertext))

	opened, err := AEADOpen(ciphertext, additionalData, nonce, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestAEADRejectsTampering(t *testing.T) {
	var key HeaderKey
	key[0] = 1
	nonce, err := GenerateNonce()
	require.NoError(t, err)

	ciphertext, err := AEADSeal([]byte("payload"), []byte("metadata"), nonce, key)
	require.NoError(t, err)

	tampered := append([]byte(nil), ciphertext...)
	tampered[len(tampered)-1] ^= 0x01
	_, err = AEADOpen(tampered, []byte("metadata"), nonce, key)
	assert.Error(t, err)

	// Mismatched additional data must also fail.
	_, err = AEADOpen(ciphertext, []byte("different"), nonce, key)
	assert.Error(t, err)
}

func TestSecretboxRoundTrip(t *testing.T) {
	var key MessageKey
	key[31] = 0x7F
	nonce, err := GenerateNonce()
	require.NoError(t, err)

	message := []byte("secret message body")
	ciphertext, err := SecretboxSeal(message, nonce, key)
	require.NoError(t, err)

	opened, err := SecretboxOpen(ciphertext, nonce, key)
	require.NoError(t, err)
	assert.Equal(t, message, opened)

	ciphertext[3] ^= 0xFF
	_, err = SecretboxOpen(ciphertext, nonce, key)
	assert.Error(t, err)
}

func TestSignAndVerify(t *testing.T) {
	pair, err := GenerateSigningKeyPair()
	require.NoError(t, err)

	message := []byte("prekey list payload")
	signature, err := Sign(message, pair.Private)
	require.NoError(t, err)

	assert.True(t, Verify(message, signature, pair.Public))

	signature[0] ^= 0x01
	assert.False(t, Verify(message, signature, pair.Public))
}

func TestSigningKeyPairFromSeed(t *testing.T) {
	seed := bytes.Repeat([]byte{0x11}, 32)

	first, err := SigningKeyPairFromSeed(seed)
	require.NoError(t, err)
	second, err := SigningKeyPairFromSeed(seed)
	require.NoError(t, err)

	assert.True(t, first.Public.Equal(second.Public))

	_, err = SigningKeyPairFromSeed(seed[:16])
	assert.Error(t, err)
}

func TestSpicedRandom(t *testing.T) {
	spice := []byte("mn ujkhuzn7b7bzh6ujg7j8hn")

	first, err := SpicedRandom(spice, 64)
	require.NoError(t, err)
	assert.Len(t, first, 64)

	second, err := SpicedRandom(spice, 64)
	require.NoError(t, err)

	// Fresh OS randomness and salt go into every call.
	assert.NotEqual(t, first, second)

	_, err = SpicedRandom(nil, 64)
	assert.Error(t, err)
}

func TestRandomUniform(t *testing.T) {
	for i := 0; i < 100; i++ {
		value, err := RandomUniform(100)
		require.NoError(t, err)
		assert.Less(t, value, uint32(100))
	}

	value, err := RandomUniform(1)
	require.NoError(t, err)
	assert.Zero(t, value)

	_, err = RandomUniform(0)
	assert.Error(t, err)
}

func TestSecureWipe(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	require.NoError(t, SecureWipe(data))
	assert.Equal(t, []byte{0, 0, 0, 0}, data)

	assert.Error(t, SecureWipe(nil))
}

func TestKeyEquality(t *testing.T) {
	var a, b RootKey
	a[5] = 1
	b[5] = 1
	assert.True(t, a.Equal(b))

	b[5] = 2
	assert.False(t, a.Equal(b))

	assert.False(t, a.IsZero())
	a.Wipe()
	assert.True(t, a.IsZero())
}
