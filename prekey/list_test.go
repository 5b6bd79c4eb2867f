package prekey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/molch/crypto"
)

func signedListFixture(t *testing.T) ([]byte, *crypto.SigningKeyPair, crypto.PublicKey, time.Time) {
	t.Helper()

	signer, err := crypto.GenerateSigningKeyPair()
	require.NoError(t, err)
	identity, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	store, err := NewStore()
	require.NoError(t, err)

	now := time.Unix(1700000000, 0)
	expiration := now.Add(ListExpiration)

	list, err := BuildSignedList(identity.Public, store.List(), expiration,
		func(data []byte) (crypto.Signature, error) {
			return crypto.Sign(data, signer.Private)
		})
	require.NoError(t, err)

	return list, signer, identity.Public, now
}

func TestSignedListRoundTrip(t *testing.T) {
	list, signer, identity, now := signedListFixture(t)
	require.Len(t, list, SignedListSize)

	parsed, err := VerifySignedList(list, signer.Public, now)
	require.NoError(t, err)
	assert.True(t, parsed.IdentityKey.Equal(identity))
	assert.False(t, parsed.PublicKey(0).IsZero())
	assert.False(t, parsed.PublicKey(Amount-1).IsZero())
}

func TestSignedListRejectsTampering(t *testing.T) {
	list, signer, _, now := signedListFixture(t)

	tests := []struct {
		name   string
		offset int
	}{
		{name: "identity key", offset: 0},
		{name: "prekey", offset: crypto.PublicKeySize + 5},
		{name: "expiration", offset: crypto.PublicKeySize + ListSize},
		{name: "signature", offset: SignedListSize - 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tampered := append([]byte(nil), list...)
			tampered[tt.offset] ^= 0x01
			_, err := VerifySignedList(tampered, signer.Public, now)
			assert.ErrorIs(t, err, ErrVerificationFailed)
		})
	}
}

func TestSignedListRejectsWrongSigner(t *testing.T) {
	list, _, _, now := signedListFixture(t)

	other, err := crypto.GenerateSigningKeyPair()
	require.NoError(t, err)

	_, err = VerifySignedList(list, other.Public, now)
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestSignedListRejectsExpired(t *testing.T) {
	list, signer, _, now := signedListFixture(t)

	_, err := VerifySignedList(list, signer.Public, now.Add(ListExpiration+time.Hour))
	assert.ErrorIs(t, err, ErrOutdatedList)
}

func TestSignedListRejectsWrongLength(t *testing.T) {
	list, signer, _, now := signedListFixture(t)

	_, err := VerifySignedList(list[:len(list)-1], signer.Public, now)
	assert.ErrorIs(t, err, ErrInvalidList)
}
