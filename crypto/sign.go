package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
)

// SigningKeyPair represents an Ed25519 key pair used for long-term
// identities and prekey list signatures.
type SigningKeyPair struct {
	Public  SigningPublicKey
	Private SigningPrivateKey
}

// GenerateSigningKeyPair creates a new random Ed25519 key pair.
func GenerateSigningKeyPair() (*SigningKeyPair, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return signingKeyPairFromEd25519(public, private), nil
}

// SigningKeyPairFromSeed derives an Ed25519 key pair from a 32-byte seed.
func SigningKeyPairFromSeed(seed []byte) (*SigningKeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errors.New("invalid seed size")
	}
	private := ed25519.NewKeyFromSeed(seed)
	public := private.Public().(ed25519.PublicKey)
	return signingKeyPairFromEd25519(public, private), nil
}

func signingKeyPairFromEd25519(public ed25519.PublicKey, private ed25519.PrivateKey) *SigningKeyPair {
	pair := &SigningKeyPair{}
	copy(pair.Public[:], public)
	copy(pair.Private[:], private)
	return pair
}

// Sign creates an Ed25519 signature for a message using the private key.
func Sign(message []byte, privateKey SigningPrivateKey) (Signature, error) {
	if len(message) == 0 {
		return Signature{}, errors.New("empty message")
	}

	signatureBytes := ed25519.Sign(ed25519.PrivateKey(privateKey[:]), message)

	var signature Signature
	copy(signature[:], signatureBytes)
	return signature, nil
}

// Verify checks if a signature is valid for a message and public key.
func Verify(message []byte, signature Signature, publicKey SigningPublicKey) bool {
	return ed25519.Verify(ed25519.PublicKey(publicKey[:]), message, signature[:])
}
