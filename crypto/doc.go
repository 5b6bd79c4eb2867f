// Package crypto implements the cryptographic primitives used by the
// Molch messaging protocol.
//
// This package wraps the NaCl constructions from Go's x/crypto packages
// (XChaCha20-Poly1305, secretbox, X25519) together with Ed25519 signatures,
// keyed Blake2b subkey derivation and Argon2id password hashing. All key
// material is carried in fixed-size, purpose-named array types that compare
// in constant time and can be wiped.
//
// Example:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Public key:", hex.EncodeToString(keys.Public[:]))
package crypto
