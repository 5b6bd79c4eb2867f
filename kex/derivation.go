package kex

import (
	"github.com/opd-ai/molch/crypto"
)

// InitialKeys is the key set a fresh ratchet starts from. The side that can
// immediately send has the send keys, the other side the receive keys; the
// unused half is nil.
type InitialKeys struct {
	RootKey crypto.RootKey

	SendHeaderKey    *crypto.HeaderKey
	ReceiveHeaderKey *crypto.HeaderKey

	NextSendHeaderKey    crypto.HeaderKey
	NextReceiveHeaderKey crypto.HeaderKey

	SendChainKey    *crypto.ChainKey
	ReceiveChainKey *crypto.ChainKey
}

// SteppedKeys is the result of a Diffie-Hellman ratchet step.
type SteppedKeys struct {
	RootKey       crypto.RootKey
	NextHeaderKey crypto.HeaderKey
	ChainKey      crypto.ChainKey
}

// DeriveInitialKeys computes the initial root, chain and header keys for a
// new conversation from a triple Diffie-Hellman master secret:
//
//	RK, CKs/r, HKs/r, NHKs/r = KDF(HASH(DH(A,B0) || DH(A0,B) || DH(A0,B0)))
//
// Alice (the initiator) gets the receive keys: her first send performs a DH
// ratchet step against Bob's prekey, which creates her send chain. Bob gets
// the send keys and can only receive through the next-header-key path.
func DeriveInitialKeys(
	role Role,
	ourPrivateIdentity crypto.PrivateKey,
	ourPublicIdentity crypto.PublicKey,
	ourPrivateEphemeral crypto.PrivateKey,
	ourPublicEphemeral crypto.PublicKey,
	theirPublicIdentity crypto.PublicKey,
	theirPublicEphemeral crypto.PublicKey,
) (*InitialKeys, error) {
	master, err := TripleDH(
		role,
		ourPrivateIdentity, ourPublicIdentity,
		ourPrivateEphemeral, ourPublicEphemeral,
		theirPublicIdentity, theirPublicEphemeral)
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(master[:])

	keys := &InitialKeys{}

	if keys.RootKey, err = crypto.DeriveRootKey(master[:], 0); err != nil {
		return nil, err
	}

	headerKey, err := crypto.DeriveHeaderKey(master[:], 1)
	if err != nil {
		return nil, err
	}
	chainKey, err := crypto.DeriveChainKey(master[:], 4)
	if err != nil {
		return nil, err
	}

	switch role {
	case RoleAlice:
		keys.ReceiveHeaderKey = &headerKey
		keys.ReceiveChainKey = &chainKey
		if keys.NextSendHeaderKey, err = crypto.DeriveHeaderKey(master[:], 2); err != nil {
			return nil, err
		}
		if keys.NextReceiveHeaderKey, err = crypto.DeriveHeaderKey(master[:], 3); err != nil {
			return nil, err
		}
	case RoleBob:
		keys.SendHeaderKey = &headerKey
		keys.SendChainKey = &chainKey
		if keys.NextReceiveHeaderKey, err = crypto.DeriveHeaderKey(master[:], 2); err != nil {
			return nil, err
		}
		if keys.NextSendHeaderKey, err = crypto.DeriveHeaderKey(master[:], 3); err != nil {
			return nil, err
		}
	}

	return keys, nil
}

// DeriveRootNextHeaderAndChainKeys performs the key derivation of a DH
// ratchet step:
//
//	RK, NHK, CK = KDF(BLAKE2b(key = DH(DHRs, DHRr), input = RK))
func DeriveRootNextHeaderAndChainKeys(
	role Role,
	previousRootKey crypto.RootKey,
	ourPrivateEphemeral crypto.PrivateKey,
	ourPublicEphemeral crypto.PublicKey,
	theirPublicEphemeral crypto.PublicKey,
) (*SteppedKeys, error) {
	shared, err := DH(role, ourPrivateEphemeral, ourPublicEphemeral, theirPublicEphemeral)
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(shared[:])

	material, err := crypto.KeyedHash256(shared[:], previousRootKey[:])
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(material[:])

	stepped := &SteppedKeys{}
	if stepped.RootKey, err = crypto.DeriveRootKey(material[:], 0); err != nil {
		return nil, err
	}
	if stepped.NextHeaderKey, err = crypto.DeriveHeaderKey(material[:], 1); err != nil {
		return nil, err
	}
	if stepped.ChainKey, err = crypto.DeriveChainKey(material[:], 2); err != nil {
		return nil, err
	}

	return stepped, nil
}
