package crypto

// Key and buffer sizes in bytes. These follow the libsodium defaults the
// Molch protocol was specified against.
const (
	PublicKeySize  = 32
	PrivateKeySize = 32

	SigningPublicKeySize  = 32
	SigningPrivateKeySize = 64
	SignatureSize         = 64

	RootKeySize    = 32
	ChainKeySize   = 32
	HeaderKeySize  = 32
	MessageKeySize = 32
	BackupKeySize  = 32

	ConversationIDSize = 32

	NonceSize = 24

	DiffieHellmanSize = 32
)
