// Package packet implements the wire framing of Molch messages: plaintext
// metadata, an AEAD-encrypted axolotl header and a secretbox-encrypted
// payload. Prekey packets additionally carry the three public keys the
// receiver needs to locate its private material before anything can be
// decrypted.
package packet

import (
	"encoding/binary"
	"errors"

	"github.com/opd-ai/molch/crypto"
)

// Type tags the kind of packet.
type Type uint8

const (
	// TypeInvalid marks a malformed or unrecognized packet.
	TypeInvalid Type = 0
	// TypePrekey is the first packet of a conversation, carrying the
	// sender's public keys and the chosen receiver prekey in plaintext.
	TypePrekey Type = 1
	// TypeNormal is every packet after the first.
	TypeNormal Type = 2
)

// Protocol version fields carried in every packet.
const (
	ProtocolVersion                 = 0
	HighestSupportedProtocolVersion = 0
)

const (
	metadataSize       = 4 + 4 + 1
	prekeyMetadataSize = 3 * crypto.PublicKeySize

	// headerPlainSize is the encrypted header's plaintext: ephemeral,
	// message number, previous message number, message nonce.
	headerPlainSize      = crypto.PublicKeySize + 4 + 4 + crypto.NonceSize
	headerCiphertextSize = headerPlainSize + crypto.AEADOverhead

	normalMinimumSize = metadataSize + crypto.NonceSize + headerCiphertextSize + crypto.SecretboxOverhead
	prekeyMinimumSize = normalMinimumSize + prekeyMetadataSize
)

var (
	// ErrInvalidPacket is returned for packets that do not parse.
	ErrInvalidPacket = errors.New("packet: invalid packet")
	// ErrDecryptHeader is returned when the header fails to decrypt.
	ErrDecryptHeader = errors.New("packet: header decryption failed")
	// ErrDecryptMessage is returned when the payload fails to decrypt.
	ErrDecryptMessage = errors.New("packet: message decryption failed")
	// ErrUnsupportedVersion is returned for packets from a newer protocol.
	ErrUnsupportedVersion = errors.New("packet: unsupported protocol version")
)

// Header is the plaintext of the encrypted axolotl header.
type Header struct {
	PublicEphemeral       crypto.PublicKey
	MessageNumber         uint32
	PreviousMessageNumber uint32
}

// PrekeyMetadata is the plaintext key triple of a prekey packet.
type PrekeyMetadata struct {
	SenderIdentity  crypto.PublicKey
	SenderEphemeral crypto.PublicKey
	ReceiverPrekey  crypto.PublicKey
}

// Metadata is everything readable without any key material. Nothing in it
// is verified until the header has been decrypted.
type Metadata struct {
	ProtocolVersion                 uint32
	HighestSupportedProtocolVersion uint32
	Type                            Type
	Prekey                          *PrekeyMetadata
}

// parsed is the decomposition of a raw packet.
type parsed struct {
	metadata          Metadata
	additionalData    []byte
	headerNonce       crypto.Nonce
	headerCiphertext  []byte
	messageCiphertext []byte
}

func parse(packet []byte) (*parsed, error) {
	if len(packet) < normalMinimumSize {
		return nil, ErrInvalidPacket
	}

	result := &parsed{}
	result.metadata.ProtocolVersion = binary.BigEndian.Uint32(packet[0:4])
	result.metadata.HighestSupportedProtocolVersion = binary.BigEndian.Uint32(packet[4:8])

	offset := metadataSize
	switch Type(packet[8]) {
	case TypeNormal:
		result.metadata.Type = TypeNormal
	case TypePrekey:
		if len(packet) < prekeyMinimumSize {
			return nil, ErrInvalidPacket
		}
		result.metadata.Type = TypePrekey

		prekey := &PrekeyMetadata{}
		copy(prekey.SenderIdentity[:], packet[offset:])
		copy(prekey.SenderEphemeral[:], packet[offset+crypto.PublicKeySize:])
		copy(prekey.ReceiverPrekey[:], packet[offset+2*crypto.PublicKeySize:])
		result.metadata.Prekey = prekey
		offset += prekeyMetadataSize
	default:
		return nil, ErrInvalidPacket
	}

	// Everything before the header nonce is bound into the header AEAD as
	// associated data.
	result.additionalData = packet[:offset]

	copy(result.headerNonce[:], packet[offset:])
	offset += crypto.NonceSize

	result.headerCiphertext = packet[offset : offset+headerCiphertextSize]
	offset += headerCiphertextSize

	result.messageCiphertext = packet[offset:]
	return result, nil
}

// Encrypt builds a packet from an axolotl header and a message. For prekey
// packets the metadata triple must be supplied and is authenticated through
// the header AEAD's associated data.
func Encrypt(
	packetType Type,
	header Header,
	headerKey crypto.HeaderKey,
	message []byte,
	messageKey crypto.MessageKey,
	prekeyMetadata *PrekeyMetadata,
) ([]byte, error) {
	if packetType == TypePrekey && prekeyMetadata == nil {
		return nil, ErrInvalidPacket
	}
	if packetType == TypeNormal && prekeyMetadata != nil {
		return nil, ErrInvalidPacket
	}
	if packetType != TypeNormal && packetType != TypePrekey {
		return nil, ErrInvalidPacket
	}

	messageNonce, err := crypto.GenerateNonce()
	if err != nil {
		return nil, err
	}
	messageCiphertext, err := crypto.SecretboxSeal(message, messageNonce, messageKey)
	if err != nil {
		return nil, err
	}

	size := normalMinimumSize - crypto.SecretboxOverhead + len(messageCiphertext)
	if packetType == TypePrekey {
		size += prekeyMetadataSize
	}
	packet := make([]byte, 0, size)

	var versions [8]byte
	binary.BigEndian.PutUint32(versions[0:4], ProtocolVersion)
	binary.BigEndian.PutUint32(versions[4:8], HighestSupportedProtocolVersion)
	packet = append(packet, versions[:]...)
	packet = append(packet, byte(packetType))

	if packetType == TypePrekey {
		packet = append(packet, prekeyMetadata.SenderIdentity[:]...)
		packet = append(packet, prekeyMetadata.SenderEphemeral[:]...)
		packet = append(packet, prekeyMetadata.ReceiverPrekey[:]...)
	}
	additionalData := packet[:len(packet):len(packet)]

	headerPlain := make([]byte, 0, headerPlainSize)
	headerPlain = append(headerPlain, header.PublicEphemeral[:]...)
	var counters [8]byte
	binary.BigEndian.PutUint32(counters[0:4], header.MessageNumber)
	binary.BigEndian.PutUint32(counters[4:8], header.PreviousMessageNumber)
	headerPlain = append(headerPlain, counters[:]...)
	headerPlain = append(headerPlain, messageNonce[:]...)

	headerNonce, err := crypto.GenerateNonce()
	if err != nil {
		return nil, err
	}
	headerCiphertext, err := crypto.AEADSeal(headerPlain, additionalData, headerNonce, headerKey)
	if err != nil {
		return nil, err
	}
	crypto.ZeroBytes(headerPlain)

	packet = append(packet, headerNonce[:]...)
	packet = append(packet, headerCiphertext...)
	packet = append(packet, messageCiphertext...)

	return packet, nil
}

// GetMetadata extracts the plaintext metadata of a packet without decrypting
// or verifying anything. Callers must treat the result as untrusted.
func GetMetadata(packet []byte) (*Metadata, error) {
	parsedPacket, err := parse(packet)
	if err != nil {
		return nil, err
	}
	metadata := parsedPacket.metadata
	return &metadata, nil
}

// MessageType classifies a packet, returning TypeInvalid for anything that
// does not parse.
func MessageType(packet []byte) Type {
	parsedPacket, err := parse(packet)
	if err != nil {
		return TypeInvalid
	}
	return parsedPacket.metadata.Type
}

// DecryptHeader opens the encrypted axolotl header, authenticating the
// plaintext metadata in the process. Returns the header and the message
// nonce it carries.
func DecryptHeader(packet []byte, headerKey crypto.HeaderKey) (*Header, crypto.Nonce, error) {
	var messageNonce crypto.Nonce

	parsedPacket, err := parse(packet)
	if err != nil {
		return nil, messageNonce, err
	}
	if parsedPacket.metadata.ProtocolVersion > HighestSupportedProtocolVersion {
		return nil, messageNonce, ErrUnsupportedVersion
	}

	headerPlain, err := crypto.AEADOpen(
		parsedPacket.headerCiphertext,
		parsedPacket.additionalData,
		parsedPacket.headerNonce,
		headerKey)
	if err != nil {
		return nil, messageNonce, ErrDecryptHeader
	}
	defer crypto.ZeroBytes(headerPlain)

	if len(headerPlain) != headerPlainSize {
		return nil, messageNonce, ErrDecryptHeader
	}

	header := &Header{}
	copy(header.PublicEphemeral[:], headerPlain[:crypto.PublicKeySize])
	header.MessageNumber = binary.BigEndian.Uint32(headerPlain[crypto.PublicKeySize:])
	header.PreviousMessageNumber = binary.BigEndian.Uint32(headerPlain[crypto.PublicKeySize+4:])
	copy(messageNonce[:], headerPlain[crypto.PublicKeySize+8:])

	return header, messageNonce, nil
}

// DecryptMessage opens the payload with the message key and the nonce
// recovered from the decrypted header.
func DecryptMessage(packet []byte, messageNonce crypto.Nonce, messageKey crypto.MessageKey) ([]byte, error) {
	parsedPacket, err := parse(packet)
	if err != nil {
		return nil, err
	}

	message, err := crypto.SecretboxOpen(parsedPacket.messageCiphertext, messageNonce, messageKey)
	if err != nil {
		return nil, ErrDecryptMessage
	}
	return message, nil
}

// Decrypt runs the full sequence: header then payload. Both must decrypt.
func Decrypt(packet []byte, headerKey crypto.HeaderKey, messageKey crypto.MessageKey) (*Header, []byte, error) {
	header, messageNonce, err := DecryptHeader(packet, headerKey)
	if err != nil {
		return nil, nil, err
	}

	message, err := DecryptMessage(packet, messageNonce, messageKey)
	if err != nil {
		return nil, nil, err
	}
	return header, message, nil
}
