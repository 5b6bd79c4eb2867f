// Package molch implements an end-to-end encrypted messaging protocol
// based on the axolotl double ratchet.
//
// The library keeps a registry of local users, each with long-term master
// keys, a published prekey pool and any number of conversations. A
// conversation is started from a peer's signed prekey list and provides
// forward secrecy and post-compromise security for an ordered but
// potentially lossy message stream. The full state, or a single
// conversation, can be exported as an encrypted backup sealed under a
// rotatable backup key.
//
// Example:
//
//	lib, err := molch.New(molch.NewOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer lib.Close()
//
//	alice, err := lib.CreateUser(nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	bob, err := lib.CreateUser(nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	started, err := lib.StartSendConversation(
//	    alice.UserID, bob.UserID, bob.PrekeyList, []byte("Hi Bob!"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	// hand started.Packet to the transport of your choice
package molch

import (
	"crypto/rand"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/molch/crypto"
	"github.com/opd-ai/molch/memguard"
	"github.com/opd-ai/molch/packet"
	"github.com/opd-ai/molch/user"
)

// MessageType classifies a packet without decrypting it.
type MessageType uint8

const (
	MessageTypeInvalid MessageType = iota
	MessageTypePrekey
	MessageTypeNormal
)

// Options contains configuration options for creating a Library instance.
type Options struct {
	// AutoBackup makes every mutating operation return an updated backup
	// of the affected state, so the host can persist continuously.
	AutoBackup bool
}

// NewOptions creates an Options with default values.
func NewOptions() *Options {
	return &Options{}
}

// Library is one instance of the messaging state engine: a user registry
// plus the backup key. All operations mutate under exclusive ownership;
// the Library is not safe for concurrent use.
type Library struct {
	options Options

	users *user.Store

	backupKey    *memguard.Region
	hasBackupKey bool
}

// New creates a Library instance.
func New(options *Options) (*Library, error) {
	if options == nil {
		options = NewOptions()
	}

	backupKey, err := memguard.New(crypto.BackupKeySize)
	if err != nil {
		return nil, wrap(ErrInit, err)
	}

	library := &Library{
		options:   *options,
		users:     user.NewStore(),
		backupKey: backupKey,
	}

	logrus.WithFields(logrus.Fields{
		"function":    "New",
		"package":     "molch",
		"auto_backup": options.AutoBackup,
	}).Info("Created library instance")

	return library, nil
}

// Close destroys all users and the backup key.
func (l *Library) Close() {
	l.users.Clear()
	l.backupKey.Destroy()
	l.hasBackupKey = false
}

// GetMessageType classifies a packet as prekey, normal or invalid without
// touching any key material.
func GetMessageType(rawPacket []byte) MessageType {
	switch packet.MessageType(rawPacket) {
	case packet.TypePrekey:
		return MessageTypePrekey
	case packet.TypeNormal:
		return MessageTypeNormal
	default:
		return MessageTypeInvalid
	}
}

// UpdateBackupKey replaces the backup key with a fresh random one. The
// previous key stays intact if generation fails.
func (l *Library) UpdateBackupKey() (crypto.BackupKey, error) {
	var newKey crypto.BackupKey
	if _, err := rand.Read(newKey[:]); err != nil {
		return crypto.BackupKey{}, wrap(ErrKeygenFailed, err)
	}

	if err := l.storeBackupKey(newKey); err != nil {
		return crypto.BackupKey{}, err
	}
	return newKey, nil
}

func (l *Library) storeBackupKey(key crypto.BackupKey) error {
	err := l.backupKey.WithReadWrite(func(data []byte) error {
		copy(data, key[:])
		return nil
	})
	if err != nil {
		return wrap(ErrGeneric, err)
	}
	l.hasBackupKey = true
	return nil
}

func (l *Library) currentBackupKey() (crypto.BackupKey, error) {
	var key crypto.BackupKey
	if !l.hasBackupKey {
		return key, ErrIncorrectData
	}

	err := l.backupKey.WithRead(func(data []byte) error {
		copy(key[:], data)
		return nil
	})
	if err != nil {
		return crypto.BackupKey{}, wrap(ErrGeneric, err)
	}
	return key, nil
}
