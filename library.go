package molch

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/molch/backup"
	"github.com/opd-ai/molch/crypto"
	"github.com/opd-ai/molch/prekey"
	"github.com/opd-ai/molch/session"
	"github.com/opd-ai/molch/user"
)

// wrap ties a lower-level error to one of the public error kinds.
func wrap(kind error, err error) error {
	if err == nil {
		return kind
	}
	return fmt.Errorf("%w: %v", kind, err)
}

// CreateUserResult is the outcome of CreateUser.
type CreateUserResult struct {
	// UserID is the new user's public master key.
	UserID crypto.SigningPublicKey
	// PrekeyList is the user's signed prekey list, ready to publish.
	PrekeyList []byte
	// BackupKey is the current backup key, freshly generated if this was
	// the first user.
	BackupKey crypto.BackupKey
	// Backup is a full state backup when AutoBackup is enabled.
	Backup []byte
}

// CreateUser registers a new user. A non-empty low-entropy seed (for
// example collected keyboard noise) is mixed into key generation through
// spiced random; it must never be output of the OS random source itself.
func (l *Library) CreateUser(lowEntropySeed []byte) (*CreateUserResult, error) {
	newUser, err := user.NewUser(lowEntropySeed)
	if err != nil {
		return nil, wrap(ErrKeygenFailed, err)
	}

	prekeyList, err := newUser.SignedPrekeyList()
	if err != nil {
		newUser.Destroy()
		return nil, wrap(ErrSign, err)
	}

	if !l.hasBackupKey {
		if _, err := l.UpdateBackupKey(); err != nil {
			newUser.Destroy()
			return nil, wrap(ErrInit, err)
		}
	}
	backupKey, err := l.currentBackupKey()
	if err != nil {
		newUser.Destroy()
		return nil, err
	}

	l.users.Add(newUser)

	result := &CreateUserResult{
		UserID:     newUser.PublicSigningKey(),
		PrekeyList: prekeyList,
		BackupKey:  backupKey,
	}
	if l.options.AutoBackup {
		if result.Backup, err = l.ExportFull(); err != nil {
			return nil, err
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "CreateUser",
		"package":  "molch",
		"user":     fmt.Sprintf("%x", result.UserID[:8]),
	}).Info("Created user")

	return result, nil
}

// DestroyUser removes a user and all of its conversations. Returns a full
// backup of the remaining state when AutoBackup is enabled.
func (l *Library) DestroyUser(userID crypto.SigningPublicKey) ([]byte, error) {
	if err := l.users.Remove(userID); err != nil {
		return nil, wrap(ErrNotFound, err)
	}
	return l.autoFullBackup()
}

// ListUsers returns the public master keys of all users in creation order.
func (l *Library) ListUsers() []crypto.SigningPublicKey {
	return l.users.PublicSigningKeys()
}

// UserCount returns the number of registered users.
func (l *Library) UserCount() int {
	return l.users.Len()
}

// DestroyAllUsers wipes every user. The backup key is kept.
func (l *Library) DestroyAllUsers() {
	l.users.Clear()
}

// GetPrekeyList rotates the user's prekey pool and returns a freshly
// signed prekey list.
func (l *Library) GetPrekeyList(userID crypto.SigningPublicKey) ([]byte, error) {
	owner, err := l.users.Get(userID)
	if err != nil {
		return nil, wrap(ErrNotFound, err)
	}

	prekeyList, err := owner.SignedPrekeyList()
	if err != nil {
		return nil, wrap(ErrSign, err)
	}
	return prekeyList, nil
}

// StartSendResult is the outcome of StartSendConversation.
type StartSendResult struct {
	ConversationID crypto.ConversationID
	// Packet is the prekey packet carrying the first message.
	Packet []byte
	// Backup is a conversation backup when AutoBackup is enabled.
	Backup []byte
}

// StartSendConversation starts a conversation with a receiver from their
// signed prekey list and encrypts the first message.
func (l *Library) StartSendConversation(
	senderID crypto.SigningPublicKey,
	receiverID crypto.SigningPublicKey,
	receiverPrekeyList []byte,
	message []byte,
) (*StartSendResult, error) {
	sender, err := l.users.Get(senderID)
	if err != nil {
		return nil, wrap(ErrNotFound, err)
	}

	var conversation *session.Conversation
	var outbound []byte
	err = sender.MasterKeys().WithPrivateIdentity(func(privateIdentity crypto.PrivateKey) error {
		var startErr error
		conversation, outbound, startErr = session.StartSend(
			message,
			privateIdentity,
			sender.MasterKeys().PublicIdentityKey(),
			receiverID,
			receiverPrekeyList)
		return startErr
	})
	if err != nil {
		switch {
		case errors.Is(err, prekey.ErrOutdatedList):
			return nil, wrap(ErrOutdatedPrekeyList, err)
		case errors.Is(err, prekey.ErrVerificationFailed):
			return nil, wrap(ErrVerify, err)
		case errors.Is(err, prekey.ErrInvalidList):
			return nil, wrap(ErrInvalidInput, err)
		default:
			return nil, wrap(ErrEncrypt, err)
		}
	}

	sender.AddConversation(conversation)

	result := &StartSendResult{ConversationID: conversation.ID(), Packet: outbound}
	if result.Backup, err = l.autoConversationBackup(conversation); err != nil {
		return nil, err
	}
	return result, nil
}

// StartReceiveResult is the outcome of StartReceiveConversation.
type StartReceiveResult struct {
	ConversationID crypto.ConversationID
	// PrekeyList replaces the receiver's published list; the consumed
	// prekey has been deprecated.
	PrekeyList []byte
	// Message is the decrypted first message.
	Message []byte
	// Backup is a conversation backup when AutoBackup is enabled.
	Backup []byte
}

// StartReceiveConversation accepts the first packet of a conversation
// addressed to one of our prekeys. senderID is the claimed sender, used
// for logging and host-side bookkeeping; the cryptographic identity binding
// comes from the triple Diffie-Hellman.
func (l *Library) StartReceiveConversation(
	receiverID crypto.SigningPublicKey,
	senderID crypto.SigningPublicKey,
	inbound []byte,
) (*StartReceiveResult, error) {
	receiver, err := l.users.Get(receiverID)
	if err != nil {
		return nil, wrap(ErrNotFound, err)
	}

	var conversation *session.Conversation
	var received *session.ReceiveResult
	err = receiver.MasterKeys().WithPrivateIdentity(func(privateIdentity crypto.PrivateKey) error {
		var startErr error
		conversation, received, startErr = session.StartReceive(
			inbound,
			privateIdentity,
			receiver.MasterKeys().PublicIdentityKey(),
			receiver.Prekeys())
		return startErr
	})
	if err != nil {
		switch {
		case errors.Is(err, prekey.ErrNotFound):
			return nil, wrap(ErrNotFound, err)
		case errors.Is(err, session.ErrNotPrekeyPacket):
			return nil, wrap(ErrInvalidInput, err)
		default:
			return nil, wrap(ErrDecrypt, err)
		}
	}

	receiver.AddConversation(conversation)

	prekeyList, err := receiver.SignedPrekeyList()
	if err != nil {
		return nil, wrap(ErrSign, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "StartReceiveConversation",
		"package":  "molch",
		"sender":   fmt.Sprintf("%x", senderID[:8]),
		"receiver": fmt.Sprintf("%x", receiverID[:8]),
	}).Debug("Accepted new conversation")

	result := &StartReceiveResult{
		ConversationID: conversation.ID(),
		PrekeyList:     prekeyList,
		Message:        received.Message,
	}
	if result.Backup, err = l.autoConversationBackup(conversation); err != nil {
		return nil, err
	}
	return result, nil
}

// EncryptMessage encrypts a message on an existing conversation.
func (l *Library) EncryptMessage(conversationID crypto.ConversationID, message []byte) ([]byte, []byte, error) {
	_, conversation, err := l.users.FindConversation(conversationID)
	if err != nil {
		return nil, nil, wrap(ErrNotFound, err)
	}

	outbound, err := conversation.Send(message)
	if err != nil {
		return nil, nil, wrap(ErrEncrypt, err)
	}

	conversationBackup, err := l.autoConversationBackup(conversation)
	if err != nil {
		return nil, nil, err
	}
	return outbound, conversationBackup, nil
}

// DecryptResult is the outcome of DecryptMessage.
type DecryptResult struct {
	Message               []byte
	MessageNumber         uint32
	PreviousMessageNumber uint32
	// Backup is a conversation backup when AutoBackup is enabled.
	Backup []byte
}

// DecryptMessage decrypts a packet on an existing conversation. On failure
// the conversation state is exactly as it was before the call.
func (l *Library) DecryptMessage(conversationID crypto.ConversationID, inbound []byte) (*DecryptResult, error) {
	_, conversation, err := l.users.FindConversation(conversationID)
	if err != nil {
		return nil, wrap(ErrNotFound, err)
	}

	received, err := conversation.Receive(inbound)
	if err != nil {
		return nil, wrap(ErrDecrypt, err)
	}

	result := &DecryptResult{
		Message:               received.Message,
		MessageNumber:         received.MessageNumber,
		PreviousMessageNumber: received.PreviousMessageNumber,
	}
	if result.Backup, err = l.autoConversationBackup(conversation); err != nil {
		return nil, err
	}
	return result, nil
}

// EndConversation wipes and removes a conversation. Returns a full backup
// of the remaining state when AutoBackup is enabled.
func (l *Library) EndConversation(conversationID crypto.ConversationID) ([]byte, error) {
	owner, _, err := l.users.FindConversation(conversationID)
	if err != nil {
		return nil, wrap(ErrNotFound, err)
	}
	owner.RemoveConversation(conversationID)

	return l.autoFullBackup()
}

// ListConversations returns a user's conversation ids in creation order.
func (l *Library) ListConversations(userID crypto.SigningPublicKey) ([]crypto.ConversationID, error) {
	owner, err := l.users.Get(userID)
	if err != nil {
		return nil, wrap(ErrNotFound, err)
	}
	return owner.ConversationIDs(), nil
}

func (l *Library) autoFullBackup() ([]byte, error) {
	if !l.options.AutoBackup || !l.hasBackupKey {
		return nil, nil
	}
	return l.ExportFull()
}

func (l *Library) autoConversationBackup(conversation *session.Conversation) ([]byte, error) {
	if !l.options.AutoBackup || !l.hasBackupKey {
		return nil, nil
	}
	return l.sealConversation(conversation)
}

// ExportFull seals the complete library state under the current backup key.
func (l *Library) ExportFull() ([]byte, error) {
	backupKey, err := l.currentBackupKey()
	if err != nil {
		return nil, err
	}

	snapshot, err := l.users.Export()
	if err != nil {
		return nil, wrap(ErrGeneric, err)
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return nil, wrap(ErrPack, err)
	}
	defer crypto.ZeroBytes(payload)

	envelope, err := backup.Seal(payload, backup.TypeFull, backupKey)
	if err != nil {
		return nil, wrap(ErrEncrypt, err)
	}
	return envelope, nil
}

// ImportFull replaces the library state with an imported backup. The
// supplied key must be the backup key that sealed the envelope; on success
// the in-process backup key is rotated and returned. A failed import
// leaves the current state intact.
func (l *Library) ImportFull(envelope []byte, key crypto.BackupKey) (crypto.BackupKey, error) {
	payload, err := backup.Open(envelope, backup.TypeFull, key)
	if err != nil {
		if errors.Is(err, backup.ErrIncorrectData) {
			return crypto.BackupKey{}, wrap(ErrIncorrectData, err)
		}
		return crypto.BackupKey{}, wrap(ErrDecrypt, err)
	}
	defer crypto.ZeroBytes(payload)

	snapshot := &user.StoreSnapshot{}
	if err := json.Unmarshal(payload, snapshot); err != nil {
		return crypto.BackupKey{}, wrap(ErrUnpack, err)
	}

	imported, err := user.ImportStore(snapshot)
	if err != nil {
		return crypto.BackupKey{}, wrap(ErrUnpack, err)
	}

	newKey, err := l.UpdateBackupKey()
	if err != nil {
		imported.Clear()
		return crypto.BackupKey{}, err
	}

	l.users.Clear()
	l.users = imported

	logrus.WithFields(logrus.Fields{
		"function": "ImportFull",
		"package":  "molch",
		"users":    imported.Len(),
	}).Info("Imported full backup")

	return newKey, nil
}

// ExportConversation seals a single conversation under the current backup
// key.
func (l *Library) ExportConversation(conversationID crypto.ConversationID) ([]byte, error) {
	_, conversation, err := l.users.FindConversation(conversationID)
	if err != nil {
		return nil, wrap(ErrNotFound, err)
	}
	return l.sealConversation(conversation)
}

func (l *Library) sealConversation(conversation *session.Conversation) ([]byte, error) {
	backupKey, err := l.currentBackupKey()
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(conversation.Export())
	if err != nil {
		return nil, wrap(ErrPack, err)
	}
	defer crypto.ZeroBytes(payload)

	envelope, err := backup.Seal(payload, backup.TypeConversation, backupKey)
	if err != nil {
		return nil, wrap(ErrEncrypt, err)
	}
	return envelope, nil
}

// ImportConversation restores a single conversation into the user it
// belongs to, replacing any existing conversation with the same id. On
// success the backup key is rotated and returned.
func (l *Library) ImportConversation(envelope []byte, key crypto.BackupKey) (crypto.BackupKey, error) {
	payload, err := backup.Open(envelope, backup.TypeConversation, key)
	if err != nil {
		if errors.Is(err, backup.ErrIncorrectData) {
			return crypto.BackupKey{}, wrap(ErrIncorrectData, err)
		}
		return crypto.BackupKey{}, wrap(ErrDecrypt, err)
	}
	defer crypto.ZeroBytes(payload)

	snapshot := &session.Snapshot{}
	if err := json.Unmarshal(payload, snapshot); err != nil {
		return crypto.BackupKey{}, wrap(ErrUnpack, err)
	}

	conversation, err := session.Import(snapshot)
	if err != nil {
		return crypto.BackupKey{}, wrap(ErrUnpack, err)
	}

	owner, err := l.users.GetByIdentity(conversation.OurPublicIdentity())
	if err != nil {
		conversation.Wipe()
		return crypto.BackupKey{}, wrap(ErrNotFound, err)
	}

	newKey, err := l.UpdateBackupKey()
	if err != nil {
		conversation.Wipe()
		return crypto.BackupKey{}, err
	}

	owner.AdoptConversation(conversation)
	return newKey, nil
}
