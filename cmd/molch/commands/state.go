package commands

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opd-ai/molch/crypto"
)

const (
	stateFileName     = "state.molch"
	backupKeyFileName = "backup.key"
)

func statePath() string     { return filepath.Join(cfg.DataDir, stateFileName) }
func backupKeyPath() string { return filepath.Join(cfg.DataDir, backupKeyFileName) }

// loadState imports the persisted backup, if any. Importing rotates the
// backup key, so the key file is rewritten immediately.
func loadState() error {
	envelope, err := os.ReadFile(statePath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	keyBytes, err := os.ReadFile(backupKeyPath())
	if err != nil {
		return fmt.Errorf("state file present but backup key unreadable: %w", err)
	}
	if len(keyBytes) != crypto.BackupKeySize {
		return fmt.Errorf("backup key file has %d bytes, want %d", len(keyBytes), crypto.BackupKeySize)
	}

	var key crypto.BackupKey
	copy(key[:], keyBytes)
	crypto.ZeroBytes(keyBytes)

	newKey, err := library.ImportFull(envelope, key)
	if err != nil {
		return fmt.Errorf("importing state: %w", err)
	}
	return writeBackupKey(newKey)
}

// saveState exports the library and persists envelope and key.
func saveState() error {
	envelope, err := library.ExportFull()
	if err != nil {
		return fmt.Errorf("exporting state: %w", err)
	}
	if err := os.WriteFile(statePath(), envelope, 0o600); err != nil {
		return err
	}

	key, err := library.UpdateBackupKey()
	if err != nil {
		return err
	}
	// Re-export under the fresh key so file and key stay paired.
	envelope, err = library.ExportFull()
	if err != nil {
		return err
	}
	if err := os.WriteFile(statePath(), envelope, 0o600); err != nil {
		return err
	}
	return writeBackupKey(key)
}

func writeBackupKey(key crypto.BackupKey) error {
	return os.WriteFile(backupKeyPath(), key[:], 0o600)
}

func shortKey(key crypto.SigningPublicKey) string {
	return hex.EncodeToString(key[:8])
}

// resolveUser matches a (possibly abbreviated) hex user id against the
// registered users.
func resolveUser(prefix string) (crypto.SigningPublicKey, error) {
	for _, key := range library.ListUsers() {
		if len(prefix) > 0 && len(prefix) <= 2*len(key) &&
			hex.EncodeToString(key[:])[:len(prefix)] == prefix {
			return key, nil
		}
	}
	return crypto.SigningPublicKey{}, fmt.Errorf("no user matches %q", prefix)
}
