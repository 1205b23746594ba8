package store

import (
	"fmt"
	"os"
	"path/filepath"

	"pinpoint/internal/crypto"
	"pinpoint/internal/domain"
)

const saltFile = "storage.salt"

// StorageKey derives the key that seals the store under dir from passphrase.
// The salt is created on first use and kept next to the data.
func StorageKey(dir, passphrase string) ([]byte, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, saltFile)
	salt, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if salt == nil {
		if salt, err = crypto.NewSalt(); err != nil {
			return nil, err
		}
		if err := writeFile(path, salt, 0o600); err != nil {
			return nil, fmt.Errorf("write salt: %w", err)
		}
	}
	return crypto.DeriveStorageKey(passphrase, salt)
}

// conversationKey is the map key for records scoped to (peer, conversation).
func conversationKey(userID domain.UserID, conversationID domain.ConversationID) string {
	return userID.String() + "/" + conversationID.String()
}

// fingerprintKey extends conversationKey with a conversation fingerprint.
func fingerprintKey(userID domain.UserID, conversationID domain.ConversationID, fp domain.Fingerprint) string {
	return conversationKey(userID, conversationID) + "/" + fp.String()
}
