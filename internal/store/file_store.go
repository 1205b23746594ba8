package store

import (
	"errors"
	"os"
	"sync"

	"pinpoint/internal/domain"
)

const (
	identityFile    = "identity.enc"
	prekeysFile     = "prekeys.enc"
	sessionsFile    = "sessions.enc"
	messageKeysFile = "message_keys.enc"
	invitationsFile = "invitations.json"
	resyncFile      = "resync.json"
)

// ErrClosed is returned by every method after Close.
var ErrClosed = errors.New("store closed")

// FileStore persists the secure-channel state as files under one directory.
// Private key material and ratchet state are sealed with the storage key;
// invitation and resync bookkeeping holds only public data and is plain JSON.
// All methods are safe for concurrent use.
type FileStore struct {
	dir    string
	sealer *sealer

	mu     sync.Mutex
	closed bool
}

// NewFileStore opens (creating if needed) a store rooted at dir. key must be
// 32 bytes, typically from StorageKey.
func NewFileStore(dir string, key []byte) (*FileStore, error) {
	sl, err := newSealer(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir, sealer: sl}, nil
}

// Close marks the store closed. Files are written synchronously so nothing
// is flushed here.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// lock acquires the store mutex and fails once the store is closed.
func (s *FileStore) lock() (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	return s.mu.Unlock, nil
}

// Compile-time assertion that FileStore implements domain.Storage.
var _ domain.Storage = (*FileStore)(nil)
