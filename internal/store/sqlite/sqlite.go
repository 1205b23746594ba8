// Package sqlite implements domain.Storage on a single SQLite database using
// the pure-Go modernc.org/sqlite driver.
//
// Secret columns (private keys, ratchet state, message keys) are sealed with
// NaCl secretbox under the storage key. Public bookkeeping is stored as-is.
package sqlite

import (
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/nacl/secretbox"
	_ "modernc.org/sqlite"

	"pinpoint/internal/domain"
)

const nonceSize = 24

// ErrWrongKey is returned when a sealed column does not open under the key.
var ErrWrongKey = errors.New("sqlite store: wrong storage key or corrupted row")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS identity (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		key_pair BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS signed_prekey (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		key_pair BLOB NOT NULL,
		signature BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS one_time_prekeys (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		public_key TEXT NOT NULL UNIQUE,
		private_key BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversation_states (
		user_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		state BLOB NOT NULL,
		PRIMARY KEY (user_id, conversation_id)
	)`,
	`CREATE TABLE IF NOT EXISTS message_keys (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		public_key TEXT NOT NULL,
		message_number INTEGER NOT NULL,
		message_key BLOB NOT NULL,
		UNIQUE (user_id, conversation_id, public_key, message_number)
	)`,
	`CREATE TABLE IF NOT EXISTS outbound_invitations (
		receiver_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		invitation TEXT NOT NULL,
		PRIMARY KEY (receiver_id, conversation_id)
	)`,
	`CREATE TABLE IF NOT EXISTS inbound_invitations (
		sender_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		invitation TEXT NOT NULL,
		PRIMARY KEY (sender_id, conversation_id)
	)`,
	`CREATE TABLE IF NOT EXISTS invalid_conversations (
		sender_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		resend_reset_timeout INTEGER NOT NULL,
		PRIMARY KEY (sender_id, conversation_id, fingerprint)
	)`,
	`CREATE TABLE IF NOT EXISTS received_resets (
		sender_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		PRIMARY KEY (sender_id, conversation_id)
	)`,
}

// Store is a domain.Storage backed by SQLite.
type Store struct {
	db  *sql.DB
	key [32]byte
}

// Open opens (creating if needed) the database at path. key must be 32 bytes.
func Open(path string, key []byte) (*Store, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("storage key must be 32 bytes")
	}
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps writes serialised and gives :memory: one database.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	s := &Store{db: db}
	copy(s.key[:], key)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

func (s *Store) open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrWrongKey
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	pt, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrWrongKey
	}
	return pt, nil
}

func toUnix(t time.Time) int64 { return t.UnixNano() }

func fromUnix(n int64) time.Time { return time.Unix(0, n).UTC() }

// Compile-time assertion that Store implements domain.Storage.
var _ domain.Storage = (*Store)(nil)
