// Package keychain keeps the long-term Ed25519 signing key in the operating
// system keychain. Only a sign capability leaves the package.
package keychain

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"pinpoint/internal/crypto"
	"pinpoint/internal/domain"
)

// DefaultService is the keychain service name entries are filed under.
const DefaultService = "pinpoint"

var (
	// ErrNotFound is returned when no signing key is stored for the account.
	ErrNotFound = errors.New("keychain: signing key not found")

	// ErrExists is returned by Create when the account already has a key.
	ErrExists = errors.New("keychain: signing key already exists")

	// ErrCorrupt is returned when the stored entry does not decode to a key.
	ErrCorrupt = errors.New("keychain: stored signing key is corrupt")
)

// Keychain stores one signing key per account under a service name.
type Keychain struct {
	service string
}

// New returns a Keychain for service, or DefaultService when empty.
func New(service string) *Keychain {
	if service == "" {
		service = DefaultService
	}
	return &Keychain{service: service}
}

// Create generates a signing key for account and stores it.
func (k *Keychain) Create(account domain.UserID) (*SigningKey, error) {
	if _, err := k.Load(account); err == nil {
		return nil, ErrExists
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	priv, pub, err := crypto.GenerateEd25519()
	if err != nil {
		return nil, err
	}
	secret := base64.StdEncoding.EncodeToString(priv[:])
	if err := keyring.Set(k.service, account.String(), secret); err != nil {
		return nil, fmt.Errorf("keychain: store: %w", err)
	}
	return &SigningKey{priv: priv, pub: pub}, nil
}

// Load returns the signing key stored for account.
func (k *Keychain) Load(account domain.UserID) (*SigningKey, error) {
	secret, err := keyring.Get(k.service, account.String())
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("keychain: load: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(secret)
	if err != nil || len(raw) != len(domain.Ed25519Private{}) {
		return nil, ErrCorrupt
	}
	var key SigningKey
	copy(key.priv[:], raw)
	copy(key.pub[:], raw[32:])
	return &key, nil
}

// LoadOrCreate loads the key for account, creating it on first use. The
// boolean reports whether a key was created.
func (k *Keychain) LoadOrCreate(account domain.UserID) (*SigningKey, bool, error) {
	key, err := k.Load(account)
	if err == nil {
		return key, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	key, err = k.Create(account)
	if err != nil {
		return nil, false, err
	}
	return key, true, nil
}

// Delete removes the key for account. A missing key is not an error.
func (k *Keychain) Delete(account domain.UserID) error {
	err := keyring.Delete(k.service, account.String())
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keychain: delete: %w", err)
	}
	return nil
}

// SigningKey is a loaded signing key. The private half is never exported.
type SigningKey struct {
	priv domain.Ed25519Private
	pub  domain.Ed25519Public
}

func (s *SigningKey) PublicKey() domain.Ed25519Public { return s.pub }

func (s *SigningKey) Sign(message []byte) ([]byte, error) {
	return crypto.SignEd25519(s.priv, message), nil
}

var _ domain.Signer = (*SigningKey)(nil)
