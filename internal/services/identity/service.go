package identity

import (
	"errors"
	"fmt"
	"unicode"

	"pinpoint/internal/crypto"
	"pinpoint/internal/domain"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)

	// ErrNoIdentity is returned before the handshake key material was ever renewed.
	ErrNoIdentity = errors.New("identity: no identity key yet, register first")
)

// Service exposes the local identity: the keychain-held signing key plus the
// X25519 identity key kept by the handshake store.
type Service struct {
	signer domain.Signer
	keys   domain.HandshakeKeyStore
}

// New returns an identity service over signer and keys.
func New(signer domain.Signer, keys domain.HandshakeKeyStore) *Service {
	return &Service{signer: signer, keys: keys}
}

// Signer returns the sign-only capability handed to the crypto middleware.
func (s *Service) Signer() domain.Signer { return s.signer }

// SafetyNumber returns the local user's safety number.
func (s *Service) SafetyNumber() (string, error) {
	pair, ok, err := s.keys.LoadIdentityKeyPair()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNoIdentity
	}
	return crypto.SafetyNumber(s.signer.PublicKey().Slice(), pair.Public.Slice()), nil
}

// PeerSafetyNumber returns the safety number for a peer's published bundle,
// to be compared out of band with what the peer sees for itself.
func PeerSafetyNumber(bundle domain.PublicKeyBundle) string {
	return crypto.SafetyNumber(bundle.SigningKey.Slice(), bundle.IdentityKey.Slice())
}

// CheckPassphrase enforces the storage passphrase policy.
func CheckPassphrase(passphrase string) error {
	if !isSecurePassphrase(passphrase) {
		return ErrWeakPassphrase
	}
	return nil
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len(passphrase) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}
