package x3dh

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"pinpoint/internal/crypto"
	"pinpoint/internal/domain"
	"pinpoint/internal/util/memzero"
)

// SharedSecretSize is the length of the derived shared secret.
const SharedSecretSize = 32

var (
	// ErrInvalidPrekeySignature is returned when the remote signed prekey does not verify.
	ErrInvalidPrekeySignature = errors.New("x3dh: invalid prekey signature")

	// ErrMissingKeyMaterial is returned when a required key is unset.
	ErrMissingKeyMaterial = errors.New("x3dh: missing key material")
)

// SignFunc signs the public part of a prekey.
type SignFunc func(message []byte) ([]byte, error)

// VerifyFunc checks a prekey signature.
type VerifyFunc func(signature []byte) (bool, error)

// GenerateIdentityKeyPair returns a long-term Diffie–Hellman key pair.
func GenerateIdentityKeyPair() (domain.KeyPair, error) {
	return crypto.GenerateKeyPair()
}

// GenerateSignedPrekeyPair returns a medium-term key pair and sign's
// signature over its public key.
func GenerateSignedPrekeyPair(sign SignFunc) (domain.KeyPair, []byte, error) {
	pair, err := crypto.GenerateKeyPair()
	if err != nil {
		return domain.KeyPair{}, nil, err
	}
	sig, err := sign(pair.Public.Slice())
	if err != nil {
		memzero.Zero(pair.Private[:])
		return domain.KeyPair{}, nil, fmt.Errorf("x3dh: sign prekey: %w", err)
	}
	return pair, sig, nil
}

// GenerateOneTimePrekeyPairs returns count single-use key pairs.
func GenerateOneTimePrekeyPairs(count int) ([]domain.KeyPair, error) {
	if count < 0 {
		return nil, fmt.Errorf("x3dh: negative prekey count %d", count)
	}
	out := make([]domain.KeyPair, 0, count)
	for i := 0; i < count; i++ {
		pair, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		out = append(out, pair)
	}
	return out, nil
}

// InitiateKeyAgreement runs the initiator side of the handshake against a
// remote bundle. The signed prekey is checked with verify before any key
// material is produced.
func InitiateKeyAgreement(
	remoteIdentityKey domain.X25519Public,
	remotePrekey domain.X25519Public,
	prekeySignature []byte,
	remoteOneTimePrekey *domain.X25519Public,
	identityKeyPair domain.KeyPair,
	verify VerifyFunc,
	info string,
) (domain.KeyAgreementInitiation, error) {
	if verify == nil {
		return domain.KeyAgreementInitiation{}, ErrInvalidPrekeySignature
	}
	ok, err := verify(prekeySignature)
	if err != nil || !ok {
		return domain.KeyAgreementInitiation{}, ErrInvalidPrekeySignature
	}
	if remoteIdentityKey.IsZero() || remotePrekey.IsZero() || identityKeyPair.Private.IsZero() {
		return domain.KeyAgreementInitiation{}, ErrMissingKeyMaterial
	}

	ephemeral, err := crypto.GenerateKeyPair()
	if err != nil {
		return domain.KeyAgreementInitiation{}, err
	}
	defer memzero.Zero(ephemeral.Private[:])

	pairs := []dhPair{
		{identityKeyPair.Private, remotePrekey}, // DH1 = DH(IKa, SPKb)
		{ephemeral.Private, remoteIdentityKey},  // DH2 = DH(EKa, IKb)
		{ephemeral.Private, remotePrekey},       // DH3 = DH(EKa, SPKb)
	}
	if remoteOneTimePrekey != nil {
		pairs = append(pairs, dhPair{ephemeral.Private, *remoteOneTimePrekey}) // DH4 = DH(EKa, OPKb)
	}

	secret, err := deriveSharedSecret(pairs, info)
	if err != nil {
		return domain.KeyAgreementInitiation{}, err
	}
	return domain.KeyAgreementInitiation{
		SharedSecret:       secret,
		EphemeralPublicKey: ephemeral.Public,
	}, nil
}

// SharedSecretFromKeyAgreement is the responder mirror of InitiateKeyAgreement.
func SharedSecretFromKeyAgreement(
	remoteIdentityKey domain.X25519Public,
	remoteEphemeralKey domain.X25519Public,
	usedOneTimePrekeyPair *domain.KeyPair,
	identityKeyPair domain.KeyPair,
	prekeyPair domain.KeyPair,
	info string,
) ([]byte, error) {
	if remoteIdentityKey.IsZero() || remoteEphemeralKey.IsZero() ||
		identityKeyPair.Private.IsZero() || prekeyPair.Private.IsZero() {
		return nil, ErrMissingKeyMaterial
	}
	if usedOneTimePrekeyPair != nil && usedOneTimePrekeyPair.Private.IsZero() {
		return nil, ErrMissingKeyMaterial
	}

	pairs := []dhPair{
		{prekeyPair.Private, remoteIdentityKey},       // DH1 = DH(SPKb, IKa)
		{identityKeyPair.Private, remoteEphemeralKey}, // DH2 = DH(IKb, EKa)
		{prekeyPair.Private, remoteEphemeralKey},      // DH3 = DH(SPKb, EKa)
	}
	if usedOneTimePrekeyPair != nil {
		pairs = append(pairs, dhPair{usedOneTimePrekeyPair.Private, remoteEphemeralKey}) // DH4 = DH(OPKb, EKa)
	}
	return deriveSharedSecret(pairs, info)
}

type dhPair struct {
	priv domain.X25519Private
	pub  domain.X25519Public
}

// deriveSharedSecret runs HKDF-SHA256 over F || DH1 || ... || DHn, where F is
// 32 0xFF bytes, with a zero salt.
func deriveSharedSecret(pairs []dhPair, info string) ([]byte, error) {
	ikm := make([]byte, 32, 32*(len(pairs)+1))
	for i := range ikm {
		ikm[i] = 0xFF
	}
	defer func() { memzero.Zero(ikm) }()

	for _, p := range pairs {
		out, err := crypto.DH(p.priv, p.pub)
		if err != nil {
			return nil, fmt.Errorf("x3dh: dh: %w", err)
		}
		ikm = append(ikm, out[:]...)
		memzero.Zero(out[:])
	}

	salt := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, ikm, salt, []byte(info))
	secret := make([]byte, SharedSecretSize)
	if _, err := io.ReadFull(r, secret); err != nil {
		return nil, err
	}
	return secret, nil
}
