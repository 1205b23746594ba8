package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// ContentKeySize is the length of a payload content key.
const ContentKeySize = chacha20poly1305.KeySize

// ErrPayloadAuthentication is returned when a payload fails to open.
var ErrPayloadAuthentication = errors.New("payload authentication failed")

// GenerateContentKey returns a fresh random key for one payload.
func GenerateContentKey() ([]byte, error) {
	key := make([]byte, ContentKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// SealPayload encrypts plaintext with XChaCha20-Poly1305 under key.
// The random nonce is prepended to the ciphertext.
func SealPayload(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// OpenPayload reverses SealPayload.
func OpenPayload(key, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrPayloadAuthentication
	}
	nonce, body := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, ErrPayloadAuthentication
	}
	return pt, nil
}
