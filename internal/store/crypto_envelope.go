package store

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// The current supported version of the sealed blob format stored on disk.
	sealedFormatVersion = 1
)

var (
	// ErrWrongKey is returned when the storage key is incorrect or the
	// ciphertext has been modified / corrupted.
	ErrWrongKey = errors.New("wrong storage key or corrupted store")
)

// blob is the on-disk JSON structure holding a sealed file.
type blob struct {
	V      int    `json:"v"`
	Nonce  []byte `json:"nonce"`
	Cipher []byte `json:"cipher"`
}

// sealer encrypts whole files under the storage key. The file name is bound
// as associated data so blobs cannot be swapped between files.
type sealer struct {
	aead cipher.AEAD
}

func newSealer(key []byte) (*sealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("storage key must be %d bytes", chacha20poly1305.KeySize)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &sealer{aead: aead}, nil
}

func (s *sealer) seal(raw, ad []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return json.Marshal(blob{
		V:      sealedFormatVersion,
		Nonce:  nonce,
		Cipher: s.aead.Seal(nil, nonce, raw, ad),
	})
}

func (s *sealer) open(b, ad []byte) ([]byte, error) {
	var bl blob
	if err := json.Unmarshal(b, &bl); err != nil {
		return nil, err
	}
	if bl.V > sealedFormatVersion {
		return nil, fmt.Errorf("unsupported store version %d", bl.V)
	}
	if len(bl.Nonce) != s.aead.NonceSize() {
		return nil, ErrWrongKey
	}
	pt, err := s.aead.Open(nil, bl.Nonce, bl.Cipher, ad)
	if err != nil {
		return nil, ErrWrongKey
	}
	return pt, nil
}
