package crypto_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinpoint/internal/crypto"
)

func TestDH_Agrees(t *testing.T) {
	aPriv, aPub, err := crypto.GenerateX25519()
	require.NoError(t, err)
	bPriv, bPub, err := crypto.GenerateX25519()
	require.NoError(t, err)

	ab, err := crypto.DH(aPriv, bPub)
	require.NoError(t, err)
	ba, err := crypto.DH(bPriv, aPub)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
}

func TestPrekeySignatureVerifier(t *testing.T) {
	edPriv, edPub, err := crypto.GenerateEd25519()
	require.NoError(t, err)
	pair, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	sig := crypto.SignEd25519(edPriv, pair.Public.Slice())
	ok, err := crypto.PrekeySignatureVerifier(edPub, pair.Public)(sig)
	require.NoError(t, err)
	assert.True(t, ok)

	sig[0] ^= 0xff
	ok, _ = crypto.PrekeySignatureVerifier(edPub, pair.Public)(sig)
	assert.False(t, ok)

	ok, _ = crypto.PrekeySignatureVerifier(edPub, pair.Public)([]byte("short"))
	assert.False(t, ok)
}

func TestPayload_SealOpen(t *testing.T) {
	key, err := crypto.GenerateContentKey()
	require.NoError(t, err)

	ct, err := crypto.SealPayload(key, []byte("meet at the fountain"))
	require.NoError(t, err)
	assert.False(t, bytes.Contains(ct, []byte("fountain")))

	pt, err := crypto.OpenPayload(key, ct)
	require.NoError(t, err)
	assert.Equal(t, "meet at the fountain", string(pt))

	ct[len(ct)-1] ^= 0x01
	_, err = crypto.OpenPayload(key, ct)
	assert.ErrorIs(t, err, crypto.ErrPayloadAuthentication)

	_, err = crypto.OpenPayload(key, []byte{1, 2, 3})
	assert.ErrorIs(t, err, crypto.ErrPayloadAuthentication)
}

func TestDeriveStorageKey(t *testing.T) {
	salt, err := crypto.NewSalt()
	require.NoError(t, err)

	k1, err := crypto.DeriveStorageKey("correct horse", salt)
	require.NoError(t, err)
	k2, err := crypto.DeriveStorageKey("correct horse", salt)
	require.NoError(t, err)
	k3, err := crypto.DeriveStorageKey("battery staple", salt)
	require.NoError(t, err)

	assert.Len(t, k1, crypto.StorageKeySize)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)

	_, err = crypto.DeriveStorageKey("", salt)
	assert.Error(t, err)
	_, err = crypto.DeriveStorageKey("x", []byte{1})
	assert.Error(t, err)
}

func TestSafetyNumber_Stable(t *testing.T) {
	a := crypto.SafetyNumber([]byte{1, 2, 3}, []byte{4, 5, 6})
	b := crypto.SafetyNumber([]byte{1, 2, 3}, []byte{4, 5, 6})
	c := crypto.SafetyNumber([]byte{1, 2, 3}, []byte{4, 5, 7})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 6*5+5)
	assert.Len(t, crypto.Fingerprint([]byte("key")), 20)
}
