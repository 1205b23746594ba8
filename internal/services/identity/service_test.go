package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinpoint/internal/crypto"
	"pinpoint/internal/domain"
	"pinpoint/internal/store"
)

type signer struct {
	priv domain.Ed25519Private
	pub  domain.Ed25519Public
}

func (s signer) PublicKey() domain.Ed25519Public { return s.pub }
func (s signer) Sign(m []byte) ([]byte, error)  { return crypto.SignEd25519(s.priv, m), nil }

func TestCheckPassphrase(t *testing.T) {
	assert.ErrorIs(t, CheckPassphrase("short"), ErrWeakPassphrase)
	assert.ErrorIs(t, CheckPassphrase("alllowercaseletters"), ErrWeakPassphrase)
	assert.ErrorIs(t, CheckPassphrase("NoSymbolsHere123"), ErrWeakPassphrase)
	assert.NoError(t, CheckPassphrase("Correct-Horse-42"))
}

func TestSafetyNumber(t *testing.T) {
	st, err := store.NewFileStore(t.TempDir(), make([]byte, 32))
	require.NoError(t, err)
	priv, pub, err := crypto.GenerateEd25519()
	require.NoError(t, err)
	svc := New(signer{priv, pub}, st)

	_, err = svc.SafetyNumber()
	require.ErrorIs(t, err, ErrNoIdentity)

	pair, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, st.SaveIdentityKeyPair(pair))

	mine, err := svc.SafetyNumber()
	require.NoError(t, err)
	assert.Len(t, mine, 6*5+5)

	peerView := PeerSafetyNumber(domain.PublicKeyBundle{SigningKey: pub, IdentityKey: pair.Public})
	assert.Equal(t, mine, peerView)
	assert.Equal(t, pub, svc.Signer().PublicKey())
}
