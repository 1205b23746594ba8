package prekey_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinpoint/internal/crypto"
	"pinpoint/internal/domain"
	"pinpoint/internal/relay"
	"pinpoint/internal/services/prekey"
	"pinpoint/internal/services/session"
	"pinpoint/internal/store"
	"pinpoint/internal/util/logging"
)

type signer struct {
	priv domain.Ed25519Private
	pub  domain.Ed25519Public
}

func (s signer) PublicKey() domain.Ed25519Public { return s.pub }
func (s signer) Sign(m []byte) ([]byte, error)  { return crypto.SignEd25519(s.priv, m), nil }

func TestPublish(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewFileStore(t.TempDir(), make([]byte, 32))
	require.NoError(t, err)
	cfg := session.DefaultConfig()
	cfg.OneTimePrekeyCount = 3
	mw := session.New(st, cfg, logging.Discard())
	r := relay.NewMemory()

	priv, pub, err := crypto.GenerateEd25519()
	require.NoError(t, err)
	svc := prekey.New("alice", mw, r, logging.Discard())

	keys, err := svc.Publish(ctx, signer{priv, pub})
	require.NoError(t, err)
	assert.Len(t, keys.OneTimePrekeys, 3)

	bundle, err := r.GetUserKeys(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, pub, bundle.SigningKey)
	assert.Equal(t, keys.IdentityKey, bundle.IdentityKey)
	require.NotNil(t, bundle.OneTimePrekey)
	assert.Equal(t, keys.OneTimePrekeys[0], *bundle.OneTimePrekey)
	assert.True(t, crypto.VerifyEd25519(pub, bundle.SignedPrekey.Slice(), bundle.PrekeySignature))

	again, err := svc.Publish(ctx, signer{priv, pub})
	require.NoError(t, err)
	assert.Equal(t, keys.SignedPrekey, again.SignedPrekey, "signed prekey is kept")
	assert.Len(t, again.OneTimePrekeys, 3)
}

func TestPublish_NoSigner(t *testing.T) {
	st, err := store.NewFileStore(t.TempDir(), make([]byte, 32))
	require.NoError(t, err)
	mw := session.New(st, session.DefaultConfig(), logging.Discard())

	_, err = prekey.New("alice", mw, relay.NewMemory(), logging.Discard()).Publish(context.Background(), nil)
	assert.ErrorIs(t, err, session.ErrHandshakeKeyMaterialMissing)
}
