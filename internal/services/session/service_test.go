package session_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinpoint/internal/crypto"
	"pinpoint/internal/domain"
	"pinpoint/internal/services/session"
	"pinpoint/internal/store"
	"pinpoint/internal/util/logging"
)

type testSigner struct {
	priv domain.Ed25519Private
	pub  domain.Ed25519Public
}

func newSigner(t *testing.T) *testSigner {
	t.Helper()
	priv, pub, err := crypto.GenerateEd25519()
	require.NoError(t, err)
	return &testSigner{priv: priv, pub: pub}
}

func (s *testSigner) PublicKey() domain.Ed25519Public { return s.pub }
func (s *testSigner) Sign(m []byte) ([]byte, error)  { return crypto.SignEd25519(s.priv, m), nil }

type party struct {
	id     domain.UserID
	svc    *session.Service
	store  *store.FileStore
	keys   domain.UserPublicKeys
	signer *testSigner
}

func newParty(t *testing.T, id domain.UserID, cfg session.Config) *party {
	t.Helper()
	key := make([]byte, 32)
	key[0] = byte(len(id))
	st, err := store.NewFileStore(t.TempDir(), key)
	require.NoError(t, err)

	p := &party{id: id, store: st, signer: newSigner(t)}
	p.svc = session.New(st, cfg, logging.Discard())
	p.keys, err = p.svc.RenewHandshakeKeyMaterial(p.signer)
	require.NoError(t, err)
	return p
}

func testConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.OneTimePrekeyCount = 3
	return cfg
}

// bundle is what a relay would hand out for p, consuming its i-th prekey.
func (p *party) bundle(i int) domain.PublicKeyBundle {
	otpk := p.keys.OneTimePrekeys[i]
	return domain.PublicKeyBundle{
		SigningKey:      p.keys.SigningKey,
		IdentityKey:     p.keys.IdentityKey,
		SignedPrekey:    p.keys.SignedPrekey,
		PrekeySignature: p.keys.PrekeySignature,
		OneTimePrekey:   &otpk,
	}
}

type sealed struct{ data, key []byte }

func seal(t *testing.T, from *party, to domain.UserID, conv domain.ConversationID, plaintext string) sealed {
	t.Helper()
	ck, err := crypto.GenerateContentKey()
	require.NoError(t, err)
	data, err := crypto.SealPayload(ck, []byte(plaintext))
	require.NoError(t, err)
	wrapped, err := from.svc.Encrypt(ck, to, conv)
	require.NoError(t, err)
	return sealed{data: data, key: wrapped}
}

// connect runs the handshake with initiator -> responder on conv.
func connect(t *testing.T, initiator, responder *party, conv domain.ConversationID) {
	t.Helper()
	inv, err := initiator.svc.InitConversation(responder.id, conv, responder.bundle(0))
	require.NoError(t, err)
	require.NoError(t, responder.svc.ProcessConversationInvitation(inv, initiator.id, conv))
}

func TestEndToEnd(t *testing.T) {
	alice := newParty(t, "alice", testConfig())
	bob := newParty(t, "bob", testConfig())
	conv := domain.NonCollapsingConversationID

	inv, err := bob.svc.InitConversation(alice.id, conv, alice.bundle(0))
	require.NoError(t, err)
	assert.Equal(t, bob.keys.IdentityKey, inv.IdentityKey)
	require.NotNil(t, inv.UsedOneTimePrekey)
	assert.Equal(t, alice.keys.OneTimePrekeys[0], *inv.UsedOneTimePrekey)

	require.NoError(t, alice.svc.ProcessConversationInvitation(inv, bob.id, conv))

	ok, err := alice.svc.ConversationExisting(bob.id, conv)
	require.NoError(t, err)
	assert.True(t, ok)

	m := seal(t, bob, alice.id, conv, "hello")
	pt, err := alice.svc.Decrypt(m.data, m.key, bob.id, conv)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(pt))

	m = seal(t, alice, bob.id, conv, "hi")
	pt, err = bob.svc.Decrypt(m.data, m.key, alice.id, conv)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(pt))

	// The other channel is untouched.
	ok, err = alice.svc.ConversationExisting(bob.id, domain.CollapsingConversationID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInitConversation_InvalidSignature(t *testing.T) {
	alice := newParty(t, "alice", testConfig())
	bob := newParty(t, "bob", testConfig())
	conv := domain.NonCollapsingConversationID

	b := alice.bundle(0)
	b.SigningKey = bob.signer.pub

	_, err := bob.svc.InitConversation(alice.id, conv, b)
	assert.ErrorIs(t, err, session.ErrInvalidPrekeySignature)

	ok, err := bob.svc.ConversationExisting(alice.id, conv)
	require.NoError(t, err)
	assert.False(t, ok, "no state after a failed handshake")
}

func TestProcessInvitation_OneTimePrekeyRules(t *testing.T) {
	alice := newParty(t, "alice", testConfig())
	bob := newParty(t, "bob", testConfig())
	conv := domain.NonCollapsingConversationID

	inv, err := bob.svc.InitConversation(alice.id, conv, alice.bundle(1))
	require.NoError(t, err)

	noOTPK := inv
	noOTPK.UsedOneTimePrekey = nil
	assert.ErrorIs(t, alice.svc.ProcessConversationInvitation(noOTPK, bob.id, conv), session.ErrOneTimePrekeyMissing)

	unknown := inv
	k := domain.X25519Public{42}
	unknown.UsedOneTimePrekey = &k
	assert.ErrorIs(t, alice.svc.ProcessConversationInvitation(unknown, bob.id, conv), session.ErrOneTimePrekeyMissing)

	require.NoError(t, alice.svc.ProcessConversationInvitation(inv, bob.id, conv))

	_, ok, err := alice.store.LoadPrivateOneTimePrekey(*inv.UsedOneTimePrekey)
	require.NoError(t, err)
	assert.False(t, ok, "consumed prekey is deleted")

	assert.ErrorIs(t, alice.svc.ProcessConversationInvitation(inv, bob.id, conv), session.ErrOneTimePrekeyMissing)
}

func TestRenewHandshakeKeyMaterial_TopsUp(t *testing.T) {
	alice := newParty(t, "alice", testConfig())
	require.Len(t, alice.keys.OneTimePrekeys, 3)
	assert.True(t, crypto.VerifyEd25519(alice.keys.SigningKey, alice.keys.SignedPrekey.Slice(), alice.keys.PrekeySignature))

	again, err := alice.svc.RenewHandshakeKeyMaterial(alice.signer)
	require.NoError(t, err)
	assert.Equal(t, alice.keys, again, "nothing regenerated when complete")

	bob := newParty(t, "bob", testConfig())
	connect(t, bob, alice, domain.CollapsingConversationID)

	renewed, err := alice.svc.RenewHandshakeKeyMaterial(alice.signer)
	require.NoError(t, err)
	assert.Equal(t, alice.keys.IdentityKey, renewed.IdentityKey)
	assert.Equal(t, alice.keys.SignedPrekey, renewed.SignedPrekey)
	require.Len(t, renewed.OneTimePrekeys, 3)
	assert.NotContains(t, renewed.OneTimePrekeys, alice.keys.OneTimePrekeys[0])
	assert.Contains(t, renewed.OneTimePrekeys, alice.keys.OneTimePrekeys[1])
}

func TestNotInitialized(t *testing.T) {
	alice := newParty(t, "alice", testConfig())
	conv := domain.NonCollapsingConversationID

	_, err := alice.svc.Encrypt([]byte("x"), "bob", conv)
	assert.ErrorIs(t, err, session.ErrConversationNotInitialized)

	_, err = alice.svc.Decrypt([]byte("x"), []byte("{}"), "bob", conv)
	assert.ErrorIs(t, err, session.ErrConversationNotInitialized)
}

func TestInitConversation_RequiresIdentity(t *testing.T) {
	st, err := store.NewFileStore(t.TempDir(), make([]byte, 32))
	require.NoError(t, err)
	svc := session.New(st, testConfig(), logging.Discard())
	alice := newParty(t, "alice", testConfig())

	_, err = svc.InitConversation(alice.id, domain.NonCollapsingConversationID, alice.bundle(0))
	assert.ErrorIs(t, err, session.ErrHandshakeKeyMaterialMissing)
}

func TestResponderCannotSendFirst(t *testing.T) {
	alice := newParty(t, "alice", testConfig())
	bob := newParty(t, "bob", testConfig())
	conv := domain.NonCollapsingConversationID
	connect(t, bob, alice, conv)

	_, err := alice.svc.Encrypt([]byte("key"), bob.id, conv)
	assert.ErrorIs(t, err, session.ErrConversationNotInitialized)
}

func TestDecrypt_ErrorMapping(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSkip = 2
	alice := newParty(t, "alice", cfg)
	bob := newParty(t, "bob", cfg)
	conv := domain.NonCollapsingConversationID
	connect(t, bob, alice, conv)

	msgs := make([]sealed, 5)
	for i := range msgs {
		msgs[i] = seal(t, bob, alice.id, conv, "m")
	}

	_, err := alice.svc.Decrypt(msgs[4].data, msgs[4].key, bob.id, conv)
	assert.ErrorIs(t, err, session.ErrMaxSkipExceeded)

	_, err = alice.svc.Decrypt(msgs[0].data, msgs[0].key, bob.id, conv)
	require.NoError(t, err)
	_, err = alice.svc.Decrypt(msgs[0].data, msgs[0].key, bob.id, conv)
	assert.ErrorIs(t, err, session.ErrDiscardedObsoleteMessage)

	tampered := append([]byte(nil), msgs[1].data...)
	tampered[len(tampered)-1] ^= 0xff
	_, err = alice.svc.Decrypt(tampered, msgs[1].key, bob.id, conv)
	assert.ErrorIs(t, err, session.ErrDecryptionError)

	_, err = alice.svc.Decrypt(msgs[2].data, []byte("not json"), bob.id, conv)
	assert.ErrorIs(t, err, session.ErrDecryptionError)

	pt, err := alice.svc.Decrypt(msgs[2].data, msgs[2].key, bob.id, conv)
	require.NoError(t, err)
	assert.Equal(t, "m", string(pt))
}

func TestConversationFingerprint(t *testing.T) {
	alice := newParty(t, "alice", testConfig())
	bob := newParty(t, "bob", testConfig())
	conv := domain.CollapsingConversationID
	connect(t, bob, alice, conv)

	a := seal(t, bob, alice.id, conv, "1")
	b := seal(t, bob, alice.id, conv, "2")

	fa, err := alice.svc.ConversationFingerprint(a.key)
	require.NoError(t, err)
	fb, err := alice.svc.ConversationFingerprint(b.key)
	require.NoError(t, err)
	assert.Equal(t, fa, fb, "same sending chain, same fingerprint")
	assert.NotEmpty(t, fa)

	_, err = alice.svc.ConversationFingerprint([]byte("garbage"))
	assert.Error(t, err)
}

func TestReinitDropsSkippedKeys(t *testing.T) {
	alice := newParty(t, "alice", testConfig())
	bob := newParty(t, "bob", testConfig())
	conv := domain.NonCollapsingConversationID
	connect(t, bob, alice, conv)

	m0 := seal(t, bob, alice.id, conv, "0")
	m1 := seal(t, bob, alice.id, conv, "1")
	m2 := seal(t, bob, alice.id, conv, "2")
	for _, m := range []sealed{m0, m2} {
		_, err := alice.svc.Decrypt(m.data, m.key, bob.id, conv)
		require.NoError(t, err)
	}

	var wire domain.Message
	require.NoError(t, json.Unmarshal(m1.key, &wire))
	cache := alice.store.MessageKeyCache(bob.id, conv)
	_, ok, err := cache.MessageKey(wire.Header.PublicKey, wire.Header.MessageNumber)
	require.NoError(t, err)
	require.True(t, ok, "key for the gap is cached")

	_, err = alice.svc.InitConversation(bob.id, conv, bob.bundle(1))
	require.NoError(t, err)

	_, ok, err = cache.MessageKey(wire.Header.PublicKey, wire.Header.MessageNumber)
	require.NoError(t, err)
	assert.False(t, ok, "new session starts with an empty cache")

	_, err = alice.svc.Decrypt(m1.data, m1.key, bob.id, conv)
	assert.Error(t, err, "old session traffic does not open under the new one")
}

func TestProcessInvitation_ClearsCache(t *testing.T) {
	alice := newParty(t, "alice", testConfig())
	bob := newParty(t, "bob", testConfig())
	conv := domain.NonCollapsingConversationID
	connect(t, bob, alice, conv)

	m0 := seal(t, bob, alice.id, conv, "0")
	m1 := seal(t, bob, alice.id, conv, "1")
	_, err := alice.svc.Decrypt(m1.data, m1.key, bob.id, conv)
	require.NoError(t, err)

	inv, err := bob.svc.InitConversation(alice.id, conv, alice.bundle(1))
	require.NoError(t, err)
	require.NoError(t, alice.svc.ProcessConversationInvitation(inv, bob.id, conv))

	_, err = alice.svc.Decrypt(m0.data, m0.key, bob.id, conv)
	assert.Error(t, err)

	m := seal(t, bob, alice.id, conv, "fresh")
	pt, err := alice.svc.Decrypt(m.data, m.key, bob.id, conv)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(pt))
}

func TestEncrypt_Concurrent(t *testing.T) {
	alice := newParty(t, "alice", testConfig())
	bob := newParty(t, "bob", testConfig())
	conv := domain.NonCollapsingConversationID
	connect(t, alice, bob, conv)

	const n = 16
	contentKeys := make([][]byte, n)
	data := make([][]byte, n)
	for i := range contentKeys {
		ck, err := crypto.GenerateContentKey()
		require.NoError(t, err)
		contentKeys[i] = ck
		data[i], err = crypto.SealPayload(ck, []byte{byte(i)})
		require.NoError(t, err)
	}

	wrapped := make([][]byte, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wrapped[i], errs[i] = alice.svc.Encrypt(contentKeys[i], bob.id, conv)
		}(i)
	}
	wg.Wait()

	seen := make(map[uint32]bool, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		var wire domain.Message
		require.NoError(t, json.Unmarshal(wrapped[i], &wire))
		assert.False(t, seen[wire.Header.MessageNumber], "message number %d reused", wire.Header.MessageNumber)
		seen[wire.Header.MessageNumber] = true
	}
	for i := uint32(0); i < n; i++ {
		assert.True(t, seen[i], "message number %d missing", i)
	}

	for i := 0; i < n; i++ {
		pt, err := bob.svc.Decrypt(data[i], wrapped[i], alice.id, conv)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, pt)
	}
}

func TestProcessInvitation_ConcurrentSamePrekey(t *testing.T) {
	alice := newParty(t, "alice", testConfig())
	bob := newParty(t, "bob", testConfig())
	carol := newParty(t, "carol", testConfig())

	inv, err := bob.svc.InitConversation(alice.id, domain.NonCollapsingConversationID, alice.bundle(0))
	require.NoError(t, err)

	// The same prekey offered twice, once per channel and sender.
	calls := []struct {
		from domain.UserID
		conv domain.ConversationID
	}{
		{bob.id, domain.NonCollapsingConversationID},
		{carol.id, domain.CollapsingConversationID},
	}
	errs := make([]error, len(calls))

	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Add(1)
		go func(i int, from domain.UserID, conv domain.ConversationID) {
			defer wg.Done()
			errs[i] = alice.svc.ProcessConversationInvitation(inv, from, conv)
		}(i, c.from, c.conv)
	}
	wg.Wait()

	var ok, missing int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, session.ErrOneTimePrekeyMissing):
			missing++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok, "exactly one handshake consumes the prekey")
	assert.Equal(t, 1, missing)
}
