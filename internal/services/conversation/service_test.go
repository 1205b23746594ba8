package conversation_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinpoint/internal/crypto"
	"pinpoint/internal/domain"
	"pinpoint/internal/relay"
	"pinpoint/internal/services/conversation"
	"pinpoint/internal/services/session"
	"pinpoint/internal/store"
	"pinpoint/internal/util/clock"
	"pinpoint/internal/util/logging"
)

const resetTimeout = time.Minute

type signer struct {
	priv domain.Ed25519Private
	pub  domain.Ed25519Public
}

func (s signer) PublicKey() domain.Ed25519Public { return s.pub }
func (s signer) Sign(m []byte) ([]byte, error)  { return crypto.SignEd25519(s.priv, m), nil }

type resetCall struct {
	to                  domain.UserID
	receiverCertificate *domain.Certificate
	senderCertificate   *domain.Certificate
	collapseID          *domain.CollapseID
}

// replier records reset replies and optionally delivers them.
type replier struct {
	mu      sync.Mutex
	calls   []resetCall
	deliver func(resetCall)
}

func (r *replier) SendResetReply(
	_ context.Context,
	to domain.UserID,
	receiverCertificate, senderCertificate *domain.Certificate,
	collapseID *domain.CollapseID,
) error {
	c := resetCall{to, receiverCertificate, senderCertificate, collapseID}
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
	if r.deliver != nil {
		r.deliver(c)
	}
	return nil
}

func (r *replier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type peer struct {
	id      domain.UserID
	store   *store.FileStore
	crypto  *session.Service
	mgr     *conversation.Service
	replier *replier
}

type world struct {
	relay *relay.Memory
	clock *clock.Fake
}

func newWorld() *world {
	return &world{relay: relay.NewMemory(), clock: clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))}
}

func (w *world) peer(t *testing.T, id domain.UserID) *peer {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir(), make([]byte, 32))
	require.NoError(t, err)

	cfg := session.DefaultConfig()
	cfg.OneTimePrekeyCount = 5
	mw := session.New(st, cfg, logging.Discard())

	priv, pub, err := crypto.GenerateEd25519()
	require.NoError(t, err)
	keys, err := mw.RenewHandshakeKeyMaterial(signer{priv, pub})
	require.NoError(t, err)
	require.NoError(t, w.relay.PublishUserKeys(context.Background(), id, keys))

	p := &peer{id: id, store: st, crypto: mw, replier: &replier{}}
	p.mgr = conversation.New(mw, st, w.relay, conversation.Options{
		ResendResetTimeout: resetTimeout,
		Clock:              w.clock,
		Log:                logging.Discard(),
	})
	p.mgr.SetResetReplier(p.replier)
	return p
}

type envelope struct {
	payload domain.EncryptedPayloadContainer
	meta    domain.PayloadMetaInfo
}

func (w *world) send(t *testing.T, from, to *peer, pc domain.PayloadContainer, collapsing bool) envelope {
	t.Helper()
	ctx := context.Background()

	raw, err := json.Marshal(pc)
	require.NoError(t, err)
	ck, err := crypto.GenerateContentKey()
	require.NoError(t, err)
	ct, err := crypto.SealPayload(ck, raw)
	require.NoError(t, err)

	ek, err := from.mgr.Encrypt(ctx, ck, to.id, collapsing)
	require.NoError(t, err)
	inv, err := from.mgr.ConversationInvitation(to.id, collapsing)
	require.NoError(t, err)

	cert := domain.Certificate("cert-" + from.id.String())
	peerCert := domain.Certificate("cert-" + to.id.String())
	meta := domain.PayloadMetaInfo{
		EnvelopeID:                                uuid.New(),
		SenderID:                                  from.id,
		Timestamp:                                 w.clock.Now(),
		SenderServerSignedMembershipCertificate:   &cert,
		ReceiverServerSignedMembershipCertificate: &peerCert,
		ConversationInvitation:                    inv,
	}
	if collapsing {
		cid := domain.CollapseID("location")
		meta.CollapseID = &cid
	}
	return envelope{payload: domain.EncryptedPayloadContainer{Ciphertext: ct, EncryptedKey: ek}, meta: meta}
}

func text(t *testing.T, s string) domain.PayloadContainer {
	t.Helper()
	b, err := json.Marshal(domain.TextMessage{Text: s})
	require.NoError(t, err)
	return domain.PayloadContainer{PayloadType: domain.PayloadTypeTextMessage, Payload: b}
}

func (w *world) sendText(t *testing.T, from, to *peer, s string, collapsing bool) envelope {
	return w.send(t, from, to, text(t, s), collapsing)
}

func receive(to *peer, e envelope) (string, error) {
	pc, err := to.mgr.Decrypt(context.Background(), e.payload, e.meta)
	if err != nil {
		return "", err
	}
	var tm domain.TextMessage
	if err := json.Unmarshal(pc.Payload, &tm); err != nil {
		return "", err
	}
	return tm.Text, nil
}

func mustReceive(t *testing.T, to *peer, e envelope, want string) {
	t.Helper()
	got, err := receive(to, e)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEndToEnd(t *testing.T) {
	w := newWorld()
	alice, bob := w.peer(t, "alice"), w.peer(t, "bob")

	m := w.sendText(t, bob, alice, "hello", false)
	require.NotNil(t, m.meta.ConversationInvitation, "first message carries the invitation")
	mustReceive(t, alice, m, "hello")

	reply := w.sendText(t, alice, bob, "hi", false)
	assert.Nil(t, reply.meta.ConversationInvitation, "responder has nothing pending")
	mustReceive(t, bob, reply, "hi")

	inv, err := bob.mgr.ConversationInvitation(alice.id, false)
	require.NoError(t, err)
	assert.Nil(t, inv, "outbound invitation dropped once the peer answered")

	for _, s := range []string{"one", "two"} {
		mustReceive(t, alice, w.sendText(t, bob, alice, s, false), s)
	}
	assert.Zero(t, alice.replier.count())
	assert.Zero(t, bob.replier.count())
}

func TestChannelsAreIndependent(t *testing.T) {
	w := newWorld()
	alice, bob := w.peer(t, "alice"), w.peer(t, "bob")

	mustReceive(t, alice, w.sendText(t, bob, alice, "reliable", false), "reliable")

	ok, err := bob.mgr.IsConversationInitialized(alice.id, true)
	require.NoError(t, err)
	assert.False(t, ok)

	m := w.sendText(t, bob, alice, "where", true)
	require.NotNil(t, m.meta.CollapseID)
	require.NotNil(t, m.meta.ConversationInvitation, "collapsing channel needs its own handshake")
	mustReceive(t, alice, m, "where")

	ok, err = bob.mgr.IsConversationInitialized(alice.id, true)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInitConversation_UnknownPeer(t *testing.T) {
	w := newWorld()
	alice := w.peer(t, "alice")
	err := alice.mgr.InitConversation(context.Background(), "nobody", false)
	assert.ErrorIs(t, err, relay.ErrUnknownUser)
}

func TestDecrypt_NoConversationNoInvitation(t *testing.T) {
	w := newWorld()
	alice, bob := w.peer(t, "alice"), w.peer(t, "bob")
	carol := w.peer(t, "carol")

	m := w.sendText(t, bob, carol, "for carol", false)
	m.meta.ConversationInvitation = nil

	_, err := receive(alice, m)
	assert.ErrorIs(t, err, conversation.ErrInvalidConversation)
	assert.Zero(t, alice.replier.count())
}

func TestReplayIsObsolete(t *testing.T) {
	w := newWorld()
	alice, bob := w.peer(t, "alice"), w.peer(t, "bob")

	m := w.sendText(t, bob, alice, "once", false)
	mustReceive(t, alice, m, "once")

	_, err := receive(alice, m)
	assert.ErrorIs(t, err, conversation.ErrObsoleteMessage)
	assert.Zero(t, alice.replier.count(), "obsolete messages never trigger a reset")
}

func TestOutOfOrderDelivery(t *testing.T) {
	w := newWorld()
	alice, bob := w.peer(t, "alice"), w.peer(t, "bob")

	mustReceive(t, alice, w.sendText(t, bob, alice, "0", false), "0")
	m1 := w.sendText(t, bob, alice, "1", false)
	m2 := w.sendText(t, bob, alice, "2", false)
	m3 := w.sendText(t, bob, alice, "3", false)

	mustReceive(t, alice, m2, "2")
	mustReceive(t, alice, m3, "3")
	mustReceive(t, alice, m1, "1")

	_, err := receive(alice, m1)
	assert.ErrorIs(t, err, conversation.ErrObsoleteMessage)
}

func tamper(e envelope) envelope {
	ct := append([]byte(nil), e.payload.Ciphertext...)
	ct[len(ct)-1] ^= 0xff
	e.payload.Ciphertext = ct
	return e
}

func TestResetSuppression(t *testing.T) {
	w := newWorld()
	alice, bob := w.peer(t, "alice"), w.peer(t, "bob")

	mustReceive(t, alice, w.sendText(t, bob, alice, "hello", false), "hello")
	m1 := w.sendText(t, bob, alice, "1", false)
	m2 := w.sendText(t, bob, alice, "2", false)
	m3 := w.sendText(t, bob, alice, "3", false)

	_, err := receive(alice, tamper(m1))
	assert.ErrorIs(t, err, conversation.ErrConversationHasBeenResynced)
	require.Equal(t, 1, alice.replier.count())

	call := alice.replier.calls[0]
	assert.Equal(t, bob.id, call.to)
	require.NotNil(t, call.receiverCertificate)
	require.NotNil(t, call.senderCertificate)
	assert.Equal(t, domain.Certificate("cert-bob"), *call.receiverCertificate, "certificates are swapped for the reply")
	assert.Equal(t, domain.Certificate("cert-alice"), *call.senderCertificate)
	assert.Nil(t, call.collapseID)

	inv, err := alice.mgr.ConversationInvitation(bob.id, false)
	require.NoError(t, err)
	assert.NotNil(t, inv, "reset mints a fresh outbound invitation")

	w.clock.Advance(resetTimeout / 2)
	_, err = receive(alice, m2)
	assert.ErrorIs(t, err, conversation.ErrInvalidConversation)
	assert.Equal(t, 1, alice.replier.count(), "second failure inside the window is suppressed")

	w.clock.Advance(resetTimeout)
	_, err = receive(alice, m3)
	assert.ErrorIs(t, err, conversation.ErrConversationHasBeenResynced)
	assert.Equal(t, 2, alice.replier.count(), "window elapsed, reset sent again")
}

func TestResetKeepsCollapseID(t *testing.T) {
	w := newWorld()
	alice, bob := w.peer(t, "alice"), w.peer(t, "bob")

	mustReceive(t, alice, w.sendText(t, bob, alice, "x", true), "x")
	_, err := receive(alice, tamper(w.sendText(t, bob, alice, "y", true)))
	assert.ErrorIs(t, err, conversation.ErrConversationHasBeenResynced)

	require.Equal(t, 1, alice.replier.count())
	require.NotNil(t, alice.replier.calls[0].collapseID)
	assert.Equal(t, domain.CollapseID("location"), *alice.replier.calls[0].collapseID)
}

func TestPreResetDiscard(t *testing.T) {
	w := newWorld()
	alice, bob := w.peer(t, "alice"), w.peer(t, "bob")

	mustReceive(t, alice, w.sendText(t, bob, alice, "hello", false), "hello")
	late := w.sendText(t, bob, alice, "late", false)

	w.clock.Advance(time.Second)
	require.NoError(t, alice.mgr.HandleConversationResync(domain.PayloadMetaInfo{
		SenderID:  bob.id,
		Timestamp: w.clock.Now(),
	}))

	_, err := receive(alice, late)
	assert.ErrorIs(t, err, conversation.ErrInvalidConversation)
	assert.Zero(t, alice.replier.count())

	// The message was rejected before decryption, so the session still has its key.
	late.meta.Timestamp = w.clock.Now()
	mustReceive(t, alice, late, "late")
}

func TestInvitationRace_NewerWins(t *testing.T) {
	w := newWorld()
	alice, bob := w.peer(t, "alice"), w.peer(t, "bob")

	fromAlice := w.sendText(t, alice, bob, "from alice", false)
	w.clock.Advance(time.Second)
	fromBob := w.sendText(t, bob, alice, "from bob", false)

	_, err := receive(bob, fromAlice)
	assert.ErrorIs(t, err, conversation.ErrInvalidConversation, "bob keeps his newer invitation")

	mustReceive(t, alice, fromBob, "from bob")
	inv, err := alice.mgr.ConversationInvitation(bob.id, false)
	require.NoError(t, err)
	assert.Nil(t, inv, "alice dropped her losing invitation")

	mustReceive(t, bob, w.sendText(t, alice, bob, "converged", false), "converged")
	mustReceive(t, alice, w.sendText(t, bob, alice, "yes", false), "yes")
}

func TestInvitationRace_TieBreak(t *testing.T) {
	w := newWorld()
	alice, bob := w.peer(t, "alice"), w.peer(t, "bob")

	fromAlice := w.sendText(t, alice, bob, "a", false)
	fromBob := w.sendText(t, bob, alice, "b", false)
	require.True(t, fromAlice.meta.Timestamp.Equal(fromBob.meta.Timestamp))

	_, errBob := receive(bob, fromAlice)
	_, errAlice := receive(alice, fromBob)
	require.NotEqual(t, errAlice == nil, errBob == nil, "exactly one invitation wins")

	winner, loser := bob, alice
	if errBob == nil {
		winner, loser = alice, bob
	}
	mustReceive(t, winner, w.sendText(t, loser, winner, "ack", false), "ack")
	mustReceive(t, loser, w.sendText(t, winner, loser, "ok", false), "ok")
}

func TestStaleInvitationRejected(t *testing.T) {
	w := newWorld()
	alice, bob := w.peer(t, "alice"), w.peer(t, "bob")

	first := w.sendText(t, bob, alice, "first", false)
	mustReceive(t, alice, first, "first")

	// Bob starts over; his new invitation is newer and replaces the session.
	w.clock.Advance(time.Second)
	require.NoError(t, bob.mgr.InitConversation(context.Background(), alice.id, false))
	second := w.sendText(t, bob, alice, "second", false)
	mustReceive(t, alice, second, "second")

	// A copy of the first invitation with a timestamp not newer than the
	// accepted one is refused.
	old := w.sendText(t, bob, alice, "old", false)
	old.meta.ConversationInvitation = first.meta.ConversationInvitation
	old.meta.Timestamp = second.meta.Timestamp
	_, err := receive(alice, old)
	assert.ErrorIs(t, err, conversation.ErrInvalidConversation)
	assert.Zero(t, alice.replier.count())
}

func TestResetRoundTrip(t *testing.T) {
	w := newWorld()
	alice, bob := w.peer(t, "alice"), w.peer(t, "bob")

	var resets []envelope
	alice.replier.deliver = func(c resetCall) {
		reset := domain.PayloadContainer{PayloadType: domain.PayloadTypeResetConversation, Payload: json.RawMessage(`{}`)}
		resets = append(resets, w.send(t, alice, bob, reset, c.collapseID != nil))
	}

	mustReceive(t, alice, w.sendText(t, bob, alice, "hello", false), "hello")
	mustReceive(t, bob, w.sendText(t, alice, bob, "hi", false), "hi")

	broken := tamper(w.sendText(t, bob, alice, "broken", false))
	stale := w.sendText(t, bob, alice, "stale", false)
	_, err := receive(alice, broken)
	require.ErrorIs(t, err, conversation.ErrConversationHasBeenResynced)
	require.Len(t, resets, 1)
	require.NotNil(t, resets[0].meta.ConversationInvitation)

	w.clock.Advance(time.Second)
	pc, err := bob.mgr.Decrypt(context.Background(), resets[0].payload, resets[0].meta)
	require.NoError(t, err)
	require.Equal(t, domain.PayloadTypeResetConversation, pc.PayloadType)
	require.NoError(t, bob.mgr.HandleConversationResync(resets[0].meta))

	mustReceive(t, alice, w.sendText(t, bob, alice, "after reset", false), "after reset")
	inv, err := alice.mgr.ConversationInvitation(bob.id, false)
	require.NoError(t, err)
	assert.Nil(t, inv)

	// Traffic bob sent on the old session is gone for good and is not
	// answered with another reset while the window is open.
	_, err = receive(alice, stale)
	assert.ErrorIs(t, err, conversation.ErrInvalidConversation)
	assert.Equal(t, 1, alice.replier.count())
}

func TestNoResetReplier(t *testing.T) {
	w := newWorld()
	alice, bob := w.peer(t, "alice"), w.peer(t, "bob")
	alice.mgr.SetResetReplier(nil)

	mustReceive(t, alice, w.sendText(t, bob, alice, "hello", false), "hello")
	_, err := receive(alice, tamper(w.sendText(t, bob, alice, "x", false)))
	assert.ErrorIs(t, err, conversation.ErrNoResetReplier)
}

func TestResetDropsSkippedKeys(t *testing.T) {
	w := newWorld()
	alice, bob := w.peer(t, "alice"), w.peer(t, "bob")

	mustReceive(t, alice, w.sendText(t, bob, alice, "0", false), "0")
	m1 := w.sendText(t, bob, alice, "1", false)
	m2 := w.sendText(t, bob, alice, "2", false)
	m3 := w.sendText(t, bob, alice, "3", false)
	mustReceive(t, alice, m2, "2")

	w.clock.Advance(time.Second)
	_, err := receive(alice, tamper(m3))
	require.ErrorIs(t, err, conversation.ErrConversationHasBeenResynced)

	// The key cached for m1 belonged to the replaced session.
	_, err = receive(alice, m1)
	assert.ErrorIs(t, err, conversation.ErrInvalidConversation)
	assert.Equal(t, 1, alice.replier.count())

	inv, err := alice.mgr.ConversationInvitation(bob.id, false)
	require.NoError(t, err)
	require.NotNil(t, inv, "pending invitation survives until bob answers the new session")

	w.clock.Advance(time.Second)
	again := w.sendText(t, alice, bob, "again", false)
	require.NotNil(t, again.meta.ConversationInvitation)
	mustReceive(t, bob, again, "again")
	mustReceive(t, alice, w.sendText(t, bob, alice, "ack", false), "ack")

	assert.Equal(t, 1, alice.replier.count())
	assert.Zero(t, bob.replier.count())
}

func TestConcurrentFailuresSendOneReset(t *testing.T) {
	w := newWorld()
	alice, bob := w.peer(t, "alice"), w.peer(t, "bob")

	mustReceive(t, alice, w.sendText(t, bob, alice, "hello", false), "hello")
	broken := make([]envelope, 6)
	for i := range broken {
		broken[i] = tamper(w.sendText(t, bob, alice, "x", false))
	}

	errs := make([]error, len(broken))
	var wg sync.WaitGroup
	for i, e := range broken {
		wg.Add(1)
		go func(i int, e envelope) {
			defer wg.Done()
			_, errs[i] = receive(alice, e)
		}(i, e)
	}
	wg.Wait()

	var resynced, invalid int
	for _, err := range errs {
		switch {
		case errors.Is(err, conversation.ErrConversationHasBeenResynced):
			resynced++
		case errors.Is(err, conversation.ErrInvalidConversation):
			invalid++
		default:
			t.Fatalf("unexpected result: %v", err)
		}
	}
	assert.Equal(t, 1, resynced)
	assert.Equal(t, len(broken)-1, invalid)
	assert.Equal(t, 1, alice.replier.count(), "one chain, one reset")
}

func TestConcurrentReceiveAcrossChannels(t *testing.T) {
	w := newWorld()
	alice, bob := w.peer(t, "alice"), w.peer(t, "bob")

	const n = 8
	var reliable, collapsing []envelope
	for i := 0; i < n; i++ {
		reliable = append(reliable, w.sendText(t, bob, alice, "r", false))
		collapsing = append(collapsing, w.sendText(t, bob, alice, "c", true))
	}

	errs := make([]error, 2*n)
	var wg sync.WaitGroup
	for i, e := range append(reliable, collapsing...) {
		wg.Add(1)
		go func(i int, e envelope) {
			defer wg.Done()
			_, errs[i] = receive(alice, e)
		}(i, e)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Zero(t, alice.replier.count())
}

func TestFailedInvitationIsNotRecorded(t *testing.T) {
	w := newWorld()
	alice, bob := w.peer(t, "alice"), w.peer(t, "bob")
	alice.mgr.SetResetReplier(nil)

	m := w.sendText(t, bob, alice, "hello", false)
	bad := m
	inv := *m.meta.ConversationInvitation
	unknown := domain.X25519Public{42}
	inv.UsedOneTimePrekey = &unknown
	bad.meta.ConversationInvitation = &inv

	_, err := receive(alice, bad)
	assert.ErrorIs(t, err, conversation.ErrNoResetReplier)

	_, ok, err := alice.store.InboundConversationInvitation(bob.id, domain.NonCollapsingConversationID)
	require.NoError(t, err)
	assert.False(t, ok, "an invitation that could not be processed is not kept")

	// The genuine copy carries the same timestamp and is still accepted.
	alice.mgr.SetResetReplier(alice.replier)
	mustReceive(t, alice, m, "hello")

	rec, ok, err := alice.store.InboundConversationInvitation(bob.id, domain.NonCollapsingConversationID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, rec.ConversationInvitation.Equal(*m.meta.ConversationInvitation))
}

func TestDecrypt_InvalidPayload(t *testing.T) {
	w := newWorld()
	alice, bob := w.peer(t, "alice"), w.peer(t, "bob")
	ctx := context.Background()

	mustReceive(t, alice, w.sendText(t, bob, alice, "hello", false), "hello")

	ck, err := crypto.GenerateContentKey()
	require.NoError(t, err)
	ct, err := crypto.SealPayload(ck, []byte("not a container"))
	require.NoError(t, err)
	ek, err := bob.mgr.Encrypt(ctx, ck, alice.id, false)
	require.NoError(t, err)
	junk := envelope{
		payload: domain.EncryptedPayloadContainer{Ciphertext: ct, EncryptedKey: ek},
		meta:    domain.PayloadMetaInfo{EnvelopeID: uuid.New(), SenderID: bob.id, Timestamp: w.clock.Now()},
	}

	_, err = receive(alice, junk)
	assert.ErrorIs(t, err, conversation.ErrInvalidPayload)

	_, err = receive(alice, junk)
	assert.ErrorIs(t, err, conversation.ErrObsoleteMessage, "the ratchet moved past it")
	mustReceive(t, alice, w.sendText(t, bob, alice, "next", false), "next")
	assert.Zero(t, alice.replier.count())
}
