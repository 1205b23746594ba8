// Package storetest holds a behavioural test suite shared by every
// domain.Storage implementation.
package storetest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinpoint/internal/domain"
)

// Run exercises open against the full storage contract. open must return a
// fresh, empty store on every call.
func Run(t *testing.T, open func(t *testing.T) domain.Storage) {
	t.Run("IdentityKeyPair", func(t *testing.T) { testIdentity(t, open(t)) })
	t.Run("Prekeys", func(t *testing.T) { testPrekeys(t, open(t)) })
	t.Run("ConversationState", func(t *testing.T) { testConversationState(t, open(t)) })
	t.Run("MessageKeyCache", func(t *testing.T) { testMessageKeyCache(t, open(t)) })
	t.Run("Invitations", func(t *testing.T) { testInvitations(t, open(t)) })
	t.Run("Resync", func(t *testing.T) { testResync(t, open(t)) })
}

func pub(b byte) domain.X25519Public  { return domain.X25519Public{b} }
func priv(b byte) domain.X25519Private { return domain.X25519Private{b} }

const (
	alice domain.UserID = "alice"
	bob   domain.UserID = "bob"
)

func testIdentity(t *testing.T, s domain.Storage) {
	_, ok, err := s.LoadIdentityKeyPair()
	require.NoError(t, err)
	assert.False(t, ok)

	pair := domain.KeyPair{Private: priv(1), Public: pub(2)}
	require.NoError(t, s.SaveIdentityKeyPair(pair))

	got, ok, err := s.LoadIdentityKeyPair()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pair, got)
}

func testPrekeys(t *testing.T, s domain.Storage) {
	_, _, ok, err := s.LoadPrekeyPair()
	require.NoError(t, err)
	assert.False(t, ok)

	spk := domain.KeyPair{Private: priv(3), Public: pub(4)}
	require.NoError(t, s.SavePrekeyPair(spk, []byte("sig")))
	got, sig, ok, err := s.LoadPrekeyPair()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, spk, got)
	assert.Equal(t, []byte("sig"), sig)

	require.NoError(t, s.SaveOneTimePrekeyPairs([]domain.KeyPair{
		{Private: priv(10), Public: pub(11)},
		{Private: priv(12), Public: pub(13)},
	}))
	require.NoError(t, s.SaveOneTimePrekeyPairs([]domain.KeyPair{{Private: priv(14), Public: pub(15)}}))

	list, err := s.ListOneTimePrekeyPublics()
	require.NoError(t, err)
	assert.Equal(t, []domain.X25519Public{pub(11), pub(13), pub(15)}, list)

	k, ok, err := s.LoadPrivateOneTimePrekey(pub(13))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, priv(12), k)

	require.NoError(t, s.DeleteOneTimePrekeyPair(pub(13)))
	require.NoError(t, s.DeleteOneTimePrekeyPair(pub(99)))
	_, ok, err = s.LoadPrivateOneTimePrekey(pub(13))
	require.NoError(t, err)
	assert.False(t, ok)

	list, err = s.ListOneTimePrekeyPublics()
	require.NoError(t, err)
	assert.Equal(t, []domain.X25519Public{pub(11), pub(15)}, list)

	// The signed prekey survives pool changes.
	_, _, ok, err = s.LoadPrekeyPair()
	require.NoError(t, err)
	assert.True(t, ok)
}

func testConversationState(t *testing.T, s domain.Storage) {
	_, ok, err := s.LoadConversationState(bob, domain.NonCollapsingConversationID)
	require.NoError(t, err)
	assert.False(t, ok)

	remote := pub(7)
	state := domain.ConversationState{
		UserID:         bob,
		ConversationID: domain.NonCollapsingConversationID,
		State: domain.SessionState{
			RootKey:                  []byte("root"),
			RootChainKeyPair:         domain.KeyPair{Private: priv(5), Public: pub(6)},
			RootChainRemotePublicKey: &remote,
			SendingChainKey:          []byte("send"),
			SendMessageNumber:        3,
			Info:                     "test",
			MaxSkip:                  10,
			MaxCache:                 20,
		},
	}
	require.NoError(t, s.SaveConversationState(state))

	got, ok, err := s.LoadConversationState(bob, domain.NonCollapsingConversationID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, state, got)

	// Channels are independent.
	_, ok, err = s.LoadConversationState(bob, domain.CollapsingConversationID)
	require.NoError(t, err)
	assert.False(t, ok)

	state.State.SendMessageNumber = 4
	require.NoError(t, s.SaveConversationState(state))
	got, _, err = s.LoadConversationState(bob, domain.NonCollapsingConversationID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, got.State.SendMessageNumber)
}

func testMessageKeyCache(t *testing.T, s domain.Storage) {
	c := s.MessageKeyCache(bob, domain.NonCollapsingConversationID)
	other := s.MessageKeyCache(alice, domain.NonCollapsingConversationID)

	keys := make([]domain.SkippedMessageKey, 0, 4)
	for i := uint32(0); i < 4; i++ {
		keys = append(keys, domain.SkippedMessageKey{PublicKey: pub(1), MessageNumber: i, Key: []byte{byte(i)}})
	}
	require.NoError(t, c.AddMessageKeys(keys, 3))

	_, ok, err := c.MessageKey(pub(1), 0)
	require.NoError(t, err)
	assert.False(t, ok, "oldest key evicted")

	k, ok, err := c.MessageKey(pub(1), 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{2}, k)

	_, ok, err = other.MessageKey(pub(1), 2)
	require.NoError(t, err)
	assert.False(t, ok, "caches are scoped per conversation")

	require.NoError(t, c.DeleteMessageKey(pub(1), 2))
	_, ok, err = c.MessageKey(pub(1), 2)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.MessageKey(pub(1), 3)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, other.AddMessageKeys(keys[:1], 3))
	require.NoError(t, c.Clear())
	_, ok, err = c.MessageKey(pub(1), 3)
	require.NoError(t, err)
	assert.False(t, ok, "clear drops every key")
	require.NoError(t, c.AddMessageKeys(keys[1:2], 3))
	k, ok, err = c.MessageKey(pub(1), 1)
	require.NoError(t, err)
	require.True(t, ok, "cache is usable after clear")
	assert.Equal(t, []byte{1}, k)

	_, ok, err = other.MessageKey(pub(1), 0)
	require.NoError(t, err)
	assert.True(t, ok, "clear is scoped per conversation")
	require.NoError(t, s.MessageKeyCache(alice, domain.CollapsingConversationID).Clear())
}

func testInvitations(t *testing.T, s domain.Storage) {
	conv := domain.CollapsingConversationID
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	opk := pub(3)
	inv := domain.ConversationInvitation{IdentityKey: pub(1), EphemeralKey: pub(2), UsedOneTimePrekey: &opk}

	_, ok, err := s.OutboundConversationInvitation(bob, conv)
	require.NoError(t, err)
	assert.False(t, ok)

	out := domain.OutboundConversationInvitation{ReceiverID: bob, ConversationID: conv, Timestamp: ts, ConversationInvitation: inv}
	require.NoError(t, s.StoreOutboundConversationInvitation(out))
	got, ok, err := s.OutboundConversationInvitation(bob, conv)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Timestamp.Equal(ts))
	assert.True(t, got.ConversationInvitation.Equal(inv))

	require.NoError(t, s.DeleteOutboundConversationInvitation(bob, conv))
	require.NoError(t, s.DeleteOutboundConversationInvitation(bob, conv))
	_, ok, err = s.OutboundConversationInvitation(bob, conv)
	require.NoError(t, err)
	assert.False(t, ok)

	in := domain.InboundConversationInvitation{SenderID: alice, ConversationID: conv, Timestamp: ts, ConversationInvitation: inv}
	require.NoError(t, s.StoreInboundConversationInvitation(in))
	gotIn, ok, err := s.InboundConversationInvitation(alice, conv)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, alice, gotIn.SenderID)
	assert.True(t, gotIn.ConversationInvitation.Equal(inv))
}

func testResync(t *testing.T, s domain.Storage) {
	conv := domain.NonCollapsingConversationID
	now := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

	_, ok, err := s.InvalidConversation(alice, conv, "fp")
	require.NoError(t, err)
	assert.False(t, ok)

	rec := domain.InvalidConversation{
		SenderID:                alice,
		ConversationID:          conv,
		ConversationFingerprint: "fp",
		Timestamp:               now,
		ResendResetTimeout:      now.Add(time.Minute),
	}
	require.NoError(t, s.StoreInvalidConversation(rec))

	got, ok, err := s.InvalidConversation(alice, conv, "fp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.ResendResetTimeout.Equal(now.Add(time.Minute)))

	_, ok, err = s.InvalidConversation(alice, conv, "other")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.UpdateInvalidConversation(alice, conv, "fp", now.Add(time.Hour)))
	got, _, err = s.InvalidConversation(alice, conv, "fp")
	require.NoError(t, err)
	assert.True(t, got.ResendResetTimeout.Equal(now.Add(time.Hour)))
	assert.True(t, got.Timestamp.Equal(now))

	assert.Error(t, s.UpdateInvalidConversation(alice, conv, "missing", now))

	require.NoError(t, s.DeleteInvalidConversation(alice, conv, "fp"))
	_, ok, err = s.InvalidConversation(alice, conv, "fp")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.ReceivedReset(alice, conv)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, s.StoreReceivedReset(alice, conv, now))
	require.NoError(t, s.StoreReceivedReset(alice, conv, now.Add(time.Second)))
	ts, ok, err := s.ReceivedReset(alice, conv)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ts.Equal(now.Add(time.Second)))
}
