package interfaces

import (
	"time"

	domaintypes "pinpoint/internal/domain/types"
)

// HandshakeKeyStore holds the local identity, signed prekey and one-time prekeys.
type HandshakeKeyStore interface {
	LoadIdentityKeyPair() (domaintypes.KeyPair, bool, error)
	SaveIdentityKeyPair(pair domaintypes.KeyPair) error

	LoadPrekeyPair() (pair domaintypes.KeyPair, signature []byte, ok bool, err error)
	SavePrekeyPair(pair domaintypes.KeyPair, signature []byte) error

	SaveOneTimePrekeyPairs(pairs []domaintypes.KeyPair) error
	LoadPrivateOneTimePrekey(publicKey domaintypes.X25519Public) (domaintypes.X25519Private, bool, error)
	DeleteOneTimePrekeyPair(publicKey domaintypes.X25519Public) error
	ListOneTimePrekeyPublics() ([]domaintypes.X25519Public, error)
}

// ConversationStateStore persists ratchet sessions per (user, conversation).
type ConversationStateStore interface {
	LoadConversationState(
		userID domaintypes.UserID,
		conversationID domaintypes.ConversationID,
	) (domaintypes.ConversationState, bool, error)
	SaveConversationState(state domaintypes.ConversationState) error
	MessageKeyCache(userID domaintypes.UserID, conversationID domaintypes.ConversationID) MessageKeyCache
}

// MessageKeyCache stores message keys derived ahead of their messages.
// Implementations keep at most maxEntries keys, evicting oldest first.
type MessageKeyCache interface {
	MessageKey(publicKey domaintypes.X25519Public, messageNumber uint32) ([]byte, bool, error)
	AddMessageKeys(keys []domaintypes.SkippedMessageKey, maxEntries int) error
	DeleteMessageKey(publicKey domaintypes.X25519Public, messageNumber uint32) error
	// Clear drops every cached key. Called when the session is replaced.
	Clear() error
}

// InvitationStore records handshake invitations in both directions.
type InvitationStore interface {
	StoreOutboundConversationInvitation(invitation domaintypes.OutboundConversationInvitation) error
	OutboundConversationInvitation(
		receiverID domaintypes.UserID,
		conversationID domaintypes.ConversationID,
	) (domaintypes.OutboundConversationInvitation, bool, error)
	DeleteOutboundConversationInvitation(
		receiverID domaintypes.UserID,
		conversationID domaintypes.ConversationID,
	) error

	StoreInboundConversationInvitation(invitation domaintypes.InboundConversationInvitation) error
	InboundConversationInvitation(
		senderID domaintypes.UserID,
		conversationID domaintypes.ConversationID,
	) (domaintypes.InboundConversationInvitation, bool, error)
}

// ResyncStore backs the reset protocol.
type ResyncStore interface {
	StoreInvalidConversation(record domaintypes.InvalidConversation) error
	UpdateInvalidConversation(
		senderID domaintypes.UserID,
		conversationID domaintypes.ConversationID,
		fingerprint domaintypes.Fingerprint,
		resendResetTimeout time.Time,
	) error
	InvalidConversation(
		senderID domaintypes.UserID,
		conversationID domaintypes.ConversationID,
		fingerprint domaintypes.Fingerprint,
	) (domaintypes.InvalidConversation, bool, error)
	DeleteInvalidConversation(
		senderID domaintypes.UserID,
		conversationID domaintypes.ConversationID,
		fingerprint domaintypes.Fingerprint,
	) error

	StoreReceivedReset(senderID domaintypes.UserID, conversationID domaintypes.ConversationID, timestamp time.Time) error
	ReceivedReset(senderID domaintypes.UserID, conversationID domaintypes.ConversationID) (time.Time, bool, error)
}

// CryptoStore is everything the crypto middleware persists.
type CryptoStore interface {
	HandshakeKeyStore
	ConversationStateStore
}

// ConversationStore is everything the conversation manager persists.
type ConversationStore interface {
	InvitationStore
	ResyncStore
}

// Storage is the full persistence contract of the secure-channel core.
type Storage interface {
	CryptoStore
	ConversationStore
	Close() error
}
