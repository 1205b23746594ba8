package interfaces

import (
	"context"

	domaintypes "pinpoint/internal/domain/types"
)

// Signer is a sign-only capability over the long-term signing key.
type Signer interface {
	PublicKey() domaintypes.Ed25519Public
	Sign(message []byte) ([]byte, error)
}

// CryptoMiddleware binds handshakes and ratchet sessions to storage.
type CryptoMiddleware interface {
	RenewHandshakeKeyMaterial(signer Signer) (domaintypes.UserPublicKeys, error)
	InitConversation(
		userID domaintypes.UserID,
		conversationID domaintypes.ConversationID,
		remote domaintypes.PublicKeyBundle,
	) (domaintypes.ConversationInvitation, error)
	ProcessConversationInvitation(
		invitation domaintypes.ConversationInvitation,
		userID domaintypes.UserID,
		conversationID domaintypes.ConversationID,
	) error
	ConversationExisting(userID domaintypes.UserID, conversationID domaintypes.ConversationID) (bool, error)
	ConversationFingerprint(ciphertext []byte) (domaintypes.Fingerprint, error)
	Encrypt(plaintext []byte, userID domaintypes.UserID, conversationID domaintypes.ConversationID) ([]byte, error)
	Decrypt(
		encryptedData []byte,
		encryptedSecretKey []byte,
		userID domaintypes.UserID,
		conversationID domaintypes.ConversationID,
	) ([]byte, error)
}

// ConversationManager is the per-recipient policy layer used for sending and
// receiving payloads.
type ConversationManager interface {
	InitConversation(ctx context.Context, userID domaintypes.UserID, collapsing bool) error
	IsConversationInitialized(userID domaintypes.UserID, collapsing bool) (bool, error)
	Encrypt(ctx context.Context, data []byte, userID domaintypes.UserID, collapsing bool) ([]byte, error)
	ConversationInvitation(userID domaintypes.UserID, collapsing bool) (*domaintypes.ConversationInvitation, error)
	Decrypt(
		ctx context.Context,
		payload domaintypes.EncryptedPayloadContainer,
		metaInfo domaintypes.PayloadMetaInfo,
	) (domaintypes.PayloadContainer, error)
	HandleConversationResync(metaInfo domaintypes.PayloadMetaInfo) error
}

// ResetReplier sends the reset control message after a conversation was
// reset locally.
type ResetReplier interface {
	SendResetReply(
		ctx context.Context,
		userID domaintypes.UserID,
		receiverCertificate *domaintypes.Certificate,
		senderCertificate *domaintypes.Certificate,
		collapseID *domaintypes.CollapseID,
	) error
}

// MessageService encrypts, sends, fetches and decrypts envelopes.
type MessageService interface {
	SendPayload(
		ctx context.Context,
		recipients []domaintypes.UserID,
		payload domaintypes.PayloadContainer,
		collapseID *domaintypes.CollapseID,
	) error
	ReceiveMessages(ctx context.Context, limit int) ([]domaintypes.DecryptedMessage, error)
}
