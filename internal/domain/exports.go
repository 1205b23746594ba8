package domain

import (
	interfaces "pinpoint/internal/domain/interfaces"
	types "pinpoint/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	UserID                         = types.UserID
	ConversationID                 = types.ConversationID
	Fingerprint                    = types.Fingerprint
	CollapseID                     = types.CollapseID
	Certificate                    = types.Certificate
	X25519Public                   = types.X25519Public
	X25519Private                  = types.X25519Private
	Ed25519Public                  = types.Ed25519Public
	Ed25519Private                 = types.Ed25519Private
	KeyPair                        = types.KeyPair
	PublicKeyBundle                = types.PublicKeyBundle
	UserPublicKeys                 = types.UserPublicKeys
	KeyAgreementInitiation         = types.KeyAgreementInitiation
	ConversationInvitation         = types.ConversationInvitation
	MessageHeader                  = types.MessageHeader
	Message                        = types.Message
	SessionState                   = types.SessionState
	SkippedMessageKey              = types.SkippedMessageKey
	ConversationState              = types.ConversationState
	OutboundConversationInvitation = types.OutboundConversationInvitation
	InboundConversationInvitation  = types.InboundConversationInvitation
	InvalidConversation            = types.InvalidConversation
	EncryptedPayloadContainer      = types.EncryptedPayloadContainer
	PayloadType                    = types.PayloadType
	PayloadContainer               = types.PayloadContainer
	PayloadMetaInfo                = types.PayloadMetaInfo
	TextMessage                    = types.TextMessage
	ResetConversation              = types.ResetConversation
	Envelope                       = types.Envelope
	DecryptedMessage               = types.DecryptedMessage
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	HandshakeKeyStore      = interfaces.HandshakeKeyStore
	ConversationStateStore = interfaces.ConversationStateStore
	MessageKeyCache        = interfaces.MessageKeyCache
	InvitationStore        = interfaces.InvitationStore
	ResyncStore            = interfaces.ResyncStore
	CryptoStore            = interfaces.CryptoStore
	ConversationStore      = interfaces.ConversationStore
	Storage                = interfaces.Storage
	KeyBackend             = interfaces.KeyBackend
	RelayClient            = interfaces.RelayClient
	Signer                 = interfaces.Signer
	CryptoMiddleware       = interfaces.CryptoMiddleware
	ConversationManager    = interfaces.ConversationManager
	ResetReplier           = interfaces.ResetReplier
	MessageService         = interfaces.MessageService
)

// Re-exported values.
var (
	CollapsingConversationID    = types.CollapsingConversationID
	NonCollapsingConversationID = types.NonCollapsingConversationID
	ConversationIDFor           = types.ConversationIDFor
)

const (
	PayloadTypeResetConversation = types.PayloadTypeResetConversation
	PayloadTypeTextMessage       = types.PayloadTypeTextMessage
)
