package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EncryptedPayloadContainer is one encrypted payload as it travels.
// Ciphertext may be shared between recipients; EncryptedKey is per recipient.
type EncryptedPayloadContainer struct {
	Ciphertext   []byte `json:"ciphertext"`
	EncryptedKey []byte `json:"encryptedKey"`
}

// PayloadType names the schema of a decrypted payload.
type PayloadType string

const (
	// PayloadTypeResetConversation is the control message sent after a
	// desynchronised conversation was reset.
	PayloadTypeResetConversation PayloadType = "resetConversation/v1"

	// PayloadTypeTextMessage carries a plain chat line.
	PayloadTypeTextMessage PayloadType = "textMessage/v1"
)

// PayloadContainer is the plaintext form of every payload.
type PayloadContainer struct {
	PayloadType PayloadType     `json:"payloadType"`
	Payload     json.RawMessage `json:"payload"`
}

// TextMessage is the body of PayloadTypeTextMessage.
type TextMessage struct {
	Text string `json:"text"`
}

// ResetConversation is the (empty) body of PayloadTypeResetConversation.
type ResetConversation struct{}

// PayloadMetaInfo accompanies a payload to its handler.
type PayloadMetaInfo struct {
	EnvelopeID                                uuid.UUID               `json:"envelopeId"`
	SenderID                                  UserID                  `json:"senderId"`
	Timestamp                                 time.Time               `json:"timestamp"`
	CollapseID                                *CollapseID             `json:"collapseId,omitempty"`
	SenderServerSignedMembershipCertificate   *Certificate            `json:"senderServerSignedMembershipCertificate,omitempty"`
	ReceiverServerSignedMembershipCertificate *Certificate            `json:"receiverServerSignedMembershipCertificate,omitempty"`
	ConversationInvitation                    *ConversationInvitation `json:"conversationInvitation,omitempty"`
}

// Collapsing reports which conversation class the payload was sent on.
func (m PayloadMetaInfo) Collapsing() bool { return m.CollapseID != nil }

// Envelope is the wire-format message posted to and fetched from the relay.
type Envelope struct {
	ID                                        uuid.UUID                 `json:"id"`
	SenderID                                  UserID                    `json:"senderId"`
	ReceiverID                                UserID                    `json:"receiverId"`
	Timestamp                                 time.Time                 `json:"timestamp"`
	CollapseID                                *CollapseID               `json:"collapseId,omitempty"`
	SenderServerSignedMembershipCertificate   *Certificate              `json:"senderServerSignedMembershipCertificate,omitempty"`
	ReceiverServerSignedMembershipCertificate *Certificate              `json:"receiverServerSignedMembershipCertificate,omitempty"`
	PayloadContainer                          EncryptedPayloadContainer `json:"payloadContainer"`
	ConversationInvitation                    *ConversationInvitation   `json:"conversationInvitation,omitempty"`
}

// MetaInfo extracts the handler-facing metadata of the envelope.
func (e Envelope) MetaInfo() PayloadMetaInfo {
	return PayloadMetaInfo{
		EnvelopeID:                                e.ID,
		SenderID:                                  e.SenderID,
		Timestamp:                                 e.Timestamp,
		CollapseID:                                e.CollapseID,
		SenderServerSignedMembershipCertificate:   e.SenderServerSignedMembershipCertificate,
		ReceiverServerSignedMembershipCertificate: e.ReceiverServerSignedMembershipCertificate,
		ConversationInvitation:                    e.ConversationInvitation,
	}
}

// DecryptedMessage is what the message service hands to the caller.
type DecryptedMessage struct {
	MetaInfo PayloadMetaInfo  `json:"metaInfo"`
	Payload  PayloadContainer `json:"payload"`
}
