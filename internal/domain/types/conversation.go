package types

import "time"

// OutboundConversationInvitation is an invitation we sent and the peer has
// not yet confirmed.
type OutboundConversationInvitation struct {
	ReceiverID             UserID                 `json:"receiverId"`
	ConversationID         ConversationID         `json:"conversationId"`
	Timestamp              time.Time              `json:"timestamp"`
	ConversationInvitation ConversationInvitation `json:"conversationInvitation"`
}

// InboundConversationInvitation is the last invitation accepted from a peer.
type InboundConversationInvitation struct {
	SenderID               UserID                 `json:"senderId"`
	ConversationID         ConversationID         `json:"conversationId"`
	Timestamp              time.Time              `json:"timestamp"`
	ConversationInvitation ConversationInvitation `json:"conversationInvitation"`
}

// InvalidConversation marks a fingerprint whose decryption failed and
// throttles the reset replies sent for it.
type InvalidConversation struct {
	SenderID                UserID         `json:"senderId"`
	ConversationID          ConversationID `json:"conversationId"`
	ConversationFingerprint Fingerprint    `json:"conversationFingerprint"`
	Timestamp               time.Time      `json:"timestamp"`
	ResendResetTimeout      time.Time      `json:"resendResetTimeout"`
}
