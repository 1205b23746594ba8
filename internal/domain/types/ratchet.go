package types

// MessageHeader is sent alongside every ratchet ciphertext.
type MessageHeader struct {
	PublicKey                              X25519Public `json:"publicKey"`
	NumberOfMessagesInPreviousSendingChain uint32       `json:"numberOfMessagesInPreviousSendingChain"`
	MessageNumber                          uint32       `json:"messageNumber"`
}

// Message is the wire envelope produced by a ratchet session.
type Message struct {
	Header MessageHeader `json:"header"`
	Cipher []byte        `json:"cipher"`
}

// SessionState is the persisted form of a ratchet session.
type SessionState struct {
	RootKey                    []byte        `json:"rootKey"`
	RootChainKeyPair           KeyPair       `json:"rootChainKeyPair"`
	RootChainRemotePublicKey   *X25519Public `json:"rootChainRemotePublicKey,omitempty"`
	SendingChainKey            []byte        `json:"sendingChainKey,omitempty"`
	ReceivingChainKey          []byte        `json:"receivingChainKey,omitempty"`
	SendMessageNumber          uint32        `json:"sendMessageNumber"`
	ReceivedMessageNumber      uint32        `json:"receivedMessageNumber"`
	PreviousSendingChainLength uint32        `json:"previousSendingChainLength"`
	Info                       string        `json:"info"`
	MaxSkip                    int           `json:"maxSkip"`
	MaxCache                   int           `json:"maxCache"`
}

// SkippedMessageKey is a message key derived ahead of its message.
type SkippedMessageKey struct {
	PublicKey     X25519Public `json:"publicKey"`
	MessageNumber uint32       `json:"messageNumber"`
	Key           []byte       `json:"key"`
}

// ConversationState binds a session to its (user, conversation) pair.
type ConversationState struct {
	UserID         UserID         `json:"userId"`
	ConversationID ConversationID `json:"conversationId"`
	State          SessionState   `json:"state"`
}
