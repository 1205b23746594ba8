package types

import "bytes"

// PublicKeyBundle is what the backend returns for a peer: everything needed to
// initiate a conversation with them.
type PublicKeyBundle struct {
	SigningKey      Ed25519Public `json:"signingKey"`
	IdentityKey     X25519Public  `json:"identityKey"`
	SignedPrekey    X25519Public  `json:"signedPrekey"`
	PrekeySignature []byte        `json:"prekeySignature"`
	OneTimePrekey   *X25519Public `json:"oneTimePrekey,omitempty"`
}

// UserPublicKeys is the public half of the local handshake key material, as
// uploaded to the backend.
type UserPublicKeys struct {
	SigningKey      Ed25519Public  `json:"signingKey"`
	IdentityKey     X25519Public   `json:"identityKey"`
	SignedPrekey    X25519Public   `json:"signedPrekey"`
	PrekeySignature []byte         `json:"prekeySignature"`
	OneTimePrekeys  []X25519Public `json:"oneTimePrekeys"`
}

// KeyAgreementInitiation is the transient result of initiating a handshake.
type KeyAgreementInitiation struct {
	SharedSecret       []byte
	EphemeralPublicKey X25519Public
}

// ConversationInvitation lets a peer complete a handshake we initiated.
type ConversationInvitation struct {
	IdentityKey       X25519Public  `json:"identityKey"`
	EphemeralKey      X25519Public  `json:"ephemeralKey"`
	UsedOneTimePrekey *X25519Public `json:"usedOneTimePrekey,omitempty"`
}

// Equal reports whether both invitations carry the same key material.
func (c ConversationInvitation) Equal(o ConversationInvitation) bool {
	if c.IdentityKey != o.IdentityKey || c.EphemeralKey != o.EphemeralKey {
		return false
	}
	switch {
	case c.UsedOneTimePrekey == nil && o.UsedOneTimePrekey == nil:
		return true
	case c.UsedOneTimePrekey == nil || o.UsedOneTimePrekey == nil:
		return false
	default:
		return *c.UsedOneTimePrekey == *o.UsedOneTimePrekey
	}
}

// Compare orders invitations by ephemeral key so that two peers resolving a
// simultaneous handshake reach the same decision.
func (c ConversationInvitation) Compare(o ConversationInvitation) int {
	return bytes.Compare(c.EphemeralKey[:], o.EphemeralKey[:])
}
