package types

import "github.com/google/uuid"

// UserID identifies a relay-registered user.
type UserID string

// String returns the string form of the user id.
func (u UserID) String() string { return string(u) }

// ConversationID identifies one ratchet channel towards a peer. Every peer has
// the same two ids; state is always keyed by (UserID, ConversationID).
type ConversationID string

// String returns the string form of the conversation identifier.
func (id ConversationID) String() string { return string(id) }

var (
	// CollapsingConversationID carries traffic that may be coalesced or
	// dropped by the transport, such as location updates.
	CollapsingConversationID = ConversationID(uuid.MustParse("00000000-0000-0000-0000-000000000000").String())

	// NonCollapsingConversationID carries traffic that needs reliable delivery.
	NonCollapsingConversationID = ConversationID(uuid.MustParse("00000000-0000-0000-0000-000000000001").String())
)

// ConversationIDFor selects the channel for the given collapsing class.
func ConversationIDFor(collapsing bool) ConversationID {
	if collapsing {
		return CollapsingConversationID
	}
	return NonCollapsingConversationID
}

// Fingerprint is a short identifier presented to users or used for bookkeeping.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// CollapseID groups envelopes the transport may collapse into one.
type CollapseID string

// Certificate is an opaque server-signed membership certificate. The core
// only forwards it.
type Certificate string
