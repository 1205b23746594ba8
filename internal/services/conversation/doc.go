// Package conversation is the conversation manager: the policy layer between
// the message service and the crypto middleware.
//
// Every peer has two independent channels, collapsing and non-collapsing,
// each with its own ratchet session. For each (peer, channel) the manager
// decides when to start a handshake, which of two racing invitations wins,
// and when a decryption failure warrants a reset reply. Resets are throttled
// per conversation fingerprint by a resend timeout so two desynchronised
// peers cannot volley resets forever.
package conversation
