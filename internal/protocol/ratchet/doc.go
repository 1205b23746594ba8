// Package ratchet implements the Double Ratchet algorithm following Signal's design.
//
// The algorithm maintains a root key and two message chains (send and receive).
// Each message advances a KDF chain so that keys are forward secure. When a party
// changes its DH ratchet public key, both sides derive new chain keys from a new
// root derived via DH.
//
// A Session is seeded either as an Initiator, towards the responder's signed
// prekey, or as a Responder holding that prekey pair, or it is restored from a
// persisted domain.SessionState. Message keys derived ahead of out-of-order
// messages live in a domain.MessageKeyCache supplied by the caller.
//
// Concurrency: Session is NOT safe for concurrent use. Callers must
// serialise access per conversation and persist SessionState after every
// successful Encrypt or Decrypt.
package ratchet
