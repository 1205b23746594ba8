// Package session is the conversation crypto middleware.
//
// It owns the local handshake key material, turns X3DH outputs into Double
// Ratchet sessions and keeps one persisted session per (peer, conversation).
// Payloads use two layers: a fresh content key seals the payload with
// XChaCha20-Poly1305 and the ratchet wraps only that key.
//
// Ratchet failures are mapped onto this package's errors so the layer above
// can decide between dropping a message and resynchronising.
package session
