// Package store provides file-based persistence for Pinpoint's secure-channel
// core.
//
// FileStore implements domain.Storage with one file per record family under
// a single directory. Private key material, ratchet sessions and skipped
// message keys are sealed with XChaCha20-Poly1305 under a 32-byte storage key
// derived by StorageKey; invitation and resync bookkeeping is plain JSON.
// Writes go through a temp file and rename. All methods are
// concurrency-safe via internal locking.
//
// Files:
//   - identity.enc     identity key pair
//   - prekeys.enc      signed prekey and one-time prekey pool
//   - sessions.enc     ratchet state per (peer, conversation)
//   - message_keys.enc skipped message keys per (peer, conversation)
//   - invitations.json outbound and inbound invitations
//   - resync.json      invalid-conversation records and received resets
//
// The sqlite subpackage implements the same contract on a single database.
package store
