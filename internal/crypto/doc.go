// Package crypto exposes the minimal primitives used by pinpoint.
//
// Contents
//
//   - X25519 key generation, clamping and Diffie–Hellman (GenerateX25519,
//     GenerateKeyPair, DH)
//   - Ed25519 key generation, signing and verification (GenerateEd25519,
//     SignEd25519, VerifyEd25519, PrekeySignatureVerifier)
//   - The payload layer keyed by per-message content keys (GenerateContentKey,
//     SealPayload, OpenPayload)
//   - Storage key derivation from a passphrase (DeriveStorageKey)
//   - Short public-key fingerprints and safety numbers for display (Fingerprint,
//     SafetyNumber)
//
// # Notes
//
// All functions return fixed-size array types defined in internal/domain to
// avoid accidental reallocations. Callers should treat returned secrets as
// sensitive and wipe them with memzero when practical.
package crypto
