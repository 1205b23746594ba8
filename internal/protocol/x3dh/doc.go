// Package x3dh implements the X3DH key agreement used to bootstrap a Double
// Ratchet session between two parties.
//
// # Overview
//
// X3DH lets an initiator derive a shared 32-byte secret with a responder who
// has published a key bundle. The bundle contains:
//   - Identity key (X25519)
//   - Signed prekey (X25519) and its Ed25519 signature
//   - Optional one-time prekey (X25519)
//
// # Flows
//
// Initiator (InitiateKeyAgreement):
//  1. Verify the signed prekey signature through the caller's verifier.
//  2. Generate an ephemeral X25519 key pair.
//  3. Compute DH values (IKa·SPKb, EKa·IKb, EKa·SPKb[, EKa·OPKb]).
//  4. HKDF over the concatenated DH transcript, with info, to produce the secret.
//  5. Return the secret and the ephemeral public key.
//
// Responder (SharedSecretFromKeyAgreement):
//  1. Receive the initiator's identity key, ephemeral key and used one-time prekey.
//  2. Compute the symmetric DH set (SPKb·IKa, IKb·EKa, SPKb·EKa[, OPKb·EKa]).
//  3. HKDF the same transcript to the identical secret.
//
// # Errors
//
// ErrInvalidPrekeySignature is returned when the verifier rejects or fails.
// ErrMissingKeyMaterial is returned when a required key is zero.
// Other errors wrap lower-level crypto failures.
//
// # Security notes
//
// Only public material is sent over the wire. One-time prekeys are optional on
// both sides so prekey exhaustion degrades forward secrecy instead of
// blocking the handshake.
package x3dh
