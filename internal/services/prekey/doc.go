// Package prekey publishes the local handshake key material: signing key,
// identity key, signed prekey and the one-time prekey pool.
package prekey
