// Package identity presents the local user's long-term keys: the signing
// capability and the safety number peers compare to verify each other.
//
// It also holds the passphrase policy for the local storage key.
package identity
