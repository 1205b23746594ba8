// Package main runs the in-memory pinpoint relay.
//
//	relay serve --addr :8080
//
// It stores published handshake keys and queues encrypted envelopes for
// recipients until they fetch and acknowledge them. All state is held in
// memory and lost on exit. See package relay for the HTTP API.
//
// The relay is an untrusted middleman: it never sees plaintext or private
// keys, only ciphertext and public key material.
package main
