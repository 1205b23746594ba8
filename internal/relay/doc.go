// Package relay is the store-and-forward backend between peers.
//
// Memory holds published key material and one mailbox per user. Server
// exposes it over HTTP with a WebSocket push channel, and HTTP is the
// matching domain.RelayClient:
//
//	POST /users/{id}/keys       publish UserPublicKeys
//	GET  /users/{id}/keys       fetch a bundle, consuming one one-time prekey
//	POST /messages              queue an Envelope for its receiver
//	GET  /messages/{id}?limit=N list queued envelopes, oldest first
//	POST /messages/{id}/ack     drop the first {"count": N} envelopes
//	GET  /ws/{id}               push newly queued envelopes
//	GET  /healthz               liveness
//
// The relay only ever sees public keys and ciphertext.
package relay
