// Package commands defines the pinpoint CLI and wires dependencies for subcommands.
//
// Commands
//
//   - init           Create the signing key and the local encrypted store
//   - register       Publish handshake key material to the relay
//   - fingerprint    Print the local safety number
//   - start-session  Start a conversation with a peer
//   - send           Encrypt and send a message to one or more peers
//   - recv           Fetch and decrypt queued messages, optionally following
//   - status         Show conversation state towards a peer
//
// # Implementation
//
// The root command resolves configuration (config.yaml, .env, PINPOINT_*
// variables, then flags) before any subcommand runs. Subcommands that talk to
// the relay open the full app graph and close it when done.
package commands
