// Package message sends and receives encrypted payloads.
//
// Payloads are sealed once per send and the content key is wrapped per
// recipient by the conversation manager. The service also delivers the
// reset replies the manager asks for and routes inbound reset control
// messages back to it, so callers only ever see user payloads.
package message
