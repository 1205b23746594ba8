// Package domain defines core data models and interfaces shared across the app.
// It contains plain types (wire/state) and contracts (interfaces) only.
//
// The types subpackage holds key material, handshake and ratchet wire types,
// conversation bookkeeping records and envelopes. The interfaces subpackage
// holds the persistence, backend and delegate contracts. This package
// re-exports both under short names.
package domain
