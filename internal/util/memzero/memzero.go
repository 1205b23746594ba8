// Package memzero wipes secret material once it is no longer needed.
package memzero

import "runtime"

// Zero overwrites every byte of b.
func Zero(b []byte) {
	clear(b)
	// Keep b reachable until here so the store is not dropped as dead.
	runtime.KeepAlive(b)
}

// All zeroes each of bs. Nil slices are skipped.
func All(bs ...[]byte) {
	for _, b := range bs {
		Zero(b)
	}
}
