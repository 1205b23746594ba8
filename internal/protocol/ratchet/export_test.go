package ratchet

// ChainStep exposes the symmetric-key ratchet step to tests.
func ChainStep(ck []byte) (mk, next []byte) { return kdfCK(ck) }
