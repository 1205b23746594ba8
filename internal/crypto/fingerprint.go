package crypto

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// Fingerprint returns a short hex fingerprint of a public key.
//
// It hashes with BLAKE3 and truncates to 10 bytes (20 hex chars).
func Fingerprint(pub []byte) string {
	sum := blake3.Sum256(pub)
	return hex.EncodeToString(sum[:10])
}

// SafetyNumber renders the combined fingerprint of a user's signing and
// identity keys in groups of five digits, for reading out loud.
func SafetyNumber(signingKey, identityKey []byte) string {
	h := blake3.New()
	_, _ = h.Write([]byte("pinpoint-safety-number"))
	_, _ = h.Write(signingKey)
	_, _ = h.Write(identityKey)
	sum := h.Sum(nil)

	groups := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		chunk := sum[i*5 : i*5+5]
		var v uint64
		for _, b := range chunk {
			v = v<<8 | uint64(b)
		}
		groups = append(groups, pad5(v%100000))
	}
	return strings.Join(groups, " ")
}

func pad5(v uint64) string {
	const digits = "0123456789"
	out := []byte("00000")
	for i := 4; i >= 0; i-- {
		out[i] = digits[v%10]
		v /= 10
	}
	return string(out)
}
