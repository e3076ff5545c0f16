package normalization

import (
	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// publicKeyLen is the decoded length of a Solana address.
const publicKeyLen = 32

// decodeAddress decodes a base58 Solana address.
func decodeAddress(addr string) ([]byte, bool) {
	b, err := base58.Decode(addr)
	if err != nil || len(b) != publicKeyLen {
		return nil, false
	}
	return b, true
}

// isOnCurve reports whether key is a valid ed25519 point.
// Program-derived addresses are deliberately off-curve.
func isOnCurve(key []byte) bool {
	if len(key) != publicKeyLen {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(key)
	return err == nil
}
