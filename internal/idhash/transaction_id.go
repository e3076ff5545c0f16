package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeTransactionID derives a signature for events that arrive without one.
// Formula: SHA256(wallet|token|direction|amount|value|block_time)
// Returns hex-encoded hash (64 characters).
func ComputeTransactionID(
	wallet string,
	token string,
	direction string,
	amount string,
	value string,
	blockTime int64,
) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%s|%d",
		wallet,
		token,
		direction,
		amount,
		value,
		blockTime,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
