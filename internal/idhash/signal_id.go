package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"whale-signal-engine/internal/domain"
)

// ComputeSignalID computes a deterministic signal_id using SHA256.
// Formula: SHA256(pattern_type|token_address|floor(created_at/bucket_ms))
// Returns hex-encoded hash (64 characters).
//
// Signals of the same type and token created within one time bucket
// share an id, which is what downstream deduplication keys on.
func ComputeSignalID(
	patternType domain.PatternType,
	tokenAddress string,
	createdAt int64,
	bucketMs int64,
) string {
	data := fmt.Sprintf("%s|%s|%d",
		string(patternType),
		tokenAddress,
		TimeBucket(createdAt, bucketMs),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// TimeBucket returns floor(ts / bucketMs). Non-positive bucket sizes
// degrade to one bucket per millisecond.
func TimeBucket(ts, bucketMs int64) int64 {
	if bucketMs <= 1 {
		return ts
	}
	q := ts / bucketMs
	if ts%bucketMs != 0 && ts < 0 {
		q--
	}
	return q
}
