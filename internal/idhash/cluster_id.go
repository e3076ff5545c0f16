package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeClusterID computes a deterministic cluster_id using SHA256.
// Formula: SHA256(cluster|token_address|anchor_wallet|anchor_time)
// Returns the first 16 bytes hex-encoded (32 characters).
func ComputeClusterID(tokenAddress, anchorWallet string, anchorTime int64) string {
	data := fmt.Sprintf("cluster|%s|%s|%d", tokenAddress, anchorWallet, anchorTime)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:16])
}
