package normalization

import (
	"sort"

	"whale-signal-engine/internal/domain"
)

// SortTransactions orders transactions by (block_time ASC, wallet ASC, signature ASC).
// Replays use it to feed the pipeline in a deterministic order.
func SortTransactions(txs []*domain.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return compareTransactions(txs[i], txs[j]) < 0
	})
}

// compareTransactions returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
func compareTransactions(a, b *domain.Transaction) int {
	if a.BlockTime != b.BlockTime {
		if a.BlockTime < b.BlockTime {
			return -1
		}
		return 1
	}
	if a.WalletAddress != b.WalletAddress {
		if a.WalletAddress < b.WalletAddress {
			return -1
		}
		return 1
	}
	if a.Signature != b.Signature {
		if a.Signature < b.Signature {
			return -1
		}
		return 1
	}
	return 0
}
