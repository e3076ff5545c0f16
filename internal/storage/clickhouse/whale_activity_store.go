package clickhouse

import (
	"context"
	"fmt"
	"time"

	"whale-signal-engine/internal/domain"
	"whale-signal-engine/internal/storage"
)

// WhaleActivityStore implements storage.WhaleActivityStore using ClickHouse.
// Reads use FINAL so replays collapsed by ReplacingMergeTree are not returned twice.
type WhaleActivityStore struct {
	conn *Conn
}

// NewWhaleActivityStore creates a new WhaleActivityStore.
func NewWhaleActivityStore(conn *Conn) *WhaleActivityStore {
	return &WhaleActivityStore{conn: conn}
}

// Compile-time interface check.
var _ storage.WhaleActivityStore = (*WhaleActivityStore)(nil)

const whaleActivityColumns = `
	signature, wallet_address, token_address, direction, amount, value_quote,
	block_time_ms, venue, size_ratio, reason_code, cluster_id
`

// InsertBulk appends activity records. Duplicate signatures are ignored.
func (s *WhaleActivityStore) InsertBulk(ctx context.Context, activity []*domain.WhaleActivity) (err error) {
	if len(activity) == 0 {
		return nil
	}
	for _, a := range activity {
		if a == nil || a.Signature == "" {
			return storage.ErrInvalidInput
		}
	}
	defer func(start time.Time) { observe("insert_whale_activity", start, err) }(time.Now())

	// Drop intra-batch duplicates and rows already stored
	seen := make(map[string]struct{}, len(activity))
	fresh := make([]*domain.WhaleActivity, 0, len(activity))
	for _, a := range activity {
		if _, dup := seen[a.Signature]; dup {
			continue
		}
		seen[a.Signature] = struct{}{}

		exists, err := s.exists(ctx, a.Signature)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if !exists {
			fresh = append(fresh, a)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO whale_activity (`+whaleActivityColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, a := range fresh {
		err = batch.Append(
			a.Signature, a.WalletAddress, a.TokenAddress, string(a.Direction), a.Amount, a.ValueQuote,
			uint64(a.BlockTime), a.Venue, a.SizeRatio, a.ReasonCode, a.ClusterID,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// ListRecent retrieves the most recent records by block time, newest first.
func (s *WhaleActivityStore) ListRecent(ctx context.Context, limit int) (_ []*domain.WhaleActivity, err error) {
	defer func(start time.Time) { observe("list_recent_whale_activity", start, err) }(time.Now())

	query := `
		SELECT ` + whaleActivityColumns + `
		FROM whale_activity FINAL
		ORDER BY block_time_ms DESC, signature ASC
	`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, uint64(limit))
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent whale activity: %w", err)
	}
	defer rows.Close()

	return scanWhaleActivity(rows)
}

// ListByToken retrieves records for a token within [start, end] (inclusive), oldest first.
func (s *WhaleActivityStore) ListByToken(ctx context.Context, tokenAddress string, start, end int64) (_ []*domain.WhaleActivity, err error) {
	defer func(t time.Time) { observe("list_token_whale_activity", t, err) }(time.Now())

	if start < 0 {
		start = 0
	}
	if end < start {
		return nil, nil
	}

	query := `
		SELECT ` + whaleActivityColumns + `
		FROM whale_activity FINAL
		WHERE token_address = ? AND block_time_ms >= ? AND block_time_ms <= ?
		ORDER BY block_time_ms ASC, signature ASC
	`

	rows, err := s.conn.Query(ctx, query, tokenAddress, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query whale activity by token: %w", err)
	}
	defer rows.Close()

	return scanWhaleActivity(rows)
}

// exists checks if a record with the given signature exists.
func (s *WhaleActivityStore) exists(ctx context.Context, signature string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count(*) FROM whale_activity WHERE signature = ?`, signature).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanWhaleActivity scans multiple rows.
func scanWhaleActivity(rows chRows) ([]*domain.WhaleActivity, error) {
	var result []*domain.WhaleActivity

	for rows.Next() {
		var (
			a         domain.WhaleActivity
			direction string
			blockTime uint64
		)
		err := rows.Scan(
			&a.Signature, &a.WalletAddress, &a.TokenAddress, &direction, &a.Amount, &a.ValueQuote,
			&blockTime, &a.Venue, &a.SizeRatio, &a.ReasonCode, &a.ClusterID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan whale activity row: %w", err)
		}

		a.Direction = domain.Direction(direction)
		a.BlockTime = int64(blockTime)
		result = append(result, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate whale activity rows: %w", err)
	}

	return result, nil
}
