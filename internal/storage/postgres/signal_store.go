package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"whale-signal-engine/internal/domain"
	"whale-signal-engine/internal/storage"
)

// SignalStore implements storage.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *Pool
}

// NewSignalStore creates a new SignalStore.
func NewSignalStore(pool *Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SignalStore = (*SignalStore)(nil)

const signalColumns = `
	signal_id, token_address, direction, confidence, created_at, expires_at,
	pattern_type, decay_shape, decay_rate, source_pattern
`

// Insert adds a new signal. Returns ErrDuplicateKey if signal_id exists.
func (s *SignalStore) Insert(ctx context.Context, sig *domain.Signal) (err error) {
	if sig == nil || sig.SignalID == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("insert_signal", start, err) }(time.Now())

	var source []byte
	if sig.SourcePattern != nil {
		if source, err = json.Marshal(sig.SourcePattern); err != nil {
			return fmt.Errorf("encode source pattern: %w", err)
		}
	}

	query := `
		INSERT INTO signals (` + signalColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10
		)
	`

	_, err = s.pool.Exec(ctx, query,
		sig.SignalID, sig.TokenAddress, string(sig.Direction), sig.Confidence, sig.CreatedAt, sig.ExpiresAt,
		string(sig.PatternType), string(sig.Decay.Shape), sig.Decay.Rate, source,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// GetByID retrieves a signal by its ID. Returns ErrNotFound if not exists.
func (s *SignalStore) GetByID(ctx context.Context, signalID string) (sig *domain.Signal, err error) {
	defer func(start time.Time) { observe("get_signal", start, err) }(time.Now())

	query := `SELECT ` + signalColumns + ` FROM signals WHERE signal_id = $1`

	sig, err = scanSignal(s.pool.QueryRow(ctx, query, signalID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get signal by id: %w", err)
	}
	return sig, nil
}

// ListActive retrieves signals with created_at <= now < expires_at, newest first.
func (s *SignalStore) ListActive(ctx context.Context, now int64, limit int) (_ []*domain.Signal, err error) {
	defer func(start time.Time) { observe("list_active_signals", start, err) }(time.Now())

	query := `
		SELECT ` + signalColumns + `
		FROM signals
		WHERE created_at <= $1 AND expires_at > $1
		ORDER BY created_at DESC, signal_id ASC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, now, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("list active signals: %w", err)
	}
	defer rows.Close()

	return scanSignals(rows)
}

// ListByToken retrieves signals for a token, newest first.
func (s *SignalStore) ListByToken(ctx context.Context, tokenAddress string, limit int) (_ []*domain.Signal, err error) {
	defer func(start time.Time) { observe("list_token_signals", start, err) }(time.Now())

	query := `
		SELECT ` + signalColumns + `
		FROM signals
		WHERE token_address = $1
		ORDER BY created_at DESC, signal_id ASC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, tokenAddress, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("list signals by token: %w", err)
	}
	defer rows.Close()

	return scanSignals(rows)
}

// limitOrAll maps a non-positive limit to no limit (LIMIT NULL).
func limitOrAll(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

func scanSignal(row pgx.Row) (*domain.Signal, error) {
	var (
		sig                         domain.Signal
		direction, patternType, shp string
		source                      []byte
	)
	err := row.Scan(
		&sig.SignalID, &sig.TokenAddress, &direction, &sig.Confidence, &sig.CreatedAt, &sig.ExpiresAt,
		&patternType, &shp, &sig.Decay.Rate, &source,
	)
	if err != nil {
		return nil, err
	}

	sig.Direction = domain.Direction(direction)
	sig.PatternType = domain.PatternType(patternType)
	sig.Decay.Shape = domain.DecayShape(shp)
	if len(source) > 0 {
		var p domain.Pattern
		if err := json.Unmarshal(source, &p); err != nil {
			return nil, fmt.Errorf("decode source pattern: %w", err)
		}
		sig.SourcePattern = &p
	}
	return &sig, nil
}

func scanSignals(rows pgx.Rows) ([]*domain.Signal, error) {
	var signals []*domain.Signal

	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal row: %w", err)
		}
		signals = append(signals, sig)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signal rows: %w", err)
	}

	return signals, nil
}
