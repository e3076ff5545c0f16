package storage

import (
	"context"
	"time"

	"whale-signal-engine/internal/domain"
)

// WalletProfileStore persists wallet profiles behind the in-memory profile store.
// It is a durability add-on: the engine is correct without it.
type WalletProfileStore interface {
	// Load retrieves a profile by wallet address. Returns ErrNotFound if not exists.
	Load(ctx context.Context, walletAddress string) (*domain.WalletProfile, error)

	// Save inserts or replaces the profile for its wallet address.
	Save(ctx context.Context, p *domain.WalletProfile) error
}

// SignalStore provides access to signals storage. Signals are immutable.
type SignalStore interface {
	// Insert adds a new signal. Returns ErrDuplicateKey if signal_id exists.
	Insert(ctx context.Context, s *domain.Signal) error

	// GetByID retrieves a signal by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, signalID string) (*domain.Signal, error)

	// ListActive retrieves signals with created_at <= now < expires_at, newest first.
	ListActive(ctx context.Context, now int64, limit int) ([]*domain.Signal, error)

	// ListByToken retrieves signals for a token, newest first.
	ListByToken(ctx context.Context, tokenAddress string, limit int) ([]*domain.Signal, error)
}

// WhaleActivityStore provides access to the append-only whale activity log.
type WhaleActivityStore interface {
	// InsertBulk appends activity records. Duplicate signatures are ignored.
	InsertBulk(ctx context.Context, activity []*domain.WhaleActivity) error

	// ListRecent retrieves the most recent records by block time, newest first.
	ListRecent(ctx context.Context, limit int) ([]*domain.WhaleActivity, error)

	// ListByToken retrieves records for a token within [start, end] (inclusive), oldest first.
	ListByToken(ctx context.Context, tokenAddress string, start, end int64) ([]*domain.WhaleActivity, error)
}

// DedupStore records published signal ids.
type DedupStore interface {
	// MarkPublished records signalID and reports whether it was new.
	// createdAt is the signal's event time; horizon is how long the id is remembered.
	MarkPublished(ctx context.Context, signalID string, createdAt int64, horizon time.Duration) (bool, error)
}

// ClusterGraphStore persists wallet cluster membership as a graph.
type ClusterGraphStore interface {
	// LinkCluster merges a cluster node, its wallets and the token it was observed on.
	LinkCluster(ctx context.Context, clusterID, tokenAddress string, wallets []string, observedAt int64) error

	// ClusterMembers returns the wallet addresses of a cluster, sorted.
	// Returns ErrNotFound if the cluster does not exist.
	ClusterMembers(ctx context.Context, clusterID string) ([]string, error)
}
