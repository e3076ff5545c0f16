package distribution

import (
	"context"
	"errors"
	"fmt"

	"whale-signal-engine/internal/domain"
	"whale-signal-engine/internal/storage"
)

// StoreConsumer persists published signals.
type StoreConsumer struct {
	store storage.SignalStore
}

// NewStoreConsumer creates a consumer writing to store.
func NewStoreConsumer(store storage.SignalStore) *StoreConsumer {
	return &StoreConsumer{store: store}
}

func (s *StoreConsumer) Name() string { return "signal_store" }

// Deliver inserts the raw signal. An existing id counts as delivered.
func (s *StoreConsumer) Deliver(ctx context.Context, d *domain.Delivery) error {
	err := s.store.Insert(ctx, d.Signal)
	if err == nil || errors.Is(err, storage.ErrDuplicateKey) {
		return nil
	}
	return fmt.Errorf("persist signal %s: %w", d.Signal.SignalID, err)
}
