// Package ingestion feeds raw transaction events into the engine.
package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"whale-signal-engine/internal/normalization"
)

// Sink accepts raw events. pipeline.Engine implements it.
type Sink interface {
	Ingest(ctx context.Context, raw map[string]any) error
}

// Source pushes raw events into a sink until ctx is done, the input is
// exhausted or the sink fails.
type Source interface {
	Name() string
	Run(ctx context.Context, sink Sink) error
}

// DecodeEvents decodes a JSON object or an array of objects.
// Numbers are kept as json.Number so decimal values are not rounded.
func DecodeEvents(data []byte) ([]map[string]any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var events []map[string]any
	if data[0] == '[' {
		if err := dec.Decode(&events); err != nil {
			return nil, fmt.Errorf("decode event array: %w", err)
		}
	} else {
		var ev map[string]any
		if err := dec.Decode(&ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, ev)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("decode event: trailing data")
	}
	return events, nil
}

// push ingests one event. Rejected events are logged and skipped; only
// sink failures such as a closed engine or a cancelled ctx are returned.
func push(ctx context.Context, sink Sink, raw map[string]any, logger *zap.Logger) (accepted bool, err error) {
	err = sink.Ingest(ctx, raw)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, normalization.ErrMalformedInput), errors.Is(err, normalization.ErrClockSkew):
		logger.Debug("event skipped", zap.Error(err))
		return false, nil
	default:
		return false, err
	}
}
