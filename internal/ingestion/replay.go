package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"go.uber.org/zap"

	"whale-signal-engine/internal/logging"
)

// maxLineBytes bounds a single JSONL record.
const maxLineBytes = 4 << 20

// ReplayStats counts what a replay did.
type ReplayStats struct {
	Lines    int64 `json:"lines"`
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
	Invalid  int64 `json:"invalid"` // undecodable lines
}

// ReplaySource reads JSON-lines events from a file or reader.
// Blank lines and lines starting with '#' are ignored.
type ReplaySource struct {
	path   string
	reader io.Reader
	logger *zap.Logger

	lines, accepted, rejected, invalid atomic.Int64
}

// NewReplaySource replays the JSONL file at path.
func NewReplaySource(path string, logger *zap.Logger) *ReplaySource {
	return &ReplaySource{path: path, logger: logging.OrNop(logger)}
}

// NewReplayReader replays JSONL from r.
func NewReplayReader(r io.Reader, logger *zap.Logger) *ReplaySource {
	return &ReplaySource{reader: r, logger: logging.OrNop(logger)}
}

func (s *ReplaySource) Name() string { return "replay" }

// Run pushes every line into sink and returns at end of input.
func (s *ReplaySource) Run(ctx context.Context, sink Sink) error {
	r := s.reader
	if r == nil {
		f, err := os.Open(s.path)
		if err != nil {
			return fmt.Errorf("open replay file: %w", err)
		}
		defer f.Close()
		r = f
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		n := s.lines.Add(1)

		events, err := DecodeEvents(line)
		if err != nil {
			s.invalid.Add(1)
			s.logger.Warn("replay line skipped", zap.Int64("line", n), zap.Error(err))
			continue
		}

		for _, ev := range events {
			ok, err := push(ctx, sink, ev, s.logger)
			if err != nil {
				return fmt.Errorf("replay line %d: %w", n, err)
			}
			if ok {
				s.accepted.Add(1)
			} else {
				s.rejected.Add(1)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read replay input: %w", err)
	}

	st := s.Stats()
	s.logger.Info("replay finished",
		zap.Int64("lines", st.Lines),
		zap.Int64("accepted", st.Accepted),
		zap.Int64("rejected", st.Rejected),
		zap.Int64("invalid", st.Invalid),
	)
	return nil
}

// Stats returns the counters so far.
func (s *ReplaySource) Stats() ReplayStats {
	return ReplayStats{
		Lines:    s.lines.Load(),
		Accepted: s.accepted.Load(),
		Rejected: s.rejected.Load(),
		Invalid:  s.invalid.Load(),
	}
}
