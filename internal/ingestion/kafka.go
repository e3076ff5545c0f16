package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"whale-signal-engine/internal/logging"
)

// KafkaSource consumes raw events from a topic as part of a consumer group.
// A message offset is marked only after every event in it was ingested, so
// a full engine queue holds the partition back.
type KafkaSource struct {
	group  sarama.ConsumerGroup
	topics []string
	logger *zap.Logger
}

// NewKafkaSource joins groupID on brokers.
func NewKafkaSource(brokers []string, topic, groupID string, logger *zap.Logger) (*KafkaSource, error) {
	config := sarama.NewConfig()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}
	return NewKafkaSourceWithGroup(group, topic, logger), nil
}

// NewKafkaSourceWithGroup wraps an existing consumer group.
func NewKafkaSourceWithGroup(group sarama.ConsumerGroup, topic string, logger *zap.Logger) *KafkaSource {
	return &KafkaSource{group: group, topics: []string{topic}, logger: logging.OrNop(logger)}
}

func (s *KafkaSource) Name() string { return "kafka" }

// Run consumes until ctx is done or the sink fails.
func (s *KafkaSource) Run(ctx context.Context, sink Sink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		for err := range s.group.Errors() {
			s.logger.Warn("kafka consumer error", zap.Error(err))
		}
	}()

	handler := &claimHandler{sink: sink, logger: s.logger, cancel: cancel}
	for {
		err := s.group.Consume(ctx, s.topics, handler)
		if err := handler.failure(); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			s.logger.Warn("kafka consume failed, rejoining", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// Close leaves the consumer group.
func (s *KafkaSource) Close() error {
	return s.group.Close()
}

// claimHandler implements sarama.ConsumerGroupHandler.
type claimHandler struct {
	sink   Sink
	logger *zap.Logger
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *claimHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handle(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				h.fail(err)
				return err
			}
			sess.MarkMessage(msg, "")
		}
	}
}

func (h *claimHandler) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	events, err := DecodeEvents(msg.Value)
	if err != nil {
		h.logger.Warn("kafka message skipped",
			zap.String("topic", msg.Topic),
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return nil
	}
	for _, ev := range events {
		if _, err := push(ctx, h.sink, ev, h.logger); err != nil {
			return fmt.Errorf("ingest kafka message %s/%d/%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
		}
	}
	return nil
}

// fail records the first sink failure and stops the consume loop.
func (h *claimHandler) fail(err error) {
	h.mu.Lock()
	if h.err == nil {
		h.err = err
	}
	h.mu.Unlock()
	h.cancel()
}

func (h *claimHandler) failure() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}
