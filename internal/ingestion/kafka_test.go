package ingestion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx context.Context

	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, msg.Offset)
	s.mu.Unlock()
}

func (s *fakeSession) markedOffsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.marked...)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func newClaim(values ...string) *fakeClaim {
	ch := make(chan *sarama.ConsumerMessage, len(values))
	for i, v := range values {
		ch <- &sarama.ConsumerMessage{Topic: "whale-tx", Partition: 0, Offset: int64(i), Value: []byte(v)}
	}
	close(ch)
	return &fakeClaim{messages: ch}
}

// fakeGroup runs every Consume call against a single pre-filled claim.
type fakeGroup struct {
	sarama.ConsumerGroup
	claim   *fakeClaim
	session *fakeSession
	errs    chan error
	calls   int
}

func (g *fakeGroup) Errors() <-chan error { return g.errs }

func (g *fakeGroup) Close() error {
	close(g.errs)
	return nil
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, handler sarama.ConsumerGroupHandler) error {
	g.calls++
	if g.calls > 1 {
		<-ctx.Done()
		return nil
	}
	g.session = &fakeSession{ctx: ctx}
	if err := handler.Setup(g.session); err != nil {
		return err
	}
	err := handler.ConsumeClaim(g.session, g.claim)
	if cerr := handler.Cleanup(g.session); err == nil {
		err = cerr
	}
	return err
}

func TestClaimHandler_MarksAfterIngest(t *testing.T) {
	sink := newFakeSink()
	h := &claimHandler{sink: sink, logger: nopLogger(), cancel: func() {}}
	sess := &fakeSession{ctx: context.Background()}

	claim := newClaim(
		`{"signature":"s1"}`,
		`garbage`,
		`[{"signature":"s2"},{"reject":true}]`,
	)

	require.NoError(t, h.ConsumeClaim(sess, claim))

	assert.Equal(t, []string{"s1", "s2"}, sink.signatures())
	// Undecodable and rejected input is still committed.
	assert.Equal(t, []int64{0, 1, 2}, sess.markedOffsets())
	assert.NoError(t, h.failure())
}

func TestClaimHandler_SinkFailureNotMarked(t *testing.T) {
	sink := newFakeSink()
	cancelled := false
	h := &claimHandler{sink: sink, logger: nopLogger(), cancel: func() { cancelled = true }}
	sess := &fakeSession{ctx: context.Background()}

	claim := newClaim(`{"signature":"s1"}`, `{"fatal":true}`, `{"signature":"s2"}`)

	err := h.ConsumeClaim(sess, claim)
	require.ErrorIs(t, err, errSinkClosed)

	assert.Equal(t, []int64{0}, sess.markedOffsets())
	assert.ErrorIs(t, h.failure(), errSinkClosed)
	assert.True(t, cancelled)
}

func TestKafkaSource_Run(t *testing.T) {
	group := &fakeGroup{
		claim: newClaim(`{"signature":"s1"}`, `{"signature":"s2"}`),
		errs:  make(chan error),
	}
	src := NewKafkaSourceWithGroup(group, "whale-tx", nil)
	sink := newFakeSink()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, sink) }()

	require.Eventually(t, func() bool { return len(sink.signatures()) == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.NoError(t, src.Close())
	assert.Equal(t, "kafka", src.Name())
}

func TestKafkaSource_RunReturnsSinkFailure(t *testing.T) {
	group := &fakeGroup{
		claim: newClaim(`{"fatal":true}`),
		errs:  make(chan error),
	}
	src := NewKafkaSourceWithGroup(group, "whale-tx", nil)

	err := src.Run(context.Background(), newFakeSink())
	require.ErrorIs(t, err, errSinkClosed)
	require.NoError(t, src.Close())
}
