package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	ctx     context.Context
	marked  []*sarama.ConsumerMessage
	commits int
}

func newFakeSession() *fakeSession {
	return &fakeSession{ctx: context.Background()}
}

func (f *fakeSession) Claims() map[string][]int32                                         { return nil }
func (f *fakeSession) MemberID() string                                                   { return "fake-member" }
func (f *fakeSession) GenerationID() int32                                                { return 1 }
func (f *fakeSession) MarkOffset(topic string, partition int32, offset int64, meta string) {}
func (f *fakeSession) Commit()                                                             { f.commits++ }
func (f *fakeSession) ResetOffset(topic string, partition int32, offset int64, meta string) {}
func (f *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, metadata string) {
	f.marked = append(f.marked, msg)
}
func (f *fakeSession) Context() context.Context { return f.ctx }

func encodeEnvelope(t *testing.T, env Envelope) []byte {
	t.Helper()
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return b
}

func TestProcessMessageInvokesHandlerAndMarksOnSuccess(t *testing.T) {
	var received Envelope
	handler := func(ctx context.Context, env Envelope) error {
		received = env
		return nil
	}

	c := newConsumer(nil, "test-group", []Topic{TopicIssued}, handler, nil, nil)
	sess := newFakeSession()
	msg := &sarama.ConsumerMessage{
		Topic: string(TopicIssued),
		Value: encodeEnvelope(t, Envelope{EventID: "evt-1", Kind: "mandate_issued"}),
	}

	c.processMessage(sess, msg)

	require.Equal(t, "evt-1", received.EventID)
	require.Len(t, sess.marked, 1)
	require.Equal(t, 1, sess.commits)
	require.True(t, c.seen.seenBefore("evt-1"))
}

func TestProcessMessageSkipsAlreadySeenEventID(t *testing.T) {
	calls := 0
	handler := func(ctx context.Context, env Envelope) error {
		calls++
		return nil
	}

	c := newConsumer(nil, "test-group", []Topic{TopicIssued}, handler, nil, nil)
	sess := newFakeSession()
	msg := &sarama.ConsumerMessage{
		Topic: string(TopicIssued),
		Value: encodeEnvelope(t, Envelope{EventID: "evt-dup"}),
	}

	c.processMessage(sess, msg)
	c.processMessage(sess, msg)

	require.Equal(t, 1, calls)
	require.Len(t, sess.marked, 2)
	require.Equal(t, 2, sess.commits)
}

func TestProcessMessageRoutesUnmarshalErrorsToDLQ(t *testing.T) {
	mp := mocks.NewSyncProducer(t, NewProducerConfig())
	mp.ExpectSendMessageAndSucceed()
	dlq := NewProducerFromClient(mp)

	handler := func(ctx context.Context, env Envelope) error { return nil }
	c := newConsumer(nil, "test-group", []Topic{TopicIssued}, handler, dlq, nil)
	sess := newFakeSession()
	msg := &sarama.ConsumerMessage{
		Topic: string(TopicIssued),
		Value: []byte("not-json"),
	}

	c.processMessage(sess, msg)

	require.Len(t, sess.marked, 1)
	require.Equal(t, 1, sess.commits)
}

func TestProcessMessageExhaustsRetriesThenRoutesToDLQ(t *testing.T) {
	mp := mocks.NewSyncProducer(t, NewProducerConfig())
	mp.ExpectSendMessageAndSucceed()
	dlq := NewProducerFromClient(mp)

	attempts := 0
	handler := func(ctx context.Context, env Envelope) error {
		attempts++
		return errors.New("handler always fails")
	}

	c := newConsumer(nil, "test-group", []Topic{TopicIssued}, handler, dlq, nil)
	c.retry.InitialDelay = time.Millisecond
	c.retry.MaxDelay = time.Millisecond
	sess := newFakeSession()
	msg := &sarama.ConsumerMessage{
		Topic: string(TopicIssued),
		Value: encodeEnvelope(t, Envelope{EventID: "evt-fail"}),
	}

	c.processMessage(sess, msg)

	require.Equal(t, c.retry.MaxAttempts, attempts)
	require.Len(t, sess.marked, 1)
	require.Equal(t, 1, sess.commits)
	require.False(t, c.seen.seenBefore("evt-fail"))
}

type fakeDLQMetricsSink struct {
	dlqDepth int
}

func (f *fakeDLQMetricsSink) IncDLQDepth() { f.dlqDepth++ }

func TestProcessMessageIncrementsDLQMetricOnRouteToDLQ(t *testing.T) {
	mp := mocks.NewSyncProducer(t, NewProducerConfig())
	mp.ExpectSendMessageAndSucceed()
	dlq := NewProducerFromClient(mp)

	handler := func(ctx context.Context, env Envelope) error { return nil }
	c := newConsumer(nil, "test-group", []Topic{TopicIssued}, handler, dlq, nil)
	sink := &fakeDLQMetricsSink{}
	c.SetMetrics(sink)

	sess := newFakeSession()
	msg := &sarama.ConsumerMessage{Topic: string(TopicIssued), Value: []byte("not-json")}
	c.processMessage(sess, msg)

	require.Equal(t, 1, sink.dlqDepth)
}

func TestCleanupCommitsPendingOffsetsBeforeRebalance(t *testing.T) {
	c := newConsumer(nil, "test-group", []Topic{TopicIssued}, nil, nil, nil)
	sess := newFakeSession()

	require.NoError(t, c.Cleanup(sess))
	require.Equal(t, 1, sess.commits)
}
