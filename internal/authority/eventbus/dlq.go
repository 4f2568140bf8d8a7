package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/IBM/sarama"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/platform/logging"
)

// DLQClient provides operational visibility and recovery over the
// dead-letter topic: depth monitoring, replay, and purge (supplemented
// from original_source/caracal/kafka/dlq.py and cli/dlq.py — the original's
// CLI-exposed operations, carried here as a library surface instead).
type DLQClient struct {
	client sarama.Client
	log    *logging.Logger
}

// NewDLQClient dials brokers for DLQ operations.
func NewDLQClient(brokers []string, log *logging.Logger) (*DLQClient, error) {
	client, err := sarama.NewClient(brokers, sarama.NewConfig())
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDownstreamUnavail, "eventbus: dlq client", err)
	}
	return &DLQClient{client: client, log: log}, nil
}

// Close releases the underlying Kafka client.
func (d *DLQClient) Close() error {
	return d.client.Close()
}

// Depth reports the current number of messages sitting on the DLQ topic,
// the volume gauge spec.md §7 requires ("DLQ volume is monitored").
func (d *DLQClient) Depth(ctx context.Context) (int64, error) {
	partitions, err := d.client.Partitions(string(TopicDLQ))
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeDownstreamUnavail, "eventbus: dlq partitions", err)
	}

	var total int64
	for _, p := range partitions {
		oldest, err := d.client.GetOffset(string(TopicDLQ), p, sarama.OffsetOldest)
		if err != nil {
			return 0, apperr.Wrap(apperr.CodeDownstreamUnavail, "eventbus: dlq oldest offset", err)
		}
		newest, err := d.client.GetOffset(string(TopicDLQ), p, sarama.OffsetNewest)
		if err != nil {
			return 0, apperr.Wrap(apperr.CodeDownstreamUnavail, "eventbus: dlq newest offset", err)
		}
		total += newest - oldest
	}
	return total, nil
}

// ReplayDLQ consumes every message currently on the DLQ topic exactly once
// and invokes onEvent for each (typically: republish OriginalValue to
// OriginalTopic). It returns the count processed.
func (d *DLQClient) ReplayDLQ(ctx context.Context, groupID string, onEvent func(DLQEvent) error) (int, error) {
	return d.drain(ctx, groupID, onEvent)
}

// PurgeDLQ acknowledges every message currently on the DLQ topic without
// invoking any handler. Kafka has no delete-by-offset; purge is expressed
// as committing a dedicated consumer group through to the current end of
// the topic.
func (d *DLQClient) PurgeDLQ(ctx context.Context, groupID string) (int, error) {
	return d.drain(ctx, groupID, nil)
}

type drainHandler struct {
	onEvent func(DLQEvent) error
	targets map[int32]int64

	mu    sync.Mutex
	done  map[int32]bool
	count int
	once  sync.Once
	doneC chan struct{}
}

func (h *drainHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *drainHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *drainHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if h.onEvent != nil {
			var ev DLQEvent
			if err := json.Unmarshal(msg.Value, &ev); err == nil {
				_ = h.onEvent(ev)
			}
		}
		sess.MarkMessage(msg, "")

		h.mu.Lock()
		h.count++
		if target, ok := h.targets[msg.Partition]; ok && msg.Offset >= target {
			h.done[msg.Partition] = true
		}
		allDone := len(h.done) == len(h.targets)
		h.mu.Unlock()

		if allDone {
			h.once.Do(func() { close(h.doneC) })
		}
	}
	return nil
}

func (d *DLQClient) drain(ctx context.Context, groupID string, onEvent func(DLQEvent) error) (int, error) {
	partitions, err := d.client.Partitions(string(TopicDLQ))
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeDownstreamUnavail, "eventbus: dlq partitions", err)
	}

	targets := make(map[int32]int64)
	for _, p := range partitions {
		newest, err := d.client.GetOffset(string(TopicDLQ), p, sarama.OffsetNewest)
		if err != nil {
			return 0, apperr.Wrap(apperr.CodeDownstreamUnavail, "eventbus: dlq newest offset", err)
		}
		if newest == 0 {
			continue
		}
		targets[p] = newest - 1
	}
	if len(targets) == 0 {
		return 0, nil
	}

	group, err := sarama.NewConsumerGroupFromClient(groupID, d.client)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeDownstreamUnavail, "eventbus: dlq consumer group", err)
	}
	defer group.Close()

	h := &drainHandler{onEvent: onEvent, targets: targets, done: make(map[int32]bool), doneC: make(chan struct{})}
	drainCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- group.Consume(drainCtx, []string{string(TopicDLQ)}, h)
	}()

	select {
	case <-h.doneC:
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil && !errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return h.count, apperr.Wrap(apperr.CodeDownstreamUnavail, "eventbus: dlq drain", err)
		}
	case <-ctx.Done():
		cancel()
		<-errCh
		return h.count, ctx.Err()
	}

	return h.count, nil
}
