package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/authority/eventbus"
	"github.com/garudex-labs/caracal/internal/platform/logging"
)

// ReplayClient drives an audit replay of the authority event bus from a
// past point in time into a dedicated consumer group (spec.md §4.G point
// 3), grounded on original_source/caracal/kafka/replay.py's
// reset_consumer_group_offset and validate_event_ordering.
type ReplayClient struct {
	client sarama.Client
	log    *logging.Logger
}

// NewReplayClient dials brokers for replay operations.
func NewReplayClient(brokers []string, log *logging.Logger) (*ReplayClient, error) {
	client, err := sarama.NewClient(brokers, sarama.NewConfig())
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDownstreamUnavail, "ledger: replay client", err)
	}
	return &ReplayClient{client: client, log: log}, nil
}

// Close releases the underlying Kafka client.
func (r *ReplayClient) Close() error {
	return r.client.Close()
}

// OutOfOrderEvent records one instance where a replayed message's
// timestamp preceded the previous message's timestamp on the same
// partition (replay.py's validate_event_ordering, folded into the replay
// pass itself rather than a separate one).
type OutOfOrderEvent struct {
	Topic             string
	Partition         int32
	Offset            int64
	Timestamp         time.Time
	PreviousTimestamp time.Time
}

// ReplayResult summarizes one replay run. DuplicateKeys and OutOfOrder are
// reported, not corrected: spec.md §4.G point 3 says replay is an explicit
// audit operation and must not silently rewrite history.
type ReplayResult struct {
	EventsProcessed int
	DuplicateKeys   []string
	OutOfOrder      []OutOfOrderEvent
}

// resolveOffsets returns, for each partition of each topic, the offset of
// the first message at or after fromTimestamp — Kafka's ListOffsets
// semantics, equivalent to confluent-kafka's offsets_for_times.
func (r *ReplayClient) resolveOffsets(topics []eventbus.Topic, fromTimestamp time.Time) (map[string]map[int32]int64, error) {
	ms := fromTimestamp.UTC().UnixMilli()
	out := make(map[string]map[int32]int64, len(topics))
	for _, topic := range topics {
		partitions, err := r.client.Partitions(string(topic))
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeDownstreamUnavail, "ledger: replay partitions", err)
		}
		perPartition := make(map[int32]int64, len(partitions))
		for _, p := range partitions {
			offset, err := r.client.GetOffset(string(topic), p, ms)
			if err != nil {
				return nil, apperr.Wrap(apperr.CodeDownstreamUnavail, "ledger: replay offset lookup", err)
			}
			if offset < 0 {
				// No message at or after fromTimestamp on this partition;
				// fall back to earliest rather than skipping the partition.
				offset, err = r.client.GetOffset(string(topic), p, sarama.OffsetOldest)
				if err != nil {
					return nil, apperr.Wrap(apperr.CodeDownstreamUnavail, "ledger: replay oldest offset", err)
				}
			}
			perPartition[p] = offset
		}
		out[string(topic)] = perPartition
	}
	return out, nil
}

// seedConsumerGroup commits offsets for groupID so its first join starts
// exactly at the resolved positions, mirroring replay.py's
// reset_consumer_group_offset committing before the replay begins.
func (r *ReplayClient) seedConsumerGroup(groupID string, offsets map[string]map[int32]int64) error {
	om, err := sarama.NewOffsetManagerFromClient(groupID, r.client)
	if err != nil {
		return apperr.Wrap(apperr.CodeDownstreamUnavail, "ledger: replay offset manager", err)
	}
	defer om.Close()

	for topic, partitions := range offsets {
		for partition, offset := range partitions {
			pom, err := om.ManagePartition(topic, partition)
			if err != nil {
				return apperr.Wrap(apperr.CodeDownstreamUnavail, "ledger: replay manage partition", err)
			}
			pom.MarkOffset(offset, "replay seed")
			pom.Close()
		}
	}
	return nil
}

// replayHandler accumulates ReplayResult across however many per-partition
// ConsumeClaim goroutines sarama runs concurrently within one session; all
// mutable state is guarded by mu since Kafka gives no ordering guarantee
// across partitions.
type replayHandler struct {
	targets map[string]map[int32]int64

	mu              sync.Mutex
	done            map[string]map[int32]bool
	remaining       int
	eventsProcessed int
	duplicateKeys   []string
	outOfOrder      []OutOfOrderEvent
	seenKeys        map[string]int
	lastTimestamp   map[string]map[int32]time.Time

	once  sync.Once
	doneC chan struct{}
}

func (h *replayHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *replayHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *replayHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var env eventbus.Envelope
		decoded := json.Unmarshal(msg.Value, &env) == nil
		sess.MarkMessage(msg, "")

		h.mu.Lock()
		if decoded {
			h.eventsProcessed++

			key := env.Kind + "|" + env.PrincipalID + "|" + env.MandateID + "|" + env.PublishedAt.UTC().Format(time.RFC3339Nano)
			h.seenKeys[key]++
			if h.seenKeys[key] > 1 {
				h.duplicateKeys = append(h.duplicateKeys, key)
			}

			if h.lastTimestamp[msg.Topic] == nil {
				h.lastTimestamp[msg.Topic] = make(map[int32]time.Time)
			}
			if prev, ok := h.lastTimestamp[msg.Topic][msg.Partition]; ok && msg.Timestamp.Before(prev) {
				h.outOfOrder = append(h.outOfOrder, OutOfOrderEvent{
					Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset,
					Timestamp: msg.Timestamp, PreviousTimestamp: prev,
				})
			}
			h.lastTimestamp[msg.Topic][msg.Partition] = msg.Timestamp
		}

		if target, ok := h.targets[msg.Topic][msg.Partition]; ok && msg.Offset >= target {
			if h.done[msg.Topic] == nil {
				h.done[msg.Topic] = make(map[int32]bool)
			}
			if !h.done[msg.Topic][msg.Partition] {
				h.done[msg.Topic][msg.Partition] = true
				h.remaining--
			}
		}
		allDone := h.remaining <= 0
		h.mu.Unlock()

		if allDone {
			h.once.Do(func() { close(h.doneC) })
		}
	}
	return nil
}

// Replay seeds newConsumerGroup at fromTimestamp across topics and streams
// forward to the newest offset recorded at call time, reporting
// duplicate-by-(kind,principal,mandate,timestamp) events and out-of-order
// timestamps per partition without correcting either.
func (r *ReplayClient) Replay(ctx context.Context, topics []eventbus.Topic, fromTimestamp time.Time, newConsumerGroup string) (ReplayResult, error) {
	starts, err := r.resolveOffsets(topics, fromTimestamp)
	if err != nil {
		return ReplayResult{}, err
	}
	if err := r.seedConsumerGroup(newConsumerGroup, starts); err != nil {
		return ReplayResult{}, err
	}

	targets := make(map[string]map[int32]int64, len(topics))
	topicNames := make([]string, 0, len(topics))
	remaining := 0
	for _, topic := range topics {
		topicNames = append(topicNames, string(topic))
		partitions, err := r.client.Partitions(string(topic))
		if err != nil {
			return ReplayResult{}, apperr.Wrap(apperr.CodeDownstreamUnavail, "ledger: replay partitions", err)
		}
		perPartition := make(map[int32]int64, len(partitions))
		for _, p := range partitions {
			newest, err := r.client.GetOffset(string(topic), p, sarama.OffsetNewest)
			if err != nil {
				return ReplayResult{}, apperr.Wrap(apperr.CodeDownstreamUnavail, "ledger: replay newest offset", err)
			}
			if newest == 0 {
				continue
			}
			perPartition[p] = newest - 1
			remaining++
		}
		targets[string(topic)] = perPartition
	}

	h := &replayHandler{
		targets:       targets,
		done:          make(map[string]map[int32]bool),
		remaining:     remaining,
		seenKeys:      make(map[string]int),
		lastTimestamp: make(map[string]map[int32]time.Time),
		doneC:         make(chan struct{}),
	}

	result := func() ReplayResult {
		h.mu.Lock()
		defer h.mu.Unlock()
		return ReplayResult{EventsProcessed: h.eventsProcessed, DuplicateKeys: h.duplicateKeys, OutOfOrder: h.outOfOrder}
	}

	if remaining == 0 {
		return result(), nil
	}

	group, err := sarama.NewConsumerGroupFromClient(newConsumerGroup, r.client)
	if err != nil {
		return ReplayResult{}, apperr.Wrap(apperr.CodeDownstreamUnavail, "ledger: replay consumer group", err)
	}
	defer group.Close()

	replayCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- group.Consume(replayCtx, topicNames, h)
	}()

	select {
	case <-h.doneC:
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil && !errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return result(), apperr.Wrap(apperr.CodeDownstreamUnavail, "ledger: replay consume", err)
		}
	case <-ctx.Done():
		cancel()
		<-errCh
		return result(), ctx.Err()
	}

	return result(), nil
}
