package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/garudex-labs/caracal/internal/authority/resilience"
	"github.com/garudex-labs/caracal/internal/platform/logging"
)

// HandlerFunc processes one decoded envelope. A returned error enters the
// retry ladder; exhausting it routes the message to the DLQ.
type HandlerFunc func(ctx context.Context, env Envelope) error

// DLQMetricsSink is the subset of internal/authority/metrics.Registry the
// consumer needs, kept narrow like Store/Cache/Bus in the engine package.
type DLQMetricsSink interface {
	IncDLQDepth()
}

// NewConsumerConfig returns the sarama config matching spec.md §4.F's
// consumer contract: earliest offset reset, read-committed isolation,
// manual offset commit.
func NewConsumerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.IsolationLevel = sarama.ReadCommitted
	cfg.Consumer.Offsets.AutoCommit.Enable = false
	return cfg
}

// Consumer runs one consumer group against a set of topics, committing an
// offset only after HandlerFunc returns successfully (or after the message
// has been routed to the DLQ).
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	groupID string
	handler HandlerFunc
	retry   resilience.RetryConfig
	dlq     *Producer
	seen    *dedupSet
	metrics DLQMetricsSink
	log     *logging.Logger
}

// SetMetrics attaches a metrics sink to the consumer, incremented once per
// message routed to the DLQ. Optional; a nil sink (the default) simply
// skips the metric.
func (c *Consumer) SetMetrics(m DLQMetricsSink) {
	c.metrics = m
}

// NewConsumer dials brokers and joins groupID, consuming topics.
func NewConsumer(brokers []string, groupID string, topics []Topic, handler HandlerFunc, dlq *Producer, log *logging.Logger) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(brokers, groupID, NewConsumerConfig())
	if err != nil {
		return nil, err
	}
	return newConsumer(group, groupID, topics, handler, dlq, log), nil
}

func newConsumer(group sarama.ConsumerGroup, groupID string, topics []Topic, handler HandlerFunc, dlq *Producer, log *logging.Logger) *Consumer {
	strTopics := make([]string, len(topics))
	for i, t := range topics {
		strTopics[i] = string(t)
	}
	return &Consumer{
		group:   group,
		topics:  strTopics,
		groupID: groupID,
		handler: handler,
		retry:   resilience.DefaultRetryConfig(),
		dlq:     dlq,
		seen:    newDedupSet(100_000),
		log:     log,
	}
}

// Run joins the consumer group and processes messages until ctx is
// cancelled or the group is closed. Sarama re-invokes Consume on every
// rebalance, so this loops until ctx signals done.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := c.group.Consume(ctx, c.topics, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close releases the underlying consumer group. A rebalance triggered by
// Close commits pending offsets before releasing partitions, per sarama's
// own ConsumerGroup contract, satisfying spec.md §4.F's rebalance clause.
func (c *Consumer) Close() error {
	return c.group.Close()
}

// Setup implements sarama.ConsumerGroupHandler.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler. Offsets are committed
// with AutoCommit disabled, so a pending MarkMessage must be flushed here
// before the session's partitions are released on rebalance (spec.md §4.F:
// "on partition rebalance the consumer commits pending offsets before
// releasing partitions").
func (c *Consumer) Cleanup(sess sarama.ConsumerGroupSession) error {
	sess.Commit()
	return nil
}

// ConsumeClaim implements sarama.ConsumerGroupHandler.
func (c *Consumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			c.processMessage(sess, msg)
		case <-sess.Context().Done():
			return nil
		}
	}
}

func (c *Consumer) processMessage(sess sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) {
	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		c.sendToDLQ(msg, "unmarshal_error", err, 0)
		sess.MarkMessage(msg, "")
		sess.Commit() // AutoCommit is disabled; MarkMessage alone never reaches the broker
		return
	}

	if c.seen.seenBefore(env.EventID) {
		sess.MarkMessage(msg, "")
		sess.Commit()
		return
	}

	attempts := 0
	var lastErr error
	_ = resilience.Retry(sess.Context(), c.retry, func() error {
		attempts++
		lastErr = c.handler(sess.Context(), env)
		return lastErr
	})

	if lastErr != nil {
		c.sendToDLQ(msg, "handler_error", lastErr, attempts)
		sess.MarkMessage(msg, "") // routed to DLQ; advance past it rather than stall the partition
		sess.Commit()
		return
	}

	c.seen.record(env.EventID)
	sess.MarkMessage(msg, "")
	sess.Commit()
}

func (c *Consumer) sendToDLQ(msg *sarama.ConsumerMessage, errType string, cause error, retryCount int) {
	if c.metrics != nil {
		c.metrics.IncDLQDepth()
	}
	if c.dlq == nil {
		return
	}
	dlqEvent := DLQEvent{
		DLQID:             uuid.NewString(),
		OriginalTopic:     msg.Topic,
		OriginalPartition: msg.Partition,
		OriginalOffset:    msg.Offset,
		OriginalKey:       string(msg.Key),
		OriginalValue:     msg.Value,
		ErrorType:         errType,
		ErrorMessage:      cause.Error(),
		RetryCount:        retryCount,
		FailureTimestamp:  time.Now().UTC(),
		ConsumerGroup:     c.groupID,
	}
	payload, err := json.Marshal(dlqEvent)
	if err != nil {
		if c.log != nil {
			c.log.WithError(err).Error("eventbus: failed to marshal DLQ event")
		}
		return
	}
	if err := c.dlq.PublishRaw(context.Background(), TopicDLQ, msg.Topic, payload); err != nil {
		if c.log != nil {
			c.log.WithError(err).Error("eventbus: failed to publish to DLQ")
		}
	}
}
