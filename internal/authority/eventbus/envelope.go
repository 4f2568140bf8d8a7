// Package eventbus publishes and consumes authority events over Kafka
// (spec.md §4.F): four partitioned topics plus a dead-letter queue, with
// idempotent producer sends and commit-after-success consumer semantics.
package eventbus

import "time"

// Topic names the four authority topics and the DLQ, all partitioned by
// principal id to guarantee per-principal ordering.
type Topic string

const (
	TopicIssued            Topic = "authority.issued"
	TopicValidatedOrDenied Topic = "authority.validated-or-denied"
	TopicRevoked           Topic = "authority.revoked"
	TopicPolicyChanged     Topic = "authority.policy-changed"
	TopicDLQ               Topic = "authority.dlq"
)

// KindPolicyChanged is Envelope.Kind for messages on TopicPolicyChanged, the
// only topic whose payload is a notification rather than a ledger event.
const KindPolicyChanged = "policy_changed"

// Envelope wraps a ledger event (or policy-change notice) for transport.
// EventID is the producer-assigned dedup key every consumer checks before
// invoking its handler.
type Envelope struct {
	EventID     string          `json:"event_id"`
	Kind        string          `json:"kind"`
	PrincipalID string          `json:"principal_id"`
	MandateID   string          `json:"mandate_id,omitempty"`
	Payload     []byte          `json:"payload"`
	PublishedAt time.Time       `json:"published_at"`
}

// DLQEvent carries the full failure context for a message that exhausted
// its retry ladder (spec.md §4.F, supplemented per original_source/caracal/kafka/dlq.py).
type DLQEvent struct {
	DLQID             string    `json:"dlq_id"`
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     []byte    `json:"original_value"`
	ErrorType         string    `json:"error_type"`
	ErrorMessage      string    `json:"error_message"`
	RetryCount        int       `json:"retry_count"`
	FailureTimestamp  time.Time `json:"failure_timestamp"`
	ConsumerGroup     string    `json:"consumer_group"`
}
