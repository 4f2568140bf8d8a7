package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/platform/logging"
)

// requeueBufferBytes is the local bounded retry buffer's capacity
// (spec.md §4.F: "a failed publish re-queues the event locally, bounded
// buffer, 32 MB").
const requeueBufferBytes = 32 * 1024 * 1024

// Producer publishes idempotent, acks=all messages to the authority topics
// (spec.md §4.F). Publish is fire-and-confirm: it returns only after the
// broker acknowledges, so the caller's store transaction (the authoritative
// write) is never outraced by its own publication. A failed send is also
// pushed onto a bounded local buffer that RunRequeueLoop keeps retrying,
// so a transient broker outage does not silently drop the event.
type Producer struct {
	sync    sarama.SyncProducer
	client  sarama.Client // nil when constructed from an already-built SyncProducer (tests)
	requeue *requeueBuffer
}

// NewProducerConfig returns the sarama config matching spec.md §4.F's
// producer contract: acks=all, idempotence on, 10ms linger, 100-event
// batch. Flush.Bytes bounds the internal async batch sarama accumulates
// before flushing to the broker — a send-side buffering knob, not the
// failed-publish retry buffer (that one is requeueBuffer, sized by
// requeueBufferBytes).
func NewProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1 // required by sarama when Idempotent is set
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Flush.Frequency = 10 * time.Millisecond
	cfg.Producer.Flush.MaxMessages = 100
	cfg.Producer.Flush.Bytes = 1024 * 1024
	return cfg
}

// NewProducer dials brokers and returns a Producer backed by a sarama
// SyncProducer.
func NewProducer(brokers []string) (*Producer, error) {
	return NewProducerWithLogger(brokers, nil)
}

// NewProducerWithLogger is NewProducer with a logger attached to the local
// requeue buffer, so dropped-on-overflow entries are observable. The
// producer is built from a retained sarama.Client (rather than
// sarama.NewSyncProducer's own internal client) so Ping can later ask the
// client about broker connectivity without a throwaway publish.
func NewProducerWithLogger(brokers []string, log *logging.Logger) (*Producer, error) {
	client, err := sarama.NewClient(brokers, NewProducerConfig())
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDownstreamUnavail, "eventbus: new producer", err)
	}
	sp, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, apperr.Wrap(apperr.CodeDownstreamUnavail, "eventbus: new producer", err)
	}
	return &Producer{sync: sp, client: client, requeue: newRequeueBuffer(requeueBufferBytes, log)}, nil
}

// NewProducerFromClient wraps an already-constructed sarama.SyncProducer,
// used by tests to inject github.com/IBM/sarama/mocks.NewSyncProducer.
func NewProducerFromClient(sp sarama.SyncProducer) *Producer {
	return &Producer{sync: sp, requeue: newRequeueBuffer(requeueBufferBytes, nil)}
}

// Publish marshals env as JSON and sends it to topic, partitioned by
// principalID for per-principal ordering.
func (p *Producer) Publish(ctx context.Context, topic Topic, principalID string, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "eventbus: marshal envelope", err)
	}
	return p.PublishRaw(ctx, topic, principalID, payload)
}

// PublishRaw sends payload to topic under key without any envelope
// wrapping, used by the DLQ path to forward the original message bytes. On
// failure the entry is pushed onto the local bounded requeue buffer for
// RunRequeueLoop to retry; the error is still returned so the immediate
// caller can log/account for it.
func (p *Producer) PublishRaw(ctx context.Context, topic Topic, key string, payload []byte) error {
	err := p.sendRaw(ctx, topic, key, payload)
	if err != nil {
		p.requeue.push(topic, key, payload)
	}
	return err
}

func (p *Producer) sendRaw(ctx context.Context, topic Topic, key string, payload []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: string(topic),
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := p.sync.SendMessage(msg); err != nil {
		return apperr.Wrap(apperr.CodeDownstreamUnavail, "eventbus: publish to "+string(topic), err)
	}
	return nil
}

// Close releases the underlying producer connection.
func (p *Producer) Close() error {
	if p.client != nil {
		defer p.client.Close()
	}
	return p.sync.Close()
}

// Ping reports whether at least one broker is currently reachable, used by
// the /health "bus" check. A producer built via NewProducerFromClient (all
// current tests) has no retained client and is treated as reachable, since
// those tests inject their own mock transport.
func (p *Producer) Ping(ctx context.Context) error {
	if p.client == nil {
		return nil
	}
	if err := p.client.RefreshMetadata(); err != nil {
		return apperr.Wrap(apperr.CodeDownstreamUnavail, "eventbus: ping refresh metadata", err)
	}
	for _, b := range p.client.Brokers() {
		if ok, _ := b.Connected(); ok {
			return nil
		}
	}
	return apperr.New(apperr.CodeDownstreamUnavail, "eventbus: no brokers reachable")
}
