package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/garudex-labs/caracal/internal/platform/logging"
)

// requeueEntry is one publish that failed and is waiting for the broker to
// become reachable again.
type requeueEntry struct {
	topic   Topic
	key     string
	payload []byte
}

func (e requeueEntry) size() int { return len(e.payload) }

// requeueBuffer holds failed publishes up to maxBytes (spec.md §4.F: "a
// failed publish re-queues the event locally, bounded buffer, 32 MB").
// Once full, the oldest entry is dropped to admit the newest one — the
// same fail-open posture the rate limiter and cache take elsewhere in this
// module, rather than blocking the caller's store transaction on a full
// buffer.
type requeueBuffer struct {
	mu       sync.Mutex
	entries  []requeueEntry
	size     int
	maxBytes int
	dropped  int64
	log      *logging.Logger
}

func newRequeueBuffer(maxBytes int, log *logging.Logger) *requeueBuffer {
	return &requeueBuffer{maxBytes: maxBytes, log: log}
}

func (b *requeueBuffer) push(topic Topic, key string, payload []byte) {
	entry := requeueEntry{topic: topic, key: key, payload: payload}

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.size+entry.size() > b.maxBytes && len(b.entries) > 0 {
		oldest := b.entries[0]
		b.entries = b.entries[1:]
		b.size -= oldest.size()
		b.dropped++
		if b.log != nil {
			b.log.WithField("topic", string(oldest.topic)).
				WithField("dropped_total", b.dropped).
				Error("eventbus: local requeue buffer full, dropping oldest pending publish")
		}
	}
	b.entries = append(b.entries, entry)
	b.size += entry.size()
}

// drain attempts to resend every pending entry in order via send, stopping
// at the first failure so partition ordering for a given key is preserved
// and the failing entry (and everything behind it) stays queued for the
// next drain.
func (b *requeueBuffer) drain(ctx context.Context, send func(ctx context.Context, topic Topic, key string, payload []byte) error) {
	b.mu.Lock()
	pending := b.entries
	b.mu.Unlock()

	sent := 0
	for _, e := range pending {
		if err := send(ctx, e.topic, e.key, e.payload); err != nil {
			break
		}
		sent++
	}
	if sent == 0 {
		return
	}

	b.mu.Lock()
	b.entries = b.entries[sent:]
	for _, e := range pending[:sent] {
		b.size -= e.size()
	}
	b.mu.Unlock()
}

func (b *requeueBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// RunRequeueLoop periodically retries locally-buffered failed publishes
// until ctx is cancelled. Intended to run as a background goroutine
// alongside the producer for the lifetime of the process.
func (p *Producer) RunRequeueLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.requeue.drain(ctx, p.sendRaw)
		}
	}
}

// PendingRequeueCount reports how many failed publishes are currently
// buffered locally, for health/metrics reporting.
func (p *Producer) PendingRequeueCount() int {
	return p.requeue.len()
}
