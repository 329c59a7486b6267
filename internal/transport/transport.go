package transport

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Publisher delivers an encoded envelope to a topic. Implementations return
// only after the broker acknowledged the write.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// HandlerFunc processes one delivered payload. A non-nil error leaves the
// message eligible for redelivery.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Consumer feeds deliveries to a handler until the context ends.
type Consumer interface {
	Run(ctx context.Context, handler HandlerFunc) error
}

const topicPrefix = "baton."

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TopicFor maps an envelope type to its transport topic: one topic per saga
// family keeps per-correlation ordering within the partition key.
func TopicFor(eventType string) string {
	family, _, ok := strings.Cut(eventType, ".")
	if !ok || family == "" {
		return topicPrefix + "misc"
	}
	return topicPrefix + family
}

// Topics enumerates the topics the engine consumes.
func Topics() []string {
	return []string{topicPrefix + "checkout", topicPrefix + "cancellation", topicPrefix + "return"}
}

// LocalBus is an in-process transport used in tests and when no broker is
// configured.
type LocalBus struct {
	mu     sync.Mutex
	buf    chan delivery
	closed bool
}

type delivery struct {
	topic   string
	key     string
	payload []byte
}

// NewLocalBus constructs a bus with a bounded buffer.
func NewLocalBus(size int) *LocalBus {
	if size <= 0 {
		size = 1024
	}
	return &LocalBus{buf: make(chan delivery, size)}
}

func (b *LocalBus) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case b.buf <- delivery{topic: topic, key: key, payload: append([]byte(nil), payload...)}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run delivers buffered messages to the handler until the context ends.
func (b *LocalBus) Run(ctx context.Context, handler HandlerFunc) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-b.buf:
			if err := handler(ctx, d.payload); err != nil {
				// Redeliver later; local semantics mirror a broker nack.
				select {
				case b.buf <- d:
				default:
				}
			}
		}
	}
}
