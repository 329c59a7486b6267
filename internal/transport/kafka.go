package transport

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes envelopes to Kafka, one writer per topic, hashing the
// message key so all events of a correlation id land on one partition.
type KafkaPublisher struct {
	mu      sync.Mutex
	brokers []string
	writers map[string]*kafka.Writer
}

// NewKafkaPublisher constructs a publisher from a comma-separated broker list.
func NewKafkaPublisher(brokersCSV string) *KafkaPublisher {
	var brokers []string
	for _, b := range strings.Split(brokersCSV, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return &KafkaPublisher{
		brokers: brokers,
		writers: make(map[string]*kafka.Writer),
	}
}

// Enabled reports whether any broker is configured.
func (p *KafkaPublisher) Enabled() bool {
	return len(p.brokers) > 0
}

func (p *KafkaPublisher) writer(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.writers[topic]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	p.writers[topic] = w
	return w
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	return p.writer(topic).WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

// Close shuts down all writers.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	for _, w := range p.writers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// KafkaConsumer reads a set of topics within one consumer group.
type KafkaConsumer struct {
	brokers []string
	topics  []string
	groupID string

	retryBase time.Duration
	retryMax  time.Duration
	sleep     func(context.Context, time.Duration) error
}

// NewKafkaConsumer constructs a consumer for the given topics.
func NewKafkaConsumer(brokersCSV, groupID string, topics []string) *KafkaConsumer {
	var brokers []string
	for _, b := range strings.Split(brokersCSV, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return &KafkaConsumer{
		brokers:   brokers,
		topics:    topics,
		groupID:   groupID,
		retryBase: time.Second,
		retryMax:  30 * time.Second,
		sleep:     sleepCtx,
	}
}

// Run fetches and commits messages until the context ends. Commit happens
// only after the handler succeeded; a failing message is retried in place,
// because fetching past it would let a later commit advance the group offset
// over it and drop it for good.
func (c *KafkaConsumer) Run(ctx context.Context, handler HandlerFunc) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.brokers,
		GroupTopics: c.topics,
		GroupID:     c.groupID,
		MinBytes:    10e3,
		MaxBytes:    10e6,
	})
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := c.deliver(ctx, handler, msg.Value); err != nil {
			return err
		}
		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			return err
		}
	}
}

// deliver runs the handler until it succeeds, backing off between attempts.
// Only a context error escapes.
func (c *KafkaConsumer) deliver(ctx context.Context, handler HandlerFunc, payload []byte) error {
	delay := c.retryBase
	for {
		if err := handler(ctx, payload); err == nil {
			return nil
		}
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
		if delay *= 2; delay > c.retryMax {
			delay = c.retryMax
		}
	}
}
