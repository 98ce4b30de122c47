// Package broker verifies what the gateway produced to Kafka: ordered,
// exact per-topic delivery and, at session end, that nothing unexpected
// is left on any topic the session looked at.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"golang.org/x/sync/errgroup"

	"n2kharness/pkg/logging"
)

// Verifier owns one TopicConsumer per distinct topic, created on first use.
type Verifier struct {
	cfg      Config
	consumer sarama.Consumer
	client   sarama.Client

	mu        sync.Mutex
	consumers map[string]*TopicConsumer
	// pending holds topics whose partitions are still being discovered.
	pending map[string]*pendingConsumer
	order   []string
	closed  bool
}

// pendingConsumer lets concurrent callers for one topic share a single
// discovery. done is closed once c or err is set.
type pendingConsumer struct {
	done chan struct{}
	c    *TopicConsumer
	err  error
}

// New connects to cfg.Brokers.
func New(cfg Config) (*Verifier, error) {
	cfg = cfg.withDefaults()
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no brokers configured")
	}

	scfg, err := cfg.saramaConfig()
	if err != nil {
		return nil, err
	}
	client, err := sarama.NewClient(cfg.Brokers, scfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to brokers %v: %w", cfg.Brokers, err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("creating consumer: %w", err)
	}

	v := NewWithConsumer(consumer, cfg)
	v.client = client
	return v, nil
}

// NewWithConsumer wraps an existing consumer, such as a sarama mock.
func NewWithConsumer(consumer sarama.Consumer, cfg Config) *Verifier {
	return &Verifier{
		cfg:       cfg.withDefaults(),
		consumer:  consumer,
		consumers: make(map[string]*TopicConsumer),
		pending:   make(map[string]*pendingConsumer),
	}
}

// Consumer returns the consumer for topic, creating it on first use.
// Partition discovery runs without holding the verifier lock, so a topic
// that does not exist yet never delays checks on other topics.
func (v *Verifier) Consumer(ctx context.Context, topic string) (*TopicConsumer, error) {
	topic = NormalizeTopic(topic)

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil, ErrVerifierClosed
	}
	if c, ok := v.consumers[topic]; ok {
		v.mu.Unlock()
		return c, nil
	}
	if p, ok := v.pending[topic]; ok {
		v.mu.Unlock()
		select {
		case <-p.done:
			return p.c, p.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p := &pendingConsumer{done: make(chan struct{})}
	v.pending[topic] = p
	v.mu.Unlock()

	c, err := newTopicConsumer(ctx, v.consumer, topic, v.cfg.ReadTimeout)

	v.mu.Lock()
	delete(v.pending, topic)
	switch {
	case err != nil:
	case v.closed:
		_ = c.close()
		c, err = nil, ErrVerifierClosed
	default:
		v.consumers[topic] = c
		v.order = append(v.order, topic)
	}
	v.mu.Unlock()

	p.c, p.err = c, err
	close(p.done)
	return c, err
}

// CheckMessages verifies the next len(expected) messages of topic in order.
func (v *Verifier) CheckMessages(ctx context.Context, topic string, expected []Expected) error {
	c, err := v.Consumer(ctx, topic)
	if err != nil {
		if nm, ok := err.(*NoMessageError); ok && len(expected) == 0 {
			// Nothing expected and nothing ever produced.
			logging.Debug(subsystem, "topic %s has no partitions yet: %v", topic, nm)
			return nil
		}
		return err
	}

	for i, e := range expected {
		if err := e.Verify(ctx, c, i); err != nil {
			return err
		}
	}
	logging.Debug(subsystem, "topic %s: %d expected message(s) verified", c.Topic(), len(expected))
	return nil
}

// Topics returns the topics consumed so far, in first-use order.
func (v *Verifier) Topics() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.order...)
}

// AssertDrained checks every consumer concurrently and fails when any of
// them yields a message within the drain timeout.
func (v *Verifier) AssertDrained(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrVerifierClosed
	}
	consumers := make([]*TopicConsumer, 0, len(v.order))
	for _, t := range v.order {
		consumers = append(consumers, v.consumers[t])
	}
	v.mu.Unlock()

	var (
		mu        sync.Mutex
		leftovers = make(map[string][]byte)
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range consumers {
		g.Go(func() error {
			if m, ok := c.TryNext(gctx, v.cfg.DrainTimeout); ok {
				mu.Lock()
				leftovers[c.Topic()] = m.Value
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(leftovers) > 0 {
		return &UndrainedError{Leftovers: leftovers}
	}
	logging.Debug(subsystem, "%d topic(s) drained", len(consumers))
	return nil
}

// Close stops every topic consumer, then the underlying consumer and
// client.
func (v *Verifier) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	consumers := v.consumers
	v.mu.Unlock()

	var errs []error
	for _, c := range consumers {
		if err := c.close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := v.consumer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing consumer: %w", err))
	}
	if v.client != nil && !v.client.Closed() {
		if err := v.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing client: %w", err))
		}
	}
	return errors.Join(errs...)
}
