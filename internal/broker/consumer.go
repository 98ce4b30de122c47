package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"golang.org/x/text/unicode/norm"

	"n2kharness/pkg/logging"
)

const (
	subsystem = "Broker"

	partitionRetryInterval = 100 * time.Millisecond
	consumerBufferSize     = 256
)

// NormalizeTopic returns the canonical (NFC) form of a topic name so the
// same topic always maps to the same consumer.
func NormalizeTopic(topic string) string {
	return norm.NFC.String(topic)
}

// Message is one consumed broker record.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// TopicConsumer reads one topic forward from the oldest retained offset of
// every partition. Messages are never re-read once returned.
type TopicConsumer struct {
	topic       string
	readTimeout time.Duration

	messages   chan *Message
	partitions []sarama.PartitionConsumer
	stop       chan struct{}
	wg         sync.WaitGroup

	mu       sync.Mutex
	consumed int
}

func newTopicConsumer(ctx context.Context, consumer sarama.Consumer, topic string, readTimeout time.Duration) (*TopicConsumer, error) {
	ids, err := discoverPartitions(ctx, consumer, topic, readTimeout)
	if err != nil {
		return nil, err
	}

	tc := &TopicConsumer{
		topic:       topic,
		readTimeout: readTimeout,
		messages:    make(chan *Message, consumerBufferSize),
		stop:        make(chan struct{}),
	}
	for _, id := range ids {
		pc, err := consumer.ConsumePartition(topic, id, sarama.OffsetOldest)
		if err != nil {
			tc.close()
			return nil, fmt.Errorf("consuming %s/%d: %w", topic, id, err)
		}
		tc.partitions = append(tc.partitions, pc)
		tc.wg.Add(1)
		go tc.forward(pc)
	}

	logging.Debug(subsystem, "consumer for %s started on %d partition(s)", topic, len(ids))
	return tc, nil
}

// discoverPartitions retries until the topic has partitions. A topic with
// no traffic yet may only be created by the gateway's first produce.
func discoverPartitions(ctx context.Context, consumer sarama.Consumer, topic string, timeout time.Duration) ([]int32, error) {
	deadline := time.Now().Add(timeout)
	for {
		ids, err := consumer.Partitions(topic)
		if err == nil && len(ids) > 0 {
			return ids, nil
		}
		if time.Now().After(deadline) {
			if err == nil {
				err = errors.New("topic has no partitions")
			}
			return nil, &NoMessageError{Topic: topic, Timeout: timeout, Err: err}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(partitionRetryInterval):
		}
	}
}

func (tc *TopicConsumer) forward(pc sarama.PartitionConsumer) {
	defer tc.wg.Done()

	msgs := pc.Messages()
	errs := pc.Errors()
	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				return
			}
			out := &Message{
				Topic:     m.Topic,
				Partition: m.Partition,
				Offset:    m.Offset,
				Key:       m.Key,
				Value:     m.Value,
				Timestamp: m.Timestamp,
			}
			select {
			case tc.messages <- out:
			case <-tc.stop:
				return
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logging.Warn(subsystem, "partition consumer %s: %v", tc.topic, err)
		case <-tc.stop:
			return
		}
	}
}

// Topic returns the normalized topic name.
func (tc *TopicConsumer) Topic() string {
	return tc.topic
}

// Consumed reports how many messages were returned so far.
func (tc *TopicConsumer) Consumed() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.consumed
}

// Next returns the next message, waiting at most the read timeout.
func (tc *TopicConsumer) Next(ctx context.Context) (*Message, error) {
	return tc.NextWithin(ctx, tc.readTimeout)
}

// NextWithin returns the next message, waiting at most timeout.
func (tc *TopicConsumer) NextWithin(ctx context.Context, timeout time.Duration) (*Message, error) {
	select {
	case m := <-tc.messages:
		return tc.record(m), nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m := <-tc.messages:
		return tc.record(m), nil
	case <-timer.C:
		return nil, &NoMessageError{Topic: tc.topic, Index: tc.Consumed(), Timeout: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryNext is a bounded, non-failing read used by the drain check.
func (tc *TopicConsumer) TryNext(ctx context.Context, timeout time.Duration) (*Message, bool) {
	m, err := tc.NextWithin(ctx, timeout)
	if err != nil {
		return nil, false
	}
	return m, true
}

func (tc *TopicConsumer) record(m *Message) *Message {
	tc.mu.Lock()
	tc.consumed++
	tc.mu.Unlock()
	return m
}

func (tc *TopicConsumer) close() error {
	select {
	case <-tc.stop:
		return nil
	default:
		close(tc.stop)
	}

	var errs []error
	for _, pc := range tc.partitions {
		if err := pc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s partition consumer: %w", tc.topic, err))
		}
	}
	tc.wg.Wait()
	return errors.Join(errs...)
}
