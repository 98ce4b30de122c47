package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockVerifier(t *testing.T, topics map[string][]int32) (*Verifier, *mocks.Consumer) {
	t.Helper()
	consumer := mocks.NewConsumer(t, nil)
	consumer.SetTopicMetadata(topics)
	v := NewWithConsumer(consumer, Config{
		ReadTimeout:  200 * time.Millisecond,
		DrainTimeout: 100 * time.Millisecond,
	})
	t.Cleanup(func() { _ = v.Close() })
	return v, consumer
}

func yield(pc *mocks.PartitionConsumer, values ...string) {
	for _, v := range values {
		pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte(v)})
	}
}

func TestCheckMessages_ExactOrderedDelivery(t *testing.T) {
	v, consumer := newMockVerifier(t, map[string][]int32{"rb_flow": {0}})
	yield(consumer.ExpectConsumePartition("rb_flow", 0, sarama.OffsetOldest), `{"test":1}`, `{"test":2}`)

	err := v.CheckMessages(context.Background(), "rb_flow", []Expected{
		Payload(`{"test":1}`),
		Payload(`{"test":2}`),
	})
	require.NoError(t, err)

	c, err := v.Consumer(context.Background(), "rb_flow")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Consumed())
	assert.NoError(t, v.AssertDrained(context.Background()))
}

func TestCheckMessages_OrderMismatch(t *testing.T) {
	v, consumer := newMockVerifier(t, map[string][]int32{"t1": {0}})
	yield(consumer.ExpectConsumePartition("t1", 0, sarama.OffsetOldest), `{"test":2}`, `{"test":1}`)

	err := v.CheckMessages(context.Background(), "t1", []Expected{
		Payload(`{"test":1}`),
		Payload(`{"test":2}`),
	})

	var unexpected *UnexpectedMessageError
	require.ErrorAs(t, err, &unexpected)
	assert.Equal(t, 0, unexpected.Index)
	assert.Equal(t, []byte(`{"test":2}`), unexpected.Got)
}

func TestCheckMessages_NoMessage(t *testing.T) {
	v, consumer := newMockVerifier(t, map[string][]int32{"t2": {0}})
	yield(consumer.ExpectConsumePartition("t2", 0, sarama.OffsetOldest), "only")

	err := v.CheckMessages(context.Background(), "t2", []Expected{Payload("only"), Payload("missing")})

	var none *NoMessageError
	require.ErrorAs(t, err, &none)
	assert.Equal(t, 1, none.Index)
	assert.Equal(t, "t2", none.Topic)
}

func TestCheckMessages_UnknownTopicWithNothingExpected(t *testing.T) {
	v, _ := newMockVerifier(t, map[string][]int32{})

	assert.NoError(t, v.CheckMessages(context.Background(), "never-produced", nil))
	assert.Empty(t, v.Topics())
}

func TestCheckMessages_UnknownTopicWithExpectations(t *testing.T) {
	v, _ := newMockVerifier(t, map[string][]int32{})

	err := v.CheckMessages(context.Background(), "never-produced", []Expected{Payload("x")})
	var none *NoMessageError
	require.ErrorAs(t, err, &none)
	assert.ErrorIs(t, err, sarama.ErrUnknownTopicOrPartition)
}

func TestCheckMessages_CallbackAndMatcher(t *testing.T) {
	v, consumer := newMockVerifier(t, map[string][]int32{"stats": {0}})
	yield(consumer.ExpectConsumePartition("stats", 0, sarama.OffsetOldest),
		`{"type":"stats","ts":1700000000}`,
		`{"client_mac":"54:26:96:db:88:01","bytes":10}`,
	)

	matcher, err := CompileMatcher(`json.client_mac == "54:26:96:db:88:01" && json.bytes > 5`)
	require.NoError(t, err)

	var seenTopic string
	err = v.CheckMessages(context.Background(), "stats", []Expected{
		Callback(func(ctx context.Context, c *TopicConsumer) error {
			seenTopic = c.Topic()
			m, err := c.Next(ctx)
			if err != nil {
				return err
			}
			if len(m.Value) == 0 {
				return errors.New("empty stats message")
			}
			return nil
		}),
		matcher,
	})
	require.NoError(t, err)
	assert.Equal(t, "stats", seenTopic)
}

func TestExprMatcher_Rejects(t *testing.T) {
	v, consumer := newMockVerifier(t, map[string][]int32{"t3": {0}})
	yield(consumer.ExpectConsumePartition("t3", 0, sarama.OffsetOldest), "plain text")

	matcher, err := CompileMatcher(`json != nil`)
	require.NoError(t, err)

	err = v.CheckMessages(context.Background(), "t3", []Expected{matcher})
	var unexpected *UnexpectedMessageError
	require.ErrorAs(t, err, &unexpected)
	assert.Contains(t, unexpected.Error(), "does not satisfy")
}

func TestCompileMatcher_Invalid(t *testing.T) {
	_, err := CompileMatcher(`value +`)
	assert.Error(t, err)

	_, err = CompileMatcher(`size`)
	assert.Error(t, err, "non-boolean expressions are rejected")
}

func TestAssertDrained_ReportsLeftovers(t *testing.T) {
	v, consumer := newMockVerifier(t, map[string][]int32{"a": {0}, "b": {0}})
	yield(consumer.ExpectConsumePartition("a", 0, sarama.OffsetOldest), "a1")
	yield(consumer.ExpectConsumePartition("b", 0, sarama.OffsetOldest), "b1", "b2")

	require.NoError(t, v.CheckMessages(context.Background(), "a", []Expected{Payload("a1")}))
	require.NoError(t, v.CheckMessages(context.Background(), "b", []Expected{Payload("b1")}))

	err := v.AssertDrained(context.Background())
	var undrained *UndrainedError
	require.ErrorAs(t, err, &undrained)
	assert.Equal(t, map[string][]byte{"b": []byte("b2")}, undrained.Leftovers)
}

func TestVerifier_NormalizesTopicNames(t *testing.T) {
	precomposed := "caf\u00e9"
	decomposed := "cafe\u0301"

	v, consumer := newMockVerifier(t, map[string][]int32{precomposed: {0}})
	yield(consumer.ExpectConsumePartition(precomposed, 0, sarama.OffsetOldest), "x")

	c1, err := v.Consumer(context.Background(), precomposed)
	require.NoError(t, err)
	c2, err := v.Consumer(context.Background(), decomposed)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, []string{precomposed}, v.Topics())
}

func TestVerifier_Closed(t *testing.T) {
	v, _ := newMockVerifier(t, map[string][]int32{})
	require.NoError(t, v.Close())

	_, err := v.Consumer(context.Background(), "t")
	assert.ErrorIs(t, err, ErrVerifierClosed)
	assert.ErrorIs(t, v.AssertDrained(context.Background()), ErrVerifierClosed)
	assert.NoError(t, v.Close())
}

func TestConfig_SASL(t *testing.T) {
	cfg, err := Config{SASL: SASLConfig{Mechanism: "scram-sha-512", User: "u", Password: "p"}}.withDefaults().saramaConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Net.SASL.Enable)
	assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypeSCRAMSHA512), cfg.Net.SASL.Mechanism)
	require.NotNil(t, cfg.Net.SASL.SCRAMClientGeneratorFunc)

	client := cfg.Net.SASL.SCRAMClientGeneratorFunc()
	require.NoError(t, client.Begin("u", "p", ""))
	first, err := client.Step("")
	require.NoError(t, err)
	assert.Contains(t, first, "n=u")

	_, err = Config{SASL: SASLConfig{Mechanism: "GSSAPI"}}.saramaConfig()
	assert.Error(t, err)
}

func TestCheckMessages_MissingTopicDoesNotDelayOtherTopics(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)
	consumer.SetTopicMetadata(map[string][]int32{"ready": {0}})
	v := NewWithConsumer(consumer, Config{
		ReadTimeout:  2 * time.Second,
		DrainTimeout: 100 * time.Millisecond,
	})
	t.Cleanup(func() { _ = v.Close() })
	yield(consumer.ExpectConsumePartition("ready", 0, sarama.OffsetOldest), `{"test":1}`)

	missing := make(chan error, 1)
	go func() {
		missing <- v.CheckMessages(context.Background(), "never-created", []Expected{Payload("x")})
	}()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	require.NoError(t, v.CheckMessages(context.Background(), "ready", []Expected{Payload(`{"test":1}`)}))
	assert.Less(t, time.Since(start), time.Second)

	var none *NoMessageError
	require.ErrorAs(t, <-missing, &none)
	assert.Equal(t, []string{"ready"}, v.Topics())
}

func TestConsumer_ConcurrentCallersShareOneConsumer(t *testing.T) {
	v, consumer := newMockVerifier(t, map[string][]int32{"shared": {0}})
	consumer.ExpectConsumePartition("shared", 0, sarama.OffsetOldest)

	const callers = 4
	got := make(chan *TopicConsumer, callers)
	for i := 0; i < callers; i++ {
		go func() {
			c, err := v.Consumer(context.Background(), "shared")
			assert.NoError(t, err)
			got <- c
		}()
	}

	first := <-got
	require.NotNil(t, first)
	for i := 1; i < callers; i++ {
		assert.Same(t, first, <-got)
	}
	assert.Equal(t, []string{"shared"}, v.Topics())
}
