package lib

import (
	"context"
	"errors"
	"testing"
	"time"

	"nftdiarias/src/types"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type fakeProducer struct {
	produced  []*kafka.Message
	deliverFn func(m *kafka.Message) kafka.Event
	flushed   bool
	closed    bool
}

func (f *fakeProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	f.produced = append(f.produced, msg)
	if f.deliverFn != nil {
		if ev := f.deliverFn(msg); ev != nil {
			deliveryChan <- ev
		}
		return nil
	}
	deliveryChan <- msg
	return nil
}

func (f *fakeProducer) Flush(timeoutMs int) int {
	f.flushed = true
	return 0
}

func (f *fakeProducer) Close() {
	f.closed = true
}

func TestKafkaPublisherKeysByToken(t *testing.T) {
	producer := &fakeProducer{}
	p := &KafkaPublisher{producer: producer}

	err := p.Publish(context.Background(), "reservations.lifecycle", types.JSONB{"type": "reservation.minted", "tokenId": "7"})
	require.NoError(t, err)
	require.Len(t, producer.produced, 1)
	msg := producer.produced[0]
	assert.Equal(t, "reservations.lifecycle", *msg.TopicPartition.Topic)
	assert.Equal(t, "7", string(msg.Key))
	assert.Equal(t, "reservation.minted", gjson.GetBytes(msg.Value, "type").String())

	p.Close()
	assert.True(t, producer.flushed)
	assert.True(t, producer.closed)
}

func TestKafkaPublisherReportsDeliveryFailure(t *testing.T) {
	producer := &fakeProducer{deliverFn: func(m *kafka.Message) kafka.Event {
		m.TopicPartition.Error = errors.New("broker down")
		return m
	}}
	p := &KafkaPublisher{producer: producer}
	err := p.Publish(context.Background(), "t", types.JSONB{"tokenId": "1"})
	assert.ErrorContains(t, err, "broker down")
}

func TestKafkaPublisherHonorsContext(t *testing.T) {
	producer := &fakeProducer{deliverFn: func(*kafka.Message) kafka.Event { return nil }}
	p := &KafkaPublisher{producer: producer}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Publish(ctx, "t", types.JSONB{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKafkaPublisherBoundsUndeliveredMessages(t *testing.T) {
	producer := &fakeProducer{deliverFn: func(*kafka.Message) kafka.Event { return nil }}
	p := &KafkaPublisher{producer: producer, Timeout: 20 * time.Millisecond}

	began := time.Now()
	err := p.Publish(context.WithoutCancel(context.Background()), "t", types.JSONB{"tokenId": "1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(began), 5*time.Second)
}

func TestKafkaProducerConfigCapsDeliveryTimeout(t *testing.T) {
	cfg := GetKafkaProducerConfig("localhost:9092", "reservations")
	assert.Equal(t, 10000, cfg["message.timeout.ms"])
	assert.Equal(t, "all", cfg["acks"])
}
