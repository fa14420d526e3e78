package lib

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"nftdiarias/src/types"

	"github.com/confluentinc/confluent-kafka-go/kafka"
)

func GetKafkaProducerConfig(broker, clientId string) kafka.ConfigMap {
	// librdkafka keeps retrying a message for five minutes by default
	return kafka.ConfigMap{
		"bootstrap.servers":  broker,
		"client.id":          clientId,
		"acks":               "all",
		"message.timeout.ms": int(deliveryTimeout / time.Millisecond),
	}
}

const deliveryTimeout = 10 * time.Second

// kafkaProducer is the part of *kafka.Producer the publisher needs.
type kafkaProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// KafkaPublisher produces lifecycle events and waits for the broker ack.
type KafkaPublisher struct {
	producer kafkaProducer
	// Timeout bounds the wait for an ack when ctx has no deadline.
	Timeout time.Duration
}

func NewKafkaPublisher(broker, clientId string) (*KafkaPublisher, error) {
	cfg := GetKafkaProducerConfig(broker, clientId)
	p, err := kafka.NewProducer(&cfg)
	if err != nil {
		log.Printf("Error on producer: %s\n", err.Error())
		return nil, err
	}
	return &KafkaPublisher{producer: p, Timeout: deliveryTimeout}, nil
}

func (k *KafkaPublisher) Publish(ctx context.Context, topic string, payload types.JSONB) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var key []byte
	if id, ok := payload["tokenId"].(string); ok && id != "" {
		key = []byte(id)
	}
	if _, ok := ctx.Deadline(); !ok {
		timeout := k.Timeout
		if timeout <= 0 {
			timeout = deliveryTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	delivery := make(chan kafka.Event, 1)
	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            key,
		Value:          value,
	}, delivery)
	if err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	select {
	case ev := <-delivery:
		if m, ok := ev.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			return fmt.Errorf("deliver to %s: %w", topic, m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *KafkaPublisher) Close() {
	if remaining := k.producer.Flush(5000); remaining > 0 {
		log.Printf("[kafka] %d messages were not delivered before shutdown\n", remaining)
	}
	k.producer.Close()
}

func KafkaCreateTopics(ctx context.Context, broker string, topics ...string) ([]kafka.TopicResult, error) {
	a, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": broker,
	})
	if err != nil {
		log.Printf("Error on AdminClient: %s\n", err.Error())
		return nil, err
	}
	defer a.Close()
	topicsDef := []kafka.TopicSpecification{}
	for _, topic := range topics {
		topicsDef = append(topicsDef, kafka.TopicSpecification{
			Topic:             topic,
			NumPartitions:     10,
			ReplicationFactor: 1,
		})
	}
	result, err := a.CreateTopics(ctx, topicsDef)
	if err != nil {
		log.Printf("Error creating topics: %s\n", err.Error())
		return nil, err
	}
	return result, nil
}
