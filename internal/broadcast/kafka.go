// Package broadcast publishes serialized normalized market messages to the
// Kafka stream consumed by the UI fan-out layer.
package broadcast

import (
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sirupsen/logrus"
)

// KafkaSink is a feed.Sink backed by a Kafka producer. Delivery failures are
// logged through the delivery-report channel, not surfaced per publish.
type KafkaSink struct {
	producer *kafka.Producer
	topic    string
	logger   *logrus.Logger
}

// NewKafkaSink creates the producer and starts its delivery-report loop.
func NewKafkaSink(broker, topic string, logger *logrus.Logger) (*KafkaSink, error) {
	config := kafka.ConfigMap{
		"bootstrap.servers": broker,
	}

	producer, err := kafka.NewProducer(&config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	sink := &KafkaSink{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
	go sink.deliveryReport()

	logger.WithField("topic", topic).Info("Kafka producer initialized")
	return sink, nil
}

// deliveryReport drains the producer events channel and logs failed
// deliveries. It exits when the producer is closed.
func (s *KafkaSink) deliveryReport() {
	for e := range s.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				s.logger.WithField("error", ev.TopicPartition.Error).Error("Message delivery failed")
			}
		}
	}
}

// Publish enqueues one serialized message onto the broadcast topic.
func (s *KafkaSink) Publish(msg string) error {
	return s.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &s.topic, Partition: kafka.PartitionAny},
		Value:          []byte(msg),
	}, nil)
}

// Close flushes outstanding messages and shuts the producer down.
func (s *KafkaSink) Close() {
	s.producer.Flush(int((5 * time.Second).Milliseconds()))
	s.producer.Close()
	s.logger.Info("Kafka producer closed")
}
