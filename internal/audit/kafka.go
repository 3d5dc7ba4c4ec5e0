package audit

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sirupsen/logrus"
)

const flushTimeoutMs = 5000

type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	logger   logrus.FieldLogger
}

func NewKafkaPublisher(broker, topic string, logger logrus.FieldLogger) (*KafkaPublisher, error) {
	config := kafka.ConfigMap{
		"bootstrap.servers": broker,
	}

	producer, err := kafka.NewProducer(&config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	p := &KafkaPublisher{producer: producer, topic: topic, logger: logger}
	p.startDeliveryReport()
	return p, nil
}

// Check Events channel of kafka; delivery failures go to the logger.
func (p *KafkaPublisher) startDeliveryReport() {
	go func() {
		for e := range p.producer.Events() {
			switch ev := e.(type) {
			case *kafka.Message:
				if ev.TopicPartition.Error != nil {
					p.logger.Errorf("Audit delivery failed: %v", ev.TopicPartition.Error)
				}
			case kafka.Error:
				p.logger.Errorf("Kafka error: %v", ev)
			}
		}
	}()
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := e.Encode()
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	return p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(e.Key()),
		Value:          value,
	}, nil)
}

func (p *KafkaPublisher) Close() {
	if left := p.producer.Flush(flushTimeoutMs); left > 0 {
		p.logger.Warnf("%d audit events not delivered before close", left)
	}
	p.producer.Close()
}
