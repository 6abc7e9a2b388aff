package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	log "github.com/sirupsen/logrus"

	"donation-service/internal/domain"
)

type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
}

func NewKafkaPublisher(bootstrapServers, topic string) (*KafkaPublisher, error) {
	configMap := &kafka.ConfigMap{
		"bootstrap.servers": bootstrapServers,
		"client.id":         "donation-service",
		"acks":              "all",
	}
	log.WithField("config", fmt.Sprintf("%+v", configMap)).Debug("Kafka producer config")

	producer, err := kafka.NewProducer(configMap)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	p := &KafkaPublisher{producer: producer, topic: topic}
	go p.watch()
	log.WithField("topic", topic).Info("Publishing submission events to Kafka")
	return p, nil
}

// watch logs producer-level events that are not tied to a single delivery.
func (p *KafkaPublisher) watch() {
	for ev := range p.producer.Events() {
		switch e := ev.(type) {
		case kafka.Error:
			log.WithError(e).Error("Kafka error")
		case *kafka.Message:
			if e.TopicPartition.Error != nil {
				log.WithError(e.TopicPartition.Error).Error("Kafka delivery failed")
			}
		}
	}
}

func encodeEvent(event domain.SubmissionEvent) (key, value []byte, err error) {
	value, err = json.Marshal(event)
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	return []byte(event.SubmissionID), value, nil
}

// Publish waits for the broker to acknowledge the event or for ctx to end.
func (p *KafkaPublisher) Publish(ctx context.Context, event domain.SubmissionEvent) error {
	key, value, err := encodeEvent(event)
	if err != nil {
		return err
	}

	delivery := make(chan kafka.Event, 1)
	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            key,
		Value:          value,
	}, delivery)
	if err != nil {
		return fmt.Errorf("produce %s event: %w", event.Type, err)
	}

	select {
	case ev := <-delivery:
		if m, ok := ev.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			return fmt.Errorf("deliver %s event: %w", event.Type, m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *KafkaPublisher) Close() error {
	if remaining := p.producer.Flush(5000); remaining > 0 {
		log.WithField("remaining", remaining).Warn("Kafka producer closed with undelivered events")
	}
	p.producer.Close()
	return nil
}
