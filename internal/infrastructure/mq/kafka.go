package mq

import (
	"context"
	"fmt"

	"lipdub/internal/config"
	"lipdub/internal/logger"

	"github.com/IBM/sarama"
)

// NewProducer creates a synchronous producer that waits for all replicas.
func NewProducer(cfg *config.KafkaConfig) (sarama.SyncProducer, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	logger.WithModule("mq").WithField("brokers", cfg.Brokers).Info("kafka producer created")
	return producer, nil
}

// Publisher sends one keyed message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key, payload string) error
}

type KafkaPublisher struct {
	producer sarama.SyncProducer
}

func NewKafkaPublisher(producer sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func (p *KafkaPublisher) Publish(_ context.Context, topic, key, payload string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(payload),
	}
	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// LogPublisher writes events to the app log when Kafka is disabled.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, topic, key, payload string) error {
	logger.WithModule("mq").WithFields(map[string]interface{}{
		"topic": topic,
		"key":   key,
	}).Info(payload)
	return nil
}
