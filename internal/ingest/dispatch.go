package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/floatchat-io/floatchat/internal/config"
)

// Broker defaults.
const (
	DefaultJobTopic      = "floatchat.ingest.jobs"
	DefaultConsumerGroup = "floatchat-workers"
)

// BrokerConfig holds Kafka connection settings shared by the dispatcher and
// the consumer.
type BrokerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// LoadBrokerConfig loads Kafka configuration from environment variables.
func LoadBrokerConfig() *BrokerConfig {
	return &BrokerConfig{
		Brokers: config.ParseCommaSeparatedList(config.GetEnvStr("KAFKA_BROKERS", "localhost:9092")),
		Topic:   config.GetEnvStr("KAFKA_JOB_TOPIC", DefaultJobTopic),
		GroupID: config.GetEnvStr("KAFKA_CONSUMER_GROUP", DefaultConsumerGroup),
	}
}

// KafkaDispatcher publishes job messages to the ingest topic.
type KafkaDispatcher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// Compile-time check that KafkaDispatcher satisfies the domain interface.
var _ Dispatcher = (*KafkaDispatcher)(nil)

// NewKafkaDispatcher creates a dispatcher on the configured brokers.
func NewKafkaDispatcher(cfg *BrokerConfig, logger *slog.Logger) *KafkaDispatcher {
	return &KafkaDispatcher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger.With("component", "dispatcher"),
	}
}

// Dispatch enqueues a job message, keyed by job ID so retries of the same
// job land on the same partition.
func (d *KafkaDispatcher) Dispatch(ctx context.Context, msg JobMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode job message: %w", err)
	}

	err = d.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.JobID.String()),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to dispatch job %s: %w", msg.JobID, err)
	}

	d.logger.Info("job dispatched", "job_id", msg.JobID, "kind", msg.Kind, "attempt", msg.Attempt)

	return nil
}

// Close flushes and closes the underlying writer.
func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}
