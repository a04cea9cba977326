package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Consumer pulls job messages from the ingest topic and runs them through
// the pipeline. Messages are committed only after the job reaches a terminal
// state, so a crashed worker replays the job on another consumer.
type Consumer struct {
	reader   *kafka.Reader
	pipeline *Pipeline
	jobs     JobStore
	logger   *slog.Logger
}

// NewConsumer creates a Consumer in the worker consumer group.
func NewConsumer(cfg *BrokerConfig, pipeline *Pipeline, jobs JobStore, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			GroupID:        cfg.GroupID,
			Topic:          cfg.Topic,
			MinBytes:       1,
			MaxBytes:       10 << 20,
			CommitInterval: 0, // explicit commits only
		}),
		pipeline: pipeline,
		jobs:     jobs,
		logger:   logger.With("component", "consumer"),
	}
}

// Run consumes until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("ingest consumer started", "topic", c.reader.Config().Topic, "group", c.reader.Config().GroupID)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}

			return fmt.Errorf("failed to fetch job message: %w", err)
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit job message", "error", err)
		}
	}
}

// handle runs one job to a terminal state, including retries. Errors never
// propagate; the job record carries the outcome.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var job JobMessage
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		c.logger.Error("discarding undecodable job message", "error", err)

		return
	}

	logger := c.logger.With("job_id", job.JobID, "filename", job.OriginalFilename)
	logger.Info("job received", "attempt", job.Attempt)

	for {
		err := c.pipeline.Run(ctx, &job)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			logger.Warn("job interrupted by shutdown", "error", err)

			return
		}

		if IsPermanent(err) || !IsTransient(err) {
			logger.Warn("job failed permanently", "error", err)

			return
		}

		newCount, retryErr := c.jobs.IncrementRetry(ctx, job.JobID)
		if retryErr != nil {
			logger.Error("failed to record retry", "error", retryErr)

			return
		}

		if newCount >= MaxAttempts {
			logger.Warn("job exhausted retries", "attempts", newCount, "error", err)
			c.failJob(ctx, job.JobID, fmt.Sprintf("exhausted %d attempts: %v", newCount, err))

			return
		}

		attempt := newCount + 1
		backoff := RetryBackoff(attempt)
		logger.Info("retrying job", "attempt", attempt, "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		job.Attempt = attempt
		if _, err := c.jobs.ResetForRetry(ctx, job.JobID); err != nil {
			logger.Error("failed to reset job for retry", "error", err)

			return
		}
	}
}

func (c *Consumer) failJob(ctx context.Context, id uuid.UUID, errorLog string) {
	if err := c.jobs.MarkFailed(ctx, id, errorLog, []StageError{{Stage: "retry", Error: errorLog}}); err != nil {
		c.logger.Error("failed to mark job failed", "job_id", id, "error", err)
	}
}

// Close shuts down the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
