// Package consumer reads ingest events from Kafka and indexes them into the
// shard that owns each document.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/resilience"
)

// StatusRecorder persists the indexing outcome of a document.
type StatusRecorder interface {
	UpdateDocumentStatus(ctx context.Context, docID uint32, shardID int, status string) error
}

// EventPublisher announces indexed documents.
type EventPublisher interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessageSharded returns a Kafka MessageHandler that routes each ingest
// event to its shard engine and indexes it. Undecodable or invalid events
// are logged and acknowledged so they do not block the partition. status
// and events may be nil.
func HandleMessageSharded(router *shard.Router, status StatusRecorder, events EventPublisher) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ingestion.IngestEvent](value)
		if err != nil {
			logger.Error("failed to decode ingest event",
				"error", err,
				"key", string(key),
			)
			return nil
		}

		shardID := router.ShardFor(event.DocumentID)
		if event.ShardID != nil {
			shardID = *event.ShardID
		}

		engine, err := router.Route(shardID)
		if err != nil {
			return fmt.Errorf("routing document %d: %w", event.DocumentID, err)
		}
		if err := validator.ValidateIngestEvent(&event, engine.Schema()); err != nil {
			logger.Warn("rejecting invalid ingest event",
				"doc_id", event.DocumentID,
				"error", err,
			)
			recordStatus(ctx, status, event.DocumentID, shardID, postgres.StatusFailed, logger)
			return nil
		}

		logger.Debug("processing ingest event",
			"doc_id", event.DocumentID,
			"shard_id", shardID,
		)
		if err := engine.IndexDocument(event.DocumentID, event.Fields); err != nil {
			recordStatus(ctx, status, event.DocumentID, shardID, postgres.StatusFailed, logger)
			return fmt.Errorf("indexing document %d in shard %d: %w", event.DocumentID, shardID, err)
		}
		recordStatus(ctx, status, event.DocumentID, shardID, postgres.StatusIndexed, logger)

		if events != nil {
			done := kafka.Event{
				Key: strconv.FormatUint(uint64(event.DocumentID), 10),
				Value: ingestion.IndexCompleteEvent{
					DocumentID: event.DocumentID,
					ShardID:    shardID,
					IndexedAt:  time.Now().UTC(),
				},
			}
			if err := events.Publish(ctx, done); err != nil {
				logger.Error("failed to publish index complete event",
					"doc_id", event.DocumentID,
					"error", err,
				)
			}
		}

		logger.Info("document indexed",
			"doc_id", event.DocumentID,
			"shard_id", shardID,
		)
		return nil
	}
}

var statusRetry = resilience.RetryConfig{
	MaxAttempts:  3,
	InitialDelay: 50 * time.Millisecond,
	MaxDelay:     time.Second,
	Jitter:       0.1,
}

func recordStatus(ctx context.Context, status StatusRecorder, docID uint32, shardID int, value string, logger *slog.Logger) {
	if status == nil {
		return
	}
	err := resilience.Retry(ctx, "update-document-status", statusRetry, func(ctx context.Context) error {
		return status.UpdateDocumentStatus(ctx, docID, shardID, value)
	})
	if err != nil {
		logger.Error("failed to update document status",
			"doc_id", docID,
			"status", value,
			"error", err,
		)
	}
}
