// Package publisher accepts documents for indexing: it assigns a shard,
// records the document as pending and publishes an ingest event to Kafka.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/postgres"
)

// PendingRecorder is satisfied by *postgres.Client.
type PendingRecorder interface {
	MarkPending(ctx context.Context, docID uint32, shardID int) error
}

// EventPublisher is satisfied by *kafka.Producer.
type EventPublisher interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

type Publisher struct {
	status    PendingRecorder
	events    EventPublisher
	numShards int
	shardFor  func(docID uint32) int
	logger    *slog.Logger
}

// New returns a Publisher. shardFor must agree with the indexer's router;
// status may be nil when document status tracking is disabled.
func New(status PendingRecorder, events EventPublisher, numShards int, shardFor func(uint32) int) *Publisher {
	return &Publisher{
		status:    status,
		events:    events,
		numShards: numShards,
		shardFor:  shardFor,
		logger:    slog.Default().With("component", "publisher"),
	}
}

// Ingest publishes req. The event key is the document id so every version
// of a document lands on the same partition in order.
func (p *Publisher) Ingest(ctx context.Context, req *ingestion.IngestRequest) (*ingestion.IngestResponse, error) {
	shardID := p.shardFor(req.DocumentID)
	if req.ShardID != nil {
		if *req.ShardID < 0 || *req.ShardID >= p.numShards {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
				"shard_id %d outside [0, %d)", *req.ShardID, p.numShards)
		}
		shardID = *req.ShardID
	}
	if p.status != nil {
		if err := p.status.MarkPending(ctx, req.DocumentID, shardID); err != nil {
			return nil, fmt.Errorf("recording pending document: %w", err)
		}
	}
	event := kafka.Event{
		Key: strconv.FormatUint(uint64(req.DocumentID), 10),
		Value: ingestion.IngestEvent{
			DocumentID: req.DocumentID,
			Fields:     req.Fields,
			ShardID:    &shardID,
			IngestedAt: time.Now().UTC(),
		},
	}
	if err := p.events.Publish(ctx, event); err != nil {
		p.logger.Error("failed to publish ingest event",
			"doc_id", req.DocumentID,
			"shard_id", shardID,
			"error", err,
		)
		return nil, apperrors.Newf(apperrors.ErrInternal, http.StatusServiceUnavailable, "publishing document %d: %v", req.DocumentID, err)
	}
	return &ingestion.IngestResponse{
		DocumentID: req.DocumentID,
		ShardID:    shardID,
		Status:     postgres.StatusPending,
	}, nil
}
