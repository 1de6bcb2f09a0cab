// Package ingestion defines the HTTP request and Kafka event schemas of the
// indexing pipeline.
package ingestion

import "time"

// IngestEvent is the Kafka message payload for one document to index.
// Fields maps schema field names to their text. ShardID, when set, pins the
// document to a shard instead of routing by id.
type IngestEvent struct {
	DocumentID uint32            `json:"document_id"`
	Fields     map[string]string `json:"fields"`
	ShardID    *int              `json:"shard_id,omitempty"`
	IngestedAt time.Time         `json:"ingested_at"`
}

// IndexCompleteEvent is published after a document's postings are in the
// memory index of its shard.
type IndexCompleteEvent struct {
	DocumentID uint32    `json:"document_id"`
	ShardID    int       `json:"shard_id"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// IngestRequest is the body of POST /api/v1/documents.
type IngestRequest struct {
	DocumentID uint32            `json:"document_id"`
	Fields     map[string]string `json:"fields"`
	ShardID    *int              `json:"shard_id,omitempty"`
}

type IngestResponse struct {
	DocumentID uint32 `json:"document_id"`
	ShardID    int    `json:"shard_id"`
	Status     string `json:"status"`
}
