package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/tokenkey"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/metrics"
)

// Engine is one shard of the bitmap index: an in-memory index for recent
// documents plus the immutable segments it has flushed. Flush holds the
// write lock for its whole duration, so lookups never observe a document
// that is in neither the memory index nor a segment.
type Engine struct {
	mu      sync.RWMutex
	mem     *index.MemoryIndex
	writer  *segment.Writer
	readers []*segment.Reader
	loaded  map[string]struct{}

	shardID int
	cfg     config.IndexerConfig
	schema  config.SchemaConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewEngine(shardID int, cfg config.IndexerConfig, schema config.SchemaConfig, m *metrics.Metrics) (*Engine, error) {
	if cfg.MaxTokenLength == 0 {
		return nil, fmt.Errorf("max token length must be positive: %w", apperrors.ErrInvalidInput)
	}
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("validating schema: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating index data directory: %w", err)
	}
	e := &Engine{
		mem:     index.NewMemoryIndex(cfg.MaxTokenLength),
		writer:  segment.NewWriter(cfg.DataDir),
		loaded:  make(map[string]struct{}),
		shardID: shardID,
		cfg:     cfg,
		schema:  schema,
		metrics: m,
		logger:  logger.WithShard("indexer", shardID),
	}
	if _, err := e.loadNewSegments(); err != nil {
		return nil, fmt.Errorf("loading existing segments: %w", err)
	}
	return e, nil
}

// IndexDocument posts docID under the keys of every named field.
func (e *Engine) IndexDocument(docID uint32, fields map[string]string) error {
	byID := make(map[uint8]string, len(fields))
	for name, text := range fields {
		id, ok := e.schema.FieldID(name)
		if !ok {
			return fmt.Errorf("field %q: %w", name, apperrors.ErrUnknownField)
		}
		byID[id] = text
	}

	e.mu.RLock()
	keys := e.mem.AddDocument(docID, byID)
	size := e.mem.Size()
	e.mu.RUnlock()

	stemmed := 0
	for _, k := range keys {
		if k.Tag.IsStemmed() {
			stemmed++
		}
	}
	e.metrics.DocumentIndexed(len(keys)-stemmed, stemmed)
	e.logger.Debug("document indexed in memory",
		"doc_id", docID,
		"key_count", len(keys),
		"mem_size", size,
	)
	if e.cfg.SegmentMaxSize > 0 && size >= e.cfg.SegmentMaxSize {
		e.logger.Info("memory index reached max size, flushing to disk",
			"size", size,
			"threshold", e.cfg.SegmentMaxSize,
		)
		if err := e.Flush(); err != nil {
			return fmt.Errorf("flushing memory index: %w", err)
		}
	}
	return nil
}

// KeyFor derives the posting key of token in field using the engine's
// token length clamp.
func (e *Engine) KeyFor(token string, field uint8, stemmed bool) index.Key {
	tag := tokenkey.Word(field)
	if stemmed {
		tag = tokenkey.Stemmed(field)
	}
	return index.Key{
		Token: tokenkey.DeriveString(token, e.cfg.MaxTokenLength),
		Tag:   tag,
	}
}

func (e *Engine) Schema() config.SchemaConfig {
	return e.schema
}

// Lookup returns the union of the documents posted under keys across the
// memory index and all segments. A segment that fails to read is logged and
// skipped.
func (e *Engine) Lookup(keys ...index.Key) *roaring.Bitmap {
	e.mu.RLock()
	defer e.mu.RUnlock()
	parts := make([]*roaring.Bitmap, 0, len(keys)*(len(e.readers)+1))
	for _, k := range keys {
		parts = append(parts, e.mem.Lookup(k))
		for _, r := range e.readers {
			bm, err := r.Lookup(k)
			if err != nil {
				e.logger.Error("segment lookup failed",
					"segment", r.Path(),
					"key", k.String(),
					"error", err,
				)
				continue
			}
			parts = append(parts, bm)
		}
	}
	return roaring.FastOr(parts...)
}

// Docs returns every document id held by the engine.
func (e *Engine) Docs() *roaring.Bitmap {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.docsLocked()
}

func (e *Engine) docsLocked() *roaring.Bitmap {
	parts := []*roaring.Bitmap{e.mem.Docs()}
	for _, r := range e.readers {
		parts = append(parts, r.Docs())
	}
	return roaring.FastOr(parts...)
}

func (e *Engine) DocCount() uint64 {
	return e.Docs().GetCardinality()
}

func (e *Engine) Segments() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.readers)
}

// Flush writes the memory index to a new segment and starts a fresh one.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.flushLocked()
	e.metrics.Flushed(err)
	return err
}

func (e *Engine) flushLocked() error {
	if e.mem.DocCount() == 0 {
		return nil
	}
	segmentName, err := e.writer.Write(e.mem.Snapshot(), e.mem.Docs())
	if err != nil {
		return fmt.Errorf("writing segment: %w", err)
	}
	segPath := filepath.Join(e.cfg.DataDir, segmentName)
	reader, err := segment.OpenReader(segPath)
	if err != nil {
		return fmt.Errorf("opening new segment for reading: %w", err)
	}
	e.readers = append(e.readers, reader)
	e.loaded[segmentName] = struct{}{}
	e.mem = index.NewMemoryIndex(e.cfg.MaxTokenLength)
	e.metrics.ShardState(e.shardID, len(e.readers), int(e.docsLocked().GetCardinality()))
	e.logger.Info("segment flushed",
		"segment", segmentName,
		"keys", reader.Keys(),
		"docs", reader.DocCount(),
		"active_segments", len(e.readers),
	)
	return nil
}

func (e *Engine) StartFlushLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.FlushInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("flush loop stopping, performing final flush")
				if err := e.Flush(); err != nil {
					e.logger.Error("final flush failed", "error", err)
				}
				return
			case <-ticker.C:
				if err := e.Flush(); err != nil {
					e.logger.Error("periodic flush failed", "error", err)
				}
			}
		}
	}()
}

// ReloadSegments opens segment files written to the data directory by
// another process and returns how many were added.
func (e *Engine) ReloadSegments() int {
	n, err := e.loadNewSegments()
	if err != nil {
		e.logger.Error("segment reload failed", "error", err)
	}
	return n
}

func (e *Engine) Close() error {
	if err := e.Flush(); err != nil {
		e.logger.Error("final flush on close failed", "error", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, reader := range e.readers {
		if err := reader.Close(); err != nil {
			e.logger.Error("closing segment reader", "error", err)
		}
	}
	e.readers = nil
	return nil
}

func (e *Engine) loadNewSegments() (int, error) {
	entries, err := os.ReadDir(e.cfg.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading data directory: %w", err)
	}
	segFiles := make([]string, 0)
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), segment.Extension) {
			segFiles = append(segFiles, entry.Name())
		}
	}
	sort.Strings(segFiles)

	e.mu.Lock()
	defer e.mu.Unlock()
	added := 0
	for _, name := range segFiles {
		if _, ok := e.loaded[name]; ok {
			continue
		}
		path := filepath.Join(e.cfg.DataDir, name)
		reader, err := segment.OpenReader(path)
		if err != nil {
			e.logger.Error("failed to open segment, skipping",
				"segment", name,
				"error", err,
			)
			continue
		}
		e.readers = append(e.readers, reader)
		e.loaded[name] = struct{}{}
		added++
		e.logger.Info("loaded segment",
			"segment", name,
			"keys", reader.Keys(),
			"docs", reader.DocCount(),
		)
	}
	e.logger.Info("segment scan complete", "segments_loaded", added, "active_segments", len(e.readers))
	return added, nil
}
