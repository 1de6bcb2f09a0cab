// Package executor answers query plans with bitmap algebra over every shard.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/errors"
)

// Shard is the read side of one index shard. *indexer.Engine implements it.
type Shard interface {
	Lookup(keys ...index.Key) *roaring.Bitmap
	KeyFor(token string, field uint8, stemmed bool) index.Key
}

type SearchResult struct {
	Query     string   `json:"query"`
	TotalHits uint64   `json:"total_hits"`
	DocIDs    []uint32 `json:"doc_ids"`
	Cached    bool     `json:"cached"`
	TookMs    float64  `json:"took_ms"`
}

// NewResult returns the first limit ids of matches in ascending order.
func NewResult(query string, matches *roaring.Bitmap, limit int) *SearchResult {
	result := &SearchResult{
		Query:     query,
		TotalHits: matches.GetCardinality(),
		DocIDs:    make([]uint32, 0),
	}
	it := matches.Iterator()
	for it.HasNext() && (limit <= 0 || len(result.DocIDs) < limit) {
		result.DocIDs = append(result.DocIDs, it.Next())
	}
	return result
}

type ShardedExecutor struct {
	shards  map[int]Shard
	timeout time.Duration
	logger  *slog.Logger
}

// NewSharded builds an executor over shards. A positive timeout bounds the
// work done on each shard.
func NewSharded(shards map[int]Shard, timeout time.Duration) *ShardedExecutor {
	return &ShardedExecutor{
		shards:  shards,
		timeout: timeout,
		logger:  slog.Default().With("component", "sharded-executor"),
	}
}

// Match returns every document id satisfying plan. Shards that fail are
// logged and left out; the query fails only when every shard does.
func (se *ShardedExecutor) Match(ctx context.Context, plan *parser.QueryPlan) (*roaring.Bitmap, error) {
	if len(plan.Terms) == 0 {
		return roaring.New(), nil
	}
	var (
		mu       sync.Mutex
		partials = make([]*roaring.Bitmap, 0, len(se.shards))
		failed   int
	)
	g, gctx := errgroup.WithContext(ctx)
	for shardID, shard := range se.shards {
		shardID, shard := shardID, shard
		g.Go(func() error {
			bm, err := se.matchShard(gctx, shard, plan)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failed++
				se.logger.Error("shard query failed", "shard_id", shardID, "error", err)
				return nil
			}
			partials = append(partials, bm)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("shard fan-out: %w", err)
	}
	if failed > 0 && failed == len(se.shards) {
		return nil, fmt.Errorf("all %d shards failed: %w", failed, apperrors.ErrShardUnavailable)
	}
	merged := roaring.FastOr(partials...)
	se.logger.Debug("sharded query executed",
		"query", plan.RawQuery,
		"type", plan.Type.String(),
		"shards_queried", len(se.shards),
		"shards_failed", failed,
		"hits", merged.GetCardinality(),
	)
	return merged, nil
}

// Execute runs Match and pages the result.
func (se *ShardedExecutor) Execute(ctx context.Context, plan *parser.QueryPlan, limit int) (*SearchResult, error) {
	matches, err := se.Match(ctx, plan)
	if err != nil {
		return nil, err
	}
	return NewResult(plan.RawQuery, matches, limit), nil
}

func (se *ShardedExecutor) matchShard(ctx context.Context, shard Shard, plan *parser.QueryPlan) (*roaring.Bitmap, error) {
	if se.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, se.timeout)
		defer cancel()
	}
	termBitmaps := make([]*roaring.Bitmap, 0, len(plan.Terms))
	for _, term := range plan.Terms {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("term %s: %w", term, apperrors.ErrTimeout)
		}
		bm := shard.Lookup(term.Keys(shard.KeyFor)...)
		if plan.Type == parser.QueryAND && bm.IsEmpty() {
			return bm, nil
		}
		termBitmaps = append(termBitmaps, bm)
	}
	var result *roaring.Bitmap
	switch plan.Type {
	case parser.QueryOR:
		result = roaring.FastOr(termBitmaps...)
	default:
		result = roaring.FastAnd(termBitmaps...)
	}
	if len(plan.ExcludeTerms) > 0 && !result.IsEmpty() {
		keys := make([]index.Key, 0, len(plan.ExcludeTerms)*3)
		for _, term := range plan.ExcludeTerms {
			keys = append(keys, term.Keys(shard.KeyFor)...)
		}
		result.AndNot(shard.Lookup(keys...))
	}
	return result, nil
}
