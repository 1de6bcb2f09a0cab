package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/postgres"
)

type statusCall struct {
	docID   uint32
	shardID int
	status  string
}

type fakeStatus struct{ calls []statusCall }

func (f *fakeStatus) UpdateDocumentStatus(_ context.Context, docID uint32, shardID int, status string) error {
	f.calls = append(f.calls, statusCall{docID, shardID, status})
	return nil
}

type fakePublisher struct{ events []kafka.Event }

func (f *fakePublisher) Publish(_ context.Context, events ...kafka.Event) error {
	f.events = append(f.events, events...)
	return nil
}

func newRouter(t *testing.T) *shard.Router {
	t.Helper()
	r, err := shard.NewRouter(config.IndexerConfig{
		DataDir:        t.TempDir(),
		SegmentMaxSize: 1 << 30,
		FlushInterval:  time.Hour,
		NumShards:      2,
		MaxTokenLength: 127,
	}, config.SchemaConfig{Fields: map[string]uint8{"title": 0, "body": 1}, DefaultField: "body"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func encode(t *testing.T, event ingestion.IngestEvent) []byte {
	t.Helper()
	b, err := json.Marshal(event)
	require.NoError(t, err)
	return b
}

func TestHandleMessageIndexesDocument(t *testing.T) {
	router := newRouter(t)
	status := &fakeStatus{}
	pub := &fakePublisher{}
	handle := HandleMessageSharded(router, status, pub)

	err := handle(context.Background(), nil, encode(t, ingestion.IngestEvent{
		DocumentID: 3,
		Fields:     map[string]string{"body": "bitmap postings"},
	}))
	require.NoError(t, err)

	engine, err := router.Route(1)
	require.NoError(t, err)
	assert.Equal(t, []uint32{3}, engine.Lookup(engine.KeyFor("bitmap", 1, false)).ToArray())
	assert.Equal(t, []statusCall{{3, 1, postgres.StatusIndexed}}, status.calls)
	require.Len(t, pub.events, 1)
	assert.Equal(t, "3", pub.events[0].Key)
}

func TestHandleMessagePinnedShard(t *testing.T) {
	router := newRouter(t)
	handle := HandleMessageSharded(router, nil, nil)
	pinned := 0
	require.NoError(t, handle(context.Background(), nil, encode(t, ingestion.IngestEvent{
		DocumentID: 3,
		Fields:     map[string]string{"title": "pinned"},
		ShardID:    &pinned,
	})))
	engine, err := router.Route(0)
	require.NoError(t, err)
	assert.Equal(t, []uint32{3}, engine.Lookup(engine.KeyFor("pinned", 0, false)).ToArray())
}

func TestHandleMessageSkipsBadInput(t *testing.T) {
	router := newRouter(t)
	status := &fakeStatus{}
	handle := HandleMessageSharded(router, status, nil)

	assert.NoError(t, handle(context.Background(), []byte("k"), []byte("{not json")))
	assert.NoError(t, handle(context.Background(), nil, encode(t, ingestion.IngestEvent{
		DocumentID: 4,
		Fields:     map[string]string{"subject": "unknown"},
	})))
	assert.Equal(t, []statusCall{{4, 0, postgres.StatusFailed}}, status.calls)

	bad := 9
	err := handle(context.Background(), nil, encode(t, ingestion.IngestEvent{
		DocumentID: 5,
		Fields:     map[string]string{"body": "x"},
		ShardID:    &bad,
	}))
	assert.Error(t, err)
}
