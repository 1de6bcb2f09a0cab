package executor

import (
	"context"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/tokenkey"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/errors"
)

var schema = config.SchemaConfig{
	Fields:       map[string]uint8{"title": 0, "body": 1},
	DefaultField: "body",
}

// fakeShard posts documents with the same key expansion as the memory index.
type fakeShard struct {
	postings map[index.Key]*roaring.Bitmap
	delay    time.Duration
}

func newFakeShard() *fakeShard {
	return &fakeShard{postings: make(map[index.Key]*roaring.Bitmap)}
}

func (f *fakeShard) add(docID uint32, field uint8, text string) *fakeShard {
	for _, k := range index.DocumentKeys(map[uint8]string{field: text}, tokenkey.DefaultMaxTokenLength) {
		bm, ok := f.postings[k]
		if !ok {
			bm = roaring.New()
			f.postings[k] = bm
		}
		bm.Add(docID)
	}
	return f
}

func (f *fakeShard) Lookup(keys ...index.Key) *roaring.Bitmap {
	time.Sleep(f.delay)
	out := roaring.New()
	for _, k := range keys {
		if bm, ok := f.postings[k]; ok {
			out.Or(bm)
		}
	}
	return out
}

func (f *fakeShard) KeyFor(token string, field uint8, stemmed bool) index.Key {
	tag := tokenkey.Word(field)
	if stemmed {
		tag = tokenkey.Stemmed(field)
	}
	return index.Key{Token: tokenkey.DeriveString(token, tokenkey.DefaultMaxTokenLength), Tag: tag}
}

func testShards() map[int]Shard {
	s0 := newFakeShard().
		add(0, 1, "roaring bitmaps compress well").
		add(2, 1, "searching inverted indexes").
		add(4, 0, "bitmap search")
	s1 := newFakeShard().
		add(1, 1, "a bitmap index").
		add(3, 1, "roaring compression").
		add(5, 1, "search engines")
	return map[int]Shard{0: s0, 1: s1}
}

func match(t *testing.T, exec *ShardedExecutor, q string) []uint32 {
	t.Helper()
	plan, err := parser.Parse(q, schema)
	require.NoError(t, err)
	bm, err := exec.Match(context.Background(), plan)
	require.NoError(t, err)
	return bm.ToArray()
}

func TestMatch(t *testing.T) {
	exec := NewSharded(testShards(), time.Second)
	tests := []struct {
		query string
		want  []uint32
	}{
		{"bitmap", []uint32{0, 1}},
		{"bitmap roaring", []uint32{0}},
		{"bitmap OR roaring", []uint32{0, 1, 3}},
		{"bitmap NOT roaring", []uint32{1}},
		{"search", []uint32{2, 5}},
		{`"searching"`, []uint32{2}},
		{"title:bitmap", []uint32{4}},
		{"title:search body:search", []uint32{}},
		{"missing", []uint32{}},
		{"NOT bitmap", []uint32{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, match(t, exec, tt.query))
		})
	}
}

func TestExecutePagesInOrder(t *testing.T) {
	exec := NewSharded(testShards(), 0)
	plan, err := parser.Parse("bitmap OR roaring OR search", schema)
	require.NoError(t, err)

	result, err := exec.Execute(context.Background(), plan, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), result.TotalHits)
	assert.Equal(t, []uint32{0, 1}, result.DocIDs)
}

func TestShardTimeout(t *testing.T) {
	slow := newFakeShard().add(9, 1, "bitmap")
	slow.delay = 50 * time.Millisecond
	exec := NewSharded(map[int]Shard{0: slow}, 10*time.Millisecond)

	plan, err := parser.Parse("bitmap roaring", schema)
	require.NoError(t, err)
	_, err = exec.Match(context.Background(), plan)
	assert.ErrorIs(t, err, apperrors.ErrShardUnavailable)
}

func TestFailedShardIsSkipped(t *testing.T) {
	slow := newFakeShard().add(9, 1, "bitmap roaring")
	slow.delay = 50 * time.Millisecond
	shards := testShards()
	shards[2] = slow
	exec := NewSharded(shards, 10*time.Millisecond)

	assert.Equal(t, []uint32{0}, match(t, exec, "bitmap roaring"))
}

func TestNewResultUnlimited(t *testing.T) {
	r := NewResult("q", roaring.BitmapOf(7, 3, 11), 0)
	assert.Equal(t, []uint32{3, 7, 11}, r.DocIDs)
	assert.Equal(t, uint64(3), r.TotalHits)
}
