package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/tokenkey"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/errors"
)

var schema = config.SchemaConfig{
	Fields:       map[string]uint8{"title": 0, "body": 1},
	DefaultField: "body",
}

func keyFor(token string, field uint8, stemmed bool) index.Key {
	tag := tokenkey.Word(field)
	if stemmed {
		tag = tokenkey.Stemmed(field)
	}
	return index.Key{Token: tokenkey.DeriveString(token, tokenkey.DefaultMaxTokenLength), Tag: tag}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		terms    []Term
		excludes []Term
		typ      QueryType
	}{
		{
			name:  "default field",
			query: "bitmaps",
			terms: []Term{{Word: "bitmaps", Stem: "bitmap", Field: 1}},
			typ:   QueryAND,
		},
		{
			name:  "field qualified",
			query: "title:Search",
			terms: []Term{{Word: "search", Stem: "search", Field: 0}},
			typ:   QueryAND,
		},
		{
			name:  "exact",
			query: `"searching"`,
			terms: []Term{{Word: "searching", Stem: "search", Field: 1, Exact: true}},
			typ:   QueryAND,
		},
		{
			name:  "exact with field",
			query: `title:"indexes"`,
			terms: []Term{{Word: "indexes", Stem: "index", Field: 0, Exact: true}},
			typ:   QueryAND,
		},
		{
			name:  "or",
			query: "bitmap OR roaring",
			terms: []Term{
				{Word: "bitmap", Stem: "bitmap", Field: 1},
				{Word: "roaring", Stem: "roar", Field: 1},
			},
			typ: QueryOR,
		},
		{
			name:     "not",
			query:    "bitmap NOT roaring",
			terms:    []Term{{Word: "bitmap", Stem: "bitmap", Field: 1}},
			excludes: []Term{{Word: "roaring", Stem: "roar", Field: 1}},
			typ:      QueryAND,
		},
		{
			name:  "stop words dropped",
			query: "the bitmap",
			terms: []Term{{Word: "bitmap", Stem: "bitmap", Field: 1}},
			typ:   QueryAND,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Parse(tt.query, schema)
			require.NoError(t, err)
			assert.Equal(t, tt.terms, plan.Terms)
			if tt.excludes == nil {
				assert.Empty(t, plan.ExcludeTerms)
			} else {
				assert.Equal(t, tt.excludes, plan.ExcludeTerms)
			}
			assert.Equal(t, tt.typ, plan.Type)
			assert.Equal(t, tt.query, plan.RawQuery)
		})
	}
}

func TestParseEmpty(t *testing.T) {
	plan, err := Parse("   ", schema)
	require.NoError(t, err)
	assert.Empty(t, plan.Terms)
}

func TestParseUnknownField(t *testing.T) {
	_, err := Parse("author:knuth", schema)
	assert.ErrorIs(t, err, apperrors.ErrUnknownField)
}

func TestTermKeys(t *testing.T) {
	exact := Term{Word: "searching", Stem: "search", Field: 1, Exact: true}
	assert.Equal(t, []index.Key{keyFor("searching", 1, false)}, exact.Keys(keyFor))

	loose := Term{Word: "searching", Stem: "search", Field: 1}
	assert.Equal(t, []index.Key{
		keyFor("searching", 1, false),
		keyFor("search", 1, false),
		keyFor("search", 1, true),
	}, loose.Keys(keyFor))

	unstemmed := Term{Word: "bitmap", Stem: "bitmap", Field: 0}
	keys := unstemmed.Keys(keyFor)
	require.Len(t, keys, 2)
	assert.Equal(t, tokenkey.Word(0), keys[0].Tag)
	assert.Equal(t, tokenkey.Stemmed(0), keys[1].Tag)
}

func TestNormalizedIsOrderInsensitive(t *testing.T) {
	a, err := Parse("roaring bitmap", schema)
	require.NoError(t, err)
	b, err := Parse("bitmap roaring", schema)
	require.NoError(t, err)
	assert.Equal(t, a.Normalized(), b.Normalized())

	c, err := Parse("bitmap NOT roaring", schema)
	require.NoError(t, err)
	assert.NotEqual(t, a.Normalized(), c.Normalized())
}
