package index

import (
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/tokenkey"
)

// MemoryIndex accumulates posting bitmaps for documents that have not been
// flushed to a segment yet.
type MemoryIndex struct {
	mu             sync.RWMutex
	postings       map[Key]*roaring.Bitmap
	docs           *roaring.Bitmap
	maxTokenLength uint8
	size           int64
}

func NewMemoryIndex(maxTokenLength uint8) *MemoryIndex {
	return &MemoryIndex{
		postings:       make(map[Key]*roaring.Bitmap),
		docs:           roaring.New(),
		maxTokenLength: maxTokenLength,
	}
}

// DocumentKeys returns the distinct posting keys produced by fields, which
// maps field ids to text. Every token is posted as a word; tokens whose stem
// differs are posted again under the stemmed tag.
func DocumentKeys(fields map[uint8]string, maxTokenLength uint8) []Key {
	seen := make(map[Key]struct{})
	keys := make([]Key, 0)
	add := func(k Key) {
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	for field, text := range fields {
		for _, tok := range tokenizer.Tokenize(text) {
			add(Key{
				Token: tokenkey.DeriveString(tok.Word, maxTokenLength),
				Tag:   tokenkey.Word(field),
			})
			if tok.Stemmed() {
				add(Key{
					Token: tokenkey.DeriveString(tok.Stem, maxTokenLength),
					Tag:   tokenkey.Stemmed(field),
				})
			}
		}
	}
	return keys
}

// AddDocument posts docID under every key derived from fields and returns
// those keys.
func (m *MemoryIndex) AddDocument(docID uint32, fields map[uint8]string) []Key {
	keys := DocumentKeys(fields, m.maxTokenLength)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		bm, ok := m.postings[k]
		if !ok {
			bm = roaring.New()
			m.postings[k] = bm
			m.size += KeySize + 64
		}
		if bm.CheckedAdd(docID) {
			m.size += 4
		}
	}
	m.docs.Add(docID)
	return keys
}

// Lookup returns a copy of the bitmap stored under k, or an empty bitmap.
func (m *MemoryIndex) Lookup(k Key) *roaring.Bitmap {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if bm, ok := m.postings[k]; ok {
		return bm.Clone()
	}
	return roaring.New()
}

// Snapshot returns copies of all posting lists sorted by key bytes.
func (m *MemoryIndex) Snapshot() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]Entry, 0, len(m.postings))
	for k, bm := range m.postings {
		entries = append(entries, Entry{Key: k, Docs: bm.Clone()})
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		return Compare(a.Key, b.Key)
	})
	return entries
}

// Docs returns a copy of the ids of all documents held in memory.
func (m *MemoryIndex) Docs() *roaring.Bitmap {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.docs.Clone()
}

func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int(m.docs.GetCardinality())
}

func (m *MemoryIndex) Keys() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.postings)
}
