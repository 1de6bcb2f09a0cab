// Package benchmark measures key derivation, indexing and query throughput.
package benchmark

import (
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/tokenkey"
)

var sampleTexts = map[string]string{
	"short": "The quick brown fox jumps over the lazy dog",
	"medium": `Bitmap indexes answer boolean queries with word-aligned set
        operations. Each posting list is a compressed bitmap of document ids and
        intersections never materialise the ids they discard.`,
	"long": strings.Repeat(`Information retrieval systems combine tokenization,
        stemming, and stop word removal to normalise text into searchable terms.
        Fingerprinting every term into a fixed-width key keeps dictionaries compact. `, 20),
}

func BenchmarkDerive(b *testing.B) {
	for _, tc := range []struct {
		name  string
		token []byte
	}{
		{"verbatim", []byte("bitmap")},
		{"hashed", []byte("internationalization")},
		{"clamped", []byte(strings.Repeat("x", 300))},
	} {
		b.Run(tc.name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(tc.token)))
			var sink tokenkey.TokenKey
			for i := 0; i < b.N; i++ {
				sink = tokenkey.Derive(tc.token, tokenkey.DefaultMaxTokenLength)
			}
			_ = sink
		})
	}
}

func BenchmarkTokenize(b *testing.B) {
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_ = tokenizer.Tokenize(text)
			}
		})
	}
}

func BenchmarkTokenizeAndDerive(b *testing.B) {
	text := sampleTexts["long"]
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	for i := 0; i < b.N; i++ {
		for _, tok := range tokenizer.Tokenize(text) {
			_ = tokenkey.DeriveString(tok.Word, tokenkey.DefaultMaxTokenLength)
			if tok.Stemmed() {
				_ = tokenkey.DeriveString(tok.Stem, tokenkey.DefaultMaxTokenLength)
			}
		}
	}
}
