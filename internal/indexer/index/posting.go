package index

import (
	"bytes"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/tokenkey"
)

// KeySize is the encoded size of a posting key: token key followed by tag.
const KeySize = tokenkey.KeySize + 1

// Key identifies one posting list: a token fingerprint in a given field and
// variant.
type Key struct {
	Token tokenkey.TokenKey
	Tag   tokenkey.Tag
}

// Bytes encodes k as [len][hash 8][tag]. Segment dictionaries are sorted by
// this encoding.
func (k Key) Bytes() [KeySize]byte {
	var b [KeySize]byte
	tb := k.Token.Bytes()
	copy(b[:], tb[:])
	b[KeySize-1] = byte(k.Tag)
	return b
}

func ParseKey(b []byte) (Key, error) {
	if len(b) != KeySize {
		return Key{}, fmt.Errorf("posting key must be %d bytes, got %d", KeySize, len(b))
	}
	tk, err := tokenkey.ParseTokenKey(b[:tokenkey.KeySize])
	if err != nil {
		return Key{}, err
	}
	return Key{Token: tk, Tag: tokenkey.Tag(b[KeySize-1])}, nil
}

// Compare orders keys by their byte encoding.
func Compare(a, b Key) int {
	ab, bb := a.Bytes(), b.Bytes()
	return bytes.Compare(ab[:], bb[:])
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Token, k.Tag)
}

// Entry is one posting list in a snapshot.
type Entry struct {
	Key  Key
	Docs *roaring.Bitmap
}
