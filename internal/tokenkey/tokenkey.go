// Package tokenkey derives the fixed-size keys under which token postings are
// stored in the bitmap index. A TokenKey is a one byte (clamped) token length
// followed by an 8 byte fingerprint. The layout is part of the on-disk segment
// format: changing the hash functions, their order or the byte order breaks
// every existing index.
package tokenkey

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	farm "github.com/dgryski/go-farm"
	"github.com/zeebo/xxh3"
)

const (
	// HashSize is the length of the fingerprint part of a key.
	HashSize = 8
	// KeySize is the encoded size of a TokenKey: length byte plus fingerprint.
	KeySize = 1 + HashSize
	// DefaultMaxTokenLength is the length clamp used when none is configured.
	DefaultMaxTokenLength uint8 = 127
)

var ErrInvalidKeyLength = errors.New("tokenkey: invalid encoded key length")

// TokenKey is the fingerprint of a single token. It is a comparable value type
// and compares equal exactly when its encoded 9 bytes are equal.
type TokenKey struct {
	Len  uint8
	Hash [HashSize]byte
}

// Derive fingerprints token. Len is clamped to maxTokenLength but the hash
// always covers the whole token. Tokens of up to 8 bytes are stored verbatim.
func Derive(token []byte, maxTokenLength uint8) TokenKey {
	k := TokenKey{Len: maxTokenLength}
	if len(token) < int(maxTokenLength) {
		k.Len = uint8(len(token))
	}
	if len(token) <= HashSize {
		copy(k.Hash[:], token)
		return k
	}
	binary.LittleEndian.PutUint32(k.Hash[0:4], uint32(xxh3.Hash(token)))
	binary.LittleEndian.PutUint32(k.Hash[4:8], uint32(farm.Hash64(token)))
	return k
}

// DeriveString is Derive for string tokens.
func DeriveString(token string, maxTokenLength uint8) TokenKey {
	return Derive([]byte(token), maxTokenLength)
}

// Uint64 returns the fingerprint as a big-endian integer.
func (k TokenKey) Uint64() uint64 {
	return binary.BigEndian.Uint64(k.Hash[:])
}

// FromUint64 rebuilds a key from its length and the value returned by Uint64.
func FromUint64(length uint8, v uint64) TokenKey {
	k := TokenKey{Len: length}
	binary.BigEndian.PutUint64(k.Hash[:], v)
	return k
}

func (k TokenKey) Bytes() [KeySize]byte {
	var b [KeySize]byte
	b[0] = k.Len
	copy(b[1:], k.Hash[:])
	return b
}

// AppendBinary appends the 9 byte encoding of k to dst.
func (k TokenKey) AppendBinary(dst []byte) []byte {
	dst = append(dst, k.Len)
	return append(dst, k.Hash[:]...)
}

// ParseTokenKey decodes the output of Bytes.
func ParseTokenKey(b []byte) (TokenKey, error) {
	if len(b) != KeySize {
		return TokenKey{}, fmt.Errorf("%w: got %d bytes", ErrInvalidKeyLength, len(b))
	}
	k := TokenKey{Len: b[0]}
	copy(k.Hash[:], b[1:])
	return k, nil
}

// Verbatim returns the original token for keys that were not hashed.
func (k TokenKey) Verbatim() ([]byte, bool) {
	if k.Len > HashSize {
		return nil, false
	}
	out := make([]byte, k.Len)
	copy(out, k.Hash[:k.Len])
	return out, true
}

func (k TokenKey) String() string {
	return fmt.Sprintf("%d:%s", k.Len, hex.EncodeToString(k.Hash[:]))
}
