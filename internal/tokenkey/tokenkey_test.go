package tokenkey

import (
	"bytes"
	"encoding/binary"
	"testing"

	farm "github.com/dgryski/go-farm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/xxh3"
)

func TestDeriveShortTokenIsVerbatim(t *testing.T) {
	k := DeriveString("cat", DefaultMaxTokenLength)
	assert.Equal(t, uint8(3), k.Len)
	assert.Equal(t, [HashSize]byte{99, 97, 116, 0, 0, 0, 0, 0}, k.Hash)

	for n := 0; n <= HashSize; n++ {
		token := bytes.Repeat([]byte{0xab}, n)
		k := Derive(token, DefaultMaxTokenLength)
		var want [HashSize]byte
		copy(want[:], token)
		assert.Equal(t, want, k.Hash, "len %d", n)
		assert.Equal(t, uint8(n), k.Len)
	}
}

func TestDeriveEmptyToken(t *testing.T) {
	k := Derive(nil, DefaultMaxTokenLength)
	assert.Equal(t, TokenKey{}, k)
	assert.Equal(t, uint64(0), k.Uint64())

	v, ok := k.Verbatim()
	require.True(t, ok)
	assert.Empty(t, v)
}

func TestDeriveLongTokenCombinesBothHashes(t *testing.T) {
	token := []byte("internationalization")
	k := Derive(token, DefaultMaxTokenLength)
	require.Equal(t, uint8(20), k.Len)

	var a, b [8]byte
	binary.LittleEndian.PutUint64(a[:], xxh3.Hash(token))
	binary.LittleEndian.PutUint64(b[:], farm.Hash64(token))
	assert.Equal(t, a[:4], k.Hash[0:4])
	assert.Equal(t, b[:4], k.Hash[4:8])

	_, ok := k.Verbatim()
	assert.False(t, ok)
}

// Fixed vectors pin the on-disk key format. The xxh3 halves come from
// XXH3_64bits with seed 0; the farmhash halves come from the reference
// FarmHash Hash64 vectors (farmhashxo for 65 to 96 byte inputs).
func TestDeriveReferenceVectors(t *testing.T) {
	tests := []struct {
		token  string
		len    uint8
		hash   [HashSize]byte
		uint64 uint64
	}{
		{
			token:  "abcdefghi",
			len:    9,
			hash:   [HashSize]byte{0xa0, 0x90, 0x45, 0x17, 0x42, 0xba, 0xe5, 0xda},
			uint64: 0xa090451742bae5da,
		},
		{
			token:  "For every action there is an equal and opposite government program.",
			len:    67,
			hash:   [HashSize]byte{0xfd, 0x89, 0x60, 0x9f, 0x4f, 0x8c, 0xf9, 0xc8},
			uint64: 0xfd89609f4f8cf9c8,
		},
	}
	long := tests[1].token
	require.Equal(t, uint64(0x06076cd39f6089fd), xxh3.HashString(long))
	require.Equal(t, uint64(0x8452fbb0c8f98c4f), farm.Hash64([]byte(long)))

	for _, tt := range tests {
		t.Run(tt.token[:9], func(t *testing.T) {
			k := DeriveString(tt.token, DefaultMaxTokenLength)
			assert.Equal(t, tt.len, k.Len)
			assert.Equal(t, tt.hash, k.Hash)
			assert.Equal(t, tt.uint64, k.Uint64())
		})
	}
}

func TestDeriveNineByteTokenIsHashed(t *testing.T) {
	token := []byte("abcdefghi")
	k := Derive(token, DefaultMaxTokenLength)
	assert.Equal(t, uint32(xxh3.Hash(token)), binary.LittleEndian.Uint32(k.Hash[0:4]))
	assert.Equal(t, uint32(farm.Hash64(token)), binary.LittleEndian.Uint32(k.Hash[4:8]))
}

func TestDeriveIsDeterministic(t *testing.T) {
	for _, token := range []string{"", "a", "running", "distributed", "an extremely long token that spans many bytes"} {
		assert.Equal(t, DeriveString(token, 64), DeriveString(token, 64), token)
	}
}

func TestDeriveClampsLengthButHashesFullToken(t *testing.T) {
	long := bytes.Repeat([]byte("x"), 300)
	k := Derive(long, 255)
	assert.Equal(t, uint8(255), k.Len)
	assert.NotEqual(t, Derive(long[:255], 255).Hash, k.Hash)
	assert.Equal(t, uint32(xxh3.Hash(long)), binary.LittleEndian.Uint32(k.Hash[0:4]))

	// Length clamping is independent of the configured limit's effect on hashing.
	small := Derive([]byte("internationalization"), 10)
	assert.Equal(t, uint8(10), small.Len)
	assert.Equal(t, DeriveString("internationalization", 255).Hash, small.Hash)

	for n := 0; n < 40; n++ {
		token := bytes.Repeat([]byte("y"), n)
		want := n
		if want > 16 {
			want = 16
		}
		assert.Equal(t, uint8(want), Derive(token, 16).Len)
	}
}

func TestUint64RoundTrip(t *testing.T) {
	for _, token := range []string{"", "cat", "abcdefgh", "internationalization"} {
		k := DeriveString(token, DefaultMaxTokenLength)
		v := k.Uint64()

		var b [HashSize]byte
		binary.BigEndian.PutUint64(b[:], v)
		assert.Equal(t, k.Hash, b, token)
		assert.Equal(t, k, FromUint64(k.Len, v), token)
	}
	assert.Equal(t, uint64(0x6361740000000000), DeriveString("cat", DefaultMaxTokenLength).Uint64())
}

func TestBinaryEncoding(t *testing.T) {
	k := DeriveString("searching", DefaultMaxTokenLength)
	b := k.Bytes()
	assert.Equal(t, k.Len, b[0])
	assert.Equal(t, k.Hash[:], b[1:])
	assert.Equal(t, b[:], k.AppendBinary(nil))

	parsed, err := ParseTokenKey(b[:])
	require.NoError(t, err)
	assert.Equal(t, k, parsed)

	_, err = ParseTokenKey(b[:4])
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}

func TestKeysAreMapKeys(t *testing.T) {
	m := map[TokenKey]int{}
	m[DeriveString("cat", DefaultMaxTokenLength)]++
	m[DeriveString("cat", DefaultMaxTokenLength)]++
	m[DeriveString("cats", DefaultMaxTokenLength)]++
	assert.Len(t, m, 2)
	assert.Equal(t, 2, m[DeriveString("cat", DefaultMaxTokenLength)])
}

func TestString(t *testing.T) {
	assert.Equal(t, "3:6361740000000000", DeriveString("cat", DefaultMaxTokenLength).String())
}
