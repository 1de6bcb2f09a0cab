package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cespare/xxhash/v2"

	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/errors"
)

// Reader serves posting lookups from one immutable segment file. The
// dictionary and document set are held in memory; postings are read on
// demand.
type Reader struct {
	file     *os.File
	filePath string
	header   SegmentHeader
	dict     []byte
	docs     *roaring.Bitmap
}

func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	r, err := newReader(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func newReader(f *os.File, path string) (*Reader, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat segment file: %w", err)
	}
	if info.Size() < int64(HeaderSize+FooterSize) {
		return nil, fmt.Errorf("segment is %d bytes: %w", info.Size(), apperrors.ErrCorruptSegment)
	}
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("reading segment header: %w", err)
	}
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("bad magic bytes %x: %w", header.Magic, apperrors.ErrCorruptSegment)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported segment version %d: %w", header.Version, apperrors.ErrCorruptSegment)
	}
	if header.DictSize != int64(header.KeyCount)*int64(DictEntrySize) {
		return nil, fmt.Errorf("dictionary size %d does not match %d keys: %w",
			header.DictSize, header.KeyCount, apperrors.ErrCorruptSegment)
	}
	if err := checkLayout(header, info.Size()); err != nil {
		return nil, err
	}

	tail := make([]byte, header.DictSize+header.DocsSize+int64(FooterSize))
	if _, err := f.ReadAt(tail, header.DictOffset); err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	body := tail[:len(tail)-FooterSize]
	want := binary.LittleEndian.Uint64(tail[len(tail)-FooterSize:])
	if got := xxhash.Sum64(body); got != want {
		return nil, fmt.Errorf("checksum mismatch (got %x, want %x): %w", got, want, apperrors.ErrCorruptSegment)
	}

	docs := roaring.New()
	if err := docs.UnmarshalBinary(body[header.DictSize:]); err != nil {
		return nil, fmt.Errorf("parsing document set: %w", err)
	}
	return &Reader{
		file:     f,
		filePath: path,
		header:   header,
		dict:     body[:header.DictSize],
		docs:     docs,
	}, nil
}

// checkLayout verifies that the sections named by the header tile the file
// exactly, before any of them is allocated or read.
func checkLayout(h SegmentHeader, size int64) error {
	for _, v := range []int64{h.PostSize, h.DictSize, h.DocsSize} {
		if v < 0 || v > size {
			return fmt.Errorf("section size %d outside %d byte file: %w", v, size, apperrors.ErrCorruptSegment)
		}
	}
	if h.PostOffset != int64(HeaderSize) || h.DictOffset != h.PostOffset+h.PostSize {
		return fmt.Errorf("bad section offsets (postings %d, dictionary %d): %w",
			h.PostOffset, h.DictOffset, apperrors.ErrCorruptSegment)
	}
	if h.DictOffset+h.DictSize+h.DocsSize+int64(FooterSize) != size {
		return fmt.Errorf("sections do not cover %d byte file: %w", size, apperrors.ErrCorruptSegment)
	}
	return nil
}

func (r *Reader) entry(i int) []byte {
	return r.dict[i*DictEntrySize : (i+1)*DictEntrySize]
}

// Lookup returns the documents posted under key, or an empty bitmap.
func (r *Reader) Lookup(key index.Key) (*roaring.Bitmap, error) {
	kb := key.Bytes()
	n := int(r.header.KeyCount)
	idx := sort.Search(n, func(i int) bool {
		return bytes.Compare(r.entry(i)[:index.KeySize], kb[:]) >= 0
	})
	if idx >= n || !bytes.Equal(r.entry(idx)[:index.KeySize], kb[:]) {
		return roaring.New(), nil
	}
	e := r.entry(idx)
	offset := int64(binary.LittleEndian.Uint64(e[index.KeySize : index.KeySize+8]))
	length := binary.LittleEndian.Uint32(e[index.KeySize+8:])

	data := make([]byte, length)
	if _, err := r.file.ReadAt(data, r.header.PostOffset+offset); err != nil {
		return nil, fmt.Errorf("reading postings for key %s: %w", key, err)
	}
	raw, err := decompress(data)
	if err != nil {
		return nil, fmt.Errorf("decompressing postings for key %s: %w", key, err)
	}
	bm := roaring.New()
	if err := bm.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("parsing postings for key %s: %w", key, err)
	}
	return bm, nil
}

// Docs returns a copy of the set of documents stored in the segment.
func (r *Reader) Docs() *roaring.Bitmap {
	return r.docs.Clone()
}

func (r *Reader) Keys() int {
	return int(r.header.KeyCount)
}

func (r *Reader) DocCount() uint32 {
	return r.header.DocCount
}

func (r *Reader) Path() string {
	return r.filePath
}

func (r *Reader) Close() error {
	return r.file.Close()
}
