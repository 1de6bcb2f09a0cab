package segment

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cespare/xxhash/v2"

	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/indexer/index"
)

// MagicBytes identifies a valid .spdx segment file.
const (
	MagicBytes    uint32 = 0x53504458
	FormatVersion uint32 = 2
	HeaderSize    int    = 64
	FooterSize    int    = 8
	// DictEntrySize is one dictionary record: posting key, postings offset
	// relative to the postings section, and compressed length.
	DictEntrySize = index.KeySize + 8 + 4
	Extension     = ".spdx"
)

// SegmentHeader is the 64-byte header written at the start of every segment.
// The all-documents bitmap follows the dictionary and runs up to the footer.
type SegmentHeader struct {
	Magic      uint32
	Version    uint32
	KeyCount   uint32
	DocCount   uint32
	CreatedAt  int64
	PostOffset int64
	PostSize   int64
	DictOffset int64
	DictSize   int64
	DocsSize   int64
}

func (h SegmentHeader) encode() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.KeyCount)
	binary.LittleEndian.PutUint32(b[12:16], h.DocCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.PostSize))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.DictSize))
	binary.LittleEndian.PutUint64(b[56:64], uint64(h.DocsSize))
	return b
}

func decodeHeader(b []byte) SegmentHeader {
	return SegmentHeader{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Version:    binary.LittleEndian.Uint32(b[4:8]),
		KeyCount:   binary.LittleEndian.Uint32(b[8:12]),
		DocCount:   binary.LittleEndian.Uint32(b[12:16]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(b[16:24])),
		PostOffset: int64(binary.LittleEndian.Uint64(b[24:32])),
		PostSize:   int64(binary.LittleEndian.Uint64(b[32:40])),
		DictOffset: int64(binary.LittleEndian.Uint64(b[40:48])),
		DictSize:   int64(binary.LittleEndian.Uint64(b[48:56])),
		DocsSize:   int64(binary.LittleEndian.Uint64(b[56:64])),
	}
}

// Writer serialises posting snapshots into new .spdx segment files.
type Writer struct {
	dataDir string
}

// NewWriter creates a Writer that writes segments into the given directory.
func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

// Write atomically creates a new segment file holding entries, which must be
// sorted by key bytes, and the set of documents they cover. Documents that
// produced no keys are still recorded in docs, so entries may be empty when
// docs is not. It writes to a .tmp file first and renames on success.
func (w *Writer) Write(entries []index.Entry, docs *roaring.Bitmap) (_ string, err error) {
	if len(entries) == 0 && docs.IsEmpty() {
		return "", fmt.Errorf("cannot write empty segment")
	}
	segmentName := fmt.Sprintf("seg_%d%s", time.Now().UnixNano(), Extension)
	finalPath := filepath.Join(w.dataDir, segmentName)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(w.dataDir, 0755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	defer func() {
		f.Close()
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	header := SegmentHeader{
		Magic:      MagicBytes,
		Version:    FormatVersion,
		KeyCount:   uint32(len(entries)),
		DocCount:   uint32(docs.GetCardinality()),
		CreatedAt:  time.Now().Unix(),
		PostOffset: int64(HeaderSize),
	}
	if _, err := f.Write(header.encode()); err != nil {
		return "", fmt.Errorf("writing header: %w", err)
	}

	dict := make([]byte, 0, len(entries)*DictEntrySize)
	var offset int64
	var prev []byte
	for _, entry := range entries {
		kb := entry.Key.Bytes()
		if prev != nil && string(prev) >= string(kb[:]) {
			return "", fmt.Errorf("entries not sorted at key %s", entry.Key)
		}
		prev = kb[:]

		raw, err := entry.Docs.ToBytes()
		if err != nil {
			return "", fmt.Errorf("serializing postings for key %s: %w", entry.Key, err)
		}
		data := compress(raw)
		if _, err := f.Write(data); err != nil {
			return "", fmt.Errorf("writing postings for key %s: %w", entry.Key, err)
		}
		dict = append(dict, kb[:]...)
		dict = binary.LittleEndian.AppendUint64(dict, uint64(offset))
		dict = binary.LittleEndian.AppendUint32(dict, uint32(len(data)))
		offset += int64(len(data))
	}
	header.PostSize = offset
	header.DictOffset = header.PostOffset + offset
	header.DictSize = int64(len(dict))
	if _, err := f.Write(dict); err != nil {
		return "", fmt.Errorf("writing dictionary: %w", err)
	}

	docsData, err := docs.ToBytes()
	if err != nil {
		return "", fmt.Errorf("serializing document set: %w", err)
	}
	header.DocsSize = int64(len(docsData))
	if _, err := f.Write(docsData); err != nil {
		return "", fmt.Errorf("writing document set: %w", err)
	}

	digest := xxhash.New()
	digest.Write(dict)
	digest.Write(docsData)
	footer := binary.LittleEndian.AppendUint64(nil, digest.Sum64())
	if _, err := f.Write(footer); err != nil {
		return "", fmt.Errorf("writing footer: %w", err)
	}
	if _, err := f.WriteAt(header.encode(), 0); err != nil {
		return "", fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing segment file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing segment file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	return segmentName, nil
}
