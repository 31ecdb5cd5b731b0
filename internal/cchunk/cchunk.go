// Package cchunk implements the chunk compression/CRC pipeline of
// spec.md §4.D: deflate chunk payloads via klauspost/compress/zlib and
// verify/append the Adler-32 trailer for uncompressed chunks.
package cchunk

import (
	"bytes"
	"encoding/binary"
	"hash/adler32"

	"github.com/klauspost/compress/zlib"
)

// Level selects the compression policy for a chunk.
type Level int

const (
	LevelNone Level = iota
	LevelGood
	LevelBest
)

func (l Level) zlibLevel() int {
	switch l {
	case LevelGood:
		return zlib.DefaultCompression
	case LevelBest:
		return zlib.BestCompression
	default:
		return zlib.NoCompression
	}
}

// IsAllEqual reports whether data consists of a single repeated byte.
// Used to decide "empty-block compressible" chunks (spec.md §4.D).
func IsAllEqual(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	first := data[0]
	for _, b := range data[1:] {
		if b != first {
			return false
		}
	}
	return true
}

// Compress deflates raw at the given level and returns the compressed
// stream. The stream self-checksums via its trailing Adler-32 (the
// zlib format appends one automatically).
func Compress(raw []byte, level Level) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level.zlibLevel())
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeUncompressed appends the little-endian Adler-32 trailer that
// marks an uncompressed chunk (spec.md §6.1 "Chunk-in-`sectors`").
func EncodeUncompressed(raw []byte) []byte {
	out := make([]byte, len(raw)+4)
	copy(out, raw)
	binary.LittleEndian.PutUint32(out[len(raw):], adler32.Checksum(raw))
	return out
}

// DecodeUncompressed splits payload||crc32 and reports whether the
// trailing Adler-32 verifies.
func DecodeUncompressed(stored []byte) (raw []byte, ok bool) {
	if len(stored) < 4 {
		return nil, false
	}
	raw = stored[:len(stored)-4]
	want := binary.LittleEndian.Uint32(stored[len(stored)-4:])
	return raw, adler32.Checksum(raw) == want
}

// Decompress inflates a zlib-compressed chunk. expectedSize is the
// uncompressed chunk_size (or a short tail size); it's used only to
// presize the output buffer. A deflate stream error is returned
// verbatim so the caller can classify it as a CompressionError versus
// an IntegrityMismatch.
func Decompress(compressed []byte, expectedSize int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	buf := bytes.NewBuffer(make([]byte, 0, expectedSize))
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
