package ewf

import (
	"bytes"
	"crypto/md5"
	"math/rand"
	"os"
	"testing"

	"github.com/laenix/goewf/internal/sections"
)

// Scenario 3 (spec.md §8): a small segment_file_size forces rollover
// across several segments; reopening still reproduces the original
// stream exactly.
func TestRolloverAcrossSegments(t *testing.T) {
	base := tempBasename(t)

	r := rand.New(rand.NewSource(42))
	const size = 3 * 1024 * 1024
	data := make([]byte, size)
	r.Read(data)

	media := Media{BytesPerSector: 512, TotalSectors: size / 512}
	wcfg := DefaultWriteConfig()
	wcfg.SegmentFileSize = 512 * 1024
	wcfg.CompressionLevel = CompressionNone

	h, err := Create(base, media, wcfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := h.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Rollover minimality: more than one segment file must have been
	// produced for a 3 MiB image bounded to 512 KiB segments.
	if _, err := os.Stat(base + ".E02"); err != nil {
		t.Fatalf("expected at least two segment files, .E02 missing: %v", err)
	}

	wantSum := md5.Sum(data)

	rh, err := OpenRead(base, Config{})
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	defer rh.Close()

	got := make([]byte, size)
	if _, err := rh.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round-tripped bytes differ from original after rollover")
	}
	if sum := md5.Sum(got); sum != wantSum {
		t.Fatalf("md5 mismatch after rollover round trip")
	}
}

// CRC-error containment (spec.md §8): flipping all bits of one byte in a
// stored uncompressed chunk's payload surfaces as exactly one crc_errors
// entry covering that chunk, with wipe-on-error zeroing the returned
// bytes.
func TestCRCErrorContainment(t *testing.T) {
	base := tempBasename(t)

	data := bytes.Repeat([]byte{0x11, 0x22, 0x33, 0x44}, 8192) // 32 KiB, one chunk
	media := Media{BytesPerSector: 512, TotalSectors: uint64(len(data)) / 512}
	wcfg := DefaultWriteConfig()
	wcfg.CompressionLevel = CompressionNone

	h, err := Create(base, media, wcfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := h.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	corruptByteInFirstSegment(t, base)

	rh, err := OpenRead(base, Config{WipeOnError: true})
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	defer rh.Close()

	got := make([]byte, len(data))
	if _, err := rh.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, make([]byte, len(data))) {
		t.Fatalf("expected wiped (all-zero) chunk after CRC failure")
	}
	if n := rh.CRCErrors().Amount(); n != 1 {
		t.Fatalf("amount_of_crc_errors = %d, want 1", n)
	}
}

// corruptByteInFirstSegment walks segment 1's section chain (exactly
// as the reader does) to locate the `sectors` section, then flips a
// byte a little way into its payload so the flip lands in stored
// chunk data rather than in a descriptor or a header/volume section.
func corruptByteInFirstSegment(t *testing.T, base string) {
	t.Helper()
	name := base + ".E01"
	f, err := os.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open segment for corruption: %v", err)
	}
	defer f.Close()

	if _, err := sections.ReadFileHeader(f); err != nil {
		t.Fatalf("read file header: %v", err)
	}

	offset := int64(sections.FileHeaderSize)
	var sectorsPayloadOffset int64
	found := false
	for {
		desc, err := sections.ReadDescriptorAt(f, offset)
		if err != nil {
			t.Fatalf("read descriptor at %d: %v", offset, err)
		}
		if desc.TypeString() == string(sections.KindSectors) {
			sectorsPayloadOffset = offset + int64(sections.DescriptorSize)
			found = true
			break
		}
		if desc.NextOffset <= uint64(offset) {
			break
		}
		offset = int64(desc.NextOffset)
	}
	if !found {
		t.Fatalf("sectors section not found in %s", name)
	}

	at := sectorsPayloadOffset + 100
	b := make([]byte, 1)
	if _, err := f.ReadAt(b, at); err != nil {
		t.Fatalf("read byte to corrupt: %v", err)
	}
	b[0] ^= 0xFF
	if _, err := f.WriteAt(b, at); err != nil {
		t.Fatalf("write corrupted byte: %v", err)
	}
}
