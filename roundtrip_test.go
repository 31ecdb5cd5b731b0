package ewf

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"math/rand"
	"path/filepath"
	"testing"
)

func tempBasename(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "image")
}

// Scenario 1 (spec.md §8): one 512-byte sector of 0x41, compression
// NONE, and a known MD5.
func TestRoundTripOneSector(t *testing.T) {
	base := tempBasename(t)

	media := Media{BytesPerSector: 512, TotalSectors: 1}
	wcfg := DefaultWriteConfig()
	wcfg.SectorsPerChunk = 64
	wcfg.BytesPerSector = 512
	wcfg.CompressionLevel = CompressionNone

	h, err := Create(base, media, wcfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	data := bytes.Repeat([]byte{0x41}, 512)
	if _, err := h.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rh, err := OpenRead(base, Config{})
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	defer rh.Close()

	got := make([]byte, 512)
	n, err := rh.ReadAt(got, 0)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 512 {
		t.Fatalf("ReadAt returned %d bytes, want 512", n)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round-tripped bytes differ from original")
	}

	sum := md5.Sum(data)
	wantMD5 := "dc5086b847289ba8b8bde149b8388175"
	if gotMD5 := hex.EncodeToString(sum[:]); gotMD5 != wantMD5 {
		t.Fatalf("sanity: md5 of test fixture = %s, want %s", gotMD5, wantMD5)
	}

	digest, err := rh.MD5()
	if err != nil {
		t.Fatalf("MD5: %v", err)
	}
	if hex.EncodeToString(digest[:]) != wantMD5 {
		t.Errorf("recorded MD5 = %s, want %s", hex.EncodeToString(digest[:]), wantMD5)
	}
}

// Scenario 2 (spec.md §8): 128 KiB alternating 0x00/0xFF, BEST
// compression, exact round-trip.
func TestRoundTripAlternatingBestCompression(t *testing.T) {
	base := tempBasename(t)

	const size = 128 * 1024
	data := make([]byte, size)
	for i := range data {
		if i%2 == 0 {
			data[i] = 0x00
		} else {
			data[i] = 0xFF
		}
	}

	media := Media{BytesPerSector: 512, TotalSectors: size / 512}
	wcfg := DefaultWriteConfig()
	wcfg.CompressionLevel = CompressionBest

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

	rh, err := OpenRead(base, Config{})
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	defer rh.Close()

	if got := rh.Media().CompressionLevel; got != CompressionBest {
		t.Errorf("compression_level = %v, want CompressionBest", got)
	}

	got := make([]byte, size)
	if _, err := rh.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round-tripped bytes differ from original")
	}
}

// Round-trip law (spec.md §8): for arbitrary bytes, write then read
// back yields the identical stream, MD5-equal.
func TestRoundTripRandom(t *testing.T) {
	base := tempBasename(t)

	r := rand.New(rand.NewSource(1))
	const size = 500 * 1024
	data := make([]byte, size)
	r.Read(data)

	media := Media{BytesPerSector: 512, TotalSectors: size / 512}
	wcfg := DefaultWriteConfig()
	wcfg.CompressionLevel = CompressionGood

	h, err := Create(base, media, wcfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Write in uneven chunks to exercise the staging buffer boundary
	// logic independent of chunk_size.
	for off := 0; off < len(data); {
		n := 7001
		if off+n > len(data) {
			n = len(data) - off
		}
		if _, err := h.Write(data[off : off+n]); err != nil {
			t.Fatalf("Write at %d: %v", off, err)
		}
		off += n
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
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
		t.Fatalf("round-tripped bytes differ from original")
	}
	gotSum := md5.Sum(got)
	if gotSum != wantSum {
		t.Fatalf("md5 mismatch after round trip")
	}

	digest, err := rh.MD5()
	if err != nil {
		t.Fatalf("MD5: %v", err)
	}
	if digest != wantSum {
		t.Fatalf("recorded MD5 does not match computed MD5")
	}
}

// Reopen equivalence (spec.md §8): re-reading without modification is
// repeatable and returns identical bytes on every pass.
func TestReopenEquivalence(t *testing.T) {
	base := tempBasename(t)

	data := bytes.Repeat([]byte("reopen-equivalence-fixture"), 1000)
	media := Media{BytesPerSector: 512, TotalSectors: uint64(len(data)+511) / 512}
	wcfg := DefaultWriteConfig()

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

	for i := 0; i < 2; i++ {
		rh, err := OpenRead(base, Config{})
		if err != nil {
			t.Fatalf("OpenRead pass %d: %v", i, err)
		}
		got := make([]byte, len(data))
		if _, err := rh.ReadAt(got, 0); err != nil {
			t.Fatalf("ReadAt pass %d: %v", i, err)
		}
		if !bytes.Equal(got[:len(data)], data) {
			t.Fatalf("pass %d: bytes differ from original", i)
		}
		if err := rh.Close(); err != nil {
			t.Fatalf("Close pass %d: %v", i, err)
		}
	}
}

// State guard (spec.md §8 scenario 6): after the first write, a
// geometry setter fails with StateImmutable.
func TestStateGuardAfterFirstWrite(t *testing.T) {
	base := tempBasename(t)

	media := Media{BytesPerSector: 512, TotalSectors: 128}
	wcfg := DefaultWriteConfig()
	wcfg.SectorsPerChunk = 64

	h, err := Create(base, media, wcfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := h.Write(make([]byte, 512)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	err = h.SetSectorsPerChunk(128)
	if err == nil {
		t.Fatalf("SetSectorsPerChunk after first write: want error, got nil")
	}
	if KindOf(err) != KindStateImmutable {
		t.Fatalf("SetSectorsPerChunk error kind = %v, want KindStateImmutable", KindOf(err))
	}
}
