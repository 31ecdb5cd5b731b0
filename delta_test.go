package ewf

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// Scenario 5 (spec.md §8): a delta overwrite shadows a byte range
// without touching the original segment file; the unaffected ranges
// and the original .E01 bytes are unchanged, while reads through the
// handle see the overwritten range.
func TestDeltaOverwrite(t *testing.T) {
	base := tempBasename(t)
	deltaBase := filepath.Join(filepath.Dir(base), "delta")

	data := bytes.Repeat([]byte{0xAA}, 64*1024)
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

	original, err := os.ReadFile(base + ".E01")
	if err != nil {
		t.Fatalf("read original segment: %v", err)
	}

	rh, err := OpenRead(base, Config{})
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	if err := rh.EnableDelta(deltaBase); err != nil {
		t.Fatalf("EnableDelta: %v", err)
	}

	overwrite := bytes.Repeat([]byte{0xBB}, 4096)
	const overwriteOff = 20000
	if err := rh.WriteDeltaAt(overwrite, overwriteOff); err != nil {
		t.Fatalf("WriteDeltaAt: %v", err)
	}
	if err := rh.Close(); err != nil {
		t.Fatalf("Close after delta: %v", err)
	}

	reopened, err := os.ReadFile(base + ".E01")
	if err != nil {
		t.Fatalf("read segment after delta: %v", err)
	}
	if !bytes.Equal(original, reopened) {
		t.Fatalf("original segment file was mutated by a delta write")
	}

	rh2, err := OpenRead(base, Config{})
	if err != nil {
		t.Fatalf("OpenRead (post-delta, no delta attached): %v", err)
	}
	defer rh2.Close()
	plain := make([]byte, len(data))
	if _, err := rh2.ReadAt(plain, 0); err != nil {
		t.Fatalf("ReadAt without delta attached: %v", err)
	}
	if !bytes.Equal(plain, data) {
		t.Fatalf("base chain changed even though no delta is attached on this handle")
	}

	rh3, err := OpenRead(base, Config{})
	if err != nil {
		t.Fatalf("OpenRead (post-delta, with delta attached): %v", err)
	}
	if err := rh3.EnableDelta(deltaBase); err != nil {
		t.Fatalf("re-EnableDelta over existing delta chain: %v", err)
	}
	defer rh3.Close()

	want := make([]byte, len(data))
	copy(want, data)
	copy(want[overwriteOff:], overwrite)

	got := make([]byte, len(data))
	if _, err := rh3.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt with delta attached: %v", err)
	}
	if !bytes.Equal(got[:overwriteOff], want[:overwriteOff]) {
		t.Fatalf("bytes before the overwritten range changed")
	}
	if !bytes.Equal(got[overwriteOff:overwriteOff+len(overwrite)], overwrite) {
		t.Fatalf("overwritten range does not reflect the delta write")
	}
	tailStart := overwriteOff + len(overwrite)
	if !bytes.Equal(got[tailStart:], want[tailStart:]) {
		t.Fatalf("bytes after the overwritten range changed")
	}
}

// Delta idempotence law (spec.md §8): overwriting a range with its
// current content produces no observable difference in subsequent
// reads.
func TestDeltaIdempotence(t *testing.T) {
	base := tempBasename(t)
	deltaBase := filepath.Join(filepath.Dir(base), "delta")

	data := bytes.Repeat([]byte{0x5A}, 32*1024)
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

	rh, err := OpenRead(base, Config{})
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	if err := rh.EnableDelta(deltaBase); err != nil {
		t.Fatalf("EnableDelta: %v", err)
	}

	same := make([]byte, 1024)
	copy(same, data[5000:6024])
	if err := rh.WriteDeltaAt(same, 5000); err != nil {
		t.Fatalf("WriteDeltaAt (same content): %v", err)
	}
	if err := rh.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rh2, err := OpenRead(base, Config{})
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	if err := rh2.EnableDelta(deltaBase); err != nil {
		t.Fatalf("re-EnableDelta: %v", err)
	}
	defer rh2.Close()

	got := make([]byte, len(data))
	if _, err := rh2.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("idempotent delta write changed observable content")
	}
}
