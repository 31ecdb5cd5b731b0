package ewf

import (
	"encoding/binary"
	"io"

	"github.com/laenix/goewf/internal/chunktable"
	"github.com/laenix/goewf/internal/sections"
	"github.com/laenix/goewf/internal/segio"
)

// deltaTableEntry pairs a logical chunk index with its table entry
// (offset, with the compressed bit set per sections.ChunkOffsetCompressedBit).
// A delta segment's table is sparse and write-ordered, so unlike the
// main chain's table it must carry the chunk index explicitly.
type deltaTableEntry struct {
	ChunkIndex uint64
	Entry      uint32
}

func encodeDeltaTable(entries []deltaTableEntry) []byte {
	buf := make([]byte, 4+len(entries)*12)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(entries)))
	off := 4
	for _, e := range entries {
		binary.LittleEndian.PutUint64(buf[off:off+8], e.ChunkIndex)
		binary.LittleEndian.PutUint32(buf[off+8:off+12], e.Entry)
		off += 12
	}
	return buf
}

func decodeDeltaTable(payload []byte) ([]deltaTableEntry, error) {
	if len(payload) < 4 {
		return nil, newErr(KindFormatInvalid, "decodeDeltaTable", "short delta table payload", nil)
	}
	count := binary.LittleEndian.Uint32(payload[0:4])
	entries := make([]deltaTableEntry, 0, count)
	off := 4
	for i := uint32(0); i < count; i++ {
		if off+12 > len(payload) {
			return nil, newErr(KindFormatInvalid, "decodeDeltaTable", "truncated delta table payload", nil)
		}
		entries = append(entries, deltaTableEntry{
			ChunkIndex: binary.LittleEndian.Uint64(payload[off : off+8]),
			Entry:      binary.LittleEndian.Uint32(payload[off+8 : off+12]),
		})
		off += 12
	}
	return entries, nil
}

// EnableDelta attaches a writable delta chain to an already-open
// handle, addressed by basename under the `.dNN` extension scheme
// (spec.md §4.I). Subsequent WriteDeltaAt calls shadow chunks of the
// main chain without mutating it. If a delta file already exists at
// basename, it is reopened and its existing shadowed chunks are
// restored rather than discarded.
func (h *Handle) EnableDelta(basename string) error {
	if h.state != StateOpenRead && h.state != StateOpenReadWrite {
		return newErr(KindStateImmutable, "EnableDelta", "handle must be open for read to attach a delta chain", nil)
	}
	if h.deltaSeg != nil {
		return newErr(KindStateImmutable, "EnableDelta", "delta chain already attached", nil)
	}

	locator := segio.Locator{Base: basename, Scheme: segio.SchemeDelta}
	pool := segio.NewPool(locator, true, 4)

	sw, err := newSegmentWriter(h, pool, 1)
	if err != nil {
		return err
	}

	if h.deltaLocations == nil {
		h.deltaLocations = make(map[uint64]chunktable.Location)
	}

	info, statErr := sw.file.Stat()
	if statErr == nil && info.Size() > 0 {
		if err := sw.reopenDeltaSegment(); err != nil {
			return err
		}
	} else {
		if err := sw.openDeltaSegment(); err != nil {
			return err
		}
	}

	h.deltaPool = pool
	h.deltaSeg = sw
	h.deltaBasename = basename
	return nil
}

// openDeltaSegment writes a minimal container: file header, a volume
// copy, then begins the sectors section (spec.md §4.I "minimal
// container").
func (sw *segmentWriter) openDeltaSegment() error {
	if err := sw.file.Truncate(0); err != nil {
		return newErr(KindIoWrite, "openDeltaSegment", "truncate delta file", err)
	}
	if err := sections.WriteFileHeader(sw.file, uint16(sw.number)); err != nil {
		return newErr(KindIoWrite, "openDeltaSegment", "write file header", err)
	}
	sw.cursor = int64(sections.FileHeaderSize)
	if err := sw.writeVolumeSection(sections.KindVolume); err != nil {
		return err
	}
	return sw.beginSectors()
}

// reopenDeltaSegment re-parses an existing delta file, restoring the
// shadowed-chunk map into h.deltaLocations and repositioning the
// cursor to resume appending right after the last stored chunk (the
// previous table/table2/done tail is overwritten on the next
// FinalizeDelta).
func (sw *segmentWriter) reopenDeltaSegment() error {
	f := sw.file
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return newErr(KindIoSeek, "reopenDeltaSegment", "seek to start", err)
	}
	if _, err := sections.ReadFileHeader(f); err != nil {
		return newErr(KindFormatInvalid, "reopenDeltaSegment", "bad delta file header", err)
	}

	offset := int64(sections.FileHeaderSize)
	var sectorsEnd int64
	var entries []deltaTableEntry

scan:
	for {
		desc, err := sections.ReadDescriptorAt(f, offset)
		if err != nil {
			return newErr(KindFormatInvalid, "reopenDeltaSegment", "malformed delta section chain", err)
		}

		switch desc.TypeString() {
		case string(sections.KindSectors):
			sw.sectorsDescOffset = offset
			sw.baseOffset = uint64(offset) + uint64(sections.DescriptorSize)
			sectorsEnd = offset + int64(desc.Size)
		case string(sections.KindTable):
			payloadOffset := offset + int64(sections.DescriptorSize)
			payloadSize := int(desc.Size) - sections.DescriptorSize
			payload := make([]byte, payloadSize)
			if _, err := f.ReadAt(payload, payloadOffset); err == nil {
				if parsed, err := decodeDeltaTable(payload); err == nil {
					entries = parsed
				}
			}
		case string(sections.KindDone):
			break scan
		}

		if desc.NextOffset <= uint64(offset) {
			break
		}
		offset = int64(desc.NextOffset)
	}

	sw.cursor = sectorsEnd
	sw.deltaEntries = entries

	for i, e := range entries {
		rawOffset := e.Entry &^ sections.ChunkOffsetCompressedBit
		var nextRaw uint32
		if i+1 < len(entries) {
			nextRaw = entries[i+1].Entry &^ sections.ChunkOffsetCompressedBit
		} else {
			nextRaw = uint32(uint64(sectorsEnd) - sw.baseOffset)
		}
		sw.h.deltaLocations[e.ChunkIndex] = chunktable.Location{
			Segment:    sw.number,
			Offset:     sw.baseOffset + uint64(rawOffset),
			Size:       nextRaw - rawOffset,
			Compressed: e.Entry&sections.ChunkOffsetCompressedBit != 0,
		}
	}

	return nil
}

// WriteDeltaAt overwrites the logical media bytes in [off, off+len(p))
// by read-modify-writing every chunk the range touches into the delta
// chain (spec.md §4.I).
func (h *Handle) WriteDeltaAt(p []byte, off int64) error {
	if h.deltaSeg == nil {
		return newErr(KindStateImmutable, "WriteDeltaAt", "no delta chain attached; call EnableDelta first", nil)
	}
	if off < 0 {
		return newErr(KindArgumentOutOfRange, "WriteDeltaAt", "negative offset", nil)
	}
	mediaSize := int64(h.media.MediaSize())
	if off+int64(len(p)) > mediaSize {
		return newErr(KindArgumentOutOfRange, "WriteDeltaAt", "write would exceed media_size", nil)
	}

	chunkSize := int64(h.media.ChunkSize())
	if chunkSize == 0 {
		return newErr(KindValueMissing, "WriteDeltaAt", "chunk_size is zero", nil)
	}

	written := 0
	for written < len(p) {
		absOffset := off + int64(written)
		chunkIndex := uint64(absOffset / chunkSize)
		inChunkOffset := int(absOffset % chunkSize)

		raw, err := h.readChunk(chunkIndex)
		if err != nil {
			return err
		}
		buf := make([]byte, len(raw))
		copy(buf, raw)

		take := len(buf) - inChunkOffset
		if take > len(p)-written {
			take = len(p) - written
		}
		copy(buf[inChunkOffset:], p[written:written+take])
		written += take

		if err := h.writeDeltaChunk(chunkIndex, buf); err != nil {
			return err
		}
	}

	return nil
}

func (h *Handle) writeDeltaChunk(chunkIndex uint64, raw []byte) error {
	stored, compressed, err := h.encodeChunk(raw)
	if err != nil {
		return newErr(KindCompressionError, "writeDeltaChunk", "compress delta chunk", err)
	}

	entry := h.deltaSeg.appendChunk(stored, compressed)
	h.deltaSeg.deltaEntries = append(h.deltaSeg.deltaEntries, deltaTableEntry{ChunkIndex: chunkIndex, Entry: entry})

	h.deltaLocations[chunkIndex] = chunktable.Location{
		Segment:    h.deltaSeg.number,
		Offset:     h.deltaSeg.baseOffset + uint64(entry&^sections.ChunkOffsetCompressedBit),
		Size:       uint32(len(stored)),
		Compressed: compressed,
	}
	h.cache.Invalidate(chunkIndex)
	return nil
}

// FinalizeDelta closes out the delta chain's single segment, writing
// its chunk-indexed table/table2 and a `done` terminator. Safe to call
// multiple times.
func (h *Handle) FinalizeDelta() error {
	if h.deltaSeg == nil {
		return nil
	}
	if err := h.deltaSeg.endSectors(); err != nil {
		return err
	}

	payload := encodeDeltaTable(h.deltaSeg.deltaEntries)
	if err := h.deltaSeg.writeSection(sections.KindTable, payload); err != nil {
		return err
	}
	if err := h.deltaSeg.writeSection(sections.KindTable2, payload); err != nil {
		return err
	}
	if err := h.deltaSeg.writeSection(sections.KindDone, nil); err != nil {
		return err
	}

	err := h.deltaPool.CloseAll()
	h.deltaSeg = nil
	return err
}
