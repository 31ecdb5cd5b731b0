package ewf

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"errors"
	"io"
	"os"

	"github.com/laenix/goewf/internal/cchunk"
	"github.com/laenix/goewf/internal/sectorrange"
	"github.com/laenix/goewf/internal/segio"
	"github.com/laenix/goewf/internal/sections"
	"github.com/laenix/goewf/internal/values"
)

// Create opens a fresh segment-file chain for writing (spec.md §4.F,
// §4.H). media's geometry fields, if zero, fall back to
// WriteConfig.SectorsPerChunk/BytesPerSector, and a media
// CompressionLevel of CompressionNone falls back to
// WriteConfig.CompressionLevel.
func Create(basename string, media Media, wcfg WriteConfig) (*Handle, error) {
	if wcfg.SectorsPerChunk == 0 {
		wcfg.SectorsPerChunk = DefaultSectorsPerChunk
	}
	if wcfg.BytesPerSector == 0 {
		wcfg.BytesPerSector = DefaultBytesPerSector
	}
	if wcfg.SegmentFileSize <= 0 {
		wcfg.SegmentFileSize = DefaultSegmentFileSize
	}
	if wcfg.SegmentFileSize < MinSegmentFileSize {
		return nil, newErr(KindArgumentOutOfRange, "Create", "segment_file_size below minimum", nil)
	}

	if media.SectorsPerChunk == 0 {
		media.SectorsPerChunk = wcfg.SectorsPerChunk
	}
	if media.BytesPerSector == 0 {
		media.BytesPerSector = wcfg.BytesPerSector
	}
	if media.CompressionLevel == CompressionNone {
		media.CompressionLevel = wcfg.CompressionLevel
	}

	locator := segio.Locator{Base: basename, Scheme: segio.SchemeStandard}
	pool := segio.NewPool(locator, true, 4)

	h := &Handle{
		state:         StateOpenWrite,
		format:        wcfg.Format,
		media:         media,
		headerVals:    values.New(),
		hashVals:      values.New(),
		acquiryErrors: sectorrange.New(true),
		crcErrors:     sectorrange.New(true),
		sessions:      sectorrange.New(false),
		readPool:      pool,
		cfg:           DefaultConfig(),
		wcfg:          wcfg,
		logger:        wcfg.logger(),
		runningMD5:    md5.New(),
		runningSHA1:   sha1.New(),
	}

	sw, err := newSegmentWriter(h, pool, 1)
	if err != nil {
		return nil, err
	}
	if err := sw.openSegment(true); err != nil {
		return nil, err
	}
	h.segWriter = sw

	return h, nil
}

// ensureHeadersCommitted emits the first segment's header family and
// volume section exactly once, on the first byte written (or, for a
// zero-length image, at finalize). Until this point header_values and
// media geometry set via SetHeaderValue/SetSectorsPerChunk/etc. are
// still mutable; deferring the write lets Create's caller populate
// case_number/examiner_name/... before anything reaches disk (spec.md
// §3 "Header values", §4.F "INIT -> HEADERS -> BODY").
func (h *Handle) ensureHeadersCommitted() error {
	if h.valuesInitialized {
		return nil
	}
	if err := h.segWriter.commitFirstSegmentHeaders(); err != nil {
		return err
	}
	h.valuesInitialized = true
	return nil
}

// DefaultConfig returns a read Config with the default cache size and
// handle-pool bound, and with WipeOnError enabled.
func DefaultConfig() Config {
	return Config{CacheSize: 8, MaxOpenFiles: segio.DefaultMaxOpenFiles, WipeOnError: true}
}

// Write appends p to the logical media stream, chunking, compressing
// and rolling segments as needed (spec.md §4.H).
func (h *Handle) Write(p []byte) (int, error) {
	if h.state != StateOpenWrite && h.state != StateOpenReadWrite {
		return 0, newErr(KindStateImmutable, "Write", "handle is not open for write", nil)
	}
	if h.state == StatePoisoned {
		return 0, newErr(KindIoWrite, "Write", "handle is poisoned by a prior error", nil)
	}

	if h.media.TotalSectors != 0 {
		limit := h.media.MediaSize()
		if h.bytesWritten+uint64(len(p)) > limit {
			return 0, newErr(KindArgumentOutOfRange, "Write", "write would exceed declared media_size", nil)
		}
	}

	if err := h.ensureHeadersCommitted(); err != nil {
		h.state = StatePoisoned
		return 0, err
	}
	h.runningMD5.Write(p)
	h.runningSHA1.Write(p)
	h.bytesWritten += uint64(len(p))

	h.staging = append(h.staging, p...)
	chunkSize := int(h.media.ChunkSize())

	for len(h.staging) >= chunkSize {
		chunk := h.staging[:chunkSize]
		if err := h.emitChunk(chunk); err != nil {
			h.state = StatePoisoned
			return len(p), err
		}
		h.staging = h.staging[chunkSize:]
	}

	return len(p), nil
}

// emitChunk compresses (or stores raw) one chunk_size-sized buffer and
// hands it to the current segment writer, rotating segments first if
// the chunk would overflow segment_file_size.
func (h *Handle) emitChunk(raw []byte) error {
	stored, compressed, err := h.encodeChunk(raw)
	if err != nil {
		return newErr(KindCompressionError, "emitChunk", "compress chunk", err)
	}

	if h.segWriter.wouldOverflow(len(stored)) {
		if err := h.segWriter.rotate(); err != nil {
			return err
		}
	}

	h.segWriter.appendChunk(stored, compressed)
	h.chunksWritten++
	return nil
}

func (h *Handle) encodeChunk(raw []byte) (stored []byte, compressed bool, err error) {
	level := cchunkLevel(h.media.CompressionLevel)
	allEqual := cchunk.IsAllEqual(raw)

	if level == cchunk.LevelNone {
		if allEqual && h.wcfg.CompressEmptyBlock {
			c, err := cchunk.Compress(raw, cchunk.LevelBest)
			if err != nil {
				return nil, false, err
			}
			return c, true, nil
		}
		return cchunk.EncodeUncompressed(raw), false, nil
	}

	c, err := cchunk.Compress(raw, level)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func cchunkLevel(l CompressionLevel) cchunk.Level {
	switch l {
	case CompressionGood:
		return cchunk.LevelGood
	case CompressionBest:
		return cchunk.LevelBest
	default:
		return cchunk.LevelNone
	}
}

// finalizeWrite flushes the staging buffer as a short final chunk,
// finalizes the current segment with the terminal section set, and
// records the computed digest (spec.md §4.H "on close").
func (h *Handle) finalizeWrite() error {
	if err := h.ensureHeadersCommitted(); err != nil {
		return err
	}

	if len(h.staging) > 0 {
		if err := h.emitChunk(h.staging); err != nil {
			return err
		}
		h.staging = nil
	}

	if h.media.TotalSectors == 0 {
		h.media.TotalSectors = h.bytesWritten / uint64(h.media.BytesPerSector)
		if h.bytesWritten%uint64(h.media.BytesPerSector) != 0 {
			h.media.TotalSectors++
		}
	}

	var md5Sum [16]byte
	copy(md5Sum[:], h.runningMD5.Sum(nil))
	var sha1Sum [20]byte
	copy(sha1Sum[:], h.runningSHA1.Sum(nil))
	h.md5Digest = md5Sum
	h.sha1Digest = sha1Sum
	h.haveDigest = true

	return h.segWriter.finalizeLast()
}

// segmentWriter drives one segment file's INIT->HEADERS->BODY->
// FINALIZING->CLOSED state machine (spec.md §4.F).
type segmentWriter struct {
	h       *Handle
	pool    *segio.Pool
	number  int
	file    *os.File
	cursor  int64

	sectorsDescOffset int64
	baseOffset        uint64
	chunkOffsets      []uint32

	// deltaEntries tracks chunk-index-tagged entries for a delta
	// segment, where append order does not correspond to chunk index
	// order; unused by the main chain's segments.
	deltaEntries []deltaTableEntry
}

func newSegmentWriter(h *Handle, pool *segio.Pool, number int) (*segmentWriter, error) {
	f, err := pool.Open(number)
	if err != nil {
		return nil, newErr(KindIoWrite, "newSegmentWriter", "open segment file", err)
	}
	return &segmentWriter{h: h, pool: pool, number: number, file: f}, nil
}

// openSegment writes the file header and, for a rotated (non-first)
// segment, the `data` volume-duplicate section, then begins the
// sectors section. The first segment's header family and primary
// volume section are not written here: they wait on
// commitFirstSegmentHeaders, called once header_values can no longer
// change (spec.md §4.F "INIT -> HEADERS -> BODY").
func (sw *segmentWriter) openSegment(first bool) error {
	if err := sw.file.Truncate(0); err != nil {
		return newErr(KindIoWrite, "openSegment", "truncate segment file", err)
	}
	if _, err := sw.file.Seek(0, io.SeekStart); err != nil {
		return newErr(KindIoSeek, "openSegment", "seek to start", err)
	}
	if err := sections.WriteFileHeader(sw.file, uint16(sw.number)); err != nil {
		return newErr(KindIoWrite, "openSegment", "write file header", err)
	}
	sw.cursor = int64(sections.FileHeaderSize)

	if first {
		return nil
	}

	if err := sw.writeVolumeSection(sections.KindData); err != nil {
		return err
	}
	return sw.beginSectors()
}

// commitFirstSegmentHeaders writes the first segment's header family
// and primary volume section, then begins the sectors section. It
// runs the EnCase2->EnCase3 auto-upgrade against the real
// acquiry_software_version header value (spec.md §9), something that
// was unreachable while this work happened inside Create.
func (sw *segmentWriter) commitFirstSegmentHeaders() error {
	h := sw.h
	acquirySoftwareVersion, _ := h.headerVals.GetByName("acquiry_software_version")
	upgraded := maybeAutoUpgradeEnCase2(h.format, acquirySoftwareVersion, h.wcfg.CompatAutoUpgrade)
	if upgraded != h.format {
		h.log().Info("format auto-upgraded", "from", h.format, "to", upgraded, "acquiry_software_version", acquirySoftwareVersion)
	}
	h.format = upgraded

	profile := h.format.Profile()
	for _, kind := range profile.HeaderOrder {
		if err := sw.writeHeaderSection(kind, profile.DefaultCodepage); err != nil {
			return err
		}
	}
	if err := sw.writeVolumeSection(profile.VolumeKind); err != nil {
		return err
	}
	return sw.beginSectors()
}

func (sw *segmentWriter) writeSection(kind sections.Kind, payload []byte) error {
	descOffset := sw.cursor
	totalSize := uint64(sections.DescriptorSize) + uint64(len(payload))
	desc := sections.NewDescriptor(kind)
	desc.Size = totalSize
	desc.NextOffset = uint64(descOffset) + totalSize
	if err := sections.WriteDescriptorAt(sw.file, descOffset, desc); err != nil {
		return newErr(KindIoWrite, "writeSection", "write descriptor", err)
	}
	if len(payload) > 0 {
		if _, err := sw.file.WriteAt(payload, descOffset+int64(sections.DescriptorSize)); err != nil {
			return newErr(KindIoWrite, "writeSection", "write payload", err)
		}
	}
	sw.cursor = int64(desc.NextOffset)
	return nil
}

func (sw *segmentWriter) writeHeaderSection(kind sections.Kind, cp sections.Codepage) error {
	var payload []byte
	var err error
	switch kind {
	case sections.KindHeader:
		payload, err = sections.EncodeHeader(sw.h.headerVals, cp)
	case sections.KindHeader2:
		payload, err = sections.EncodeHeader2(sw.h.headerVals)
	case sections.KindXHeader:
		payload, err = encodeXHeader(sw.h.headerVals)
	default:
		return nil
	}
	if err != nil {
		if errors.Is(err, sections.ErrUnsupportedCodepage) {
			return newErr(KindUnsupported, "writeHeaderSection", "unsupported header codepage", err)
		}
		return newErr(KindFormatInvalid, "writeHeaderSection", "encode header section", err)
	}
	return sw.writeSection(kind, payload)
}

func (sw *segmentWriter) writeVolumeSection(kind sections.Kind) error {
	m := sw.h.media
	vol := sections.Volume{
		MediaType:        uint8(m.MediaType),
		AmountOfChunks:   uint32(m.TotalChunks()),
		SectorsPerChunk:  m.SectorsPerChunk,
		BytesPerSector:   m.BytesPerSector,
		AmountOfSectors:  uint32(m.TotalSectors),
		MediaFlags:       uint8(m.MediaFlags),
		CompressionLevel: uint8(m.CompressionLevel),
		ErrorGranularity: m.ErrorGranularity,
	}
	guidBytes, _ := m.GUID.MarshalBinary()
	copy(vol.GUID[:], guidBytes)

	var buf bytes.Buffer
	if err := sections.WriteVolume(&buf, vol); err != nil {
		return newErr(KindIoWrite, "writeVolumeSection", "encode volume body", err)
	}
	return sw.writeSection(kind, buf.Bytes())
}

func (sw *segmentWriter) beginSectors() error {
	sw.sectorsDescOffset = sw.cursor
	sw.cursor += int64(sections.DescriptorSize)
	sw.baseOffset = uint64(sw.cursor)
	sw.chunkOffsets = nil
	return nil
}

// wouldOverflow reports whether adding a stored chunk of the given
// size, plus the worst-case trailing table/table2/terminator
// sections, would exceed segment_file_size.
func (sw *segmentWriter) wouldOverflow(storedLen int) bool {
	if len(sw.chunkOffsets) == 0 {
		return false // always fit at least one chunk per segment
	}
	n := len(sw.chunkOffsets) + 1
	tableSize := int64(sections.DescriptorSize) + int64(sections.TableHeaderSize) + int64(n)*4 + 4
	projected := sw.cursor + int64(storedLen) + 2*tableSize + int64(sections.DescriptorSize)
	return projected > sw.h.wcfg.SegmentFileSize
}

func (sw *segmentWriter) appendChunk(stored []byte, compressed bool) uint32 {
	offset := uint64(sw.cursor) - sw.baseOffset
	entry := uint32(offset)
	if compressed {
		entry |= sections.ChunkOffsetCompressedBit
	}
	sw.file.WriteAt(stored, sw.cursor)
	sw.cursor += int64(len(stored))
	sw.chunkOffsets = append(sw.chunkOffsets, entry)
	return entry
}

func (sw *segmentWriter) endSectors() error {
	totalSize := uint64(sw.cursor) - uint64(sw.sectorsDescOffset)
	desc := sections.NewDescriptor(sections.KindSectors)
	desc.Size = totalSize
	desc.NextOffset = uint64(sw.cursor)
	return sections.WriteDescriptorAt(sw.file, sw.sectorsDescOffset, desc)
}

func (sw *segmentWriter) writeTablePair() error {
	t := sections.Table{BaseOffset: sw.baseOffset, Entries: sw.chunkOffsets}
	var buf bytes.Buffer
	if err := sections.WriteTable(&buf, t); err != nil {
		return newErr(KindIoWrite, "writeTablePair", "encode table", err)
	}
	if err := sw.writeSection(sections.KindTable, buf.Bytes()); err != nil {
		return err
	}
	return sw.writeSection(sections.KindTable2, buf.Bytes())
}

// rotate finalizes the current (non-final) segment with table/table2/
// next and opens the next one.
func (sw *segmentWriter) rotate() error {
	if err := sw.endSectors(); err != nil {
		return err
	}
	if err := sw.writeTablePair(); err != nil {
		return err
	}
	if err := sw.writeSection(sections.KindNext, nil); err != nil {
		return err
	}
	if err := sw.pool.Forget(sw.number); err != nil {
		return newErr(KindIoWrite, "rotate", "close finished segment", err)
	}

	next, err := newSegmentWriter(sw.h, sw.pool, sw.number+1)
	if err != nil {
		return err
	}
	if err := next.openSegment(false); err != nil {
		return err
	}
	*sw = *next
	return nil
}

// finalizeLast closes out the segment chain's final segment: table/
// table2, error2, session, digest, hash, xhash, done.
func (sw *segmentWriter) finalizeLast() error {
	if err := sw.endSectors(); err != nil {
		return err
	}
	if err := sw.writeTablePair(); err != nil {
		return err
	}

	profile := sw.h.format.Profile()

	if len(sw.h.acquiryErrors.All()) > 0 {
		if err := sw.writeRangeSection(sections.KindError2, sw.h.acquiryErrors); err != nil {
			return err
		}
	}
	if profile.HasSession && len(sw.h.sessions.All()) > 0 {
		if err := sw.writeRangeSection(sections.KindSession, sw.h.sessions); err != nil {
			return err
		}
	}

	if profile.HasDigest {
		if err := sw.writeSection(sections.KindDigest, digestPayload(sw.h)); err != nil {
			return err
		}
	}
	if err := sw.writeSection(sections.KindHash, hashPayload(sw.h)); err != nil {
		return err
	}

	if profile.HasXHash {
		payload, err := encodeXHash(sw.h)
		if err != nil {
			return err
		}
		if err := sw.writeSection(sections.KindXHash, payload); err != nil {
			return err
		}
	}

	return sw.writeSection(sections.KindDone, nil)
}

func (sw *segmentWriter) writeRangeSection(kind sections.Kind, t *sectorrange.Table) error {
	ranges := t.All()
	entries := make([]sections.RangeEntry, len(ranges))
	for i, r := range ranges {
		entries[i] = sections.RangeEntry{FirstSector: uint32(r.FirstSector), SectorCount: uint32(r.Count)}
	}
	var buf bytes.Buffer
	if err := sections.WriteRangeTable(&buf, entries); err != nil {
		return newErr(KindIoWrite, "writeRangeSection", "encode range table", err)
	}
	return sw.writeSection(kind, buf.Bytes())
}

func digestPayload(h *Handle) []byte {
	var buf bytes.Buffer
	sections.WriteDigest(&buf, sections.Digest{MD5: h.md5Digest, SHA1: h.sha1Digest})
	return buf.Bytes()
}

func hashPayload(h *Handle) []byte {
	var buf bytes.Buffer
	sections.WriteHash(&buf, sections.Hash{MD5: h.md5Digest})
	return buf.Bytes()
}
