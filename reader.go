package ewf

import (
	"io"

	"github.com/google/uuid"

	"github.com/laenix/goewf/internal/cache"
	"github.com/laenix/goewf/internal/cchunk"
	"github.com/laenix/goewf/internal/chunktable"
	"github.com/laenix/goewf/internal/sectorrange"
	"github.com/laenix/goewf/internal/segio"
	"github.com/laenix/goewf/internal/sections"
)

// OpenRead opens an existing EWF image chain for reading, starting
// from the first segment's filename derived from basename under the
// standard extension scheme (spec.md §4.G, §6.2).
func OpenRead(basename string, cfg Config) (*Handle, error) {
	locator := segio.Locator{Base: basename, Scheme: segio.SchemeStandard}
	pool := segio.NewPool(locator, false, cfg.MaxOpenFiles)

	h := &Handle{
		state:         StateOpenRead,
		format:        FormatEnCase6,
		headerVals:    nil,
		hashVals:      nil,
		acquiryErrors: sectorrange.New(true),
		crcErrors:     sectorrange.New(true),
		sessions:      sectorrange.New(false),
		readPool:      pool,
		cfg:           cfg,
		logger:        cfg.logger(),
	}

	segTables, err := h.scanSegments(pool)
	if err != nil {
		_ = pool.CloseAll()
		return nil, err
	}

	ct, mismatches, err := chunktable.Build(segTables)
	if err != nil {
		_ = pool.CloseAll()
		return nil, err
	}
	for _, m := range mismatches {
		h.log().Warn("table/table2 mismatch", "segment", m.Segment, "first_chunk", m.FirstChunkIndex, "count", m.Count)
		h.crcErrors.Add(uint64(m.FirstChunkIndex)*uint64(h.media.SectorsPerChunk), uint64(m.Count)*uint64(h.media.SectorsPerChunk))
	}
	h.chunkTable = ct

	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = 8
	}
	h.cache = cache.New(cacheSize)

	h.valuesInitialized = true
	return h, nil
}

// scanSegments walks segment 1..N, parsing every section in order and
// accumulating header/media/table/digest/error data (spec.md §4.B,
// §4.C "build phase").
func (h *Handle) scanSegments(pool *segio.Pool) ([]chunktable.SegmentTable, error) {
	var segTables []chunktable.SegmentTable

	for segNum := 1; ; segNum++ {
		f, err := pool.Open(segNum)
		if err != nil {
			if segNum == 1 {
				return nil, newErr(KindIoRead, "OpenRead", "failed to open first segment", err)
			}
			break // no more segments in the chain
		}

		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, newErr(KindIoSeek, "scanSegments", "seek to file start", err)
		}
		if _, err := sections.ReadFileHeader(f); err != nil {
			return nil, newErr(KindFormatInvalid, "scanSegments", "bad segment file header", err)
		}

		st := chunktable.SegmentTable{Segment: segNum}
		offset := int64(sections.FileHeaderSize)
		terminated := false
		done := false

		for {
			desc, err := sections.ReadDescriptorAt(f, offset)
			if err != nil {
				h.log().Warn("unterminated segment, stopping at last intact section", "segment", segNum, "offset", offset)
				break
			}

			payloadOffset := offset + int64(sections.DescriptorSize)
			if _, err := f.Seek(payloadOffset, io.SeekStart); err != nil {
				return nil, newErr(KindIoSeek, "scanSegments", "seek to payload", err)
			}

			switch desc.TypeString() {
			case string(sections.KindHeader):
				payloadSize := int(desc.Size) - sections.DescriptorSize
				v, err := sections.DecodeHeader(f, payloadSize, h.headerCodepage())
				if err == nil {
					h.headerVals = v
				}
			case string(sections.KindHeader2):
				payloadSize := int(desc.Size) - sections.DescriptorSize
				v, err := sections.DecodeHeader2(f, payloadSize)
				if err == nil {
					h.headerVals = v
				}
			case string(sections.KindXHeader):
				payloadSize := int(desc.Size) - sections.DescriptorSize
				v, err := decodeXHeader(f, payloadSize)
				if err == nil {
					h.headerVals = v
				}
			case string(sections.KindXHash):
				payloadSize := int(desc.Size) - sections.DescriptorSize
				v, err := decodeXHash(f, payloadSize)
				if err == nil {
					h.hashVals = v
				}
			case string(sections.KindVolume), string(sections.KindDisk), string(sections.KindData):
				vol, err := sections.ReadVolume(f)
				if err == nil {
					h.applyVolume(vol)
				}
			case string(sections.KindTable):
				entryCount := tableEntryCount(desc.Size)
				t, err := sections.ReadTable(f, entryCount)
				if err != nil && t.Entries == nil {
					return nil, newErr(KindFormatInvalid, "scanSegments", "malformed table section", err)
				}
				st.Table = t
			case string(sections.KindTable2):
				t2, _ := sections.ReadTable(f, uint32(len(st.Table.Entries)))
				st.Table2 = &t2
			case string(sections.KindError2):
				entries, err := sections.ReadRangeTable(f)
				if err == nil {
					for _, e := range entries {
						h.acquiryErrors.Add(uint64(e.FirstSector), uint64(e.SectorCount))
					}
				}
			case string(sections.KindSession):
				entries, err := sections.ReadRangeTable(f)
				if err == nil {
					for _, e := range entries {
						h.sessions.Add(uint64(e.FirstSector), uint64(e.SectorCount))
					}
				}
			case string(sections.KindDigest):
				d, err := sections.ReadDigest(f)
				if err == nil {
					h.md5Digest = d.MD5
					h.sha1Digest = d.SHA1
					h.haveDigest = true
				}
			case string(sections.KindHash):
				hh, err := sections.ReadHash(f)
				if err == nil {
					h.md5Digest = hh.MD5
					h.haveDigest = true
				}
			case string(sections.KindSectors):
				st.SectorsPayloadEnd = uint64(payloadOffset) + uint64(desc.Size) - sections.DescriptorSize
			case string(sections.KindNext):
				terminated = true
			case string(sections.KindDone):
				terminated = true
				done = true
			}

			if terminated || desc.NextOffset <= uint64(offset) {
				break
			}
			offset = int64(desc.NextOffset)
		}

		if st.Table.Entries != nil {
			segTables = append(segTables, st)
		}
		if !terminated {
			h.log().Warn("segment missing terminator section", "segment", segNum)
		}
		if done {
			break
		}
	}

	return segTables, nil
}

func (h *Handle) headerCodepage() sections.Codepage {
	return h.format.Profile().DefaultCodepage
}

// tableEntryCount derives a table/table2 section's entry count from
// its descriptor Size field, since the section's internal "count"
// field exists only for CRC coverage (spec.md §6.1 "table payload").
func tableEntryCount(descriptorSize uint64) uint32 {
	body := int64(descriptorSize) - int64(sections.DescriptorSize) - int64(sections.TableHeaderSize) - 4
	if body <= 0 {
		return 0
	}
	return uint32(body / 4)
}

func uuidFromBytes(b []byte) (uuid.UUID, error) {
	return uuid.FromBytes(b)
}

func (h *Handle) applyVolume(v sections.Volume) {
	h.media.MediaType = MediaType(v.MediaType)
	h.media.SectorsPerChunk = v.SectorsPerChunk
	h.media.BytesPerSector = v.BytesPerSector
	h.media.TotalSectors = uint64(v.AmountOfSectors)
	h.media.MediaFlags = MediaFlags(v.MediaFlags)
	h.media.CompressionLevel = CompressionLevel(v.CompressionLevel)
	h.media.ErrorGranularity = v.ErrorGranularity
	id, err := uuidFromBytes(v.GUID[:])
	if err == nil {
		h.media.GUID = id
	}
}

// ReadAt implements io.ReaderAt over the logical (uncompressed) media
// stream (spec.md §4.G).
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	if h.state != StateOpenRead && h.state != StateOpenReadWrite {
		return 0, newErr(KindStateImmutable, "ReadAt", "handle is not open for read", nil)
	}
	if off < 0 {
		return 0, newErr(KindArgumentOutOfRange, "ReadAt", "negative offset", nil)
	}

	mediaSize := int64(h.media.MediaSize())
	if off >= mediaSize {
		return 0, io.EOF
	}
	want := len(p)
	if int64(want) > mediaSize-off {
		want = int(mediaSize - off)
	}

	chunkSize := int64(h.media.ChunkSize())
	if chunkSize == 0 {
		return 0, newErr(KindValueMissing, "ReadAt", "chunk_size is zero", nil)
	}

	delivered := 0
	for delivered < want {
		absOffset := off + int64(delivered)
		chunkIndex := uint64(absOffset / chunkSize)
		inChunkOffset := int(absOffset % chunkSize)

		raw, err := h.readChunk(chunkIndex)
		if err != nil {
			return delivered, err
		}

		take := len(raw) - inChunkOffset
		if take <= 0 {
			break
		}
		if take > want-delivered {
			take = want - delivered
		}
		copy(p[delivered:], raw[inChunkOffset:inChunkOffset+take])
		delivered += take
	}

	if delivered < len(p) {
		return delivered, io.EOF
	}
	return delivered, nil
}

// readChunk fetches chunk chunkIndex, preferring the delta chain, then
// the cache, then the main chunk table (spec.md §4.E, §4.I).
func (h *Handle) readChunk(chunkIndex uint64) ([]byte, error) {
	if h.deltaLocations != nil {
		if loc, ok := h.deltaLocations[chunkIndex]; ok {
			return h.fetchChunk(h.deltaPool, loc, chunkIndex)
		}
	}

	if data, ok := h.cache.Get(chunkIndex); ok {
		return data, nil
	}

	loc, ok := h.chunkTable.Entry(int(chunkIndex))
	if !ok {
		return nil, newErr(KindArgumentOutOfRange, "readChunk", "chunk index out of range", nil)
	}
	data, err := h.fetchChunk(h.readPool, loc, chunkIndex)
	if err != nil {
		return nil, err
	}
	h.cache.Put(chunkIndex, data)
	return data, nil
}

func (h *Handle) fetchChunk(pool *segio.Pool, loc chunktable.Location, chunkIndex uint64) ([]byte, error) {
	f, err := pool.Open(loc.Segment)
	if err != nil {
		return nil, newErr(KindIoRead, "fetchChunk", "open segment", err)
	}
	stored := make([]byte, loc.Size)
	if _, err := f.ReadAt(stored, int64(loc.Offset)); err != nil {
		return nil, newErr(KindIoRead, "fetchChunk", "read chunk bytes", err)
	}

	expected := int(h.media.ChunkSize())
	lastChunk := h.chunkTable != nil && int(chunkIndex) == h.chunkTable.Len()-1
	if lastChunk {
		if tail := int(h.media.MediaSize() % h.media.ChunkSize()); tail != 0 {
			expected = tail
		}
	}

	if loc.Compressed {
		raw, err := cchunk.Decompress(stored, expected)
		if err != nil {
			h.crcErrors.Add(chunkIndex*uint64(h.media.SectorsPerChunk), uint64(h.media.SectorsPerChunk))
			if h.cfg.WipeOnError {
				return make([]byte, expected), nil
			}
			return nil, newErr(KindCompressionError, "fetchChunk", "deflate error", err)
		}
		return raw, nil
	}

	raw, ok := cchunk.DecodeUncompressed(stored)
	if !ok {
		h.crcErrors.Add(chunkIndex*uint64(h.media.SectorsPerChunk), uint64(h.media.SectorsPerChunk))
		h.log().Warn("chunk CRC mismatch", "chunk", chunkIndex)
		if h.cfg.WipeOnError {
			return make([]byte, len(raw)), nil
		}
	}
	return raw, nil
}
