package ewf

import "github.com/google/uuid"

// MediaType enumerates the kinds of source media (spec.md §3).
type MediaType uint8

const (
	MediaTypeRemovable MediaType = 0x00
	MediaTypeFixed      MediaType = 0x01
	MediaTypeOptical    MediaType = 0x03
	MediaTypeLogical    MediaType = 0x0e
	MediaTypeMemory     MediaType = 0x10
)

// MediaFlags are the bitwise media_flags field (spec.md §3).
type MediaFlags uint8

const (
	MediaFlagImage    MediaFlags = 0x01
	MediaFlagPhysical MediaFlags = 0x02
	MediaFlagFastbloc MediaFlags = 0x04
	MediaFlagTableau  MediaFlags = 0x08
)

// CompressionLevel is the volume-recorded compression policy
// (spec.md §3, §6.1 "compression_level").
type CompressionLevel uint8

const (
	CompressionNone CompressionLevel = 0x00
	CompressionGood CompressionLevel = 0x01
	CompressionBest CompressionLevel = 0x02
)

// Default geometry constants (spec.md §6.3).
const (
	DefaultSectorsPerChunk = 64
	DefaultBytesPerSector  = 512
	DefaultChunkSize       = DefaultSectorsPerChunk * DefaultBytesPerSector

	DefaultSegmentFileSize = 1400 * 1024 * 1024 // 1.4 GiB
	MaxSegmentFileSize     = 79 << 60 / 10 // 7.9 EiB, per spec.md §6.3
	MinSegmentFileSize     = DefaultChunkSize + 4096
)

// Media holds the immutable-once-writing-begins geometry and
// identification fields of spec.md §3 "Media values".
type Media struct {
	SectorsPerChunk  uint32
	BytesPerSector   uint32
	TotalSectors     uint64
	MediaType        MediaType
	MediaFlags       MediaFlags
	ErrorGranularity uint32
	GUID             uuid.UUID

	CompressionLevel CompressionLevel
}

// ChunkSize returns sectors_per_chunk * bytes_per_sector.
func (m Media) ChunkSize() uint64 {
	return uint64(m.SectorsPerChunk) * uint64(m.BytesPerSector)
}

// MediaSize returns total_sectors * bytes_per_sector.
func (m Media) MediaSize() uint64 {
	return m.TotalSectors * uint64(m.BytesPerSector)
}

// TotalChunks returns ceil(total_sectors / sectors_per_chunk).
func (m Media) TotalChunks() uint64 {
	if m.SectorsPerChunk == 0 {
		return 0
	}
	n := m.TotalSectors / uint64(m.SectorsPerChunk)
	if m.TotalSectors%uint64(m.SectorsPerChunk) != 0 {
		n++
	}
	return n
}

// DefaultMedia returns Media populated with spec.md's default
// geometry (64 sectors/chunk, 512 bytes/sector) and a fresh GUID.
func DefaultMedia() Media {
	return Media{
		SectorsPerChunk:  DefaultSectorsPerChunk,
		BytesPerSector:   DefaultBytesPerSector,
		MediaType:        MediaTypeFixed,
		MediaFlags:       MediaFlagImage,
		CompressionLevel: CompressionNone,
		GUID:             uuid.New(),
	}
}
