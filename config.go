package ewf

import (
	"log/slog"

	"github.com/laenix/goewf/internal/sections"
)

// Config controls read-path behavior (spec.md §4.P). The core takes
// no flags/env vars directly — that belongs to an out-of-scope CLI
// collaborator.
type Config struct {
	// CacheSize is the chunk cache capacity (spec.md §4.E). Defaults
	// to 8 when <= 0.
	CacheSize int

	// MaxOpenFiles bounds the segment-file handle pool (spec.md §4.A).
	// Defaults to segio.DefaultMaxOpenFiles when <= 0.
	MaxOpenFiles int

	// WipeOnError zeroes a chunk's returned bytes when its CRC fails
	// (spec.md §4.D, §4.G).
	WipeOnError bool

	// Logger receives read-path diagnostic events (table/table2
	// mismatches, CRC errors, segments missing a terminator). Format
	// auto-upgrade notices go to WriteConfig.Logger. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// WriteConfig controls write-path behavior (spec.md §4.F, §4.H).
type WriteConfig struct {
	Format           Format
	CompressionLevel CompressionLevel
	SegmentFileSize  int64
	SectorsPerChunk  uint32
	BytesPerSector   uint32
	ErrorGranularity uint32

	// CompressEmptyBlock, when true and CompressionLevel is
	// CompressionNone, still stores an "empty-block compressible"
	// chunk (all bytes equal) compressed, to save space (spec.md §4.D).
	CompressEmptyBlock bool

	// CompatAutoUpgrade enables the EnCase2->EnCase3 auto-upgrade
	// shim (spec.md §9), default true.
	CompatAutoUpgrade bool

	Codepage sections.Codepage

	Logger *slog.Logger
}

// DefaultWriteConfig returns a WriteConfig matching spec.md's default
// geometry and EnCase6 wire format.
func DefaultWriteConfig() WriteConfig {
	return WriteConfig{
		Format:            FormatEnCase6,
		CompressionLevel:  CompressionNone,
		SegmentFileSize:   DefaultSegmentFileSize,
		SectorsPerChunk:   DefaultSectorsPerChunk,
		BytesPerSector:    DefaultBytesPerSector,
		CompatAutoUpgrade: true,
		Codepage:          sections.CodepageASCII,
	}
}

func (c WriteConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
