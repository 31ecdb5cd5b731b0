package ewf

import (
	"fmt"
	"hash"
	"log/slog"

	"github.com/google/uuid"

	"github.com/laenix/goewf/internal/cache"
	"github.com/laenix/goewf/internal/chunktable"
	"github.com/laenix/goewf/internal/sectorrange"
	"github.com/laenix/goewf/internal/segio"
	"github.com/laenix/goewf/internal/values"
)

// State is the image handle's lifecycle state (spec.md §3 "Image
// handle").
type State int

const (
	StateClosed State = iota
	StateOpenRead
	StateOpenWrite
	StateOpenReadWrite
	StateFinalized
	StatePoisoned
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpenRead:
		return "OpenRead"
	case StateOpenWrite:
		return "OpenWrite"
	case StateOpenReadWrite:
		return "OpenReadWrite"
	case StateFinalized:
		return "Finalized"
	case StatePoisoned:
		return "Poisoned"
	default:
		return "Unknown"
	}
}

// Handle is the aggregate root: it owns the media model, segment-file
// pools, chunk table, cache and pending writer state (spec.md §3).
type Handle struct {
	state  State
	format Format

	media      Media
	headerVals *values.Table
	hashVals   *values.Table

	acquiryErrors *sectorrange.Table
	crcErrors     *sectorrange.Table
	sessions      *sectorrange.Table

	md5Digest  [16]byte
	sha1Digest [20]byte
	haveDigest bool

	readPool   *segio.Pool
	chunkTable *chunktable.Table

	deltaPool      *segio.Pool
	deltaLocations map[uint64]chunktable.Location
	deltaSeg       *segmentWriter
	deltaBasename  string

	cache *cache.LRU

	cfg      Config
	wcfg     WriteConfig
	logger   *slog.Logger

	valuesInitialized bool // true once header/geometry values are committed (first Write, or finalize with none)

	// write-engine state
	staging       []byte
	chunksWritten uint64
	bytesWritten  uint64
	runningMD5    hash.Hash
	runningSHA1   hash.Hash
	segWriter     *segmentWriter
}

// guardMutableGeometry returns StateImmutable if geometry setters are
// no longer allowed (spec.md §4.K).
func (h *Handle) guardMutableGeometry() error {
	if h.valuesInitialized {
		return newErr(KindStateImmutable, "set", "media geometry is immutable after the first write", nil)
	}
	if h.state == StateOpenRead || h.state == StateClosed || h.state == StateFinalized {
		return newErr(KindStateImmutable, "set", "handle is not open for write", nil)
	}
	return nil
}

// guardMutableHeaderValues returns StateImmutable once the header
// sections have already been serialized to the first segment, since
// changing header_values past that point would silently have no
// effect on disk (spec.md §3 "Header values", §4.F "INIT -> HEADERS").
func (h *Handle) guardMutableHeaderValues() error {
	if h.valuesInitialized {
		return newErr(KindStateImmutable, "set", "header values are immutable after the first write", nil)
	}
	if h.state == StateOpenRead || h.state == StateClosed || h.state == StateFinalized {
		return newErr(KindStateImmutable, "set", "handle is not open for write", nil)
	}
	return nil
}

// State returns the handle's current lifecycle state.
func (h *Handle) State() State { return h.state }

// Format returns the configured wire-format variant.
func (h *Handle) Format() Format { return h.format }

// Media returns a copy of the current media values.
func (h *Handle) Media() Media { return h.media }

// SetSectorsPerChunk sets the chunk geometry. Fails with
// StateImmutable once writing has begun.
func (h *Handle) SetSectorsPerChunk(n uint32) error {
	if err := h.guardMutableGeometry(); err != nil {
		return err
	}
	if n == 0 {
		return newErr(KindArgumentInvalid, "SetSectorsPerChunk", "sectors_per_chunk must be > 0", nil)
	}
	h.media.SectorsPerChunk = n
	return nil
}

// SetBytesPerSector sets the sector size. Fails with StateImmutable
// once writing has begun.
func (h *Handle) SetBytesPerSector(n uint32) error {
	if err := h.guardMutableGeometry(); err != nil {
		return err
	}
	if n == 0 {
		return newErr(KindArgumentInvalid, "SetBytesPerSector", "bytes_per_sector must be > 0", nil)
	}
	h.media.BytesPerSector = n
	return nil
}

// SetMediaSize declares the total media size in bytes, converting to
// total_sectors using the configured bytes_per_sector.
func (h *Handle) SetMediaSize(size uint64) error {
	if err := h.guardMutableGeometry(); err != nil {
		return err
	}
	if h.media.BytesPerSector == 0 {
		return newErr(KindValueMissing, "SetMediaSize", "bytes_per_sector must be set first", nil)
	}
	h.media.TotalSectors = size / uint64(h.media.BytesPerSector)
	return nil
}

// SetMediaType sets the media_type field.
func (h *Handle) SetMediaType(t MediaType) error {
	if err := h.guardMutableGeometry(); err != nil {
		return err
	}
	h.media.MediaType = t
	return nil
}

// SetMediaFlags sets the media_flags field.
func (h *Handle) SetMediaFlags(f MediaFlags) error {
	if err := h.guardMutableGeometry(); err != nil {
		return err
	}
	h.media.MediaFlags = f
	return nil
}

// SetCompressionLevel sets the compression policy recorded in volume.
func (h *Handle) SetCompressionLevel(l CompressionLevel) error {
	if err := h.guardMutableGeometry(); err != nil {
		return err
	}
	h.media.CompressionLevel = l
	return nil
}

// SetGUID sets the media GUID from the first 16 bytes of b. Requires
// len(b) >= 16 (spec.md §9 open question, resolved: truncate to first
// 16 bytes, error on short input).
func (h *Handle) SetGUID(b []byte) error {
	if err := h.guardMutableGeometry(); err != nil {
		return err
	}
	if len(b) < 16 {
		return newErr(KindArgumentOutOfRange, "SetGUID", fmt.Sprintf("guid requires at least 16 bytes, got %d", len(b)), nil)
	}
	id, err := uuid.FromBytes(b[:16])
	if err != nil {
		return newErr(KindArgumentInvalid, "SetGUID", "malformed guid bytes", err)
	}
	h.media.GUID = id
	return nil
}

// SetFormat sets the wire-format variant. Fails with StateImmutable
// once writing has begun.
func (h *Handle) SetFormat(f Format) error {
	if err := h.guardMutableGeometry(); err != nil {
		return err
	}
	h.format = f
	return nil
}

// HeaderValue returns a header value by key.
func (h *Handle) HeaderValue(key string) (string, error) {
	if h.headerVals == nil {
		return "", newErr(KindValueMissing, "HeaderValue", "no header values", nil)
	}
	v, ok := h.headerVals.GetByName(key)
	if !ok {
		return "", newErr(KindValueMissing, "HeaderValue", fmt.Sprintf("no such header value %q", key), nil)
	}
	return v, nil
}

// SetHeaderValue sets a header value by key.
func (h *Handle) SetHeaderValue(key, value string) error {
	if err := h.guardMutableHeaderValues(); err != nil {
		return err
	}
	if h.headerVals == nil {
		h.headerVals = values.New()
	}
	h.headerVals.SetByName(key, value)
	return nil
}

// HashValue returns a hash value (e.g. "MD5", "SHA1") by key.
func (h *Handle) HashValue(key string) (string, error) {
	if h.hashVals == nil {
		return "", newErr(KindValueMissing, "HashValue", "no hash values", nil)
	}
	v, ok := h.hashVals.GetByName(key)
	if !ok {
		return "", newErr(KindValueMissing, "HashValue", fmt.Sprintf("no such hash value %q", key), nil)
	}
	return v, nil
}

// MD5 returns the image's recorded MD5 digest. Fails with
// ValueMissing if the image carries no digest/hash section (read
// path) or hasn't been finalized yet (write path).
func (h *Handle) MD5() ([16]byte, error) {
	if !h.haveDigest {
		return [16]byte{}, newErr(KindValueMissing, "MD5", "no digest available", nil)
	}
	return h.md5Digest, nil
}

// SHA1 returns the image's recorded SHA-1 digest.
func (h *Handle) SHA1() ([20]byte, error) {
	if !h.haveDigest {
		return [20]byte{}, newErr(KindValueMissing, "SHA1", "no digest available", nil)
	}
	return h.sha1Digest, nil
}

// SetHashValue sets a hash value (e.g. "MD5", "SHA1") by key.
func (h *Handle) SetHashValue(key, value string) error {
	if h.state == StateOpenRead {
		return newErr(KindStateImmutable, "SetHashValue", "handle is read-only", nil)
	}
	if h.hashVals == nil {
		h.hashVals = values.New()
	}
	h.hashVals.SetByName(key, value)
	return nil
}

// AcquiryErrors returns the acquiry-error sector-range table.
func (h *Handle) AcquiryErrors() *sectorrange.Table { return h.acquiryErrors }

// CRCErrors returns the CRC-error sector-range table.
func (h *Handle) CRCErrors() *sectorrange.Table { return h.crcErrors }

// Sessions returns the optical-session sector-range table.
func (h *Handle) Sessions() *sectorrange.Table { return h.sessions }

func (h *Handle) log() *slog.Logger {
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}

// Close finalizes (if writing) and releases all resources held by the
// handle.
func (h *Handle) Close() error {
	if h.deltaSeg != nil {
		if err := h.FinalizeDelta(); err != nil {
			_ = h.closePools()
			h.state = StatePoisoned
			return err
		}
	}

	switch h.state {
	case StateClosed, StateFinalized:
		return nil
	case StateOpenWrite, StateOpenReadWrite:
		if err := h.finalizeWrite(); err != nil {
			h.state = StatePoisoned
			_ = h.closePools()
			return err
		}
	}
	err := h.closePools()
	h.state = StateFinalized
	return err
}

func (h *Handle) closePools() error {
	var firstErr error
	if h.readPool != nil {
		if err := h.readPool.CloseAll(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if h.deltaPool != nil {
		if err := h.deltaPool.CloseAll(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
