package sections

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"hash/adler32"
	"io"

	"github.com/pkg/errors"
)

// Digest is the `digest` section payload: raw MD5 + SHA-1 (spec.md §6.1).
type Digest struct {
	MD5     [16]byte
	SHA1    [20]byte
	Padding [40]byte
}

func ReadDigest(r io.Reader) (Digest, error) {
	body := make([]byte, 16+20+40)
	if _, err := io.ReadFull(r, body); err != nil {
		return Digest{}, errors.Wrap(err, "sections: read digest")
	}
	var crc uint32
	if err := binary.Read(r, binary.LittleEndian, &crc); err != nil {
		return Digest{}, errors.Wrap(err, "sections: read digest crc")
	}
	var d Digest
	copy(d.MD5[:], body[0:16])
	copy(d.SHA1[:], body[16:36])
	copy(d.Padding[:], body[36:76])
	if adler32.Checksum(body) != crc {
		return d, ErrDescriptorCRC
	}
	return d, nil
}

func WriteDigest(w io.Writer, d Digest) error {
	var body bytes.Buffer
	body.Write(d.MD5[:])
	body.Write(d.SHA1[:])
	body.Write(d.Padding[:])
	if _, err := w.Write(body.Bytes()); err != nil {
		return errors.Wrap(err, "sections: write digest")
	}
	return binary.Write(w, binary.LittleEndian, adler32.Checksum(body.Bytes()))
}

// Hash is the legacy `hash` section payload: MD5 + a 16-byte field
// observed to sometimes duplicate the MD5 and sometimes be zero
// (spec.md §9 open question — preserved verbatim on read, zeroed on
// fresh creation).
type Hash struct {
	MD5     [16]byte
	Unknown [16]byte
}

func ReadHash(r io.Reader) (Hash, error) {
	body := make([]byte, 16+16)
	if _, err := io.ReadFull(r, body); err != nil {
		return Hash{}, errors.Wrap(err, "sections: read hash")
	}
	var crc uint32
	if err := binary.Read(r, binary.LittleEndian, &crc); err != nil {
		return Hash{}, errors.Wrap(err, "sections: read hash crc")
	}
	var h Hash
	copy(h.MD5[:], body[0:16])
	copy(h.Unknown[:], body[16:32])
	if adler32.Checksum(body) != crc {
		return h, ErrDescriptorCRC
	}
	return h, nil
}

func WriteHash(w io.Writer, h Hash) error {
	var body bytes.Buffer
	body.Write(h.MD5[:])
	body.Write(h.Unknown[:])
	if _, err := w.Write(body.Bytes()); err != nil {
		return errors.Wrap(err, "sections: write hash")
	}
	return binary.Write(w, binary.LittleEndian, adler32.Checksum(body.Bytes()))
}

// RangeEntry is one (first_sector, sector_count) pair as stored in an
// `error2` or `session` section.
type RangeEntry struct {
	FirstSector uint32
	SectorCount uint32
}

// rangeHeaderPadding is the padding length of the error2/session
// header: spec.md §6.1 gives "512-8-4" for error2; session's exact
// padding isn't specified ("analogous"), so the same header shape is
// reused for both (spec.md §9 — resolved, not re-litigated).
const rangeHeaderPadding = 512 - 8 - 4

// ReadRangeTable reads an error2/session payload.
func ReadRangeTable(r io.Reader) ([]RangeEntry, error) {
	var amount uint32
	if err := binary.Read(r, binary.LittleEndian, &amount); err != nil {
		return nil, errors.Wrap(err, "sections: read range amount")
	}
	padding := make([]byte, rangeHeaderPadding)
	if _, err := io.ReadFull(r, padding); err != nil {
		return nil, errors.Wrap(err, "sections: read range header padding")
	}
	var headerCRC uint32
	if err := binary.Read(r, binary.LittleEndian, &headerCRC); err != nil {
		return nil, errors.Wrap(err, "sections: read range header crc")
	}

	entries := make([]RangeEntry, amount)
	entriesBuf := make([]byte, int(amount)*8)
	if _, err := io.ReadFull(r, entriesBuf); err != nil {
		return nil, errors.Wrap(err, "sections: read range entries")
	}
	for i := range entries {
		entries[i].FirstSector = binary.LittleEndian.Uint32(entriesBuf[i*8:])
		entries[i].SectorCount = binary.LittleEndian.Uint32(entriesBuf[i*8+4:])
	}
	var entriesCRC uint32
	if err := binary.Read(r, binary.LittleEndian, &entriesCRC); err != nil {
		return nil, errors.Wrap(err, "sections: read range entries crc")
	}
	if adler32.Checksum(entriesBuf) != entriesCRC {
		return entries, ErrDescriptorCRC
	}
	_ = headerCRC
	return entries, nil
}

// WriteRangeTable encodes an error2/session payload.
func WriteRangeTable(w io.Writer, entries []RangeEntry) error {
	var header bytes.Buffer
	binary.Write(&header, binary.LittleEndian, uint32(len(entries)))
	header.Write(make([]byte, rangeHeaderPadding))
	if _, err := w.Write(header.Bytes()); err != nil {
		return errors.Wrap(err, "sections: write range header")
	}
	if err := binary.Write(w, binary.LittleEndian, adler32.Checksum(header.Bytes())); err != nil {
		return errors.Wrap(err, "sections: write range header crc")
	}

	entriesBuf := make([]byte, len(entries)*8)
	for i, e := range entries {
		binary.LittleEndian.PutUint32(entriesBuf[i*8:], e.FirstSector)
		binary.LittleEndian.PutUint32(entriesBuf[i*8+4:], e.SectorCount)
	}
	if _, err := w.Write(entriesBuf); err != nil {
		return errors.Wrap(err, "sections: write range entries")
	}
	return binary.Write(w, binary.LittleEndian, adler32.Checksum(entriesBuf))
}

// ReadCompressedBlob inflates a zlib-compressed blob (used by
// xheader/xhash) and verifies the trailing Adler-32.
func ReadCompressedBlob(r io.Reader, compressedSize int) ([]byte, error) {
	compressed := make([]byte, compressedSize)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, errors.Wrap(err, "sections: read compressed blob")
	}
	var crc uint32
	if err := binary.Read(r, binary.LittleEndian, &crc); err != nil {
		return nil, errors.Wrap(err, "sections: read compressed blob crc")
	}
	if adler32.Checksum(compressed) != crc {
		return nil, ErrDescriptorCRC
	}
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, errors.Wrap(err, "sections: inflate blob")
	}
	defer zr.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(zr); err != nil {
		return nil, errors.Wrap(err, "sections: inflate blob")
	}
	return out.Bytes(), nil
}

// WriteCompressedBlob deflates data and writes it plus its trailing
// Adler-32, as used by xheader/xhash.
func WriteCompressedBlob(w io.Writer, data []byte) error {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return errors.Wrap(err, "sections: deflate blob")
	}
	if err := zw.Close(); err != nil {
		return errors.Wrap(err, "sections: deflate blob")
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "sections: write compressed blob")
	}
	return binary.Write(w, binary.LittleEndian, adler32.Checksum(buf.Bytes()))
}
