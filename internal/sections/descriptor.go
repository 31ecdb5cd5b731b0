// Package sections implements the EWF section codec (spec.md §4.B,
// §6.1): the 76-byte section descriptor plus the typed payload layouts
// for every recognized section kind.
package sections

import (
	"bytes"
	"encoding/binary"
	"hash/adler32"
	"io"

	"github.com/pkg/errors"
)

// DescriptorSize is the fixed size of a section descriptor.
const DescriptorSize = 76

// FileHeaderSize is the fixed size of the 13-byte segment file header.
const FileHeaderSize = 13

// Kind identifies a section's type string.
type Kind string

const (
	KindHeader  Kind = "header"
	KindHeader2 Kind = "header2"
	KindXHeader Kind = "xheader"
	KindVolume  Kind = "volume"
	KindDisk    Kind = "disk"
	KindData    Kind = "data"
	KindSectors Kind = "sectors"
	KindTable   Kind = "table"
	KindTable2  Kind = "table2"
	KindNext    Kind = "next"
	KindDone    Kind = "done"
	KindError2  Kind = "error2"
	KindSession Kind = "session"
	KindDigest  Kind = "digest"
	KindHash    Kind = "hash"
	KindXHash   Kind = "xhash"
	KindLtree   Kind = "ltree"
	KindLtypes  Kind = "ltypes"
)

// Signature is the magic at the start of a segment file. Standard EWF
// uses EVFSignature; the LVF/LEF variants substitute the first 3
// bytes (spec.md §6.1).
var (
	EVFSignature = [8]byte{'E', 'V', 'F', 0x09, 0x0d, 0x0a, 0xff, 0x00}
	LVFSignature = [8]byte{'L', 'V', 'F', 0x09, 0x0d, 0x0a, 0xff, 0x00}
	LEFSignature = [8]byte{'L', 'E', 'F', 0x09, 0x0d, 0x0a, 0xff, 0x00}
)

// FileHeader is the 13-byte header that starts every segment file.
type FileHeader struct {
	Signature     [8]byte
	FieldsStart   uint8
	SegmentNumber uint16
	FieldsEnd     uint16
}

// ErrBadSignature is returned when a segment file's magic doesn't
// match any known EWF variant.
var ErrBadSignature = errors.New("sections: unrecognized segment signature")

// ReadFileHeader parses and validates the 13-byte file header.
func ReadFileHeader(r io.Reader) (FileHeader, error) {
	var h FileHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return FileHeader{}, errors.Wrap(err, "sections: read file header")
	}
	switch h.Signature {
	case EVFSignature, LVFSignature, LEFSignature:
	default:
		return FileHeader{}, ErrBadSignature
	}
	return h, nil
}

// WriteFileHeader writes the 13-byte file header for segmentNumber
// using the standard EVF signature.
func WriteFileHeader(w io.Writer, segmentNumber uint16) error {
	h := FileHeader{
		Signature:     EVFSignature,
		FieldsStart:   1,
		SegmentNumber: segmentNumber,
		FieldsEnd:     0,
	}
	return binary.Write(w, binary.LittleEndian, &h)
}

// Descriptor is the 76-byte section header that precedes every
// section's payload.
type Descriptor struct {
	Type       [16]byte
	NextOffset uint64
	Size       uint64
	Padding    [40]byte
	CRC        uint32
}

// NewDescriptor builds a zeroed descriptor for kind.
func NewDescriptor(kind Kind) Descriptor {
	var d Descriptor
	copy(d.Type[:], kind)
	return d
}

// TypeString returns the NUL-trimmed section type string.
func (d Descriptor) TypeString() string {
	return string(bytes.TrimRight(d.Type[:], "\x00"))
}

// descriptorCRC computes the Adler-32 checksum over the first 72
// bytes of the descriptor (everything but the CRC field itself).
func descriptorCRC(d Descriptor) uint32 {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, d.Type)
	binary.Write(&buf, binary.LittleEndian, d.NextOffset)
	binary.Write(&buf, binary.LittleEndian, d.Size)
	binary.Write(&buf, binary.LittleEndian, d.Padding)
	return adler32.Checksum(buf.Bytes())
}

// ErrDescriptorCRC is returned when a descriptor's checksum doesn't
// match its contents (spec.md §7 Kind 6, FormatInvalid).
var ErrDescriptorCRC = errors.New("sections: descriptor checksum mismatch")

// ReadDescriptorAt reads and validates the descriptor at offset.
func ReadDescriptorAt(r io.ReaderAt, offset int64) (Descriptor, error) {
	buf := make([]byte, DescriptorSize)
	if _, err := r.ReadAt(buf, offset); err != nil {
		return Descriptor{}, errors.Wrap(err, "sections: read descriptor")
	}
	var d Descriptor
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &d); err != nil {
		return Descriptor{}, errors.Wrap(err, "sections: decode descriptor")
	}
	if d.CRC != descriptorCRC(d) {
		return d, ErrDescriptorCRC
	}
	return d, nil
}

// WriteDescriptorAt patches the CRC and writes the descriptor at
// offset. Callers fill in Type/NextOffset/Size before calling.
func WriteDescriptorAt(w io.WriterAt, offset int64, d Descriptor) error {
	d.CRC = descriptorCRC(d)
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &d); err != nil {
		return errors.Wrap(err, "sections: encode descriptor")
	}
	if _, err := w.WriteAt(buf.Bytes(), offset); err != nil {
		return errors.Wrap(err, "sections: write descriptor")
	}
	return nil
}
