package sections

import (
	"bytes"
	"encoding/binary"
	"hash/adler32"
	"io"

	"github.com/pkg/errors"
)

// ChunkOffsetCompressedBit marks a table entry's offset as pointing at
// a compressed chunk (spec.md §6.1 "table payload").
const ChunkOffsetCompressedBit = uint32(1) << 31

// TableHeaderSize is the size of the table header before its entries.
const TableHeaderSize = 4 + 16 + 8 + 4 + 4 // count + padding + base_offset + padding + crc

// Table is the decoded form of a `table`/`table2` section: a base
// offset plus an array of (possibly-compressed) chunk offsets
// relative to it.
type Table struct {
	BaseOffset uint64
	Entries    []uint32 // MSB = compressed, low 31 bits = offset from BaseOffset
}

// EntryOffset returns the absolute file offset of entry i (BaseOffset
// plus the entry's low 31 bits) and its compressed flag.
func (t Table) EntryOffset(i int) (offset uint64, compressed bool) {
	e := t.Entries[i]
	return t.BaseOffset + uint64(e&^ChunkOffsetCompressedBit), e&ChunkOffsetCompressedBit != 0
}

// ReadTable reads a table/table2 payload containing entryCount
// entries, verifying both the header CRC and the trailing entries CRC.
func ReadTable(r io.Reader, entryCount uint32) (Table, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return Table{}, errors.Wrap(err, "sections: read table count")
	}
	var padding1 [16]byte
	if err := binary.Read(r, binary.LittleEndian, &padding1); err != nil {
		return Table{}, errors.Wrap(err, "sections: read table padding")
	}
	var baseOffset uint64
	if err := binary.Read(r, binary.LittleEndian, &baseOffset); err != nil {
		return Table{}, errors.Wrap(err, "sections: read table base offset")
	}
	var padding2 [4]byte
	if err := binary.Read(r, binary.LittleEndian, &padding2); err != nil {
		return Table{}, errors.Wrap(err, "sections: read table padding2")
	}
	var headerCRC uint32
	if err := binary.Read(r, binary.LittleEndian, &headerCRC); err != nil {
		return Table{}, errors.Wrap(err, "sections: read table header crc")
	}

	var headerBuf bytes.Buffer
	binary.Write(&headerBuf, binary.LittleEndian, count)
	binary.Write(&headerBuf, binary.LittleEndian, padding1)
	binary.Write(&headerBuf, binary.LittleEndian, baseOffset)
	binary.Write(&headerBuf, binary.LittleEndian, padding2)
	headerOK := adler32.Checksum(headerBuf.Bytes()) == headerCRC

	entries := make([]uint32, entryCount)
	entriesBuf := make([]byte, int(entryCount)*4)
	if _, err := io.ReadFull(r, entriesBuf); err != nil {
		return Table{}, errors.Wrap(err, "sections: read table entries")
	}
	for i := range entries {
		entries[i] = binary.LittleEndian.Uint32(entriesBuf[i*4:])
	}

	var entriesCRC uint32
	if err := binary.Read(r, binary.LittleEndian, &entriesCRC); err != nil {
		return Table{}, errors.Wrap(err, "sections: read table entries crc")
	}

	t := Table{BaseOffset: baseOffset, Entries: entries}
	if !headerOK || adler32.Checksum(entriesBuf) != entriesCRC {
		return t, ErrDescriptorCRC
	}
	return t, nil
}

// WriteTable encodes t to w, computing both CRCs.
func WriteTable(w io.Writer, t Table) error {
	var headerBuf bytes.Buffer
	binary.Write(&headerBuf, binary.LittleEndian, uint32(len(t.Entries)))
	var padding1 [16]byte
	binary.Write(&headerBuf, binary.LittleEndian, padding1)
	binary.Write(&headerBuf, binary.LittleEndian, t.BaseOffset)
	var padding2 [4]byte
	binary.Write(&headerBuf, binary.LittleEndian, padding2)

	if _, err := w.Write(headerBuf.Bytes()); err != nil {
		return errors.Wrap(err, "sections: write table header")
	}
	if err := binary.Write(w, binary.LittleEndian, adler32.Checksum(headerBuf.Bytes())); err != nil {
		return errors.Wrap(err, "sections: write table header crc")
	}

	entriesBuf := make([]byte, len(t.Entries)*4)
	for i, e := range t.Entries {
		binary.LittleEndian.PutUint32(entriesBuf[i*4:], e)
	}
	if _, err := w.Write(entriesBuf); err != nil {
		return errors.Wrap(err, "sections: write table entries")
	}
	return binary.Write(w, binary.LittleEndian, adler32.Checksum(entriesBuf))
}

// Equal reports whether two tables encode identical chunk offsets,
// used to verify table2 redundancy (spec.md §3 invariant 2).
func Equal(a, b Table) bool {
	if a.BaseOffset != b.BaseOffset || len(a.Entries) != len(b.Entries) {
		return false
	}
	for i := range a.Entries {
		if a.Entries[i] != b.Entries[i] {
			return false
		}
	}
	return true
}
