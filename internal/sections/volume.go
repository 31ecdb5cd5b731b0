package sections

import (
	"bytes"
	"encoding/binary"
	"hash/adler32"
	"io"

	"github.com/pkg/errors"
)

// VolumeBodySize is the fixed size of the volume/disk payload body,
// not counting its trailing CRC (spec.md §6.1).
const VolumeBodySize = 1052

// Volume is the bit-exact layout of the `volume`/`disk` section body
// (spec.md §6.1).
type Volume struct {
	MediaType             uint8
	Reserved1             [3]byte
	AmountOfChunks        uint32
	SectorsPerChunk       uint32
	BytesPerSector        uint32
	AmountOfSectors       uint32
	CHSCylinders          uint32
	CHSHeads              uint32
	CHSSectors            uint32
	MediaFlags            uint8
	Unknown1              [3]byte
	PalmVolumeStartSector uint32
	SmartLogsStartSector  uint32
	CompressionLevel      uint8
	Unknown2              [3]byte
	ErrorGranularity      uint32
	Reserved2             uint32
	GUID                  [16]byte
	Padding               [VolumeBodySize - 72]byte
}

// ReadVolume reads and CRC-verifies a volume/disk payload.
func ReadVolume(r io.Reader) (Volume, error) {
	body := make([]byte, VolumeBodySize)
	if _, err := io.ReadFull(r, body); err != nil {
		return Volume{}, errors.Wrap(err, "sections: read volume body")
	}
	var crc uint32
	if err := binary.Read(r, binary.LittleEndian, &crc); err != nil {
		return Volume{}, errors.Wrap(err, "sections: read volume crc")
	}

	var v Volume
	if err := binary.Read(bytes.NewReader(body), binary.LittleEndian, &v); err != nil {
		return Volume{}, errors.Wrap(err, "sections: decode volume")
	}
	if adler32.Checksum(body) != crc {
		return v, ErrDescriptorCRC
	}
	return v, nil
}

// WriteVolume encodes v and its trailing CRC to w.
func WriteVolume(w io.Writer, v Volume) error {
	var body bytes.Buffer
	if err := binary.Write(&body, binary.LittleEndian, &v); err != nil {
		return errors.Wrap(err, "sections: encode volume")
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return errors.Wrap(err, "sections: write volume body")
	}
	return binary.Write(w, binary.LittleEndian, adler32.Checksum(body.Bytes()))
}
