package wire

import (
	"encoding/binary"
	"fmt"
)

// Payload FCS handling. A frame whose DatasetLength is greater than zero
// carries a little-endian CRC-32 of the dataset octets directly after
// them. Zero-length payloads carry no trailing FCS.

// PutPayloadCRC computes the FCS of frame[hdrSize:hdrSize+dataLen] and
// stores it after the payload. A zero dataLen is a no-op.
func PutPayloadCRC(frame []byte, hdrSize, dataLen int) error {
	if dataLen == 0 {
		return nil
	}
	if hdrSize+dataLen+4 > len(frame) {
		return fmt.Errorf("%w: frame too small for payload FCS", ErrWire)
	}
	crc := CRC32(CRCSeed, frame[hdrSize:hdrSize+dataLen])
	binary.LittleEndian.PutUint32(frame[hdrSize+dataLen:hdrSize+dataLen+4], crc)
	return nil
}

// VerifyPayloadCRC checks the trailing FCS of a received frame. A zero
// dataLen always verifies.
func VerifyPayloadCRC(frame []byte, hdrSize, dataLen int) error {
	if dataLen == 0 {
		return nil
	}
	if hdrSize+dataLen+4 > len(frame) {
		return fmt.Errorf("%w: frame truncated before payload FCS", ErrWire)
	}
	got := binary.LittleEndian.Uint32(frame[hdrSize+dataLen : hdrSize+dataLen+4])
	if want := CRC32(CRCSeed, frame[hdrSize:hdrSize+dataLen]); got != want {
		return fmt.Errorf("%w: payload FCS 0x%08x, computed 0x%08x", ErrCRC, got, want)
	}
	return nil
}

// PDWireSize returns the on-wire octet count of a PD frame with the
// given payload length.
func PDWireSize(dataLen int) int {
	if dataLen == 0 {
		return PDHeaderSize
	}
	return PDHeaderSize + dataLen + 4
}

// MDWireSize returns the on-wire octet count of an MD frame with the
// given payload length.
func MDWireSize(dataLen int) int {
	if dataLen == 0 {
		return MDHeaderSize
	}
	return MDHeaderSize + dataLen + 4
}
