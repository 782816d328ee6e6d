package wire

import (
	"encoding/binary"
	"fmt"
)

// Protocol version carried in every header. The high byte is the major
// version and must match between peers; the low byte is informational.
const (
	ProtocolVersion   uint16 = 0x0100
	protocolMajorMask uint16 = 0xFF00
)

// Header and packet sizes in octets.
const (
	PDHeaderSize = 40
	MDHeaderSize = 116

	MaxPDDataSize   = 1432
	MaxPDPacketSize = PDHeaderSize + MaxPDDataSize + 4

	MaxMDPacketSize = 65420
	MaxMDDataSize   = MaxMDPacketSize - MDHeaderSize - 4

	// MinPDPacketSize is a bare header; payload and its trailing FCS are
	// only present when DatasetLength > 0.
	MinPDPacketSize = PDHeaderSize
)

// CheckProtocolVersion verifies the major version of a received header.
func CheckProtocolVersion(v uint16) error {
	if v&protocolMajorMask != ProtocolVersion&protocolMajorMask {
		return fmt.Errorf("%w: protocol version 0x%04x, expected major 0x%02x",
			ErrWire, v, ProtocolVersion>>8)
	}
	return nil
}

// PDHeader is the fixed 40-octet process data header. All fields are
// big-endian on the wire except FrameCheckSum, which is little-endian.
type PDHeader struct {
	SequenceCounter uint32
	ProtocolVersion uint16
	MsgType         MsgType
	ComID           uint32
	EtbTopoCnt      uint32
	OpTrnTopoCnt    uint32
	DatasetLength   uint32
	Reserved        uint32
	ReplyComID      uint32 // PD pull request only
	ReplyIPAddress  IPAddr // PD pull request only
}

// Put serializes h into b[0:PDHeaderSize], computing the FCS over the 36
// header octets that precede it.
func (h *PDHeader) Put(b []byte) error {
	if len(b) < PDHeaderSize {
		return fmt.Errorf("%w: buffer too small for PD header (%d < %d)",
			ErrWire, len(b), PDHeaderSize)
	}
	binary.BigEndian.PutUint32(b[0:4], h.SequenceCounter)
	binary.BigEndian.PutUint16(b[4:6], h.ProtocolVersion)
	binary.BigEndian.PutUint16(b[6:8], uint16(h.MsgType))
	binary.BigEndian.PutUint32(b[8:12], h.ComID)
	binary.BigEndian.PutUint32(b[12:16], h.EtbTopoCnt)
	binary.BigEndian.PutUint32(b[16:20], h.OpTrnTopoCnt)
	binary.BigEndian.PutUint32(b[20:24], h.DatasetLength)
	binary.BigEndian.PutUint32(b[24:28], h.Reserved)
	binary.BigEndian.PutUint32(b[28:32], h.ReplyComID)
	binary.BigEndian.PutUint32(b[32:36], uint32(h.ReplyIPAddress))
	binary.LittleEndian.PutUint32(b[36:40], CRC32(CRCSeed, b[0:36]))
	return nil
}

// ParsePDHeader parses a PD header from msg at *off, verifying the FCS,
// and advances *off past it. Message type, protocol version and topo
// counters are NOT checked here; the engine counts those separately.
func ParsePDHeader(msg []byte, off *int) (PDHeader, error) {
	if *off < 0 || *off+PDHeaderSize > len(msg) {
		return PDHeader{}, fmt.Errorf("%w: short PD frame (%d octets)", ErrWire, len(msg)-*off)
	}
	b := msg[*off : *off+PDHeaderSize]
	got := binary.LittleEndian.Uint32(b[36:40])
	if want := CRC32(CRCSeed, b[0:36]); got != want {
		return PDHeader{}, fmt.Errorf("%w: PD header FCS 0x%08x, computed 0x%08x", ErrCRC, got, want)
	}
	h := PDHeader{
		SequenceCounter: binary.BigEndian.Uint32(b[0:4]),
		ProtocolVersion: binary.BigEndian.Uint16(b[4:6]),
		MsgType:         MsgType(binary.BigEndian.Uint16(b[6:8])),
		ComID:           binary.BigEndian.Uint32(b[8:12]),
		EtbTopoCnt:      binary.BigEndian.Uint32(b[12:16]),
		OpTrnTopoCnt:    binary.BigEndian.Uint32(b[16:20]),
		DatasetLength:   binary.BigEndian.Uint32(b[20:24]),
		Reserved:        binary.BigEndian.Uint32(b[24:28]),
		ReplyComID:      binary.BigEndian.Uint32(b[28:32]),
		ReplyIPAddress:  IPAddr(binary.BigEndian.Uint32(b[32:36])),
	}
	*off += PDHeaderSize
	return h, nil
}

// MDHeader is the fixed 116-octet message data header.
type MDHeader struct {
	SequenceCounter uint32
	ProtocolVersion uint16
	MsgType         MsgType
	ComID           uint32
	EtbTopoCnt      uint32
	OpTrnTopoCnt    uint32
	DatasetLength   uint32
	ReplyStatus     int32
	SessionID       [16]byte
	ReplyTimeout    uint32 // microseconds
	SourceURI       string // user part, at most 31 octets on the wire
	DestinationURI  string
}

// URISize is the fixed on-wire size of the source and destination URI
// fields. URIs are zero padded; longer values are truncated.
const URISize = 32

// Put serializes h into b[0:MDHeaderSize], computing the FCS over the
// 112 header octets that precede it.
func (h *MDHeader) Put(b []byte) error {
	if len(b) < MDHeaderSize {
		return fmt.Errorf("%w: buffer too small for MD header (%d < %d)",
			ErrWire, len(b), MDHeaderSize)
	}
	binary.BigEndian.PutUint32(b[0:4], h.SequenceCounter)
	binary.BigEndian.PutUint16(b[4:6], h.ProtocolVersion)
	binary.BigEndian.PutUint16(b[6:8], uint16(h.MsgType))
	binary.BigEndian.PutUint32(b[8:12], h.ComID)
	binary.BigEndian.PutUint32(b[12:16], h.EtbTopoCnt)
	binary.BigEndian.PutUint32(b[16:20], h.OpTrnTopoCnt)
	binary.BigEndian.PutUint32(b[20:24], h.DatasetLength)
	binary.BigEndian.PutUint32(b[24:28], uint32(h.ReplyStatus))
	copy(b[28:44], h.SessionID[:])
	binary.BigEndian.PutUint32(b[44:48], h.ReplyTimeout)
	putURI(b[48:80], h.SourceURI)
	putURI(b[80:112], h.DestinationURI)
	binary.LittleEndian.PutUint32(b[112:116], CRC32(CRCSeed, b[0:112]))
	return nil
}

// ParseMDHeader parses an MD header from msg at *off, verifying the FCS,
// and advances *off past it.
func ParseMDHeader(msg []byte, off *int) (MDHeader, error) {
	if *off < 0 || *off+MDHeaderSize > len(msg) {
		return MDHeader{}, fmt.Errorf("%w: short MD frame (%d octets)", ErrWire, len(msg)-*off)
	}
	b := msg[*off : *off+MDHeaderSize]
	got := binary.LittleEndian.Uint32(b[112:116])
	if want := CRC32(CRCSeed, b[0:112]); got != want {
		return MDHeader{}, fmt.Errorf("%w: MD header FCS 0x%08x, computed 0x%08x", ErrCRC, got, want)
	}
	h := MDHeader{
		SequenceCounter: binary.BigEndian.Uint32(b[0:4]),
		ProtocolVersion: binary.BigEndian.Uint16(b[4:6]),
		MsgType:         MsgType(binary.BigEndian.Uint16(b[6:8])),
		ComID:           binary.BigEndian.Uint32(b[8:12]),
		EtbTopoCnt:      binary.BigEndian.Uint32(b[12:16]),
		OpTrnTopoCnt:    binary.BigEndian.Uint32(b[16:20]),
		DatasetLength:   binary.BigEndian.Uint32(b[20:24]),
		ReplyStatus:     int32(binary.BigEndian.Uint32(b[24:28])),
		ReplyTimeout:    binary.BigEndian.Uint32(b[44:48]),
		SourceURI:       uriString(b[48:80]),
		DestinationURI:  uriString(b[80:112]),
	}
	copy(h.SessionID[:], b[28:44])
	*off += MDHeaderSize
	return h, nil
}

// putURI writes a zero-padded URI user part, always leaving the last
// octet zero so the field stays NUL terminated.
func putURI(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	n := len(s)
	if n > len(dst)-1 {
		n = len(dst) - 1
	}
	copy(dst, s[:n])
}

// uriString trims a zero-padded URI field.
func uriString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
