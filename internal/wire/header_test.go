package wire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPDHeaderPut(t *testing.T) {
	h := PDHeader{
		SequenceCounter: 0x01020304,
		ProtocolVersion: ProtocolVersion,
		MsgType:         MsgPd,
		ComID:           12345,
		EtbTopoCnt:      7,
		OpTrnTopoCnt:    9,
		DatasetLength:   16,
	}

	b := make([]byte, PDHeaderSize)
	require.NoError(t, h.Put(b))

	// Sequence counter, big-endian
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, b[0:4])
	// Protocol version and message type
	assert.Equal(t, []byte{0x01, 0x00}, b[4:6])
	assert.Equal(t, []byte{'P', 'd'}, b[6:8])
	// ComId 12345 = 0x3039
	assert.Equal(t, []byte{0x00, 0x00, 0x30, 0x39}, b[8:12])
	// Topo counters
	assert.Equal(t, uint32(7), binary.BigEndian.Uint32(b[12:16]))
	assert.Equal(t, uint32(9), binary.BigEndian.Uint32(b[16:20]))
	// Dataset length
	assert.Equal(t, uint32(16), binary.BigEndian.Uint32(b[20:24]))

	// FCS is little-endian over the first 36 octets
	want := CRC32(CRCSeed, b[0:36])
	assert.Equal(t, want, binary.LittleEndian.Uint32(b[36:40]))
}

func TestPDHeaderRoundTrip(t *testing.T) {
	h := PDHeader{
		SequenceCounter: 42,
		ProtocolVersion: ProtocolVersion,
		MsgType:         MsgPr,
		ComID:           30,
		DatasetLength:   4,
		ReplyComID:      31,
		ReplyIPAddress:  0x0A000002, // 10.0.0.2
	}

	b := make([]byte, PDHeaderSize)
	require.NoError(t, h.Put(b))

	off := 0
	got, err := ParsePDHeader(b, &off)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, PDHeaderSize, off)
}

func TestParsePDHeaderBadCRC(t *testing.T) {
	h := PDHeader{ProtocolVersion: ProtocolVersion, MsgType: MsgPd, ComID: 1}
	b := make([]byte, PDHeaderSize)
	require.NoError(t, h.Put(b))
	b[8] ^= 0xFF // corrupt comId

	off := 0
	_, err := ParsePDHeader(b, &off)
	assert.ErrorIs(t, err, ErrCRC)
	assert.Equal(t, 0, off, "offset must not advance on error")
}

func TestParsePDHeaderTooShort(t *testing.T) {
	off := 0
	_, err := ParsePDHeader(make([]byte, PDHeaderSize-1), &off)
	assert.ErrorIs(t, err, ErrWire)
}

func TestMDHeaderRoundTrip(t *testing.T) {
	h := MDHeader{
		SequenceCounter: 99,
		ProtocolVersion: ProtocolVersion,
		MsgType:         MsgMr,
		ComID:           100,
		EtbTopoCnt:      1,
		DatasetLength:   32,
		ReplyStatus:     0,
		ReplyTimeout:    2_000_000,
		SourceURI:       "devA",
		DestinationURI:  "devB",
	}
	copy(h.SessionID[:], []byte("0123456789abcdef"))

	b := make([]byte, MDHeaderSize)
	require.NoError(t, h.Put(b))

	off := 0
	got, err := ParseMDHeader(b, &off)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, MDHeaderSize, off)
}

func TestMDHeaderURITruncation(t *testing.T) {
	long := make([]byte, 64)
	for i := range long {
		long[i] = 'x'
	}
	h := MDHeader{ProtocolVersion: ProtocolVersion, MsgType: MsgMn, ComID: 1, SourceURI: string(long)}

	b := make([]byte, MDHeaderSize)
	require.NoError(t, h.Put(b))

	off := 0
	got, err := ParseMDHeader(b, &off)
	require.NoError(t, err)
	// Field keeps a terminating zero, so at most 31 octets survive.
	assert.Len(t, got.SourceURI, URISize-1)
}

func TestMDHeaderNegativeReplyStatus(t *testing.T) {
	h := MDHeader{ProtocolVersion: ProtocolVersion, MsgType: MsgMe, ComID: 5, ReplyStatus: -3}
	b := make([]byte, MDHeaderSize)
	require.NoError(t, h.Put(b))

	off := 0
	got, err := ParseMDHeader(b, &off)
	require.NoError(t, err)
	assert.Equal(t, int32(-3), got.ReplyStatus)
}

func TestCheckProtocolVersion(t *testing.T) {
	assert.NoError(t, CheckProtocolVersion(0x0100))
	assert.NoError(t, CheckProtocolVersion(0x0105), "minor version is informational")
	assert.Error(t, CheckProtocolVersion(0x0200))
}
