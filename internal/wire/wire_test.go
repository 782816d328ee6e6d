package wire

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMsgTypeString(t *testing.T) {
	assert.Equal(t, "Pd", MsgPd.String())
	assert.Equal(t, "Pr", MsgPr.String())
	assert.Equal(t, "Mc", MsgMc.String())
}

func TestMsgTypeClasses(t *testing.T) {
	assert.True(t, MsgPd.IsPD())
	assert.True(t, MsgPr.IsPD())
	assert.False(t, MsgPd.IsMD())
	assert.True(t, MsgMr.IsMD())
	assert.True(t, MsgMe.IsMD())
	assert.False(t, MsgType(0x1234).Valid())
}

func TestIPAddrConversions(t *testing.T) {
	a, err := ParseIP("10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, IPAddr(0x0A000002), a)
	assert.Equal(t, "10.0.0.2", a.String())
	assert.Equal(t, net.IPv4(10, 0, 0, 2).To4(), a.ToNet())
}

func TestIPAddrParseErrors(t *testing.T) {
	_, err := ParseIP("not-an-ip")
	assert.ErrorIs(t, err, ErrWire)

	_, err = ParseIP("fe80::1")
	assert.ErrorIs(t, err, ErrWire)

	a, err := ParseIP("")
	require.NoError(t, err)
	assert.Equal(t, IPAddr(0), a)
}

func TestIPAddrMulticast(t *testing.T) {
	mc, _ := ParseIP("239.1.2.3")
	uc, _ := ParseIP("10.0.0.1")
	assert.True(t, mc.IsMulticast())
	assert.False(t, uc.IsMulticast())
}

func TestWireSizes(t *testing.T) {
	assert.Equal(t, PDHeaderSize, PDWireSize(0), "zero payload carries no trailing FCS")
	assert.Equal(t, PDHeaderSize+16+4, PDWireSize(16))
	assert.Equal(t, MDHeaderSize, MDWireSize(0))
	assert.Equal(t, MDHeaderSize+32+4, MDWireSize(32))
}

func TestPayloadCRCRoundTrip(t *testing.T) {
	frame := make([]byte, PDWireSize(8))
	copy(frame[PDHeaderSize:], "payload!")
	require.NoError(t, PutPayloadCRC(frame, PDHeaderSize, 8))
	assert.NoError(t, VerifyPayloadCRC(frame, PDHeaderSize, 8))

	frame[PDHeaderSize] ^= 0x01
	assert.ErrorIs(t, VerifyPayloadCRC(frame, PDHeaderSize, 8), ErrCRC)
}
