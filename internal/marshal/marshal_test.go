package marshal

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRegistry builds a registry with a flat dataset (1000), a nested
// dataset (1001 containing 1000) and a variable-array dataset (1002).
func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(
		[]*Dataset{
			{ID: 1000, Elements: []Element{
				{Type: UInt8, Count: 1},
				{Type: UInt16, Count: 1},
				{Type: UInt32, Count: 1},
			}},
			{ID: 1001, Elements: []Element{
				{Type: UInt32, Count: 1},
				{Type: ElementType(1000), Count: 2},
			}},
			{ID: 1002, Elements: []Element{
				{Type: UInt16, Count: 1},         // carries the array length
				{Type: UInt32, Count: VarSize},   // variable array
			}},
		},
		[]ComIDMapping{
			{ComID: 12345, DatasetID: 1000},
			{ComID: 12346, DatasetID: 1001},
			{ComID: 12347, DatasetID: 1002},
		},
	)
	require.NoError(t, err)
	return r
}

// hostImage1000 builds the naturally aligned host image of dataset 1000:
// uint8, pad, uint16, uint32.
func hostImage1000(a uint8, b uint16, c uint32) []byte {
	img := make([]byte, 8)
	img[0] = a
	binary.NativeEndian.PutUint16(img[2:], b)
	binary.NativeEndian.PutUint32(img[4:], c)
	return img
}

func TestMarshalFlat(t *testing.T) {
	r := testRegistry(t)

	dst := make([]byte, 64)
	n, err := r.Marshal(12345, hostImage1000(0xAB, 0x1234, 0xDEADBEEF), dst)
	require.NoError(t, err)

	// Wire: tightly packed, big-endian: 1 + 2 + 4 octets.
	require.Equal(t, 7, n)
	assert.Equal(t, []byte{0xAB, 0x12, 0x34, 0xDE, 0xAD, 0xBE, 0xEF}, dst[:n])
}

func TestUnmarshalFlat(t *testing.T) {
	r := testRegistry(t)

	wire := []byte{0xAB, 0x12, 0x34, 0xDE, 0xAD, 0xBE, 0xEF}
	dst := make([]byte, 16)
	n, err := r.Unmarshal(12345, wire, dst)
	require.NoError(t, err)

	assert.Equal(t, 8, n, "host image includes alignment padding")
	assert.Equal(t, hostImage1000(0xAB, 0x1234, 0xDEADBEEF), dst[:n])
}

func TestMarshalRoundTrip(t *testing.T) {
	r := testRegistry(t)

	src := hostImage1000(7, 1024, 99999)
	wire := make([]byte, 64)
	wn, err := r.Marshal(12345, src, wire)
	require.NoError(t, err)

	back := make([]byte, 16)
	hn, err := r.Unmarshal(12345, wire[:wn], back)
	require.NoError(t, err)
	assert.Equal(t, src, back[:hn])
}

func TestMarshalNested(t *testing.T) {
	r := testRegistry(t)

	// uint32 header + two instances of dataset 1000.
	src := make([]byte, 0, 24)
	hdr := make([]byte, 4)
	binary.NativeEndian.PutUint32(hdr, 42)
	src = append(src, hdr...)
	src = append(src, hostImage1000(1, 2, 3)...)
	src = append(src, hostImage1000(4, 5, 6)...)

	wire := make([]byte, 64)
	n, err := r.Marshal(12346, src, wire)
	require.NoError(t, err)
	assert.Equal(t, 4+7+7, n)

	back := make([]byte, 32)
	hn, err := r.Unmarshal(12346, wire[:n], back)
	require.NoError(t, err)
	assert.Equal(t, src, back[:hn])
}

func TestMarshalVariableArray(t *testing.T) {
	r := testRegistry(t)

	// Host: uint16 count = 3, pad, then three uint32 items.
	src := make([]byte, 16)
	binary.NativeEndian.PutUint16(src[0:], 3)
	binary.NativeEndian.PutUint32(src[4:], 10)
	binary.NativeEndian.PutUint32(src[8:], 20)
	binary.NativeEndian.PutUint32(src[12:], 30)

	wire := make([]byte, 64)
	n, err := r.Marshal(12347, src, wire)
	require.NoError(t, err)

	// Wire: uint16 count, uint16 length prefix, 3 x uint32.
	require.Equal(t, 2+2+12, n)
	assert.Equal(t, uint16(3), binary.BigEndian.Uint16(wire[0:2]))
	assert.Equal(t, uint16(3), binary.BigEndian.Uint16(wire[2:4]))
	assert.Equal(t, uint32(10), binary.BigEndian.Uint32(wire[4:8]))
	assert.Equal(t, uint32(30), binary.BigEndian.Uint32(wire[12:16]))

	back := make([]byte, 16)
	hn, err := r.Unmarshal(12347, wire[:n], back)
	require.NoError(t, err)
	assert.Equal(t, src, back[:hn])
}

func TestMarshalDepthLimit(t *testing.T) {
	// A dataset referencing itself overruns the nesting cap.
	r, err := NewRegistry(
		[]*Dataset{{ID: 100, Elements: []Element{{Type: ElementType(100), Count: 1}}}},
		[]ComIDMapping{{ComID: 1, DatasetID: 100}},
	)
	require.NoError(t, err)

	_, err = r.Marshal(1, make([]byte, 64), make([]byte, 64))
	assert.ErrorIs(t, err, ErrDepth)
}

func TestMarshalBufferTooSmall(t *testing.T) {
	r := testRegistry(t)

	_, err := r.Marshal(12345, hostImage1000(1, 2, 3), make([]byte, 3))
	assert.ErrorIs(t, err, ErrShort)

	_, err = r.Marshal(12345, make([]byte, 2), make([]byte, 64))
	assert.ErrorIs(t, err, ErrShort)
}

func TestMarshalUnknownComID(t *testing.T) {
	r := testRegistry(t)
	_, err := r.Marshal(999, make([]byte, 8), make([]byte, 8))
	assert.ErrorIs(t, err, ErrComID)
}

func TestTimeDate48Layout(t *testing.T) {
	r, err := NewRegistry(
		[]*Dataset{{ID: 200, Elements: []Element{{Type: TimeDate48, Count: 1}}}},
		[]ComIDMapping{{ComID: 2, DatasetID: 200}},
	)
	require.NoError(t, err)

	src := make([]byte, 8)
	binary.NativeEndian.PutUint32(src[0:], 0x11223344) // seconds
	binary.NativeEndian.PutUint16(src[4:], 0x5566)     // ticks

	wire := make([]byte, 16)
	n, err := r.Marshal(2, src, wire)
	require.NoError(t, err)
	require.Equal(t, 6, n, "TimeDate48 is six octets on the wire")
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}, wire[:n])

	back := make([]byte, 8)
	hn, err := r.Unmarshal(2, wire[:n], back)
	require.NoError(t, err)
	assert.Equal(t, 8, hn, "host image pads TimeDate48 to eight octets")
	assert.Equal(t, src, back[:hn])
}
