// Package marshal implements the TRDP dataset registry and the
// alignment-aware marshalling engine. Datasets describe the typed layout
// of a telegram payload; marshalling converts between the host
// representation (native byte order, naturally aligned) and the
// big-endian wire representation.
package marshal

import "errors"

var (
	// ErrParam flags invalid arguments (nil buffers, zero comId).
	ErrParam = errors.New("marshal: parameter error")
	// ErrComID is returned when no dataset is registered for a comId.
	ErrComID = errors.New("marshal: unknown comId")
	// ErrDataset is returned when a dataset reference cannot be resolved.
	ErrDataset = errors.New("marshal: unknown dataset")
	// ErrShort is returned when a source or destination buffer is
	// exhausted before the dataset is complete.
	ErrShort = errors.New("marshal: buffer too small")
	// ErrDepth is returned when dataset nesting exceeds MaxNesting.
	ErrDepth = errors.New("marshal: dataset nesting too deep")
)

// MaxNesting caps recursive dataset references.
const MaxNesting = 5

// ElementType identifies the type of a dataset element. Values up to 30
// are primitives; greater values reference another dataset by id.
type ElementType uint32

const (
	Boolean8   ElementType = 1
	Char8      ElementType = 2
	UTF16      ElementType = 3
	Int8       ElementType = 4
	Int16      ElementType = 5
	Int32      ElementType = 6
	Int64      ElementType = 7
	UInt8      ElementType = 8
	UInt16     ElementType = 9
	UInt32     ElementType = 10
	UInt64     ElementType = 11
	Real32     ElementType = 12
	Real64     ElementType = 13
	TimeDate32 ElementType = 14
	TimeDate48 ElementType = 15
	TimeDate64 ElementType = 16

	// maxPrimitive is the highest primitive type code; anything above
	// references a dataset id.
	maxPrimitive ElementType = 30
)

// IsPrimitive reports whether t is a primitive type rather than a
// dataset reference.
func (t ElementType) IsPrimitive() bool {
	return t >= Boolean8 && t <= maxPrimitive
}

// primInfo describes the layout of one primitive type.
type primInfo struct {
	wireSize  int // octets on the wire
	hostSize  int // octets in the host image, including trailing padding
	hostAlign int // natural alignment in the host image
}

// primitives holds the layouts of all defined primitive types.
// TimeDate48 is a {sec uint32, ticks uint16} pair: six octets on the
// wire, padded to eight in the host image.
var primitives = map[ElementType]primInfo{
	Boolean8:   {1, 1, 1},
	Char8:      {1, 1, 1},
	UTF16:      {2, 2, 2},
	Int8:       {1, 1, 1},
	Int16:      {2, 2, 2},
	Int32:      {4, 4, 4},
	Int64:      {8, 8, 8},
	UInt8:      {1, 1, 1},
	UInt16:     {2, 2, 2},
	UInt32:     {4, 4, 4},
	UInt64:     {8, 8, 8},
	Real32:     {4, 4, 4},
	Real64:     {8, 8, 8},
	TimeDate32: {4, 4, 4},
	TimeDate48: {6, 8, 4},
	TimeDate64: {8, 8, 4},
}

// Element is one entry of a dataset. A Count of zero marks a
// variable-size array: the element count is taken from the value of the
// preceding integer element and a uint16 length precedes the items on
// the wire.
type Element struct {
	Type  ElementType
	Count uint32
}

// VarSize is the Count value marking a variable-size array.
const VarSize = 0

// Dataset is a registered payload schema.
type Dataset struct {
	ID       uint32
	Elements []Element
}

// ComIDMapping binds a telegram comId to the dataset describing its
// payload.
type ComIDMapping struct {
	ComID     uint32
	DatasetID uint32
}
