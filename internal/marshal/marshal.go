package marshal

import (
	"encoding/binary"
	"fmt"
)

// walker carries the marshalling state through nested datasets, the Go
// rendering of the src/dst pointer pair the reference implementation
// threads through its recursion.
type walker struct {
	reg    *Registry
	level  int
	src    []byte
	srcOff int
	dst    []byte
	dstOff int
	// lastCount is the value of the most recently processed scalar
	// integer element. A variable-size array takes its element count
	// from here.
	lastCount uint32
}

// align rounds off up to the next multiple of a.
func align(off, a int) int {
	return (off + a - 1) &^ (a - 1)
}

// Marshal serializes the host image src of the payload registered for
// comID into the wire buffer dst and returns the number of octets
// written. src must hold the naturally aligned, native-endian host
// representation.
func (r *Registry) Marshal(comID uint32, src, dst []byte) (int, error) {
	if comID == 0 || src == nil || dst == nil {
		return 0, fmt.Errorf("%w: Marshal(comId=%d)", ErrParam, comID)
	}
	ds, err := r.Lookup(comID)
	if err != nil {
		return 0, err
	}
	return r.MarshalDataset(ds, src, dst)
}

// MarshalDataset is Marshal for an explicit dataset schema.
func (r *Registry) MarshalDataset(ds *Dataset, src, dst []byte) (int, error) {
	w := &walker{reg: r, src: src, dst: dst}
	if err := w.marshalDS(ds); err != nil {
		return 0, err
	}
	return w.dstOff, nil
}

func (w *walker) marshalDS(ds *Dataset) error {
	w.level++
	defer func() { w.level-- }()
	if w.level > MaxNesting {
		return fmt.Errorf("%w: dataset %d at level %d", ErrDepth, ds.ID, w.level)
	}

	for _, el := range ds.Elements {
		n := int(el.Count)
		if el.Count == VarSize {
			n = int(w.lastCount)
			if n > 0xFFFF {
				return fmt.Errorf("%w: variable array length %d exceeds uint16", ErrParam, n)
			}
			if w.dstOff+2 > len(w.dst) {
				return fmt.Errorf("%w: no room for array length", ErrShort)
			}
			binary.BigEndian.PutUint16(w.dst[w.dstOff:], uint16(n))
			w.dstOff += 2
		}

		if !el.Type.IsPrimitive() {
			sub, err := w.reg.Dataset(uint32(el.Type))
			if err != nil {
				return err
			}
			for range n {
				if err := w.marshalDS(sub); err != nil {
					return err
				}
			}
			continue
		}

		p, ok := primitives[el.Type]
		if !ok {
			return fmt.Errorf("%w: element type %d", ErrParam, el.Type)
		}
		w.srcOff = align(w.srcOff, p.hostAlign)
		if w.srcOff+n*p.hostSize > len(w.src) {
			return fmt.Errorf("%w: host image exhausted (type %d x%d)", ErrShort, el.Type, n)
		}
		if w.dstOff+n*p.wireSize > len(w.dst) {
			return fmt.Errorf("%w: wire buffer exhausted (type %d x%d)", ErrShort, el.Type, n)
		}
		for range n {
			w.marshalPrim(el.Type, p)
		}
		if n == 1 && el.Count == 1 {
			w.noteCount(el.Type, w.src[w.srcOff-p.hostSize:])
		}
	}
	return nil
}

// marshalPrim converts one primitive value from host to wire order.
// Bounds were checked by the caller.
func (w *walker) marshalPrim(t ElementType, p primInfo) {
	s := w.src[w.srcOff:]
	d := w.dst[w.dstOff:]
	switch p.wireSize {
	case 1:
		d[0] = s[0]
	case 2:
		binary.BigEndian.PutUint16(d, binary.NativeEndian.Uint16(s))
	case 4:
		binary.BigEndian.PutUint32(d, binary.NativeEndian.Uint32(s))
	case 6: // TimeDate48: uint32 seconds + uint16 ticks
		binary.BigEndian.PutUint32(d, binary.NativeEndian.Uint32(s))
		binary.BigEndian.PutUint16(d[4:], binary.NativeEndian.Uint16(s[4:]))
	case 8:
		if t == TimeDate64 {
			// Two 32-bit halves (seconds, microseconds), each swapped
			// on its own.
			binary.BigEndian.PutUint32(d, binary.NativeEndian.Uint32(s))
			binary.BigEndian.PutUint32(d[4:], binary.NativeEndian.Uint32(s[4:]))
		} else {
			binary.BigEndian.PutUint64(d, binary.NativeEndian.Uint64(s))
		}
	}
	w.srcOff += p.hostSize
	w.dstOff += p.wireSize
}

// noteCount records the value of a scalar integer element as the length
// of a following variable-size array. host points at the value.
func (w *walker) noteCount(t ElementType, host []byte) {
	switch t {
	case Int8, UInt8, Boolean8:
		w.lastCount = uint32(host[0])
	case Int16, UInt16:
		w.lastCount = uint32(binary.NativeEndian.Uint16(host))
	case Int32, UInt32:
		w.lastCount = binary.NativeEndian.Uint32(host)
	}
}
