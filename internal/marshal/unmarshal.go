package marshal

import (
	"encoding/binary"
	"fmt"
)

// Unmarshal is the inverse of Marshal: it decodes the wire image src of
// the payload registered for comID into the host buffer dst and returns
// the number of host octets written (including alignment padding).
func (r *Registry) Unmarshal(comID uint32, src, dst []byte) (int, error) {
	if comID == 0 || src == nil || dst == nil {
		return 0, fmt.Errorf("%w: Unmarshal(comId=%d)", ErrParam, comID)
	}
	ds, err := r.Lookup(comID)
	if err != nil {
		return 0, err
	}
	return r.UnmarshalDataset(ds, src, dst)
}

// UnmarshalDataset is Unmarshal for an explicit dataset schema.
func (r *Registry) UnmarshalDataset(ds *Dataset, src, dst []byte) (int, error) {
	w := &walker{reg: r, src: src, dst: dst}
	if err := w.unmarshalDS(ds); err != nil {
		return 0, err
	}
	return w.dstOff, nil
}

func (w *walker) unmarshalDS(ds *Dataset) error {
	w.level++
	defer func() { w.level-- }()
	if w.level > MaxNesting {
		return fmt.Errorf("%w: dataset %d at level %d", ErrDepth, ds.ID, w.level)
	}

	for _, el := range ds.Elements {
		n := int(el.Count)
		if el.Count == VarSize {
			if w.srcOff+2 > len(w.src) {
				return fmt.Errorf("%w: truncated before array length", ErrShort)
			}
			n = int(binary.BigEndian.Uint16(w.src[w.srcOff:]))
			w.srcOff += 2
		}

		if !el.Type.IsPrimitive() {
			sub, err := w.reg.Dataset(uint32(el.Type))
			if err != nil {
				return err
			}
			for range n {
				if err := w.unmarshalDS(sub); err != nil {
					return err
				}
			}
			continue
		}

		p, ok := primitives[el.Type]
		if !ok {
			return fmt.Errorf("%w: element type %d", ErrParam, el.Type)
		}
		// Zero the alignment gap so the host image is deterministic.
		aligned := align(w.dstOff, p.hostAlign)
		if aligned > len(w.dst) {
			return fmt.Errorf("%w: host buffer exhausted at padding", ErrShort)
		}
		for i := w.dstOff; i < aligned; i++ {
			w.dst[i] = 0
		}
		w.dstOff = aligned
		if w.srcOff+n*p.wireSize > len(w.src) {
			return fmt.Errorf("%w: wire image exhausted (type %d x%d)", ErrShort, el.Type, n)
		}
		if w.dstOff+n*p.hostSize > len(w.dst) {
			return fmt.Errorf("%w: host buffer exhausted (type %d x%d)", ErrShort, el.Type, n)
		}
		for range n {
			w.unmarshalPrim(el.Type, p)
		}
	}
	return nil
}

// unmarshalPrim converts one primitive value from wire to host order.
// Bounds were checked by the caller.
func (w *walker) unmarshalPrim(t ElementType, p primInfo) {
	s := w.src[w.srcOff:]
	d := w.dst[w.dstOff:]
	switch p.wireSize {
	case 1:
		d[0] = s[0]
	case 2:
		binary.NativeEndian.PutUint16(d, binary.BigEndian.Uint16(s))
	case 4:
		binary.NativeEndian.PutUint32(d, binary.BigEndian.Uint32(s))
	case 6:
		binary.NativeEndian.PutUint32(d, binary.BigEndian.Uint32(s))
		binary.NativeEndian.PutUint16(d[4:], binary.BigEndian.Uint16(s[4:]))
		d[6], d[7] = 0, 0 // struct padding
	case 8:
		if t == TimeDate64 {
			binary.NativeEndian.PutUint32(d, binary.BigEndian.Uint32(s))
			binary.NativeEndian.PutUint32(d[4:], binary.BigEndian.Uint32(s[4:]))
		} else {
			binary.NativeEndian.PutUint64(d, binary.BigEndian.Uint64(s))
		}
	}
	w.srcOff += p.wireSize
	w.dstOff += p.hostSize
}
