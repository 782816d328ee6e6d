// Package wire implements the TRDP frame layer (IEC 61375-2-3): the fixed
// PD and MD header layouts, the frame check sequence, message type codes
// and the IPv4 address representation used throughout the stack.
//
// All multi-byte header fields are big-endian on the wire. The frame check
// sequence is the one exception: it is transmitted little-endian
// regardless of host byte order.
//
// Error Handling:
//
// All errors are wrapped with context using fmt.Errorf("%w: ...", ErrWire),
// except FCS mismatches, which wrap ErrCRC. Callers test with errors.Is.
package wire

import "errors"

var (
	// ErrWire is the sentinel error for malformed or truncated frames.
	// Wrap with fmt.Errorf("%w: context", ErrWire) to add detail.
	ErrWire = errors.New("trdp wire error")

	// ErrCRC is returned when a header or payload FCS does not match the
	// computed value. Kept distinct from ErrWire so the engine can count
	// CRC failures separately.
	ErrCRC = errors.New("trdp frame checksum mismatch")
)
