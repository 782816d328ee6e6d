package wire

// MsgType is the two-octet ASCII message type carried in every TRDP
// header ('Pd' = 0x5064 and so on). It is read and written big-endian
// like every other header field.
type MsgType uint16

const (
	MsgPd MsgType = 0x5064 // 'Pd' PD data (push or pull reply)
	MsgPr MsgType = 0x5072 // 'Pr' PD pull request
	MsgPe MsgType = 0x5065 // 'Pe' PD error
	MsgMn MsgType = 0x4D6E // 'Mn' MD notification (no reply)
	MsgMr MsgType = 0x4D72 // 'Mr' MD request
	MsgMp MsgType = 0x4D70 // 'Mp' MD reply without confirmation
	MsgMq MsgType = 0x4D71 // 'Mq' MD reply with confirmation request
	MsgMc MsgType = 0x4D63 // 'Mc' MD confirm
	MsgMe MsgType = 0x4D65 // 'Me' MD error
)

// Valid reports whether t is one of the defined TRDP message types.
func (t MsgType) Valid() bool {
	switch t {
	case MsgPd, MsgPr, MsgPe, MsgMn, MsgMr, MsgMp, MsgMq, MsgMc, MsgMe:
		return true
	}
	return false
}

// IsPD reports whether t belongs to the process data class.
func (t MsgType) IsPD() bool {
	return t == MsgPd || t == MsgPr || t == MsgPe
}

// IsMD reports whether t belongs to the message data class.
func (t MsgType) IsMD() bool {
	return t.Valid() && !t.IsPD()
}

// String returns the two ASCII characters of the type code.
func (t MsgType) String() string {
	return string([]byte{byte(t >> 8), byte(t)})
}
