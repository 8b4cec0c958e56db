package memdoc

// encoder appends the update and state vector wire forms to a buffer.
type encoder struct {
	buf []byte
}

func newEncoder(capacity int) *encoder {
	return &encoder{buf: make([]byte, 0, capacity)}
}

// bytes returns the encoded bytes. The slice is owned by the caller.
func (e *encoder) bytes() []byte {
	return e.buf
}

// writeUvarint appends an unsigned varint.
func (e *encoder) writeUvarint(v uint64) {
	for v >= 0x80 {
		e.buf = append(e.buf, byte(v)|0x80)
		v >>= 7
	}
	e.buf = append(e.buf, byte(v))
}

// writeLenBytes appends length-prefixed bytes.
// Format: varint length + bytes
func (e *encoder) writeLenBytes(b []byte) {
	e.writeUvarint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}
