package memdoc

import (
	"errors"
	"io"
)

// Allocation limits for length prefixes read from untrusted updates.
const (
	maxPayloadSize = 4 * 1024 * 1024
	maxOpCount     = 100_000
)

var (
	errVarintOverflow = errors.New("memdoc: varint overflow")
	errTooLarge       = errors.New("memdoc: allocation size exceeds limit")
	errTrailingBytes  = errors.New("memdoc: trailing bytes")
)

// decoder reads the update and state vector wire forms.
type decoder struct {
	buf []byte
	pos int
}

func newDecoder(buf []byte) *decoder {
	return &decoder{buf: buf}
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.pos
}

// readUvarint reads an unsigned varint.
func (d *decoder) readUvarint() (uint64, error) {
	var v uint64
	var shift uint

	for {
		if d.pos >= len(d.buf) {
			return 0, io.ErrUnexpectedEOF
		}
		b := d.buf[d.pos]
		d.pos++
		v |= uint64(b&0x7F) << shift
		if b < 0x80 {
			return v, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, errVarintOverflow
		}
	}
}

// readCount reads a collection count and bounds it.
func (d *decoder) readCount() (int, error) {
	n, err := d.readUvarint()
	if err != nil {
		return 0, err
	}
	if n > maxOpCount {
		return 0, errTooLarge
	}
	return int(n), nil
}

// readLenBytes reads length-prefixed bytes and returns a copy.
func (d *decoder) readLenBytes() ([]byte, error) {
	length, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	if length > uint64(d.remaining()) {
		return nil, io.ErrUnexpectedEOF
	}
	if length > maxPayloadSize {
		return nil, errTooLarge
	}
	n := int(length)
	b := make([]byte, n)
	copy(b, d.buf[d.pos:d.pos+n])
	d.pos += n
	return b, nil
}

// finish fails if unread bytes remain.
func (d *decoder) finish() error {
	if d.remaining() != 0 {
		return errTrailingBytes
	}
	return nil
}
