// Package binary reads and writes the primitive value encodings of the
// WebAssembly binary format: LEB128 integers, length-prefixed names, and
// the few fixed-width fields the format uses.
package binary

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// ErrOverflow reports a LEB128 value that does not fit its target type.
var ErrOverflow = errors.New("leb128: value overflows target type")

// Reader decodes wasm primitives from an in-memory buffer, tracking its
// position for error reporting. ReadByte reports io.EOF at the end of the
// buffer, so callers can distinguish a clean end from a value cut short;
// all multi-byte reads report io.ErrUnexpectedEOF.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a Reader over data. The buffer is not copied.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// ReadByte returns the next byte.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// ReadBytes returns the next n bytes as a fresh slice.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, io.ErrUnexpectedEOF
	}
	out := make([]byte, n)
	copy(out, r.data[r.pos:])
	r.pos += n
	return out, nil
}

// ReadRemaining returns everything from the current position to the end.
func (r *Reader) ReadRemaining() ([]byte, error) {
	return r.ReadBytes(len(r.data) - r.pos)
}

// readUnsigned decodes an unsigned LEB128 value of at most bits bits,
// encoded in at most ceil(bits/7) bytes.
func (r *Reader) readUnsigned(bits uint) (uint64, error) {
	maxShift := (bits + 6) / 7 * 7
	var result uint64
	for shift := uint(0); ; shift += 7 {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		if shift+7 >= maxShift {
			return 0, r.wrapError(ErrOverflow)
		}
	}
}

// readSigned decodes a signed LEB128 value of at most bits bits.
func (r *Reader) readSigned(bits uint) (int64, error) {
	maxShift := (bits + 6) / 7 * 7
	var result int64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7F) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
		if shift >= maxShift {
			return 0, r.wrapError(ErrOverflow)
		}
	}
}

// ReadU32 reads an unsigned LEB128 uint32.
func (r *Reader) ReadU32() (uint32, error) {
	v, err := r.readUnsigned(32)
	return uint32(v), err
}

// ReadU64 reads an unsigned LEB128 uint64.
func (r *Reader) ReadU64() (uint64, error) {
	return r.readUnsigned(64)
}

// ReadS32 reads a signed LEB128 int32.
func (r *Reader) ReadS32() (int32, error) {
	v, err := r.readSigned(32)
	return int32(v), err
}

// ReadS64 reads a signed LEB128 int64.
func (r *Reader) ReadS64() (int64, error) {
	return r.readSigned(64)
}

// ReadName reads a length-prefixed UTF-8 name.
func (r *Reader) ReadName() (string, error) {
	length, err := r.ReadU32()
	if err != nil {
		return "", err
	}
	data, err := r.ReadBytes(int(length))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", r.wrapError(errors.New("name is not valid UTF-8"))
	}
	return string(data), nil
}

// ReadU32LE reads a fixed four-byte little-endian uint32.
func (r *Reader) ReadU32LE() (uint32, error) {
	buf, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func (r *Reader) wrapError(err error) error {
	return fmt.Errorf("at offset %d: %w", r.pos, err)
}

// ParseError carries the section and byte offset where decoding failed.
type ParseError struct {
	Err      error
	Section  string
	Position int
}

func (e *ParseError) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("wasm: %s at offset %d: %v", e.Section, e.Position, e.Err)
	}
	return fmt.Sprintf("wasm: at offset %d: %v", e.Position, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// WrapError annotates err with the section name and current offset.
func (r *Reader) WrapError(section string, err error) error {
	return &ParseError{Position: r.pos, Section: section, Err: err}
}
