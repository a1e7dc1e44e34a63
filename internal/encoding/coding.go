// Package encoding implements the little-endian fixed-width and 7-bit
// varint primitives the rest of ledgekv builds its on-disk formats out of:
// block entries (internal/block), manifest edits (internal/manifest), write
// batches (internal/batch) and table footers all share this one encoding so
// that a byte written by one package can be read back by any other.
package encoding

import (
	"encoding/binary"
	"errors"
)

// Byte budgets for the varint encodings below: a 32-bit value never needs
// more than MaxVarint32Length bytes, a 64-bit value never more than
// MaxVarint64Length.
const (
	MaxVarint32Length = 5
	MaxVarint64Length = 10
	MaxVarintLen64    = MaxVarint64Length // alias kept for table/builder.go call sites
)

var (
	ErrBufferTooSmall    = errors.New("encoding: buffer too small")
	ErrVarintOverflow    = errors.New("encoding: varint overflow")
	ErrVarintTermination = errors.New("encoding: varint not terminated")
)

// EncodeFixed16 writes value into dst as 2 little-endian bytes. dst must
// have room for at least 2 bytes.
func EncodeFixed16(dst []byte, value uint16) { binary.LittleEndian.PutUint16(dst, value) }

// DecodeFixed16 reads a 2-byte little-endian uint16 from src.
func DecodeFixed16(src []byte) uint16 { return binary.LittleEndian.Uint16(src) }

// EncodeFixed32 writes value into dst as 4 little-endian bytes.
func EncodeFixed32(dst []byte, value uint32) { binary.LittleEndian.PutUint32(dst, value) }

// DecodeFixed32 reads a 4-byte little-endian uint32 from src.
func DecodeFixed32(src []byte) uint32 { return binary.LittleEndian.Uint32(src) }

// EncodeFixed64 writes value into dst as 8 little-endian bytes.
func EncodeFixed64(dst []byte, value uint64) { binary.LittleEndian.PutUint64(dst, value) }

// DecodeFixed64 reads an 8-byte little-endian uint64 from src.
func DecodeFixed64(src []byte) uint64 { return binary.LittleEndian.Uint64(src) }

// AppendFixed16 appends value as 2 little-endian bytes and returns dst.
func AppendFixed16(dst []byte, value uint16) []byte {
	return binary.LittleEndian.AppendUint16(dst, value)
}

// AppendFixed32 appends value as 4 little-endian bytes and returns dst.
func AppendFixed32(dst []byte, value uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, value)
}

// AppendFixed64 appends value as 8 little-endian bytes and returns dst.
func AppendFixed64(dst []byte, value uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, value)
}

// putVarint is the shared 7-bit-with-continuation encoder for both varint
// widths: each byte holds 7 value bits plus a high continuation bit, least
// significant group first.
func putVarint(dst []byte, value uint64) int {
	i := 0
	for value >= 0x80 {
		dst[i] = byte(value) | 0x80
		value >>= 7
		i++
	}
	dst[i] = byte(value)
	return i + 1
}

// getVarint is the shared decoder for putVarint, stopping at maxBits of
// accumulated shift to bound how many bytes a corrupt stream can consume.
func getVarint(src []byte, maxBits uint) (value uint64, bytesRead int, err error) {
	for shift := uint(0); shift < maxBits; shift += 7 {
		if bytesRead >= len(src) {
			return 0, 0, ErrVarintTermination
		}
		b := src[bytesRead]
		bytesRead++
		value |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return value, bytesRead, nil
		}
	}
	return 0, 0, ErrVarintOverflow
}

// EncodeVarint32 writes value into dst as a varint and returns the byte
// count. dst must have room for at least MaxVarint32Length bytes.
func EncodeVarint32(dst []byte, value uint32) int { return putVarint(dst, uint64(value)) }

// AppendVarint32 appends value to dst as a varint.
func AppendVarint32(dst []byte, value uint32) []byte {
	var buf [MaxVarint32Length]byte
	return append(dst, buf[:EncodeVarint32(buf[:], value)]...)
}

// DecodeVarint32 reads a varint32 from the front of src, returning the value
// and the number of bytes consumed.
func DecodeVarint32(src []byte) (value uint32, bytesRead int, err error) {
	v, n, err := getVarint(src, 32)
	return uint32(v), n, err
}

// EncodeVarint64 writes value into dst as a varint and returns the byte
// count. dst must have room for at least MaxVarint64Length bytes.
func EncodeVarint64(dst []byte, value uint64) int { return putVarint(dst, value) }

// AppendVarint64 appends value to dst as a varint.
func AppendVarint64(dst []byte, value uint64) []byte {
	var buf [MaxVarint64Length]byte
	return append(dst, buf[:EncodeVarint64(buf[:], value)]...)
}

// PutVarint64 is EncodeVarint64 under the name internal/table/builder.go
// calls it by.
func PutVarint64(dst []byte, value uint64) int { return EncodeVarint64(dst, value) }

// DecodeVarint64 reads a varint64 from the front of src, returning the value
// and the number of bytes consumed.
func DecodeVarint64(src []byte) (value uint64, bytesRead int, err error) {
	return getVarint(src, 64)
}

// VarintLength reports how many bytes EncodeVarint64 would need for v.
func VarintLength(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// I64ToZigzag maps a signed int64 onto an unsigned uint64 so small-magnitude
// negative numbers stay cheap to varint-encode.
func I64ToZigzag(v int64) uint64 { return (uint64(v) << 1) ^ uint64(v>>63) }

// ZigzagToI64 reverses I64ToZigzag.
func ZigzagToI64(n uint64) int64 { return int64(n>>1) ^ -int64(n&1) }

// AppendVarsignedint64 zigzag-encodes v and appends it to dst as a varint.
func AppendVarsignedint64(dst []byte, v int64) []byte {
	return AppendVarint64(dst, I64ToZigzag(v))
}

// DecodeVarsignedint64 reads a zigzag-varint-encoded int64 from src.
func DecodeVarsignedint64(src []byte) (value int64, bytesRead int, err error) {
	u, n, err := DecodeVarint64(src)
	if err != nil {
		return 0, 0, err
	}
	return ZigzagToI64(u), n, nil
}

// AppendLengthPrefixedSlice appends value to dst preceded by its length as a
// varint32: [varint32 length][value].
func AppendLengthPrefixedSlice(dst []byte, value []byte) []byte {
	dst = AppendVarint32(dst, uint32(len(value)))
	return append(dst, value...)
}

// DecodeLengthPrefixedSlice reads a length-prefixed slice from the front of
// src. The returned value aliases src.
func DecodeLengthPrefixedSlice(src []byte) (value []byte, bytesRead int, err error) {
	length, n, err := DecodeVarint32(src)
	if err != nil {
		return nil, 0, err
	}
	if n+int(length) > len(src) {
		return nil, 0, ErrBufferTooSmall
	}
	return src[n : n+int(length)], n + int(length), nil
}

// Slice is a cursor over a byte slice used by manifest and batch decoders to
// pull fields off the front of a record without hand-tracking an offset.
type Slice struct {
	data []byte
	pos  int
}

// NewSlice wraps data for sequential reads starting at offset 0.
func NewSlice(data []byte) *Slice { return &Slice{data: data} }

// Remaining reports how many bytes are left to read.
func (s *Slice) Remaining() int { return len(s.data) - s.pos }

// Data returns everything not yet consumed.
func (s *Slice) Data() []byte { return s.data[s.pos:] }

// Advance skips n bytes without interpreting them.
func (s *Slice) Advance(n int) { s.pos += n }

// GetFixed16 reads a little-endian uint16, or reports false if too short.
func (s *Slice) GetFixed16() (uint16, bool) {
	if s.Remaining() < 2 {
		return 0, false
	}
	v := DecodeFixed16(s.data[s.pos:])
	s.pos += 2
	return v, true
}

// GetFixed32 reads a little-endian uint32, or reports false if too short.
func (s *Slice) GetFixed32() (uint32, bool) {
	if s.Remaining() < 4 {
		return 0, false
	}
	v := DecodeFixed32(s.data[s.pos:])
	s.pos += 4
	return v, true
}

// GetFixed64 reads a little-endian uint64, or reports false if too short.
func (s *Slice) GetFixed64() (uint64, bool) {
	if s.Remaining() < 8 {
		return 0, false
	}
	v := DecodeFixed64(s.data[s.pos:])
	s.pos += 8
	return v, true
}

// GetVarint32 reads a varint32, or reports false on a malformed encoding.
func (s *Slice) GetVarint32() (uint32, bool) {
	v, n, err := DecodeVarint32(s.data[s.pos:])
	if err != nil {
		return 0, false
	}
	s.pos += n
	return v, true
}

// GetVarint64 reads a varint64, or reports false on a malformed encoding.
func (s *Slice) GetVarint64() (uint64, bool) {
	v, n, err := DecodeVarint64(s.data[s.pos:])
	if err != nil {
		return 0, false
	}
	s.pos += n
	return v, true
}

// GetVarsignedint64 reads a zigzag-varint-encoded int64, or reports false on
// a malformed encoding.
func (s *Slice) GetVarsignedint64() (int64, bool) {
	v, n, err := DecodeVarsignedint64(s.data[s.pos:])
	if err != nil {
		return 0, false
	}
	s.pos += n
	return v, true
}

// GetLengthPrefixedSlice reads a length-prefixed slice, or reports false on
// a malformed encoding or truncated buffer.
func (s *Slice) GetLengthPrefixedSlice() ([]byte, bool) {
	v, n, err := DecodeLengthPrefixedSlice(s.data[s.pos:])
	if err != nil {
		return nil, false
	}
	s.pos += n
	return v, true
}

// GetBytes reads exactly n raw bytes, or reports false if fewer remain.
func (s *Slice) GetBytes(n int) ([]byte, bool) {
	if s.Remaining() < n {
		return nil, false
	}
	v := s.data[s.pos : s.pos+n]
	s.pos += n
	return v, true
}
