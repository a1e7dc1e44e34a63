package checksum

// This file implements the CRC32C (Castagnoli) path of checksum.Type,
// including the "masked" representation the WAL record trailer and block
// trailer both store on disk instead of a raw CRC.

import "hash/crc32"

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// maskDelta is added (after a 15-bit rotate) when masking a CRC for
// storage. Masking exists because a raw CRC stored inside a record that is
// itself later CRC'd creates an awkward self-reference; the rotate+add
// avoids that without weakening the check.
const maskDelta = 0xa282ead8

// Value computes the CRC32C of data.
func Value(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// Extend computes the CRC32C of (A || data) given initCRC = CRC32C(A),
// letting a WAL writer checksum a record incrementally as bytes arrive.
func Extend(initCRC uint32, data []byte) uint32 {
	return crc32.Update(initCRC, crc32cTable, data)
}

// Mask rotates crc right 15 bits and adds maskDelta, producing the form
// that is actually written to WAL and block trailers.
func Mask(crc uint32) uint32 {
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// Unmask inverts Mask.
func Unmask(maskedCRC uint32) uint32 {
	rot := maskedCRC - maskDelta
	return (rot >> 17) | (rot << 15)
}

// MaskedValue is Mask(Value(data)).
func MaskedValue(data []byte) uint32 {
	return Mask(Value(data))
}

// MaskedExtend is Mask(Extend(initCRC, data)).
func MaskedExtend(initCRC uint32, data []byte) uint32 {
	return Mask(Extend(initCRC, data))
}
