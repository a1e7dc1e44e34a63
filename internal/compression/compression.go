// Package compression implements the block compression codecs ledgekv's
// table format uses: each block's (possibly) compressed contents are
// followed by a trailer whose first byte is the Type tag, and this package
// is the only place that tag is interpreted.
package compression

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type identifies the codec a block was compressed with. Values and their
// wire encoding follow RocksDB's block trailer so that tooling built against
// either engine can read the other's SSTs.
type Type uint8

const (
	NoCompression     Type = 0x0
	SnappyCompression Type = 0x1
	ZlibCompression   Type = 0x2
	BZip2Compression  Type = 0x3 // not implemented; rejected by Compress/Decompress
	LZ4Compression    Type = 0x4
	LZ4HCCompression  Type = 0x5
	XpressCompression Type = 0x6 // Windows-only upstream; not implemented
	ZstdCompression   Type = 0x7
)

var typeNames = map[Type]string{
	NoCompression:     "NoCompression",
	SnappyCompression: "Snappy",
	ZlibCompression:   "Zlib",
	BZip2Compression:  "BZip2",
	LZ4Compression:    "LZ4",
	LZ4HCCompression:  "LZ4HC",
	XpressCompression: "Xpress",
	ZstdCompression:   "ZSTD",
}

// String returns a human-readable codec name, used in sstdump output.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", t)
}

// IsSupported reports whether Compress/Decompress implement this codec.
func (t Type) IsSupported() bool {
	switch t {
	case NoCompression, SnappyCompression, ZlibCompression, LZ4Compression, LZ4HCCompression, ZstdCompression:
		return true
	default:
		return false
	}
}

// Compress encodes data with codec t. The table builder calls this once per
// block before appending the block's compression-type byte and checksum.
func Compress(t Type, data []byte) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil
	case SnappyCompression:
		return snappy.Encode(nil, data), nil
	case ZlibCompression:
		return compressRawDeflate(data)
	case LZ4Compression:
		return compressLZ4(data, false)
	case LZ4HCCompression:
		return compressLZ4(data, true)
	case ZstdCompression:
		return compressZstd(data, zstd.SpeedDefault)
	default:
		return nil, fmt.Errorf("compression: unsupported type %s", t)
	}
}

// compressRawDeflate compresses with raw DEFLATE (no zlib header), matching
// the windowBits=-14 raw-deflate framing the engine's "Zlib" codec uses on
// disk. compress/flate already emits this framing directly.
func compressRawDeflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("compression: raw deflate writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compression: raw deflate write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compression: raw deflate close: %w", err)
	}
	return buf.Bytes(), nil
}

// compressLZ4 produces a raw LZ4 block (no frame magic/headers) so the
// output is just the payload the block trailer's length already bounds.
// highCompression selects LZ4HC, which trades encode speed for ratio.
func compressLZ4(data []byte, highCompression bool) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	var hashTable [1 << 16]int

	var n int
	var err error
	if highCompression {
		n, err = lz4.CompressBlockHC(data, dst, lz4.CompressionLevel(9), hashTable[:], nil)
	} else {
		n, err = lz4.CompressBlock(data, dst, hashTable[:])
	}
	if err != nil {
		return nil, fmt.Errorf("compression: lz4 compress block: %w", err)
	}
	if n == 0 {
		return nil, nil // input didn't compress; caller stores it uncompressed
	}
	return dst[:n], nil
}

func compressZstd(data []byte, level zstd.EncoderLevel) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("compression: zstd encoder: %w", err)
	}
	return encoder.EncodeAll(data, nil), nil
}

// Decompress decompresses data without a known output size. LZ4 is slower
// this way (it must guess-and-retry buffer sizes); callers that know the
// uncompressed block size from the block handle should use
// DecompressWithSize instead.
func Decompress(t Type, data []byte) ([]byte, error) {
	return DecompressWithSize(t, data, 0)
}

// DecompressWithSize decompresses data given codec t, using expectedSize (if
// > 0) to size the output buffer in one shot for LZ4.
func DecompressWithSize(t Type, data []byte, expectedSize int) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil
	case SnappyCompression:
		return snappy.Decode(nil, data)
	case ZlibCompression:
		return decompressZlibBlock(data)
	case LZ4Compression, LZ4HCCompression:
		return decompressLZ4(data, expectedSize)
	case ZstdCompression:
		return decompressZstd(data)
	default:
		return nil, fmt.Errorf("compression: unsupported type %s", t)
	}
}

// decompressZlibBlock tries raw DEFLATE first, since that's what this
// engine's compressor writes, then falls back to zlib-with-header in case
// the block came from a writer using the RFC1950 framing.
func decompressZlibBlock(data []byte) ([]byte, error) {
	if out, err := decompressRawDeflate(data); err == nil {
		return out, nil
	} else if r, zerr := zlib.NewReader(bytes.NewReader(data)); zerr == nil {
		defer func() { _ = r.Close() }()
		return io.ReadAll(r)
	} else {
		return nil, fmt.Errorf("compression: zlib decompress: raw deflate failed: %w", err)
	}
}

func decompressRawDeflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// decompressLZ4 inflates a raw LZ4 block. With expectedSize known it
// allocates once; otherwise it retries with a doubling buffer since
// lz4.UncompressBlock reports rather than recovers from a too-small
// destination.
func decompressLZ4(data []byte, expectedSize int) ([]byte, error) {
	if expectedSize > 0 {
		dst := make([]byte, expectedSize)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("compression: lz4 uncompress block: %w", err)
		}
		return dst[:n], nil
	}

	bufSize := max(len(data)*4, 256)
	for range 10 {
		dst := make([]byte, bufSize)
		if n, err := lz4.UncompressBlock(data, dst); err == nil {
			return dst[:n], nil
		}
		bufSize *= 2
	}
	return nil, fmt.Errorf("compression: lz4 uncompress block: buffer too small after retries")
}

func decompressZstd(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("compression: zstd decoder: %w", err)
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}
