// reader.go implements WAL log file reading.
//
// Reader is a general purpose log stream reader. It reads records from
// a log file, handling fragmented records that span block boundaries.
//
// Reference: RocksDB v10.7.5 (legacy, non-recyclable format)
//   - db/log_reader.h
//   - db/log_reader.cc
package wal

import (
	"errors"
	"io"

	"github.com/ledgekv/ledgekv/internal/checksum"
	"github.com/ledgekv/ledgekv/internal/encoding"
)

var (
	// ErrCorruptedRecord indicates a record with an invalid checksum.
	ErrCorruptedRecord = errors.New("wal: corrupted record (bad checksum)")

	// ErrShortRecord indicates a record that is shorter than expected.
	ErrShortRecord = errors.New("wal: short record")

	// ErrInvalidRecordType indicates an unrecognized record type.
	ErrInvalidRecordType = errors.New("wal: invalid record type")

	// ErrUnexpectedEOF indicates an unexpected end of file inside a fragmented record.
	ErrUnexpectedEOF = errors.New("wal: unexpected end of file")

	// ErrUnexpectedMiddleRecord indicates a middle record without a first record.
	ErrUnexpectedMiddleRecord = errors.New("wal: unexpected middle record")

	// ErrUnexpectedLastRecord indicates a last record without a first record.
	ErrUnexpectedLastRecord = errors.New("wal: unexpected last record")

	// ErrUnexpectedFirstRecord indicates a first/full record while already in a fragmented record.
	ErrUnexpectedFirstRecord = errors.New("wal: unexpected first record")
)

// Reporter is called when corruption is detected while reading.
type Reporter interface {
	// Corruption is called when corrupted data is detected and dropped.
	Corruption(bytes int, err error)
}

// Reader reads records from a WAL file.
type Reader struct {
	src           io.Reader
	reporter      Reporter
	checksum      bool   // Whether to verify checksums
	backingStore  []byte // Buffer for reading blocks
	buffer        []byte // Current unconsumed data in backingStore
	eof           bool   // Whether we've hit EOF
	lastRecordEnd int    // Position after the last record
	blockOffset   int    // Offset within current block

	// Fragment assembly
	fragments          []byte // Accumulated fragments for multi-part records
	inFragmentedRecord bool

	// resyncing is true immediately after a corruption-driven resync; the
	// next fragment-continuation record (Middle/Last) encountered in this
	// state is consumed without being reported again, matching the source's
	// behavior of swallowing the tail of an abandoned fragmented record.
	resyncing bool

	// strict makes a checksum mismatch end reading with ErrCorruptedRecord
	// instead of skipping the record.
	strict bool
}

// NewStrictReader creates a WAL reader that always verifies checksums and
// returns ErrCorruptedRecord at the first record whose checksum does not
// match, instead of reporting and skipping it. It is meant for MANIFEST
// replay, where no corrupted record may be passed over. logNumber is not
// checked: the legacy record format does not carry it.
func NewStrictReader(src io.Reader, reporter Reporter, logNumber uint64) *Reader {
	r := NewReader(src, reporter, true)
	r.strict = true
	return r
}

// NewReader creates a new WAL reader.
//
// Parameters:
//   - src: The source reader (typically a file)
//   - reporter: Optional reporter for corruption (can be nil)
//   - verifyChecksum: Whether to verify record checksums
func NewReader(src io.Reader, reporter Reporter, verifyChecksum bool) *Reader {
	return &Reader{
		src:          src,
		reporter:     reporter,
		checksum:     verifyChecksum,
		backingStore: make([]byte, BlockSize),
	}
}

// ReadRecord reads the next logical record from the log.
// Returns the record data and nil error on success.
// Returns nil and io.EOF when no more records are available.
// Returns nil and another error on failure.
//
// The returned slice is valid until the next call to ReadRecord.
func (r *Reader) ReadRecord() ([]byte, error) {
	r.fragments = r.fragments[:0]
	r.inFragmentedRecord = false

	for {
		recordType, fragment, err := r.readPhysicalRecord()
		if err != nil {
			if errors.Is(err, io.EOF) && r.inFragmentedRecord {
				r.reportCorruption(len(r.fragments), ErrUnexpectedEOF)
				return nil, ErrUnexpectedEOF
			}
			return nil, err
		}

		switch recordType {
		case FullType:
			if r.inFragmentedRecord {
				r.reportCorruption(len(r.fragments), ErrUnexpectedFirstRecord)
			}
			r.resyncing = false
			return fragment, nil

		case FirstType:
			if r.inFragmentedRecord {
				r.reportCorruption(len(r.fragments), ErrUnexpectedFirstRecord)
			}
			r.fragments = append(r.fragments[:0], fragment...)
			r.inFragmentedRecord = true
			r.resyncing = false

		case MiddleType:
			if !r.inFragmentedRecord {
				if !r.resyncing {
					r.reportCorruption(len(fragment), ErrUnexpectedMiddleRecord)
				}
				continue
			}
			r.fragments = append(r.fragments, fragment...)

		case LastType:
			if !r.inFragmentedRecord {
				if !r.resyncing {
					r.reportCorruption(len(fragment), ErrUnexpectedLastRecord)
				}
				r.resyncing = false
				continue
			}
			r.fragments = append(r.fragments, fragment...)
			r.inFragmentedRecord = false
			r.resyncing = false
			result := make([]byte, len(r.fragments))
			copy(result, r.fragments)
			return result, nil

		case ZeroType:
			continue

		default:
			r.reportCorruption(len(fragment), ErrInvalidRecordType)
		}
	}
}

// readPhysicalRecord reads a single physical record from the log.
// Returns the record type, payload, and any error.
func (r *Reader) readPhysicalRecord() (RecordType, []byte, error) {
	for {
		if len(r.buffer) < HeaderSize {
			if r.eof {
				return 0, nil, io.EOF
			}

			n, err := io.ReadFull(r.src, r.backingStore)
			if err != nil {
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					r.eof = true
					if n == 0 {
						return 0, nil, io.EOF
					}
				} else {
					return 0, nil, err
				}
			}

			r.buffer = r.backingStore[:n]
			r.blockOffset = 0
		}

		if len(r.buffer) < HeaderSize {
			if r.eof {
				return 0, nil, io.EOF
			}
			r.reportCorruption(len(r.buffer), ErrShortRecord)
			r.buffer = nil
			r.resyncing = true
			continue
		}

		header := r.buffer[:HeaderSize]
		crcStored := encoding.DecodeFixed32(header[0:4])
		length := int(encoding.DecodeFixed16(header[4:6]))
		recordType := RecordType(header[6])

		if len(r.buffer) < HeaderSize+length {
			if r.eof {
				return 0, nil, io.EOF
			}
			r.reportCorruption(len(r.buffer), ErrShortRecord)
			r.buffer = nil
			r.resyncing = true
			continue
		}

		if recordType == ZeroType && length == 0 {
			r.buffer = r.buffer[HeaderSize:]
			r.blockOffset += HeaderSize
			continue
		}

		payload := r.buffer[HeaderSize : HeaderSize+length]

		if r.checksum {
			crc := checksum.Value([]byte{byte(recordType)})
			crc = checksum.Extend(crc, payload)
			crc = checksum.Mask(crc)

			if crc != crcStored {
				r.reportCorruption(HeaderSize+length, ErrCorruptedRecord)
				if r.strict {
					return 0, nil, ErrCorruptedRecord
				}
				r.buffer = r.buffer[HeaderSize+length:]
				r.blockOffset += HeaderSize + length
				r.resyncing = true
				continue
			}
		}

		r.buffer = r.buffer[HeaderSize+length:]
		r.blockOffset += HeaderSize + length
		r.lastRecordEnd = r.blockOffset

		result := make([]byte, len(payload))
		copy(result, payload)
		return recordType, result, nil
	}
}

// reportCorruption reports a corruption to the reporter if one is set.
func (r *Reader) reportCorruption(bytes int, err error) {
	if r.reporter != nil {
		r.reporter.Corruption(bytes, err)
	}
}

// IsEOF returns true if the reader has reached end of file.
func (r *Reader) IsEOF() bool {
	return r.eof
}

// LastRecordEnd returns the byte offset after the last successfully read record.
func (r *Reader) LastRecordEnd() int {
	return r.lastRecordEnd
}
