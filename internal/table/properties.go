// Package table provides SST file reading and writing functionality.
// This file implements TableProperties parsing.
//
// Reference: RocksDB v10.7.5
//   - table/table_properties.cc
//   - table/meta_blocks.cc (ParsePropertiesBlock)
//   - include/rocksdb/table_properties.h

package table

import (
	"github.com/ledgekv/ledgekv/internal/block"
	"github.com/ledgekv/ledgekv/internal/encoding"
)

// Property name constants from RocksDB.
// Reference: include/rocksdb/table_properties.h
const (
	PropDataSize      = "rocksdb.data.size"
	PropIndexSize     = "rocksdb.index.size"
	PropRawKeySize    = "rocksdb.raw.key.size"
	PropRawValueSize  = "rocksdb.raw.value.size"
	PropNumDataBlocks = "rocksdb.num.data.blocks"
	PropNumEntries    = "rocksdb.num.entries"
	PropFormatVersion = "rocksdb.format.version"
	PropComparator    = "rocksdb.comparator"
	PropCompression   = "rocksdb.compression"
)

// TableProperties contains metadata about an SST file.
type TableProperties struct {
	DataSize      uint64
	IndexSize     uint64
	RawKeySize    uint64
	RawValueSize  uint64
	NumDataBlocks uint64
	NumEntries    uint64
	FormatVersion uint64

	ComparatorName  string
	CompressionName string

	// User-collected properties
	UserCollectedProperties map[string]string
}

// ParsePropertiesBlock parses a properties block into TableProperties.
func ParsePropertiesBlock(data []byte) (*TableProperties, error) {
	// The properties block is a regular block with key-value pairs
	blk, err := block.NewBlock(data)
	if err != nil {
		return nil, err
	}

	props := &TableProperties{
		UserCollectedProperties: make(map[string]string),
	}

	iter := blk.NewIterator()
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		value := iter.Value()

		// Try to parse as uint64 property
		if parseUint64Property(props, key, value) {
			continue
		}

		// Try to parse as string property
		if parseStringProperty(props, key, value) {
			continue
		}

		// Unknown property - store in user-collected
		props.UserCollectedProperties[key] = string(value)
	}

	return props, nil
}

// parseUint64Property parses a uint64 property if the key matches.
func parseUint64Property(props *TableProperties, key string, value []byte) bool {
	var target *uint64

	switch key {
	case PropDataSize:
		target = &props.DataSize
	case PropIndexSize:
		target = &props.IndexSize
	case PropRawKeySize:
		target = &props.RawKeySize
	case PropRawValueSize:
		target = &props.RawValueSize
	case PropNumDataBlocks:
		target = &props.NumDataBlocks
	case PropNumEntries:
		target = &props.NumEntries
	case PropFormatVersion:
		target = &props.FormatVersion
	default:
		return false
	}

	// Parse varint64
	v, _, err := encoding.DecodeVarint64(value)
	if err != nil {
		return false
	}
	*target = v
	return true
}

// parseStringProperty parses a string property if the key matches.
func parseStringProperty(props *TableProperties, key string, value []byte) bool {
	switch key {
	case PropComparator:
		props.ComparatorName = string(value)
	case PropCompression:
		props.CompressionName = string(value)
	default:
		return false
	}
	return true
}
