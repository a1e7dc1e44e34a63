// Package manifest encodes and decodes the VersionEdit records that make up
// ledgekv's MANIFEST log: each record describes one change to the live set
// of SST files (new/deleted files, log number bumps, sequence-number
// advances) and version.Builder folds a run of them into a Version.
//
// Record layout mirrors RocksDB v10.7.5 (db/version_edit.h / version_edit.cc)
// so a MANIFEST produced by either engine decodes the same way.
package manifest

// Tag identifies one field of a serialized VersionEdit record. Tag values
// are part of the on-disk format and must never be renumbered or reused;
// version_edit.go's decode loop switches on Tag to know how to interpret
// the varint-encoded payload that follows it.
//
// A reader that doesn't recognize a tag can still skip the record safely if
// IsSafeToIgnore reports true for it (bit TagSafeIgnoreMask is set) — that
// lets an older binary open a MANIFEST written by a newer one, as long as
// the newer fields it can't parse aren't load-bearing for it.
type Tag uint32

const (
	// Tags inherited from LevelDB's original VersionEdit format.
	TagComparator     Tag = 1
	TagLogNumber      Tag = 2
	TagNextFileNumber Tag = 3
	TagLastSequence   Tag = 4
	TagCompactCursor  Tag = 5
	TagDeletedFile    Tag = 6
	TagNewFile        Tag = 7
	// Tag 8 (large value refs) is retired; never reassign it.
	TagPrevLogNumber      Tag = 9
	TagMinLogNumberToKeep Tag = 10

	// RocksDB-era additions.
	TagNewFile2         Tag = 100
	TagNewFile3         Tag = 102
	TagNewFile4         Tag = 103 // current on-disk format for AddFile records
	TagColumnFamily     Tag = 200
	TagColumnFamilyAdd  Tag = 201
	TagColumnFamilyDrop Tag = 202
	TagMaxColumnFamily  Tag = 203

	TagInAtomicGroup Tag = 300

	TagBlobFileAddition Tag = 400
	TagBlobFileGarbage  Tag = 401

	// TagSafeIgnoreMask marks a tag as forward-compatible: an unknown tag
	// with this bit set can be decoded (length-prefixed, so its payload can
	// be skipped) without aborting MANIFEST recovery.
	TagSafeIgnoreMask Tag = 1 << 13

	TagDBID                         Tag = TagSafeIgnoreMask | 1
	TagBlobFileAdditionDeprecated   Tag = TagSafeIgnoreMask | 2
	TagBlobFileGarbageDeprecated    Tag = TagSafeIgnoreMask | 3
	TagWalAddition                  Tag = TagSafeIgnoreMask | 4
	TagWalDeletion                  Tag = TagSafeIgnoreMask | 5
	TagFullHistoryTSLow             Tag = TagSafeIgnoreMask | 6
	TagWalAddition2                 Tag = TagSafeIgnoreMask | 7
	TagWalDeletion2                 Tag = TagSafeIgnoreMask | 8
	TagPersistUserDefinedTimestamps Tag = TagSafeIgnoreMask | 9
	// kSubcompactionProgress (TagSafeIgnoreMask | 10) postdates the v10.7.5
	// baseline this package tracks and is deliberately omitted.
)

// IsSafeToIgnore reports whether a decoder that doesn't recognize t may
// skip its record instead of failing MANIFEST recovery.
func (t Tag) IsSafeToIgnore() bool {
	return t&TagSafeIgnoreMask != 0
}

// NewFileCustomTag identifies one optional field within a TagNewFile4
// record. NewFile4 is the only AddFile encoding ledgekv writes or decodes;
// a record carrying the older TagNewFile/TagNewFile2/TagNewFile3 shapes
// fails DecodeFrom with ErrUnknownRequiredTag.
type NewFileCustomTag uint32

const (
	// NewFileTagTerminate closes the custom-field list for one file entry.
	NewFileTagTerminate NewFileCustomTag = 1

	NewFileTagNeedCompaction NewFileCustomTag = 2

	// NewFileTagMinLogNumberToKeepHack rides along on a NewFile4 record
	// because the MinLogNumberToKeep tag alone isn't forward-compatible
	// enough for every reader to trust.
	NewFileTagMinLogNumberToKeepHack NewFileCustomTag = 3

	NewFileTagOldestBlobFileNumber NewFileCustomTag = 4
	NewFileTagOldestAncestorTime   NewFileCustomTag = 5
	NewFileTagFileCreationTime     NewFileCustomTag = 6
	NewFileTagFileChecksum         NewFileCustomTag = 7
	NewFileTagFileChecksumFuncName NewFileCustomTag = 8
	NewFileTagTemperature          NewFileCustomTag = 9
	NewFileTagMinTimestamp         NewFileCustomTag = 10
	NewFileTagMaxTimestamp         NewFileCustomTag = 11
	NewFileTagUniqueID             NewFileCustomTag = 12
	NewFileTagEpochNumber          NewFileCustomTag = 13

	NewFileTagCompensatedRangeDeletionSize  NewFileCustomTag = 14
	NewFileTagTailSize                       NewFileCustomTag = 15
	NewFileTagUserDefinedTimestampsPersisted NewFileCustomTag = 16

	// NewFileTagCustomNonSafeIgnoreMask marks a custom field as load-bearing:
	// if it's set, a decoder that doesn't know the tag must fail rather than
	// silently drop it (the inverse convention from Tag/TagSafeIgnoreMask).
	NewFileTagCustomNonSafeIgnoreMask NewFileCustomTag = 1 << 6

	// NewFileTagPathID is forward-incompatible: multi-path SST placement
	// changes file semantics enough that an old reader must not guess.
	NewFileTagPathID NewFileCustomTag = NewFileTagCustomNonSafeIgnoreMask | 1
)

// IsSafeToIgnore reports whether an unrecognized custom field may be
// dropped instead of aborting decode of its NewFile4 record.
func (t NewFileCustomTag) IsSafeToIgnore() bool {
	return t&NewFileTagCustomNonSafeIgnoreMask == 0
}

// Sentinel values FileMetaData uses for custom fields that were never set.
// Several are 0, so a field explicitly set to 0 reads the same as an
// absent one.
const (
	// FileNumberMask extracts the file number from FileDescriptor's packed
	// PackedNumberAndPathID; the remaining high bits hold the path ID.
	FileNumberMask uint64 = 0x3FFFFFFFFFFFFFFF

	UnknownOldestAncestorTime uint64 = 0
	UnknownFileCreationTime   uint64 = 0
	UnknownEpochNumber        uint64 = 0

	// ReservedEpochNumberForFileIngestedBehind marks files added via
	// IngestExternalFile with AllowIngestBehind, which must sort after
	// every naturally compacted file regardless of their real epoch.
	ReservedEpochNumberForFileIngestedBehind uint64 = 1

	InvalidBlobFileNumber uint64 = 0

	UnknownFileChecksumFuncName = "Unknown"
)

// PackFileNumberAndPathID combines a file number and path ID into the
// single uint64 FileDescriptor stores on disk. It panics if number doesn't
// fit in FileNumberMask's bits — callers only ever pass file numbers
// ledgekv itself allocated, so that would indicate a counter bug, not bad
// input.
func PackFileNumberAndPathID(number uint64, pathID uint64) uint64 {
	if number > FileNumberMask {
		panic("file number exceeds maximum") //nolint:forbidigo // precondition violation, not a runtime error
	}
	return number | (pathID * (FileNumberMask + 1))
}

// UnpackFileNumberAndPathID reverses PackFileNumberAndPathID.
func UnpackFileNumberAndPathID(packed uint64) (number uint64, pathID uint32) {
	number = packed & FileNumberMask
	pathID = uint32(packed / (FileNumberMask + 1))
	return
}
