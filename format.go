package lsmkv

// Segment file format constants, shared by the segment writer and the
// segment reader.
const (
	// segmentMagic identifies a well-formed segment file. Its hex digits
	// spell "SSTB" in ASCII; written little-endian, the first four bytes of
	// the file are "BTSS".
	segmentMagic uint32 = 0x53535442

	// segmentVersion is the only format version this engine writes or
	// understands. Readers reject any version greater than this.
	segmentVersion uint32 = 1

	// segmentHeaderSize is the fixed size, in bytes, of a segment's header:
	// magic(4) + version(4) + entryCount(4) + indexEntryCount(4) + indexOffset(8).
	segmentHeaderSize = 4 + 4 + 4 + 4 + 8

	// sparseIndexStride is the nominal number of data records between
	// consecutive sparse-index entries: every Nth record, starting with the
	// first, is indexed. Not encoded in the header, so segments written
	// with different strides coexist correctly; a reader simply uses
	// whatever entries it finds.
	sparseIndexStride = 16

	// defaultMemtableByteBudget is the default approximate-size threshold,
	// in bytes, at which a memtable is considered full and rotated.
	defaultMemtableByteBudget = 100 * 1024 * 1024

	// recordLenPrefixSize is the size, in bytes, of one length prefix
	// (key_len or value_len) in both the WAL and segment record formats.
	recordLenPrefixSize = 4
)

// segmentHeader is the decoded form of a segment file's fixed header.
type segmentHeader struct {
	magic           uint32
	version         uint32
	entryCount      uint32
	indexEntryCount uint32
	indexOffset     uint64
}
