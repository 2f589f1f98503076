package lsmkv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"
)

// sparseIndexEntry is one (key, offset) pair loaded from a segment's
// sparse-index section.
type sparseIndexEntry struct {
	key    []byte
	offset int64
}

// segmentReader opens a segment file once at construction — validating
// its header and loading its sparse index into memory — and serves point
// lookups thereafter via binary-search-in-sparse-index plus a bounded
// linear scan. It never mutates any state after construction, so
// concurrent lookups are safe without locking.
type segmentReader struct {
	path        string
	f           *os.File
	fileSize    int64
	indexOffset int64
	index       []sparseIndexEntry
}

// openSegmentReader opens path, validates its header and loads its
// sparse index. A malformed segment yields a *CorruptSegment error; the
// caller (Engine.Open) logs and skips it rather than failing the whole
// open.
func openSegmentReader(path string, log *zap.SugaredLogger) (*segmentReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newIoError("open segment", err)
	}

	r, err := loadSegmentReader(path, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func loadSegmentReader(path string, f *os.File) (*segmentReader, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, newIoError("stat segment", err)
	}
	fileSize := fi.Size()

	if fileSize < segmentHeaderSize {
		return nil, newCorruptSegment(path, "file shorter than header")
	}

	var hdrBuf [segmentHeaderSize]byte
	if _, err := f.ReadAt(hdrBuf[:], 0); err != nil {
		return nil, newIoError("read segment header", err)
	}
	hdr := segmentHeader{
		magic:           binary.LittleEndian.Uint32(hdrBuf[0:4]),
		version:         binary.LittleEndian.Uint32(hdrBuf[4:8]),
		entryCount:      binary.LittleEndian.Uint32(hdrBuf[8:12]),
		indexEntryCount: binary.LittleEndian.Uint32(hdrBuf[12:16]),
		indexOffset:     binary.LittleEndian.Uint64(hdrBuf[16:24]),
	}

	if hdr.magic != segmentMagic {
		return nil, newCorruptSegment(path, fmt.Sprintf("bad magic %#x", hdr.magic))
	}
	if hdr.version > segmentVersion {
		return nil, newCorruptSegment(path, fmt.Sprintf("unsupported version %d", hdr.version))
	}
	if int64(hdr.indexOffset) > fileSize {
		return nil, newCorruptSegment(path, "index offset beyond file end")
	}
	if hdr.indexEntryCount == 0 && hdr.entryCount > 0 {
		return nil, newCorruptSegment(path, "empty sparse index for non-empty segment")
	}

	r := &segmentReader{
		path:        path,
		f:           f,
		fileSize:    fileSize,
		indexOffset: int64(hdr.indexOffset),
	}

	if err := r.loadIndex(hdr.indexEntryCount); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *segmentReader) loadIndex(count uint32) error {
	r.index = make([]sparseIndexEntry, 0, count)

	off := r.indexOffset
	var lastOffset int64 = -1
	for i := uint32(0); i < count; i++ {
		key, offset, n, err := readIndexEntry(r.f, off, r.fileSize)
		if err != nil {
			if cs, ok := err.(*CorruptSegment); ok {
				cs.Path = r.path
			}
			return err
		}
		if offset <= lastOffset {
			return newCorruptSegment(r.path, "sparse index offsets not strictly increasing")
		}
		lastOffset = offset

		r.index = append(r.index, sparseIndexEntry{key: key, offset: offset})
		off += n
	}
	return nil
}

// readIndexEntry reads one key_len/key/offset sparse-index entry
// starting at off, validating that it does not run past fileSize.
func readIndexEntry(f *os.File, off, fileSize int64) (key []byte, offset int64, n int64, err error) {
	var lenBuf [recordLenPrefixSize]byte
	if off+recordLenPrefixSize > fileSize {
		return nil, 0, 0, newCorruptSegment("", "index key length would overrun file")
	}
	if _, err := f.ReadAt(lenBuf[:], off); err != nil {
		return nil, 0, 0, newIoError("read index key length", err)
	}
	keyLen := int64(binary.LittleEndian.Uint32(lenBuf[:]))

	if off+recordLenPrefixSize+keyLen+8 > fileSize {
		return nil, 0, 0, newCorruptSegment("", "index entry would overrun file")
	}

	key = make([]byte, keyLen)
	if keyLen > 0 {
		if _, err := f.ReadAt(key, off+recordLenPrefixSize); err != nil {
			return nil, 0, 0, newIoError("read index key", err)
		}
	}

	var offBuf [8]byte
	if _, err := f.ReadAt(offBuf[:], off+recordLenPrefixSize+keyLen); err != nil {
		return nil, 0, 0, newIoError("read index offset", err)
	}
	offset = int64(binary.LittleEndian.Uint64(offBuf[:]))

	return key, offset, recordLenPrefixSize + keyLen + 8, nil
}

// Lookup returns the value for key, if present, scanning at most as many
// data records as the stride the segment was written with.
func (r *segmentReader) Lookup(key []byte) (value []byte, found bool, err error) {
	start, end := r.scanWindow(key)

	off := start
	for off < end {
		k, v, n, derr := readDataRecord(r.f, off)
		if derr != nil {
			return nil, false, newIoError("scan segment", derr)
		}
		if bytes.Equal(k, key) {
			return v, true, nil
		}
		off += n
	}
	return nil, false, nil
}

// scanWindow binary searches the sparse index, then derives the
// [start, end) byte range to linearly scan.
func (r *segmentReader) scanWindow(key []byte) (start, end int64) {
	n := len(r.index)
	i := sort.Search(n, func(i int) bool {
		return bytes.Compare(r.index[i].key, key) >= 0
	})

	if i < n && bytes.Equal(r.index[i].key, key) {
		start = r.index[i].offset
		if i+1 < n {
			end = r.index[i+1].offset
		} else {
			end = r.indexOffset
		}
		return start, end
	}

	if i > 0 {
		start = r.index[i-1].offset
	} else {
		start = segmentHeaderSize
	}
	if i < n {
		end = r.index[i].offset
	} else {
		end = r.indexOffset
	}
	return start, end
}

// readDataRecord reads one key_len/key/value_len/value record at off and
// returns its key, value and total byte length.
func readDataRecord(f *os.File, off int64) (key, value []byte, n int64, err error) {
	var lenBuf [recordLenPrefixSize]byte
	if _, err := f.ReadAt(lenBuf[:], off); err != nil {
		return nil, nil, 0, err
	}
	keyLen := int64(binary.LittleEndian.Uint32(lenBuf[:]))

	key = make([]byte, keyLen)
	if keyLen > 0 {
		if _, err := f.ReadAt(key, off+recordLenPrefixSize); err != nil {
			return nil, nil, 0, err
		}
	}

	valLenOff := off + recordLenPrefixSize + keyLen
	if _, err := f.ReadAt(lenBuf[:], valLenOff); err != nil {
		return nil, nil, 0, err
	}
	valLen := int64(binary.LittleEndian.Uint32(lenBuf[:]))

	value = make([]byte, valLen)
	if valLen > 0 {
		if _, err := f.ReadAt(value, valLenOff+recordLenPrefixSize); err != nil {
			return nil, nil, 0, err
		}
	}

	return key, value, 2*recordLenPrefixSize + keyLen + valLen, nil
}

// Close releases the segment's open file handle.
func (r *segmentReader) Close() error {
	return r.f.Close()
}

// dataStart returns the byte offset where a segment's data section
// begins, immediately after the fixed-size header.
func (r *segmentReader) dataStart() int64 {
	return segmentHeaderSize
}

// Path returns the path this reader was opened from.
func (r *segmentReader) Path() string {
	return r.path
}

// all decodes and returns every (key, value) record in the segment, in
// ascending key order, for use by the compactor's merge pass.
func (r *segmentReader) all() ([]struct {
	Key   []byte
	Value []byte
}, error) {
	var out []struct {
		Key   []byte
		Value []byte
	}
	off := r.dataStart()
	for off < r.indexOffset {
		k, v, n, err := readDataRecord(r.f, off)
		if err != nil {
			return nil, newIoError("read segment record", err)
		}
		out = append(out, struct {
			Key   []byte
			Value []byte
		}{Key: k, Value: v})
		off += n
	}
	return out, nil
}
