package lsmkv

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/lsmkv/lsmkv/internal/index"
)

// writeSegment serializes entries (already in ascending key order) into a
// new immutable segment file, atomically via temp-file + rename. On
// success it returns the final path; on any failure no final path
// appears and no temp file is left behind.
func writeSegment(dir string, entries []index.Entry, stride int, log *zap.SugaredLogger) (path string, err error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", newIoError("create segment directory", err)
	}

	now := time.Now()
	tmpPath, finalPath := segmentPaths(dir, now)
	// Names have millisecond resolution: step past any stamp already taken
	// so a second segment in the same millisecond neither replaces the
	// first on rename nor sorts ahead of it.
	for {
		if _, statErr := os.Stat(finalPath); statErr != nil {
			break
		}
		now = now.Add(time.Millisecond)
		tmpPath, finalPath = segmentPaths(dir, now)
	}

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return "", newIoError("create temp segment", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	if err = writeSegmentContents(f, entries, stride); err != nil {
		return "", newIoError("write segment contents", err)
	}
	if err = f.Sync(); err != nil {
		return "", newIoError("sync segment", err)
	}
	if err = f.Close(); err != nil {
		return "", newIoError("close segment", err)
	}

	if err = os.Rename(tmpPath, finalPath); err != nil {
		return "", newIoError("rename segment into place", err)
	}

	log.Infow("wrote segment", "path", finalPath, "entries", len(entries))
	return finalPath, nil
}

// writeSegmentContents writes the header placeholder, the data section,
// the sparse-index section, then seeks back and rewrites the header's
// index fields.
func writeSegmentContents(f *os.File, entries []index.Entry, stride int) error {
	if err := writeHeader(f, segmentHeader{
		magic:      segmentMagic,
		version:    segmentVersion,
		entryCount: uint32(len(entries)),
	}); err != nil {
		return fmt.Errorf("write placeholder header: %w", err)
	}

	type indexCandidate struct {
		key    []byte
		offset int64
	}
	var candidates []indexCandidate

	offset := int64(segmentHeaderSize)
	for i, e := range entries {
		if i%stride == 0 {
			candidates = append(candidates, indexCandidate{key: e.Key, offset: offset})
		}

		n, err := writeDataRecord(f, e.Key, e.Value)
		if err != nil {
			return fmt.Errorf("write data record %d: %w", i, err)
		}
		offset += n
	}

	indexOffset := offset
	for _, c := range candidates {
		if _, err := writeIndexEntry(f, c.key, c.offset); err != nil {
			return fmt.Errorf("write sparse index entry: %w", err)
		}
	}

	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek to header: %w", err)
	}
	if err := writeHeader(f, segmentHeader{
		magic:           segmentMagic,
		version:         segmentVersion,
		entryCount:      uint32(len(entries)),
		indexEntryCount: uint32(len(candidates)),
		indexOffset:     uint64(indexOffset),
	}); err != nil {
		return fmt.Errorf("rewrite header: %w", err)
	}
	if _, err := f.Seek(0, 2); err != nil {
		return fmt.Errorf("seek back to end: %w", err)
	}
	return nil
}

func writeHeader(w *os.File, h segmentHeader) error {
	var buf [segmentHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.version)
	binary.LittleEndian.PutUint32(buf[8:12], h.entryCount)
	binary.LittleEndian.PutUint32(buf[12:16], h.indexEntryCount)
	binary.LittleEndian.PutUint64(buf[16:24], h.indexOffset)
	_, err := w.Write(buf[:])
	return err
}

// writeDataRecord writes one key_len/key/value_len/value record and
// returns the number of bytes written.
func writeDataRecord(w *os.File, key, value []byte) (int64, error) {
	var keyLenBuf, valLenBuf [recordLenPrefixSize]byte
	binary.LittleEndian.PutUint32(keyLenBuf[:], uint32(len(key)))
	binary.LittleEndian.PutUint32(valLenBuf[:], uint32(len(value)))

	ew := &errWriter{Writer: w}
	ew.Write(keyLenBuf[:])
	ew.Write(key)
	ew.Write(valLenBuf[:])
	ew.Write(value)
	if ew.err != nil {
		return 0, ew.err
	}

	return int64(2*recordLenPrefixSize + len(key) + len(value)), nil
}

// writeIndexEntry writes one key_len/key/offset sparse-index entry and
// returns the number of bytes written.
func writeIndexEntry(w *os.File, key []byte, offset int64) (int64, error) {
	var lenBuf [recordLenPrefixSize]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(key)))
	var offBuf [8]byte
	binary.LittleEndian.PutUint64(offBuf[:], uint64(offset))

	ew := &errWriter{Writer: w}
	ew.Write(lenBuf[:])
	ew.Write(key)
	ew.Write(offBuf[:])
	if ew.err != nil {
		return 0, ew.err
	}

	return int64(recordLenPrefixSize+len(key)) + 8, nil
}
