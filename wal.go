package lsmkv

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/lsmkv/lsmkv/internal/index"
)

// wal is the write-ahead log: an append-only file of length-prefixed
// (key, value) records. It makes every accepted put durable before
// Engine.Put returns, and lets the engine reconstruct the current
// memtable after a crash.
//
// Append, TruncateAndReopen and Close all take the same mutex, so a
// reopen can never race with a concurrent append or close.
type wal struct {
	path string
	log  *zap.SugaredLogger

	mu sync.Mutex
	f  *os.File
}

// openWAL opens (creating if necessary) path for appending and returns a
// ready-to-use wal. Callers that need to recover prior contents should
// call replayWAL first.
func openWAL(path string, log *zap.SugaredLogger) (*wal, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, newIoError("open wal", err)
	}
	return &wal{path: path, log: log, f: f}, nil
}

// Append writes a length-prefixed record to the WAL file and durably
// flushes it before returning. Serialized under the WAL's own lock;
// concurrent callers are ordered arbitrarily but each call is atomic.
func (w *wal) Append(key, value []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf := encodeRecord(key, value)
	if _, err := w.f.Write(buf); err != nil {
		return newIoError("append wal record", err)
	}
	if err := w.f.Sync(); err != nil {
		return newIoError("sync wal", err)
	}
	return nil
}

// TruncateAndReopen closes the current append handle, truncates the file
// to zero length, then reopens an empty append handle. Called once a
// flush has durably written the memtable's contents to a new segment.
func (w *wal) TruncateAndReopen() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.f.Close(); err != nil {
		return newIoError("close wal before truncate", err)
	}

	f, err := os.OpenFile(w.path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return newIoError("truncate wal", err)
	}
	w.f = f
	return nil
}

// Close flushes and closes the append handle without truncating.
func (w *wal) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// encodeRecord frames a (key, value) pair as keyLen(i32) key valueLen(i32)
// value, the same framing a segment's data records use.
func encodeRecord(key, value []byte) []byte {
	buf := make([]byte, 0, 2*recordLenPrefixSize+len(key)+len(value))
	var lenBuf [recordLenPrefixSize]byte

	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(key)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, key...)

	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(value)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, value...)

	return buf
}

// replayWAL reads every well-formed record from path in file order. A
// missing file yields no entries and no error (there is nothing to
// recover). A short read or a length field that would overrun the file —
// a torn tail left by a crash mid-write — stops replay cleanly without
// error, discarding the incomplete trailing record.
func replayWAL(path string, log *zap.SugaredLogger) ([]index.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, newIoError("open wal for replay", err)
	}
	defer f.Close()

	var entries []index.Entry
	r := bufio.NewReader(f)
	for {
		key, value, ok, err := readRecord(r)
		if err != nil {
			log.Warnw("wal replay stopped on read error", "path", path, "error", err)
			break
		}
		if !ok {
			break
		}
		entries = append(entries, index.Entry{Key: key, Value: value})
	}
	return entries, nil
}

// readRecord reads one length-prefixed (key, value) record from r. ok is
// false, with a nil error, when the stream ends cleanly at a record
// boundary or is torn mid-record (a short read anywhere counts as a torn
// tail, never an error). err is only non-nil for a genuine I/O failure
// unrelated to reaching the end of the stream.
func readRecord(r *bufio.Reader) (key, value []byte, ok bool, err error) {
	key, complete, err := readLengthPrefixed(r)
	if err != nil || !complete {
		return nil, nil, false, err
	}
	value, complete, err = readLengthPrefixed(r)
	if err != nil || !complete {
		return nil, nil, false, err
	}
	return key, value, true, nil
}

// readLengthPrefixed reads one (len uint32 LE, bytes) field. complete is
// false when the field is torn (EOF inside the length prefix or inside
// the payload); that is not reported as an error. Any other read error is
// returned.
func readLengthPrefixed(r *bufio.Reader) (data []byte, complete bool, err error) {
	var lenBuf [recordLenPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, false, nil
		}
		return nil, false, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])

	data = make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}
