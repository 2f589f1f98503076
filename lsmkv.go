// Package lsmkv is an embedded, single-node, persistent key/value store
// built on a log-structured merge architecture: a write-ahead log for
// durability, an in-memory memtable for fast writes, and immutable sorted
// on-disk segments with a sparse index for reads.
package lsmkv

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/lsmkv/lsmkv/internal/index"
)

const walFileName = "wal.log"

// Engine is a single open instance of the store, rooted at one directory
// on disk. The zero value is not usable; construct one with Open.
type Engine struct {
	dir string
	cfg Config
	log *zap.SugaredLogger

	memMu            sync.RWMutex
	memtable         *index.Memtable
	flushingMemtable *index.Memtable

	w *wal

	segMu    sync.Mutex
	segments atomic.Value // []*segmentReader, newest-first

	flushSem   *semaphore.Weighted
	compactSem *semaphore.Weighted
	flushNotif chan struct{}

	g      *errgroup.Group
	cancel context.CancelFunc
}

// Open opens (creating if necessary) a store rooted at dir. Any existing
// segment files are loaded newest-first; any existing WAL is replayed
// into a fresh memtable before new writes are accepted.
func Open(dir string, opts ...ConfigOption) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxMemtableSize <= 0 {
		return nil, newBadArgument("maxMemtableSize", "must be positive")
	}
	if cfg.sparseIndexStride <= 0 {
		return nil, newBadArgument("sparseIndexStride", "must be positive")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, newIoError("create database directory", err)
	}

	e := &Engine{
		dir:        dir,
		cfg:        cfg,
		log:        cfg.logger,
		memtable:   index.New(cfg.maxMemtableSize),
		flushSem:   semaphore.NewWeighted(1),
		compactSem: semaphore.NewWeighted(1),
		flushNotif: make(chan struct{}, 1),
	}

	readers, err := openExistingSegments(dir, e.log)
	if err != nil {
		return nil, err
	}
	e.segments.Store(readers)

	walPath := filepath.Join(dir, walFileName)
	if cfg.walEnabled {
		entries, err := replayWAL(walPath, e.log)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			e.memtable.Insert(entry.Key, entry.Value)
		}

		w, err := openWAL(walPath, e.log)
		if err != nil {
			return nil, err
		}
		e.w = w
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	e.g = g
	e.cancel = cancel
	g.Go(func() error {
		return e.runFlushWorker(ctx)
	})

	return e, nil
}

// openExistingSegments lists dir for segment files, sorts them
// newest-first, and opens a reader for each, logging and skipping any
// that fail header validation rather than failing Open outright.
func openExistingSegments(dir string, log *zap.SugaredLogger) ([]*segmentReader, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, newIoError("list database directory", err)
	}

	var names []string
	for _, ent := range ents {
		if !ent.IsDir() && isSegmentFile(ent.Name()) {
			names = append(names, ent.Name())
		}
	}
	sortSegmentNamesNewestFirst(names)

	readers := make([]*segmentReader, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		r, err := openSegmentReader(path, log)
		if err != nil {
			log.Warnw("skipping unreadable segment at open", "path", path, "error", err)
			continue
		}
		readers = append(readers, r)
	}
	return readers, nil
}

// runFlushWorker is the background actor that rotates and flushes the
// memtable once it fills up. Notifications are ignored while a flush is
// already in flight. A flush failure is logged and the affected WAL is
// left untruncated for replay at the next open (see flushOnce), but the
// worker itself keeps running: a transient I/O error must not disable
// all future background flushing for the remaining life of the engine.
func (e *Engine) runFlushWorker(ctx context.Context) error {
	for {
		select {
		case <-e.flushNotif:
			if !e.flushSem.TryAcquire(1) {
				continue
			}
			err := e.flushOnce()
			e.flushSem.Release(1)
			if err != nil {
				e.log.Errorw("background flush failed, will retry on next rotation", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Engine) triggerFlush() {
	select {
	case e.flushNotif <- struct{}{}:
	default:
	}
}

// Put durably appends (key, value) to the write-ahead log, then applies
// it to the current memtable, then — if the memtable has reached its
// byte budget — signals the background worker to flush it to a new
// segment. It does not block on that flush: Put returns as soon as the
// memtable has been updated.
func (e *Engine) Put(key, value []byte) error {
	if e.cfg.walEnabled {
		if err := e.w.Append(key, value); err != nil {
			return err
		}
	}

	e.memMu.Lock()
	e.memtable.Insert(key, value)
	full := e.memtable.IsFull()
	e.memMu.Unlock()

	if full {
		e.triggerFlush()
	}
	return nil
}

// Get returns the value for key, probing the current memtable, any
// in-flight frozen memtable, then every segment newest-first. It returns
// ErrKeyNotFound if key has no live value anywhere.
func (e *Engine) Get(key []byte) ([]byte, error) {
	e.memMu.RLock()
	value, ok := e.memtable.Lookup(key)
	if !ok && e.flushingMemtable != nil {
		value, ok = e.flushingMemtable.Lookup(key)
	}
	e.memMu.RUnlock()
	if ok {
		return value, nil
	}

	segs := e.segments.Load().([]*segmentReader)
	for _, s := range segs {
		value, ok, err := s.Lookup(key)
		if err != nil {
			return nil, err
		}
		if ok {
			return value, nil
		}
	}

	return nil, ErrKeyNotFound
}

// Flush synchronously rotates the current memtable out and writes it to
// a new segment, waiting for any in-flight background flush to finish
// first. A Flush with nothing to write is a cheap no-op.
func (e *Engine) Flush() error {
	ctx := context.Background()
	if err := e.flushSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.flushSem.Release(1)
	return e.flushOnce()
}

// flushOnce does the actual work of freezing the memtable, writing it to
// a new segment, publishing that segment and truncating the WAL. Callers
// must hold flushSem.
func (e *Engine) flushOnce() error {
	e.memMu.Lock()
	if e.memtable.Len() == 0 {
		e.memMu.Unlock()
		return nil
	}
	frozen := e.memtable
	e.flushingMemtable = frozen
	e.memtable = index.New(e.cfg.maxMemtableSize)
	e.memMu.Unlock()

	entries := frozen.DrainSorted()
	path, err := writeSegment(e.dir, entries, e.cfg.sparseIndexStride, e.log)
	if err != nil {
		return err
	}

	reader, err := openSegmentReader(path, e.log)
	if err != nil {
		return err
	}

	e.segMu.Lock()
	cur := e.segments.Load().([]*segmentReader)
	updated := make([]*segmentReader, 0, len(cur)+1)
	updated = append(updated, reader)
	updated = append(updated, cur...)
	e.segments.Store(updated)
	e.segMu.Unlock()

	if e.cfg.walEnabled {
		if err := e.w.TruncateAndReopen(); err != nil {
			return err
		}
	}

	e.memMu.Lock()
	e.flushingMemtable = nil
	e.memMu.Unlock()

	return nil
}

// Compact forces a foreground flush, then merges every current segment
// into one, newest-segment-wins on key overlap. It blocks if another
// compaction is already running rather than erroring out.
func (e *Engine) Compact() error {
	if err := e.Flush(); err != nil {
		return err
	}

	ctx := context.Background()
	if err := e.compactSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.compactSem.Release(1)

	e.segMu.Lock()
	snapshot := append([]*segmentReader(nil), e.segments.Load().([]*segmentReader)...)
	e.segMu.Unlock()

	if len(snapshot) <= 1 {
		return nil
	}

	newPath, err := compactSegments(e.dir, snapshot, e.cfg.sparseIndexStride, e.log)
	if err != nil {
		return err
	}

	newReader, err := openSegmentReader(newPath, e.log)
	if err != nil {
		return err
	}

	merged := make(map[*segmentReader]bool, len(snapshot))
	for _, s := range snapshot {
		merged[s] = true
	}

	// Only one compaction can run at a time (compactSem above) and segments
	// are only ever prepended to the front of the list, so every reader in
	// cur that is not part of merged was flushed concurrently with this
	// compaction's merge+write and is strictly newer than newReader. Those
	// must stay ordered ahead of newReader, not behind it, or Get would
	// find the compacted (stale) value before the fresher one.
	e.segMu.Lock()
	cur := e.segments.Load().([]*segmentReader)
	updated := make([]*segmentReader, 0, len(cur)-len(snapshot)+2)
	for _, s := range cur {
		if !merged[s] {
			updated = append(updated, s)
		}
	}
	updated = append(updated, newReader)
	e.segments.Store(updated)
	e.segMu.Unlock()

	// Any Get already holding the pre-compaction slice (loaded before the
	// Store above) keeps using these readers until it finishes; only once
	// they are closed and unlinked below do we reclaim their disk space.
	for _, s := range snapshot {
		path := s.Path()
		if err := s.Close(); err != nil {
			e.log.Warnw("close merged segment", "path", path, "error", err)
		}
		if err := os.Remove(path); err != nil {
			e.log.Warnw("remove merged segment", "path", path, "error", err)
		}
	}
	return nil
}

// Close flushes any remaining data, stops the background worker and
// releases all open file handles. It is safe to call Close without
// having flushed manually first.
func (e *Engine) Close() error {
	var flushErr error
	if flushErr = e.Flush(); flushErr != nil {
		e.log.Errorw("flush during close failed", "error", flushErr)
	}

	e.cancel()
	if err := e.g.Wait(); err != nil && err != context.Canceled {
		return err
	}

	if e.cfg.walEnabled {
		if err := e.w.Close(); err != nil {
			return err
		}
	}

	segs := e.segments.Load().([]*segmentReader)
	for _, s := range segs {
		if err := s.Close(); err != nil {
			e.log.Warnw("close segment reader", "path", s.Path(), "error", err)
		}
	}

	return flushErr
}
