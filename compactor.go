package lsmkv

import (
	"bytes"

	"go.uber.org/zap"

	"github.com/lsmkv/lsmkv/internal/index"
)

// compactSegments performs a full merge of every reader's contents into a
// single new segment written to dir, newest-segment-wins on key overlap.
// readers must be ordered newest-first, matching the engine's
// segment-reader list.
func compactSegments(dir string, readers []*segmentReader, stride int, log *zap.SugaredLogger) (path string, err error) {
	merged, err := mergeSegments(readers)
	if err != nil {
		return "", err
	}

	newPath, err := writeSegment(dir, merged, stride, log)
	if err != nil {
		return "", err
	}
	log.Infow("compacted segments", "inputs", len(readers), "output", newPath, "entries", len(merged))
	return newPath, nil
}

// mergeSegments N-way merges readers (newest-first) into one ascending,
// deduplicated slice of entries, keeping the newest reader's value when
// multiple segments hold the same key.
func mergeSegments(readers []*segmentReader) ([]index.Entry, error) {
	cursors := make([]*segmentCursor, len(readers))
	for i, r := range readers {
		entries, err := r.all()
		if err != nil {
			return nil, err
		}
		// order: the newest reader (index 0) gets the highest order value,
		// so that on a key tie the newest entry is the one retained below.
		cursors[i] = &segmentCursor{entries: entries, order: len(readers) - 1 - i}
	}

	h := newMergeHeap(len(cursors))
	for i, c := range cursors {
		if rec, ok := c.next(); ok {
			h.Insert(i, rec)
		}
	}

	var out []index.Entry
	var prev *mergeRecord
	for h.Size() != 0 {
		i, rec := h.Min()

		if prev == nil {
			prev = rec
		} else if !bytes.Equal(prev.key, rec.key) {
			out = append(out, index.Entry{Key: prev.key, Value: prev.value})
			prev = rec
		} else {
			// Equal keys pop from the heap in increasing order, so the
			// last one seen carries the highest order — the newest
			// segment — and its value shadows the rest.
			prev = rec
		}

		if next, ok := cursors[i].next(); ok {
			h.Insert(i, next)
		}
	}
	if prev != nil {
		out = append(out, index.Entry{Key: prev.key, Value: prev.value})
	}
	return out, nil
}

// segmentCursor walks one segment's already-sorted entries in order.
type segmentCursor struct {
	entries []struct {
		Key   []byte
		Value []byte
	}
	pos   int
	order int
}

func (c *segmentCursor) next() (*mergeRecord, bool) {
	if c.pos >= len(c.entries) {
		return nil, false
	}
	e := c.entries[c.pos]
	c.pos++
	return &mergeRecord{key: e.Key, value: e.Value, order: c.order}, true
}

// mergeRecord is one candidate record competing in the merge heap. order
// breaks ties between equal keys from different segments: the higher
// order wins, which corresponds to the newer segment.
type mergeRecord struct {
	key   []byte
	value []byte
	order int
}

// mergeHeap is an indexed binary min-heap ordering mergeRecords by key,
// then by order on a key tie. The number of comparisons for Insert and
// Min is proportional to at most log n.
type mergeHeap struct {
	n     int
	pq    []int
	qp    []int
	items []*mergeRecord
}

func newMergeHeap(n int) *mergeHeap {
	h := mergeHeap{
		pq:    make([]int, n+1),
		qp:    make([]int, n+1),
		items: make([]*mergeRecord, n+1),
	}
	for i := 0; i <= n; i++ {
		h.qp[i] = -1
	}
	return &h
}

// Insert adds item and associates it with stream index i.
func (h *mergeHeap) Insert(i int, item *mergeRecord) {
	h.n++
	h.qp[i] = h.n
	h.pq[h.n] = i
	h.items[i] = item
	h.swim(h.n)
}

// Min removes and returns the smallest item along with its stream index.
func (h *mergeHeap) Min() (int, *mergeRecord) {
	if h.Size() == 0 {
		return -1, nil
	}

	indexOfMin := h.pq[1]
	min := h.items[indexOfMin]

	h.exchange(1, h.n)
	h.n--
	h.sink(1)

	h.items[indexOfMin] = nil
	h.qp[indexOfMin] = -1
	h.pq[h.n+1] = -1

	return indexOfMin, min
}

func (h *mergeHeap) Size() int {
	return h.n
}

func (h *mergeHeap) greater(i, j int) bool {
	a, b := h.items[h.pq[i]], h.items[h.pq[j]]
	c := bytes.Compare(a.key, b.key)
	if c != 0 {
		return c > 0
	}
	return a.order > b.order
}

func (h *mergeHeap) exchange(i, j int) {
	swap := h.pq[i]
	h.pq[i] = h.pq[j]
	h.pq[j] = swap
	h.qp[h.pq[i]] = i
	h.qp[h.pq[j]] = j
}

func (h *mergeHeap) swim(k int) {
	for k > 1 && h.greater(k/2, k) {
		h.exchange(k, k/2)
		k = k / 2
	}
}

func (h *mergeHeap) sink(k int) {
	for 2*k <= h.n {
		j := 2 * k
		if j < h.n && h.greater(j, j+1) {
			j++
		}
		if !h.greater(k, j) {
			break
		}
		h.exchange(k, j)
		k = j
	}
}
