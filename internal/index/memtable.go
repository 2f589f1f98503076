package index

// recordOverhead is the fixed per-record bookkeeping cost charged against
// the approximate byte counter: the two 4-byte length prefixes a record
// would occupy on disk (in the WAL and in a segment).
const recordOverhead = 8

// Memtable is the mutable, ordered in-memory buffer that receives new
// writes until it is frozen and flushed. It is single-writer: only the
// engine's put path mutates it, and it is frozen (handed to the flush
// worker) instead of being copied, so there is no internal locking here —
// the engine's write lock is what makes this safe.
type Memtable struct {
	sl     *skipList
	size   int
	budget int
}

// New creates an empty memtable with the given approximate byte budget.
func New(budget int) *Memtable {
	return &Memtable{sl: newSkipList(), budget: budget}
}

// Insert overwrites any existing value for key and updates the
// approximate byte-size counter by the delta: new key+value length minus
// old key+value length, plus the two-length-prefix overhead for a
// brand-new key.
func (m *Memtable) Insert(key, value []byte) {
	prev, existed := m.sl.set(key, value)
	if existed {
		m.size += len(value) - len(prev)
		return
	}
	m.size += len(key) + len(value) + recordOverhead
}

// Lookup returns the value for key and whether it was found.
func (m *Memtable) Lookup(key []byte) (value []byte, ok bool) {
	return m.sl.get(key)
}

// ApproxSizeBytes returns the running approximate byte-size estimate.
func (m *Memtable) ApproxSizeBytes() int {
	return m.size
}

// IsFull reports whether the memtable has reached its configured byte
// budget.
func (m *Memtable) IsFull() bool {
	return m.size >= m.budget
}

// Len returns the number of distinct keys currently held.
func (m *Memtable) Len() int {
	return m.sl.length
}

// Entry is one (key, value) pair yielded by DrainSorted.
type Entry struct {
	Key   []byte
	Value []byte
}

// DrainSorted returns every entry in ascending key order. Despite the
// name, it does not mutate the memtable: a frozen memtable is read by the
// flush worker and, until the flush completes, may still be consulted by
// concurrent reads, so clearing it out from under a reader would be
// unsafe.
func (m *Memtable) DrainSorted() []Entry {
	entries := make([]Entry, 0, m.sl.length)
	m.sl.ascend(func(key, value []byte) bool {
		entries = append(entries, Entry{Key: key, Value: value})
		return true
	})
	return entries
}
