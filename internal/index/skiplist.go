// Package index provides the in-memory ordered buffer the engine calls a
// memtable: an ordered map with O(log n) insert/lookup and in-order
// traversal, backed by a skip list rather than a balanced tree since it
// needs no rebalancing logic to stay correct under single-writer
// mutation.
package index

import (
	"bytes"
	"math/rand"
	"time"
)

const (
	maxLevel    = 32
	probability = 0.25
)

type skipNode struct {
	key   []byte
	value []byte
	next  []*skipNode
}

// skipList is a sorted singly-linked set of towers keyed by raw byte
// strings, compared with bytes.Compare. It is not safe for concurrent
// use; the memtable above it is single-writer by design.
type skipList struct {
	head   *skipNode
	level  int
	length int
	rnd    *rand.Rand
}

func newSkipList() *skipList {
	return &skipList{
		head:  &skipNode{next: make([]*skipNode, maxLevel)},
		level: 1,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *skipList) randomLevel() int {
	lvl := 1
	for lvl < maxLevel && s.rnd.Float64() < probability {
		lvl++
	}
	return lvl
}

// search locates the predecessor chain for key, filling update with the
// last node at each level whose key is strictly less than key. It returns
// the node that would follow the update chain at level 0, which is the
// exact match if one exists.
func (s *skipList) search(key []byte, update []*skipNode) *skipNode {
	x := s.head
	for i := s.level - 1; i >= 0; i-- {
		for x.next[i] != nil && bytes.Compare(x.next[i].key, key) < 0 {
			x = x.next[i]
		}
		update[i] = x
	}
	return x.next[0]
}

// set inserts key/value, overwriting any existing value for key. It
// returns the previous value and whether the key already existed, so the
// caller can compute a byte-size delta.
func (s *skipList) set(key, value []byte) (prev []byte, existed bool) {
	update := make([]*skipNode, maxLevel)
	node := s.search(key, update)

	if node != nil && bytes.Equal(node.key, key) {
		prev = node.value
		node.value = value
		return prev, true
	}

	lvl := s.randomLevel()
	if lvl > s.level {
		for i := s.level; i < lvl; i++ {
			update[i] = s.head
		}
		s.level = lvl
	}

	n := &skipNode{key: key, value: value, next: make([]*skipNode, lvl)}
	for i := 0; i < lvl; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
	}
	s.length++
	return nil, false
}

func (s *skipList) get(key []byte) ([]byte, bool) {
	x := s.head
	for i := s.level - 1; i >= 0; i-- {
		for x.next[i] != nil && bytes.Compare(x.next[i].key, key) < 0 {
			x = x.next[i]
		}
	}
	x = x.next[0]
	if x != nil && bytes.Equal(x.key, key) {
		return x.value, true
	}
	return nil, false
}

// ascend walks the skip list in ascending key order, calling fn for each
// entry until fn returns false or the list is exhausted.
func (s *skipList) ascend(fn func(key, value []byte) bool) {
	for x := s.head.next[0]; x != nil; x = x.next[0] {
		if !fn(x.key, x.value) {
			return
		}
	}
}
