// Package memtable holds the sorted, in-memory view of recently written
// keys: MemTable (memtable.go) encodes each write as internal-key||value and
// inserts it into a SkipList (this file) ordered by the internal-key
// comparator, so a Get or iterator scan sees writes in the same order they
// would eventually be written to an SST.
//
// SkipList itself only knows about opaque, comparator-ordered byte strings;
// it has no notion of user keys, sequence numbers or value types. Reads are
// lock-free — concurrent Insert and iteration are safe without a mutex held
// on the read side — but Insert itself requires the caller (MemTable) to
// serialize writers. Nodes are append-only: once linked in, a node is never
// removed until the whole list is discarded.
package memtable

import (
	"bytes"
	"math/rand"
	"sync/atomic"
	"unsafe"
)

const (
	// DefaultMaxHeight bounds how many forward-pointer levels a node may
	// have; 12 levels comfortably covers memtables with millions of entries.
	DefaultMaxHeight = 12

	// DefaultBranchingFactor controls level promotion odds: roughly
	// 1-in-branchingFactor nodes at level i are also linked at level i+1.
	DefaultBranchingFactor = 4
)

// Comparator orders two opaque keys, returning <0, 0 or >0 for a<b, a==b,
// a>b respectively. MemTable supplies one built on compareMemTableEntries
// so ordering matches user-key-then-sequence semantics rather than plain
// byte order.
type Comparator func(a, b []byte) int

// BytewiseComparator orders keys by raw byte content; used directly by
// callers that don't need internal-key semantics (tests, standalone
// benchmarks).
func BytewiseComparator(a, b []byte) int {
	return bytes.Compare(a, b)
}

// skipNode holds one key and its forward pointer at each level it
// participates in. Pointers are atomic so readers can walk the list while an
// insert is still linking a new node in.
type skipNode struct {
	key  []byte
	next []*atomic.Pointer[skipNode]
}

func newSkipNode(key []byte, height int) *skipNode {
	node := &skipNode{key: key, next: make([]*atomic.Pointer[skipNode], height)}
	for i := range node.next {
		node.next[i] = &atomic.Pointer[skipNode]{}
	}
	return node
}

func (n *skipNode) getNext(level int) *skipNode { return n.next[level].Load() }

func (n *skipNode) setNext(level int, node *skipNode) { n.next[level].Store(node) }

// Size estimates the node's memory footprint: key bytes plus the slice
// header and forward-pointer array overhead. MemTable.Add does not use it;
// it charges each entry its encoded length plus a flat 64 bytes.
func (n *skipNode) Size() int {
	if n == nil {
		return 0
	}
	return len(n.key) + int(unsafe.Sizeof([]byte{})) + len(n.next)*int(unsafe.Sizeof(&atomic.Pointer[skipNode]{}))
}

// SkipList is an ordered set of byte strings with lock-free reads.
type SkipList struct {
	head      *skipNode
	maxHeight int32 // highest level currently in use, read/written atomically
	compare   Comparator
	rng       *rand.Rand

	kMaxHeight  int
	kBranching  int
	kScaledInvB uint32 // (1<<32)/branchingFactor, compared against rng output

	count int64
}

// NewSkipList builds a list with DefaultMaxHeight/DefaultBranchingFactor.
func NewSkipList(cmp Comparator) *SkipList {
	return NewSkipListWithParams(cmp, DefaultMaxHeight, DefaultBranchingFactor)
}

// NewSkipListWithParams builds a list with explicit height/branching
// parameters, falling back to the defaults for non-positive values.
func NewSkipListWithParams(cmp Comparator, maxHeight, branchingFactor int) *SkipList {
	if cmp == nil {
		cmp = BytewiseComparator
	}
	if maxHeight <= 0 {
		maxHeight = DefaultMaxHeight
	}
	if branchingFactor <= 0 {
		branchingFactor = DefaultBranchingFactor
	}

	return &SkipList{
		head:        newSkipNode(nil, maxHeight),
		maxHeight:   1,
		compare:     cmp,
		rng:         rand.New(rand.NewSource(0xDEADBEEF)),
		kMaxHeight:  maxHeight,
		kBranching:  branchingFactor,
		kScaledInvB: uint32(0xFFFFFFFF) / uint32(branchingFactor),
	}
}

// Insert links key into the list at a randomly chosen height. The caller
// (MemTable) serializes writers. A key that compares equal to one already
// present is not inserted again and the count is unchanged.
func (sl *SkipList) Insert(key []byte) {
	prev := make([]*skipNode, sl.kMaxHeight)
	x := sl.findGreaterOrEqual(key, prev)
	if x != nil && sl.compare(key, x.key) == 0 {
		return
	}

	height := sl.randomHeight()
	if maxH := int(atomic.LoadInt32(&sl.maxHeight)); height > maxH {
		for i := maxH; i < height; i++ {
			prev[i] = sl.head
		}
		atomic.StoreInt32(&sl.maxHeight, int32(height))
	}

	node := newSkipNode(key, height)
	for i := range height {
		node.setNext(i, prev[i].getNext(i))
		prev[i].setNext(i, node)
	}

	atomic.AddInt64(&sl.count, 1)
}

// Contains reports whether key is present.
func (sl *SkipList) Contains(key []byte) bool {
	x := sl.findGreaterOrEqual(key, nil)
	return x != nil && sl.compare(key, x.key) == 0
}

// Count reports the number of entries currently linked into the list.
func (sl *SkipList) Count() int64 { return atomic.LoadInt64(&sl.count) }

// findGreaterOrEqual walks down from the top level to find the first node
// with key >= the target, filling prev[level] with the node just before it
// at each level (used by Insert to splice a new node in).
func (sl *SkipList) findGreaterOrEqual(key []byte, prev []*skipNode) *skipNode {
	x := sl.head
	level := int(atomic.LoadInt32(&sl.maxHeight)) - 1

	for {
		next := x.getNext(level)
		if next != nil && sl.compare(key, next.key) > 0 {
			x = next
			continue
		}
		if prev != nil {
			prev[level] = x
		}
		if level == 0 {
			return next
		}
		level--
	}
}

// findLessThan returns the last node strictly before key, or nil if key is
// smaller than every entry.
func (sl *SkipList) findLessThan(key []byte) *skipNode {
	x := sl.head
	level := int(atomic.LoadInt32(&sl.maxHeight)) - 1

	for {
		next := x.getNext(level)
		if next != nil && sl.compare(next.key, key) < 0 {
			x = next
			continue
		}
		if level == 0 {
			if x == sl.head {
				return nil
			}
			return x
		}
		level--
	}
}

// findLast returns the last node in the list, or nil if it is empty.
func (sl *SkipList) findLast() *skipNode {
	x := sl.head
	level := int(atomic.LoadInt32(&sl.maxHeight)) - 1

	for {
		next := x.getNext(level)
		if next != nil {
			x = next
			continue
		}
		if level == 0 {
			if x == sl.head {
				return nil
			}
			return x
		}
		level--
	}
}

// randomHeight draws a node height using independent branchingFactor-odds
// coin flips per level, capped at kMaxHeight.
func (sl *SkipList) randomHeight() int {
	height := 1
	for height < sl.kMaxHeight && sl.rng.Uint32() < sl.kScaledInvB {
		height++
	}
	return height
}

// Iterator walks a SkipList's entries in comparator order. The zero value is
// invalid until a Seek/SeekToFirst/SeekToLast call positions it.
type Iterator struct {
	list *SkipList
	node *skipNode
}

// NewIterator returns an unpositioned iterator over sl.
func (sl *SkipList) NewIterator() *Iterator { return &Iterator{list: sl} }

// Valid reports whether the iterator is positioned on an entry.
func (it *Iterator) Valid() bool { return it.node != nil }

// Key returns the entry at the current position. REQUIRES Valid().
func (it *Iterator) Key() []byte {
	if it.node == nil {
		return nil
	}
	return it.node.key
}

// Next moves to the following entry. REQUIRES Valid().
func (it *Iterator) Next() {
	if it.node != nil {
		it.node = it.node.getNext(0)
	}
}

// Prev moves to the preceding entry. REQUIRES Valid(). This is O(log n), not
// O(1): the list only has forward pointers, so moving backward means
// re-walking from head via findLessThan.
func (it *Iterator) Prev() {
	if it.node != nil {
		it.node = it.list.findLessThan(it.node.key)
	}
}

// Seek positions at the first entry >= target.
func (it *Iterator) Seek(target []byte) {
	it.node = it.list.findGreaterOrEqual(target, nil)
}

// SeekForPrev positions at the last entry <= target.
func (it *Iterator) SeekForPrev(target []byte) {
	it.Seek(target)
	switch {
	case !it.Valid():
		it.SeekToLast() // every key is < target
	case it.list.compare(it.node.key, target) > 0:
		it.Prev() // landed past target, step back
	}
}

// SeekToFirst positions at the smallest entry.
func (it *Iterator) SeekToFirst() { it.node = it.list.head.getNext(0) }

// SeekToLast positions at the largest entry.
func (it *Iterator) SeekToLast() { it.node = it.list.findLast() }
