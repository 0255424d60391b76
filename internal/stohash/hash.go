// Package stohash implements the open-chained hash map with embedded-element
// linkage used for outbound request-id correlation (internal/rpcpool) and
// operation-name lookup within a dispatch object (internal/dispatch).
//
// The bucket sizing, seed, and mixing algorithm are carried over unchanged
// from the C implementation this was distilled from (control/src/lib/sto_hash.c):
// bucket count is the next power of two at or above ceil(size*4/3), capped
// at 2^31, and each bucket is a singly-linked list with newly-added elements
// prepended. Go's slice of pointers replaces the intrusive LIST_HEAD/LIST_ENTRY
// macros; ownership of the element's storage is otherwise identical — this
// table never allocates an element itself (see ShashMap for the layer that
// does).
package stohash

import "errors"

// ErrNotEmpty is returned by Destroy when the table still holds elements.
var ErrNotEmpty = errors.New("stohash: table is not empty")

const maxBuckets = 1 << 31

// Elem is the embedded link every stored value carries. Callers embed Elem
// (or hold one alongside their value) and pass its address to Add/Remove.
type Elem struct {
	key  []byte
	next *Elem
	prev **Elem // address of the slot pointing at this elem, for O(1) unlink
}

func newElem(key []byte) *Elem {
	k := make([]byte, len(key))
	copy(k, key)
	return &Elem{key: k}
}

// Table is the generic open-chained hash map. The zero value is not usable;
// construct with New.
type Table struct {
	buckets []*Elem
	seed    uint32
	count   int
}

// New allocates a table sized for at least `size` elements before the load
// factor would force more collisions than the 4/3 target ratio implies.
func New(size uint32) *Table {
	n := bucketsFor(size)
	return &Table{buckets: make([]*Elem, n)}
}

func bucketsFor(size uint32) uint32 {
	val := (uint64(size)*4 + 2) / 3
	if val == 0 {
		val = 1
	}
	if val >= maxBuckets {
		return maxBuckets
	}
	return nextPow2(uint32(val))
}

func nextPow2(x uint32) uint32 {
	if x <= 1 {
		return 1
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	return x + 1
}

func (t *Table) bucketIndex(key []byte) uint32 {
	h := jenkinsLookup3(key, t.seed)
	return h & uint32(len(t.buckets)-1)
}

// Add links a new element for key into the table. The same key may be added
// more than once; Lookup returns whichever was added most recently.
func (t *Table) Add(key []byte) *Elem {
	e := newElem(key)
	t.insert(e)
	return e
}

func (t *Table) insert(e *Elem) {
	b := t.bucketIndex(e.key)
	head := &t.buckets[b]
	e.next = *head
	if e.next != nil {
		e.next.prev = &e.next
	}
	e.prev = head
	*head = e
	t.count++
}

// Lookup walks the bucket for key and returns the element whose stored key
// is byte-equal, or nil if none matches.
func (t *Table) Lookup(key []byte) *Elem {
	b := t.bucketIndex(key)
	for e := t.buckets[b]; e != nil; e = e.next {
		if bytesEqual(e.key, key) {
			return e
		}
	}
	return nil
}

// Remove unlinks e from its bucket. The caller owns whatever follows
// (freeing any wrapping struct); Remove only severs the embedded link.
func (t *Table) Remove(e *Elem) {
	*e.prev = e.next
	if e.next != nil {
		e.next.prev = e.prev
	}
	e.next = nil
	e.prev = nil
	t.count--
}

// Empty reports whether every bucket is empty.
func (t *Table) Empty() bool {
	return t.count == 0
}

// Len returns the number of linked elements.
func (t *Table) Len() int {
	return t.count
}

// Iterate calls fn once for every linked element, in unspecified order.
// Stops early if fn returns false.
func (t *Table) Iterate(fn func(e *Elem) bool) {
	for _, head := range t.buckets {
		for e := head; e != nil; {
			next := e.next
			if !fn(e) {
				return
			}
			e = next
		}
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// jenkinsLookup3 is a 32-bit one-at-a-time mix in the spirit of Bob
// Jenkins's lookup3, seeded per table the same way the C source seeds
// rte_jhash.
func jenkinsLookup3(key []byte, seed uint32) uint32 {
	hash := seed
	for _, b := range key {
		hash += uint32(b)
		hash += hash << 10
		hash ^= hash >> 6
	}
	hash += hash << 3
	hash ^= hash >> 11
	hash += hash << 15
	return hash
}
