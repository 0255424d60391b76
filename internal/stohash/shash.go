package stohash

// entry is the small struct the string-keyed wrapper allocates around each
// embedded element, carrying the caller's value alongside the link node —
// the direct analogue of struct sto_hash_entry in sto_hash.c.
type entry[V any] struct {
	elem  *Elem
	value V
}

// ShashMap is the string-keyed hash map wrapper: it owns its own entry
// storage (key + value) around an embedded Table element, so callers never
// manage linkage themselves. Used for outbound request-id correlation
// (internal/rpcpool) and for an object's op-name table (internal/dispatch).
type ShashMap[V any] struct {
	table   *Table
	entries map[*Elem]*entry[V]
}

// NewShashMap allocates a wrapper sized for approximately `size` entries.
func NewShashMap[V any](size uint32) *ShashMap[V] {
	return &ShashMap[V]{
		table:   New(size),
		entries: make(map[*Elem]*entry[V]),
	}
}

// Add links value under key. Adding a key that is already present does not
// replace the earlier entry: Lookup and Remove act on the most recently
// added one, and the earlier one becomes visible again once it is removed.
func (m *ShashMap[V]) Add(key string, value V) {
	e := m.table.Add([]byte(key))
	m.entries[e] = &entry[V]{elem: e, value: value}
}

// Lookup returns the value stored under key and whether it was found.
func (m *ShashMap[V]) Lookup(key string) (V, bool) {
	var zero V
	e := m.table.Lookup([]byte(key))
	if e == nil {
		return zero, false
	}
	ent, ok := m.entries[e]
	if !ok {
		return zero, false
	}
	return ent.value, true
}

// Remove unlinks and frees the entry stored under key, if any.
func (m *ShashMap[V]) Remove(key string) {
	e := m.table.Lookup([]byte(key))
	if e == nil {
		return
	}
	m.table.Remove(e)
	delete(m.entries, e)
}

// Clear walks every bucket, freeing all entries.
func (m *ShashMap[V]) Clear() {
	m.table.Iterate(func(e *Elem) bool {
		m.table.Remove(e)
		delete(m.entries, e)
		return true
	})
}

// Destroy releases an empty table. It does not clear a table that still
// holds entries: it leaves it as is and reports ErrNotEmpty instead of
// the C source's silent-log-and-free-anyway behavior — spec.md's own
// invariant requires the table be empty before destruction, and leaving
// that unenforced buries use-after-intended-release bugs.
func (m *ShashMap[V]) Destroy() error {
	if !m.table.Empty() {
		return ErrNotEmpty
	}
	m.entries = nil
	m.table = nil
	return nil
}

// Len returns the number of entries currently stored.
func (m *ShashMap[V]) Len() int {
	return m.table.Len()
}

// Iterate calls fn once per (key, value) pair in unspecified order. Stops
// early if fn returns false.
func (m *ShashMap[V]) Iterate(fn func(key string, value V) bool) {
	m.table.Iterate(func(e *Elem) bool {
		ent := m.entries[e]
		return fn(string(e.key), ent.value)
	})
}
