package rowkey

// Table maps keys to values. Keys sharing a hash live in one bucket and are told
// apart with Equal, so a hash collision never merges two identities.
type Table[V any] struct {
	buckets map[uint64][]entry[V]
	size    int
}

type entry[V any] struct {
	key   *Key
	value V
}

// NewTable creates an empty table.
func NewTable[V any]() *Table[V] {
	return &Table[V]{buckets: make(map[uint64][]entry[V])}
}

// Get returns the value stored under key.
func (t *Table[V]) Get(key *Key) (V, bool) {
	var zero V
	if key.IsNull() {
		return zero, false
	}
	for _, e := range t.buckets[key.hashcode] {
		if e.key.Equal(key) {
			return e.value, true
		}
	}
	return zero, false
}

// Put stores value under key, replacing an equal key. The null key is ignored.
func (t *Table[V]) Put(key *Key, value V) {
	if key.IsNull() {
		return
	}
	bucket := t.buckets[key.hashcode]
	for i := range bucket {
		if bucket[i].key.Equal(key) {
			bucket[i].value = value
			return
		}
	}
	t.buckets[key.hashcode] = append(bucket, entry[V]{key: key.Clone(), value: value})
	t.size++
}

// Delete removes key and reports whether it was present.
func (t *Table[V]) Delete(key *Key) bool {
	if key.IsNull() {
		return false
	}
	bucket := t.buckets[key.hashcode]
	for i := range bucket {
		if bucket[i].key.Equal(key) {
			bucket = append(bucket[:i], bucket[i+1:]...)
			if len(bucket) == 0 {
				delete(t.buckets, key.hashcode)
			} else {
				t.buckets[key.hashcode] = bucket
			}
			t.size--
			return true
		}
	}
	return false
}

// Len is the number of stored keys.
func (t *Table[V]) Len() int {
	return t.size
}

// Clear drops every entry.
func (t *Table[V]) Clear() {
	clear(t.buckets)
	t.size = 0
}
