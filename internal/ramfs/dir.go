package ramfs

import (
	"github.com/cespare/xxhash/v2"
)

// dirEntry is one (hash, name, inode) triple, spec §4.8.
type dirEntry struct {
	hash uint64
	name string
	ino  uint64
}

// dirTable is a chained hash table of directory entries, generalizing the
// spec's Jenkins-one-at-a-time scheme onto xxhash (the teacher pulls
// cespare/xxhash transitively; reusing the real, fast, well-tested hash
// rather than hand-rolling Jenkins's algorithm).
type dirTable struct {
	htcap   int
	buckets [][]dirEntry
	size    int
}

func newDirTable(htcap int) *dirTable {
	return &dirTable{htcap: htcap, buckets: make([][]dirEntry, htcap)}
}

func nameHash(name string) uint64 {
	return xxhash.Sum64String(name)
}

func (t *dirTable) bucketFor(name string) int {
	return int(nameHash(name) % uint64(t.htcap))
}

// Insert adds name -> ino, replacing any existing entry of the same name
// (spec §4.8's link_inode is an upsert at the VFS layer; ramfs itself just
// stores the pair).
func (t *dirTable) Insert(name string, ino uint64) {
	b := t.bucketFor(name)
	for i, e := range t.buckets[b] {
		if e.name == name {
			t.buckets[b][i].ino = ino
			return
		}
	}
	t.buckets[b] = append(t.buckets[b], dirEntry{hash: nameHash(name), name: name, ino: ino})
	t.size++
}

func (t *dirTable) Lookup(name string) (uint64, bool) {
	b := t.bucketFor(name)
	for _, e := range t.buckets[b] {
		if e.name == name {
			return e.ino, true
		}
	}
	return 0, false
}

// Remove deletes name, reporting whether it was present.
func (t *dirTable) Remove(name string) bool {
	b := t.bucketFor(name)
	for i, e := range t.buckets[b] {
		if e.name == name {
			t.buckets[b] = append(t.buckets[b][:i], t.buckets[b][i+1:]...)
			t.size--
			return true
		}
	}
	return false
}

// iterOrder returns every entry in bucket-then-insertion order; stable
// enough for get_direntry's monotonically-advancing iterator cursor, not
// claimed to be sorted.
func (t *dirTable) iterOrder() []dirEntry {
	var out []dirEntry
	for _, b := range t.buckets {
		out = append(out, b...)
	}
	return out
}
