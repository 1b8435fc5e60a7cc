package indexer

import "sync"

// dedupeSet suppresses identical content seen under different paths: the
// first path to produce a given content hash wins, later paths with the
// same hash are reported as duplicates rather than indexed again.
type dedupeSet struct {
	mu   sync.Mutex
	seen map[string]string
}

func newDedupeSet() *dedupeSet {
	return &dedupeSet{seen: make(map[string]string)}
}

// check reports the original path for hash if one was already recorded,
// and records path as the owner if this is the first time hash is seen.
func (d *dedupeSet) check(hash, path string) (originalPath string, duplicate bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.seen[hash]; ok {
		return existing, true
	}
	d.seen[hash] = path
	return path, false
}

func (d *dedupeSet) forget(hash string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, hash)
}

func (d *dedupeSet) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
