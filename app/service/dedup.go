package service

import (
	"sync"
)

// deDup is a thread safe set of unique keys delivered to the scheduler, prevents double delivery
// when a failed replay is repeated
type deDup struct {
	seen map[string]struct{}
	lock sync.Mutex
}

func newDeDup() *deDup {
	return &deDup{seen: make(map[string]struct{})}
}

// Add registers key, fails if already in
func (d *deDup) Add(key string) bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	if _, found := d.seen[key]; found {
		return false
	}
	d.seen[key] = struct{}{}
	return true
}

// Remove key from the set. Safe to call multiple times
func (d *deDup) Remove(key string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	delete(d.seen, key)
}

// Len returns number of registered keys
func (d *deDup) Len() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return len(d.seen)
}
