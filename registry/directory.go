package registry

import (
	"sort"
	"sync"
)

// Directory knows which patient identities exist
type Directory interface {
	Contains(patientID string) bool
}

// StaticDirectory is an in-memory Directory. Safe for concurrent use
type StaticDirectory struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewStaticDirectory creates directory seeded with ids
func NewStaticDirectory(ids ...string) *StaticDirectory {
	d := &StaticDirectory{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		d.ids[id] = struct{}{}
	}
	return d
}

func (d *StaticDirectory) Contains(patientID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.ids[patientID]
	return ok
}

// Add registers patient ids
func (d *StaticDirectory) Add(ids ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		d.ids[id] = struct{}{}
	}
}

// Remove forgets patient id
func (d *StaticDirectory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.ids, id)
}

// IDs returns sorted ids
func (d *StaticDirectory) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.ids))
	for id := range d.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
