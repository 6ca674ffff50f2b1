package cache

import (
	"sort"
	"sync"
	"time"
)

// hotRecord tracks one document id's access history.
type hotRecord struct {
	count        float64
	lastAccessed time.Time
}

// HotSetTracker records per-document access counts with exponential
// decay and reports the current top-N hottest document ids. It is purely
// observational: nothing in Database requires it, and it is off unless a
// caller constructs one and calls RecordAccess itself (SPEC_FULL §3
// supplement, adapted from the teacher's AccessTracker/HotDataWatcher).
type HotSetTracker struct {
	mu          sync.Mutex
	records     map[string]*hotRecord
	decayFactor float64 // multiplies every existing count on each access, in (0,1]
}

// NewHotSetTracker creates a tracker. decayFactor close to 1 remembers
// history longer; decayFactor close to 0 favors only very recent access.
func NewHotSetTracker(decayFactor float64) *HotSetTracker {
	if decayFactor <= 0 || decayFactor > 1 {
		decayFactor = 0.98
	}
	return &HotSetTracker{records: make(map[string]*hotRecord), decayFactor: decayFactor}
}

// RecordAccess registers one access to docID.
func (t *HotSetTracker) RecordAccess(docID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range t.records {
		rec.count *= t.decayFactor
	}
	r, ok := t.records[docID]
	if !ok {
		r = &hotRecord{}
		t.records[docID] = r
	}
	r.count++
	r.lastAccessed = time.Now()
}

// TopN returns up to n document ids ordered by descending access score.
func (t *HotSetTracker) TopN(n int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	type entry struct {
		id    string
		count float64
	}
	entries := make([]entry, 0, len(t.records))
	for id, r := range t.records {
		entries = append(entries, entry{id: id, count: r.count})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].count > entries[j].count })
	if n > len(entries) {
		n = len(entries)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = entries[i].id
	}
	return out
}
