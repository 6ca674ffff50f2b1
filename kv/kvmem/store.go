// Package kvmem is an in-memory kv.Engine used by docforest's unit tests so
// that rev-tree and expiry-index behavior can be exercised without standing
// up a BadgerDB directory on disk, mirroring the teacher's MemoryCache as
// the fast, non-persistent sibling of its BadgerCache.
package kvmem

import (
	"bytes"
	"sort"
	"sync"

	"docforest/kv"
)

type entry struct {
	meta, body []byte
	sequence   uint64
	deleted    bool
}

type store struct {
	mu       sync.RWMutex
	name     string
	data     map[string]entry
	bySeq    map[uint64][]byte
	lastSeq  uint64
}

func newStore(name string) *store {
	return &store{
		name:  name,
		data:  make(map[string]entry),
		bySeq: make(map[uint64][]byte),
	}
}

func (s *store) Name() string { return s.name }

func (s *store) Get(key []byte) (kv.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[string(key)]
	if !ok || e.deleted {
		return kv.Record{}, kv.ErrNotFound
	}
	return kv.Record{Key: append([]byte(nil), key...), Meta: e.meta, Body: e.body, Sequence: e.sequence}, nil
}

func (s *store) GetBySequence(seq uint64) (kv.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.bySeq[seq]
	if !ok {
		return kv.Record{}, kv.ErrNotFound
	}
	e, ok := s.data[string(key)]
	if !ok || e.deleted {
		return kv.Record{}, kv.ErrNotFound
	}
	return kv.Record{Key: append([]byte(nil), key...), Meta: e.meta, Body: e.body, Sequence: e.sequence}, nil
}

func (s *store) LastSequence() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeq
}

func (s *store) sortedKeys() [][]byte {
	keys := make([][]byte, 0, len(s.data))
	for k, e := range s.data {
		if e.deleted {
			continue
		}
		keys = append(keys, []byte(k))
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
	return keys
}

func inRange(k, start, end []byte, inclusiveEnd bool) bool {
	if start != nil && bytes.Compare(k, start) < 0 {
		return false
	}
	if end != nil {
		cmp := bytes.Compare(k, end)
		if inclusiveEnd {
			if cmp > 0 {
				return false
			}
		} else if cmp >= 0 {
			return false
		}
	}
	return true
}

type keyIterator struct {
	recs []kv.Record
	pos  int
}

func (it *keyIterator) Next() bool {
	if it.pos >= len(it.recs) {
		return false
	}
	it.pos++
	return true
}

func (it *keyIterator) Record() kv.Record {
	return it.recs[it.pos-1]
}

func (it *keyIterator) Err() error   { return nil }
func (it *keyIterator) Close() error { return nil }

func (s *store) Enumerate(start, end []byte, opts kv.IterOptions) (kv.Iterator, error) {
	s.mu.RLock()
	keys := s.sortedKeys()
	recs := make([]kv.Record, 0, len(keys))
	for _, k := range keys {
		if !inRange(k, start, end, opts.InclusiveEnd) {
			continue
		}
		e := s.data[string(k)]
		recs = append(recs, kv.Record{Key: k, Meta: e.meta, Body: e.body, Sequence: e.sequence})
	}
	s.mu.RUnlock()

	if opts.Descending {
		for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
			recs[i], recs[j] = recs[j], recs[i]
		}
	}
	if opts.Skip > 0 {
		if opts.Skip >= len(recs) {
			recs = nil
		} else {
			recs = recs[opts.Skip:]
		}
	}
	return &keyIterator{recs: recs}, nil
}

func (s *store) EnumerateBySequence(startSeq, endSeq uint64, opts kv.IterOptions) (kv.Iterator, error) {
	s.mu.RLock()
	seqs := make([]uint64, 0, len(s.bySeq))
	for seq := range s.bySeq {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	recs := make([]kv.Record, 0, len(seqs))
	for _, seq := range seqs {
		if seq < startSeq {
			continue
		}
		if endSeq != 0 {
			if opts.InclusiveEnd {
				if seq > endSeq {
					continue
				}
			} else if seq >= endSeq {
				continue
			}
		}
		key := s.bySeq[seq]
		e, ok := s.data[string(key)]
		if !ok || e.deleted {
			continue
		}
		recs = append(recs, kv.Record{Key: append([]byte(nil), key...), Meta: e.meta, Body: e.body, Sequence: e.sequence})
	}
	s.mu.RUnlock()

	if opts.Descending {
		for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
			recs[i], recs[j] = recs[j], recs[i]
		}
	}
	if opts.Skip > 0 {
		if opts.Skip >= len(recs) {
			recs = nil
		} else {
			recs = recs[opts.Skip:]
		}
	}
	return &keyIterator{recs: recs}, nil
}

// Engine is an in-memory kv.Engine.
type Engine struct {
	mu     sync.Mutex
	stores map[string]*store
}

// New creates an empty in-memory engine.
func New() *Engine {
	return &Engine{stores: make(map[string]*store)}
}

func (e *Engine) Store(name string) (kv.KeyStore, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.stores[name]
	if !ok {
		s = newStore(name)
		e.stores[name] = s
	}
	return s, nil
}

func (e *Engine) Close() error { return nil }

// Begin starts a transaction spanning every store of this engine.
func (e *Engine) Begin() (kv.Tx, error) {
	return &tx{engine: e, writers: make(map[string]*writer)}, nil
}

type writeOp struct {
	key     []byte
	meta    []byte
	body    []byte
	del     bool
}

type writer struct {
	tx    *tx
	store string
}

func (w *writer) Set(key, meta, body []byte) (uint64, error) {
	return w.tx.stage(w.store, writeOp{key: append([]byte(nil), key...), meta: meta, body: body})
}

func (w *writer) Delete(key []byte) error {
	_, err := w.tx.stage(w.store, writeOp{key: append([]byte(nil), key...), del: true})
	return err
}

type tx struct {
	mu      sync.Mutex
	engine  *Engine
	ops     []struct {
		store string
		op    writeOp
		seq   uint64
	}
	writers map[string]*writer
	done    bool
}

func (t *tx) Writer(storeName string) kv.Writer {
	if w, ok := t.writers[storeName]; ok {
		return w
	}
	w := &writer{tx: t, store: storeName}
	t.writers[storeName] = w
	return w
}

// stage assigns a provisional sequence (for Set) and records the op; actual
// application happens at Commit so Abort leaves the engine untouched.
func (t *tx) stage(storeName string, op writeOp) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var seq uint64
	if !op.del {
		t.engine.mu.Lock()
		s, ok := t.engine.stores[storeName]
		if !ok {
			s = newStore(storeName)
			t.engine.stores[storeName] = s
		}
		t.engine.mu.Unlock()

		s.mu.Lock()
		s.lastSeq++
		seq = s.lastSeq
		s.mu.Unlock()
	}

	t.ops = append(t.ops, struct {
		store string
		op    writeOp
		seq   uint64
	}{storeName, op, seq})
	return seq, nil
}

func (t *tx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true

	for _, rec := range t.ops {
		t.engine.mu.Lock()
		s, ok := t.engine.stores[rec.store]
		if !ok {
			s = newStore(rec.store)
			t.engine.stores[rec.store] = s
		}
		t.engine.mu.Unlock()

		s.mu.Lock()
		if rec.op.del {
			if e, ok := s.data[string(rec.op.key)]; ok {
				delete(s.bySeq, e.sequence)
			}
			delete(s.data, string(rec.op.key))
		} else {
			if old, ok := s.data[string(rec.op.key)]; ok {
				delete(s.bySeq, old.sequence)
			}
			s.data[string(rec.op.key)] = entry{meta: rec.op.meta, body: rec.op.body, sequence: rec.seq}
			s.bySeq[rec.seq] = append([]byte(nil), rec.op.key...)
		}
		s.mu.Unlock()
	}
	return nil
}

func (t *tx) Abort() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	t.ops = nil
	// Sequence numbers already handed out for this transaction are not
	// reclaimed; strict monotonicity holds, gaps are permitted.
	return nil
}
