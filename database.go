// Package docforest implements a document-oriented storage façade over a
// pluggable ordered key-value engine: a database handle with nested
// transactions, typed documents carrying a revision tree, a raw
// key-store accessor, sequence- and id-ordered enumerators, and a
// time-indexed expiration enumerator (see SPEC_FULL.md).
package docforest

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"docforest/dferrors"
	"docforest/internal/core"
	"docforest/kv"
	"docforest/kv/kvbadger"
	"docforest/kv/kvmem"
)

const (
	bodyStoreName   = "_bodies"
	expiryStoreName = "expiry"
)

// Database groups a default KeyStore and zero or more named auxiliary
// stores over one kv.Engine, tracking nested-transaction depth (spec
// §3/§4.1). All public operations serialize under mu, matching the
// teacher's coarse-locking concurrency idiom (closeMu sync.Mutex) rather
// than finer-grained striping.
type Database struct {
	mu sync.Mutex

	engine kv.Engine
	opts   *Options

	txDepth int
	curTx   kv.Tx
	txAbort bool
	closed  bool
}

// Open opens (or creates, unless ReadOnly) the docforest database at
// path, applying opts (or DefaultOptions() if opts is nil) and starting
// the engine's background compaction probe.
func Open(path string, opts ...EditOption) (*Database, error) {
	o := DefaultOptions()
	for _, edit := range opts {
		edit(o)
	}
	engine, err := kvbadger.Open(o.badgerOptions(path))
	if err != nil {
		return nil, dferrors.FromEngine("Open", err)
	}
	core.Info("database opened", zap.String("path", path))
	return &Database{engine: engine, opts: o}, nil
}

// OpenMem opens an in-memory database (kvmem), for tests and for any
// caller that does not need durability across process restarts.
func OpenMem(opts ...EditOption) *Database {
	o := DefaultOptions()
	for _, edit := range opts {
		edit(o)
	}
	return &Database{engine: kvmem.New(), opts: o}
}

// Close releases all handles. It is a precondition violation (and
// therefore panics, per spec §7 "preconditions ... abort the process")
// to close a database with a transaction still open.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.txDepth != 0 {
		panic("docforest: Close called with a transaction still open")
	}
	if db.closed {
		return nil
	}
	db.closed = true
	return db.engine.Close()
}

func (db *Database) defaultStore() (kv.KeyStore, error) { return db.engine.Store("") }

func (db *Database) store(name string) (kv.KeyStore, error) { return db.engine.Store(name) }

// DocumentCount iterates the default store in meta-only mode and counts
// entries whose VersionedDocument is not fully deleted.
func (db *Database) DocumentCount() (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	store, err := db.defaultStore()
	if err != nil {
		return 0, dferrors.FromEngine("DocumentCount", err)
	}
	it, err := store.Enumerate(nil, nil, kv.IterOptions{})
	if err != nil {
		return 0, dferrors.FromEngine("DocumentCount", err)
	}
	defer it.Close()

	count := 0
	for it.Next() {
		rec := it.Record()
		doc, err := decodeDocMeta(db, rec.Key, rec.Meta, nil)
		if err != nil {
			return 0, dferrors.Unknown("DocumentCount", err)
		}
		if doc.Exists() && !doc.Deleted() {
			count++
		}
	}
	if err := it.Err(); err != nil {
		return 0, dferrors.FromEngine("DocumentCount", err)
	}
	return count, nil
}

// LastSequence returns the engine's current sequence watermark for the
// default store.
func (db *Database) LastSequence() (uint64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	store, err := db.defaultStore()
	if err != nil {
		return 0, dferrors.FromEngine("LastSequence", err)
	}
	return store.LastSequence(), nil
}

// Transaction is a scoped write handle bound to its Database (spec
// §4.2). Concurrent transactions on one Database are disallowed; Begin
// does not wait for a prior transaction to end: a Begin while one is
// open joins it as a nested frame.
type Transaction struct {
	db *Database
}

// Writer returns the write façade for storeName, valid only until this
// Transaction's outermost frame ends.
func (t *Transaction) Writer(storeName string) kv.Writer {
	return t.db.curTx.Writer(storeName)
}

// BeginTransaction increments the nesting depth, instantiating the
// underlying kv.Tx only at depth 0 (spec §4.1: "only the outermost frame
// instantiates ... a Transaction").
func (db *Database) BeginTransaction() (*Transaction, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.txDepth == 0 {
		tx, err := db.engine.Begin()
		if err != nil {
			return nil, dferrors.FromEngine("BeginTransaction", err)
		}
		db.curTx = tx
		db.txAbort = false
	}
	db.txDepth++
	return &Transaction{db: db}, nil
}

// EndTransaction decrements the nesting depth. A nested end(false) marks
// the outer frame to abort; the actual commit/abort happens only when
// depth returns to zero. Ending at depth 0 is a precondition violation.
func (db *Database) EndTransaction(commit bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.txDepth == 0 {
		panic("docforest: EndTransaction called at nesting depth 0")
	}
	if !commit {
		db.txAbort = true
	}
	db.txDepth--
	if db.txDepth > 0 {
		return nil
	}

	tx := db.curTx
	db.curTx = nil
	abort := db.txAbort
	db.txAbort = false

	if abort {
		if err := tx.Abort(); err != nil {
			return dferrors.FromEngine("EndTransaction", err)
		}
		return nil
	}
	if err := tx.Commit(); err != nil {
		return dferrors.FromEngine("EndTransaction", err)
	}
	return nil
}

// readOverflowBody fetches an out-of-line revision body keyed by
// (docID, sequence) from the body-overflow store (spec §6.4). Returns a
// Gone error if it has been compacted away.
func (db *Database) readOverflowBody(docID []byte, sequence uint64) ([]byte, error) {
	store, err := db.store(bodyStoreName)
	if err != nil {
		return nil, dferrors.FromEngine("ReadBody", err)
	}
	rec, err := store.Get(overflowKey(docID, sequence))
	if err != nil {
		if err == kv.ErrNotFound {
			return nil, goneError("ReadBody")
		}
		return nil, dferrors.FromEngine("ReadBody", err)
	}
	return rec.Body, nil
}

func overflowKey(docID []byte, sequence uint64) []byte {
	return appendUvarint(append([]byte(nil), docID...), sequence)
}

// GetDocument loads the document identified by docID, consulting the
// look-aside cache first if one is configured (SPEC_FULL §3). A cache
// miss, and every write path, always goes through the KeyStore.
func (db *Database) GetDocument(docID []byte) (*VersionedDocument, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.opts.DocCache != nil {
		if cached, err := db.opts.DocCache.Get(context.Background(), string(docID)); err == nil {
			return cached, nil
		}
	}

	store, err := db.defaultStore()
	if err != nil {
		return nil, dferrors.FromEngine("GetDocument", err)
	}
	rec, err := store.Get(docID)
	if err != nil {
		if err == kv.ErrNotFound {
			return newVersionedDocument(db, docID), nil
		}
		return nil, dferrors.FromEngine("GetDocument", err)
	}
	doc, err := decodeDocMeta(db, docID, rec.Meta, rec.Body)
	if err != nil {
		return nil, dferrors.Unknown("GetDocument", err)
	}

	if db.opts.DocCache != nil {
		_ = db.opts.DocCache.Set(context.Background(), string(docID), doc, db.opts.DocCacheTTL)
	}
	return doc, nil
}

// SaveDocument persists doc's rev-tree within tx (spec §4.3 save). It is
// idempotent if doc is clean. Step order follows the spec: assign
// sequences to new revisions (non-winner bodies land in the
// body-overflow store, each under its own sequence; the winner's
// sequence is assigned last, by the main record write, and becomes the
// document's own sequence), serialize the rev-tree, clear New flags.
func (db *Database) SaveDocument(tx *Transaction, doc *VersionedDocument) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !doc.dirty {
		return nil
	}

	bodyWriter := tx.Writer(bodyStoreName)
	for i := range doc.revs {
		r := &doc.revs[i]
		if i == doc.current {
			continue
		}
		// Not gated on IsNew(): a revision that was the winner as of an
		// earlier SaveDocument call still carries its real body inline
		// (it was never migrated, since it was current at the time) and
		// must be migrated now that a later save has demoted it, or its
		// body is silently lost to encodeDocMeta's default "no body"
		// marker.
		if r.hasInline && len(r.inlineBody) > 0 {
			seq, err := bodyWriter.Set(overflowKey(doc.docID, 0), nil, r.inlineBody)
			if err != nil {
				return dferrors.FromEngine("SaveDocument", err)
			}
			// The overflow key embeds the revision's own sequence,
			// not a placeholder, so recompute it now that seq is known.
			if err := rewriteOverflowKey(bodyWriter, doc.docID, seq, r.inlineBody); err != nil {
				return dferrors.FromEngine("SaveDocument", err)
			}
			r.sequence = seq
			r.overflowWritten = true
			r.inlineBody = nil
			r.hasInline = false
		}
	}

	meta := encodeDocMeta(doc)
	var body []byte
	if doc.current >= 0 && doc.revs[doc.current].hasInline {
		body = doc.revs[doc.current].inlineBody
	}

	writer := tx.Writer("")
	seq, err := writer.Set(doc.docID, meta, body)
	if err != nil {
		return dferrors.FromEngine("SaveDocument", err)
	}
	if doc.current >= 0 {
		doc.revs[doc.current].sequence = seq
	}
	for i := range doc.revs {
		doc.revs[i].flags &^= RevNew
	}
	doc.dirty = false

	if db.opts.DocCache != nil {
		_ = db.opts.DocCache.Set(context.Background(), string(doc.docID), doc, db.opts.DocCacheTTL)
	}
	return nil
}

// rewriteOverflowKey re-keys an overflow body entry once its true
// sequence is known. kvmem/kvbadger both assign the sequence at Set time,
// so the final key can only be written after a first Set reveals it;
// the placeholder entry from that first Set is deleted here.
func rewriteOverflowKey(w kv.Writer, docID []byte, seq uint64, body []byte) error {
	if err := w.Delete(overflowKey(docID, 0)); err != nil {
		return err
	}
	_, err := w.Set(overflowKey(docID, seq), nil, body)
	return err
}

// GetRaw reads an opaque (key, meta, body) record from a named raw store
// (spec §4.4).
func (db *Database) GetRaw(storeName string, key []byte) (meta, body []byte, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	store, err := db.store(storeName)
	if err != nil {
		return nil, nil, dferrors.FromEngine("GetRaw", err)
	}
	rec, err := store.Get(key)
	if err != nil {
		if err == kv.ErrNotFound {
			return nil, nil, notFoundError("GetRaw")
		}
		return nil, nil, dferrors.FromEngine("GetRaw", err)
	}
	return rec.Meta, rec.Body, nil
}

// PutRaw writes (key, meta, body) to a named raw store within tx. Empty
// meta AND empty body means delete (spec §4.4).
func (db *Database) PutRaw(tx *Transaction, storeName string, key, meta, body []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	writer := tx.Writer(storeName)
	if len(meta) == 0 && len(body) == 0 {
		if err := writer.Delete(key); err != nil {
			return dferrors.FromEngine("PutRaw", err)
		}
		return nil
	}
	if _, err := writer.Set(key, meta, body); err != nil {
		return dferrors.FromEngine("PutRaw", err)
	}
	return nil
}
