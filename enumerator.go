package docforest

import (
	"docforest/dferrors"
	"docforest/kv"
)

// ContentOptions selects how much of a document EnumOptions.Content
// fetches per record (spec §4.5).
type ContentOptions int

const (
	// ContentFull attaches the current revision's inline body, if any.
	ContentFull ContentOptions = iota
	// ContentMetaOnly does not pass the record's body to the decoder. The
	// current revision's inline body is still restored from the metadata
	// blob, which embeds it (see serialize.go), so it is not skipped.
	ContentMetaOnly
)

// EnumOptions controls a DocEnumerator (spec §4.5).
type EnumOptions struct {
	Skip           int
	Descending     bool
	InclusiveEnd   bool
	IncludeDeleted bool
	Content        ContentOptions
}

// DocEnumerator is a lazy, ordered iterator over a KeyStore's documents,
// by key range or sequence range (spec §4.5). Next must be called before
// the first Document is valid.
type DocEnumerator struct {
	db   *Database
	it   kv.Iterator
	opts EnumOptions
	cur  *VersionedDocument
	err  error
}

// EnumerateByKeyRange iterates storeName's documents ordered by key. A
// nil startKey means begin; a nil endKey means unbounded.
func (db *Database) EnumerateByKeyRange(storeName string, startKey, endKey []byte, opts EnumOptions) (*DocEnumerator, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	store, err := db.store(storeName)
	if err != nil {
		return nil, dferrors.FromEngine("EnumerateByKeyRange", err)
	}
	it, err := store.Enumerate(startKey, endKey, kv.IterOptions{
		Descending:   opts.Descending,
		InclusiveEnd: opts.InclusiveEnd,
		Skip:         opts.Skip,
	})
	if err != nil {
		return nil, dferrors.FromEngine("EnumerateByKeyRange", err)
	}
	return &DocEnumerator{db: db, it: it, opts: opts}, nil
}

// EnumerateBySequenceRange iterates storeName's documents ordered by the
// sequence assigned when each was last written.
func (db *Database) EnumerateBySequenceRange(storeName string, startSeq, endSeq uint64, opts EnumOptions) (*DocEnumerator, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	store, err := db.store(storeName)
	if err != nil {
		return nil, dferrors.FromEngine("EnumerateBySequenceRange", err)
	}
	it, err := store.EnumerateBySequence(startSeq, endSeq, kv.IterOptions{
		Descending:   opts.Descending,
		InclusiveEnd: opts.InclusiveEnd,
		Skip:         opts.Skip,
	})
	if err != nil {
		return nil, dferrors.FromEngine("EnumerateBySequenceRange", err)
	}
	return &DocEnumerator{db: db, it: it, opts: opts}, nil
}

// Next advances to the next matching record, decoding it into a
// VersionedDocument. When IncludeDeleted is false, documents whose
// current revision is deleted are skipped transparently (spec §4.5).
// End-of-iteration is reported by a false return, not an error.
func (e *DocEnumerator) Next() bool {
	for e.it.Next() {
		rec := e.it.Record()
		var body []byte
		if e.opts.Content == ContentFull {
			body = rec.Body
		}
		doc, err := decodeDocMeta(e.db, rec.Key, rec.Meta, body)
		if err != nil {
			e.err = dferrors.Unknown("DocEnumerator.Next", err)
			return false
		}
		if !e.opts.IncludeDeleted && doc.Deleted() {
			continue
		}
		e.cur = doc
		return true
	}
	return false
}

// Document returns the most recently decoded document.
func (e *DocEnumerator) Document() *VersionedDocument { return e.cur }

// Err returns the first error encountered, if any. End-of-iteration is
// not an error.
func (e *DocEnumerator) Err() error {
	if e.err != nil {
		return e.err
	}
	if err := e.it.Err(); err != nil {
		return dferrors.FromEngine("DocEnumerator", err)
	}
	return nil
}

// Close releases the enumerator's underlying cursor.
func (e *DocEnumerator) Close() error { return e.it.Close() }
