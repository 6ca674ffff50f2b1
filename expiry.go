package docforest

import (
	"encoding/binary"
	"math"
	"time"

	"docforest/collate"
	"docforest/dferrors"
	"docforest/kv"
)

// Expiry index layout (spec §4.6, §9): a forward entry per (timestamp,
// docID) in the dedicated expiryStoreName store, collation-encoded as
// array(double(unixSeconds), emptyMap, string(docID)) — the reserved
// empty-map element sits between the timestamp and the docID exactly as
// spec §4.6 lays the key out — so a byte-range scan visits entries in
// timestamp order; and a reverse entry keyed by a 0x00-prefixed docID
// (collate-encoded keys always start with tagArrayStart = 0x01, so the
// prefix byte cannot collide) holding the encoded timestamp, so
// ClearExpiry can find and remove a document's current forward entry
// without a full scan.

func expiryForwardKey(ts float64, docID []byte) []byte {
	return collate.NewBuilder().BeginArray().AddDouble(ts).AddEmptyMap().AddString(string(docID)).EndArray().Bytes()
}

// expiryUpperBound returns an exclusive upper bound covering every forward
// key with timestamp <= ts, regardless of docID. It is the array-open and
// double-timestamp prefix shared by all such keys, followed by 0xFF: the
// only real continuation of that prefix is tagEmptyMap (0x03), itself
// followed by tagString (0x05) then bytes then tagArrayEnd (0x02), all
// less than 0xFF, so appending it yields a bound strictly greater than any
// real key at exactly this timestamp.
func expiryUpperBound(ts float64) []byte {
	prefix := collate.NewBuilder().BeginArray().AddDouble(ts).Bytes()
	return append(prefix, 0xFF)
}

func expiryReverseKey(docID []byte) []byte {
	return append([]byte{0x00}, docID...)
}

func encodeExpiryTimestamp(ts float64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(ts))
	return buf[:]
}

func decodeExpiryTimestamp(b []byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

// SetExpiry arranges for docID to become eligible for purge at or after at,
// replacing any previously set expiry for the same document.
func (db *Database) SetExpiry(tx *Transaction, docID []byte, at time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	store, err := db.store(expiryStoreName)
	if err != nil {
		return dferrors.FromEngine("SetExpiry", err)
	}
	writer := tx.Writer(expiryStoreName)

	if rec, err := store.Get(expiryReverseKey(docID)); err == nil {
		oldTS := decodeExpiryTimestamp(rec.Meta)
		if err := writer.Delete(expiryForwardKey(oldTS, docID)); err != nil {
			return dferrors.FromEngine("SetExpiry", err)
		}
	} else if err != kv.ErrNotFound {
		return dferrors.FromEngine("SetExpiry", err)
	}

	ts := float64(at.Unix())
	if _, err := writer.Set(expiryForwardKey(ts, docID), nil, nil); err != nil {
		return dferrors.FromEngine("SetExpiry", err)
	}
	if _, err := writer.Set(expiryReverseKey(docID), encodeExpiryTimestamp(ts), nil); err != nil {
		return dferrors.FromEngine("SetExpiry", err)
	}
	return nil
}

// ClearExpiry removes any expiry previously set for docID. It is a no-op if
// docID has none.
func (db *Database) ClearExpiry(tx *Transaction, docID []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	store, err := db.store(expiryStoreName)
	if err != nil {
		return dferrors.FromEngine("ClearExpiry", err)
	}
	rec, err := store.Get(expiryReverseKey(docID))
	if err != nil {
		if err == kv.ErrNotFound {
			return nil
		}
		return dferrors.FromEngine("ClearExpiry", err)
	}
	ts := decodeExpiryTimestamp(rec.Meta)

	writer := tx.Writer(expiryStoreName)
	if err := writer.Delete(expiryForwardKey(ts, docID)); err != nil {
		return dferrors.FromEngine("ClearExpiry", err)
	}
	if err := writer.Delete(expiryReverseKey(docID)); err != nil {
		return dferrors.FromEngine("ClearExpiry", err)
	}
	return nil
}

// ExpiryEnumerator walks forward expiry entries with timestamp <= a fixed
// bound, in ascending timestamp order (spec §4.6). The scan starts at the
// beginning of the store, so the 0x00-prefixed reverse entries (which sort
// before every 0x01-prefixed forward key) are inside the range; Next skips
// them transparently by their first byte. A bound set at construction (or by Reset) is fixed
// for the enumerator's lifetime; it does not track wall-clock time itself.
type ExpiryEnumerator struct {
	db     *Database
	it     kv.Iterator
	curDoc []byte
	curKey []byte
	err    error
}

// NewExpiryEnumerator opens an enumerator over every document whose expiry
// is at or before asOf.
func (db *Database) NewExpiryEnumerator(asOf time.Time) (*ExpiryEnumerator, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	store, err := db.store(expiryStoreName)
	if err != nil {
		return nil, dferrors.FromEngine("NewExpiryEnumerator", err)
	}
	end := expiryUpperBound(float64(asOf.Unix()))
	it, err := store.Enumerate(nil, end, kv.IterOptions{})
	if err != nil {
		return nil, dferrors.FromEngine("NewExpiryEnumerator", err)
	}
	return &ExpiryEnumerator{db: db, it: it}, nil
}

// Next advances to the next expired document, returning false once
// exhausted; check Err afterward.
func (e *ExpiryEnumerator) Next() bool {
	for e.it.Next() {
		rec := e.it.Record()
		if len(rec.Key) == 0 || rec.Key[0] != 0x01 {
			continue // not a forward (collate-encoded) entry
		}
		r := collate.NewReader(rec.Key)
		if err := r.SkipArrayStart(); err != nil {
			e.err = dferrors.Unknown("ExpiryEnumerator.Next", err)
			return false
		}
		if _, err := r.ReadDouble(); err != nil {
			e.err = dferrors.Unknown("ExpiryEnumerator.Next", err)
			return false
		}
		if err := r.SkipEmptyMap(); err != nil {
			e.err = dferrors.Unknown("ExpiryEnumerator.Next", err)
			return false
		}
		docID, err := r.ReadString()
		if err != nil {
			e.err = dferrors.Unknown("ExpiryEnumerator.Next", err)
			return false
		}
		e.curDoc = []byte(docID)
		e.curKey = rec.Key
		return true
	}
	return false
}

// Reset rebuilds the enumerator against a fresh snapshot bounded by asOf,
// discarding the current cursor position (spec §4.6 reset()). The prior
// underlying iterator is closed first; any error from closing it takes
// precedence over an error reopening against the new bound.
func (e *ExpiryEnumerator) Reset(asOf time.Time) error {
	if err := e.it.Close(); err != nil {
		return dferrors.FromEngine("ExpiryEnumerator.Reset", err)
	}

	db := e.db
	db.mu.Lock()
	defer db.mu.Unlock()

	store, err := db.store(expiryStoreName)
	if err != nil {
		return dferrors.FromEngine("ExpiryEnumerator.Reset", err)
	}
	end := expiryUpperBound(float64(asOf.Unix()))
	it, err := store.Enumerate(nil, end, kv.IterOptions{})
	if err != nil {
		return dferrors.FromEngine("ExpiryEnumerator.Reset", err)
	}

	e.it = it
	e.curDoc = nil
	e.curKey = nil
	e.err = nil
	return nil
}

// DocID returns the current expired document's id.
func (e *ExpiryEnumerator) DocID() []byte { return e.curDoc }

// Key returns the raw forward-index key backing the current entry, for
// callers (PurgeExpired) that need to delete it directly without
// recomputing it from the timestamp.
func (e *ExpiryEnumerator) Key() []byte { return e.curKey }

// Err returns the first error encountered, if any.
func (e *ExpiryEnumerator) Err() error {
	if e.err != nil {
		return e.err
	}
	if err := e.it.Err(); err != nil {
		return dferrors.FromEngine("ExpiryEnumerator", err)
	}
	return nil
}

// Close releases the enumerator's underlying cursor.
func (e *ExpiryEnumerator) Close() error { return e.it.Close() }

// PurgeExpired deletes the forward and reverse expiry entries, within tx,
// for every document expired at or before asOf, returning their ids so the
// caller can separately delete or tombstone the documents themselves (spec
// §4.6 leaves document deletion to the caller; the index is not implicitly
// tied to document lifecycle).
func (db *Database) PurgeExpired(tx *Transaction, asOf time.Time) ([][]byte, error) {
	enum, err := db.NewExpiryEnumerator(asOf)
	if err != nil {
		return nil, err
	}
	defer enum.Close()

	db.mu.Lock()
	defer db.mu.Unlock()

	writer := tx.Writer(expiryStoreName)
	var purged [][]byte
	for enum.Next() {
		docID := append([]byte(nil), enum.DocID()...)
		if err := writer.Delete(enum.Key()); err != nil {
			return nil, dferrors.FromEngine("PurgeExpired", err)
		}
		if err := writer.Delete(expiryReverseKey(docID)); err != nil {
			return nil, dferrors.FromEngine("PurgeExpired", err)
		}
		purged = append(purged, docID)
	}
	if err := enum.Err(); err != nil {
		return nil, err
	}
	return purged, nil
}
