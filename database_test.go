package docforest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"docforest/dferrors"
)

func TestSaveAndReloadDocumentRoundTrips(t *testing.T) {
	db := OpenMem()
	defer db.Close()

	doc, err := db.GetDocument([]byte("doc1"))
	assert.NoError(t, err)

	rev := RevID{Generation: 1, Digest: []byte{0xaa}}
	_, err = doc.Insert(rev, []byte("payload"), InsertOptions{})
	assert.NoError(t, err)

	tx, err := db.BeginTransaction()
	assert.NoError(t, err)
	assert.NoError(t, db.SaveDocument(tx, doc))
	assert.NoError(t, db.EndTransaction(true))

	reloaded, err := db.GetDocument([]byte("doc1"))
	assert.NoError(t, err)
	assert.True(t, reloaded.Exists())
	assert.True(t, reloaded.RevID().Equal(rev))

	cur, ok := reloaded.Current()
	assert.True(t, ok)
	body, err := cur.ReadBody()
	assert.NoError(t, err)
	assert.Equal(t, "payload", string(body))
}

func TestSaveDocumentMigratesDemotedWinnerBodyOnLaterSave(t *testing.T) {
	db := OpenMem()
	defer db.Close()

	doc, err := db.GetDocument([]byte("doc1"))
	assert.NoError(t, err)
	rev1 := RevID{Generation: 1, Digest: []byte{0x01}}
	_, err = doc.Insert(rev1, []byte("first"), InsertOptions{})
	assert.NoError(t, err)

	tx, err := db.BeginTransaction()
	assert.NoError(t, err)
	assert.NoError(t, db.SaveDocument(tx, doc))
	assert.NoError(t, db.EndTransaction(true))

	// A later, separate SaveDocument call demotes rev1 from winner to a
	// plain ancestor; its body must survive the demotion.
	doc, err = db.GetDocument([]byte("doc1"))
	assert.NoError(t, err)
	rev2 := RevID{Generation: 2, Digest: []byte{0x02}}
	_, err = doc.Insert(rev2, []byte("second"), InsertOptions{Parent: rev1, ParentSet: true})
	assert.NoError(t, err)

	tx, err = db.BeginTransaction()
	assert.NoError(t, err)
	assert.NoError(t, db.SaveDocument(tx, doc))
	assert.NoError(t, db.EndTransaction(true))

	reloaded, err := db.GetDocument([]byte("doc1"))
	assert.NoError(t, err)
	assert.True(t, reloaded.RevID().Equal(rev2))

	demoted, ok := reloaded.Find(rev1)
	assert.True(t, ok)
	body, err := demoted.ReadBody()
	assert.NoError(t, err)
	assert.Equal(t, "first", string(body), "rev1's body must survive being demoted from winner on a later save")
}

func TestSaveDocumentPersistsNonWinnerBodiesToOverflowStore(t *testing.T) {
	db := OpenMem()
	defer db.Close()

	doc, err := db.GetDocument([]byte("doc1"))
	assert.NoError(t, err)

	rev1 := RevID{Generation: 1, Digest: []byte{0x01}}
	rev2a := RevID{Generation: 2, Digest: []byte{0x02}} // loses the conflict (smaller digest)
	rev2b := RevID{Generation: 2, Digest: []byte{0xff}} // wins

	_, err = doc.Insert(rev1, []byte("root"), InsertOptions{})
	assert.NoError(t, err)
	_, err = doc.Insert(rev2a, []byte("branch-a"), InsertOptions{Parent: rev1, ParentSet: true})
	assert.NoError(t, err)
	_, err = doc.Insert(rev2b, []byte("branch-b"), InsertOptions{Parent: rev1, ParentSet: true, AllowConflict: true})
	assert.NoError(t, err)
	assert.True(t, doc.RevID().Equal(rev2b))

	tx, err := db.BeginTransaction()
	assert.NoError(t, err)
	assert.NoError(t, db.SaveDocument(tx, doc))
	assert.NoError(t, db.EndTransaction(true))

	reloaded, err := db.GetDocument([]byte("doc1"))
	assert.NoError(t, err)

	loserCur, ok := reloaded.Find(rev2a)
	assert.True(t, ok)
	loserBody, err := loserCur.ReadBody()
	assert.NoError(t, err)
	assert.Equal(t, "branch-a", string(loserBody), "non-winner revision body should survive via the overflow store")

	winnerCur, ok := reloaded.Current()
	assert.True(t, ok)
	winnerBody, err := winnerCur.ReadBody()
	assert.NoError(t, err)
	assert.Equal(t, "branch-b", string(winnerBody))
}

func TestGetRawPutRawDeleteOnEmpty(t *testing.T) {
	db := OpenMem()
	defer db.Close()

	tx, err := db.BeginTransaction()
	assert.NoError(t, err)
	assert.NoError(t, db.PutRaw(tx, "local", []byte("k"), []byte("meta"), []byte("body")))
	assert.NoError(t, db.EndTransaction(true))

	meta, body, err := db.GetRaw("local", []byte("k"))
	assert.NoError(t, err)
	assert.Equal(t, "meta", string(meta))
	assert.Equal(t, "body", string(body))

	tx, err = db.BeginTransaction()
	assert.NoError(t, err)
	assert.NoError(t, db.PutRaw(tx, "local", []byte("k"), nil, nil))
	assert.NoError(t, db.EndTransaction(true))

	_, _, err = db.GetRaw("local", []byte("k"))
	assert.ErrorIs(t, err, dferrors.ErrNotFound)
}

func TestNestedTransactionOnlyCommitsAtOutermostFrame(t *testing.T) {
	db := OpenMem()
	defer db.Close()

	outer, err := db.BeginTransaction()
	assert.NoError(t, err)
	inner, err := db.BeginTransaction()
	assert.NoError(t, err)

	assert.NoError(t, db.PutRaw(inner, "local", []byte("k"), []byte("m"), []byte("b")))
	assert.NoError(t, db.EndTransaction(true)) // ends inner frame, does not commit yet
	assert.NoError(t, db.EndTransaction(true)) // ends outer frame, actually commits
	_ = outer

	_, _, err = db.GetRaw("local", []byte("k"))
	assert.NoError(t, err)
}

func TestNestedTransactionAbortDiscardsOuterFrame(t *testing.T) {
	db := OpenMem()
	defer db.Close()

	_, err := db.BeginTransaction()
	assert.NoError(t, err)
	inner, err := db.BeginTransaction()
	assert.NoError(t, err)

	assert.NoError(t, db.PutRaw(inner, "local", []byte("k"), []byte("m"), []byte("b")))
	assert.NoError(t, db.EndTransaction(false)) // inner aborts, poisoning the outer frame
	assert.NoError(t, db.EndTransaction(true))  // outer frame actually aborts

	_, _, err = db.GetRaw("local", []byte("k"))
	assert.ErrorIs(t, err, dferrors.ErrNotFound)
}

func TestEndTransactionAtZeroDepthPanics(t *testing.T) {
	db := OpenMem()
	defer db.Close()
	assert.Panics(t, func() { db.EndTransaction(true) })
}

func TestPurgeExpiredRemovesOnlyEntriesDueAsOfNow(t *testing.T) {
	db := OpenMem()
	defer db.Close()

	tx, err := db.BeginTransaction()
	assert.NoError(t, err)
	assert.NoError(t, db.SetExpiry(tx, []byte("past"), time.Now().Add(-time.Hour)))
	assert.NoError(t, db.SetExpiry(tx, []byte("future"), time.Now().Add(time.Hour)))
	assert.NoError(t, db.EndTransaction(true))

	tx, err = db.BeginTransaction()
	assert.NoError(t, err)
	purged, err := db.PurgeExpired(tx, time.Now())
	assert.NoError(t, err)
	assert.NoError(t, db.EndTransaction(true))

	assert.Equal(t, [][]byte{[]byte("past")}, purged)

	enum, err := db.NewExpiryEnumerator(time.Now().Add(2 * time.Hour))
	assert.NoError(t, err)
	defer enum.Close()
	var remaining []string
	for enum.Next() {
		remaining = append(remaining, string(enum.DocID()))
	}
	assert.NoError(t, enum.Err())
	assert.Equal(t, []string{"future"}, remaining)
}

func TestExpiryEnumeratorResetRebuildsAgainstNewBound(t *testing.T) {
	db := OpenMem()
	defer db.Close()

	tx, err := db.BeginTransaction()
	assert.NoError(t, err)
	assert.NoError(t, db.SetExpiry(tx, []byte("soon"), time.Now().Add(-time.Minute)))
	assert.NoError(t, db.SetExpiry(tx, []byte("later"), time.Now().Add(time.Hour)))
	assert.NoError(t, db.EndTransaction(true))

	enum, err := db.NewExpiryEnumerator(time.Now())
	assert.NoError(t, err)
	defer enum.Close()

	var first []string
	for enum.Next() {
		first = append(first, string(enum.DocID()))
	}
	assert.NoError(t, enum.Err())
	assert.Equal(t, []string{"soon"}, first)

	assert.NoError(t, enum.Reset(time.Now().Add(2*time.Hour)))
	var second []string
	for enum.Next() {
		second = append(second, string(enum.DocID()))
	}
	assert.NoError(t, enum.Err())
	assert.ElementsMatch(t, []string{"soon", "later"}, second)
}

func TestClearExpiryRemovesScheduledEntry(t *testing.T) {
	db := OpenMem()
	defer db.Close()

	tx, err := db.BeginTransaction()
	assert.NoError(t, err)
	assert.NoError(t, db.SetExpiry(tx, []byte("doc1"), time.Now().Add(-time.Hour)))
	assert.NoError(t, db.EndTransaction(true))

	// ClearExpiry's reverse-index lookup reads the store's committed state,
	// not a pending write within the same transaction, so the clear must
	// run in its own transaction to see the entry just set.
	tx, err = db.BeginTransaction()
	assert.NoError(t, err)
	assert.NoError(t, db.ClearExpiry(tx, []byte("doc1")))
	assert.NoError(t, db.EndTransaction(true))

	tx, err = db.BeginTransaction()
	assert.NoError(t, err)
	purged, err := db.PurgeExpired(tx, time.Now())
	assert.NoError(t, err)
	assert.NoError(t, db.EndTransaction(true))
	assert.Empty(t, purged)
}
