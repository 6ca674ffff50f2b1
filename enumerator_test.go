package docforest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func putSimpleDoc(t *testing.T, db *Database, docID, body string) {
	t.Helper()
	doc, err := db.GetDocument([]byte(docID))
	assert.NoError(t, err)
	_, err = doc.Insert(RevID{Generation: 1, Digest: []byte{0x01}}, []byte(body), InsertOptions{})
	assert.NoError(t, err)
	tx, err := db.BeginTransaction()
	assert.NoError(t, err)
	assert.NoError(t, db.SaveDocument(tx, doc))
	assert.NoError(t, db.EndTransaction(true))
}

func TestEnumerateByKeyRangeVisitsInsertedDocuments(t *testing.T) {
	db := OpenMem()
	defer db.Close()

	putSimpleDoc(t, db, "a", "1")
	putSimpleDoc(t, db, "b", "2")
	putSimpleDoc(t, db, "c", "3")

	enum, err := db.EnumerateByKeyRange("", nil, nil, EnumOptions{Content: ContentFull})
	assert.NoError(t, err)
	defer enum.Close()

	var ids []string
	for enum.Next() {
		ids = append(ids, string(enum.Document().DocID()))
	}
	assert.NoError(t, enum.Err())
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestEnumerateSkipsDeletedUnlessIncluded(t *testing.T) {
	db := OpenMem()
	defer db.Close()

	putSimpleDoc(t, db, "a", "1")

	doc, err := db.GetDocument([]byte("b"))
	assert.NoError(t, err)
	_, err = doc.Insert(RevID{Generation: 1, Digest: []byte{0x01}}, nil, InsertOptions{Deleted: true})
	assert.NoError(t, err)
	tx, err := db.BeginTransaction()
	assert.NoError(t, err)
	assert.NoError(t, db.SaveDocument(tx, doc))
	assert.NoError(t, db.EndTransaction(true))

	enum, err := db.EnumerateByKeyRange("", nil, nil, EnumOptions{})
	assert.NoError(t, err)
	var ids []string
	for enum.Next() {
		ids = append(ids, string(enum.Document().DocID()))
	}
	assert.NoError(t, enum.Err())
	enum.Close()
	assert.Equal(t, []string{"a"}, ids, "deleted documents should be skipped by default")

	enum, err = db.EnumerateByKeyRange("", nil, nil, EnumOptions{IncludeDeleted: true})
	assert.NoError(t, err)
	defer enum.Close()
	ids = nil
	for enum.Next() {
		ids = append(ids, string(enum.Document().DocID()))
	}
	assert.NoError(t, enum.Err())
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestEnumerateBySequenceRangeOrdersByWriteOrder(t *testing.T) {
	db := OpenMem()
	defer db.Close()

	putSimpleDoc(t, db, "third", "3")
	putSimpleDoc(t, db, "first", "1")
	putSimpleDoc(t, db, "second", "2")

	last, err := db.LastSequence()
	assert.NoError(t, err)

	enum, err := db.EnumerateBySequenceRange("", 0, last, EnumOptions{InclusiveEnd: true})
	assert.NoError(t, err)
	defer enum.Close()

	var ids []string
	for enum.Next() {
		ids = append(ids, string(enum.Document().DocID()))
	}
	assert.NoError(t, enum.Err())
	assert.Equal(t, []string{"third", "first", "second"}, ids)
}
