package docforest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"docforest/dferrors"
)

func freshDoc(t *testing.T, docID string) *VersionedDocument {
	t.Helper()
	db := OpenMem()
	t.Cleanup(func() { db.Close() })
	doc, err := db.GetDocument([]byte(docID))
	assert.NoError(t, err)
	assert.False(t, doc.Exists())
	return doc
}

func TestInsertRootRevision(t *testing.T) {
	doc := freshDoc(t, "doc1")
	rev := RevID{Generation: 1, Digest: []byte{0x01}}
	cur, err := doc.Insert(rev, []byte("hello"), InsertOptions{})
	assert.NoError(t, err)
	assert.True(t, cur.IsLeaf())
	assert.True(t, doc.Exists())
	assert.True(t, doc.RevID().Equal(rev))
	body, err := cur.ReadBody()
	assert.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestInsertSecondRootWithoutAllowConflictFails(t *testing.T) {
	doc := freshDoc(t, "doc1")
	rev1 := RevID{Generation: 1, Digest: []byte{0x01}}
	_, err := doc.Insert(rev1, []byte("a"), InsertOptions{})
	assert.NoError(t, err)

	rev2 := RevID{Generation: 1, Digest: []byte{0x02}}
	_, err = doc.Insert(rev2, []byte("b"), InsertOptions{})
	assert.Error(t, err)
	assert.True(t, errors.Is(err, dferrors.ErrConflict))
}

func TestInsertSecondRootWithAllowConflictCreatesConflict(t *testing.T) {
	doc := freshDoc(t, "doc1")
	rev1 := RevID{Generation: 1, Digest: []byte{0x01}}
	_, err := doc.Insert(rev1, []byte("a"), InsertOptions{})
	assert.NoError(t, err)

	rev2 := RevID{Generation: 1, Digest: []byte{0x02}}
	_, err = doc.Insert(rev2, []byte("b"), InsertOptions{AllowConflict: true})
	assert.NoError(t, err)
	assert.True(t, doc.Conflicted())
	// Higher digest (0x02 > 0x01) wins among equal-generation leaves.
	assert.True(t, doc.RevID().Equal(rev2))
}

func TestInsertDuplicateRevIDIsIdempotentWhenBodyMatches(t *testing.T) {
	doc := freshDoc(t, "doc1")
	rev := RevID{Generation: 1, Digest: []byte{0x01}}
	_, err := doc.Insert(rev, []byte("a"), InsertOptions{})
	assert.NoError(t, err)
	_, err = doc.Insert(rev, []byte("a"), InsertOptions{})
	assert.NoError(t, err)
	assert.Len(t, doc.revs, 1)
}

func TestInsertDuplicateRevIDConflictsWhenBodyDiffers(t *testing.T) {
	doc := freshDoc(t, "doc1")
	rev := RevID{Generation: 1, Digest: []byte{0x01}}
	_, err := doc.Insert(rev, []byte("a"), InsertOptions{})
	assert.NoError(t, err)
	_, err = doc.Insert(rev, []byte("different"), InsertOptions{})
	assert.True(t, errors.Is(err, dferrors.ErrConflict))
}

func TestInsertWrongGenerationIsBadRequest(t *testing.T) {
	doc := freshDoc(t, "doc1")
	rev1 := RevID{Generation: 1, Digest: []byte{0x01}}
	_, err := doc.Insert(rev1, []byte("a"), InsertOptions{})
	assert.NoError(t, err)

	bad := RevID{Generation: 3, Digest: []byte{0x02}}
	_, err = doc.Insert(bad, []byte("b"), InsertOptions{Parent: rev1, ParentSet: true})
	assert.True(t, errors.Is(err, dferrors.ErrBadRequest))
}

func TestDeletedLeafLosesToNonDeletedLeaf(t *testing.T) {
	doc := freshDoc(t, "doc1")
	rev1 := RevID{Generation: 1, Digest: []byte{0x01}}
	_, err := doc.Insert(rev1, []byte("a"), InsertOptions{})
	assert.NoError(t, err)

	del := RevID{Generation: 1, Digest: []byte{0xff}}
	_, err = doc.Insert(del, nil, InsertOptions{Deleted: true, AllowConflict: true})
	assert.NoError(t, err)

	// Even though del has a larger digest, the non-deleted leaf still wins.
	assert.True(t, doc.RevID().Equal(rev1))
	assert.False(t, doc.Deleted())
}

func TestInsertHistoryMergesOntoCommonAncestor(t *testing.T) {
	doc := freshDoc(t, "doc1")
	rev1 := RevID{Generation: 1, Digest: []byte{0x01}}
	_, err := doc.Insert(rev1, []byte("a"), InsertOptions{})
	assert.NoError(t, err)

	rev3 := RevID{Generation: 3, Digest: []byte{0x03}}
	rev2 := RevID{Generation: 2, Digest: []byte{0x02}}
	history := []RevID{rev3, rev2, rev1} // newest to oldest
	ancestorIdx, err := doc.InsertHistory(history, []byte("c"), false, false)
	assert.NoError(t, err)
	assert.Equal(t, 2, ancestorIdx) // rev1 (index 2 in history) was the common ancestor

	assert.True(t, doc.RevID().Equal(rev3))
	cur, ok := doc.Find(rev3)
	assert.True(t, ok)
	body, err := cur.ReadBody()
	assert.NoError(t, err)
	assert.Equal(t, "c", string(body))
}

func TestInsertHistoryWithNoCommonAncestorCreatesNewBranch(t *testing.T) {
	doc := freshDoc(t, "doc1")
	rev2 := RevID{Generation: 2, Digest: []byte{0x02}}
	rev1 := RevID{Generation: 1, Digest: []byte{0x01}}
	ancestorIdx, err := doc.InsertHistory([]RevID{rev2, rev1}, []byte("body"), false, false)
	assert.NoError(t, err)
	assert.Equal(t, 2, ancestorIdx)
	assert.True(t, doc.RevID().Equal(rev2))
}

func TestInsertHistoryRejectsNonStrictGenerationDecrease(t *testing.T) {
	doc := freshDoc(t, "doc1")
	bad := []RevID{
		{Generation: 2, Digest: []byte{0x02}},
		{Generation: 2, Digest: []byte{0x01}},
	}
	_, err := doc.InsertHistory(bad, []byte("x"), false, false)
	assert.True(t, errors.Is(err, dferrors.ErrBadRequest))
}

func TestRevisionCursorNextVisitsHigherDigestBranchFirst(t *testing.T) {
	doc := freshDoc(t, "doc1")
	root := RevID{Generation: 1, Digest: []byte{0xaa}} // "1-aa"
	childA := RevID{Generation: 2, Digest: []byte{0xaa}} // "2-aa"
	childB := RevID{Generation: 2, Digest: []byte{0xbb}} // "2-bb", inserted after childA
	grandchild := RevID{Generation: 3, Digest: []byte{0xcc}} // "3-cc", under childA

	_, err := doc.Insert(root, []byte("root"), InsertOptions{})
	assert.NoError(t, err)
	_, err = doc.Insert(childA, []byte("a"), InsertOptions{Parent: root, ParentSet: true})
	assert.NoError(t, err)
	_, err = doc.Insert(childB, []byte("b"), InsertOptions{Parent: root, ParentSet: true, AllowConflict: true})
	assert.NoError(t, err)
	_, err = doc.Insert(grandchild, []byte("c"), InsertOptions{Parent: childA, ParentSet: true})
	assert.NoError(t, err)

	rootCur, ok := doc.Find(root)
	assert.True(t, ok)

	// childB has a higher digest than childA, so even though childA's
	// subtree was extended with a grandchild after childB was inserted
	// (placing childB before the grandchild in arena order), pre-order
	// must still visit childB's whole subtree relative to its own rank
	// correctly: childB comes immediately after root.
	next, ok := rootCur.Next()
	assert.True(t, ok)
	assert.True(t, next.ID().Equal(childB), "next(1-aa) must be 2-bb")

	next, ok = next.Next()
	assert.True(t, ok)
	assert.True(t, next.ID().Equal(childA), "childB has no children, so pre-order moves to its sibling childA")

	next, ok = next.Next()
	assert.True(t, ok)
	assert.True(t, next.ID().Equal(grandchild), "pre-order descends into childA's subtree before any further sibling")

	_, ok = next.Next()
	assert.False(t, ok, "grandchild is the last revision in pre-order")
}

func TestPruneKeepsLeafAndReparentsToNearestKeptAncestor(t *testing.T) {
	doc := freshDoc(t, "doc1")
	rev1 := RevID{Generation: 1, Digest: []byte{0x01}}
	rev2 := RevID{Generation: 2, Digest: []byte{0x02}}
	rev3 := RevID{Generation: 3, Digest: []byte{0x03}}
	rev4 := RevID{Generation: 4, Digest: []byte{0x04}}

	_, err := doc.Insert(rev1, []byte("1"), InsertOptions{})
	assert.NoError(t, err)
	_, err = doc.Insert(rev2, []byte("2"), InsertOptions{Parent: rev1, ParentSet: true})
	assert.NoError(t, err)
	_, err = doc.Insert(rev3, []byte("3"), InsertOptions{Parent: rev2, ParentSet: true})
	assert.NoError(t, err)
	_, err = doc.Insert(rev4, []byte("4"), InsertOptions{Parent: rev3, ParentSet: true})
	assert.NoError(t, err)

	doc.Prune(2) // keep only the leaf and its direct parent

	_, ok := doc.Find(rev1)
	assert.False(t, ok, "rev1 should have been pruned")
	_, ok = doc.Find(rev2)
	assert.False(t, ok, "rev2 should have been pruned")

	cur3, ok := doc.Find(rev3)
	assert.True(t, ok)
	cur4, ok := doc.Find(rev4)
	assert.True(t, ok)
	assert.True(t, cur4.IsLeaf())

	parent, ok := cur4.Parent()
	assert.True(t, ok)
	assert.True(t, parent.ID().Equal(cur3.ID()))

	_, ok = parent.Parent()
	assert.False(t, ok, "rev3's parent should now be a root, since rev2 was pruned")
}
