package docforest

import "bytes"

// DocFlags is the aggregate bitset carried by a VersionedDocument,
// recomputed from its current winning revision every time the tree
// changes (spec §3).
type DocFlags uint8

const (
	DocExists DocFlags = 1 << iota
	DocDeleted
	DocConflicted
	DocHasAttachments
)

// VersionedDocument is the in-memory representation of one logical
// document: its id, an arena of Revision nodes, aggregate flags, an
// optional doc-type, and a dirty bit (spec §3/§4.3). Revisions are
// stored in a flat slice and referenced by index rather than pointer, so
// grafting (insertHistory) and pruning never create reference cycles.
type VersionedDocument struct {
	docID   []byte
	revs    []Revision
	current int // index of the winning revision, -1 if none
	flags   DocFlags
	docType []byte
	dirty   bool

	db *Database // borrowed; must not outlive db
}

// newVersionedDocument returns an empty, non-existent document handle
// bound to db.
func newVersionedDocument(db *Database, docID []byte) *VersionedDocument {
	return &VersionedDocument{
		db:      db,
		docID:   append([]byte(nil), docID...),
		current: -1,
	}
}

// DocID returns the document's immutable identifier.
func (d *VersionedDocument) DocID() []byte { return d.docID }

// Exists reports whether the document has any revision at all.
func (d *VersionedDocument) Exists() bool { return d.flags&DocExists != 0 }

// Deleted reports whether the current (winning) revision is a tombstone.
func (d *VersionedDocument) Deleted() bool { return d.flags&DocDeleted != 0 }

// Conflicted reports whether more than one non-deleted leaf exists.
func (d *VersionedDocument) Conflicted() bool { return d.flags&DocConflicted != 0 }

// HasAttachments mirrors the current revision's attachments flag.
func (d *VersionedDocument) HasAttachments() bool { return d.flags&DocHasAttachments != 0 }

// IsDirty reports whether the document has unsaved changes.
func (d *VersionedDocument) IsDirty() bool { return d.dirty }

// DocType returns the document's optional short type tag.
func (d *VersionedDocument) DocType() []byte { return d.docType }

// SetDocType updates the document's type tag, marking the document dirty.
func (d *VersionedDocument) SetDocType(t []byte) {
	d.docType = append([]byte(nil), t...)
	d.dirty = true
}

// RevID returns the id of the current (winning) revision, or the zero
// RevID if the document does not exist.
func (d *VersionedDocument) RevID() RevID {
	if d.current < 0 {
		return RevID{}
	}
	return d.revs[d.current].ID
}

// Current returns a cursor to the winning revision.
func (d *VersionedDocument) Current() (RevisionCursor, bool) {
	if d.current < 0 {
		return RevisionCursor{}, false
	}
	return RevisionCursor{doc: d, idx: d.current}, true
}

// Find returns a cursor to the revision identified by id.
func (d *VersionedDocument) Find(id RevID) (RevisionCursor, bool) {
	idx, ok := d.findRevision(id)
	if !ok {
		return RevisionCursor{}, false
	}
	return RevisionCursor{doc: d, idx: idx}, true
}

func (d *VersionedDocument) findRevision(id RevID) (int, bool) {
	for i := range d.revs {
		if d.revs[i].ID.Equal(id) {
			return i, true
		}
	}
	return -1, false
}

// History returns the ancestor chain from id back to the root,
// newest-to-oldest, id included (spec §4.3 supplement).
func (d *VersionedDocument) History(id RevID) []RevID {
	idx, ok := d.findRevision(id)
	if !ok {
		return nil
	}
	var out []RevID
	for idx != -1 {
		out = append(out, d.revs[idx].ID)
		idx = d.revs[idx].parent
	}
	return out
}

// revisionBetter reports whether a outranks b under the winner ordering:
// non-deleted before deleted, then higher generation, then
// lexicographically larger digest (spec §4.3).
func revisionBetter(a, b *Revision) bool {
	aDel, bDel := a.IsDeleted(), b.IsDeleted()
	if aDel != bDel {
		return !aDel
	}
	if a.ID.Generation != b.ID.Generation {
		return a.ID.Generation > b.ID.Generation
	}
	return bytes.Compare(a.ID.Digest, b.ID.Digest) > 0
}

// recompute picks the new winner among all leaves and refreshes the
// document's aggregate flags. Called after every structural change.
func (d *VersionedDocument) recompute() {
	best := -1
	nonDeletedLeaves := 0
	for i := range d.revs {
		if !d.revs[i].IsLeaf() {
			continue
		}
		if !d.revs[i].IsDeleted() {
			nonDeletedLeaves++
		}
		if best == -1 || revisionBetter(&d.revs[i], &d.revs[best]) {
			best = i
		}
	}
	d.current = best
	d.flags &^= DocExists | DocDeleted | DocConflicted | DocHasAttachments
	if best == -1 {
		return
	}
	d.flags |= DocExists
	if d.revs[best].IsDeleted() {
		d.flags |= DocDeleted
	}
	if d.revs[best].HasAttachments() {
		d.flags |= DocHasAttachments
	}
	if nonDeletedLeaves > 1 {
		d.flags |= DocConflicted
	}
}

// InsertOptions groups insert's optional arguments to keep the call site
// readable once Parent/AllowConflict are both present.
type InsertOptions struct {
	Deleted        bool
	HasAttachments bool
	// Parent is the revision the new one is grafted onto; ParentSet must
	// be true for a non-root insert.
	Parent    RevID
	ParentSet bool
	// AllowConflict permits grafting a second independent branch.
	AllowConflict bool
}

// Insert grafts a new revision onto the tree (spec §4.3 insert). Rule
// order matches the spec exactly: duplicate revID is checked first (and
// is idempotent when the body matches), then conflict rules, then the
// generation check.
func (d *VersionedDocument) Insert(newRevID RevID, body []byte, opts InsertOptions) (RevisionCursor, error) {
	if existingIdx, ok := d.findRevision(newRevID); ok {
		existingBody, err := RevisionCursor{doc: d, idx: existingIdx}.ReadBody()
		if err != nil {
			return RevisionCursor{}, err
		}
		if !bytes.Equal(existingBody, body) {
			return RevisionCursor{}, conflictError("Insert")
		}
		return RevisionCursor{doc: d, idx: existingIdx}, nil
	}

	parentIdx := -1
	if opts.ParentSet {
		idx, ok := d.findRevision(opts.Parent)
		if !ok {
			return RevisionCursor{}, badRequestError("Insert")
		}
		parentIdx = idx
	}

	if parentIdx == -1 {
		if cur, ok := d.Current(); ok && !cur.IsDeleted() && !opts.AllowConflict {
			return RevisionCursor{}, conflictError("Insert")
		}
	} else if !d.revs[parentIdx].IsLeaf() && !opts.AllowConflict {
		return RevisionCursor{}, conflictError("Insert")
	}

	expectedGen := 1
	if parentIdx != -1 {
		expectedGen = d.revs[parentIdx].ID.Generation + 1
	}
	if newRevID.Generation != expectedGen {
		return RevisionCursor{}, badRequestError("Insert")
	}

	rev := Revision{ID: newRevID, parent: parentIdx, flags: RevLeaf | RevNew}
	if opts.Deleted {
		rev.flags |= RevDeleted
	}
	if opts.HasAttachments {
		rev.flags |= RevHasAttachments
	}
	rev.inlineBody = append([]byte(nil), body...)
	rev.hasInline = true

	if parentIdx != -1 {
		d.revs[parentIdx].flags &^= RevLeaf
	}
	d.revs = append(d.revs, rev)
	newIdx := len(d.revs) - 1

	d.recompute()
	d.dirty = true
	return RevisionCursor{doc: d, idx: newIdx}, nil
}

// InsertHistory grafts historyVector (newest-to-oldest) onto the tree,
// returning the index of the lowest entry already present (the common
// ancestor), or len(historyVector) if the whole chain is a new branch
// (spec §4.3 insertHistory). Returns -1 with a BadRequest error if the
// chain is malformed.
//
// The spec's "strict generation decrease" check is implemented as an
// exact decrement of 1 between adjacent entries, since that is what the
// Revision invariant ("child.gen = parent.gen + 1", spec §3) requires of
// every parent/child pair this call ends up creating.
func (d *VersionedDocument) InsertHistory(historyVector []RevID, body []byte, deleted, hasAttachments bool) (int, error) {
	if len(historyVector) == 0 {
		return -1, badRequestError("InsertHistory")
	}
	for i := 0; i+1 < len(historyVector); i++ {
		if historyVector[i].Generation != historyVector[i+1].Generation+1 {
			return -1, badRequestError("InsertHistory")
		}
	}

	ancestorIdx := len(historyVector)
	for i, id := range historyVector {
		if _, ok := d.findRevision(id); ok {
			ancestorIdx = i
			break
		}
	}

	// Graft from the oldest missing entry up to the newest (index 0),
	// since insert requires each node's parent to already exist.
	var parentRevID RevID
	var startIdx int
	if ancestorIdx == len(historyVector) {
		// No common ancestor: the oldest entry becomes a fresh root.
		rootIdx := len(historyVector) - 1
		root := historyVector[rootIdx]
		rev := Revision{ID: root, parent: -1, flags: RevLeaf | RevNew, hasInline: true}
		if rootIdx == 0 {
			if deleted {
				rev.flags |= RevDeleted
			}
			if hasAttachments {
				rev.flags |= RevHasAttachments
			}
			rev.inlineBody = append([]byte(nil), body...)
		}
		d.revs = append(d.revs, rev)
		parentRevID = root
		startIdx = rootIdx - 1
	} else {
		parentRevID = historyVector[ancestorIdx]
		startIdx = ancestorIdx - 1
	}

	for i := startIdx; i >= 0; i-- {
		parentIdx, ok := d.findRevision(parentRevID)
		if !ok {
			return -1, badRequestError("InsertHistory")
		}
		d.revs[parentIdx].flags &^= RevLeaf
		rev := Revision{ID: historyVector[i], parent: parentIdx, flags: RevLeaf | RevNew}
		if i == 0 {
			if deleted {
				rev.flags |= RevDeleted
			}
			if hasAttachments {
				rev.flags |= RevHasAttachments
			}
			rev.inlineBody = append([]byte(nil), body...)
			rev.hasInline = true
		} else {
			rev.hasInline = true // empty inline body; ancestors carry no payload
		}
		d.revs = append(d.revs, rev)
		parentRevID = historyVector[i]
	}

	d.recompute()
	d.dirty = true
	return ancestorIdx, nil
}

// Prune removes revisions whose distance to the nearest leaf exceeds
// maxDepth-1, reparenting survivors to the nearest retained ancestor.
// Leaves are never removed (spec §4.3 prune).
func (d *VersionedDocument) Prune(maxDepth int) {
	if maxDepth < 1 || len(d.revs) == 0 {
		return
	}

	keep := make([]bool, len(d.revs))
	for i := range d.revs {
		if d.revs[i].IsLeaf() {
			keep[i] = true
		}
	}
	for i := range d.revs {
		if !d.revs[i].IsLeaf() {
			continue
		}
		depth := 1
		cur := d.revs[i].parent
		for cur != -1 && depth <= maxDepth-1 {
			keep[cur] = true
			cur = d.revs[cur].parent
			depth++
		}
	}

	nearestKeptAncestor := func(idx int) int {
		cur := d.revs[idx].parent
		for cur != -1 && !keep[cur] {
			cur = d.revs[cur].parent
		}
		return cur
	}

	remap := make([]int, len(d.revs))
	for i := range remap {
		remap[i] = -1
	}
	newRevs := make([]Revision, 0, len(d.revs))
	for i := range d.revs {
		if !keep[i] {
			continue
		}
		nr := d.revs[i]
		if nr.parent != -1 && !keep[nr.parent] {
			nr.parent = nearestKeptAncestor(i)
		}
		remap[i] = len(newRevs)
		newRevs = append(newRevs, nr)
	}
	for i := range newRevs {
		if newRevs[i].parent != -1 {
			newRevs[i].parent = remap[newRevs[i].parent]
		}
	}
	if d.current != -1 {
		d.current = remap[d.current]
	}
	d.revs = newRevs
	d.dirty = true
}
