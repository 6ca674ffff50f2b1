package docforest

// RevFlags is the bitset carried by a single Revision (spec §3).
type RevFlags uint8

const (
	RevDeleted RevFlags = 1 << iota
	RevLeaf
	RevNew
	RevHasAttachments
)

// Revision is one node of a document's rev-tree. Revisions live in the
// arena owned by their VersionedDocument (revs); parent is an index into
// that arena, or -1 for a root, avoiding raw pointers so grafting and
// pruning never have to worry about cyclic ownership (spec §9).
type Revision struct {
	ID       RevID
	flags    RevFlags
	sequence uint64
	parent   int

	// inlineBody holds the revision's body when it is stored alongside the
	// rev-tree metadata; there is no size limit. Once persisted, only the
	// current winner keeps a non-empty inline body; a revision that never
	// carried a body decodes with an empty one. bodyAbsent is set when the body is
	// known to have existed once but was compacted away. overflowWritten
	// marks a non-winner revision whose body was written to the
	// body-overflow store under (docID, sequence) at save time.
	inlineBody      []byte
	hasInline       bool
	bodyAbsent      bool
	overflowWritten bool
}

func (r *Revision) IsLeaf() bool           { return r.flags&RevLeaf != 0 }
func (r *Revision) IsDeleted() bool        { return r.flags&RevDeleted != 0 }
func (r *Revision) IsNew() bool            { return r.flags&RevNew != 0 }
func (r *Revision) HasAttachments() bool   { return r.flags&RevHasAttachments != 0 }
func (r *Revision) Sequence() uint64       { return r.sequence }

// RevisionCursor is a non-owning handle to one Revision within a
// VersionedDocument's arena (spec §3: "callers receive non-owning
// cursors"). It stays valid across Insert/InsertHistory calls on the same
// document, which only append to the arena. Prune compacts and renumbers
// the arena, so a cursor taken before a Prune may afterwards refer to a
// different revision or to none; look revisions up again (Find) instead.
type RevisionCursor struct {
	doc *VersionedDocument
	idx int
}

// Valid reports whether the cursor still refers to a live revision.
func (c RevisionCursor) Valid() bool {
	return c.doc != nil && c.idx >= 0 && c.idx < len(c.doc.revs)
}

func (c RevisionCursor) rev() *Revision { return &c.doc.revs[c.idx] }

// ID returns the revision identifier.
func (c RevisionCursor) ID() RevID { return c.rev().ID }

// IsLeaf reports whether no other revision has this one as parent.
func (c RevisionCursor) IsLeaf() bool { return c.rev().IsLeaf() }

// IsDeleted reports the revision's tombstone flag.
func (c RevisionCursor) IsDeleted() bool { return c.rev().IsDeleted() }

// HasAttachments reports the revision's attachments flag.
func (c RevisionCursor) HasAttachments() bool { return c.rev().HasAttachments() }

// Sequence returns the KeyStore sequence assigned when this revision was
// saved, or 0 if it has never been persisted.
func (c RevisionCursor) Sequence() uint64 { return c.rev().sequence }

// Parent returns a cursor to the parent revision, or ok=false at a root.
func (c RevisionCursor) Parent() (RevisionCursor, bool) {
	p := c.rev().parent
	if p < 0 {
		return RevisionCursor{}, false
	}
	return RevisionCursor{doc: c.doc, idx: p}, true
}

// Next returns the depth-first pre-order successor of this revision within
// the tree (or forest, if branches share no common root), or ok=false
// after the last revision. Siblings are visited in descending RevID order
// (generation, then digest: the tie-break of winner selection, spec §4.3;
// unlike winner selection, the deleted flag is not considered), so a conflicting
// branch with a higher RevID is walked — together with its whole subtree —
// before a lower-RevID sibling. Arena index order does not, in general,
// match pre-order once a branch is extended after a later conflicting
// sibling was inserted; callers must not mutate the tree mid-iteration.
func (c RevisionCursor) Next() (RevisionCursor, bool) {
	if child, ok := firstInGroup(c.doc, func(i int) bool { return c.doc.revs[i].parent == c.idx }); ok {
		return RevisionCursor{doc: c.doc, idx: child}, true
	}
	cur := c.idx
	for {
		parent := c.doc.revs[cur].parent
		curID := c.doc.revs[cur].ID
		if parent < 0 {
			if next, ok := nextInGroup(c.doc, func(i int) bool { return c.doc.revs[i].parent < 0 }, curID); ok {
				return RevisionCursor{doc: c.doc, idx: next}, true
			}
			return RevisionCursor{}, false
		}
		if sib, ok := nextInGroup(c.doc, func(i int) bool { return c.doc.revs[i].parent == parent }, curID); ok {
			return RevisionCursor{doc: c.doc, idx: sib}, true
		}
		cur = parent
	}
}

// firstInGroup returns the highest-RevID revision matching belongs.
func firstInGroup(doc *VersionedDocument, belongs func(i int) bool) (int, bool) {
	best := -1
	for i := range doc.revs {
		if !belongs(i) {
			continue
		}
		if best == -1 || doc.revs[i].ID.Compare(doc.revs[best].ID) > 0 {
			best = i
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

// nextInGroup returns the highest-RevID revision matching belongs whose
// RevID is strictly less than after, continuing a descending-RevID walk.
func nextInGroup(doc *VersionedDocument, belongs func(i int) bool, after RevID) (int, bool) {
	best := -1
	for i := range doc.revs {
		if !belongs(i) || doc.revs[i].ID.Compare(after) >= 0 {
			continue
		}
		if best == -1 || doc.revs[i].ID.Compare(doc.revs[best].ID) > 0 {
			best = i
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

// SelectNextLeaf advances Next() until a leaf matching includeDeleted is
// found, or reports ok=false.
func (c RevisionCursor) SelectNextLeaf(includeDeleted bool) (RevisionCursor, bool) {
	cur, ok := c.Next()
	for ok {
		if cur.IsLeaf() && (includeDeleted || !cur.IsDeleted()) {
			return cur, true
		}
		cur, ok = cur.Next()
	}
	return RevisionCursor{}, false
}

// InlineBody returns the body stored alongside this revision's metadata,
// if any.
func (c RevisionCursor) InlineBody() ([]byte, bool) {
	r := c.rev()
	if !r.hasInline {
		return nil, false
	}
	return r.inlineBody, true
}

// ReadBody loads this revision's body, fetching from the body-overflow
// store if it was not inlined. Returns a Gone error if the body was
// compacted away (spec §9: "always surface as Gone, never as NotFound").
func (c RevisionCursor) ReadBody() ([]byte, error) {
	r := c.rev()
	if r.hasInline {
		return r.inlineBody, nil
	}
	if r.bodyAbsent {
		return nil, goneError("ReadBody")
	}
	return c.doc.db.readOverflowBody(c.doc.docID, r.sequence)
}
