package docforest

import (
	"encoding/binary"
	"fmt"
)

// Opaque on-disk rev-tree metadata format (spec §3: "opaque metadata
// blob", §6.4). Layout, all integers as unsigned varints unless noted:
//
//	docType:   varint length, bytes
//	revCount:  varint
//	per revision, in arena order:
//	  generation: varint
//	  digest:     varint length, bytes
//	  flags:      1 byte
//	  sequence:   varint
//	  parent:     varint (stored as index+1; 0 means root)
//	  inline:     1 byte (0 no body, 1 inline, 2 bodyAbsent/compacted,
//	              3 stored in the body-overflow store under this
//	              revision's own sequence)
//	  body:       varint length, bytes (only if inline == 1)
//
// Revision bodies other than the current winner's are never inlined in
// the persisted blob (spec §4.3 save step 2); a non-current revision's
// body is instead fetched from the body-overflow store on demand via
// ReadBody, keyed by (docID, its own sequence) — see database.go's
// SaveDocument, which is what actually writes those overflow entries.

func encodeDocMeta(d *VersionedDocument) []byte {
	buf := make([]byte, 0, 64+len(d.revs)*24)
	buf = appendVarBytes(buf, d.docType)
	buf = appendUvarint(buf, uint64(len(d.revs)))
	for i := range d.revs {
		r := &d.revs[i]
		buf = appendUvarint(buf, uint64(r.ID.Generation))
		buf = appendVarBytes(buf, r.ID.Digest)
		buf = append(buf, byte(r.flags))
		buf = appendUvarint(buf, r.sequence)
		buf = appendUvarint(buf, uint64(r.parent+1))

		switch {
		case i == d.current && r.hasInline:
			buf = append(buf, 1)
			buf = appendVarBytes(buf, r.inlineBody)
		case r.bodyAbsent:
			buf = append(buf, 2)
		case r.overflowWritten:
			buf = append(buf, 3)
		default:
			buf = append(buf, 0)
		}
	}
	return buf
}

func decodeDocMeta(db *Database, docID []byte, meta []byte, winnerBody []byte) (*VersionedDocument, error) {
	d := newVersionedDocument(db, docID)

	rest := meta
	docType, rest, err := takeVarBytes(rest)
	if err != nil {
		return nil, fmt.Errorf("docforest: corrupt doc meta: %w", err)
	}
	d.docType = docType

	count, rest, err := takeUvarint(rest)
	if err != nil {
		return nil, fmt.Errorf("docforest: corrupt doc meta: %w", err)
	}

	d.revs = make([]Revision, 0, count)
	for i := uint64(0); i < count; i++ {
		var r Revision

		gen, rr, err := takeUvarint(rest)
		if err != nil {
			return nil, fmt.Errorf("docforest: corrupt revision %d: %w", i, err)
		}
		rest = rr

		digest, rr, err := takeVarBytes(rest)
		if err != nil {
			return nil, fmt.Errorf("docforest: corrupt revision %d: %w", i, err)
		}
		rest = rr
		r.ID = RevID{Generation: int(gen), Digest: digest}

		if len(rest) < 1 {
			return nil, fmt.Errorf("docforest: corrupt revision %d: truncated flags", i)
		}
		r.flags = RevFlags(rest[0])
		rest = rest[1:]

		seq, rr, err := takeUvarint(rest)
		if err != nil {
			return nil, fmt.Errorf("docforest: corrupt revision %d: %w", i, err)
		}
		rest = rr
		r.sequence = seq

		parentPlus1, rr, err := takeUvarint(rest)
		if err != nil {
			return nil, fmt.Errorf("docforest: corrupt revision %d: %w", i, err)
		}
		rest = rr
		r.parent = int(parentPlus1) - 1

		if len(rest) < 1 {
			return nil, fmt.Errorf("docforest: corrupt revision %d: truncated inline marker", i)
		}
		marker := rest[0]
		rest = rest[1:]
		switch marker {
		case 1:
			body, rr, err := takeVarBytes(rest)
			if err != nil {
				return nil, fmt.Errorf("docforest: corrupt revision %d: %w", i, err)
			}
			rest = rr
			r.inlineBody = body
			r.hasInline = true
		case 2:
			r.bodyAbsent = true
		case 3:
			r.overflowWritten = true
		default:
			r.hasInline = true // no body was ever attached to this revision
		}

		d.revs = append(d.revs, r)
	}

	d.recompute()
	if d.current >= 0 && !d.revs[d.current].hasInline && winnerBody != nil {
		d.revs[d.current].inlineBody = winnerBody
		d.revs[d.current].hasInline = true
	}
	return d, nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func appendVarBytes(buf []byte, b []byte) []byte {
	buf = appendUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func takeUvarint(b []byte) (uint64, []byte, error) {
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, nil, fmt.Errorf("truncated varint")
	}
	return v, b[n:], nil
}

func takeVarBytes(b []byte) ([]byte, []byte, error) {
	n, rest, err := takeUvarint(b)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < n {
		return nil, nil, fmt.Errorf("truncated byte field")
	}
	return append([]byte(nil), rest[:n]...), rest[n:], nil
}
