package docforest

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// RevID is a canonical revision identifier: a generation number plus a
// digest, parsed from either the ASCII form "<gen>-<hex-digest>" or the
// compact binary form "<varint:gen><digest-bytes>" (spec §3). RevIDs are
// immutable; the zero value is not a valid RevID.
type RevID struct {
	Generation int
	Digest     []byte
}

// IsZero reports whether r is the unset RevID.
func (r RevID) IsZero() bool { return r.Generation == 0 && len(r.Digest) == 0 }

// String renders the ASCII form "<gen>-<hex-digest>".
func (r RevID) String() string {
	return strconv.Itoa(r.Generation) + "-" + hex.EncodeToString(r.Digest)
}

// Compare orders RevIDs first by generation, then lexicographically by
// digest, matching the winner-selection tie-break rule in spec §4.3.
func (r RevID) Compare(other RevID) int {
	if r.Generation != other.Generation {
		if r.Generation < other.Generation {
			return -1
		}
		return 1
	}
	return bytes.Compare(r.Digest, other.Digest)
}

// Equal reports whether r and other identify the same revision.
func (r RevID) Equal(other RevID) bool {
	return r.Generation == other.Generation && bytes.Equal(r.Digest, other.Digest)
}

// ParseRevID parses the ASCII form "<gen>-<hex-digest>".
func ParseRevID(s string) (RevID, error) {
	dash := strings.IndexByte(s, '-')
	if dash <= 0 || dash == len(s)-1 {
		return RevID{}, fmt.Errorf("docforest: malformed revID %q", s)
	}
	gen, err := strconv.Atoi(s[:dash])
	if err != nil || gen < 1 {
		return RevID{}, fmt.Errorf("docforest: malformed revID generation %q", s)
	}
	digest, err := hex.DecodeString(s[dash+1:])
	if err != nil {
		return RevID{}, fmt.Errorf("docforest: malformed revID digest %q", s)
	}
	return RevID{Generation: gen, Digest: digest}, nil
}

// MarshalBinary encodes r as "<varint:gen><digest-bytes>".
func (r RevID) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, binary.MaxVarintLen64+len(r.Digest))
	var vb [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(vb[:], uint64(r.Generation))
	buf = append(buf, vb[:n]...)
	buf = append(buf, r.Digest...)
	return buf, nil
}

// ParseRevIDBinary parses the compact binary form, returning the RevID
// and the number of bytes consumed from b.
func ParseRevIDBinary(b []byte) (RevID, int, error) {
	gen, n := binary.Uvarint(b)
	if n <= 0 {
		return RevID{}, 0, fmt.Errorf("docforest: malformed binary revID")
	}
	if gen < 1 {
		return RevID{}, 0, fmt.Errorf("docforest: malformed binary revID generation %d", gen)
	}
	// The digest runs to the end of b; callers that pack multiple RevIDs
	// into one buffer must length-prefix each digest themselves (see
	// serialize.go, which does exactly that for the rev-tree metadata blob).
	digest := append([]byte(nil), b[n:]...)
	return RevID{Generation: int(gen), Digest: digest}, len(b), nil
}
