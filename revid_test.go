package docforest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRevIDASCIIRoundTrip(t *testing.T) {
	r := RevID{Generation: 3, Digest: []byte{0xde, 0xad, 0xbe, 0xef}}
	parsed, err := ParseRevID(r.String())
	assert.NoError(t, err)
	assert.True(t, r.Equal(parsed), "round-tripped RevID should equal the original")
}

func TestRevIDBinaryRoundTrip(t *testing.T) {
	r := RevID{Generation: 128, Digest: []byte("some-digest-bytes")}
	b, err := r.MarshalBinary()
	assert.NoError(t, err)
	parsed, n, err := ParseRevIDBinary(b)
	assert.NoError(t, err)
	assert.Equal(t, len(b), n)
	assert.True(t, r.Equal(parsed))
}

func TestRevIDCompareByGenerationThenDigest(t *testing.T) {
	a := RevID{Generation: 1, Digest: []byte{0x01}}
	b := RevID{Generation: 2, Digest: []byte{0x00}}
	assert.Equal(t, -1, a.Compare(b), "lower generation sorts first regardless of digest")

	c := RevID{Generation: 1, Digest: []byte{0x01}}
	d := RevID{Generation: 1, Digest: []byte{0x02}}
	assert.Equal(t, -1, c.Compare(d), "equal generation falls back to digest comparison")
}

func TestParseRevIDRejectsMalformed(t *testing.T) {
	cases := []string{"", "nodash", "-deadbeef", "1-", "abc-deadbeef", "1-zz"}
	for _, s := range cases {
		_, err := ParseRevID(s)
		assert.Error(t, err, "expected malformed revID %q to be rejected", s)
	}
}
