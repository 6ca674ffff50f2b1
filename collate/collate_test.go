package collate

import (
	"bytes"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDoubleEncodingPreservesOrder(t *testing.T) {
	values := []float64{-1e10, -1.5, -0.0001, 0, 0.0001, 1.5, 42, 1e10}
	var keys [][]byte
	for _, v := range values {
		keys = append(keys, NewBuilder().AddDouble(v).Bytes())
	}
	sorted := append([][]byte(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })
	for i := range keys {
		assert.True(t, bytes.Equal(keys[i], sorted[i]), "encoded doubles should already be in sorted order")
	}
}

func TestDoubleRoundTrip(t *testing.T) {
	for _, v := range []float64{0, -0.0, 1, -1, 1e300, -1e300, 123456.789} {
		b := NewBuilder().AddDouble(v).Bytes()
		got, err := NewReader(b).ReadDouble()
		assert.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestStringEncodingPreservesOrder(t *testing.T) {
	strs := []string{"", "a", "aa", "ab", "b", "z", "zz"}
	var keys [][]byte
	for _, s := range strs {
		keys = append(keys, NewBuilder().AddString(s).Bytes())
	}
	for i := 1; i < len(keys); i++ {
		assert.True(t, bytes.Compare(keys[i-1], keys[i]) < 0, "%q should sort before %q", strs[i-1], strs[i])
	}
}

func TestStringRoundTripWithEmbeddedNUL(t *testing.T) {
	s := "a\x00b\x00\x00c"
	b := NewBuilder().AddString(s).Bytes()
	got, err := NewReader(b).ReadString()
	assert.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestArrayTupleRoundTrip(t *testing.T) {
	b := NewBuilder().BeginArray().AddDouble(17).AddString("doc-1").EndArray().Bytes()
	r := NewReader(b)
	assert.NoError(t, r.SkipArrayStart())
	ts, err := r.ReadDouble()
	assert.NoError(t, err)
	assert.Equal(t, float64(17), ts)
	docID, err := r.ReadString()
	assert.NoError(t, err)
	assert.Equal(t, "doc-1", docID)
	assert.NoError(t, r.SkipArrayEnd())
}

func TestArrayTupleOrderingMatchesTupleOrder(t *testing.T) {
	type tuple struct {
		ts    float64
		docID string
	}
	rnd := rand.New(rand.NewSource(1))
	var tuples []tuple
	for i := 0; i < 200; i++ {
		tuples = append(tuples, tuple{ts: float64(rnd.Intn(1000)), docID: string(rune('a' + rnd.Intn(26)))})
	}

	encoded := make([][]byte, len(tuples))
	for i, tp := range tuples {
		encoded[i] = NewBuilder().BeginArray().AddDouble(tp.ts).AddString(tp.docID).EndArray().Bytes()
	}

	idx := make([]int, len(tuples))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool {
		a, b := tuples[idx[i]], tuples[idx[j]]
		if a.ts != b.ts {
			return a.ts < b.ts
		}
		return a.docID < b.docID
	})

	byKey := make([]int, len(tuples))
	copy(byKey, idx)
	sort.Slice(byKey, func(i, j int) bool { return bytes.Compare(encoded[byKey[i]], encoded[byKey[j]]) < 0 })

	for i := range idx {
		assert.Equal(t, tuples[idx[i]], tuples[byKey[i]], "byte-order scan should match tuple-order scan at position %d", i)
	}
}
