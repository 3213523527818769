package value

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamPushRejectsNonIncreasing(t *testing.T) {
	s := NewStream()
	require.NoError(t, s.Push(Entry{ID: ID{MS: 5, Seq: 0}}))
	err := s.Push(Entry{ID: ID{MS: 5, Seq: 0}})
	assert.ErrorIs(t, err, ErrSmallerID)
	err = s.Push(Entry{ID: ID{MS: 4, Seq: 9}})
	assert.ErrorIs(t, err, ErrSmallerID)
}

func TestStreamPushAcceptsIncreasing(t *testing.T) {
	s := NewStream()
	require.NoError(t, s.Push(Entry{ID: ID{MS: 1, Seq: 0}}))
	require.NoError(t, s.Push(Entry{ID: ID{MS: 1, Seq: 1}}))
	require.NoError(t, s.Push(Entry{ID: ID{MS: 2, Seq: 0}}))
	last, ok := s.LastID()
	require.True(t, ok)
	assert.Equal(t, ID{MS: 2, Seq: 0}, last)
}

func TestResolveAppendExplicitZeroRejected(t *testing.T) {
	s := NewStream()
	_, err := ResolveAppend(s, IDSpec{Kind: SpecExplicit, MS: 0, Seq: 0}, 1000)
	assert.ErrorIs(t, err, ErrZeroID)
}

func TestResolveAppendAutoSeqZeroMS(t *testing.T) {
	s := NewStream()
	id, err := ResolveAppend(s, IDSpec{Kind: SpecAutoSeq, MS: 0}, 1000)
	require.NoError(t, err)
	assert.Equal(t, ID{MS: 0, Seq: 1}, id)
}

func TestResolveAppendAutoSeqIncrementsSeq(t *testing.T) {
	s := NewStream()
	require.NoError(t, s.Push(Entry{ID: ID{MS: 5, Seq: 2}}))
	id, err := ResolveAppend(s, IDSpec{Kind: SpecAutoSeq, MS: 5}, 1000)
	require.NoError(t, err)
	assert.Equal(t, ID{MS: 5, Seq: 3}, id)
}

func TestResolveAppendAutoSeqNewMS(t *testing.T) {
	s := NewStream()
	require.NoError(t, s.Push(Entry{ID: ID{MS: 5, Seq: 2}}))
	id, err := ResolveAppend(s, IDSpec{Kind: SpecAutoSeq, MS: 9}, 1000)
	require.NoError(t, err)
	assert.Equal(t, ID{MS: 9, Seq: 0}, id)
}

func TestResolveAppendAutoSeqSmallerMSRejected(t *testing.T) {
	s := NewStream()
	require.NoError(t, s.Push(Entry{ID: ID{MS: 5, Seq: 2}}))
	_, err := ResolveAppend(s, IDSpec{Kind: SpecAutoSeq, MS: 3}, 1000)
	assert.ErrorIs(t, err, ErrSmallerID)
}

func TestResolveAppendNow(t *testing.T) {
	s := NewStream()
	id, err := ResolveAppend(s, IDSpec{Kind: SpecNow}, 1234)
	require.NoError(t, err)
	assert.Equal(t, ID{MS: 1234, Seq: 0}, id)

	id2, err := ResolveAppend(s, IDSpec{Kind: SpecNow}, 1234)
	require.NoError(t, err)
	assert.Equal(t, ID{MS: 1234, Seq: 0}, id2)
	require.NoError(t, s.Push(Entry{ID: id2}))

	id3, err := ResolveAppend(s, IDSpec{Kind: SpecNow}, 1234)
	require.NoError(t, err)
	assert.Equal(t, ID{MS: 1234, Seq: 1}, id3)
}

func TestResolveRangeBounds(t *testing.T) {
	assert.Equal(t, Min, ResolveRangeStart(IDSpec{Kind: SpecMin}))
	assert.Equal(t, Max, ResolveRangeStart(IDSpec{Kind: SpecMax}))
	assert.Equal(t, ID{MS: 5, Seq: 0}, ResolveRangeStart(IDSpec{Kind: SpecAutoSeq, MS: 5}))
	assert.Equal(t, ID{MS: 5, Seq: 0xFFFFFFFFFFFFFFFF}, ResolveRangeEnd(IDSpec{Kind: SpecAutoSeq, MS: 5}))
}

func TestStreamQueryInclusive(t *testing.T) {
	s := NewStream()
	require.NoError(t, s.Push(Entry{ID: ID{MS: 1, Seq: 0}}))
	require.NoError(t, s.Push(Entry{ID: ID{MS: 2, Seq: 0}}))
	require.NoError(t, s.Push(Entry{ID: ID{MS: 3, Seq: 0}}))

	got := s.Query(ID{MS: 1, Seq: 0}, ID{MS: 2, Seq: 0})
	require.Len(t, got, 2)
	assert.Equal(t, ID{MS: 1, Seq: 0}, got[0].ID)
	assert.Equal(t, ID{MS: 2, Seq: 0}, got[1].ID)
}

func TestStreamFindAfterIsExclusive(t *testing.T) {
	s := NewStream()
	require.NoError(t, s.Push(Entry{ID: ID{MS: 1, Seq: 0}}))
	require.NoError(t, s.Push(Entry{ID: ID{MS: 2, Seq: 0}}))

	got := s.FindAfter(ID{MS: 1, Seq: 0})
	require.Len(t, got, 1)
	assert.Equal(t, ID{MS: 2, Seq: 0}, got[0].ID)
}

func TestValueExpired(t *testing.T) {
	past := time.Now().Add(-time.Second)
	v := NewString([]byte("x"), &past)
	assert.True(t, v.Expired(time.Now()))
}

func TestValueTypeName(t *testing.T) {
	assert.Equal(t, "string", NewString([]byte("x"), nil).TypeName())
	sv := Value{Kind: KindStream, Stream: NewStream()}
	assert.Equal(t, "stream", sv.TypeName())
}
