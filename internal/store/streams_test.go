package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redis/internal/value"
)

func TestResolveDollarOnAbsentStream(t *testing.T) {
	s := newTestStore()
	assert.Equal(t, value.ID{}, s.ResolveDollar("missing"))
}

func TestResolveDollarReturnsLastID(t *testing.T) {
	s := newTestStore()
	id, err := s.XAdd("s", value.IDSpec{Kind: value.SpecExplicit, MS: 7, Seq: 0}, nil)
	require.NoError(t, err)
	assert.Equal(t, id, s.ResolveDollar("s"))
}

func TestXReadOnceOnlyReturnsKeysWithNewEntries(t *testing.T) {
	s := newTestStore()
	_, err := s.XAdd("a", value.IDSpec{Kind: value.SpecExplicit, MS: 1, Seq: 0}, nil)
	require.NoError(t, err)

	found := s.XReadOnce([]string{"a", "b"}, []value.ID{{MS: 0, Seq: 0}, {MS: 0, Seq: 0}})
	assert.Contains(t, found, "a")
	assert.NotContains(t, found, "b")
}

func TestSubscribeStreamsWakesOnAppend(t *testing.T) {
	s := newTestStore()
	ch := s.SubscribeStreams([]string{"s1", "s2"})

	done := make(chan struct{})
	go func() {
		<-ch
		close(done)
	}()

	_, err := s.XAdd("s2", value.IDSpec{Kind: value.SpecExplicit, MS: 1, Seq: 0}, nil)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscriber was not woken")
	}
}

func TestXRangeOnWrongTypeErrors(t *testing.T) {
	s := newTestStore()
	s.SetString("k", []byte("v"), nil)
	_, err := s.XRange("k", value.IDSpec{Kind: value.SpecMin}, value.IDSpec{Kind: value.SpecMax})
	var wrongType ErrWrongType
	assert.ErrorAs(t, err, &wrongType)
}
