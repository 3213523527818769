package command

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redis/internal/config"
	"redis/internal/resp"
	"redis/internal/store"
)

func newTestContext() *Context {
	st := store.New(config.Config{})
	return &Context{Store: st, PeerAddr: "127.0.0.1:1", Mode: ModeNormal, WriterChan: make(chan []byte, 16)}
}

func runOne(t *testing.T, ctx *Context, argv ...string) resp.Value {
	t.Helper()
	out := Execute(ctx, argv, len(argv))
	require.Len(t, out.Frames, 1)
	values, _, err := resp.Parse(out.Frames[0])
	require.NoError(t, err)
	require.Len(t, values, 1)
	return values[0]
}

func TestPingPong(t *testing.T) {
	ctx := newTestContext()
	v := runOne(t, ctx, "PING")
	assert.Equal(t, resp.SimpleString, v.Kind)
	assert.Equal(t, "PONG", v.Str)
}

func TestSetGetIncr(t *testing.T) {
	ctx := newTestContext()
	runOne(t, ctx, "SET", "k", "1")
	v := runOne(t, ctx, "INCR", "k")
	assert.Equal(t, int64(2), v.Int)

	g := runOne(t, ctx, "GET", "k")
	assert.Equal(t, "2", string(g.Bulk))
}

func TestGetMissingReturnsNullBulk(t *testing.T) {
	ctx := newTestContext()
	v := runOne(t, ctx, "GET", "missing")
	assert.True(t, v.BulkNull)
}

func TestUnknownCommand(t *testing.T) {
	ctx := newTestContext()
	v := runOne(t, ctx, "NOPE")
	assert.Equal(t, resp.Error, v.Kind)
	assert.Equal(t, "ERR unknown command", v.Str)
}

func TestNeedArgsWording(t *testing.T) {
	ctx := newTestContext()
	v := runOne(t, ctx, "GET")
	assert.Equal(t, "ERR need 1 got 0", v.Str)
}

func TestMultiExecQueuesAndRuns(t *testing.T) {
	ctx := newTestContext()
	v := runOne(t, ctx, "MULTI")
	assert.Equal(t, "OK", v.Str)

	out := Execute(ctx, []string{"SET", "a", "1"}, 0)
	require.Len(t, out.Frames, 1)
	values, _, _ := resp.Parse(out.Frames[0])
	assert.Equal(t, "QUEUED", values[0].Str)

	result := runOne(t, ctx, "EXEC")
	require.Equal(t, resp.Array, result.Kind)
	require.Len(t, result.Array, 1)
	assert.Equal(t, "OK", result.Array[0].Str)
}

func TestExecWithoutMulti(t *testing.T) {
	ctx := newTestContext()
	v := runOne(t, ctx, "EXEC")
	assert.Equal(t, "ERR EXEC without MULTI", v.Str)
}

func TestDiscardWithoutMulti(t *testing.T) {
	ctx := newTestContext()
	v := runOne(t, ctx, "DISCARD")
	assert.Equal(t, "ERR DISCARD without MULTI", v.Str)
}

func TestXAddZeroIDRejected(t *testing.T) {
	ctx := newTestContext()
	v := runOne(t, ctx, "XADD", "s", "0-0", "f", "v")
	assert.Equal(t, "ERR The ID specified in XADD must be greater than 0-0", v.Str)
}

func TestXAddOnStringKeyReportsWrongTypeWithoutErrPrefix(t *testing.T) {
	ctx := newTestContext()
	runOne(t, ctx, "SET", "k", "v")

	v := runOne(t, ctx, "XADD", "k", "1-1", "f", "v")
	assert.Equal(t, "WRONGTYPE Key k is not a stream", v.Str)

	v = runOne(t, ctx, "XRANGE", "k", "-", "+")
	assert.Equal(t, "WRONGTYPE Key k is not a stream", v.Str)
}

func TestXAddAndXRange(t *testing.T) {
	ctx := newTestContext()
	idv := runOne(t, ctx, "XADD", "s", "1-1", "f", "v")
	assert.Equal(t, "1-1", string(idv.Bulk))

	r := runOne(t, ctx, "XRANGE", "s", "-", "+")
	require.Len(t, r.Array, 1)
}

func TestXReadNonBlockingNoData(t *testing.T) {
	ctx := newTestContext()
	v := runOne(t, ctx, "XREAD", "STREAMS", "s", "0")
	assert.True(t, v.BulkNull)
}

func TestXReadBlockDeliversOnAppend(t *testing.T) {
	ctx := newTestContext()
	out := Execute(ctx, []string{"XREAD", "BLOCK", "0", "STREAMS", "s", "$"}, 0)
	require.NotNil(t, out.Deferred)
	go out.Deferred()

	time.Sleep(10 * time.Millisecond)
	Execute(ctx, []string{"XADD", "s", "5-0", "f", "v"}, 0)

	select {
	case frame := <-ctx.WriterChan:
		values, _, err := resp.Parse(frame)
		require.NoError(t, err)
		require.Len(t, values, 1)
		assert.Equal(t, resp.Array, values[0].Kind)
	case <-time.After(time.Second):
		t.Fatal("deferred XREAD reply never arrived")
	}
}

func TestReplConfAckIsSuppressed(t *testing.T) {
	ctx := newTestContext()
	out := Execute(ctx, []string{"REPLCONF", "ACK", "0"}, 0)
	assert.True(t, out.Suppressed)
	assert.Empty(t, out.Frames)
}

func TestSyncModeSuppressesRepliesExceptInfoAndReplconf(t *testing.T) {
	ctx := newTestContext()
	ctx.Mode = ModeSync

	out := Execute(ctx, []string{"SET", "k", "v"}, 10)
	assert.True(t, out.Suppressed)

	out = Execute(ctx, []string{"INFO"}, 4)
	assert.False(t, out.Suppressed)
}
