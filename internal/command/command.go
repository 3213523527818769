// Package command parses an incoming array of bulk strings into a command
// and executes it against the store, producing zero, one, or a deferred
// reply. It owns MULTI/EXEC/DISCARD queueing and XREAD BLOCK's deferral.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"redis/internal/logging"
	"redis/internal/metrics"
	"redis/internal/rdb"
	"redis/internal/resp"
	"redis/internal/store"
	"redis/internal/value"
)

var log = logging.Get("command")

// Mode distinguishes a plain client connection from a sync-mode
// connection (the replica side of a primary link), which suppresses
// replies for every command except INFO and REPLCONF.
type Mode int

const (
	ModeNormal Mode = iota
	ModeSync
)

// Context carries everything a command needs beyond its own arguments:
// which store to run against, which connection issued it (keyed by its
// remote address, for transactions and replica registration), the
// connection's reply-suppression mode, and its outbound frame channel
// (used directly by PSYNC and by deferred XREAD BLOCK replies).
type Context struct {
	Store      *store.Store
	PeerAddr   string
	Mode       Mode
	WriterChan chan []byte
}

// Outcome is what running a command produces. Exactly one of Frames or
// Deferred is meaningful; Suppressed means "do not write Frames" (sync
// mode reply suppression, or REPLCONF ACK's silent accounting update).
type Outcome struct {
	Frames     [][]byte
	Suppressed bool
	Deferred   func()
}

func reply(v resp.Value) Outcome {
	return Outcome{Frames: [][]byte{resp.Serialize(v)}}
}

func suppressed() Outcome {
	return Outcome{Suppressed: true}
}

// exemptFromSuppression is the set of commands NOT suppressed on a
// sync-mode connection.
var exemptFromSuppression = map[string]bool{"INFO": true, "REPLCONF": true}

// Execute runs argv (already split into bulk-string elements) against
// ctx. frameSize is the serialized length of the source frame, used to
// advance this process's own ack_offset when ctx.Mode is ModeSync.
func Execute(ctx *Context, argv []string, frameSize int) Outcome {
	if ctx.Mode == ModeSync {
		defer ctx.Store.AddAckOffset(int64(frameSize))
	}

	if len(argv) == 0 {
		return suppressed()
	}
	verb := strings.ToUpper(argv[0])
	metrics.CommandsTotal.WithLabelValues(verb).Inc()

	if verb != "MULTI" && verb != "EXEC" && verb != "DISCARD" && ctx.Store.IsQueuing(ctx.PeerAddr) {
		ctx.Store.Queue(ctx.PeerAddr, argv)
		return reply(resp.SimpleStr("QUEUED"))
	}

	out := dispatch(ctx, verb, argv)

	if ctx.Mode == ModeSync && !exemptFromSuppression[verb] {
		out.Suppressed = true
		out.Frames = nil
	}
	return out
}

func dispatch(ctx *Context, verb string, argv []string) Outcome {
	args := argv[1:]
	switch verb {
	case "PING":
		return reply(resp.SimpleStr("PONG"))

	case "ECHO":
		if err := needArgs(args, 1); err != nil {
			return reply(resp.FromError(err))
		}
		return reply(resp.BulkStr(args[0]))

	case "GET":
		if err := needArgs(args, 1); err != nil {
			return reply(resp.FromError(err))
		}
		v, ok := ctx.Store.Get(args[0])
		if !ok || v.Kind != value.KindString {
			return reply(resp.NullBulk())
		}
		return reply(resp.BulkBytes(v.Text))

	case "SET":
		return doSet(ctx, args)

	case "INCR":
		if err := needArgs(args, 1); err != nil {
			return reply(resp.FromError(err))
		}
		n, err := ctx.Store.Incr(args[0])
		if err != nil {
			return reply(resp.Err("ERR " + err.Error()))
		}
		return reply(resp.Int(n))

	case "TYPE":
		if err := needArgs(args, 1); err != nil {
			return reply(resp.FromError(err))
		}
		return reply(resp.SimpleStr(ctx.Store.TypeOf(args[0])))

	case "XADD":
		return doXAdd(ctx, args)

	case "XRANGE":
		return doXRange(ctx, args)

	case "XREAD":
		return doXRead(ctx, args)

	case "MULTI":
		ctx.Store.StartQueue(ctx.PeerAddr)
		return reply(resp.SimpleStr("OK"))

	case "EXEC":
		return doExec(ctx)

	case "DISCARD":
		if !ctx.Store.DiscardQueue(ctx.PeerAddr) {
			return reply(resp.Err("ERR DISCARD without MULTI"))
		}
		return reply(resp.SimpleStr("OK"))

	case "CONFIG":
		return doConfigGet(ctx, args)

	case "KEYS":
		keys := ctx.Store.Keys()
		items := make([]resp.Value, len(keys))
		for i, k := range keys {
			items[i] = resp.BulkStr(k)
		}
		return reply(resp.Arr(items))

	case "INFO":
		return reply(resp.BulkStr(ctx.Store.Info()))

	case "WAIT":
		return doWait(ctx, args)

	case "REPLCONF":
		return doReplConf(ctx, args)

	case "PSYNC":
		return doPsync(ctx)

	default:
		return reply(resp.Err("ERR unknown command"))
	}
}

func needArgs(args []string, need int) error {
	if len(args) < need {
		return fmt.Errorf("ERR need %d got %d", need, len(args))
	}
	return nil
}

func doSet(ctx *Context, args []string) Outcome {
	if err := needArgs(args, 2); err != nil {
		return reply(resp.FromError(err))
	}
	key, val := args[0], args[1]
	var pxMillis *int64
	if len(args) >= 4 && strings.EqualFold(args[2], "PX") {
		ms, err := strconv.ParseInt(args[3], 10, 64)
		if err != nil {
			return reply(resp.Err("ERR PX value is not an integer or out of range"))
		}
		pxMillis = &ms
	}
	ctx.Store.SetString(key, []byte(val), pxMillis)
	return reply(resp.SimpleStr("OK"))
}

func doConfigGet(ctx *Context, args []string) Outcome {
	if len(args) < 2 || !strings.EqualFold(args[0], "GET") {
		return reply(resp.Err("ERR unknown command"))
	}
	key := args[1]
	val, ok := ctx.Store.ConfigGet(key)
	if !ok {
		return reply(resp.NullBulk())
	}
	return reply(resp.Arr([]resp.Value{resp.BulkStr(key), resp.BulkStr(val)}))
}

func doExec(ctx *Context) Outcome {
	queued, ok := ctx.Store.DrainQueue(ctx.PeerAddr)
	if !ok {
		return reply(resp.Err("ERR EXEC without MULTI"))
	}
	replies := make([]resp.Value, 0, len(queued))
	for _, argv := range queued {
		sub := Execute(ctx, argv, 0)
		if len(sub.Frames) == 1 {
			values, _, err := resp.Parse(sub.Frames[0])
			if err == nil && len(values) == 1 {
				replies = append(replies, values[0])
				continue
			}
		}
		replies = append(replies, resp.Err("ERR internal error executing queued command"))
	}
	return reply(resp.Arr(replies))
}

func doReplConf(ctx *Context, args []string) Outcome {
	if len(args) >= 2 && strings.EqualFold(args[0], "GETACK") {
		return reply(resp.StringArray("REPLCONF", "ACK", strconv.FormatInt(ctx.Store.AckOffset(), 10)))
	}
	if len(args) >= 2 && strings.EqualFold(args[0], "ACK") {
		ack, err := strconv.ParseInt(args[1], 10, 64)
		if err == nil {
			ctx.Store.ReplConfAck(ctx.PeerAddr, ack)
		}
		return suppressed()
	}
	return reply(resp.SimpleStr("OK"))
}

func doPsync(ctx *Context) Outcome {
	// Subscribe before producing the reply, so the replica can never miss
	// a mutation that commits while we are still answering the handshake.
	ctx.Store.Subscribe(ctx.PeerAddr, ctx.WriterChan)

	header := resp.Serialize(resp.SimpleStr(fmt.Sprintf("FULLRESYNC %s 0", store.MasterReplID)))
	blob := resp.RawRDBFrame(rdb.EmptyRDB)
	return Outcome{Frames: [][]byte{header, blob}}
}

func doWait(ctx *Context, args []string) Outcome {
	if err := needArgs(args, 2); err != nil {
		return reply(resp.FromError(err))
	}
	n, err1 := strconv.Atoi(args[0])
	ms, err2 := strconv.ParseInt(args[1], 10, 64)
	if err1 != nil || err2 != nil {
		return reply(resp.Err("ERR value is not an integer or out of range"))
	}
	count := ctx.Store.Wait(n, ms)
	return reply(resp.Int(int64(count)))
}

// parseIDSpec parses a single XADD/XRANGE/XREAD id token.
func parseIDSpec(tok string, allowStar bool) (value.IDSpec, error) {
	switch tok {
	case "*":
		if allowStar {
			return value.IDSpec{Kind: value.SpecNow}, nil
		}
	case "-":
		return value.IDSpec{Kind: value.SpecMin}, nil
	case "+":
		return value.IDSpec{Kind: value.SpecMax}, nil
	}
	parts := strings.SplitN(tok, "-", 2)
	ms, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return value.IDSpec{}, errors.New("ERR Invalid stream ID specified as stream command argument")
	}
	if len(parts) == 1 {
		return value.IDSpec{Kind: value.SpecAutoSeq, MS: ms}, nil
	}
	if parts[1] == "*" {
		return value.IDSpec{Kind: value.SpecAutoSeq, MS: ms}, nil
	}
	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return value.IDSpec{}, errors.New("ERR Invalid stream ID specified as stream command argument")
	}
	return value.IDSpec{Kind: value.SpecExplicit, MS: ms, Seq: seq}, nil
}

func doXAdd(ctx *Context, args []string) Outcome {
	if err := needArgs(args, 4); err != nil {
		return reply(resp.FromError(err))
	}
	key, idTok := args[0], args[1]
	rest := args[2:]
	if len(rest)%2 != 0 {
		return reply(resp.Err("ERR wrong number of arguments for 'xadd' command"))
	}
	spec, err := parseIDSpec(idTok, true)
	if err != nil {
		return reply(resp.Err(err.Error()))
	}
	fields := make([]value.Field, 0, len(rest)/2)
	for i := 0; i < len(rest); i += 2 {
		fields = append(fields, value.Field{Key: rest[i], Value: rest[i+1]})
	}

	id, err := ctx.Store.XAdd(key, spec, fields)
	if err != nil {
		var wrongType store.ErrWrongType
		if errors.As(err, &wrongType) {
			return reply(resp.Err(wrongType.Error()))
		}
		return reply(resp.Err("ERR " + err.Error()))
	}
	return reply(resp.BulkStr(id.String()))
}

func entriesToResp(entries []value.Entry) resp.Value {
	items := make([]resp.Value, len(entries))
	for i, e := range entries {
		fields := make([]resp.Value, 0, len(e.Fields)*2)
		for _, f := range e.Fields {
			fields = append(fields, resp.BulkStr(f.Key), resp.BulkStr(f.Value))
		}
		items[i] = resp.Arr([]resp.Value{resp.BulkStr(e.ID.String()), resp.Arr(fields)})
	}
	return resp.Arr(items)
}

func doXRange(ctx *Context, args []string) Outcome {
	if err := needArgs(args, 3); err != nil {
		return reply(resp.FromError(err))
	}
	start, err := parseIDSpec(args[1], false)
	if err != nil {
		return reply(resp.Err(err.Error()))
	}
	end, err := parseIDSpec(args[2], false)
	if err != nil {
		return reply(resp.Err(err.Error()))
	}
	entries, err := ctx.Store.XRange(args[0], start, end)
	if err != nil {
		var wrongType store.ErrWrongType
		if errors.As(err, &wrongType) {
			return reply(resp.Err(wrongType.Error()))
		}
		return reply(resp.Err("ERR " + err.Error()))
	}
	return reply(entriesToResp(entries))
}

func doXRead(ctx *Context, args []string) Outcome {
	i := 0
	var blockMS int64 = -1
	if i < len(args) && strings.EqualFold(args[i], "BLOCK") {
		ms, err := strconv.ParseInt(args[i+1], 10, 64)
		if err != nil {
			return reply(resp.Err("ERR timeout is not an integer or out of range"))
		}
		blockMS = ms
		i += 2
	}
	if i >= len(args) || !strings.EqualFold(args[i], "STREAMS") {
		return reply(resp.Err("ERR syntax error"))
	}
	i++
	rest := args[i:]
	if len(rest)%2 != 0 || len(rest) == 0 {
		return reply(resp.Err("ERR Unbalanced XREAD list of streams: for each stream key an ID or '$' must be specified."))
	}
	n := len(rest) / 2
	keys := rest[:n]
	idToks := rest[n:]

	ids := make([]value.ID, n)
	for j, tok := range idToks {
		if tok == "$" {
			ids[j] = ctx.Store.ResolveDollar(keys[j])
			continue
		}
		spec, err := parseIDSpec(tok, false)
		if err != nil {
			return reply(resp.Err(err.Error()))
		}
		ids[j] = value.ResolveRangeStart(spec)
	}

	evaluate := func() resp.Value {
		found := ctx.Store.XReadOnce(keys, ids)
		if len(found) == 0 {
			return resp.NullBulk()
		}
		items := make([]resp.Value, 0, len(found))
		for _, k := range keys {
			entries, ok := found[k]
			if !ok {
				continue
			}
			items = append(items, resp.Arr([]resp.Value{resp.BulkStr(k), entriesToResp(entries)}))
		}
		return resp.Arr(items)
	}

	if blockMS < 0 {
		return reply(evaluate())
	}

	if blockMS > 0 {
		return Outcome{Deferred: func() { blockWithTimeout(ctx, blockMS, evaluate) }}
	}

	if v := evaluate(); v.Kind != resp.Bulk || !v.BulkNull {
		return reply(v)
	}
	return Outcome{Deferred: func() { blockForever(ctx, keys, ids, evaluate) }}
}

func blockForever(ctx *Context, keys []string, ids []value.ID, evaluate func() resp.Value) {
	for {
		ch := ctx.Store.SubscribeStreams(keys)
		<-ch
		if v := evaluate(); v.Kind != resp.Bulk || !v.BulkNull {
			sendDeferred(ctx, v)
			return
		}
	}
}

func blockWithTimeout(ctx *Context, ms int64, evaluate func() resp.Value) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
	sendDeferred(ctx, evaluate())
}

func sendDeferred(ctx *Context, v resp.Value) {
	select {
	case ctx.WriterChan <- resp.Serialize(v):
	default:
		select {
		case ctx.WriterChan <- resp.Serialize(v):
		case <-time.After(time.Second):
			log.Warningf("dropping deferred XREAD reply for %s: writer channel unavailable", ctx.PeerAddr)
		}
	}
}
