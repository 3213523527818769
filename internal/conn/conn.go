// Package conn implements the per-connection runtime: a reader goroutine
// that turns bytes into frames, a dispatcher goroutine that runs each
// frame's command, and a writer goroutine that serializes replies onto
// the socket — three goroutines joined by bounded channels, so a
// blocking XREAD on one connection never stalls another command on the
// same connection. The split is grounded on the primary/replica
// handshake's own reader/writer/dispatcher task split, not on a single
// read-execute-write loop.
package conn

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"redis/internal/command"
	"redis/internal/logging"
	"redis/internal/metrics"
	"redis/internal/resp"
	"redis/internal/store"
)

var log = logging.Get("conn")

const writerQueueDepth = 256

// frame is one parsed incoming RESP array of bulk strings, handed from the
// reader to the dispatcher.
type frame struct {
	argv []string
	size int // serialized byte length of the source frame, for ack accounting
}

// ServeClient handles one inbound client connection until it closes.
func ServeClient(c net.Conn, st *store.Store) {
	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Inc()
	defer metrics.ConnectionsActive.Dec()

	peer := c.RemoteAddr().String()
	defer func() {
		st.RemoveClient(peer)
		st.RemoveReplica(peer)
		c.Close()
	}()

	writer := make(chan []byte, writerQueueDepth)
	frames := make(chan frame, 64)
	done := make(chan struct{})

	go writerLoop(c, writer, done)
	go readerLoop(c, frames, done)

	ctx := &command.Context{Store: st, PeerAddr: peer, Mode: command.ModeNormal, WriterChan: writer}
	dispatchLoop(ctx, frames, writer, done)
}

func readerLoop(c net.Conn, out chan<- frame, done <-chan struct{}) {
	defer close(out)
	r := bufio.NewReaderSize(c, 64*1024)
	var buf []byte
	tmp := make([]byte, 8192)
	for {
		for {
			vals, used, perr := resp.Parse(buf)
			if perr != nil {
				log.Warningf("discarding malformed RESP input from %s: %v", c.RemoteAddr(), perr)
				used = len(buf)
			}
			if used == 0 {
				break
			}
			buf = buf[used:]
			for _, v := range vals {
				argv, ok := valueToArgv(v)
				if !ok {
					continue
				}
				select {
				case out <- frame{argv: argv, size: len(resp.Serialize(v))}:
				case <-done:
					return
				}
			}
		}
		n, rerr := r.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if rerr != nil {
			return
		}
	}
}

func valueToArgv(v resp.Value) ([]string, bool) {
	if v.Kind != resp.Array || v.ArrayNull {
		return nil, false
	}
	argv := make([]string, len(v.Array))
	for i, item := range v.Array {
		if item.Kind != resp.Bulk || item.BulkNull {
			return nil, false
		}
		argv[i] = string(item.Bulk)
	}
	return argv, true
}

func writerLoop(c net.Conn, in <-chan []byte, done chan struct{}) {
	w := bufio.NewWriter(c)
	for {
		select {
		case b, ok := <-in:
			if !ok {
				return
			}
			if _, err := w.Write(b); err != nil {
				log.Warningf("write to %s failed: %v", c.RemoteAddr(), err)
				close(done)
				return
			}
			if err := w.Flush(); err != nil {
				log.Warningf("flush to %s failed: %v", c.RemoteAddr(), err)
				close(done)
				return
			}
		case <-done:
			return
		}
	}
}

func dispatchLoop(ctx *command.Context, frames <-chan frame, writer chan<- []byte, done chan struct{}) {
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return
			}
			out := command.Execute(ctx, f.argv, f.size)
			if out.Deferred != nil {
				go out.Deferred()
				continue
			}
			if out.Suppressed {
				continue
			}
			for _, fr := range out.Frames {
				select {
				case writer <- fr:
				case <-done:
					return
				}
			}
		case <-done:
			return
		}
	}
}

// ServeReplicaLink performs the outbound handshake to a primary at addr
// and then runs the sync-mode dispatch loop until the connection drops.
// It blocks until the link ends; callers typically run it in its own
// goroutine for the lifetime of the process.
func ServeReplicaLink(addr *net.TCPAddr, listenPort uint16, st *store.Store) error {
	c, err := net.DialTimeout("tcp", addr.String(), dialTimeout)
	if err != nil {
		return fmt.Errorf("conn: dialing primary %s: %w", addr, err)
	}
	defer c.Close()

	r := bufio.NewReaderSize(c, 64*1024)
	w := bufio.NewWriter(c)

	send := func(v resp.Value) error {
		_, err := w.Write(resp.Serialize(v))
		if err != nil {
			return err
		}
		return w.Flush()
	}

	var buf []byte
	readValue := func() (resp.Value, error) {
		for {
			vals, used, perr := resp.Parse(buf)
			if perr != nil {
				return resp.Value{}, perr
			}
			if used > 0 && len(vals) > 0 {
				buf = buf[used:]
				return vals[0], nil
			}
			tmp := make([]byte, 8192)
			n, rerr := r.Read(tmp)
			if n > 0 {
				buf = append(buf, tmp[:n]...)
			}
			if rerr != nil {
				return resp.Value{}, rerr
			}
		}
	}

	if err := send(resp.StringArray("PING")); err != nil {
		return err
	}
	if _, err := readValue(); err != nil {
		return err
	}
	if err := send(resp.StringArray("REPLCONF", "listening-port", fmt.Sprintf("%d", listenPort))); err != nil {
		return err
	}
	if _, err := readValue(); err != nil {
		return err
	}
	if err := send(resp.StringArray("REPLCONF", "capa", "psync2")); err != nil {
		return err
	}
	if _, err := readValue(); err != nil {
		return err
	}
	if err := send(resp.StringArray("PSYNC", "?", "-1")); err != nil {
		return err
	}
	if _, err := readValue(); err != nil { // +FULLRESYNC <replid> <offset>
		return err
	}

	// The RDB blob follows immediately, in the raw $len\r\n<bytes> shape.
	for {
		_, used, ok, perr := resp.ParseRDBBlob(buf)
		if perr != nil {
			return perr
		}
		if ok {
			buf = buf[used:]
			break
		}
		tmp := make([]byte, 8192)
		n, rerr := r.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if rerr != nil {
			return rerr
		}
	}

	log.Infof("replica link to %s established", addr)

	writer := make(chan []byte, writerQueueDepth)
	done := make(chan struct{})
	go writerLoop(c, writer, done)

	ctx := &command.Context{Store: st, PeerAddr: addr.String(), Mode: command.ModeSync, WriterChan: writer}

	for {
		vals, used, perr := resp.Parse(buf)
		for _, v := range vals {
			argv, ok := valueToArgv(v)
			if !ok {
				continue
			}
			size := len(resp.Serialize(v))
			out := command.Execute(ctx, argv, size)
			if out.Deferred != nil {
				go out.Deferred()
				continue
			}
			if !out.Suppressed {
				for _, fr := range out.Frames {
					select {
					case writer <- fr:
					case <-done:
						return nil
					}
				}
			}
		}
		if perr != nil {
			log.Warningf("discarding malformed RESP input from primary %s: %v", addr, perr)
			used = len(buf)
		}
		buf = buf[used:]

		tmp := make([]byte, 8192)
		n, rerr := r.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if rerr != nil {
			close(done)
			return rerr
		}
	}
}

// dialTimeout bounds the initial TCP connect attempt to a primary.
const dialTimeout = 10 * time.Second
