package store

import (
	"sync"
	"time"

	"redis/internal/metrics"
	"redis/internal/resp"
)

// writerQueueDepth is the capacity newReplica gives a replica's outbound
// frame queue. A push into a full queue never blocks: fanOutLocked drops
// the frame and removes the replica instead.
const writerQueueDepth = 256

type waitCallback struct {
	target int64
	ch     chan waitSignal
}

type waitSignal int

const (
	signalSynced waitSignal = iota
	signalTimeout
)

// Replica is the primary's bookkeeping record for one connected replica.
type Replica struct {
	Addr   string
	Writer chan []byte

	mu      sync.Mutex
	sent    int64 // cumulative bytes pushed into Writer
	acked   int64 // last acknowledged byte count
	waitCbs []waitCallback
}

func newReplica(addr string) *Replica {
	return &Replica{
		Addr:   addr,
		Writer: make(chan []byte, writerQueueDepth),
	}
}

func (r *Replica) reached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acked >= r.sent
}

// Subscribe registers writer as the replica sink for peerAddr, to be
// called before the PSYNC reply is produced so the replica can never miss
// a mutation that commits while we are still answering the handshake.
func (s *Store) Subscribe(peerAddr string, writer chan []byte) *Replica {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := newReplica(peerAddr)
	r.Writer = writer
	s.replicas[peerAddr] = r
	metrics.ReplicasConnected.Set(float64(len(s.replicas)))
	log.Infof("replica %s subscribed", peerAddr)
	return r
}

// RemoveReplica drops the replica record for peerAddr, e.g. on socket
// close or a failed write.
func (s *Store) RemoveReplica(peerAddr string) {
	s.mu.Lock()
	delete(s.replicas, peerAddr)
	metrics.ReplicasConnected.Set(float64(len(s.replicas)))
	metrics.ReplicaAckOffset.DeleteLabelValues(peerAddr)
	s.mu.Unlock()
	log.Infof("replica %s removed", peerAddr)
}

// fanOutLocked pushes frame to every replica's writer queue. Caller must
// hold s.mu; this is what gives invariant 4 (at-most-one enqueue per
// mutation, before the guard is released) its enforcement.
func (s *Store) fanOutLocked(frame []byte) {
	for addr, r := range s.replicas {
		select {
		case r.Writer <- frame:
			r.mu.Lock()
			r.sent += int64(len(frame))
			r.mu.Unlock()
		default:
			log.Warningf("replica %s writer queue full, dropping frame and removing replica", addr)
			delete(s.replicas, addr)
			metrics.ReplicasConnected.Set(float64(len(s.replicas)))
		}
	}
}

// ReplConfAck records a REPLCONF ACK k from the replica at peerAddr and
// fires any WAIT callback whose target has now been reached.
func (s *Store) ReplConfAck(peerAddr string, ack int64) {
	s.mu.Lock()
	r, ok := s.replicas[peerAddr]
	s.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	r.acked = ack
	metrics.ReplicaAckOffset.WithLabelValues(peerAddr).Set(float64(ack))

	var fired []waitCallback
	remaining := r.waitCbs[:0]
	for _, cb := range r.waitCbs {
		if cb.target <= ack {
			fired = append(fired, cb)
		} else {
			remaining = append(remaining, cb)
		}
	}
	r.waitCbs = remaining
	r.mu.Unlock()

	for _, cb := range fired {
		select {
		case cb.ch <- signalSynced:
		default:
		}
	}
}

// Wait implements the WAIT command: it returns the number of replicas
// whose acked bytes are at least the primary's current outbound byte
// total for that replica, blocking up to timeoutMs for stragglers to ack.
func (s *Store) Wait(numReplicas int, timeoutMs int64) int {
	s.mu.Lock()
	type pending struct {
		r      *Replica
		target int64
	}
	synced := 0
	var waiters []pending
	ch := make(chan waitSignal, len(s.replicas))

	for _, r := range s.replicas {
		r.mu.Lock()
		target := r.sent
		isReached := r.acked >= target
		r.mu.Unlock()

		if isReached {
			synced++
			continue
		}
		waiters = append(waiters, pending{r, target})
	}

	for _, w := range waiters {
		w.r.mu.Lock()
		w.r.waitCbs = append(w.r.waitCbs, waitCallback{target: w.target, ch: ch})
		w.r.mu.Unlock()
		select {
		case w.r.Writer <- getAckFrame():
			w.r.mu.Lock()
			w.r.sent += int64(len(getAckFrame()))
			w.r.mu.Unlock()
		default:
		}
	}

	time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
		select {
		case ch <- signalTimeout:
		default:
		}
	})
	s.mu.Unlock()

	if synced >= numReplicas {
		metrics.WaitOutcomesTotal.WithLabelValues("satisfied").Inc()
		return synced
	}
	if len(waiters) == 0 {
		metrics.WaitOutcomesTotal.WithLabelValues("timeout").Inc()
		return synced
	}

	for {
		sig := <-ch
		if sig == signalTimeout {
			metrics.WaitOutcomesTotal.WithLabelValues("timeout").Inc()
			return synced
		}
		synced++
		if synced >= numReplicas {
			metrics.WaitOutcomesTotal.WithLabelValues("satisfied").Inc()
			return synced
		}
	}
}

func getAckFrame() []byte {
	return resp.Serialize(resp.StringArray("REPLCONF", "GETACK", "*"))
}
