// Package store implements the shared, mutex-guarded in-memory database:
// the key/value map, the replica table and WAIT coordinator, per-stream
// wakeup subscribers, and per-connection transaction queues. Every
// exported mutator funnels through the single guard so that replication
// fan-out and stream notification observe one consistent order.
package store

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"redis/internal/config"
	"redis/internal/logging"
	"redis/internal/metrics"
	"redis/internal/rdb"
	"redis/internal/resp"
	"redis/internal/value"
)

const MasterReplID = "8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb"

var log = logging.Get("store")

// Store is the single shared mutable object in the process.
type Store struct {
	mu sync.Mutex

	data map[string]value.Value
	cfg  config.Config

	isReplica bool // true when this process was started with --replicaof

	replicas map[string]*Replica

	ackOffset int64 // this process's own ack offset, used when it is a replica

	streamSubs map[string][]subscription

	txs map[string][][]string // client addr -> queued raw command argv
}

type subscription struct {
	ch   chan struct{}
	once *sync.Once
}

// New builds an empty store for cfg.
func New(cfg config.Config) *Store {
	return &Store{
		data:       make(map[string]value.Value),
		cfg:        cfg,
		isReplica:  cfg.ReplicaOf != nil,
		replicas:   make(map[string]*Replica),
		streamSubs: make(map[string][]subscription),
		txs:        make(map[string][][]string),
	}
}

// LoadSnapshot seeds the store from decoded RDB entries. Called once at
// startup, before any connection is accepted.
func (s *Store) LoadSnapshot(entries []rdb.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.data[e.Key] = value.NewString([]byte(e.Value), e.ExpiresAt)
	}
	metrics.RDBKeysLoaded.Set(float64(len(entries)))
	log.Infof("loaded %d keys from snapshot", len(entries))
}

// lockedGet returns the live value for key, lazily expiring it if needed.
// Caller must hold s.mu.
func (s *Store) lockedGet(key string, now time.Time) (value.Value, bool) {
	v, ok := s.data[key]
	if !ok {
		return value.Value{}, false
	}
	if v.Expired(now) {
		delete(s.data, key)
		return value.Value{}, false
	}
	return v, true
}

// Get returns the live string/stream value for key.
func (s *Store) Get(key string) (value.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockedGet(key, time.Now())
}

// TypeOf reports the TYPE reply for key: "string", "stream", or "none".
func (s *Store) TypeOf(key string) string {
	v, ok := s.Get(key)
	if !ok {
		return "none"
	}
	return v.TypeName()
}

// SetString stores key=text, optionally expiring after pxMillis from now,
// and fans the canonical SET frame out to every replica. pxMillis
// of nil means no expiry.
func (s *Store) SetString(key string, text []byte, pxMillis *int64) {
	s.mu.Lock()
	var expiresAt *time.Time
	if pxMillis != nil {
		t := time.Now().Add(time.Duration(*pxMillis) * time.Millisecond)
		expiresAt = &t
	}
	s.data[key] = value.NewString(text, expiresAt)
	s.fanOutLocked(setFrame(key, string(text), pxMillis))
	s.mu.Unlock()
}

func setFrame(key, text string, pxMillis *int64) []byte {
	parts := []string{"SET", key, text}
	if pxMillis != nil {
		parts = append(parts, "PX", strconv.FormatInt(*pxMillis, 10))
	}
	return resp.Serialize(resp.StringArray(parts...))
}

// ErrNotInteger is returned by Incr when the current value cannot be
// parsed as a signed 64-bit integer.
var ErrNotInteger = fmt.Errorf("value is not an integer or out of range")

// Incr parses the current string value as a signed 64-bit integer,
// increments it, stores the result preserving any existing expiry, and
// replicates it as an equivalent SET.
func (s *Store) Incr(key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cur, ok := s.lockedGet(key, now)

	var n int64
	var expiresAt *time.Time
	if ok {
		if cur.Kind != value.KindString {
			return 0, ErrNotInteger
		}
		parsed, err := strconv.ParseInt(string(cur.Text), 10, 64)
		if err != nil {
			return 0, ErrNotInteger
		}
		n = parsed
		expiresAt = cur.ExpiresAt
	}
	n++

	s.data[key] = value.NewString([]byte(strconv.FormatInt(n, 10)), expiresAt)

	var pxMillis *int64
	if expiresAt != nil {
		ms := time.Until(*expiresAt).Milliseconds()
		if ms < 0 {
			ms = 0
		}
		pxMillis = &ms
	}
	s.fanOutLocked(setFrame(key, strconv.FormatInt(n, 10), pxMillis))

	return n, nil
}

// Keys returns every live key name; lazily expires as it goes.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	keys := make([]string, 0, len(s.data))
	for k, v := range s.data {
		if v.Expired(now) {
			delete(s.data, k)
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ConfigGet implements CONFIG GET: only "dir" and "dbfilename" resolve to
// a value, everything else is "absent" (nil bulk on the wire).
func (s *Store) ConfigGet(key string) (string, bool) {
	snap := s.cfg.ConfigSnapshot()
	switch key {
	case "dir":
		return snap.Dir, true
	case "dbfilename":
		return snap.DBFilename, true
	default:
		return "", false
	}
}

// Info renders the INFO bulk payload.
func (s *Store) Info() string {
	role := "master"
	if s.isReplica {
		role = "slave"
	}
	return fmt.Sprintf("role:%s\r\nmaster_repl_offset:0\r\nmaster_replid:%s", role, MasterReplID)
}

// AckOffset returns this process's own ack_offset, reported by REPLCONF
// GETACK * when this process is itself a replica.
func (s *Store) AckOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ackOffset
}

// AddAckOffset advances this process's own ack_offset by n bytes; called
// by the sync-mode connection after it has handled a frame received from
// its primary.
func (s *Store) AddAckOffset(n int64) {
	s.mu.Lock()
	s.ackOffset += n
	s.mu.Unlock()
}
