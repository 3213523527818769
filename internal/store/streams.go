package store

import (
	"fmt"
	"sync"
	"time"

	"redis/internal/resp"
	"redis/internal/value"
)

// ErrWrongType is returned when a stream operation targets a key holding
// a non-stream value.
type ErrWrongType struct{ Key string }

func (e ErrWrongType) Error() string {
	return fmt.Sprintf("WRONGTYPE Key %s is not a stream", e.Key)
}

// lockedStream returns the stream at key without mutating the store,
// handing back a fresh empty stream for an absent key. Returns
// ErrWrongType if key holds a String. The caller is responsible for
// installing the stream into s.data only once an append actually
// succeeds, so a failed XADD never turns an absent key into an empty
// stream.
func (s *Store) lockedStream(key string) (*value.Stream, error) {
	v, ok := s.data[key]
	if !ok {
		return value.NewStream(), nil
	}
	if v.Kind != value.KindStream {
		return nil, ErrWrongType{Key: key}
	}
	return v.Stream, nil
}

// XAdd resolves spec against key's current stream state, appends the
// entry, replicates the canonical XADD frame, and notifies any blocked
// XREAD subscribers only after the store guard has been released.
func (s *Store) XAdd(key string, spec value.IDSpec, fields []value.Field) (value.ID, error) {
	s.mu.Lock()
	st, err := s.lockedStream(key)
	if err != nil {
		s.mu.Unlock()
		return value.ID{}, err
	}

	id, err := value.ResolveAppend(st, spec, value.NowMS(time.Now()))
	if err != nil {
		s.mu.Unlock()
		return value.ID{}, err
	}

	if err := st.Push(value.Entry{ID: id, Fields: fields}); err != nil {
		s.mu.Unlock()
		return value.ID{}, err
	}

	s.data[key] = value.Value{Kind: value.KindStream, Stream: st}
	s.fanOutLocked(xaddFrame(key, id, fields))
	s.mu.Unlock()

	s.notifyStream(key)
	return id, nil
}

func xaddFrame(key string, id value.ID, fields []value.Field) []byte {
	parts := []string{"XADD", key, id.String()}
	for _, f := range fields {
		parts = append(parts, f.Key, f.Value)
	}
	return resp.Serialize(resp.StringArray(parts...))
}

// XRange returns the inclusive [start,end] subsequence of key's stream.
func (s *Store) XRange(key string, start, end value.IDSpec) ([]value.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	if v.Kind != value.KindStream {
		return nil, ErrWrongType{Key: key}
	}
	return v.Stream.Query(value.ResolveRangeStart(start), value.ResolveRangeEnd(end)), nil
}

// ResolveDollar turns the literal "$" XREAD id into the stream's current
// last id (or (0,0) if the stream is absent/empty), evaluated once at
// command entry per the blocking-read contract.
func (s *Store) ResolveDollar(key string) value.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok || v.Kind != value.KindStream {
		return value.ID{}
	}
	if last, ok := v.Stream.LastID(); ok {
		return last
	}
	return value.ID{}
}

// XReadOnce evaluates find_after(id) for every (key,id) pair and returns
// only the keys that produced at least one entry.
func (s *Store) XReadOnce(keys []string, ids []value.ID) map[string][]value.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]value.Entry)
	for i, key := range keys {
		v, ok := s.data[key]
		if !ok || v.Kind != value.KindStream {
			continue
		}
		found := v.Stream.FindAfter(ids[i])
		if len(found) > 0 {
			out[key] = found
		}
	}
	return out
}

// SubscribeStreams registers a one-shot wakeup channel under every key,
// for XREAD BLOCK to wait on.
func (s *Store) SubscribeStreams(keys []string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := subscription{ch: make(chan struct{}), once: &sync.Once{}}
	for _, k := range keys {
		s.streamSubs[k] = append(s.streamSubs[k], sub)
	}
	return sub.ch
}

// notifyStream wakes every subscriber registered on key; must be called
// without the store guard held, to avoid reentrancy.
func (s *Store) notifyStream(key string) {
	s.mu.Lock()
	subs := s.streamSubs[key]
	delete(s.streamSubs, key)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { close(sub.ch) })
	}
}
