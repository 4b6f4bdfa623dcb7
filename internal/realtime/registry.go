package realtime

import (
	"errors"
	"hash/fnv"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xelth-com/dongled/internal/metrics"
)

// ErrNotConnected is returned when a device holds no live channel
var ErrNotConnected = errors.New("device not connected")

const shardCount = 32

// Connection binds a device to its live channel
type Connection struct {
	DongleID    string
	Channel     Channel
	ConnectedAt time.Time
}

type shard struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// Registry maps dongle ids to live channels. It is created at service start
// and shared by the HTTP handlers and the channel acceptor. Entries are
// sharded by dongle id so unrelated devices never contend on one lock.
//
// Lock order is shard then pending set; the pending set never calls back
// into the registry.
type Registry struct {
	shards  [shardCount]*shard
	pending *PendingSet
	closed  atomic.Bool
}

// NewRegistry creates an empty registry with its own pending request set
func NewRegistry() *Registry {
	r := &Registry{pending: NewPendingSet()}
	for i := range r.shards {
		r.shards[i] = &shard{conns: make(map[string]*Connection)}
	}
	return r
}

func (r *Registry) shardFor(dongleID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(dongleID))
	return r.shards[h.Sum32()%shardCount]
}

// Pending exposes the in-flight request set
func (r *Registry) Pending() *PendingSet {
	return r.pending
}

// Register installs ch as the live channel for dongleID. A previous channel
// for the same device is replaced, its pending requests fail with
// ConnectionLost and it is closed.
func (r *Registry) Register(dongleID string, ch Channel) {
	s := r.shardFor(dongleID)

	s.mu.Lock()
	if r.closed.Load() {
		s.mu.Unlock()
		log.Printf("🚫 Registry closed, refusing device: %s", dongleID)
		_ = ch.Close()
		return
	}
	old, existed := s.conns[dongleID]
	s.conns[dongleID] = &Connection{DongleID: dongleID, Channel: ch, ConnectedAt: time.Now()}
	if existed && old.Channel != ch {
		r.pending.FailChannel(old.Channel)
	}
	s.mu.Unlock()

	if !existed {
		metrics.ConnectedDevices.Inc()
		log.Printf("📱 Device connected: %s", dongleID)
		return
	}
	if old.Channel != ch {
		log.Printf("🔁 Device reconnected, replacing old channel: %s", dongleID)
		_ = old.Channel.Close()
	}
}

// Unregister removes the device's channel and fails everything pending on it.
// No-op when the device is not registered.
func (r *Registry) Unregister(dongleID string) bool {
	s := r.shardFor(dongleID)

	s.mu.Lock()
	conn, ok := s.conns[dongleID]
	if ok {
		delete(s.conns, dongleID)
		r.pending.FailChannel(conn.Channel)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	metrics.ConnectedDevices.Dec()
	log.Printf("📴 Device disconnected: %s", dongleID)
	_ = conn.Channel.Close()
	return true
}

// UnregisterChannel is Unregister for a channel that just closed: the entry
// is removed only if ch is still current, so a superseded connection cannot
// evict its replacement. Requests pending on ch always fail.
func (r *Registry) UnregisterChannel(dongleID string, ch Channel) bool {
	s := r.shardFor(dongleID)

	s.mu.Lock()
	conn, ok := s.conns[dongleID]
	current := ok && conn.Channel == ch
	if current {
		delete(s.conns, dongleID)
	}
	r.pending.FailChannel(ch)
	s.mu.Unlock()

	if current {
		metrics.ConnectedDevices.Dec()
		log.Printf("📴 Device disconnected: %s", dongleID)
	}
	return current
}

// Lookup returns the live channel for dongleID
func (r *Registry) Lookup(dongleID string) (Channel, bool) {
	s := r.shardFor(dongleID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.conns[dongleID]
	if !ok {
		return nil, false
	}
	return conn.Channel, true
}

// IsConnected reports whether dongleID holds a live channel
func (r *Registry) IsConnected(dongleID string) bool {
	_, ok := r.Lookup(dongleID)
	return ok
}

// Count is the number of connected devices
func (r *Registry) Count() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.conns)
		s.mu.RUnlock()
	}
	return n
}

// NewRequest looks up the device's channel and registers a pending request
// on it in one step, so an unregister cannot slip between the two and leave
// the request behind on a dead channel.
func (r *Registry) NewRequest(cmd Command) (*PendingRequest, Channel, error) {
	s := r.shardFor(cmd.DongleID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.conns[cmd.DongleID]
	if !ok {
		return nil, nil, ErrNotConnected
	}
	return r.pending.Add(cmd, conn.Channel), conn.Channel, nil
}

// Deliver hands a reply that arrived on the device's channel to its pending request
func (r *Registry) Deliver(dongleID string, resp *Response) bool {
	return r.pending.Resolve(dongleID, resp)
}

// Close drops every connection, failing their pending requests, and refuses
// later registrations. Used at shutdown.
func (r *Registry) Close() {
	r.closed.Store(true)
	for _, s := range r.shards {
		s.mu.RLock()
		ids := make([]string, 0, len(s.conns))
		for id := range s.conns {
			ids = append(ids, id)
		}
		s.mu.RUnlock()

		for _, id := range ids {
			r.Unregister(id)
		}
	}
}
