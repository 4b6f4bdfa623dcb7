package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xelth-com/dongled/internal/metrics"
)

// Outcome is the terminal state of a pending request
type Outcome string

const (
	Completed      Outcome = "completed"
	TimedOut       Outcome = "timed_out"
	ConnectionLost Outcome = "connection_lost"
)

// Command is one method invocation addressed to a device
type Command struct {
	DongleID  string
	AccountID uint
	Method    string
	Params    json.RawMessage
}

// PendingRequest is a command sent to a device and not yet resolved.
// Outcome, Response and ResolvedAt are valid once Done is closed.
type PendingRequest struct {
	Command
	ID       string
	IssuedAt time.Time

	channel    Channel
	done       chan struct{}
	outcome    Outcome
	response   *Response
	resolvedAt time.Time
}

// Done is closed when the request reaches its outcome
func (p *PendingRequest) Done() <-chan struct{} {
	return p.done
}

// Outcome returns how the request ended
func (p *PendingRequest) Outcome() Outcome {
	return p.outcome
}

// Response is the device reply for a Completed request
func (p *PendingRequest) Response() *Response {
	return p.response
}

// ResolvedAt is when the outcome was decided
func (p *PendingRequest) ResolvedAt() time.Time {
	return p.resolvedAt
}

// PendingSet tracks in-flight requests by correlation id. A request leaves
// the set exactly once; the caller that removes it also completes it, so
// racing resolvers (reply, deadline, disconnect) see false and do nothing.
type PendingSet struct {
	mu        sync.Mutex
	byID      map[string]*PendingRequest
	byChannel map[Channel]map[string]*PendingRequest

	newID func() string
	now   func() time.Time
}

// NewPendingSet creates an empty set using random UUIDs as correlation ids
func NewPendingSet() *PendingSet {
	return &PendingSet{
		byID:      make(map[string]*PendingRequest),
		byChannel: make(map[Channel]map[string]*PendingRequest),
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// Add registers a request about to be sent over ch
func (s *PendingSet) Add(cmd Command, ch Channel) *PendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	for _, taken := s.byID[id]; taken; _, taken = s.byID[id] {
		id = s.newID()
	}

	p := &PendingRequest{
		Command:  cmd,
		ID:       id,
		IssuedAt: s.now(),
		channel:  ch,
		done:     make(chan struct{}),
	}
	s.byID[id] = p
	if s.byChannel[ch] == nil {
		s.byChannel[ch] = make(map[string]*PendingRequest)
	}
	s.byChannel[ch][id] = p
	metrics.PendingCommands.Inc()
	return p
}

// Resolve completes the request matching resp.ID if it was sent to dongleID.
// Replies with unknown ids, or ids belonging to another device, are ignored.
func (s *PendingSet) Resolve(dongleID string, resp *Response) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[resp.ID]
	if !ok || p.DongleID != dongleID {
		return false
	}
	s.finishLocked(p, Completed, resp)
	return true
}

// Expire completes the request as TimedOut
func (s *PendingSet) Expire(id string) bool {
	return s.finish(id, TimedOut)
}

// Abort completes the request as ConnectionLost, for a send that never left
func (s *PendingSet) Abort(id string) bool {
	return s.finish(id, ConnectionLost)
}

// FailChannel completes every request sent over ch as ConnectionLost
func (s *PendingSet) FailChannel(ch Channel) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	reqs := s.byChannel[ch]
	n := 0
	for _, p := range reqs {
		s.finishLocked(p, ConnectionLost, nil)
		n++
	}
	return n
}

// Get returns the request with the given id while it is still pending
func (s *PendingSet) Get(id string) (*PendingRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	return p, ok
}

// Len is the number of requests still pending
func (s *PendingSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// CountFor is the number of requests pending for one device
func (s *PendingSet) CountFor(dongleID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, p := range s.byID {
		if p.DongleID == dongleID {
			n++
		}
	}
	return n
}

func (s *PendingSet) finish(id string, outcome Outcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return false
	}
	s.finishLocked(p, outcome, nil)
	return true
}

// finishLocked removes p and completes it. Must hold s.mu.
func (s *PendingSet) finishLocked(p *PendingRequest, outcome Outcome, resp *Response) {
	delete(s.byID, p.ID)
	if reqs := s.byChannel[p.channel]; reqs != nil {
		delete(reqs, p.ID)
		if len(reqs) == 0 {
			delete(s.byChannel, p.channel)
		}
	}

	p.outcome = outcome
	p.response = resp
	p.resolvedAt = s.now()
	close(p.done)
	metrics.PendingCommands.Dec()
}
