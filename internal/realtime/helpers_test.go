package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/xelth-com/dongled/internal/models"
	"github.com/xelth-com/dongled/internal/store"
)

type fakeChannel struct {
	mu      sync.Mutex
	sent    [][]byte
	closed  bool
	sendErr error
	sentCh  chan []byte
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{sentCh: make(chan []byte, 64)}
}

func (c *fakeChannel) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, payload)
	c.sentCh <- payload
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) RemoteAddr() string { return "10.0.0.2:4242" }

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// nextRequest waits for the next envelope the server sent on c
func (c *fakeChannel) nextRequest(t *testing.T) Request {
	t.Helper()
	payload := <-c.sentCh
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return req
}

type fakeAuditor struct {
	mu      sync.Mutex
	entries []*models.ActionLogEntry
	replies []*models.ReturnedData
}

func (a *fakeAuditor) Append(entry *models.ActionLogEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *fakeAuditor) SaveReturnedData(data *models.ReturnedData) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies = append(a.replies, data)
}

func (a *fakeAuditor) Entries() []*models.ActionLogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*models.ActionLogEntry(nil), a.entries...)
}

func (a *fakeAuditor) Replies() []*models.ReturnedData {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*models.ReturnedData(nil), a.replies...)
}

type deviceMap map[string]*models.Device

func (m deviceMap) GetByDongleID(_ context.Context, id string) (*models.Device, error) {
	if d, ok := m[id]; ok {
		return d, nil
	}
	return nil, store.ErrNotFound
}

// untouchable fails the test if the dispatcher consults it
type untouchable struct{ t *testing.T }

func (u untouchable) GetByDongleID(context.Context, string) (*models.Device, error) {
	u.t.Fatal("device store consulted")
	return nil, nil
}
