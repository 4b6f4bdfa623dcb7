package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/dongled/internal/authz"
	"github.com/xelth-com/dongled/internal/models"
)

type dispatchFixture struct {
	registry   *Registry
	audit      *fakeAuditor
	dispatcher *Dispatcher
	channel    *fakeChannel
	owner      *models.Account
}

func newDispatchFixture(t *testing.T, timeout time.Duration) *dispatchFixture {
	t.Helper()
	devices := deviceMap{
		"D2":      {ID: 20, DongleID: "D2", AccountID: 1},
		"OFFLINE": {ID: 21, DongleID: "OFFLINE", AccountID: 1},
	}
	registry := NewRegistry()
	audit := &fakeAuditor{}
	ch := newFakeChannel()
	registry.Register("D2", ch)
	t.Cleanup(registry.Close)
	return &dispatchFixture{
		registry:   registry,
		audit:      audit,
		dispatcher: NewDispatcher(devices, registry, audit, timeout),
		channel:    ch,
		owner:      &models.Account{ID: 1},
	}
}

// replyWith answers the next request on the fixture channel
func (f *dispatchFixture) replyWith(t *testing.T, result, deviceErr string) <-chan Request {
	seen := make(chan Request, 1)
	go func() {
		req := f.channel.nextRequest(t)
		seen <- req
		resp := &Response{ID: req.ID}
		if result != "" {
			resp.Result = json.RawMessage(result)
		}
		if deviceErr != "" {
			resp.Error = json.RawMessage(deviceErr)
		}
		f.registry.Deliver("D2", resp)
	}()
	return seen
}

func TestDispatch_EndToEnd(t *testing.T) {
	f := newDispatchFixture(t, 2*time.Second)
	seen := f.replyWith(t, `"1.2.3"`, "")

	data, err := f.dispatcher.Dispatch(context.Background(), Invocation{
		Account: f.owner, DongleID: "D2", Method: "getversion", Params: map[string]interface{}{}, UserIP: "192.0.2.1",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `"1.2.3"`, string(data))

	req := <-seen
	assert.Equal(t, "2.0", req.JSONRPC)
	assert.Equal(t, "getVersion", req.Method)
	assert.JSONEq(t, `{}`, string(req.Params))
	assert.Equal(t, 1, f.channel.sentCount())
	assert.Equal(t, 0, f.registry.Pending().Len())

	entries := f.audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "getVersion", entries[0].Action)
	assert.Equal(t, uint(1), entries[0].AccountID)
	assert.Equal(t, uint(20), entries[0].DeviceID)
	assert.Equal(t, "192.0.2.1", entries[0].UserIP)
	assert.Equal(t, "10.0.0.2:4242", entries[0].DeviceIP)

	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(entries[0].Meta, &meta))
	assert.Equal(t, "completed", meta["outcome"])
	assert.Equal(t, req.ID, meta["correlation_id"])

	replies := f.audit.Replies()
	require.Len(t, replies, 1)
	assert.Equal(t, req.ID, replies[0].CorrelationID)
	assert.JSONEq(t, `"1.2.3"`, string(replies[0].Data))
}

func TestDispatch_PendingRequestCarriesCommand(t *testing.T) {
	f := newDispatchFixture(t, 2*time.Second)
	type pendingView struct {
		cmd Command
		ok  bool
	}
	views := make(chan pendingView, 1)
	go func() {
		req := f.channel.nextRequest(t)
		p, ok := f.registry.Pending().Get(req.ID)
		v := pendingView{ok: ok}
		if ok {
			v.cmd = p.Command
		}
		views <- v
		f.registry.Deliver("D2", &Response{ID: req.ID, Result: json.RawMessage(`true`)})
	}()

	_, err := f.dispatcher.Dispatch(context.Background(), Invocation{
		Account: f.owner, DongleID: "D2", Method: "setNavDestination",
		Params: map[string]interface{}{"latitude": 52.5},
	})
	require.NoError(t, err)

	v := <-views
	require.True(t, v.ok)
	assert.Equal(t, "D2", v.cmd.DongleID)
	assert.Equal(t, uint(1), v.cmd.AccountID)
	assert.Equal(t, "setNavDestination", v.cmd.Method)
	assert.JSONEq(t, `{"latitude":52.5}`, string(v.cmd.Params))

	_, ok := f.registry.Pending().Get("unknown")
	assert.False(t, ok)
}

func TestDispatch_InvalidMethodChecksNothingElse(t *testing.T) {
	d := NewDispatcher(untouchable{t}, nil, nil, time.Second)
	for _, m := range []string{"", "exec", "getVersion2", "shutdown"} {
		_, err := d.Dispatch(context.Background(), Invocation{Account: nil, DongleID: "D2", Method: m})
		assert.ErrorIs(t, err, ErrInvalidMethod, m)
	}
}

func TestDispatch_GuardOutcomes(t *testing.T) {
	f := newDispatchFixture(t, time.Second)
	ctx := context.Background()

	_, err := f.dispatcher.Dispatch(ctx, Invocation{DongleID: "D2", Method: "reboot"})
	assert.ErrorIs(t, err, authz.ErrNotAuthenticated)

	_, err = f.dispatcher.Dispatch(ctx, Invocation{Account: f.owner, DongleID: "NOPE", Method: "reboot"})
	assert.ErrorIs(t, err, authz.ErrNoSuchDevice)

	_, err = f.dispatcher.Dispatch(ctx, Invocation{Account: &models.Account{ID: 2}, DongleID: "D2", Method: "reboot"})
	assert.ErrorIs(t, err, authz.ErrNotAuthorised)

	assert.Equal(t, 0, f.channel.sentCount())

	// only the refusal against a known device is logged
	entries := f.audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, uint(2), entries[0].AccountID)
	assert.Equal(t, uint(20), entries[0].DeviceID)
	assert.Equal(t, "reboot", entries[0].Action)
	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(entries[0].Meta, &meta))
	assert.Equal(t, "not_authorised", meta["outcome"])
	assert.NotContains(t, meta, "correlation_id")
}

func TestDispatch_NotConnected(t *testing.T) {
	f := newDispatchFixture(t, time.Second)
	_, err := f.dispatcher.Dispatch(context.Background(), Invocation{Account: f.owner, DongleID: "OFFLINE", Method: "getVersion"})
	assert.ErrorIs(t, err, ErrNotConnected)

	entries := f.audit.Entries()
	require.Len(t, entries, 1)
	assert.Contains(t, string(entries[0].Meta), "not_connected")
}

func TestDispatch_Timeout(t *testing.T) {
	f := newDispatchFixture(t, 50*time.Millisecond)

	_, err := f.dispatcher.Dispatch(context.Background(), Invocation{Account: f.owner, DongleID: "D2", Method: "getVersion"})
	assert.ErrorIs(t, err, ErrDeviceUnresponsive)
	assert.Equal(t, 0, f.registry.Pending().Len())
	assert.Equal(t, 0, f.registry.Pending().CountFor("D2"))

	// A reply after the deadline is discarded.
	req := f.channel.nextRequest(t)
	assert.False(t, f.registry.Deliver("D2", &Response{ID: req.ID, Result: []byte(`"late"`)}))
	require.Len(t, f.audit.Entries(), 1)
	assert.Empty(t, f.audit.Replies())
}

func TestDispatch_CallerCancelled(t *testing.T) {
	f := newDispatchFixture(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		f.channel.nextRequest(t)
		cancel()
	}()

	_, err := f.dispatcher.Dispatch(ctx, Invocation{Account: f.owner, DongleID: "D2", Method: "getVersion"})
	assert.ErrorIs(t, err, ErrDeviceUnresponsive)
	assert.Equal(t, 0, f.registry.Pending().Len())
}

func TestDispatch_DeviceError(t *testing.T) {
	f := newDispatchFixture(t, 2*time.Second)
	f.replyWith(t, "", `{"code":-32000,"message":"boom"}`)

	_, err := f.dispatcher.Dispatch(context.Background(), Invocation{Account: f.owner, DongleID: "D2", Method: "takeSnapshot"})
	var devErr *DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.JSONEq(t, `{"code":-32000,"message":"boom"}`, string(devErr.Payload))
}

func TestDispatch_NullResult(t *testing.T) {
	f := newDispatchFixture(t, 2*time.Second)
	f.replyWith(t, "null", "")

	data, err := f.dispatcher.Dispatch(context.Background(), Invocation{Account: f.owner, DongleID: "D2", Method: "reboot"})
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestDispatch_ConnectionLostMidFlight(t *testing.T) {
	f := newDispatchFixture(t, 5*time.Second)
	const n = 5

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.dispatcher.Dispatch(context.Background(), Invocation{Account: f.owner, DongleID: "D2", Method: "listUploadQueue"})
		}(i)
	}
	for i := 0; i < n; i++ {
		f.channel.nextRequest(t)
	}
	require.Equal(t, n, f.registry.Pending().CountFor("D2"))

	f.registry.Unregister("D2")
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, ErrConnectionLost)
	}
	assert.Equal(t, 0, f.registry.Pending().Len())
	assert.Len(t, f.audit.Entries(), n)
}

func TestDispatch_SendFailure(t *testing.T) {
	f := newDispatchFixture(t, 5*time.Second)
	f.channel.sendErr = ErrSendBufferFull

	_, err := f.dispatcher.Dispatch(context.Background(), Invocation{Account: f.owner, DongleID: "D2", Method: "getVersion"})
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.Equal(t, 0, f.registry.Pending().Len())
}

func TestDispatch_UniqueCorrelationIDs(t *testing.T) {
	f := newDispatchFixture(t, 5*time.Second)
	const n = 20

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.dispatcher.Dispatch(context.Background(), Invocation{Account: f.owner, DongleID: "D2", Method: "getVersion"})
		}()
	}

	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		req := f.channel.nextRequest(t)
		assert.False(t, seen[req.ID], "duplicate correlation id")
		seen[req.ID] = true
		f.registry.Deliver("D2", &Response{ID: req.ID, Result: []byte(`true`)})
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

func TestDispatch_BadParams(t *testing.T) {
	f := newDispatchFixture(t, time.Second)
	_, err := f.dispatcher.Dispatch(context.Background(), Invocation{
		Account: f.owner, DongleID: "D2", Method: "getVersion", Params: json.RawMessage(`{nope`),
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidMethod))
	assert.Equal(t, 0, f.channel.sentCount())
}

func TestIsDeviceConnected(t *testing.T) {
	f := newDispatchFixture(t, time.Second)
	ctx := context.Background()

	ok, err := f.dispatcher.IsDeviceConnected(ctx, f.owner, "D2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.dispatcher.IsDeviceConnected(ctx, f.owner, "OFFLINE")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.dispatcher.IsDeviceConnected(ctx, &models.Account{ID: 9}, "D2")
	assert.ErrorIs(t, err, authz.ErrNotAuthorised)

	_, err = f.dispatcher.IsDeviceConnected(ctx, nil, "D2")
	assert.ErrorIs(t, err, authz.ErrNotAuthenticated)
}

func TestCanonicalMethod(t *testing.T) {
	name, ok := CanonicalMethod("SETNAVDESTINATION")
	assert.True(t, ok)
	assert.Equal(t, "setNavDestination", name)
	assert.Len(t, Methods(), 15)

	_, ok = CanonicalMethod("rm")
	assert.False(t, ok)
}
