// Package devicesim is a scriptable stand-in for a dongle: it registers with
// the service, produces pairing credentials and answers commands over the
// device channel.
package devicesim

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Handler answers one method. A returned error becomes the reply's error object.
type Handler func(params json.RawMessage) (interface{}, error)

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return e.Message }

type incoming struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type outgoing struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// Responder dispatches server commands to registered handlers
type Responder struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewResponder returns a responder with the stock simulated methods
func NewResponder(version string) *Responder {
	r := &Responder{handlers: make(map[string]Handler)}
	started := time.Now()

	r.Handle("getVersion", func(json.RawMessage) (interface{}, error) {
		return map[string]string{"version": version, "remote": "simulator", "branch": "sim"}, nil
	})
	r.Handle("getMessage", func(json.RawMessage) (interface{}, error) {
		return map[string]interface{}{"uptime": time.Since(started).Seconds()}, nil
	})
	r.Handle("setNavDestination", func(params json.RawMessage) (interface{}, error) {
		var dest struct {
			Latitude  *float64 `json:"latitude"`
			Longitude *float64 `json:"longitude"`
		}
		if err := json.Unmarshal(params, &dest); err != nil || dest.Latitude == nil || dest.Longitude == nil {
			return nil, &rpcError{Code: -32602, Message: "latitude and longitude required"}
		}
		return map[string]int{"success": 1}, nil
	})
	r.Handle("reboot", func(json.RawMessage) (interface{}, error) {
		return map[string]int{"success": 1}, nil
	})
	r.Handle("listUploadQueue", func(json.RawMessage) (interface{}, error) {
		return []interface{}{}, nil
	})
	r.Handle("getNetworkType", func(json.RawMessage) (interface{}, error) {
		return 1, nil
	})
	return r
}

// Handle registers or replaces the handler for method
func (r *Responder) Handle(method string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = h
}

// Reply builds the answer to one server message. ok is false for messages
// that need no answer (replies, malformed frames).
func (r *Responder) Reply(message []byte) ([]byte, bool) {
	var in incoming
	if err := json.Unmarshal(message, &in); err != nil || in.Method == "" || len(in.ID) == 0 {
		return nil, false
	}

	out := outgoing{JSONRPC: "2.0", ID: in.ID}
	r.mu.RLock()
	h, found := r.handlers[in.Method]
	r.mu.RUnlock()

	if !found {
		out.Error = &rpcError{Code: -32601, Message: fmt.Sprintf("Method not found: %s", in.Method)}
	} else if result, err := h(in.Params); err != nil {
		out.Error = asRPCError(err)
	} else {
		out.Result = result
		if out.Result == nil {
			out.Result = json.RawMessage("null")
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, false
	}
	return data, true
}

func asRPCError(err error) *rpcError {
	if e, ok := err.(*rpcError); ok {
		return e
	}
	return &rpcError{Code: -32000, Message: strings.TrimSpace(err.Error())}
}
