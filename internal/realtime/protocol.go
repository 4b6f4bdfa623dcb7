// Package realtime bridges HTTP callers to devices holding a live duplex
// channel. Commands are JSON-RPC style envelopes correlated by id; each one
// waits for the first of a matching reply, its deadline, or the channel going
// away.
package realtime

import (
	"bytes"
	"encoding/json"
)

// Request is the server to device envelope
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a device reply to a Request
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// HasError reports whether the device reported a failure
func (r *Response) HasError() bool {
	return len(r.Error) > 0 && !bytes.Equal(r.Error, []byte("null"))
}

// Frame is any inbound message. Devices also send requests of their own, so
// the id is kept raw (devices may use numeric ids for those).
type Frame struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// DecodeFrame parses an inbound message
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// IsRequest reports whether the device is calling the server
func (f *Frame) IsRequest() bool {
	return f.Method != ""
}

// Response converts a reply frame. ok is false when the frame carries no
// string id, which can never match a pending request.
func (f *Frame) Response() (*Response, bool) {
	var id string
	if err := json.Unmarshal(f.ID, &id); err != nil || id == "" {
		return nil, false
	}
	return &Response{ID: id, Result: f.Result, Error: f.Error}, true
}

// MethodNotFound builds the reply for a device-initiated call the server does not serve
func MethodNotFound(id json.RawMessage, method string) []byte {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	msg, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]interface{}{
			"code":    -32601,
			"message": "Method not found",
			"data":    method,
		},
	})
	return msg
}
