package realtime

import "errors"

var (
	// ErrChannelClosed is returned by Send after the channel shut down
	ErrChannelClosed = errors.New("channel closed")
	// ErrSendBufferFull is returned when the device is not draining its queue
	ErrSendBufferFull = errors.New("send buffer full")
)

// Channel is a live duplex link to one device
type Channel interface {
	// Send queues one message without blocking
	Send(payload []byte) error
	// Close shuts the link down; repeated calls are no-ops
	Close() error
	// RemoteAddr is the device's network address
	RemoteAddr() string
}
