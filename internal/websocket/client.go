package websocket

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xelth-com/dongled/internal/realtime"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB

	touchTimeout = 5 * time.Second
)

// Client is the live channel of one device. It satisfies realtime.Channel.
type Client struct {
	server *Server

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	DongleID string
	remote   string

	mu     sync.Mutex
	closed bool
}

func newClient(s *Server, conn *websocket.Conn, dongleID, remote string) *Client {
	return &Client{
		server:   s,
		conn:     conn,
		send:     make(chan []byte, s.sendBuffer),
		DongleID: dongleID,
		remote:   remote,
	}
}

// Send queues a message for the write pump
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return realtime.ErrChannelClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return realtime.ErrSendBufferFull
	}
}

// Close stops the write pump, which sends a close frame and drops the connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	return nil
}

// RemoteAddr is the address the device connected from
func (c *Client) RemoteAddr() string {
	return c.remote
}

func (c *Client) touch() {
	ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
	defer cancel()
	if err := c.server.devices.TouchLastPing(ctx, c.DongleID, time.Now()); err != nil {
		log.Printf("⚠️ Failed to update last_ping for %s: %v", c.DongleID, err)
	}
}

// readPump routes device replies to the registry until the connection fails.
func (c *Client) readPump() {
	defer func() {
		c.server.registry.UnregisterChannel(c.DongleID, c)
		c.Close()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("WS error from %s: %v", c.DongleID, err)
			}
			break
		}

		frame, err := realtime.DecodeFrame(message)
		if err != nil {
			log.Printf("⚠️ Malformed message from %s: %v", c.DongleID, err)
			continue
		}

		if frame.IsRequest() {
			if err := c.Send(realtime.MethodNotFound(frame.ID, frame.Method)); err != nil {
				log.Printf("⚠️ Could not answer %s from %s: %v", frame.Method, c.DongleID, err)
			}
			continue
		}

		resp, ok := frame.Response()
		if !ok || !c.server.registry.Deliver(c.DongleID, resp) {
			log.Printf("⚠️ Unmatched reply from %s discarded", c.DongleID)
		}
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.server.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The channel was closed.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
