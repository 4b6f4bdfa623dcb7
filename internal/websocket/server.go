// Package websocket accepts the devices' duplex channels and plugs them into
// the connection registry.
package websocket

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/xelth-com/dongled/internal/config"
	"github.com/xelth-com/dongled/internal/devicekey"
	"github.com/xelth-com/dongled/internal/middleware"
	"github.com/xelth-com/dongled/internal/models"
	"github.com/xelth-com/dongled/internal/realtime"
)

const defaultSendBuffer = 256

var errIdentityMismatch = errors.New("token identity does not match dongle id")

// DeviceStore is what the acceptor needs from persistence
type DeviceStore interface {
	GetByDongleID(ctx context.Context, dongleID string) (*models.Device, error)
	TouchLastPing(ctx context.Context, dongleID string, t time.Time) error
}

// Server upgrades authenticated device requests to live channels
type Server struct {
	devices    DeviceStore
	registry   *realtime.Registry
	upgrader   websocket.Upgrader
	sendBuffer int
	pingPeriod time.Duration
}

// NewServer creates the device channel acceptor
func NewServer(devices DeviceStore, registry *realtime.Registry, cfg config.RealtimeConfig) *Server {
	s := &Server{
		devices:    devices,
		registry:   registry,
		sendBuffer: cfg.SendBuffer,
		pingPeriod: pingPeriod,
	}
	if s.sendBuffer <= 0 {
		s.sendBuffer = defaultSendBuffer
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return s
}

// originChecker allows everything when no origins are configured. Devices
// send no Origin header, so those requests always pass.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// ServeDevice handles GET /ws/v2/{dongleId}. The device authenticates with
// "Authorization: JWT <token>" signed by its registered key.
func (s *Server) ServeDevice(w http.ResponseWriter, r *http.Request) {
	dongleID := mux.Vars(r)["dongleId"]

	device, err := s.authenticate(r, dongleID)
	if err != nil {
		log.Printf("🔒 Rejected channel for %s: %v", dongleID, err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	client := newClient(s, conn, device.DongleID, r.RemoteAddr)
	s.registry.Register(device.DongleID, client)
	client.touch()

	go client.writePump()
	go client.readPump()
}

func (s *Server) authenticate(r *http.Request, dongleID string) (*models.Device, error) {
	token := middleware.BearerToken(r)
	if token == "" {
		return nil, errors.New("missing token")
	}
	device, err := s.devices.GetByDongleID(r.Context(), dongleID)
	if err != nil {
		return nil, err
	}
	claims, err := devicekey.Verify(token, device.PublicKey)
	if err != nil {
		return nil, err
	}
	if devicekey.StringClaim(claims, "identity") != device.DongleID {
		return nil, errIdentityMismatch
	}
	return device, nil
}
