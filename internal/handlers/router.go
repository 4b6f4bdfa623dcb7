package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/xelth-com/dongled/internal/buildinfo"
	"github.com/xelth-com/dongled/internal/config"
	"github.com/xelth-com/dongled/internal/metrics"
	"github.com/xelth-com/dongled/internal/middleware"
	"github.com/xelth-com/dongled/internal/pairing"
	"github.com/xelth-com/dongled/internal/realtime"
	"github.com/xelth-com/dongled/internal/store"
	"github.com/xelth-com/dongled/internal/websocket"
)

// Services are the components the HTTP layer fronts
type Services struct {
	Accounts   *store.Accounts
	Devices    *store.Devices
	ActionLog  *store.ActionLog
	Pairing    *pairing.Engine
	Registry   *realtime.Registry
	Dispatcher *realtime.Dispatcher
	Channels   *websocket.Server
}

// Router wraps the mux router and the services behind it
type Router struct {
	*mux.Router
	cfg *config.Config
	Services
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(cfg *config.Config, svc Services) *Router {
	r := &Router{
		Router:   mux.NewRouter(),
		cfg:      cfg,
		Services: svc,
	}
	r.Use(middleware.Authenticate(svc.Accounts, cfg.JWTSecret))

	// Ops
	r.HandleFunc("/health", r.healthCheck).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	// Auth routes
	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/login", r.login).Methods("POST")
	auth.HandleFunc("/register", r.register).Methods("POST")
	auth.HandleFunc("/logout", r.logout).Methods("POST")

	// Device side
	r.HandleFunc("/v2/pilotauth", r.pilotAuth).Methods("POST")
	r.HandleFunc("/ws/v2/{dongleId}", svc.Channels.ServeDevice).Methods("GET")

	// Device management
	r.HandleFunc("/v1/me/devices", r.listDevices).Methods("GET")
	devices := r.PathPrefix("/v1/devices").Subrouter()
	devices.HandleFunc("/pair", r.pairDevice).Methods("POST")
	devices.HandleFunc("/pairqr", r.pairQR).Methods("GET")
	devices.HandleFunc("/{dongleId}/unpair", r.unpairDevice).Methods("POST")
	devices.HandleFunc("/{dongleId}", r.setNickname).Methods("PATCH")

	// Realtime commands
	rt := r.PathPrefix("/v1/realtime/{dongleId}").Subrouter()
	rt.HandleFunc("/connected", r.isConnected).Methods("GET")
	rt.HandleFunc("/send/{method}", r.sendCommand).Methods("POST")
	rt.HandleFunc("/get", r.returnedData).Methods("GET")
	rt.HandleFunc("/nav/{lat}/{long}", r.navigate).Methods("POST")

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"connected_devices": r.Registry.Count(),
		"build":             buildinfo.Current(),
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondFailure sends the {error, errorMsg, errorObject} shape used by the
// realtime endpoints
func respondFailure(w http.ResponseWriter, status int, msg string, obj interface{}) {
	respondJSON(w, status, map[string]interface{}{
		"error":       true,
		"errorMsg":    msg,
		"errorObject": obj,
	})
}

// clientIP prefers the first X-Forwarded-For hop
func clientIP(req *http.Request) string {
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
