package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/xelth-com/dongled/internal/authz"
	"github.com/xelth-com/dongled/internal/middleware"
	"github.com/xelth-com/dongled/internal/models"
	"github.com/xelth-com/dongled/internal/realtime"
)

const maxParamsBytes = 1 << 20

// respondCommandError maps guard and dispatch errors onto the failure shape
func respondCommandError(w http.ResponseWriter, err error, method string) {
	var devErr *realtime.DeviceError
	switch {
	case errors.Is(err, realtime.ErrInvalidMethod):
		respondFailure(w, http.StatusConflict, "invalid_method", map[string]interface{}{"method": method})
	case errors.Is(err, authz.ErrNotAuthenticated):
		respondFailure(w, http.StatusUnauthorized, "Unauthenticated", map[string]interface{}{"authenticated": false})
	case errors.Is(err, authz.ErrNoSuchDevice):
		respondFailure(w, http.StatusBadRequest, "no_dongle", map[string]interface{}{"authenticated": true, "dongle_exists": false})
	case errors.Is(err, authz.ErrNotAuthorised):
		respondFailure(w, http.StatusForbidden, "unauthorised", map[string]interface{}{"authenticated": true, "dongle_exists": true, "authorised_user": false})
	case errors.Is(err, realtime.ErrNotConnected):
		respondFailure(w, http.StatusServiceUnavailable, "not_connected", map[string]interface{}{"connected": false})
	case errors.Is(err, realtime.ErrConnectionLost):
		respondFailure(w, http.StatusServiceUnavailable, "connection_lost", map[string]interface{}{"connected": false})
	case errors.Is(err, realtime.ErrDeviceUnresponsive):
		respondFailure(w, http.StatusGatewayTimeout, "device_unresponsive", map[string]interface{}{"timeout": true})
	case errors.As(err, &devErr):
		respondFailure(w, http.StatusBadGateway, "device_error", devErr.Payload)
	default:
		log.Printf("❌ Command %s failed: %v", method, err)
		respondFailure(w, http.StatusInternalServerError, "internal_error", nil)
	}
}

func malformed(w http.ResponseWriter) {
	respondFailure(w, http.StatusBadRequest, "Malformed_Request", map[string]interface{}{"malformed": true})
}

// isConnected reports whether the caller's device holds a live channel
func (r *Router) isConnected(w http.ResponseWriter, req *http.Request) {
	dongleID := mux.Vars(req)["dongleId"]
	connected, err := r.Dispatcher.IsDeviceConnected(req.Context(), middleware.AccountFromContext(req.Context()), dongleID)
	if err != nil {
		respondCommandError(w, err, "")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"dongle_id": dongleID,
		"data":      connected,
	})
}

// sendCommand invokes a whitelisted method. A JSON request body becomes the
// method params.
func (r *Router) sendCommand(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	dongleID, method := vars["dongleId"], vars["method"]

	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxParamsBytes))
	if err != nil {
		malformed(w)
		return
	}
	var params interface{}
	if len(body) > 0 {
		if !json.Valid(body) {
			malformed(w)
			return
		}
		params = json.RawMessage(body)
	}

	r.dispatch(w, req, dongleID, method, params)
}

// navigate is a shortcut for setNavDestination
func (r *Router) navigate(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	lat, errLat := strconv.ParseFloat(vars["lat"], 64)
	long, errLong := strconv.ParseFloat(vars["long"], 64)
	if errLat != nil || errLong != nil || lat < -90 || lat > 90 || long < -180 || long > 180 {
		malformed(w)
		return
	}

	r.dispatch(w, req, vars["dongleId"], "setNavDestination", map[string]float64{
		"latitude":  lat,
		"longitude": long,
	})
}

func (r *Router) dispatch(w http.ResponseWriter, req *http.Request, dongleID, method string, params interface{}) {
	data, err := r.Dispatcher.Dispatch(req.Context(), realtime.Invocation{
		Account:  middleware.AccountFromContext(req.Context()),
		DongleID: dongleID,
		Method:   method,
		Params:   params,
		UserIP:   clientIP(req),
	})
	if err != nil {
		respondCommandError(w, err, method)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"dongle_id": dongleID,
		"method":    method,
		"data":      data,
	})
}

// returnedData lists the stored device replies
func (r *Router) returnedData(w http.ResponseWriter, req *http.Request) {
	decision, err := authz.Authorize(req.Context(), r.Devices, middleware.AccountFromContext(req.Context()), mux.Vars(req)["dongleId"])
	if err != nil {
		respondCommandError(w, err, "")
		return
	}
	if !decision.Allowed() {
		respondCommandError(w, decision.Err(), "")
		return
	}

	rows, err := r.ActionLog.ListReturnedData(req.Context(), decision.Device.ID, 0)
	if err != nil {
		respondCommandError(w, err, "")
		return
	}
	if rows == nil {
		rows = []models.ReturnedData{}
	}
	respondJSON(w, http.StatusOK, rows)
}
