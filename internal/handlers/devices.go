package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/skip2/go-qrcode"

	"github.com/xelth-com/dongled/internal/devicekey"
	"github.com/xelth-com/dongled/internal/middleware"
	"github.com/xelth-com/dongled/internal/models"
	"github.com/xelth-com/dongled/internal/pairing"
	"github.com/xelth-com/dongled/internal/store"
)

const (
	maxNicknameLength = 32
	maxQRDataLength   = 2048
)

// notAuthenticated answers the device-management routes for anonymous callers
func notAuthenticated(w http.ResponseWriter) {
	respondJSON(w, http.StatusUnauthorized, map[string]interface{}{
		"success": false,
		"msg":     "NOT_AUTHENTICATED",
	})
}

// newDongleID returns 16 lowercase hex characters
func newDongleID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// pilotAuth registers a device. The device proves possession of its key by
// signing register_token with it.
func (r *Router) pilotAuth(w http.ResponseWriter, req *http.Request) {
	imei := req.FormValue("imei")
	serial := req.FormValue("serial")
	publicKey := req.FormValue("public_key")
	registerToken := req.FormValue("register_token")

	if serial == "" || publicKey == "" || registerToken == "" {
		respondError(w, http.StatusBadRequest, "serial, public_key and register_token are required")
		return
	}

	claims, err := devicekey.Verify(registerToken, publicKey)
	if err != nil || !devicekey.Truthy(claims["register"]) {
		log.Printf("🔒 Registration rejected for serial %s: %v", serial, err)
		respondError(w, http.StatusUnauthorized, "Invalid register_token")
		return
	}

	ctx := req.Context()
	existing, err := r.Devices.GetBySerial(ctx, serial)
	switch {
	case err == nil:
		if existing.PublicKey != publicKey {
			respondError(w, http.StatusConflict, "Serial already registered with another key")
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"dongle_id":      existing.DongleID,
			"first_register": false,
		})
		return
	case !errors.Is(err, store.ErrNotFound):
		log.Printf("❌ Registration lookup failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	device := &models.Device{
		DongleID:  newDongleID(),
		IMEI:      imei,
		Serial:    serial,
		PublicKey: publicKey,
	}
	if err := r.Devices.Create(ctx, device); err != nil {
		log.Printf("❌ Failed to register device %s: %v", serial, err)
		respondError(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	log.Printf("📟 Device registered: %s (serial %s)", device.DongleID, serial)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"dongle_id":      device.DongleID,
		"first_register": true,
	})
}

// listDevices returns the devices the caller owns
func (r *Router) listDevices(w http.ResponseWriter, req *http.Request) {
	account := middleware.AccountFromContext(req.Context())
	if account == nil {
		notAuthenticated(w)
		return
	}
	devices, err := r.Devices.ListByAccount(req.Context(), account.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list devices")
		return
	}
	if devices == nil {
		devices = []models.Device{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": devices})
}

// PairRequest carries the scanned pairing credential
type PairRequest struct {
	QRString string `json:"qr_string"`
}

func (r *Router) pairDevice(w http.ResponseWriter, req *http.Request) {
	var body PairRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "badQr": true})
		return
	}

	res, err := r.Pairing.PairDevice(req.Context(), middleware.AccountFromContext(req.Context()), body.QRString)
	if err != nil {
		status, payload := pairingFailure(err)
		respondJSON(w, status, payload)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// pairingFailure maps a pairing error to its status and flag body
func pairingFailure(err error) (int, map[string]interface{}) {
	var already *pairing.AlreadyPairedError
	switch {
	case errors.Is(err, pairing.ErrNoAccount):
		return http.StatusUnauthorized, map[string]interface{}{"success": false, "msg": "NOT_AUTHENTICATED"}
	case errors.Is(err, pairing.ErrBadQR):
		return http.StatusBadRequest, map[string]interface{}{"success": false, "badQr": true}
	case errors.Is(err, pairing.ErrNoPair):
		return http.StatusBadRequest, map[string]interface{}{"success": false, "noPair": true}
	case errors.Is(err, pairing.ErrDeviceNotFound):
		return http.StatusNotFound, map[string]interface{}{"success": false, "registered": false, "noPair": true}
	case errors.Is(err, pairing.ErrBadToken):
		return http.StatusBadRequest, map[string]interface{}{"success": false, "badToken": true}
	case errors.As(err, &already):
		return http.StatusConflict, map[string]interface{}{"success": false, "alreadyPaired": true, "dongle_id": already.DongleID}
	case errors.Is(err, pairing.ErrNotConfirmed):
		return http.StatusConflict, map[string]interface{}{"success": false, "paired": false}
	default:
		log.Printf("❌ Pairing failed: %v", err)
		return http.StatusInternalServerError, map[string]interface{}{"success": false, "msg": "internal_error"}
	}
}

func (r *Router) unpairDevice(w http.ResponseWriter, req *http.Request) {
	account := middleware.AccountFromContext(req.Context())
	if account == nil {
		notAuthenticated(w)
		return
	}
	err := r.Pairing.UnpairDevice(req.Context(), mux.Vars(req)["dongleId"], account.ID)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	case errors.Is(err, pairing.ErrInvalidDongle):
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "msg": "BAD DONGLE", "invalidDongle": true})
	default:
		log.Printf("❌ Unpair failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to unpair device")
	}
}

// NicknameRequest renames a device
type NicknameRequest struct {
	Nickname string `json:"nickname"`
}

// sanitizeNickname drops control and markup characters and bounds the length
func sanitizeNickname(raw string) string {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune("<>\"'`&", r) {
			return -1
		}
		return r
	}, raw)
	clean = strings.TrimSpace(clean)
	if runes := []rune(clean); len(runes) > maxNicknameLength {
		clean = strings.TrimSpace(string(runes[:maxNicknameLength]))
	}
	return clean
}

func (r *Router) setNickname(w http.ResponseWriter, req *http.Request) {
	account := middleware.AccountFromContext(req.Context())
	if account == nil {
		notAuthenticated(w)
		return
	}
	var body NicknameRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	nickname := sanitizeNickname(body.Nickname)
	ok, err := r.Devices.SetNickname(req.Context(), mux.Vars(req)["dongleId"], account.ID, nickname)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to update device")
		return
	}
	if !ok {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "msg": "BAD DONGLE", "invalidDongle": true})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": map[string]string{"nickname": nickname}})
}

// pairQR renders a pairing credential as a PNG for provisioning screens
func (r *Router) pairQR(w http.ResponseWriter, req *http.Request) {
	data := req.URL.Query().Get("data")
	if data == "" || len(data) > maxQRDataLength {
		respondError(w, http.StatusBadRequest, "data is required")
		return
	}

	png, err := qrcode.Encode(data, qrcode.Medium, 256)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to generate QR")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}
