package devicesim

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/xelth-com/dongled/internal/devicekey"
)

const tokenTTL = time.Hour

// Device is a simulated dongle identity
type Device struct {
	DongleID string
	IMEI     string
	Serial   string
	Key      crypto.Signer
}

// registration mirrors the pilotauth response
type registration struct {
	DongleID      string `json:"dongle_id"`
	FirstRegister bool   `json:"first_register"`
	Error         string `json:"error"`
}

// Register calls POST /v2/pilotauth and stores the assigned dongle id on d
func (d *Device) Register(ctx context.Context, client *http.Client, serverURL string) (bool, error) {
	publicKey, err := devicekey.MarshalPublicPEM(d.Key.Public())
	if err != nil {
		return false, err
	}
	token, err := devicekey.Sign(d.Key, jwt.MapClaims{
		"register": true,
		"exp":      time.Now().Add(tokenTTL).Unix(),
	})
	if err != nil {
		return false, err
	}

	form := url.Values{
		"imei":           {d.IMEI},
		"serial":         {d.Serial},
		"public_key":     {publicKey},
		"register_token": {token},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(serverURL, "/")+"/v2/pilotauth", strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, err
	}
	var reg registration
	if err := json.Unmarshal(body, &reg); err != nil {
		return false, fmt.Errorf("registration failed with status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("registration failed with status %d: %s", resp.StatusCode, reg.Error)
	}
	d.DongleID = reg.DongleID
	return reg.FirstRegister, nil
}

// PairingToken is the signed credential a phone app scans to claim the device
func (d *Device) PairingToken() (string, error) {
	if d.DongleID == "" {
		return "", fmt.Errorf("device is not registered")
	}
	return devicekey.Sign(d.Key, jwt.MapClaims{
		"identity": d.DongleID,
		"pair":     true,
		"exp":      time.Now().Add(tokenTTL).Unix(),
	})
}

// LegacyPairingString is the old "imei--serial--token" form
func (d *Device) LegacyPairingString(pairToken string) string {
	return strings.Join([]string{d.IMEI, d.Serial, pairToken}, "--")
}

// Connect opens the device channel and answers commands with responder until
// ctx ends or the server drops the connection.
func (d *Device) Connect(ctx context.Context, serverURL string, responder *Responder) error {
	token, err := devicekey.Sign(d.Key, jwt.MapClaims{
		"identity": d.DongleID,
		"exp":      time.Now().Add(tokenTTL).Unix(),
	})
	if err != nil {
		return err
	}

	wsURL := strings.Replace(strings.TrimRight(serverURL, "/"), "http", "ws", 1) + "/ws/v2/" + d.DongleID
	header := http.Header{}
	header.Set("Authorization", "JWT "+token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()
	log.Printf("📡 %s connected to %s", d.DongleID, wsURL)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		reply, ok := responder.Reply(message)
		if !ok {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			return err
		}
	}
}
