// Package pairing binds unowned devices to accounts.
//
// Two credential shapes are accepted. The legacy "imei--serial--token" string
// locates the device by serial and trusts the token as-is; it is kept for old
// firmware and is weaker than the signed form. The signed form is a JWT the
// device issued with its private key; its claims are read once to find the
// device and then verified against that device's stored public key.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xelth-com/dongled/internal/devicekey"
	"github.com/xelth-com/dongled/internal/metrics"
	"github.com/xelth-com/dongled/internal/models"
	"github.com/xelth-com/dongled/internal/store"
)

// LegacySeparator splits the legacy "imei--serial--token" credential
const LegacySeparator = "--"

var (
	ErrNoAccount      = errors.New("no account")
	ErrBadQR          = errors.New("bad qr")
	ErrNoPair         = errors.New("token does not request pairing")
	ErrBadToken       = errors.New("bad pairing token")
	ErrDeviceNotFound = errors.New("device not registered")
	ErrNotConfirmed   = errors.New("pairing not confirmed")
	ErrInvalidDongle  = errors.New("invalid dongle")
)

// AlreadyPairedError is returned when the device already has an owner
type AlreadyPairedError struct {
	DongleID string
}

func (e *AlreadyPairedError) Error() string {
	return fmt.Sprintf("device %s is already paired", e.DongleID)
}

// DeviceStore is the subset of the device repository pairing needs
type DeviceStore interface {
	GetByDongleID(ctx context.Context, dongleID string) (*models.Device, error)
	GetBySerial(ctx context.Context, serial string) (*models.Device, error)
	SetOwnerIfUnowned(ctx context.Context, dongleID string, accountID uint) (bool, error)
	ClearOwner(ctx context.Context, dongleID string, accountID uint) (bool, error)
}

// VerifyFunc checks a token signature against a PEM public key
type VerifyFunc func(token, publicKeyPEM string) (jwt.MapClaims, error)

// Result describes a successful pairing
type Result struct {
	Success   bool   `json:"success"`
	Paired    bool   `json:"paired"`
	DongleID  string `json:"dongle_id"`
	AccountID uint   `json:"account_id"`
}

// Engine validates pairing credentials and updates device ownership
type Engine struct {
	devices DeviceStore
	verify  VerifyFunc
}

// NewEngine creates a pairing engine verifying signed tokens with devicekey.Verify
func NewEngine(devices DeviceStore) *Engine {
	return &Engine{devices: devices, verify: devicekey.Verify}
}

// PairDevice binds the device named by the pairing string to account.
// Credential and ownership failures are returned as the package's sentinel
// errors or *AlreadyPairedError; anything else is a store failure.
func (e *Engine) PairDevice(ctx context.Context, account *models.Account, pairing string) (*Result, error) {
	res, err := e.pair(ctx, account, strings.TrimSpace(pairing))
	metrics.PairingsTotal.WithLabelValues(outcomeLabel(err)).Inc()
	return res, err
}

func (e *Engine) pair(ctx context.Context, account *models.Account, pairing string) (*Result, error) {
	if account == nil {
		return nil, ErrNoAccount
	}
	if pairing == "" {
		return nil, ErrBadQR
	}

	device, err := e.resolve(ctx, pairing)
	if err != nil {
		return nil, err
	}

	if device.IsOwned() {
		return nil, &AlreadyPairedError{DongleID: device.DongleID}
	}

	if _, err := e.devices.SetOwnerIfUnowned(ctx, device.DongleID, account.ID); err != nil {
		return nil, fmt.Errorf("set owner: %w", err)
	}

	// Read back: another account may have won the conditional update.
	check, err := e.devices.GetByDongleID(ctx, device.DongleID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("confirm pairing: %w", err)
	}
	if check == nil || check.AccountID != account.ID {
		return nil, ErrNotConfirmed
	}

	log.Printf("🔗 Device %s paired to account %d", device.DongleID, account.ID)
	return &Result{Success: true, Paired: true, DongleID: device.DongleID, AccountID: account.ID}, nil
}

// resolve finds the device a credential refers to and checks the credential
func (e *Engine) resolve(ctx context.Context, pairing string) (*models.Device, error) {
	// Base64url can emit "--", so a string that parses as a JWT is never legacy.
	unverified, err := devicekey.Peek(pairing)
	if err != nil && strings.Contains(pairing, LegacySeparator) {
		parts := strings.Split(pairing, LegacySeparator)
		if len(parts) < 3 {
			return nil, ErrBadQR
		}
		// parts[2] is the legacy pair token; it carries no signature to check.
		return e.lookup(ctx, e.devices.GetBySerial, parts[1])
	}
	if err != nil || !devicekey.Truthy(unverified["pair"]) {
		return nil, ErrNoPair
	}

	device, err := e.lookup(ctx, e.devices.GetByDongleID, devicekey.StringClaim(unverified, "identity"))
	if err != nil {
		return nil, err
	}

	claims, err := e.verify(pairing, device.PublicKey)
	if err != nil {
		return nil, ErrBadToken
	}
	if !devicekey.Truthy(claims["pair"]) || devicekey.StringClaim(claims, "identity") != device.DongleID {
		return nil, ErrBadToken
	}
	return device, nil
}

func (e *Engine) lookup(ctx context.Context, get func(context.Context, string) (*models.Device, error), key string) (*models.Device, error) {
	device, err := get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup device: %w", err)
	}
	return device, nil
}

// UnpairDevice releases the device if accountID currently owns it
func (e *Engine) UnpairDevice(ctx context.Context, dongleID string, accountID uint) error {
	ok, err := e.devices.ClearOwner(ctx, dongleID, accountID)
	if err != nil {
		return fmt.Errorf("clear owner: %w", err)
	}
	if !ok {
		return ErrInvalidDongle
	}
	log.Printf("🔓 Device %s unpaired from account %d", dongleID, accountID)
	return nil
}

func outcomeLabel(err error) string {
	var already *AlreadyPairedError
	switch {
	case err == nil:
		return "paired"
	case errors.As(err, &already):
		return "already_paired"
	case errors.Is(err, ErrBadQR):
		return "bad_qr"
	case errors.Is(err, ErrNoPair):
		return "no_pair"
	case errors.Is(err, ErrBadToken):
		return "bad_token"
	case errors.Is(err, ErrDeviceNotFound):
		return "not_found"
	case errors.Is(err, ErrNotConfirmed):
		return "not_confirmed"
	default:
		return "error"
	}
}
