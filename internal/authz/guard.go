// Package authz decides whether an account may act on a device.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/xelth-com/dongled/internal/models"
	"github.com/xelth-com/dongled/internal/store"
)

// Outcome is the guard's verdict
type Outcome string

const (
	NotAuthenticated Outcome = "not_authenticated"
	NoSuchDevice     Outcome = "no_such_device"
	NotAuthorised    Outcome = "not_authorised"
	Authorised       Outcome = "authorised"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNoSuchDevice     = errors.New("no such device")
	ErrNotAuthorised    = errors.New("not authorised")
)

// DeviceLookup resolves a dongle id to a device
type DeviceLookup interface {
	GetByDongleID(ctx context.Context, dongleID string) (*models.Device, error)
}

// Decision is the result of a guard check. Device is set whenever the dongle
// id resolved.
type Decision struct {
	Outcome   Outcome        `json:"outcome"`
	AccountID uint           `json:"account_id,omitempty"`
	DongleID  string         `json:"dongle_id,omitempty"`
	Device    *models.Device `json:"-"`
}

// Allowed reports whether the decision grants access
func (d Decision) Allowed() bool {
	return d.Outcome == Authorised
}

// Err maps a refusal to its sentinel error, nil when authorised
func (d Decision) Err() error {
	switch d.Outcome {
	case Authorised:
		return nil
	case NotAuthenticated:
		return ErrNotAuthenticated
	case NoSuchDevice:
		return ErrNoSuchDevice
	default:
		return ErrNotAuthorised
	}
}

// Authorize checks that account owns dongleID. It has no side effects; the
// error return is reserved for lookup failures.
func Authorize(ctx context.Context, devices DeviceLookup, account *models.Account, dongleID string) (Decision, error) {
	if account == nil {
		return Decision{Outcome: NotAuthenticated}, nil
	}

	device, err := devices.GetByDongleID(ctx, dongleID)
	if errors.Is(err, store.ErrNotFound) {
		return Decision{Outcome: NoSuchDevice, DongleID: dongleID}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("lookup device: %w", err)
	}

	// Unowned devices (account_id 0) never match a real account id.
	if device.AccountID != account.ID || account.ID == models.UnownedAccountID {
		return Decision{Outcome: NotAuthorised, DongleID: device.DongleID, Device: device}, nil
	}

	return Decision{
		Outcome:   Authorised,
		AccountID: account.ID,
		DongleID:  device.DongleID,
		Device:    device,
	}, nil
}
