package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/datatypes"

	"github.com/xelth-com/dongled/internal/authz"
	"github.com/xelth-com/dongled/internal/metrics"
	"github.com/xelth-com/dongled/internal/models"
)

// DefaultTimeout bounds how long a command waits for its reply
const DefaultTimeout = 30 * time.Second

var (
	ErrInvalidMethod      = errors.New("invalid method")
	ErrDeviceUnresponsive = errors.New("device unresponsive")
	ErrConnectionLost     = errors.New("connection lost")
)

// DeviceError carries an error payload the device returned
type DeviceError struct {
	Payload json.RawMessage
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error: %s", e.Payload)
}

// Auditor records commands without blocking the caller
type Auditor interface {
	Append(entry *models.ActionLogEntry)
	SaveReturnedData(data *models.ReturnedData)
}

// Invocation is one call of a device method on behalf of an account
type Invocation struct {
	Account  *models.Account
	DongleID string
	Method   string
	Params   interface{}
	UserIP   string
}

// Dispatcher sends whitelisted commands to connected devices and waits for
// their replies
type Dispatcher struct {
	devices  authz.DeviceLookup
	registry *Registry
	audit    Auditor
	timeout  time.Duration
}

// NewDispatcher creates a dispatcher. A non-positive timeout uses DefaultTimeout.
func NewDispatcher(devices authz.DeviceLookup, registry *Registry, audit Auditor, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{devices: devices, registry: registry, audit: audit, timeout: timeout}
}

// Dispatch invokes inv.Method on the device and returns the device's result.
//
// Errors: ErrInvalidMethod, the authz sentinels, ErrNotConnected,
// ErrDeviceUnresponsive, ErrConnectionLost, *DeviceError, or a store failure.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	method, ok := CanonicalMethod(inv.Method)
	if !ok {
		return nil, ErrInvalidMethod
	}

	decision, err := authz.Authorize(ctx, d.devices, inv.Account, inv.DongleID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed() {
		if decision.Outcome == authz.NotAuthorised {
			d.record(inv, decision.Device, method, nil, nil, "", time.Now(), string(authz.NotAuthorised))
		}
		return nil, decision.Err()
	}

	params, err := encodeParams(inv.Params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}

	started := time.Now()
	req, ch, err := d.registry.NewRequest(Command{
		DongleID:  decision.DongleID,
		AccountID: inv.Account.ID,
		Method:    method,
		Params:    params,
	})
	if err != nil {
		d.record(inv, decision.Device, method, params, nil, "", started, "not_connected")
		return nil, err
	}

	payload, _ := json.Marshal(Request{JSONRPC: "2.0", ID: req.ID, Method: method, Params: params})
	if err := ch.Send(payload); err != nil {
		log.Printf("⚠️ Send to %s failed: %v", decision.DongleID, err)
		d.registry.Pending().Abort(req.ID)
	}

	waitCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	select {
	case <-req.Done():
	case <-waitCtx.Done():
		// Loses harmlessly if a reply or disconnect got there first.
		d.registry.Pending().Expire(req.ID)
		<-req.Done()
	}

	result, err := d.outcome(req)
	d.record(inv, decision.Device, method, params, req, ch.RemoteAddr(), started, string(req.Outcome()))
	if req.Outcome() == Completed {
		d.saveReply(decision.Device, req)
	}
	return result, err
}

func (d *Dispatcher) outcome(req *PendingRequest) (json.RawMessage, error) {
	switch req.Outcome() {
	case Completed:
		resp := req.Response()
		if resp.HasError() {
			return nil, &DeviceError{Payload: resp.Error}
		}
		if len(resp.Result) == 0 {
			return json.RawMessage("null"), nil
		}
		return resp.Result, nil
	case TimedOut:
		return nil, ErrDeviceUnresponsive
	default:
		return nil, ErrConnectionLost
	}
}

// IsDeviceConnected reports connectivity of a device the account owns
func (d *Dispatcher) IsDeviceConnected(ctx context.Context, account *models.Account, dongleID string) (bool, error) {
	decision, err := authz.Authorize(ctx, d.devices, account, dongleID)
	if err != nil {
		return false, err
	}
	if !decision.Allowed() {
		return false, decision.Err()
	}
	return d.registry.IsConnected(decision.DongleID), nil
}

// record queues the audit row. It runs after the outcome is fixed and never
// changes it.
func (d *Dispatcher) record(inv Invocation, device *models.Device, method string, params json.RawMessage, req *PendingRequest, deviceIP string, started time.Time, outcome string) {
	elapsed := time.Since(started)
	metrics.CommandsTotal.WithLabelValues(method, outcome).Inc()
	metrics.CommandDuration.WithLabelValues(method).Observe(elapsed.Seconds())

	if d.audit == nil {
		return
	}
	meta := map[string]interface{}{
		"outcome":     outcome,
		"duration_ms": elapsed.Milliseconds(),
		"params":      params,
	}
	if req != nil {
		meta["correlation_id"] = req.ID
		if resp := req.Response(); resp != nil && resp.HasError() {
			meta["error"] = resp.Error
		}
	}
	metaJSON, _ := json.Marshal(meta)

	d.audit.Append(&models.ActionLogEntry{
		AccountID: inv.Account.ID,
		DeviceID:  device.ID,
		DongleID:  device.DongleID,
		Action:    method,
		UserIP:    inv.UserIP,
		DeviceIP:  deviceIP,
		Meta:      datatypes.JSON(metaJSON),
		CreatedAt: started,
	})
}

func (d *Dispatcher) saveReply(device *models.Device, req *PendingRequest) {
	if d.audit == nil {
		return
	}
	resp := req.Response()
	data := resp.Result
	if resp.HasError() {
		data, _ = json.Marshal(map[string]json.RawMessage{"error": resp.Error})
	}
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	d.audit.SaveReturnedData(&models.ReturnedData{
		DeviceID:      device.ID,
		CorrelationID: req.ID,
		Type:          req.Method,
		Data:          datatypes.JSON(data),
		CreatedAt:     req.IssuedAt,
		ResolvedAt:    req.ResolvedAt(),
	})
}

func encodeParams(params interface{}) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage("null"), nil
		}
		if !json.Valid(p) {
			return nil, errors.New("params are not valid JSON")
		}
		return p, nil
	default:
		return json.Marshal(p)
	}
}
