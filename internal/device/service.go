package device

import (
	"context"
	"errors"
	"net/http"

	"secure-room-access/client/internal/api"
	"secure-room-access/client/internal/keystore"
)

// MaxDevices mirrors the server-enforced limit of registered devices per user.
// Checked client-side only to fail early; the server remains authoritative.
const MaxDevices = 3

// Sentinel errors for device operations.
var (
	ErrDeviceLimit    = errors.New("device limit reached: remove a device before adding a new one")
	ErrNoStoredDevice = errors.New("no registered device identifier on this device")
)

// Session is the authenticated-request primitive the service needs.
type Session interface {
	DoJSON(ctx context.Context, method, path string, body, out any) error
}

// Device is a registered device as returned by the server.
type Device struct {
	ID         string `json:"id"`
	DeviceName string `json:"deviceName"`
}

// Service performs device registration and verification against the server.
type Service struct {
	session Session
	store   keystore.Store
}

// NewService returns a Service using the given authenticated session and local store.
func NewService(session Session, store keystore.Store) *Service {
	return &Service{session: session, store: store}
}

// List fetches the user's registered devices.
func (s *Service) List(ctx context.Context) ([]Device, error) {
	var out struct {
		Devices []Device `json:"devices"`
	}
	if err := s.session.DoJSON(ctx, http.MethodGet, api.RouteFetchDevices, nil, &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

// Register binds this device to the account identified by email. It mirrors the
// server's device limit and persists the identity's ID as the stored device ID
// used later by check-in verification.
func (s *Service) Register(ctx context.Context, email string, id Identity) error {
	devices, err := s.List(ctx)
	if err != nil {
		return err
	}
	if len(devices) >= MaxDevices {
		return ErrDeviceLimit
	}
	body := map[string]string{
		"email":      email,
		"deviceId":   id.ID,
		"deviceName": id.Name,
	}
	if err := s.session.DoJSON(ctx, http.MethodPost, api.RouteStoreDeviceID, body, nil); err != nil {
		return err
	}
	return s.store.Set(keystore.KeyDeviceID, id.ID)
}

// Remove unregisters the device with the given server-side ID.
func (s *Service) Remove(ctx context.Context, deviceID string) error {
	body := map[string]string{"deviceId": deviceID}
	return s.session.DoJSON(ctx, http.MethodPost, api.RouteDeleteDevice, body, nil)
}

// Verify checks the locally stored device identifier against the server's
// record for this user. A missing stored ID fails closed with ErrNoStoredDevice
// and no network call.
func (s *Service) Verify(ctx context.Context) (bool, error) {
	deviceID := s.store.Get(keystore.KeyDeviceID)
	if deviceID == "" {
		return false, ErrNoStoredDevice
	}
	body := map[string]string{"bookingDeviceId": deviceID}
	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := s.session.DoJSON(ctx, http.MethodPost, api.RouteVerifyDeviceID, body, &out); err != nil {
		return false, err
	}
	return out.Success, nil
}
