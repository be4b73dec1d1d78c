package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/HerbHall/fleetwarden/pkg/models"
)

// ErrForbidden is returned when an authenticated device addresses
// another device's resources.
var ErrForbidden = errors.New("device does not own this resource")

// DeviceLoader loads a device record by ID. Returns nil, nil when the
// device is not registered.
type DeviceLoader interface {
	LoadDevice(ctx context.Context, deviceID string) (*models.Device, error)
}

// Identity is the authenticated caller attached to a request context.
// Device is nil when the credential is valid but the device has not
// registered yet (first heartbeat).
type Identity struct {
	DeviceID string
	Device   *models.Device
}

// Resolver turns raw credentials into device identities.
type Resolver struct {
	tokens *TokenService
	loader DeviceLoader
}

// NewResolver creates a Resolver backed by the given token service and
// device loader.
func NewResolver(tokens *TokenService, loader DeviceLoader) *Resolver {
	return &Resolver{tokens: tokens, loader: loader}
}

// ResolveIdentity validates a credential without requiring a registered
// device. Used by the registration path, where the device row may not
// exist yet.
func (r *Resolver) ResolveIdentity(ctx context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, failure(FailureMissing, "no credential presented")
	}
	claims, err := r.tokens.ValidateDeviceToken(credential)
	if err != nil {
		return nil, failure(FailureInvalid, "invalid or expired token")
	}
	dev, err := r.loader.LoadDevice(ctx, claims.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	return &Identity{DeviceID: claims.DeviceID, Device: dev}, nil
}

// ResolveDevice validates a credential and requires a registered device
// in the active lifecycle state. Any other outcome is a *Failure:
// missing credential, invalid token or unknown device, or a device whose
// lifecycle state forbids data-plane operations.
func (r *Resolver) ResolveDevice(ctx context.Context, credential string) (*models.Device, error) {
	ident, err := r.ResolveIdentity(ctx, credential)
	if err != nil {
		return nil, err
	}
	if ident.Device == nil {
		return nil, failure(FailureInvalid, "unknown device")
	}
	if ident.Device.LifecycleState != models.LifecycleActive {
		return nil, failure(FailureInactive,
			fmt.Sprintf("device is %s", ident.Device.LifecycleState))
	}
	return ident.Device, nil
}
