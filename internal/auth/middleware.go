package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// identityKey is a context key for the authenticated device identity.
type identityKey struct{}

// IdentityFromContext returns the authenticated device identity from the
// request context, or nil if the request is not device-authenticated.
func IdentityFromContext(ctx context.Context) *Identity {
	if ident, ok := ctx.Value(identityKey{}).(*Identity); ok {
		return ident
	}
	return nil
}

// WithIdentity returns a context carrying the given device identity.
func WithIdentity(ctx context.Context, ident *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, ident)
}

// Authorize checks that the request identity matches the device it is
// addressing. Returns a *Failure when no identity is attached and
// ErrForbidden on a mismatch.
func Authorize(ctx context.Context, deviceID string) error {
	ident := IdentityFromContext(ctx)
	if ident == nil {
		return failure(FailureMissing, "no credential presented")
	}
	if ident.DeviceID != deviceID {
		return ErrForbidden
	}
	return nil
}

// isDevicePlane reports whether a request path belongs to the device
// data plane: endpoints devices themselves call, as opposed to operator
// control-plane endpoints.
func isDevicePlane(path string) bool {
	switch {
	case path == "/api/v1/fleet/heartbeat":
		return true
	case strings.HasPrefix(path, "/api/v1/fleet/devices/") &&
		(strings.HasSuffix(path, "/measurements") || strings.HasSuffix(path, "/errors")):
		return true
	case strings.HasPrefix(path, "/api/v1/shadow/devices/") && strings.HasSuffix(path, "/reported"):
		return true
	case strings.HasPrefix(path, "/api/v1/rollout/next"):
		return true
	}
	return false
}

// DeviceMiddleware resolves device credentials on data-plane routes.
// The heartbeat path only requires a valid token (the device row may not
// exist before first contact); every other data-plane route requires a
// registered, active device. Control-plane routes pass through untouched.
func DeviceMiddleware(resolver *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isDevicePlane(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			credential := ""
			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				credential = strings.TrimPrefix(h, "Bearer ")
			}

			var ident *Identity
			if r.URL.Path == "/api/v1/fleet/heartbeat" {
				resolved, err := resolver.ResolveIdentity(r.Context(), credential)
				if err != nil {
					writeResolveError(w, err)
					return
				}
				ident = resolved
			} else {
				dev, err := resolver.ResolveDevice(r.Context(), credential)
				if err != nil {
					writeResolveError(w, err)
					return
				}
				ident = &Identity{DeviceID: dev.ID, Device: dev}
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), ident)))
		})
	}
}

// writeResolveError maps a credential resolution error to an HTTP status:
// missing or invalid credentials are 401, an inactive device is 403,
// anything else is an internal error.
func writeResolveError(w http.ResponseWriter, err error) {
	var f *Failure
	if !errors.As(err, &f) {
		writeAuthError(w, http.StatusInternalServerError, "credential resolution failed")
		return
	}
	switch f.Reason {
	case FailureInactive:
		writeAuthError(w, http.StatusForbidden, f.Detail)
	default:
		writeAuthError(w, http.StatusUnauthorized, f.Detail)
	}
}
