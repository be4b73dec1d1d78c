package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// Handler provides HTTP handlers for device enrollment and token issuance.
type Handler struct {
	enrollments *EnrollmentStore
	tokens      *TokenService
	resolver    *Resolver
	logger      *zap.Logger
}

// NewHandler creates an auth Handler.
func NewHandler(enrollments *EnrollmentStore, tokens *TokenService, resolver *Resolver, logger *zap.Logger) *Handler {
	return &Handler{enrollments: enrollments, tokens: tokens, resolver: resolver, logger: logger}
}

// RegisterRoutes registers auth-related routes on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/auth/enroll", h.handleEnroll)
	mux.HandleFunc("POST /api/v1/auth/token", h.handleToken)
	mux.HandleFunc("DELETE /api/v1/auth/enroll/{id}", h.handleRevoke)
}

// Middleware returns the device credential middleware.
func (h *Handler) Middleware() func(http.Handler) http.Handler {
	return DeviceMiddleware(h.resolver)
}

// EnrollRequest provisions a device credential.
type EnrollRequest struct {
	DeviceID string `json:"device_id,omitempty"`
}

// EnrollResponse carries a freshly provisioned credential. The device
// key is shown exactly once and never stored in the clear.
type EnrollResponse struct {
	DeviceID  string `json:"device_id"`
	DeviceKey string `json:"device_key"`
}

// handleEnroll provisions a credential for a device.
//
//	@Summary		Enroll device
//	@Description	Provision a device credential. The returned device key is shown exactly once.
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		EnrollRequest	true	"Enrollment request"
//	@Success		201		{object}	EnrollResponse
//	@Failure		409		{object}	models.APIProblem
//	@Failure		500		{object}	models.APIProblem
//	@Router			/auth/enroll [post]
func (h *Handler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAuthError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	id, key, err := h.enrollments.Enroll(r.Context(), req.DeviceID)
	if err != nil {
		h.logger.Error("enroll device", zap.Error(err))
		writeAuthError(w, http.StatusInternalServerError, "enrollment failed")
		return
	}

	h.logger.Info("device enrolled", zap.String("device_id", id))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(EnrollResponse{DeviceID: id, DeviceKey: key})
}

// TokenRequest exchanges an enrollment key for a device token.
type TokenRequest struct {
	DeviceID  string `json:"device_id"`
	DeviceKey string `json:"device_key"`
}

// TokenResponse carries an issued device token.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// handleToken exchanges a device key for a JWT device token.
//
//	@Summary		Issue device token
//	@Description	Exchange an enrollment key for a short-lived JWT device token.
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		TokenRequest	true	"Device credentials"
//	@Success		200		{object}	TokenResponse
//	@Failure		400		{object}	models.APIProblem
//	@Failure		401		{object}	models.APIProblem
//	@Router			/auth/token [post]
func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DeviceID == "" || req.DeviceKey == "" {
		writeAuthError(w, http.StatusBadRequest, "device_id and device_key are required")
		return
	}

	if err := h.enrollments.VerifyKey(r.Context(), req.DeviceID, req.DeviceKey); err != nil {
		var f *Failure
		if errors.As(err, &f) {
			writeAuthError(w, http.StatusUnauthorized, "invalid device credentials")
			return
		}
		h.logger.Error("verify device key", zap.Error(err))
		writeAuthError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}

	token, err := h.tokens.IssueDeviceToken(req.DeviceID)
	if err != nil {
		h.logger.Error("issue device token", zap.Error(err))
		writeAuthError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(TokenResponse{
		Token:     token,
		ExpiresIn: int(h.tokens.TokenTTL().Seconds()),
	})
}

// handleRevoke removes a device enrollment.
//
//	@Summary		Revoke enrollment
//	@Description	Remove a device's enrollment. Outstanding tokens expire naturally.
//	@Tags			auth
//	@Produce		json
//	@Param			id	path	string	true	"Device ID"
//	@Success		204
//	@Failure		500	{object}	models.APIProblem
//	@Router			/auth/enroll/{id} [delete]
func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.enrollments.Revoke(r.Context(), id); err != nil {
		h.logger.Error("revoke enrollment", zap.Error(err), zap.String("device_id", id))
		writeAuthError(w, http.StatusInternalServerError, "revocation failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeAuthError writes an RFC 7807 problem response for auth endpoints.
func writeAuthError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "https://fleetwarden.dev/problems/auth-error",
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}
