package rollout

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/HerbHall/fleetwarden/pkg/models"
	"github.com/HerbHall/fleetwarden/pkg/plugin"
	"go.uber.org/zap"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an RFC 7807 problem detail response.
func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.APIProblem{
		Type:   "https://fleetwarden.dev/problems/" + http.StatusText(status),
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	})
}

// writeCatalogError maps catalog errors to problem responses.
func writeCatalogError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateVersion):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidPercent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrRolledBack):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "catalog operation failed")
	}
}

// PublishRequest is the request body for POST /releases.
type PublishRequest struct {
	Version             string `json:"version" example:"1.3.0"`
	Checksum            string `json:"checksum"`
	URL                 string `json:"url"`
	Signature           string `json:"signature,omitempty"`
	RolloutGroup        string `json:"rollout_group,omitempty" example:"default"`
	RequiredRegion      string `json:"required_region,omitempty"`
	RequiredHardwareRev string `json:"required_hardware_rev,omitempty"`
	TargetPercent       int    `json:"target_percent"`
}

// handlePublish publishes a new firmware release.
//
//	@Summary		Publish release
//	@Description	Adds a firmware release to the catalog. Versions are immutable once created.
//	@Tags			rollout
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		PublishRequest	true	"Release to publish"
//	@Success		201		{object}	models.Firmware
//	@Failure		400		{object}	models.APIProblem
//	@Failure		409		{object}	models.APIProblem
//	@Router			/rollout/releases [post]
func (m *Module) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Version == "" {
		writeError(w, http.StatusBadRequest, "version is required")
		return
	}
	if req.Checksum == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "checksum and url are required")
		return
	}

	f := &models.Firmware{
		Version:             req.Version,
		Checksum:            req.Checksum,
		URL:                 req.URL,
		Signature:           req.Signature,
		RolloutGroup:        req.RolloutGroup,
		RequiredRegion:      req.RequiredRegion,
		RequiredHardwareRev: req.RequiredHardwareRev,
		TargetPercent:       req.TargetPercent,
	}
	if err := m.store.Publish(r.Context(), f); err != nil {
		writeCatalogError(w, err)
		return
	}

	m.logger.Info("release published",
		zap.String("version", f.Version),
		zap.String("rollout_group", f.RolloutGroup),
		zap.Int("target_percent", f.TargetPercent),
	)
	m.publish(r, TopicReleasePublished, f)
	writeJSON(w, http.StatusCreated, f)
}

// handleListReleases returns the full catalog, newest first.
//
//	@Summary	List releases
//	@Tags		rollout
//	@Produce	json
//	@Security	BearerAuth
//	@Success	200	{array}	models.Firmware
//	@Router		/rollout/releases [get]
func (m *Module) handleListReleases(w http.ResponseWriter, r *http.Request) {
	releases, err := m.store.ListReleases(r.Context())
	if err != nil {
		m.logger.Error("failed to list releases", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list releases")
		return
	}
	if releases == nil {
		releases = []models.Firmware{}
	}
	writeJSON(w, http.StatusOK, releases)
}

// handleGetRelease returns one release by version.
//
//	@Summary	Get release
//	@Tags		rollout
//	@Produce	json
//	@Security	BearerAuth
//	@Param		version	path		string	true	"Firmware version"
//	@Success	200		{object}	models.Firmware
//	@Failure	404		{object}	models.APIProblem
//	@Router		/rollout/releases/{version} [get]
func (m *Module) handleGetRelease(w http.ResponseWriter, r *http.Request) {
	version := r.PathValue("version")
	f, err := m.store.GetRelease(r.Context(), version)
	if err != nil {
		m.logger.Error("failed to get release", zap.String("version", version), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get release")
		return
	}
	if f == nil {
		writeError(w, http.StatusNotFound, "unknown firmware version")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// SetPercentRequest is the request body for PATCH /releases/{version}/percent.
type SetPercentRequest struct {
	TargetPercent int `json:"target_percent" example:"25"`
}

// handleSetPercent adjusts the canary gate for a release.
//
//	@Summary		Set rollout percent
//	@Description	Updates the target percentage for a release. Monotonically adjustable in either direction.
//	@Tags			rollout
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			version	path		string				true	"Firmware version"
//	@Param			request	body		SetPercentRequest	true	"New target percent"
//	@Success		200		{object}	models.Firmware
//	@Failure		400		{object}	models.APIProblem
//	@Failure		404		{object}	models.APIProblem
//	@Router			/rollout/releases/{version}/percent [patch]
func (m *Module) handleSetPercent(w http.ResponseWriter, r *http.Request) {
	version := r.PathValue("version")
	var req SetPercentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := m.store.SetTargetPercent(r.Context(), version, req.TargetPercent); err != nil {
		writeCatalogError(w, err)
		return
	}

	m.logger.Info("rollout percent updated",
		zap.String("version", version),
		zap.Int("target_percent", req.TargetPercent),
	)
	m.publish(r, TopicPercentChanged, PercentChangedEvent{Version: version, TargetPercent: req.TargetPercent})

	f, err := m.store.GetRelease(r.Context(), version)
	if err != nil || f == nil {
		writeError(w, http.StatusInternalServerError, "failed to reload release")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// handlePause pauses a release.
//
//	@Summary		Pause release
//	@Description	Stops further offers of this release. Idempotent. Existing pins are unaffected.
//	@Tags			rollout
//	@Produce		json
//	@Security		BearerAuth
//	@Param			version	path	string	true	"Firmware version"
//	@Success		204
//	@Failure		404	{object}	models.APIProblem
//	@Failure		409	{object}	models.APIProblem
//	@Router			/rollout/releases/{version}/pause [post]
func (m *Module) handlePause(w http.ResponseWriter, r *http.Request) {
	version := r.PathValue("version")
	if err := m.store.Pause(r.Context(), version); err != nil {
		writeCatalogError(w, err)
		return
	}
	m.logger.Info("release paused", zap.String("version", version))
	m.publish(r, TopicReleasePaused, version)
	w.WriteHeader(http.StatusNoContent)
}

// handleResume resumes a paused release.
//
//	@Summary	Resume release
//	@Tags		rollout
//	@Produce	json
//	@Security	BearerAuth
//	@Param		version	path	string	true	"Firmware version"
//	@Success	204
//	@Failure	404	{object}	models.APIProblem
//	@Failure	409	{object}	models.APIProblem
//	@Router		/rollout/releases/{version}/resume [post]
func (m *Module) handleResume(w http.ResponseWriter, r *http.Request) {
	version := r.PathValue("version")
	if err := m.store.Resume(r.Context(), version); err != nil {
		writeCatalogError(w, err)
		return
	}
	m.logger.Info("release resumed", zap.String("version", version))
	m.publish(r, TopicReleaseResumed, version)
	w.WriteHeader(http.StatusNoContent)
}

// RollbackRequest is the request body for POST /releases/{version}/rollback.
type RollbackRequest struct {
	ToVersion string `json:"to_version" example:"1.2.0"`
}

// RollbackResponse reports how many devices were retargeted.
type RollbackResponse struct {
	FromVersion     string `json:"from_version"`
	ToVersion       string `json:"to_version"`
	DevicesAffected int64  `json:"devices_affected"`
}

// handleRollback rolls a release back to a prior version.
//
//	@Summary		Roll back release
//	@Description	Pins every device running this release to the given target version and marks the release rolled_back (terminal).
//	@Tags			rollout
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			version	path		string			true	"Version to roll back"
//	@Param			request	body		RollbackRequest	true	"Rollback target"
//	@Success		200		{object}	RollbackResponse
//	@Failure		404		{object}	models.APIProblem
//	@Router			/rollout/releases/{version}/rollback [post]
func (m *Module) handleRollback(w http.ResponseWriter, r *http.Request) {
	fromVersion := r.PathValue("version")
	var req RollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ToVersion == "" {
		writeError(w, http.StatusBadRequest, "to_version is required")
		return
	}

	affected, err := m.store.Rollback(r.Context(), fromVersion, req.ToVersion)
	if err != nil {
		writeCatalogError(w, err)
		return
	}

	m.logger.Warn("release rolled back",
		zap.String("from_version", fromVersion),
		zap.String("to_version", req.ToVersion),
		zap.Int64("devices_affected", affected),
	)
	m.publish(r, TopicReleaseRolledBack, RolledBackEvent{
		FromVersion:     fromVersion,
		ToVersion:       req.ToVersion,
		DevicesAffected: affected,
	})
	writeJSON(w, http.StatusOK, RollbackResponse{
		FromVersion:     fromVersion,
		ToVersion:       req.ToVersion,
		DevicesAffected: affected,
	})
}

// handleNext returns the next firmware a device should install.
//
//	@Summary		Next firmware for device
//	@Description	Evaluates the rollout decision for a device. 204 means no update.
//	@Tags			rollout
//	@Produce		json
//	@Security		BearerAuth
//	@Param			device_id	query		string	true	"Device ID"
//	@Success		200			{object}	models.FirmwareDescriptor
//	@Success		204			"No update available"
//	@Failure		404			{object}	models.APIProblem
//	@Router			/rollout/next [get]
func (m *Module) handleNext(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	desc, err := m.engine.DecideForDevice(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown device")
			return
		}
		m.logger.Error("decision failed", zap.String("device_id", deviceID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "decision failed")
		return
	}
	if desc == nil {
		decisionsTotal.WithLabelValues("none").Inc()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	decisionsTotal.WithLabelValues("update").Inc()
	writeJSON(w, http.StatusOK, desc)
}

func (m *Module) publish(r *http.Request, topic string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.PublishAsync(r.Context(), plugin.Event{
		Topic:     topic,
		Source:    "rollout",
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}
