package fleet

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/fleetwarden/internal/auth"
	"github.com/HerbHall/fleetwarden/pkg/models"
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

// writeFleetError maps registry errors to problem responses.
func writeFleetError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrEmptyBatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "fleet operation failed")
	}
}

// HeartbeatRequest is the device check-in payload.
type HeartbeatRequest struct {
	FirmwareVersion       string  `json:"firmware_version"`
	Region                string  `json:"region,omitempty"`
	HardwareRev           string  `json:"hardware_rev,omitempty"`
	Battery               float64 `json:"battery,omitempty"`
	SampleIntervalSecs    int     `json:"sample_interval_secs,omitempty"`
	UploadIntervalSecs    int     `json:"upload_interval_secs,omitempty"`
	HeartbeatIntervalSecs int     `json:"heartbeat_interval_secs,omitempty"`
}

// HeartbeatResponse tells the device what the server wants from it:
// the firmware target chosen by the rollout engine (pin, rollback, or
// staged release) and the operating intervals (fleet settings overlaid
// with the device's desired shadow).
type HeartbeatResponse struct {
	DeviceID              string                     `json:"device_id"`
	LifecycleState        string                     `json:"lifecycle_state"`
	DesiredVersion        string                     `json:"desired_version,omitempty"`
	Firmware              *models.FirmwareDescriptor `json:"firmware,omitempty"`
	SampleIntervalSecs    int                        `json:"sample_interval_secs"`
	UploadIntervalSecs    int                        `json:"upload_interval_secs"`
	HeartbeatIntervalSecs int                        `json:"heartbeat_interval_secs"`
}

// handleHeartbeat processes a device check-in, registering the device on
// first contact.
//
//	@Summary		Device heartbeat
//	@Description	Records a device check-in. Unknown enrolled devices are registered on first heartbeat.
//	@Tags			fleet
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		HeartbeatRequest	true	"Heartbeat payload"
//	@Success		200		{object}	HeartbeatResponse
//	@Failure		401		{object}	models.APIProblem
//	@Failure		403		{object}	models.APIProblem
//	@Router			/fleet/heartbeat [post]
func (m *Module) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	ident := auth.IdentityFromContext(r.Context())
	if ident == nil {
		writeError(w, http.StatusUnauthorized, "device credential required")
		return
	}

	var req HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if ident.Device != nil && !ident.Device.DataPlaneEligible() {
		writeError(w, http.StatusForbidden, "device is "+string(ident.Device.LifecycleState))
		return
	}

	dev, created, err := m.store.CheckIn(r.Context(), Heartbeat{
		DeviceID:              ident.DeviceID,
		FirmwareVersion:       req.FirmwareVersion,
		Region:                req.Region,
		HardwareRev:           req.HardwareRev,
		SampleIntervalSecs:    req.SampleIntervalSecs,
		UploadIntervalSecs:    req.UploadIntervalSecs,
		HeartbeatIntervalSecs: req.HeartbeatIntervalSecs,
	}, m.requireApproval)
	if err != nil {
		m.logger.Error("device check-in", zap.Error(err), zap.String("device_id", ident.DeviceID))
		writeFleetError(w, err)
		return
	}
	heartbeatsTotal.Inc()

	// A reported battery level is a telemetry sample in its own right:
	// it feeds the health aggregator's battery trend window between
	// full measurement uploads.
	if req.Battery > 0 {
		sample := models.Measurement{
			Battery:         req.Battery,
			FirmwareVersion: req.FirmwareVersion,
		}
		if err := m.store.InsertMeasurements(r.Context(), dev.ID, []models.Measurement{sample}); err != nil {
			m.logger.Warn("record heartbeat battery", zap.Error(err), zap.String("device_id", dev.ID))
		}
	}

	if created {
		m.logger.Info("device registered",
			zap.String("device_id", dev.ID),
			zap.Int("rollout_bucket", dev.RolloutBucket),
			zap.String("lifecycle_state", string(dev.LifecycleState)))
		m.publish(r.Context(), TopicDeviceRegistered, DeviceEvent{
			DeviceID: dev.ID,
			Status:   string(dev.Status),
		})
	}

	writeJSON(w, http.StatusOK, m.buildHeartbeatResponse(r, dev))
}

// buildHeartbeatResponse assembles the desired operating parameters:
// fleet settings provide the defaults, the device's desired shadow
// overrides them per device.
func (m *Module) buildHeartbeatResponse(r *http.Request, dev *models.Device) HeartbeatResponse {
	resp := HeartbeatResponse{
		DeviceID:       dev.ID,
		LifecycleState: string(dev.LifecycleState),
		DesiredVersion: dev.DesiredVersion,
	}

	if m.decider != nil {
		desc, err := m.decider.DecideForDevice(r.Context(), dev.ID)
		switch {
		case err != nil:
			// The stored desired_version still carries pins and
			// rollback targets; serve that rather than failing the
			// check-in.
			m.logger.Warn("update decision", zap.Error(err), zap.String("device_id", dev.ID))
		case desc != nil:
			resp.DesiredVersion = desc.Version
			resp.Firmware = desc
		}
	}

	settings, err := m.store.GetSettings(r.Context())
	if err != nil {
		m.logger.Warn("load fleet settings", zap.Error(err))
		settings = &models.FleetSettings{
			SampleIntervalSecs:    60,
			UploadIntervalSecs:    300,
			HeartbeatIntervalSecs: 60,
		}
	}
	resp.SampleIntervalSecs = settings.SampleIntervalSecs
	resp.UploadIntervalSecs = settings.UploadIntervalSecs
	resp.HeartbeatIntervalSecs = settings.HeartbeatIntervalSecs

	if m.shadow == nil {
		return resp
	}
	desired, err := m.shadow.Desired(r.Context(), dev.ID)
	if err != nil {
		m.logger.Warn("load desired shadow", zap.Error(err), zap.String("device_id", dev.ID))
		return resp
	}
	if v, ok := intervalFromShadow(desired, "sample_interval_secs"); ok {
		resp.SampleIntervalSecs = v
	}
	if v, ok := intervalFromShadow(desired, "upload_interval_secs"); ok {
		resp.UploadIntervalSecs = v
	}
	if v, ok := intervalFromShadow(desired, "heartbeat_interval_secs"); ok {
		resp.HeartbeatIntervalSecs = v
	}
	return resp
}

// intervalFromShadow reads a positive integer interval from a shadow
// document. JSON numbers decode as float64.
func intervalFromShadow(doc models.Document, key string) (int, bool) {
	v, ok := doc[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		if n > 0 {
			return int(n), true
		}
	case int:
		if n > 0 {
			return n, true
		}
	}
	return 0, false
}

// handleListDevices returns all registered devices.
//
//	@Summary		List devices
//	@Tags			fleet
//	@Produce		json
//	@Success		200	{array}		models.Device
//	@Failure		500	{object}	models.APIProblem
//	@Router			/fleet/devices [get]
func (m *Module) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := m.store.ListDevices(r.Context())
	if err != nil {
		m.logger.Error("list devices", zap.Error(err))
		writeFleetError(w, err)
		return
	}
	if devices == nil {
		devices = []models.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

// handleGetDevice returns a single device.
//
//	@Summary		Get device
//	@Tags			fleet
//	@Produce		json
//	@Param			id	path		string	true	"Device ID"
//	@Success		200	{object}	models.Device
//	@Failure		404	{object}	models.APIProblem
//	@Router			/fleet/devices/{id} [get]
func (m *Module) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	dev, err := m.store.GetDevice(r.Context(), id)
	if err != nil {
		m.logger.Error("get device", zap.Error(err), zap.String("device_id", id))
		writeFleetError(w, err)
		return
	}
	if dev == nil {
		writeError(w, http.StatusNotFound, "device not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// UpdateDeviceRequest carries operator-editable device fields. Omitted
// fields are left unchanged; desired_version set to "" clears a pin.
type UpdateDeviceRequest struct {
	Environment    *string `json:"environment,omitempty"`
	Region         *string `json:"region,omitempty"`
	HardwareRev    *string `json:"hardware_rev,omitempty"`
	DesiredVersion *string `json:"desired_version,omitempty"`
}

// handleUpdateDevice applies operator changes to a device.
//
//	@Summary		Update device
//	@Description	Edit operator-controlled device fields, including pinning a firmware version.
//	@Tags			fleet
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Device ID"
//	@Param			request	body		UpdateDeviceRequest	true	"Fields to update"
//	@Success		200		{object}	models.Device
//	@Failure		400		{object}	models.APIProblem
//	@Failure		404		{object}	models.APIProblem
//	@Router			/fleet/devices/{id} [patch]
func (m *Module) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req UpdateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Environment != nil &&
		*req.Environment != models.EnvironmentBlue && *req.Environment != models.EnvironmentGreen {
		writeError(w, http.StatusBadRequest, "environment must be blue or green")
		return
	}

	dev, err := m.store.UpdateDevice(r.Context(), id, DeviceUpdate{
		Environment:    req.Environment,
		Region:         req.Region,
		HardwareRev:    req.HardwareRev,
		DesiredVersion: req.DesiredVersion,
	})
	if err != nil {
		writeFleetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// SetLifecycleRequest transitions a device's lifecycle state.
type SetLifecycleRequest struct {
	State string `json:"state" example:"active"`
}

// handleSetLifecycle transitions a device through its lifecycle.
//
//	@Summary		Set device lifecycle
//	@Description	Approve, suspend, reactivate, or decommission a device. Decommissioned is terminal.
//	@Tags			fleet
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Device ID"
//	@Param			request	body		SetLifecycleRequest	true	"Target state"
//	@Success		204
//	@Failure		400		{object}	models.APIProblem
//	@Failure		404		{object}	models.APIProblem
//	@Failure		409		{object}	models.APIProblem
//	@Router			/fleet/devices/{id}/lifecycle [post]
func (m *Module) handleSetLifecycle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req SetLifecycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	to := models.LifecycleState(req.State)
	switch to {
	case models.LifecycleNew, models.LifecycleActive, models.LifecycleSuspended, models.LifecycleDecommissioned:
	default:
		writeError(w, http.StatusBadRequest, "unknown lifecycle state: "+req.State)
		return
	}

	if err := m.store.SetLifecycle(r.Context(), id, to); err != nil {
		writeFleetError(w, err)
		return
	}
	m.logger.Info("device lifecycle changed",
		zap.String("device_id", id), zap.String("state", req.State))
	w.WriteHeader(http.StatusNoContent)
}

// IngestRequest is a batch of telemetry samples.
type IngestRequest struct {
	Measurements []models.Measurement `json:"measurements"`
}

// handleIngestMeasurements appends a telemetry batch for a device. The
// batch is all-or-nothing.
//
//	@Summary		Ingest measurements
//	@Description	Append a batch of telemetry samples. The whole batch commits atomically.
//	@Tags			fleet
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id		path		string			true	"Device ID"
//	@Param			request	body		IngestRequest	true	"Measurement batch"
//	@Success		202
//	@Failure		400		{object}	models.APIProblem
//	@Failure		403		{object}	models.APIProblem
//	@Router			/fleet/devices/{id}/measurements [post]
func (m *Module) handleIngestMeasurements(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := auth.Authorize(r.Context(), id); err != nil {
		writeFleetError(w, err)
		return
	}

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := m.store.InsertMeasurements(r.Context(), id, req.Measurements); err != nil {
		writeFleetError(w, err)
		return
	}
	measurementsTotal.Add(float64(len(req.Measurements)))
	w.WriteHeader(http.StatusAccepted)
}

// ErrorReportRequest is a single device error report.
type ErrorReportRequest struct {
	FirmwareVersion string    `json:"firmware_version"`
	Code            string    `json:"code,omitempty"`
	Message         string    `json:"message"`
	Timestamp       time.Time `json:"timestamp,omitempty"`
}

// handleIngestError records a device error report.
//
//	@Summary		Report device error
//	@Description	Record an error report, scoped to the firmware the device was running.
//	@Tags			fleet
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id		path		string				true	"Device ID"
//	@Param			request	body		ErrorReportRequest	true	"Error report"
//	@Success		202
//	@Failure		400		{object}	models.APIProblem
//	@Failure		403		{object}	models.APIProblem
//	@Router			/fleet/devices/{id}/errors [post]
func (m *Module) handleIngestError(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := auth.Authorize(r.Context(), id); err != nil {
		writeFleetError(w, err)
		return
	}

	var req ErrorReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	err := m.store.InsertError(r.Context(), &models.DeviceError{
		DeviceID:        id,
		FirmwareVersion: req.FirmwareVersion,
		Code:            req.Code,
		Message:         req.Message,
		Timestamp:       req.Timestamp,
	})
	if err != nil {
		m.logger.Error("ingest device error", zap.Error(err), zap.String("device_id", id))
		writeFleetError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleGetSettings returns the fleet-wide settings.
//
//	@Summary		Get fleet settings
//	@Tags			fleet
//	@Produce		json
//	@Success		200	{object}	models.FleetSettings
//	@Failure		500	{object}	models.APIProblem
//	@Router			/fleet/settings [get]
func (m *Module) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := m.store.GetSettings(r.Context())
	if err != nil {
		m.logger.Error("get fleet settings", zap.Error(err))
		writeFleetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// handleUpdateSettings replaces the fleet-wide settings.
//
//	@Summary		Update fleet settings
//	@Tags			fleet
//	@Accept			json
//	@Produce		json
//	@Param			request	body		models.FleetSettings	true	"New settings"
//	@Success		200		{object}	models.FleetSettings
//	@Failure		400		{object}	models.APIProblem
//	@Router			/fleet/settings [put]
func (m *Module) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req models.FleetSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SampleIntervalSecs <= 0 || req.UploadIntervalSecs <= 0 || req.HeartbeatIntervalSecs <= 0 {
		writeError(w, http.StatusBadRequest, "intervals must be positive")
		return
	}

	if err := m.store.UpdateSettings(r.Context(), &req); err != nil {
		m.logger.Error("update fleet settings", zap.Error(err))
		writeFleetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &req)
}
