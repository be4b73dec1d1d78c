package shadow

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/fleetwarden/internal/auth"
	"github.com/HerbHall/fleetwarden/pkg/models"
	"github.com/HerbHall/fleetwarden/pkg/plugin"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

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

func writeShadowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEmptyPatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "shadow operation failed")
	}
}

// handleGetShadow returns the full shadow for a device.
//
//	@Summary		Get device shadow
//	@Description	Returns the desired and reported documents. Devices without a shadow yet get empty documents.
//	@Tags			shadow
//	@Produce		json
//	@Param			id	path		string	true	"Device ID"
//	@Success		200	{object}	models.Shadow
//	@Failure		500	{object}	models.APIProblem
//	@Router			/shadow/devices/{id} [get]
func (m *Module) handleGetShadow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sh, err := m.store.Get(r.Context(), id)
	if err != nil {
		m.logger.Error("get shadow", zap.Error(err), zap.String("device_id", id))
		writeShadowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

// handlePatchDesired merge-patches the desired document (operator side).
//
//	@Summary		Patch desired state
//	@Description	Shallow merge-patch: keys in the body are added or overwritten, others preserved. No deletion.
//	@Tags			shadow
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Device ID"
//	@Param			request	body		models.Document	true	"Merge patch"
//	@Success		200		{object}	models.Shadow
//	@Failure		400		{object}	models.APIProblem
//	@Router			/shadow/devices/{id}/desired [patch]
func (m *Module) handlePatchDesired(w http.ResponseWriter, r *http.Request) {
	m.applyPatch(w, r, SideDesired)
}

// handlePatchReported merge-patches the reported document (device side).
//
//	@Summary		Patch reported state
//	@Description	Device self-report merge-patch. Requires the device's own credential.
//	@Tags			shadow
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id		path		string			true	"Device ID"
//	@Param			request	body		models.Document	true	"Merge patch"
//	@Success		200		{object}	models.Shadow
//	@Failure		400		{object}	models.APIProblem
//	@Failure		403		{object}	models.APIProblem
//	@Router			/shadow/devices/{id}/reported [patch]
func (m *Module) handlePatchReported(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := auth.Authorize(r.Context(), id); err != nil {
		writeShadowError(w, err)
		return
	}
	m.applyPatch(w, r, SideReported)
}

func (m *Module) applyPatch(w http.ResponseWriter, r *http.Request, side Side) {
	id := r.PathValue("id")

	var patch models.Document
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sh, err := m.store.Patch(r.Context(), id, side, patch)
	if err != nil {
		if !errors.Is(err, ErrEmptyPatch) {
			m.logger.Error("patch shadow", zap.Error(err),
				zap.String("device_id", id), zap.String("side", string(side)))
		}
		writeShadowError(w, err)
		return
	}
	patchesTotal.WithLabelValues(string(side)).Inc()

	if m.bus != nil {
		m.bus.PublishAsync(r.Context(), plugin.Event{
			Topic:     TopicShadowUpdated,
			Source:    "shadow",
			Timestamp: time.Now().UTC(),
			Payload: ShadowEvent{
				DeviceID: id,
				Side:     string(side),
				InSync:   sh.InSync(),
			},
		})
	}
	writeJSON(w, http.StatusOK, sh)
}

// handleDiff returns the derived per-key diff between desired and
// reported.
//
//	@Summary		Shadow diff
//	@Description	Per-key comparison over the union of desired and reported keys.
//	@Tags			shadow
//	@Produce		json
//	@Param			id	path		string	true	"Device ID"
//	@Success		200	{array}		models.DiffEntry
//	@Failure		500	{object}	models.APIProblem
//	@Router			/shadow/devices/{id}/diff [get]
func (m *Module) handleDiff(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sh, err := m.store.Get(r.Context(), id)
	if err != nil {
		m.logger.Error("shadow diff", zap.Error(err), zap.String("device_id", id))
		writeShadowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sh.Diff())
}
