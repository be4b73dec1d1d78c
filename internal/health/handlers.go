package health

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/HerbHall/fleetwarden/pkg/models"
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

// handleReport returns the fleet health snapshot. Serves the cached
// periodic report; recomputes on demand when none exists yet or
// ?refresh=true is passed.
//
//	@Summary		Fleet health report
//	@Description	Per-version failure rates and active alerts from the latest aggregation pass.
//	@Tags			health
//	@Produce		json
//	@Param			refresh	query		bool	false	"Force a fresh pass"
//	@Success		200		{object}	Report
//	@Failure		500		{object}	models.APIProblem
//	@Router			/health/report [get]
func (m *Module) handleReport(w http.ResponseWriter, r *http.Request) {
	report := m.aggregator.Latest()
	if report == nil || r.URL.Query().Get("refresh") == "true" {
		fresh, err := m.aggregator.Run(r.Context())
		if err != nil {
			m.logger.Error("on-demand aggregation", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "aggregation failed")
			return
		}
		report = fresh
	}
	writeJSON(w, http.StatusOK, report)
}

// handleListAlerts returns alerts, active only unless ?all=true.
//
//	@Summary		List alerts
//	@Tags			health
//	@Produce		json
//	@Param			all	query		bool	false	"Include cleared alerts"
//	@Success		200	{array}		models.Alert
//	@Failure		500	{object}	models.APIProblem
//	@Router			/health/alerts [get]
func (m *Module) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"
	alerts, err := m.store.ListAlerts(r.Context(), activeOnly)
	if err != nil {
		m.logger.Error("list alerts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list alerts failed")
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}
