package ws

import (
	"context"
	"net/http"

	"github.com/HerbHall/fleetwarden/internal/auth"
	"github.com/HerbHall/fleetwarden/internal/fleet"
	"github.com/HerbHall/fleetwarden/internal/health"
	"github.com/HerbHall/fleetwarden/internal/rollout"
	"github.com/HerbHall/fleetwarden/internal/shadow"
	"github.com/HerbHall/fleetwarden/pkg/models"
	"github.com/HerbHall/fleetwarden/pkg/plugin"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Handler provides WebSocket endpoints for real-time fleet event streaming.
type Handler struct {
	hub    *Hub
	tokens *auth.TokenService
	bus    plugin.EventBus
	logger *zap.Logger
}

// Compile-time check that Handler implements the server interface.
var _ interface {
	RegisterRoutes(mux *http.ServeMux)
} = (*Handler)(nil)

// NewHandler creates a WebSocket handler and subscribes to fleet events.
func NewHandler(tokens *auth.TokenService, bus plugin.EventBus, logger *zap.Logger) *Handler {
	h := &Handler{
		hub:    NewHub(logger),
		tokens: tokens,
		bus:    bus,
		logger: logger,
	}
	h.subscribeToEvents()
	return h
}

// RegisterRoutes registers WebSocket routes on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/events", h.handleEventStream)
}

// handleEventStream upgrades the connection to WebSocket and streams fleet events.
func (h *Handler) handleEventStream(w http.ResponseWriter, r *http.Request) {
	// Validate JWT from query parameter (browser WS API doesn't support headers).
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token parameter", http.StatusUnauthorized)
		return
	}

	claims, err := h.tokens.ValidateDeviceToken(token)
	if err != nil {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	// Accept WebSocket upgrade.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Allow any origin since we validate via JWT token.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:     conn,
		deviceID: claims.DeviceID,
		send:     make(chan Message, 256),
		logger:   h.logger,
	}

	h.hub.Register(client)

	// Run read and write pumps. When either exits, clean up.
	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	// readPump blocks until client disconnects.
	client.readPump(ctx)

	// Client disconnected -- stop write pump and unregister.
	h.hub.Unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

// subscribeToEvents subscribes to fleet, rollout, shadow, and health events and
// forwards them to all connected WebSocket clients.
func (h *Handler) subscribeToEvents() {
	if h.bus == nil {
		return
	}

	h.bus.Subscribe(fleet.TopicDeviceRegistered, func(_ context.Context, event plugin.Event) {
		dev, ok := event.Payload.(fleet.DeviceEvent)
		if !ok {
			return
		}
		h.hub.Broadcast(Message{
			Type:      MessageDeviceRegistered,
			Timestamp: event.Timestamp,
			Data: DeviceStatusData{
				DeviceID: dev.DeviceID,
				Status:   dev.Status,
			},
		})
	})

	h.bus.Subscribe(fleet.TopicDeviceOffline, func(_ context.Context, event plugin.Event) {
		dev, ok := event.Payload.(fleet.DeviceEvent)
		if !ok {
			return
		}
		h.hub.Broadcast(Message{
			Type:      MessageDeviceOffline,
			Timestamp: event.Timestamp,
			Data: DeviceStatusData{
				DeviceID: dev.DeviceID,
				Status:   dev.Status,
			},
		})
	})

	h.bus.Subscribe(rollout.TopicReleasePublished, func(_ context.Context, event plugin.Event) {
		f, ok := event.Payload.(*models.Firmware)
		if !ok {
			return
		}
		h.hub.Broadcast(Message{
			Type:      MessageReleasePublished,
			Timestamp: event.Timestamp,
			Data: ReleasePublishedData{
				Version:       f.Version,
				RolloutGroup:  f.RolloutGroup,
				TargetPercent: f.TargetPercent,
			},
		})
	})

	h.bus.Subscribe(rollout.TopicReleasePaused, func(_ context.Context, event plugin.Event) {
		version, ok := event.Payload.(string)
		if !ok {
			return
		}
		h.hub.Broadcast(Message{
			Type:      MessageReleasePaused,
			Timestamp: event.Timestamp,
			Data:      ReleaseStateData{Version: version},
		})
	})

	h.bus.Subscribe(rollout.TopicReleaseResumed, func(_ context.Context, event plugin.Event) {
		version, ok := event.Payload.(string)
		if !ok {
			return
		}
		h.hub.Broadcast(Message{
			Type:      MessageReleaseResumed,
			Timestamp: event.Timestamp,
			Data:      ReleaseStateData{Version: version},
		})
	})

	h.bus.Subscribe(rollout.TopicReleaseRolledBack, func(_ context.Context, event plugin.Event) {
		rb, ok := event.Payload.(rollout.RolledBackEvent)
		if !ok {
			return
		}
		h.hub.Broadcast(Message{
			Type:      MessageRolloutRollback,
			Timestamp: event.Timestamp,
			Data: RollbackData{
				FromVersion:     rb.FromVersion,
				ToVersion:       rb.ToVersion,
				DevicesAffected: rb.DevicesAffected,
			},
		})
	})

	h.bus.Subscribe(rollout.TopicPercentChanged, func(_ context.Context, event plugin.Event) {
		pc, ok := event.Payload.(rollout.PercentChangedEvent)
		if !ok {
			return
		}
		h.hub.Broadcast(Message{
			Type:      MessagePercentChanged,
			Timestamp: event.Timestamp,
			Data: PercentChangedData{
				Version:       pc.Version,
				TargetPercent: pc.TargetPercent,
			},
		})
	})

	h.bus.Subscribe(shadow.TopicShadowUpdated, func(_ context.Context, event plugin.Event) {
		sh, ok := event.Payload.(shadow.ShadowEvent)
		if !ok {
			return
		}
		h.hub.Broadcast(Message{
			Type:      MessageShadowUpdated,
			Timestamp: event.Timestamp,
			Data: ShadowUpdatedData{
				DeviceID: sh.DeviceID,
				Side:     sh.Side,
				InSync:   sh.InSync,
			},
		})
	})

	h.bus.Subscribe(health.TopicAlertRaised, func(_ context.Context, event plugin.Event) {
		alert, ok := event.Payload.(health.AlertEvent)
		if !ok {
			return
		}
		h.hub.Broadcast(Message{
			Type:      MessageAlertRaised,
			Timestamp: event.Timestamp,
			Data: AlertData{
				Type:            alert.Type,
				Severity:        alert.Severity,
				Message:         alert.Message,
				DeviceID:        alert.DeviceID,
				FirmwareVersion: alert.FirmwareVersion,
			},
		})
	})

	h.bus.Subscribe(health.TopicAlertCleared, func(_ context.Context, event plugin.Event) {
		alert, ok := event.Payload.(health.AlertEvent)
		if !ok {
			return
		}
		h.hub.Broadcast(Message{
			Type:      MessageAlertCleared,
			Timestamp: event.Timestamp,
			Data: AlertData{
				Type:            alert.Type,
				DeviceID:        alert.DeviceID,
				FirmwareVersion: alert.FirmwareVersion,
			},
		})
	})

	h.logger.Info("subscribed to fleet events for WebSocket broadcasting")
}
