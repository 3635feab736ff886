package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kinbanker/tojvs-new/internal/domain"
	"github.com/kinbanker/tojvs-new/internal/relay"
)

// RegisterWebhookRoutes mounts the processor callback endpoint. It is
// deliberately outside the user-auth group: the caller is the workflow
// processor, which authenticates nothing about itself beyond network
// placement. Recipient identity comes from the envelope alone.
func (h *Handler) RegisterWebhookRoutes(r chi.Router) {
	r.Post("/webhook/processor-result", h.processorResult)
}

// processorResult receives one asynchronous command result and routes
// it to the originating user. A result delivered to zero channels is
// still a success; only an unidentifiable recipient or a malformed
// envelope is a client error.
func (h *Handler) processorResult(w http.ResponseWriter, r *http.Request) {
	var env domain.ResultEnvelope
	if err := decode(r, &env); err != nil {
		Error(w, http.StatusBadRequest, "invalid result payload")
		return
	}

	outcome, err := h.router.Route(r.Context(), &env)
	if err != nil {
		switch {
		case errors.Is(err, relay.ErrUnidentifiedRecipient):
			Error(w, http.StatusBadRequest, "could not identify target user")
		case errors.Is(err, relay.ErrBadEnvelope):
			Error(w, http.StatusBadRequest, err.Error())
		default:
			slog.Error("Result routing failed", "error", err, "command_id", env.CommandID)
			Error(w, http.StatusInternalServerError, "result routing failed")
		}
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"userId":         outcome.UserID,
		"delivered":      outcome.Delivered,
		"activeChannels": outcome.ActiveChannels,
	})
}

// RegisterStatusRoutes mounts the operational introspection endpoints.
func (h *Handler) RegisterStatusRoutes(r chi.Router) {
	r.Get("/api/channel-status/{userID}", h.channelStatus)
	r.Get("/health", h.health)
}

func (h *Handler) channelStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid user id")
		return
	}

	channels := h.reg.Channels(userID)
	pending := h.pending.ForUser(userID)
	commandIDs := make([]string, 0, len(pending))
	for _, p := range pending {
		commandIDs = append(commandIDs, p.CommandID)
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"userId":          userID,
		"connected":       len(channels) > 0,
		"channelCount":    len(channels),
		"channels":        channels,
		"pendingCommands": commandIDs,
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := h.repo.Ping(r.Context()); err != nil {
		slog.Error("Health check database ping failed", "error", err)
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	channels, users := h.reg.Stats()
	JSON(w, code, map[string]interface{}{
		"status":          status,
		"environment":     h.cfg.Environment,
		"activeChannels":  channels,
		"connectedUsers":  users,
		"pendingCommands": h.pending.Len(),
	})
}
