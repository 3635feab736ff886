package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/kinbanker/tojvs-new/internal/auth"
	"github.com/kinbanker/tojvs-new/internal/domain"
	"github.com/kinbanker/tojvs-new/internal/processor"
	"github.com/kinbanker/tojvs-new/internal/registry"
	"github.com/kinbanker/tojvs-new/internal/relay"
	"github.com/kinbanker/tojvs-new/internal/store"
)

// Handler upgrades authenticated requests to push channels and
// dispatches inbound client messages.
type Handler struct {
	repo           store.Repository
	reg            *registry.Registry
	pending        *registry.PendingTable
	proc           *processor.Client
	router         *relay.Router
	limiter        *rateLimiter
	allowedOrigins []string
	isDev          bool
}

// NewHandler creates a channel handler.
func NewHandler(repo store.Repository, reg *registry.Registry, pending *registry.PendingTable, proc *processor.Client, router *relay.Router, rateLimit int, allowedOrigins []string, isDev bool) *Handler {
	return &Handler{
		repo:           repo,
		reg:            reg,
		pending:        pending,
		proc:           proc,
		router:         router,
		limiter:        newRateLimiter(rateLimit),
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
	}
}

// clientMessage is the inbound frame shape.
type clientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type voiceCommandData struct {
	Text      string `json:"text"`
	CommandID string `json:"commandId,omitempty"`
}

type moveCardData struct {
	CardID     int64  `json:"cardId"`
	FromColumn string `json:"fromColumn"`
	ToColumn   string `json:"toColumn"`
}

// ServeHTTP implements http.Handler for the websocket upgrade. The
// auth middleware has already verified the credential.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", id.UserID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "channel closed"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", id.UserID)
		}
	}()

	channelID := uuid.NewString()
	sender := newSender(ws)
	h.reg.Register(id.UserID, id.Username, channelID, sender)
	defer h.reg.Unregister(channelID)

	slog.Info("Channel opened", "user_id", id.UserID, "channel_id", channelID, "ip", r.RemoteAddr)

	if err := sender.Send("connected", map[string]interface{}{
		"userId":    id.UserID,
		"channelId": channelID,
	}); err != nil {
		slog.Debug("Failed to send connected ack", "error", err)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.readLoop(ctx, ws, sender, id, channelID)
	slog.Info("Channel closed", "user_id", id.UserID, "channel_id", channelID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	slog.Warn("Channel origin rejected", "origin", origin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, sender *wsSender, id *auth.Identity, channelID string) {
	for {
		_, raw, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("Channel closed by client", "user_id", id.UserID)
			} else if ctx.Err() == nil {
				slog.Warn("Channel read error", "error", err, "user_id", id.UserID)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.sendError(sender, "invalid message")
			continue
		}

		switch msg.Event {
		case "voice-command":
			h.handleVoiceCommand(ctx, sender, id, channelID, msg.Data)
		case "move-card":
			h.handleMoveCard(ctx, sender, id, msg.Data)
		case "ping":
			if err := sender.Send("pong", nil); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		default:
			h.sendError(sender, "unknown event")
		}
	}
}

// handleVoiceCommand accepts a command, records it for correlation and
// hands it to the external processor. The result arrives later through
// the webhook; this path only acknowledges acceptance.
func (h *Handler) handleVoiceCommand(ctx context.Context, sender *wsSender, id *auth.Identity, channelID string, raw json.RawMessage) {
	var data voiceCommandData
	if err := json.Unmarshal(raw, &data); err != nil || data.Text == "" || len(data.Text) > domain.MaxCommandLength {
		h.sendError(sender, "invalid command")
		return
	}

	if !h.limiter.allow(id.UserID) {
		h.sendErrorCode(sender, "too many commands, try again shortly", "RATE_LIMIT")
		return
	}

	now := time.Now()
	// Clients generate their own command ids so they can correlate the
	// eventual result; one is minted here only when the frame has none.
	commandID := data.CommandID
	if commandID == "" || len(commandID) > 64 {
		commandID = domain.NewCommandID(id.UserID, now)
	}
	slog.Info("Voice command accepted", "user_id", id.UserID, "command_id", commandID)

	if err := h.repo.RecordVoiceCommand(ctx, &domain.VoiceCommand{
		CommandID: commandID,
		UserID:    id.UserID,
		Text:      data.Text,
	}); err != nil {
		slog.Error("Failed to record voice command", "error", err, "command_id", commandID)
		h.sendError(sender, "command processing failed")
		return
	}

	h.pending.Record(commandID, id.UserID, id.Username)

	if !h.proc.Configured() {
		h.emitLocalResult(sender, commandID, domain.ResultError, domain.ErrorPayload{
			Message:      "voice processing service is not configured",
			OriginalText: data.Text,
		})
		return
	}

	err := h.proc.Submit(ctx, processor.Command{
		Text:      data.Text,
		CommandID: commandID,
		UserID:    id.UserID,
		Username:  id.Username,
		ChannelID: channelID,
		IssuedAt:  now,
	})
	if err == nil {
		h.reg.EmitToUser(id.UserID, "processing", map[string]string{
			"status":    "analyzing",
			"message":   "processing your command...",
			"commandId": commandID,
		})
		return
	}

	slog.Warn("Processor submit failed, trying local fallback", "error", err, "command_id", commandID)
	h.fallback(ctx, sender, commandID, data.Text)
}

// fallback runs the degraded-mode local parse and pushes the result
// through the regular router so the duplicate guard and persistence
// still apply.
func (h *Handler) fallback(ctx context.Context, sender *wsSender, commandID, text string) {
	payload, ok := processor.FallbackParse(text)
	if !ok {
		h.sendError(sender, "processor unavailable, try again shortly")
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		h.sendError(sender, "command processing failed")
		return
	}

	if _, err := h.router.Route(ctx, &domain.ResultEnvelope{
		CommandID: commandID,
		Type:      domain.ResultKanban,
		Data:      data,
	}); err != nil {
		slog.Error("Fallback routing failed", "error", err, "command_id", commandID)
		h.sendError(sender, "command processing failed")
	}
}

func (h *Handler) emitLocalResult(sender *wsSender, commandID string, typ domain.ResultType, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := sender.Send(relay.ResultEvent, domain.DeliveredResult{
		Type:      typ,
		Data:      data,
		Timestamp: time.Now(),
		CommandID: commandID,
	}); err != nil {
		slog.Debug("Failed to send local result", "error", err)
	}
}

// handleMoveCard persists a user-driven stage change and broadcasts it
// to the user's other channels. Drag moves are unrestricted; only the
// reconciler is bound to the forward progression.
func (h *Handler) handleMoveCard(ctx context.Context, sender *wsSender, id *auth.Identity, raw json.RawMessage) {
	var data moveCardData
	if err := json.Unmarshal(raw, &data); err != nil || data.CardID == 0 {
		h.sendError(sender, "invalid move")
		return
	}

	toStage, err := domain.ParseStage(data.ToColumn)
	if err != nil {
		h.sendError(sender, "invalid target stage")
		return
	}

	if err := h.repo.UpdateCardStage(ctx, id.UserID, data.CardID, toStage); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.sendError(sender, "card not found")
		} else {
			slog.Error("Failed to move card", "error", err, "card_id", data.CardID)
			h.sendError(sender, "card move failed")
		}
		return
	}

	h.reg.EmitToUser(id.UserID, "kanban-update", map[string]interface{}{
		"type":       domain.ActionMoveCard,
		"cardId":     data.CardID,
		"fromColumn": data.FromColumn,
		"toColumn":   string(toStage),
		"userId":     id.UserID,
	})
}

func (h *Handler) sendError(sender *wsSender, message string) {
	if err := sender.Send("error", map[string]string{"message": message}); err != nil {
		slog.Debug("Failed to send error frame", "error", err)
	}
}

func (h *Handler) sendErrorCode(sender *wsSender, message, code string) {
	if err := sender.Send("error", map[string]string{"message": message, "code": code}); err != nil {
		slog.Debug("Failed to send error frame", "error", err)
	}
}
