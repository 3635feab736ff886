package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kinbanker/tojvs-new/internal/auth"
	"github.com/kinbanker/tojvs-new/internal/domain"
	"github.com/kinbanker/tojvs-new/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// RegisterKanbanRoutes mounts the card CRUD endpoints. The auth
// middleware runs before these.
func (h *Handler) RegisterKanbanRoutes(r chi.Router) {
	r.Get("/api/kanban", h.listCards)
	r.Post("/api/kanban", h.createCard)
	r.Put("/api/kanban/{cardID}", h.moveCard)
	r.Delete("/api/kanban/{cardID}", h.deleteCard)
}

func (h *Handler) listCards(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	cards, total, err := h.repo.ListCardsByUser(r.Context(), id.UserID, limit, (page-1)*limit)
	if err != nil {
		slog.Error("Failed to list cards", "error", err, "user_id", id.UserID)
		Error(w, http.StatusInternalServerError, "failed to load board")
		return
	}

	columns := make(map[string][]*domain.Card, len(domain.Stages))
	for _, s := range domain.Stages {
		columns[string(s)] = []*domain.Card{}
	}
	for _, c := range cards {
		columns[string(c.Stage)] = append(columns[string(c.Stage)], c)
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"columns": columns,
		"total":   total,
		"page":    page,
		"limit":   limit,
	})
}

type createCardRequest struct {
	Ticker   string  `json:"ticker"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	Column   string  `json:"column"`
	Notes    string  `json:"notes,omitempty"`
}

func (h *Handler) createCard(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())

	var req createCardRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Ticker == "" || len(req.Ticker) > 10 {
		Error(w, http.StatusBadRequest, "ticker is required (max 10 characters)")
		return
	}
	if req.Price < 0 || req.Quantity < 1 {
		Error(w, http.StatusBadRequest, "price and quantity must be positive")
		return
	}
	if len(req.Notes) > 500 {
		Error(w, http.StatusBadRequest, "notes too long (max 500 characters)")
		return
	}

	stage := domain.StageIntakeBuy
	if req.Column != "" {
		var err error
		if stage, err = domain.ParseStage(req.Column); err != nil {
			Error(w, http.StatusBadRequest, "invalid column")
			return
		}
	}

	card, err := h.repo.CreateCard(r.Context(), &domain.Card{
		UserID:   id.UserID,
		Ticker:   req.Ticker,
		Price:    req.Price,
		Quantity: req.Quantity,
		Stage:    stage,
		Notes:    req.Notes,
	})
	if err != nil {
		slog.Error("Failed to create card", "error", err, "user_id", id.UserID)
		Error(w, http.StatusInternalServerError, "failed to create card")
		return
	}

	h.reg.EmitToUser(id.UserID, "kanban-update", map[string]interface{}{
		"type":   domain.ActionAddCard,
		"card":   card,
		"userId": id.UserID,
	})

	JSON(w, http.StatusCreated, card)
}

type moveCardRequest struct {
	Column string `json:"column"`
}

func (h *Handler) moveCard(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())

	cardID, err := strconv.ParseInt(chi.URLParam(r, "cardID"), 10, 64)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid card id")
		return
	}

	var req moveCardRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	stage, err := domain.ParseStage(req.Column)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid column")
		return
	}

	if err := h.repo.UpdateCardStage(r.Context(), id.UserID, cardID, stage); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "card not found")
			return
		}
		slog.Error("Failed to move card", "error", err, "card_id", cardID)
		Error(w, http.StatusInternalServerError, "failed to move card")
		return
	}

	h.reg.EmitToUser(id.UserID, "kanban-update", map[string]interface{}{
		"type":     domain.ActionMoveCard,
		"cardId":   cardID,
		"toColumn": string(stage),
		"userId":   id.UserID,
	})

	JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) deleteCard(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())

	cardID, err := strconv.ParseInt(chi.URLParam(r, "cardID"), 10, 64)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid card id")
		return
	}

	if err := h.repo.DeleteCard(r.Context(), id.UserID, cardID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "card not found")
			return
		}
		slog.Error("Failed to delete card", "error", err, "card_id", cardID)
		Error(w, http.StatusInternalServerError, "failed to delete card")
		return
	}

	h.reg.EmitToUser(id.UserID, "kanban-update", map[string]interface{}{
		"type":   "DELETE",
		"cardId": cardID,
		"userId": id.UserID,
	})

	JSON(w, http.StatusOK, map[string]bool{"success": true})
}
