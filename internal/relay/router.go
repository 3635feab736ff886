// Package relay routes asynchronous processor results back to the
// users who caused them.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/kinbanker/tojvs-new/internal/domain"
	"github.com/kinbanker/tojvs-new/internal/registry"
	"github.com/kinbanker/tojvs-new/internal/store"
)

// DuplicateWindow is how far back the router looks for an identical
// card before creating a new one. Redundant deliveries of the same
// result inside this window reuse the first card's identity.
const DuplicateWindow = 2 * time.Second

// ResultEvent is the push event name results are delivered under.
const ResultEvent = "command-result"

var (
	// ErrUnidentifiedRecipient means no resolution tier produced a user.
	ErrUnidentifiedRecipient = errors.New("could not identify target user")
	// ErrBadEnvelope means the envelope or its payload is malformed.
	ErrBadEnvelope = errors.New("malformed result envelope")
)

// Outcome reports what routing a result achieved.
type Outcome struct {
	UserID         int64 `json:"userId"`
	Delivered      bool  `json:"delivered"`
	ActiveChannels int   `json:"activeChannels"`
}

// Router resolves a result's recipient and fans it out.
type Router struct {
	reg     *registry.Registry
	pending *registry.PendingTable
	repo    store.Repository
}

// NewRouter creates a result router.
func NewRouter(reg *registry.Registry, pending *registry.PendingTable, repo store.Repository) *Router {
	return &Router{reg: reg, pending: pending, repo: repo}
}

// Route resolves the envelope's recipient, applies any pipeline
// mutation it implies, and delivers the result to every open channel
// owned by that user. Resolution order: commandId (authoritative,
// consumed), then channelId (may be stale), then explicit userId.
func (r *Router) Route(ctx context.Context, env *domain.ResultEnvelope) (*Outcome, error) {
	if !env.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown result type %q", ErrBadEnvelope, env.Type)
	}

	userID, via := r.resolve(env)
	if userID == 0 {
		slog.Warn("Result recipient unresolved",
			"command_id", env.CommandID, "channel_id", env.ChannelID, "user_id", env.UserID)
		return nil, ErrUnidentifiedRecipient
	}
	slog.Info("Result recipient resolved", "user_id", userID, "via", via, "type", env.Type)

	data := env.Data
	if env.Type == domain.ResultKanban {
		reconciled, err := r.applyKanban(ctx, userID, env)
		if err != nil {
			return nil, err
		}
		if reconciled != nil {
			data = reconciled
		}
	}

	result := domain.DeliveredResult{
		Type:      env.Type,
		Data:      data,
		Timestamp: time.Now(),
		CommandID: env.CommandID,
	}
	delivered := r.reg.EmitToUser(userID, ResultEvent, result)

	return &Outcome{
		UserID:         userID,
		Delivered:      delivered > 0,
		ActiveChannels: delivered,
	}, nil
}

func (r *Router) resolve(env *domain.ResultEnvelope) (int64, string) {
	if env.CommandID != "" {
		if entry := r.pending.Consume(env.CommandID); entry != nil {
			return entry.UserID, "commandId"
		}
	}
	if env.ChannelID != "" {
		if userID, _, ok := r.reg.Lookup(env.ChannelID); ok {
			return userID, "channelId"
		}
	}
	if env.UserID > 0 {
		return env.UserID, "userId"
	}
	return 0, ""
}

// applyKanban persists the board mutation carried by a kanban result
// before delivery, so every channel receives a change the store already
// holds. Returns the payload clients should apply, or nil when the
// payload needs no rewrite.
func (r *Router) applyKanban(ctx context.Context, userID int64, env *domain.ResultEnvelope) (json.RawMessage, error) {
	payload, err := env.KanbanData()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}

	var intent string
	switch payload.Action {
	case domain.ActionAddCard:
		payload, intent, err = r.applyAddCard(ctx, userID, payload)
		if err != nil {
			return nil, err
		}
	case domain.ActionMoveCard:
		if _, err := domain.ParseStage(string(payload.To)); err != nil {
			return nil, fmt.Errorf("%w: invalid target stage %q", ErrBadEnvelope, payload.To)
		}
		err := r.repo.UpdateCardStage(ctx, userID, payload.CardID, payload.To)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("%w: move for unknown card %d", ErrBadEnvelope, payload.CardID)
		case err != nil:
			return nil, fmt.Errorf("persist routed move: %w", err)
		}
		intent = "MOVE_TRADE"
	default:
		return nil, nil
	}

	if env.CommandID != "" {
		if err := r.repo.MarkCommandProcessed(ctx, env.CommandID, intent); err != nil {
			slog.Warn("Failed to mark command processed", "command_id", env.CommandID, "error", err)
		}
	}

	rewritten, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode kanban payload: %w", err)
	}
	return rewritten, nil
}

// applyAddCard resolves an add-card result against the store: a card
// identical within the duplicate window reuses its identity, a
// same-ticker card outside the target stage is advanced into it, and
// only a genuinely new position inserts a row. The duplicate guard
// cannot catch the advance case because the existing card may be hours
// old; without the ticker pass the store would accumulate a second row
// for a position the board shows once.
func (r *Router) applyAddCard(ctx context.Context, userID int64, payload *domain.KanbanPayload) (*domain.KanbanPayload, string, error) {
	if err := payload.Card.Validate(); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	target := payload.Card.Column

	existing, err := r.repo.FindRecentCard(ctx, userID,
		payload.Card.Ticker, payload.Card.Price, payload.Card.Quantity, DuplicateWindow)
	switch {
	case err == nil:
		slog.Info("Duplicate card detected, reusing existing id",
			"user_id", userID, "card_id", existing.ID, "ticker", existing.Ticker)
		payload.Card.ID = existing.ID
		return payload, "ADD_TRADE", nil
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, "", fmt.Errorf("duplicate guard lookup: %w", err)
	}

	cands, err := r.repo.FindCardsByTicker(ctx, userID, payload.Card.Ticker, target)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, "", fmt.Errorf("move candidate lookup: %w", err)
	}
	if cand := pickCandidate(cands, target); cand != nil {
		if err := r.repo.UpdateCardStage(ctx, userID, cand.ID, target); err != nil {
			return nil, "", fmt.Errorf("advance card %d: %w", cand.ID, err)
		}
		slog.Info("Existing pipeline item advanced",
			"user_id", userID, "card_id", cand.ID, "from", cand.Stage, "to", target)
		return &domain.KanbanPayload{
			Action: domain.ActionMoveCard,
			CardID: cand.ID,
			From:   cand.Stage,
			To:     target,
		}, "MOVE_TRADE", nil
	}

	created, err := r.repo.CreateCard(ctx, &domain.Card{
		UserID:   userID,
		Ticker:   payload.Card.Ticker,
		Price:    payload.Card.Price,
		Quantity: payload.Card.Quantity,
		Stage:    target,
		Notes:    payload.Card.Notes,
	})
	if err != nil {
		return nil, "", fmt.Errorf("persist routed card: %w", err)
	}
	payload.Card.ID = created.ID
	return payload, "ADD_TRADE", nil
}

// pickCandidate orders move candidates the way the board does: the
// target's direct predecessor stage outranks everything else, newest
// created first within equal rank.
func pickCandidate(cands []*domain.Card, target domain.Stage) *domain.Card {
	if len(cands) == 0 {
		return nil
	}
	pred := target.Predecessor()
	sort.Slice(cands, func(i, j int) bool {
		pi, pj := cands[i].Stage == pred, cands[j].Stage == pred
		if pi != pj {
			return pi
		}
		if !cands[i].CreatedAt.Equal(cands[j].CreatedAt) {
			return cands[i].CreatedAt.After(cands[j].CreatedAt)
		}
		return cands[i].ID > cands[j].ID
	})
	return cands[0]
}
