package client

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kinbanker/tojvs-new/internal/domain"
)

// Persister is the slice of the HTTP API the reconciler needs. The
// server broadcasts persisted changes to the user's other channels, so
// persisting through it doubles as the cross-channel notification.
type Persister interface {
	CreateCard(ctx context.Context, card *domain.Card) (*domain.Card, error)
	MoveCard(ctx context.Context, cardID int64, to domain.Stage) error
}

// ReconcileOutcome describes what an add-card result did to the board.
type ReconcileOutcome struct {
	Moved   bool
	Created bool
	From    domain.Stage
	Card    *domain.Card
}

// Reconciler merges incoming add-card results into the board: advance
// an existing item for the same ticker when one fits, create otherwise.
type Reconciler struct {
	board *Board
	api   Persister
	now   func() time.Time
}

// NewReconciler creates a reconciler over the board and API.
func NewReconciler(board *Board, api Persister) *Reconciler {
	return &Reconciler{board: board, api: api, now: time.Now}
}

// Apply handles one admitted add-card result. A malformed card is
// rejected before any state changes. A card carrying a server id is
// adopted as-is: the router already made its own move-vs-create pass
// against the store, and second-guessing it here would leave the board
// holding one item and the store another. Only an id-less card
// (degraded mode, processor reached directly) runs the candidate pick:
// when a match exists the item is moved optimistically and the move
// persisted, with persistence failure rolling the local move back;
// otherwise a new item is created in the target stage.
func (r *Reconciler) Apply(ctx context.Context, card *domain.ResultCard) (*ReconcileOutcome, error) {
	if err := card.Validate(); err != nil {
		return nil, fmt.Errorf("reject add-card result: %w", err)
	}
	target := card.Column

	if card.ID != 0 {
		if existing := r.board.Get(card.ID); existing != nil {
			return &ReconcileOutcome{Card: existing}, nil
		}
		item := r.newItem(card, target)
		r.board.Add(item)
		return &ReconcileOutcome{Created: true, Card: item}, nil
	}

	if cand := r.pick(card.Ticker, target); cand != nil {
		from, ok := r.board.Move(cand.ID, target)
		if !ok {
			return nil, fmt.Errorf("candidate card %d vanished", cand.ID)
		}
		if err := r.api.MoveCard(ctx, cand.ID, target); err != nil {
			r.board.Move(cand.ID, from)
			return nil, fmt.Errorf("persist move of card %d: %w", cand.ID, err)
		}
		moved := r.board.Get(cand.ID)
		return &ReconcileOutcome{Moved: true, From: from, Card: moved}, nil
	}

	created, err := r.api.CreateCard(ctx, r.newItem(card, target))
	if err != nil {
		return nil, fmt.Errorf("persist new card: %w", err)
	}
	r.board.Add(created)
	return &ReconcileOutcome{Created: true, Card: created}, nil
}

func (r *Reconciler) newItem(card *domain.ResultCard, target domain.Stage) *domain.Card {
	return &domain.Card{
		ID:        card.ID,
		Ticker:    card.Ticker,
		Price:     card.Price,
		Quantity:  card.Quantity,
		Stage:     target,
		Notes:     card.Notes,
		CreatedAt: r.now(),
		UpdatedAt: r.now(),
	}
}

// pick selects the card to advance: any-stage ticker matches excluding
// the target, with items in the target's direct predecessor stage
// outranking all others, newest created first within equal rank.
func (r *Reconciler) pick(ticker string, target domain.Stage) *domain.Card {
	cands := r.board.Match(ticker, target)
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
