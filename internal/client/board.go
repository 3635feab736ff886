// Package client holds the dashboard-side core: local board state, the
// pipeline reconciler, result dedup dispatch and the HTTP API client.
package client

import (
	"sort"
	"sync"

	"github.com/kinbanker/tojvs-new/internal/domain"
)

// Board is the local mirror of the user's pipeline, grouped by stage.
// Card identity is preserved across moves: a move regroups one record,
// it never duplicates it.
type Board struct {
	mu    sync.Mutex
	cards map[int64]*domain.Card
}

// NewBoard creates an empty board.
func NewBoard() *Board {
	return &Board{cards: make(map[int64]*domain.Card)}
}

// Replace swaps in a full card set, as loaded from the server.
func (b *Board) Replace(cards []*domain.Card) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cards = make(map[int64]*domain.Card, len(cards))
	for _, c := range cards {
		cp := *c
		b.cards[c.ID] = &cp
	}
}

// Add inserts a card. A duplicate id is a no-op and reports false.
func (b *Board) Add(card *domain.Card) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.cards[card.ID]; ok {
		return false
	}
	cp := *card
	b.cards[card.ID] = &cp
	return true
}

// Move relocates a card to another stage, returning the stage it came
// from so a failed persistence can undo the move.
func (b *Board) Move(cardID int64, to domain.Stage) (from domain.Stage, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.cards[cardID]
	if !ok {
		return "", false
	}
	from = c.Stage
	c.Stage = to
	return from, true
}

// Remove deletes a card from local state.
func (b *Board) Remove(cardID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.cards[cardID]; !ok {
		return false
	}
	delete(b.cards, cardID)
	return true
}

// Get returns a copy of the card, or nil.
func (b *Board) Get(cardID int64) *domain.Card {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.cards[cardID]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// Stage returns the cards in one stage, newest first.
func (b *Board) Stage(stage domain.Stage) []*domain.Card {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*domain.Card
	for _, c := range b.cards {
		if c.Stage == stage {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Match returns cards whose ticker matches case-insensitively, in any
// stage except the excluded one. Used by the reconciler, which never
// considers an item already in the target stage.
func (b *Board) Match(ticker string, exclude domain.Stage) []*domain.Card {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*domain.Card
	for _, c := range b.cards {
		if c.Stage != exclude && c.TickerEquals(ticker) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out
}

// Size returns the number of cards on the board.
func (b *Board) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cards)
}
