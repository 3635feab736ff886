// Package domain contains core domain types for the tojvs application.
package domain

import (
	"errors"
	"strings"
	"time"
)

// Stage identifies a column of the trading pipeline board.
type Stage string

// Pipeline stages in their fixed progression order.
const (
	StageIntakeBuy  Stage = "intake-buy"
	StageDoneBuy    Stage = "done-buy"
	StageIntakeSell Stage = "intake-sell"
	StageDoneSell   Stage = "done-sell"
)

// Stages lists every pipeline stage in progression order.
var Stages = []Stage{StageIntakeBuy, StageDoneBuy, StageIntakeSell, StageDoneSell}

// ErrInvalidStage is returned when a stage value is not part of the pipeline.
var ErrInvalidStage = errors.New("invalid pipeline stage")

// ParseStage validates a raw stage value.
func ParseStage(s string) (Stage, error) {
	for _, st := range Stages {
		if string(st) == s {
			return st, nil
		}
	}
	return "", ErrInvalidStage
}

// Predecessor returns the stage directly before s in the fixed
// progression, or empty for the initial stage.
func (s Stage) Predecessor() Stage {
	for i, st := range Stages {
		if st == s && i > 0 {
			return Stages[i-1]
		}
	}
	return ""
}

// IsTerminal reports whether s is the final stage of the progression.
func (s Stage) IsTerminal() bool {
	return s == StageDoneSell
}

// Card is a pipeline item: one unit of trading-plan state moving
// through the four fixed stages.
type Card struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id,omitempty"`
	Ticker    string    `json:"ticker"`
	Price     float64   `json:"price"`
	Quantity  int       `json:"quantity"`
	Stage     Stage     `json:"stage"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TotalValue returns price * quantity.
func (c *Card) TotalValue() float64 {
	return c.Price * float64(c.Quantity)
}

// TickerEquals compares tickers case-insensitively.
func (c *Card) TickerEquals(ticker string) bool {
	return strings.EqualFold(c.Ticker, ticker)
}
