package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ResultType tags the payload of a processor result.
type ResultType string

// Known result types. Anything else is rejected at decode time.
const (
	ResultKanban ResultType = "kanban"
	ResultNews   ResultType = "news"
	ResultMarket ResultType = "market"
	ResultChart  ResultType = "chart"
	ResultError  ResultType = "error"
)

// Valid reports whether t is one of the known result types.
func (t ResultType) Valid() bool {
	switch t {
	case ResultKanban, ResultNews, ResultMarket, ResultChart, ResultError:
		return true
	}
	return false
}

// KanbanAction names the board mutation carried by a kanban result.
const (
	ActionAddCard  = "ADD_CARD"
	ActionMoveCard = "MOVE"
)

// KanbanPayload is the board mutation delivered by the processor.
type KanbanPayload struct {
	Action string      `json:"action"`
	Card   *ResultCard `json:"card,omitempty"`
	CardID int64       `json:"cardId,omitempty"`
	From   Stage       `json:"fromColumn,omitempty"`
	To     Stage       `json:"toColumn,omitempty"`
}

// ResultCard is the card shape the processor emits. The target stage
// arrives in the "column" field.
type ResultCard struct {
	ID       int64   `json:"id,omitempty"`
	Ticker   string  `json:"ticker"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	Column   Stage   `json:"column"`
	Notes    string  `json:"notes,omitempty"`
}

// Validate rejects cards that are missing the fields the reconciler
// needs to identify a pipeline item.
func (c *ResultCard) Validate() error {
	if c == nil {
		return fmt.Errorf("missing card")
	}
	if c.Ticker == "" {
		return fmt.Errorf("missing ticker")
	}
	if c.Price <= 0 {
		return fmt.Errorf("invalid price %v", c.Price)
	}
	if c.Quantity <= 0 {
		return fmt.Errorf("invalid quantity %d", c.Quantity)
	}
	if _, err := ParseStage(string(c.Column)); err != nil {
		return fmt.Errorf("invalid column %q", c.Column)
	}
	return nil
}

// NewsPayload carries a news lookup result.
type NewsPayload struct {
	Keyword  string     `json:"keyword"`
	Articles []Headline `json:"articles"`
}

// Headline is a single news item.
type Headline struct {
	Title       string    `json:"title"`
	Source      string    `json:"source,omitempty"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// MarketPayload carries a quote snapshot.
type MarketPayload struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Change float64 `json:"change,omitempty"`
}

// ChartPayload carries a chart request result.
type ChartPayload struct {
	Symbol string          `json:"symbol"`
	Range  string          `json:"range,omitempty"`
	Series json.RawMessage `json:"series,omitempty"`
}

// ErrorPayload carries a processor-side failure message.
type ErrorPayload struct {
	Message      string `json:"message"`
	OriginalText string `json:"originalText,omitempty"`
}

// ResultEnvelope is the processor callback body. At most one of the
// addressing fields is needed; resolution order is commandId, then
// channelId, then userId.
type ResultEnvelope struct {
	CommandID string          `json:"commandId,omitempty"`
	ChannelID string          `json:"channelId,omitempty"`
	UserID    int64           `json:"userId,omitempty"`
	Type      ResultType      `json:"type"`
	Data      json.RawMessage `json:"data"`
}

// KanbanData decodes the kanban payload of the envelope.
func (e *ResultEnvelope) KanbanData() (*KanbanPayload, error) {
	if e.Type != ResultKanban {
		return nil, fmt.Errorf("not a kanban result: %s", e.Type)
	}
	var p KanbanPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return nil, fmt.Errorf("decode kanban payload: %w", err)
	}
	return &p, nil
}

// DeliveredResult is the wire shape pushed to client channels. It is
// transient and never persisted; dedup admission is keyed on
// (timestamp, type, commandId).
type DeliveredResult struct {
	Type      ResultType      `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	CommandID string          `json:"commandId,omitempty"`
}
