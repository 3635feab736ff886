package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kinbanker/tojvs-new/internal/client/conn"
	"github.com/kinbanker/tojvs-new/internal/client/dedup"
	"github.com/kinbanker/tojvs-new/internal/client/session"
	"github.com/kinbanker/tojvs-new/internal/domain"
)

// Notice is a user-visible line produced by handling one inbound frame.
type Notice struct {
	Kind       string
	Text       string
	Historical bool
}

// Client composes the dashboard-side core: session persistence, the
// push channel, result dedup, and board reconciliation.
type Client struct {
	base    string
	API     *API
	Session *session.Store
	Board   *Board
	Conn    *conn.Manager

	filter *dedup.Filter
	rec    *Reconciler
	now    func() time.Time
}

// New creates a client for the server base URL, backed by the given
// session store.
func New(baseURL string, sess *session.Store) *Client {
	api := NewAPI(baseURL)
	board := NewBoard()
	return &Client{
		base:    baseURL,
		API:     api,
		Session: sess,
		Board:   board,
		filter:  dedup.New(),
		rec:     NewReconciler(board, api),
		now:     time.Now,
	}
}

// Resume restores a persisted session if one is still valid, installing
// its credential. Returns nil when the user must log in again.
func (c *Client) Resume() *session.Session {
	sess := c.Session.Load()
	if sess == nil {
		return nil
	}
	c.API.SetToken(sess.Token)
	c.Session.Touch()
	return sess
}

// Login authenticates and starts a fresh session.
func (c *Client) Login(ctx context.Context, username, password string) (*session.Session, error) {
	res, err := c.API.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	return c.Session.Create(res.User.ID, res.User.Username, res.AccessToken), nil
}

// Logout revokes the server-side refresh token, closes the channel
// locally (no auto-retry follows) and clears the session.
func (c *Client) Logout(ctx context.Context) {
	_ = c.API.Logout(ctx)
	if c.Conn != nil {
		c.Conn.Close()
	}
	c.Session.Clear()
}

// Connect establishes the push channel using the session's credential.
func (c *Client) Connect(ctx context.Context) error {
	sess := c.Session.Current()
	if sess == nil {
		return fmt.Errorf("no active session")
	}
	if c.Conn == nil {
		mgr, err := conn.NewManager(c.base, sess.Token, c.Session)
		if err != nil {
			return err
		}
		c.Conn = mgr
	}
	return c.Conn.Connect(ctx)
}

// LoadBoard replaces local board state with the server's.
func (c *Client) LoadBoard(ctx context.Context) error {
	cards, err := c.API.ListCards(ctx)
	if err != nil {
		return fmt.Errorf("load board: %w", err)
	}
	c.Board.Replace(cards)
	return nil
}

// SendCommand issues a voice command over the channel, binding its id
// to the session for later correlation.
func (c *Client) SendCommand(ctx context.Context, text string) (string, error) {
	sess := c.Session.Current()
	if sess == nil {
		return "", fmt.Errorf("no active session")
	}
	commandID := domain.NewCommandID(sess.UserID, c.now())
	err := c.Conn.Send(ctx, "voice-command", map[string]string{
		"text":      text,
		"commandId": commandID,
	})
	if err != nil {
		return "", err
	}
	c.Session.BindCommand(commandID)
	return commandID, nil
}

// MoveCard applies a user-driven stage change: optimistic local move,
// persisted over the channel, rolled back if the send fails.
func (c *Client) MoveCard(ctx context.Context, cardID int64, to domain.Stage) error {
	from, ok := c.Board.Move(cardID, to)
	if !ok {
		return fmt.Errorf("unknown card %d", cardID)
	}
	err := c.Conn.Send(ctx, "move-card", map[string]interface{}{
		"cardId":     cardID,
		"fromColumn": string(from),
		"toColumn":   string(to),
	})
	if err != nil {
		c.Board.Move(cardID, from)
		return err
	}
	return nil
}

type kanbanUpdate struct {
	Type     string       `json:"type"`
	Card     *domain.Card `json:"card,omitempty"`
	CardID   int64        `json:"cardId,omitempty"`
	ToColumn string       `json:"toColumn,omitempty"`
}

type processingStatus struct {
	Message   string `json:"message"`
	CommandID string `json:"commandId"`
}

type errorFrame struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// HandleFrame processes one inbound frame and returns a notice for the
// transcript, or nil when the frame produced nothing user-visible.
func (c *Client) HandleFrame(ctx context.Context, f conn.Frame) (*Notice, error) {
	switch f.Event {
	case "connected", "pong":
		return nil, nil

	case "command-result":
		var res domain.DeliveredResult
		if err := json.Unmarshal(f.Data, &res); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		if !c.filter.Admit(&res) {
			return nil, nil
		}
		return c.handleResult(ctx, &res)

	case "kanban-update":
		var upd kanbanUpdate
		if err := json.Unmarshal(f.Data, &upd); err != nil {
			return nil, fmt.Errorf("decode board update: %w", err)
		}
		return c.applyBoardUpdate(&upd), nil

	case "processing":
		var st processingStatus
		if err := json.Unmarshal(f.Data, &st); err != nil {
			return nil, nil
		}
		return &Notice{Kind: "processing", Text: st.Message}, nil

	case "error":
		var ef errorFrame
		if err := json.Unmarshal(f.Data, &ef); err != nil {
			return nil, nil
		}
		return &Notice{Kind: "error", Text: ef.Message}, nil
	}
	return nil, nil
}

func (c *Client) handleResult(ctx context.Context, res *domain.DeliveredResult) (*Notice, error) {
	historical := Classify(res.Type, res.Timestamp, c.now()) == Historical

	switch res.Type {
	case domain.ResultKanban:
		var p domain.KanbanPayload
		if err := json.Unmarshal(res.Data, &p); err != nil {
			return nil, fmt.Errorf("decode kanban result: %w", err)
		}
		switch p.Action {
		case domain.ActionAddCard:
			out, err := c.rec.Apply(ctx, p.Card)
			if err != nil {
				return nil, err
			}
			text := fmt.Sprintf("%s %s added to %s", out.Card.Ticker, formatAmount(out.Card), out.Card.Stage)
			if out.Moved {
				text = fmt.Sprintf("%s moved %s -> %s", out.Card.Ticker, out.From, out.Card.Stage)
			}
			return &Notice{Kind: "kanban", Text: text, Historical: historical}, nil
		case domain.ActionMoveCard:
			// The router persisted this move before delivery; only the
			// local grouping changes here.
			if _, ok := c.Board.Move(p.CardID, p.To); !ok {
				return nil, fmt.Errorf("move for unknown card %d", p.CardID)
			}
			card := c.Board.Get(p.CardID)
			return &Notice{
				Kind:       "kanban",
				Text:       fmt.Sprintf("%s moved to %s", card.Ticker, p.To),
				Historical: historical,
			}, nil
		}
		return nil, fmt.Errorf("unknown kanban action %q", p.Action)

	case domain.ResultNews:
		var p domain.NewsPayload
		if err := json.Unmarshal(res.Data, &p); err != nil {
			return nil, fmt.Errorf("decode news result: %w", err)
		}
		return &Notice{
			Kind:       "news",
			Text:       fmt.Sprintf("%d articles for %q", len(p.Articles), p.Keyword),
			Historical: historical,
		}, nil

	case domain.ResultMarket:
		var p domain.MarketPayload
		if err := json.Unmarshal(res.Data, &p); err != nil {
			return nil, fmt.Errorf("decode market result: %w", err)
		}
		return &Notice{
			Kind:       "market",
			Text:       fmt.Sprintf("%s %.2f (%+.2f)", p.Symbol, p.Price, p.Change),
			Historical: historical,
		}, nil

	case domain.ResultChart:
		var p domain.ChartPayload
		if err := json.Unmarshal(res.Data, &p); err != nil {
			return nil, fmt.Errorf("decode chart result: %w", err)
		}
		return &Notice{
			Kind:       "chart",
			Text:       fmt.Sprintf("chart ready for %s %s", p.Symbol, p.Range),
			Historical: historical,
		}, nil

	case domain.ResultError:
		var p domain.ErrorPayload
		if err := json.Unmarshal(res.Data, &p); err != nil {
			return nil, fmt.Errorf("decode error result: %w", err)
		}
		return &Notice{Kind: "error", Text: p.Message}, nil
	}
	return nil, fmt.Errorf("unknown result type %q", res.Type)
}

func (c *Client) applyBoardUpdate(upd *kanbanUpdate) *Notice {
	switch upd.Type {
	case domain.ActionAddCard:
		if upd.Card == nil || !c.Board.Add(upd.Card) {
			return nil
		}
		return &Notice{Kind: "board", Text: fmt.Sprintf("%s added to %s", upd.Card.Ticker, upd.Card.Stage)}
	case domain.ActionMoveCard:
		stage, err := domain.ParseStage(upd.ToColumn)
		if err != nil {
			return nil
		}
		if _, ok := c.Board.Move(upd.CardID, stage); !ok {
			return nil
		}
		return &Notice{Kind: "board", Text: fmt.Sprintf("card %d moved to %s", upd.CardID, stage)}
	case "DELETE":
		if !c.Board.Remove(upd.CardID) {
			return nil
		}
		return &Notice{Kind: "board", Text: fmt.Sprintf("card %d removed", upd.CardID)}
	}
	return nil
}

func formatAmount(c *domain.Card) string {
	return fmt.Sprintf("%dx%.2f", c.Quantity, c.Price)
}
