package client

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/kinbanker/tojvs-new/internal/client/conn"
	"github.com/kinbanker/tojvs-new/internal/client/session"
	"github.com/kinbanker/tojvs-new/internal/domain"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	sess := session.NewStore(filepath.Join(t.TempDir(), "session.json"))
	return New("http://localhost:3001", sess)
}

func resultFrame(t *testing.T, commandID string, ts time.Time, payload domain.KanbanPayload) conn.Frame {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	res, err := json.Marshal(domain.DeliveredResult{
		Type:      domain.ResultKanban,
		Data:      data,
		Timestamp: ts,
		CommandID: commandID,
	})
	if err != nil {
		t.Fatal(err)
	}
	return conn.Frame{Event: "command-result", Data: res}
}

func TestClient_HandleResultAddsCard(t *testing.T) {
	c := newTestClient(t)
	frame := resultFrame(t, "cmd_42_1", time.Now(), domain.KanbanPayload{
		Action: domain.ActionAddCard,
		Card:   &domain.ResultCard{ID: 10, Ticker: "TSLA", Price: 250, Quantity: 10, Column: domain.StageIntakeBuy},
	})

	notice, err := c.HandleFrame(context.Background(), frame)
	if err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}
	if notice == nil || notice.Kind != "kanban" {
		t.Fatalf("Expected kanban notice, got %+v", notice)
	}
	if c.Board.Get(10) == nil {
		t.Error("Expected card added to board")
	}
}

func TestClient_DuplicateResultSuppressed(t *testing.T) {
	c := newTestClient(t)
	ts := time.Now()
	frame := resultFrame(t, "cmd_42_1", ts, domain.KanbanPayload{
		Action: domain.ActionAddCard,
		Card:   &domain.ResultCard{ID: 10, Ticker: "TSLA", Price: 250, Quantity: 10, Column: domain.StageIntakeBuy},
	})

	if _, err := c.HandleFrame(context.Background(), frame); err != nil {
		t.Fatalf("First delivery failed: %v", err)
	}
	notice, err := c.HandleFrame(context.Background(), frame)
	if err != nil {
		t.Fatalf("Second delivery errored: %v", err)
	}
	if notice != nil {
		t.Errorf("Expected duplicate silently discarded, got %+v", notice)
	}
	if c.Board.Size() != 1 {
		t.Errorf("Expected single card after duplicate delivery, got %d", c.Board.Size())
	}
}

func TestClient_MoveResultAppliedLocally(t *testing.T) {
	c := newTestClient(t)
	c.Board.Add(&domain.Card{ID: 1, Ticker: "TSLA", Price: 250, Quantity: 10, Stage: domain.StageIntakeBuy, CreatedAt: time.Now()})

	// A routed move was already persisted server-side; the client only
	// regroups the card.
	data := mustJSON(t, domain.KanbanPayload{
		Action: domain.ActionMoveCard, CardID: 1,
		From: domain.StageIntakeBuy, To: domain.StageDoneBuy,
	})
	res := mustJSON(t, domain.DeliveredResult{
		Type: domain.ResultKanban, Data: data,
		Timestamp: time.Now(), CommandID: "cmd_42_5",
	})

	notice, err := c.HandleFrame(context.Background(), conn.Frame{Event: "command-result", Data: res})
	if err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}
	if notice == nil || notice.Kind != "kanban" || notice.Historical {
		t.Fatalf("Expected fresh kanban notice, got %+v", notice)
	}
	if got := c.Board.Get(1).Stage; got != domain.StageDoneBuy {
		t.Errorf("Expected card in done-buy, got %s", got)
	}
	if c.Board.Size() != 1 {
		t.Errorf("Expected one card, got %d", c.Board.Size())
	}
}

func TestClient_ResultMovesExistingTicker(t *testing.T) {
	c := newTestClient(t)
	c.Board.Add(&domain.Card{ID: 1, Ticker: "TSLA", Price: 250, Quantity: 10, Stage: domain.StageIntakeBuy, CreatedAt: time.Now()})

	// Reconciler move persists over HTTP, which this test cannot reach,
	// so it goes through the board update path instead.
	frame := conn.Frame{Event: "kanban-update", Data: mustJSON(t, map[string]interface{}{
		"type":     domain.ActionMoveCard,
		"cardId":   1,
		"toColumn": "done-buy",
	})}
	notice, err := c.HandleFrame(context.Background(), frame)
	if err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}
	if notice == nil || notice.Kind != "board" {
		t.Fatalf("Expected board notice, got %+v", notice)
	}
	if got := c.Board.Get(1).Stage; got != domain.StageDoneBuy {
		t.Errorf("Expected card moved to done-buy, got %s", got)
	}
}

func TestClient_BoardUpdateDelete(t *testing.T) {
	c := newTestClient(t)
	c.Board.Add(&domain.Card{ID: 3, Ticker: "AAPL", Price: 180, Quantity: 5, Stage: domain.StageIntakeBuy})

	frame := conn.Frame{Event: "kanban-update", Data: mustJSON(t, map[string]interface{}{
		"type":   "DELETE",
		"cardId": 3,
	})}
	if _, err := c.HandleFrame(context.Background(), frame); err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}
	if c.Board.Get(3) != nil {
		t.Error("Expected card removed")
	}
}

func TestClient_ErrorFrame(t *testing.T) {
	c := newTestClient(t)
	frame := conn.Frame{Event: "error", Data: mustJSON(t, map[string]string{
		"message": "too many commands, try again shortly",
		"code":    "RATE_LIMIT",
	})}
	notice, err := c.HandleFrame(context.Background(), frame)
	if err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}
	if notice == nil || notice.Kind != "error" {
		t.Fatalf("Expected error notice, got %+v", notice)
	}
}

func TestClient_StaleMarketResultFlaggedHistorical(t *testing.T) {
	c := newTestClient(t)
	data := mustJSON(t, domain.MarketPayload{Symbol: "TSLA", Price: 250})
	res := mustJSON(t, domain.DeliveredResult{
		Type:      domain.ResultMarket,
		Data:      data,
		Timestamp: time.Now().Add(-time.Minute),
		CommandID: "cmd_42_9",
	})

	notice, err := c.HandleFrame(context.Background(), conn.Frame{Event: "command-result", Data: res})
	if err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}
	if notice == nil || !notice.Historical {
		t.Errorf("Expected historical flag on stale market data, got %+v", notice)
	}
}

func TestClient_UnknownEventIgnored(t *testing.T) {
	c := newTestClient(t)
	notice, err := c.HandleFrame(context.Background(), conn.Frame{Event: "mystery"})
	if err != nil || notice != nil {
		t.Errorf("Expected unknown event ignored, got (%+v, %v)", notice, err)
	}
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}
