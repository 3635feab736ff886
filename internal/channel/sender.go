// Package channel exposes the realtime push endpoint. Each open
// websocket is one channel; a user may hold several at once.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// frame is the wire envelope for every push message.
type frame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// wsSender serializes writes to one websocket connection. The registry
// fans out to many of these from the webhook handler's goroutine, so
// writes must not interleave.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newSender(conn *websocket.Conn) *wsSender {
	return &wsSender{conn: conn}
}

// Send implements registry.Sender.
func (s *wsSender) Send(event string, payload interface{}) error {
	data, err := json.Marshal(frame{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", event, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Background context: the websocket library tracks its own
	// connection state, and a closed conn fails the write anyway.
	if err := s.conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s frame: %w", event, err)
	}
	return nil
}
