// Package conn establishes and supervises the dashboard's push channel.
// Establishment is an explicit state machine: Idle, then Attempting one
// strategy at a time, ending Connected or Exhausted. Only one attempt
// is ever in flight.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/kinbanker/tojvs-new/internal/client/session"
)

// AttemptTimeout bounds one establishment attempt, dial and server
// acknowledgement included.
const AttemptTimeout = 5 * time.Second

// ErrExhausted is returned when every strategy has failed. The ladder
// does not restart on its own; Reconnect starts it over.
var ErrExhausted = errors.New("all connection attempts exhausted")

// State is the manager's position in the establishment lifecycle.
type State int

// Lifecycle states.
const (
	StateIdle State = iota
	StateAttempting
	StateConnected
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateConnected:
		return "connected"
	case StateExhausted:
		return "exhausted"
	}
	return "unknown"
}

// Frame is one inbound push event.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type connectedAck struct {
	UserID    int64  `json:"userId"`
	ChannelID string `json:"channelId"`
}

// Manager owns the push channel. All exported methods are safe for
// concurrent use; the UI polls Connected/Status while the read pump
// feeds Events.
type Manager struct {
	base       *url.URL
	token      string
	dial       Dialer
	strategies []Strategy
	timeout    time.Duration
	session    *session.Store
	events     chan Frame

	mu         sync.Mutex
	state      State
	status     string
	transport  string
	channelID  string
	ch         Channel
	localClose bool
	gen        int
}

// NewManager creates a manager for the given server base URL. The
// token authenticates the channel open.
func NewManager(baseURL, token string, sess *session.Store) (*Manager, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	return &Manager{
		base:       base,
		token:      token,
		dial:       DefaultDialer,
		strategies: Strategies(),
		timeout:    AttemptTimeout,
		session:    sess,
		events:     make(chan Frame, 64),
		status:     "idle",
	}, nil
}

// SetDialer replaces the transport dialer. Test seam.
func (m *Manager) SetDialer(d Dialer) { m.dial = d }

// SetAttemptTimeout overrides the per-attempt timeout. Test seam.
func (m *Manager) SetAttemptTimeout(d time.Duration) { m.timeout = d }

// Events is the stream of inbound frames. Closed never; drained by the
// UI loop.
func (m *Manager) Events() <-chan Frame { return m.events }

// Connected reports whether a channel is currently established.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// Status returns a human-readable description of the current attempt
// or connection.
func (m *Manager) Status() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Transport names the strategy that established the current channel.
func (m *Manager) Transport() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transport
}

// ChannelID returns the server-assigned id of the current channel.
func (m *Manager) ChannelID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channelID
}

// CurrentState returns the lifecycle state.
func (m *Manager) CurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect runs the strategy ladder until one establishes a channel or
// all are exhausted. Strategies are tried sequentially, each bounded by
// the attempt timeout; a half-open channel is torn down before the next
// rung. Terminal failure leaves the manager Exhausted and returns
// ErrExhausted; only Reconnect restarts the ladder from there.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnected || m.state == StateAttempting {
		m.mu.Unlock()
		return nil
	}
	m.state = StateAttempting
	m.localClose = false
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	for i, strat := range m.strategies {
		if ctx.Err() != nil {
			m.setState(StateIdle, "cancelled")
			return ctx.Err()
		}

		m.setStatus(fmt.Sprintf("attempt %d/%d via %s", i+1, len(m.strategies), strat.Name))
		ch, channelID, err := m.attempt(ctx, strat)
		if err != nil {
			slog.Debug("Connection attempt failed", "strategy", strat.Name, "error", err)
			continue
		}

		m.mu.Lock()
		if m.gen != gen || m.localClose {
			m.mu.Unlock()
			_ = ch.Close()
			return errors.New("connect superseded")
		}
		m.state = StateConnected
		m.status = "connected via " + strat.Name
		m.transport = strat.Name
		m.channelID = channelID
		m.ch = ch
		m.mu.Unlock()

		if m.session != nil {
			m.session.BindChannel(channelID)
			m.session.ResetReconnect()
		}
		slog.Info("Channel established", "strategy", strat.Name, "channel_id", channelID)

		go m.readPump(ctx, ch, gen)
		return nil
	}

	m.setState(StateExhausted, "all connection attempts exhausted")
	return ErrExhausted
}

// attempt dials one strategy and waits for the server's connected
// acknowledgement, all inside one timeout window. Any failure tears the
// half-open channel down.
func (m *Manager) attempt(ctx context.Context, strat Strategy) (Channel, string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	endpoint := strat.URL(m.base) + "?token=" + url.QueryEscape(m.token)
	ch, err := m.dial(attemptCtx, endpoint, strat.Opts)
	if err != nil {
		return nil, "", err
	}

	raw, err := ch.Read(attemptCtx)
	if err != nil {
		_ = ch.Close()
		return nil, "", fmt.Errorf("await ack: %w", err)
	}
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event != "connected" {
		_ = ch.Close()
		return nil, "", fmt.Errorf("unexpected first frame %q", frame.Event)
	}
	var ack connectedAck
	if err := json.Unmarshal(frame.Data, &ack); err != nil || ack.ChannelID == "" {
		_ = ch.Close()
		return nil, "", errors.New("malformed connected ack")
	}
	return ch, ack.ChannelID, nil
}

// readPump surfaces inbound frames until the channel drops. A remote
// drop schedules an automatic reconnect; a local Close does not.
func (m *Manager) readPump(ctx context.Context, ch Channel, gen int) {
	for {
		raw, err := ch.Read(ctx)
		if err != nil {
			m.mu.Lock()
			stale := m.gen != gen
			local := m.localClose
			if !stale {
				m.state = StateIdle
				m.status = "disconnected"
				m.ch = nil
				m.channelID = ""
			}
			m.mu.Unlock()

			if stale || local || ctx.Err() != nil {
				return
			}
			slog.Warn("Channel dropped, retrying", "error", err)
			if m.session != nil {
				m.session.IncrementReconnect()
			}
			if err := m.Connect(ctx); err != nil {
				slog.Warn("Automatic reconnect failed", "error", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			slog.Debug("Dropping malformed frame", "error", err)
			continue
		}
		select {
		case m.events <- frame:
		default:
			slog.Warn("Event buffer full, dropping frame", "event", frame.Event)
		}
	}
}

// Send emits one event to the server.
func (m *Manager) Send(ctx context.Context, event string, payload interface{}) error {
	m.mu.Lock()
	ch := m.ch
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected || ch == nil {
		return errors.New("not connected")
	}

	data, err := json.Marshal(Frame{Event: event, Data: mustRaw(payload)})
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", event, err)
	}
	return ch.Write(ctx, data)
}

func mustRaw(payload interface{}) json.RawMessage {
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// Close tears the channel down locally. No automatic retry follows;
// that is the difference between logout and a dropped connection.
func (m *Manager) Close() {
	m.mu.Lock()
	m.localClose = true
	m.gen++
	ch := m.ch
	m.ch = nil
	m.state = StateIdle
	m.status = "closed"
	m.channelID = ""
	m.mu.Unlock()
	if ch != nil {
		_ = ch.Close()
	}
}

// Reconnect restarts the ladder from the first strategy, clearing an
// Exhausted state. Manual operation, bound to a key in the dashboard.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.state = StateIdle
	m.status = "reconnecting"
	m.mu.Unlock()
	return m.Connect(ctx)
}

func (m *Manager) setState(s State, status string) {
	m.mu.Lock()
	m.state = s
	m.status = status
	m.mu.Unlock()
}

func (m *Manager) setStatus(status string) {
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
}
