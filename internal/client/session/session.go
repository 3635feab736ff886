// Package session persists the dashboard's login session across
// restarts. One JSON file under the user config dir holds the current
// session; a record older than 24 hours is treated as absent.
package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TTL is how long a session stays valid after creation.
const TTL = 24 * time.Hour

// Session is the persisted session record. The channel binding keeps
// the record's original socketId key so existing files stay readable.
type Session struct {
	SessionID      string    `json:"sessionId"`
	UserID         int64     `json:"userId"`
	Username       string    `json:"username"`
	Token          string    `json:"token"`
	ChannelID      string    `json:"socketId,omitempty"`
	LastCommandID  string    `json:"commandId,omitempty"`
	ReconnectCount int       `json:"reconnectCount"`
	CreatedAt      time.Time `json:"timestamp"`
	LastActiveAt   time.Time `json:"lastActive"`
}

// Store reads and writes the session file. Every mutation is persisted
// immediately so an abrupt exit loses at most the in-flight change.
type Store struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
	cur  *Session
}

// DefaultPath returns the session file location under the user config
// directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tojvs", "session.json"), nil
}

// NewStore creates a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Load returns the persisted session, or nil when the file is absent,
// unreadable, corrupt, expired, or missing its credential. A broken
// record is never an error to the caller; the user just logs in again.
func (s *Store) Load() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil
	}
	if sess.SessionID == "" || sess.UserID == 0 || sess.Token == "" {
		return nil
	}
	if s.now().Sub(sess.CreatedAt) > TTL {
		return nil
	}

	s.cur = &sess
	return s.snapshot()
}

// Create starts a fresh session after a successful login and persists
// it, replacing whatever was stored before.
func (s *Store) Create(userID int64, username, token string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.cur = &Session{
		SessionID:    uuid.NewString(),
		UserID:       userID,
		Username:     username,
		Token:        token,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	s.persistLocked()
	return s.snapshot()
}

// Touch refreshes the last-active timestamp.
func (s *Store) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return
	}
	s.cur.LastActiveAt = s.now()
	s.persistLocked()
}

// BindChannel records the current push channel id.
func (s *Store) BindChannel(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return
	}
	s.cur.ChannelID = channelID
	s.cur.LastActiveAt = s.now()
	s.persistLocked()
}

// BindCommand records the most recently issued command id.
func (s *Store) BindCommand(commandID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return
	}
	s.cur.LastCommandID = commandID
	s.cur.LastActiveAt = s.now()
	s.persistLocked()
}

// IncrementReconnect bumps the reconnect counter; ResetReconnect zeroes
// it after a successful connect.
func (s *Store) IncrementReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return
	}
	s.cur.ReconnectCount++
	s.persistLocked()
}

// ResetReconnect zeroes the reconnect counter.
func (s *Store) ResetReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || s.cur.ReconnectCount == 0 {
		return
	}
	s.cur.ReconnectCount = 0
	s.persistLocked()
}

// Current returns the in-memory session, or nil when logged out.
func (s *Store) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Clear erases the session. Called on logout.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = nil
	_ = os.Remove(s.path)
}

func (s *Store) snapshot() *Session {
	if s.cur == nil {
		return nil
	}
	cp := *s.cur
	return &cp
}

// persistLocked writes the session atomically: a temp file rename
// cannot leave a half-written record for the next Load to choke on.
func (s *Store) persistLocked() {
	if s.cur == nil {
		return
	}
	data, err := json.MarshalIndent(s.cur, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return
	}
	_ = os.Rename(tmp, s.path)
}
