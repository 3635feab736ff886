// Package registry tracks which push channels belong to which user,
// and which issued commands are still awaiting a result. All state is
// process-scoped and deliberately unpersisted: a restart orphans
// in-flight commands, and their results are reported as undelivered.
package registry

import (
	"log/slog"
	"sync"
)

// Sender delivers one event to a single channel. Implemented by the
// websocket layer; swapped for a double in tests.
type Sender interface {
	Send(event string, payload interface{}) error
}

type binding struct {
	userID   int64
	username string
	sender   Sender
}

// Registry is the bidirectional user/channel mapping.
type Registry struct {
	mu       sync.RWMutex
	byUser   map[int64]map[string]struct{}
	byChan   map[string]binding
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byUser: make(map[int64]map[string]struct{}),
		byChan: make(map[string]binding),
	}
}

// Register binds a channel to a user. A channel id appears in at most
// one binding: re-registering an id moves it to the new user.
func (r *Registry) Register(userID int64, username, channelID string, sender Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byChan[channelID]; ok && prev.userID != userID {
		r.removeLocked(prev.userID, channelID)
	}

	if _, ok := r.byUser[userID]; !ok {
		r.byUser[userID] = make(map[string]struct{})
	}
	r.byUser[userID][channelID] = struct{}{}
	r.byChan[channelID] = binding{userID: userID, username: username, sender: sender}
	slog.Info("Channel registered", "user_id", userID, "channel_id", channelID)
}

// Unregister removes a channel binding. When the user's last channel
// closes the per-user entry is dropped entirely, which is how "user
// has no active connections" becomes observable.
func (r *Registry) Unregister(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byChan[channelID]
	if !ok {
		return
	}
	r.removeLocked(b.userID, channelID)
	slog.Info("Channel unregistered", "user_id", b.userID, "channel_id", channelID)
}

func (r *Registry) removeLocked(userID int64, channelID string) {
	delete(r.byChan, channelID)
	if set, ok := r.byUser[userID]; ok {
		delete(set, channelID)
		if len(set) == 0 {
			delete(r.byUser, userID)
			slog.Info("User has no active connections", "user_id", userID)
		}
	}
}

// Lookup resolves a channel id back to its owner. The second return
// is false when the channel has already closed.
func (r *Registry) Lookup(channelID string) (userID int64, username string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byChan[channelID]
	return b.userID, b.username, ok
}

// ChannelCount returns the number of open channels for a user.
func (r *Registry) ChannelCount(userID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// Channels returns the channel ids currently bound to a user.
func (r *Registry) Channels(userID int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byUser[userID]))
	for id := range r.byUser[userID] {
		out = append(out, id)
	}
	return out
}

// Stats reports totals for the health endpoint.
func (r *Registry) Stats() (channels, users int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byChan), len(r.byUser)
}

// EmitToUser fans one event out to every channel bound to the user and
// returns how many channels it reached. Zero is not an error; the
// caller decides what an undelivered result means.
func (r *Registry) EmitToUser(userID int64, event string, payload interface{}) int {
	r.mu.RLock()
	senders := make([]Sender, 0, len(r.byUser[userID]))
	ids := make([]string, 0, len(r.byUser[userID]))
	for channelID := range r.byUser[userID] {
		if b, ok := r.byChan[channelID]; ok {
			senders = append(senders, b.sender)
			ids = append(ids, channelID)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for i, s := range senders {
		if err := s.Send(event, payload); err != nil {
			slog.Warn("Channel send failed", "user_id", userID, "channel_id", ids[i], "error", err)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		slog.Info("No active channels for user", "user_id", userID, "event", event)
	}
	return delivered
}
