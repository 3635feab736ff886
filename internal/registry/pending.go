package registry

import (
	"sync"
	"time"
)

// PendingCommand correlates an issued command to the user who issued
// it until the processor's result arrives or the entry ages out.
type PendingCommand struct {
	CommandID string
	UserID    int64
	Username  string
	IssuedAt  time.Time
}

// PendingTable is the short-lived command correlation table. Entries
// are swept opportunistically from the mutation paths rather than by a
// dedicated timer.
type PendingTable struct {
	mu      sync.Mutex
	entries map[string]PendingCommand
	ttl     time.Duration
	now     func() time.Time
}

// NewPendingTable creates a table whose entries expire after ttl.
func NewPendingTable(ttl time.Duration) *PendingTable {
	return &PendingTable{
		entries: make(map[string]PendingCommand),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Record inserts a pending command with the current timestamp.
func (t *PendingTable) Record(commandID string, userID int64, username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked()
	t.entries[commandID] = PendingCommand{
		CommandID: commandID,
		UserID:    userID,
		Username:  username,
		IssuedAt:  t.now(),
	}
}

// Consume atomically reads and deletes the entry, returning nil when
// absent or expired. Take semantics guarantee a command resolves at
// most once.
func (t *PendingTable) Consume(commandID string) *PendingCommand {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked()
	entry, ok := t.entries[commandID]
	if !ok {
		return nil
	}
	delete(t.entries, commandID)
	return &entry
}

// ForUser lists pending commands issued by a user, for diagnostics.
func (t *PendingTable) ForUser(userID int64) []PendingCommand {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked()
	var out []PendingCommand
	for _, e := range t.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of live entries.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked()
	return len(t.entries)
}

func (t *PendingTable) sweepLocked() {
	cutoff := t.now().Add(-t.ttl)
	for id, e := range t.entries {
		if e.IssuedAt.Before(cutoff) {
			delete(t.entries, id)
		}
	}
}
