// Package dedup suppresses re-processing of results the client has
// already seen. The window is bounded and best-effort: a result older
// than the retained window could be admitted again, which is accepted
// because stale results are flagged as historical downstream.
package dedup

import (
	"sync"

	"github.com/google/uuid"
	"github.com/kinbanker/tojvs-new/internal/domain"
)

// DefaultCapacity is how many admitted keys the filter retains.
const DefaultCapacity = 100

// Filter is a bounded admitted-key set. When the bound is exceeded the
// oldest half is trimmed in one step, keeping admission O(1) amortized.
type Filter struct {
	mu    sync.Mutex
	max   int
	order []string
	seen  map[string]struct{}
}

// New creates a filter retaining the default number of keys.
func New() *Filter {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity creates a filter with an explicit bound.
func NewWithCapacity(max int) *Filter {
	if max < 2 {
		max = 2
	}
	return &Filter{
		max:  max,
		seen: make(map[string]struct{}, max),
	}
}

// Admit reports whether the result should be processed. The first call
// for a given (timestamp, type, commandId) triple returns true; repeats
// inside the retained window return false. A result without a command
// id gets a generated fallback key, so it is always admitted.
func (f *Filter) Admit(res *domain.DeliveredResult) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := Key(res)
	if _, ok := f.seen[key]; ok {
		return false
	}

	f.seen[key] = struct{}{}
	f.order = append(f.order, key)
	if len(f.order) > f.max {
		f.trimLocked()
	}
	return true
}

// Key computes the admission key for a result.
func Key(res *domain.DeliveredResult) string {
	id := res.CommandID
	if id == "" {
		id = uuid.NewString()
	}
	return res.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00") + "|" + string(res.Type) + "|" + id
}

// Len returns the number of retained keys.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}

// trimLocked drops the oldest half of the retained keys.
func (f *Filter) trimLocked() {
	cut := len(f.order) / 2
	for _, key := range f.order[:cut] {
		delete(f.seen, key)
	}
	f.order = append(f.order[:0], f.order[cut:]...)
}
