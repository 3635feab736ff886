package registry

import (
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"
)

type fakeSender struct {
	mu     sync.Mutex
	events []string
	fail   bool
}

func (f *fakeSender) Send(event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("send failed")
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func TestRegistry_RegisterLookup(t *testing.T) {
	r := New()
	r.Register(42, "alice", "chan-1", &fakeSender{})

	userID, username, ok := r.Lookup("chan-1")
	if !ok {
		t.Fatal("Expected channel to be registered")
	}
	if userID != 42 || username != "alice" {
		t.Errorf("Expected (42, alice), got (%d, %s)", userID, username)
	}
}

func TestRegistry_UnregisterDropsEmptyUser(t *testing.T) {
	r := New()
	r.Register(42, "alice", "chan-1", &fakeSender{})
	r.Register(42, "alice", "chan-2", &fakeSender{})

	r.Unregister("chan-1")
	if got := r.ChannelCount(42); got != 1 {
		t.Fatalf("Expected 1 channel after first close, got %d", got)
	}

	r.Unregister("chan-2")
	if got := r.ChannelCount(42); got != 0 {
		t.Errorf("Expected 0 channels after last close, got %d", got)
	}
	if _, _, ok := r.Lookup("chan-2"); ok {
		t.Error("Expected reverse mapping removed on close")
	}

	channels, users := r.Stats()
	if channels != 0 || users != 0 {
		t.Errorf("Expected empty registry, got %d channels, %d users", channels, users)
	}
}

func TestRegistry_ReRegisterMovesChannel(t *testing.T) {
	r := New()
	r.Register(1, "alice", "chan-1", &fakeSender{})
	r.Register(2, "bob", "chan-1", &fakeSender{})

	userID, _, ok := r.Lookup("chan-1")
	if !ok || userID != 2 {
		t.Errorf("Expected chan-1 moved to user 2, got user %d (ok=%v)", userID, ok)
	}
	if got := r.ChannelCount(1); got != 0 {
		t.Errorf("Expected user 1 to have no channels, got %d", got)
	}
}

func TestRegistry_EmitToUserFanOut(t *testing.T) {
	r := New()
	senders := []*fakeSender{{}, {}, {}}
	for i, s := range senders {
		r.Register(42, "alice", "chan-"+strconv.Itoa(i), s)
	}
	r.Register(7, "bob", "chan-other", &fakeSender{})

	delivered := r.EmitToUser(42, "command-result", map[string]string{"x": "y"})
	if delivered != 3 {
		t.Fatalf("Expected delivery to 3 channels, got %d", delivered)
	}
	for i, s := range senders {
		if s.count() != 1 {
			t.Errorf("Expected sender %d to receive 1 event, got %d", i, s.count())
		}
	}
}

func TestRegistry_EmitToUserNoChannels(t *testing.T) {
	r := New()
	if delivered := r.EmitToUser(99, "command-result", nil); delivered != 0 {
		t.Errorf("Expected 0 deliveries for unknown user, got %d", delivered)
	}
}

func TestRegistry_EmitToUserSkipsFailedSends(t *testing.T) {
	r := New()
	good := &fakeSender{}
	bad := &fakeSender{fail: true}
	r.Register(42, "alice", "chan-good", good)
	r.Register(42, "alice", "chan-bad", bad)

	if delivered := r.EmitToUser(42, "command-result", nil); delivered != 1 {
		t.Errorf("Expected 1 successful delivery, got %d", delivered)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			r.Register(42, "alice", "chan-"+strconv.Itoa(i), &fakeSender{})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			r.EmitToUser(42, "ping", nil)
			r.Unregister("chan-" + strconv.Itoa(i))
		}
	}()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Concurrent access deadlocked")
	}
}
