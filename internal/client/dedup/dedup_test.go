package dedup

import (
	"fmt"
	"testing"
	"time"

	"github.com/kinbanker/tojvs-new/internal/domain"
)

func result(commandID string, ts time.Time) *domain.DeliveredResult {
	return &domain.DeliveredResult{
		Type:      domain.ResultKanban,
		Timestamp: ts,
		CommandID: commandID,
	}
}

func TestFilter_Idempotence(t *testing.T) {
	f := New()
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if !f.Admit(result("cmd_1", ts)) {
		t.Fatal("Expected first delivery admitted")
	}
	if f.Admit(result("cmd_1", ts)) {
		t.Error("Expected duplicate delivery discarded")
	}
}

func TestFilter_DistinctKeysAdmitted(t *testing.T) {
	f := New()
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if !f.Admit(result("cmd_1", ts)) {
		t.Fatal("Expected admission")
	}
	// Same command id, different timestamp: distinct delivery.
	if !f.Admit(result("cmd_1", ts.Add(time.Second))) {
		t.Error("Expected different timestamp to be a distinct key")
	}
	// Same timestamp, different type.
	other := result("cmd_1", ts)
	other.Type = domain.ResultNews
	if !f.Admit(other) {
		t.Error("Expected different type to be a distinct key")
	}
}

func TestFilter_FallbackKeyAlwaysAdmits(t *testing.T) {
	f := New()
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// No command id: each delivery gets a generated key.
	if !f.Admit(result("", ts)) || !f.Admit(result("", ts)) {
		t.Error("Expected id-less results to always be admitted")
	}
}

func TestFilter_TrimsOldestHalf(t *testing.T) {
	f := NewWithCapacity(10)
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 11; i++ {
		f.Admit(result(fmt.Sprintf("cmd_%d", i), ts))
	}

	// Overflow trimmed the oldest half; early keys are forgotten.
	if f.Len() > 10 {
		t.Errorf("Expected bounded key set, got %d", f.Len())
	}
	if !f.Admit(result("cmd_0", ts)) {
		t.Error("Expected trimmed key to be re-admitted")
	}
	if f.Admit(result("cmd_10", ts)) {
		t.Error("Expected recent key to still be deduplicated")
	}
}
