package session

import (
	"testing"
	"time"

	"github.com/dialogdesk/dialogdesk/internal/models"
)

func baseState(t *testing.T) *models.ConversationState {
	t.Helper()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s := models.NewConversationState("sess-merge", now)
	s.ActiveFlow = models.FlowOrderStatus
	s.FlowStatus = models.FlowStatusInProgress
	s.CollectedSlots = map[string]string{"order_number": "SP001234", "phone": "+15551234567"}
	s.MessageCount = 4
	return s
}

func TestApplyUpdatePreservesOmittedSlots(t *testing.T) {
	s := baseState(t)
	now := time.Now()

	merged, err := applyUpdate(s, models.StateUpdate{
		"collected_slots": map[string]any{"customer_name": "Ada Lovelace"},
	}, now)
	if err != nil {
		t.Fatalf("applyUpdate failed: %v", err)
	}

	if merged.CollectedSlots["order_number"] != "SP001234" {
		t.Error("previously collected order_number was lost")
	}
	if merged.CollectedSlots["phone"] != "+15551234567" {
		t.Error("previously collected phone was lost")
	}
	if merged.CollectedSlots["customer_name"] != "Ada Lovelace" {
		t.Error("new slot not merged in")
	}
}

func TestApplyUpdateDropsBlankSlotValues(t *testing.T) {
	s := baseState(t)

	merged, err := applyUpdate(s, models.StateUpdate{
		"collected_slots": map[string]any{"order_number": "", "tracking_number": "TRK9988"},
	}, time.Now())
	if err != nil {
		t.Fatalf("applyUpdate failed: %v", err)
	}

	if merged.CollectedSlots["order_number"] != "SP001234" {
		t.Errorf("blank value overwrote collected slot: %q", merged.CollectedSlots["order_number"])
	}
	if merged.CollectedSlots["tracking_number"] != "TRK9988" {
		t.Error("non-blank slot not collected")
	}
}

func TestApplyUpdateReplacesScalarsAndArrays(t *testing.T) {
	s := baseState(t)
	s.AllowedTools = []string{"customer_data_lookup", "order_status_lookup"}

	merged, err := applyUpdate(s, models.StateUpdate{
		"flow_status":   string(models.FlowStatusResolved),
		"allowed_tools": []string{"order_status_lookup"},
	}, time.Now())
	if err != nil {
		t.Fatalf("applyUpdate failed: %v", err)
	}

	if merged.FlowStatus != models.FlowStatusResolved {
		t.Errorf("flow_status = %q, want resolved", merged.FlowStatus)
	}
	if len(merged.AllowedTools) != 1 || merged.AllowedTools[0] != "order_status_lookup" {
		t.Errorf("arrays must be replaced wholesale, got %v", merged.AllowedTools)
	}
}

func TestApplyUpdateMergesNestedObjects(t *testing.T) {
	s := baseState(t)
	lockedAt := time.Date(2025, 3, 10, 12, 5, 0, 0, time.UTC)
	s.Lock = models.SessionLock{Reason: models.LockReasonSpam, LockedAt: &lockedAt}

	sent := time.Date(2025, 3, 10, 12, 10, 0, 0, time.UTC)
	merged, err := applyUpdate(s, models.StateUpdate{
		"lock": map[string]any{"last_lock_message_at": sent},
	}, time.Now())
	if err != nil {
		t.Fatalf("applyUpdate failed: %v", err)
	}

	if merged.Lock.Reason != models.LockReasonSpam {
		t.Error("nested merge dropped lock.reason")
	}
	if merged.Lock.LockedAt == nil || !merged.Lock.LockedAt.Equal(lockedAt) {
		t.Error("nested merge dropped lock.locked_at")
	}
	if merged.Lock.LastLockMessageAt == nil || !merged.Lock.LastLockMessageAt.Equal(sent) {
		t.Error("nested merge did not apply lock.last_lock_message_at")
	}
}

func TestApplyUpdateMessageCount(t *testing.T) {
	s := baseState(t)

	merged, err := applyUpdate(s, models.StateUpdate{}, time.Now())
	if err != nil {
		t.Fatalf("applyUpdate failed: %v", err)
	}
	if merged.MessageCount != 5 {
		t.Errorf("MessageCount = %d, want auto-incremented 5", merged.MessageCount)
	}

	merged, err = applyUpdate(s, models.StateUpdate{"message_count": 42}, time.Now())
	if err != nil {
		t.Fatalf("applyUpdate failed: %v", err)
	}
	if merged.MessageCount != 42 {
		t.Errorf("MessageCount = %d, want explicit 42", merged.MessageCount)
	}
}

func TestApplyUpdateStampsActivityAndKeepsSession(t *testing.T) {
	s := baseState(t)
	now := time.Date(2025, 3, 10, 12, 30, 0, 0, time.UTC)

	merged, err := applyUpdate(s, models.StateUpdate{"session_id": "other"}, now)
	if err != nil {
		t.Fatalf("applyUpdate failed: %v", err)
	}
	if merged.SessionID != "sess-merge" {
		t.Errorf("merge moved state between sessions: %q", merged.SessionID)
	}
	if !merged.LastActivityAt.Equal(now) {
		t.Errorf("LastActivityAt = %v, want %v", merged.LastActivityAt, now)
	}
}
