package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/dialogdesk/dialogdesk/internal/classifier"
	"github.com/dialogdesk/dialogdesk/internal/gate"
	"github.com/dialogdesk/dialogdesk/internal/messaging"
	"github.com/dialogdesk/dialogdesk/internal/models"
	"github.com/dialogdesk/dialogdesk/internal/session"
	"github.com/dialogdesk/dialogdesk/internal/store"
)

// fakeLLM is a hand-rolled chat client returning a fixed payload.
type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) GenerateStructured(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f.response, f.err
}

// countingStore counts durable writes behind the session manager.
type countingStore struct {
	store.Store
	upserts int
}

func (c *countingStore) UpsertSession(rec store.SessionRecord) error {
	c.upserts++
	return c.Store.UpsertSession(rec)
}

type testEnv struct {
	engine   *Engine
	sessions *session.Manager
	backing  *countingStore
	sender   *messaging.MockSender
}

func newTestEnv(t *testing.T, llm *fakeLLM) *testEnv {
	t.Helper()
	backing := &countingStore{Store: store.NewInMemoryStore()}
	sessions := session.NewManager(backing, session.DefaultTTL)
	sender := messaging.NewMockSender()

	var cls *classifier.Classifier
	if llm != nil {
		cls = classifier.New(llm)
	} else {
		cls = classifier.New(nil)
	}

	eng := New(sessions, cls, gate.NewDefault(), sender)
	return &testEnv{engine: eng, sessions: sessions, backing: backing, sender: sender}
}

func seedSession(t *testing.T, env *testEnv, sessionID string, update models.StateUpdate) {
	t.Helper()
	if _, err := env.sessions.Update(context.Background(), sessionID, update); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func TestProcessTurnSlotAnswerCommitsOnce(t *testing.T) {
	env := newTestEnv(t, &fakeLLM{response: `{
		"type": "SLOT_ANSWER",
		"confidence": 0.93,
		"reason": "message is the solicited order number",
		"extracted_slots": {"order_number": "SP001234"},
		"trigger_rule": "expected_slot_match"
	}`})
	ctx := context.Background()

	seedSession(t, env, "sess-1", models.StateUpdate{
		"active_flow":   string(models.FlowOrderStatus),
		"flow_status":   string(models.FlowStatusInProgress),
		"expected_slot": models.SlotOrderNumber,
	})
	writesBefore := env.backing.upserts

	res, err := env.engine.ProcessTurn(ctx, models.TurnRequest{
		SessionID:            "sess-1",
		LastAssistantMessage: "Could you share your order number?",
		UserMessage:          "SP001234",
		Language:             "en",
		Channel:              models.ChannelWebChat,
		CandidateTools:       []string{"order_status_lookup"},
	})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}

	if env.backing.upserts-writesBefore != 1 {
		t.Errorf("durable writes during turn = %d, want exactly 1", env.backing.upserts-writesBefore)
	}
	if res.TurnID == "" {
		t.Error("missing turn id")
	}
	if res.State.CollectedSlots[models.SlotOrderNumber] != "SP001234" {
		t.Errorf("slot not collected: %v", res.State.CollectedSlots)
	}
	if res.State.ExpectedSlot != "" {
		t.Errorf("expected_slot not cleared: %q", res.State.ExpectedSlot)
	}
	if res.State.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", res.State.MessageCount)
	}
	if len(res.AllowedTools) != 1 || res.AllowedTools[0] != "order_status_lookup" {
		t.Errorf("AllowedTools = %v", res.AllowedTools)
	}
	if res.State.ResponseGrounding != models.GroundingGrounded {
		t.Errorf("ResponseGrounding = %s", res.State.ResponseGrounding)
	}
}

func TestProcessTurnDegradedClassifierKeepsToolsClosed(t *testing.T) {
	// No LLM configured: the fallback fires with heuristic confidence 0.8,
	// but gating must see the degraded ceiling and authorize nothing.
	env := newTestEnv(t, nil)

	seedSession(t, env, "sess-2", models.StateUpdate{
		"active_flow":   string(models.FlowOrderStatus),
		"flow_status":   string(models.FlowStatusInProgress),
		"expected_slot": models.SlotOrderNumber,
	})

	res, err := env.engine.ProcessTurn(context.Background(), models.TurnRequest{
		SessionID:      "sess-2",
		UserMessage:    "SP001234",
		Language:       "en",
		CandidateTools: []string{"order_status_lookup", "customer_data_lookup"},
	})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}

	if res.Classification.Type != models.MessageTypeSlotAnswer || res.Classification.Confidence != 0.8 {
		t.Fatalf("fallback classification = (%s, %v)", res.Classification.Type, res.Classification.Confidence)
	}
	if !res.Classification.ClassifierFailed {
		t.Error("fallback result not marked failed")
	}
	if len(res.AllowedTools) != 0 {
		t.Errorf("degraded classifier must never unlock tools, got %v", res.AllowedTools)
	}
	// The slot value itself is still collected; degradation affects tools,
	// not the conversation.
	if res.State.CollectedSlots[models.SlotOrderNumber] != "SP001234" {
		t.Errorf("slot not collected on fallback: %v", res.State.CollectedSlots)
	}
}

func TestProcessTurnLockedSessionShortCircuits(t *testing.T) {
	env := newTestEnv(t, &fakeLLM{response: `{"type": "NEW_INTENT", "confidence": 0.99}`})
	ctx := context.Background()

	seedSession(t, env, "sess-3", models.StateUpdate{
		"lock": map[string]any{"reason": string(models.LockReasonAbuse)},
	})

	req := models.TurnRequest{
		SessionID:      "sess-3",
		UserMessage:    "let me book an appointment",
		Channel:        models.ChannelWhatsApp,
		ReplyTo:        "+15551234567",
		CandidateTools: []string{"calendly_book"},
	}
	res, err := env.engine.ProcessTurn(ctx, req)
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}

	if !res.Locked || res.LockReason != models.LockReasonAbuse {
		t.Fatalf("locked=%v reason=%s", res.Locked, res.LockReason)
	}
	if len(res.AllowedTools) != 0 {
		t.Errorf("locked session authorized tools: %v", res.AllowedTools)
	}
	if res.Classification.Type != "" {
		t.Error("locked session must not be classified")
	}
	if len(env.sender.SentMessages) != 1 {
		t.Fatalf("lock notifications sent = %d, want 1", len(env.sender.SentMessages))
	}
	if res.State.Lock.LastLockMessageAt == nil {
		t.Error("last_lock_message_at not recorded")
	}
	if res.State.Lock.Reason != models.LockReasonAbuse {
		t.Error("nested lock merge dropped the reason")
	}

	// A second contact inside the notification window stays silent.
	if _, err := env.engine.ProcessTurn(ctx, req); err != nil {
		t.Fatalf("second ProcessTurn failed: %v", err)
	}
	if len(env.sender.SentMessages) != 1 {
		t.Errorf("lock notification not rate-limited: %d sent", len(env.sender.SentMessages))
	}
}

func TestProcessTurnLockNotificationSkipsWebChat(t *testing.T) {
	env := newTestEnv(t, nil)
	seedSession(t, env, "sess-4", models.StateUpdate{
		"lock": map[string]any{"reason": string(models.LockReasonSpam)},
	})

	if _, err := env.engine.ProcessTurn(context.Background(), models.TurnRequest{
		SessionID:   "sess-4",
		UserMessage: "hello?",
		Channel:     models.ChannelWebChat,
		ReplyTo:     "+15551234567",
	}); err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if len(env.sender.SentMessages) != 0 {
		t.Errorf("web chat lock contact must not trigger Twilio, sent %d", len(env.sender.SentMessages))
	}
}

func TestProcessTurnResolvedMovesToPostResult(t *testing.T) {
	env := newTestEnv(t, &fakeLLM{response: `{"type": "CHATTER", "confidence": 0.9, "reason": "gratitude"}`})

	seedSession(t, env, "sess-5", models.StateUpdate{
		"active_flow": string(models.FlowOrderStatus),
		"flow_status": string(models.FlowStatusResolved),
	})

	res, err := env.engine.ProcessTurn(context.Background(), models.TurnRequest{
		SessionID:   "sess-5",
		UserMessage: "thanks a lot",
		Language:    "en",
	})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if res.State.FlowStatus != models.FlowStatusPostResult {
		t.Errorf("FlowStatus = %s, want post_result", res.State.FlowStatus)
	}
	if res.State.ResponseGrounding != models.GroundingOutOfScope {
		t.Errorf("ResponseGrounding = %s, want OUT_OF_SCOPE for chatter", res.State.ResponseGrounding)
	}
}

func TestProcessTurnNewIntentLeavesPostResult(t *testing.T) {
	env := newTestEnv(t, &fakeLLM{response: `{"type": "NEW_INTENT", "confidence": 0.88, "suggested_flow": "COMPLAINT"}`})

	seedSession(t, env, "sess-6", models.StateUpdate{
		"active_flow": string(models.FlowOrderStatus),
		"flow_status": string(models.FlowStatusPostResult),
	})

	res, err := env.engine.ProcessTurn(context.Background(), models.TurnRequest{
		SessionID:   "sess-6",
		UserMessage: "actually I want to complain about the courier",
		Language:    "en",
	})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if res.State.FlowStatus != models.FlowStatusIdle {
		t.Errorf("FlowStatus = %s, want idle after new intent", res.State.FlowStatus)
	}
}

func TestProcessTurnNewIntentStartsFlowFromIdle(t *testing.T) {
	env := newTestEnv(t, &fakeLLM{response: `{"type": "NEW_INTENT", "confidence": 0.9, "suggested_flow": "APPOINTMENT"}`})

	res, err := env.engine.ProcessTurn(context.Background(), models.TurnRequest{
		SessionID:      "sess-7",
		UserMessage:    "I need to book a service appointment",
		Language:       "en",
		CandidateTools: []string{"calendly_book"},
	})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if res.State.ActiveFlow != models.FlowAppointment || res.State.FlowStatus != models.FlowStatusInProgress {
		t.Errorf("flow = (%s, %s), want (APPOINTMENT, in_progress)", res.State.ActiveFlow, res.State.FlowStatus)
	}
	// The gate evaluates against the flow the turn switched into.
	if len(res.AllowedTools) != 1 || res.AllowedTools[0] != "calendly_book" {
		t.Errorf("AllowedTools = %v, want [calendly_book]", res.AllowedTools)
	}
}

func TestProcessTurnSlotRetryCapPausesFlow(t *testing.T) {
	env := newTestEnv(t, &fakeLLM{response: `{"type": "CHATTER", "confidence": 0.8, "reason": "venting, no order number"}`})

	seedSession(t, env, "sess-8", models.StateUpdate{
		"active_flow":   string(models.FlowOrderStatus),
		"flow_status":   string(models.FlowStatusInProgress),
		"expected_slot": models.SlotOrderNumber,
		"slot_attempts": map[string]any{models.SlotOrderNumber: 2},
	})

	res, err := env.engine.ProcessTurn(context.Background(), models.TurnRequest{
		SessionID:   "sess-8",
		UserMessage: "this is so frustrating",
		Language:    "en",
	})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if res.State.SlotAttempts[models.SlotOrderNumber] != 3 {
		t.Errorf("slot attempts = %d, want 3", res.State.SlotAttempts[models.SlotOrderNumber])
	}
	if res.State.ExpectedSlot != "" {
		t.Error("expected_slot not cleared at the retry cap")
	}
	if res.State.FlowStatus != models.FlowStatusPaused {
		t.Errorf("FlowStatus = %s, want paused", res.State.FlowStatus)
	}
}

func TestProcessTurnValidatesRequest(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.engine.ProcessTurn(context.Background(), models.TurnRequest{UserMessage: "hi"})
	if !errors.Is(err, models.ErrEmptySessionID) {
		t.Errorf("err = %v, want ErrEmptySessionID", err)
	}
	_, err = env.engine.ProcessTurn(context.Background(), models.TurnRequest{SessionID: "s"})
	if !errors.Is(err, models.ErrEmptyUserMessage) {
		t.Errorf("err = %v, want ErrEmptyUserMessage", err)
	}
}

func TestCheckToolDeniesLockedSession(t *testing.T) {
	env := newTestEnv(t, nil)
	seedSession(t, env, "sess-9", models.StateUpdate{
		"lock": map[string]any{"reason": string(models.LockReasonThreat)},
	})

	d, err := env.engine.CheckTool(context.Background(), "sess-9", "customer_data_lookup", 0.9)
	if err != nil {
		t.Fatalf("CheckTool failed: %v", err)
	}
	if d.Allowed {
		t.Error("locked session must deny all tool execution")
	}
}

func TestCheckToolVerification(t *testing.T) {
	env := newTestEnv(t, nil)
	seedSession(t, env, "sess-10", models.StateUpdate{
		"active_flow":  string(models.FlowDebtInquiry),
		"flow_status":  string(models.FlowStatusInProgress),
		"verification": map[string]any{"status": string(models.VerificationVerified)},
	})

	d, err := env.engine.CheckTool(context.Background(), "sess-10", "debt_lookup", 0.9)
	if err != nil {
		t.Fatalf("CheckTool failed: %v", err)
	}
	if !d.Allowed {
		t.Errorf("verified debt lookup denied: %+v", d)
	}
}
