// Package engine orchestrates one conversational turn: load session state,
// short-circuit locked sessions, classify the user message, consolidate the
// turn's state delta, gate candidate tools, and commit exactly one state
// update per turn.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dialogdesk/dialogdesk/internal/classifier"
	"github.com/dialogdesk/dialogdesk/internal/gate"
	"github.com/dialogdesk/dialogdesk/internal/messaging"
	"github.com/dialogdesk/dialogdesk/internal/models"
	"github.com/dialogdesk/dialogdesk/internal/session"
)

const (
	// MaxSlotAttempts caps failed solicitations of one slot before the flow
	// pauses and stops re-asking.
	MaxSlotAttempts = 3
	// LockNotificationWindow rate-limits the canned lock message per session.
	LockNotificationWindow = 5 * time.Minute
)

// lockMessage is the canned reply sent when a locked session is contacted on
// a phone channel.
const lockMessage = "This conversation is currently closed. Please contact customer service for further assistance."

// Engine processes turns. Sender is optional; without one, locked sessions
// are still short-circuited but no outbound notification is sent.
type Engine struct {
	sessions   *session.Manager
	classifier *classifier.Classifier
	gate       *gate.Gate
	sender     messaging.Sender
	now        func() time.Time
}

// New creates a turn engine over the given collaborators.
func New(sessions *session.Manager, cls *classifier.Classifier, g *gate.Gate, sender messaging.Sender) *Engine {
	return &Engine{
		sessions:   sessions,
		classifier: cls,
		gate:       g,
		sender:     sender,
		now:        time.Now,
	}
}

// ProcessTurn runs one full turn for an inbound message. All intra-turn
// mutations are accumulated into a single update so the session manager
// performs at most one durable write. Classifier failures degrade silently;
// store failures propagate because the turn is not durable without them.
func (e *Engine) ProcessTurn(ctx context.Context, req models.TurnRequest) (*models.TurnResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	state, err := e.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", req.SessionID, err)
	}
	now := e.now()

	if state.Locked(now) {
		return e.processLockedTurn(ctx, req, state, now)
	}

	// A resolved flow moves to post_result on the next inbound turn; the
	// classifier sees the post-result context.
	view := *state
	update := models.StateUpdate{}
	if view.FlowStatus == models.FlowStatusResolved {
		view.FlowStatus = models.FlowStatusPostResult
		update["flow_status"] = string(models.FlowStatusPostResult)
	}

	result := e.classifier.Classify(ctx, &view, req.LastAssistantMessage, req.UserMessage, req.Language,
		classifier.Options{Channel: req.Channel})

	activeFlow := e.applyClassification(&view, result, update)

	allowed := e.gate.GatedTools(result.GatingConfidence(), activeFlow, req.CandidateTools)
	update["allowed_tools"] = allowed
	update["response_grounding"] = string(deriveGrounding(result))

	merged, err := e.sessions.Update(ctx, req.SessionID, update)
	if err != nil {
		return nil, fmt.Errorf("commit turn for session %s: %w", req.SessionID, err)
	}

	turnID := uuid.NewString()
	slog.Info("Engine.ProcessTurn: turn complete",
		"turnID", turnID, "sessionID", req.SessionID, "type", result.Type,
		"confidence", result.Confidence, "gatingConfidence", result.GatingConfidence(),
		"classifierFailed", result.ClassifierFailed, "allowedTools", len(allowed))

	return &models.TurnResult{
		TurnID:         turnID,
		SessionID:      req.SessionID,
		Classification: result,
		AllowedTools:   allowed,
		State:          merged,
	}, nil
}

// processLockedTurn handles a turn against a locked session: no
// classification, no tools, a canned notification on phone channels at most
// once per notification window, and a single state update recording the
// contact.
func (e *Engine) processLockedTurn(ctx context.Context, req models.TurnRequest, state *models.ConversationState, now time.Time) (*models.TurnResult, error) {
	update := models.StateUpdate{"allowed_tools": []string{}}

	if e.shouldNotifyLock(req, state, now) {
		if err := e.sender.SendMessage(ctx, req.Channel, req.ReplyTo, lockMessage); err != nil {
			// Notification is best-effort; the turn still commits.
			slog.Warn("Engine.processLockedTurn: lock notification failed",
				"error", err, "sessionID", req.SessionID, "channel", req.Channel)
		} else {
			update["lock"] = map[string]any{"last_lock_message_at": now}
		}
	}

	merged, err := e.sessions.Update(ctx, req.SessionID, update)
	if err != nil {
		return nil, fmt.Errorf("commit locked turn for session %s: %w", req.SessionID, err)
	}

	turnID := uuid.NewString()
	slog.Info("Engine.ProcessTurn: locked session contacted",
		"turnID", turnID, "sessionID", req.SessionID, "reason", state.Lock.Reason)

	return &models.TurnResult{
		TurnID:       turnID,
		SessionID:    req.SessionID,
		Locked:       true,
		LockReason:   state.Lock.Reason,
		AllowedTools: []string{},
		State:        merged,
	}, nil
}

func (e *Engine) shouldNotifyLock(req models.TurnRequest, state *models.ConversationState, now time.Time) bool {
	if e.sender == nil || req.ReplyTo == "" {
		return false
	}
	switch req.Channel {
	case models.ChannelPhone, models.ChannelWhatsApp, models.ChannelSMS:
	default:
		return false
	}
	last := state.Lock.LastLockMessageAt
	return last == nil || now.Sub(*last) >= LockNotificationWindow
}

// applyClassification folds the classification into the turn delta and
// returns the active flow the gate should evaluate against.
func (e *Engine) applyClassification(view *models.ConversationState, result models.ClassificationResult, update models.StateUpdate) models.FlowType {
	activeFlow := view.ActiveFlow

	switch result.Type {
	case models.MessageTypeSlotAnswer:
		filled := e.collectSlots(view, result, update)
		if !filled {
			e.countFailedAttempt(view, update)
		}

	case models.MessageTypeChatter:
		if view.ExpectedSlot != "" {
			e.countFailedAttempt(view, update)
		}

	case models.MessageTypeFollowupDispute:
		// The dispute is answered against the anchor; flow stays where the
		// delivered result left it.

	case models.MessageTypeNewIntent:
		// Topic switches take priority over a pending slot.
		if view.ExpectedSlot != "" {
			update["expected_slot"] = ""
		}
		switch {
		case view.FlowStatus == models.FlowStatusPostResult:
			update["flow_status"] = string(models.FlowStatusIdle)
		case view.FlowStatus == models.FlowStatusIdle && result.SuggestedFlow != models.FlowNone:
			update["active_flow"] = string(result.SuggestedFlow)
			update["flow_status"] = string(models.FlowStatusInProgress)
			activeFlow = result.SuggestedFlow
		case view.FlowStatus == models.FlowStatusInProgress && result.SuggestedFlow != models.FlowNone:
			update["active_flow"] = string(result.SuggestedFlow)
			activeFlow = result.SuggestedFlow
		}
	}

	return activeFlow
}

// collectSlots merges the non-blank extracted slot values into the state and
// reports whether the currently expected slot was among them.
func (e *Engine) collectSlots(view *models.ConversationState, result models.ClassificationResult, update models.StateUpdate) bool {
	slots := make(map[string]any, len(result.ExtractedSlots))
	for name, value := range result.ExtractedSlots {
		if name == "" || value == "" {
			continue
		}
		slots[name] = value
	}
	if len(slots) == 0 {
		return false
	}
	update["collected_slots"] = slots

	if view.ExpectedSlot == "" {
		return true
	}
	if _, ok := slots[view.ExpectedSlot]; !ok {
		return false
	}
	update["expected_slot"] = ""
	update["slot_attempts"] = map[string]any{view.ExpectedSlot: 0}
	return true
}

// countFailedAttempt increments the pending slot's failed-attempt counter
// and, at the cap, clears the solicitation and pauses the flow so the
// conversation stops re-asking.
func (e *Engine) countFailedAttempt(view *models.ConversationState, update models.StateUpdate) {
	slot := view.ExpectedSlot
	if slot == "" {
		return
	}
	attempts := view.SlotAttempts[slot] + 1
	update["slot_attempts"] = map[string]any{slot: attempts}
	if attempts >= MaxSlotAttempts && models.CanTransition(view.FlowStatus, models.FlowStatusPaused) {
		update["expected_slot"] = ""
		update["flow_status"] = string(models.FlowStatusPaused)
		slog.Info("Engine.countFailedAttempt: slot retry cap reached, pausing flow",
			"sessionID", view.SessionID, "slot", slot, "attempts", attempts)
	}
}

// deriveGrounding maps the classification onto the signal the downstream
// response generator reads.
func deriveGrounding(result models.ClassificationResult) models.ResponseGrounding {
	switch result.Type {
	case models.MessageTypeSlotAnswer, models.MessageTypeFollowupDispute:
		return models.GroundingGrounded
	case models.MessageTypeChatter:
		return models.GroundingOutOfScope
	default:
		if result.GatingConfidence() < gate.MinToolConfidence {
			return models.GroundingClarification
		}
		return models.GroundingUngrounded
	}
}

// CheckTool is the runtime per-call authorization check exposed to tool
// executors: it re-reads the session and evaluates the gate against the
// context as it stands now, not as it stood at turn start.
func (e *Engine) CheckTool(ctx context.Context, sessionID, toolName string, confidence float64) (gate.Decision, error) {
	state, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return gate.Decision{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if state.Locked(e.now()) {
		return gate.Decision{Allowed: false, Reason: "session is locked"}, nil
	}
	return e.gate.CanExecute(toolName, gate.ToolContext{
		Confidence:         confidence,
		ActiveFlow:         state.ActiveFlow,
		VerificationStatus: state.Verification.Status,
	}), nil
}

// Sessions exposes the session manager for the API layer's direct
// session operations.
func (e *Engine) Sessions() *session.Manager {
	return e.sessions
}
