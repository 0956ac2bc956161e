package classifier

import (
	"fmt"
	"strings"

	"github.com/dialogdesk/dialogdesk/internal/models"
)

// Truncation limits for the context block sent to the LLM.
const (
	maxAssistantContext = 300
	maxAnchorContext    = 240
)

// systemPrompt constrains the LLM to the four-variant classification schema.
const systemPrompt = `You classify one customer message inside an ongoing support conversation.

Return a single JSON object with exactly these fields:
  "type": one of "SLOT_ANSWER", "FOLLOWUP_DISPUTE", "NEW_INTENT", "CHATTER"
  "confidence": number between 0 and 1
  "reason": short justification in English
  "suggested_flow": one of "ORDER_STATUS", "DEBT_INQUIRY", "COMPLAINT", "APPOINTMENT", "PRODUCT_INFO", "GENERAL" or "" when not applicable
  "extracted_slots": object mapping slot names to values found in the message (order numbers, phone numbers, names); empty object when none
  "trigger_rule": short machine tag for what drove the decision, e.g. "expected_slot_match" or "anchor_contradiction"; "" when none

Definitions:
- SLOT_ANSWER: the message supplies the value currently being solicited (see "expected slot").
- FOLLOWUP_DISPUTE: the flow already delivered a result and the message contradicts or disputes it. Compare against the ground truth summary when provided.
- NEW_INTENT: the message opens a different topic than the active flow. Topic switches take priority over a pending slot.
- CHATTER: gratitude, acknowledgment, venting, or other content with no actionable request.

Classify the message in the language it is written in. Output only the JSON object.`

// buildTurnPrompt renders the session context and the utterance pair into
// the user prompt for the classification call.
func buildTurnPrompt(state *models.ConversationState, lastAssistant, userMessage, language string) string {
	var b strings.Builder

	b.WriteString("Conversation context:\n")
	fmt.Fprintf(&b, "- flow_status: %s\n", state.FlowStatus)
	if state.ActiveFlow != models.FlowNone {
		fmt.Fprintf(&b, "- active_flow: %s\n", state.ActiveFlow)
	}
	if state.ExpectedSlot != "" {
		fmt.Fprintf(&b, "- expected slot: %s\n", state.ExpectedSlot)
	}
	if language != "" {
		fmt.Fprintf(&b, "- language: %s\n", language)
	}
	if lastAssistant != "" {
		fmt.Fprintf(&b, "- last assistant message: %q\n", truncate(lastAssistant, maxAssistantContext))
	}
	if summary := anchorSummary(state.Anchor); summary != "" {
		fmt.Fprintf(&b, "- ground truth from last resolved flow: %s\n", summary)
	}

	fmt.Fprintf(&b, "\nUser message:\n%s\n", userMessage)
	return b.String()
}

// anchorSummary compacts the last-resolved-flow snapshot for contradiction
// checks.
func anchorSummary(a models.Anchor) string {
	if a.LastResultSummary == "" && a.LastFlowType == models.FlowNone {
		return ""
	}
	var parts []string
	if a.LastFlowType != models.FlowNone {
		parts = append(parts, fmt.Sprintf("flow=%s", a.LastFlowType))
	}
	if len(a.ReferenceIDs) > 0 {
		parts = append(parts, fmt.Sprintf("refs=%s", strings.Join(a.ReferenceIDs, ",")))
	}
	if a.LastResultSummary != "" {
		parts = append(parts, truncate(a.LastResultSummary, maxAnchorContext))
	}
	return strings.Join(parts, " | ")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
