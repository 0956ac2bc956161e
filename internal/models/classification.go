// Package models defines classification result types for the turn engine.
package models

// MessageType is the four-variant classification of a user utterance.
type MessageType string

const (
	// MessageTypeSlotAnswer supplies the value currently solicited by expected_slot.
	MessageTypeSlotAnswer MessageType = "SLOT_ANSWER"
	// MessageTypeFollowupDispute contradicts a result already delivered.
	MessageTypeFollowupDispute MessageType = "FOLLOWUP_DISPUTE"
	// MessageTypeNewIntent opens a different topic than the active flow.
	MessageTypeNewIntent MessageType = "NEW_INTENT"
	// MessageTypeChatter is expressive or acknowledging content with no actionable request.
	MessageTypeChatter MessageType = "CHATTER"
)

// IsValidMessageType checks whether the given type is one of the four variants.
func IsValidMessageType(mt MessageType) bool {
	switch mt {
	case MessageTypeSlotAnswer, MessageTypeFollowupDispute, MessageTypeNewIntent, MessageTypeChatter:
		return true
	}
	return false
}

// FailureType records how a classification attempt degraded.
type FailureType string

const (
	FailureNone       FailureType = ""
	FailureTimeout    FailureType = "timeout"
	FailureError      FailureType = "error"
	FailureBadPayload FailureType = "bad_payload"
)

// MaxDegradedConfidence is the ceiling applied when computing the gating
// confidence of a classification that came from the deterministic fallback.
// A degraded classifier must never unlock tool execution.
const MaxDegradedConfidence = 0.5

// ClassificationResult is the typed outcome of classifying one utterance.
type ClassificationResult struct {
	Type             MessageType       `json:"type"`
	Confidence       float64           `json:"confidence"`
	Reason           string            `json:"reason,omitempty"`
	SuggestedFlow    FlowType          `json:"suggested_flow,omitempty"`
	ExtractedSlots   map[string]string `json:"extracted_slots,omitempty"`
	TriggerRule      string            `json:"trigger_rule,omitempty"`
	ClassifierFailed bool              `json:"classifier_failed,omitempty"`
	FailureType      FailureType       `json:"failure_type,omitempty"`
}

// GatingConfidence is the confidence value tool gating must use. It equals
// Confidence except when the result came from the fallback path, in which
// case it is capped at MaxDegradedConfidence (fail-closed).
func (r ClassificationResult) GatingConfidence() float64 {
	if r.ClassifierFailed && r.Confidence > MaxDegradedConfidence {
		return MaxDegradedConfidence
	}
	return r.Confidence
}

// Channel tags the transport a turn arrived on. The classifier uses it to
// pick its hard timeout; synchronous web chat gets the tightest budget.
type Channel string

const (
	ChannelWebChat  Channel = "web_chat"
	ChannelPhone    Channel = "phone"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
)
