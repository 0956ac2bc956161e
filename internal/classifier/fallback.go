package classifier

import (
	"regexp"
	"strings"

	"github.com/dialogdesk/dialogdesk/internal/models"
)

// Fallback heuristic constants.
const (
	// maxSlotAnswerLength is the rune limit under which a short message can
	// be pattern-matched as a slot answer.
	maxSlotAnswerLength = 30

	fallbackSlotConfidence    = 0.8
	fallbackChatterConfidence = 0.7
	fallbackDefaultConfidence = 0.5
)

// Trigger rule tags emitted by the fallback path.
const (
	RuleFallbackSlotPattern   = "fallback_slot_pattern"
	RuleFallbackClosingPhrase = "fallback_closing_phrase"
	RuleFallbackDefault       = "fallback_default"
)

// slotPatterns match the shape of the value a given expected slot solicits.
var slotPatterns = map[string]*regexp.Regexp{
	models.SlotOrderNumber:    regexp.MustCompile(`^[A-Za-z]{0,4}-?\d{4,12}$`),
	models.SlotTrackingNumber: regexp.MustCompile(`^[A-Za-z]{0,4}-?\d{6,20}$`),
	models.SlotCustomerNo:     regexp.MustCompile(`^\d{4,12}$`),
	models.SlotPhone:          regexp.MustCompile(`^\+?\d[\d\s().-]{5,18}\d$`),
	models.SlotCustomerName:   regexp.MustCompile(`^\p{L}+(?:[ '-]\p{L}+)+$`),
}

// closingPhrases are per-language acknowledgment/closing markers used to
// recognize chatter after a flow has delivered its result.
var closingPhrases = map[string][]string{
	"tr": {"teşekkür", "tesekkur", "sağol", "sagol", "tamam", "tamamdır", "peki", "harika", "süper", "görüşürüz", "iyi günler", "eyvallah", "ok"},
	"en": {"thanks", "thank you", "ok", "okay", "great", "perfect", "got it", "bye", "goodbye", "cheers", "cool"},
}

// fallback is the deterministic classifier used when the external call
// fails. Every result it produces is marked as failed so that gating sees
// at most the degraded confidence ceiling, whatever the heuristic's own
// confidence was.
func (c *Classifier) fallback(state *models.ConversationState, userMessage, language string, failure models.FailureType) models.ClassificationResult {
	trimmed := strings.TrimSpace(userMessage)

	if state.ExpectedSlot != "" && len([]rune(trimmed)) < maxSlotAnswerLength {
		if re, ok := slotPatterns[state.ExpectedSlot]; ok && re.MatchString(trimmed) {
			return models.ClassificationResult{
				Type:             models.MessageTypeSlotAnswer,
				Confidence:       fallbackSlotConfidence,
				Reason:           "message matches the shape of the expected slot",
				ExtractedSlots:   map[string]string{state.ExpectedSlot: trimmed},
				TriggerRule:      RuleFallbackSlotPattern,
				ClassifierFailed: true,
				FailureType:      failure,
			}
		}
	}

	if (state.FlowStatus == models.FlowStatusResolved || state.FlowStatus == models.FlowStatusPostResult) &&
		containsClosingPhrase(trimmed, language) {
		return models.ClassificationResult{
			Type:             models.MessageTypeChatter,
			Confidence:       fallbackChatterConfidence,
			Reason:           "closing phrase after a delivered result",
			TriggerRule:      RuleFallbackClosingPhrase,
			ClassifierFailed: true,
			FailureType:      failure,
		}
	}

	// Low-confidence default. Never silently default to a type that could
	// unlock tool execution.
	return models.ClassificationResult{
		Type:             models.MessageTypeNewIntent,
		Confidence:       fallbackDefaultConfidence,
		Reason:           "fallback default classification",
		TriggerRule:      RuleFallbackDefault,
		ClassifierFailed: true,
		FailureType:      failure,
	}
}

func containsClosingPhrase(message, language string) bool {
	lowered := strings.ToLower(message)
	phrases, ok := closingPhrases[strings.ToLower(language)]
	if !ok {
		phrases = closingPhrases["en"]
	}
	for _, p := range phrases {
		if strings.Contains(lowered, p) {
			return true
		}
	}
	return false
}
