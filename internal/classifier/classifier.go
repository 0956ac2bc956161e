// Package classifier converts one user utterance, in the context of the
// session's flow state and the prior assistant message, into exactly one of
// four message types with a confidence score and extracted slot values.
//
// The primary path is an LLM call under a hard per-channel timeout; the
// response is treated as untrusted input and validated against the fixed
// four-variant result schema. Any failure (timeout, transport error,
// unparseable payload) degrades to a deterministic heuristic whose result
// is marked as failed so that tool gating stays closed.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dialogdesk/dialogdesk/internal/genai"
	"github.com/dialogdesk/dialogdesk/internal/models"
)

// Hard timeouts for the external classification call.
const (
	// WebChatTimeout bounds the call for synchronous chat widgets.
	WebChatTimeout = 5 * time.Second
	// DefaultTimeout bounds the call for every other channel.
	DefaultTimeout = 8 * time.Second
)

// Options carries per-call classification options.
type Options struct {
	Channel models.Channel
}

// Classifier classifies user utterances. It is purely functional given its
// inputs; the only side effect is the external LLM call.
type Classifier struct {
	llm genai.ClientInterface
}

// New creates a classifier over the given LLM client. A nil client is
// allowed and makes every classification take the fallback path.
func New(llm genai.ClientInterface) *Classifier {
	return &Classifier{llm: llm}
}

// Classify classifies the user message. It never returns an error: failures
// of the external call are absorbed into the deterministic fallback and
// recorded on the result for observability.
func (c *Classifier) Classify(ctx context.Context, state *models.ConversationState, lastAssistant, userMessage, language string, opts Options) models.ClassificationResult {
	if c.llm == nil {
		slog.Debug("Classifier.Classify: no LLM client configured, using fallback", "sessionID", state.SessionID)
		return c.fallback(state, userMessage, language, models.FailureError)
	}

	timeout := timeoutFor(opts.Channel)
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := c.llm.GenerateStructured(cctx, systemPrompt, buildTurnPrompt(state, lastAssistant, userMessage, language))
	if err != nil {
		failure := models.FailureError
		if errors.Is(err, context.DeadlineExceeded) {
			failure = models.FailureTimeout
		}
		slog.Warn("Classifier.Classify: LLM call failed, using fallback",
			"error", err, "sessionID", state.SessionID, "failure", failure, "timeout", timeout)
		return c.fallback(state, userMessage, language, failure)
	}

	result, err := parseResult(raw)
	if err != nil {
		slog.Warn("Classifier.Classify: unusable LLM payload, using fallback",
			"error", err, "sessionID", state.SessionID)
		return c.fallback(state, userMessage, language, models.FailureBadPayload)
	}

	slog.Debug("Classifier.Classify: classified",
		"sessionID", state.SessionID, "type", result.Type, "confidence", result.Confidence, "triggerRule", result.TriggerRule)
	return result
}

func timeoutFor(ch models.Channel) time.Duration {
	if ch == models.ChannelWebChat {
		return WebChatTimeout
	}
	return DefaultTimeout
}

// llmPayload is the raw shape the LLM is asked to return. It is untrusted
// until validated by parseResult.
type llmPayload struct {
	Type           string            `json:"type"`
	Confidence     float64           `json:"confidence"`
	Reason         string            `json:"reason"`
	SuggestedFlow  string            `json:"suggested_flow"`
	ExtractedSlots map[string]string `json:"extracted_slots"`
	TriggerRule    string            `json:"trigger_rule"`
}

// parseResult validates the raw LLM response against the four-variant
// result schema: unknown types fail, confidence is clamped to [0,1],
// unknown suggested flows are dropped, blank slot values are stripped.
func parseResult(raw string) (models.ClassificationResult, error) {
	var payload llmPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &payload); err != nil {
		return models.ClassificationResult{}, fmt.Errorf("decode classification payload: %w", err)
	}

	mt := models.MessageType(strings.ToUpper(strings.TrimSpace(payload.Type)))
	if !models.IsValidMessageType(mt) {
		return models.ClassificationResult{}, fmt.Errorf("unknown message type %q", payload.Type)
	}

	result := models.ClassificationResult{
		Type:        mt,
		Confidence:  clamp01(payload.Confidence),
		Reason:      strings.TrimSpace(payload.Reason),
		TriggerRule: strings.TrimSpace(payload.TriggerRule),
	}

	suggested := models.FlowType(strings.ToUpper(strings.TrimSpace(payload.SuggestedFlow)))
	if suggested != models.FlowNone {
		if models.IsValidFlowType(suggested) {
			result.SuggestedFlow = suggested
		} else {
			slog.Debug("classifier.parseResult: dropping unknown suggested flow", "flow", payload.SuggestedFlow)
		}
	}

	for name, value := range payload.ExtractedSlots {
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if name == "" || value == "" {
			continue
		}
		if result.ExtractedSlots == nil {
			result.ExtractedSlots = make(map[string]string)
		}
		result.ExtractedSlots[name] = value
	}

	return result, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
