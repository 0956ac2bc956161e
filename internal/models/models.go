// Package models defines shared request/response types for DialogDesk.
package models

import "errors"

// Validation constants for turn input.
const (
	// MaxUtteranceLength defines the maximum accepted user message length.
	MaxUtteranceLength = 4096
	// MaxCandidateTools bounds the candidate tool list per turn.
	MaxCandidateTools = 32
)

// Error variables for better error handling and testability.
var (
	ErrEmptySessionID    = errors.New("session id cannot be empty")
	ErrEmptyUserMessage  = errors.New("user message cannot be empty")
	ErrUtteranceTooLong  = errors.New("user message exceeds maximum length")
	ErrTooManyCandidates = errors.New("too many candidate tools")
)

// TurnRequest is one inbound message plus the flow engine's turn context.
type TurnRequest struct {
	SessionID            string   `json:"session_id"`
	LastAssistantMessage string   `json:"last_assistant_message,omitempty"`
	UserMessage          string   `json:"user_message"`
	Language             string   `json:"language,omitempty"`
	Channel              Channel  `json:"channel,omitempty"`
	CandidateTools       []string `json:"candidate_tools,omitempty"`
	// ReplyTo is the phone-channel recipient for lock notifications.
	ReplyTo string `json:"reply_to,omitempty"`
}

// Validate ensures the turn request is well formed.
func (r *TurnRequest) Validate() error {
	if r.SessionID == "" {
		return ErrEmptySessionID
	}
	if r.UserMessage == "" {
		return ErrEmptyUserMessage
	}
	if len(r.UserMessage) > MaxUtteranceLength {
		return ErrUtteranceTooLong
	}
	if len(r.CandidateTools) > MaxCandidateTools {
		return ErrTooManyCandidates
	}
	return nil
}

// TurnResult is the engine's answer for one processed turn.
type TurnResult struct {
	TurnID         string               `json:"turn_id"`
	SessionID      string               `json:"session_id"`
	Locked         bool                 `json:"locked,omitempty"`
	LockReason     LockReason           `json:"lock_reason,omitempty"`
	Classification ClassificationResult `json:"classification"`
	AllowedTools   []string             `json:"allowed_tools"`
	State          *ConversationState   `json:"state,omitempty"`
}

// API response envelope, shared by all HTTP handlers.

// APIStatus enumerates the coarse outcome of an API call.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result any) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
