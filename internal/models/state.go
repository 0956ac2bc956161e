// Package models defines the core data structures for DialogDesk.
//
// It includes the per-session conversation state, the message classification
// types, and the shared API response envelope.
package models

import "time"

// FlowType identifies a scripted, multi-turn business task.
type FlowType string

const (
	// FlowOrderStatus looks up the status of an existing order.
	FlowOrderStatus FlowType = "ORDER_STATUS"
	// FlowDebtInquiry answers questions about an outstanding balance.
	FlowDebtInquiry FlowType = "DEBT_INQUIRY"
	// FlowComplaint records and routes a customer complaint.
	FlowComplaint FlowType = "COMPLAINT"
	// FlowAppointment books or reschedules an appointment.
	FlowAppointment FlowType = "APPOINTMENT"
	// FlowProductInfo answers product questions.
	FlowProductInfo FlowType = "PRODUCT_INFO"
	// FlowGeneral handles everything that has no dedicated flow.
	FlowGeneral FlowType = "GENERAL"
	// FlowNone means no flow is active.
	FlowNone FlowType = ""
)

// IsValidFlowType checks whether the given flow type is one of the known flows.
func IsValidFlowType(ft FlowType) bool {
	switch ft {
	case FlowOrderStatus, FlowDebtInquiry, FlowComplaint, FlowAppointment, FlowProductInfo, FlowGeneral, FlowNone:
		return true
	}
	return false
}

// FlowStatus tracks where the session is within its active flow.
type FlowStatus string

const (
	FlowStatusIdle       FlowStatus = "idle"
	FlowStatusInProgress FlowStatus = "in_progress"
	FlowStatusResolved   FlowStatus = "resolved"
	FlowStatusPostResult FlowStatus = "post_result"
	FlowStatusPaused     FlowStatus = "paused"
	FlowStatusTerminated FlowStatus = "terminated"
)

// CanTransition reports whether moving between two flow statuses is allowed.
// terminated is absorbing: nothing leaves it until an operator clears the
// session lock and resets the state. paused and terminated are reachable
// from every other status.
func CanTransition(from, to FlowStatus) bool {
	if from == to {
		return true
	}
	if from == FlowStatusTerminated {
		return false
	}
	if to == FlowStatusPaused || to == FlowStatusTerminated {
		return true
	}
	switch from {
	case FlowStatusIdle:
		return to == FlowStatusInProgress
	case FlowStatusInProgress:
		return to == FlowStatusResolved
	case FlowStatusResolved:
		return to == FlowStatusPostResult
	case FlowStatusPostResult:
		return to == FlowStatusIdle
	case FlowStatusPaused:
		return to == FlowStatusIdle || to == FlowStatusInProgress
	}
	return false
}

// LockReason explains why a session was locked.
type LockReason string

const (
	LockReasonAbuse    LockReason = "ABUSE"
	LockReasonPIIRisk  LockReason = "PII_RISK"
	LockReasonThreat   LockReason = "THREAT"
	LockReasonLoop     LockReason = "LOOP"
	LockReasonSpam     LockReason = "SPAM"
	LockReasonToolFail LockReason = "TOOL_FAIL"
	LockReasonNone     LockReason = ""
)

// SessionLock captures an active or historical lock on a session.
// A nil Until with a non-empty Reason means the lock is indefinite.
type SessionLock struct {
	Reason            LockReason `json:"reason,omitempty"`
	Until             *time.Time `json:"until,omitempty"`
	LockedAt          *time.Time `json:"locked_at,omitempty"`
	LastLockMessageAt *time.Time `json:"last_lock_message_at,omitempty"`
}

// Active reports whether the lock is in force at the given time.
func (l SessionLock) Active(now time.Time) bool {
	if l.Reason == LockReasonNone {
		return false
	}
	return l.Until == nil || now.Before(*l.Until)
}

// Anchor is a snapshot of the last resolved flow's factual result. It is
// retained after resolution so that later disagreement can be checked
// against known ground truth.
type Anchor struct {
	ReferenceIDs      []string `json:"reference_ids,omitempty"`
	LastFlowType      FlowType `json:"last_flow_type,omitempty"`
	LastResultSummary string   `json:"last_result_summary,omitempty"`
}

// VerificationStatus tracks identity verification progress for a session.
type VerificationStatus string

const (
	VerificationNone     VerificationStatus = "none"
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationFailed   VerificationStatus = "failed"
)

// Verification holds the identity verification sub-state of a session.
type Verification struct {
	Status       VerificationStatus `json:"status,omitempty"`
	CustomerID   string             `json:"customer_id,omitempty"`
	PendingField string             `json:"pending_field,omitempty"`
	Attempts     int                `json:"attempts,omitempty"`
	Collected    map[string]string  `json:"collected,omitempty"`
}

// ResponseGrounding signals how the downstream response generator should
// treat the turn it is about to answer.
type ResponseGrounding string

const (
	GroundingGrounded      ResponseGrounding = "GROUNDED"
	GroundingUngrounded    ResponseGrounding = "UNGROUNDED"
	GroundingClarification ResponseGrounding = "CLARIFICATION"
	GroundingOutOfScope    ResponseGrounding = "OUT_OF_SCOPE"
)

// Well-known slot names solicited by the flows.
const (
	SlotOrderNumber      = "order_number"
	SlotTrackingNumber   = "tracking_number"
	SlotPhone            = "phone"
	SlotCustomerNo       = "customer_no"
	SlotCustomerName     = "customer_name"
	SlotComplaintDetails = "complaint_details"
)

// ConversationState is the full per-session state of the turn engine.
// Exactly one lives per active session; it is mutated once per turn via a
// deep-merge update and expires after the session TTL of inactivity.
type ConversationState struct {
	SessionID         string            `json:"session_id"`
	ActiveFlow        FlowType          `json:"active_flow,omitempty"`
	FlowStatus        FlowStatus        `json:"flow_status"`
	Lock              SessionLock       `json:"lock"`
	AbuseCounter      int               `json:"abuse_counter,omitempty"`
	AbuseWindowStart  *time.Time        `json:"abuse_window_start,omitempty"`
	ExpectedSlot      string            `json:"expected_slot,omitempty"`
	CollectedSlots    map[string]string `json:"collected_slots,omitempty"`
	SlotAttempts      map[string]int    `json:"slot_attempts,omitempty"`
	Anchor            Anchor            `json:"anchor"`
	Verification      Verification      `json:"verification"`
	AllowedTools      []string          `json:"allowed_tools,omitempty"`
	ResponseGrounding ResponseGrounding `json:"response_grounding,omitempty"`
	MessageCount      int               `json:"message_count"`
	LastActivityAt    time.Time         `json:"last_activity_at"`
	CreatedAt         time.Time         `json:"created_at"`
}

// NewConversationState returns a freshly-initialized state for a session.
// A session with no stored record is equivalent to this.
func NewConversationState(sessionID string, now time.Time) *ConversationState {
	return &ConversationState{
		SessionID:      sessionID,
		FlowStatus:     FlowStatusIdle,
		CollectedSlots: make(map[string]string),
		SlotAttempts:   make(map[string]int),
		Verification:   Verification{Status: VerificationNone},
		LastActivityAt: now,
		CreatedAt:      now,
	}
}

// Locked reports whether the session is locked at the given time.
func (s *ConversationState) Locked(now time.Time) bool {
	return s.Lock.Active(now)
}

// StateUpdate is a partial, turn-consolidated update to a ConversationState,
// keyed by the state's JSON field names. Scalars and arrays replace the
// stored value wholesale; nested objects are merged key by key.
type StateUpdate map[string]any
