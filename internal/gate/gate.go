// Package gate decides which backend tools the system is authorized to
// execute on a turn, as a function of classification confidence, the active
// flow, and verification status.
//
// Gating is deliberately two-stage: GatedTools computes the coarse per-turn
// authorized set, and CanExecute re-checks a single tool immediately before
// it runs, so a tool authorized at turn start cannot fire after the context
// has moved on. Denials are silent reductions of the set, never errors.
package gate

import (
	"log/slog"

	"github.com/dialogdesk/dialogdesk/internal/models"
)

// Confidence tiers for the per-turn filter.
const (
	// MinToolConfidence is the floor below which no tool executes.
	MinToolConfidence = 0.6
	// HighConfidence is the tier above which flow-specific policies apply.
	HighConfidence = 0.8
)

// Policy declares the execution constraints of one tool. Tools without a
// policy pass through the high-confidence tier unchanged.
type Policy struct {
	// MinConfidence is the tool's own confidence floor, checked
	// independently of flow at call time.
	MinConfidence float64
	// AllowedFlows lists the flows the tool may run in. Empty means any.
	AllowedFlows []models.FlowType
	// RequiresVerification denies the tool until the session's customer
	// identity is verified.
	RequiresVerification bool
}

func (p Policy) allowsFlow(flow models.FlowType) bool {
	if len(p.AllowedFlows) == 0 {
		return true
	}
	for _, f := range p.AllowedFlows {
		if f == flow {
			return true
		}
	}
	return false
}

// Gate is an injectable tool-gating decision table.
type Gate struct {
	safe     map[string]bool
	policies map[string]Policy
}

// New creates a gate from a safe list and a policy table. Safe-list tools
// must not carry flow-restricted policies: the safe list is what the middle
// confidence tier passes, and a flow restriction on one of its members
// would make a higher confidence remove an otherwise-authorized tool.
func New(safe []string, policies map[string]Policy) *Gate {
	g := &Gate{safe: make(map[string]bool, len(safe)), policies: policies}
	for _, name := range safe {
		g.safe[name] = true
	}
	if g.policies == nil {
		g.policies = make(map[string]Policy)
	}
	return g
}

// NewDefault returns the platform's standard gate: read-only lookups on the
// safe list, scheduling at 0.8 within the appointment flow, callback
// creation at 0.85 across the flows a callback request can arise in, and
// verification-guarded account actions.
func NewDefault() *Gate {
	return New(
		[]string{"customer_data_lookup", "order_status_lookup", "product_info_lookup"},
		map[string]Policy{
			"calendly_book": {
				MinConfidence: 0.8,
				AllowedFlows:  []models.FlowType{models.FlowAppointment},
			},
			"create_callback": {
				MinConfidence: 0.85,
				AllowedFlows:  []models.FlowType{models.FlowComplaint, models.FlowGeneral},
			},
			"debt_lookup": {
				MinConfidence:        0.8,
				AllowedFlows:         []models.FlowType{models.FlowDebtInquiry},
				RequiresVerification: true,
			},
			"open_refund_case": {
				MinConfidence:        0.85,
				AllowedFlows:         []models.FlowType{models.FlowComplaint, models.FlowOrderStatus},
				RequiresVerification: true,
			},
		},
	)
}

// GatedTools returns the subset of candidate tools authorized for this turn.
//
// Below MinToolConfidence nothing executes and the turn proceeds as
// conversation only. Between the tiers only safe-list (read-only) tools
// pass. At HighConfidence and above, per-tool policies apply: undeclared
// tools pass through, declared tools are retained only when the active flow
// is permitted and the confidence meets the tool's own floor.
func (g *Gate) GatedTools(confidence float64, activeFlow models.FlowType, candidates []string) []string {
	authorized := make([]string, 0, len(candidates))

	switch {
	case confidence < MinToolConfidence:
		// Conversation-only turn.

	case confidence < HighConfidence:
		for _, name := range candidates {
			if g.safe[name] {
				authorized = append(authorized, name)
			}
		}

	default:
		for _, name := range candidates {
			policy, declared := g.policies[name]
			if !declared {
				authorized = append(authorized, name)
				continue
			}
			if policy.allowsFlow(activeFlow) && confidence >= policy.MinConfidence {
				authorized = append(authorized, name)
			}
		}
	}

	if len(authorized) != len(candidates) {
		slog.Debug("gate.GatedTools: reduced candidate set",
			"confidence", confidence, "activeFlow", activeFlow,
			"candidates", len(candidates), "authorized", len(authorized))
	}
	return authorized
}

// ToolContext is the runtime context evaluated immediately before a
// specific tool call executes.
type ToolContext struct {
	Confidence         float64
	ActiveFlow         models.FlowType
	VerificationStatus models.VerificationStatus
}

// Decision is the outcome of a runtime tool check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// CanExecute is the fine-grained per-call check, distinct from the per-turn
// set computation, meant to catch context that changed mid-turn.
func (g *Gate) CanExecute(toolName string, tc ToolContext) Decision {
	if tc.Confidence < MinToolConfidence {
		return Decision{Allowed: false, Reason: "confidence below tool execution floor"}
	}
	policy, declared := g.policies[toolName]
	if declared {
		if policy.RequiresVerification && tc.VerificationStatus != models.VerificationVerified {
			return Decision{Allowed: false, Reason: "tool requires a verified customer"}
		}
		if tc.Confidence < policy.MinConfidence {
			return Decision{Allowed: false, Reason: "confidence below tool minimum"}
		}
	}
	return Decision{Allowed: true}
}
