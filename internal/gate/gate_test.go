package gate

import (
	"reflect"
	"sort"
	"testing"

	"github.com/dialogdesk/dialogdesk/internal/models"
)

func TestGatedToolsBelowFloor(t *testing.T) {
	g := NewDefault()

	got := g.GatedTools(0.55, models.FlowComplaint, []string{"create_callback"})
	if len(got) != 0 {
		t.Errorf("GatedTools(0.55, COMPLAINT, [create_callback]) = %v, want empty", got)
	}
}

func TestGatedToolsMediumTierSafeListOnly(t *testing.T) {
	g := NewDefault()

	got := g.GatedTools(0.7, models.FlowComplaint, []string{"customer_data_lookup", "create_callback"})
	want := []string{"customer_data_lookup"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GatedTools(0.7, COMPLAINT, ...) = %v, want %v", got, want)
	}
}

func TestGatedToolsHighTierFlowPolicy(t *testing.T) {
	g := NewDefault()

	got := g.GatedTools(0.9, models.FlowAppointment, []string{"calendly_book"})
	if !reflect.DeepEqual(got, []string{"calendly_book"}) {
		t.Errorf("APPOINTMENT flow: got %v, want [calendly_book]", got)
	}

	got = g.GatedTools(0.9, models.FlowGeneral, []string{"calendly_book"})
	if len(got) != 0 {
		t.Errorf("GENERAL flow: got %v, want empty", got)
	}
}

func TestGatedToolsPerToolMinimum(t *testing.T) {
	g := NewDefault()

	// create_callback requires 0.85 even above the high-confidence tier.
	if got := g.GatedTools(0.82, models.FlowComplaint, []string{"create_callback"}); len(got) != 0 {
		t.Errorf("confidence 0.82: got %v, want empty", got)
	}
	if got := g.GatedTools(0.9, models.FlowComplaint, []string{"create_callback"}); !reflect.DeepEqual(got, []string{"create_callback"}) {
		t.Errorf("confidence 0.9: got %v, want [create_callback]", got)
	}
}

func TestGatedToolsUndeclaredPassThrough(t *testing.T) {
	g := NewDefault()

	got := g.GatedTools(0.85, models.FlowGeneral, []string{"weather_lookup", "customer_data_lookup"})
	sort.Strings(got)
	want := []string{"customer_data_lookup", "weather_lookup"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("undeclared tools must pass at the high tier: got %v, want %v", got, want)
	}
}

// Raising confidence never removes an otherwise-authorized tool.
func TestGatedToolsMonotonic(t *testing.T) {
	g := NewDefault()
	candidates := []string{"customer_data_lookup", "order_status_lookup", "calendly_book", "create_callback", "weather_lookup"}
	confidences := []float64{0.0, 0.3, 0.55, 0.6, 0.7, 0.79, 0.8, 0.85, 0.9, 1.0}
	flows := []models.FlowType{models.FlowAppointment, models.FlowComplaint, models.FlowGeneral, models.FlowNone}

	for _, flow := range flows {
		var prev map[string]bool
		for _, conf := range confidences {
			cur := make(map[string]bool)
			for _, tool := range g.GatedTools(conf, flow, candidates) {
				cur[tool] = true
			}
			for tool := range prev {
				if !cur[tool] {
					t.Errorf("flow %s: %q authorized at lower confidence but removed at %v", flow, tool, conf)
				}
			}
			prev = cur
		}
	}
}

func TestCanExecute(t *testing.T) {
	g := NewDefault()

	if d := g.CanExecute("customer_data_lookup", ToolContext{Confidence: 0.5}); d.Allowed {
		t.Error("below the floor nothing executes")
	}
	if d := g.CanExecute("customer_data_lookup", ToolContext{Confidence: 0.65}); !d.Allowed {
		t.Errorf("safe tool denied: %+v", d)
	}

	// Verification-gated tool.
	d := g.CanExecute("debt_lookup", ToolContext{Confidence: 0.9, ActiveFlow: models.FlowDebtInquiry, VerificationStatus: models.VerificationPending})
	if d.Allowed {
		t.Error("unverified customer must not run debt_lookup")
	}
	d = g.CanExecute("debt_lookup", ToolContext{Confidence: 0.9, ActiveFlow: models.FlowDebtInquiry, VerificationStatus: models.VerificationVerified})
	if !d.Allowed {
		t.Errorf("verified customer denied: %+v", d)
	}

	// Per-tool minimum applies independent of flow.
	d = g.CanExecute("create_callback", ToolContext{Confidence: 0.8, ActiveFlow: models.FlowComplaint})
	if d.Allowed {
		t.Error("create_callback below its 0.85 minimum must be denied")
	}
	d = g.CanExecute("create_callback", ToolContext{Confidence: 0.86, ActiveFlow: models.FlowOrderStatus})
	if !d.Allowed {
		t.Errorf("runtime check is flow-independent, got %+v", d)
	}

	// Undeclared tools only face the floor.
	if d := g.CanExecute("weather_lookup", ToolContext{Confidence: 0.61}); !d.Allowed {
		t.Errorf("undeclared tool denied: %+v", d)
	}
}
