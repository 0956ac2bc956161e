package genai

import "testing"

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("DIALOGDESK_OPENAI_MODEL", "")

	if _, err := NewClient(); err == nil {
		t.Error("missing API key must be rejected")
	}

	c, err := NewClient(WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("NewClient with key failed: %v", err)
	}
	if c.model != DefaultModel {
		t.Errorf("model = %q, want default %q", c.model, DefaultModel)
	}
}

func TestNewClientModelPrecedence(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("DIALOGDESK_OPENAI_MODEL", "gpt-4o")

	c, err := NewClient()
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.model != "gpt-4o" {
		t.Errorf("model = %q, want env value", c.model)
	}

	c, err = NewClient(WithModel("gpt-4.1-mini"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.model != "gpt-4.1-mini" {
		t.Errorf("model = %q, want option value", c.model)
	}
}
