package messaging

import (
	"context"
	"testing"

	"github.com/dialogdesk/dialogdesk/internal/models"
)

func TestCanonicalPhone(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"+1 (555) 123-4567", "+15551234567"},
		{"whatsapp:+905551234567", "+905551234567"},
		{"  +44 20 7946 0958 ", "+442079460958"},
		{"5551234567", "5551234567"},
		{"555+123", "555123"}, // plus is only kept in the leading position
	}
	for _, c := range cases {
		if got := CanonicalPhone(c.in); got != c.want {
			t.Errorf("CanonicalPhone(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNewTwilioSenderRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewTwilioSender(); err == nil {
		t.Error("missing credentials must be rejected")
	}
	if _, err := NewTwilioSender(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Error("missing from number must be rejected")
	}
	if _, err := NewTwilioSender(WithAccountSID("AC123"), WithAuthToken("tok"), WithFromNumber("+15550000000")); err != nil {
		t.Errorf("fully configured sender rejected: %v", err)
	}
}

func TestMockSenderRecords(t *testing.T) {
	m := NewMockSender()
	if err := m.SendMessage(context.Background(), models.ChannelSMS, "+15551234567", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(m.SentMessages) != 1 || m.SentMessages[0].Body != "hello" {
		t.Errorf("SentMessages = %+v", m.SentMessages)
	}
}
