package capabilityui

import (
	"testing"

	"github.com/matrix-org/widget-driver/internal/widgetdriver/statemachine"
)

func TestParseDecision_Approve(t *testing.T) {
	r, err := ParseDecision("approve widget-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Approve || r.WidgetID != "widget-1" || r.GrantOpenID {
		t.Fatalf("unexpected reply: %+v", r)
	}
	if got := r.OpenIDDecision(); got.Kind != statemachine.OpenIDDecisionNone {
		t.Fatalf("expected no openid decision, got %v", got.Kind)
	}
}

func TestParseDecision_ApproveWithOpenID(t *testing.T) {
	r, err := ParseDecision("Approve widget-1 openid")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.GrantOpenID {
		t.Fatal("expected openid grant")
	}
	if got := r.OpenIDDecision(); got.Kind != statemachine.OpenIDDecisionPending {
		t.Fatalf("expected pending openid decision, got %v", got.Kind)
	}
}

func TestParseDecision_Deny(t *testing.T) {
	r, err := ParseDecision("deny widget-1 too risky")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Approve || r.Reason != "too risky" {
		t.Fatalf("unexpected reply: %+v", r)
	}
	if got := r.OpenIDDecision(); got.Kind != statemachine.OpenIDDecisionBlocked {
		t.Fatalf("expected blocked openid decision, got %v", got.Kind)
	}
}

func TestParseDecision_DenyRequiresReason(t *testing.T) {
	if _, err := ParseDecision("deny widget-1"); err == nil {
		t.Fatal("expected error for deny without a reason")
	}
}

func TestParseDecision_NotADecision(t *testing.T) {
	_, err := ParseDecision("just chatting about widgets")
	if err != ErrNotADecision {
		t.Fatalf("expected ErrNotADecision, got %v", err)
	}
}
