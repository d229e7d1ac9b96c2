package statemachine_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/matrix-org/widget-driver/internal/widgetdriver/capability"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/pending"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/protocol"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/statemachine"
)

func newTestState(now time.Time) statemachine.State {
	reg := pending.New(pending.Config{Clock: func() time.Time { return now }})
	return statemachine.NewState(reg)
}

func TestSupportedAPIVersions_AnsweredInAnyCapabilityState(t *testing.T) {
	now := time.Unix(0, 0)
	state := newTestState(now)

	_, actions := statemachine.ProcessFromWidget(state, statemachine.Message{
		Action:    "supported_api_versions",
		RequestID: "r1",
		WidgetID:  "w1",
	}, now)

	if len(actions) != 1 || actions[0].ToWidgetAction != "supported_api_versions" {
		t.Fatalf("expected a single supported_api_versions response, got %+v", actions)
	}
}

func TestContentLoaded_BeforeNegotiatedIsQueuedNotAnswered(t *testing.T) {
	now := time.Unix(0, 0)
	state := newTestState(now)

	next, actions := statemachine.ProcessFromWidget(state, statemachine.Message{
		Action:    "content_loaded",
		RequestID: "r1",
		WidgetID:  "w1",
	}, now)

	if len(actions) != 0 {
		t.Fatalf("expected no immediate action, got %+v", actions)
	}
	if !next.Pending.Contains("r1") {
		t.Fatalf("expected content_loaded request to be queued in pending")
	}
}

func TestContentLoaded_AfterNegotiatedAnswersImmediately(t *testing.T) {
	now := time.Unix(0, 0)
	state := newTestState(now)
	state.CapabilityState = statemachine.PhaseNegotiated
	state.ApprovedCapabilities = capability.Parse([]string{"org.matrix.msc2762.send.event:m.room.message"}, capability.SubstitutionContext{})

	_, actions := statemachine.ProcessFromWidget(state, statemachine.Message{
		Action:    "content_loaded",
		RequestID: "r1",
		WidgetID:  "w1",
	}, now)

	if len(actions) != 1 || actions[0].ToWidgetAction != "capabilities" {
		t.Fatalf("expected a capabilities response, got %+v", actions)
	}
}

func TestSendEvent_DeniesCryptoEventRegardlessOfApprovedCapabilities(t *testing.T) {
	now := time.Unix(0, 0)
	state := newTestState(now)
	state.ApprovedCapabilities = capability.Set{
		Send: []capability.Filter{{Kind: capability.KindMessageLikeWithType, EventType: "m.room.encrypted"}},
	}

	data, _ := json.Marshal(protocol.SendEventRequest{Type: "m.room.encrypted", Content: map[string]any{}})
	_, actions := statemachine.ProcessFromWidget(state, statemachine.Message{
		Action:    "send_event",
		RequestID: "r1",
		WidgetID:  "w1",
		Data:      data,
	}, now)

	if len(actions) != 1 || actions[0].ToWidgetAction != "error" {
		t.Fatalf("expected an error response, got %+v", actions)
	}
	errData, ok := actions[0].Data.(protocol.ErrorData)
	if !ok || errData.Code != protocol.ErrForbidden {
		t.Fatalf("expected M_FORBIDDEN, got %+v", actions[0].Data)
	}
}

func TestSendEvent_ApprovedCapabilityEmitsSendMatrixEvent(t *testing.T) {
	now := time.Unix(0, 0)
	state := newTestState(now)
	state.ApprovedCapabilities = capability.Parse([]string{"org.matrix.msc2762.send.event:m.room.message"}, capability.SubstitutionContext{})

	data, _ := json.Marshal(protocol.SendEventRequest{Type: "m.room.message", Content: map[string]any{"body": "hi"}})
	_, actions := statemachine.ProcessFromWidget(state, statemachine.Message{
		Action:    "send_event",
		RequestID: "r1",
		WidgetID:  "w1",
		Data:      data,
	}, now)

	if len(actions) != 1 || actions[0].Kind != statemachine.ActionSendMatrixEvent {
		t.Fatalf("expected a SendMatrixEvent action, got %+v", actions)
	}
}

func TestUnknownAction_WithRequestIDProducesUnrecognizedError(t *testing.T) {
	now := time.Unix(0, 0)
	state := newTestState(now)

	_, actions := statemachine.ProcessFromWidget(state, statemachine.Message{
		Action:    "frobnicate",
		RequestID: "r1",
		WidgetID:  "w1",
	}, now)

	errData, ok := actions[0].Data.(protocol.ErrorData)
	if !ok || errData.Code != protocol.ErrUnrecognized {
		t.Fatalf("expected M_UNRECOGNIZED, got %+v", actions)
	}
}

func TestUnknownAction_WithoutRequestIDIsDroppedSilently(t *testing.T) {
	now := time.Unix(0, 0)
	state := newTestState(now)

	_, actions := statemachine.ProcessFromWidget(state, statemachine.Message{
		Action:   "frobnicate",
		WidgetID: "w1",
	}, now)

	if len(actions) != 0 {
		t.Fatalf("expected the message to be dropped, got %+v", actions)
	}
}

func TestGetOpenID_CacheHitAnswersImmediately(t *testing.T) {
	now := time.Unix(0, 0)
	state := newTestState(now)
	state.OpenID = &statemachine.OpenIDState{
		Credentials: statemachine.OpenIDCredentials{AccessToken: "tok", ExpiresIn: 3600, Homeserver: "example.org", TokenType: "Bearer"},
		AcquiredAt:  now,
	}

	_, actions := statemachine.ProcessFromWidget(state, statemachine.Message{
		Action:    "get_openid",
		RequestID: "r1",
		WidgetID:  "w1",
	}, now)

	if len(actions) != 1 || actions[0].ToWidgetAction != "openid_credentials" {
		t.Fatalf("expected an openid_credentials response, got %+v", actions)
	}
	resp, ok := actions[0].Data.(protocol.OpenIDResponse)
	if !ok || resp.State != "allowed" {
		t.Fatalf("expected state=allowed, got %+v", actions[0].Data)
	}
}

func TestGetOpenID_CacheMissQueuesAndRequests(t *testing.T) {
	now := time.Unix(0, 0)
	state := newTestState(now)

	next, actions := statemachine.ProcessFromWidget(state, statemachine.Message{
		Action:    "get_openid",
		RequestID: "r1",
		WidgetID:  "w1",
	}, now)

	if len(actions) != 1 || actions[0].Kind != statemachine.ActionRequestOpenID {
		t.Fatalf("expected a RequestOpenID action, got %+v", actions)
	}
	if !next.Pending.Contains("openid:r1") {
		t.Fatalf("expected the request to be tracked under openid:r1")
	}
}

func TestBeginNegotiation_TransitionsUnsetToNegotiating(t *testing.T) {
	now := time.Unix(0, 0)
	state := newTestState(now)
	requested := capability.Parse([]string{"org.matrix.msc2762.send.event:m.room.message"}, capability.SubstitutionContext{})

	next, actions := statemachine.BeginNegotiation(state, requested)

	if next.CapabilityState != statemachine.PhaseNegotiating {
		t.Fatalf("expected Negotiating, got %v", next.CapabilityState)
	}
	if len(actions) != 1 || actions[0].Kind != statemachine.ActionRequestCapabilities {
		t.Fatalf("expected a RequestCapabilities action, got %+v", actions)
	}
}

func TestBeginNegotiation_IsOneShot(t *testing.T) {
	now := time.Unix(0, 0)
	state := newTestState(now)
	requested := capability.Parse([]string{"org.matrix.msc2762.send.event:m.room.message"}, capability.SubstitutionContext{})

	state, _ = statemachine.BeginNegotiation(state, requested)
	next, actions := statemachine.BeginNegotiation(state, requested)

	if len(actions) != 0 {
		t.Fatalf("expected no-op on second call, got %+v", actions)
	}
	if next.CapabilityState != statemachine.PhaseNegotiating {
		t.Fatalf("expected state to remain Negotiating, got %v", next.CapabilityState)
	}
}

func TestProcessCapabilityApproval_AnswersQueuedContentLoadedInOrder(t *testing.T) {
	now := time.Unix(0, 0)
	state := newTestState(now)
	state.CapabilityState = statemachine.PhaseNegotiating

	state, _ = statemachine.ProcessFromWidget(state, statemachine.Message{Action: "content_loaded", RequestID: "first", WidgetID: "w1"}, now)
	state, _ = statemachine.ProcessFromWidget(state, statemachine.Message{Action: "content_loaded", RequestID: "second", WidgetID: "w1"}, now)

	approved := capability.Parse([]string{"org.matrix.msc2762.send.event:m.room.message"}, capability.SubstitutionContext{})
	next, actions := statemachine.ProcessCapabilityApproval(state, approved, statemachine.OpenIDDecision{}, now)

	if next.CapabilityState != statemachine.PhaseNegotiated {
		t.Fatalf("expected Negotiated, got %v", next.CapabilityState)
	}
	if len(actions) != 1 || actions[0].RequestID != "first" {
		t.Fatalf("expected the earliest queued request answered first, got %+v", actions)
	}

	next2, actions2 := statemachine.ProcessCapabilityApproval(next, approved, statemachine.OpenIDDecision{}, now)
	if len(actions2) != 1 || actions2[0].RequestID != "second" {
		t.Fatalf("expected the second queued request answered next, got %+v", actions2)
	}
	_ = next2
}

func TestProcessCapabilityApproval_AllowedOpenIDResolvesPendingRequest(t *testing.T) {
	now := time.Unix(0, 0)
	state := newTestState(now)
	state, _ = statemachine.ProcessFromWidget(state, statemachine.Message{Action: "get_openid", RequestID: "r1", WidgetID: "w1"}, now)

	approved := capability.Set{}
	decision := statemachine.OpenIDDecision{
		Kind:        statemachine.OpenIDDecisionAllowed,
		Credentials: statemachine.OpenIDCredentials{AccessToken: "tok", ExpiresIn: 3600, Homeserver: "example.org", TokenType: "Bearer"},
	}

	next, actions := statemachine.ProcessCapabilityApproval(state, approved, decision, now)

	if next.OpenID == nil {
		t.Fatalf("expected OpenID credentials to be cached")
	}
	if len(actions) != 1 || actions[0].ToWidgetAction != "openid_credentials" {
		t.Fatalf("expected an openid_credentials response, got %+v", actions)
	}
	resp, ok := actions[0].Data.(protocol.OpenIDResponse)
	if !ok || resp.State != "allowed" {
		t.Fatalf("expected state=allowed, got %+v", actions[0].Data)
	}
}

func TestProcessCapabilityApproval_BlockedOpenIDPropagatesBlockedState(t *testing.T) {
	now := time.Unix(0, 0)
	state := newTestState(now)
	state, _ = statemachine.ProcessFromWidget(state, statemachine.Message{Action: "get_openid", RequestID: "r1", WidgetID: "w1"}, now)

	next, actions := statemachine.ProcessCapabilityApproval(state, capability.Set{}, statemachine.OpenIDDecision{Kind: statemachine.OpenIDDecisionBlocked}, now)

	if next.OpenID != nil {
		t.Fatalf("expected no credentials cached on denial")
	}
	resp, ok := actions[len(actions)-1].Data.(protocol.OpenIDResponse)
	if !ok || resp.State != "blocked" {
		t.Fatalf("expected state=blocked, got %+v", actions)
	}
}
