package statemachine

import (
	"strings"
	"time"

	"github.com/matrix-org/widget-driver/internal/widgetdriver/capability"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/protocol"
)

// OpenIDDecisionKind tags the capability UI's accompanying OpenID verdict,
// if any, that rides alongside a capability approval (spec.md §4.4.2).
type OpenIDDecisionKind int

const (
	// OpenIDDecisionNone means no OpenID verdict accompanies this approval;
	// any already-pending get_openid request is left untouched.
	OpenIDDecisionNone OpenIDDecisionKind = iota
	// OpenIDDecisionAllowed means the user granted the widget an OpenID
	// token, carried in Credentials.
	OpenIDDecisionAllowed
	// OpenIDDecisionBlocked means the user denied the OpenID request.
	OpenIDDecisionBlocked
	// OpenIDDecisionPending means the OpenID decision is still outstanding.
	OpenIDDecisionPending
)

// OpenIDDecision is the capability UI's verdict on any outstanding
// get_openid request, supplied alongside a capability approval.
type OpenIDDecision struct {
	Kind        OpenIDDecisionKind
	Credentials OpenIDCredentials
}

// ProcessCapabilityApproval is the reducer's second entry point (spec.md
// §4.4.2). It completes capability negotiation and resolves any pending
// requests the negotiation was blocking: the earliest non-openid pending
// request (typically a content_loaded call received while negotiation was
// in flight) is answered with the freshly-approved capabilities, and an
// OpenID decision, if any, resolves the matching pending get_openid
// request.
func ProcessCapabilityApproval(state State, approved capability.Set, openid OpenIDDecision, now time.Time) (State, []Action) {
	next := state.clone()

	next.CapabilityState = PhaseNegotiated
	next.ApprovedCapabilities = approved
	next.RequestedCapabilities = nil

	var actions []Action

	if requestID, widgetID, ok := extractOldestNonOpenID(next); ok {
		actions = append(actions, Action{
			Kind:           ActionSendToWidget,
			RequestID:      requestID,
			WidgetID:       widgetID,
			ToWidgetAction: "capabilities",
			Data:           protocol.CapabilitiesResponse{Capabilities: approved.Serialize()},
		})
	}

	switch openid.Kind {
	case OpenIDDecisionNone:
		// No accompanying verdict; any pending get_openid stays pending.

	case OpenIDDecisionAllowed:
		next.OpenID = &OpenIDState{Credentials: openid.Credentials, AcquiredAt: now}
		if requestID, widgetID, ok := extractOpenIDPending(next); ok {
			actions = append(actions, Action{
				Kind:           ActionSendToWidget,
				RequestID:      requestID,
				WidgetID:       widgetID,
				ToWidgetAction: "openid_credentials",
				Data:           openIDAllowedResponse(openid.Credentials),
			})
		}

	case OpenIDDecisionBlocked:
		if requestID, widgetID, ok := extractOpenIDPending(next); ok {
			actions = append(actions, Action{
				Kind:           ActionSendToWidget,
				RequestID:      requestID,
				WidgetID:       widgetID,
				ToWidgetAction: "openid_credentials",
				Data:           protocol.OpenIDResponse{State: "blocked"},
			})
		}

	case OpenIDDecisionPending:
		if requestID, widgetID, ok := extractOpenIDPending(next); ok {
			actions = append(actions, Action{
				Kind:           ActionSendToWidget,
				RequestID:      requestID,
				WidgetID:       widgetID,
				ToWidgetAction: "openid_credentials",
				Data:           protocol.OpenIDResponse{State: "request"},
			})
		}
	}

	return next, actions
}

func extractOpenIDPending(state State) (requestID, widgetID string, ok bool) {
	id, payload, found := state.Pending.ExtractOldest(func(candidate string) bool {
		return strings.HasPrefix(candidate, openIDPendingPrefix)
	})
	if !found {
		return "", "", false
	}
	widgetID, _ = payload.(string)
	return strings.TrimPrefix(id, openIDPendingPrefix), widgetID, true
}

func extractOldestNonOpenID(state State) (requestID, widgetID string, ok bool) {
	id, payload, found := state.Pending.ExtractOldest(func(candidate string) bool {
		return !strings.HasPrefix(candidate, openIDPendingPrefix)
	})
	if !found {
		return "", "", false
	}
	widgetID, _ = payload.(string)
	return id, widgetID, true
}
