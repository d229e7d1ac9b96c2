package statemachine

import (
	"time"

	"github.com/matrix-org/widget-driver/internal/widgetdriver/protocol"
)

// openIDPendingPrefix namespaces pending-registry keys for get_openid
// requests so they are distinguishable from capability-negotiation pending
// entries (spec.md §3.5: "keyed openid:<id>").
const openIDPendingPrefix = "openid:"

func handleGetOpenID(state State, msg Message, now time.Time) (State, []Action) {
	if msg.RequestID == "" {
		return state, nil
	}

	if state.OpenID != nil && !state.OpenID.Expired(now) {
		return state, []Action{{
			Kind:           ActionSendToWidget,
			RequestID:      msg.RequestID,
			WidgetID:       msg.WidgetID,
			ToWidgetAction: "openid_credentials",
			Data:           openIDAllowedResponse(state.OpenID.Credentials),
		}}
	}

	key := openIDPendingPrefix + msg.RequestID
	// The payload is the widget ID, not the request ID: the request ID is
	// already embedded in the registry key, and process_capability_approval
	// needs the widget ID to address the eventual response (spec.md §4.4.2).
	//
	// A TooManyPending registry is surfaced as a local error action rather
	// than dropped, since the widget is waiting on a response it will
	// otherwise never receive (spec.md §7, M_LIMIT_EXCEEDED).
	if err := state.Pending.Insert(key, msg.WidgetID); err != nil {
		return state, []Action{SendToWidgetError(msg.RequestID, msg.WidgetID, protocol.ErrLimitExceeded, "too many pending requests")}
	}

	return state, []Action{{
		Kind:      ActionRequestOpenID,
		RequestID: msg.RequestID,
		WidgetID:  msg.WidgetID,
	}}
}

func openIDAllowedResponse(creds OpenIDCredentials) protocol.OpenIDResponse {
	return protocol.OpenIDResponse{
		State:            "allowed",
		AccessToken:      creds.AccessToken,
		ExpiresIn:        creds.ExpiresIn,
		MatrixServerName: creds.Homeserver,
		TokenType:        creds.TokenType,
	}
}
