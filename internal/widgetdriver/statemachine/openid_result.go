package statemachine

import "time"

// ProcessOpenIDResult is a further reducer entry point. It completes an
// in-flight get_openid request once the Orchestrator has actually obtained a
// token from the MatrixClient collaborator (the ActionRequestOpenID this
// package emits from handleGetOpenID never itself touches state.OpenID,
// since fetching a token is I/O and the reducer never performs I/O).
//
// This is distinct from ProcessCapabilityApproval's OpenIDDecisionAllowed
// path: that path resolves an OpenID request that was piggybacking on a
// capability approval; this one resolves a get_openid call made after
// negotiation had already completed, with no capability decision attached.
func ProcessOpenIDResult(state State, requestID, widgetID string, creds OpenIDCredentials, now time.Time) (State, []Action) {
	next := state.clone()
	next.OpenID = &OpenIDState{Credentials: creds, AcquiredAt: now}

	// The pending entry for this exact request is cleared for bookkeeping,
	// but the response is addressed using the requestID/widgetID the caller
	// already has on hand, not whatever Extract happens to return.
	next.Pending.Extract(openIDPendingPrefix + requestID)

	return next, []Action{{
		Kind:           ActionSendToWidget,
		RequestID:      requestID,
		WidgetID:       widgetID,
		ToWidgetAction: "openid_credentials",
		Data:           openIDAllowedResponse(creds),
	}}
}
