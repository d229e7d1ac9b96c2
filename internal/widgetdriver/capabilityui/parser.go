package capabilityui

import (
	"fmt"
	"strings"

	"github.com/matrix-org/widget-driver/internal/widgetdriver/statemachine"
)

// ErrNotADecision is returned when a room message is not an approve/deny
// reply at all (ordinary chatter).
var ErrNotADecision = fmt.Errorf("not an approval decision")

// reply is a parsed approve/deny room message.
type reply struct {
	Approve    bool
	WidgetID   string
	GrantOpenID bool
	DenyOpenID  bool
	Reason     string
}

// ParseDecision parses a plain room message into a capability decision.
//
// Accepted formats (case-insensitive prefix), mirroring the gated-operation
// approval workflow this package is adapted from:
//
//	approve <widgetId>
//	approve <widgetId> openid
//	deny <widgetId> <reason>
//	deny <widgetId> openid <reason>
//
// "openid" on an approve line also grants the widget's outstanding OpenID
// request, if any; its absence leaves any pending get_openid request
// untouched (OpenIDDecisionNone). Returns ErrNotADecision if the message
// does not start with "approve" or "deny".
func ParseDecision(text string) (*reply, error) {
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)

	var approve bool
	switch {
	case strings.HasPrefix(lower, "approve "):
		approve = true
	case strings.HasPrefix(lower, "deny "):
		approve = false
	default:
		return nil, ErrNotADecision
	}

	rest := strings.TrimSpace(text[len("approve"):])
	if !approve {
		rest = strings.TrimSpace(text[len("deny"):])
	}
	if rest == "" {
		return nil, fmt.Errorf("usage: approve|deny <widget-id> [openid] [reason]")
	}

	fields := strings.Fields(rest)
	widgetID := fields[0]
	remainder := fields[1:]

	grantOpenID := false
	if len(remainder) > 0 && strings.EqualFold(remainder[0], "openid") {
		grantOpenID = true
		remainder = remainder[1:]
	}

	if !approve && strings.TrimSpace(strings.Join(remainder, " ")) == "" {
		return nil, fmt.Errorf("deny requires a reason: deny <widget-id> [openid] <reason>")
	}

	return &reply{
		Approve:     approve,
		WidgetID:    widgetID,
		GrantOpenID: approve && grantOpenID,
		DenyOpenID:  !approve,
		Reason:      strings.Join(remainder, " "),
	}, nil
}

// OpenIDDecision derives the statemachine-level OpenID verdict implied by
// this reply.
func (r *reply) OpenIDDecision() statemachine.OpenIDDecision {
	switch {
	case r.GrantOpenID:
		// Credentials are filled in by the orchestrator once it has actually
		// requested a token from the MatrixClient collaborator; this reply
		// only records that the human granted the request.
		return statemachine.OpenIDDecision{Kind: statemachine.OpenIDDecisionPending}
	case r.DenyOpenID:
		return statemachine.OpenIDDecision{Kind: statemachine.OpenIDDecisionBlocked}
	default:
		return statemachine.OpenIDDecision{Kind: statemachine.OpenIDDecisionNone}
	}
}
