// Package capabilityui implements the driver's CapabilityUI collaborator
// (spec.md §1, §4.7): it asynchronously prompts a human for approval of a
// widget's requested capabilities and relays the decision back to the
// orchestrator. The concrete implementation here posts the prompt into a
// Matrix room and parses "approve"/"deny" replies, the same shape as the
// approvals workflow this repo's driver is descended from, adapted for a
// single in-flight capability request per widget session rather than a
// persisted, multi-operator queue (spec.md's non-goal "persisting state
// across process restarts" rules out backing this with a database).
package capabilityui

import (
	"context"
	"fmt"
	"strings"

	"github.com/matrix-org/widget-driver/internal/widgetdriver/capability"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/statemachine"
)

// Decision is the human's verdict on a capability request.
type Decision struct {
	Approved capability.Set
	OpenID   statemachine.OpenIDDecision
}

// RoomPoster is the narrow slice of MatrixClient this package needs to post
// the approval prompt; kept separate from the full MatrixClient interface so
// this package does not depend on the orchestrator's wiring.
type RoomPoster interface {
	SendEvent(ctx context.Context, roomID, eventType string, stateKey *string, content map[string]any) (string, error)
}

// pendingRequest is one widget's outstanding capability request, waiting for
// an approve/deny reply.
type pendingRequest struct {
	requested capability.Set
	result    chan Decision
}

// Prompt manages capability approval conversations in a Matrix room, at most
// one outstanding request per widget ID: it posts the request, then resolves
// it once a reply matching ParseDecision arrives for that widget.
type Prompt struct {
	poster RoomPoster
	room   string

	pending map[string]pendingRequest
}

// NewPrompt creates a Prompt that posts requests into room via poster.
func NewPrompt(poster RoomPoster, room string) *Prompt {
	return &Prompt{poster: poster, room: room, pending: make(map[string]pendingRequest)}
}

// Request posts a human-readable approval prompt for widgetID's requested
// capability set and returns a channel that receives exactly one Decision
// once a matching reply is observed via HandleReply. An approve reply grants
// exactly the requested set; this driver does not support partial grants
// from the room prompt.
func (p *Prompt) Request(ctx context.Context, widgetID string, requested capability.Set) (<-chan Decision, error) {
	ch := make(chan Decision, 1)
	p.pending[widgetID] = pendingRequest{requested: requested, result: ch}

	body := formatRequest(widgetID, requested)
	_, err := p.poster.SendEvent(ctx, p.room, "m.room.message", nil, map[string]any{
		"msgtype": "m.text",
		"body":    body,
	})
	if err != nil {
		delete(p.pending, widgetID)
		return nil, fmt.Errorf("capabilityui: failed to post approval prompt: %w", err)
	}
	return ch, nil
}

// HandleReply parses an incoming room message as an approve/deny decision
// and, if it matches a widget with an outstanding Request, delivers the
// Decision and stops tracking it. Unrecognized or non-matching messages are
// ignored (ErrNotADecision-shaped messages are ordinary room chatter).
func (p *Prompt) HandleReply(text string) error {
	parsed, err := ParseDecision(text)
	if err != nil {
		if err == ErrNotADecision {
			return nil
		}
		return err
	}

	req, ok := p.pending[parsed.WidgetID]
	if !ok {
		return nil
	}
	delete(p.pending, parsed.WidgetID)

	if !parsed.Approve {
		req.result <- Decision{OpenID: statemachine.OpenIDDecision{Kind: statemachine.OpenIDDecisionBlocked}}
		return nil
	}

	req.result <- Decision{
		Approved: req.requested,
		OpenID:   parsed.OpenIDDecision(),
	}
	return nil
}

func formatRequest(widgetID string, requested capability.Set) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Widget %s is requesting the following capabilities:\n", widgetID)
	for _, cs := range requested.Serialize() {
		fmt.Fprintf(&b, "  - %s\n", cs)
	}
	b.WriteString("Reply \"approve " + widgetID + "\" or \"deny " + widgetID + " <reason>\".")
	return b.String()
}
