// Package orchestrator is the driver's non-pure glue (spec.md §4.5): it
// subscribes to the widget transport and the Matrix sync, feeds inbound
// messages through the statemachine reducer, executes the actions the
// reducer emits, and invokes the CapabilityUI collaborator to turn a
// negotiation request into an approved capability set.
//
// Nothing in this package is pure. The reducer never awaits; this package
// does nothing else.
package orchestrator

import (
	"context"

	"github.com/matrix-org/widget-driver/internal/widgetdriver/capability"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/capabilityui"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/protocol"
)

// Transport is the narrow slice of the transport collaborator the
// orchestrator needs (spec.md §4.8, §6.1).
type Transport interface {
	Incoming() <-chan []byte
	Send(ctx context.Context, frame []byte) error
	Close() error
}

// MatrixClient is the narrow slice of the Matrix collaborator the
// orchestrator needs (spec.md §4.6).
type MatrixClient interface {
	SendEvent(ctx context.Context, roomID, eventType string, stateKey *string, content map[string]any) (string, error)
	SendToDevice(ctx context.Context, eventType string, messages map[string]map[string]map[string]any) error
	ReadEvents(ctx context.Context, roomID, eventType string, stateKey *string, limit int) ([]protocol.MatrixEvent, error)
	RequestOpenIDToken(ctx context.Context, userID string) (protocol.OpenIDResponse, error)
	UpdateDelayedEvent(ctx context.Context, delayID, action string) error
	Subscribe(ctx context.Context, roomID string) (<-chan protocol.MatrixEvent, error)
	Close()
}

// CapabilityPrompter is the narrow slice of the CapabilityUI collaborator the
// orchestrator needs (spec.md §4.7).
type CapabilityPrompter interface {
	Request(ctx context.Context, widgetID string, requested capability.Set) (<-chan capabilityui.Decision, error)
}

