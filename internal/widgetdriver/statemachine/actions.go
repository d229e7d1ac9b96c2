package statemachine

import (
	"github.com/matrix-org/widget-driver/internal/widgetdriver/capability"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/protocol"
)

// ActionKind tags the Action sum type (spec.md §9, "tagged variants for
// filters and actions").
type ActionKind int

const (
	// ActionSendToWidget asks the orchestrator to serialize and deliver a
	// ToWidget envelope (a response or a notification).
	ActionSendToWidget ActionKind = iota
	// ActionSendMatrixEvent asks the orchestrator to send a room/state event
	// via the MatrixClient collaborator.
	ActionSendMatrixEvent
	// ActionReadMatrixEvents asks the orchestrator to read events via the
	// MatrixClient collaborator and relay the result back to the widget.
	ActionReadMatrixEvents
	// ActionSendToDeviceMessage asks the orchestrator to send a to-device
	// message via the MatrixClient collaborator.
	ActionSendToDeviceMessage
	// ActionUpdateDelayedEvent asks the orchestrator to update/cancel/send a
	// delayed event (MSC4157) via the MatrixClient collaborator.
	ActionUpdateDelayedEvent
	// ActionRequestOpenID asks the orchestrator to request a fresh OpenID
	// token from the MatrixClient collaborator.
	ActionRequestOpenID
	// ActionRequestCapabilities asks the orchestrator to invoke the
	// CapabilityUI collaborator to prompt the user for approval.
	ActionRequestCapabilities
	// ActionNavigate carries a widget's navigate request and its URI. The
	// orchestrator answers it with an empty navigate response; it does not
	// open the URI itself (navigation is outside this spec's core; see
	// spec.md §1).
	ActionNavigate
)

// Action is one item the Orchestrator must execute, in emission order
// (spec.md §4.5, §5's ordering guarantees). The reducer only ever
// constructs Actions; it never executes them.
type Action struct {
	Kind ActionKind

	// RequestID correlates a response-shaped action back to the inbound
	// FromWidget request that triggered it. Empty for notifications that
	// expect no reply (spec.md §6.2).
	RequestID string
	WidgetID  string

	// SendToWidget fields.
	ToWidgetAction string
	Data           any

	// SendMatrixEvent / ReadMatrixEvents / SendToDeviceMessage /
	// UpdateDelayedEvent fields.
	EventType string
	StateKey  *string
	Content   map[string]any
	RoomID    string
	Limit     int
	ToDevice  map[string]map[string]map[string]any
	DelayID   string
	DelayOp   string

	// RequestCapabilities fields.
	Requested capability.Set

	// Navigate fields.
	URI string
}

// SendToWidgetError builds the canonical error Action (spec.md §4.4.1, §7):
// all errors surfaced to the widget are SendToWidget{action:"error", ...}.
func SendToWidgetError(requestID, widgetID, code, message string) Action {
	return Action{
		Kind:           ActionSendToWidget,
		RequestID:      requestID,
		WidgetID:       widgetID,
		ToWidgetAction: "error",
		Data:           protocol.ErrorData{Code: code, Message: message},
	}
}
