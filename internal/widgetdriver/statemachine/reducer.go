package statemachine

import (
	"time"

	"github.com/matrix-org/widget-driver/internal/widgetdriver/protocol"
)

// ProcessFromWidget is the reducer's primary entry point (spec.md §4.4.1):
// it dispatches on msg.Action and returns the state that follows plus the
// ordered list of actions the Orchestrator must execute.
//
// now is supplied by the caller (rather than read via time.Now inside this
// function) so that, per spec.md §3.5's purity invariant ("apart from
// time-dependent expiry"), two calls with the same (state, msg, now) always
// produce equal results.
func ProcessFromWidget(state State, msg Message, now time.Time) (State, []Action) {
	next := state.clone()

	switch msg.Action {
	case "supported_api_versions":
		return next, []Action{{
			Kind:           ActionSendToWidget,
			RequestID:      msg.RequestID,
			WidgetID:       msg.WidgetID,
			ToWidgetAction: "supported_api_versions",
			Data:           protocol.SupportedAPIVersionsResponse{SupportedVersions: protocol.SupportedAPIVersions},
		}}

	case "content_loaded":
		if state.CapabilityState != PhaseNegotiated {
			// Negotiation is still in flight. requestId is optional on
			// content_loaded (spec.md §9), but when present it is kept so
			// process_capability_approval can answer it once negotiation
			// completes (spec.md §4.4.2).
			if msg.RequestID != "" {
				_ = next.Pending.Insert(msg.RequestID, msg.WidgetID)
			}
			return next, nil
		}
		return next, []Action{{
			Kind:           ActionSendToWidget,
			RequestID:      msg.RequestID,
			WidgetID:       msg.WidgetID,
			ToWidgetAction: "capabilities",
			Data:           protocol.CapabilitiesResponse{Capabilities: state.ApprovedCapabilities.Serialize()},
		}}

	case "get_openid":
		return handleGetOpenID(next, msg, now)

	case "send_event":
		return handleSendEvent(next, msg)

	case "read_events":
		return handleReadEvents(next, msg)

	case "send_to_device":
		return handleSendToDevice(next, msg)

	case "update_delayed_event":
		return handleUpdateDelayedEvent(next, msg)

	case "navigate":
		return handleNavigate(next, msg)

	default:
		if msg.RequestID == "" {
			// Protocol violation: an action requiring a response with no
			// request_id is dropped silently (spec.md §4.4.1).
			return next, nil
		}
		return next, []Action{SendToWidgetError(msg.RequestID, msg.WidgetID, protocol.ErrUnrecognized, "unrecognized action: "+msg.Action)}
	}
}
