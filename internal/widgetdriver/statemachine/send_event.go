package statemachine

import (
	"github.com/matrix-org/widget-driver/internal/widgetdriver/capability"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/filter"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/protocol"
)

func handleSendEvent(state State, msg Message) (State, []Action) {
	if msg.RequestID == "" {
		return state, nil
	}

	var req protocol.SendEventRequest
	if err := msg.decode(&req); err != nil || req.Type == "" {
		return state, []Action{SendToWidgetError(msg.RequestID, msg.WidgetID, protocol.ErrInvalidRequest, "malformed send_event request")}
	}

	if filter.IsCrypto(req.Type) {
		return state, []Action{SendToWidgetError(msg.RequestID, msg.WidgetID, protocol.ErrForbidden, "crypto events may not be sent by a widget")}
	}

	if !state.ApprovedCapabilities.CanSend(req.Type, req.StateKey) {
		return state, []Action{SendToWidgetError(msg.RequestID, msg.WidgetID, protocol.ErrForbidden, "widget lacks capability to send this event")}
	}

	return state, []Action{{
		Kind:      ActionSendMatrixEvent,
		RequestID: msg.RequestID,
		WidgetID:  msg.WidgetID,
		EventType: req.Type,
		StateKey:  req.StateKey,
		Content:   req.Content,
		RoomID:    req.RoomID,
	}}
}

func handleReadEvents(state State, msg Message) (State, []Action) {
	if msg.RequestID == "" {
		return state, nil
	}

	var req protocol.ReadEventsRequest
	if err := msg.decode(&req); err != nil {
		return state, []Action{SendToWidgetError(msg.RequestID, msg.WidgetID, protocol.ErrInvalidRequest, "malformed read_events request")}
	}

	query := capability.ReadQuery{Type: req.Type, StateKey: req.StateKey}

	if !state.ApprovedCapabilities.CanReadEvent(query) {
		return state, []Action{SendToWidgetError(msg.RequestID, msg.WidgetID, protocol.ErrForbidden, "widget lacks capability to read this event type")}
	}

	return state, []Action{{
		Kind:      ActionReadMatrixEvents,
		RequestID: msg.RequestID,
		WidgetID:  msg.WidgetID,
		EventType: derefOrEmpty(req.Type),
		StateKey:  req.StateKey,
		Limit:     req.Limit,
		RoomID:    req.RoomID,
	}}
}

func handleSendToDevice(state State, msg Message) (State, []Action) {
	if msg.RequestID == "" {
		return state, nil
	}

	var req protocol.SendToDeviceRequest
	if err := msg.decode(&req); err != nil || req.Type == "" {
		return state, []Action{SendToWidgetError(msg.RequestID, msg.WidgetID, protocol.ErrInvalidRequest, "malformed send_to_device request")}
	}

	if filter.IsCrypto(req.Type) {
		return state, []Action{SendToWidgetError(msg.RequestID, msg.WidgetID, protocol.ErrForbidden, "crypto events may not be sent to a device")}
	}

	if !state.ApprovedCapabilities.CanSendToDevice(req.Type) {
		return state, []Action{SendToWidgetError(msg.RequestID, msg.WidgetID, protocol.ErrForbidden, "widget lacks capability to send this to-device type")}
	}

	return state, []Action{{
		Kind:      ActionSendToDeviceMessage,
		RequestID: msg.RequestID,
		WidgetID:  msg.WidgetID,
		EventType: req.Type,
		ToDevice:  req.Messages,
	}}
}

func handleUpdateDelayedEvent(state State, msg Message) (State, []Action) {
	if msg.RequestID == "" {
		return state, nil
	}

	var req protocol.UpdateDelayedEventRequest
	if err := msg.decode(&req); err != nil || req.DelayID == "" {
		return state, []Action{SendToWidgetError(msg.RequestID, msg.WidgetID, protocol.ErrInvalidRequest, "malformed update_delayed_event request")}
	}

	if !state.ApprovedCapabilities.UpdateDelayedEvent {
		return state, []Action{SendToWidgetError(msg.RequestID, msg.WidgetID, protocol.ErrForbidden, "widget lacks the update_delayed_event capability")}
	}

	return state, []Action{{
		Kind:      ActionUpdateDelayedEvent,
		RequestID: msg.RequestID,
		WidgetID:  msg.WidgetID,
		DelayID:   req.DelayID,
		DelayOp:   req.Action,
	}}
}

func handleNavigate(state State, msg Message) (State, []Action) {
	var req protocol.NavigateRequest
	if err := msg.decode(&req); err != nil || req.URI == "" {
		if msg.RequestID == "" {
			return state, nil
		}
		return state, []Action{SendToWidgetError(msg.RequestID, msg.WidgetID, protocol.ErrInvalidRequest, "malformed navigate request")}
	}

	return state, []Action{{
		Kind:      ActionNavigate,
		RequestID: msg.RequestID,
		WidgetID:  msg.WidgetID,
		URI:       req.URI,
	}}
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
