package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/matrix-org/widget-driver/internal/widgetdriver/audit"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/capability"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/capabilityui"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/filter"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/pending"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/protocol"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/statemachine"
)

// Config describes the one widget session an Orchestrator drives.
type Config struct {
	WidgetID string
	RoomID   string
	UserID   string
	DeviceID string

	// RequestedCapabilities are the raw capability strings the widget asked
	// for at registration time (spec.md §4.4.3's negotiation trigger).
	RequestedCapabilities []string

	Pending pending.Config
}

// Orchestrator is the non-pure glue between a widget's transport, its Matrix
// identity, and the pure statemachine reducer (spec.md §4.5).
type Orchestrator struct {
	widgetID string
	roomID   string
	userID   string
	deviceID string

	requestedRaw []string

	transport Transport
	matrix    MatrixClient
	ui        CapabilityPrompter
	auditLog  *audit.Log

	state      statemachine.State
	readEngine *filter.Engine

	clock func() time.Time
}

// New constructs an Orchestrator for one widget session. auditLog may be
// nil, which disables auditing entirely (SPEC_FULL.md §6.9 is additive).
func New(cfg Config, transport Transport, matrix MatrixClient, ui CapabilityPrompter, auditLog *audit.Log) *Orchestrator {
	reg := pending.New(cfg.Pending)
	return &Orchestrator{
		widgetID:     cfg.WidgetID,
		roomID:       cfg.RoomID,
		userID:       cfg.UserID,
		deviceID:     cfg.DeviceID,
		requestedRaw: cfg.RequestedCapabilities,
		transport:    transport,
		matrix:       matrix,
		ui:           ui,
		auditLog:     auditLog,
		state:        statemachine.NewState(reg),
		clock:        time.Now,
	}
}

// Run drives the session until ctx is cancelled or the transport closes. It
// always disposes the session before returning (spec.md §5: "Disposing the
// orchestrator cancels all subscriptions, clears pending, and closes the
// transport").
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.dispose()

	syncCh, err := o.matrix.Subscribe(ctx, o.roomID)
	if err != nil {
		return err
	}

	approvalCh, err := o.beginNegotiation(ctx)
	if err != nil {
		slog.Error("orchestrator: failed to start capability negotiation", "widget_id", o.widgetID, "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case frame, ok := <-o.transport.Incoming():
			if !ok {
				return nil
			}
			o.handleFrame(ctx, frame)

		case decision, ok := <-approvalCh:
			if !ok {
				approvalCh = nil
				continue
			}
			approvalCh = nil
			o.handleApprovalDecision(ctx, decision)

		case evt, ok := <-syncCh:
			if !ok {
				syncCh = nil
				continue
			}
			o.handleMatrixEvent(ctx, evt)
		}
	}
}

func (o *Orchestrator) dispose() {
	o.state.Pending.Clear()
	if err := o.transport.Close(); err != nil {
		slog.Warn("orchestrator: error closing transport", "widget_id", o.widgetID, "err", err)
	}
	o.matrix.Close()
}

// beginNegotiation parses the widget's requested capability strings and
// drives the one-shot Unset -> Negotiating transition (spec.md §4.4.3),
// invoking the CapabilityUI collaborator for the resulting
// ActionRequestCapabilities.
func (o *Orchestrator) beginNegotiation(ctx context.Context) (<-chan capabilityui.Decision, error) {
	requested := capability.Parse(o.requestedRaw, capability.SubstitutionContext{UserID: o.userID, DeviceID: o.deviceID})

	next, actions := statemachine.BeginNegotiation(o.state, requested)
	o.state = next

	var ch <-chan capabilityui.Decision
	for _, a := range actions {
		if a.Kind != statemachine.ActionRequestCapabilities {
			continue
		}
		c, err := o.ui.Request(ctx, o.widgetID, a.Requested)
		if err != nil {
			return nil, err
		}
		ch = c
		if o.auditLog != nil {
			o.auditLog.Record(ctx, audit.Event{WidgetID: o.widgetID, Kind: audit.KindCapabilityRequested})
		}
	}
	return ch, nil
}

// handleFrame validates and decodes one inbound transport frame, runs it
// through the reducer, and executes the resulting actions. A frame that
// fails schema validation or envelope parsing is dropped silently (spec.md
// §7, M_INVALID_REQUEST with no request id to answer).
func (o *Orchestrator) handleFrame(ctx context.Context, frame []byte) {
	if err := protocol.ValidateEnvelopeSchema(frame); err != nil {
		slog.Debug("orchestrator: dropping frame failing schema validation", "widget_id", o.widgetID, "err", err)
		return
	}
	env, err := protocol.ParseEnvelope(frame)
	if err != nil {
		slog.Debug("orchestrator: dropping unparseable frame", "widget_id", o.widgetID, "err", err)
		return
	}

	msg := statemachine.Message{
		Action:    env.Action,
		RequestID: env.RequestID,
		WidgetID:  env.WidgetID,
		Data:      env.Data,
	}

	next, actions := statemachine.ProcessFromWidget(o.state, msg, o.clock())
	o.state = next
	o.executeActions(ctx, actions)
}

// handleApprovalDecision resolves the human's verdict on the widget's
// capability request. A GrantOpenID-but-not-yet-fetched reply
// (OpenIDDecisionPending) is turned into a concrete token fetch here, since
// the reducer never performs I/O itself.
func (o *Orchestrator) handleApprovalDecision(ctx context.Context, decision capabilityui.Decision) {
	openid := decision.OpenID
	if openid.Kind == statemachine.OpenIDDecisionPending {
		resp, err := o.matrix.RequestOpenIDToken(ctx, o.userID)
		if err != nil {
			slog.Warn("orchestrator: failed to fetch openid token after approval", "widget_id", o.widgetID, "err", err)
			openid = statemachine.OpenIDDecision{Kind: statemachine.OpenIDDecisionBlocked}
		} else {
			openid = statemachine.OpenIDDecision{
				Kind: statemachine.OpenIDDecisionAllowed,
				Credentials: statemachine.OpenIDCredentials{
					AccessToken: resp.AccessToken,
					ExpiresIn:   resp.ExpiresIn,
					Homeserver:  resp.MatrixServerName,
					TokenType:   resp.TokenType,
				},
			}
		}
	}

	next, actions := statemachine.ProcessCapabilityApproval(o.state, decision.Approved, openid, o.clock())
	o.state = next
	o.readEngine = filter.Compile(o.state.ApprovedCapabilities.Read)
	o.executeActions(ctx, actions)

	if o.auditLog != nil {
		kind := audit.KindCapabilityApproved
		if isEmptySet(decision.Approved) {
			kind = audit.KindCapabilityDenied
		}
		o.auditLog.Record(ctx, audit.Event{WidgetID: o.widgetID, Kind: kind})
	}
}

// handleMatrixEvent applies the negotiated read filter to an observed
// room/state event and forwards it to the widget if it passes (spec.md
// §4.5, §4.2). Events observed before negotiation completes are dropped:
// there is no approved read filter to check them against yet.
func (o *Orchestrator) handleMatrixEvent(ctx context.Context, evt protocol.MatrixEvent) {
	if o.readEngine == nil {
		return
	}
	if !o.readEngine.Match(&evt) {
		return
	}

	action := "notify_new_event"
	if evt.IsState() {
		action = "notify_state_update"
	}
	o.sendToWidget(ctx, "", o.widgetID, action, evt)

	if o.auditLog != nil {
		o.auditLog.Record(ctx, audit.Event{WidgetID: o.widgetID, Kind: audit.KindEventForwarded, Detail: evt.Type})
	}
}

func (o *Orchestrator) executeActions(ctx context.Context, actions []statemachine.Action) {
	for _, a := range actions {
		o.executeAction(ctx, a)
	}
}

// executeAction runs one reducer-emitted Action against the driver's
// collaborators. All I/O errors here are surfaced as a best-effort
// SendToWidget{action:"error", code:M_UNKNOWN} (spec.md §4.5), never
// propagated back into the reducer.
func (o *Orchestrator) executeAction(ctx context.Context, a statemachine.Action) {
	switch a.Kind {
	case statemachine.ActionSendToWidget:
		o.sendToWidget(ctx, a.RequestID, a.WidgetID, a.ToWidgetAction, a.Data)

	case statemachine.ActionSendMatrixEvent:
		roomID := a.RoomID
		if roomID == "" {
			roomID = o.roomID
		}
		eventID, err := o.matrix.SendEvent(ctx, roomID, a.EventType, a.StateKey, a.Content)
		if err != nil {
			o.sendError(ctx, a.RequestID, a.WidgetID, protocol.ErrUnknown, err.Error())
			return
		}
		o.sendToWidget(ctx, a.RequestID, a.WidgetID, "send_event", protocol.SendEventResponse{EventID: eventID, RoomID: roomID})

	case statemachine.ActionReadMatrixEvents:
		roomID := a.RoomID
		if roomID == "" {
			roomID = o.roomID
		}
		events, err := o.matrix.ReadEvents(ctx, roomID, a.EventType, a.StateKey, a.Limit)
		if err != nil {
			o.sendError(ctx, a.RequestID, a.WidgetID, protocol.ErrUnknown, err.Error())
			return
		}
		o.sendToWidget(ctx, a.RequestID, a.WidgetID, "read_events", protocol.ReadEventsResponse{Events: events})

	case statemachine.ActionSendToDeviceMessage:
		if err := o.matrix.SendToDevice(ctx, a.EventType, a.ToDevice); err != nil {
			o.sendError(ctx, a.RequestID, a.WidgetID, protocol.ErrUnknown, err.Error())
			return
		}
		o.sendToWidget(ctx, a.RequestID, a.WidgetID, "send_to_device", protocol.SendToDeviceResponse{})

	case statemachine.ActionUpdateDelayedEvent:
		if err := o.matrix.UpdateDelayedEvent(ctx, a.DelayID, a.DelayOp); err != nil {
			o.sendError(ctx, a.RequestID, a.WidgetID, protocol.ErrUnknown, err.Error())
			return
		}
		o.sendToWidget(ctx, a.RequestID, a.WidgetID, "update_delayed_event", protocol.UpdateDelayedEventResponse{})

	case statemachine.ActionRequestOpenID:
		resp, err := o.matrix.RequestOpenIDToken(ctx, o.userID)
		if err != nil {
			o.sendError(ctx, a.RequestID, a.WidgetID, protocol.ErrUnknown, err.Error())
			if o.auditLog != nil {
				o.auditLog.Record(ctx, audit.Event{WidgetID: a.WidgetID, Kind: audit.KindOpenIDBlocked, Detail: err.Error()})
			}
			return
		}
		creds := statemachine.OpenIDCredentials{
			AccessToken: resp.AccessToken,
			ExpiresIn:   resp.ExpiresIn,
			Homeserver:  resp.MatrixServerName,
			TokenType:   resp.TokenType,
		}
		next, followup := statemachine.ProcessOpenIDResult(o.state, a.RequestID, a.WidgetID, creds, o.clock())
		o.state = next
		o.executeActions(ctx, followup)
		if o.auditLog != nil {
			o.auditLog.Record(ctx, audit.Event{WidgetID: a.WidgetID, Kind: audit.KindOpenIDIssued})
		}

	case statemachine.ActionRequestCapabilities:
		// Only ever emitted by BeginNegotiation, which beginNegotiation
		// already handles directly; ProcessFromWidget's dispatch table never
		// produces this action.
		slog.Warn("orchestrator: unexpected ActionRequestCapabilities from ProcessFromWidget", "widget_id", a.WidgetID)

	case statemachine.ActionNavigate:
		o.sendToWidget(ctx, a.RequestID, a.WidgetID, "navigate", protocol.NavigateResponse{})
	}
}

func (o *Orchestrator) sendToWidget(ctx context.Context, requestID, widgetID, action string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		slog.Error("orchestrator: failed to encode response payload", "widget_id", widgetID, "action", action, "err", err)
		return
	}

	env := protocol.Envelope{
		API:       protocol.APIToWidget,
		RequestID: requestID,
		WidgetID:  widgetID,
		Action:    action,
		Data:      raw,
	}
	frame, err := json.Marshal(env)
	if err != nil {
		slog.Error("orchestrator: failed to encode envelope", "widget_id", widgetID, "action", action, "err", err)
		return
	}

	if err := o.transport.Send(ctx, frame); err != nil {
		slog.Warn("orchestrator: failed to deliver frame to widget", "widget_id", widgetID, "action", action, "err", err)
	}
}

// sendError builds the canonical error envelope (spec.md §7). Per spec.md
// §4.5, an error that occurs while trying to deliver an error frame fails
// silently rather than recursing; sendToWidget already only logs delivery
// failures, so this never loops.
func (o *Orchestrator) sendError(ctx context.Context, requestID, widgetID, code, message string) {
	o.sendToWidget(ctx, requestID, widgetID, "error", protocol.ErrorData{Code: code, Message: message})
}

func isEmptySet(s capability.Set) bool {
	return len(s.Read) == 0 && len(s.Send) == 0 && !s.RequiresClient && !s.UpdateDelayedEvent && !s.SendDelayedEvent
}
