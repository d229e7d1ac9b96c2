// Package protocol defines the wire types exchanged between a widget and the
// driver: the message envelope (MSC2762) and the request/response payload
// shapes. The capability-string grammar lives in package capability.
//
// This package performs no I/O. It decodes and validates inbound envelope
// JSON (ParseEnvelope, ValidateEnvelopeSchema); encoding outbound frames and
// handing them to the transport happens in internal/widgetdriver/orchestrator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// API identifies which side of the channel originated a message.
type API string

const (
	APIFromWidget API = "fromWidget"
	APIToWidget   API = "toWidget"
)

// Envelope is the postMessage envelope defined by MSC2762 §6.2.
//
// RequestID is optional: notifications pushed from the driver to the widget
// (e.g. a new room event) carry no RequestID because they expect no reply.
type Envelope struct {
	API       API             `json:"api"`
	RequestID string          `json:"requestId,omitempty"`
	WidgetID  string          `json:"widgetId"`
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
}

// Validate checks the structural invariants of an inbound envelope. It does
// not validate Data's shape; that is the concern of the per-action request
// struct the caller unmarshals Data into.
func (e *Envelope) Validate() error {
	if e == nil {
		return fmt.Errorf("envelope must not be nil")
	}
	if e.API != APIFromWidget {
		return fmt.Errorf("envelope: api must be %q, got %q", APIFromWidget, e.API)
	}
	if e.WidgetID == "" {
		return fmt.Errorf("envelope: widgetId must not be empty")
	}
	if e.Action == "" {
		return fmt.Errorf("envelope: action must not be empty")
	}
	return nil
}

// ParseEnvelope decodes a JSON-encoded Envelope from a raw inbound frame. A
// frame that does not even parse as JSON, or that fails Validate, is the
// caller's cue to drop it silently per spec §7 ("a fully invalid inbound
// frame is discarded without response").
func ParseEnvelope(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("envelope: parse: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// ErrorData is the payload of a ToWidget envelope whose action is "error".
type ErrorData struct {
	Code        string          `json:"code"`
	Message     string          `json:"message"`
	MatrixError json.RawMessage `json:"matrix_error,omitempty"`
}

// Error codes per spec.md §7.
const (
	ErrForbidden      = "M_FORBIDDEN"
	ErrInvalidRequest = "M_INVALID_REQUEST"
	ErrNotFound       = "M_NOT_FOUND"
	ErrLimitExceeded  = "M_LIMIT_EXCEEDED"
	ErrTimeout        = "M_TIMEOUT"
	ErrTransportError = "M_TRANSPORT_ERROR"
	ErrInvalidState   = "M_INVALID_STATE"
	ErrUnrecognized   = "M_UNRECOGNIZED"
	ErrUnknown        = "M_UNKNOWN"
)
