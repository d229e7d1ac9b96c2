package statemachine

import "encoding/json"

// Message is the reducer's view of one inbound FromWidget envelope
// (spec.md §6.2). It deliberately carries only what the reducer needs,
// keeping protocol.Envelope (and its JSON concerns) out of this package.
type Message struct {
	Action    string
	RequestID string
	WidgetID  string
	Data      json.RawMessage
}

// decode unmarshals m.Data into v. A missing/empty Data decodes to v's zero
// value without error, since several actions (navigate, send_event) have
// required fields the caller must still validate.
func (m Message) decode(v any) error {
	if len(m.Data) == 0 {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}
