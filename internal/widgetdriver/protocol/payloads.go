package protocol

// MatrixEvent is the driver's own representation of a room/state/to-device
// event, independent of whatever Matrix SDK type the MatrixClient collaborator
// uses internally (see SPEC_FULL.md §4.6). Keeping this as a plain struct
// lets the reducer and FilterEngine stay free of any SDK import.
type MatrixEvent struct {
	Type     string         `json:"type"`
	StateKey *string        `json:"state_key,omitempty"`
	Sender   string         `json:"sender,omitempty"`
	RoomID   string         `json:"room_id,omitempty"`
	EventID  string         `json:"event_id,omitempty"`
	Content  map[string]any `json:"content"`
}

// IsState reports whether the event carries a state key (possibly empty
// string, which is still a state key per the Matrix spec).
func (e *MatrixEvent) IsState() bool {
	return e != nil && e.StateKey != nil
}

// SupportedAPIVersions is the fixed list returned for a
// "supported_api_versions" request (spec.md §6.6).
var SupportedAPIVersions = []string{
	"0.0.1", "0.0.2", "MSC2762", "MSC2871", "MSC3819", "MSC4157",
}

// --- FromWidget request bodies (§6.3) ---

// SendEventRequest is the body of a "send_event" FromWidget action.
type SendEventRequest struct {
	Type     string         `json:"type"`
	Content  map[string]any `json:"content"`
	StateKey *string        `json:"state_key,omitempty"`
	RoomID   string         `json:"room_id,omitempty"`
}

// SendEventResponse answers a successful "send_event".
type SendEventResponse struct {
	EventID string `json:"event_id"`
	RoomID  string `json:"room_id,omitempty"`
}

// ReadEventsRequest is the body of a "read_events" FromWidget action.
//
// A nil Type is the lenient "read everything the widget is allowed to read"
// case noted as an open question in spec.md §9; this repo's resolution is
// recorded in DESIGN.md.
type ReadEventsRequest struct {
	Type     *string `json:"type,omitempty"`
	StateKey *string `json:"state_key,omitempty"`
	Limit    int     `json:"limit,omitempty"`
	RoomID   string  `json:"room_id,omitempty"`
}

// ReadEventsResponse answers a successful "read_events".
type ReadEventsResponse struct {
	Events []MatrixEvent `json:"events"`
}

// SendToDeviceRequest is the body of a "send_to_device" FromWidget action
// (MSC3819). Messages maps userId -> deviceId -> content.
type SendToDeviceRequest struct {
	Type      string                                `json:"type"`
	Encrypted bool                                  `json:"encrypted"`
	Messages  map[string]map[string]map[string]any `json:"messages"`
}

// SendToDeviceResponse is the empty success body for "send_to_device".
type SendToDeviceResponse struct{}

// OpenIDResponse is the body of a "get_openid" ToWidget response
// (state: "allowed" | "blocked" | "request").
type OpenIDResponse struct {
	State            string `json:"state"`
	AccessToken      string `json:"access_token,omitempty"`
	ExpiresIn        int64  `json:"expires_in,omitempty"`
	MatrixServerName string `json:"matrix_server_name,omitempty"`
	TokenType        string `json:"token_type,omitempty"`
}

// NavigateRequest is the body of a "navigate" FromWidget action.
type NavigateRequest struct {
	URI string `json:"uri"`
}

// NavigateResponse is the empty success body for "navigate".
type NavigateResponse struct{}

// UpdateDelayedEventRequest is the body of an "update_delayed_event"
// FromWidget action (MSC4157).
type UpdateDelayedEventRequest struct {
	Action  string `json:"action"`
	DelayID string `json:"delay_id"`
}

// UpdateDelayedEventResponse is the empty success body.
type UpdateDelayedEventResponse struct{}

// CapabilitiesResponse is the body of a "capabilities" ToWidget notification,
// sent after content_loaded (if already negotiated) or after approval.
type CapabilitiesResponse struct {
	Capabilities []string `json:"capabilities"`
}

// SupportedAPIVersionsResponse is the body of the "supported_api_versions"
// ToWidget response.
type SupportedAPIVersionsResponse struct {
	SupportedVersions []string `json:"supported_versions"`
}
