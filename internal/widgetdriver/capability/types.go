// Package capability parses capability strings into typed event filters and
// answers whether a proposed send/read operation is covered by a granted
// CapabilitySet.
//
// This package has no dependencies on the rest of the driver: it is the leaf
// of the dependency order in spec.md §2 (CapabilityModel -> FilterEngine ->
// PendingRegistry -> StateMachine -> Orchestrator).
package capability

// Kind is the tag of the filter sum type (spec.md §3.2).
type Kind int

const (
	// KindMessageLikeWithType matches a message-like (no state key) event
	// whose type has the filter's EventType as a prefix.
	KindMessageLikeWithType Kind = iota
	// KindRoomMessageWithMsgtype matches an "m.room.message" event whose
	// content.msgtype equals the filter's Msgtype.
	KindRoomMessageWithMsgtype
	// KindStateWithType matches any state event of the filter's exact
	// EventType, regardless of state key.
	KindStateWithType
	// KindStateWithTypeAndStateKey matches a state event of the filter's
	// exact EventType whose state key equals StateKey exactly (after
	// {userId}/{deviceId} substitution, already applied at Parse time).
	KindStateWithTypeAndStateKey
	// KindToDeviceWithType matches a to-device envelope of the filter's
	// exact EventType.
	KindToDeviceWithType
)

// Filter is one parsed capability grant (spec.md §3.2). The zero value is not
// meaningful; filters are only constructed by Parse.
type Filter struct {
	Kind      Kind
	EventType string
	Msgtype   string // only meaningful for KindRoomMessageWithMsgtype
	StateKey  string // only meaningful for KindStateWithTypeAndStateKey, post-substitution
}

// Equal reports whether two filters are identical after substitution. Used
// to test the "approved is a subset of requested" invariant (spec.md §3.5)
// and for capability-set deduplication.
func (f Filter) Equal(o Filter) bool {
	return f.Kind == o.Kind && f.EventType == o.EventType && f.Msgtype == o.Msgtype && f.StateKey == o.StateKey
}

// Set holds the parsed capability grant for a widget (spec.md §3.1).
// Duplicates within Read/Send are tolerated; all matching operations treat
// the list as a set (order does not affect canSend/canReadEvent, though
// Parse preserves insertion order for deterministic serialization).
type Set struct {
	Read               []Filter
	Send               []Filter
	RequiresClient     bool
	UpdateDelayedEvent bool
	SendDelayedEvent   bool
}

// IsSubsetOf reports whether every filter in s also appears (by Equal) in
// other, and every boolean flag set in s is also set in other. This backs
// spec.md §3.5's "approved_capabilities is a subset of requested_capabilities".
func (s Set) IsSubsetOf(other Set) bool {
	if s.RequiresClient && !other.RequiresClient {
		return false
	}
	if s.UpdateDelayedEvent && !other.UpdateDelayedEvent {
		return false
	}
	if s.SendDelayedEvent && !other.SendDelayedEvent {
		return false
	}
	for _, f := range s.Read {
		if !containsFilter(other.Read, f) {
			return false
		}
	}
	for _, f := range s.Send {
		if !containsFilter(other.Send, f) {
			return false
		}
	}
	return true
}

func containsFilter(list []Filter, f Filter) bool {
	for _, o := range list {
		if f.Equal(o) {
			return true
		}
	}
	return false
}

// SubstitutionContext supplies the concrete values used to expand
// "{userId}"/"{deviceId}" placeholders inside a state-key capability pattern
// at parse time (spec.md §3.2's StateWithTypeAndStateKey row). The source
// widget driver knows these values for the lifetime of one widget session,
// so substitution happens once, here, rather than per-event at match time.
type SubstitutionContext struct {
	UserID   string
	DeviceID string
}
