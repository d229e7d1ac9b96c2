package filter

import (
	"github.com/matrix-org/widget-driver/internal/widgetdriver/capability"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/protocol"
)

// Engine is a pre-compiled matcher built from a capability.Set's Read (or
// Send) filter list. Compiling once and reusing the Engine across many
// incoming events avoids re-walking the filter list per event (spec.md §4.2).
type Engine struct {
	// roomMessageMsgtypes holds the set of granted msgtypes for
	// KindRoomMessageWithMsgtype filters.
	roomMessageMsgtypes map[string]bool
	// messageLikePrefixes holds the EventType prefixes for
	// KindMessageLikeWithType filters, in declaration order (first hit wins,
	// though all hits are equivalent).
	messageLikePrefixes []string
	// stateExactTypes holds types granted via KindStateWithType (any key).
	stateExactTypes map[string]bool
	// stateKeyedIndex holds type -> set of exact state keys granted via
	// KindStateWithTypeAndStateKey.
	stateKeyedIndex map[string]map[string]bool
	// toDeviceExactTypes holds types granted via KindToDeviceWithType.
	toDeviceExactTypes map[string]bool
}

// Compile builds an Engine from filters (typically a Set's Read or Send
// list).
func Compile(filters []capability.Filter) *Engine {
	e := &Engine{
		roomMessageMsgtypes: make(map[string]bool),
		stateExactTypes:     make(map[string]bool),
		stateKeyedIndex:     make(map[string]map[string]bool),
		toDeviceExactTypes:  make(map[string]bool),
	}

	for _, f := range filters {
		switch f.Kind {
		case capability.KindMessageLikeWithType:
			e.messageLikePrefixes = append(e.messageLikePrefixes, f.EventType)
		case capability.KindRoomMessageWithMsgtype:
			e.roomMessageMsgtypes[f.Msgtype] = true
		case capability.KindStateWithType:
			e.stateExactTypes[f.EventType] = true
		case capability.KindStateWithTypeAndStateKey:
			keys, ok := e.stateKeyedIndex[f.EventType]
			if !ok {
				keys = make(map[string]bool)
				e.stateKeyedIndex[f.EventType] = keys
			}
			keys[f.StateKey] = true
		case capability.KindToDeviceWithType:
			e.toDeviceExactTypes[f.EventType] = true
		}
	}

	return e
}

// Match reports whether ev is covered by the compiled filter set. The crypto
// denylist is checked first and short-circuits every other rule, including
// an otherwise-matching user-approved filter (spec.md §4.2, P1/P2).
func (e *Engine) Match(ev *protocol.MatrixEvent) bool {
	if ev == nil {
		return false
	}
	if IsCrypto(ev.Type) {
		return false
	}

	if ev.IsState() {
		if e.stateExactTypes[ev.Type] {
			return true
		}
		if keys, ok := e.stateKeyedIndex[ev.Type]; ok && keys[*ev.StateKey] {
			return true
		}
		return false
	}

	// Message-like event (no state key).
	for _, prefix := range e.messageLikePrefixes {
		if hasPrefix(ev.Type, prefix) {
			return true
		}
	}
	if ev.Type == "m.room.message" && len(e.roomMessageMsgtypes) > 0 {
		msgtype, _ := ev.Content["msgtype"].(string)
		if e.roomMessageMsgtypes[msgtype] {
			return true
		}
	}
	return false
}

// MatchToDevice reports whether a to-device payload of the given event type
// is covered. The crypto denylist applies here too: a crypto-typed
// to-device payload is never an acceptable send_to_device target.
func (e *Engine) MatchToDevice(eventType string) bool {
	if IsCrypto(eventType) {
		return false
	}
	return e.toDeviceExactTypes[eventType]
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
