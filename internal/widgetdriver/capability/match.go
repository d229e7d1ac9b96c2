package capability

// CanSend reports whether s permits sending an event of the given type with
// the given optional state key (spec.md §4.1's canSend).
func (s Set) CanSend(eventType string, stateKey *string) bool {
	if stateKey != nil {
		for _, f := range s.Send {
			switch f.Kind {
			case KindStateWithType:
				if f.EventType == eventType {
					return true
				}
			case KindStateWithTypeAndStateKey:
				if f.EventType == eventType && f.StateKey == *stateKey {
					return true
				}
			}
		}
		return false
	}

	for _, f := range s.Send {
		switch f.Kind {
		case KindMessageLikeWithType:
			if hasPrefix(eventType, f.EventType) {
				return true
			}
		case KindRoomMessageWithMsgtype:
			if eventType == "m.room.message" {
				return true
			}
		}
	}
	return false
}

// CanSendToDevice reports whether s permits sending a to-device message of
// the given event type.
func (s Set) CanSendToDevice(eventType string) bool {
	for _, f := range s.Send {
		if f.Kind == KindToDeviceWithType && f.EventType == eventType {
			return true
		}
	}
	return false
}

// ReadQuery describes the shape of a read_events request for matching
// purposes (spec.md §6.3's read_events body).
type ReadQuery struct {
	// Type is nil for the "read everything this widget can read" case.
	// spec.md §9 raises this as an open question; DESIGN.md's open-questions
	// ledger records the decision to keep it.
	Type     *string
	StateKey *string
}

// CanReadEvent reports whether s permits reading the described event.
// A nil Type matches any read filter the widget holds at all — kept as
// lenient rather than denied; see DESIGN.md's open-questions ledger.
func (s Set) CanReadEvent(q ReadQuery) bool {
	if q.Type == nil {
		return len(s.Read) > 0
	}
	eventType := *q.Type

	for _, f := range s.Read {
		switch f.Kind {
		case KindMessageLikeWithType:
			if q.StateKey == nil && hasPrefix(eventType, f.EventType) {
				return true
			}
		case KindRoomMessageWithMsgtype:
			if q.StateKey == nil && eventType == "m.room.message" {
				return true
			}
		case KindStateWithType:
			if q.StateKey != nil && f.EventType == eventType {
				return true
			}
		case KindStateWithTypeAndStateKey:
			if q.StateKey != nil && f.EventType == eventType && f.StateKey == *q.StateKey {
				return true
			}
		case KindToDeviceWithType:
			if f.EventType == eventType {
				return true
			}
		}
	}
	return false
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
