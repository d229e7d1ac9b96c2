package capability

import (
	"sort"
)

// Serialize renders s back into its canonical capability-string form
// (spec.md §6.4), sorted for deterministic output. This is the inverse of
// Parse for the subset of forms Parse can produce (it never reconstructs the
// "io.element.*" aliases, since those parse into the same filters as their
// org.matrix.msc2762 equivalents and are therefore indistinguishable after
// the fact).
func (s Set) Serialize() []string {
	var out []string

	for _, f := range s.Read {
		out = append(out, filterToCapString(f, "read"))
	}
	for _, f := range s.Send {
		out = append(out, filterToCapString(f, "send"))
	}
	if s.RequiresClient {
		out = append(out, capRequireClient)
	}
	if s.SendDelayedEvent {
		out = append(out, capSendDelayedEvent)
	}
	if s.UpdateDelayedEvent {
		out = append(out, capUpdateDelayedEvent)
	}

	sort.Strings(out)
	return out
}

func filterToCapString(f Filter, direction string) string {
	switch f.Kind {
	case KindMessageLikeWithType:
		return eventPrefix(direction) + f.EventType
	case KindRoomMessageWithMsgtype:
		return eventPrefix(direction) + f.EventType + "#" + f.Msgtype
	case KindStateWithType:
		return statePrefix(direction) + f.EventType
	case KindStateWithTypeAndStateKey:
		return statePrefix(direction) + f.EventType + "|" + f.StateKey
	case KindToDeviceWithType:
		return toDevicePrefix(direction) + f.EventType
	default:
		return ""
	}
}

func eventPrefix(direction string) string {
	if direction == "read" {
		return prefixReadEvent
	}
	return prefixSendEvent
}

func statePrefix(direction string) string {
	if direction == "read" {
		return prefixReadState
	}
	return prefixSendState
}

func toDevicePrefix(direction string) string {
	if direction == "read" {
		return prefixReadToDevice
	}
	return prefixSendToDevice
}
