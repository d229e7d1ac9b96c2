package capability

import (
	"log/slog"
	"strings"
)

const (
	prefixSendEvent         = "org.matrix.msc2762.send.event:"
	prefixReadEvent         = "org.matrix.msc2762.read.event:"
	prefixSendState         = "org.matrix.msc2762.send.state_event:"
	prefixReadState         = "org.matrix.msc2762.read.state_event:"
	prefixSendToDevice      = "org.matrix.msc3819.send.to_device:"
	prefixReadToDevice      = "org.matrix.msc3819.read.to_device:"
	capRequireClient        = "require_client"
	capRequireClientElement = "io.element.require_client"
	capSendDelayedEvent     = "org.matrix.msc4157.send.delayed_event"
	capUpdateDelayedEvent   = "org.matrix.msc4157.update.delayed_event"
)

// opClass distinguishes the three operation classes a plain (non-#, non-|)
// type spec resolves against (spec.md §4.1's "otherwise plain type" row).
type opClass int

const (
	opEvent opClass = iota
	opStateEvent
	opToDevice
)

// Parse builds a Set from a widget's requested (or user-approved)
// capability-string list. Malformed entries are silently skipped — per
// spec.md §4.1, "only the overall operation completes; no exception escapes
// Parse" — so the widget simply does not gain that one capability.
//
// ctx supplies the values used to expand "{userId}"/"{deviceId}" inside a
// state-key pattern; see SubstitutionContext.
func Parse(capStrings []string, ctx SubstitutionContext) Set {
	var set Set
	for _, raw := range capStrings {
		parseOne(&set, raw, ctx)
	}
	return set
}

func parseOne(set *Set, raw string, ctx SubstitutionContext) {
	switch raw {
	case capRequireClient, capRequireClientElement:
		set.RequiresClient = true
		return
	case capSendDelayedEvent:
		set.SendDelayedEvent = true
		return
	case capUpdateDelayedEvent:
		set.UpdateDelayedEvent = true
		return
	}

	switch {
	case strings.HasPrefix(raw, prefixSendEvent):
		appendSpec(&set.Send, raw[len(prefixSendEvent):], opEvent, ctx)
	case strings.HasPrefix(raw, prefixReadEvent):
		appendSpec(&set.Read, raw[len(prefixReadEvent):], opEvent, ctx)
	case strings.HasPrefix(raw, prefixSendState):
		appendSpec(&set.Send, raw[len(prefixSendState):], opStateEvent, ctx)
	case strings.HasPrefix(raw, prefixReadState):
		appendSpec(&set.Read, raw[len(prefixReadState):], opStateEvent, ctx)
	case strings.HasPrefix(raw, prefixSendToDevice):
		appendToDevice(&set.Send, raw[len(prefixSendToDevice):])
	case strings.HasPrefix(raw, prefixReadToDevice):
		appendToDevice(&set.Read, raw[len(prefixReadToDevice):])
	case strings.HasPrefix(raw, "io.element."):
		if !tryElementPrefix(set, raw, ctx) {
			slog.Debug("capability: skipping unrecognized capability string", "raw", raw)
		}
	default:
		slog.Debug("capability: skipping unrecognized capability string", "raw", raw)
	}
}

// tryElementPrefix handles "io.element.*" forms that embed ".send." or
// ".read." in the prefix (spec.md §4.1's last row). It returns true if raw
// was recognized and handled (even if the embedded spec itself turned out to
// be malformed and was skipped).
func tryElementPrefix(set *Set, raw string, ctx SubstitutionContext) bool {
	// Split on the first ':' only — user IDs inside <spec> may contain ':'.
	idx := strings.Index(raw, ":")
	if idx < 0 {
		return false
	}
	prefix, spec := raw[:idx+1], raw[idx+1:]

	switch {
	case strings.Contains(prefix, ".send."):
		appendSpec(&set.Send, spec, opEvent, ctx)
		return true
	case strings.Contains(prefix, ".read."):
		appendSpec(&set.Read, spec, opEvent, ctx)
		return true
	default:
		return false
	}
}

// appendSpec parses the portion of a capability string after the first ':'
// for the .send/.read.{event,state_event} prefixes (spec.md §4.1's spec
// grammar). class disambiguates the "otherwise plain type" row.
func appendSpec(list *[]Filter, spec string, class opClass, ctx SubstitutionContext) {
	if spec == "" {
		return
	}

	if idx := strings.Index(spec, "#"); idx >= 0 {
		eventType, msgtype := spec[:idx], spec[idx+1:]
		if eventType == "" {
			return
		}
		if eventType == "m.room.message" {
			*list = append(*list, Filter{Kind: KindRoomMessageWithMsgtype, EventType: eventType, Msgtype: msgtype})
		} else {
			*list = append(*list, Filter{Kind: KindMessageLikeWithType, EventType: eventType})
		}
		return
	}

	if idx := strings.Index(spec, "|"); idx >= 0 {
		eventType, keyPattern := spec[:idx], spec[idx+1:]
		if eventType == "" {
			return
		}
		key := substitute(keyPattern, ctx)
		*list = append(*list, Filter{Kind: KindStateWithTypeAndStateKey, EventType: eventType, StateKey: key})
		return
	}

	// Plain type: the operation class determines the variant.
	switch class {
	case opEvent:
		*list = append(*list, Filter{Kind: KindMessageLikeWithType, EventType: spec})
	case opStateEvent:
		*list = append(*list, Filter{Kind: KindStateWithType, EventType: spec})
	}
}

func appendToDevice(list *[]Filter, eventType string) {
	if eventType == "" {
		return
	}
	*list = append(*list, Filter{Kind: KindToDeviceWithType, EventType: eventType})
}

// substitute expands "{userId}" and "{deviceId}" placeholders in a state-key
// pattern using ctx. Unrecognized placeholders are left untouched.
func substitute(pattern string, ctx SubstitutionContext) string {
	r := strings.NewReplacer(
		"{userId}", ctx.UserID,
		"{deviceId}", ctx.DeviceID,
	)
	return r.Replace(pattern)
}
