// Package filter compiles a list of capability filters into fast lookup
// structures and evaluates them against Matrix events, including the
// hard-coded crypto-event denylist that bypasses all user-granted
// permissions (spec.md §4.2).
package filter

import "strings"

// cryptoExactTypes are event types that are crypto regardless of any prefix
// match (spec.md §4.2).
var cryptoExactTypes = map[string]bool{
	"m.room_key":           true,
	"m.room_key_request":   true,
	"m.forwarded_room_key": true,
	"m.room.encrypted":     true,
}

// cryptoPrefixes are event-type prefixes that are always crypto.
var cryptoPrefixes = []string{
	"m.secret.",
	"m.room_key.",
	"m.room_key_request.",
	"m.forwarded_room_key.",
}

// IsCrypto reports whether eventType is in the hard-coded crypto denylist.
// This check must run before any user-approved filter match, and applies
// identically to forwarded events, send_event targets, and send_to_device
// payload types (spec.md §4.2).
func IsCrypto(eventType string) bool {
	if cryptoExactTypes[eventType] {
		return true
	}
	for _, p := range cryptoPrefixes {
		if strings.HasPrefix(eventType, p) {
			return true
		}
	}
	return false
}
