package statemachine

import "github.com/matrix-org/widget-driver/internal/widgetdriver/capability"

// BeginNegotiation starts capability negotiation (spec.md §4.4.3's
// "Unset --widget requests caps--> Negotiating" transition). It is a separate
// reducer entry point, distinct from ProcessFromWidget: the source's dispatch
// table (§4.4.1) never lists a FromWidget action that starts negotiation, so
// the Orchestrator calls this directly once it has parsed the widget's
// registration-time capability request (e.g. from the widget's URL/init
// data) into a capability.Set.
//
// Negotiation is one-shot (spec.md §4.4.3): calling this when capability_state
// is already Negotiating or Negotiated is a no-op, since re-negotiation after
// the initial exchange is explicitly unspecified (spec.md §9).
func BeginNegotiation(state State, requested capability.Set) (State, []Action) {
	next := state.clone()

	if next.CapabilityState != PhaseUnset {
		return next, nil
	}

	next.CapabilityState = PhaseNegotiating
	next.RequestedCapabilities = &requested

	return next, []Action{{
		Kind:      ActionRequestCapabilities,
		Requested: requested,
	}}
}
