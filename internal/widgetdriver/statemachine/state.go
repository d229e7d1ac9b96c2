// Package statemachine implements the pure widget reducer: it consumes
// inbound widget messages (and capability-approval decisions) and returns a
// fresh State plus a list of typed Actions for the Orchestrator to execute
// (spec.md §4.4). The reducer never performs I/O and never blocks.
package statemachine

import (
	"time"

	"github.com/matrix-org/widget-driver/internal/widgetdriver/capability"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/pending"
)

// CapabilityPhase is the capability negotiation FSM's state (spec.md §3.3,
// §4.4.3).
type CapabilityPhase int

const (
	PhaseUnset CapabilityPhase = iota
	PhaseNegotiating
	PhaseNegotiated
)

// OpenIDCredentials mirrors spec.md §3.3's credential shape.
type OpenIDCredentials struct {
	AccessToken string
	ExpiresIn   int64
	Homeserver  string
	TokenType   string
}

// OpenIDState pairs cached credentials with when they were acquired, used to
// decide cache-hit vs cache-miss for get_openid (spec.md §3.3, §4.4.1).
type OpenIDState struct {
	Credentials OpenIDCredentials
	AcquiredAt  time.Time
}

// Expired reports whether the cached credential is no longer usable as of
// now, per ExpiresIn seconds from AcquiredAt.
func (o *OpenIDState) Expired(now time.Time) bool {
	if o == nil {
		return true
	}
	deadline := o.AcquiredAt.Add(time.Duration(o.Credentials.ExpiresIn) * time.Second)
	return !now.Before(deadline)
}

// State is the machine's full state (spec.md §3.3). It is treated as
// immutable: every reducer call returns a fresh State value rather than
// mutating the one it was given (spec.md §9, "Purity of the reducer").
type State struct {
	CapabilityState        CapabilityPhase
	RequestedCapabilities  *capability.Set
	ApprovedCapabilities   capability.Set
	OpenID                 *OpenIDState
	Pending                *pending.Registry
}

// NewState creates the initial state for a freshly instantiated driver
// session (spec.md §3.6: "State is created when the orchestrator is
// instantiated"). reg is the (already-configured) pending registry this
// state owns for its lifetime.
func NewState(reg *pending.Registry) State {
	return State{
		CapabilityState:      PhaseUnset,
		ApprovedCapabilities: capability.Set{},
		Pending:              reg,
	}
}

// clone returns a shallow copy of s suitable as the base for a reducer's
// returned State. Pending is a single shared registry for the life of the
// session (spec.md §3.6), not copied per call; every other field is a plain
// value or a freshly-assigned pointer, preserving immutability of the
// previous State value the caller still holds.
func (s State) clone() State {
	return s
}
