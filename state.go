package appmenu

import (
	"errors"
	"fmt"
)

// StateKind is the stage of a menu registration.
type StateKind int

const (
	Unregistered StateKind = iota
	Published
	BoundDirectly
	BoundByLegacyProperty
	MatchedByIdentity
	Failed
)

func (k StateKind) String() string {
	switch k {
	case Unregistered:
		return "unregistered"
	case Published:
		return "published"
	case BoundDirectly:
		return "bound-directly"
	case BoundByLegacyProperty:
		return "bound-by-legacy-property"
	case MatchedByIdentity:
		return "matched-by-identity"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(k))
	}
}

// rank orders the states. Bound states share a rank: none of them leads to
// another.
func (k StateKind) rank() int {
	switch k {
	case Published:
		return 1
	case BoundDirectly, BoundByLegacyProperty, MatchedByIdentity:
		return 2
	case Failed:
		return 3
	default:
		return 0
	}
}

// State is the state of a menu registration. Reason is only set for
// [Failed].
type State struct {
	Kind   StateKind
	Reason FailureReason
}

// FailedWith returns the [Failed] state for err.
func FailedWith(err error) State {
	return State{Kind: Failed, Reason: ReasonOf(err)}
}

func (s State) String() string {
	if s.Kind == Failed && s.Reason != ReasonNone {
		return fmt.Sprintf("%s(%s)", s.Kind, s.Reason)
	}
	return s.Kind.String()
}

// Bound reports whether the menu is associated with its window.
func (s State) Bound() bool {
	return s.Kind.rank() == 2
}

// ErrInvalidTransition is returned for transitions that go backward.
var ErrInvalidTransition = errors.New("invalid state transition")

// CanTransition reports whether s may move to next. States only move
// forward; the only way back is the reset to [Unregistered].
func (s State) CanTransition(next State) bool {
	if next.Kind == Unregistered {
		return true
	}
	return next.Kind.rank() > s.Kind.rank()
}

// Transition returns next if s may move to it.
func (s State) Transition(next State) (State, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%s -> %s: %w", s, next, ErrInvalidTransition)
	}
	return next, nil
}
