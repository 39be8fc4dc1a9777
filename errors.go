package appmenu

import (
	"context"
	"errors"

	"github.com/shelepuginivan/appmenu/wayland"
)

var (
	// ErrRegistrarUnavailable is returned when the registrar service is not
	// present on the bus.
	ErrRegistrarUnavailable = errors.New("registrar unavailable")

	// ErrRegistrationTimeout is returned when the registrar did not reply in
	// time on any try.
	ErrRegistrationTimeout = errors.New("registration timeout")

	// ErrNoDiscoveryMechanism is returned when the desktop shell offers no way
	// to discover a menu matched by identity.
	ErrNoDiscoveryMechanism = errors.New("no discovery mechanism")

	// ErrProtocolUnsupported is [wayland.ErrProtocolUnsupported].
	ErrProtocolUnsupported = wayland.ErrProtocolUnsupported

	// ErrSurfaceConnectionMismatch is [wayland.ErrSurfaceConnectionMismatch].
	ErrSurfaceConnectionMismatch = wayland.ErrSurfaceConnectionMismatch

	// ErrConnectionClosed is [wayland.ErrConnectionClosed].
	ErrConnectionClosed = wayland.ErrConnectionClosed

	// ErrWithdrawn is returned when registering an object that was already
	// withdrawn from the bus.
	ErrWithdrawn = errors.New("object withdrawn")

	// ErrUnknownItem is returned for menu item ids that do not exist.
	ErrUnknownItem = errors.New("unknown menu item")

	// ErrWindowIDInUse is returned when another window of the same
	// [Selector] is registered under the window id.
	ErrWindowIDInUse = errors.New("window id in use")
)

// FailureReason is the reason carried by [Failed].
type FailureReason string

const (
	ReasonNone                 FailureReason = ""
	ReasonRegistrarUnavailable FailureReason = "registrar-unavailable"
	ReasonRegistrationTimeout  FailureReason = "registration-timeout"
	ReasonProtocolUnsupported  FailureReason = "protocol-unsupported"
	ReasonConnectionMismatch   FailureReason = "surface-connection-mismatch"
	ReasonNoDiscovery          FailureReason = "no-discovery-mechanism"
	ReasonConnectionClosed     FailureReason = "connection-closed"
	ReasonCancelled            FailureReason = "cancelled"
	ReasonWindowIDInUse        FailureReason = "window-id-in-use"
	ReasonOther                FailureReason = "other"
)

// ReasonOf returns the failure reason for err.
func ReasonOf(err error) FailureReason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrRegistrarUnavailable):
		return ReasonRegistrarUnavailable
	case errors.Is(err, ErrRegistrationTimeout):
		return ReasonRegistrationTimeout
	case errors.Is(err, ErrSurfaceConnectionMismatch):
		return ReasonConnectionMismatch
	case errors.Is(err, ErrProtocolUnsupported):
		return ReasonProtocolUnsupported
	case errors.Is(err, ErrNoDiscoveryMechanism):
		return ReasonNoDiscovery
	case errors.Is(err, ErrConnectionClosed):
		return ReasonConnectionClosed
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	case errors.Is(err, ErrWindowIDInUse):
		return ReasonWindowIDInUse
	default:
		return ReasonOther
	}
}
