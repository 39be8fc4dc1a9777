// Package wayland manages compositor connections for appmenu and binds
// surfaces to published menus through the KDE appmenu protocol.
//
// Every [Surface] and [ExtensionBinding] carries a back-reference to the
// [Connection] it was created through. A protocol object can only be used
// with requests sent on its own connection, so every API that combines the
// two checks ownership first and fails with [ErrSurfaceConnectionMismatch]
// before any request is sent.
package wayland

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrProtocolUnsupported is returned when the compositor does not
	// advertise a required protocol extension.
	ErrProtocolUnsupported = errors.New("protocol unsupported")

	// ErrSurfaceConnectionMismatch is returned when a surface and an
	// extension binding belong to different connections.
	ErrSurfaceConnectionMismatch = errors.New("surface connection mismatch")

	// ErrConnectionClosed is returned by operations on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrStrategyInUse is returned by [Manager.Open] when a connection is
	// already open for the requested strategy.
	ErrStrategyInUse = errors.New("strategy already has an open connection")

	// ErrAckTimeout is returned when the compositor did not acknowledge a
	// request in time.
	ErrAckTimeout = errors.New("acknowledgement timeout")
)

// ExtensionKind is the registry interface name of a protocol extension.
type ExtensionKind string

const (
	// AppMenuManager is the KDE appmenu manager global.
	//
	// See https://wayland.app/protocols/kde-appmenu
	AppMenuManager ExtensionKind = "org_kde_kwin_appmenu_manager"

	// Compositor is the core wl_compositor global.
	Compositor ExtensionKind = "wl_compositor"
)

// Highest org_kde_kwin_appmenu_manager version understood by this package.
const appMenuManagerVersion = 2

// Global is an object advertised by the compositor registry.
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// Object is a protocol object created through a [Session].
type Object interface {
	ProtocolID() uint32
}

// Session is a single protocol session with a compositor.
//
// Sessions are not required to be safe for concurrent use. A [Connection]
// calls its session from its own event loop only.
type Session interface {
	// Globals returns the globals advertised so far.
	Globals() []Global

	// Bind binds global g at the given version.
	Bind(g Global, version uint32) (Object, error)

	// CreateSurface creates a new wl_surface.
	CreateSurface() (Object, error)

	// Surface returns a surface that was created on this session by
	// another party, such as a toolkit that owns the session.
	Surface(protocolID uint32) (Object, error)

	// CreateAppMenu sends org_kde_kwin_appmenu_manager.create.
	CreateAppMenu(manager, surface Object) (Object, error)

	// SetAddress sends org_kde_kwin_appmenu.set_address.
	SetAddress(appmenu Object, service, path string) error

	// ReleaseAppMenu destroys an org_kde_kwin_appmenu object.
	ReleaseAppMenu(appmenu Object) error

	// Roundtrip blocks until the compositor has processed every request
	// sent so far.
	Roundtrip() error

	// Close disconnects the session.
	Close() error
}

// Dialer opens a [Session].
type Dialer func(ctx context.Context) (Session, error)

// SessionDialer returns a [Dialer] handing out an already established
// session. It is used for sessions owned by an embedded toolkit: closing the
// resulting [Connection] does not disconnect the session.
func SessionDialer(s Session) Dialer {
	return func(context.Context) (Session, error) {
		if s == nil {
			return nil, fmt.Errorf("dial: no session")
		}
		return borrowedSession{s}, nil
	}
}

// borrowedSession is a session whose lifetime belongs to someone else.
type borrowedSession struct {
	Session
}

func (borrowedSession) Close() error {
	return nil
}

// Strategy selects who owns the compositor connection of a window.
type Strategy int

const (
	// Native means the connection is opened and owned by appmenu.
	Native Strategy = iota

	// ToolkitManaged means the connection is owned by an embedded
	// windowing toolkit, which creates the window surfaces.
	ToolkitManaged
)

func (s Strategy) String() string {
	switch s {
	case Native:
		return "native"
	case ToolkitManaged:
		return "toolkit"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy parses the textual form of a [Strategy].
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "native", "":
		return Native, nil
	case "toolkit", "toolkit-managed", "toolkit_managed":
		return ToolkitManaged, nil
	default:
		return Native, fmt.Errorf("unknown connection strategy %q", s)
	}
}
