package appmenu

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
)

// Exportable is an object that can be exported on a [Bus]. Its methods
// returning *dbus.Error become D-Bus methods of Interface.
type Exportable interface {
	Interface() string
	Properties() map[string]any
	Signals() []introspect.Signal
}

// Bus is the part of a session bus connection used by appmenu.
type Bus interface {
	// RequestName requests name and fails unless the connection becomes its
	// primary owner.
	RequestName(ctx context.Context, name string) error

	ReleaseName(ctx context.Context, name string) error

	// Export exports obj, its properties and introspection data at path.
	Export(path dbus.ObjectPath, obj Exportable) error

	// Unexport removes everything exported at path for iface.
	Unexport(path dbus.ObjectPath, iface string) error

	Emit(path dbus.ObjectPath, signal string, values ...any) error

	// Call calls method on dest and stores the reply in out.
	Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, args []any, out ...any) error

	NameHasOwner(ctx context.Context, name string) (bool, error)

	// WatchNameOwners calls lost whenever a bus name loses its owner.
	WatchNameOwners(lost func(name string)) (stop func(), err error)
}

// ErrNameTaken is returned by [Bus.RequestName] when another connection owns
// the name.
var ErrNameTaken = errors.New("name already taken")

// SessionBus adapts a godbus connection to [Bus].
type SessionBus struct {
	conn *dbus.Conn
}

// NewSessionBus returns a [Bus] backed by conn.
func NewSessionBus(conn *dbus.Conn) *SessionBus {
	return &SessionBus{conn: conn}
}

// ConnectSessionBus connects to the session bus.
func ConnectSessionBus() (*SessionBus, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	return NewSessionBus(conn), nil
}

// Conn returns the underlying connection.
func (b *SessionBus) Conn() *dbus.Conn {
	return b.conn
}

// UniqueName returns the unique name of the connection.
func (b *SessionBus) UniqueName() string {
	names := b.conn.Names()
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func (b *SessionBus) RequestName(ctx context.Context, name string) error {
	var reply uint32

	err := b.conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.RequestName", 0,
		name, uint32(dbus.NameFlagDoNotQueue)).Store(&reply)
	if err != nil {
		return fmt.Errorf("failed to request name %s: %w", name, err)
	}

	switch dbus.RequestNameReply(reply) {
	case dbus.RequestNameReplyPrimaryOwner, dbus.RequestNameReplyAlreadyOwner:
		return nil
	default:
		return fmt.Errorf("name %s: %w", name, ErrNameTaken)
	}
}

func (b *SessionBus) ReleaseName(ctx context.Context, name string) error {
	var reply uint32

	err := b.conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.ReleaseName", 0, name).Store(&reply)
	if err != nil {
		return fmt.Errorf("failed to release name %s: %w", name, err)
	}

	return nil
}

func (b *SessionBus) Export(path dbus.ObjectPath, obj Exportable) error {
	iface := obj.Interface()

	if err := b.conn.Export(obj, path, iface); err != nil {
		return fmt.Errorf("failed to export %s: %w", iface, err)
	}

	propMap := make(map[string]*prop.Prop)
	for name, value := range obj.Properties() {
		propMap[name] = &prop.Prop{
			Value:    value,
			Writable: false,
			Emit:     prop.EmitTrue,
		}
	}

	props, err := prop.Export(b.conn, path, prop.Map{iface: propMap})
	if err != nil {
		b.conn.Export(nil, path, iface)
		return fmt.Errorf("failed to export properties of %s: %w", iface, err)
	}

	node := &introspect.Node{
		Name: string(path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:       iface,
				Methods:    introspect.Methods(obj),
				Properties: props.Introspection(iface),
				Signals:    obj.Signals(),
			},
		},
	}

	if err := b.conn.Export(introspect.NewIntrospectable(node), path, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("failed to export introspection of %s: %w", iface, err)
	}

	return nil
}

func (b *SessionBus) Unexport(path dbus.ObjectPath, iface string) error {
	return errors.Join(
		b.conn.Export(nil, path, iface),
		b.conn.Export(nil, path, "org.freedesktop.DBus.Properties"),
		b.conn.Export(nil, path, "org.freedesktop.DBus.Introspectable"),
	)
}

func (b *SessionBus) Emit(path dbus.ObjectPath, signal string, values ...any) error {
	return b.conn.Emit(path, signal, values...)
}

func (b *SessionBus) Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, args []any, out ...any) error {
	call := b.conn.Object(dest, path).CallWithContext(ctx, method, 0, args...)
	if call.Err != nil {
		return call.Err
	}

	if len(out) == 0 {
		return nil
	}

	return call.Store(out...)
}

func (b *SessionBus) NameHasOwner(ctx context.Context, name string) (bool, error) {
	var hasOwner bool

	err := b.conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.NameHasOwner", 0, name).Store(&hasOwner)
	if err != nil {
		return false, err
	}

	return hasOwner, nil
}

func (b *SessionBus) WatchNameOwners(lost func(name string)) (func(), error) {
	match := []dbus.MatchOption{
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchSender("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	}

	if err := b.conn.AddMatchSignal(match...); err != nil {
		return nil, err
	}

	signals := make(chan *dbus.Signal, 64)
	b.conn.Signal(signals)

	go func() {
		for signal := range signals {
			if signal.Name != "org.freedesktop.DBus.NameOwnerChanged" {
				continue
			}

			if len(signal.Body) < 3 {
				continue
			}

			name, ok := signal.Body[0].(string)
			if !ok {
				continue
			}

			newOwner, ok := signal.Body[2].(string)
			if !ok {
				continue
			}

			// Whenever a name disappears, D-Bus sends NameOwnerChanged with
			// an empty new owner.
			if newOwner == "" {
				lost(name)
			}
		}
	}()

	var once sync.Once

	stop := func() {
		once.Do(func() {
			b.conn.RemoveMatchSignal(match...)
			b.conn.RemoveSignal(signals)
			close(signals)
		})
	}

	return stop, nil
}

// Close closes the underlying connection.
func (b *SessionBus) Close() error {
	return b.conn.Close()
}

// isUnavailable reports whether err means the destination is not on the
// bus.
func isUnavailable(err error) bool {
	name := dbusErrorName(err)
	return name == "org.freedesktop.DBus.Error.ServiceUnknown" ||
		name == "org.freedesktop.DBus.Error.NameHasNoOwner"
}

func dbusErrorName(err error) string {
	var e dbus.Error
	if errors.As(err, &e) {
		return e.Name
	}

	var pe *dbus.Error
	if errors.As(err, &pe) && pe != nil {
		return pe.Name
	}

	return ""
}
