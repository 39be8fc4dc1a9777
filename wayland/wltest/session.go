// Package wltest provides an in-memory [wayland.Session] for tests.
//
// The fake compositor validates that every object passed to a request was
// created on the same session, like a real compositor rejects foreign
// object ids.
package wltest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shelepuginivan/appmenu/wayland"
)

// ErrInvalidObject is returned for requests referencing an object that does
// not belong to the session.
var ErrInvalidObject = errors.New("invalid object")

// Object is a protocol object of a fake [Session].
type Object struct {
	id        uint32
	iface     string
	session   *Session
	target    uint32
	destroyed bool
}

// ProtocolID implements [wayland.Object].
func (o *Object) ProtocolID() uint32 {
	return o.id
}

// Session is a scripted in-memory compositor session.
type Session struct {
	mu             sync.Mutex
	nextID         uint32
	nextName       uint32
	globals        []wayland.Global
	objects        map[uint32]*Object
	addresses      map[uint32]wayland.Address
	requests       []string
	roundtripDelay time.Duration
	roundtrips     int
	closed         bool
	failBind       error
	failSetAddress error
}

// Option configures a [Session].
type Option func(*Session)

// WithGlobal advertises a global.
func WithGlobal(iface string, version uint32) Option {
	return func(s *Session) {
		s.nextName++
		s.globals = append(s.globals, wayland.Global{
			Name:      s.nextName,
			Interface: iface,
			Version:   version,
		})
	}
}

// WithAppMenu advertises wl_compositor and org_kde_kwin_appmenu_manager.
func WithAppMenu() Option {
	return func(s *Session) {
		WithGlobal(string(wayland.Compositor), 6)(s)
		WithGlobal(string(wayland.AppMenuManager), 2)(s)
	}
}

// WithCompositorOnly advertises wl_compositor without the appmenu manager.
func WithCompositorOnly() Option {
	return WithGlobal(string(wayland.Compositor), 6)
}

// WithRoundtripDelay delays acknowledgements after the first roundtrip,
// which is used to read the globals.
func WithRoundtripDelay(d time.Duration) Option {
	return func(s *Session) {
		s.roundtripDelay = d
	}
}

// WithBindError makes every Bind fail with err.
func WithBindError(err error) Option {
	return func(s *Session) {
		s.failBind = err
	}
}

// WithSetAddressError makes every set_address fail with err.
func WithSetAddressError(err error) Option {
	return func(s *Session) {
		s.failSetAddress = err
	}
}

// NewSession returns a new fake session.
func NewSession(opts ...Option) *Session {
	s := &Session{
		objects:   make(map[uint32]*Object),
		addresses: make(map[uint32]wayland.Address),
	}

	// wl_display is object 1.
	s.nextID = 1

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Dialer returns a dialer handing out the session.
func (s *Session) Dialer() wayland.Dialer {
	return func(context.Context) (wayland.Session, error) {
		return s, nil
	}
}

// Requests returns the log of requests sent on the session.
func (s *Session) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	requests := make([]string, len(s.requests))
	copy(requests, s.requests)

	return requests
}

// Address returns the appmenu address the compositor holds for a surface.
func (s *Session) Address(surfaceID uint32) (wayland.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr, ok := s.addresses[surfaceID]
	return addr, ok
}

// Closed reports whether the session was closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// NewToolkitSurface creates a surface as if an embedding toolkit created it
// on this session, and returns its protocol id.
func (s *Session) NewToolkitSurface() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.newObject("wl_surface").id
}

func (s *Session) Globals() []wayland.Global {
	s.mu.Lock()
	defer s.mu.Unlock()

	globals := make([]wayland.Global, len(s.globals))
	copy(globals, s.globals)

	return globals
}

func (s *Session) Bind(g wayland.Global, version uint32) (wayland.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return nil, err
	}

	if s.failBind != nil {
		return nil, s.failBind
	}

	for _, advertised := range s.globals {
		if advertised.Name == g.Name && advertised.Interface == g.Interface {
			if version > advertised.Version {
				return nil, fmt.Errorf("bind %s: version %d > %d", g.Interface, version, advertised.Version)
			}

			s.requests = append(s.requests, fmt.Sprintf("bind %s v%d", g.Interface, version))
			return s.newObject(g.Interface), nil
		}
	}

	return nil, fmt.Errorf("bind %s: unknown global %d", g.Interface, g.Name)
}

func (s *Session) CreateSurface() (wayland.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return nil, err
	}

	o := s.newObject("wl_surface")
	s.requests = append(s.requests, fmt.Sprintf("create_surface %d", o.id))

	return o, nil
}

func (s *Session) Surface(protocolID uint32) (wayland.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.objects[protocolID]
	if !ok || o.iface != "wl_surface" {
		return nil, fmt.Errorf("surface %d: %w", protocolID, ErrInvalidObject)
	}

	return o, nil
}

func (s *Session) CreateAppMenu(manager, surface wayland.Object) (wayland.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return nil, err
	}

	if err := s.owns(manager, string(wayland.AppMenuManager)); err != nil {
		return nil, err
	}

	if err := s.owns(surface, "wl_surface"); err != nil {
		return nil, err
	}

	o := s.newObject("org_kde_kwin_appmenu")
	o.target = surface.ProtocolID()
	s.requests = append(s.requests, fmt.Sprintf("create_appmenu %d surface %d", o.id, surface.ProtocolID()))

	return o, nil
}

func (s *Session) SetAddress(appmenu wayland.Object, service, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return err
	}

	if err := s.owns(appmenu, "org_kde_kwin_appmenu"); err != nil {
		return err
	}

	if s.failSetAddress != nil {
		return s.failSetAddress
	}

	o := appmenu.(*Object)
	s.addresses[o.target] = wayland.Address{Service: service, Path: path}
	s.requests = append(s.requests, fmt.Sprintf("set_address %d %s %s", o.id, service, path))

	return nil
}

func (s *Session) ReleaseAppMenu(appmenu wayland.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return err
	}

	if err := s.owns(appmenu, "org_kde_kwin_appmenu"); err != nil {
		return err
	}

	o := appmenu.(*Object)
	o.destroyed = true
	delete(s.addresses, o.target)
	s.requests = append(s.requests, fmt.Sprintf("release %d", o.id))

	return nil
}

func (s *Session) Roundtrip() error {
	s.mu.Lock()
	s.roundtrips++
	delay := s.roundtripDelay
	if s.roundtrips == 1 {
		delay = 0
	}
	err := s.usable()
	s.mu.Unlock()

	if err != nil {
		return err
	}

	time.Sleep(delay)

	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.requests = append(s.requests, "close")

	return nil
}

func (s *Session) usable() error {
	if s.closed {
		return wayland.ErrConnectionClosed
	}
	return nil
}

func (s *Session) owns(o wayland.Object, iface string) error {
	obj, ok := o.(*Object)
	if !ok || obj.session != s || obj.destroyed || obj.iface != iface {
		return fmt.Errorf("%s %d: %w", iface, o.ProtocolID(), ErrInvalidObject)
	}
	return nil
}

func (s *Session) newObject(iface string) *Object {
	s.nextID++
	o := &Object{id: s.nextID, iface: iface, session: s}
	s.objects[o.id] = o
	return o
}
