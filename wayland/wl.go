package wayland

import (
	"context"
	"fmt"
	"os"

	"github.com/neurlang/wayland/wl"
	"github.com/neurlang/wayland/wlclient"
)

// DialEnv connects to the compositor named by WAYLAND_DISPLAY.
func DialEnv(ctx context.Context) (Session, error) {
	if os.Getenv("WAYLAND_DISPLAY") == "" {
		return nil, fmt.Errorf("dial: WAYLAND_DISPLAY is not set")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	display, err := wl.Connect("")
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	registry, err := display.GetRegistry()
	if err != nil {
		display.Context().Close()
		return nil, fmt.Errorf("dial: failed to get registry: %w", err)
	}

	s := &wlSession{
		display:  display,
		registry: registry,
		surfaces: make(map[uint32]*wl.Surface),
	}

	registry.AddGlobalHandler(s)

	return s, nil
}

// wlSession is a [Session] on top of a neurlang/wayland display.
type wlSession struct {
	display    *wl.Display
	registry   *wl.Registry
	globals    []Global
	compositor *wl.Compositor
	surfaces   map[uint32]*wl.Surface
}

// HandleRegistryGlobal records globals announced by the registry.
func (s *wlSession) HandleRegistryGlobal(ev wl.RegistryGlobalEvent) {
	s.globals = append(s.globals, Global{
		Name:      ev.Name,
		Interface: ev.Interface,
		Version:   ev.Version,
	})
}

func (s *wlSession) Globals() []Global {
	return s.globals
}

func (s *wlSession) Bind(g Global, version uint32) (Object, error) {
	ctx := s.display.Context()

	var proxy wl.Proxy

	switch ExtensionKind(g.Interface) {
	case Compositor:
		compositor := wl.NewCompositor(ctx)
		s.compositor = compositor
		proxy = compositor
	case AppMenuManager:
		proxy = newAppMenuManagerProxy(ctx, version)
	default:
		return nil, fmt.Errorf("%s: %w", g.Interface, ErrProtocolUnsupported)
	}

	if err := s.registry.Bind(g.Name, g.Interface, version, proxy); err != nil {
		return nil, err
	}

	return wlObject{proxy}, nil
}

func (s *wlSession) CreateSurface() (Object, error) {
	if s.compositor == nil {
		if err := s.bindCompositor(); err != nil {
			return nil, err
		}
	}

	surface, err := s.compositor.CreateSurface()
	if err != nil {
		return nil, err
	}

	s.surfaces[uint32(surface.Id())] = surface

	return wlObject{surface}, nil
}

func (s *wlSession) Surface(protocolID uint32) (Object, error) {
	surface, ok := s.surfaces[protocolID]
	if !ok {
		return nil, fmt.Errorf("unknown surface %d", protocolID)
	}

	return wlObject{surface}, nil
}

func (s *wlSession) CreateAppMenu(manager, surface Object) (Object, error) {
	m, ok := proxyOf(manager).(*appMenuManagerProxy)
	if !ok {
		return nil, fmt.Errorf("create appmenu: not an appmenu manager")
	}

	sp := proxyOf(surface)
	if sp == nil {
		return nil, fmt.Errorf("create appmenu: not a surface")
	}

	menu, err := m.create(sp)
	if err != nil {
		return nil, err
	}

	return wlObject{menu}, nil
}

func (s *wlSession) SetAddress(appmenu Object, service, path string) error {
	menu, ok := proxyOf(appmenu).(*appMenuProxy)
	if !ok {
		return fmt.Errorf("set address: not an appmenu")
	}

	return menu.setAddress(service, path)
}

func (s *wlSession) ReleaseAppMenu(appmenu Object) error {
	menu, ok := proxyOf(appmenu).(*appMenuProxy)
	if !ok {
		return fmt.Errorf("release: not an appmenu")
	}

	return menu.release()
}

func (s *wlSession) Roundtrip() error {
	return wlclient.DisplayRoundtrip(s.display)
}

func (s *wlSession) Close() error {
	s.display.Context().Close()
	return nil
}

func (s *wlSession) bindCompositor() error {
	for _, g := range s.globals {
		if g.Interface == string(Compositor) {
			_, err := s.Bind(g, 1)
			return err
		}
	}

	return fmt.Errorf("%s: %w", Compositor, ErrProtocolUnsupported)
}

type wlObject struct {
	proxy wl.Proxy
}

func (o wlObject) ProtocolID() uint32 {
	return uint32(o.proxy.Id())
}

func proxyOf(o Object) wl.Proxy {
	if w, ok := o.(wlObject); ok {
		return w.proxy
	}
	return nil
}

// org_kde_kwin_appmenu_manager request opcodes.
const opAppMenuManagerCreate = 0

// org_kde_kwin_appmenu request opcodes.
const (
	opAppMenuSetAddress = 0
	opAppMenuRelease    = 1
)

type appMenuManagerProxy struct {
	wl.BaseProxy
	version uint32
}

func newAppMenuManagerProxy(ctx *wl.Context, version uint32) *appMenuManagerProxy {
	p := &appMenuManagerProxy{version: version}
	ctx.Register(p)
	return p
}

// Dispatch ignores events: the manager has none.
func (p *appMenuManagerProxy) Dispatch(*wl.Event) {}

func (p *appMenuManagerProxy) create(surface wl.Proxy) (*appMenuProxy, error) {
	menu := &appMenuProxy{version: p.version}
	p.Context().Register(menu)

	if err := p.Context().SendRequest(p, opAppMenuManagerCreate, menu, surface); err != nil {
		return nil, err
	}

	return menu, nil
}

type appMenuProxy struct {
	wl.BaseProxy
	version uint32
}

// Dispatch ignores events: the appmenu object has none.
func (p *appMenuProxy) Dispatch(*wl.Event) {}

func (p *appMenuProxy) setAddress(service, path string) error {
	return p.Context().SendRequest(p, opAppMenuSetAddress, service, path)
}

func (p *appMenuProxy) release() error {
	// release was added in version 2; older objects die with their surface.
	if p.version < 2 {
		return nil
	}
	return p.Context().SendRequest(p, opAppMenuRelease)
}
