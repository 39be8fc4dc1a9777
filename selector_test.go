package appmenu

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelepuginivan/appmenu/wayland"
	"github.com/shelepuginivan/appmenu/wayland/wltest"
	"github.com/shelepuginivan/appmenu/x11"
)

// propertyStore is an in-memory X11 property store.
type propertyStore struct {
	mu    sync.Mutex
	props map[uint32]map[string]string
}

func newPropertyStore() *propertyStore {
	return &propertyStore{props: make(map[uint32]map[string]string)}
}

func (s *propertyStore) SetString(window uint32, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.props[window] == nil {
		s.props[window] = make(map[string]string)
	}
	s.props[window][name] = value

	return nil
}

func (s *propertyStore) String(window uint32, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.props[window][name]
	if !ok {
		return "", errors.New("BadAtom")
	}
	return value, nil
}

func (s *propertyStore) Delete(window uint32, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.props[window], name)
	return nil
}

func (s *propertyStore) Close() error {
	return nil
}

func (s *propertyStore) Len(window uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.props[window])
}

type envConfig struct {
	native     []wltest.Option
	toolkit    *wltest.Session
	strategy   wayland.Strategy
	x11        bool
	discovery  Discovery
	registrar  []RegistrarOption
	ackTimeout time.Duration
}

type selectorEnv struct {
	bus       *fakeBus
	native    *wltest.Session
	manager   *wayland.Manager
	binder    *wayland.AppMenuBinder
	store     *propertyStore
	legacy    *x11.Binder
	registrar *RegistrarClient
	selector  *Selector

	mu          sync.Mutex
	warnings    []Warning
	transitions []string
}

func newSelectorEnv(t *testing.T, configure ...func(*envConfig)) *selectorEnv {
	t.Helper()

	cfg := envConfig{
		native:    []wltest.Option{wltest.WithAppMenu()},
		discovery: DiscoveryNever,
	}

	for _, c := range configure {
		c(&cfg)
	}

	env := &selectorEnv{
		bus:    newFakeBus(),
		native: wltest.NewSession(cfg.native...),
	}

	managerOpts := []wayland.ManagerOption{
		wayland.WithDialer(wayland.Native, env.native.Dialer()),
	}

	if cfg.toolkit != nil {
		managerOpts = append(managerOpts, wayland.WithDialer(wayland.ToolkitManaged, wayland.SessionDialer(cfg.toolkit)))
	}

	env.manager = wayland.NewManager(managerOpts...)
	env.binder = wayland.NewAppMenuBinder(wayland.WithAckTimeout(cfg.ackTimeout))

	var store x11.PropertyStore
	if cfg.x11 {
		env.store = newPropertyStore()
		store = env.store
	}
	env.legacy = x11.NewBinder(store)

	registrarOpts := append([]RegistrarOption{WithRetryInterval(time.Millisecond)}, cfg.registrar...)
	env.registrar = NewRegistrarClient(env.bus, registrarOpts...)

	selector, err := NewSelector(SelectorConfig{
		Strategy:    cfg.strategy,
		Registrar:   env.registrar,
		Matcher:     NewIdentityMatcher(DefaultNamespace, WithDiscovery(cfg.discovery)),
		Connections: env.manager,
		Binder:      env.binder,
		Legacy:      env.legacy,
	})
	require.NoError(t, err)

	selector.OnWarning(func(w Warning) {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.warnings = append(env.warnings, w)
	})

	selector.OnStateChange(func(window string, from, to State) {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.transitions = append(env.transitions, fmt.Sprintf("%s: %s -> %s", window, from, to))
	})

	env.selector = selector

	t.Cleanup(func() {
		selector.Close(context.Background())
	})

	return env
}

func (env *selectorEnv) Warnings() []Warning {
	env.mu.Lock()
	defer env.mu.Unlock()

	return append([]Warning(nil), env.warnings...)
}

func (env *selectorEnv) Transitions() []string {
	env.mu.Lock()
	defer env.mu.Unlock()

	return append([]string(nil), env.transitions...)
}

func (env *selectorEnv) nativeSurface(t *testing.T) *wayland.Surface {
	t.Helper()

	conn, ok := env.manager.Connection(wayland.Native)
	if !ok {
		var err error
		conn, err = env.manager.Open(context.Background(), wayland.Native)
		require.NoError(t, err)
	}

	surface, err := conn.CreateSurface(context.Background())
	require.NoError(t, err)

	return surface
}

func (env *selectorEnv) register(t *testing.T, win *Window) (State, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return env.selector.Register(ctx, win, testMenu(nil)).Wait(ctx)
}

func requestsContaining(session *wltest.Session, substr string) []string {
	var requests []string

	for _, request := range session.Requests() {
		if strings.Contains(request, substr) {
			requests = append(requests, request)
		}
	}

	return requests
}

func TestSelectorBindsDirectly(t *testing.T) {
	env := newSelectorEnv(t)
	surface := env.nativeSurface(t)

	state, err := env.register(t, &Window{Key: "main", Surface: surface, PID: 1234})
	require.NoError(t, err)
	assert.Equal(t, State{Kind: BoundDirectly}, state)

	reg, ok := env.selector.Registration("main")
	require.True(t, ok)
	assert.Equal(t, "ns.app.1234", reg.Service)
	assert.Equal(t, DefaultObjectPath, reg.Path)
	assert.Equal(t, WindowID(surface.ProtocolID()), reg.WindowID)
	assert.NotEmpty(t, reg.AttemptID)

	address, ok := env.native.Address(surface.ProtocolID())
	require.True(t, ok)
	assert.Equal(t, wayland.Address{Service: "ns.app.1234", Path: "/MenuBar"}, address)

	assert.Len(t, env.bus.Calls("RegisterWindow"), 1)
	assert.Empty(t, env.Warnings())
	assert.Equal(t, []string{
		"main: unregistered -> published",
		"main: published -> bound-directly",
	}, env.Transitions())
}

func TestSelectorToolkitSurfaceFallsBackToIdentity(t *testing.T) {
	toolkit := wltest.NewSession(wltest.WithAppMenu())

	env := newSelectorEnv(t, func(cfg *envConfig) {
		cfg.toolkit = toolkit
		cfg.strategy = wayland.ToolkitManaged
		cfg.discovery = DiscoveryAlways
	})

	conn, err := env.manager.Open(context.Background(), wayland.ToolkitManaged)
	require.NoError(t, err)

	surface, err := conn.AdoptSurface(context.Background(), toolkit.NewToolkitSurface())
	require.NoError(t, err)

	var appID string
	win := &Window{
		Key:      "main",
		Surface:  surface,
		PID:      1234,
		SetAppID: func(id string) { appID = id },
	}

	state, err := env.register(t, win)
	require.NoError(t, err)
	assert.Equal(t, State{Kind: MatchedByIdentity}, state)

	reg, _ := env.selector.Registration("main")
	assert.Equal(t, "ns.app.1234", reg.Service)
	assert.Equal(t, "ns.app.1234", reg.Identity)
	assert.Equal(t, "ns.app.1234", appID)

	assert.Empty(t, toolkit.Requests())
	assert.Empty(t, requestsContaining(env.native, "create_appmenu"))
	assert.Empty(t, env.Warnings())
}

func TestSelectorAckTimeoutLeavesNoAddress(t *testing.T) {
	env := newSelectorEnv(t, func(cfg *envConfig) {
		cfg.native = []wltest.Option{wltest.WithAppMenu(), wltest.WithRoundtripDelay(100 * time.Millisecond)}
		cfg.ackTimeout = 20 * time.Millisecond
		cfg.discovery = DiscoveryAlways
	})
	surface := env.nativeSurface(t)

	state, err := env.register(t, &Window{Key: "main", Surface: surface, PID: 1234})
	require.NoError(t, err)
	assert.Equal(t, State{Kind: MatchedByIdentity}, state)

	require.NoError(t, env.selector.Unregister(context.Background(), "main"))

	assert.Eventually(t, func() bool {
		_, ok := env.native.Address(surface.ProtocolID())
		return !ok && len(requestsContaining(env.native, "release ")) == 1
	}, time.Second, 10*time.Millisecond)

	_, bound := env.binder.Bound(surface)
	assert.False(t, bound)
	assert.Len(t, requestsContaining(env.native, "create_appmenu"), 1)
}

func TestSelectorWindowIDSharedAcrossConnections(t *testing.T) {
	toolkit := wltest.NewSession(wltest.WithAppMenu())

	env := newSelectorEnv(t, func(cfg *envConfig) {
		cfg.toolkit = toolkit
		cfg.discovery = DiscoveryAlways
	})
	ctx := context.Background()

	native := env.nativeSurface(t)

	_, err := env.register(t, &Window{Key: "main", Surface: native, PID: 1234})
	require.NoError(t, err)

	main, _ := env.registrar.Registered(WindowID(native.ProtocolID()))
	require.NotNil(t, main)

	conn, err := env.manager.Open(ctx, wayland.ToolkitManaged)
	require.NoError(t, err)

	id := toolkit.NewToolkitSurface()
	for id < native.ProtocolID() {
		id = toolkit.NewToolkitSurface()
	}
	require.Equal(t, native.ProtocolID(), id)

	surface, err := conn.AdoptSurface(ctx, id)
	require.NoError(t, err)

	state, err := env.register(t, &Window{Key: "dialog", Surface: surface, PID: 1234})
	require.NoError(t, err)
	assert.Equal(t, State{Kind: MatchedByIdentity}, state)

	warnings := env.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, "dialog", warnings[0].Window)
	assert.Equal(t, ReasonWindowIDInUse, warnings[0].Reason)
	assert.ErrorIs(t, warnings[0].Err, ErrWindowIDInUse)

	assert.Len(t, env.bus.Calls("RegisterWindow"), 1)

	require.NoError(t, env.selector.Unregister(ctx, "dialog"))
	assert.Empty(t, env.bus.Calls("UnregisterWindow"))

	registered, ok := env.registrar.Registered(WindowID(id))
	require.True(t, ok)
	assert.Same(t, main, registered)

	_, bound := env.binder.Bound(native)
	assert.True(t, bound)
}

func TestSelectorLegacyProperties(t *testing.T) {
	env := newSelectorEnv(t, func(cfg *envConfig) {
		cfg.x11 = true
	})

	state, err := env.register(t, &Window{Key: "main", XID: 42, PID: 1234})
	require.NoError(t, err)
	assert.Equal(t, State{Kind: BoundByLegacyProperty}, state)

	reg, _ := env.selector.Registration("main")
	assert.Equal(t, "ns.menu.42", reg.Service)
	assert.Equal(t, DefaultObjectPath, reg.Path)
	assert.Equal(t, WindowID(42), reg.WindowID)

	address, err := env.legacy.Read(42)
	require.NoError(t, err)
	assert.Equal(t, x11.Address{Service: "ns.menu.42", Path: "/MenuBar"}, address)

	assert.Equal(t, []string{"call RegisterWindow 42 /MenuBar"}, env.bus.Calls("RegisterWindow"))

	require.NoError(t, env.selector.Unregister(context.Background(), "main"))
	assert.Zero(t, env.store.Len(42))
}

func TestSelectorRegistrationTimeoutIsWarning(t *testing.T) {
	env := newSelectorEnv(t, func(cfg *envConfig) {
		cfg.registrar = []RegistrarOption{
			WithRegistrarTimeout(20 * time.Millisecond),
			WithRegistrarRetries(1),
		}
	})

	env.bus.setCall(func(ctx context.Context, method string, args []any) error {
		<-ctx.Done()
		return ctx.Err()
	})

	var invoked []string
	menu := testMenu(&invoked)

	ctx := context.Background()
	state, err := env.selector.Register(ctx, &Window{Key: "main", Surface: env.nativeSurface(t), PID: 1234}, menu).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, State{Kind: BoundDirectly}, state)

	assert.Len(t, env.bus.Calls("RegisterWindow"), 2)

	warnings := env.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, ReasonRegistrationTimeout, warnings[0].Reason)
	assert.Equal(t, "main", warnings[0].Window)
	assert.ErrorIs(t, warnings[0].Err, ErrRegistrationTimeout)

	obj, ok := env.bus.Exported(DefaultObjectPath)
	require.True(t, ok)
	assert.Nil(t, obj.(*MenuObject).Event(2, EventClicked, dbus.MakeVariant(int32(0)), 0))
	assert.Equal(t, []string{"new"}, invoked)
}

func TestSelectorRegistrarAbsentIsWarning(t *testing.T) {
	env := newSelectorEnv(t)
	env.bus.setRegistrar(false)

	state, err := env.register(t, &Window{Key: "main", Surface: env.nativeSurface(t), PID: 1234})
	require.NoError(t, err)
	assert.Equal(t, State{Kind: BoundDirectly}, state)

	warnings := env.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, ReasonRegistrarUnavailable, warnings[0].Reason)
}

func TestSelectorWindowClosedMidRegistration(t *testing.T) {
	env := newSelectorEnv(t)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})

	env.bus.setCall(func(ctx context.Context, method string, args []any) error {
		if method != "RegisterWindow" {
			return nil
		}

		entered <- struct{}{}

		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	ctx := context.Background()
	attempt := env.selector.Register(ctx, &Window{Key: "main", Surface: env.nativeSurface(t), PID: 1234}, testMenu(nil))

	<-entered
	require.NoError(t, env.selector.Unregister(ctx, "main"))

	select {
	case <-attempt.Done():
		t.Fatal("attempt completed before the pending call")
	default:
	}

	close(release)

	state, err := attempt.Wait(ctx)
	assert.ErrorIs(t, err, ErrWindowClosed)
	assert.Equal(t, State{Kind: Unregistered}, state)

	assert.Zero(t, env.selector.Len())
	assert.Zero(t, env.registrar.Len())
	assert.False(t, env.bus.Owns("ns.app.1234"))

	_, ok := env.bus.Exported(DefaultObjectPath)
	assert.False(t, ok)

	assert.Len(t, env.bus.Calls("UnregisterWindow"), 1)
	assert.Empty(t, requestsContaining(env.native, "create_appmenu"))
}

func TestSelectorTeardownOrder(t *testing.T) {
	tests := []struct {
		name      string
		configure func(*envConfig)
		window    func(t *testing.T, env *selectorEnv) *Window
		want      StateKind
		service   string
		// bound reports whether the window still carries its menu binding.
		bound func(env *selectorEnv, win *Window) bool
	}{
		{
			name: "bound directly",
			window: func(t *testing.T, env *selectorEnv) *Window {
				return &Window{Key: "main", Surface: env.nativeSurface(t), PID: 1234}
			},
			want:    BoundDirectly,
			service: "ns.app.1234",
			bound: func(env *selectorEnv, win *Window) bool {
				_, ok := env.binder.Bound(win.Surface)
				return ok
			},
		},
		{
			name: "bound by legacy property",
			configure: func(cfg *envConfig) {
				cfg.x11 = true
			},
			window: func(*testing.T, *selectorEnv) *Window {
				return &Window{Key: "main", XID: 42, PID: 1234}
			},
			want:    BoundByLegacyProperty,
			service: "ns.menu.42",
			bound: func(env *selectorEnv, win *Window) bool {
				return env.store.Len(win.XID) == 2
			},
		},
		{
			name: "matched by identity",
			configure: func(cfg *envConfig) {
				cfg.native = []wltest.Option{wltest.WithCompositorOnly()}
				cfg.discovery = DiscoveryAlways
			},
			window: func(t *testing.T, env *selectorEnv) *Window {
				return &Window{Key: "main", Surface: env.nativeSurface(t), PID: 1234}
			},
			want:    MatchedByIdentity,
			service: "ns.app.1234",
			bound: func(env *selectorEnv, win *Window) bool {
				reg, ok := env.selector.Registration(win.Key)
				return ok && reg.Identity != ""
			},
		},
		{
			name: "failed",
			configure: func(cfg *envConfig) {
				cfg.native = []wltest.Option{wltest.WithCompositorOnly()}
			},
			window: func(t *testing.T, env *selectorEnv) *Window {
				return &Window{Key: "main", Surface: env.nativeSurface(t), PID: 1234}
			},
			want:    Failed,
			service: "ns.app.1234",
			bound: func(env *selectorEnv, win *Window) bool {
				return env.selector.Len() == 1
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configure := []func(*envConfig){}
			if tt.configure != nil {
				configure = append(configure, tt.configure)
			}

			env := newSelectorEnv(t, configure...)
			win := tt.window(t, env)

			state, _ := env.register(t, win)
			require.Equal(t, tt.want, state.Kind)
			require.True(t, tt.bound(env, win))

			var observed []string
			env.bus.setHook(func(event string) {
				observed = append(observed, fmt.Sprintf("%s bound=%t closed=%t",
					event, tt.bound(env, win), env.native.Closed()))
			})

			require.NoError(t, env.selector.Close(context.Background()))

			assert.Equal(t, []string{
				fmt.Sprintf("call UnregisterWindow %d bound=true closed=false", win.windowID()),
				"unexport /MenuBar bound=true closed=false",
				fmt.Sprintf("release-name %s bound=true closed=false", tt.service),
			}, observed)

			assert.False(t, tt.bound(env, win))
			assert.Zero(t, env.selector.Len())

			if win.Surface != nil {
				requests := env.native.Requests()
				require.NotEmpty(t, requests)
				assert.Equal(t, "close", requests[len(requests)-1])
			}
		})
	}
}

func TestSelectorTeardownReleasesSurfaceBeforeClose(t *testing.T) {
	env := newSelectorEnv(t)
	surface := env.nativeSurface(t)

	_, err := env.register(t, &Window{Key: "main", Surface: surface, PID: 1234})
	require.NoError(t, err)

	require.NoError(t, env.selector.Close(context.Background()))

	requests := env.native.Requests()
	require.GreaterOrEqual(t, len(requests), 2)
	assert.True(t, strings.HasPrefix(requests[len(requests)-2], "release "))
	assert.Equal(t, "close", requests[len(requests)-1])
}

func TestSelectorFailedKeepsMenuUntilUnregister(t *testing.T) {
	env := newSelectorEnv(t, func(cfg *envConfig) {
		cfg.native = []wltest.Option{wltest.WithCompositorOnly()}
	})

	state, err := env.register(t, &Window{Key: "main", Surface: env.nativeSurface(t), PID: 1234})
	assert.ErrorIs(t, err, ErrNoDiscoveryMechanism)
	assert.Equal(t, State{Kind: Failed, Reason: ReasonNoDiscovery}, state)

	warnings := env.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, ReasonNoDiscovery, warnings[0].Reason)

	assert.Equal(t, 1, env.selector.Len())
	assert.Equal(t, state, env.selector.State("main"))

	_, ok := env.bus.Exported(DefaultObjectPath)
	assert.True(t, ok)

	require.NoError(t, env.selector.Unregister(context.Background(), "main"))

	_, ok = env.bus.Exported(DefaultObjectPath)
	assert.False(t, ok)
	assert.Zero(t, env.selector.Len())
	assert.Equal(t, State{Kind: Unregistered}, env.selector.State("main"))
}

func TestSelectorConnectionClosed(t *testing.T) {
	env := newSelectorEnv(t)
	surface := env.nativeSurface(t)

	require.NoError(t, env.manager.Close(wayland.Native))

	state, err := env.register(t, &Window{Key: "main", Surface: surface, PID: 1234})
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.Equal(t, State{Kind: Failed, Reason: ReasonConnectionClosed}, state)
	assert.Empty(t, env.Warnings())
}

func TestSelectorAttemptInProgress(t *testing.T) {
	env := newSelectorEnv(t)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})

	env.bus.setCall(func(ctx context.Context, method string, args []any) error {
		if method == "RegisterWindow" {
			entered <- struct{}{}
			<-release
		}
		return nil
	})

	ctx := context.Background()
	win := &Window{Key: "main", Surface: env.nativeSurface(t), PID: 1234}

	first := env.selector.Register(ctx, win, testMenu(nil))
	<-entered

	_, err := env.selector.Register(ctx, win, testMenu(nil)).Wait(ctx)
	assert.ErrorIs(t, err, ErrAttemptInProgress)

	close(release)

	state, err := first.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, BoundDirectly, state.Kind)
}

func TestSelectorReregister(t *testing.T) {
	env := newSelectorEnv(t)
	win := &Window{Key: "main", Surface: env.nativeSurface(t), PID: 1234}

	_, err := env.register(t, win)
	require.NoError(t, err)
	first, _ := env.selector.Registration("main")

	state, err := env.register(t, win)
	require.NoError(t, err)
	assert.Equal(t, BoundDirectly, state.Kind)

	second, _ := env.selector.Registration("main")
	assert.NotEqual(t, first.AttemptID, second.AttemptID)
	assert.Equal(t, DefaultObjectPath, second.Path)

	assert.Len(t, env.bus.Calls("UnregisterWindow"), 1)
	assert.Len(t, env.bus.Calls("RegisterWindow"), 2)
	assert.True(t, env.bus.Owns("ns.app.1234"))
	assert.Equal(t, 1, env.selector.Len())
}

func TestSelectorSharedServiceGetsDistinctPaths(t *testing.T) {
	env := newSelectorEnv(t)

	_, err := env.register(t, &Window{Key: "main", Surface: env.nativeSurface(t), PID: 1234})
	require.NoError(t, err)

	_, err = env.register(t, &Window{Key: "dialog", Surface: env.nativeSurface(t), PID: 1234})
	require.NoError(t, err)

	main, _ := env.selector.Registration("main")
	dialog, _ := env.selector.Registration("dialog")

	assert.Equal(t, dbus.ObjectPath("/MenuBar"), main.Path)
	assert.Equal(t, dbus.ObjectPath("/MenuBar/2"), dialog.Path)
	assert.Len(t, filterEvents(env.bus.Events(), "request-name"), 1)

	require.NoError(t, env.selector.Unregister(context.Background(), "main"))
	assert.True(t, env.bus.Owns("ns.app.1234"))

	require.NoError(t, env.selector.Unregister(context.Background(), "dialog"))
	assert.False(t, env.bus.Owns("ns.app.1234"))
}

func TestSelectorCloseCancelsAttempts(t *testing.T) {
	env := newSelectorEnv(t)

	entered := make(chan struct{}, 1)

	env.bus.setCall(func(ctx context.Context, method string, args []any) error {
		if method == "RegisterWindow" {
			entered <- struct{}{}
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	ctx := context.Background()
	attempt := env.selector.Register(ctx, &Window{Key: "main", Surface: env.nativeSurface(t), PID: 1234}, testMenu(nil))
	<-entered

	require.NoError(t, env.selector.Close(ctx))

	state, err := attempt.Wait(ctx)
	assert.ErrorIs(t, err, ErrWindowClosed)
	assert.Equal(t, State{Kind: Unregistered}, state)

	assert.Zero(t, env.selector.Len())
	assert.True(t, env.native.Closed())

	_, ok := env.bus.Exported(DefaultObjectPath)
	assert.False(t, ok)

	_, err = env.selector.Register(ctx, &Window{Key: "other", PID: 1}, testMenu(nil)).Wait(ctx)
	assert.ErrorIs(t, err, ErrSelectorClosed)
}

func TestSelectorRejectsWindowWithoutKey(t *testing.T) {
	env := newSelectorEnv(t)

	_, err := env.register(t, &Window{PID: 1})
	assert.Error(t, err)
	assert.Zero(t, env.selector.Len())
}

func TestNewSelectorRequiresRegistrar(t *testing.T) {
	_, err := NewSelector(SelectorConfig{Matcher: NewIdentityMatcher(DefaultNamespace)})
	assert.Error(t, err)

	_, err = NewSelector(SelectorConfig{Registrar: NewRegistrarClient(newFakeBus())})
	assert.Error(t, err)
}
