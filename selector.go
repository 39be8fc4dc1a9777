package appmenu

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shelepuginivan/appmenu/internal/logging"
	"github.com/shelepuginivan/appmenu/wayland"
	"github.com/shelepuginivan/appmenu/x11"
)

// DefaultObjectPath is the object path menus are published at.
const DefaultObjectPath dbus.ObjectPath = "/MenuBar"

const tracerName = "github.com/shelepuginivan/appmenu"

var (
	// ErrWindowClosed is returned by [Attempt.Wait] when the window was
	// unregistered while the attempt was running.
	ErrWindowClosed = errors.New("window closed")

	// ErrAttemptInProgress is returned when registering a window whose
	// previous attempt has not completed.
	ErrAttemptInProgress = errors.New("registration attempt in progress")

	// ErrSelectorClosed is returned by operations on a closed [Selector].
	ErrSelectorClosed = errors.New("selector closed")
)

// Window is a top-level window requesting a global menu.
type Window struct {
	// Key identifies the window within a [Selector].
	Key string

	// XID is the X11 window id, or 0.
	XID uint32

	// Surface is the Wayland surface of the window, or nil.
	Surface *wayland.Surface

	PID     int
	AppName string

	// SetAppID sets the application id of the window.
	SetAppID func(appID string)
}

// windowID returns the id the window is registered under. Surface ids are
// only unique per connection, so windows on different connections may share
// one.
func (w *Window) windowID() WindowID {
	switch {
	case w.XID != 0:
		return WindowID(w.XID)
	case w.Surface != nil:
		return WindowID(w.Surface.ProtocolID())
	default:
		return 0
	}
}

// Registration is the menu registration of a window.
type Registration struct {
	Window    string
	WindowID  WindowID
	Identity  string
	Service   string
	Path      dbus.ObjectPath
	State     State
	AttemptID string
}

// Warning is a non-fatal failure. The menu keeps working in the
// application, it is only missing from the shell.
type Warning struct {
	Window    string
	AttemptID string
	Reason    FailureReason
	Err       error
}

func (w Warning) String() string {
	return fmt.Sprintf("window %s: %s: %v", w.Window, w.Reason, w.Err)
}

// Attempt is a running registration attempt.
type Attempt struct {
	id     string
	window string
	f      *future[State]
}

// ID returns the unique id of the attempt.
func (a *Attempt) ID() string {
	return a.id
}

// Window returns the key of the window.
func (a *Attempt) Window() string {
	return a.window
}

// Done is closed when the attempt has completed.
func (a *Attempt) Done() <-chan struct{} {
	return a.f.done
}

// Wait waits for the attempt and returns its final state. The error is set
// when the attempt failed or was stopped.
func (a *Attempt) Wait(ctx context.Context) (State, error) {
	return a.f.wait(ctx)
}

// SelectorConfig configures a [Selector].
type SelectorConfig struct {
	// Strategy owning the window surfaces. It cannot change afterwards.
	Strategy wayland.Strategy

	Registrar   *RegistrarClient
	Matcher     *IdentityMatcher
	Connections *wayland.Manager
	Binder      *wayland.AppMenuBinder

	// Legacy is the X11 binder. Nil means no X11 session.
	Legacy *x11.Binder

	ObjectPath dbus.ObjectPath
	Tracer     trace.Tracer
}

type entry struct {
	window  *Window
	reg     Registration
	handle  *ObjectHandle
	surface *wayland.Surface
	legacy  bool
	attempt *Attempt
	cancel  context.CancelFunc
	running bool
	closing bool
}

// Selector drives menu registrations of windows. It tries, in order, a
// direct binding through the compositor, X11 window properties, and
// identity matching.
type Selector struct {
	strategy  wayland.Strategy
	registrar *RegistrarClient
	matcher   *IdentityMatcher
	conns     *wayland.Manager
	binder    *wayland.AppMenuBinder
	legacy    *x11.Binder
	path      dbus.ObjectPath
	tracer    trace.Tracer

	wg sync.WaitGroup

	mu            sync.Mutex
	closed        bool
	entries       map[string]*entry
	onWarning     func(Warning)
	onStateChange func(window string, from, to State)
}

// NewSelector returns a new [Selector].
func NewSelector(cfg SelectorConfig) (*Selector, error) {
	if cfg.Registrar == nil {
		return nil, fmt.Errorf("selector: registrar client is required")
	}

	if cfg.Matcher == nil {
		return nil, fmt.Errorf("selector: identity matcher is required")
	}

	s := &Selector{
		strategy:  cfg.Strategy,
		registrar: cfg.Registrar,
		matcher:   cfg.Matcher,
		conns:     cfg.Connections,
		binder:    cfg.Binder,
		legacy:    cfg.Legacy,
		path:      cfg.ObjectPath,
		tracer:    cfg.Tracer,
		entries:   make(map[string]*entry),
	}

	if s.conns == nil {
		s.conns = wayland.NewManager()
	}

	if s.binder == nil {
		s.binder = wayland.NewAppMenuBinder()
	}

	if s.legacy == nil {
		s.legacy = x11.NewBinder(nil)
	}

	if s.path == "" {
		s.path = DefaultObjectPath
	}

	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}

	return s, nil
}

// Strategy returns the connection strategy of the selector.
func (s *Selector) Strategy() wayland.Strategy {
	return s.strategy
}

// OnWarning sets a callback that runs for every non-fatal failure.
func (s *Selector) OnWarning(callback func(Warning)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onWarning = callback
}

// OnStateChange sets a callback that runs on every state transition.
func (s *Selector) OnStateChange(callback func(window string, from, to State)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onStateChange = callback
}

// Register starts a registration attempt for the window.
//
// A window whose previous attempt has completed is torn down and registered
// from scratch.
func (s *Selector) Register(ctx context.Context, win *Window, menu *Menu) *Attempt {
	a := &Attempt{id: uuid.NewString(), f: newFuture[State]()}

	if win == nil || win.Key == "" {
		a.f.resolve(State{}, fmt.Errorf("register: window without key"))
		return a
	}

	a.window = win.Key

	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		a.f.resolve(State{}, fmt.Errorf("register %s: %w", win.Key, ErrSelectorClosed))
		return a
	}

	old := s.entries[win.Key]
	if old != nil && old.running {
		s.mu.Unlock()
		a.f.resolve(State{}, fmt.Errorf("register %s: %w", win.Key, ErrAttemptInProgress))
		return a
	}

	ctx, cancel := context.WithCancel(ctx)

	e := &entry{
		window:  win,
		attempt: a,
		cancel:  cancel,
		running: true,
		reg: Registration{
			Window:    win.Key,
			WindowID:  win.windowID(),
			AttemptID: a.id,
		},
	}

	s.entries[win.Key] = e
	s.wg.Add(1)

	s.mu.Unlock()

	go s.run(ctx, e, old, menu)

	return a
}

// Unregister tears down the registration of the window: the window is
// unregistered from the registrar, the menu is withdrawn from the bus, and
// the compositor or X11 binding is released.
//
// If an attempt is running, the teardown happens once its current step has
// completed.
func (s *Selector) Unregister(ctx context.Context, key string) error {
	s.mu.Lock()

	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return nil
	}

	if e.running {
		e.closing = true
		s.mu.Unlock()

		logging.Debugf(logging.CatSelector, "window %s: teardown deferred until attempt %s completes", key, e.attempt.id)
		return nil
	}

	s.mu.Unlock()

	return s.teardown(ctx, e)
}

// Close tears down every registration and then closes the compositor
// connections. Running attempts are cancelled.
func (s *Selector) Close(ctx context.Context) error {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return nil
	}

	s.closed = true

	var idle []*entry

	for _, e := range s.entries {
		if e.running {
			e.closing = true
			e.cancel()
		} else {
			idle = append(idle, e)
		}
	}

	s.mu.Unlock()

	var errs []error

	for _, e := range idle {
		if err := s.teardown(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Connections stay open: a registration may still reference them.
		errs = append(errs, fmt.Errorf("close: %w", ctx.Err()))
		return errors.Join(errs...)
	}

	if err := s.conns.CloseAll(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}

	return errors.Join(errs...)
}

// State returns the state of the window's registration.
func (s *Selector) State(key string) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		return e.reg.State
	}

	return State{Kind: Unregistered}
}

// Registration returns the registration of the window.
func (s *Selector) Registration(key string) (Registration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Registration{}, false
	}

	return e.reg, true
}

// Len returns the number of registrations.
func (s *Selector) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

func (s *Selector) run(ctx context.Context, e *entry, old *entry, menu *Menu) {
	defer s.wg.Done()
	defer e.cancel()

	if old != nil {
		if err := s.teardown(ctx, old); err != nil {
			logging.Warnf(logging.CatSelector, "window %s: %v", e.window.Key, err)
		}
	}

	ctx, span := s.tracer.Start(ctx, "appmenu.register", trace.WithAttributes(
		attribute.String("appmenu.window", e.window.Key),
		attribute.String("appmenu.attempt", e.attempt.id),
		attribute.String("appmenu.strategy", s.strategy.String()),
	))

	state, err := s.drive(ctx, e, menu)

	span.SetAttributes(attribute.String("appmenu.state", state.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	s.mu.Lock()
	e.running = false
	closing := e.closing
	s.mu.Unlock()

	if closing {
		if err := s.teardown(context.WithoutCancel(ctx), e); err != nil {
			logging.Warnf(logging.CatSelector, "window %s: %v", e.window.Key, err)
		}

		e.attempt.f.resolve(State{Kind: Unregistered}, fmt.Errorf("register %s: %w", e.window.Key, ErrWindowClosed))
		return
	}

	e.attempt.f.resolve(state, err)
}

// drive runs the steps of one attempt. Every step runs at most once.
func (s *Selector) drive(ctx context.Context, e *entry, menu *Menu) (State, error) {
	win := e.window

	if win.Surface != nil && win.Surface.Owner().Strategy() != s.strategy {
		logging.Warnf(logging.CatSelector, "window %s: surface of a %s connection, selector uses %s",
			win.Key, win.Surface.Owner().Strategy(), s.strategy)
	}

	identity := s.matcher.DeriveIdentity(win.PID, win.AppName)
	service := s.matcher.ServiceName(identity)

	if win.Surface == nil && win.XID != 0 && s.legacy.Available() {
		service = s.matcher.LegacyServiceName(win.XID)
	}

	h, err := s.publish(ctx, e, menu, service)
	if err != nil {
		return s.fail(e, err, true)
	}

	if err := s.register(ctx, e, h); err != nil {
		if ctx.Err() != nil {
			return s.fail(e, ctx.Err(), false)
		}
		s.warn(e, err)
	}

	if s.isClosing(e) {
		return s.State(win.Key), ErrWindowClosed
	}

	if win.Surface != nil {
		err := s.bindDirect(ctx, e, h)

		switch {
		case err == nil:
			return s.transition(e, State{Kind: BoundDirectly}), nil
		case errors.Is(err, ErrConnectionClosed):
			return s.fail(e, err, false)
		case ctx.Err() != nil:
			return s.fail(e, ctx.Err(), false)
		}

		logging.Debugf(logging.CatSelector, "window %s: direct binding unavailable: %v", win.Key, err)
	}

	if s.isClosing(e) {
		return s.State(win.Key), ErrWindowClosed
	}

	if win.XID != 0 && s.legacy.Available() {
		err := s.bindLegacy(ctx, e, h)
		if err == nil {
			return s.transition(e, State{Kind: BoundByLegacyProperty}), nil
		}

		if ctx.Err() != nil {
			return s.fail(e, ctx.Err(), false)
		}

		logging.Warnf(logging.CatSelector, "window %s: %v", win.Key, err)
	}

	if err := s.matchIdentity(ctx, e, h, identity); err != nil {
		return s.fail(e, err, !errors.Is(err, context.Canceled))
	}

	return s.transition(e, State{Kind: MatchedByIdentity}), nil
}

func (s *Selector) publish(ctx context.Context, e *entry, menu *Menu, service string) (*ObjectHandle, error) {
	path := s.reservePath(e, service)

	ctx, span := s.tracer.Start(ctx, "publish", trace.WithAttributes(
		attribute.String("appmenu.service", service),
		attribute.String("appmenu.path", string(path)),
	))
	defer span.End()

	h, err := s.registrar.Publish(ctx, menu, service, path)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	s.mu.Lock()
	e.handle = h
	s.mu.Unlock()

	s.transition(e, State{Kind: Published})

	return h, nil
}

func (s *Selector) register(ctx context.Context, e *entry, h *ObjectHandle) error {
	ctx, span := s.tracer.Start(ctx, "register", trace.WithAttributes(
		attribute.Int64("appmenu.window_id", int64(e.reg.WindowID)),
	))
	defer span.End()

	if other, ok := s.registeredBy(e.reg.WindowID, h); ok {
		err := fmt.Errorf("window %d is registered for %s: %w", e.reg.WindowID, other, ErrWindowIDInUse)
		recordError(span, err)
		return err
	}

	// The call observes ctx itself, so waiting without it never leaves the
	// call running after the step.
	err := s.registrar.RegisterAsync(ctx, e.reg.WindowID, h).Wait(context.WithoutCancel(ctx))
	if err != nil {
		recordError(span, err)
	}

	return err
}

// registeredBy returns the key of another live window registered under id.
func (s *Selector) registeredBy(id WindowID, h *ObjectHandle) (string, bool) {
	registered, ok := s.registrar.Registered(id)
	if !ok || registered == h {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.entries {
		if e.handle == registered {
			return key, true
		}
	}

	return "", false
}

func (s *Selector) bindDirect(ctx context.Context, e *entry, h *ObjectHandle) error {
	ctx, span := s.tracer.Start(ctx, "bind.direct")
	defer span.End()

	// Recorded before binding: teardown releases whatever a failed bind
	// may have left on the surface.
	s.mu.Lock()
	e.surface = e.window.Surface
	s.mu.Unlock()

	err := s.bindSurface(ctx, e.window.Surface, h)
	if err != nil {
		recordError(span, err)
		return err
	}

	return nil
}

func (s *Selector) bindSurface(ctx context.Context, surface *wayland.Surface, h *ObjectHandle) error {
	if surface.Owner().Closed() {
		return fmt.Errorf("bind: %w", ErrConnectionClosed)
	}

	conn, err := s.connection(ctx)
	if err != nil {
		return err
	}

	binding, err := conn.BindExtension(ctx, wayland.AppMenuManager)
	if err != nil {
		return err
	}

	return s.binder.Bind(ctx, surface, binding, h.Service, string(h.Path))
}

// connection returns the connection the appmenu extension is bound on,
// which is always the subsystem's own native connection.
func (s *Selector) connection(ctx context.Context) (*wayland.Connection, error) {
	if conn, ok := s.conns.Connection(wayland.Native); ok {
		return conn, nil
	}

	conn, err := s.conns.Open(ctx, wayland.Native)
	if errors.Is(err, wayland.ErrStrategyInUse) {
		if conn, ok := s.conns.Connection(wayland.Native); ok {
			return conn, nil
		}
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocolUnsupported, err)
	}

	return conn, nil
}

func (s *Selector) bindLegacy(ctx context.Context, e *entry, h *ObjectHandle) error {
	ctx, span := s.tracer.Start(ctx, "bind.legacy", trace.WithAttributes(
		attribute.Int64("appmenu.xid", int64(e.window.XID)),
	))
	defer span.End()

	if err := s.legacy.BindLegacy(ctx, e.window.XID, h.Service, string(h.Path)); err != nil {
		recordError(span, err)
		return err
	}

	s.mu.Lock()
	e.legacy = true
	s.mu.Unlock()

	return nil
}

func (s *Selector) matchIdentity(ctx context.Context, e *entry, h *ObjectHandle, identity string) error {
	ctx, span := s.tracer.Start(ctx, "bind.identity", trace.WithAttributes(
		attribute.String("appmenu.identity", identity),
	))
	defer span.End()

	if !s.matcher.Matches(identity, h.Service) {
		err := fmt.Errorf("identity %s does not match service %s: %w", identity, h.Service, ErrNoDiscoveryMechanism)
		recordError(span, err)
		return err
	}

	s.mu.Lock()
	e.reg.Identity = identity
	s.mu.Unlock()

	if err := s.matcher.Match(ctx, e.window, identity); err != nil {
		recordError(span, err)
		return err
	}

	return nil
}

// teardown unregisters the window, withdraws the menu and releases the
// bindings, in that order, and removes the entry.
func (s *Selector) teardown(ctx context.Context, e *entry) error {
	s.mu.Lock()
	h, surface, legacy := e.handle, e.surface, e.legacy
	e.handle, e.surface, e.legacy = nil, nil, false
	id := e.reg.WindowID
	s.mu.Unlock()

	var errs []error

	if h != nil {
		if registered, ok := s.registrar.Registered(id); ok && registered == h {
			if err := s.registrar.Unregister(ctx, id); err != nil {
				errs = append(errs, err)
			}
		}

		if err := s.registrar.Withdraw(h); err != nil {
			errs = append(errs, err)
		}
	}

	if surface != nil {
		if err := s.binder.Release(ctx, surface); err != nil {
			errs = append(errs, err)
		}
	}

	if legacy {
		if err := s.legacy.Clear(ctx, e.window.XID); err != nil {
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	if s.entries[e.window.Key] == e {
		delete(s.entries, e.window.Key)
	}
	from := e.reg.State
	e.reg.State = State{Kind: Unregistered}
	callback := s.onStateChange
	s.mu.Unlock()

	if callback != nil && from.Kind != Unregistered {
		callback(e.window.Key, from, e.reg.State)
	}

	logging.Debugf(logging.CatSelector, "window %s: torn down from %s", e.window.Key, from)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("unregister %s: %w", e.window.Key, err)
	}

	return nil
}

// reservePath returns the object path for the entry's menu. Windows sharing
// a service name get distinct paths.
func (s *Selector) reservePath(e *entry, service string) dbus.ObjectPath {
	s.mu.Lock()
	defer s.mu.Unlock()

	inUse := make(map[dbus.ObjectPath]bool)
	for _, other := range s.entries {
		if other != e && other.reg.Service == service {
			inUse[other.reg.Path] = true
		}
	}

	path := s.path
	for n := 2; inUse[path]; n++ {
		path = dbus.ObjectPath(fmt.Sprintf("%s/%d", s.path, n))
	}

	e.reg.Service = service
	e.reg.Path = path

	return path
}

func (s *Selector) transition(e *entry, next State) State {
	s.mu.Lock()

	from := e.reg.State
	to, err := from.Transition(next)
	if err != nil {
		s.mu.Unlock()
		logging.Errorf(logging.CatSelector, "window %s: %v", e.window.Key, err)
		return from
	}

	e.reg.State = to
	callback := s.onStateChange

	s.mu.Unlock()

	logging.Debugf(logging.CatSelector, "window %s: %s -> %s", e.window.Key, from, to)

	if callback != nil {
		callback(e.window.Key, from, to)
	}

	return to
}

func (s *Selector) fail(e *entry, err error, warn bool) (State, error) {
	state := s.transition(e, FailedWith(err))

	if warn {
		s.warn(e, err)
	}

	return state, err
}

func (s *Selector) warn(e *entry, err error) {
	w := Warning{
		Window:    e.window.Key,
		AttemptID: e.attempt.id,
		Reason:    ReasonOf(err),
		Err:       err,
	}

	logging.Warnf(logging.CatSelector, "%s", w)

	s.mu.Lock()
	callback := s.onWarning
	s.mu.Unlock()

	if callback != nil {
		callback(w)
	}
}

func (s *Selector) isClosing(e *entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return e.closing
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
