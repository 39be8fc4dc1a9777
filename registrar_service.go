package appmenu

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/shelepuginivan/appmenu/internal/logging"
)

// RegisteredMenu is a window known to a [RegistrarService].
type RegisteredMenu struct {
	WindowID uint32
	Service  string
	Path     dbus.ObjectPath
}

// RegistrarService implements com.canonical.AppMenu.Registrar. One
// registrar must be present on a bus at a time.
type RegistrarService struct {
	bus     Bus
	mu      sync.Mutex
	closed  bool
	stop    func()
	windows map[uint32]RegisteredMenu
}

// NewRegistrarService returns a new [RegistrarService].
func NewRegistrarService(bus Bus) *RegistrarService {
	return &RegistrarService{
		bus:     bus,
		windows: make(map[uint32]RegisteredMenu),
	}
}

// Listen requests the registrar name, exports the service and starts
// dropping windows whose owner leaves the bus.
func (r *RegistrarService) Listen(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("listen: registrar is closed")
	}

	if err := r.bus.RequestName(ctx, RegistrarName); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	if err := r.bus.Export(RegistrarPath, r); err != nil {
		r.releaseName()
		return fmt.Errorf("listen: %w", err)
	}

	stop, err := r.bus.WatchNameOwners(r.dropOwner)
	if err != nil {
		r.bus.Unexport(RegistrarPath, RegistrarInterface)
		r.releaseName()
		return fmt.Errorf("listen: %w", err)
	}

	r.stop = stop
	logging.Infof(logging.CatRegistrar, "serving %s", RegistrarName)

	return nil
}

// Close releases the registrar name. The service cannot be reused.
func (r *RegistrarService) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true

	if r.stop != nil {
		r.stop()
	}

	if err := r.bus.Unexport(RegistrarPath, RegistrarInterface); err != nil {
		return err
	}

	return r.releaseName()
}

func (r *RegistrarService) releaseName() error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultRegistrarTimeout)
	defer cancel()

	return r.bus.ReleaseName(ctx, RegistrarName)
}

// Interface returns the D-Bus interface name of the service.
func (r *RegistrarService) Interface() string {
	return RegistrarInterface
}

// Properties returns the D-Bus properties of the service. It has none.
func (r *RegistrarService) Properties() map[string]any {
	return map[string]any{}
}

// Signals describes the signals of com.canonical.AppMenu.Registrar.
func (r *RegistrarService) Signals() []introspect.Signal {
	return []introspect.Signal{
		{
			Name: "WindowRegistered",
			Args: []introspect.Arg{
				{Name: "windowId", Type: "u"},
				{Name: "service", Type: "s"},
				{Name: "path", Type: "o"},
			},
		},
		{
			Name: "WindowUnregistered",
			Args: []introspect.Arg{
				{Name: "windowId", Type: "u"},
			},
		},
	}
}

// RegisterWindow implements com.canonical.AppMenu.Registrar.RegisterWindow.
// The menu is served by the sender of the call.
func (r *RegistrarService) RegisterWindow(windowID uint32, menuObjectPath dbus.ObjectPath, sender dbus.Sender) *dbus.Error {
	r.mu.Lock()
	defer r.mu.Unlock()

	menu := RegisteredMenu{
		WindowID: windowID,
		Service:  string(sender),
		Path:     menuObjectPath,
	}

	if current, ok := r.windows[windowID]; ok && current == menu {
		return nil
	}

	r.windows[windowID] = menu
	r.bus.Emit(RegistrarPath, RegistrarInterface+".WindowRegistered", windowID, string(sender), menuObjectPath)

	logging.Debugf(logging.CatRegistrar, "window %d registered by %s at %s", windowID, sender, menuObjectPath)

	return nil
}

// UnregisterWindow implements
// com.canonical.AppMenu.Registrar.UnregisterWindow.
func (r *RegistrarService) UnregisterWindow(windowID uint32) *dbus.Error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unregister(windowID)

	return nil
}

// GetMenuForWindow implements
// com.canonical.AppMenu.Registrar.GetMenuForWindow.
func (r *RegistrarService) GetMenuForWindow(windowID uint32) (string, dbus.ObjectPath, *dbus.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	menu, ok := r.windows[windowID]
	if !ok {
		return "", "/", dbus.NewError(RegistrarInterface+".Error.UnknownWindow", []any{fmt.Sprintf("window %d is not registered", windowID)})
	}

	return menu.Service, menu.Path, nil
}

// GetMenus implements com.canonical.AppMenu.Registrar.GetMenus.
func (r *RegistrarService) GetMenus() ([]RegisteredMenu, *dbus.Error) {
	return r.Menus(), nil
}

// Menus returns the registered windows ordered by window id.
func (r *RegistrarService) Menus() []RegisteredMenu {
	r.mu.Lock()
	defer r.mu.Unlock()

	menus := make([]RegisteredMenu, 0, len(r.windows))
	for _, menu := range r.windows {
		menus = append(menus, menu)
	}

	sort.Slice(menus, func(i, j int) bool {
		return menus[i].WindowID < menus[j].WindowID
	})

	return menus
}

// dropOwner unregisters every window served by name.
func (r *RegistrarService) dropOwner(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, menu := range r.windows {
		if menu.Service == name {
			r.unregister(id)
		}
	}
}

func (r *RegistrarService) unregister(windowID uint32) {
	if _, ok := r.windows[windowID]; !ok {
		return
	}

	delete(r.windows, windowID)
	r.bus.Emit(RegistrarPath, RegistrarInterface+".WindowUnregistered", windowID)

	logging.Debugf(logging.CatRegistrar, "window %d unregistered", windowID)
}
