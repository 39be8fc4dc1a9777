package appmenu

import (
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/shelepuginivan/appmenu/internal/logging"
)

const (
	MenuInterface = "com.canonical.dbusmenu"

	// MenuVersion is the implemented version of com.canonical.dbusmenu.
	MenuVersion uint32 = 4

	// EventClicked is the event id of an activated item.
	EventClicked = "clicked"

	errUnknownID       = MenuInterface + ".Error.UnknownId"
	errUnknownProperty = MenuInterface + ".Error.UnknownProperty"
)

// Layout node properties.
const (
	PropLabel           = "label"
	PropEnabled         = "enabled"
	PropVisible         = "visible"
	PropType            = "type"
	PropChildrenDisplay = "children-display"
	PropShortcut        = "shortcut"
	PropIconName        = "icon-name"
	PropIconData        = "icon-data"
	PropToggleType      = "toggle-type"
	PropToggleState     = "toggle-state"
)

// layout is encoded as (ia{sv}av).
type layout struct {
	ID         int32
	Properties map[string]dbus.Variant
	Children   []dbus.Variant
}

// itemProperties is encoded as (ia{sv}).
type itemProperties struct {
	ID         int32
	Properties map[string]dbus.Variant
}

// propertyRemoval is encoded as (ias).
type propertyRemoval struct {
	ID    int32
	Names []string
}

// menuEvent is encoded as (isvu).
type menuEvent struct {
	ID        int32
	EventID   string
	Data      dbus.Variant
	Timestamp uint32
}

// MenuObject exports a [Menu] as com.canonical.dbusmenu.
//
// It holds a snapshot of the menu, so changes the application makes to the
// menu after publishing are not visible until [MenuObject.Replace].
type MenuObject struct {
	mu         sync.RWMutex
	menu       *Menu
	revision   uint32
	importer   bool
	onImporter func()
	dispatch   func(action func())
	emit       func(signal string, values ...any) error
}

// NewMenuObject returns a [MenuObject] serving a snapshot of menu.
func NewMenuObject(menu *Menu) (*MenuObject, error) {
	snapshot, err := snapshotOf(menu)
	if err != nil {
		return nil, err
	}

	return &MenuObject{
		menu:       snapshot,
		revision:   1,
		onImporter: func() {},
		dispatch:   runAction,
	}, nil
}

func runAction(action func()) {
	action()
}

func snapshotOf(menu *Menu) (*Menu, error) {
	if menu == nil {
		return nil, fmt.Errorf("menu: nil menu")
	}

	snapshot := menu.Snapshot()
	if err := snapshot.Normalize(); err != nil {
		return nil, fmt.Errorf("menu: %w", err)
	}

	return snapshot, nil
}

// Interface returns the D-Bus interface name of the object.
func (o *MenuObject) Interface() string {
	return MenuInterface
}

// Properties returns the D-Bus properties of the object.
func (o *MenuObject) Properties() map[string]any {
	return map[string]any{
		"Version":       MenuVersion,
		"Status":        "normal",
		"TextDirection": "ltr",
		"IconThemePath": []string{},
	}
}

// Signals describes the signals of com.canonical.dbusmenu.
func (o *MenuObject) Signals() []introspect.Signal {
	return []introspect.Signal{
		{
			Name: "LayoutUpdated",
			Args: []introspect.Arg{
				{Name: "revision", Type: "u"},
				{Name: "parent", Type: "i"},
			},
		},
		{
			Name: "ItemsPropertiesUpdated",
			Args: []introspect.Arg{
				{Name: "updatedProps", Type: "a(ia{sv})"},
				{Name: "removedProps", Type: "a(ias)"},
			},
		},
		{
			Name: "ItemActivationRequested",
			Args: []introspect.Arg{
				{Name: "id", Type: "i"},
				{Name: "timestamp", Type: "u"},
			},
		},
	}
}

// Revision returns the current layout revision.
func (o *MenuObject) Revision() uint32 {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return o.revision
}

// Menu returns a copy of the served menu.
func (o *MenuObject) Menu() *Menu {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return o.menu.Snapshot()
}

// ImporterDetected reports whether a shell has requested the root layout.
func (o *MenuObject) ImporterDetected() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return o.importer
}

// OnImporterDetected sets a callback that runs the first time a shell
// requests the root layout. A nil callback removes it.
func (o *MenuObject) OnImporterDetected(callback func()) {
	if callback == nil {
		callback = func() {}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.onImporter = callback
}

// SetDispatcher sets the function running item actions. It lets the
// application run actions on its UI thread. By default actions run on the
// goroutine handling the bus call, which a nil dispatch restores.
func (o *MenuObject) SetDispatcher(dispatch func(action func())) {
	if dispatch == nil {
		dispatch = runAction
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.dispatch = dispatch
}

func (o *MenuObject) attach(emit func(signal string, values ...any) error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.emit = emit
}

// Replace swaps the served menu and notifies shells about the change.
func (o *MenuObject) Replace(menu *Menu) error {
	snapshot, err := snapshotOf(menu)
	if err != nil {
		return fmt.Errorf("replace: %w", err)
	}

	o.mu.Lock()

	updated, removed := diffProperties(propertyIndex(o.menu), propertyIndex(snapshot))

	o.menu = snapshot
	o.revision++
	if o.revision == 0 {
		o.revision = 1
	}

	revision := o.revision
	emit := o.emit

	o.mu.Unlock()

	if emit == nil {
		return nil
	}

	if err := emit("LayoutUpdated", revision, int32(0)); err != nil {
		return fmt.Errorf("replace: %w", err)
	}

	if len(updated) == 0 && len(removed) == 0 {
		return nil
	}

	if err := emit("ItemsPropertiesUpdated", updated, removed); err != nil {
		return fmt.Errorf("replace: %w", err)
	}

	return nil
}

// GetLayout implements com.canonical.dbusmenu.GetLayout.
//
// A recursionDepth of -1 returns every descendant, 0 returns the parent
// alone, and N returns N levels below the parent.
func (o *MenuObject) GetLayout(parentID int32, recursionDepth int32, propertyNames []string) (uint32, layout, *dbus.Error) {
	o.mu.Lock()

	var (
		result   layout
		detected bool
	)

	if parentID == 0 {
		result = layout{
			ID:         0,
			Properties: filterProperties(rootProperties(), propertyNames),
			Children:   childLayouts(o.menu.Items, recursionDepth, propertyNames),
		}

		if !o.importer {
			o.importer = true
			detected = true
		}
	} else {
		item := o.menu.Find(parentID)
		if item == nil {
			o.mu.Unlock()
			return 0, layout{}, unknownID(parentID)
		}

		result = itemLayout(item, recursionDepth, propertyNames)
	}

	revision := o.revision
	callback := o.onImporter

	o.mu.Unlock()

	if detected {
		logging.Debugf(logging.CatMenu, "importer detected")
		callback()
	}

	return revision, result, nil
}

// GetGroupProperties implements com.canonical.dbusmenu.GetGroupProperties.
// An empty ids list returns every item.
func (o *MenuObject) GetGroupProperties(ids []int32, propertyNames []string) ([]itemProperties, *dbus.Error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	result := []itemProperties{}

	if len(ids) == 0 {
		o.menu.Walk(func(item *Item, _ int) bool {
			result = append(result, itemProperties{
				ID:         item.ID,
				Properties: filterProperties(propertiesOf(item), propertyNames),
			})
			return true
		})

		return result, nil
	}

	for _, id := range ids {
		if id == 0 {
			result = append(result, itemProperties{
				ID:         0,
				Properties: filterProperties(rootProperties(), propertyNames),
			})
			continue
		}

		item := o.menu.Find(id)
		if item == nil {
			continue
		}

		result = append(result, itemProperties{
			ID:         id,
			Properties: filterProperties(propertiesOf(item), propertyNames),
		})
	}

	return result, nil
}

// GetProperty implements com.canonical.dbusmenu.GetProperty.
func (o *MenuObject) GetProperty(id int32, name string) (dbus.Variant, *dbus.Error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	props := rootProperties()

	if id != 0 {
		item := o.menu.Find(id)
		if item == nil {
			return dbus.Variant{}, unknownID(id)
		}
		props = propertiesOf(item)
	}

	value, ok := props[name]
	if !ok {
		return dbus.Variant{}, dbus.NewError(errUnknownProperty, []any{name})
	}

	return value, nil
}

// Event implements com.canonical.dbusmenu.Event.
func (o *MenuObject) Event(id int32, eventID string, data dbus.Variant, timestamp uint32) *dbus.Error {
	o.mu.RLock()

	var item *Item
	if id != 0 {
		item = o.menu.Find(id)
		if item == nil {
			o.mu.RUnlock()
			return unknownID(id)
		}
	}

	dispatch := o.dispatch

	o.mu.RUnlock()

	logging.Debugf(logging.CatMenu, "event %s on item %d", eventID, id)

	if eventID == EventClicked && item != nil && item.Invokable() {
		dispatch(item.Action)
	}

	return nil
}

// EventGroup implements com.canonical.dbusmenu.EventGroup. It returns the
// ids that were not found.
func (o *MenuObject) EventGroup(events []menuEvent) ([]int32, *dbus.Error) {
	idErrors := []int32{}

	for _, ev := range events {
		if err := o.Event(ev.ID, ev.EventID, ev.Data, ev.Timestamp); err != nil {
			idErrors = append(idErrors, ev.ID)
		}
	}

	if len(events) > 0 && len(idErrors) == len(events) {
		return idErrors, dbus.NewError(errUnknownID, []any{"no event was delivered"})
	}

	return idErrors, nil
}

// AboutToShow implements com.canonical.dbusmenu.AboutToShow. The layout is
// never built lazily, so no update is ever needed.
func (o *MenuObject) AboutToShow(id int32) (bool, *dbus.Error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if id != 0 && o.menu.Find(id) == nil {
		return false, unknownID(id)
	}

	return false, nil
}

// AboutToShowGroup implements com.canonical.dbusmenu.AboutToShowGroup.
func (o *MenuObject) AboutToShowGroup(ids []int32) ([]int32, []int32, *dbus.Error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	updatesNeeded := []int32{}
	idErrors := []int32{}

	for _, id := range ids {
		if id != 0 && o.menu.Find(id) == nil {
			idErrors = append(idErrors, id)
		}
	}

	return updatesNeeded, idErrors, nil
}

func unknownID(id int32) *dbus.Error {
	return dbus.NewError(errUnknownID, []any{fmt.Sprintf("unknown id %d", id)})
}

// rootProperties are the properties of the root node. Item-like properties
// would make shells treat the root as an item rather than a container.
func rootProperties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		PropChildrenDisplay: dbus.MakeVariant("menubar"),
	}
}

func propertiesOf(item *Item) map[string]dbus.Variant {
	props := map[string]dbus.Variant{
		PropEnabled: dbus.MakeVariant(item.Enabled),
		PropVisible: dbus.MakeVariant(item.Visible),
	}

	if item.Separator {
		props[PropType] = dbus.MakeVariant("separator")
		return props
	}

	props[PropLabel] = dbus.MakeVariant(escapeLabel(item.Label))

	if len(item.Children) > 0 {
		props[PropChildrenDisplay] = dbus.MakeVariant("submenu")
	}

	if shortcut := encodeShortcut(item.Shortcut); shortcut != nil {
		props[PropShortcut] = dbus.MakeVariant(shortcut)
	}

	if item.IconName != "" {
		props[PropIconName] = dbus.MakeVariant(item.IconName)
	}

	if item.Icon != nil && len(item.Icon.Bytes) > 0 {
		props[PropIconData] = dbus.MakeVariant(item.Icon.Bytes)
	}

	if item.Toggle != ToggleNone {
		state := int32(0)
		if item.Checked {
			state = 1
		}

		props[PropToggleType] = dbus.MakeVariant(string(item.Toggle))
		props[PropToggleState] = dbus.MakeVariant(state)
	}

	return props
}

func filterProperties(props map[string]dbus.Variant, names []string) map[string]dbus.Variant {
	if len(names) == 0 {
		return props
	}

	filtered := make(map[string]dbus.Variant, len(names))

	for _, name := range names {
		if value, ok := props[name]; ok {
			filtered[name] = value
		}
	}

	return filtered
}

func itemLayout(item *Item, depth int32, names []string) layout {
	return layout{
		ID:         item.ID,
		Properties: filterProperties(propertiesOf(item), names),
		Children:   childLayouts(item.Children, depth, names),
	}
}

func childLayouts(items []*Item, depth int32, names []string) []dbus.Variant {
	children := []dbus.Variant{}

	if depth == 0 {
		return children
	}

	next := depth - 1
	if depth < 0 {
		next = -1
	}

	for _, child := range items {
		children = append(children, dbus.MakeVariant(itemLayout(child, next, names)))
	}

	return children
}

type indexedProperties struct {
	order []int32
	props map[int32]map[string]dbus.Variant
}

func propertyIndex(menu *Menu) indexedProperties {
	index := indexedProperties{props: make(map[int32]map[string]dbus.Variant)}

	menu.Walk(func(item *Item, _ int) bool {
		index.order = append(index.order, item.ID)
		index.props[item.ID] = propertiesOf(item)
		return true
	})

	return index
}

// diffProperties returns the properties changed and removed between two
// menus, for items present in both.
func diffProperties(before, after indexedProperties) ([]itemProperties, []propertyRemoval) {
	updated := []itemProperties{}
	removed := []propertyRemoval{}

	for _, id := range after.order {
		old, ok := before.props[id]
		if !ok {
			continue
		}

		changed := make(map[string]dbus.Variant)

		for name, value := range after.props[id] {
			prev, ok := old[name]
			if !ok || !reflect.DeepEqual(prev.Value(), value.Value()) {
				changed[name] = value
			}
		}

		var gone []string

		for name := range old {
			if _, ok := after.props[id][name]; !ok {
				gone = append(gone, name)
			}
		}

		if len(changed) > 0 {
			updated = append(updated, itemProperties{ID: id, Properties: changed})
		}

		if len(gone) > 0 {
			slices.Sort(gone)
			removed = append(removed, propertyRemoval{ID: id, Names: gone})
		}
	}

	return updated, removed
}
