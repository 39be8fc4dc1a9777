package appmenu

import (
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

// ItemChange is the change of one item announced by ItemsPropertiesUpdated.
type ItemChange struct {
	ID      int32
	Changed map[string]any
	Removed []string
}

// decodePropertyChanges merges the a(ia{sv}) and a(ias) arguments of
// ItemsPropertiesUpdated into one change per item, in order of appearance.
// Malformed entries are skipped.
func decodePropertyChanges(updated, removed any) ([]ItemChange, error) {
	var changes []ItemChange
	index := make(map[int32]int)

	change := func(id int32) *ItemChange {
		if i, ok := index[id]; ok {
			return &changes[i]
		}
		index[id] = len(changes)
		changes = append(changes, ItemChange{ID: id})
		return &changes[len(changes)-1]
	}

	if updated != nil {
		entries, ok := updated.([][]any)
		if !ok {
			return nil, fmt.Errorf("properties updated: unexpected %T", updated)
		}

		for _, entry := range entries {
			id, props, ok := decodeEntry[map[string]dbus.Variant](entry)
			if !ok {
				continue
			}

			c := change(id)
			c.Changed = make(map[string]any, len(props))
			for name, value := range props {
				c.Changed[name] = value.Value()
			}
		}
	}

	if removed != nil {
		entries, ok := removed.([][]any)
		if !ok {
			return nil, fmt.Errorf("properties removed: unexpected %T", removed)
		}

		for _, entry := range entries {
			id, names, ok := decodeEntry[[]string](entry)
			if !ok {
				continue
			}

			c := change(id)
			c.Removed = append(c.Removed, names...)
		}
	}

	return changes, nil
}

func decodeEntry[T any](entry []any) (int32, T, bool) {
	var zero T

	if len(entry) != 2 {
		return 0, zero, false
	}

	id, ok := entry[0].(int32)
	if !ok {
		return 0, zero, false
	}

	value, ok := entry[1].(T)
	return id, value, ok
}

// RemoteMenu is a menu published by another connection, read the way a
// desktop shell reads it.
type RemoteMenu struct {
	conn    *dbus.Conn
	object  dbus.BusObject
	match   []dbus.MatchOption
	signals chan *dbus.Signal

	mu       sync.Mutex
	onLayout func(revision uint32, parent int32)
	onChange func(changes []ItemChange)

	// Version of the com.canonical.dbusmenu interface.
	Version uint32

	// Status of the menu, "normal" or "notice".
	Status string
}

// NewRemoteMenu connects to the menu at path served by service.
func NewRemoteMenu(conn *dbus.Conn, service string, path dbus.ObjectPath) (*RemoteMenu, error) {
	obj := conn.Object(service, path)

	var props map[string]dbus.Variant
	if err := obj.Call("org.freedesktop.DBus.Properties.GetAll", 0, MenuInterface).Store(&props); err != nil {
		return nil, fmt.Errorf("remote menu %s%s: %w", service, path, err)
	}

	m := &RemoteMenu{
		conn:   conn,
		object: obj,
		match: []dbus.MatchOption{
			dbus.WithMatchSender(service),
			dbus.WithMatchObjectPath(path),
			dbus.WithMatchInterface(MenuInterface),
		},
		signals: make(chan *dbus.Signal, 16),
	}

	m.Version, _ = props["Version"].Value().(uint32)
	m.Status, _ = props["Status"].Value().(string)

	if err := conn.AddMatchSignal(m.match...); err != nil {
		return nil, fmt.Errorf("remote menu %s%s: %w", service, path, err)
	}

	conn.Signal(m.signals)
	go m.listen()

	return m, nil
}

// GetLayout returns the revision and the layout below parentID. A
// recursionDepth of -1 returns the whole subtree and 0 the node alone. Empty
// propertyNames requests every property.
func (m *RemoteMenu) GetLayout(parentID int32, recursionDepth int32, propertyNames []string) (uint32, *LayoutNode, error) {
	if propertyNames == nil {
		propertyNames = []string{}
	}

	var (
		revision uint32
		layout   []any
	)

	err := m.object.Call(MenuInterface+".GetLayout", 0, parentID, recursionDepth, propertyNames).
		Store(&revision, &layout)
	if err != nil {
		return 0, nil, fmt.Errorf("get layout %d: %w", parentID, err)
	}

	node, err := NewLayoutNode(layout)
	if err != nil {
		return revision, nil, fmt.Errorf("get layout %d: %w", parentID, err)
	}

	return revision, node, nil
}

// Clicked activates the node.
func (m *RemoteMenu) Clicked(target *LayoutNode) error {
	return m.Event(target.ID, EventClicked, int32(0), uint32(time.Now().Unix()))
}

// Event sends an event for the node with id. No reply is awaited.
func (m *RemoteMenu) Event(id int32, eventID string, data any, timestamp uint32) error {
	call := m.object.Call(MenuInterface+".Event", dbus.FlagNoReplyExpected,
		id, eventID, dbus.MakeVariant(data), timestamp)

	return call.Err
}

// AboutToShow announces that the node is about to be shown and reports
// whether the menu asks for a layout refresh.
func (m *RemoteMenu) AboutToShow(target *LayoutNode) (bool, error) {
	var refresh bool

	if err := m.object.Call(MenuInterface+".AboutToShow", 0, target.ID).Store(&refresh); err != nil {
		return false, fmt.Errorf("about to show %d: %w", target.ID, err)
	}

	return refresh, nil
}

// OnLayoutUpdate sets the callback run on LayoutUpdated. A parent of 0
// means the whole layout changed.
func (m *RemoteMenu) OnLayoutUpdate(callback func(revision uint32, parent int32)) {
	m.mu.Lock()
	m.onLayout = callback
	m.mu.Unlock()
}

// OnPropertiesUpdate sets the callback run on ItemsPropertiesUpdated.
func (m *RemoteMenu) OnPropertiesUpdate(callback func(changes []ItemChange)) {
	m.mu.Lock()
	m.onChange = callback
	m.mu.Unlock()
}

// Close stops listening for menu signals.
func (m *RemoteMenu) Close() error {
	m.mu.Lock()
	m.onLayout = nil
	m.onChange = nil
	m.mu.Unlock()

	m.conn.RemoveSignal(m.signals)
	close(m.signals)

	return m.conn.RemoveMatchSignal(m.match...)
}

func (m *RemoteMenu) listen() {
	for signal := range m.signals {
		if signal.Path != m.object.Path() || len(signal.Body) != 2 {
			continue
		}

		switch signal.Name {
		case MenuInterface + ".LayoutUpdated":
			revision, ok1 := signal.Body[0].(uint32)
			parent, ok2 := signal.Body[1].(int32)

			m.mu.Lock()
			callback := m.onLayout
			m.mu.Unlock()

			if ok1 && ok2 && callback != nil {
				callback(revision, parent)
			}

		case MenuInterface + ".ItemsPropertiesUpdated":
			changes, err := decodePropertyChanges(signal.Body[0], signal.Body[1])

			m.mu.Lock()
			callback := m.onChange
			m.mu.Unlock()

			if err == nil && callback != nil {
				callback(changes)
			}
		}
	}
}
