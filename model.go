package appmenu

import (
	"errors"
	"fmt"
)

// ToggleType is the kind of toggle an item displays.
type ToggleType string

const (
	ToggleNone      ToggleType = ""
	ToggleCheckmark ToggleType = "checkmark"
	ToggleRadio     ToggleType = "radio"
)

// Item is an entry of a [Menu].
type Item struct {
	// ID of the item. Zero means the id is assigned by [Menu.Normalize].
	ID int32

	// Label of the item. Underscores are shown literally.
	Label string

	Enabled   bool
	Visible   bool
	Separator bool

	// Shortcut is a key combination such as "Ctrl+Shift+N".
	Shortcut string

	// IconName is a freedesktop icon theme name.
	IconName string

	// Icon is sent inline when set.
	Icon *Icon

	Toggle  ToggleType
	Checked bool

	Children []*Item

	// Action runs when the item is activated.
	Action func()
}

// NewItem returns an enabled, visible item.
func NewItem(label string, action func()) *Item {
	return &Item{
		Label:   label,
		Enabled: true,
		Visible: true,
		Action:  action,
	}
}

// NewSubmenu returns an enabled, visible item with children.
func NewSubmenu(label string, children ...*Item) *Item {
	return NewItem(label, nil).Add(children...)
}

// NewSeparator returns a separator.
func NewSeparator() *Item {
	return &Item{Visible: true, Separator: true}
}

// Add appends children to the item and returns the item.
func (i *Item) Add(children ...*Item) *Item {
	i.Children = append(i.Children, children...)
	return i
}

// Invokable reports whether activating the item runs its action.
func (i *Item) Invokable() bool {
	return i.Enabled && i.Visible && !i.Separator && i.Action != nil
}

func (i *Item) clone() *Item {
	c := *i
	c.Children = make([]*Item, len(i.Children))

	for idx, child := range i.Children {
		c.Children[idx] = child.clone()
	}

	return &c
}

// Menu is an ordered tree of items. The implicit root has id 0.
type Menu struct {
	Items []*Item
}

// NewMenu returns a menu with the given top-level items.
func NewMenu(items ...*Item) *Menu {
	return &Menu{Items: items}
}

// Walk calls fn for every item in depth-first order. Walk stops when fn
// returns false.
func (m *Menu) Walk(fn func(item *Item, depth int) bool) {
	var walk func(items []*Item, depth int) bool

	walk = func(items []*Item, depth int) bool {
		for _, item := range items {
			if !fn(item, depth) {
				return false
			}
			if !walk(item.Children, depth+1) {
				return false
			}
		}
		return true
	}

	walk(m.Items, 0)
}

// Find returns the item with the given id, or nil.
func (m *Menu) Find(id int32) *Item {
	var found *Item

	m.Walk(func(item *Item, _ int) bool {
		if item.ID == id {
			found = item
			return false
		}
		return true
	})

	return found
}

// Activate runs the action of the item with the given id. Disabled items
// and separators are ignored.
func (m *Menu) Activate(id int32) error {
	item := m.Find(id)
	if item == nil || id == 0 {
		return fmt.Errorf("activate %d: %w", id, ErrUnknownItem)
	}

	if item.Invokable() {
		item.Action()
	}

	return nil
}

// Normalize assigns ids to items with id 0. Explicit ids must be positive
// and unique.
func (m *Menu) Normalize() error {
	seen := make(map[int32]bool)
	var next int32
	var errs []error

	m.Walk(func(item *Item, _ int) bool {
		switch {
		case item.ID < 0:
			errs = append(errs, fmt.Errorf("item %q: negative id %d", item.Label, item.ID))
		case item.ID > 0 && seen[item.ID]:
			errs = append(errs, fmt.Errorf("item %q: duplicate id %d", item.Label, item.ID))
		case item.ID > 0:
			seen[item.ID] = true
			next = max(next, item.ID)
		}
		return true
	})

	if len(errs) > 0 {
		return fmt.Errorf("normalize: %w", errors.Join(errs...))
	}

	m.Walk(func(item *Item, _ int) bool {
		if item.ID == 0 {
			next++
			item.ID = next
		}
		return true
	})

	return nil
}

// Snapshot returns a deep copy of the menu. Actions are shared.
func (m *Menu) Snapshot() *Menu {
	s := &Menu{Items: make([]*Item, len(m.Items))}

	for idx, item := range m.Items {
		s.Items[idx] = item.clone()
	}

	return s
}

// Len returns the number of items in the menu.
func (m *Menu) Len() int {
	n := 0

	m.Walk(func(*Item, int) bool {
		n++
		return true
	})

	return n
}
