package appmenu

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

// LayoutNode is a decoded com.canonical.dbusmenu layout node.
type LayoutNode struct {
	ID         int32
	Properties map[string]any
	Children   []*LayoutNode
}

// NewLayoutNode decodes a (ia{sv}av) layout structure.
func NewLayoutNode(data any) (*LayoutNode, error) {
	arr, ok := data.([]any)
	if !ok || len(arr) != 3 {
		return nil, fmt.Errorf("menu node: invalid format")
	}

	id, ok := arr[0].(int32)
	if !ok {
		return nil, fmt.Errorf("menu node: invalid id")
	}

	props, ok := arr[1].(map[string]dbus.Variant)
	if !ok {
		return nil, fmt.Errorf("menu node: invalid props")
	}

	children, ok := arr[2].([]dbus.Variant)
	if !ok {
		return nil, fmt.Errorf("menu node: invalid children")
	}

	root := &LayoutNode{
		ID:         id,
		Properties: make(map[string]any, len(props)),
		Children:   make([]*LayoutNode, 0, len(children)),
	}

	for key, value := range props {
		root.Properties[key] = value.Value()
	}

	for _, child := range children {
		childNode, err := NewLayoutNode(child.Value())
		if err != nil {
			continue
		}

		root.Children = append(root.Children, childNode)
	}

	return root, nil
}

// Label returns the label with mnemonic escaping undone.
func (n *LayoutNode) Label() string {
	label, _ := n.Properties[PropLabel].(string)
	return unescapeLabel(label)
}

// Enabled reports the enabled property. Missing means enabled.
func (n *LayoutNode) Enabled() bool {
	enabled, ok := n.Properties[PropEnabled].(bool)
	return !ok || enabled
}

// Visible reports the visible property. Missing means visible.
func (n *LayoutNode) Visible() bool {
	visible, ok := n.Properties[PropVisible].(bool)
	return !ok || visible
}

// IsSeparator reports whether the node is a separator.
func (n *LayoutNode) IsSeparator() bool {
	return n.Properties[PropType] == "separator"
}

// Icon returns the inline icon of the node, or nil.
func (n *LayoutNode) Icon() *Icon {
	value, ok := n.Properties[PropIconData]
	if !ok {
		return nil
	}

	icon, err := NewIconFromProperty(value)
	if err != nil {
		return nil
	}

	return icon
}

// Shortcut returns the first key combination joined with "+".
func (n *LayoutNode) Shortcut() string {
	combos, ok := n.Properties[PropShortcut].([][]string)
	if !ok || len(combos) == 0 {
		return ""
	}
	return strings.Join(combos[0], "+")
}

// Walk calls fn for the node and its descendants in depth-first order.
func (n *LayoutNode) Walk(fn func(node *LayoutNode, depth int)) {
	n.walk(fn, 0)
}

func (n *LayoutNode) walk(fn func(*LayoutNode, int), depth int) {
	fn(n, depth)

	for _, child := range n.Children {
		child.walk(fn, depth+1)
	}
}

// escapeLabel doubles underscores, which dbusmenu reserves for mnemonics.
func escapeLabel(label string) string {
	return strings.ReplaceAll(label, "_", "__")
}

func unescapeLabel(label string) string {
	var b strings.Builder

	for i := 0; i < len(label); i++ {
		if label[i] == '_' {
			if i+1 < len(label) && label[i+1] == '_' {
				b.WriteByte('_')
				i++
			}
			continue
		}
		b.WriteByte(label[i])
	}

	return b.String()
}

func encodeShortcut(shortcut string) [][]string {
	var keys []string

	for _, key := range strings.Split(shortcut, "+") {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}

	if len(keys) == 0 {
		return nil
	}

	return [][]string{keys}
}
