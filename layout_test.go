package appmenu

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNewLayoutNodeInvalid(t *testing.T) {
	cases := map[string]any{
		"not a struct":  "layout",
		"short struct":  []any{int32(1)},
		"id type":       []any{"1", map[string]dbus.Variant{}, []dbus.Variant{}},
		"props type":    []any{int32(1), map[string]any{}, []dbus.Variant{}},
		"children type": []any{int32(1), map[string]dbus.Variant{}, []any{}},
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewLayoutNode(data)
			assert.Error(t, err)
		})
	}
}

func TestNewLayoutNodeSkipsInvalidChildren(t *testing.T) {
	node, err := NewLayoutNode([]any{
		int32(0),
		map[string]dbus.Variant{},
		[]dbus.Variant{
			dbus.MakeVariant("garbage"),
			dbus.MakeVariant([]any{int32(1), map[string]dbus.Variant{}, []dbus.Variant{}}),
		},
	})
	require.NoError(t, err)

	require.Len(t, node.Children, 1)
	assert.Equal(t, int32(1), node.Children[0].ID)
}

func TestLayoutNodeDefaults(t *testing.T) {
	node := &LayoutNode{Properties: map[string]any{}}

	assert.True(t, node.Enabled())
	assert.True(t, node.Visible())
	assert.False(t, node.IsSeparator())
	assert.Empty(t, node.Shortcut())
	assert.Empty(t, node.Label())
	assert.Nil(t, node.Icon())
}

func TestLabelEscaping(t *testing.T) {
	assert.Equal(t, "a__b", escapeLabel("a_b"))
	assert.Equal(t, "Open", unescapeLabel("_Open"))
	assert.Equal(t, "a_b", unescapeLabel("a__b"))
	assert.Equal(t, "_", unescapeLabel("___"))

	rapid.Check(t, func(t *rapid.T) {
		label := rapid.String().Draw(t, "label")

		if got := unescapeLabel(escapeLabel(label)); got != label {
			t.Fatalf("unescape(escape(%q)) = %q", label, got)
		}
	})
}

func TestEncodeShortcut(t *testing.T) {
	assert.Equal(t, [][]string{{"Control", "Shift", "n"}}, encodeShortcut("Control+Shift+n"))
	assert.Equal(t, [][]string{{"F1"}}, encodeShortcut(" F1 "))
	assert.Nil(t, encodeShortcut(""))
	assert.Nil(t, encodeShortcut("+"))
}

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))))

	return buf.Bytes()
}

func TestIcon(t *testing.T) {
	data := testPNG(t, 16, 24)

	icon, err := NewIcon(data)
	require.NoError(t, err)
	assert.Equal(t, int32(16), icon.Width)
	assert.Equal(t, int32(24), icon.Height)

	_, err = NewIcon([]byte("not a png"))
	assert.Error(t, err)

	_, err = NewIconFromProperty("not bytes")
	assert.Error(t, err)
}

func TestIconData(t *testing.T) {
	icon, err := NewIcon(testPNG(t, 8, 8))
	require.NoError(t, err)

	item := NewItem("Save", nil)
	item.Icon = icon

	obj, err := NewMenuObject(NewMenu(item))
	require.NoError(t, err)

	_, root := fetchLayout(t, obj, 0, -1, nil)
	require.Len(t, root.Children, 1)

	decoded := root.Children[0].Icon()
	require.NotNil(t, decoded)
	assert.Equal(t, icon.Bytes, decoded.Bytes)
	assert.Equal(t, int32(8), decoded.Width)
}

func TestItemsPropertiesUpdatedParsing(t *testing.T) {
	_, err := decodePropertyChanges("invalid", nil)
	assert.Error(t, err)

	_, err = decodePropertyChanges(nil, 42)
	assert.Error(t, err)

	body := wire(t,
		[]itemProperties{{ID: 3, Properties: map[string]dbus.Variant{PropLabel: dbus.MakeVariant("Quit")}}},
		[]propertyRemoval{{ID: 4, Names: []string{PropIconName}}},
	)

	changes, err := decodePropertyChanges(body[0], body[1])
	require.NoError(t, err)
	assert.Equal(t, []ItemChange{
		{ID: 3, Changed: map[string]any{PropLabel: "Quit"}},
		{ID: 4, Removed: []string{PropIconName}},
	}, changes)
}
