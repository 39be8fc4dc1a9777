package appmenu

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	Path   dbus.ObjectPath
	Signal string
	Values []any
}

// fakeBus is an in-memory [Bus]. The registrar is present unless
// registrar is set to false.
type fakeBus struct {
	mu        sync.Mutex
	owned     map[string]bool
	taken     map[string]bool
	exported  map[dbus.ObjectPath]Exportable
	emitted   []emitted
	events    []string
	registrar bool
	probes    int
	lost      func(string)

	// call answers registrar calls. Nil means success.
	call func(ctx context.Context, method string, args []any) error

	// stall, when set, runs before name requests and registrar probes.
	stall func(ctx context.Context, op string) error

	// hook runs for every recorded event, outside the lock.
	hook func(event string)
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		owned:     make(map[string]bool),
		taken:     make(map[string]bool),
		exported:  make(map[dbus.ObjectPath]Exportable),
		registrar: true,
	}
}

func (b *fakeBus) record(event string) {
	b.mu.Lock()
	b.events = append(b.events, event)
	hook := b.hook
	b.mu.Unlock()

	if hook != nil {
		hook(event)
	}
}

func (b *fakeBus) RequestName(ctx context.Context, name string) error {
	if err := b.stalled(ctx, "request-name"); err != nil {
		return fmt.Errorf("failed to request name %s: %w", name, err)
	}

	b.mu.Lock()
	if b.taken[name] {
		b.mu.Unlock()
		return fmt.Errorf("name %s: %w", name, ErrNameTaken)
	}
	b.owned[name] = true
	b.mu.Unlock()

	b.record("request-name " + name)
	return nil
}

func (b *fakeBus) ReleaseName(ctx context.Context, name string) error {
	b.mu.Lock()
	delete(b.owned, name)
	b.mu.Unlock()

	b.record("release-name " + name)
	return nil
}

func (b *fakeBus) Export(path dbus.ObjectPath, obj Exportable) error {
	b.mu.Lock()
	b.exported[path] = obj
	b.mu.Unlock()

	b.record("export " + string(path))
	return nil
}

func (b *fakeBus) Unexport(path dbus.ObjectPath, iface string) error {
	b.mu.Lock()
	delete(b.exported, path)
	b.mu.Unlock()

	b.record("unexport " + string(path))
	return nil
}

func (b *fakeBus) Emit(path dbus.ObjectPath, signal string, values ...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.emitted = append(b.emitted, emitted{Path: path, Signal: signal, Values: values})
	return nil
}

func (b *fakeBus) Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, args []any, out ...any) error {
	method = strings.TrimPrefix(method, RegistrarInterface+".")

	fields := []string{"call", method}
	for _, arg := range args {
		fields = append(fields, fmt.Sprint(arg))
	}
	b.record(strings.Join(fields, " "))

	b.mu.Lock()
	present, call := b.registrar, b.call
	b.mu.Unlock()

	if call != nil {
		return call(ctx, method, args)
	}

	if !present {
		return &dbus.Error{Name: "org.freedesktop.DBus.Error.ServiceUnknown"}
	}

	return nil
}

func (b *fakeBus) NameHasOwner(ctx context.Context, name string) (bool, error) {
	b.mu.Lock()
	b.probes++
	b.mu.Unlock()

	if err := b.stalled(ctx, "name-has-owner"); err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.registrar, nil
}

func (b *fakeBus) stalled(ctx context.Context, op string) error {
	b.mu.Lock()
	stall := b.stall
	b.mu.Unlock()

	if stall == nil {
		return nil
	}

	return stall(ctx, op)
}

func (b *fakeBus) WatchNameOwners(lost func(string)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lost = lost
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.lost = nil
	}, nil
}

func (b *fakeBus) setRegistrar(present bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.registrar = present
}

func (b *fakeBus) setCall(call func(ctx context.Context, method string, args []any) error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.call = call
}

func (b *fakeBus) setStall(stall func(ctx context.Context, op string) error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stall = stall
}

func (b *fakeBus) setHook(hook func(event string)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.hook = hook
}

func (b *fakeBus) Events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]string(nil), b.events...)
}

// Calls returns the registrar calls of the given method.
func (b *fakeBus) Calls(method string) []string {
	var calls []string

	for _, event := range b.Events() {
		if strings.HasPrefix(event, "call "+method+" ") || event == "call "+method {
			calls = append(calls, event)
		}
	}

	return calls
}

func (b *fakeBus) Emitted() []emitted {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]emitted(nil), b.emitted...)
}

func (b *fakeBus) Owns(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.owned[name]
}

func (b *fakeBus) Exported(path dbus.ObjectPath) (Exportable, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	obj, ok := b.exported[path]
	return obj, ok
}

func (b *fakeBus) Probes() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.probes
}

func (b *fakeBus) loseOwner(name string) {
	b.mu.Lock()
	lost := b.lost
	b.mu.Unlock()

	if lost != nil {
		lost(name)
	}
}

// wire encodes values as a D-Bus message body and decodes them back, the
// way a peer receives them.
func wire(t *testing.T, values ...any) []any {
	t.Helper()

	msg := &dbus.Message{
		Type: dbus.TypeSignal,
		Headers: map[dbus.HeaderField]dbus.Variant{
			dbus.FieldPath:      dbus.MakeVariant(dbus.ObjectPath("/test")),
			dbus.FieldInterface: dbus.MakeVariant("org.example.Test"),
			dbus.FieldMember:    dbus.MakeVariant("Test"),
			dbus.FieldSignature: dbus.MakeVariant(dbus.SignatureOf(values...)),
		},
		Body: values,
	}

	var buf bytes.Buffer
	require.NoError(t, msg.EncodeTo(&buf, binary.LittleEndian))

	decoded, err := dbus.DecodeMessage(&buf)
	require.NoError(t, err)

	return decoded.Body
}

// testMenu returns a small menu bar:
//
//	File: New, Open, separator, Recent: a_b.txt
//	Edit: Undo (disabled)
//	View: Toolbar (checked)
func testMenu(invoked *[]string) *Menu {
	action := func(name string) func() {
		return func() {
			if invoked != nil {
				*invoked = append(*invoked, name)
			}
		}
	}

	newItem := NewItem("New", action("new"))
	newItem.Shortcut = "Ctrl+N"
	newItem.IconName = "document-new"

	undo := NewItem("Undo", action("undo"))
	undo.Enabled = false

	toolbar := NewItem("Toolbar", action("toolbar"))
	toolbar.Toggle = ToggleCheckmark
	toolbar.Checked = true

	return NewMenu(
		NewSubmenu("File",
			newItem,
			NewItem("Open", action("open")),
			NewSeparator(),
			NewSubmenu("Recent", NewItem("a_b.txt", action("recent"))),
		),
		NewSubmenu("Edit", undo),
		NewSubmenu("View", toolbar),
	)
}
