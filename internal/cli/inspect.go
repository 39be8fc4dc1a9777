package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"

	"github.com/shelepuginivan/appmenu"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect SERVICE [PATH]",
	Short: "Print the menu exported by a bus service",
	Long: `Fetch the menu layout exported by SERVICE and print it as a tree.

PATH defaults to the configured object path. With --watch, the tree is
printed again after every layout update until interrupted.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runInspect,
}

var inspectWatch bool

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().BoolVarP(&inspectWatch, "watch", "w", false, "print the menu again on layout updates")
}

func runInspect(cmd *cobra.Command, args []string) error {
	service := args[0]

	path := dbus.ObjectPath(cfg.ObjectPath)
	if len(args) > 1 {
		path = dbus.ObjectPath(args[1])
	}

	if !path.IsValid() {
		return fmt.Errorf("invalid object path %q", path)
	}

	bus, err := appmenu.ConnectSessionBus()
	if err != nil {
		return err
	}
	defer bus.Close()

	menu, err := appmenu.NewRemoteMenu(bus.Conn(), service, path)
	if err != nil {
		return err
	}
	defer menu.Close()

	out := cmd.OutOrStdout()

	if err := printLayout(out, menu); err != nil {
		return err
	}

	if !inspectWatch {
		return nil
	}

	updates := make(chan struct{}, 1)
	menu.OnLayoutUpdate(func(uint32, int32) {
		select {
		case updates <- struct{}{}:
		default:
		}
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-updates:
			fmt.Fprintln(out)
			if err := printLayout(out, menu); err != nil {
				return err
			}
		}
	}
}

func printLayout(out io.Writer, menu *appmenu.RemoteMenu) error {
	revision, root, err := menu.GetLayout(0, -1, nil)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s %d\n", color.New(color.Bold).Sprint("revision"), revision)

	root.Walk(func(node *appmenu.LayoutNode, depth int) {
		if depth == 0 {
			return
		}
		fmt.Fprintf(out, "%s%s\n", strings.Repeat("  ", depth-1), describeNode(node))
	})

	return nil
}

func describeNode(node *appmenu.LayoutNode) string {
	if node.IsSeparator() {
		return color.HiBlackString("────")
	}

	var b strings.Builder

	fmt.Fprintf(&b, "%s %s", color.HiBlackString("%3d", node.ID), node.Label())

	if shortcut := node.Shortcut(); shortcut != "" {
		fmt.Fprintf(&b, "  %s", color.CyanString(shortcut))
	}

	if toggle, ok := node.Properties[appmenu.PropToggleType].(string); ok && toggle != "" {
		state, _ := node.Properties[appmenu.PropToggleState].(int32)
		fmt.Fprintf(&b, "  [%s=%d]", toggle, state)
	}

	if !node.Enabled() {
		b.WriteString(color.HiBlackString("  (disabled)"))
	}

	if !node.Visible() {
		b.WriteString(color.HiBlackString("  (hidden)"))
	}

	return b.String()
}
