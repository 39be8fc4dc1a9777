package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"

	"github.com/shelepuginivan/appmenu"
	"github.com/shelepuginivan/appmenu/internal/logging"
	"github.com/shelepuginivan/appmenu/wayland"
	"github.com/shelepuginivan/appmenu/x11"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a sample menu for a window",
	Long: `Publish a sample menu on the session bus and bind it to a window.

The menu is bound directly through the compositor when --surface is set,
through X11 window properties when --xid is set, and by application
identity otherwise. State transitions and warnings are printed until the
command is interrupted.

Example:
  appmenu publish --surface          # Bind to a new Wayland surface
  appmenu publish --xid 0x2a00004    # Bind to an X11 window
  appmenu publish --pid 1234 --app editor`,
	Args: cobra.NoArgs,
	RunE: runPublish,
}

var (
	publishXID     uint32
	publishPID     int
	publishApp     string
	publishSurface bool
)

func init() {
	rootCmd.AddCommand(publishCmd)

	publishCmd.Flags().String("strategy", "", "connection strategy: native or toolkit")
	publishCmd.Flags().String("namespace", "", "bus name namespace")
	publishCmd.Flags().Uint32Var(&publishXID, "xid", 0, "X11 window id")
	publishCmd.Flags().IntVar(&publishPID, "pid", os.Getpid(), "process id used for the identity")
	publishCmd.Flags().StringVar(&publishApp, "app", "appmenu", "application name used for the identity")
	publishCmd.Flags().BoolVar(&publishSurface, "surface", false, "create a Wayland surface and bind to it")

	bindFlags(publishCmd, map[string]string{
		"strategy":  "strategy",
		"namespace": "namespace",
	})
}

func runPublish(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()

	bus, err := appmenu.ConnectSessionBus()
	if err != nil {
		return err
	}
	defer bus.Close()

	legacy := legacyBinder()
	defer legacy.Close()

	conns := wayland.NewManager()
	selector, err := newSelector(bus, conns, legacy)
	if err != nil {
		return err
	}

	selector.OnStateChange(func(window string, from, to appmenu.State) {
		fmt.Fprintf(out, "%s %s -> %s\n", color.CyanString(window), from, color.GreenString(to.String()))
	})
	selector.OnWarning(func(w appmenu.Warning) {
		logging.Warnf(logging.CatSelector, "%s", w)
	})

	win := &appmenu.Window{
		Key:     "main",
		XID:     publishXID,
		PID:     publishPID,
		AppName: publishApp,
		SetAppID: func(appID string) {
			fmt.Fprintf(out, "app id %s\n", appID)
		},
	}

	if publishSurface {
		win.Surface, err = createSurface(ctx, conns)
		if err != nil {
			logging.Warnf(logging.CatWayland, "no surface: %v", err)
		}
	}

	attempt := selector.Register(ctx, win, sampleMenu(out))

	state, err := attempt.Wait(ctx)
	switch {
	case err == nil:
		if reg, ok := selector.Registration(win.Key); ok {
			fmt.Fprintf(out, "%s at %s%s\n", state, reg.Service, reg.Path)
		}
	case ctx.Err() == nil:
		logging.Errorf(logging.CatSelector, "%v", err)
	}

	<-ctx.Done()

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return selector.Close(closeCtx)
}

func newSelector(bus *appmenu.SessionBus, conns *wayland.Manager, legacy *x11.Binder) (*appmenu.Selector, error) {
	registrar := appmenu.NewRegistrarClient(bus,
		appmenu.WithRegistrarTimeout(cfg.Registrar.Timeout),
		appmenu.WithRegistrarRetries(cfg.Registrar.Retries),
		appmenu.WithProbeTTL(cfg.Registrar.ProbeTTL),
	)

	matcher := appmenu.NewIdentityMatcher(cfg.Namespace,
		appmenu.WithIdentityFormat(cfg.IdentityFormat),
		appmenu.WithLegacyFormat(cfg.LegacyFormat),
		appmenu.WithDiscovery(cfg.DiscoveryValue()),
	)

	return appmenu.NewSelector(appmenu.SelectorConfig{
		Strategy:    cfg.StrategyValue(),
		Registrar:   registrar,
		Matcher:     matcher,
		Connections: conns,
		Binder:      wayland.NewAppMenuBinder(wayland.WithAckTimeout(cfg.Wayland.BindTimeout)),
		Legacy:      legacy,
		ObjectPath:  dbus.ObjectPath(cfg.ObjectPath),
	})
}

// legacyBinder connects to the X server when an X11 window was given.
func legacyBinder() *x11.Binder {
	if publishXID == 0 {
		return x11.NewBinder(nil)
	}

	store, err := x11.Connect(cfg.Display)
	if err != nil {
		logging.Warnf(logging.CatX11, "legacy binding disabled: %v", err)
		return x11.NewBinder(nil)
	}

	return x11.NewBinder(store)
}

func createSurface(ctx context.Context, conns *wayland.Manager) (*wayland.Surface, error) {
	conn, err := conns.Open(ctx, wayland.Native)
	if errors.Is(err, wayland.ErrStrategyInUse) {
		conn, _ = conns.Connection(wayland.Native)
	} else if err != nil {
		return nil, err
	}

	return conn.CreateSurface(ctx)
}

func sampleMenu(out io.Writer) *appmenu.Menu {
	activated := func(label string) func() {
		return func() {
			fmt.Fprintf(out, "activated %s\n", label)
		}
	}

	newItem := appmenu.NewItem("New", activated("New"))
	newItem.Shortcut = "Ctrl+N"
	newItem.IconName = "document-new"

	quit := appmenu.NewItem("Quit", activated("Quit"))
	quit.Shortcut = "Ctrl+Q"
	quit.IconName = "application-exit"

	statusBar := appmenu.NewItem("Status Bar", activated("Status Bar"))
	statusBar.Toggle = appmenu.ToggleCheckmark
	statusBar.Checked = true

	undo := appmenu.NewItem("Undo", nil)
	undo.Enabled = false

	return appmenu.NewMenu(
		appmenu.NewSubmenu("File",
			newItem,
			appmenu.NewItem("Open...", activated("Open")),
			appmenu.NewSeparator(),
			quit,
		),
		appmenu.NewSubmenu("Edit",
			undo,
			appmenu.NewItem("Preferences", activated("Preferences")),
		),
		appmenu.NewSubmenu("View", statusBar),
	)
}
