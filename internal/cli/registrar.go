package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shelepuginivan/appmenu"
)

var registrarCmd = &cobra.Command{
	Use:   "registrar",
	Short: "Serve a menu registrar on the session bus",
	Long: `Own the registrar bus name and record which menu belongs to which
window until interrupted. Registrations of applications leaving the bus
are dropped.

With --list, the registrations of the running registrar are printed
instead.`,
	Args: cobra.NoArgs,
	RunE: runRegistrar,
}

var registrarList bool

func init() {
	rootCmd.AddCommand(registrarCmd)

	registrarCmd.Flags().BoolVarP(&registrarList, "list", "l", false, "list registrations of the running registrar")
}

func runRegistrar(cmd *cobra.Command, _ []string) error {
	bus, err := appmenu.ConnectSessionBus()
	if err != nil {
		return err
	}
	defer bus.Close()

	if registrarList {
		return listRegistrations(cmd, bus)
	}

	service := appmenu.NewRegistrarService(bus)
	if err := service.Listen(cmd.Context()); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	return service.Close()
}

func listRegistrations(cmd *cobra.Command, bus *appmenu.SessionBus) error {
	var menus []appmenu.RegisteredMenu

	err := bus.Call(cmd.Context(), appmenu.RegistrarName, appmenu.RegistrarPath,
		appmenu.RegistrarInterface+".GetMenus", nil, &menus)
	if err != nil {
		return fmt.Errorf("list registrations: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, menu := range menus {
		fmt.Fprintf(out, "%d\t%s\t%s\n", menu.WindowID, menu.Service, menu.Path)
	}

	return nil
}
