// Package cli implements the appmenu command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/shelepuginivan/appmenu/internal/config"
	"github.com/shelepuginivan/appmenu/internal/logging"
)

var (
	version   = "dev"
	cfgFile   string
	cfg       config.Config
	cfgErr    error
	v         = config.New()
	debugFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "appmenu",
	Short: "Global application menu tools",
	Long: `appmenu publishes application menus for a desktop's global menu bar,
inspects menus exported by other applications and serves a menu registrar.

Configuration is read from ~/.config/appmenu/config.yaml and APPMENU_*
environment variables. Flags take precedence over both.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: applyConfig,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/appmenu/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"enable debug logging")

	_ = v.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func initConfig() {
	cfg, cfgErr = config.Load(v, cfgFile)
}

func applyConfig(_ *cobra.Command, _ []string) error {
	if cfgErr != nil {
		return cfgErr
	}

	if cfg.Debug {
		logging.EnableDebug()
	}

	if used := v.ConfigFileUsed(); used != "" {
		logging.Debugf(logging.CatConfig, "loaded %s", used)
	}

	return nil
}

// bindFlags binds command flags to config keys. It must run before the
// config is loaded.
func bindFlags(cmd *cobra.Command, keys map[string]string) {
	for flag, key := range keys {
		_ = v.BindPFlag(key, cmd.Flags().Lookup(flag))
	}
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
