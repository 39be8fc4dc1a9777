// Package config provides configuration types and defaults for appmenu.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/viper"

	"github.com/shelepuginivan/appmenu"
	"github.com/shelepuginivan/appmenu/wayland"
)

// EnvPrefix prefixes environment overrides, e.g. APPMENU_NAMESPACE.
const EnvPrefix = "APPMENU"

// Name formats used on a real session bus, where elements of well-known
// names must not start with a digit.
const (
	DefaultIdentityFormat = "%s.app.pid%d"
	DefaultLegacyFormat   = "%s.menu.window%d"
)

// Config holds all configuration options for appmenu.
type Config struct {
	Strategy          string          `mapstructure:"strategy"`
	Namespace         string          `mapstructure:"namespace"`
	ObjectPath        string          `mapstructure:"object_path"`
	IdentityFormat    string          `mapstructure:"identity_format"`
	LegacyFormat      string          `mapstructure:"legacy_format"`
	IdentityDiscovery string          `mapstructure:"identity_discovery"` // "auto" (default), "always" or "never"
	Display           string          `mapstructure:"display"`            // X11 display, $DISPLAY if empty
	Debug             bool            `mapstructure:"debug"`
	Registrar         RegistrarConfig `mapstructure:"registrar"`
	Wayland           WaylandConfig   `mapstructure:"wayland"`
}

// RegistrarConfig holds options of the registrar client.
type RegistrarConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	Retries  int           `mapstructure:"retries"`
	ProbeTTL time.Duration `mapstructure:"probe_ttl"`
}

// WaylandConfig holds options of the compositor binding.
type WaylandConfig struct {
	BindTimeout time.Duration `mapstructure:"bind_timeout"`
}

// Defaults returns the default configuration.
func Defaults() Config {
	return Config{
		Strategy:          wayland.Native.String(),
		Namespace:         appmenu.DefaultNamespace,
		ObjectPath:        string(appmenu.DefaultObjectPath),
		IdentityFormat:    DefaultIdentityFormat,
		LegacyFormat:      DefaultLegacyFormat,
		IdentityDiscovery: string(appmenu.DiscoveryAuto),
		Registrar: RegistrarConfig{
			Timeout:  appmenu.DefaultRegistrarTimeout,
			Retries:  appmenu.DefaultRegistrarRetries,
			ProbeTTL: appmenu.DefaultProbeTTL,
		},
		Wayland: WaylandConfig{
			BindTimeout: wayland.DefaultAckTimeout,
		},
	}
}

// DefaultDir returns the directory of the default config file.
func DefaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "appmenu")
}

// New returns a viper instance with defaults and environment overrides set
// up.
func New() *viper.Viper {
	v := viper.New()

	defaults := Defaults()
	v.SetDefault("strategy", defaults.Strategy)
	v.SetDefault("namespace", defaults.Namespace)
	v.SetDefault("object_path", defaults.ObjectPath)
	v.SetDefault("identity_format", defaults.IdentityFormat)
	v.SetDefault("legacy_format", defaults.LegacyFormat)
	v.SetDefault("identity_discovery", defaults.IdentityDiscovery)
	v.SetDefault("display", defaults.Display)
	v.SetDefault("debug", defaults.Debug)
	v.SetDefault("registrar.timeout", defaults.Registrar.Timeout)
	v.SetDefault("registrar.retries", defaults.Registrar.Retries)
	v.SetDefault("registrar.probe_ttl", defaults.Registrar.ProbeTTL)
	v.SetDefault("wayland.bind_timeout", defaults.Wayland.BindTimeout)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads the config file into v and returns the validated
// configuration. An empty path looks up config.yaml in [DefaultDir], which
// may be missing.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(DefaultDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	var errs []error

	if _, err := wayland.ParseStrategy(c.Strategy); err != nil {
		errs = append(errs, err)
	}

	if _, err := appmenu.ParseDiscovery(c.IdentityDiscovery); err != nil {
		errs = append(errs, err)
	}

	if !dbus.ObjectPath(c.ObjectPath).IsValid() || c.ObjectPath == "/" {
		errs = append(errs, fmt.Errorf("object_path %q is not a valid object path", c.ObjectPath))
	}

	for key, format := range map[string]string{
		"identity_format": c.IdentityFormat,
		"legacy_format":   c.LegacyFormat,
	} {
		if strings.Count(format, "%s") != 1 || strings.Count(format, "%d") != 1 {
			errs = append(errs, fmt.Errorf("%s %q must contain one %%s and one %%d", key, format))
		}
	}

	if c.Registrar.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("registrar.timeout must be positive"))
	}

	if c.Registrar.Retries < 0 {
		errs = append(errs, fmt.Errorf("registrar.retries must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}

	return nil
}

// StrategyValue returns the parsed connection strategy.
func (c Config) StrategyValue() wayland.Strategy {
	s, _ := wayland.ParseStrategy(c.Strategy)
	return s
}

// DiscoveryValue returns the parsed identity discovery mode.
func (c Config) DiscoveryValue() appmenu.Discovery {
	d, _ := appmenu.ParseDiscovery(c.IdentityDiscovery)
	return d
}
