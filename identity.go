package appmenu

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/shelepuginivan/appmenu/internal/logging"
)

const (
	DefaultNamespace      = "ns"
	DefaultIdentityFormat = "%s.app.%d"
	DefaultLegacyFormat   = "%s.menu.%d"
)

// Discovery tells whether the desktop shell discovers menus by identity.
type Discovery string

const (
	// DiscoveryAuto probes the running desktop.
	DiscoveryAuto Discovery = "auto"

	DiscoveryAlways Discovery = "always"
	DiscoveryNever  Discovery = "never"
)

// ParseDiscovery parses a [Discovery] value. The empty string is
// [DiscoveryAuto].
func ParseDiscovery(s string) (Discovery, error) {
	switch d := Discovery(strings.ToLower(s)); d {
	case "":
		return DiscoveryAuto, nil
	case DiscoveryAuto, DiscoveryAlways, DiscoveryNever:
		return d, nil
	default:
		return DiscoveryAuto, fmt.Errorf("unknown identity discovery %q", s)
	}
}

// IdentityMatcher derives application identifiers shared between a window
// and its menu service name, so shells can pair them by name.
//
// The identity is used verbatim as the bus service name, so a shell
// matching service names by application id prefix finds the menu.
type IdentityMatcher struct {
	namespace      string
	identityFormat string
	legacyFormat   string
	discovery      Discovery
	getenv         func(string) string
}

// MatcherOption configures an [IdentityMatcher].
type MatcherOption func(*IdentityMatcher)

// WithIdentityFormat sets the identity format. It receives the namespace
// and the process id.
func WithIdentityFormat(format string) MatcherOption {
	return func(m *IdentityMatcher) {
		if format != "" {
			m.identityFormat = format
		}
	}
}

// WithLegacyFormat sets the service name format of X11 windows. It receives
// the namespace and the window id.
func WithLegacyFormat(format string) MatcherOption {
	return func(m *IdentityMatcher) {
		if format != "" {
			m.legacyFormat = format
		}
	}
}

// WithDiscovery sets whether identity discovery is available.
func WithDiscovery(d Discovery) MatcherOption {
	return func(m *IdentityMatcher) {
		m.discovery = d
	}
}

// WithEnv sets the environment lookup used by [DiscoveryAuto].
func WithEnv(getenv func(string) string) MatcherOption {
	return func(m *IdentityMatcher) {
		m.getenv = getenv
	}
}

// NewIdentityMatcher returns an [IdentityMatcher] for the namespace.
func NewIdentityMatcher(namespace string, opts ...MatcherOption) *IdentityMatcher {
	m := &IdentityMatcher{
		namespace:      namespace,
		identityFormat: DefaultIdentityFormat,
		legacyFormat:   DefaultLegacyFormat,
		discovery:      DiscoveryAuto,
		getenv:         os.Getenv,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Namespace returns the namespace prefix.
func (m *IdentityMatcher) Namespace() string {
	return m.namespace
}

// DeriveIdentity returns the identity of the process. Without a namespace
// the sanitized application name is used instead. Without a valid pid the
// identity falls back to the sanitized application name.
func (m *IdentityMatcher) DeriveIdentity(pid int, appName string) string {
	namespace := m.namespace
	if namespace == "" {
		namespace = sanitizeElement(appName)
	}

	if pid <= 0 {
		return namespace + ".app." + sanitizeElement(appName)
	}

	return fmt.Sprintf(m.identityFormat, namespace, pid)
}

// LegacyServiceName returns the service name of an X11 window.
func (m *IdentityMatcher) LegacyServiceName(windowID uint32) string {
	return fmt.Sprintf(m.legacyFormat, m.namespace, windowID)
}

// ServiceName returns the bus service name for an identity.
func (m *IdentityMatcher) ServiceName(identity string) string {
	return identity
}

// Matches reports whether a shell pairs the application id with the
// service name: the service is the application id or lies below it.
func (m *IdentityMatcher) Matches(appID, service string) bool {
	if appID == "" {
		return false
	}
	return service == appID || strings.HasPrefix(service, appID+".")
}

// Supported reports whether the running shell discovers menus by identity.
func (m *IdentityMatcher) Supported() bool {
	switch m.discovery {
	case DiscoveryAlways:
		return true
	case DiscoveryNever:
		return false
	}

	for _, desktop := range strings.Split(m.getenv("XDG_CURRENT_DESKTOP"), ":") {
		switch strings.ToLower(strings.TrimSpace(desktop)) {
		case "kde", "plasma":
			return true
		}
	}

	return false
}

// Match sets identity as the application id of the window. The id is set
// even when discovery is unsupported, in which case an error wrapping
// [ErrNoDiscoveryMechanism] is returned.
func (m *IdentityMatcher) Match(ctx context.Context, win *Window, identity string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("match: %w", err)
	}

	if win.SetAppID != nil {
		win.SetAppID(identity)
	}

	if !m.Supported() {
		return fmt.Errorf("match: %s: %w", identity, ErrNoDiscoveryMechanism)
	}

	logging.Debugf(logging.CatSelector, "window %s matched by identity %s", win.Key, identity)

	return nil
}

// sanitizeElement turns s into a valid bus name element.
func sanitizeElement(s string) string {
	var b strings.Builder

	for _, r := range s {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	if b.Len() == 0 {
		return "app"
	}

	out := b.String()
	if out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}

	return out
}
