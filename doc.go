// Package appmenu publishes application menus to desktop shells that show
// them in a global menu bar, the way KDE Plasma and Unity do.
//
// # Usage
//
// A menu is published as a com.canonical.dbusmenu object on the session bus
// and then associated with its window. A [Selector] drives every window
// through these steps:
//   - [RegistrarClient] publishes the menu and registers the window with
//     com.canonical.AppMenu.Registrar, when a registrar is present.
//   - On Wayland, the menu address is bound to the window surface through
//     the KDE appmenu protocol, see package wayland.
//   - On X11, the address is written to window properties, see package x11.
//   - Otherwise the menu service name is derived from the application
//     identity, so the shell pairs window and menu by name
//     ([IdentityMatcher]).
//
// The state of every registration only moves forward, from
// [Unregistered] to [Published] and then to one of [BoundDirectly],
// [BoundByLegacyProperty], [MatchedByIdentity] or [Failed]. Failures are
// reported through [Selector.OnWarning] and never stop the application.
//
// In addition, [RegistrarService] implements the registrar itself and
// [RemoteMenu] reads menus published by other applications.
package appmenu
