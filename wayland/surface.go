package wayland

import "fmt"

// Surface identifies an on-screen window at the connection layer.
//
// Outside of its owner's event loop a Surface is a read-only identity token.
type Surface struct {
	owner  *Connection
	object Object
}

// Owner returns the connection that created the surface.
func (s *Surface) Owner() *Connection {
	return s.owner
}

// ProtocolID returns the protocol object id of the surface. Ids are only
// meaningful together with the owning connection.
func (s *Surface) ProtocolID() uint32 {
	return s.object.ProtocolID()
}

// ExtensionBinding is a protocol extension global bound on a specific
// connection.
type ExtensionBinding struct {
	owner   *Connection
	kind    ExtensionKind
	version uint32
	object  Object
}

// Owner returns the connection the extension was bound on.
func (b *ExtensionBinding) Owner() *Connection {
	return b.owner
}

// Kind returns the bound extension.
func (b *ExtensionBinding) Kind() ExtensionKind {
	return b.kind
}

// Version returns the bound version of the extension.
func (b *ExtensionBinding) Version() uint32 {
	return b.version
}

// CheckOwnership reports whether surface and binding may be used together.
//
// A missing surface or binding yields [ErrProtocolUnsupported]. Different
// owners yield [ErrSurfaceConnectionMismatch].
func CheckOwnership(surface *Surface, binding *ExtensionBinding) error {
	if surface == nil || binding == nil {
		return ErrProtocolUnsupported
	}

	if surface.owner != binding.owner {
		return fmt.Errorf(
			"surface %d of connection %d, %s of connection %d: %w",
			surface.ProtocolID(), surface.owner.id,
			binding.kind, binding.owner.id,
			ErrSurfaceConnectionMismatch,
		)
	}

	return nil
}
