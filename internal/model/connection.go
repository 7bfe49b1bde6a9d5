package model

import "time"

// Caller roles, resolved by the auth gateway before a request reaches this
// service. RolePlatformAdmin is the only role with cross-tenant visibility.
const (
	RolePlatformAdmin = "platform_admin"
	RoleOwner         = "owner"
	RoleManager       = "manager"
	RoleKitchen       = "kitchen"
	RoleWaiter        = "waiter"
)

// Connection describes one open client stream. It is ephemeral, in-memory
// only, and owned by the stream multiplexer; the registry holds a non-owning
// index by ConnectionID.
type Connection struct {
	ConnectionID string    `json:"connection_id"`
	TenantID     string    `json:"tenant_id"`
	CallerID     string    `json:"caller_id"`
	Role         string    `json:"role"`
	Scopes       []string  `json:"scopes,omitempty"`
	OpenedAt     time.Time `json:"opened_at"`
}

// IsPlatformAdmin reports whether the connection belongs to a platform-wide
// administrative caller.
func (c *Connection) IsPlatformAdmin() bool {
	return c.Role == RolePlatformAdmin
}
