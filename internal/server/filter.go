package server

import (
	"github.com/orderdeck/orderdeck/internal/events"
	"github.com/orderdeck/orderdeck/internal/model"
)

// RoleFilter is an optional per-event-type allow-list evaluated after the
// tenant check. Some event types (e.g. tenant-wide notifications) are
// operationally sensitive, so deployments can layer a stricter policy here.
// A nil filter allows every event type for every role.
type RoleFilter func(role, eventType string) bool

// canReceive decides whether a connection may be sent an event. Rules, in
// order: a platform-wide admin receives everything; otherwise the event's
// tenant must exactly match the connection's tenant; within a matching
// tenant the optional role filter applies.
func canReceive(conn *model.Connection, env *events.Envelope, roleFilter RoleFilter) bool {
	if conn.IsPlatformAdmin() {
		return true
	}
	if env.TenantID == "" || env.TenantID != conn.TenantID {
		return false
	}
	if roleFilter != nil && !roleFilter(conn.Role, env.Type) {
		return false
	}
	return true
}
