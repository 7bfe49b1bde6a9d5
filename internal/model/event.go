package model

import (
	"encoding/json"
	"time"
)

// PendingEvent is the persisted form of an emitted event. The row is written
// before the bus is notified, so an event that no live connection picked up
// can still be replayed during catchup. DeliveredAt is a best-effort "some
// consumer received it" marker, not a per-consumer receipt; the retention
// sweep only ever removes rows where it is set.
type PendingEvent struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	TenantID    string          `json:"tenant_id"`
	Payload     json.RawMessage `json:"payload"`
	EmittedAt   time.Time       `json:"emitted_at"`
	DeliveredAt *time.Time      `json:"delivered_at,omitempty"`
}

// Delivered reports whether the event has been forwarded to at least one
// connection.
func (e *PendingEvent) Delivered() bool {
	return e.DeliveredAt != nil
}
