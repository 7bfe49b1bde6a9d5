// Package store defines the persistence interface for the event log.
package store

import (
	"context"
	"time"

	"github.com/orderdeck/orderdeck/internal/model"
)

// EventLog is the durable append-only record of every emitted event.
//
// Append runs before the bus is notified, which is the core correctness
// guarantee: a crash or dropped notification delays delivery but never loses
// an event. Rows with a null delivered_at are never removed, regardless of
// age.
type EventLog interface {
	// Append persists a new pending event with delivered_at unset.
	Append(ctx context.Context, ev *model.PendingEvent) error

	// ListSince returns the tenant's events with emitted_at after since,
	// ordered by emitted_at ascending, regardless of delivery marking.
	ListSince(ctx context.Context, tenantID string, since time.Time) ([]*model.PendingEvent, error)

	// ListUndelivered returns the tenant's events that no connection has
	// been sent yet, ordered by emitted_at ascending.
	ListUndelivered(ctx context.Context, tenantID string) ([]*model.PendingEvent, error)

	// MarkDelivered sets delivered_at for the given events. Best-effort:
	// it records "some consumer received this", not a per-consumer receipt.
	MarkDelivered(ctx context.Context, ids []string, at time.Time) error

	// ListExpired returns up to limit delivered events whose delivered_at
	// is older than cutoff, ordered by emitted_at ascending.
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*model.PendingEvent, error)

	// DeleteDelivered removes the given events, skipping any row whose
	// delivered_at is still null. Returns the number of rows removed.
	DeleteDelivered(ctx context.Context, ids []string) (int64, error)

	// CountUndelivered returns the number of events awaiting first delivery
	// across all tenants.
	CountUndelivered(ctx context.Context) (int, error)

	Close() error
}
