// Package events defines the notification channels, the wire envelope, and
// the bus backends used to move events between the publisher and the stream
// multiplexer.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Notification channels. The event type enumeration doubles as the channel
// name on the bus, so per-channel ordering is per-event-type ordering.
const (
	ChannelOrderCreated    = "order.created"
	ChannelOrderStatus     = "order.status_changed"
	ChannelOrderItemStatus = "order_item.status_changed"
	ChannelKitchenNotice   = "kitchen.notification"
	ChannelTenantNotice    = "tenant.notification"
	ChannelTableStatus     = "table.status_changed"
)

var channels = []string{
	ChannelOrderCreated,
	ChannelOrderStatus,
	ChannelOrderItemStatus,
	ChannelKitchenNotice,
	ChannelTenantNotice,
	ChannelTableStatus,
}

// Channels returns the full channel enumeration in a fresh slice.
func Channels() []string {
	out := make([]string, len(channels))
	copy(out, channels)
	return out
}

// ValidChannel reports whether name is one of the known channels.
func ValidChannel(name string) bool {
	for _, c := range channels {
		if c == name {
			return true
		}
	}
	return false
}

// Envelope is the serialized form of an event as it crosses the bus.
type Envelope struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	TenantID  string          `json:"tenant_id"`
	Payload   json.RawMessage `json:"payload"`
	EmittedAt time.Time       `json:"emitted_at"`
}

// Encode marshals the envelope for transport.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses a bus payload back into an Envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshaling envelope: %w", err)
	}
	if env.EventID == "" || env.Type == "" {
		return nil, fmt.Errorf("envelope missing event_id or type")
	}
	return &env, nil
}

// Typed payloads emitted by the order and kitchen workflow services.

type OrderCreated struct {
	OrderID    string  `json:"order_id"`
	TableID    string  `json:"table_id,omitempty"`
	CustomerID string  `json:"customer_id,omitempty"`
	Total      float64 `json:"total"`
	Items      int     `json:"items"`
}

type OrderStatusChanged struct {
	OrderID   string `json:"order_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	ChangedBy string `json:"changed_by,omitempty"`
}

type OrderItemStatusChanged struct {
	OrderID   string `json:"order_id"`
	ItemID    string `json:"item_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

type KitchenNotification struct {
	TicketID string `json:"ticket_id"`
	OrderID  string `json:"order_id"`
	Station  string `json:"station,omitempty"`
	Message  string `json:"message"`
}

type TenantNotification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level,omitempty"`
}

type TableStatusChanged struct {
	TableID   string `json:"table_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// Publisher is the bus write side: notify one channel with an envelope.
type Publisher interface {
	Publish(ctx context.Context, channel string, env *Envelope) error
	Close() error
}

// Subscriber is the bus read side. Subscribe delivers raw envelope payloads
// for all requested channels on the returned channel. Call the returned
// cancel function to unsubscribe and close the channel.
type Subscriber interface {
	Subscribe(channels ...string) (<-chan []byte, func(), error)
	Close() error
}

// NoopPublisher is a Publisher that does nothing (used when no bus is
// configured, e.g. in tests of the write path).
type NoopPublisher struct{}

func (n *NoopPublisher) Publish(ctx context.Context, channel string, env *Envelope) error {
	return nil
}

func (n *NoopPublisher) Close() error {
	return nil
}
