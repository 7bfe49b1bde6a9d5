// Package server implements the event distribution service: the publisher
// API, the bus bridge, the connection registry and stream multiplexer, and
// the SSE transport.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/orderdeck/orderdeck/internal/events"
	"github.com/orderdeck/orderdeck/internal/idgen"
	"github.com/orderdeck/orderdeck/internal/model"
	"github.com/orderdeck/orderdeck/internal/store"
)

// defaultKeepalive is how often keepalive comments are sent on each stream.
// Must be shorter than the tightest intermediary idle timeout in the
// deployment (typically 20-30s for reverse proxies).
const defaultKeepalive = 15 * time.Second

// EventServer owns the write path (publish = durable append, then notify)
// and the read path (bridge -> hub -> per-connection streams).
type EventServer struct {
	log       store.EventLog
	publisher events.Publisher
	hub       *hub
	keepalive time.Duration

	bridgeMu      sync.Mutex
	bridgeRunning bool
	bridgeCancel  func()
	bridgeDone    chan struct{}
}

// inputError indicates invalid publish input. The HTTP layer maps it to 400.
type inputError string

func (e inputError) Error() string { return string(e) }

func isInputError(err error) bool {
	var ie inputError
	return errors.As(err, &ie)
}

// Option configures an EventServer.
type Option func(*EventServer)

// WithKeepaliveInterval overrides the keepalive comment interval.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(s *EventServer) {
		if d > 0 {
			s.keepalive = d
		}
	}
}

// WithRoleFilter installs a per-event-type role allow-list on the fan-out
// path.
func WithRoleFilter(f RoleFilter) Option {
	return func(s *EventServer) {
		s.hub.roleFilter = f
	}
}

// New returns an EventServer backed by the given event log and bus publisher.
func New(log store.EventLog, publisher events.Publisher, opts ...Option) *EventServer {
	s := &EventServer{
		log:       log,
		publisher: publisher,
		hub:       newHub(nil),
		keepalive: defaultKeepalive,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Publish persists a pending event and then notifies the bus on the channel
// named by eventType. The durable write happens first; a bus failure is
// logged and swallowed because the row is already on disk and any future
// catchup request will pick it up. The only error callers must handle is a
// failed durable write.
func (s *EventServer) Publish(ctx context.Context, eventType, tenantID string, payload any) (string, error) {
	if !events.ValidChannel(eventType) {
		return "", inputError(fmt.Sprintf("unknown event type %q", eventType))
	}
	if tenantID == "" {
		return "", inputError("tenant id is required")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	id, err := idgen.NewEventID()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()

	ev := &model.PendingEvent{
		ID:        id,
		Type:      eventType,
		TenantID:  tenantID,
		Payload:   data,
		EmittedAt: now,
	}
	if err := s.log.Append(ctx, ev); err != nil {
		return "", fmt.Errorf("append event: %w", err)
	}

	env := &events.Envelope{
		EventID:   id,
		Type:      eventType,
		TenantID:  tenantID,
		Payload:   data,
		EmittedAt: now,
	}
	if err := s.publisher.Publish(ctx, eventType, env); err != nil {
		slog.Warn("bus notify failed, event stays pending for catchup",
			"event_id", id, "type", eventType, "error", err)
	}

	return id, nil
}

// StartBridge subscribes to the full channel enumeration and starts the
// single goroutine that drains bus payloads into the fan-out hub. Idempotent:
// repeated calls while the bridge is running do nothing, so there is never a
// duplicate subscription.
func (s *EventServer) StartBridge(ctx context.Context, sub events.Subscriber) error {
	s.bridgeMu.Lock()
	defer s.bridgeMu.Unlock()
	if s.bridgeRunning {
		return nil
	}

	ch, cancel, err := sub.Subscribe(events.Channels()...)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	bctx, bcancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.bridgeRunning = true
	s.bridgeDone = done
	s.bridgeCancel = func() {
		bcancel()
		cancel()
	}

	go func() {
		defer close(done)
		s.runBridge(bctx, ch)
	}()
	return nil
}

// runBridge is the bridge's receive loop: decode each bus payload and hand it
// to the multiplexer. Malformed payloads are dropped with a warning; they can
// only come from a misbehaving publisher and the durable row still exists.
func (s *EventServer) runBridge(ctx context.Context, ch <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			env, err := events.DecodeEnvelope(data)
			if err != nil {
				slog.Warn("dropping malformed bus payload", "error", err)
				continue
			}
			s.hub.fanOut(env)
		}
	}
}

// OpenConnections returns the number of registered client streams.
func (s *EventServer) OpenConnections() int {
	return s.hub.len()
}

// Shutdown stops the bridge and drain-closes every open connection so
// clients see an explicit end-of-stream instead of a timeout.
func (s *EventServer) Shutdown() {
	s.bridgeMu.Lock()
	if s.bridgeCancel != nil {
		s.bridgeCancel()
		s.bridgeCancel = nil
		s.bridgeRunning = false
	}
	done := s.bridgeDone
	s.bridgeDone = nil
	s.bridgeMu.Unlock()

	if done != nil {
		<-done
	}
	s.hub.closeAll()
}
