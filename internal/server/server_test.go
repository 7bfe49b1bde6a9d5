package server

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/orderdeck/orderdeck/internal/events"
	"github.com/orderdeck/orderdeck/internal/model"
	"github.com/orderdeck/orderdeck/internal/store"
)

// memLog is an in-memory store.EventLog for tests.
type memLog struct {
	mu        sync.Mutex
	events    []*model.PendingEvent
	appendErr error
	listErr   error
	marked    [][]string // batches passed to MarkDelivered
	calls     []string   // operation order, for write-before-notify checks
}

var _ store.EventLog = (*memLog)(nil)

func (m *memLog) Append(ctx context.Context, ev *model.PendingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "append")
	if m.appendErr != nil {
		return m.appendErr
	}
	cp := *ev
	m.events = append(m.events, &cp)
	return nil
}

func (m *memLog) ListSince(ctx context.Context, tenantID string, since time.Time) ([]*model.PendingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*model.PendingEvent
	for _, ev := range m.events {
		if ev.TenantID == tenantID && ev.EmittedAt.After(since) {
			out = append(out, ev)
		}
	}
	sortByEmitted(out)
	return out, nil
}

func (m *memLog) ListUndelivered(ctx context.Context, tenantID string) ([]*model.PendingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*model.PendingEvent
	for _, ev := range m.events {
		if ev.TenantID == tenantID && ev.DeliveredAt == nil {
			out = append(out, ev)
		}
	}
	sortByEmitted(out)
	return out, nil
}

func (m *memLog) MarkDelivered(ctx context.Context, ids []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked = append(m.marked, ids)
	for _, ev := range m.events {
		for _, id := range ids {
			if ev.ID == id && ev.DeliveredAt == nil {
				t := at
				ev.DeliveredAt = &t
			}
		}
	}
	return nil
}

func (m *memLog) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*model.PendingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PendingEvent
	for _, ev := range m.events {
		if ev.DeliveredAt != nil && ev.DeliveredAt.Before(cutoff) {
			out = append(out, ev)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memLog) DeleteDelivered(ctx context.Context, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*model.PendingEvent
	var n int64
	for _, ev := range m.events {
		if ev.DeliveredAt != nil && contains(ids, ev.ID) {
			n++
			continue
		}
		kept = append(kept, ev)
	}
	m.events = kept
	return n, nil
}

func (m *memLog) CountUndelivered(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.DeliveredAt == nil {
			n++
		}
	}
	return n, nil
}

func (m *memLog) Close() error { return nil }

func (m *memLog) callOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func sortByEmitted(evts []*model.PendingEvent) {
	sort.Slice(evts, func(i, j int) bool {
		if evts[i].EmittedAt.Equal(evts[j].EmittedAt) {
			return evts[i].ID < evts[j].ID
		}
		return evts[i].EmittedAt.Before(evts[j].EmittedAt)
	})
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// capturePublisher records bus notifications.
type capturePublisher struct {
	mu       sync.Mutex
	err      error
	channels []string
	log      *memLog // shared call-order log, optional
}

func (p *capturePublisher) Publish(ctx context.Context, channel string, env *events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.log != nil {
		p.log.mu.Lock()
		p.log.calls = append(p.log.calls, "notify")
		p.log.mu.Unlock()
	}
	if p.err != nil {
		return p.err
	}
	p.channels = append(p.channels, channel)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.channels...)
}

// fakeSubscriber hands the bridge a channel the test controls.
type fakeSubscriber struct {
	mu        sync.Mutex
	ch        chan []byte
	subCalls  int
	cancelled bool
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{ch: make(chan []byte, 16)}
}

func (f *fakeSubscriber) Subscribe(channels ...string) (<-chan []byte, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subCalls++
	return f.ch, func() {
		f.mu.Lock()
		f.cancelled = true
		f.mu.Unlock()
	}, nil
}

func (f *fakeSubscriber) Close() error { return nil }

func (f *fakeSubscriber) subscribeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subCalls
}

func (f *fakeSubscriber) wasCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func testEnv(eventType, tenantID, payload string) *events.Envelope {
	return &events.Envelope{
		EventID:   "ev-" + eventType + "-" + tenantID,
		Type:      eventType,
		TenantID:  tenantID,
		Payload:   json.RawMessage(payload),
		EmittedAt: time.Now().UTC(),
	}
}

func TestPublish_DurableWriteBeforeNotify(t *testing.T) {
	log := &memLog{}
	pub := &capturePublisher{log: log}
	s := New(log, pub)

	id, err := s.Publish(context.Background(), events.ChannelOrderCreated, "t1",
		events.OrderCreated{OrderID: "o-1", Total: 12.5, Items: 2})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty event id")
	}

	order := log.callOrder()
	if len(order) != 2 || order[0] != "append" || order[1] != "notify" {
		t.Fatalf("expected append before notify, got %v", order)
	}
	if got := pub.published(); len(got) != 1 || got[0] != events.ChannelOrderCreated {
		t.Fatalf("expected one notify on %s, got %v", events.ChannelOrderCreated, got)
	}
	if len(log.events) != 1 || log.events[0].DeliveredAt != nil {
		t.Fatalf("expected one undelivered pending event, got %+v", log.events)
	}
}

func TestPublish_StoreFailureSurfacesAndSkipsNotify(t *testing.T) {
	log := &memLog{appendErr: errors.New("disk full")}
	pub := &capturePublisher{log: log}
	s := New(log, pub)

	_, err := s.Publish(context.Background(), events.ChannelOrderCreated, "t1", events.OrderCreated{})
	if err == nil {
		t.Fatal("expected error from failed durable write")
	}
	if got := pub.published(); len(got) != 0 {
		t.Fatalf("notify must not run after a failed write, got %v", got)
	}
}

func TestPublish_NotifyFailureIsSwallowed(t *testing.T) {
	log := &memLog{}
	pub := &capturePublisher{err: errors.New("bus down")}
	s := New(log, pub)

	id, err := s.Publish(context.Background(), events.ChannelTableStatus, "t1",
		events.TableStatusChanged{TableID: "tb-4", OldStatus: "occupied", NewStatus: "free"})
	if err != nil {
		t.Fatalf("a bus failure must not surface to the publisher: %v", err)
	}
	// The event is still durable and catchup-visible.
	evts, err := log.ListUndelivered(context.Background(), "t1")
	if err != nil {
		t.Fatalf("ListUndelivered: %v", err)
	}
	if len(evts) != 1 || evts[0].ID != id {
		t.Fatalf("expected the pending event to survive, got %+v", evts)
	}
}

func TestPublish_InvalidInput(t *testing.T) {
	s := New(&memLog{}, &capturePublisher{})

	if _, err := s.Publish(context.Background(), "order.deleted", "t1", nil); err == nil || !isInputError(err) {
		t.Fatalf("expected input error for unknown event type, got %v", err)
	}
	if _, err := s.Publish(context.Background(), events.ChannelOrderCreated, "", nil); err == nil || !isInputError(err) {
		t.Fatalf("expected input error for missing tenant, got %v", err)
	}
}

func TestStartBridge_Idempotent(t *testing.T) {
	s := New(&memLog{}, &capturePublisher{})
	sub := newFakeSubscriber()
	defer s.Shutdown()

	ctx := context.Background()
	if err := s.StartBridge(ctx, sub); err != nil {
		t.Fatalf("StartBridge: %v", err)
	}
	if err := s.StartBridge(ctx, sub); err != nil {
		t.Fatalf("second StartBridge: %v", err)
	}
	if n := sub.subscribeCalls(); n != 1 {
		t.Fatalf("expected exactly one subscription, got %d", n)
	}
}

func TestBridge_DispatchesToHub(t *testing.T) {
	s := New(&memLog{}, &capturePublisher{})
	sub := newFakeSubscriber()
	defer s.Shutdown()

	if err := s.StartBridge(context.Background(), sub); err != nil {
		t.Fatalf("StartBridge: %v", err)
	}

	sc := s.hub.register(&model.Connection{ConnectionID: "conn-1", TenantID: "t1", Role: model.RoleManager})
	defer s.hub.unregister("conn-1")

	data, err := testEnv(events.ChannelOrderStatus, "t1", `{"order_id":"o-9"}`).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	sub.ch <- data

	select {
	case f := <-sc.ch:
		if !strings.Contains(string(f.body), `"order_id":"o-9"`) {
			t.Fatalf("unexpected frame body: %s", f.body)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatched frame")
	}
}

func TestBridge_SkipsMalformedPayloads(t *testing.T) {
	s := New(&memLog{}, &capturePublisher{})
	sub := newFakeSubscriber()
	defer s.Shutdown()

	if err := s.StartBridge(context.Background(), sub); err != nil {
		t.Fatalf("StartBridge: %v", err)
	}

	sc := s.hub.register(&model.Connection{ConnectionID: "conn-1", TenantID: "t1", Role: model.RoleManager})
	defer s.hub.unregister("conn-1")

	sub.ch <- []byte("not an envelope")
	good, _ := testEnv(events.ChannelOrderCreated, "t1", `{}`).Encode()
	sub.ch <- good

	select {
	case f := <-sc.ch:
		if !strings.Contains(string(f.body), events.ChannelOrderCreated) {
			t.Fatalf("unexpected frame: %s", f.body)
		}
	case <-time.After(time.Second):
		t.Fatal("bridge stopped after malformed payload")
	}
}

func TestShutdown_StopsBridgeAndDrainsConnections(t *testing.T) {
	s := New(&memLog{}, &capturePublisher{})
	sub := newFakeSubscriber()

	if err := s.StartBridge(context.Background(), sub); err != nil {
		t.Fatalf("StartBridge: %v", err)
	}
	sc := s.hub.register(&model.Connection{ConnectionID: "conn-1", TenantID: "t1"})

	s.Shutdown()

	if !sub.wasCancelled() {
		t.Error("expected the bus subscription to be cancelled")
	}
	select {
	case <-sc.done:
	default:
		t.Error("expected the connection to be signalled closed")
	}
	if n := s.OpenConnections(); n != 0 {
		t.Errorf("expected empty registry after shutdown, got %d", n)
	}
}
