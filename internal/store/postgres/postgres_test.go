package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/orderdeck/orderdeck/internal/model"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation
// checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

// eventRowColumns is the column list for scanEvent results.
var eventRowColumns = []string{"id", "event_type", "tenant_id", "payload", "emitted_at", "delivered_at"}

func addEventRow(rows *sqlmock.Rows, id, eventType, tenantID string, emittedAt time.Time, deliveredAt any) *sqlmock.Rows {
	return rows.AddRow(id, eventType, tenantID, []byte(`{}`), emittedAt, deliveredAt)
}

func TestAppend(t *testing.T) {
	db, mock := newMockDB(t)
	log := NewWithDB(db)

	now := time.Now().UTC()
	ev := &model.PendingEvent{
		ID:        "ev-001",
		Type:      "order.created",
		TenantID:  "t1",
		Payload:   json.RawMessage(`{"order_id":"o-1"}`),
		EmittedAt: now,
	}

	mock.ExpectExec("INSERT INTO pending_events").
		WithArgs("ev-001", "order.created", "t1", []byte(`{"order_id":"o-1"}`), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := log.Append(context.Background(), ev); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestAppend_EmptyPayloadNormalized(t *testing.T) {
	db, mock := newMockDB(t)
	log := NewWithDB(db)

	now := time.Now().UTC()
	ev := &model.PendingEvent{
		ID:        "ev-002",
		Type:      "tenant.notification",
		TenantID:  "t1",
		EmittedAt: now,
	}

	mock.ExpectExec("INSERT INTO pending_events").
		WithArgs("ev-002", "tenant.notification", "t1", []byte(`{}`), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := log.Append(context.Background(), ev); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestListSince(t *testing.T) {
	db, mock := newMockDB(t)
	log := NewWithDB(db)

	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(eventRowColumns)
	addEventRow(rows, "ev-a", "order.created", "t1", since.Add(time.Minute), nil)
	addEventRow(rows, "ev-b", "order.status_changed", "t1", since.Add(2*time.Minute), since.Add(3*time.Minute))

	mock.ExpectQuery(`SELECT .+ FROM pending_events\s+WHERE tenant_id = \$1 AND emitted_at > \$2\s+ORDER BY emitted_at ASC`).
		WithArgs("t1", since).
		WillReturnRows(rows)

	evts, err := log.ListSince(context.Background(), "t1", since)
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if len(evts) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evts))
	}
	if evts[0].ID != "ev-a" || evts[1].ID != "ev-b" {
		t.Fatalf("unexpected order: %s, %s", evts[0].ID, evts[1].ID)
	}
	if evts[0].Delivered() {
		t.Error("ev-a should be undelivered")
	}
	if !evts[1].Delivered() {
		t.Error("ev-b should be delivered")
	}
}

func TestListUndelivered(t *testing.T) {
	db, mock := newMockDB(t)
	log := NewWithDB(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(eventRowColumns)
	addEventRow(rows, "ev-a", "kitchen.notification", "t1", now, nil)

	mock.ExpectQuery(`SELECT .+ FROM pending_events\s+WHERE tenant_id = \$1 AND delivered_at IS NULL`).
		WithArgs("t1").
		WillReturnRows(rows)

	evts, err := log.ListUndelivered(context.Background(), "t1")
	if err != nil {
		t.Fatalf("ListUndelivered: %v", err)
	}
	if len(evts) != 1 || evts[0].ID != "ev-a" {
		t.Fatalf("unexpected result: %+v", evts)
	}
}

func TestMarkDelivered(t *testing.T) {
	db, mock := newMockDB(t)
	log := NewWithDB(db)

	at := time.Now().UTC()
	mock.ExpectExec(`UPDATE pending_events SET delivered_at = \$1\s+WHERE id = ANY\(\$2\) AND delivered_at IS NULL`).
		WithArgs(at, pq.Array([]string{"ev-a", "ev-b"})).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := log.MarkDelivered(context.Background(), []string{"ev-a", "ev-b"}, at); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
}

func TestMarkDelivered_NoIDs(t *testing.T) {
	db, _ := newMockDB(t)
	log := NewWithDB(db)

	// No query expected for an empty batch.
	if err := log.MarkDelivered(context.Background(), nil, time.Now()); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
}

func TestListExpired_OnlyDeliveredRows(t *testing.T) {
	db, mock := newMockDB(t)
	log := NewWithDB(db)

	cutoff := time.Now().UTC().Add(-72 * time.Hour)
	rows := sqlmock.NewRows(eventRowColumns)
	addEventRow(rows, "ev-old", "order.created", "t1", cutoff.Add(-time.Hour), cutoff.Add(-time.Hour))

	mock.ExpectQuery(`SELECT .+ FROM pending_events\s+WHERE delivered_at IS NOT NULL AND delivered_at < \$1`).
		WithArgs(cutoff, 500).
		WillReturnRows(rows)

	evts, err := log.ListExpired(context.Background(), cutoff, 500)
	if err != nil {
		t.Fatalf("ListExpired: %v", err)
	}
	if len(evts) != 1 || evts[0].ID != "ev-old" {
		t.Fatalf("unexpected result: %+v", evts)
	}
}

// TestDeleteDelivered_GuardsUndelivered verifies the delete statement itself
// refuses rows with a null delivered_at, so undelivered events survive the
// sweep regardless of what IDs are passed.
func TestDeleteDelivered_GuardsUndelivered(t *testing.T) {
	db, mock := newMockDB(t)
	log := NewWithDB(db)

	mock.ExpectExec(`DELETE FROM pending_events\s+WHERE id = ANY\(\$1\) AND delivered_at IS NOT NULL`).
		WithArgs(pq.Array([]string{"ev-old", "ev-undelivered"})).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := log.DeleteDelivered(context.Background(), []string{"ev-old", "ev-undelivered"})
	if err != nil {
		t.Fatalf("DeleteDelivered: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row deleted, got %d", n)
	}
}

func TestDeleteDelivered_NoIDs(t *testing.T) {
	db, _ := newMockDB(t)
	log := NewWithDB(db)

	n, err := log.DeleteDelivered(context.Background(), nil)
	if err != nil {
		t.Fatalf("DeleteDelivered: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 rows deleted, got %d", n)
	}
}

func TestCountUndelivered(t *testing.T) {
	db, mock := newMockDB(t)
	log := NewWithDB(db)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM pending_events WHERE delivered_at IS NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := log.CountUndelivered(context.Background())
	if err != nil {
		t.Fatalf("CountUndelivered: %v", err)
	}
	if n != 7 {
		t.Fatalf("expected 7, got %d", n)
	}
}
