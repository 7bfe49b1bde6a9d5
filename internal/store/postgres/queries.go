package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/orderdeck/orderdeck/internal/model"
)

// eventColumns is the column list used for SELECT statements on the
// pending_events table.
const eventColumns = `id, event_type, tenant_id, payload, emitted_at, delivered_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (l *EventLog) Append(ctx context.Context, ev *model.PendingEvent) error {
	return queryAppend(ctx, l.db, ev)
}

func (l *EventLog) ListSince(ctx context.Context, tenantID string, since time.Time) ([]*model.PendingEvent, error) {
	return queryListSince(ctx, l.db, tenantID, since)
}

func (l *EventLog) ListUndelivered(ctx context.Context, tenantID string) ([]*model.PendingEvent, error) {
	return queryListUndelivered(ctx, l.db, tenantID)
}

func (l *EventLog) MarkDelivered(ctx context.Context, ids []string, at time.Time) error {
	return queryMarkDelivered(ctx, l.db, ids, at)
}

func (l *EventLog) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*model.PendingEvent, error) {
	return queryListExpired(ctx, l.db, cutoff, limit)
}

func (l *EventLog) DeleteDelivered(ctx context.Context, ids []string) (int64, error) {
	return queryDeleteDelivered(ctx, l.db, ids)
}

func (l *EventLog) CountUndelivered(ctx context.Context) (int, error) {
	return queryCountUndelivered(ctx, l.db)
}

func queryAppend(ctx context.Context, db executor, ev *model.PendingEvent) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO pending_events (id, event_type, tenant_id, payload, emitted_at, delivered_at)
		VALUES ($1, $2, $3, $4, $5, NULL)`,
		ev.ID,
		ev.Type,
		ev.TenantID,
		jsonbBytes(ev.Payload),
		ev.EmittedAt,
	)
	return err
}

func queryListSince(ctx context.Context, db executor, tenantID string, since time.Time) ([]*model.PendingEvent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM pending_events
		WHERE tenant_id = $1 AND emitted_at > $2
		ORDER BY emitted_at ASC, id ASC`,
		tenantID, since,
	)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func queryListUndelivered(ctx context.Context, db executor, tenantID string) ([]*model.PendingEvent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM pending_events
		WHERE tenant_id = $1 AND delivered_at IS NULL
		ORDER BY emitted_at ASC, id ASC`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func queryMarkDelivered(ctx context.Context, db executor, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := db.ExecContext(ctx, `
		UPDATE pending_events SET delivered_at = $1
		WHERE id = ANY($2) AND delivered_at IS NULL`,
		at, pq.Array(ids),
	)
	return err
}

func queryListExpired(ctx context.Context, db executor, cutoff time.Time, limit int) ([]*model.PendingEvent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM pending_events
		WHERE delivered_at IS NOT NULL AND delivered_at < $1
		ORDER BY emitted_at ASC
		LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// queryDeleteDelivered guards on delivered_at in SQL so an undelivered row can
// never be removed even if its ID is passed in by mistake.
func queryDeleteDelivered(ctx context.Context, db executor, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := db.ExecContext(ctx, `
		DELETE FROM pending_events
		WHERE id = ANY($1) AND delivered_at IS NOT NULL`,
		pq.Array(ids),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func queryCountUndelivered(ctx context.Context, db executor) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pending_events WHERE delivered_at IS NULL`,
	).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func scanEvents(rows *sql.Rows) ([]*model.PendingEvent, error) {
	defer rows.Close()

	var out []*model.PendingEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanEvent(rows *sql.Rows) (*model.PendingEvent, error) {
	var (
		ev          model.PendingEvent
		payload     []byte
		deliveredAt sql.NullTime
	)
	if err := rows.Scan(&ev.ID, &ev.Type, &ev.TenantID, &payload, &ev.EmittedAt, &deliveredAt); err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	ev.Payload = payload
	if deliveredAt.Valid {
		t := deliveredAt.Time
		ev.DeliveredAt = &t
	}
	return &ev, nil
}

// jsonbBytes normalizes an empty payload to a valid empty JSON object for the
// jsonb column.
func jsonbBytes(b []byte) []byte {
	if len(b) == 0 {
		return []byte(`{}`)
	}
	return b
}
