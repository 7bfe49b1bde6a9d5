package server

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/orderdeck/orderdeck/internal/model"
)

// sinceUndelivered selects the delivered_at IS NULL catchup variant instead
// of a timestamp checkpoint. With the timestamp variant a client re-reads
// everything after its checkpoint regardless of delivery marking, so a
// second dashboard replaying later still sees events another connection
// already marked delivered (duplication over loss). The undelivered variant
// trades that duplication for possibly skipping events another connection
// consumed first.
const sinceUndelivered = "undelivered"

// replay returns the tenant's events for the requested catchup variant,
// ordered by emitted_at ascending. since is either the literal "undelivered",
// an RFC 3339 timestamp, or a unix millisecond integer.
func (s *EventServer) replay(ctx context.Context, tenantID, since string) ([]*model.PendingEvent, error) {
	if since == sinceUndelivered {
		return s.log.ListUndelivered(ctx, tenantID)
	}
	checkpoint, err := parseSince(since)
	if err != nil {
		return nil, err
	}
	return s.log.ListSince(ctx, tenantID, checkpoint)
}

// markReplayed flags replayed events as delivered. Best-effort: a failure
// here only means the events may be replayed again later, which the
// at-least-once contract allows.
func (s *EventServer) markReplayed(ctx context.Context, evts []*model.PendingEvent) {
	if len(evts) == 0 {
		return
	}
	ids := make([]string, 0, len(evts))
	for _, ev := range evts {
		ids = append(ids, ev.ID)
	}
	if err := s.log.MarkDelivered(ctx, ids, time.Now().UTC()); err != nil {
		slog.Warn("marking replayed events delivered failed", "count", len(ids), "error", err)
	}
}

// parseSince accepts an RFC 3339 timestamp or a unix millisecond integer.
func parseSince(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid since checkpoint %q", raw)
}
