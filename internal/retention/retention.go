// Package retention removes delivered events from the log once they age out
// of the retention window, optionally archiving them first.
package retention

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/orderdeck/orderdeck/internal/model"
	"github.com/orderdeck/orderdeck/internal/store"
)

// sweepBatchSize bounds how many rows one sweep iteration loads.
const sweepBatchSize = 500

// Archiver receives a JSONL snapshot of a batch before it is deleted.
type Archiver interface {
	Archive(ctx context.Context, batchTime time.Time, data []byte) error
}

// Sweeper periodically deletes delivered events whose delivered_at is older
// than the retention window. Undelivered events are never touched; the
// store's delete statement enforces that independently of the query here.
type Sweeper struct {
	log      store.EventLog
	archiver Archiver // optional
	window   time.Duration
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a sweeper. archiver may be nil to delete without archiving.
func New(log store.EventLog, archiver Archiver, window, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		log:      log,
		archiver: archiver,
		window:   window,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the periodic sweep. It runs one sweep immediately, then on
// each tick.
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the sweeper and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	s.SweepOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce removes every delivered event older than the retention window,
// in batches. When an archiver is configured a batch is only deleted after
// its snapshot was stored; an archive failure leaves the batch in place for
// the next sweep.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.window)

	var total int64
	for {
		batch, err := s.log.ListExpired(ctx, cutoff, sweepBatchSize)
		if err != nil {
			s.logger.Warn("retention sweep query failed", "error", err)
			return
		}
		if len(batch) == 0 {
			break
		}

		if s.archiver != nil {
			data, err := encodeJSONL(batch)
			if err != nil {
				s.logger.Warn("retention archive encode failed", "error", err)
				return
			}
			if err := s.archiver.Archive(ctx, batch[0].EmittedAt, data); err != nil {
				s.logger.Warn("retention archive upload failed, keeping batch", "error", err)
				return
			}
		}

		ids := make([]string, 0, len(batch))
		for _, ev := range batch {
			ids = append(ids, ev.ID)
		}
		n, err := s.log.DeleteDelivered(ctx, ids)
		if err != nil {
			s.logger.Warn("retention delete failed", "error", err)
			return
		}
		total += n
		if len(batch) < sweepBatchSize {
			break
		}
	}

	if total > 0 {
		s.logger.Info("retention sweep complete", "deleted", total, "cutoff", cutoff)
	}
}

// encodeJSONL renders the batch as newline-delimited JSON.
func encodeJSONL(batch []*model.PendingEvent) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range batch {
		if err := enc.Encode(ev); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
