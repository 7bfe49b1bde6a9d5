package events

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"
)

const (
	// Reconnect backoff bounds for the LISTEN connection. pq.Listener
	// re-issues LISTEN for every registered channel after a reconnect, so
	// messages lost during the outage are the catchup service's problem,
	// not ours.
	pgMinReconnect = time.Second
	pgMaxReconnect = 30 * time.Second

	// pgPingInterval bounds how long a dead LISTEN connection can go
	// unnoticed when no notifications arrive.
	pgPingInterval = 90 * time.Second
)

// PGPublisher notifies channels via pg_notify on the shared connection pool.
type PGPublisher struct {
	db *sql.DB
}

// NewPGPublisher returns a Publisher that emits NOTIFY on the given pool.
// The pool is owned by the caller; Close does not close it.
func NewPGPublisher(db *sql.DB) *PGPublisher {
	return &PGPublisher{db: db}
}

func (p *PGPublisher) Publish(ctx context.Context, channel string, env *Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, channel, string(data)); err != nil {
		return fmt.Errorf("pg_notify %s: %w", channel, err)
	}
	return nil
}

func (p *PGPublisher) Close() error {
	return nil
}

// PGSubscriber receives notifications over a dedicated LISTEN connection.
type PGSubscriber struct {
	url    string
	logger *slog.Logger
}

// NewPGSubscriber returns a Subscriber that opens its own connection to the
// database at url. The connection is created lazily by Subscribe.
func NewPGSubscriber(url string, logger *slog.Logger) *PGSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGSubscriber{url: url, logger: logger}
}

// Subscribe opens a LISTEN connection for the given channels and forwards
// notification payloads on the returned channel. The underlying listener
// reconnects with backoff and re-subscribes on its own; outages surface only
// as logged warnings.
func (s *PGSubscriber) Subscribe(channels ...string) (<-chan []byte, func(), error) {
	logger := s.logger
	listener := pq.NewListener(s.url, pgMinReconnect, pgMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			switch ev {
			case pq.ListenerEventDisconnected:
				logger.Warn("notification listener disconnected", "error", err)
			case pq.ListenerEventReconnected:
				logger.Info("notification listener reconnected")
			case pq.ListenerEventConnectionAttemptFailed:
				logger.Warn("notification listener reconnect failed", "error", err)
			}
		})

	for _, ch := range channels {
		if err := listener.Listen(ch); err != nil {
			listener.Close()
			return nil, nil, fmt.Errorf("listen %s: %w", ch, err)
		}
	}

	out := make(chan []byte, 64)
	done := make(chan struct{})

	go func() {
		defer close(out)
		ping := time.NewTicker(pgPingInterval)
		defer ping.Stop()
		for {
			select {
			case <-done:
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				// A nil notification signals that the connection was
				// re-established; nothing to forward.
				if n == nil {
					continue
				}
				select {
				case out <- []byte(n.Extra):
				default:
					// Drop rather than block the listener; durable rows
					// cover the gap.
					logger.Warn("notification dropped, consumer is slow", "channel", n.Channel)
				}
			case <-ping.C:
				if err := listener.Ping(); err != nil {
					logger.Warn("notification listener ping failed", "error", err)
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			listener.Close()
		})
	}

	return out, cancel, nil
}

func (s *PGSubscriber) Close() error {
	return nil
}
