package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrBufferFull is returned when the event buffer overflows. The event is
// dropped and counted; callers decide whether to escalate.
var ErrBufferFull = errors.New("audit buffer full, event dropped")

// DBLoggerOptions tunes the buffered writer.
type DBLoggerOptions struct {
	// BufferSize is the channel capacity before Log starts dropping.
	BufferSize int
	// BatchSize is the max events written per transaction.
	BatchSize int
	// FlushInterval bounds how long a buffered event waits.
	FlushInterval time.Duration
	// OnDrop is invoked once per dropped event, e.g. to bump a metric.
	OnDrop func()
	// WriteAttempts bounds how many times a failed batch write is tried
	// before its events are counted as dropped.
	WriteAttempts int
	// WriteBackoff is the delay before the first retry; it doubles per
	// attempt.
	WriteBackoff time.Duration
}

// DBLogger writes audit events to PostgreSQL through a bounded buffer.
// Events are flushed when the batch fills, on the flush interval, and on
// Close. Delivery is at-least-once: failed batch writes are retried with
// bounded backoff (a batch may land twice if a commit's result is lost),
// and only overflow or retry exhaustion counts events as dropped.
type DBLogger struct {
	db      *sql.DB
	opts    DBLoggerOptions
	buf     chan *Event
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64

	closeOnce sync.Once
}

// NewDBLogger creates a buffered database audit logger and starts its
// flush loop.
func NewDBLogger(db *sql.DB, opts DBLoggerOptions) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1024
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	if opts.WriteAttempts <= 0 {
		opts.WriteAttempts = 3
	}
	if opts.WriteBackoff <= 0 {
		opts.WriteBackoff = 100 * time.Millisecond
	}

	l := &DBLogger{
		db:   db,
		opts: opts,
		buf:  make(chan *Event, opts.BufferSize),
		done: make(chan struct{}),
	}

	l.wg.Add(1)
	go l.flushLoop()

	return l, nil
}

// Log enqueues an event. Never blocks; returns ErrBufferFull on overflow.
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	select {
	case <-l.done:
		return fmt.Errorf("audit logger closed")
	default:
	}

	select {
	case l.buf <- event:
		return nil
	default:
		l.dropped.Add(1)
		if l.opts.OnDrop != nil {
			l.opts.OnDrop()
		}
		return ErrBufferFull
	}
}

// Dropped returns the number of events lost to buffer overflow.
func (l *DBLogger) Dropped() int64 {
	return l.dropped.Load()
}

// Close flushes buffered events and stops the flush loop. The database
// connection is not closed; it may be shared.
func (l *DBLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	return nil
}

func (l *DBLogger) flushLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]*Event, 0, l.opts.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		l.flushBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case event := <-l.buf:
			batch = append(batch, event)
			if len(batch) >= l.opts.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-l.done:
			// Drain whatever was enqueued before Close.
			for {
				select {
				case event := <-l.buf:
					batch = append(batch, event)
					if len(batch) >= l.opts.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// flushBatch retries a failing batch with doubling backoff before giving
// up. Lost audit rows are worse than duplicated ones, so a batch whose
// commit outcome is unknown is written again.
func (l *DBLogger) flushBatch(batch []*Event) {
	backoff := l.opts.WriteBackoff
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := l.writeBatch(ctx, batch)
		cancel()
		if err == nil {
			return
		}
		if attempt >= l.opts.WriteAttempts {
			l.countFailed(len(batch))
			return
		}
		time.Sleep(backoff)
		backoff *= 2
	}
}

func (l *DBLogger) writeBatch(ctx context.Context, batch []*Event) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audit batch: %w", err)
	}

	const query = `
		INSERT INTO audit_events (
			occurred_at, event_type, status,
			actor_id, organization_id,
			resource_type, resource_id,
			message, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	for _, event := range batch {
		var metadataJSON []byte
		if event.Metadata != nil {
			metadataJSON, err = json.Marshal(event.Metadata)
			if err != nil {
				metadataJSON = nil
			}
		}

		if _, err := tx.ExecContext(ctx, query,
			event.Timestamp, event.EventType, event.Status,
			event.ActorID, event.OrganizationID,
			event.ResourceType, event.ResourceID,
			event.Message, metadataJSON,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert audit event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit batch: %w", err)
	}
	return nil
}

func (l *DBLogger) countFailed(n int) {
	l.dropped.Add(int64(n))
	if l.opts.OnDrop != nil {
		for i := 0; i < n; i++ {
			l.opts.OnDrop()
		}
	}
}
