// Package outbox buffers events that could not be published, in a local
// SQLite database, and replays them in arrival order once the API is
// reachable again.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/pulsora/pulsora-go/internal/api"
)

// SQL statements for outbox operations.
const (
	sqlInsert = `INSERT INTO outbox (enqueued_at, payload) VALUES (?, ?)`

	sqlSelectPending = `SELECT id, payload FROM outbox ORDER BY id LIMIT ?`

	sqlDelete = `DELETE FROM outbox WHERE id = ?`

	sqlCount = `SELECT COUNT(*) FROM outbox`
)

// flushBatchSize bounds how many rows a single Flush pass loads.
const flushBatchSize = 500

// Outbox is a durable FIFO of unpublished events.
type Outbox struct {
	db     *sql.DB
	logger *slog.Logger

	nowFunc func() time.Time // injectable for deterministic tests
}

// Open opens (or creates) the outbox database at dbPath and runs migrations.
// The database uses WAL mode with a sole-writer connection.
func Open(dbPath string, logger *slog.Logger) (*Outbox, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("outbox: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()

		return nil, err
	}

	logger.Debug("outbox opened", slog.String("db_path", dbPath))

	return &Outbox{
		db:      db,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// Enqueue appends an event to the buffer.
func (o *Outbox) Enqueue(ctx context.Context, ev api.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("outbox: encoding event: %w", err)
	}

	_, err = o.db.ExecContext(ctx, sqlInsert, o.nowFunc().UTC().Format(time.RFC3339), payload)
	if err != nil {
		return fmt.Errorf("outbox: enqueueing event: %w", err)
	}

	o.logger.Debug("event buffered", slog.String("name", ev.Name))

	return nil
}

// Flush replays buffered events through publish in arrival order, deleting
// each row after its event is accepted. It stops at the first publish
// failure so ordering is preserved, returning how many events went out.
func (o *Outbox) Flush(ctx context.Context, publish func(context.Context, api.Event) error) (int, error) {
	var flushed int

	for {
		rows, err := o.pendingBatch(ctx)
		if err != nil {
			return flushed, err
		}

		if len(rows) == 0 {
			if flushed > 0 {
				o.logger.Info("outbox flushed", slog.Int("events", flushed))
			}

			return flushed, nil
		}

		for _, row := range rows {
			var ev api.Event
			if err := json.Unmarshal(row.payload, &ev); err != nil {
				// A corrupt row would wedge the queue forever; drop it.
				o.logger.Warn("dropping undecodable outbox row",
					slog.Int64("id", row.id),
					slog.String("error", err.Error()),
				)

				if err := o.deleteRow(ctx, row.id); err != nil {
					return flushed, err
				}

				continue
			}

			if err := publish(ctx, ev); err != nil {
				return flushed, fmt.Errorf("outbox: publishing buffered event: %w", err)
			}

			if err := o.deleteRow(ctx, row.id); err != nil {
				return flushed, err
			}

			flushed++
		}
	}
}

// Pending returns the number of buffered events.
func (o *Outbox) Pending(ctx context.Context) (int, error) {
	var n int
	if err := o.db.QueryRowContext(ctx, sqlCount).Scan(&n); err != nil {
		return 0, fmt.Errorf("outbox: counting pending events: %w", err)
	}

	return n, nil
}

// Close releases the database handle.
func (o *Outbox) Close() error {
	return o.db.Close()
}

type outboxRow struct {
	id      int64
	payload []byte
}

func (o *Outbox) pendingBatch(ctx context.Context) ([]outboxRow, error) {
	rows, err := o.db.QueryContext(ctx, sqlSelectPending, flushBatchSize)
	if err != nil {
		return nil, fmt.Errorf("outbox: loading pending events: %w", err)
	}
	defer rows.Close()

	var batch []outboxRow

	for rows.Next() {
		var row outboxRow
		if err := rows.Scan(&row.id, &row.payload); err != nil {
			return nil, fmt.Errorf("outbox: scanning row: %w", err)
		}

		batch = append(batch, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterating rows: %w", err)
	}

	return batch, nil
}

func (o *Outbox) deleteRow(ctx context.Context, id int64) error {
	if _, err := o.db.ExecContext(ctx, sqlDelete, id); err != nil {
		return fmt.Errorf("outbox: deleting row %d: %w", id, err)
	}

	return nil
}
