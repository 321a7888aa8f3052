// Package reqlog is a local durable queue that decouples the proxy's
// hot path from the latency of the Supabase gateway. Each completed
// HTTP or WebSocket request is enqueued into SQLite without blocking on
// the network; a background flusher pulls batches and forwards them to
// the `tunnel_requests` table, deleting what succeeds and leaving the
// rest for the next tick.
package reqlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/tunnelgate/tunnelgate/internal/supabase"
)

// Entry mirrors the columns of the tunnel_requests table.
type Entry struct {
	TunnelID     string    `json:"tunnel_id"`
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	StatusCode   int       `json:"status_code"`
	LatencyMs    int       `json:"latency_ms"`
	RequestSize  int64     `json:"request_size"`
	ResponseSize int64     `json:"response_size"`
	ClientIP     string    `json:"client_ip"`
	Timestamp    time.Time `json:"timestamp"`
}

// Buffer is a SQLite-backed pending_requests queue plus a background
// flusher goroutine.
type Buffer struct {
	db            *sql.DB
	gateway       *supabase.Client
	flushInterval time.Duration
	batchSize     int
	log           zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

// Open creates or reuses the SQLite database at dbPath and returns a
// Buffer. Call Start to begin the background flusher.
func Open(dbPath string, gateway *supabase.Client, flushInterval time.Duration, log zerolog.Logger) (*Buffer, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("reqlog: opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("reqlog: enabling WAL mode: %w", err)
	}

	b := &Buffer{
		db:            db,
		gateway:       gateway,
		flushInterval: flushInterval,
		batchSize:     200,
		log:           log.With().Str("component", "reqlog").Logger(),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	if err := b.initSchema(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Buffer) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pending_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tunnel_id TEXT NOT NULL,
		method TEXT NOT NULL,
		path TEXT NOT NULL,
		status_code INTEGER NOT NULL,
		latency_ms INTEGER NOT NULL,
		request_size INTEGER NOT NULL,
		response_size INTEGER NOT NULL,
		client_ip TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0
	);
	`
	if _, err := b.db.Exec(schema); err != nil {
		return fmt.Errorf("reqlog: creating schema: %w", err)
	}
	return nil
}

// Enqueue inserts e without touching the network. Callers on the proxy
// hot path should treat a failure here as non-fatal and just log it.
func (b *Buffer) Enqueue(e Entry) error {
	_, err := b.db.Exec(
		`INSERT INTO pending_requests
			(tunnel_id, method, path, status_code, latency_ms, request_size, response_size, client_ip, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TunnelID, e.Method, e.Path, e.StatusCode, e.LatencyMs, e.RequestSize, e.ResponseSize, e.ClientIP, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("reqlog: enqueueing entry: %w", err)
	}
	return nil
}

// Start runs the background flush loop until Close is called.
func (b *Buffer) Start() {
	go b.flushLoop()
}

func (b *Buffer) flushLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			if err := b.flushOnce(context.Background()); err != nil {
				b.log.Warn().Err(err).Msg("request log flush failed")
			}
		}
	}
}

type pendingRow struct {
	id  int64
	row Entry
}

func (b *Buffer) flushOnce(ctx context.Context) error {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, tunnel_id, method, path, status_code, latency_ms, request_size, response_size, client_ip, timestamp
		 FROM pending_requests ORDER BY id ASC LIMIT ?`, b.batchSize)
	if err != nil {
		return fmt.Errorf("reqlog: reading pending batch: %w", err)
	}

	var batch []pendingRow
	for rows.Next() {
		var pr pendingRow
		if err := rows.Scan(&pr.id, &pr.row.TunnelID, &pr.row.Method, &pr.row.Path, &pr.row.StatusCode,
			&pr.row.LatencyMs, &pr.row.RequestSize, &pr.row.ResponseSize, &pr.row.ClientIP, &pr.row.Timestamp); err != nil {
			rows.Close()
			return fmt.Errorf("reqlog: scanning pending row: %w", err)
		}
		batch = append(batch, pr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reqlog: iterating pending rows: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	payload := make([]Entry, len(batch))
	for i, pr := range batch {
		payload[i] = pr.row
	}

	if err := b.gateway.Insert(ctx, "tunnel_requests", payload, nil); err != nil {
		b.markAttempt(batch)
		return fmt.Errorf("reqlog: flushing batch of %d: %w", len(batch), err)
	}

	ids := make([]any, len(batch))
	placeholders := ""
	for i, pr := range batch {
		ids[i] = pr.id
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
	}
	if _, err := b.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM pending_requests WHERE id IN (%s)", placeholders), ids...); err != nil {
		return fmt.Errorf("reqlog: deleting flushed batch: %w", err)
	}

	b.log.Debug().Int("count", len(batch)).Msg("flushed request log batch")
	return nil
}

func (b *Buffer) markAttempt(batch []pendingRow) {
	for _, pr := range batch {
		if _, err := b.db.Exec("UPDATE pending_requests SET attempts = attempts + 1 WHERE id = ?", pr.id); err != nil {
			b.log.Warn().Err(err).Int64("id", pr.id).Msg("failed to record flush attempt")
		}
	}
}

// Pending reports the number of rows awaiting flush, for tests and
// diagnostics.
func (b *Buffer) Pending() (int, error) {
	var n int
	err := b.db.QueryRow("SELECT COUNT(*) FROM pending_requests").Scan(&n)
	return n, err
}

// Close stops the flush loop and closes the database handle.
func (b *Buffer) Close() error {
	close(b.stop)
	<-b.done
	return b.db.Close()
}
