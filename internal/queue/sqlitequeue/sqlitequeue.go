// Package sqlitequeue implements queue.Broker on an embeddable SQLite
// database, giving local/dev/test runs an at-least-once queue without a
// separate broker process. mattn/go-sqlite3 is the teacher's only database
// driver besides pgx; it otherwise has no home in this module since the
// core data store is Postgres (internal/store), so it is wired here
// instead of dropped.
package sqlitequeue

import (
	"context"
	"database/sql"

	"github.com/bytedance/sonic"
	_ "github.com/mattn/go-sqlite3"

	"github.com/jukasdrj/alexandria/internal/model"
	"github.com/jukasdrj/alexandria/internal/queue"
)

// Broker implements queue.Broker against a SQLite database.
type Broker struct {
	db *sql.DB
}

// Open creates (or reopens) a sqlite-backed broker at path, which may be
// ":memory:" for tests.
func Open(path string) (*Broker, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // sqlite3's driver serializes writers anyway; avoid lock contention.
	b := &Broker{db: db}
	if err := b.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Broker) Close() error { return b.db.Close() }

func (b *Broker) ensureSchema() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS queue_messages (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			queue       TEXT NOT NULL,
			payload     TEXT NOT NULL,
			attempt     INTEGER NOT NULL DEFAULT 0,
			status      TEXT NOT NULL DEFAULT 'ready', -- ready | in_flight | dead
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_queue_messages_dequeue ON queue_messages (queue, status, id);
	`)
	return err
}

var _ queue.Broker = (*Broker)(nil)

func (b *Broker) Enqueue(ctx context.Context, q string, job model.EnrichmentJob) error {
	payload, err := sonic.Marshal(job)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO queue_messages (queue, payload, attempt, status)
		VALUES (?, ?, 0, 'ready')
	`, q, string(payload))
	return err
}

// Dequeue claims up to max ready messages by flipping them to 'in_flight'
// in the same statement's surrounding transaction, so two concurrent
// consumers never claim the same row. There is no visibility timeout: a
// claimed message that is never Ack'd or Retry'd stays in_flight.
func (b *Broker) Dequeue(ctx context.Context, q string, max int) ([]queue.Message, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, payload, attempt FROM queue_messages
		WHERE queue = ? AND status = 'ready'
		ORDER BY id
		LIMIT ?
	`, q, max)
	if err != nil {
		return nil, err
	}

	type claimed struct {
		id      int64
		payload string
		attempt int
	}
	var batch []claimed
	for rows.Next() {
		var c claimed
		if err := rows.Scan(&c.id, &c.payload, &c.attempt); err != nil {
			rows.Close()
			return nil, err
		}
		batch = append(batch, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	msgs := make([]queue.Message, 0, len(batch))
	for _, c := range batch {
		if _, err := tx.ExecContext(ctx, `UPDATE queue_messages SET status = 'in_flight' WHERE id = ?`, c.id); err != nil {
			return nil, err
		}
		var job model.EnrichmentJob
		if err := sonic.Unmarshal([]byte(c.payload), &job); err != nil {
			continue
		}
		msgs = append(msgs, queue.Message{ID: c.id, Job: job, Attempt: c.attempt})
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (b *Broker) Ack(ctx context.Context, q string, id int64) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM queue_messages WHERE queue = ? AND id = ?`, q, id)
	return err
}

func (b *Broker) Retry(ctx context.Context, q string, id int64, maxRetries int) error {
	var attempt int
	if err := b.db.QueryRowContext(ctx, `SELECT attempt FROM queue_messages WHERE queue = ? AND id = ?`, q, id).Scan(&attempt); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	}
	attempt++
	if attempt > maxRetries {
		_, err := b.db.ExecContext(ctx, `UPDATE queue_messages SET status = 'dead', attempt = ? WHERE queue = ? AND id = ?`, attempt, q, id)
		return err
	}
	_, err := b.db.ExecContext(ctx, `UPDATE queue_messages SET status = 'ready', attempt = ? WHERE queue = ? AND id = ?`, attempt, q, id)
	return err
}

// DeadLettered returns the count of messages parked in the dead-letter
// state for q.
func (b *Broker) DeadLettered(ctx context.Context, q string) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_messages WHERE queue = ? AND status = 'dead'`, q).Scan(&n)
	return n, err
}
