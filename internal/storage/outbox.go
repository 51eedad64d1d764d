package storage

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// Delivery is one message recorded in the outbox.
type Delivery struct {
	ID        string
	DedupeKey string
	Channel   string
	Plugin    string
	Subject   string
	Body      string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// DedupeKey hashes the parts that make two deliveries identical.
func DedupeKey(channel, subject, body string, payload []byte) string {
	h := blake3.New()
	for _, part := range [][]byte{[]byte(channel), []byte(subject), []byte(body), payload} {
		_, _ = fmt.Fprintf(h, "%d:", len(part))
		_, _ = h.Write(part)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Outbox is a SQLite-backed delivery log.
type Outbox struct {
	db *sql.DB
}

// OpenOutbox opens the outbox database at path.
func OpenOutbox(ctx context.Context, path string) (*Outbox, error) {
	db, err := OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Outbox{db: db}, nil
}

// Record stores d unless a delivery with the same dedupe key exists. It
// reports whether a row was written.
func (o *Outbox) Record(ctx context.Context, d Delivery) (bool, error) {
	if d.DedupeKey == "" {
		d.DedupeKey = DedupeKey(d.Channel, d.Subject, d.Body, d.Payload)
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	var payload any
	if len(d.Payload) > 0 {
		payload = string(d.Payload)
	}

	res, err := o.db.ExecContext(ctx, `
INSERT OR IGNORE INTO deliveries(id, dedupe_key, channel, plugin, subject, body, payload, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, d.ID, d.DedupeKey, d.Channel, d.Plugin, d.Subject, d.Body, payload, d.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("record delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record delivery: %w", err)
	}
	return n > 0, nil
}

// Recent returns up to limit deliveries for channel, newest first.
func (o *Outbox) Recent(ctx context.Context, channel string, limit int) ([]Delivery, error) {
	rows, err := o.db.QueryContext(ctx, `
SELECT id, dedupe_key, channel, plugin, COALESCE(subject, ''), body, payload, created_at
FROM deliveries
WHERE channel = ?
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var (
			d         Delivery
			payload   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&d.ID, &d.DedupeKey, &d.Channel, &d.Plugin, &d.Subject, &d.Body, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		if payload.Valid {
			d.Payload = json.RawMessage(payload.String)
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			d.CreatedAt = ts
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}
	return out, nil
}

// Count returns the number of recorded deliveries.
func (o *Outbox) Count(ctx context.Context) (int, error) {
	var n int
	if err := o.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count deliveries: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (o *Outbox) Close() error {
	return o.db.Close()
}
