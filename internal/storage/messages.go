package storage

import (
	"context"
	"database/sql"
	"errors"

	"gemfeed/internal"
)

// UpsertFeedMessage records a mailed feed keyed by provider and message id.
func (d *DB) UpsertFeedMessage(ctx context.Context, provider, messageID, subject, sender, receivedAt, hash, rawRef, status string) (internal.FeedMessage, error) {
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO feed_messages (provider, messageId, subject, sender, receivedAt, hash, status, rawRef)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(provider, messageId) DO UPDATE SET
  subject=excluded.subject,
  sender=excluded.sender,
  receivedAt=excluded.receivedAt,
  hash=excluded.hash,
  rawRef=excluded.rawRef,
  updatedAt=CURRENT_TIMESTAMP
`, provider, messageID, subject, sender, receivedAt, hash, status, rawRef)
	if err != nil {
		return internal.FeedMessage{}, err
	}

	row, err := d.getFeedMessage(ctx, provider, messageID)
	if err != nil {
		return internal.FeedMessage{}, err
	}
	if row == nil {
		return internal.FeedMessage{}, errors.New("failed to upsert feed message")
	}
	return *row, nil
}

func (d *DB) getFeedMessage(ctx context.Context, provider, messageID string) (*internal.FeedMessage, error) {
	var row internal.FeedMessage
	err := d.conn.QueryRowContext(ctx, `
SELECT id, provider, messageId, subject, sender, receivedAt, hash, status, rawRef
FROM feed_messages WHERE provider = ? AND messageId = ?
`, provider, messageID).Scan(
		&row.ID, &row.Provider, &row.MessageID, &row.Subject, &row.Sender, &row.ReceivedAt, &row.Hash, &row.Status, &row.RawRef,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListFeedMessagesByStatus returns messages oldest first.
func (d *DB) ListFeedMessagesByStatus(ctx context.Context, status string, limit int) ([]internal.FeedMessage, error) {
	rows, err := d.conn.QueryContext(ctx, `
SELECT id, provider, messageId, subject, sender, receivedAt, hash, status, rawRef
FROM feed_messages WHERE status = ? ORDER BY receivedAt ASC LIMIT ?
`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.FeedMessage
	for rows.Next() {
		var row internal.FeedMessage
		if err := rows.Scan(&row.ID, &row.Provider, &row.MessageID, &row.Subject, &row.Sender, &row.ReceivedAt, &row.Hash, &row.Status, &row.RawRef); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) UpdateFeedMessageStatus(ctx context.Context, id int, status string) error {
	_, err := d.conn.ExecContext(ctx, `UPDATE feed_messages SET status = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	return err
}

// LatestFeedMessage returns the newest message whose sender contains sender
// and, when subject is set, whose subject contains subject. Matching is
// case-insensitive.
func (d *DB) LatestFeedMessage(ctx context.Context, sender, subject string) (*internal.FeedMessage, error) {
	var row internal.FeedMessage
	err := d.conn.QueryRowContext(ctx, `
SELECT id, provider, messageId, subject, sender, receivedAt, hash, status, rawRef
FROM feed_messages
WHERE instr(lower(sender), lower(?)) > 0
  AND (? = '' OR instr(lower(subject), lower(?)) > 0)
ORDER BY receivedAt DESC, id DESC
LIMIT 1
`, sender, subject, subject).Scan(
		&row.ID, &row.Provider, &row.MessageID, &row.Subject, &row.Sender, &row.ReceivedAt, &row.Hash, &row.Status, &row.RawRef,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
