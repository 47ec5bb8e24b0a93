package store

import (
	"database/sql"
	"fmt"
	"time"
)

// AppendArchived appends one message to a group's archive. Appends are
// idempotent on (user, group, message id) so redelivered history does
// not duplicate rows; the original row wins.
func (db *DB) AppendArchived(m *ArchivedMessage) error {
	_, err := db.Exec(`
		INSERT INTO mam_message (user_jid, group_id, message_id, sender, body, sent_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_jid, group_id, message_id) DO NOTHING`,
		m.UserJID, m.GroupID, m.MessageID, m.Sender, m.Body, m.SentAt)
	if err != nil {
		return fmt.Errorf("append archived: %w", err)
	}
	return nil
}

// ArchivedBetween pages through a group's archive by time range,
// oldest first. Zero start/end mean unbounded on that side.
func (db *DB) ArchivedBetween(userJID, groupID string, start, end time.Time, limit int) ([]ArchivedMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	startMs := int64(0)
	if !start.IsZero() {
		startMs = start.UnixMilli()
	}
	endMs := int64(1<<62 - 1)
	if !end.IsZero() {
		endMs = end.UnixMilli()
	}
	rows, err := db.Query(`
		SELECT id, user_jid, group_id, message_id, sender, body, sent_at
		FROM mam_message
		WHERE user_jid = ? AND group_id = ? AND sent_at >= ? AND sent_at <= ?
		ORDER BY sent_at ASC
		LIMIT ?`, userJID, groupID, startMs, endMs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []ArchivedMessage
	for rows.Next() {
		var m ArchivedMessage
		if err := rows.Scan(&m.ID, &m.UserJID, &m.GroupID, &m.MessageID, &m.Sender, &m.Body, &m.SentAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ArchivedByID returns a single archived message by its message id.
func (db *DB) ArchivedByID(userJID, groupID, messageID string) (*ArchivedMessage, error) {
	var m ArchivedMessage
	err := db.QueryRow(`
		SELECT id, user_jid, group_id, message_id, sender, body, sent_at
		FROM mam_message
		WHERE user_jid = ? AND group_id = ? AND message_id = ?`,
		userJID, groupID, messageID).
		Scan(&m.ID, &m.UserJID, &m.GroupID, &m.MessageID, &m.Sender, &m.Body, &m.SentAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// SweepArchivedBefore prunes archive rows older than the cutoff.
func (db *DB) SweepArchivedBefore(cutoffMillis int64) (int64, error) {
	res, err := db.Exec(`DELETE FROM mam_message WHERE sent_at < ?`, cutoffMillis)
	if err != nil {
		return 0, fmt.Errorf("sweep archive: %w", err)
	}
	return res.RowsAffected()
}
