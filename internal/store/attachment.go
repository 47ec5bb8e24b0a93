package store

import "database/sql"

// InsertAttachment records blob metadata. Idempotent on the content
// key: storing the same bytes twice is a no-op.
func (db *DB) InsertAttachment(a *Attachment) error {
	_, err := db.Exec(`
		INSERT INTO attachment (key, name, mime, size, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING`,
		a.Key, a.Name, a.MIME, a.Size, nowMillis())
	return err
}

// GetAttachment returns blob metadata by content key, or ErrNotFound.
func (db *DB) GetAttachment(key string) (*Attachment, error) {
	var a Attachment
	err := db.QueryRow(`
		SELECT key, name, mime, size, created_at FROM attachment WHERE key = ?`, key).
		Scan(&a.Key, &a.Name, &a.MIME, &a.Size, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SetAttachmentURL remembers the stable URL handed out for a legacy
// message's attachment so redelivery reuses it.
func (db *DB) SetAttachmentURL(userJID, legacyMsgID, url string) error {
	_, err := db.Exec(`
		INSERT INTO attachment_url (user_jid, legacy_msg_id, url)
		VALUES (?, ?, ?)
		ON CONFLICT(user_jid, legacy_msg_id) DO UPDATE SET url = excluded.url`,
		userJID, legacyMsgID, url)
	return err
}

// GetAttachmentURL returns the stable URL previously handed out for a
// legacy message, or ErrNotFound.
func (db *DB) GetAttachmentURL(userJID, legacyMsgID string) (string, error) {
	var url string
	err := db.QueryRow(`
		SELECT url FROM attachment_url WHERE user_jid = ? AND legacy_msg_id = ?`,
		userJID, legacyMsgID).Scan(&url)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return url, err
}
