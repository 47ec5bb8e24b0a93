package store

import "fmt"

// UpsertGroupChat records or refreshes a group membership row. The
// join time is kept from the first insert.
func (db *DB) UpsertGroupChat(g *GroupChat) error {
	_, err := db.Exec(`
		INSERT INTO group_chat (user_jid, legacy_id, local_part, name,
			subject, subject_setter, subject_set_at, joined_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_jid, legacy_id) DO UPDATE SET
			local_part = excluded.local_part,
			name = excluded.name,
			subject = excluded.subject,
			subject_setter = excluded.subject_setter,
			subject_set_at = excluded.subject_set_at`,
		g.UserJID, g.LegacyID, g.LocalPart, g.Name,
		g.Subject, g.SubjectSetter, g.SubjectSetAt, nowMillis())
	if err != nil {
		return fmt.Errorf("upsert group %q: %w", g.LegacyID, err)
	}
	return nil
}

// GroupChatsForUser returns every group the user is a member of.
func (db *DB) GroupChatsForUser(userJID string) ([]GroupChat, error) {
	rows, err := db.Query(`
		SELECT legacy_id, local_part, name, subject, subject_setter,
			subject_set_at, joined_at
		FROM group_chat WHERE user_jid = ?`, userJID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var out []GroupChat
	for rows.Next() {
		g := GroupChat{UserJID: userJID}
		if err := rows.Scan(&g.LegacyID, &g.LocalPart, &g.Name, &g.Subject,
			&g.SubjectSetter, &g.SubjectSetAt, &g.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// DeleteGroupChat removes a group membership row after the user left.
func (db *DB) DeleteGroupChat(userJID, legacyID string) error {
	_, err := db.Exec(`DELETE FROM group_chat WHERE user_jid = ? AND legacy_id = ?`,
		userJID, legacyID)
	return err
}
