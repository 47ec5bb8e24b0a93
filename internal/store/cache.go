package store

import "database/sql"

// Nick, avatar and presence caches are keyed by (user, address). They
// exist so restarts do not re-announce state that never changed.

// SetNick stores the nickname for an address.
func (db *DB) SetNick(userJID, jid, nick string) error {
	_, err := db.Exec(`
		INSERT INTO nick_cache (user_jid, jid, nick, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_jid, jid) DO UPDATE SET
			nick = excluded.nick,
			updated_at = excluded.updated_at`,
		userJID, jid, nick, nowMillis())
	return err
}

// GetNick returns the cached nickname for an address, or ErrNotFound.
func (db *DB) GetNick(userJID, jid string) (string, error) {
	var nick string
	err := db.QueryRow(`SELECT nick FROM nick_cache WHERE user_jid = ? AND jid = ?`,
		userJID, jid).Scan(&nick)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return nick, err
}

// SetAvatar stores the avatar content hash and cached flag for an address.
func (db *DB) SetAvatar(userJID, jid string, a AvatarEntry) error {
	cached := 0
	if a.Cached {
		cached = 1
	}
	_, err := db.Exec(`
		INSERT INTO avatar_cache (user_jid, jid, hash, cached, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_jid, jid) DO UPDATE SET
			hash = excluded.hash,
			cached = excluded.cached,
			updated_at = excluded.updated_at`,
		userJID, jid, a.Hash, cached, nowMillis())
	return err
}

// GetAvatar returns the cached avatar entry for an address, or ErrNotFound.
func (db *DB) GetAvatar(userJID, jid string) (AvatarEntry, error) {
	var a AvatarEntry
	var cached int
	err := db.QueryRow(`SELECT hash, cached FROM avatar_cache WHERE user_jid = ? AND jid = ?`,
		userJID, jid).Scan(&a.Hash, &cached)
	if err == sql.ErrNoRows {
		return AvatarEntry{}, ErrNotFound
	}
	a.Cached = cached != 0
	return a, err
}

// SetPresence stores the last announced presence for an address.
func (db *DB) SetPresence(userJID, jid string, p PresenceEntry) error {
	_, err := db.Exec(`
		INSERT INTO presence_cache (user_jid, jid, show, last_seen, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_jid, jid) DO UPDATE SET
			show = excluded.show,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at`,
		userJID, jid, p.Show, p.LastSeen, nowMillis())
	return err
}

// GetPresence returns the cached presence for an address, or ErrNotFound.
func (db *DB) GetPresence(userJID, jid string) (PresenceEntry, error) {
	var p PresenceEntry
	err := db.QueryRow(`SELECT show, last_seen FROM presence_cache WHERE user_jid = ? AND jid = ?`,
		userJID, jid).Scan(&p.Show, &p.LastSeen)
	if err == sql.ErrNoRows {
		return PresenceEntry{}, ErrNotFound
	}
	return p, err
}
