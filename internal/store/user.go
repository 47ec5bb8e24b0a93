package store

import (
	"database/sql"
	"fmt"
)

// CreateUser inserts a new registered user. Fails with ErrConflict if
// the address is already registered.
func (db *DB) CreateUser(u *User) error {
	res, err := db.Exec(`
		INSERT INTO users (jid, registration, state, avatar_hash, registered_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(jid) DO NOTHING`,
		u.JID, u.Registration, string(u.State), u.AvatarHash, nowMillis())
	if err != nil {
		return fmt.Errorf("create user %q: %w", u.JID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("user %q: %w", u.JID, ErrConflict)
	}
	return nil
}

// GetUser returns a user by bare address.
func (db *DB) GetUser(jid string) (*User, error) {
	var u User
	var state string
	err := db.QueryRow(`
		SELECT jid, registration, state, avatar_hash, registered_at
		FROM users WHERE jid = ?`, jid).
		Scan(&u.JID, &u.Registration, &state, &u.AvatarHash, &u.RegisteredAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.State = UserState(state)
	return &u, nil
}

// ListUsers returns all registered users, oldest registration first.
// Used at startup to rehydrate one session per user.
func (db *DB) ListUsers() ([]User, error) {
	rows, err := db.Query(`
		SELECT jid, registration, state, avatar_hash, registered_at
		FROM users ORDER BY registered_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		var u User
		var state string
		if err := rows.Scan(&u.JID, &u.Registration, &state, &u.AvatarHash, &u.RegisteredAt); err != nil {
			return nil, err
		}
		u.State = UserState(state)
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetUserState updates the persisted connection state for a user.
func (db *DB) SetUserState(jid string, state UserState) error {
	_, err := db.Exec(`UPDATE users SET state = ? WHERE jid = ?`, string(state), jid)
	return err
}

// SetUserRegistration replaces the opaque registration blob, e.g. after
// a pairing flow produced long-lived credentials.
func (db *DB) SetUserRegistration(jid, registration string) error {
	_, err := db.Exec(`UPDATE users SET registration = ? WHERE jid = ?`, registration, jid)
	return err
}

// DeleteUser removes a user. Foreign keys cascade to every owned row
// (correlations, archives, caches, overrides).
func (db *DB) DeleteUser(jid string) error {
	_, err := db.Exec(`DELETE FROM users WHERE jid = ?`, jid)
	return err
}
