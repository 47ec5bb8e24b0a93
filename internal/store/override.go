package store

import (
	"database/sql"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// InsertOverride records a legacy-id -> local-part claim. The
// local-part uniqueness constraint keeps the user's namespace
// collision-free; a taken local-part surfaces as ErrConflict.
func (db *DB) InsertOverride(userJID, legacyID, localPart string) error {
	_, err := db.Exec(`
		INSERT INTO id_overrides (user_jid, legacy_id, local_part, created_at)
		VALUES (?, ?, ?, ?)`,
		userJID, legacyID, localPart, nowMillis())
	if sqliteErr, ok := err.(sqlite3.Error); ok && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("override %q -> %q: %w", legacyID, localPart, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert override: %w", err)
	}
	return nil
}

// OverrideByLegacy returns the explicit local-part for a legacy id, or
// ErrNotFound.
func (db *DB) OverrideByLegacy(userJID, legacyID string) (string, error) {
	var localPart string
	err := db.QueryRow(`
		SELECT local_part FROM id_overrides WHERE user_jid = ? AND legacy_id = ?`,
		userJID, legacyID).Scan(&localPart)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return localPart, err
}

// OverrideByLocal returns the legacy id claiming a local-part, or
// ErrNotFound.
func (db *DB) OverrideByLocal(userJID, localPart string) (string, error) {
	var legacyID string
	err := db.QueryRow(`
		SELECT legacy_id FROM id_overrides WHERE user_jid = ? AND local_part = ?`,
		userJID, localPart).Scan(&legacyID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return legacyID, err
}
