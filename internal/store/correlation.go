package store

import (
	"database/sql"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// CorrelationKind selects which of the three correlation tables a
// record lives in.
type CorrelationKind string

const (
	CorrelationDirect CorrelationKind = "direct"
	CorrelationGroup  CorrelationKind = "group"
	CorrelationThread CorrelationKind = "thread"
)

// correlationTables whitelists table names; kind strings never reach
// the SQL text unchecked.
var correlationTables = map[CorrelationKind]string{
	CorrelationDirect: "sent_direct",
	CorrelationGroup:  "sent_group",
	CorrelationThread: "sent_thread",
}

func correlationTable(kind CorrelationKind) (string, error) {
	table, ok := correlationTables[kind]
	if !ok {
		return "", fmt.Errorf("unknown correlation kind %q", kind)
	}
	return table, nil
}

// InsertCorrelation records a (legacy_id <-> xmpp_id) link. The row is
// a fact about a sent or received message; uniqueness violations on
// either id surface as ErrConflict.
func (db *DB) InsertCorrelation(kind CorrelationKind, c *Correlation) error {
	table, err := correlationTable(kind)
	if err != nil {
		return err
	}
	_, err = db.Exec(fmt.Sprintf(`
		INSERT INTO %s (user_jid, legacy_id, xmpp_id, target, created_at)
		VALUES (?, ?, ?, ?, ?)`, table),
		c.UserJID, c.LegacyID, c.XMPPID, c.Target, nowMillis())
	if sqliteErr, ok := err.(sqlite3.Error); ok && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("correlation (%s, %s): %w", c.LegacyID, c.XMPPID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert correlation: %w", err)
	}
	return nil
}

// CorrelationByLegacy resolves a legacy message id to its correlation
// record, or ErrNotFound. Sits on the critical path of every inbound
// legacy event, served by the primary key index.
func (db *DB) CorrelationByLegacy(kind CorrelationKind, userJID, legacyID string) (*Correlation, error) {
	table, err := correlationTable(kind)
	if err != nil {
		return nil, err
	}
	c := Correlation{UserJID: userJID, LegacyID: legacyID}
	err = db.QueryRow(fmt.Sprintf(`
		SELECT xmpp_id, target FROM %s WHERE user_jid = ? AND legacy_id = ?`, table),
		userJID, legacyID).Scan(&c.XMPPID, &c.Target)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CorrelationByXMPP resolves an XMPP message id to its correlation
// record, or ErrNotFound.
func (db *DB) CorrelationByXMPP(kind CorrelationKind, userJID, xmppID string) (*Correlation, error) {
	table, err := correlationTable(kind)
	if err != nil {
		return nil, err
	}
	c := Correlation{UserJID: userJID, XMPPID: xmppID}
	err = db.QueryRow(fmt.Sprintf(`
		SELECT legacy_id, target FROM %s WHERE user_jid = ? AND xmpp_id = ?`, table),
		userJID, xmppID).Scan(&c.LegacyID, &c.Target)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SweepCorrelationsBefore garbage-collects correlation rows older than
// the cutoff across all three tables. Returns the number removed.
func (db *DB) SweepCorrelationsBefore(cutoffMillis int64) (int64, error) {
	var total int64
	for _, table := range correlationTables {
		res, err := db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE created_at < ?`, table), cutoffMillis)
		if err != nil {
			return total, fmt.Errorf("sweep %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
