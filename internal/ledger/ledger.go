// Package ledger provides an append-only history of fade activity, used for
// auditing and post-mortem inspection of what the controller did and when.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event in the ledger.
type EventType string

const (
	EventFadeStarted   EventType = "fade_started"
	EventFadeCompleted EventType = "fade_completed"
	EventFadeAborted   EventType = "fade_aborted"
	EventSceneApplied  EventType = "scene_applied"
)

// Entry is a single record in the fade history.
type Entry struct {
	ID        int64
	SessionID uuid.UUID
	EventType EventType
	Timestamp time.Time
	Payload   map[string]any
	Source    string
}

// Ledger appends fade history entries to SQLite.
type Ledger struct {
	db *sql.DB
}

// New creates a Ledger using the provided database connection.
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append adds a new entry. The payload is stored as JSON.
func (l *Ledger) Append(eventType EventType, sessionID uuid.UUID, source string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	now := time.Now().UTC().Unix()
	_, err = l.db.Exec(`
		INSERT INTO fade_ledger (session_id, event_type, timestamp, payload, source)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID.String(), string(eventType), now, string(payloadJSON), source)
	return err
}

// Recent returns the newest entries, most recent first.
func (l *Ledger) Recent(limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, session_id, event_type, timestamp, payload, source
		FROM fade_ledger
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// BySession returns all entries of one fade session in insertion order.
func (l *Ledger) BySession(sessionID uuid.UUID) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, session_id, event_type, timestamp, payload, source
		FROM fade_ledger
		WHERE session_id = ?
		ORDER BY id ASC
	`, sessionID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the retention period.
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := l.db.Exec(`DELETE FROM fade_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var sessionID string
		var payloadStr, source sql.NullString
		var timestamp int64

		err := rows.Scan(&entry.ID, &sessionID, &entry.EventType, &timestamp, &payloadStr, &source)
		if err != nil {
			return nil, err
		}

		entry.SessionID, err = uuid.Parse(sessionID)
		if err != nil {
			return nil, fmt.Errorf("invalid session id %q in ledger: %w", sessionID, err)
		}
		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		if source.Valid {
			entry.Source = source.String
		}
		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
