// Package storage implements NEXUS3's Session Storage (C7): a SQLite
// database per agent session holding the durable message log, metadata,
// session markers, and an event stream.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nexus3/nexus3/pkg/models"
)

// maxJSONBytes bounds any single stored JSON blob's decode size (H7): a
// corrupted or adversarial row cannot force unbounded memory growth during
// decode.
const maxJSONBytes = 10 << 20

// PersistenceError distinguishes malformed-input failures (e.g.
// SavedSession.FromJSON on garbage) from ordinary I/O errors, per spec
// §4.7's "a dedicated persistence error, not a generic one".
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// MessageRow is one row of the messages table.
type MessageRow struct {
	ID         int64
	Role       models.Role
	Content    string
	Name       string
	ToolCallID string
	ToolCalls  []models.ToolCall
	Tokens     int
	Timestamp  time.Time
	InContext  bool
	SummaryOf  string
}

// EventRow is one row of the events table.
type EventRow struct {
	ID        int64
	MessageID int64
	EventType string
	Data      map[string]any
	Timestamp time.Time
}

const currentSchemaVersion = 2

// Store is a SQLite-backed session store for one agent session.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if necessary) the SQLite database at path and
// applies any pending schema migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer per process file

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertMessage inserts a new message row and returns its id.
func (s *Store) InsertMessage(m MessageRow) (int64, error) {
	toolCallsJSON, err := marshalOrEmpty(m.ToolCalls)
	if err != nil {
		return 0, fmt.Errorf("storage: marshal tool_calls: %w", err)
	}

	res, err := s.db.Exec(
		`INSERT INTO messages (role, content, name, tool_call_id, tool_calls, tokens, timestamp, in_context, summary_of)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(m.Role), m.Content, m.Name, m.ToolCallID, toolCallsJSON, m.Tokens,
		m.Timestamp.UTC().Format(time.RFC3339Nano), m.InContext, m.SummaryOf,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: insert message: %w", err)
	}
	return res.LastInsertId()
}

// GetMessages returns messages in insertion order. When inContextOnly is
// true, only rows with in_context = 1 are returned.
func (s *Store) GetMessages(inContextOnly bool) ([]MessageRow, error) {
	query := `SELECT id, role, content, name, tool_call_id, tool_calls, tokens, timestamp, in_context, summary_of FROM messages`
	if inContextOnly {
		query += ` WHERE in_context = 1`
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("storage: get messages: %w", err)
	}
	defer rows.Close()

	var out []MessageRow
	for rows.Next() {
		var (
			row           MessageRow
			role          string
			toolCallsJSON sql.NullString
			ts            string
			inContext     int
		)
		if err := rows.Scan(&row.ID, &role, &row.Content, &row.Name, &row.ToolCallID,
			&toolCallsJSON, &row.Tokens, &ts, &inContext, &row.SummaryOf); err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		row.Role = models.Role(role)
		row.InContext = inContext != 0
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			row.Timestamp = parsed
		}
		row.ToolCalls = decodeToolCalls(s.logger, toolCallsJSON)
		out = append(out, row)
	}
	return out, rows.Err()
}

// decodeToolCalls implements the H7 robust-decode contract: NULL/empty is
// nil with no error; oversized or malformed JSON logs and returns nil
// rather than propagating a decode error to the caller.
func decodeToolCalls(logger *slog.Logger, raw sql.NullString) []models.ToolCall {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	if len(raw.String) > maxJSONBytes {
		logger.Warn("storage: tool_calls JSON exceeds size limit, discarding", "bytes", len(raw.String))
		return nil
	}
	var calls []models.ToolCall
	if err := json.Unmarshal([]byte(raw.String), &calls); err != nil {
		logger.Warn("storage: tool_calls JSON malformed, discarding", "error", err)
		return nil
	}
	return calls
}

func decodeEventData(logger *slog.Logger, raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	if len(raw.String) > maxJSONBytes {
		logger.Warn("storage: event data JSON exceeds size limit, discarding", "bytes", len(raw.String))
		return nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw.String), &data); err != nil {
		logger.Warn("storage: event data JSON malformed, discarding", "error", err)
		return nil
	}
	return data
}

func marshalOrEmpty(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	switch t := v.(type) {
	case []models.ToolCall:
		if len(t) == 0 {
			return "", nil
		}
	case map[string]any:
		if len(t) == 0 {
			return "", nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UpdateContextStatus batch-sets in_context for the given message ids.
func (s *Store) UpdateContextStatus(ids []int64, inContext bool) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, inContext)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := fmt.Sprintf(`UPDATE messages SET in_context = ? WHERE id IN (%s)`, strings.Join(placeholders, ","))
	_, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("storage: update context status: %w", err)
	}
	return nil
}

// MarkAsSummary writes summaryOf onto summaryRowID and flips in_context=false
// on replacedIDs atomically, implementing the compaction write-back (spec
// §4.5/§4.7).
func (s *Store) MarkAsSummary(summaryRowID int64, replacedIDs []int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: mark as summary: begin: %w", err)
	}
	defer tx.Rollback()

	idStrs := make([]string, len(replacedIDs))
	for i, id := range replacedIDs {
		idStrs[i] = strconv.FormatInt(id, 10)
	}
	summaryOf := strings.Join(idStrs, ",")

	if _, err := tx.Exec(`UPDATE messages SET summary_of = ? WHERE id = ?`, summaryOf, summaryRowID); err != nil {
		return fmt.Errorf("storage: mark as summary: update summary row: %w", err)
	}

	if len(replacedIDs) > 0 {
		placeholders := make([]string, len(replacedIDs))
		args := make([]any, len(replacedIDs))
		for i, id := range replacedIDs {
			placeholders[i] = "?"
			args[i] = id
		}
		query := fmt.Sprintf(`UPDATE messages SET in_context = 0 WHERE id IN (%s)`, strings.Join(placeholders, ","))
		if _, err := tx.Exec(query, args...); err != nil {
			return fmt.Errorf("storage: mark as summary: flip replaced rows: %w", err)
		}
	}

	return tx.Commit()
}

// GetTokenCount sums tokens across in-context messages.
func (s *Store) GetTokenCount() (int, error) {
	var total sql.NullInt64
	err := s.db.QueryRow(`SELECT SUM(tokens) FROM messages WHERE in_context = 1`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("storage: get token count: %w", err)
	}
	return int(total.Int64), nil
}

// InsertEvent inserts an event row tied to messageID.
func (s *Store) InsertEvent(messageID int64, eventType string, data map[string]any, ts time.Time) (int64, error) {
	dataJSON, err := marshalOrEmpty(data)
	if err != nil {
		return 0, fmt.Errorf("storage: marshal event data: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT INTO events (message_id, event_type, data, timestamp) VALUES (?, ?, ?, ?)`,
		messageID, eventType, dataJSON, ts.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: insert event: %w", err)
	}
	return res.LastInsertId()
}

// InitSessionMarkers creates the singleton session_markers row if absent.
func (s *Store) InitSessionMarkers(m models.SessionMarkers) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO session_markers (id, session_type, session_status, parent_agent_id, created_at, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?)`,
		string(m.SessionType), string(m.SessionStatus), m.ParentAgentID,
		m.CreatedAt.UTC().Format(time.RFC3339Nano), m.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("storage: init session markers: %w", err)
	}
	return nil
}

// GetSessionMarkers reads the singleton session_markers row.
func (s *Store) GetSessionMarkers() (models.SessionMarkers, error) {
	var (
		m                  models.SessionMarkers
		sessionType        string
		sessionStatus      string
		createdAt, updated string
	)
	err := s.db.QueryRow(
		`SELECT session_type, session_status, parent_agent_id, created_at, updated_at FROM session_markers WHERE id = 1`,
	).Scan(&sessionType, &sessionStatus, &m.ParentAgentID, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SessionMarkers{}, fmt.Errorf("storage: session markers not initialized")
	}
	if err != nil {
		return models.SessionMarkers{}, fmt.Errorf("storage: get session markers: %w", err)
	}
	m.SessionType = models.SessionType(sessionType)
	m.SessionStatus = models.SessionStatus(sessionStatus)
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return m, nil
}

// UpdateSessionStatus updates session_status and updated_at on the
// singleton row.
func (s *Store) UpdateSessionStatus(status models.SessionStatus, now time.Time) error {
	_, err := s.db.Exec(
		`UPDATE session_markers SET session_status = ?, updated_at = ? WHERE id = 1`,
		string(status), now.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("storage: update session status: %w", err)
	}
	return nil
}

// SetMetadata upserts a key/value pair in the metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("storage: set metadata: %w", err)
	}
	return nil
}

// GetMetadata reads a metadata value, returning ok=false if absent.
func (s *Store) GetMetadata(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage: get metadata: %w", err)
	}
	return value, true, nil
}
