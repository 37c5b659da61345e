// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// timeLayout is RFC3339 with fixed-width nanoseconds so that stored UTC
// timestamps compare correctly as text in SQL ORDER BY and WHERE clauses.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	// lastAppend clamps message timestamps so createdAt is non-decreasing
	// within a conversation even when the wall clock steps backwards.
	appendMu   sync.Mutex
	lastAppend map[string]time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Wait for the writer lock instead of failing when appends race
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:         db,
		logger:     logger,
		lastAppend: make(map[string]time.Time),
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id                   TEXT PRIMARY KEY,
			kind                 TEXT NOT NULL,
			participant_a        TEXT,
			participant_b        TEXT,
			pair_key             TEXT,
			group_name           TEXT,
			last_message_preview TEXT NOT NULL DEFAULT '',
			created_at           TEXT NOT NULL,
			updated_at           TEXT NOT NULL,

			CHECK (kind IN ('direct', 'group'))
		);

		-- The uniqueness invariant: at most one direct conversation per pair,
		-- at most one group conversation per name. SQLite UNIQUE ignores NULLs,
		-- so the two indexes don't interfere with each other.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_pair_key
			ON conversations(pair_key);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_group_name
			ON conversations(group_name);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated
			ON conversations(updated_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id       TEXT NOT NULL,
			body            TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS read_markers (
			user_id         TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			last_read_at    TEXT NOT NULL,
			PRIMARY KEY (user_id, conversation_id)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateConversation inserts a new conversation.
// If a conversation with the same pair key or group name already exists,
// it returns ErrDuplicateConversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO conversations (id, kind, participant_a, participant_b, pair_key, group_name, last_message_preview, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		string(conv.Kind),
		nullString(conv.ParticipantA),
		nullString(conv.ParticipantB),
		nullString(conv.PairKey),
		nullString(conv.GroupName),
		conv.LastMessagePreview,
		conv.CreatedAt.UTC().Format(timeLayout),
		conv.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "kind", conv.Kind)
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for empty strings, otherwise the string itself
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return s.queryConversation(ctx, `WHERE id = ?`, id)
}

// GetDirectConversation retrieves the direct conversation for a pair key.
// Returns ErrNotFound if no conversation exists for the pair.
func (s *SQLiteStore) GetDirectConversation(ctx context.Context, pairKey string) (*Conversation, error) {
	return s.queryConversation(ctx, `WHERE pair_key = ?`, pairKey)
}

// GetGroupConversation retrieves the group conversation for a name.
// Returns ErrNotFound if no conversation exists for the name.
func (s *SQLiteStore) GetGroupConversation(ctx context.Context, groupName string) (*Conversation, error) {
	return s.queryConversation(ctx, `WHERE group_name = ?`, groupName)
}

func (s *SQLiteStore) queryConversation(ctx context.Context, where string, arg any) (*Conversation, error) {
	query := `
		SELECT id, kind, participant_a, participant_b, pair_key, group_name, last_message_preview, created_at, updated_at
		FROM conversations ` + where

	row := s.db.QueryRowContext(ctx, query, arg)
	conv, err := scanConversation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// scanConversation scans the standard conversation column set.
func scanConversation(scan func(dest ...any) error) (*Conversation, error) {
	var conv Conversation
	var kind string
	var participantA, participantB, pairKey, groupName sql.NullString
	var createdAtStr, updatedAtStr string

	err := scan(
		&conv.ID,
		&kind,
		&participantA,
		&participantB,
		&pairKey,
		&groupName,
		&conv.LastMessagePreview,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	conv.Kind = ConversationKind(kind)
	conv.ParticipantA = participantA.String
	conv.ParticipantB = participantB.String
	conv.PairKey = pairKey.String
	conv.GroupName = groupName.String

	conv.CreatedAt, err = time.Parse(timeLayout, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = time.Parse(timeLayout, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &conv, nil
}

// TouchConversation updates the recency metadata after an append.
// The update is monotonic: a touch older than the stored updated_at is a
// no-op, so interleaved sends can't move a conversation backwards in the
// listing. Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) TouchConversation(ctx context.Context, id, preview string, ts time.Time) error {
	tsStr := ts.UTC().Format(timeLayout)

	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_preview = ?, updated_at = ?
		WHERE id = ? AND updated_at <= ?
	`, preview, tsStr, id, tsStr)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	// Either the conversation is missing or a newer touch already landed.
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking conversation: %w", err)
	}

	s.logger.Debug("skipped stale touch", "id", id)
	return nil
}

// ListConversationsForUser returns all direct conversations the user is a
// participant of plus all group conversations, most recently active first.
// Each entry carries the user's unread count relative to their read marker.
func (s *SQLiteStore) ListConversationsForUser(ctx context.Context, userID string) ([]*ConversationSummary, error) {
	query := `
		SELECT c.id, c.kind, c.participant_a, c.participant_b, c.pair_key, c.group_name,
		       c.last_message_preview, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m
		        WHERE m.conversation_id = c.id
		          AND m.sender_id != ?
		          AND (r.last_read_at IS NULL OR m.created_at > r.last_read_at)) AS unread
		FROM conversations c
		LEFT JOIN read_markers r ON r.conversation_id = c.id AND r.user_id = ?
		WHERE c.kind = 'group' OR c.participant_a = ? OR c.participant_b = ?
		ORDER BY c.updated_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var summaries []*ConversationSummary
	for rows.Next() {
		var summary ConversationSummary
		conv, err := scanConversationSummary(rows, &summary)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		summary.Conversation = *conv
		summaries = append(summaries, &summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}

	return summaries, nil
}

func scanConversationSummary(rows *sql.Rows, summary *ConversationSummary) (*Conversation, error) {
	var conv Conversation
	var kind string
	var participantA, participantB, pairKey, groupName sql.NullString
	var createdAtStr, updatedAtStr string

	if err := rows.Scan(
		&conv.ID,
		&kind,
		&participantA,
		&participantB,
		&pairKey,
		&groupName,
		&conv.LastMessagePreview,
		&createdAtStr,
		&updatedAtStr,
		&summary.UnreadCount,
	); err != nil {
		return nil, err
	}

	conv.Kind = ConversationKind(kind)
	conv.ParticipantA = participantA.String
	conv.ParticipantB = participantB.String
	conv.PairKey = pairKey.String
	conv.GroupName = groupName.String

	var err error
	conv.CreatedAt, err = time.Parse(timeLayout, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = time.Parse(timeLayout, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &conv, nil
}

// AppendMessage appends a message to a conversation's log, assigning the id
// and a timestamp from the per-conversation monotonic clock. Ties between
// same-timestamp appends are broken by insertion order (rowid) on read.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID, senderID, body string) (*Message, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&one)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checking conversation: %w", err)
	}

	createdAt, err := s.nextAppendTime(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      createdAt,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.Body, msg.CreatedAt.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("appended message", "id", msg.ID, "conversation_id", conversationID, "sender_id", senderID)
	return msg, nil
}

// lastAppendCacheMax bounds the in-memory clamp cache. Evicted entries are
// reseeded from the persisted log on the next append, so clearing is safe.
const lastAppendCacheMax = 4096

// nextAppendTime returns a UTC timestamp that is never earlier than the last
// message recorded for this conversation. The clamp is seeded from the
// persisted log on the first append after startup, so ordering holds across
// restarts even when the wall clock stepped backwards in between.
func (s *SQLiteStore) nextAppendTime(ctx context.Context, conversationID string) (time.Time, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	last, ok := s.lastAppend[conversationID]
	if !ok {
		var maxStr sql.NullString
		err := s.db.QueryRowContext(ctx, `
			SELECT MAX(created_at) FROM messages WHERE conversation_id = ?
		`, conversationID).Scan(&maxStr)
		if err != nil {
			return time.Time{}, fmt.Errorf("reading last message time: %w", err)
		}
		if maxStr.Valid {
			last, err = time.Parse(timeLayout, maxStr.String)
			if err != nil {
				return time.Time{}, fmt.Errorf("parsing last message time: %w", err)
			}
		}
	}

	now := time.Now().UTC()
	if now.Before(last) {
		now = last
	}
	if len(s.lastAppend) >= lastAppendCacheMax {
		clear(s.lastAppend)
	}
	s.lastAppend[conversationID] = now
	return now, nil
}

// ListMessages returns a conversation's messages in append order.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&one)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checking conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, body, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var createdAtStr string

		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Body, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.CreatedAt, err = time.Parse(timeLayout, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// MarkRead records that the user has read a conversation up to ts.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) MarkRead(ctx context.Context, userID, conversationID string, ts time.Time) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking conversation: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO read_markers (user_id, conversation_id, last_read_at)
		VALUES (?, ?, ?)
	`, userID, conversationID, ts.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("saving read marker: %w", err)
	}

	s.logger.Debug("marked read", "user_id", userID, "conversation_id", conversationID)
	return nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
