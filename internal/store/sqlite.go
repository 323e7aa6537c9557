// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides user, conversation and message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dsn := path
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		dsn = "file:" + path
	}
	dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			username      TEXT NOT NULL UNIQUE,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			avatar        TEXT NOT NULL DEFAULT '',
			bio           TEXT NOT NULL DEFAULT '',
			role          TEXT NOT NULL DEFAULT 'user',
			refresh_token TEXT,
			is_online     INTEGER NOT NULL DEFAULT 0,
			last_seen     TEXT,
			deleted_at    TEXT,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,

			CHECK (role IN ('user', 'admin'))
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id              TEXT PRIMARY KEY,
			is_group        INTEGER NOT NULL DEFAULT 0,
			pair_key        TEXT UNIQUE,
			group_name      TEXT,
			group_admin     TEXT REFERENCES users(id),
			last_message_id TEXT,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated
			ON conversations(updated_at DESC);

		CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			user_id         TEXT NOT NULL REFERENCES users(id),
			position        INTEGER NOT NULL,
			PRIMARY KEY (conversation_id, user_id)
		);

		CREATE INDEX IF NOT EXISTS idx_participants_user
			ON conversation_participants(user_id);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender_id       TEXT NOT NULL REFERENCES users(id),
			content         TEXT NOT NULL,
			type            TEXT NOT NULL DEFAULT 'text',
			created_at      TEXT NOT NULL,
			updated_at      TEXT,

			CHECK (type IN ('text', 'image', 'file'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS message_reads (
			message_id TEXT NOT NULL REFERENCES messages(id),
			user_id    TEXT NOT NULL,
			PRIMARY KEY (message_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS message_hidden (
			message_id TEXT NOT NULL REFERENCES messages(id),
			user_id    TEXT NOT NULL,
			PRIMARY KEY (message_id, user_id)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// columnMigration adds a column that createSchema did not create on an existing database.
type columnMigration struct {
	table  string
	column string
	apply  string
}

// columnMigrations lists column additions made after the initial schema.
// New columns go here as well as into createSchema.
var columnMigrations []columnMigration

// runMigrations applies columnMigrations. They are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	for _, m := range columnMigrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("inspecting %s: %w", m.table, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
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

// CreateUser inserts a new user account.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, name, username, email, password_hash, avatar, bio, role,
			refresh_token, is_online, last_seen, deleted_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	role := user.Role
	if role == "" {
		role = RoleUser
	}

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Avatar,
		user.Bio,
		string(role),
		user.RefreshToken,
		user.IsOnline,
		nullTime(user.LastSeen),
		nullTime(user.DeletedAt),
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			switch {
			case strings.Contains(err.Error(), "users.email"):
				return ErrDuplicateEmail
			case strings.Contains(err.Error(), "users.username"):
				return ErrDuplicateUsername
			}
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", user.ID, "username", user.Username)
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

const userColumns = `id, name, username, email, password_hash, avatar, bio, role,
	refresh_token, is_online, last_seen, deleted_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var role string
	var refresh, lastSeen, deletedAt sql.NullString
	var createdAtStr, updatedAtStr string

	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.Avatar,
		&u.Bio,
		&role,
		&refresh,
		&u.IsOnline,
		&lastSeen,
		&deletedAt,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	u.Role = Role(role)
	if refresh.Valid {
		token := refresh.String
		u.RefreshToken = &token
	}
	if u.LastSeen, err = parseNullTime(lastSeen); err != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", err)
	}
	if u.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, fmt.Errorf("parsing deleted_at: %w", err)
	}
	if u.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if u.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStore) getUserWhere(ctx context.Context, where string, arg any) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	u, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.getUserWhere(ctx, "id = ?", id)
}

// GetUserByEmail retrieves a user by (lowercased) email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUserWhere(ctx, "email = ?", strings.ToLower(email))
}

// GetUserByUsername retrieves a user by (lowercased) username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.getUserWhere(ctx, "username = ?", strings.ToLower(username))
}

// execOne runs an UPDATE and maps zero affected rows to ErrNotFound.
func (s *SQLiteStore) execOne(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRefreshToken replaces the stored refresh token. A nil token clears it.
func (s *SQLiteStore) SetRefreshToken(ctx context.Context, userID string, token *string) error {
	err := s.execOne(ctx, `UPDATE users SET refresh_token = ?, updated_at = ? WHERE id = ?`,
		token, formatTime(time.Now()), userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("updating refresh token: %w", err)
	}
	return err
}

// SetOnline updates presence columns for a user.
func (s *SQLiteStore) SetOnline(ctx context.Context, userID string, online bool, at time.Time) error {
	err := s.execOne(ctx, `UPDATE users SET is_online = ?, last_seen = ? WHERE id = ?`,
		online, formatTime(at), userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("updating presence: %w", err)
	}
	return err
}

// SoftDeleteUser marks the user deleted and revokes the refresh token.
func (s *SQLiteStore) SoftDeleteUser(ctx context.Context, userID string, at time.Time) error {
	err := s.execOne(ctx, `UPDATE users SET deleted_at = ?, refresh_token = NULL, is_online = 0, updated_at = ? WHERE id = ?`,
		formatTime(at), formatTime(at), userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("deleting user: %w", err)
	}
	return err
}

// SearchUsers finds active users whose username or name contains query.
func (s *SQLiteStore) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*User, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := containsPattern(query)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE (username LIKE ? ESCAPE '\' OR lower(name) LIKE ? ESCAPE '\')
			AND id != ?
			AND deleted_at IS NULL
		ORDER BY username
		LIMIT ?
	`, pattern, pattern, excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("searching users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}
	return users, nil
}

// CreateConversation creates a conversation and its participant rows in one transaction.
// Returns ErrDuplicateConversation if the pair already has a one-to-one conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	var pairKey any
	if !conv.IsGroup && len(conv.Participants) == 2 {
		pairKey = PairKey(conv.Participants[0], conv.Participants[1])
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, is_group, pair_key, group_name, group_admin, last_message_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		conv.ID,
		conv.IsGroup,
		pairKey,
		nullString(conv.GroupName),
		nullString(conv.GroupAdmin),
		conv.LastMessageID,
		formatTime(conv.CreatedAt),
		formatTime(conv.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	for i, userID := range conv.Participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_participants (conversation_id, user_id, position) VALUES (?, ?, ?)`,
			conv.ID, userID, i,
		); err != nil {
			return fmt.Errorf("inserting participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "participants", conv.Participants)
	return nil
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const conversationColumns = `id, is_group, group_name, group_admin, last_message_id, created_at, updated_at`

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	var groupName, groupAdmin, lastMessage sql.NullString
	var createdAtStr, updatedAtStr string

	if err := row.Scan(&c.ID, &c.IsGroup, &groupName, &groupAdmin, &lastMessage, &createdAtStr, &updatedAtStr); err != nil {
		return nil, err
	}

	c.GroupName = groupName.String
	c.GroupAdmin = groupAdmin.String
	if lastMessage.Valid {
		id := lastMessage.String
		c.LastMessageID = &id
	}

	var err error
	if c.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &c, nil
}

// loadParticipants fills Participants for each conversation.
func (s *SQLiteStore) loadParticipants(ctx context.Context, convs ...*Conversation) error {
	for _, c := range convs {
		rows, err := s.db.QueryContext(ctx,
			`SELECT user_id FROM conversation_participants WHERE conversation_id = ? ORDER BY position`, c.ID)
		if err != nil {
			return fmt.Errorf("querying participants: %w", err)
		}
		c.Participants = c.Participants[:0]
		for rows.Next() {
			var userID string
			if err := rows.Scan(&userID); err != nil {
				rows.Close()
				return fmt.Errorf("scanning participant: %w", err)
			}
			c.Participants = append(c.Participants, userID)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("iterating participants: %w", err)
		}
	}
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	conv, err := scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	if err := s.loadParticipants(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// FindDirectConversation looks up the one-to-one conversation via its pair key.
func (s *SQLiteStore) FindDirectConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	conv, err := scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE pair_key = ? AND is_group = 0`,
		PairKey(userA, userB)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation by pair: %w", err)
	}
	if err := s.loadParticipants(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversations returns the conversations a user participates in, newest activity first.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.is_group, c.group_name, c.group_admin, c.last_message_id, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.updated_at DESC, c.rowid DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}

	var convs []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		convs = append(convs, c)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}

	if err := s.loadParticipants(ctx, convs...); err != nil {
		return nil, err
	}
	return convs, nil
}

// SetLastMessage records the newest message of a conversation.
func (s *SQLiteStore) SetLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	err := s.execOne(ctx, `UPDATE conversations SET last_message_id = ?, updated_at = ? WHERE id = ?`,
		messageID, formatTime(at), conversationID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("updating last message: %w", err)
	}
	return err
}

// SaveMessage saves a message with its initial read and hidden sets.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	msgType := msg.Type
	if msgType == "" {
		msgType = MessageTypeText
	}
	updatedAt := msg.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = msg.CreatedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.Content,
		string(msgType),
		formatTime(msg.CreatedAt),
		formatTime(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	for _, userID := range msg.ReadBy {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO message_reads (message_id, user_id) VALUES (?, ?)`, msg.ID, userID); err != nil {
			return fmt.Errorf("inserting read marker: %w", err)
		}
	}
	for _, userID := range msg.DeletedFor {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO message_hidden (message_id, user_id) VALUES (?, ?)`, msg.ID, userID); err != nil {
			return fmt.Errorf("inserting hidden marker: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID, "type", msgType)
	return nil
}

const messageColumns = `id, conversation_id, sender_id, content, type, created_at, updated_at`

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var msgType, createdAtStr string
	var updatedAtStr sql.NullString

	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &msgType, &createdAtStr, &updatedAtStr); err != nil {
		return nil, err
	}
	m.Type = MessageType(msgType)

	var err error
	if m.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing message created_at: %w", err)
	}
	m.UpdatedAt = m.CreatedAt
	if updatedAtStr.Valid && updatedAtStr.String != "" {
		if m.UpdatedAt, err = parseTime(updatedAtStr.String); err != nil {
			return nil, fmt.Errorf("parsing message updated_at: %w", err)
		}
	}
	m.ReadBy = []string{}
	m.DeletedFor = []string{}
	return &m, nil
}

// loadMarkers fills ReadBy and DeletedFor from the given marker table.
func (s *SQLiteStore) loadMarkers(ctx context.Context, table, filter string, arg any, byID map[string]*Message) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.message_id, t.user_id
		FROM `+table+` t
		JOIN messages m ON m.id = t.message_id
		WHERE `+filter+`
		ORDER BY t.rowid
	`, arg)
	if err != nil {
		return fmt.Errorf("querying %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID, userID string
		if err := rows.Scan(&messageID, &userID); err != nil {
			return fmt.Errorf("scanning %s row: %w", table, err)
		}
		m, ok := byID[messageID]
		if !ok {
			continue
		}
		if table == "message_reads" {
			m.ReadBy = append(m.ReadBy, userID)
		} else {
			m.DeletedFor = append(m.DeletedFor, userID)
		}
	}
	return rows.Err()
}

// GetMessage retrieves a single message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}

	byID := map[string]*Message{msg.ID: msg}
	for _, table := range []string{"message_reads", "message_hidden"} {
		if err := s.loadMarkers(ctx, table, "m.id = ?", id, byID); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// GetMessages retrieves all messages of a conversation in chronological order (oldest first).
func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}

	messages := []*Message{}
	byID := make(map[string]*Message)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, m)
		byID[m.ID] = m
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	for _, table := range []string{"message_reads", "message_hidden"} {
		if err := s.loadMarkers(ctx, table, "m.conversation_id = ?", conversationID, byID); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

// MarkRead adds userID to the read set of every message in the conversation.
func (s *SQLiteStore) MarkRead(ctx context.Context, conversationID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_reads (message_id, user_id)
		SELECT id, ? FROM messages WHERE conversation_id = ?
	`, userID, conversationID)
	if err != nil {
		return fmt.Errorf("marking messages read: %w", err)
	}
	return nil
}

// HideMessage adds userID to the hidden set of a message.
func (s *SQLiteStore) HideMessage(ctx context.Context, messageID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO message_hidden (message_id, user_id) VALUES (?, ?)`, messageID, userID)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return ErrNotFound
		}
		return fmt.Errorf("hiding message: %w", err)
	}
	return nil
}
