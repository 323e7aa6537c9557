// ABOUTME: PostgreSQL implementation of the Store interface using pgx/v5
// ABOUTME: Schema is managed by goose migrations embedded from migrations/

package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements the Store interface on a pgx connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to dsn, verifies the connection and applies pending migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	logger := slog.Default().With("component", "store")

	cfg, err := pgxpool.ParseConfig(normalizeDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 4
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}
	if cfg.MaxConnLifetime == 0 {
		cfg.MaxConnLifetime = 60 * time.Minute
	}
	if cfg.HealthCheckPeriod == 0 {
		cfg.HealthCheckPeriod = time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("Postgres store initialized", "host", cfg.ConnConfig.Host, "database", cfg.ConnConfig.Database)
	return s, nil
}

// normalizeDSN strips driver suffixes that other ecosystems put in connection URLs.
func normalizeDSN(dsn string) string {
	s := strings.TrimSpace(dsn)
	for _, prefix := range []string{"postgresql+asyncpg://", "postgresql+pgx://"} {
		s = strings.Replace(s, prefix, "postgresql://", 1)
	}
	for _, prefix := range []string{"postgres+asyncpg://", "postgres+pgx://"} {
		s = strings.Replace(s, prefix, "postgres://", 1)
	}
	return s
}

// runMigrations applies the embedded goose migrations through a database/sql view of the pool.
func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, "migrations")
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.logger.Info("closing Postgres store")
	s.pool.Close()
	return nil
}

// uniqueConstraint returns the violated unique constraint name, if any.
func uniqueConstraint(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// CreateUser inserts a new user account.
func (s *PostgresStore) CreateUser(ctx context.Context, user *User) error {
	role := user.Role
	if role == "" {
		role = RoleUser
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name, username, email, password_hash, avatar, bio, role,
			refresh_token, is_online, last_seen, deleted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		user.ID, user.Name, user.Username, user.Email, user.PasswordHash,
		user.Avatar, user.Bio, string(role), user.RefreshToken, user.IsOnline,
		user.LastSeen, user.DeletedAt, user.CreatedAt.UTC(), user.UpdatedAt.UTC(),
	)
	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok {
			switch constraint {
			case "users_email_key":
				return ErrDuplicateEmail
			case "users_username_key":
				return ErrDuplicateUsername
			}
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", user.ID, "username", user.Username)
	return nil
}

const pgUserColumns = `id::text, name, username, email, password_hash, avatar, bio, role,
	refresh_token, is_online, last_seen, deleted_at, created_at, updated_at`

func scanPgUser(row pgx.Row) (*User, error) {
	var u User
	var role string
	if err := row.Scan(
		&u.ID, &u.Name, &u.Username, &u.Email, &u.PasswordHash,
		&u.Avatar, &u.Bio, &role, &u.RefreshToken, &u.IsOnline,
		&u.LastSeen, &u.DeletedAt, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	u.Role = Role(role)
	return &u, nil
}

func (s *PostgresStore) getUserWhere(ctx context.Context, where string, arg any) (*User, error) {
	u, err := scanPgUser(s.pool.QueryRow(ctx, `SELECT `+pgUserColumns+` FROM users WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

// GetUser retrieves a user by ID.
func (s *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.getUserWhere(ctx, "id::text = $1", id)
}

// GetUserByEmail retrieves a user by (lowercased) email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUserWhere(ctx, "email = $1", strings.ToLower(email))
}

// GetUserByUsername retrieves a user by (lowercased) username.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.getUserWhere(ctx, "username = $1", strings.ToLower(username))
}

// execOne runs an UPDATE and maps zero affected rows to ErrNotFound.
func (s *PostgresStore) execOne(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRefreshToken replaces the stored refresh token. A nil token clears it.
func (s *PostgresStore) SetRefreshToken(ctx context.Context, userID string, token *string) error {
	return s.execOne(ctx, "updating refresh token",
		`UPDATE users SET refresh_token = $1, updated_at = $2 WHERE id::text = $3`,
		token, time.Now().UTC(), userID)
}

// SetOnline updates presence columns for a user.
func (s *PostgresStore) SetOnline(ctx context.Context, userID string, online bool, at time.Time) error {
	return s.execOne(ctx, "updating presence",
		`UPDATE users SET is_online = $1, last_seen = $2 WHERE id::text = $3`,
		online, at.UTC(), userID)
}

// SoftDeleteUser marks the user deleted and revokes the refresh token.
func (s *PostgresStore) SoftDeleteUser(ctx context.Context, userID string, at time.Time) error {
	return s.execOne(ctx, "deleting user",
		`UPDATE users SET deleted_at = $1, refresh_token = NULL, is_online = FALSE, updated_at = $1 WHERE id::text = $2`,
		at.UTC(), userID)
}

// SearchUsers finds active users whose username or name contains query.
func (s *PostgresStore) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*User, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := containsPattern(query)

	rows, err := s.pool.Query(ctx, `
		SELECT `+pgUserColumns+`
		FROM users
		WHERE (username LIKE $1 ESCAPE '\' OR lower(name) LIKE $1 ESCAPE '\')
			AND id::text <> $2
			AND deleted_at IS NULL
		ORDER BY username
		LIMIT $3
	`, pattern, excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("searching users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanPgUser(rows)
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
func (s *PostgresStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	var pairKey *string
	if !conv.IsGroup && len(conv.Participants) == 2 {
		key := PairKey(conv.Participants[0], conv.Participants[1])
		pairKey = &key
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (id, is_group, pair_key, group_name, group_admin, last_message_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		conv.ID, conv.IsGroup, pairKey, nullString(conv.GroupName), nullString(conv.GroupAdmin),
		conv.LastMessageID, conv.CreatedAt.UTC(), conv.UpdatedAt.UTC(),
	)
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	for i, userID := range conv.Participants {
		if _, err := tx.Exec(ctx,
			`INSERT INTO conversation_participants (conversation_id, user_id, position) VALUES ($1, $2, $3)`,
			conv.ID, userID, i,
		); err != nil {
			return fmt.Errorf("inserting participant: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "participants", conv.Participants)
	return nil
}

// conversationSelect aggregates participants in position order alongside each row.
const conversationSelect = `
	SELECT c.id::text, c.is_group, COALESCE(c.group_name, ''), COALESCE(c.group_admin::text, ''),
		c.last_message_id::text, c.created_at, c.updated_at,
		ARRAY(SELECT p.user_id::text FROM conversation_participants p
			WHERE p.conversation_id = c.id ORDER BY p.position)
	FROM conversations c
`

func scanPgConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	if err := row.Scan(&c.ID, &c.IsGroup, &c.GroupName, &c.GroupAdmin,
		&c.LastMessageID, &c.CreatedAt, &c.UpdatedAt, &c.Participants); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) getConversationWhere(ctx context.Context, where string, arg any) (*Conversation, error) {
	c, err := scanPgConversation(s.pool.QueryRow(ctx, conversationSelect+` WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return c, nil
}

// GetConversation retrieves a conversation by ID.
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return s.getConversationWhere(ctx, "c.id::text = $1", id)
}

// FindDirectConversation looks up the one-to-one conversation via its pair key.
func (s *PostgresStore) FindDirectConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	return s.getConversationWhere(ctx, "c.pair_key = $1 AND NOT c.is_group", PairKey(userA, userB))
}

// ListConversations returns the conversations a user participates in, newest activity first.
func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := s.pool.Query(ctx, conversationSelect+`
		WHERE EXISTS (
			SELECT 1 FROM conversation_participants p
			WHERE p.conversation_id = c.id AND p.user_id::text = $1
		)
		ORDER BY c.updated_at DESC, c.seq DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		c, err := scanPgConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return convs, nil
}

// SetLastMessage records the newest message of a conversation.
func (s *PostgresStore) SetLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	return s.execOne(ctx, "updating last message",
		`UPDATE conversations SET last_message_id = $1, updated_at = $2 WHERE id::text = $3`,
		messageID, at.UTC(), conversationID)
}

// SaveMessage saves a message with its initial read and hidden sets.
func (s *PostgresStore) SaveMessage(ctx context.Context, msg *Message) error {
	msgType := msg.Type
	if msgType == "" {
		msgType = MessageTypeText
	}
	updatedAt := msg.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = msg.CreatedAt
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.Content, string(msgType),
		msg.CreatedAt.UTC(), updatedAt.UTC()); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	for _, userID := range msg.ReadBy {
		if _, err := tx.Exec(ctx,
			`INSERT INTO message_reads (message_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			msg.ID, userID); err != nil {
			return fmt.Errorf("inserting read marker: %w", err)
		}
	}
	for _, userID := range msg.DeletedFor {
		if _, err := tx.Exec(ctx,
			`INSERT INTO message_hidden (message_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			msg.ID, userID); err != nil {
			return fmt.Errorf("inserting hidden marker: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID, "type", msgType)
	return nil
}

const messageSelect = `
	SELECT m.id::text, m.conversation_id::text, m.sender_id::text, m.content, m.type,
		m.created_at, m.updated_at,
		ARRAY(SELECT r.user_id::text FROM message_reads r WHERE r.message_id = m.id ORDER BY r.seq),
		ARRAY(SELECT h.user_id::text FROM message_hidden h WHERE h.message_id = m.id ORDER BY h.seq)
	FROM messages m
`

func scanPgMessage(row pgx.Row) (*Message, error) {
	var m Message
	var msgType string
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &msgType,
		&m.CreatedAt, &m.UpdatedAt, &m.ReadBy, &m.DeletedFor); err != nil {
		return nil, err
	}
	m.Type = MessageType(msgType)
	if m.ReadBy == nil {
		m.ReadBy = []string{}
	}
	if m.DeletedFor == nil {
		m.DeletedFor = []string{}
	}
	return &m, nil
}

// GetMessage retrieves a single message by ID.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m, err := scanPgMessage(s.pool.QueryRow(ctx, messageSelect+` WHERE m.id::text = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return m, nil
}

// GetMessages retrieves all messages of a conversation in chronological order (oldest first).
func (s *PostgresStore) GetMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.pool.Query(ctx, messageSelect+`
		WHERE m.conversation_id::text = $1
		ORDER BY m.created_at ASC, m.seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		m, err := scanPgMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// MarkRead adds userID to the read set of every message in the conversation.
func (s *PostgresStore) MarkRead(ctx context.Context, conversationID, userID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO message_reads (message_id, user_id)
		SELECT id, $1::uuid FROM messages WHERE conversation_id::text = $2
		ON CONFLICT DO NOTHING
	`, userID, conversationID)
	if err != nil {
		return fmt.Errorf("marking messages read: %w", err)
	}
	return nil
}

// HideMessage adds userID to the hidden set of a message.
func (s *PostgresStore) HideMessage(ctx context.Context, messageID, userID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO message_hidden (message_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		messageID, userID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrNotFound
		}
		return fmt.Errorf("hiding message: %w", err)
	}
	return nil
}
