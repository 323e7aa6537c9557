// Package store provides persistent storage for users, conversations and messages.
//
// # Architecture
//
// Two interfaces split the persistence surface:
//
//   - UserStore: accounts, the single active refresh token, presence columns
//   - ConversationStore: one-to-one conversations, messages, read and hidden markers
//
// Store composes both plus Ping and Close. Three implementations exist:
//
//   - SQLiteStore: database/sql on modernc.org/sqlite (default, no cgo)
//   - PostgresStore: pgx connection pool with goose migrations
//   - MockStore: in-memory, for unit tests
//
// # Conversation Uniqueness
//
// Non-group conversations carry a pair key (the two participant IDs sorted and
// joined) guarded by a UNIQUE index. CreateConversation returns
// ErrDuplicateConversation when a concurrent writer won the race; callers
// re-fetch with FindDirectConversation.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode and a single pooled connection:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// Timestamps are stored as fixed-width UTC strings so they sort lexically.
//
// # Postgres Migrations
//
// Migration files live in internal/store/migrations/ and are embedded into the
// binary. NewPostgresStore applies pending migrations on startup.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicateEmail, ErrDuplicateUsername: account uniqueness violated
//   - ErrDuplicateConversation: pair already has a conversation
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests:
//
//	s := store.NewMockStore()
//	s.Err = errors.New("boom") // force every write to fail
//
// Use NewSQLiteStore(":memory:") or a t.TempDir() path for integration tests.
// Postgres tests run only when CHAT_TEST_POSTGRES_DSN is set.
package store
