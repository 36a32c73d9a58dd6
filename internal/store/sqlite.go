// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite or mattn/go-sqlite3
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

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Driver names registered by the two SQLite packages
const (
	DriverModernc = "sqlite"
	DriverCGO     = "sqlite3"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path using the pure Go driver.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithDriver(DriverModernc, path)
}

// NewSQLiteStoreWithDriver is NewSQLiteStore with an explicit database/sql driver
// name, either DriverModernc or DriverCGO.
func NewSQLiteStoreWithDriver(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if driver != DriverModernc && driver != DriverCGO {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection keeps the pragmas below in effect and serializes writers
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
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

	logger.Info("SQLite store initialized", "path", path, "driver", driver)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id                TEXT PRIMARY KEY,
			username          TEXT NOT NULL UNIQUE,
			last_disconnected INTEGER,
			created_at        INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id           TEXT PRIMARY KEY,
			kind         TEXT NOT NULL,
			pair_key     TEXT,
			admin_id     TEXT,
			name         TEXT,
			subject      TEXT,
			created_at   INTEGER NOT NULL,
			last_updated INTEGER NOT NULL,
			next_seq     INTEGER NOT NULL DEFAULT 0,

			CHECK (kind IN ('private', 'group'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_pair
			ON conversations(kind, pair_key);

		CREATE INDEX IF NOT EXISTS idx_conversations_last_updated
			ON conversations(last_updated DESC);

		CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT NOT NULL,
			user_id         TEXT NOT NULL,
			position        INTEGER NOT NULL,

			PRIMARY KEY (conversation_id, user_id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_participants_user
			ON conversation_participants(user_id);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			seq             INTEGER NOT NULL,
			sender_id       TEXT NOT NULL,
			text            TEXT NOT NULL,
			created_at      INTEGER NOT NULL,

			UNIQUE (conversation_id, seq),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// isConstraintViolation checks if the error is a SQLite UNIQUE or PRIMARY KEY
// violation. NOT NULL, CHECK and FOREIGN KEY failures are not duplicates.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "PRIMARY KEY constraint failed")
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// rollback is deferred after BeginTx; it is a no-op once the tx has committed
func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}

// ---------------------------------------------------------------------------
// Users

// CreateUser inserts a new user. Returns ErrDuplicateUser if the id or
// username is already taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, last_disconnected, created_at) VALUES (?, ?, ?, ?)`,
		user.ID, user.Username, nullableNanos(user.LastDisconnected), toNanos(user.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", user.ID, "username", user.Username)
	return nil
}

// EnsureUser inserts the user if no row with its id exists. An existing row is
// left untouched. Returns ErrDuplicateUser if the username belongs to another id.
func (s *SQLiteStore) EnsureUser(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		user.ID, user.Username, toNanos(user.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("ensuring user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, last_disconnected, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByUsername retrieves a user by display name.
// Returns ErrNotFound if no user has that name.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, last_disconnected, created_at FROM users WHERE username = ?`, username)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var (
		u         User
		lastDisc  sql.NullInt64
		createdAt int64
	)
	if err := row.Scan(&u.ID, &u.Username, &lastDisc, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}
	if lastDisc.Valid {
		t := fromNanos(lastDisc.Int64)
		u.LastDisconnected = &t
	}
	u.CreatedAt = fromNanos(createdAt)
	return &u, nil
}

// SetLastDisconnected records when the user's connection was released.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) SetLastDisconnected(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_disconnected = ? WHERE id = ?`, toNanos(at), userID)
	if err != nil {
		return fmt.Errorf("updating last_disconnected: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toNanos(*t)
}

// ---------------------------------------------------------------------------
// Conversations

// CreateConversation inserts a conversation and its participants atomically.
// Returns ErrDuplicateConversation if a private conversation for the same pair
// already exists.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.LastUpdated.IsZero() {
		conv.LastUpdated = conv.CreatedAt
	}

	var pairKey any
	if conv.Kind == KindPrivate {
		if len(conv.Participants) != 2 {
			return fmt.Errorf("private conversation needs exactly 2 participants, got %d", len(conv.Participants))
		}
		pairKey = PairKey(conv.Participants[0], conv.Participants[1])
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, kind, pair_key, admin_id, name, subject, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, string(conv.Kind), pairKey, conv.Admin, conv.Name, conv.Subject,
		toNanos(conv.CreatedAt), toNanos(conv.LastUpdated),
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
			return fmt.Errorf("inserting participant %s: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("committing conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "kind", conv.Kind, "participants", len(conv.Participants))
	return nil
}

// GetConversation retrieves a conversation and its participants by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, admin_id, name, subject, created_at, last_updated
		FROM conversations WHERE id = ?`, id)

	conv, err := scanConversation(row)
	if err != nil {
		return nil, err
	}

	conv.Participants, err = s.listParticipants(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// FindPrivateConversation looks up the private conversation between a and b
// regardless of argument order.
// Returns ErrNotFound if none exists.
func (s *SQLiteStore) FindPrivateConversation(ctx context.Context, a, b string) (*Conversation, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE kind = ? AND pair_key = ?`,
		string(KindPrivate), PairKey(a, b),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying private conversation: %w", err)
	}
	return s.GetConversation(ctx, id)
}

// AddParticipant appends userID to the conversation's participant list.
// Returns ErrNotFound if the conversation doesn't exist and ErrAlreadyMember
// if the user is already a participant.
func (s *SQLiteStore) AddParticipant(ctx context.Context, conversationID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	var next int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(p.position) + 1, 0)
		FROM conversations c
		LEFT JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE c.id = ?
		GROUP BY c.id`, conversationID,
	).Scan(&next)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("querying participant position: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversation_participants (conversation_id, user_id, position) VALUES (?, ?, ?)`,
		conversationID, userID, next,
	); err != nil {
		if isConstraintViolation(err) {
			return ErrAlreadyMember
		}
		return fmt.Errorf("inserting participant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing participant: %w", err)
	}
	return nil
}

// ListConversationsForUser returns every conversation the user participates in,
// most recently updated first.
func (s *SQLiteStore) ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.kind, c.admin_id, c.name, c.subject, c.created_at, c.last_updated
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.last_updated DESC, c.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	rows.Close()

	// Participants are loaded after the cursor is closed; the pool holds one connection
	for _, conv := range convs {
		conv.Participants, err = s.listParticipants(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
	}
	return convs, nil
}

func (s *SQLiteStore) listParticipants(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM conversation_participants WHERE conversation_id = ? ORDER BY position`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	var participants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		participants = append(participants, id)
	}
	return participants, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		c                     Conversation
		kind                  string
		admin, name, subject  sql.NullString
		createdAt, lastUpdate int64
	)
	if err := row.Scan(&c.ID, &kind, &admin, &name, &subject, &createdAt, &lastUpdate); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}
	c.Kind = ConversationKind(kind)
	c.Admin = admin.String
	c.Name = name.String
	c.Subject = subject.String
	c.CreatedAt = fromNanos(createdAt)
	c.LastUpdated = fromNanos(lastUpdate)
	return &c, nil
}

// ---------------------------------------------------------------------------
// Messages

// AppendMessage appends msg to its conversation's log in one transaction.
// It assigns msg.Seq, raises msg.Timestamp if needed so it is strictly greater
// than the conversation's previous lastUpdated, and bumps lastUpdated to it.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	var lastUpdated, lastSeq int64
	err = tx.QueryRowContext(ctx,
		`SELECT last_updated, next_seq FROM conversations WHERE id = ?`, msg.ConversationID,
	).Scan(&lastUpdated, &lastSeq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("querying conversation: %w", err)
	}

	ts := toNanos(msg.Timestamp)
	if ts <= lastUpdated {
		ts = lastUpdated + 1
	}
	seq := lastSeq + 1

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, seq, sender_id, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, seq, msg.SenderID, msg.Text, ts,
	); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_updated = ?, next_seq = ? WHERE id = ?`,
		ts, seq, msg.ConversationID,
	); err != nil {
		return fmt.Errorf("bumping conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	msg.Seq = seq
	msg.Timestamp = fromNanos(ts)
	return nil
}

const messageColumns = `m.id, m.conversation_id, m.seq, m.sender_id, COALESCE(u.username, ''), m.text, m.created_at`

// ListMessages returns a conversation's messages in append order
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = ?
		ORDER BY m.seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	return scanMessages(rows)
}

// ListMessagesSince returns messages newer than since from every conversation
// userID participates in, grouped by conversation and in append order.
func (s *SQLiteStore) ListMessagesSince(ctx context.Context, userID string, since time.Time) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		JOIN conversation_participants p ON p.conversation_id = m.conversation_id AND p.user_id = ?
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.created_at > ?
		ORDER BY m.conversation_id, m.seq`, userID, toNanos(since))
	if err != nil {
		return nil, fmt.Errorf("querying messages since: %w", err)
	}
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var (
			m  Message
			ts int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.SenderID, &m.SenderName, &m.Text, &ts); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Timestamp = fromNanos(ts)
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}
