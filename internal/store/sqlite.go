package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/arinzecomie/livechat-relay/internal/models"
)

// SQLiteStore handles SQLite database operations. Timestamps are stored as Unix
// microseconds so ordering is exact.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/livechat.db". ":memory:" opens a private
// in-memory database.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/livechat.db"
	}

	dsn := ":memory:"
	if dbPath != ":memory:" {
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
		dsn = dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if dbPath == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sites (
		site_id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'trial',
		connection_limit INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		site_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		sender_role TEXT NOT NULL,
		sender_id TEXT NOT NULL DEFAULT '',
		sender_name TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Mode reports ModeDurable.
func (s *SQLiteStore) Mode() Mode { return ModeDurable }

// CreateIndexesIfAbsent creates the history and directory indexes.
func (s *SQLiteStore) CreateIndexesIfAbsent(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(site_id, session_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_sites_status ON sites(status);
	`)
	return err
}

// Append inserts a message.
func (s *SQLiteStore) Append(ctx context.Context, msg models.Message) (models.Message, error) {
	if err := validate(msg); err != nil {
		return models.Message{}, err
	}
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, site_id, session_id, sender_role, sender_id, sender_name, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.SiteID, msg.SessionID, string(msg.SenderRole), msg.SenderID, msg.SenderName, msg.Text, msg.CreatedAt.UnixMicro())
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// QueryHistory retrieves one page of a session's messages, oldest-first.
func (s *SQLiteStore) QueryHistory(ctx context.Context, q HistoryQuery) ([]models.Message, error) {
	before := q.Before
	if before <= 0 {
		before = 1<<63 - 1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, session_id, sender_role, sender_id, sender_name, body, created_at
		FROM messages
		WHERE site_id = ? AND session_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?
	`, q.SiteID, q.SessionID, before, q.limit())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0, q.limit())
	for rows.Next() {
		var msg models.Message
		var role string
		var createdAt int64
		if err := rows.Scan(
			&msg.ID,
			&msg.SiteID,
			&msg.SessionID,
			&role,
			&msg.SenderID,
			&msg.SenderName,
			&msg.Text,
			&createdAt,
		); err != nil {
			return nil, err
		}
		msg.SenderRole = models.Role(role)
		msg.CreatedAt = timeFromMicro(createdAt)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverse(messages)
	return messages, nil
}

// GetSite retrieves a site by ID. It returns nil when the site does not exist.
func (s *SQLiteStore) GetSite(ctx context.Context, siteID string) (*models.Site, error) {
	site := &models.Site{}
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT site_id, status, connection_limit FROM sites WHERE site_id = ?
	`, siteID).Scan(&site.ID, &status, &site.ConnectionLimit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	site.Status = models.SiteStatus(status)
	return site, nil
}

// UpsertSite creates or updates a site record.
func (s *SQLiteStore) UpsertSite(ctx context.Context, site models.Site) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sites (site_id, status, connection_limit)
		VALUES (?, ?, ?)
		ON CONFLICT(site_id) DO UPDATE
		SET status = excluded.status, connection_limit = excluded.connection_limit, updated_at = CURRENT_TIMESTAMP
	`, site.ID, string(site.Status), site.ConnectionLimit)
	return err
}
