package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/arinzecomie/livechat-relay/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sites (
	site_id          TEXT PRIMARY KEY,
	status           TEXT NOT NULL DEFAULT 'trial',
	connection_limit INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	site_id     TEXT NOT NULL,
	session_id  TEXT NOT NULL,
	sender_role TEXT NOT NULL,
	sender_id   TEXT NOT NULL DEFAULT '',
	sender_name TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
`

const postgresIndexes = `
CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages (site_id, session_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_sites_status ON sites (status);
`

// PostgresStore handles PostgreSQL operations for messages and the site directory.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool and
// ensures the tables exist.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Mode reports ModeDurable.
func (s *PostgresStore) Mode() Mode { return ModeDurable }

// CreateIndexesIfAbsent creates the history and directory indexes.
func (s *PostgresStore) CreateIndexesIfAbsent(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresIndexes)
	return err
}

// Append inserts a message.
func (s *PostgresStore) Append(ctx context.Context, msg models.Message) (models.Message, error) {
	if err := validate(msg); err != nil {
		return models.Message{}, err
	}
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, site_id, session_id, sender_role, sender_id, sender_name, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, msg.ID, msg.SiteID, msg.SessionID, string(msg.SenderRole), msg.SenderID, msg.SenderName, msg.Text, msg.CreatedAt)
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// QueryHistory retrieves one page of a session's messages, oldest-first.
func (s *PostgresStore) QueryHistory(ctx context.Context, q HistoryQuery) ([]models.Message, error) {
	before := time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	if q.Before > 0 {
		before = time.UnixMicro(q.Before)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, site_id, session_id, sender_role, sender_id, sender_name, body, created_at
		FROM messages
		WHERE site_id = $1 AND session_id = $2 AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, q.SiteID, q.SessionID, before, q.limit())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0, q.limit())
	for rows.Next() {
		var msg models.Message
		var role string
		if err := rows.Scan(
			&msg.ID,
			&msg.SiteID,
			&msg.SessionID,
			&role,
			&msg.SenderID,
			&msg.SenderName,
			&msg.Text,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		msg.SenderRole = models.Role(role)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverse(messages)
	return messages, nil
}

// GetSite retrieves a site by ID. It returns nil when the site does not exist.
func (s *PostgresStore) GetSite(ctx context.Context, siteID string) (*models.Site, error) {
	site := &models.Site{}
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT site_id, status, connection_limit FROM sites WHERE site_id = $1
	`, siteID).Scan(&site.ID, &status, &site.ConnectionLimit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	site.Status = models.SiteStatus(status)
	return site, nil
}

// UpsertSite creates or updates a site record.
func (s *PostgresStore) UpsertSite(ctx context.Context, site models.Site) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sites (site_id, status, connection_limit)
		VALUES ($1, $2, $3)
		ON CONFLICT (site_id) DO UPDATE
		SET status = EXCLUDED.status, connection_limit = EXCLUDED.connection_limit, updated_at = now()
	`, site.ID, string(site.Status), site.ConnectionLimit)
	return err
}
