package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/Groundwise/internal/config"
	"github.com/markdave123-py/Groundwise/internal/core"
	"github.com/markdave123-py/Groundwise/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	dsn, err := buildDSN(cfg.DatabaseURL, cfg.SslCertPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db, cfg.EmbedDim); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

// buildDSN appends certificate verification to the database URL when a CA
// certificate is configured.
func buildDSN(databaseURL, sslCertPath string) (string, error) {
	if databaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL is empty")
	}
	if sslCertPath == "" {
		return databaseURL, nil
	}
	if _, err := os.Stat(sslCertPath); err != nil {
		return "", fmt.Errorf("ssl cert not accessible at %q: %w", sslCertPath, err)
	}

	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("sslmode", "verify-ca")
	q.Set("sslrootcert", sslCertPath)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Implementing the db interface for user

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	const q = `
		INSERT INTO users (id, first_name, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()), COALESCE($6, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		user.ID, user.FirstName, user.Email, user.PasswordHash, nullTime(user.CreatedAt), nullTime(user.UpdatedAt))
	return err
}

func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `
		SELECT id, first_name, email, password_hash, created_at, updated_at
		FROM users WHERE email = $1
	`
	var u models.User
	err := c.db.QueryRowContext(ctx, q, email).Scan(
		&u.ID, &u.FirstName, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Implementing the db interface for chat sessions

func (c *DatabaseClient) CreateSession(ctx context.Context, session *models.ChatSession) error {
	if session == nil {
		return errors.New("nil session")
	}
	const q = `
		INSERT INTO chat_sessions (id, user_id, title, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`
	_, err := c.db.ExecContext(ctx, q, session.ID, session.UserID, session.Title, nullTime(session.CreatedAt))
	return err
}

func (c *DatabaseClient) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	const q = `
		SELECT id, user_id, title, created_at
		FROM chat_sessions
		WHERE id = $1
	`
	var s models.ChatSession
	err := c.db.QueryRowContext(ctx, q, id).Scan(&s.ID, &s.UserID, &s.Title, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *DatabaseClient) ListSessionsByUser(ctx context.Context, userID string) ([]models.ChatSession, error) {
	const q = `
		SELECT id, user_id, title, created_at
		FROM chat_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChatSession
	for rows.Next() {
		var s models.ChatSession
		if err := rows.Scan(&s.ID, &s.UserID, &s.Title, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Implementing the db interface for chat messages

func (c *DatabaseClient) AddMessage(ctx context.Context, m *models.ChatMessage) error {
	if m == nil {
		return errors.New("nil message")
	}
	enc, err := encodeMessageColumns(m)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO chat_messages
			(id, session_id, role, content, table_data, sources, citations, format, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()))
	`
	_, err = c.db.ExecContext(ctx, q,
		m.ID, m.SessionID, m.Role, m.Content, enc.table, enc.sources, enc.citations, m.Format, nullTime(m.CreatedAt))
	return err
}

func (c *DatabaseClient) GetMessagesBySession(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	const q = `
		SELECT id, session_id, role, content, table_data, sources, citations, format, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := c.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChatMessage
	for rows.Next() {
		var (
			m   models.ChatMessage
			enc messageColumns
		)
		if err := rows.Scan(
			&m.ID, &m.SessionID, &m.Role, &m.Content, &enc.table, &enc.sources, &enc.citations, &m.Format, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := decodeMessageColumns(enc, &m); err != nil {
			return nil, fmt.Errorf("message %s: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Implementing the db interface for answer embeddings

func (c *DatabaseClient) InsertMessageEmbedding(ctx context.Context, messageID string, embedding []float32) error {
	const q = `
		INSERT INTO message_embeddings (message_id, embedding)
		VALUES ($1, $2)
		ON CONFLICT (message_id) DO UPDATE SET embedding = EXCLUDED.embedding
	`
	_, err := c.db.ExecContext(ctx, q, messageID, pgvector.NewVector(embedding))
	return err
}

// SearchMessages finds the stored answers of a user closest to a query embedding.
func (c *DatabaseClient) SearchMessages(ctx context.Context, userID string, queryVec []float32, limit int) ([]models.MessageMatch, error) {
	const q = `
		SELECT m.id, m.session_id, m.content, e.embedding <-> $2 AS distance
		FROM message_embeddings e
		JOIN chat_messages m ON m.id = e.message_id
		JOIN chat_sessions s ON s.id = m.session_id
		WHERE s.user_id = $1
		ORDER BY distance
		LIMIT $3
	`
	rows, err := c.db.QueryContext(ctx, q, userID, pgvector.NewVector(queryVec), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MessageMatch
	for rows.Next() {
		var m models.MessageMatch
		if err := rows.Scan(&m.MessageID, &m.SessionID, &m.Snippet, &m.Distance); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type messageColumns struct {
	table     []byte
	sources   []byte
	citations []byte
}

func encodeMessageColumns(m *models.ChatMessage) (messageColumns, error) {
	var enc messageColumns
	var err error
	if m.Table != nil {
		if enc.table, err = json.Marshal(m.Table); err != nil {
			return enc, fmt.Errorf("encode table: %w", err)
		}
	}
	if enc.sources, err = json.Marshal(nonNil(m.Sources)); err != nil {
		return enc, fmt.Errorf("encode sources: %w", err)
	}
	if enc.citations, err = json.Marshal(nonNil(m.Citations)); err != nil {
		return enc, fmt.Errorf("encode citations: %w", err)
	}
	return enc, nil
}

func decodeMessageColumns(enc messageColumns, m *models.ChatMessage) error {
	if len(enc.table) > 0 && string(enc.table) != "null" {
		m.Table = &models.ComparisonTableData{}
		if err := json.Unmarshal(enc.table, m.Table); err != nil {
			return fmt.Errorf("decode table: %w", err)
		}
	}
	if len(enc.sources) > 0 {
		if err := json.Unmarshal(enc.sources, &m.Sources); err != nil {
			return fmt.Errorf("decode sources: %w", err)
		}
	}
	if len(enc.citations) > 0 {
		if err := json.Unmarshal(enc.citations, &m.Citations); err != nil {
			return fmt.Errorf("decode citations: %w", err)
		}
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

var _ core.DbClient = (*DatabaseClient)(nil)
