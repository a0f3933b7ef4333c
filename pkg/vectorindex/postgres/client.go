// Package postgres provides a PostgreSQL implementation of the craving-log
// vector index.
//
// Embeddings are stored as JSON strings in TEXT columns and similarity is
// calculated in memory, keeping the schema portable across deployments that
// do not ship a vector extension.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/crave-labs/cravecore-go/pkg/vectorindex"
)

// Client implements vectorindex.Index using PostgreSQL as the backend.
type Client struct {
	db        *sql.DB
	tableName string
}

// Config contains configuration for creating a PostgreSQL index.
type Config struct {
	// Host is the PostgreSQL server host.
	Host string

	// Port is the PostgreSQL server port.
	Port int

	// User is the PostgreSQL user.
	User string

	// Password is the PostgreSQL password.
	Password string

	// DBName is the database name.
	DBName string

	// TableName is the table to use. Defaults to "craving_logs".
	TableName string

	// SSLMode is the libpq sslmode value. Defaults to "disable".
	SSLMode string
}

// NewClient creates a new PostgreSQL index client.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresIndex: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewPostgresIndex: %w", err)
	}

	table := cfg.TableName
	if table == "" {
		table = "craving_logs"
	}

	client := &Client{db: db, tableName: table}
	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

// initTables initializes the database table structure.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			description TEXT NOT NULL,
			intensity INTEGER NOT NULL DEFAULT 0,
			embedding TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)
	`, c.tableName)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_user_created ON %s(user_id, created_at)
	`, c.tableName, c.tableName)
	if _, err := c.db.ExecContext(ctx, indexQuery); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	return nil
}

// Insert inserts a log entry into the PostgreSQL database.
func (c *Client) Insert(ctx context.Context, entry *vectorindex.Entry) error {
	embeddingJSON, err := json.Marshal(entry.Embedding)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	if entry.ID != 0 {
		query := fmt.Sprintf(`
			INSERT INTO %s (id, user_id, description, intensity, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, c.tableName)
		_, err = c.db.ExecContext(ctx, query,
			entry.ID, entry.UserID, entry.Description, entry.Intensity,
			string(embeddingJSON), createdAt)
	} else {
		query := fmt.Sprintf(`
			INSERT INTO %s (user_id, description, intensity, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, c.tableName)
		err = c.db.QueryRowContext(ctx, query,
			entry.UserID, entry.Description, entry.Intensity,
			string(embeddingJSON), createdAt).Scan(&entry.ID)
	}
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	return nil
}

// Query performs vector similarity search using cosine similarity.
func (c *Client) Query(ctx context.Context, userID string, embedding []float64, k int) ([]*vectorindex.Match, error) {
	query := fmt.Sprintf(`
		SELECT id, user_id, description, intensity, embedding, created_at
		FROM %s
		WHERE user_id = $1
		ORDER BY id
	`, c.tableName)

	rows, err := c.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []*vectorindex.Match
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, &vectorindex.Match{
			Entry:      entry,
			Similarity: cosineSimilarity(embedding, entry.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}

	return topMatches(matches, k), nil
}

// EntriesBefore returns all of a user's entries logged before the cutoff.
func (c *Client) EntriesBefore(ctx context.Context, userID string, cutoff time.Time) ([]*vectorindex.Entry, error) {
	query := fmt.Sprintf(`
		SELECT id, user_id, description, intensity, embedding, created_at
		FROM %s
		WHERE user_id = $1 AND created_at < $2
		ORDER BY created_at ASC
	`, c.tableName)

	rows, err := c.db.QueryContext(ctx, query, userID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("EntriesBefore: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*vectorindex.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("EntriesBefore: %w", err)
	}
	return entries, nil
}

// scanEntry scans a row into an Entry, decoding the JSON embedding.
func scanEntry(rows *sql.Rows) (*vectorindex.Entry, error) {
	var entry vectorindex.Entry
	var embeddingJSON string

	if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Description,
		&entry.Intensity, &embeddingJSON, &entry.CreatedAt); err != nil {
		return nil, fmt.Errorf("scanEntry: %w", err)
	}
	if err := json.Unmarshal([]byte(embeddingJSON), &entry.Embedding); err != nil {
		return nil, fmt.Errorf("scanEntry: %w", err)
	}
	return &entry, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	return c.db.Close()
}
