// Package sqlite provides a SQLite implementation of the craving-log vector
// index.
//
// SQLite is a lightweight, file-based database suitable for local development
// and small deployments. Embeddings are stored as JSON strings in TEXT fields,
// and similarity search uses in-memory cosine similarity calculation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/crave-labs/cravecore-go/pkg/vectorindex"
)

// Client implements vectorindex.Index using SQLite as the backend.
type Client struct {
	// db is the SQLite database connection.
	db *sql.DB

	// tableName is the name of the table storing log entries.
	tableName string
}

// Config contains configuration for creating a SQLite index.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// TableName is the name of the table to use. Defaults to "craving_logs".
	TableName string
}

// NewClient creates a new SQLite index client.
func NewClient(cfg *Config) (*Client, error) {
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return nil, fmt.Errorf("NewSQLiteIndex: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteIndex: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewSQLiteIndex: %w", err)
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
//
// SQLite stores embeddings as JSON strings in TEXT fields.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			description TEXT NOT NULL,
			intensity INTEGER NOT NULL DEFAULT 0,
			embedding TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
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

// Insert inserts a log entry into the SQLite database.
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
			VALUES (?, ?, ?, ?, ?, ?)
		`, c.tableName)
		_, err = c.db.ExecContext(ctx, query,
			entry.ID, entry.UserID, entry.Description, entry.Intensity,
			string(embeddingJSON), createdAt)
	} else {
		query := fmt.Sprintf(`
			INSERT INTO %s (user_id, description, intensity, embedding, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, c.tableName)
		var res sql.Result
		res, err = c.db.ExecContext(ctx, query,
			entry.UserID, entry.Description, entry.Intensity,
			string(embeddingJSON), createdAt)
		if err == nil {
			entry.ID, _ = res.LastInsertId()
		}
	}
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	return nil
}

// Query performs vector similarity search using cosine similarity.
//
// SQLite has no native vector operations, so similarity is calculated in
// memory after loading the user's entries.
func (c *Client) Query(ctx context.Context, userID string, embedding []float64, k int) ([]*vectorindex.Match, error) {
	query := fmt.Sprintf(`
		SELECT id, user_id, description, intensity, embedding, created_at
		FROM %s
		WHERE user_id = ?
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
		WHERE user_id = ? AND created_at < ?
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
