// Package mysql provides a MySQL-backed adapter payload store.
//
// Payloads are stored in a LONGBLOB column so a fleet of inference nodes can
// share one durable adapter catalogue.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/crave-labs/cravecore-go/pkg/blobstore"
)

// Store implements blobstore.Store using MySQL as the backend.
type Store struct {
	db        *sql.DB
	tableName string
}

// Config contains configuration for creating a MySQL blob store.
type Config struct {
	// Host is the MySQL server host.
	Host string

	// Port is the MySQL server port.
	Port int

	// User is the MySQL user.
	User string

	// Password is the MySQL password.
	Password string

	// DBName is the database name.
	DBName string

	// TableName is the table holding adapter payloads.
	TableName string
}

// New creates a MySQL blob store and initializes the payload table.
func New(cfg *Config) (*Store, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewMySQLStore: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewMySQLStore: %v: %w", err, blobstore.ErrUnavailable)
	}

	table := cfg.TableName
	if table == "" {
		table = "adapter_blobs"
	}

	store := &Store{db: db, tableName: table}
	if err := store.initTables(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

// initTables initializes the payload table.
func (s *Store) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			adapter_id VARCHAR(128) PRIMARY KEY,
			payload LONGBLOB NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`, s.tableName)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %v: %w", err, blobstore.ErrUnavailable)
	}
	return nil
}

// Read returns the payload bytes for an adapter id.
func (s *Store) Read(ctx context.Context, adapterID string) ([]byte, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE adapter_id = ?`, s.tableName)

	var payload []byte
	err := s.db.QueryRowContext(ctx, query, adapterID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("Read %q: %w", adapterID, blobstore.ErrAdapterNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Read %q: %v: %w", adapterID, err, blobstore.ErrUnavailable)
	}
	return payload, nil
}

// Exists reports whether a payload is stored for the adapter id.
func (s *Store) Exists(ctx context.Context, adapterID string) (bool, error) {
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE adapter_id = ?`, s.tableName)

	var one int
	err := s.db.QueryRowContext(ctx, query, adapterID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("Exists %q: %v: %w", adapterID, err, blobstore.ErrUnavailable)
	}
	return true, nil
}

// Put stores the payload bytes, replacing any previous payload.
func (s *Store) Put(ctx context.Context, adapterID string, payload []byte) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (adapter_id, payload, updated_at)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE payload = VALUES(payload), updated_at = VALUES(updated_at)
	`, s.tableName)

	if _, err := s.db.ExecContext(ctx, query, adapterID, payload, time.Now()); err != nil {
		return fmt.Errorf("Put %q: %v: %w", adapterID, err, blobstore.ErrUnavailable)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
