package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/lib/pq"

	"github.com/vigilis/sentinel/pkg/domain/client"
	"github.com/vigilis/sentinel/pkg/logger"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// PostgresStore keeps the registry as a single JSONB document row.
type PostgresStore struct {
	db         *sql.DB
	table      string // quoted identifier
	documentID string
	logger     *logger.Logger
}

// OpenPostgres opens a lib/pq connection pool and checks connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewPostgresStore creates a Postgres-backed repository.
func NewPostgresStore(db *sql.DB, table, documentID string, log *logger.Logger) (*PostgresStore, error) {
	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid registry table name: %q", table)
	}
	if documentID == "" {
		documentID = "default"
	}
	return &PostgresStore{
		db:         db,
		table:      pq.QuoteIdentifier(table),
		documentID: documentID,
		logger:     log.With("component", "registry", "backend", "postgres"),
	}, nil
}

// EnsureSchema creates the document table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	document JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create registry table: %w", err)
	}
	return nil
}

// Load reads the registry document row.
func (s *PostgresStore) Load(ctx context.Context) (*client.Registry, error) {
	query := fmt.Sprintf(`SELECT document FROM %s WHERE id = $1`, s.table)

	var doc []byte
	err := s.db.QueryRowContext(ctx, query, s.documentID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %q not found", client.ErrRegistryUnavailable, s.documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", client.ErrRegistryUnavailable, err)
	}

	var reg client.Registry
	if err := json.Unmarshal(doc, &reg); err != nil {
		return nil, fmt.Errorf("%w: decode document: %v", client.ErrRegistryUnavailable, err)
	}
	return &reg, nil
}

// Replace upserts the registry document row.
func (s *PostgresStore) Replace(ctx context.Context, reg *client.Registry) error {
	doc, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", client.ErrRegistryPersist, err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, document, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`, s.table)

	if _, err := s.db.ExecContext(ctx, query, s.documentID, string(doc)); err != nil {
		return fmt.Errorf("%w: %v", client.ErrRegistryPersist, err)
	}
	s.logger.Debug("registry upserted", "document", s.documentID, "clients", len(reg.Clients))
	return nil
}
