// Package storage provides the persistent audit trail and API key store.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pendergraft/deploygate/internal/config"
)

// AttemptStore records terminal pipeline outcomes
type AttemptStore interface {
	RecordAttempt(ctx context.Context, a *Attempt) error
	GetAttempt(ctx context.Context, requestID string) (*Attempt, error)
	ListAttempts(ctx context.Context, filter AttemptFilter, pagination PaginationParams) (*PaginatedResult[Attempt], error)
}

// APIKeyStore handles API key operations
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, name string) (key string, err error)
	ValidateAPIKey(ctx context.Context, key string) (*APIKey, error)
	ListAPIKeys(ctx context.Context) ([]APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
}

// Store combines all storage interfaces with lifecycle methods.
// Domain services define their own minimal interfaces based on their actual usage.
type Store interface {
	AttemptStore
	APIKeyStore

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// Attempt is one audited pipeline run: gated, forced, or check-only.
type Attempt struct {
	ID               string
	RequestID        string
	Fingerprint      string
	Mode             string
	ContractName     string
	Outcome          string
	RiskScore        int
	CriticalVulns    int
	HighVulns        int
	SlitherUsed      bool
	BlockReasons     []string
	FailedStep       string
	Error            string
	ContractAddress  string
	TxHash           string
	BypassedSecurity bool
	CreatedAt        string
}

// APIKey represents an API key
type APIKey struct {
	ID         string
	Name       string
	KeyHash    string
	CreatedAt  string
	LastUsedAt string
	RevokedAt  string
}

// AttemptFilter contains filter options for listing attempts
type AttemptFilter struct {
	Mode        string
	Outcome     string
	Fingerprint string
}

// PaginationParams contains pagination options
type PaginationParams struct {
	Limit  int
	Cursor string
}

// PaginatedResult contains paginated results
type PaginatedResult[T any] struct {
	Data       []T
	HasMore    bool
	NextCursor string
}

// New creates a new store based on configuration
func New(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres.URL, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
