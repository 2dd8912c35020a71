package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	-- Deployment attempts (audit trail)
	CREATE TABLE IF NOT EXISTS attempts (
		id UUID PRIMARY KEY,
		request_id TEXT,
		fingerprint TEXT NOT NULL,
		mode TEXT NOT NULL,
		contract_name TEXT,
		outcome TEXT NOT NULL,
		risk_score INTEGER DEFAULT 0,
		critical_vulns INTEGER DEFAULT 0,
		high_vulns INTEGER DEFAULT 0,
		slither_used BOOLEAN DEFAULT FALSE,
		block_reasons JSONB,
		failed_step TEXT,
		error TEXT,
		contract_address TEXT,
		tx_hash TEXT,
		bypassed_security BOOLEAN DEFAULT FALSE,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	-- API keys
	CREATE TABLE IF NOT EXISTS api_keys (
		id UUID PRIMARY KEY,
		key_hash TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		last_used_at TIMESTAMPTZ,
		revoked_at TIMESTAMPTZ
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_attempts_request ON attempts(request_id);
	CREATE INDEX IF NOT EXISTS idx_attempts_fingerprint ON attempts(fingerprint);
	CREATE INDEX IF NOT EXISTS idx_attempts_created ON attempts(created_at);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// RecordAttempt inserts one audited pipeline outcome.
func (s *PostgresStore) RecordAttempt(ctx context.Context, a *Attempt) error {
	reasons, err := json.Marshal(a.BlockReasons)
	if err != nil {
		return fmt.Errorf("encoding block reasons: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO attempts (
			id, request_id, fingerprint, mode, contract_name, outcome,
			risk_score, critical_vulns, high_vulns, slither_used,
			block_reasons, failed_step, error, contract_address, tx_hash,
			bypassed_security
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		a.ID, a.RequestID, a.Fingerprint, a.Mode, a.ContractName, a.Outcome,
		a.RiskScore, a.CriticalVulns, a.HighVulns, a.SlitherUsed,
		string(reasons), a.FailedStep, a.Error, a.ContractAddress, a.TxHash,
		a.BypassedSecurity,
	)
	if err != nil {
		return fmt.Errorf("inserting attempt: %w", err)
	}
	return nil
}

// GetAttempt retrieves the most recent attempt for a request ID.
func (s *PostgresStore) GetAttempt(ctx context.Context, requestID string) (*Attempt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, fingerprint, mode, contract_name, outcome,
			risk_score, critical_vulns, high_vulns, slither_used,
			block_reasons, failed_step, error, contract_address, tx_hash,
			bypassed_security, created_at::text
		FROM attempts WHERE request_id = $1
		ORDER BY created_at DESC LIMIT 1`, requestID)

	a, err := scanPgAttempt(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return a, err
}

// ListAttempts lists audited attempts, newest first.
func (s *PostgresStore) ListAttempts(ctx context.Context, filter AttemptFilter, pagination PaginationParams) (*PaginatedResult[Attempt], error) {
	limit := pagination.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := 0
	if pagination.Cursor != "" {
		if n, err := strconv.Atoi(pagination.Cursor); err == nil && n > 0 {
			offset = n
		}
	}

	query := `
		SELECT id, request_id, fingerprint, mode, contract_name, outcome,
			risk_score, critical_vulns, high_vulns, slither_used,
			block_reasons, failed_step, error, contract_address, tx_hash,
			bypassed_security, created_at::text
		FROM attempts WHERE TRUE`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Mode != "" {
		query += " AND mode = " + arg(filter.Mode)
	}
	if filter.Outcome != "" {
		query += " AND outcome = " + arg(filter.Outcome)
	}
	if filter.Fingerprint != "" {
		query += " AND fingerprint = " + arg(filter.Fingerprint)
	}
	query += " ORDER BY created_at DESC LIMIT " + arg(limit+1) + " OFFSET " + arg(offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		a, err := scanPgAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := &PaginatedResult[Attempt]{Data: attempts}
	if len(attempts) > limit {
		result.Data = attempts[:limit]
		result.HasMore = true
		result.NextCursor = strconv.Itoa(offset + limit)
	}
	return result, nil
}

func scanPgAttempt(row rowScanner) (*Attempt, error) {
	var a Attempt
	var reasons []byte
	var requestID, contractName, failedStep, errMsg, address, txHash sql.NullString
	err := row.Scan(
		&a.ID, &requestID, &a.Fingerprint, &a.Mode, &contractName, &a.Outcome,
		&a.RiskScore, &a.CriticalVulns, &a.HighVulns, &a.SlitherUsed,
		&reasons, &failedStep, &errMsg, &address, &txHash,
		&a.BypassedSecurity, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.RequestID = requestID.String
	a.ContractName = contractName.String
	a.FailedStep = failedStep.String
	a.Error = errMsg.String
	a.ContractAddress = address.String
	a.TxHash = txHash.String
	if len(reasons) > 0 {
		if err := json.Unmarshal(reasons, &a.BlockReasons); err != nil {
			return nil, fmt.Errorf("decoding block reasons: %w", err)
		}
	}
	return &a, nil
}

// CreateAPIKey creates a new API key and returns the plaintext key once.
func (s *PostgresStore) CreateAPIKey(ctx context.Context, name string) (string, error) {
	key := generateAPIKey()
	hash := hashAPIKey(key)
	id := generateID()
	_, err := s.db.ExecContext(ctx, "INSERT INTO api_keys (id, key_hash, name) VALUES ($1, $2, $3)", id, hash, name)
	if err != nil {
		return "", err
	}
	return key, nil
}

// ValidateAPIKey validates a key and updates its last-used timestamp.
func (s *PostgresStore) ValidateAPIKey(ctx context.Context, key string) (*APIKey, error) {
	hash := hashAPIKey(key)
	var ak APIKey
	err := s.db.QueryRowContext(ctx, "SELECT id, key_hash, name, created_at::text FROM api_keys WHERE key_hash = $1 AND revoked_at IS NULL", hash).Scan(
		&ak.ID, &ak.KeyHash, &ak.Name, &ak.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	_, _ = s.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = NOW() WHERE id = $1", ak.ID)
	return &ak, err
}

// ListAPIKeys lists all non-revoked API keys.
func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at::text, last_used_at::text FROM api_keys WHERE revoked_at IS NULL")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		var lastUsed sql.NullString
		if err := rows.Scan(&k.ID, &k.Name, &k.CreatedAt, &lastUsed); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			k.LastUsedAt = lastUsed.String
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey revokes an API key by ID.
func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE api_keys SET revoked_at = NOW() WHERE id = $1", id)
	return err
}
