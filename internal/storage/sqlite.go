package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	-- Deployment attempts (audit trail)
	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		request_id TEXT,
		fingerprint TEXT NOT NULL,
		mode TEXT NOT NULL,
		contract_name TEXT,
		outcome TEXT NOT NULL,
		risk_score INTEGER DEFAULT 0,
		critical_vulns INTEGER DEFAULT 0,
		high_vulns INTEGER DEFAULT 0,
		slither_used INTEGER DEFAULT 0,
		block_reasons TEXT,
		failed_step TEXT,
		error TEXT,
		contract_address TEXT,
		tx_hash TEXT,
		bypassed_security INTEGER DEFAULT 0,
		created_at TEXT DEFAULT (datetime('now'))
	);

	-- API keys
	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		key_hash TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at TEXT DEFAULT (datetime('now')),
		last_used_at TEXT,
		revoked_at TEXT
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
func (s *SQLiteStore) RecordAttempt(ctx context.Context, a *Attempt) error {
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
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RequestID, a.Fingerprint, a.Mode, a.ContractName, a.Outcome,
		a.RiskScore, a.CriticalVulns, a.HighVulns, boolToInt(a.SlitherUsed),
		string(reasons), a.FailedStep, a.Error, a.ContractAddress, a.TxHash,
		boolToInt(a.BypassedSecurity),
	)
	if err != nil {
		return fmt.Errorf("inserting attempt: %w", err)
	}
	return nil
}

// GetAttempt retrieves the most recent attempt for a request ID.
func (s *SQLiteStore) GetAttempt(ctx context.Context, requestID string) (*Attempt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, fingerprint, mode, contract_name, outcome,
			risk_score, critical_vulns, high_vulns, slither_used,
			block_reasons, failed_step, error, contract_address, tx_hash,
			bypassed_security, created_at
		FROM attempts WHERE request_id = ?
		ORDER BY created_at DESC LIMIT 1`, requestID)

	a, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return a, err
}

// ListAttempts lists audited attempts, newest first. Cursor is the
// offset encoded as a string.
func (s *SQLiteStore) ListAttempts(ctx context.Context, filter AttemptFilter, pagination PaginationParams) (*PaginatedResult[Attempt], error) {
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
			bypassed_security, created_at
		FROM attempts WHERE 1=1`
	var args []any
	if filter.Mode != "" {
		query += " AND mode = ?"
		args = append(args, filter.Mode)
	}
	if filter.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, filter.Outcome)
	}
	if filter.Fingerprint != "" {
		query += " AND fingerprint = ?"
		args = append(args, filter.Fingerprint)
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit+1, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
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

// scanner abstracts sql.Row and sql.Rows for scanAttempt.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*Attempt, error) {
	var a Attempt
	var reasons string
	var slither, bypassed int
	var requestID, contractName, failedStep, errMsg, address, txHash sql.NullString
	err := row.Scan(
		&a.ID, &requestID, &a.Fingerprint, &a.Mode, &contractName, &a.Outcome,
		&a.RiskScore, &a.CriticalVulns, &a.HighVulns, &slither,
		&reasons, &failedStep, &errMsg, &address, &txHash,
		&bypassed, &a.CreatedAt,
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
	a.SlitherUsed = slither != 0
	a.BypassedSecurity = bypassed != 0
	if reasons != "" {
		if err := json.Unmarshal([]byte(reasons), &a.BlockReasons); err != nil {
			return nil, fmt.Errorf("decoding block reasons: %w", err)
		}
	}
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CreateAPIKey creates a new API key and returns the plaintext key once.
func (s *SQLiteStore) CreateAPIKey(ctx context.Context, name string) (string, error) {
	key := generateAPIKey()
	hash := hashAPIKey(key)
	id := generateID()
	_, err := s.db.ExecContext(ctx, "INSERT INTO api_keys (id, key_hash, name, created_at) VALUES (?, ?, ?, datetime('now'))", id, hash, name)
	if err != nil {
		return "", err
	}
	return key, nil
}

// ValidateAPIKey validates a key and updates its last-used timestamp.
func (s *SQLiteStore) ValidateAPIKey(ctx context.Context, key string) (*APIKey, error) {
	hash := hashAPIKey(key)
	var ak APIKey
	err := s.db.QueryRowContext(ctx, "SELECT id, key_hash, name, created_at FROM api_keys WHERE key_hash = ? AND revoked_at IS NULL", hash).Scan(
		&ak.ID, &ak.KeyHash, &ak.Name, &ak.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	// Update last used
	_, _ = s.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = datetime('now') WHERE id = ?", ak.ID)
	return &ak, err
}

// ListAPIKeys lists all non-revoked API keys.
func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at, last_used_at FROM api_keys WHERE revoked_at IS NULL")
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
func (s *SQLiteStore) RevokeAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE api_keys SET revoked_at = datetime('now') WHERE id = ?", id)
	return err
}
