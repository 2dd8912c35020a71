package storage

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deploygate-test.db")
	store, err := NewSQLiteStore(path, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func testAttempt(mode, outcome string) *Attempt {
	return &Attempt{
		ID:            uuid.New().String(),
		RequestID:     uuid.New().String(),
		Fingerprint:   "fp-" + uuid.New().String()[:8],
		Mode:          mode,
		ContractName:  "Token",
		Outcome:       outcome,
		RiskScore:     12,
		CriticalVulns: 0,
		HighVulns:     1,
		SlitherUsed:   true,
	}
}

func TestSQLiteStore_RecordAndGetAttempt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := testAttempt("gated", "deployed")
	a.ContractAddress = "0x1234567890abcdef1234567890abcdef12345678"
	a.TxHash = "0xabc"
	require.NoError(t, store.RecordAttempt(ctx, a))

	got, err := store.GetAttempt(ctx, a.RequestID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "gated", got.Mode)
	assert.Equal(t, "deployed", got.Outcome)
	assert.Equal(t, a.ContractAddress, got.ContractAddress)
	assert.True(t, got.SlitherUsed)
	assert.False(t, got.BypassedSecurity)
	assert.NotEmpty(t, got.CreatedAt)
}

func TestSQLiteStore_GetAttemptNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetAttempt(context.Background(), "no-such-request")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_BlockReasonsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := testAttempt("gated", "blocked")
	a.RiskScore = 90
	a.CriticalVulns = 3
	a.BlockReasons = []string{
		"3 CRITICAL vulnerability(s) detected",
		"Risk score 90 >= 50",
	}
	require.NoError(t, store.RecordAttempt(ctx, a))

	got, err := store.GetAttempt(ctx, a.RequestID)
	require.NoError(t, err)
	assert.Equal(t, a.BlockReasons, got.BlockReasons)
}

func TestSQLiteStore_ListAttempts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.RecordAttempt(ctx, testAttempt("gated", "deployed")))
	}
	forced := testAttempt("forced", "deployed")
	forced.BypassedSecurity = true
	require.NoError(t, store.RecordAttempt(ctx, forced))

	result, err := store.ListAttempts(ctx, AttemptFilter{}, PaginationParams{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, result.Data, 4)
	assert.False(t, result.HasMore)

	result, err = store.ListAttempts(ctx, AttemptFilter{Mode: "forced"}, PaginationParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, result.Data, 1)
	assert.True(t, result.Data[0].BypassedSecurity)
}

func TestSQLiteStore_ListAttemptsPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.RecordAttempt(ctx, testAttempt("check", "allowed")))
	}

	page, err := store.ListAttempts(ctx, AttemptFilter{}, PaginationParams{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, page.Data, 3)
	assert.True(t, page.HasMore)
	require.NotEmpty(t, page.NextCursor)

	rest, err := store.ListAttempts(ctx, AttemptFilter{}, PaginationParams{Limit: 3, Cursor: page.NextCursor})
	require.NoError(t, err)
	assert.Len(t, rest.Data, 2)
	assert.False(t, rest.HasMore)
}

func TestSQLiteStore_APIKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	key, err := store.CreateAPIKey(ctx, "ci-deploy")
	require.NoError(t, err)
	assert.Contains(t, key, "dg_key_")

	ak, err := store.ValidateAPIKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "ci-deploy", ak.Name)

	_, err = store.ValidateAPIKey(ctx, "dg_key_bogus")
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err := store.ListAPIKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	require.NoError(t, store.RevokeAPIKey(ctx, ak.ID))
	_, err = store.ValidateAPIKey(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}
