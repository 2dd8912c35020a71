package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/deploygate/internal/config"
	"github.com/pendergraft/deploygate/internal/deploy/domain"
	"github.com/pendergraft/deploygate/internal/lock"
	"github.com/pendergraft/deploygate/internal/storage"
)

type fakeScanner struct {
	report *domain.AnalysisReport
	err    error
}

func (f *fakeScanner) Analyze(ctx context.Context, sourceCode string) (*domain.AnalysisReport, error) {
	return f.report, f.err
}

type fakeCompiler struct {
	calls int
	mu    sync.Mutex
}

func (f *fakeCompiler) Compile(ctx context.Context, sourceCode, fileName string) (*domain.CompilationResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return &domain.CompilationResult{
		Success:      true,
		ABI:          json.RawMessage(`[]`),
		Bytecode:     "0x6080",
		ContractName: "Test",
	}, nil
}

type fakeDeployer struct {
	delay time.Duration
	calls int
	mu    sync.Mutex
}

func (f *fakeDeployer) Deploy(ctx context.Context, tx domain.DeployTx) (*domain.DeploymentResult, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return &domain.DeploymentResult{
		Success:         true,
		ContractAddress: "0x1234567890abcdef1234567890abcdef12345678",
		TxHash:          "0xdead",
		NetworkName:     "sepolia",
	}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:  config.ServerConfig{Port: 0},
		Storage: config.StorageConfig{Type: "sqlite"},
		Auth:    config.AuthConfig{Type: "none"},
		Policy: config.PolicyConfig{
			RiskScoreThreshold:    50,
			CriticalVulnThreshold: 1,
			HighVulnThreshold:     5,
			FallbackRiskCeiling:   30,
			AdvisoryRiskCeiling:   25,
		},
		Lock:     config.LockConfig{Type: "memory", TTLSeconds: 120},
		Security: config.SecurityConfig{FilterEnabled: true, MaxBodySizeMB: 2},
		Logging:  config.LoggingConfig{Level: "error", Format: "text"},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, deps Deps) (*Server, storage.Store) {
	t.Helper()

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	if deps.Locks == nil {
		deps.Locks = lock.NewMemory(0)
	}
	srv, err := New(cfg, store, deps, slog.Default())
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv, store
}

func doPost(router http.Handler, path string, body map[string]any, headers map[string]string) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t), Deps{
		Scanner:  &fakeScanner{report: &domain.AnalysisReport{Success: true, SlitherUsed: true, Summary: map[string]int{}}},
		Compiler: &fakeCompiler{},
		Deployer: &fakeDeployer{},
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_GatedDeployEndToEnd(t *testing.T) {
	comp := &fakeCompiler{}
	dep := &fakeDeployer{}
	srv, _ := newTestServer(t, testConfig(t), Deps{
		Scanner: &fakeScanner{report: &domain.AnalysisReport{
			Success:     true,
			RiskScore:   10,
			Summary:     map[string]int{"critical": 0, "high": 0},
			SlitherUsed: true,
		}},
		Compiler: comp,
		Deployer: dep,
	})

	rec := doPost(srv.Handler(), "/api/v1/deploy/analyze-and-deploy", map[string]any{
		"code": "contract A {}",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["deployed"])
	assert.Equal(t, false, body["blocked"])
	assert.Equal(t, 1, comp.calls)
	assert.Equal(t, 1, dep.calls)
}

func TestServer_BlockedDeployNeverCompiles(t *testing.T) {
	comp := &fakeCompiler{}
	dep := &fakeDeployer{}
	srv, store := newTestServer(t, testConfig(t), Deps{
		Scanner: &fakeScanner{report: &domain.AnalysisReport{
			Success:     true,
			RiskScore:   60,
			Summary:     map[string]int{"critical": 0, "high": 0},
			SlitherUsed: true,
		}},
		Compiler: comp,
		Deployer: dep,
	})

	rec := doPost(srv.Handler(), "/api/v1/deploy/analyze-and-deploy", map[string]any{
		"code": "contract Risky {}",
	}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 0, comp.calls)
	assert.Equal(t, 0, dep.calls)

	// The refusal is in the audit trail.
	attempts, err := store.ListAttempts(context.Background(), storage.AttemptFilter{Outcome: "blocked"}, storage.PaginationParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, attempts.Data, 1)
	assert.Equal(t, 60, attempts.Data[0].RiskScore)
}

func TestServer_ConcurrentDuplicateRejected(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t), Deps{
		Scanner: &fakeScanner{report: &domain.AnalysisReport{
			Success:     true,
			RiskScore:   5,
			Summary:     map[string]int{},
			SlitherUsed: true,
		}},
		Compiler: &fakeCompiler{},
		Deployer: &fakeDeployer{delay: 200 * time.Millisecond},
	})

	body := map[string]any{"code": "contract Dup {}"}

	codes := make(chan int, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := doPost(srv.Handler(), "/api/v1/deploy/analyze-and-deploy", body, nil)
			codes <- rec.Code
		}()
		// Give the first request time to take the lock.
		if i == 0 {
			time.Sleep(50 * time.Millisecond)
		}
	}
	wg.Wait()
	close(codes)

	var got []int
	for c := range codes {
		got = append(got, c)
	}
	assert.ElementsMatch(t, []int{http.StatusOK, http.StatusTooManyRequests}, got)

	// After completion the same code is independently resubmittable.
	rec := doPost(srv.Handler(), "/api/v1/deploy/analyze-and-deploy", body, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ForceDeployRequiresAPIKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Type = "api-key"

	srv, store := newTestServer(t, cfg, Deps{
		Scanner: &fakeScanner{report: &domain.AnalysisReport{
			Success:     true,
			RiskScore:   90,
			Summary:     map[string]int{"critical": 3},
			SlitherUsed: true,
		}},
		Compiler: &fakeCompiler{},
		Deployer: &fakeDeployer{},
	})

	body := map[string]any{"code": "contract Evil {}", "confirmOverride": true}

	rec := doPost(srv.Handler(), "/api/v1/deploy/force-deploy", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	key, err := store.CreateAPIKey(context.Background(), "tester")
	require.NoError(t, err)

	rec = doPost(srv.Handler(), "/api/v1/deploy/force-deploy", body, map[string]string{"X-API-Key": key})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["forcedDeployment"])
	assert.Equal(t, true, resp["deployed"])

	// Gated route stays open.
	rec = doPost(srv.Handler(), "/api/v1/deploy/analyze-and-deploy", map[string]any{"code": "contract Evil {}"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_StatusAndAudit(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t), Deps{
		Scanner: &fakeScanner{report: &domain.AnalysisReport{
			Success:     true,
			RiskScore:   5,
			Summary:     map[string]int{},
			SlitherUsed: true,
		}},
		Compiler: &fakeCompiler{},
		Deployer: &fakeDeployer{},
	})

	rec := doPost(srv.Handler(), "/api/v1/deploy/analyze-and-deploy", map[string]any{"code": "contract A {}"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var deployResp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &deployResp))
	requestID := deployResp["requestId"].(string)

	// Completed runs no longer hold a lock.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/deploy/deployment-status/"+requestID, nil)
	statusRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(statusRec, req)
	require.Equal(t, http.StatusOK, statusRec.Code)

	var statusResp map[string]any
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &statusResp))
	assert.Equal(t, "completed_or_not_found", statusResp["status"])

	// Audit trail has the deployment.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/audit/"+requestID, nil)
	auditRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(auditRec, req)
	require.Equal(t, http.StatusOK, auditRec.Code)

	var auditResp map[string]any
	require.NoError(t, json.Unmarshal(auditRec.Body.Bytes(), &auditResp))
	assert.Equal(t, "deployed", auditResp["outcome"])
}

func TestServer_SecurityFilterBlocksProbes(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t), Deps{
		Scanner:  &fakeScanner{report: &domain.AnalysisReport{Success: true, Summary: map[string]int{}, SlitherUsed: true}},
		Compiler: &fakeCompiler{},
		Deployer: &fakeDeployer{},
	})

	req := httptest.NewRequest(http.MethodGet, "/wp-admin/setup.php", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
