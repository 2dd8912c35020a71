package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/pendergraft/deploygate/internal/lock"
	"github.com/pendergraft/deploygate/internal/observability/metrics"
	"github.com/pendergraft/deploygate/internal/storage"
)

// Common errors returned by the deploy service.
var (
	ErrNoSource          = errors.New("no source code provided")
	ErrDuplicateInFlight = errors.New("deployment already in progress for this contract")
	ErrOverrideRequired  = errors.New("force deployment requires confirmOverride: true")
	ErrAnalysisFailed    = errors.New("security analysis failed")
)

// Operating modes of the gate.
const (
	ModeGated  = "gated"
	ModeForced = "forced"
	ModeCheck  = "check"
)

// Scanner produces a vulnerability report for contract source.
type Scanner interface {
	Analyze(ctx context.Context, sourceCode string) (*AnalysisReport, error)
}

// Compiler produces bytecode and ABI from contract source.
type Compiler interface {
	Compile(ctx context.Context, sourceCode, fileName string) (*CompilationResult, error)
}

// Deployer submits a deployment transaction to the chain.
type Deployer interface {
	Deploy(ctx context.Context, tx DeployTx) (*DeploymentResult, error)
}

// AuditStore defines the storage operations needed by the deploy domain.
type AuditStore interface {
	RecordAttempt(ctx context.Context, a *storage.Attempt) error
}

// Service defines the deployment gate interface.
type Service interface {
	// Deploy runs the full gated pipeline: analyze, gate, compile,
	// deploy.
	Deploy(ctx context.Context, sub Submission) (*DeployResult, error)

	// Check runs analysis and the verdict only. It never acquires the
	// lock and never compiles or deploys.
	Check(ctx context.Context, sourceCode string) (*CheckResult, error)

	// ForceDeploy skips the security gate. Analysis still runs so the
	// bypass is auditable after the fact.
	ForceDeploy(ctx context.Context, sub Submission, confirmOverride bool) (*DeployResult, error)

	// Status answers whether a request ID still holds a deployment lock.
	Status(ctx context.Context, requestID string) (*StatusResult, error)

	// Policy returns the process-wide threshold policy.
	Policy() Thresholds
}

// ServiceConfig wires the service's collaborators.
type ServiceConfig struct {
	Scanner    Scanner
	Compiler   Compiler
	Deployer   Deployer
	Locks      lock.Locker
	Audit      AuditStore
	Thresholds Thresholds
	Logger     *slog.Logger

	// CheckCacheSize bounds the check-only result cache; zero disables
	// caching. CheckCacheTTL defaults to 30 seconds.
	CheckCacheSize int
	CheckCacheTTL  time.Duration
}

type service struct {
	scanner    Scanner
	compiler   Compiler
	deployer   Deployer
	locks      lock.Locker
	audit      AuditStore
	thresholds Thresholds
	logger     *slog.Logger
	checkCache *expirable.LRU[string, *CheckResult]
}

// NewService creates a new deployment gate service.
func NewService(cfg ServiceConfig) Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var cache *expirable.LRU[string, *CheckResult]
	if cfg.CheckCacheSize > 0 {
		ttl := cfg.CheckCacheTTL
		if ttl <= 0 {
			ttl = 30 * time.Second
		}
		cache = expirable.NewLRU[string, *CheckResult](cfg.CheckCacheSize, nil, ttl)
	}

	return &service{
		scanner:    cfg.Scanner,
		compiler:   cfg.Compiler,
		deployer:   cfg.Deployer,
		locks:      cfg.Locks,
		audit:      cfg.Audit,
		thresholds: cfg.Thresholds,
		logger:     logger,
		checkCache: cache,
	}
}

// Policy returns the threshold policy.
func (s *service) Policy() Thresholds {
	return s.thresholds
}

// Deploy runs the gated pipeline for a submission.
func (s *service) Deploy(ctx context.Context, sub Submission) (*DeployResult, error) {
	return s.runLocked(ctx, sub, true)
}

// ForceDeploy runs the pipeline with the security gate skipped. It
// rejects before touching the pipeline unless the override was
// explicitly confirmed.
func (s *service) ForceDeploy(ctx context.Context, sub Submission, confirmOverride bool) (*DeployResult, error) {
	if !confirmOverride {
		return nil, ErrOverrideRequired
	}
	return s.runLocked(ctx, sub, false)
}

// runLocked acquires the dedup lock, runs the pipeline, and guarantees
// the lock is released on every exit path.
func (s *service) runLocked(ctx context.Context, sub Submission, gated bool) (*DeployResult, error) {
	if strings.TrimSpace(sub.SourceCode) == "" {
		return nil, ErrNoSource
	}

	mode := ModeGated
	if !gated {
		mode = ModeForced
	}

	requestID := uuid.New().String()
	fingerprint := sub.Fingerprint()

	ok, err := s.locks.TryAcquire(ctx, fingerprint, requestID)
	if err != nil {
		return nil, fmt.Errorf("acquiring deployment lock: %w", err)
	}
	if !ok {
		s.logger.Warn("duplicate deployment attempt",
			"mode", mode,
			"fingerprint", fingerprint,
		)
		metrics.DedupConflict(mode)
		return nil, ErrDuplicateInFlight
	}
	s.publishActiveLocks(ctx)

	// A caller disconnecting must not abort an in-flight deployment;
	// once a transaction is submitted it cannot be retracted.
	runCtx := context.WithoutCancel(ctx)

	defer func() {
		if rerr := s.locks.Release(runCtx, fingerprint); rerr != nil {
			s.logger.Error("releasing deployment lock",
				"fingerprint", fingerprint,
				"request_id", requestID,
				"error", rerr,
			)
		}
		s.publishActiveLocks(runCtx)
	}()

	res := s.runPipeline(runCtx, requestID, sub, gated)
	s.recordAttempt(runCtx, mode, fingerprint, sub, res)
	metrics.Pipeline(mode, string(res.Outcome))
	return res, nil
}

// runPipeline sequences Analyze, Gate, Compile, Deploy with fail-fast
// short-circuiting. The gate step is skipped when gated is false.
func (s *service) runPipeline(ctx context.Context, requestID string, sub Submission, gated bool) *DeployResult {
	res := &DeployResult{RequestID: requestID, Forced: !gated}

	report, err := s.scanner.Analyze(ctx, sub.SourceCode)
	analysisErr := ""
	if err != nil {
		analysisErr = err.Error()
	} else if !report.Success {
		analysisErr = report.Error
	}

	if analysisErr != "" {
		if gated {
			res.Outcome = OutcomeFailed
			res.FailedStep = StepAnalysis
			res.FailureError = analysisErr
			return res
		}
		// Forced mode proceeds without a report, but the absence is
		// annotated so the bypass stays auditable.
		res.AnalysisNote = "Deployed without any security analysis"
		s.logger.Warn("force deployment without analysis report",
			"request_id", requestID,
			"error", analysisErr,
		)
	} else {
		res.Report = report
		if gated {
			verdict := Evaluate(report, s.thresholds)
			res.Verdict = &verdict
			if verdict.Blocked {
				res.Outcome = OutcomeBlocked
				for _, rule := range verdict.Rules {
					metrics.VerdictBlocked(rule)
				}
				s.logger.Warn("deployment blocked",
					"request_id", requestID,
					"risk_score", report.RiskScore,
					"reasons", verdict.Reasons,
				)
				return res
			}
		} else {
			res.AnalysisNote = "Security analysis was performed but IGNORED"
			s.logger.Warn("security gate bypassed",
				"request_id", requestID,
				"risk_score", report.RiskScore,
				"critical_vulns", report.CriticalCount(),
			)
		}
	}

	comp, err := s.compiler.Compile(ctx, sub.SourceCode, sub.ContractName+".sol")
	if err != nil {
		res.Outcome = OutcomeFailed
		res.FailedStep = StepCompilation
		res.FailureError = err.Error()
		return res
	}
	if !comp.Success {
		res.Compilation = comp
		res.Outcome = OutcomeFailed
		res.FailedStep = StepCompilation
		res.FailureError = comp.Error
		res.FailureErrors = comp.Errors
		return res
	}
	res.Compilation = comp

	dep, err := s.deployer.Deploy(ctx, DeployTx{
		ABI:             comp.ABI,
		Bytecode:        comp.Bytecode,
		ContractName:    comp.ContractName,
		ConstructorArgs: sub.ConstructorArgs,
	})
	if err != nil {
		res.Outcome = OutcomeFailed
		res.FailedStep = StepDeployment
		res.FailureError = err.Error()
		return res
	}
	if !dep.Success {
		res.Deployment = dep
		res.Outcome = OutcomeFailed
		res.FailedStep = StepDeployment
		res.FailureError = dep.Error
		return res
	}
	res.Deployment = dep
	res.Outcome = OutcomeDeployed
	return res
}

// Check runs steps one and two of the pipeline and reports the would-be
// verdict without touching the lock or deployment state.
func (s *service) Check(ctx context.Context, sourceCode string) (*CheckResult, error) {
	if strings.TrimSpace(sourceCode) == "" {
		return nil, ErrNoSource
	}

	fingerprint := Submission{SourceCode: sourceCode}.Fingerprint()
	if s.checkCache != nil {
		if cached, ok := s.checkCache.Get(fingerprint); ok {
			return cached, nil
		}
	}

	report, err := s.scanner.Analyze(ctx, sourceCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}
	if !report.Success {
		return nil, fmt.Errorf("%w: %s", ErrAnalysisFailed, report.Error)
	}

	verdict := Evaluate(report, s.thresholds)
	status, message := CheckStatus(report, verdict, s.thresholds)

	res := &CheckResult{
		Report:  report,
		Verdict: verdict,
		Status:  status,
		Message: message,
	}
	if s.checkCache != nil {
		s.checkCache.Add(fingerprint, res)
	}

	s.recordCheck(ctx, fingerprint, res)
	metrics.Pipeline(ModeCheck, strings.ToLower(string(status)))
	return res, nil
}

// Status looks up whether requestID currently holds a deployment lock.
func (s *service) Status(ctx context.Context, requestID string) (*StatusResult, error) {
	held, err := s.locks.IsHeldBy(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("looking up lock holder: %w", err)
	}
	count, err := s.locks.ActiveCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting active locks: %w", err)
	}

	status := StatusCompletedOrNotFound
	if held {
		status = StatusInProgress
	}
	return &StatusResult{
		RequestID:   requestID,
		Status:      status,
		ActiveCount: count,
	}, nil
}

// recordAttempt persists a terminal pipeline outcome to the audit
// trail. Audit failures are logged, never surfaced to the caller.
func (s *service) recordAttempt(ctx context.Context, mode, fingerprint string, sub Submission, res *DeployResult) {
	if s.audit == nil {
		return
	}

	a := &storage.Attempt{
		ID:               uuid.New().String(),
		RequestID:        res.RequestID,
		Fingerprint:      fingerprint,
		Mode:             mode,
		ContractName:     sub.ContractName,
		Outcome:          string(res.Outcome),
		FailedStep:       res.FailedStep,
		Error:            res.FailureError,
		BypassedSecurity: res.Forced,
	}
	if res.Report != nil {
		a.RiskScore = res.Report.RiskScore
		a.CriticalVulns = res.Report.CriticalCount()
		a.HighVulns = res.Report.HighCount()
		a.SlitherUsed = res.Report.SlitherUsed
	}
	if res.Verdict != nil {
		a.BlockReasons = res.Verdict.Reasons
	}
	if res.Deployment != nil {
		a.ContractAddress = res.Deployment.ContractAddress
		a.TxHash = res.Deployment.TxHash
	}

	if err := s.audit.RecordAttempt(ctx, a); err != nil {
		s.logger.Error("recording audit attempt",
			"request_id", res.RequestID,
			"mode", mode,
			"error", err,
		)
	}
}

// recordCheck persists a check-only verdict to the audit trail.
func (s *service) recordCheck(ctx context.Context, fingerprint string, res *CheckResult) {
	if s.audit == nil {
		return
	}

	a := &storage.Attempt{
		ID:           uuid.New().String(),
		Fingerprint:  fingerprint,
		Mode:         ModeCheck,
		Outcome:      strings.ToLower(string(res.Status)),
		RiskScore:    res.Report.RiskScore,
		SlitherUsed:  res.Report.SlitherUsed,
		BlockReasons: res.Verdict.Reasons,
	}
	a.CriticalVulns = res.Report.CriticalCount()
	a.HighVulns = res.Report.HighCount()

	if err := s.audit.RecordAttempt(ctx, a); err != nil {
		s.logger.Error("recording audit check", "fingerprint", fingerprint, "error", err)
	}
}

func (s *service) publishActiveLocks(ctx context.Context) {
	count, err := s.locks.ActiveCount(ctx)
	if err != nil {
		return
	}
	metrics.ActiveLocks(count)
}
