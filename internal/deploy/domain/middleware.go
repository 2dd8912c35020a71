package domain

import (
	"context"
	"log/slog"
	"time"
)

// LoggingMiddleware returns a service middleware that logs all
// operations.
func LoggingMiddleware(logger *slog.Logger) func(Service) Service {
	return func(next Service) Service {
		return &loggingMiddleware{next: next, logger: logger}
	}
}

type loggingMiddleware struct {
	next   Service
	logger *slog.Logger
}

func (m *loggingMiddleware) Deploy(ctx context.Context, sub Submission) (*DeployResult, error) {
	start := time.Now()
	res, err := m.next.Deploy(ctx, sub)
	attrs := []any{
		"contract", sub.ContractName,
		"duration", time.Since(start),
		"error", err,
	}
	if res != nil {
		attrs = append(attrs,
			"request_id", res.RequestID,
			"outcome", res.Outcome,
		)
	}
	m.logger.Info("Deploy", attrs...)
	return res, err
}

func (m *loggingMiddleware) ForceDeploy(ctx context.Context, sub Submission, confirmOverride bool) (*DeployResult, error) {
	start := time.Now()
	res, err := m.next.ForceDeploy(ctx, sub, confirmOverride)
	attrs := []any{
		"contract", sub.ContractName,
		"confirmed", confirmOverride,
		"duration", time.Since(start),
		"error", err,
	}
	if res != nil {
		attrs = append(attrs,
			"request_id", res.RequestID,
			"outcome", res.Outcome,
		)
	}
	// Bypasses are always logged at warn so they stand out in the audit
	// trail.
	m.logger.Warn("ForceDeploy", attrs...)
	return res, err
}

func (m *loggingMiddleware) Check(ctx context.Context, sourceCode string) (*CheckResult, error) {
	start := time.Now()
	res, err := m.next.Check(ctx, sourceCode)
	attrs := []any{
		"duration", time.Since(start),
		"error", err,
	}
	if res != nil {
		attrs = append(attrs,
			"status", res.Status,
			"risk_score", res.Report.RiskScore,
		)
	}
	m.logger.Info("Check", attrs...)
	return res, err
}

func (m *loggingMiddleware) Status(ctx context.Context, requestID string) (*StatusResult, error) {
	start := time.Now()
	res, err := m.next.Status(ctx, requestID)
	m.logger.Debug("Status",
		"request_id", requestID,
		"duration", time.Since(start),
		"error", err,
	)
	return res, err
}

func (m *loggingMiddleware) Policy() Thresholds {
	return m.next.Policy()
}
