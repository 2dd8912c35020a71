package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/deploygate/internal/deploy/domain"
	"github.com/pendergraft/deploygate/internal/validation"
)

// Handler handles HTTP requests for the deploy domain.
type Handler struct {
	svc domain.Service
}

// NewHandler creates a new deploy HTTP handler.
func NewHandler(svc domain.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the open deploy routes on a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/analyze-and-deploy", h.handleAnalyzeAndDeploy)
	r.Post("/check-only", h.handleCheckOnly)
	r.Get("/deployment-status/{requestId}", h.handleStatus)
}

// RegisterForceRoutes registers the bypass route. It is split out so
// the server can put it behind auth.
func (h *Handler) RegisterForceRoutes(r chi.Router) {
	r.Post("/force-deploy", h.handleForceDeploy)
}

func (h *Handler) handleAnalyzeAndDeploy(w http.ResponseWriter, r *http.Request) {
	var req DeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "No Solidity code provided",
		})
		return
	}

	if !h.validateRequest(w, &req) {
		return
	}

	result, err := h.svc.Deploy(r.Context(), req.ToSubmission())
	if err != nil {
		h.writeDeployError(w, err)
		return
	}
	h.writeDeployResult(w, result)
}

// validateRequest rejects malformed submissions before they reach the
// pipeline. Empty code falls through; the service maps it to the exact
// error shape.
func (h *Handler) validateRequest(w http.ResponseWriter, req *DeployRequest) bool {
	if strings.TrimSpace(req.Code) != "" {
		if err := validation.ValidateSourceCode(req.Code); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"error":   err.Error(),
			})
			return false
		}
	}
	if req.ContractName != "" {
		if err := validation.ValidateContractName(req.ContractName); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"error":   err.Error(),
			})
			return false
		}
	}
	if err := validation.ValidateConstructorArgs(req.ConstructorArgs); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return false
	}
	return true
}

func (h *Handler) handleForceDeploy(w http.ResponseWriter, r *http.Request) {
	var req DeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "No Solidity code provided",
		})
		return
	}

	if !h.validateRequest(w, &req) {
		return
	}

	result, err := h.svc.ForceDeploy(r.Context(), req.ToSubmission(), req.ConfirmOverride)
	if err != nil {
		if errors.Is(err, domain.ErrOverrideRequired) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"error":   "Force deployment requires confirmOverride: true",
				"message": "This bypasses ALL security checks and should only be used for testing",
			})
			return
		}
		h.writeDeployError(w, err)
		return
	}

	if result.Outcome == domain.OutcomeFailed {
		h.writeStepFailure(w, result)
		return
	}

	security := ForcedSecuritySection{
		BypassedSecurity: true,
		Note:             result.AnalysisNote,
	}
	if result.Report != nil {
		security.RiskScore = result.Report.RiskScore
		security.Interpretation = result.Report.Interpretation
		security.Vulnerabilities = result.Report.Vulnerabilities
		security.Summary = result.Report.Summary
	} else {
		security.Error = "Security analysis failed"
	}

	writeJSON(w, http.StatusOK, ForceSuccessResponse{
		Success:          true,
		ForcedDeployment: true,
		Blocked:          false,
		Deployed:         true,
		Message:          "CONTRACT FORCE DEPLOYED - ALL SECURITY CHECKS BYPASSED",
		Warning:          "This deployment bypassed all security checks and should only be used for testing",
		Security:         security,
		Deployment:       result.Deployment,
		RequestID:        result.RequestID,
	})
}

func (h *Handler) handleCheckOnly(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "No Solidity code provided",
		})
		return
	}

	result, err := h.svc.Check(r.Context(), req.Code)
	if err != nil {
		if errors.Is(err, domain.ErrNoSource) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"error":   "No Solidity code provided",
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	wouldBlock := result.Verdict.Blocked
	blockReasons := []string{}
	if wouldBlock {
		blockReasons = result.Verdict.Reasons
	}

	recommendations := make([]string, 0, len(result.Report.Vulnerabilities))
	for _, v := range result.Report.Vulnerabilities {
		recommendations = append(recommendations, v.Recommendation)
	}
	if len(recommendations) == 0 {
		recommendations = []string{"Contract appears secure - no specific recommendations"}
	}

	writeJSON(w, http.StatusOK, CheckResponse{
		Success:           true,
		RiskScore:         result.Report.RiskScore,
		Interpretation:    result.Report.Interpretation,
		DeploymentStatus:  string(result.Status),
		DeploymentAllowed: result.Status == domain.StatusAllowed,
		WouldBlock:        wouldBlock,
		BlockReasons:      blockReasons,
		Thresholds:        h.svc.Policy(),
		Vulnerabilities:   result.Report.Vulnerabilities,
		Summary:           result.Report.Summary,
		SlitherUsed:       result.Report.SlitherUsed,
		Message:           result.Message,
		Recommendations:   recommendations,
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")

	result, err := h.svc.Status(r.Context(), requestID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "Failed to look up deployment status",
		})
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		RequestID:         result.RequestID,
		Status:            result.Status,
		ActiveDeployments: result.ActiveCount,
	})
}

// writeDeployError maps domain errors from Deploy/ForceDeploy to HTTP
// responses.
func (h *Handler) writeDeployError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNoSource):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "No Solidity code provided",
		})
	case errors.Is(err, domain.ErrDuplicateInFlight):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"success": false,
			"error":   "Deployment already in progress for this contract",
			"message": "Please wait for the current deployment to complete",
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
			"step":    "unexpected_error",
		})
	}
}

// writeDeployResult maps a terminal gated pipeline outcome to the wire.
func (h *Handler) writeDeployResult(w http.ResponseWriter, result *domain.DeployResult) {
	switch result.Outcome {
	case domain.OutcomeBlocked:
		report := result.Report
		writeJSON(w, http.StatusForbidden, BlockedResponse{
			Success:         false,
			Blocked:         true,
			Deployed:        false,
			Error:           "DEPLOYMENT BLOCKED: Contract has security risks",
			RiskScore:       report.RiskScore,
			Interpretation:  report.Interpretation,
			Vulnerabilities: report.Vulnerabilities,
			Summary:         report.Summary,
			Step:            "security_check",
			BlockReasons:    result.Verdict.Reasons,
			SlitherUsed:     report.SlitherUsed,
			Thresholds:      h.svc.Policy(),
			Message:         "DEPLOYMENT BLOCKED: " + joinReasons(result.Verdict.Reasons),
			Recommendation:  "Fix the security issues above or use POST /api/v1/deploy/force-deploy with confirmOverride: true",
		})

	case domain.OutcomeFailed:
		h.writeStepFailure(w, result)

	default:
		thresholds := h.svc.Policy()
		report := result.Report

		warnings := []string{}
		if report.RiskScore > thresholds.AdvisoryRiskCeiling {
			warnings = append(warnings, "Contract has some security concerns but is within acceptable limits")
		}

		writeJSON(w, http.StatusOK, DeploySuccessResponse{
			Success:  true,
			Blocked:  false,
			Deployed: true,
			Message:  "Contract successfully analyzed, compiled, and deployed",
			Security: SecuritySection{
				RiskScore:            report.RiskScore,
				Interpretation:       report.Interpretation,
				VulnerabilitiesCount: len(report.Vulnerabilities),
				Summary:              report.Summary,
				SlitherUsed:          report.SlitherUsed,
				Passed:               true,
				Thresholds:           thresholds,
				Warnings:             warnings,
			},
			Compilation: CompilationSection{
				ContractName:  result.Compilation.ContractName,
				WarningsCount: len(result.Compilation.Warnings),
			},
			Deployment: DeploymentSection{
				ContractAddress: result.Deployment.ContractAddress,
				TransactionHash: result.Deployment.TxHash,
				ExplorerURL:     result.Deployment.ExplorerURL,
				GasUsed:         result.Deployment.GasUsed,
				DeploymentCost:  result.Deployment.DeploymentCost,
				NetworkName:     result.Deployment.NetworkName,
			},
			RequestID: result.RequestID,
		})
	}
}

// writeStepFailure surfaces a failed pipeline step. Compile errors are
// caller input errors and get a 400; analysis and deployment failures
// are 500s.
func (h *Handler) writeStepFailure(w http.ResponseWriter, result *domain.DeployResult) {
	status := http.StatusInternalServerError
	if result.FailedStep == domain.StepCompilation {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, StepFailureResponse{
		Success: false,
		Error:   result.FailureError,
		Errors:  result.FailureErrors,
		Step:    result.FailedStep,
	})
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += " | "
		}
		out += r
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
