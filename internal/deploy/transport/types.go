// Package transport provides HTTP request/response types for the
// deploy domain.
package transport

import (
	"github.com/pendergraft/deploygate/internal/deploy/domain"
)

// DeployRequest is the HTTP request body for the deploy endpoints.
type DeployRequest struct {
	Code            string `json:"code"`
	ContractName    string `json:"contractName"`
	ConstructorArgs []any  `json:"constructorArgs"`
	ConfirmOverride bool   `json:"confirmOverride"`
}

// ToSubmission converts the request body to a domain submission,
// applying the default contract name.
func (r DeployRequest) ToSubmission() domain.Submission {
	name := r.ContractName
	if name == "" {
		name = "MyContract"
	}
	return domain.Submission{
		SourceCode:      r.Code,
		ContractName:    name,
		ConstructorArgs: r.ConstructorArgs,
	}
}

// CheckRequest is the HTTP request body for check-only.
type CheckRequest struct {
	Code string `json:"code"`
}

// SecuritySection summarizes the analysis in a successful gated
// response.
type SecuritySection struct {
	RiskScore            int               `json:"riskScore"`
	Interpretation       string            `json:"interpretation"`
	VulnerabilitiesCount int               `json:"vulnerabilitiesCount"`
	Summary              map[string]int    `json:"summary"`
	SlitherUsed          bool              `json:"slitherUsed"`
	Passed               bool              `json:"passed"`
	Thresholds           domain.Thresholds `json:"thresholds"`
	Warnings             []string          `json:"warnings"`
}

// CompilationSection summarizes compilation in a successful response.
type CompilationSection struct {
	ContractName  string `json:"contractName"`
	WarningsCount int    `json:"warningsCount"`
}

// DeploymentSection carries the on-chain result in a successful
// response.
type DeploymentSection struct {
	ContractAddress string `json:"contractAddress"`
	TransactionHash string `json:"transactionHash"`
	ExplorerURL     string `json:"explorerUrl"`
	GasUsed         uint64 `json:"gasUsed"`
	DeploymentCost  string `json:"deploymentCost,omitempty"`
	NetworkName     string `json:"networkName,omitempty"`
}

// DeploySuccessResponse is the 200 body for a gated deployment.
type DeploySuccessResponse struct {
	Success     bool               `json:"success"`
	Blocked     bool               `json:"blocked"`
	Deployed    bool               `json:"deployed"`
	Message     string             `json:"message"`
	Security    SecuritySection    `json:"security"`
	Compilation CompilationSection `json:"compilation"`
	Deployment  DeploymentSection  `json:"deployment"`
	RequestID   string             `json:"requestId"`
}

// BlockedResponse is the 403 body when the security gate refuses a
// deployment. Blocked and Deployed are set explicitly so a caller can
// never mistake a refusal for a silent success.
type BlockedResponse struct {
	Success         bool                   `json:"success"`
	Blocked         bool                   `json:"blocked"`
	Deployed        bool                   `json:"deployed"`
	Error           string                 `json:"error"`
	RiskScore       int                    `json:"riskScore"`
	Interpretation  string                 `json:"interpretation"`
	Vulnerabilities []domain.Vulnerability `json:"vulnerabilities"`
	Summary         map[string]int         `json:"summary"`
	Step            string                 `json:"step"`
	BlockReasons    []string               `json:"blockReasons"`
	SlitherUsed     bool                   `json:"slitherUsed"`
	Thresholds      domain.Thresholds      `json:"thresholds"`
	Message         string                 `json:"message"`
	Recommendation  string                 `json:"recommendation"`
}

// StepFailureResponse is the body for a failed pipeline step.
type StepFailureResponse struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Errors  []string `json:"errors,omitempty"`
	Step    string   `json:"step"`
}

// CheckResponse is the 200 body for check-only.
type CheckResponse struct {
	Success           bool                   `json:"success"`
	RiskScore         int                    `json:"riskScore"`
	Interpretation    string                 `json:"interpretation"`
	DeploymentStatus  string                 `json:"deploymentStatus"`
	DeploymentAllowed bool                   `json:"deploymentAllowed"`
	WouldBlock        bool                   `json:"wouldBlock"`
	BlockReasons      []string               `json:"blockReasons"`
	Thresholds        domain.Thresholds      `json:"thresholds"`
	Vulnerabilities   []domain.Vulnerability `json:"vulnerabilities"`
	Summary           map[string]int         `json:"summary"`
	SlitherUsed       bool                   `json:"slitherUsed"`
	Message           string                 `json:"message"`
	Recommendations   []string               `json:"recommendations"`
}

// ForcedSecuritySection reports the (possibly failed) analysis of a
// forced deployment.
type ForcedSecuritySection struct {
	RiskScore        int                    `json:"riskScore,omitempty"`
	Interpretation   string                 `json:"interpretation,omitempty"`
	Vulnerabilities  []domain.Vulnerability `json:"vulnerabilities,omitempty"`
	Summary          map[string]int         `json:"summary,omitempty"`
	Error            string                 `json:"error,omitempty"`
	BypassedSecurity bool                   `json:"bypassedSecurity"`
	Note             string                 `json:"note"`
}

// ForceSuccessResponse is the 200 body for a forced deployment.
type ForceSuccessResponse struct {
	Success          bool                     `json:"success"`
	ForcedDeployment bool                     `json:"forcedDeployment"`
	Blocked          bool                     `json:"blocked"`
	Deployed         bool                     `json:"deployed"`
	Message          string                   `json:"message"`
	Warning          string                   `json:"warning"`
	Security         ForcedSecuritySection    `json:"security"`
	Deployment       *domain.DeploymentResult `json:"deployment"`
	RequestID        string                   `json:"requestId"`
}

// StatusResponse answers a deployment-status query.
type StatusResponse struct {
	RequestID         string `json:"requestId"`
	Status            string `json:"status"`
	ActiveDeployments int    `json:"activeDeployments"`
}
