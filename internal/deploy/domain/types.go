// Package domain contains the business logic for security-gated
// contract deployment.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Submission is one request to deploy a contract. It is immutable once
// received; deduplication identity is the fingerprint of the source
// code, not the contract name or constructor arguments.
type Submission struct {
	SourceCode      string
	ContractName    string
	ConstructorArgs []any
}

// Fingerprint returns the deduplication key for the submission: the
// sha256 of the source text.
func (s Submission) Fingerprint() string {
	sum := sha256.Sum256([]byte(s.SourceCode))
	return hex.EncodeToString(sum[:])
}

// Vulnerability is one finding reported by the scanner.
type Vulnerability struct {
	Severity       string `json:"severity"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`
}

// AnalysisReport is the scanner's verdict input. Produced once per
// submission and never mutated afterwards.
type AnalysisReport struct {
	Success         bool            `json:"success"`
	RiskScore       int             `json:"riskScore"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
	Summary         map[string]int  `json:"summary"`
	SlitherUsed     bool            `json:"slitherUsed"`
	Interpretation  string          `json:"interpretation"`
	Error           string          `json:"error,omitempty"`
}

// CriticalCount returns the number of critical findings.
func (r *AnalysisReport) CriticalCount() int {
	return r.Summary["critical"]
}

// HighCount returns the number of high-severity findings.
func (r *AnalysisReport) HighCount() int {
	return r.Summary["high"]
}

// CompilationResult is the compiler's output for a submission.
type CompilationResult struct {
	Success      bool            `json:"success"`
	ABI          json.RawMessage `json:"abi,omitempty"`
	Bytecode     string          `json:"bytecode,omitempty"`
	ContractName string          `json:"contractName"`
	Warnings     []string        `json:"warnings,omitempty"`
	Error        string          `json:"error,omitempty"`
	Errors       []string        `json:"errors,omitempty"`
}

// DeploymentResult is the chain client's output for a submitted
// deployment transaction.
type DeploymentResult struct {
	Success         bool   `json:"success"`
	ContractAddress string `json:"contractAddress,omitempty"`
	TxHash          string `json:"transactionHash,omitempty"`
	ExplorerURL     string `json:"explorerUrl,omitempty"`
	GasUsed         uint64 `json:"gasUsed,omitempty"`
	DeploymentCost  string `json:"deploymentCost,omitempty"`
	NetworkName     string `json:"networkName,omitempty"`
	Error           string `json:"error,omitempty"`
}

// DeployTx is the input to the chain client.
type DeployTx struct {
	ABI             json.RawMessage
	Bytecode        string
	ContractName    string
	ConstructorArgs []any
}

// Pipeline step names, as surfaced in failure responses.
const (
	StepAnalysis    = "security_analysis"
	StepCompilation = "compilation"
	StepDeployment  = "deployment"
)

// Outcome discriminates how a pipeline run terminated.
type Outcome string

const (
	// OutcomeDeployed: every step succeeded and the contract is on chain.
	OutcomeDeployed Outcome = "deployed"
	// OutcomeBlocked: the security gate refused the deployment.
	OutcomeBlocked Outcome = "blocked"
	// OutcomeFailed: a pipeline step reported failure.
	OutcomeFailed Outcome = "failed"
)

// DeployResult is the terminal state of a gated or forced pipeline run.
// Exactly one outcome applies; Blocked and Deployed are never both set.
type DeployResult struct {
	RequestID string
	Outcome   Outcome
	Forced    bool

	// Report is nil only in forced mode when analysis itself failed.
	Report  *AnalysisReport
	Verdict *Verdict

	// AnalysisNote annotates forced runs where the report was ignored
	// or unavailable.
	AnalysisNote string

	Compilation *CompilationResult
	Deployment  *DeploymentResult

	// FailedStep and FailureError are set when Outcome is OutcomeFailed.
	FailedStep    string
	FailureError  string
	FailureErrors []string
}

// Deployed reports whether the run ended with a successful deployment.
func (r *DeployResult) Deployed() bool {
	return r.Outcome == OutcomeDeployed
}

// Blocked reports whether the security gate stopped the run.
func (r *DeployResult) Blocked() bool {
	return r.Outcome == OutcomeBlocked
}

// CheckResult is the outcome of a check-only run. It never has
// deployment side effects.
type CheckResult struct {
	Report  *AnalysisReport
	Verdict Verdict
	Status  DeploymentStatus
	Message string
}

// StatusResult answers a liveness query about an in-flight request.
type StatusResult struct {
	RequestID   string
	Status      string
	ActiveCount int
}

// Request liveness states returned by Status.
const (
	StatusInProgress          = "in_progress"
	StatusCompletedOrNotFound = "completed_or_not_found"
)
