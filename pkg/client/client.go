// Package client provides a Go client for the deploygate API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ErrDuplicateInFlight is returned when a deployment for the same
// source is already running; retry after it completes.
var ErrDuplicateInFlight = errors.New("deployment already in progress for this contract")

// Client is a deploygate API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// New creates a new deploygate client. apiKey may be empty when the
// server runs with AUTH_TYPE=none.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			// Deploy calls wait out analysis, compilation and the
			// on-chain confirmation.
			Timeout: 5 * time.Minute,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// DeployRequest is the request body for deploy endpoints.
type DeployRequest struct {
	Code            string `json:"code"`
	ContractName    string `json:"contractName,omitempty"`
	ConstructorArgs []any  `json:"constructorArgs,omitempty"`
}

// Thresholds echoes the server's gate policy.
type Thresholds struct {
	RiskScoreThreshold         int `json:"riskScoreThreshold"`
	CriticalVulnThreshold      int `json:"criticalVulnThreshold"`
	HighVulnThreshold          int `json:"highVulnThreshold"`
	SlitherFallbackRiskCeiling int `json:"slitherFallbackRiskCeiling"`
}

// Vulnerability is one scanner finding.
type Vulnerability struct {
	Severity       string `json:"severity"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`
}

// Security summarizes the analysis in a deploy response.
type Security struct {
	RiskScore            int            `json:"riskScore"`
	Interpretation       string         `json:"interpretation"`
	VulnerabilitiesCount int            `json:"vulnerabilitiesCount"`
	Summary              map[string]int `json:"summary"`
	SlitherUsed          bool           `json:"slitherUsed"`
	Passed               bool           `json:"passed"`
	Thresholds           Thresholds     `json:"thresholds"`
	Warnings             []string       `json:"warnings"`
	BypassedSecurity     bool           `json:"bypassedSecurity"`
	Note                 string         `json:"note"`
}

// Compilation summarizes compilation in a deploy response.
type Compilation struct {
	ContractName  string `json:"contractName"`
	WarningsCount int    `json:"warningsCount"`
}

// Deployment carries the on-chain result.
type Deployment struct {
	ContractAddress string `json:"contractAddress"`
	TransactionHash string `json:"transactionHash"`
	ExplorerURL     string `json:"explorerUrl"`
	GasUsed         uint64 `json:"gasUsed"`
	DeploymentCost  string `json:"deploymentCost"`
	NetworkName     string `json:"networkName"`
}

// DeployResult is the decoded outcome of a deploy call. Blocked
// refusals (HTTP 403) are returned as a result, not an error, since
// they are deliberate verdicts carrying structured data.
type DeployResult struct {
	Success          bool            `json:"success"`
	Blocked          bool            `json:"blocked"`
	Deployed         bool            `json:"deployed"`
	ForcedDeployment bool            `json:"forcedDeployment"`
	Message          string          `json:"message"`
	Error            string          `json:"error"`
	Step             string          `json:"step"`
	RiskScore        int             `json:"riskScore"`
	BlockReasons     []string        `json:"blockReasons"`
	Thresholds       Thresholds      `json:"thresholds"`
	Vulnerabilities  []Vulnerability `json:"vulnerabilities"`
	Security         *Security       `json:"security"`
	Compilation      *Compilation    `json:"compilation"`
	Deployment       *Deployment     `json:"deployment"`
	RequestID        string          `json:"requestId"`
}

// CheckResult is the decoded check-only response.
type CheckResult struct {
	Success           bool            `json:"success"`
	RiskScore         int             `json:"riskScore"`
	Interpretation    string          `json:"interpretation"`
	DeploymentStatus  string          `json:"deploymentStatus"`
	DeploymentAllowed bool            `json:"deploymentAllowed"`
	WouldBlock        bool            `json:"wouldBlock"`
	BlockReasons      []string        `json:"blockReasons"`
	Thresholds        Thresholds      `json:"thresholds"`
	Vulnerabilities   []Vulnerability `json:"vulnerabilities"`
	Summary           map[string]int  `json:"summary"`
	SlitherUsed       bool            `json:"slitherUsed"`
	Message           string          `json:"message"`
	Recommendations   []string        `json:"recommendations"`
}

// Status is the deployment-status response.
type Status struct {
	RequestID         string `json:"requestId"`
	Status            string `json:"status"`
	ActiveDeployments int    `json:"activeDeployments"`
}

// APIError is a non-verdict error response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Step       string
}

func (e *APIError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("deploygate: %s failed: %s", e.Step, e.Message)
	}
	return fmt.Sprintf("deploygate: %s", e.Message)
}

// Deploy runs the gated pipeline. A security block comes back as a
// DeployResult with Blocked set; a duplicate in flight comes back as
// ErrDuplicateInFlight.
func (c *Client) Deploy(ctx context.Context, req DeployRequest) (*DeployResult, error) {
	return c.postDeploy(ctx, "/api/v1/deploy/analyze-and-deploy", req)
}

// ForceDeploy bypasses the security gate. The override confirmation is
// set by the client so a caller cannot force-deploy by accident; the
// decision to call this method is the confirmation.
func (c *Client) ForceDeploy(ctx context.Context, req DeployRequest) (*DeployResult, error) {
	body := struct {
		DeployRequest
		ConfirmOverride bool `json:"confirmOverride"`
	}{DeployRequest: req, ConfirmOverride: true}
	return c.postDeploy(ctx, "/api/v1/deploy/force-deploy", body)
}

// Check runs the analysis and verdict without deploying.
func (c *Client) Check(ctx context.Context, code string) (*CheckResult, error) {
	raw, status, err := c.post(ctx, "/api/v1/deploy/check-only", map[string]string{"code": code})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, decodeAPIError(raw, status)
	}

	var result CheckResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding check response: %w", err)
	}
	return &result, nil
}

// DeploymentStatus reports whether a request still holds a lock.
func (c *Client) DeploymentStatus(ctx context.Context, requestID string) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/deploy/deployment-status/"+url.PathEscape(requestID), nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "status lookup failed"}
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decoding status response: %w", err)
	}
	return &status, nil
}

func (c *Client) postDeploy(ctx context.Context, path string, body any) (*DeployResult, error) {
	raw, status, err := c.post(ctx, path, body)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK, http.StatusForbidden:
		var result DeployResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("decoding deploy response: %w", err)
		}
		return &result, nil
	case http.StatusTooManyRequests:
		return nil, ErrDuplicateInFlight
	default:
		return nil, decodeAPIError(raw, status)
	}
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, int, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, 0, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		return nil, 0, err
	}
	return out.Bytes(), resp.StatusCode, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

func decodeAPIError(raw []byte, status int) error {
	var payload struct {
		Error string `json:"error"`
		Step  string `json:"step"`
	}
	_ = json.Unmarshal(raw, &payload)
	if payload.Error == "" {
		payload.Error = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Message: payload.Error, Step: payload.Step}
}
