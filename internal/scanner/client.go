// Package scanner provides the HTTP client for the external
// security-analysis service.
package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pendergraft/deploygate/internal/deploy/domain"
	"github.com/pendergraft/deploygate/internal/observability/metrics"
)

// reportSchema describes the minimum shape an analysis response must
// have before the verdict engine may consume it. The scanner is an
// external trust boundary; a malformed report must fail the analysis
// step, not produce a garbage verdict.
const reportSchema = `{
	"$schema": "https://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["success"],
	"properties": {
		"success": {"type": "boolean"},
		"riskScore": {"type": "number", "minimum": 0},
		"slitherUsed": {"type": "boolean"},
		"interpretation": {"type": "string"},
		"error": {"type": "string"},
		"summary": {
			"type": "object",
			"additionalProperties": {"type": "integer", "minimum": 0}
		},
		"vulnerabilities": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["severity", "description"],
				"properties": {
					"severity": {"type": "string"},
					"description": {"type": "string"},
					"recommendation": {"type": "string"}
				}
			}
		}
	}
}`

// Client calls the analysis service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	schema     *jsonschema.Schema
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// New creates a scanner client for the given base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("report.schema.json", strings.NewReader(reportSchema)); err != nil {
		return nil, fmt.Errorf("loading report schema: %w", err)
	}
	schema, err := compiler.Compile("report.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compiling report schema: %w", err)
	}

	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			// Slither runs can take a while on large contracts.
			Timeout: 120 * time.Second,
		},
		schema: schema,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type analyzeRequest struct {
	Code string `json:"code"`
}

// Analyze submits source code for analysis and returns the report.
func (c *Client) Analyze(ctx context.Context, sourceCode string) (*domain.AnalysisReport, error) {
	start := time.Now()
	defer func() {
		metrics.StepDuration("security_analysis", time.Since(start).Seconds())
	}()

	body, err := json.Marshal(analyzeRequest{Code: sourceCode})
	if err != nil {
		return nil, fmt.Errorf("encoding analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling analysis service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading analysis response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analysis service returned %d: %s", resp.StatusCode, truncate(raw, 256))
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("decoding analysis response: %w", err)
	}
	if err := c.schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("analysis response failed schema validation: %w", err)
	}

	var report domain.AnalysisReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("decoding analysis report: %w", err)
	}
	if report.Summary == nil {
		report.Summary = map[string]int{}
	}
	return &report, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
