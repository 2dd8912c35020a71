// Package compiler provides the HTTP client for the solc compile
// service.
package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pendergraft/deploygate/internal/deploy/domain"
	"github.com/pendergraft/deploygate/internal/observability/metrics"
	"github.com/pendergraft/deploygate/internal/validation"
)

// Client calls the compile service.
type Client struct {
	baseURL    string
	version    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// New creates a compiler client. version is the solc version the
// service is expected to run, e.g. "0.8.24"; it is validated here so a
// misconfigured deployment fails at startup rather than on the first
// compile.
func New(baseURL, version string, opts ...Option) (*Client, error) {
	if err := validation.ValidateCompilerVersion(version); err != nil {
		return nil, fmt.Errorf("compiler version %q: %w", version, err)
	}

	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		version: version,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type compileRequest struct {
	Code     string `json:"code"`
	FileName string `json:"fileName"`
	Version  string `json:"version,omitempty"`
}

// Compile submits source code for compilation.
func (c *Client) Compile(ctx context.Context, sourceCode, fileName string) (*domain.CompilationResult, error) {
	start := time.Now()
	defer func() {
		metrics.StepDuration("compilation", time.Since(start).Seconds())
	}()

	body, err := json.Marshal(compileRequest{
		Code:     sourceCode,
		FileName: fileName,
		Version:  c.version,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding compile request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/compile", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating compile request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling compile service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading compile response: %w", err)
	}

	// Compile errors come back as a structured 200 or 400 body; only
	// treat other statuses as transport failures.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		return nil, fmt.Errorf("compile service returned %d: %s", resp.StatusCode, truncate(raw, 256))
	}

	var result domain.CompilationResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding compile response: %w", err)
	}
	return &result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
